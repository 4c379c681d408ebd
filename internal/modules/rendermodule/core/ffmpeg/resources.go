// Package ffmpeg provides utilities for FFmpeg-based GIF rendering.
// This file sizes the thread budget handed to each ffmpeg process.
package ffmpeg

import (
	"runtime"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
)

// ResourceConfig contains per-process thread settings
type ResourceConfig struct {
	Threads       string
	FilterThreads string
}

// ResourceManager picks thread counts from the host CPU count
type ResourceManager struct {
	logger   hclog.Logger
	override int
	cpuCount int
}

// NewResourceManager creates a resource manager. A positive override pins the
// thread count regardless of the host.
func NewResourceManager(logger hclog.Logger, override int) *ResourceManager {
	count, err := cpu.Counts(true)
	if err != nil || count < 1 {
		logger.Debug("falling back to runtime cpu count", "error", err)
		count = runtime.NumCPU()
	}
	return &ResourceManager{logger: logger, override: override, cpuCount: count}
}

// GetResources returns the thread settings for one job. Blends decode two
// inputs so they get the full budget; single clips use half of it.
func (rm *ResourceManager) GetResources(blend bool) ResourceConfig {
	threads := rm.override
	if threads <= 0 {
		threads = rm.cpuCount / 2
		if blend {
			threads = rm.cpuCount
		}
	}
	if threads > 16 {
		threads = 16
	}

	return ResourceConfig{
		Threads:       intToString(threads),
		FilterThreads: intToString(threads / 2),
	}
}

func intToString(i int) string {
	if i < 1 {
		return "1"
	}
	return strconv.Itoa(i)
}
