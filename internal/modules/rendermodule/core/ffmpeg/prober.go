// Package ffmpeg provides utilities for FFmpeg-based GIF rendering.
// This file handles media probing using FFprobe.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
)

// Prober inspects a media file. Axes it cannot determine are reported as
// unknown rather than zero.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// MediaInfo contains what ffprobe reported about the first video stream
type MediaInfo struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DimensionsKnown bool    `json:"dimensionsKnown"`
	DurationSec     float64 `json:"durationSec"`
	DurationKnown   bool    `json:"durationKnown"`
	FrameRate       float64 `json:"frameRate"`
	Codec           string  `json:"codec"`
}

// Unknown is returned when nothing could be determined.
func Unknown() *MediaInfo {
	return &MediaInfo{}
}

// Shape converts the probe result into the reconciliation input.
func (m *MediaInfo) Shape() filtergraph.MediaShape {
	if m == nil {
		return filtergraph.MediaShape{}
	}
	return filtergraph.MediaShape{
		Width:           m.Width,
		Height:          m.Height,
		DimensionsKnown: m.DimensionsKnown,
		DurationSec:     m.DurationSec,
		DurationKnown:   m.DurationKnown,
	}
}

// OutputRunner runs a command and returns its stdout
type OutputRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecOutputRunner runs commands with os/exec
type ExecOutputRunner struct{}

// Output implements OutputRunner
func (ExecOutputRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// MediaProber uses FFprobe to extract media information
type MediaProber struct {
	logger      hclog.Logger
	ffprobePath string
	runner      OutputRunner
}

// NewMediaProber creates a new media prober
func NewMediaProber(logger hclog.Logger, ffprobePath string, runner OutputRunner) *MediaProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecOutputRunner{}
	}
	return &MediaProber{logger: logger, ffprobePath: ffprobePath, runner: runner}
}

// probeResult mirrors the subset of ffprobe's JSON output we read
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Duration     string `json:"duration"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe against path
func (mp *MediaProber) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	output, err := mp.runner.Output(ctx, mp.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, err
	}

	mp.logger.Debug("probed media",
		"path", path,
		"width", info.Width,
		"height", info.Height,
		"duration", info.DurationSec,
		"dimensions_known", info.DimensionsKnown,
		"duration_known", info.DurationKnown)
	return info, nil
}

// ParseProbeOutput decodes ffprobe JSON. The container duration wins over the
// stream duration; "N/A" and missing values leave the axis unknown.
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := Unknown()
	if d, ok := parseSeconds(result.Format.Duration); ok {
		info.DurationSec, info.DurationKnown = d, true
	}

	for _, s := range result.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Codec = s.CodecName
		if s.Width > 0 && s.Height > 0 {
			info.Width, info.Height, info.DimensionsKnown = s.Width, s.Height, true
		}
		if !info.DurationKnown {
			if d, ok := parseSeconds(s.Duration); ok {
				info.DurationSec, info.DurationKnown = d, true
			}
		}
		info.FrameRate = parseRate(s.AvgFrameRate)
		if info.FrameRate == 0 {
			info.FrameRate = parseRate(s.RFrameRate)
		}
		break
	}

	return info, nil
}

func parseSeconds(s string) (float64, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseRate reads ffprobe's "num/den" rational form.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
