// Package process runs ffmpeg for render jobs and keeps a thread-safe registry
// of the processes currently alive.
package process

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	psprocess "github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo holds information about a managed process
type ProcessInfo struct {
	PID       int       `json:"pid"`
	JobID     string    `json:"jobId"`
	StartTime time.Time `json:"startTime"`
}

// ProcessStats is a point-in-time resource sample for a running process
type ProcessStats struct {
	ProcessInfo
	CPUPercent float64       `json:"cpuPercent"`
	RSSBytes   uint64        `json:"rssBytes"`
	Runtime    time.Duration `json:"runtime"`
}

// RegistryConfig contains configuration for the process registry
type RegistryConfig struct {
	// CleanupInterval controls the stale process sweep; zero disables it
	CleanupInterval time.Duration
	// MaxProcessAge is the age after which a process is killed by the sweep
	MaxProcessAge time.Duration
	// KillGrace is how long to wait between SIGTERM and SIGKILL
	KillGrace time.Duration
}

// DefaultRegistryConfig returns default configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		CleanupInterval: time.Minute,
		MaxProcessAge:   15 * time.Minute,
		KillGrace:       2 * time.Second,
	}
}

// Registry tracks running ffmpeg processes by PID and job
type Registry struct {
	processes map[int]*ProcessInfo // PID -> ProcessInfo
	jobs      map[string][]int     // JobID -> PIDs

	mu sync.RWMutex

	config RegistryConfig

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup

	logger hclog.Logger
}

// NewRegistry creates a new process registry
func NewRegistry(logger hclog.Logger, config RegistryConfig) *Registry {
	if config.KillGrace <= 0 {
		config.KillGrace = DefaultRegistryConfig().KillGrace
	}

	registry := &Registry{
		processes:  make(map[int]*ProcessInfo),
		jobs:       make(map[string][]int),
		config:     config,
		shutdownCh: make(chan struct{}),
		logger:     logger.Named("process-registry"),
	}

	if config.CleanupInterval > 0 && config.MaxProcessAge > 0 {
		registry.shutdownWg.Add(1)
		go registry.runCleanupLoop()
	}

	return registry
}

// Register adds a process to the registry
func (pr *Registry) Register(pid int, jobID string) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if existing, exists := pr.processes[pid]; exists {
		return fmt.Errorf("process %d already registered for job %s", pid, existing.JobID)
	}

	pr.processes[pid] = &ProcessInfo{PID: pid, JobID: jobID, StartTime: time.Now()}
	pr.jobs[jobID] = append(pr.jobs[jobID], pid)

	pr.logger.Debug("registered process", "pid", pid, "job_id", jobID)
	return nil
}

// Unregister removes a process from the registry
func (pr *Registry) Unregister(pid int) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.removeLocked(pid) {
		return fmt.Errorf("process %d not found in registry", pid)
	}
	pr.logger.Debug("unregistered process", "pid", pid)
	return nil
}

func (pr *Registry) removeLocked(pid int) bool {
	info, exists := pr.processes[pid]
	if !exists {
		return false
	}
	delete(pr.processes, pid)

	pids := pr.jobs[info.JobID]
	kept := pids[:0]
	for _, p := range pids {
		if p != pid {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(pr.jobs, info.JobID)
	} else {
		pr.jobs[info.JobID] = kept
	}
	return true
}

// GetProcessesByJob returns all processes for a job
func (pr *Registry) GetProcessesByJob(jobID string) []ProcessInfo {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	out := make([]ProcessInfo, 0, len(pr.jobs[jobID]))
	for _, pid := range pr.jobs[jobID] {
		if info, ok := pr.processes[pid]; ok {
			out = append(out, *info)
		}
	}
	return out
}

// GetAllProcesses returns all registered processes ordered by start time
func (pr *Registry) GetAllProcesses() []ProcessInfo {
	pr.mu.RLock()
	out := make([]ProcessInfo, 0, len(pr.processes))
	for _, info := range pr.processes {
		out = append(out, *info)
	}
	pr.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Stats samples CPU and memory for every registered process. Processes that
// vanished between listing and sampling are reported with zero usage.
func (pr *Registry) Stats() []ProcessStats {
	all := pr.GetAllProcesses()
	out := make([]ProcessStats, 0, len(all))
	for _, info := range all {
		s := ProcessStats{ProcessInfo: info, Runtime: time.Since(info.StartTime)}
		if p, err := psprocess.NewProcess(int32(info.PID)); err == nil {
			if cpu, err := p.CPUPercent(); err == nil {
				s.CPUPercent = cpu
			}
			if mem, err := p.MemoryInfo(); err == nil && mem != nil {
				s.RSSBytes = mem.RSS
			}
		}
		out = append(out, s)
	}
	return out
}

// StopJob stops every process of a job
func (pr *Registry) StopJob(jobID string) error {
	processes := pr.GetProcessesByJob(jobID)
	if len(processes) == 0 {
		return fmt.Errorf("no processes found for job %s", jobID)
	}

	var lastErr error
	for _, p := range processes {
		if err := pr.StopProcess(p.PID); err != nil {
			lastErr = err
			pr.logger.Error("failed to stop process", "pid", p.PID, "job_id", jobID, "error", err)
		}
	}
	return lastErr
}

// StopProcess terminates a process group and forgets it
func (pr *Registry) StopProcess(pid int) error {
	if err := KillProcessGroup(pid, pr.config.KillGrace); err != nil {
		return fmt.Errorf("failed to stop process %d: %w", pid, err)
	}
	pr.Unregister(pid)
	return nil
}

// CleanupStale removes dead processes and kills those older than MaxProcessAge.
// It returns the number of processes killed.
func (pr *Registry) CleanupStale() int {
	now := time.Now()
	var dead, stale []int

	pr.mu.RLock()
	for pid, info := range pr.processes {
		switch {
		case !isProcessAlive(pid):
			dead = append(dead, pid)
		case pr.config.MaxProcessAge > 0 && now.Sub(info.StartTime) > pr.config.MaxProcessAge:
			pr.logger.Warn("killing long-running process", "pid", pid, "job_id", info.JobID, "runtime", now.Sub(info.StartTime))
			stale = append(stale, pid)
		}
	}
	pr.mu.RUnlock()

	killed := 0
	for _, pid := range stale {
		if err := KillProcessGroup(pid, pr.config.KillGrace); err != nil {
			pr.logger.Error("failed to kill long-running process", "pid", pid, "error", err)
			continue
		}
		killed++
		dead = append(dead, pid)
	}

	pr.mu.Lock()
	for _, pid := range dead {
		pr.removeLocked(pid)
	}
	pr.mu.Unlock()

	if len(dead) > 0 {
		pr.logger.Info("cleanup completed", "killed_processes", killed, "removed", len(dead))
	}
	return killed
}

func (pr *Registry) runCleanupLoop() {
	defer pr.shutdownWg.Done()

	ticker := time.NewTicker(pr.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.CleanupStale()
		case <-pr.shutdownCh:
			return
		}
	}
}

// Shutdown stops the sweep and kills every remaining process
func (pr *Registry) Shutdown(ctx context.Context) error {
	pr.logger.Info("shutting down process registry")
	pr.shutdownOnce.Do(func() { close(pr.shutdownCh) })

	for _, info := range pr.GetAllProcesses() {
		if err := pr.StopProcess(info.PID); err != nil {
			pr.logger.Error("failed to stop process during shutdown", "pid", info.PID, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		pr.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pr.logger.Info("process registry shutdown completed")
		return nil
	case <-ctx.Done():
		pr.logger.Warn("process registry shutdown timed out")
		return ctx.Err()
	}
}

// isProcessAlive reports whether pid exists and has not exited. Zombies
// waiting to be reaped count as exited.
func isProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if ps, err := psprocess.NewProcess(int32(pid)); err == nil {
		if status, err := ps.Status(); err == nil {
			for _, s := range status {
				if s == psprocess.Zombie {
					return false
				}
			}
		}
	}
	return true
}

// KillProcessGroup sends SIGTERM to the process group led by pid, waits up to
// grace for it to exit and then sends SIGKILL.
func KillProcessGroup(pid int, grace time.Duration) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to kill process %d: %w", pid, err)
		}
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}

	syscall.Kill(-pid, syscall.SIGKILL)
	syscall.Kill(pid, syscall.SIGKILL)
	return nil
}
