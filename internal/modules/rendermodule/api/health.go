package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// HealthResponse reports host load next to the render queue state
type HealthResponse struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	ActiveJobs      int     `json:"activeJobs"`
	RunningFFmpeg   int     `json:"runningFfmpeg"`
	CPUCount        int     `json:"cpuCount"`
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryPercent   float64 `json:"memoryPercent"`
	MemoryAvailable uint64  `json:"memoryAvailable"`
	Load1           float64 `json:"load1"`
	Load5           float64 `json:"load5"`
	Load15          float64 `json:"load15"`
	DroppedEvents   int64   `json:"droppedEvents"`
}

// Health handles GET /api/v1/render/health
//
// Metrics the host cannot provide are left at zero.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	resp := HealthResponse{
		Status:     "ok",
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		ActiveJobs: len(h.service.Active()),
		CPUCount:   runtime.NumCPU(),
	}
	if h.processes != nil {
		resp.RunningFFmpeg = len(h.processes.Stats())
	}
	if h.bus != nil {
		resp.DroppedEvents = h.bus.Stats().DroppedEvents
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryPercent = vm.UsedPercent
		resp.MemoryAvailable = vm.Available
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1, resp.Load5, resp.Load15 = avg.Load1, avg.Load5, avg.Load15
		if avg.Load1 > float64(resp.CPUCount)*2 {
			resp.Status = "overloaded"
		}
	} else {
		h.logger.Debug("load average unavailable", "error", err)
	}

	c.JSON(http.StatusOK, resp)
}
