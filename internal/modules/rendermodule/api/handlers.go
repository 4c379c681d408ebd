// Package api provides HTTP handlers and routes for the render module.
// Submissions return immediately unless ?wait=true is given, in which case
// the response carries the job's terminal outcome.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/database"
	apperrors "github.com/mantonx/loopforge/internal/errors"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// Handler handles HTTP requests for the render module.
type Handler struct {
	logger    hclog.Logger
	service   RenderService
	history   RunHistory
	processes ProcessStats
	bus       events.EventBus
	upgrader  websocket.Upgrader
	started   time.Time
}

// NewHandler creates a new API handler. history, processes and bus may be
// nil; the endpoints that need them then answer 503.
func NewHandler(logger hclog.Logger, service RenderService, history RunHistory, processes ProcessStats, bus events.EventBus) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		logger:    logger.Named("api"),
		service:   service,
		history:   history,
		processes: processes,
		bus:       bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		started: time.Now(),
	}
}

// RegisterRoutes registers all render routes on rg.
//
// API Structure:
//
//	/api/v1/render
//	├── /streams               - Stream renders
//	├── /layers/:layer/blend   - Layer blends
//	├── /master/blend          - Master blend
//	├── /jobs                  - Run history
//	├── /active                - Slot occupants
//	├── /processes             - ffmpeg resource usage
//	├── /health                - Host health
//	└── /events                - Lifecycle event websocket
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/streams", h.SubmitRender)
	rg.DELETE("/streams/:layer/:stream", h.CancelStream)

	rg.POST("/layers/:layer/blend", h.SubmitLayerBlend)
	rg.DELETE("/layers/:layer/blend", h.CancelLayerBlend)

	rg.POST("/master/blend", h.SubmitMasterBlend)
	rg.DELETE("/master/blend", h.CancelMasterBlend)

	rg.GET("/blend-modes", h.ListBlendModes)
	rg.GET("/jobs", h.ListJobs)
	rg.GET("/jobs/:runId", h.GetJob)
	rg.GET("/active", h.ListActive)
	rg.GET("/processes", h.ListProcesses)
	rg.GET("/health", h.Health)
	rg.GET("/events", h.StreamEvents)
}

// JobResponse describes a submitted job. Outcome fields are only set for
// waited submissions.
type JobResponse struct {
	JobID      string   `json:"jobId"`
	Slot       string   `json:"slot"`
	Status     string   `json:"status"`
	OutputPath string   `json:"outputPath,omitempty"`
	Logs       []string `json:"logs,omitempty"`
}

// SubmitRender handles POST /api/v1/render/streams
//
// Request body is a RenderRequest:
//
//	{
//	  "layer": 1,
//	  "stream": "A",
//	  "sourcePath": "/clips/intro.mp4",
//	  "trimStartMs": 0,
//	  "trimEndMs": 2500,
//	  "adjustments": {...}
//	}
func (h *Handler) SubmitRender(c *gin.Context) {
	req := types.RenderRequest{Adjustments: types.DefaultAdjustments()}
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "Invalid request format", "body")
		return
	}
	h.respond(c, req.JobID(), req.Slot(), h.service.SubmitRender(req))
}

// SubmitLayerBlend handles POST /api/v1/render/layers/:layer/blend
func (h *Handler) SubmitLayerBlend(c *gin.Context) {
	layer, ok := layerParam(c)
	if !ok {
		return
	}
	var req types.BlendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "Invalid request format", "body")
		return
	}
	req.Scope = types.BlendScopeLayer
	req.Layer = layer
	req.Mode = req.Mode.Normalize()
	h.respond(c, req.JobID(), req.Slot(), h.service.SubmitLayerBlend(req))
}

// SubmitMasterBlend handles POST /api/v1/render/master/blend
func (h *Handler) SubmitMasterBlend(c *gin.Context) {
	var req types.BlendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "Invalid request format", "body")
		return
	}
	req.Scope = types.BlendScopeMaster
	req.Layer = 0
	req.Mode = req.Mode.Normalize()
	h.respond(c, req.JobID(), req.Slot(), h.service.SubmitMasterBlend(req))
}

// CancelStream handles DELETE /api/v1/render/streams/:layer/:stream
func (h *Handler) CancelStream(c *gin.Context) {
	layer, ok := layerParam(c)
	if !ok {
		return
	}
	stream := c.Param("stream")
	if len(stream) != 1 {
		apperrors.HandleValidationError(c, "stream must be a single letter", "stream")
		return
	}
	h.cancel(c, types.StreamSlot(layer, stream))
}

// CancelLayerBlend handles DELETE /api/v1/render/layers/:layer/blend
func (h *Handler) CancelLayerBlend(c *gin.Context) {
	layer, ok := layerParam(c)
	if !ok {
		return
	}
	h.cancel(c, types.LayerBlendSlot(layer))
}

// CancelMasterBlend handles DELETE /api/v1/render/master/blend
func (h *Handler) CancelMasterBlend(c *gin.Context) {
	h.cancel(c, types.MasterBlendSlot())
}

// ListBlendModes handles GET /api/v1/render/blend-modes
func (h *Handler) ListBlendModes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"modes": types.BlendModes()})
}

// ListActive handles GET /api/v1/render/active
func (h *Handler) ListActive(c *gin.Context) {
	active := h.service.Active()
	c.JSON(http.StatusOK, gin.H{"jobs": active, "count": len(active)})
}

// ListJobs handles GET /api/v1/render/jobs
//
// Query parameters: slot, status, job_id, limit, offset.
func (h *Handler) ListJobs(c *gin.Context) {
	if h.history == nil {
		apperrors.NewUnavailableError("Job history is disabled", nil).ToGinResponse(c)
		return
	}

	filter := repository.RunFilter{
		JobID: c.Query("job_id"),
		Slot:  c.Query("slot"),
	}
	if status := c.Query("status"); status != "" {
		s := database.RenderStatus(status)
		if s != database.RenderStatusRunning && !s.Terminal() {
			apperrors.HandleValidationError(c, "unknown status", "status")
			return
		}
		filter.Status = s
	}

	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		apperrors.HandleValidationError(c, "limit must be a non-negative integer", "limit")
		return
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		apperrors.HandleValidationError(c, "offset must be a non-negative integer", "offset")
		return
	}

	runs, total, err := h.history.List(c.Request.Context(), filter)
	if err != nil {
		apperrors.HandleDatabaseError(c, "list_runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": total})
}

// GetJob handles GET /api/v1/render/jobs/:runId
func (h *Handler) GetJob(c *gin.Context) {
	if h.history == nil {
		apperrors.NewUnavailableError("Job history is disabled", nil).ToGinResponse(c)
		return
	}

	runID := c.Param("runId")
	run, err := h.history.Get(c.Request.Context(), runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		apperrors.HandleNotFound(c, "render run", runID)
		return
	}
	if err != nil {
		apperrors.HandleDatabaseError(c, "get_run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "logs": run.LogLines()})
}

// ListProcesses handles GET /api/v1/render/processes
func (h *Handler) ListProcesses(c *gin.Context) {
	if h.processes == nil {
		apperrors.NewUnavailableError("Process registry is unavailable", nil).ToGinResponse(c)
		return
	}
	stats := h.processes.Stats()
	c.JSON(http.StatusOK, gin.H{"processes": stats, "count": len(stats)})
}

func (h *Handler) cancel(c *gin.Context, slot types.SlotKey) {
	if !h.service.Cancel(slot) {
		apperrors.NewNotFoundError("active job", slot.String()).ToGinResponse(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot.String(), "cancelled": true})
}

// respond answers a submission. Validation failures are delivered
// synchronously by the service, so they are detected without waiting.
func (h *Handler) respond(c *gin.Context, jobID string, slot types.SlotKey, ch <-chan types.Event) {
	resp := JobResponse{JobID: jobID, Slot: slot.String(), Status: "accepted"}

	if c.Query("wait") != "true" {
		select {
		case ev, ok := <-ch:
			if ok {
				if f, isFailed := ev.(types.Failed); isFailed && errors.Is(f.Cause, rerrors.ErrInvalidInput) {
					failureError(f).ToGinResponse(c)
					return
				}
			}
		default:
		}
		go drain(ch)
		c.JSON(http.StatusAccepted, resp)
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			go drain(ch)
			return
		case ev, ok := <-ch:
			if !ok {
				apperrors.NewInternalError("job ended without an outcome", nil).ToGinResponse(c)
				return
			}
			if !ev.Terminal() {
				continue
			}
			switch e := ev.(type) {
			case types.Completed:
				resp.Status = string(types.EventCompleted)
				resp.OutputPath = e.OutputPath
				resp.Logs = e.Logs
				c.JSON(http.StatusOK, resp)
			case types.Cancelled:
				resp.Status = string(types.EventCancelled)
				c.JSON(http.StatusConflict, resp)
			case types.Failed:
				failureError(e).ToGinResponse(c)
			}
			go drain(ch)
			return
		}
	}
}

// drain consumes the rest of a job's events; the bus carries them onward.
func drain(ch <-chan types.Event) {
	for range ch {
	}
}

// failureError maps a job failure to an HTTP error.
func failureError(f types.Failed) *apperrors.AppError {
	status := http.StatusInternalServerError
	errType := rerrors.GetType(f.Cause)
	switch errType {
	case rerrors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case rerrors.ErrorTypeStaging, rerrors.ErrorTypeTool, rerrors.ErrorTypeProbe:
		status = http.StatusUnprocessableEntity
	case rerrors.ErrorTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	appErr := &apperrors.AppError{
		Code:       "RENDER_" + strings.ToUpper(string(errType)),
		Message:    f.Message(),
		HTTPStatus: status,
		Cause:      f.Cause,
	}
	appErr.With("job_id", f.JobID())
	if logs := rerrors.GetLogs(f.Cause); len(logs) > 0 {
		appErr.With("logs", logs)
	}
	return appErr
}

func layerParam(c *gin.Context) (int, bool) {
	layer, err := strconv.Atoi(c.Param("layer"))
	if err != nil || layer < 1 {
		apperrors.HandleValidationError(c, fmt.Sprintf("invalid layer %q", c.Param("layer")), "layer")
		return 0, false
	}
	return layer, true
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}
