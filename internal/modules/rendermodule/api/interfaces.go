// This file defines the interfaces the render API depends on. Keeping them
// here avoids an import cycle with the module package.
package api

import (
	"context"

	"github.com/mantonx/loopforge/internal/database"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/process"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/scheduler"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// RenderService is the caller surface of the render manager
type RenderService interface {
	SubmitRender(req types.RenderRequest) <-chan types.Event
	SubmitLayerBlend(req types.BlendRequest) <-chan types.Event
	SubmitMasterBlend(req types.BlendRequest) <-chan types.Event
	Cancel(slot types.SlotKey) bool
	Active() []scheduler.ActiveJob
}

// RunHistory reads the stored job runs
type RunHistory interface {
	List(ctx context.Context, filter repository.RunFilter) ([]database.RenderRun, int64, error)
	Get(ctx context.Context, runID string) (*database.RenderRun, error)
}

// ProcessStats reports resource usage of running ffmpeg processes
type ProcessStats interface {
	Stats() []process.ProcessStats
}
