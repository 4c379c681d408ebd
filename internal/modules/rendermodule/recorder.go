package rendermodule

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/database"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/scheduler"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

var busTypes = map[types.EventKind]events.EventType{
	types.EventStarted:   events.EventRenderStarted,
	types.EventProgress:  events.EventRenderProgress,
	types.EventCompleted: events.EventRenderCompleted,
	types.EventFailed:    events.EventRenderFailed,
	types.EventCancelled: events.EventRenderCancelled,
}

// toBusEvent flattens a lifecycle event into a bus event. Target is the slot
// name so stream consumers can filter per slot.
func toBusEvent(ref scheduler.JobRef, ev types.Event) events.Event {
	out := events.Event{
		Type:      busTypes[ev.Kind()],
		Source:    events.SourceRender,
		Target:    ref.Slot.String(),
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"run_id":    ref.RunID,
			"job_id":    ref.JobID,
			"slot":      ref.Slot.String(),
			"slot_kind": string(ref.Slot.Kind),
			"kind":      string(ev.Kind()),
		},
	}

	types.Dispatch(ev, types.EventHandler{
		OnStarted: func(e types.Started) {
			out.Message = e.Message
		},
		OnProgress: func(e types.Progress) {
			out.Message = e.Message
			out.Data["ratio"] = e.Ratio
		},
		OnCompleted: func(e types.Completed) {
			out.Message = "render completed"
			out.Data["output_path"] = e.OutputPath
			out.Data["logs"] = e.Logs
		},
		OnFailed: func(e types.Failed) {
			out.Message = e.Message()
			out.Data["cause"] = e.Message()
			out.Data["error_type"] = string(rerrors.GetType(e.Cause))
			if logs := rerrors.GetLogs(e.Cause); len(logs) > 0 {
				out.Data["logs"] = logs
			}
		},
		OnCancelled: func(types.Cancelled) {
			out.Message = "render cancelled"
		},
	})
	return out
}

// recorder writes bus render events into the run history.
type recorder struct {
	runs   *repository.RunStore
	logger hclog.Logger
}

func newRecorder(runs *repository.RunStore, logger hclog.Logger) *recorder {
	return &recorder{runs: runs, logger: logger.Named("run-recorder")}
}

func (r *recorder) subscribe(bus events.EventBus) error {
	_, err := bus.Subscribe("run-recorder", events.EventFilter{
		Types:   events.RenderJobEvents,
		Sources: []string{events.SourceRender},
	}, func(ev events.Event) error {
		r.apply(ev)
		return nil
	})
	return err
}

func (r *recorder) apply(ev events.Event) {
	runID, _ := ev.Data["run_id"].(string)
	if runID == "" {
		return
	}
	logs, _ := ev.Data["logs"].([]string)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case events.EventRenderStarted:
		err = r.runs.UpdateProgress(ctx, runID, 0, ev.Message)
	case events.EventRenderProgress:
		ratio, _ := ev.Data["ratio"].(float64)
		err = r.runs.UpdateProgress(ctx, runID, ratio, ev.Message)
	case events.EventRenderCompleted:
		output, _ := ev.Data["output_path"].(string)
		err = r.runs.Finish(ctx, runID, database.RenderStatusCompleted, output, "", logs)
	case events.EventRenderFailed:
		cause, _ := ev.Data["cause"].(string)
		err = r.runs.Finish(ctx, runID, database.RenderStatusFailed, "", cause, logs)
	case events.EventRenderCancelled:
		err = r.runs.Finish(ctx, runID, database.RenderStatusCancelled, "", "", nil)
	default:
		return
	}

	switch {
	case errors.Is(err, repository.ErrRunNotFound):
		r.logger.Debug("event for unrecorded run", "run_id", runID, "type", ev.Type)
	case err != nil:
		r.logger.Warn("failed to record render event", "run_id", runID, "type", ev.Type, "error", err)
	}
}
