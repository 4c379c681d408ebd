// Package scheduler runs render jobs with at most one active job per slot.
//
// Each submission runs on its own goroutine and reports through a channel of
// lifecycle events: Started, any number of Progress, then exactly one of
// Completed, Failed or Cancelled, after which the channel is closed.
// Resubmitting to a busy slot cancels the occupant, and the replacement does
// not start until the occupant has delivered its terminal event.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/process"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// BuildFunc prepares a job: it stages inputs and assembles the invocation.
// The returned cleanup, when non-nil, runs on every exit path.
type BuildFunc func(ctx context.Context) (inv *types.Invocation, cleanup func(), err error)

// CompletionHook persists a produced output and returns its canonical path.
type CompletionHook func(ctx context.Context, producedPath string) (string, error)

// Policy holds the tunables that may change at runtime
type Policy struct {
	// Timeout bounds a job from build to ffmpeg exit
	Timeout time.Duration
	// LogTailLines is how many ffmpeg lines a Failed event carries
	LogTailLines int
	// KillGrace is the runner's SIGTERM to SIGKILL grace. A cancelled runner
	// is given runnerExitBound(KillGrace) to return before its slot is freed.
	KillGrace time.Duration
	// EventBuffer is the per-job event channel capacity
	EventBuffer int
}

// DefaultPolicy returns the default policy
func DefaultPolicy() Policy {
	return Policy{
		Timeout:      5 * time.Minute,
		LogTailLines: 20,
		KillGrace:    3 * time.Second,
		EventBuffer:  64,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.LogTailLines <= 0 {
		p.LogTailLines = d.LogTailLines
	}
	if p.KillGrace <= 0 {
		p.KillGrace = d.KillGrace
	}
	if p.EventBuffer < 2 {
		p.EventBuffer = d.EventBuffer
	}
	return p
}

// ErrClosed is reported for submissions after Shutdown
var ErrClosed = errors.New("scheduler is shut down")

// ActiveJob describes a slot occupant
type ActiveJob struct {
	RunID     string        `json:"runId"`
	Slot      types.SlotKey `json:"slot"`
	JobID     string        `json:"jobId"`
	Submitted time.Time     `json:"submitted"`
	Cancelled bool          `json:"cancelled"`
}

type job struct {
	ref       JobRef
	id        string
	slot      types.SlotKey
	submitted time.Time

	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	events *emitter
	done   chan struct{}
}

func (j *job) requestCancel() {
	j.cancelRequested.Store(true)
	j.cancel()
}

func (j *job) cancelled() bool {
	return j.cancelRequested.Load()
}

// Scheduler owns the slot map
type Scheduler struct {
	logger   hclog.Logger
	runner   process.Runner
	observer Observer

	mu     sync.Mutex
	slots  map[types.SlotKey]*job
	policy Policy
	closed bool

	wg sync.WaitGroup
}

// New creates a scheduler. observer may be nil.
func New(logger hclog.Logger, runner process.Runner, policy Policy, observer Observer) *Scheduler {
	return &Scheduler{
		logger:   logger.Named("scheduler"),
		runner:   runner,
		observer: observer,
		slots:    make(map[types.SlotKey]*job),
		policy:   policy.normalized(),
	}
}

// SetPolicy replaces the policy for jobs submitted from now on
func (s *Scheduler) SetPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p.normalized()
	s.logger.Info("policy updated", "timeout", s.policy.Timeout, "log_tail_lines", s.policy.LogTailLines)
}

// Policy returns the current policy
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Submit schedules a job into slot under a fresh run ID.
func (s *Scheduler) Submit(slot types.SlotKey, jobID string, build BuildFunc, complete CompletionHook) <-chan types.Event {
	return s.SubmitRun(JobRef{JobID: jobID, Slot: slot}, build, complete)
}

// SubmitRun schedules a job and returns its event stream. It never blocks;
// an existing occupant of the slot is cancelled first. An empty RunID is
// filled with a new UUID.
func (s *Scheduler) SubmitRun(ref JobRef, build BuildFunc, complete CompletionHook) <-chan types.Event {
	if ref.RunID == "" {
		ref.RunID = uuid.NewString()
	}
	slot, jobID := ref.Slot, ref.JobID
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	policy := s.policy
	j := &job{
		ref:       ref,
		id:        jobID,
		slot:      slot,
		submitted: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		events:    newEmitter(ref, policy.EventBuffer, s.observer),
		done:      make(chan struct{}),
	}

	if s.closed {
		s.mu.Unlock()
		cancel()
		s.logger.Warn("submission after shutdown", "job_id", jobID, "slot", slot.String())
		j.events.emit(types.NewCancelled(jobID))
		return j.events.ch
	}

	prior := s.slots[slot]
	if prior != nil {
		s.logger.Info("superseding job", "slot", slot.String(), "prior_job_id", prior.id, "job_id", jobID)
		prior.requestCancel()
	}
	s.slots[slot] = j
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(j, prior, build, complete, policy)
	return j.events.ch
}

// Cancel signals the active job of slot. It reports false, and emits nothing,
// when the slot is idle.
func (s *Scheduler) Cancel(slot types.SlotKey) bool {
	s.mu.Lock()
	j := s.slots[slot]
	if j != nil {
		j.requestCancel()
	}
	s.mu.Unlock()

	if j == nil {
		return false
	}
	s.logger.Info("cancel requested", "slot", slot.String(), "job_id", j.id)
	return true
}

// Active lists the current slot occupants ordered by submission time
func (s *Scheduler) Active() []ActiveJob {
	s.mu.Lock()
	out := make([]ActiveJob, 0, len(s.slots))
	for slot, j := range s.slots {
		out = append(out, ActiveJob{RunID: j.ref.RunID, Slot: slot, JobID: j.id, Submitted: j.submitted, Cancelled: j.cancelled()})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].Submitted.Before(out[k].Submitted) })
	return out
}

// Shutdown cancels every job and waits for them to deliver terminal events
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.slots {
		j.requestCancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) release(j *job) {
	s.mu.Lock()
	if s.slots[j.slot] == j {
		delete(s.slots, j.slot)
	}
	s.mu.Unlock()
	close(j.done)
	j.cancel()
	s.wg.Done()
}

func (s *Scheduler) run(j *job, prior *job, build BuildFunc, complete CompletionHook, policy Policy) {
	defer s.release(j)

	if prior != nil {
		<-prior.done
	}

	logger := s.logger.With("job_id", j.id, "run_id", j.ref.RunID, "slot", j.slot.String())
	ev := s.execute(j, build, complete, policy, logger)
	j.events.emit(ev)

	switch e := ev.(type) {
	case types.Completed:
		logger.Info("job completed", "output", e.OutputPath)
	case types.Failed:
		logger.Warn("job failed", "error", e.Cause)
	case types.Cancelled:
		logger.Info("job cancelled")
	}
}

// execute runs the job and returns its terminal event. Staged inputs are
// removed before it returns.
func (s *Scheduler) execute(j *job, build BuildFunc, complete CompletionHook, policy Policy, logger hclog.Logger) types.Event {
	if j.cancelled() {
		return types.NewCancelled(j.id)
	}

	ctx, cancelTimeout := context.WithTimeoutCause(j.ctx, policy.Timeout, rerrors.ErrTimeout)
	defer cancelTimeout()

	inv, cleanup, err := build(ctx)
	if cleanup != nil {
		defer cleanup()
	}
	switch {
	case j.cancelled():
		return types.NewCancelled(j.id)
	case timedOut(ctx):
		return types.NewFailed(j.id, rerrors.TimeoutError("build").WithJob(j.id))
	case err != nil:
		return types.NewFailed(j.id, asRenderError(err, "build", j.id))
	case inv == nil:
		return types.NewFailed(j.id, rerrors.InternalError("build", errors.New("no invocation")).WithJob(j.id))
	}

	tail := newLogTail(policy.LogTailLines)
	resultCh := make(chan process.Result, 1)
	go func() {
		resultCh <- s.runner.Run(ctx, inv, process.Listener{
			OnStart: func(pid int) {
				j.events.emit(types.NewStarted(j.id, fmt.Sprintf("ffmpeg started (pid %d)", pid)))
			},
			OnLog: tail.add,
			OnStatistics: func(st ffmpeg.Statistics) {
				ratio := ffmpeg.Ratio(st.Time, inv.EstimatedDurationMs)
				if ratio > 0 {
					j.events.emit(types.NewProgress(j.id, ratio, fmt.Sprintf("frame %d", st.Frame)))
				}
			},
		})
	}()

	var res process.Result
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		select {
		case res = <-resultCh:
		case <-time.After(runnerExitBound(policy.KillGrace)):
			logger.Warn("runner did not return after cancellation", "grace", policy.KillGrace)
			res = process.Result{Err: context.Cause(ctx), ExitCode: -1, Interrupted: true}
		}
	}

	switch {
	case j.cancelled():
		return types.NewCancelled(j.id)
	case timedOut(ctx):
		return types.NewFailed(j.id, rerrors.TimeoutError("run_ffmpeg").WithJob(j.id).WithLogs(tail.snapshot()))
	case res.Err != nil:
		return types.NewFailed(j.id, rerrors.ToolError("run_ffmpeg", res.Err).WithJob(j.id).
			WithDetail("exit_code", res.ExitCode).WithLogs(tail.snapshot()))
	}

	output := inv.OutputPath
	if complete != nil {
		persisted, err := complete(j.ctx, output)
		if j.cancelled() {
			return types.NewCancelled(j.id)
		}
		if err != nil {
			return types.NewFailed(j.id, asStorageError(err, j.id))
		}
		output = persisted
	}
	if j.cancelled() {
		return types.NewCancelled(j.id)
	}
	return types.NewCompleted(j.id, output, tail.snapshot())
}

func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), rerrors.ErrTimeout)
}

func asRenderError(err error, op, jobID string) error {
	var rErr *rerrors.RenderError
	if errors.As(err, &rErr) {
		if rErr.JobID == "" {
			rErr.JobID = jobID
		}
		return rErr
	}
	return rerrors.InternalError(op, err).WithJob(jobID)
}

func asStorageError(err error, jobID string) error {
	var rErr *rerrors.RenderError
	if errors.As(err, &rErr) {
		return asRenderError(err, "persist", jobID)
	}
	return rerrors.StorageError("persist", err).WithJob(jobID)
}

// runnerExitBound is the longest a cancelled runner may take to return: the
// kill escalation and the pipe drain delay are each bounded by grace, plus
// slack for reaping. The replacement job writes the same output path, so the
// old process must be gone before the slot is released.
func runnerExitBound(grace time.Duration) time.Duration {
	return 2*grace + time.Second
}
