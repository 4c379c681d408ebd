package scheduler

import (
	"sync"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// JobRef identifies one submission. RunID is unique per Submit even when
// JobID repeats.
type JobRef struct {
	RunID string
	JobID string
	Slot  types.SlotKey
}

// Observer sees every delivered event of every job, in delivery order per job.
type Observer func(ref JobRef, ev types.Event)

// emitter owns a job's event channel. One slot of the buffer is always kept
// free for the terminal event, so Started and the terminal event never block
// and progress is dropped instead of stalling the job.
type emitter struct {
	mu         sync.Mutex
	ch         chan types.Event
	ref        JobRef
	observe    Observer
	lastRatio  float64
	terminated bool
}

func newEmitter(ref JobRef, buffer int, observe Observer) *emitter {
	if buffer < 2 {
		buffer = 2
	}
	return &emitter{
		ch:        make(chan types.Event, buffer),
		ref:       ref,
		observe:   observe,
		lastRatio: -1,
	}
}

// emit delivers ev unless the job already terminated. Terminal events close
// the channel.
func (e *emitter) emit(ev types.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated {
		return false
	}

	if p, ok := ev.(types.Progress); ok {
		if p.Ratio <= e.lastRatio || len(e.ch) >= cap(e.ch)-1 {
			return false
		}
		e.lastRatio = p.Ratio
	}

	if e.observe != nil {
		e.observe(e.ref, ev)
	}
	e.ch <- ev

	if ev.Terminal() {
		e.terminated = true
		close(e.ch)
	}
	return true
}

func (e *emitter) done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}
