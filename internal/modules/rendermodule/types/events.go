package types

import "time"

// EventKind tags the lifecycle event variants.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is the closed set of lifecycle events emitted for a job. The unexported
// marker method keeps the set sealed to this package.
type Event interface {
	JobID() string
	Kind() EventKind
	Terminal() bool
	isEvent()
}

type header struct {
	ID string    `json:"jobId"`
	At time.Time `json:"at"`
}

func (h header) JobID() string { return h.ID }

// Started is emitted once the external process has been launched.
type Started struct {
	header
	Message string `json:"message,omitempty"`
}

// Progress reports completion in [0, 0.999]; 1.0 is reserved for Completed.
type Progress struct {
	header
	Ratio   float64 `json:"ratio"`
	Message string  `json:"message,omitempty"`
}

// Completed carries the persisted output path and the captured log lines.
type Completed struct {
	header
	OutputPath string   `json:"outputPath"`
	Logs       []string `json:"logs,omitempty"`
}

// Failed carries the failure cause. Cancellation is never reported as Failed.
type Failed struct {
	header
	Cause error `json:"-"`
}

// Cancelled is emitted when the job was cancelled or superseded.
type Cancelled struct {
	header
}

func (Started) Kind() EventKind   { return EventStarted }
func (Progress) Kind() EventKind  { return EventProgress }
func (Completed) Kind() EventKind { return EventCompleted }
func (Failed) Kind() EventKind    { return EventFailed }
func (Cancelled) Kind() EventKind { return EventCancelled }

func (Started) Terminal() bool   { return false }
func (Progress) Terminal() bool  { return false }
func (Completed) Terminal() bool { return true }
func (Failed) Terminal() bool    { return true }
func (Cancelled) Terminal() bool { return true }

func (Started) isEvent()   {}
func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}
func (Cancelled) isEvent() {}

// Message returns the failure cause as text.
func (f Failed) Message() string {
	if f.Cause == nil {
		return "unknown failure"
	}
	return f.Cause.Error()
}

func NewStarted(jobID, message string) Started {
	return Started{header: header{ID: jobID, At: time.Now()}, Message: message}
}

func NewProgress(jobID string, ratio float64, message string) Progress {
	return Progress{header: header{ID: jobID, At: time.Now()}, Ratio: ratio, Message: message}
}

func NewCompleted(jobID, outputPath string, logs []string) Completed {
	return Completed{header: header{ID: jobID, At: time.Now()}, OutputPath: outputPath, Logs: logs}
}

func NewFailed(jobID string, cause error) Failed {
	return Failed{header: header{ID: jobID, At: time.Now()}, Cause: cause}
}

func NewCancelled(jobID string) Cancelled {
	return Cancelled{header: header{ID: jobID, At: time.Now()}}
}

// EventHandler receives one callback per variant.
type EventHandler struct {
	OnStarted   func(Started)
	OnProgress  func(Progress)
	OnCompleted func(Completed)
	OnFailed    func(Failed)
	OnCancelled func(Cancelled)
}

// Dispatch routes ev to the matching handler callback. Nil callbacks are skipped.
func Dispatch(ev Event, h EventHandler) {
	switch e := ev.(type) {
	case Started:
		if h.OnStarted != nil {
			h.OnStarted(e)
		}
	case Progress:
		if h.OnProgress != nil {
			h.OnProgress(e)
		}
	case Completed:
		if h.OnCompleted != nil {
			h.OnCompleted(e)
		}
	case Failed:
		if h.OnFailed != nil {
			h.OnFailed(e)
		}
	case Cancelled:
		if h.OnCancelled != nil {
			h.OnCancelled(e)
		}
	}
}
