// Package events provides the in-process event bus that fans render
// lifecycle notifications out to the API stream and the job recorder.
package events

import (
	"time"

	"github.com/samber/lo"
)

// EventType represents the type of event
type EventType string

const (
	// Render job lifecycle
	EventRenderStarted   EventType = "render.job.started"
	EventRenderProgress  EventType = "render.job.progress"
	EventRenderCompleted EventType = "render.job.completed"
	EventRenderFailed    EventType = "render.job.failed"
	EventRenderCancelled EventType = "render.job.cancelled"

	// System events
	EventSystemStarted  EventType = "system.started"
	EventSystemStopped  EventType = "system.stopped"
	EventConfigReloaded EventType = "config.reloaded"
)

// RenderJobEvents lists every render lifecycle event type.
var RenderJobEvents = []EventType{
	EventRenderStarted,
	EventRenderProgress,
	EventRenderCompleted,
	EventRenderFailed,
	EventRenderCancelled,
}

// SourceRender is the source of events published by the render module.
const SourceRender = "render"

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions. Empty fields match
// everything.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
	Targets []string    `json:"targets,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	DroppedEvents       int64            `json:"dropped_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize   int `json:"buffer_size"`
	RecentEvents int `json:"recent_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:   1000,
		RecentEvents: 100,
	}
}

// MatchesFilter reports whether event passes filter.
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 && !lo.Contains(filter.Types, event.Type) {
		return false
	}
	if len(filter.Sources) > 0 && !lo.Contains(filter.Sources, event.Source) {
		return false
	}
	if len(filter.Targets) > 0 && !lo.Contains(filter.Targets, event.Target) {
		return false
	}
	return true
}
