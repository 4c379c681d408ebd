package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/samber/lo"
)

var (
	ErrBusNotRunning = errors.New("event bus is not running")
	ErrBusFull       = errors.New("event channel full")
)

// EventBus is the publish/subscribe surface used across the application.
type EventBus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(ctx context.Context, event Event) error
	Subscribe(subscriber string, filter EventFilter, handler EventHandler) (*Subscription, error)
	Unsubscribe(subscriptionID string) error
	Recent(filter EventFilter, limit int) []Event
	Stats() EventStats
}

// eventBus delivers events on a single processor goroutine, in publish order.
type eventBus struct {
	config EventBusConfig
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	recentEvents []Event
	eventStats   EventStats
	dropped      atomic.Int64
}

// NewEventBus creates a new event bus instance
func NewEventBus(config EventBusConfig, logger hclog.Logger) EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	if config.RecentEvents < 0 {
		config.RecentEvents = 0
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &eventBus{
		config:        config,
		logger:        logger.Named("event-bus"),
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, config.BufferSize),
		recentEvents:  make([]Event, 0, config.RecentEvents),
		eventStats:    EventStats{EventsByType: make(map[string]int64)},
	}
}

// Start starts the event bus
func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.processEvents(ctx, eb.stopCh)

	eb.logger.Info("event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop stops the event bus. Events already queued are delivered first.
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		eb.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

// Publish queues an event without blocking. A full queue drops the event.
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("invalid event: type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if !eb.running {
		return ErrBusNotRunning
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		eb.dropped.Add(1)
		eb.logger.Warn("event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		return ErrBusFull
	}
}

// Subscribe registers handler for events matching filter.
func (eb *eventBus) Subscribe(subscriber string, filter EventFilter, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscription := &Subscription{
		ID:         uuid.NewString(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: subscriber,
		Created:    time.Now(),
	}
	eb.subscriptions[subscription.ID] = subscription

	eb.logger.Debug("subscription created", "subscription_id", subscription.ID, "subscriber", subscriber, "types", filter.Types)
	return subscription, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)

	eb.logger.Debug("subscription removed", "subscription_id", subscriptionID)
	return nil
}

// Recent returns up to limit of the most recent delivered events matching
// filter, oldest first.
func (eb *eventBus) Recent(filter EventFilter, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	matched := lo.Filter(eb.recentEvents, func(ev Event, _ int) bool {
		return MatchesFilter(ev, filter)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Stats returns event bus statistics
func (eb *eventBus) Stats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	stats := eb.eventStats
	stats.EventsByType = make(map[string]int64, len(eb.eventStats.EventsByType))
	for k, v := range eb.eventStats.EventsByType {
		stats.EventsByType[k] = v
	}
	stats.ActiveSubscriptions = len(eb.subscriptions)
	stats.DroppedEvents = eb.dropped.Load()
	return stats
}

func (eb *eventBus) processEvents(ctx context.Context, stopCh <-chan struct{}) {
	defer eb.wg.Done()

	for {
		select {
		case <-stopCh:
			eb.drain()
			return
		case <-ctx.Done():
			eb.logger.Debug("event processor stopping due to context cancellation")
			return
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		}
	}
}

func (eb *eventBus) drain() {
	for {
		select {
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		default:
			return
		}
	}
}

func (eb *eventBus) handleEvent(event Event) {
	eb.mu.Lock()
	if eb.config.RecentEvents > 0 {
		eb.recentEvents = append(eb.recentEvents, event)
		if len(eb.recentEvents) > eb.config.RecentEvents {
			eb.recentEvents = eb.recentEvents[1:]
		}
	}
	eb.eventStats.TotalEvents++
	eb.eventStats.EventsByType[string(event.Type)]++

	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

func (eb *eventBus) notifySubscriber(subscription *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("panic in event handler", "subscription_id", subscription.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := subscription.Handler(event); err != nil {
		eb.logger.Error("event handler error", "subscription_id", subscription.ID, "error", err, "event_id", event.ID)
		return
	}

	eb.mu.Lock()
	subscription.TriggerCount++
	now := time.Now()
	subscription.LastTriggered = &now
	eb.mu.Unlock()
}
