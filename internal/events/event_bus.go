// Package events provides an in-process event bus for analysis lifecycle events.
// Subscribers (the WebSocket hub, loggers) receive events on worker goroutines.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType categorizes events
type EventType string

const (
	EventTypeDatasetLoaded     EventType = "dataset_loaded"
	EventTypeAnalysisStarted   EventType = "analysis_started"
	EventTypeAnalysisCompleted EventType = "analysis_completed"
	EventTypeAnalysisFailed    EventType = "analysis_failed"
)

// Event is the base interface for all events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// NewBaseEvent creates a new base event with generated ID and timestamp
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// AnalysisEvent reports progress of one analysis operation
type AnalysisEvent struct {
	BaseEvent
	Operation string        `json:"operation"` // analyze, evaluate, optimize, risk
	RunID     string        `json:"runId"`
	DatasetID string        `json:"datasetId,omitempty"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
}

// DatasetEvent reports an ingested dataset
type DatasetEvent struct {
	BaseEvent
	DatasetID string `json:"datasetId"`
	Name      string `json:"name"`
	Trades    int    `json:"trades"`
}

// NewAnalysisEvent creates an analysis lifecycle event
func NewAnalysisEvent(eventType EventType, operation, runID, datasetID string) *AnalysisEvent {
	return &AnalysisEvent{
		BaseEvent: NewBaseEvent(eventType),
		Operation: operation,
		RunID:     runID,
		DatasetID: datasetID,
	}
}

// NewDatasetEvent creates a dataset event
func NewDatasetEvent(datasetID, name string, trades int) *DatasetEvent {
	return &DatasetEvent{
		BaseEvent: NewBaseEvent(EventTypeDatasetLoaded),
		DatasetID: datasetID,
		Name:      name,
		Trades:    trades,
	}
}

// EventHandler processes events
type EventHandler func(event Event) error

// Subscription represents an active event subscription
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	active    atomic.Bool
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks delivery counters
type EventBusStats struct {
	EventsPublished   int64 `json:"events_published"`
	EventsProcessed   int64 `json:"events_processed"`
	EventsDropped     int64 `json:"events_dropped"`
	ProcessingErrors  int64 `json:"processing_errors"`
	ActiveSubscribers int64 `json:"active_subscribers"`
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultEventBusConfig returns sensible defaults
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 2,
		BufferSize: 256,
	}
}

// EventBus routes events to subscribers
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates an event bus and starts its workers
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	bufferSize := config.BufferSize

	if workerCount <= 0 {
		workerCount = 2
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, bufferSize),
		workerCount:    workerCount,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Debug("EventBus initialized",
		zap.Int("workers", workerCount),
		zap.Int("buffer_size", bufferSize),
	)

	return eb
}

// worker processes events from the channel
func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			eb.processEvent(event)
		}
	}
}

// processEvent routes event to subscribers
func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			eb.executeHandler(sub, event)
		}
	}
	for _, sub := range allSubs {
		if sub.active.Load() {
			eb.executeHandler(sub, event)
		}
	}

	eb.eventsProcessed.Add(1)
}

// executeHandler safely executes a handler with panic recovery
func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("Event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("Event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

// Subscribe registers a handler for an event type
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
	}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)

	eb.logger.Debug("Subscription added",
		zap.String("id", sub.ID),
		zap.String("event_type", string(eventType)),
	)

	return sub
}

// SubscribeAll registers a handler for all event types
func (eb *EventBus) SubscribeAll(handler EventHandler) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: "*",
		Handler:   handler,
	}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)

	return sub
}

// Unsubscribe deactivates a subscription
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if sub.active.CompareAndSwap(true, false) {
		eb.activeSubscribers.Add(-1)
	}
}

// Publish queues an event for delivery (non-blocking).
// If the buffer is full, the event is dropped and counted.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("Event dropped - buffer full",
			zap.String("event_type", string(event.GetType())),
		)
	}
}

// PublishSync delivers an event on the caller's goroutine
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current delivery counters
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// Stop shuts down the event bus. Queued events not yet picked up are discarded.
func (eb *EventBus) Stop() {
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("EventBus shutdown complete",
			zap.Int64("events_processed", eb.eventsProcessed.Load()),
			zap.Int64("events_dropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("EventBus shutdown timed out")
	}
}
