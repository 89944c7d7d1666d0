package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted by the engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// InvocationID is the associated invocation, if applicable.
	InvocationID string `json:"invocation_id,omitempty"`

	// Package is the associated package, if applicable.
	Package string `json:"package,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeInvocationStarted   = "invocation.started"
	EventTypeInvocationCompleted = "invocation.completed"
	EventTypeInvocationFailed    = "invocation.failed"
	EventTypePackageTransition   = "package.transition"
	EventTypeWorkspaceCreated    = "workspace.created"
	EventTypeWorkspaceReleased   = "workspace.released"
	EventTypePolicyDenied        = "policy.denied"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
// Synchronous publishers deliver in the caller's goroutine, in order.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	nextID      int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	id         int
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		subscribers: make([]subscriberEntry, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Enabled reports whether published events reach subscribers.
func (ep *EventPublisher) Enabled() bool {
	return ep != nil && ep.config.Enabled
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishInvocationStarted publishes an invocation started event.
func (ep *EventPublisher) PublishInvocationStarted(invocationID, operation string, check bool) error {
	return ep.Publish(Event{
		Type:         EventTypeInvocationStarted,
		Source:       "engine",
		InvocationID: invocationID,
		Message:      fmt.Sprintf("Invocation %s started: %s", invocationID, operation),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"operation":  operation,
			"check_mode": check,
		},
	})
}

// PublishInvocationCompleted publishes an invocation completed event.
func (ep *EventPublisher) PublishInvocationCompleted(invocationID string, changed bool, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeInvocationCompleted,
		Source:       "engine",
		InvocationID: invocationID,
		Message:      fmt.Sprintf("Invocation %s completed (changed=%t)", invocationID, changed),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"changed":  changed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishInvocationFailed publishes an invocation failed event.
func (ep *EventPublisher) PublishInvocationFailed(invocationID, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeInvocationFailed,
		Source:       "engine",
		InvocationID: invocationID,
		Message:      fmt.Sprintf("Invocation %s failed: %s", invocationID, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishPackageTransition publishes a per-package state change.
func (ep *EventPublisher) PublishPackageTransition(invocationID, pkg, from, to string) error {
	level := EventLevelInfo
	if to == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:         EventTypePackageTransition,
		Source:       "orchestrator",
		InvocationID: invocationID,
		Package:      pkg,
		Message:      fmt.Sprintf("Package %s: %s -> %s", pkg, from, to),
		Level:        level,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishWorkspaceCreated publishes a workspace creation event.
func (ep *EventPublisher) PublishWorkspaceCreated(invocationID, pkg, path string) error {
	return ep.Publish(Event{
		Type:         EventTypeWorkspaceCreated,
		Source:       "pipeline",
		InvocationID: invocationID,
		Package:      pkg,
		Message:      fmt.Sprintf("Workspace %s created for %s", path, pkg),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	})
}

// PublishWorkspaceReleased publishes a workspace release event.
func (ep *EventPublisher) PublishWorkspaceReleased(invocationID, pkg, path string, err error) error {
	e := Event{
		Type:         EventTypeWorkspaceReleased,
		Source:       "pipeline",
		InvocationID: invocationID,
		Package:      pkg,
		Message:      fmt.Sprintf("Workspace %s released", path),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"path": path,
		},
	}
	if err != nil {
		e.Level = EventLevelWarning
		e.Message = fmt.Sprintf("Workspace %s could not be released: %v", path, err)
	}
	return ep.Publish(e)
}

// PublishPolicyDenied publishes an admission rejection.
func (ep *EventPublisher) PublishPolicyDenied(invocationID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypePolicyDenied,
		Source:       "policy_engine",
		InvocationID: invocationID,
		Message:      fmt.Sprintf("Request denied by %s: %s", policyName, reason),
		Level:        EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
// The returned function removes the subscriber; once it returns, the
// subscriber is not called again.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) func() {
	if !ep.Enabled() {
		return func() {}
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.nextID++
	id := ep.nextID
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		id:         id,
		subscriber: subscriber,
		filter:     filter,
	})

	var once sync.Once
	return func() {
		once.Do(func() { ep.unsubscribe(id) })
	}
}

func (ep *EventPublisher) unsubscribe(id int) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	for i, entry := range ep.subscribers {
		if entry.id == id {
			ep.subscribers = append(ep.subscribers[:i:i], ep.subscribers[i+1:]...)
			return
		}
	}
}

// processEvents delivers buffered events in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByInvocationID creates a filter that only allows events for one invocation.
func FilterByInvocationID(invocationID string) EventFilter {
	return func(event Event) bool {
		return event.InvocationID == invocationID
	}
}

// FilterByPackage creates a filter that only allows events for the given packages.
func FilterByPackage(pkgs ...string) EventFilter {
	pkgSet := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		pkgSet[p] = true
	}

	return func(event Event) bool {
		return pkgSet[event.Package]
	}
}

// MatchAll creates a filter that allows events accepted by every filter.
func MatchAll(filters ...EventFilter) EventFilter {
	return func(event Event) bool {
		for _, f := range filters {
			if !f(event) {
				return false
			}
		}
		return true
	}
}
