package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/ironfleet/pkg/engine"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event engine.Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event engine.Event) bool

// EventPublisher manages event publishing and subscriptions. In async mode
// events are delivered in order by a single goroutine, and Shutdown drains
// whatever is still buffered.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan engine.Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
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
		buffer:      make(chan engine.Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event engine.Event) error {
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
		event.Level = event.Type.Severity()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, user string, machines int) error {
	return ep.Publish(engine.Event{
		Type:    engine.EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started by %s over %d machines", runID, user, machines),
		Details: map[string]interface{}{
			"user":     user,
			"machines": machines,
		},
	})
}

// PublishRunCompleted publishes a run completed event. Runs that ended in
// a failed status are published as run_failed.
func (ep *EventPublisher) PublishRunCompleted(runID string, status engine.RunStatus, duration time.Duration) error {
	typ := engine.EventTypeRunCompleted
	if status == engine.RunStatusFailed || status == engine.RunStatusCancelled {
		typ = engine.EventTypeRunFailed
	}
	return ep.Publish(engine.Event{
		Type:    typ,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Details: map[string]interface{}{
			"status":   string(status),
			"duration": duration.Seconds(),
		},
	})
}

// PublishPhaseStarted publishes a phase started event.
func (ep *EventPublisher) PublishPhaseStarted(runID, phase string, machines int) error {
	return ep.Publish(engine.Event{
		Type:    engine.EventTypePhaseStarted,
		RunID:   runID,
		Phase:   phase,
		Message: fmt.Sprintf("Phase %s started over %d machines", phase, machines),
		Details: map[string]interface{}{
			"machines": machines,
		},
	})
}

// PublishPhaseCompleted publishes the end of a phase. A phase with failed
// machines is published as phase_failed.
func (ep *EventPublisher) PublishPhaseCompleted(runID, phase string, failed int, duration time.Duration) error {
	typ := engine.EventTypePhaseCompleted
	msg := fmt.Sprintf("Phase %s completed", phase)
	if failed > 0 {
		typ = engine.EventTypePhaseFailed
		msg = fmt.Sprintf("Phase %s completed with %d failed machines", phase, failed)
	}
	return ep.Publish(engine.Event{
		Type:    typ,
		RunID:   runID,
		Phase:   phase,
		Message: msg,
		Details: map[string]interface{}{
			"failed":   failed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishSubserviceFailed publishes a failed sub-service call.
func (ep *EventPublisher) PublishSubserviceFailed(runID, phase, machine, service string, attempts int, reason string) error {
	return ep.Publish(engine.Event{
		Type:    engine.EventTypeSubserviceFailed,
		RunID:   runID,
		Phase:   phase,
		Machine: machine,
		Message: fmt.Sprintf("%s failed for %s: %s", service, machine, reason),
		Details: map[string]interface{}{
			"service":  service,
			"attempts": attempts,
			"reason":   reason,
		},
	})
}

// PublishDriftDetected publishes a drift detected event.
func (ep *EventPublisher) PublishDriftDetected(runID, machine string, driftCount int) error {
	return ep.Publish(engine.Event{
		Type:    engine.EventTypeDriftDetected,
		RunID:   runID,
		Machine: machine,
		Message: fmt.Sprintf("Drift detected on %s (%d changes)", machine, driftCount),
		Details: map[string]interface{}{
			"drift_count": driftCount,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(machine, policyName, reason string) error {
	return ep.Publish(engine.Event{
		Type:    engine.EventTypePolicyViolation,
		Machine: machine,
		Message: fmt.Sprintf("Policy violation on %s: %s - %s", machine, policyName, reason),
		Details: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches, flushing a partial
// batch every FlushInterval.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]engine.Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		if len(batch) > 0 {
			ep.flushBatch(batch)
			batch = make([]engine.Event, 0, ep.config.MaxBatchSize)
		}
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-tick:
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []engine.Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event engine.Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
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

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterByMachine creates a filter that only allows events for a specific machine.
func FilterByMachine(machine string) EventFilter {
	return func(event engine.Event) bool {
		return event.Machine == machine
	}
}
