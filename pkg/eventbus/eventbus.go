package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Sink receives a TradeEvent after every successful transition.
// Implementations must not fail the caller: delivery problems are theirs to handle.
type Sink interface {
	Emit(ctx context.Context, ev model.TradeEvent)
}

// Handler processes one event. A returned error is logged and counted, never propagated.
type Handler func(ctx context.Context, ev model.TradeEvent) error

// ErrorHook is notified whenever a subscriber fails.
type ErrorHook func(subscriber string, ev model.TradeEvent, err error)

type subscription struct {
	name    string
	entity  string // empty matches every entity
	handler Handler
}

// EventBus provides synchronous in-process fan-out of trade events.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *zap.Logger
	onErr  ErrorHook
}

// New creates a new EventBus
func New(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{logger: logger}
}

// OnError installs a hook called for every failed delivery.
func (e *EventBus) OnError(hook ErrorHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onErr = hook
}

// Subscribe registers a handler for every event.
func (e *EventBus) Subscribe(name string, handler Handler) {
	e.SubscribeEntity("", name, handler)
}

// SubscribeEntity registers a handler for events of one entity type.
func (e *EventBus) SubscribeEntity(entity, name string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, subscription{name: name, entity: entity, handler: handler})
}

// Emit delivers ev to every matching subscriber in registration order.
func (e *EventBus) Emit(ctx context.Context, ev model.TradeEvent) {
	e.mu.RLock()
	subs := make([]subscription, len(e.subs))
	copy(subs, e.subs)
	hook := e.onErr
	e.mu.RUnlock()

	for _, s := range subs {
		if s.entity != "" && s.entity != ev.Entity {
			continue
		}
		if err := e.deliver(ctx, s, ev); err != nil {
			e.logger.Warn("eventbus.deliver.failed",
				zap.String("subscriber", s.name),
				zap.String("transition", ev.Transition),
				zap.String("entity_id", ev.EntityID),
				zap.Error(err))
			if hook != nil {
				hook(s.name, ev, err)
			}
		}
	}
}

func (e *EventBus) deliver(ctx context.Context, s subscription, ev model.TradeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}

// HasSubscribers returns true if any subscriber would receive events of entity.
func (e *EventBus) HasSubscribers(entity string) bool {
	return e.SubscriberCount(entity) > 0
}

// SubscriberCount returns the number of subscribers matching entity.
func (e *EventBus) SubscriberCount(entity string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, s := range e.subs {
		if s.entity == "" || s.entity == entity {
			n++
		}
	}
	return n
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, model.TradeEvent) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.TradeEvent
}

func (r *Recorder) Emit(_ context.Context, ev model.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []model.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.TradeEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Transitions lists the recorded transitions in emission order.
func (r *Recorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Transition)
	}
	return out
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
