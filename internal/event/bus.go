package event

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dshills/tabletop/internal/event/topic"
	"github.com/dshills/tabletop/internal/logging"
)

// Priority determines handler execution order. Lower values execute first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 100
	PriorityNormal   Priority = 200
	PriorityLow      Priority = 300
)

// Handler processes events. The event is type-erased; handlers type-assert.
type Handler interface {
	Handle(ctx context.Context, event any) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event any) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event any) error {
	return f(ctx, event)
}

// FilterFunc decides whether an event is delivered to a subscription.
type FilterFunc func(event any) bool

// Subscription is a registered handler.
type Subscription struct {
	id       string
	pattern  topic.Topic
	handler  Handler
	priority Priority
	filter   FilterFunc
	once     bool
	seq      uint64
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed pattern.
func (s *Subscription) Topic() topic.Topic { return s.pattern }

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*Subscription)

// WithPriority sets the handler priority.
func WithPriority(p Priority) SubscriptionOption {
	return func(s *Subscription) { s.priority = p }
}

// WithFilter only delivers events accepted by fn.
func WithFilter(fn FilterFunc) SubscriptionOption {
	return func(s *Subscription) { s.filter = fn }
}

// Once removes the subscription after its first successful delivery.
func Once() SubscriptionOption {
	return func(s *Subscription) { s.once = true }
}

// Stats is a snapshot of bus counters.
type Stats struct {
	EventsPublished   uint64
	EventsDelivered   uint64
	HandlerErrors     uint64
	HandlerPanics     uint64
	ActiveSubscribers int
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l.WithComponent("event")
		}
	}
}

// Bus is a synchronous topic-based event bus. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	seq    uint64
	closed bool

	logger *logging.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	errors    atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: logging.Null()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every topic matching pattern.
func (b *Bus) Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTopic, pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	b.seq++
	sub := &Subscription{
		id:       "sub-" + strconv.FormatUint(b.seq, 10),
		pattern:  pattern,
		handler:  handler,
		priority: PriorityNormal,
		seq:      b.seq,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.subs = append(b.subs, sub)
	sort.SliceStable(b.subs, func(i, j int) bool {
		if b.subs[i].priority != b.subs[j].priority {
			return b.subs[i].priority < b.subs[j].priority
		}
		return b.subs[i].seq < b.subs[j].seq
	})
	return sub, nil
}

// SubscribeFunc registers a handler function.
func (b *Bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(pattern, fn, opts...)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.removeLocked(sub.id) {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (b *Bus) removeLocked(id string) bool {
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers event to every matching subscription in priority order.
// The event must implement TopicProvider. Handler errors do not stop
// delivery; they are joined and returned.
func (b *Bus) Publish(ctx context.Context, event any) error {
	tp, ok := event.(TopicProvider)
	if !ok || tp.EventTopic() == "" {
		return ErrInvalidEvent
	}
	t := tp.EventTopic()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var matched []*Subscription
	for _, s := range b.subs {
		if topic.Match(s.pattern, t) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)

	var errs []error
	for _, s := range matched {
		if s.filter != nil && !s.filter(event) {
			continue
		}
		if err := b.deliver(ctx, s, event); err != nil {
			herr := &HandlerError{SubscriptionID: s.id, Topic: t.String(), Err: err}
			b.logger.Warn("%v", herr)
			errs = append(errs, herr)
			continue
		}
		b.delivered.Add(1)
		if s.once {
			b.mu.Lock()
			b.removeLocked(s.id)
			b.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Debug("handler panic stack:\n%s", debug.Stack())
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	if err = s.handler.Handle(ctx, event); err != nil {
		b.errors.Add(1)
	}
	return err
}

// Stats returns the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		EventsPublished:   b.published.Load(),
		EventsDelivered:   b.delivered.Load(),
		HandlerErrors:     b.errors.Load(),
		HandlerPanics:     b.panics.Load(),
		ActiveSubscribers: active,
	}
}

// Close removes every subscription. Later calls to Publish and Subscribe
// return ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
