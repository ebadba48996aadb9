package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed = errors.New("event bus is shutting down")
	ErrBusFull   = errors.New("subscriber queue full")
)

// Bus fans events out to subscribers. Every subscription owns a bounded
// queue drained by one goroutine, so delivery order per subscriber matches
// publish order. Publish never blocks: when a queue is full the event is
// dropped for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	seq    uint64
	closed bool

	queueSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// Subscription is a registered handler. Unsubscribe stops its worker after
// the events already queued for it are handled.
type Subscription struct {
	id      string
	order   uint64
	handler Handler
	types   typeSet
	queue   chan Event
	once    sync.Once
	dropped atomic.Uint64
	bus     *Bus
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Dropped counts events lost because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe is safe to call more than once and after Shutdown.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.close()
	s.bus.logger.Debug("Handler unsubscribed", zap.String("subscription_id", s.id))
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.queue) })
}

// BusStats is a point-in-time view of the bus.
type BusStats struct {
	Subscribers int
	Pending     int
	Dropped     uint64
}

// NewBus creates a bus whose subscriber queues hold queueSize events each.
func NewBus(logger *zap.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("event_bus"),
	}
}

// Subscribe registers handler for the given types, or all types when none
// are given, and starts its worker.
func (b *Bus) Subscribe(handler Handler, types ...EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub := &Subscription{
		id:      uuid.NewString(),
		order:   b.seq,
		handler: handler,
		types:   newTypeSet(types),
		queue:   make(chan Event, b.queueSize),
		bus:     b,
	}
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.deliver(sub)

	b.logger.Debug("Handler subscribed",
		zap.String("subscription_id", sub.id),
		zap.Int("event_types", len(sub.types)))
	return sub
}

// SubscribeFunc subscribes a plain function.
func (b *Bus) SubscribeFunc(fn func(context.Context, Event) error, types ...EventType) *Subscription {
	return b.Subscribe(HandlerFunc(fn), types...)
}

// Publish queues event for every interested subscriber. It returns
// ErrBusFull when at least one subscriber had to drop it.
func (b *Bus) Publish(event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	var full error
	for _, sub := range b.subs {
		if !sub.types.has(event.Type()) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			sub.dropped.Add(1)
			b.logger.Warn("Subscriber queue full, dropping event",
				zap.String("event_type", string(event.Type())),
				zap.String("subscription_id", sub.id))
			full = ErrBusFull
		}
	}
	return full
}

// PublishSync runs the interested handlers inline, in subscription order,
// and joins their errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.types.has(event.Type()) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].order < targets[j].order })

	var errs []error
	for _, sub := range targets {
		if err := b.handle(ctx, sub, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bus) deliver(sub *Subscription) {
	defer b.wg.Done()
	for event := range sub.queue {
		_ = b.handle(b.ctx, sub, event)
	}
}

func (b *Bus) handle(ctx context.Context, sub *Subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("subscription_id", sub.id),
				zap.Error(err))
		}
	}()
	return sub.handler.Handle(ctx, event)
}

// Shutdown stops accepting events and waits for the queues to drain. When
// ctx expires first, in-flight handlers see their context cancelled.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.close()
	}
	b.mu.Unlock()

	b.logger.Info("Draining event bus")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		b.logger.Info("Event bus stopped")
		return nil
	case <-ctx.Done():
		b.cancel()
		b.logger.Warn("Event bus drain timed out", zap.Int("pending", b.Stats().Pending))
		return ctx.Err()
	}
}

// Stats reports subscriber count, queued events and total drops.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := BusStats{Subscribers: len(b.subs)}
	for _, sub := range b.subs {
		st.Pending += len(sub.queue)
		st.Dropped += sub.dropped.Load()
	}
	return st
}
