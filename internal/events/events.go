package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc is the function called when an event is emitted.
type HandlerFunc func(context.Context, any) error

// SubjectOption configures a Subject
type SubjectOption func(*subjectConfig)

type subjectConfig struct {
	bufferSize   int
	syncDelivery bool
	emitTimeout  time.Duration
	logger       *slog.Logger
}

// WithBufferSize sets the event channel buffer size
func WithBufferSize(size int) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.bufferSize = size
	}
}

// WithLogger sets a structured logger for handler errors
func WithLogger(logger *slog.Logger) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.logger = logger
	}
}

// WithSyncDelivery forces synchronous (inline) event delivery.
// All handler calls are serialized on the single eventLoop goroutine, so
// subscribers observe events in emit order and never run concurrently.
func WithSyncDelivery() SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.syncDelivery = true
	}
}

// WithEmitTimeout bounds how long Emit waits for room in a full buffer.
func WithEmitTimeout(d time.Duration) SubjectOption {
	return func(cfg *subjectConfig) {
		cfg.emitTimeout = d
	}
}

// Emit emits an event to the given topic.
func Emit[T any](subject *Subject, topic string, value T) error {
	if subject == nil {
		return fmt.Errorf("emit %s: nil subject", topic)
	}
	if atomic.LoadInt32(&subject.closed) == 1 {
		return fmt.Errorf("emit %s: subject completed", topic)
	}

	evt := event{
		topic:   topic,
		message: value,
	}

	select {
	case subject.events <- evt:
		return nil
	case <-time.After(subject.config.emitTimeout):
		return fmt.Errorf("failed to emit event on %s: buffer full", topic)
	}
}

// Subscribe subscribes a typed handler to the given topic.
// Events whose value is not a T are reported as handler errors and skipped.
func Subscribe[T any](subject *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrappedHandler := HandlerFunc(func(ctx context.Context, data any) error {
		if typed, ok := data.(T); ok {
			return handler(ctx, typed)
		}
		return fmt.Errorf("type assertion failed for %T, expected %T", data, *new(T))
	})

	subID := atomic.AddInt64(&subject.nextSubID, 1)

	sub := Subscription{
		Topic:     topic,
		CreatedAt: time.Now().UnixNano(),
		Handler:   wrappedHandler,
		ID:        fmt.Sprintf("%s-%d", topic, subID),
	}

	subject.addSubscription(sub)

	sub.Unsubscribe = func() {
		subject.removeSubscription(topic, sub.ID)
	}

	return sub
}

// Complete shuts down the event loop. Idempotent.
func Complete(s *Subject) {
	if s == nil {
		return
	}

	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.shutdown)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
}

type event struct {
	topic   string
	message any
}

// Subscription represents a handler subscribed to a specific topic.
type Subscription struct {
	Topic       string
	CreatedAt   int64
	Handler     HandlerFunc
	ID          string
	Unsubscribe func()
}

// registry maps a topic to its subscriptions in subscribe order.
// It is never mutated once published; writers swap in a modified copy.
type registry map[string][]Subscription

// Subject is a topic-keyed fan-out bus with a single delivery goroutine.
type Subject struct {
	subscribers atomic.Pointer[registry]
	nextSubID   int64
	eventCount  int64

	events   chan event
	shutdown chan struct{}

	config subjectConfig

	closed int32
	wg     sync.WaitGroup
}

// NewSubject creates a new Subject with optional configuration.
func NewSubject(opts ...SubjectOption) *Subject {
	cfg := subjectConfig{
		bufferSize:  512,
		emitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Subject{
		events:   make(chan event, cfg.bufferSize),
		shutdown: make(chan struct{}),
		config:   cfg,
	}
	s.subscribers.Store(&registry{})

	s.wg.Add(1)
	go s.eventLoop()
	return s
}

// Delivered returns the number of events taken off the queue so far.
func (s *Subject) Delivered() int64 {
	return atomic.LoadInt64(&s.eventCount)
}

// eventLoop hands each event to the topic's subscribers in subscribe order.
func (s *Subject) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			for _, sub := range (*s.subscribers.Load())[evt.topic] {
				s.sendToSubscriber(sub, evt, s.config.syncDelivery)
			}
			atomic.AddInt64(&s.eventCount, 1)
		}
	}
}

// update applies fn to a copy of the registry and publishes it, retrying on contention.
func (s *Subject) update(fn func(registry) bool) {
	for {
		old := s.subscribers.Load()
		next := make(registry, len(*old))
		for topic, subs := range *old {
			next[topic] = subs
		}
		if !fn(next) {
			return
		}
		if s.subscribers.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (s *Subject) addSubscription(sub Subscription) {
	s.update(func(r registry) bool {
		subs := make([]Subscription, 0, len(r[sub.Topic])+1)
		r[sub.Topic] = append(append(subs, r[sub.Topic]...), sub)
		return true
	})
}

func (s *Subject) removeSubscription(topic, subID string) {
	s.update(func(r registry) bool {
		subs := r[topic]
		for i, sub := range subs {
			if sub.ID != subID {
				continue
			}
			if len(subs) == 1 {
				delete(r, topic)
				return true
			}
			kept := make([]Subscription, 0, len(subs)-1)
			r[topic] = append(append(kept, subs[:i]...), subs[i+1:]...)
			return true
		}
		return false
	})
}

// sendToSubscriber delivers an event inline when sync is true, otherwise on its own goroutine.
func (s *Subject) sendToSubscriber(sub Subscription, evt event, sync bool) {
	deliverEvent := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := sub.Handler(ctx, evt.message); err != nil {
			if s.config.logger != nil {
				s.config.logger.Debug("event handler error",
					"topic", evt.topic,
					"error", err,
					"subscription_id", sub.ID,
					"delivery_mode", map[bool]string{true: "sync", false: "async"}[sync])
			}
		}
	}

	if sync {
		deliverEvent()
	} else {
		go deliverEvent()
	}
}
