package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neboloop/browser-agent/internal/events"
	"github.com/neboloop/browser-agent/internal/logging"
)

// DefaultTimeout bounds every correlated request.
const DefaultTimeout = 10 * time.Second

var errCorrelatorClosed = errors.New("relay stopped")

// Sender is the part of Link the correlator needs.
type Sender interface {
	IsConnected() bool
	Send(v any) error
}

type result struct {
	data json.RawMessage
	err  error
}

type pendingRequest struct {
	op      Operation
	created time.Time
	done    chan result
	timer   *time.Timer
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithTimeout overrides the request timeout. Intended for tests.
func WithTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) { c.timeout = d }
}

// Correlator assigns request ids, tracks pending requests and matches replies.
type Correlator struct {
	link    Sender
	timeout time.Duration
	log     *slog.Logger
	sub     events.Subscription

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

// NewCorrelator subscribes to inbound frames on bus and sends through link.
func NewCorrelator(link Sender, bus *events.Subject, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		link:    link,
		timeout: DefaultTimeout,
		log:     logging.For("correlator"),
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sub = events.Subscribe(bus, events.TopicInbound, c.handleInbound)
	return c
}

// Call sends op with payload and waits for the matching reply.
// Cancelling ctx stops the wait; the pending entry still settles by reply or timeout.
func (c *Correlator) Call(ctx context.Context, op Operation, payload any) (json.RawMessage, error) {
	if !c.link.IsConnected() {
		return nil, ErrPeerNotConnected
	}

	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		body = b
	}

	id := NewRequestID()
	p := &pendingRequest{
		op:      op,
		created: time.Now(),
		done:    make(chan result, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errCorrelatorClosed
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(c.timeout, func() {
		if c.settle(id, result{err: ErrRequestTimeout}) {
			c.log.Warn("request timed out", "id", id, "op", op)
		}
	})
	c.mu.Unlock()

	c.log.Debug("request sent", "id", id, "op", op)
	if err := c.link.Send(Request{Type: op, Payload: body, ID: id}); err != nil {
		c.settle(id, result{err: err})
	}

	select {
	case r := <-p.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of unsettled requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every pending request and stops listening for replies.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	if c.sub.Unsubscribe != nil {
		c.sub.Unsubscribe()
	}
	for _, p := range pending {
		p.timer.Stop()
		p.done <- result{err: errCorrelatorClosed}
	}
}

// settle removes the entry and delivers r. It reports false when the id was
// unknown or already settled, so each entry settles at most once.
func (c *Correlator) settle(id string, r result) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		p.timer.Stop()
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- r
	return true
}

func (c *Correlator) handleInbound(_ context.Context, env *Envelope) error {
	if env.ID == "" || env.IsSentinel() {
		return nil
	}

	r := result{data: env.Value()}
	if !env.Succeeded() {
		r = result{err: &PeerError{Message: env.FailureMessage()}}
	}
	if !c.settle(env.ID, r) {
		c.log.Debug("ignoring unmatched reply", "id", env.ID)
	}
	return nil
}
