package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/neboloop/browser-agent/internal/events"
	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/relay"
)

const recorderQueue = 256

// KindRelayState marks entries recording extension connects and disconnects.
const KindRelayState = "relay/state"

// Recorder writes inbound notifications to the store off the event loop.
type Recorder struct {
	store *Store
	log   *slog.Logger
	subs  []events.Subscription
	queue chan Entry
	done  chan struct{}
	once  sync.Once

	// mu guards closed; enqueue never sends after Close has closed queue.
	mu     sync.Mutex
	closed bool
}

// NewRecorder subscribes to inbound relay frames on bus.
// A nil store still logs notifications but persists nothing.
func NewRecorder(store *Store, bus *events.Subject) *Recorder {
	r := &Recorder{
		store: store,
		log:   logging.For("journal"),
		queue: make(chan Entry, recorderQueue),
		done:  make(chan struct{}),
	}
	r.subs = []events.Subscription{
		events.Subscribe(bus, events.TopicInbound, r.handle),
		events.Subscribe(bus, events.TopicState, r.handleState),
	}
	go r.loop()
	return r
}

// Close stops recording and flushes queued entries.
func (r *Recorder) Close() {
	r.once.Do(func() {
		for _, sub := range r.subs {
			sub.Unsubscribe()
		}
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

func (r *Recorder) handle(_ context.Context, env *relay.Envelope) error {
	if !relay.IsNotification(env.Kind()) {
		return nil
	}
	e := EntryFromEnvelope(env)
	r.log.Debug("notification", "kind", e.Kind, "conn", e.ConnID, "payload", string(e.Payload))
	r.enqueue(e)
	return nil
}

func (r *Recorder) handleState(_ context.Context, sc relay.StateChange) error {
	payload, err := json.Marshal(map[string]any{
		"connected": sc.Connected,
		"port":      sc.Port,
	})
	if err != nil {
		return err
	}
	r.enqueue(Entry{
		ConnID:     sc.ConnID,
		Kind:       KindRelayState,
		Payload:    payload,
		ReceivedAt: sc.At,
	})
	return nil
}

func (r *Recorder) enqueue(e Entry) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("journal queue full, dropping entry", "kind", e.Kind)
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := r.store.Record(ctx, e); err != nil {
			r.log.Warn("journal write failed", "error", err)
		}
		cancel()
	}
}

// EntryFromEnvelope normalizes a notification frame into a journal entry.
func EntryFromEnvelope(env *relay.Envelope) Entry {
	kind := env.Kind()
	switch kind {
	case "CONSOLE_LOG":
		kind = relay.NotifyConsoleLog
	case "NETWORK_REQUEST":
		kind = relay.NotifyNetworkRequest
	}

	e := Entry{
		ConnID:     env.ConnID,
		Kind:       kind,
		Payload:    env.Body(),
		ReceivedAt: time.Now(),
	}
	var body struct {
		TabID *int64 `json:"tabId"`
	}
	if json.Unmarshal(env.Body(), &body) == nil {
		e.TabID = body.TabID
	}
	return e
}
