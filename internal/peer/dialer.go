// Package peer is the connecting side of the relay: a reconnecting WebSocket
// dialer that executes relay requests against a browser tab.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/relay"
)

const (
	DefaultRetryDelay = time.Second
	DefaultCooldown   = 5 * time.Second

	writeWait = 10 * time.Second
)

// ErrNotConnected is returned by Notify while no relay is attached.
var ErrNotConnected = errors.New("relay not connected")

// Executor performs one relay operation and returns the reply data.
type Executor interface {
	Execute(ctx context.Context, op relay.Operation, payload json.RawMessage) (any, error)
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithHost sets the relay host. Defaults to 127.0.0.1.
func WithHost(host string) Option {
	return func(d *Dialer) { d.host = host }
}

// WithPortRange sets the candidate ports, tried in ascending order.
func WithPortRange(start, span int) Option {
	return func(d *Dialer) {
		d.ports = d.ports[:0]
		for p := start; p <= start+span; p++ {
			d.ports = append(d.ports, p)
		}
	}
}

// WithRetryDelay sets the pause between two candidate ports.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dialer) { d.retryDelay = delay }
}

// WithCooldown sets the pause after the whole range failed or a connection dropped.
func WithCooldown(delay time.Duration) Option {
	return func(d *Dialer) { d.cooldown = delay }
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(Status)) Option {
	return func(d *Dialer) { d.onState = fn }
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dialer) { d.log = log }
}

// Dialer keeps one connection to the relay open, rescanning the port range
// whenever it is lost.
type Dialer struct {
	host       string
	ports      []int
	retryDelay time.Duration
	cooldown   time.Duration
	exec       Executor
	onState    func(Status)
	log        *slog.Logger
	dialer     *websocket.Dialer

	mu      sync.RWMutex
	status  Status
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewDialer creates a dialer that runs relay requests on exec.
func NewDialer(exec Executor, opts ...Option) *Dialer {
	d := &Dialer{
		host:       relay.DefaultHost,
		retryDelay: DefaultRetryDelay,
		cooldown:   DefaultCooldown,
		exec:       exec,
		log:        logging.For("peer"),
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
	WithPortRange(relay.DefaultStartPort, relay.DefaultPortSpan)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Status returns the current state.
func (d *Dialer) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Dialer) setStatus(s Status) {
	d.mu.Lock()
	changed := d.status != s
	d.status = s
	d.mu.Unlock()
	if !changed {
		return
	}
	d.log.Debug("state", "status", s.String())
	if d.onState != nil {
		d.onState(s)
	}
}

// Run scans, connects and serves until ctx is cancelled. It never gives up on its own.
func (d *Dialer) Run(ctx context.Context) error {
	next := 0
	for {
		if err := ctx.Err(); err != nil {
			d.setStatus(Status{State: Disconnected})
			return err
		}

		port := d.ports[next]
		d.setStatus(Status{State: Scanning, Port: port})

		conn, err := d.dial(ctx, port)
		if err == nil {
			d.mu.Lock()
			d.conn = conn
			d.mu.Unlock()
			d.setStatus(Status{State: Connected, Port: port})
			d.log.Info("connected to relay", "port", port)
			d.serve(ctx, conn)
			d.setStatus(Status{State: Disconnected})
			d.log.Info("relay connection closed", "port", port)
			next = 0
			sleep(ctx, d.cooldown)
			continue
		}

		d.log.Debug("dial failed", "port", port, "error", err)
		next++
		if next < len(d.ports) {
			sleep(ctx, d.retryDelay)
			continue
		}
		next = 0
		d.setStatus(Status{State: Disconnected})
		d.log.Debug("no relay found, cooling down", "cooldown", d.cooldown)
		sleep(ctx, d.cooldown)
	}
}

// sleep waits for delay or until ctx is done.
func sleep(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (d *Dialer) dial(ctx context.Context, port int) (*websocket.Conn, error) {
	url := "ws://" + net.JoinHostPort(d.host, strconv.Itoa(port)) + "/"
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	return conn, err
}

func (d *Dialer) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	greeting := relay.Greeting{
		Type:      relay.TypeConnectionTest,
		Message:   "Hello from browser-agent peer",
		Timestamp: time.Now().UnixMilli(),
	}
	if err := d.write(conn, greeting); err != nil {
		d.log.Warn("greeting failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := relay.DecodeEnvelope(data)
		if err != nil {
			d.log.Warn("dropping frame", "error", err)
			continue
		}
		if env.Kind() == relay.TypeConnectionTestResponse {
			d.log.Debug("relay acknowledged greeting", "message", env.Message)
			continue
		}
		if env.ID == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleRequest(ctx, conn, env)
		}()
	}
}

func (d *Dialer) handleRequest(ctx context.Context, conn *websocket.Conn, env *relay.Envelope) {
	resp := relay.Response{ID: env.ID}

	op, err := relay.ParseOperation(env.Kind())
	if err != nil {
		resp.Error = fmt.Sprintf("Unknown message type: %s", env.Kind())
	} else if data, err := d.exec.Execute(ctx, op, env.Body()); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
		resp.Data = data
	}

	if err := d.write(conn, resp); err != nil {
		d.log.Warn("reply failed", "id", env.ID, "error", err)
	}
}

// Notify forwards an uncorrelated event such as relay.NotifyConsoleLog.
func (d *Dialer) Notify(kind string, params any) error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return d.write(conn, relay.Notification{Type: kind, Payload: params})
}

func (d *Dialer) write(conn *websocket.Conn, v any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
