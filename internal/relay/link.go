package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/browser-agent/internal/events"
	"github.com/neboloop/browser-agent/internal/logging"
)

const (
	DefaultHost      = "127.0.0.1"
	DefaultStartPort = 3000
	DefaultPortSpan  = 5

	defaultPingInterval = 20 * time.Second
	writeWait           = 10 * time.Second
)

// StateChange is published on events.TopicState whenever the current peer changes.
type StateChange struct {
	Connected bool
	ConnID    string
	Port      int
	At        time.Time
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithHost sets the listen host. Defaults to 127.0.0.1.
func WithHost(host string) LinkOption {
	return func(l *Link) { l.host = host }
}

// WithPortRange sets the first port and how many additional ports to try.
func WithPortRange(start, span int) LinkOption {
	return func(l *Link) {
		l.ports = l.ports[:0]
		for p := start; p <= start+span; p++ {
			l.ports = append(l.ports, p)
		}
	}
}

// WithPingInterval sets how often control pings are sent to the peer. Zero disables pings.
func WithPingInterval(d time.Duration) LinkOption {
	return func(l *Link) { l.pingInterval = d }
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) LinkOption {
	return func(l *Link) { l.log = log }
}

type peerConn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *peerConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Link is the extension-facing WebSocket listener. It tracks exactly one
// current peer; a newer connection replaces the reference.
type Link struct {
	host         string
	ports        []int
	pingInterval time.Duration
	bus          *events.Subject
	log          *slog.Logger

	upgrader websocket.Upgrader
	router   chi.Router

	mu      sync.RWMutex
	current *peerConn
	conns   map[*peerConn]struct{}
	port    int
	server  *http.Server
	stopped bool
}

// NewLink creates a link that publishes inbound frames and state changes on bus.
func NewLink(bus *events.Subject, opts ...LinkOption) *Link {
	l := &Link{
		host:         DefaultHost,
		pingInterval: defaultPingInterval,
		bus:          bus,
		log:          logging.For("relay"),
		conns:        make(map[*peerConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Extensions and direct (originless) clients only
				return origin == "" || strings.HasPrefix(origin, "chrome-extension://")
			},
		},
	}
	WithPortRange(DefaultStartPort, DefaultPortSpan)(l)
	for _, opt := range opts {
		opt(l)
	}

	r := chi.NewRouter()
	r.Get("/", l.handleRoot)
	l.router = r
	return l
}

// Router exposes the listener's router so status endpoints can be mounted before Start.
func (l *Link) Router() chi.Router {
	return l.router
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (l *Link) Handler() http.Handler {
	return l.router
}

// Start binds the first free port in the range and serves in the background.
// Only address-in-use errors advance to the next port.
func (l *Link) Start() error {
	var (
		ln   net.Listener
		port int
	)
	for _, p := range l.ports {
		addr := net.JoinHostPort(l.host, fmt.Sprint(p))
		var err error
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			port = p
			break
		}
		if !isAddrInUse(err) {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		l.log.Debug("port in use, trying next", "port", p)
	}
	if ln == nil {
		l.log.Error("no free relay port", "ports", l.ports)
		return ErrNoFreePort
	}

	srv := &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.mu.Lock()
	l.port = port
	l.server = srv
	l.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("relay server error", "error", err)
		}
	}()

	l.log.Info("relay listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes every tracked socket and shuts the listener down.
func (l *Link) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	srv := l.server
	for c := range l.conns {
		c.ws.Close()
	}
	l.current = nil
	l.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Port returns the bound port, or 0 before Start succeeds.
func (l *Link) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port
}

// IsConnected reports whether a peer is currently attached.
func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current != nil
}

// ConnectionID returns the id of the current peer connection, or "".
func (l *Link) ConnectionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return ""
	}
	return l.current.id
}

// Send writes v as one JSON text frame to the current peer.
func (l *Link) Send(v any) error {
	l.mu.RLock()
	c := l.current
	l.mu.RUnlock()
	if c == nil {
		return ErrPeerNotConnected
	}
	if err := c.writeJSON(v); err != nil {
		return fmt.Errorf("send to %s: %w", c.id, err)
	}
	return nil
}

func (l *Link) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("OK"))
		return
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if !isLoopbackIP(remoteIP) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &peerConn{id: uuid.NewString(), ws: ws}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		ws.Close()
		return
	}
	replaced := l.current != nil
	l.current = c
	l.conns[c] = struct{}{}
	port := l.port
	l.mu.Unlock()

	l.log.Info("extension connected", "conn", c.id, "remote", r.RemoteAddr, "replaced", replaced)
	l.publishState(true, c.id, port)

	l.serveConn(c)
}

func (l *Link) serveConn(c *peerConn) {
	done := make(chan struct{})
	if l.pingInterval > 0 {
		go l.pingLoop(c, done)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			l.log.Debug("read ended", "conn", c.id, "error", err)
			break
		}
		l.handleFrame(c, data)
	}
	close(done)
	c.ws.Close()

	l.mu.Lock()
	delete(l.conns, c)
	// A stale socket must not clear a newer connection.
	wasCurrent := l.current == c
	if wasCurrent {
		l.current = nil
	}
	port := l.port
	l.mu.Unlock()

	l.log.Info("extension disconnected", "conn", c.id, "current", wasCurrent)
	if wasCurrent {
		l.publishState(false, c.id, port)
	}
}

func (l *Link) handleFrame(c *peerConn, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		l.log.Warn("dropping frame", "conn", c.id, "error", err)
		return
	}
	env.ConnID = c.id

	if env.Kind() == TypeConnectionTest {
		ack := GreetingAck{
			Type:            TypeConnectionTestResponse,
			Message:         "Hello from browser-agent",
			OriginalMessage: env.Message,
			Timestamp:       time.Now().UnixMilli(),
		}
		if err := c.writeJSON(ack); err != nil {
			l.log.Warn("greeting ack failed", "conn", c.id, "error", err)
		}
	}

	if err := events.Emit(l.bus, events.TopicInbound, env); err != nil {
		l.log.Warn("inbound frame not published", "error", err)
	}
}

func (l *Link) pingLoop(c *peerConn, done <-chan struct{}) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.log.Debug("ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

func (l *Link) publishState(connected bool, id string, port int) {
	sc := StateChange{Connected: connected, ConnID: id, Port: port, At: time.Now()}
	if err := events.Emit(l.bus, events.TopicState, sc); err != nil {
		l.log.Debug("state change not published", "error", err)
	}
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := err.Error()
	// Windows reports WSAEADDRINUSE with its own wording.
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address")
}

func isLoopbackIP(ip string) bool {
	if strings.HasPrefix(ip, "127.") || ip == "::1" {
		return true
	}
	return strings.HasPrefix(ip, "::ffff:127.")
}
