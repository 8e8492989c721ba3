package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/relay"
)

// ActiveTabID is the only tab a Chrome executor drives.
const ActiveTabID = 1

const (
	defaultMaxEntries = 500
	defaultOpTimeout  = 30 * time.Second

	// Forwarded notifications per second; a noisy page must not flood the relay.
	forwardRate  = 100
	forwardBurst = 200
)

// ChromeConfig configures the chromedp executor.
type ChromeConfig struct {
	Headless   bool
	RemoteURL  string        // attach to a running browser instead of launching one
	StartURL   string        // first page to open
	MaxEntries int           // console/network entries kept per buffer
	Timeout    time.Duration // per-operation limit
}

// ConsoleEntry is one captured console call.
type ConsoleEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// NetworkEntry is one captured request, completed with its status when the response arrives.
type NetworkEntry struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	Status    int64  `json:"status"`
	Type      string `json:"type,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Notifier receives uncorrelated events, normally Dialer.Notify.
type Notifier func(kind string, params any) error

// Chrome executes relay operations against a single Chrome tab through the DevTools protocol.
type Chrome struct {
	cfg         ChromeConfig
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	log         *slog.Logger
	limiter     *rate.Limiter

	mu        sync.Mutex
	console   []ConsoleEntry
	requests  []*NetworkEntry
	byRequest map[network.RequestID]*NetworkEntry
	notify    Notifier
}

// NewChrome launches (or attaches to) a browser and opens the start page.
func NewChrome(cfg ChromeConfig) (*Chrome, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpTimeout
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx)
	c := &Chrome{
		cfg:         cfg,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tab:         tab,
		log:         logging.For("chrome"),
		limiter:     rate.NewLimiter(forwardRate, forwardBurst),
		byRequest:   make(map[network.RequestID]*NetworkEntry),
	}
	chromedp.ListenTarget(tab, c.onEvent)

	if err := chromedp.Run(tab,
		network.Enable(),
		runtime.Enable(),
		chromedp.Navigate(cfg.StartURL),
	); err != nil {
		c.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return c, nil
}

// SetNotifier forwards captured console and network events to fn.
func (c *Chrome) SetNotifier(fn Notifier) {
	c.mu.Lock()
	c.notify = fn
	c.mu.Unlock()
}

// Close shuts the tab and the browser (or detaches from a remote one).
func (c *Chrome) Close() {
	c.tabCancel()
	c.allocCancel()
}

type requestArgs struct {
	TabID    int    `json:"tabId"`
	Selector string `json:"selector"`
	Action   string `json:"action"`
	Text     string `json:"text"`
	Clear    *bool  `json:"clear"`
}

// Execute implements Executor.
func (c *Chrome) Execute(ctx context.Context, op relay.Operation, payload json.RawMessage) (any, error) {
	var args requestArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if args.TabID != 0 && args.TabID != ActiveTabID {
		return nil, fmt.Errorf("tab %d not found", args.TabID)
	}

	switch op {
	case relay.OpGetConsoleLogs:
		return c.consoleSnapshot(), nil
	case relay.OpGetNetworkRequests:
		return c.networkSnapshot(), nil
	case relay.OpDOMQuery:
		action := args.Action
		if action == "" {
			action = "query"
		}
		return c.eval(ctx, queryScript(args.Selector, action))
	case relay.OpClick:
		return c.eval(ctx, clickScript(args.Selector))
	case relay.OpType:
		reset := args.Clear == nil || *args.Clear
		return c.eval(ctx, typeScript(args.Selector, args.Text, reset))
	case relay.OpGetPageInfo:
		return c.eval(ctx, pageInfoScript)
	}
	return nil, fmt.Errorf("%w: %s", relay.ErrUnknownOperation, op)
}

// evalResult is the envelope every page script returns.
type evalResult struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

func (r evalResult) unwrap() (any, error) {
	if !r.OK {
		if r.Error == "" {
			return nil, errors.New("script failed")
		}
		return nil, errors.New(r.Error)
	}
	if len(r.Data) == 0 {
		return nil, nil
	}
	return r.Data, nil
}

func (c *Chrome) eval(ctx context.Context, script string) (any, error) {
	runCtx, cancel := context.WithTimeout(c.tab, c.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw []byte
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}
	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return res.unwrap()
}

func (c *Chrome) onEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		entry := ConsoleEntry{
			Level:     consoleLevel(string(ev.Type)),
			Message:   consoleMessage(ev.Args),
			Timestamp: time.Now().UnixMilli(),
		}
		if ev.Timestamp != nil {
			entry.Timestamp = ev.Timestamp.Time().UnixMilli()
		}
		c.mu.Lock()
		c.console = appendBounded(c.console, entry, c.cfg.MaxEntries)
		notify := c.notify
		c.mu.Unlock()
		c.forward(notify, relay.NotifyConsoleLog, map[string]any{
			"tabId":     ActiveTabID,
			"level":     entry.Level,
			"message":   entry.Message,
			"timestamp": entry.Timestamp,
		})

	case *network.EventRequestWillBeSent:
		if ev.Request == nil {
			return
		}
		entry := &NetworkEntry{
			URL:       ev.Request.URL,
			Method:    ev.Request.Method,
			Type:      string(ev.Type),
			Timestamp: time.Now().UnixMilli(),
		}
		c.mu.Lock()
		c.requests = appendBounded(c.requests, entry, c.cfg.MaxEntries)
		c.byRequest[ev.RequestID] = entry
		c.mu.Unlock()

	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		c.mu.Lock()
		entry, ok := c.byRequest[ev.RequestID]
		if ok {
			entry.Status = ev.Response.Status
			delete(c.byRequest, ev.RequestID)
		}
		notify := c.notify
		var params map[string]any
		if ok {
			params = map[string]any{
				"tabId":     ActiveTabID,
				"url":       entry.URL,
				"method":    entry.Method,
				"status":    entry.Status,
				"timestamp": entry.Timestamp,
			}
		}
		c.mu.Unlock()
		if ok {
			c.forward(notify, relay.NotifyNetworkRequest, params)
		}
	}
}

func (c *Chrome) forward(notify Notifier, kind string, params map[string]any) {
	if notify == nil {
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Debug("notification rate limited", "kind", kind)
		return
	}
	// Listener callbacks must not block the event loop.
	go func() {
		if err := notify(kind, params); err != nil && !errors.Is(err, ErrNotConnected) {
			c.log.Debug("notification dropped", "kind", kind, "error", err)
		}
	}()
}

func (c *Chrome) consoleSnapshot() []ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConsoleEntry, len(c.console))
	copy(out, c.console)
	return out
}

func (c *Chrome) networkSnapshot() []NetworkEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NetworkEntry, len(c.requests))
	for i, e := range c.requests {
		out[i] = *e
	}
	return out
}

// consoleLevel maps DevTools console types onto the log/error/warn/info levels.
func consoleLevel(t string) string {
	switch t {
	case "warning":
		return "warn"
	case "error", "assert":
		return "error"
	case "info":
		return "info"
	}
	return "log"
}

func consoleMessage(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		raw := []byte(a.Value)
		if len(raw) == 0 {
			parts = append(parts, a.Description)
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, " ")
}

func appendBounded[T any](buf []T, v T, max int) []T {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const scriptPrelude = `
  const attrs = (el) => Object.fromEntries(Array.from(el.attributes).map((a) => [a.name, a.value]));
  const find = (sel) => {
    try { return document.querySelector(sel); } catch (e) { return null; }
  };
`

func queryScript(selector, action string) string {
	return `(() => {` + scriptPrelude + `
  const sel = ` + jsString(selector) + `;
  const action = ` + jsString(action) + `;
  if (action === "query") {
    let els;
    try { els = Array.from(document.querySelectorAll(sel)); }
    catch (e) { return { ok: false, error: "DOM query failed: " + e.message }; }
    return { ok: true, data: els.map((el, index) => {
      const r = el.getBoundingClientRect();
      const st = window.getComputedStyle(el);
      return {
        index,
        tagName: el.tagName.toLowerCase(),
        textContent: (el.textContent || "").trim(),
        attributes: attrs(el),
        boundingRect: { x: r.x, y: r.y, width: r.width, height: r.height },
        visible: r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none" && parseFloat(st.opacity) > 0,
      };
    }) };
  }
  const el = find(sel);
  if (!el) return { ok: false, error: "Element not found: " + sel };
  switch (action) {
    case "getText": return { ok: true, data: (el.textContent || "").trim() };
    case "getAttributes": return { ok: true, data: attrs(el) };
    case "getHTML": return { ok: true, data: { innerHTML: el.innerHTML, outerHTML: el.outerHTML } };
  }
  return { ok: false, error: "Unknown DOM action: " + action };
})()`
}

func clickScript(selector string) string {
	return `(() => {` + scriptPrelude + `
  const sel = ` + jsString(selector) + `;
  const el = find(sel);
  if (!el) return { ok: false, error: "Element not found: " + sel };
  el.scrollIntoView({ block: "center" });
  el.click();
  return { ok: true, data: { clicked: sel } };
})()`
}

func typeScript(selector, text string, reset bool) string {
	return fmt.Sprintf(`(() => {`+scriptPrelude+`
  const sel = %s;
  const el = find(sel);
  if (!el) return { ok: false, error: "Element not found: " + sel };
  el.focus();
  if (%t) el.value = "";
  el.value += %s;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return { ok: true, data: { value: el.value } };
})()`, jsString(selector), reset, jsString(text))
}

const pageInfoScript = `(() => ({ ok: true, data: {
  url: window.location.href,
  title: document.title,
  readyState: document.readyState,
  timestamp: Date.now(),
  viewport: { width: window.innerWidth, height: window.innerHeight },
  scroll: { x: window.scrollX, y: window.scrollY },
  forms: Array.from(document.querySelectorAll("form")).map((form, index) => ({
    index,
    action: form.action,
    method: form.method,
    fields: Array.from(form.elements).map((el) => ({ name: el.name, type: el.type, tagName: el.tagName.toLowerCase() })),
  })),
  links: Array.from(document.querySelectorAll("a[href]")).map((a, index) => ({
    index, href: a.href, text: (a.textContent || "").trim(), target: a.target,
  })),
  images: Array.from(document.querySelectorAll("img")).map((img, index) => ({
    index, src: img.src, alt: img.alt, width: img.width, height: img.height,
  })),
} }))()`
