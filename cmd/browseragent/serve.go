package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/browser-agent/internal/config"
	"github.com/neboloop/browser-agent/internal/events"
	"github.com/neboloop/browser-agent/internal/httputil"
	"github.com/neboloop/browser-agent/internal/journal"
	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/relay"
	"github.com/neboloop/browser-agent/internal/tools"
)

// runServe starts the relay listener and serves MCP on stdio until the client
// hangs up or the process is signalled.
func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, c, err := loadConfig()
	if err != nil {
		return err
	}
	if err := loader.Watch(ctx, func(nc config.Config) {
		applyLogLevel(nc)
		logging.Info("config reloaded", "level", logging.Level().String())
	}); err != nil {
		logging.Warn("config watch disabled", "error", err)
	}

	bus := events.NewSubject(events.WithSyncDelivery(), events.WithLogger(logging.For("events")))
	defer events.Complete(bus)

	link := relay.NewLink(bus,
		relay.WithHost(c.Relay.Host),
		relay.WithPortRange(c.Relay.StartPort, c.Relay.PortSpan),
		relay.WithPingInterval(c.Relay.PingInterval),
	)
	corr := relay.NewCorrelator(link, bus)
	defer corr.Close()

	store, pruner := openJournal(ctx, c)
	if store != nil {
		defer store.Close()
	}
	if pruner != nil {
		pruner.Start()
		defer pruner.Stop()
	}
	rec := journal.NewRecorder(store, bus)
	defer rec.Close()

	router := link.Router()
	router.Get("/status", relay.StatusHandler(link, corr))
	if store != nil {
		router.Mount("/events", journal.Routes(store))
	} else {
		router.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			httputil.NotFound(w, "journal disabled")
		})
	}

	// Without a port the MCP tools still answer, reporting the extension as not connected.
	if err := link.Start(); err != nil {
		logging.Error("relay unavailable", "error", err)
	}
	defer link.Stop()

	server := tools.NewServer(Version, corr)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("shutting down")
	return nil
}

// openJournal returns a nil store when the journal is disabled or cannot be
// opened, and a nil pruner when the schedule is invalid.
func openJournal(ctx context.Context, c config.Config) (*journal.Store, *journal.Pruner) {
	if !c.Journal.Enabled {
		return nil, nil
	}
	path, err := c.JournalPath()
	if err != nil {
		logging.Warn("journal disabled", "error", err)
		return nil, nil
	}
	store, err := journal.Open(ctx, path)
	if err != nil {
		logging.Warn("journal disabled", "error", err)
		return nil, nil
	}

	pruner, err := journal.NewPruner(store, c.Journal.Retention, c.Journal.PruneSchedule)
	if err != nil {
		logging.Warn("journal pruning disabled", "error", err)
		return store, nil
	}
	if _, err := pruner.RunOnce(ctx); err != nil {
		logging.Warn("initial prune failed", "error", err)
	}
	return store, pruner
}
