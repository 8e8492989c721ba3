package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/peer"
)

// PeerCmd runs the Go peer: it drives Chrome over DevTools and connects to the
// relay the way the extension does. Useful without the extension installed.
func PeerCmd() *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Connect a Chrome-driving peer to the relay in place of the extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				c.Peer.Headless = headless
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			chrome, err := peer.NewChrome(peer.ChromeConfig{
				Headless:  c.Peer.Headless,
				RemoteURL: c.Peer.RemoteURL,
				StartURL:  c.Peer.StartURL,
			})
			if err != nil {
				return fmt.Errorf("failed to start Chrome: %w", err)
			}
			defer chrome.Close()

			d := peer.NewDialer(chrome,
				peer.WithHost(c.Peer.Host),
				peer.WithPortRange(c.Relay.StartPort, c.Relay.PortSpan),
				peer.WithRetryDelay(c.Peer.RetryDelay),
				peer.WithCooldown(c.Peer.Cooldown),
				peer.WithStateHook(func(s peer.Status) {
					logging.Info("peer", "status", s.String())
				}),
			)
			chrome.SetNotifier(d.Notify)

			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", true, "run Chrome without a window (overrides peer.headless)")
	return cmd
}
