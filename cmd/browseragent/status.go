package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/browser-agent/internal/relay"
)

// StatusCmd reports whether a relay is running and whether the extension is attached.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Find a running relay and print its connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := probeRelay(cmd.Context(), c.Relay.Host, c.Ports())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// probeRelay asks each port in order for /status and returns the first answer.
func probeRelay(ctx context.Context, host string, ports []int) (relay.Status, error) {
	client := &http.Client{Timeout: time.Second}
	for _, port := range ports {
		url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/status"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return relay.Status{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		var st relay.Status
		err = json.NewDecoder(resp.Body).Decode(&st)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || err != nil {
			continue
		}
		return st, nil
	}
	if len(ports) == 0 {
		return relay.Status{}, fmt.Errorf("no relay ports configured")
	}
	return relay.Status{}, fmt.Errorf("no relay running on %s ports %d-%d", host, ports[0], ports[len(ports)-1])
}

func printStatus(w io.Writer, st relay.Status) {
	fmt.Fprintf(w, "Relay:     listening on port %d\n", st.Port)
	if st.Connected {
		fmt.Fprintf(w, "Extension: connected (%s)\n", st.ConnectionID)
	} else {
		fmt.Fprintln(w, "Extension: not connected")
	}
	fmt.Fprintf(w, "Pending:   %d\n", st.Pending)
}
