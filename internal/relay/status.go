package relay

import (
	"net/http"

	"github.com/neboloop/browser-agent/internal/httputil"
)

// Status is the body of GET /status.
type Status struct {
	Connected    bool   `json:"connected"`
	Port         int    `json:"port"`
	Pending      int    `json:"pending"`
	ConnectionID string `json:"connectionId"`
}

// Snapshot reads the current link and correlator state.
func Snapshot(link *Link, corr *Correlator) Status {
	s := Status{
		Connected:    link.IsConnected(),
		Port:         link.Port(),
		ConnectionID: link.ConnectionID(),
	}
	if corr != nil {
		s.Pending = corr.Pending()
	}
	return s
}

// StatusHandler serves the relay status as JSON.
func StatusHandler(link *Link, corr *Correlator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, Snapshot(link, corr))
	}
}
