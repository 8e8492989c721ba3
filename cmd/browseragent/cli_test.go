package cli

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browser-agent/internal/httputil"
	"github.com/neboloop/browser-agent/internal/relay"
)

func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// closedPort returns a port nothing is listening on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestProbeRelaySkipsDeadPorts(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		httputil.OkJSON(w, relay.Status{Connected: true, Port: 3002, Pending: 1, ConnectionID: "abc"})
	}))
	defer live.Close()

	ports := []int{closedPort(t), serverPort(t, notFound), serverPort(t, live)}
	st, err := probeRelay(context.Background(), "127.0.0.1", ports)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, 3002, st.Port)
	assert.Equal(t, "abc", st.ConnectionID)

	var out bytes.Buffer
	printStatus(&out, st)
	assert.Contains(t, out.String(), "listening on port 3002")
	assert.Contains(t, out.String(), "connected (abc)")
}

func TestProbeRelayNoneRunning(t *testing.T) {
	port := closedPort(t)
	_, err := probeRelay(context.Background(), "127.0.0.1", []int{port})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relay running")
}

func TestPrintSetup(t *testing.T) {
	var out bytes.Buffer
	printSetup(&out, "/usr/local/bin/browser-agent", "/tmp/data")
	s := out.String()
	assert.Contains(t, s, "chrome://extensions/")
	assert.Contains(t, s, `"command": "/usr/local/bin/browser-agent"`)
	assert.Contains(t, s, "Config: /tmp/data")
}

func TestSetupCommandExitsCleanly(t *testing.T) {
	t.Setenv("BROWSER_AGENT_DATA_DIR", t.TempDir())
	root := SetupRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"setup"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Load unpacked")
}

func TestHelp(t *testing.T) {
	root := SetupRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "setup")
	assert.Contains(t, out.String(), "status")
	assert.Contains(t, out.String(), "peer")
}
