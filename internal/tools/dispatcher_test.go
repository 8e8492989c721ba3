package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browser-agent/internal/relay"
)

type fakeCaller struct {
	data    string
	err     error
	op      relay.Operation
	payload json.RawMessage
	calls   int
}

func (f *fakeCaller) Call(_ context.Context, op relay.Operation, payload any) (json.RawMessage, error) {
	f.calls++
	f.op = op
	f.payload, _ = json.Marshal(payload)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.data), nil
}

func connect(t *testing.T, caller Caller) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := NewServer("test", caller)
	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestListToolsMatchesCatalog(t *testing.T) {
	cs := connect(t, &fakeCaller{})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		ToolDOMQuery, ToolGetConsoleLogs, ToolGetNetworkRequests,
		ToolGetPageInfo, ToolClickElement, ToolTypeText,
	}, names)
}

func TestDOMQueryRoundTrip(t *testing.T) {
	caller := &fakeCaller{data: `[{"tagName":"BODY","id":"","className":""}]`}
	cs := connect(t, caller)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolDOMQuery,
		Arguments: map[string]any{"selector": "body"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	text := textOf(t, res)
	assert.True(t, strings.HasPrefix(text, "Found 1 elements matching \"body\":\n\n"), text)
	assert.Contains(t, text, `"tagName": "BODY"`)

	assert.Equal(t, relay.OpDOMQuery, caller.op)
	assert.JSONEq(t, `{"selector":"body","action":"query"}`, string(caller.payload))
}

func TestDisconnectedSurfacesAsToolError(t *testing.T) {
	cs := connect(t, &fakeCaller{err: relay.ErrPeerNotConnected})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolGetPageInfo,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Tool execution failed: Chrome extension not connected", textOf(t, res))
}

func TestPeerErrorTextVerbatim(t *testing.T) {
	d := NewDispatcher(&fakeCaller{err: &relay.PeerError{Message: "Element not found: #missing"}})
	_, err := d.Execute(context.Background(), ToolClickElement, json.RawMessage(`{"selector":"#missing"}`))
	require.Error(t, err)
	assert.Equal(t, "Element not found: #missing", err.Error())
}

func TestExecuteUnknownTool(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)
	_, err := d.Execute(context.Background(), "screenshot", nil)
	assert.True(t, errors.Is(err, relay.ErrUnknownOperation))
	assert.Zero(t, caller.calls)
}

func TestExecuteRequiresSelector(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)
	for _, name := range []string{ToolDOMQuery, ToolClickElement, ToolTypeText} {
		_, err := d.Execute(context.Background(), name, json.RawMessage(`{}`))
		assert.Error(t, err, name)
	}
	assert.Zero(t, caller.calls)
}

func TestExecuteRejectsArgumentsOutsideSchema(t *testing.T) {
	caller := &fakeCaller{data: `[]`}
	d := NewDispatcher(caller)

	cases := []struct {
		tool string
		args string
	}{
		{ToolDOMQuery, `{"selector":"body","action":"deleteAll"}`},
		{ToolGetConsoleLogs, `{"level":"verbose"}`},
		{ToolTypeText, `{"selector":"#a"}`},
		{ToolClickElement, `{"selector":"#a","tabId":"seven"}`},
		{ToolGetPageInfo, `[1,2]`},
	}
	for _, tc := range cases {
		_, err := d.Execute(context.Background(), tc.tool, json.RawMessage(tc.args))
		require.Error(t, err, tc.args)
		assert.Contains(t, err.Error(), "invalid input", tc.args)
	}
	assert.Zero(t, caller.calls)

	_, err := d.Execute(context.Background(), ToolDOMQuery, json.RawMessage(`{"selector":"body","action":"getHTML"}`))
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), ToolGetConsoleLogs, json.RawMessage(`{"level":"warn"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
}

func TestInvalidEnumSurfacesAsToolError(t *testing.T) {
	caller := &fakeCaller{data: `[]`}
	cs := connect(t, caller)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolDOMQuery,
		Arguments: map[string]any{"selector": "body", "action": "deleteAll"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "Tool execution failed: invalid input")
	assert.Zero(t, caller.calls)
}

func TestTypeTextDefaultsClear(t *testing.T) {
	caller := &fakeCaller{data: `{}`}
	d := NewDispatcher(caller)

	text, err := d.Execute(context.Background(), ToolTypeText, json.RawMessage(`{"selector":"#q","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, `Successfully typed "hello" into element: #q`, text)
	assert.JSONEq(t, `{"selector":"#q","text":"hello","clear":true}`, string(caller.payload))

	_, err = d.Execute(context.Background(), ToolTypeText, json.RawMessage(`{"selector":"#q","text":"x","clear":false}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"selector":"#q","text":"x","clear":false}`, string(caller.payload))
}

func TestClickFormat(t *testing.T) {
	d := NewDispatcher(&fakeCaller{data: `{"clicked":true}`})
	text, err := d.Execute(context.Background(), ToolClickElement, json.RawMessage(`{"selector":"button.go","tabId":7}`))
	require.NoError(t, err)
	assert.Equal(t, "Successfully clicked element: button.go", text)
}

func TestConsoleLevelFilter(t *testing.T) {
	logs := `[
		{"level":"log","message":"a","timestamp":1},
		{"level":"error","message":"b","timestamp":2},
		{"level":"error","message":"c","timestamp":3}
	]`
	caller := &fakeCaller{data: logs}
	d := NewDispatcher(caller)

	text, err := d.Execute(context.Background(), ToolGetConsoleLogs, json.RawMessage(`{"level":"error"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Console logs (2 entries):\n\n"), text)
	assert.NotContains(t, text, `"message": "a"`)

	text, err = d.Execute(context.Background(), ToolGetConsoleLogs, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Console logs (3 entries):"), text)
}

func TestNetworkURLFilter(t *testing.T) {
	caller := &fakeCaller{data: `[{"url":"https://api.example.com/v1","method":"GET"},{"url":"https://cdn.example.com/x.js","method":"GET"}]`}
	d := NewDispatcher(caller)

	text, err := d.Execute(context.Background(), ToolGetNetworkRequests, json.RawMessage(`{"filter":"api."}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Network requests (1 entries):\n\n"), text)
	assert.Contains(t, text, "api.example.com")
	assert.NotContains(t, text, "cdn.example.com")
}

func TestFilterByFieldKeepsKeyOrder(t *testing.T) {
	data := json.RawMessage(`[{"z":1,"level":"warn","a":2}]`)
	entries, err := FilterByField(data, "level", "warn", equals)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"z":1,"level":"warn","a":2}`, string(entries[0]))

	entries, err = FilterByField(json.RawMessage(`null`), "level", "warn", equals)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = FilterByField(json.RawMessage(`{"not":"a list"}`), "level", "", equals)
	assert.Error(t, err)
}

func TestPageInfoFormat(t *testing.T) {
	d := NewDispatcher(&fakeCaller{data: `{"title":"Example","url":"https://example.com"}`})
	text, err := d.Execute(context.Background(), ToolGetPageInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, "Page information:\n\n{\n  \"title\": \"Example\",\n  \"url\": \"https://example.com\"\n}", text)
}

func TestOperationForTool(t *testing.T) {
	for _, d := range Catalog() {
		op, err := OperationForTool(d.Name)
		require.NoError(t, err)
		assert.Equal(t, d.Op, op)
		assert.Equal(t, "object", d.Schema.Type)
	}
	_, err := OperationForTool("nope")
	assert.True(t, errors.Is(err, relay.ErrUnknownOperation))
}
