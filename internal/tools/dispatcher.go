package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/neboloop/browser-agent/internal/logging"
	"github.com/neboloop/browser-agent/internal/relay"
)

// ServerName is advertised to MCP clients.
const ServerName = "browser-agent-mcp"

// Caller sends one correlated request to the peer. *relay.Correlator satisfies it.
type Caller interface {
	Call(ctx context.Context, op relay.Operation, payload any) (json.RawMessage, error)
}

// Dispatcher turns MCP tool calls into relay requests and formats the replies.
type Dispatcher struct {
	caller Caller
	log    *slog.Logger
}

// NewDispatcher creates a dispatcher backed by caller.
func NewDispatcher(caller Caller) *Dispatcher {
	return &Dispatcher{caller: caller, log: logging.For("tools")}
}

// NewServer creates an MCP server with the full browser tool catalog registered.
func NewServer(version string, caller Caller) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)
	NewDispatcher(caller).Register(server)
	return server
}

// Register adds every catalog tool to server.
func (d *Dispatcher) Register(server *mcp.Server) {
	for _, desc := range catalog {
		server.AddTool(&mcp.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.Schema,
		}, d.toolHandler(desc.Name))
	}
}

func (d *Dispatcher) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (retResult *mcp.CallToolResult, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("tool panicked", "tool", name, "panic", r)
				retResult = errorResult(fmt.Errorf("tool panicked: %v", r))
				retErr = nil
			}
		}()

		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		text, err := d.Execute(ctx, name, args)
		if err != nil {
			d.log.Debug("tool failed", "tool", name, "error", err)
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Tool execution failed: " + err.Error()}},
		IsError: true,
	}
}

// Execute runs tool name with raw JSON arguments and returns the formatted text.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	op, err := OperationForTool(name)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}
	if err := validateArgs(catalogByID[name], args); err != nil {
		return "", err
	}

	switch name {
	case ToolDOMQuery:
		var in DOMQueryInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if in.Selector == "" {
			return "", errors.New("selector is required")
		}
		if in.Action == "" {
			in.Action = "query"
		}
		data, err := d.caller.Call(ctx, op, in)
		if err != nil {
			return "", err
		}
		return FormatDOMQuery(in.Selector, data)

	case ToolGetConsoleLogs:
		var in ConsoleLogsInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		data, err := d.caller.Call(ctx, op, in)
		if err != nil {
			return "", err
		}
		entries, err := FilterByField(data, "level", in.Level, equals)
		if err != nil {
			return "", err
		}
		return formatList("Console logs", entries)

	case ToolGetNetworkRequests:
		var in NetworkRequestsInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		data, err := d.caller.Call(ctx, op, in)
		if err != nil {
			return "", err
		}
		entries, err := FilterByField(data, "url", in.Filter, strings.Contains)
		if err != nil {
			return "", err
		}
		return formatList("Network requests", entries)

	case ToolGetPageInfo:
		var in PageInfoInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		data, err := d.caller.Call(ctx, op, in)
		if err != nil {
			return "", err
		}
		body, err := indent(data)
		if err != nil {
			return "", err
		}
		return "Page information:\n\n" + body, nil

	case ToolClickElement:
		var in ClickInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if in.Selector == "" {
			return "", errors.New("selector is required")
		}
		if _, err := d.caller.Call(ctx, op, in); err != nil {
			return "", err
		}
		return "Successfully clicked element: " + in.Selector, nil

	case ToolTypeText:
		var in TypeTextInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		if in.Selector == "" {
			return "", errors.New("selector is required")
		}
		if in.Clear == nil {
			yes := true
			in.Clear = &yes
		}
		if _, err := d.caller.Call(ctx, op, in); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully typed \"%s\" into element: %s", in.Text, in.Selector), nil
	}

	return "", fmt.Errorf("%w: %q", relay.ErrUnknownOperation, name)
}

func validateArgs(desc Descriptor, args json.RawMessage) error {
	var instance map[string]any
	if err := json.Unmarshal(args, &instance); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := desc.Validate(instance); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func equals(a, b string) bool { return a == b }

// FormatDOMQuery renders a dom_query reply. Non-array replies count as zero elements.
func FormatDOMQuery(selector string, data json.RawMessage) (string, error) {
	count := 0
	var items []json.RawMessage
	if json.Unmarshal(data, &items) == nil {
		count = len(items)
	}
	body, err := indent(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Found %d elements matching \"%s\":\n\n%s", count, selector, body), nil
}

// FilterByField keeps the array entries whose string field satisfies match(field, want).
// An empty want keeps everything. Entries are returned untouched.
func FilterByField(data json.RawMessage, field, want string, match func(got, want string) bool) ([]json.RawMessage, error) {
	entries := make([]json.RawMessage, 0)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return entries, nil
	}
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("expected a list from the extension: %w", err)
	}
	if want == "" {
		return entries, nil
	}

	kept := entries[:0]
	for _, e := range entries {
		var obj map[string]json.RawMessage
		if json.Unmarshal(e, &obj) != nil {
			continue
		}
		var got string
		if json.Unmarshal(obj[field], &got) != nil {
			continue
		}
		if match(got, want) {
			kept = append(kept, e)
		}
	}
	return kept, nil
}

func formatList(title string, entries []json.RawMessage) (string, error) {
	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%d entries):\n\n%s", title, len(entries), body), nil
}

func indent(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return "", fmt.Errorf("malformed reply data: %w", err)
	}
	return buf.String(), nil
}
