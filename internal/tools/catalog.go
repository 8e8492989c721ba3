package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/neboloop/browser-agent/internal/relay"
)

const tabIDDoc = "Tab ID (optional, uses active tab if not specified)"

// DOMQueryInput defines input for the dom_query tool.
type DOMQueryInput struct {
	Selector string `json:"selector" jsonschema:"CSS selector to query elements"`
	Action   string `json:"action,omitempty" jsonschema:"Action to perform on the elements"`
	TabID    int    `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
}

// ConsoleLogsInput defines input for the get_console_logs tool.
type ConsoleLogsInput struct {
	TabID int    `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
	Level string `json:"level,omitempty" jsonschema:"Filter by log level (optional)"`
}

// NetworkRequestsInput defines input for the get_network_requests tool.
type NetworkRequestsInput struct {
	TabID  int    `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
	Filter string `json:"filter,omitempty" jsonschema:"Filter requests by URL pattern (optional)"`
}

// PageInfoInput defines input for the get_page_info tool.
type PageInfoInput struct {
	TabID int `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
}

// ClickInput defines input for the click_element tool.
type ClickInput struct {
	Selector string `json:"selector" jsonschema:"CSS selector of the element to click"`
	TabID    int    `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
}

// TypeTextInput defines input for the type_text tool.
// Clear is a pointer so an omitted value can default to true.
type TypeTextInput struct {
	Selector string `json:"selector" jsonschema:"CSS selector of the input element"`
	Text     string `json:"text" jsonschema:"Text to type"`
	Clear    *bool  `json:"clear,omitempty" jsonschema:"Whether to clear existing text first"`
	TabID    int    `json:"tabId,omitempty" jsonschema:"Tab ID (optional, uses active tab if not specified)"`
}

// Tool names exposed over MCP.
const (
	ToolDOMQuery           = "dom_query"
	ToolGetConsoleLogs     = "get_console_logs"
	ToolGetNetworkRequests = "get_network_requests"
	ToolGetPageInfo        = "get_page_info"
	ToolClickElement       = "click_element"
	ToolTypeText           = "type_text"
)

// Descriptor is one immutable catalog entry.
type Descriptor struct {
	Name        string
	Op          relay.Operation
	Description string
	Schema      *jsonschema.Schema

	resolved *jsonschema.Resolved
}

var (
	domActions  = []any{"query", "getText", "getAttributes", "getHTML"}
	logLevels   = []any{"log", "error", "warn", "info"}
	catalog     []Descriptor
	catalogByID map[string]Descriptor
)

func init() {
	catalog = []Descriptor{
		{
			Name:        ToolDOMQuery,
			Op:          relay.OpDOMQuery,
			Description: "Query DOM elements on the current page",
			Schema: mustSchema[DOMQueryInput](func(s *jsonschema.Schema) {
				s.Properties["action"].Enum = domActions
				s.Properties["action"].Default = json.RawMessage(`"query"`)
			}),
		},
		{
			Name:        ToolGetConsoleLogs,
			Op:          relay.OpGetConsoleLogs,
			Description: "Get console logs from the current page",
			Schema: mustSchema[ConsoleLogsInput](func(s *jsonschema.Schema) {
				s.Properties["level"].Enum = logLevels
			}),
		},
		{
			Name:        ToolGetNetworkRequests,
			Op:          relay.OpGetNetworkRequests,
			Description: "Get network requests from the current page",
			Schema:      mustSchema[NetworkRequestsInput](nil),
		},
		{
			Name:        ToolGetPageInfo,
			Op:          relay.OpGetPageInfo,
			Description: "Get general information about the current page",
			Schema:      mustSchema[PageInfoInput](nil),
		},
		{
			Name:        ToolClickElement,
			Op:          relay.OpClick,
			Description: "Click on an element",
			Schema:      mustSchema[ClickInput](nil),
		},
		{
			Name:        ToolTypeText,
			Op:          relay.OpType,
			Description: "Type text into an input element",
			Schema: mustSchema[TypeTextInput](func(s *jsonschema.Schema) {
				s.Properties["clear"].Default = json.RawMessage(`true`)
			}),
		},
	}

	catalogByID = make(map[string]Descriptor, len(catalog))
	for i := range catalog {
		rs, err := catalog[i].Schema.Resolve(nil)
		if err != nil {
			panic(fmt.Sprintf("resolve schema for %s: %v", catalog[i].Name, err))
		}
		catalog[i].resolved = rs
		catalogByID[catalog[i].Name] = catalog[i]
	}
}

func mustSchema[T any](patch func(*jsonschema.Schema)) *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("schema for %T: %v", *new(T), err))
	}
	if tab, ok := s.Properties["tabId"]; ok {
		tab.Description = tabIDDoc
	}
	if patch != nil {
		patch(s)
	}
	return s
}

// Catalog returns the tool descriptors in listing order.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Validate checks decoded tool arguments against the tool's input schema.
func (d Descriptor) Validate(args map[string]any) error {
	if d.resolved == nil {
		return nil
	}
	return d.resolved.Validate(args)
}

// OperationForTool maps an MCP tool name to its relay operation.
func OperationForTool(name string) (relay.Operation, error) {
	d, ok := catalogByID[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", relay.ErrUnknownOperation, name)
	}
	return d.Op, nil
}
