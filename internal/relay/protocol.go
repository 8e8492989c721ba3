package relay

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// Sentinel frame types for the liveness handshake.
const (
	TypeConnectionTest         = "connection_test"
	TypeConnectionTestResponse = "connection_test_response"
)

// Notification kinds forwarded by the extension without an id.
const (
	NotifyConsoleLog     = "console/log"
	NotifyNetworkRequest = "network/request"
)

// defaultFailure is used when a peer reports success=false without a message.
const defaultFailure = "Extension request failed"

// Operation is the closed set of relay request types.
type Operation string

const (
	OpDOMQuery           Operation = "DOM_QUERY"
	OpGetConsoleLogs     Operation = "GET_CONSOLE_LOGS"
	OpGetNetworkRequests Operation = "GET_NETWORK_REQUESTS"
	OpGetPageInfo        Operation = "GET_PAGE_INFO"
	OpClick              Operation = "DOM_CLICK"
	OpType               Operation = "DOM_TYPE"
)

// Operations lists every operation in catalog order.
var Operations = []Operation{
	OpDOMQuery,
	OpGetConsoleLogs,
	OpGetNetworkRequests,
	OpGetPageInfo,
	OpClick,
	OpType,
}

// legacyMethods maps the older method/params names onto operations.
var legacyMethods = map[string]Operation{
	"dom/query":           OpDOMQuery,
	"console/getLogs":     OpGetConsoleLogs,
	"network/getRequests": OpGetNetworkRequests,
	"page/getInfo":        OpGetPageInfo,
	"dom/click":           OpClick,
	"dom/type":            OpType,
}

// ParseOperation resolves a wire type (or legacy method name) to an Operation.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == s {
			return op, nil
		}
	}
	if op, ok := legacyMethods[s]; ok {
		return op, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// IsNotification reports whether kind is a fire-and-forget event from the peer.
func IsNotification(kind string) bool {
	switch kind {
	case NotifyConsoleLog, NotifyNetworkRequest, "CONSOLE_LOG", "NETWORK_REQUEST":
		return true
	}
	return false
}

// Request is the outbound correlated envelope: {type, payload, id}.
type Request struct {
	Type    Operation       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id"`
}

// Response is the peer's reply to a Request.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notification is an uncorrelated event frame: {type, payload} with no id.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Greeting is sent by the connecting side right after the socket opens.
type Greeting struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// GreetingAck answers a Greeting.
type GreetingAck struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	OriginalMessage string `json:"originalMessage"`
	Timestamp       int64  `json:"timestamp"`
}

// ErrorText decodes either a plain string or a legacy {code, message} object.
type ErrorText string

func (e *ErrorText) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ErrorText(s)
		return nil
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Message == "" {
		*e = ErrorText(obj.Code)
	} else {
		*e = ErrorText(obj.Message)
	}
	return nil
}

// Envelope is any inbound frame. Both the canonical type/payload and the
// legacy method/params conventions decode into it.
type Envelope struct {
	Type            string          `json:"type,omitempty"`
	Method          string          `json:"method,omitempty"`
	ID              string          `json:"id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Success         *bool           `json:"success,omitempty"`
	Error           ErrorText       `json:"error,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Message         string          `json:"message,omitempty"`
	OriginalMessage string          `json:"originalMessage,omitempty"`
	Timestamp       json.RawMessage `json:"timestamp,omitempty"`

	// ConnID is the link connection the frame arrived on. Not part of the wire format.
	ConnID string `json:"-"`
}

// DecodeEnvelope parses one text frame. Anything that is not a JSON object
// carrying a type, method or id is rejected with ErrMalformedFrame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" && env.Method == "" && env.ID == "" {
		return nil, fmt.Errorf("%w: no type, method or id", ErrMalformedFrame)
	}
	return &env, nil
}

// Kind returns the frame's type, falling back to the legacy method field.
func (e *Envelope) Kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Method
}

// Body returns payload, falling back to legacy params.
func (e *Envelope) Body() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	return e.Params
}

// IsSentinel reports whether the frame belongs to the liveness handshake.
func (e *Envelope) IsSentinel() bool {
	k := e.Kind()
	return k == TypeConnectionTest || k == TypeConnectionTestResponse
}

// Succeeded reports the reply outcome. Legacy replies carry no success flag;
// they succeed when no error is present.
func (e *Envelope) Succeeded() bool {
	if e.Success != nil {
		return *e.Success
	}
	return e.Error == "" && len(e.Result) > 0
}

// Value returns the reply data, falling back to legacy result.
func (e *Envelope) Value() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Result
}

// FailureMessage returns the carried error text or the generic failure text.
func (e *Envelope) FailureMessage() string {
	if e.Error != "" {
		return string(e.Error)
	}
	return defaultFailure
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRequestID returns "<unix millis>-<9 random base36 chars>".
// Collisions are improbable, not impossible.
func NewRequestID() string {
	suffix := make([]byte, 9)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + string(suffix)
}
