package relay

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestIDFormat(t *testing.T) {
	re := regexp.MustCompile(`^\d{13}-[0-9a-z]{9}$`)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewRequestID()
		require.Regexp(t, re, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations {
		got, err := ParseOperation(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	got, err := ParseOperation("dom/click")
	require.NoError(t, err)
	assert.Equal(t, OpClick, got)

	_, err = ParseOperation("SCREENSHOT")
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		kind    string
		ok      bool
		message string
	}{
		{name: "canonical success", in: `{"id":"1","success":true,"data":{"a":1}}`, ok: true},
		{name: "canonical failure no text", in: `{"id":"1","success":false}`, message: "Extension request failed"},
		{name: "canonical failure", in: `{"id":"1","success":false,"error":"Element not found: #x"}`, message: "Element not found: #x"},
		{name: "legacy result", in: `{"id":"1","result":[1,2]}`, ok: true},
		{name: "legacy error object", in: `{"id":"1","error":{"code":"E","message":"boom"}}`, message: "boom"},
		{name: "notification", in: `{"method":"console/log","params":{"level":"log"}}`, kind: "console/log", message: "Extension request failed"},
		{name: "greeting", in: `{"type":"connection_test","message":"hi","timestamp":1}`, kind: TypeConnectionTest, message: "Extension request failed"},
		{name: "not json", in: `{nope`, wantErr: true},
		{name: "array", in: `[1]`, wantErr: true},
		{name: "empty object", in: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedFrame))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind())
			assert.Equal(t, tt.ok, env.Succeeded())
			if !tt.ok {
				assert.Equal(t, tt.message, env.FailureMessage())
			}
		})
	}
}

func TestEnvelopeLegacyAliases(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"method":"network/request","params":{"url":"https://x"}}`))
	require.NoError(t, err)
	assert.True(t, IsNotification(env.Kind()))
	assert.JSONEq(t, `{"url":"https://x"}`, string(env.Body()))

	env, err = DecodeEnvelope([]byte(`{"id":"2","result":{"v":1}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(env.Value()))
}

func TestRequestWireShape(t *testing.T) {
	b, err := json.Marshal(Request{Type: OpDOMQuery, Payload: json.RawMessage(`{"selector":"body"}`), ID: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"DOM_QUERY","payload":{"selector":"body"},"id":"abc"}`, string(b))
}

func TestNotificationWireShape(t *testing.T) {
	b, err := json.Marshal(Notification{Type: NotifyConsoleLog, Payload: map[string]any{"tabId": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"console/log","payload":{"tabId":1}}`, string(b))

	env, err := DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Empty(t, env.ID)
	assert.True(t, IsNotification(env.Kind()))
}
