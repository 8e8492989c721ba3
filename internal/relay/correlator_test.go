package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/browser-agent/internal/events"
)

type fakeSender struct {
	connected bool
	sent      chan Request
}

func newFakeSender(connected bool) *fakeSender {
	return &fakeSender{connected: connected, sent: make(chan Request, 8)}
}

func (f *fakeSender) IsConnected() bool { return f.connected }

func (f *fakeSender) Send(v any) error {
	f.sent <- v.(Request)
	return nil
}

func newBus(t *testing.T) *events.Subject {
	t.Helper()
	bus := events.NewSubject(events.WithSyncDelivery())
	t.Cleanup(func() { events.Complete(bus) })
	return bus
}

func reply(t *testing.T, bus *events.Subject, raw string) {
	t.Helper()
	env, err := DecodeEnvelope([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, events.Emit(bus, events.TopicInbound, env))
}

func nextRequest(t *testing.T, f *fakeSender) Request {
	t.Helper()
	select {
	case r := <-f.sent:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return Request{}
	}
}

type callResult struct {
	data json.RawMessage
	err  error
}

func goCall(c *Correlator, ctx context.Context, op Operation, payload any) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		data, err := c.Call(ctx, op, payload)
		ch <- callResult{data, err}
	}()
	return ch
}

func TestDefaultTimeoutIsTenSeconds(t *testing.T) {
	assert.Equal(t, 10*time.Second, DefaultTimeout)
	c := NewCorrelator(newFakeSender(true), newBus(t))
	defer c.Close()
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestCallFailsFastWhenDisconnected(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(false)
	c := NewCorrelator(f, bus)

	_, err := c.Call(context.Background(), OpGetPageInfo, nil)
	assert.True(t, errors.Is(err, ErrPeerNotConnected))
	assert.Empty(t, f.sent)
	assert.Equal(t, 0, c.Pending())
}

func TestRepliesMatchedOutOfOrder(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus)
	ctx := context.Background()

	first := goCall(c, ctx, OpDOMQuery, map[string]string{"selector": "a"})
	r1 := nextRequest(t, f)
	second := goCall(c, ctx, OpDOMQuery, map[string]string{"selector": "b"})
	r2 := nextRequest(t, f)
	require.NotEqual(t, r1.ID, r2.ID)
	assert.JSONEq(t, `{"selector":"a"}`, string(r1.Payload))

	reply(t, bus, `{"id":"`+r2.ID+`","success":true,"data":"second"}`)
	reply(t, bus, `{"id":"`+r1.ID+`","success":true,"data":"first"}`)

	got1 := <-first
	got2 := <-second
	require.NoError(t, got1.err)
	require.NoError(t, got2.err)
	assert.JSONEq(t, `"first"`, string(got1.data))
	assert.JSONEq(t, `"second"`, string(got2.data))
	assert.Equal(t, 0, c.Pending())
}

func TestPeerFailureBecomesPeerError(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus)

	res := goCall(c, context.Background(), OpClick, map[string]string{"selector": "#x"})
	req := nextRequest(t, f)
	reply(t, bus, `{"id":"`+req.ID+`","success":false,"error":"Element not found: #x"}`)

	got := <-res
	var pe *PeerError
	require.True(t, errors.As(got.err, &pe))
	assert.Equal(t, "Element not found: #x", pe.Message)
}

func TestTimeoutRemovesEntryAndIgnoresLateReply(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus, WithTimeout(50*time.Millisecond))

	res := goCall(c, context.Background(), OpGetPageInfo, nil)
	req := nextRequest(t, f)

	got := <-res
	assert.True(t, errors.Is(got.err, ErrRequestTimeout))
	assert.Equal(t, 0, c.Pending())

	before := bus.Delivered()
	reply(t, bus, `{"id":"`+req.ID+`","success":true,"data":{}}`)
	require.Eventually(t, func() bool { return bus.Delivered() > before }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestCallerCancelLeavesEntryPending(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus)

	ctx, cancel := context.WithCancel(context.Background())
	res := goCall(c, ctx, OpGetConsoleLogs, nil)
	req := nextRequest(t, f)
	cancel()

	got := <-res
	assert.True(t, errors.Is(got.err, context.Canceled))
	assert.Equal(t, 1, c.Pending())

	reply(t, bus, `{"id":"`+req.ID+`","success":true,"data":[]}`)
	require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSentinelsAndUnknownIDsIgnored(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus)

	res := goCall(c, context.Background(), OpGetPageInfo, nil)
	req := nextRequest(t, f)

	reply(t, bus, `{"type":"connection_test","id":"`+req.ID+`","message":"hi"}`)
	reply(t, bus, `{"id":"nobody","success":true,"data":1}`)
	reply(t, bus, `{"method":"console/log","params":{"level":"log"}}`)
	reply(t, bus, `{"id":"`+req.ID+`","result":{"title":"T"}}`)

	got := <-res
	require.NoError(t, got.err)
	assert.JSONEq(t, `{"title":"T"}`, string(got.data))
}

func TestCloseRejectsPending(t *testing.T) {
	bus := newBus(t)
	f := newFakeSender(true)
	c := NewCorrelator(f, bus)

	res := goCall(c, context.Background(), OpGetPageInfo, nil)
	nextRequest(t, f)
	c.Close()

	got := <-res
	assert.Error(t, got.err)
	_, err := c.Call(context.Background(), OpGetPageInfo, nil)
	assert.Error(t, err)
}
