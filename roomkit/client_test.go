package roomkit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomkit/roomkit-go/roomkit/internal"
)

type readResult struct {
	data []byte
	err  error
}

// fakeTransport implements internal.Transport for socket-free client tests.
type fakeTransport struct {
	mu     sync.Mutex
	recv   chan readResult
	writes []any
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan readResult, 16)}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case r := <-f.recv:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed transport")
	}
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeTransport) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.recv <- readResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}
	}
	return nil
}

func (f *fakeTransport) pushFrame(t *testing.T, fr Frame) {
	t.Helper()
	data, err := json.Marshal(fr)
	require.NoError(t, err)
	f.recv <- readResult{data: data}
}

func (f *fakeTransport) pushRaw(data []byte) {
	f.recv <- readResult{data: data}
}

func (f *fakeTransport) pushClose(code websocket.StatusCode) {
	f.recv <- readResult{err: websocket.CloseError{Code: code}}
}

func (f *fakeTransport) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.writes))
	copy(out, f.writes)
	return out
}

// eventRecorder collects emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) attach(c *Client) {
	for _, t := range []EventType{EventOpen, EventConnected, EventMessage, EventError, EventClose} {
		c.On(t, func(ev Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) lastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == EventError {
			return r.events[i].Err
		}
	}
	return nil
}

type dialRecorder struct {
	mu    sync.Mutex
	addrs []string
	conns []*fakeTransport
	fail  bool
}

func (d *dialRecorder) dial(_ context.Context, addr string) (internal.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	ft := newFakeTransport()
	d.conns = append(d.conns, ft)
	return ft, nil
}

func (d *dialRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addrs)
}

func (d *dialRecorder) conn(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestClient() (*Client, *dialRecorder, *clock.Mock, *eventRecorder) {
	cfg := DefaultConfig()
	cfg.WSBaseURL = "ws://chat.test"
	cfg.HandshakeTimeout = 0

	c := NewClient(cfg)
	mock := clock.NewMock()
	c.SetClock(mock)
	d := &dialRecorder{}
	c.SetDialFunc(d.dial)
	rec := &eventRecorder{}
	rec.attach(c)
	return c, d, mock, rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestClientConnectAndConfirm(t *testing.T) {
	c, d, _, rec := newTestClient()

	require.NoError(t, c.Connect(context.Background(), 7, "secret"))
	require.Equal(t, 1, d.count())
	assert.True(t, strings.HasSuffix(d.addrs[0], "/ws/chat/7?token=secret"))
	assert.Equal(t, 1, rec.count(EventOpen))
	assert.False(t, c.Confirmed())

	d.conn(0).pushFrame(t, Frame{Type: frameConnected})
	waitFor(t, c.Confirmed)
	waitFor(t, func() bool { return rec.count(EventConnected) == 1 })
	// the handshake frame is also delivered on the message stream
	waitFor(t, func() bool { return rec.count(EventMessage) == 1 })

	// idempotent while open, same room, confirmed
	require.NoError(t, c.Connect(context.Background(), 7, "secret"))
	assert.Equal(t, 1, d.count())
}

func TestClientSendNotConnected(t *testing.T) {
	c, _, _, rec := newTestClient()

	err := c.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, ErrorNotConnected, CodeOf(err))
	assert.Equal(t, ErrorNotConnected, CodeOf(rec.lastError()))

	err = c.EditMessage(context.Background(), 3, "fixed")
	assert.Equal(t, ErrorNotConnected, CodeOf(err))
	err = c.SendTyping(context.Background(), true)
	assert.Equal(t, ErrorNotConnected, CodeOf(err))
}

func TestClientSendFrames(t *testing.T) {
	c, d, _, _ := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))

	require.NoError(t, c.SendMessage(context.Background(), "hello"))
	require.NoError(t, c.SendTyping(context.Background(), true))
	require.NoError(t, c.EditMessage(context.Background(), 12, "hello!"))

	sent := d.conn(0).sent()
	require.Len(t, sent, 3)
	assert.Equal(t, messagePayload{Type: "message", Content: "hello"}, sent[0])
	assert.Equal(t, typingPayload{Type: "typing", IsTyping: true}, sent[1])
	assert.Equal(t, editPayload{Type: "edit", MessageID: 12, Content: "hello!"}, sent[2])
}

func TestClientMalformedFrameIsDiscarded(t *testing.T) {
	c, d, _, rec := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))

	d.conn(0).pushRaw([]byte("{not json"))
	waitFor(t, func() bool { return rec.count(EventError) == 1 })
	assert.Equal(t, ErrorProtocol, CodeOf(rec.lastError()))

	// the connection survives and later frames still arrive
	d.conn(0).pushFrame(t, Frame{Type: frameMessage, ID: 1, Content: "still here"})
	waitFor(t, func() bool { return rec.count(EventMessage) == 1 })
	assert.Equal(t, 0, rec.count(EventClose))
}

func TestClientReconnectBackoff(t *testing.T) {
	c, d, mock, rec := newTestClient()
	d.fail = true

	require.Error(t, c.Connect(context.Background(), 5, "tok"))
	require.Equal(t, 1, d.count())

	// attempts fire at 1s, 2s, 4s, 8s, 16s after each failure
	for i, delay := range []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	} {
		mock.Add(delay - time.Millisecond)
		assert.Equal(t, i+1, d.count(), "attempt fired early")
		mock.Add(time.Millisecond)
		assert.Equal(t, i+2, d.count())
	}

	assert.Equal(t, ErrorReconnectFailed, CodeOf(rec.lastError()))

	// budget exhausted: no sixth attempt
	mock.Add(10 * time.Minute)
	assert.Equal(t, 6, d.count())
}

func TestClientReconnectsOnUnexpectedCloseBeforeConfirm(t *testing.T) {
	c, d, mock, rec := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))

	d.conn(0).pushClose(websocket.StatusInternalError)
	waitFor(t, func() bool { return rec.count(EventClose) == 1 })

	mock.Add(time.Second)
	assert.Equal(t, 2, d.count())

	// a successful open resets the attempt counter
	d.conn(1).pushClose(websocket.StatusInternalError)
	waitFor(t, func() bool { return rec.count(EventClose) == 2 })
	mock.Add(time.Second)
	assert.Equal(t, 3, d.count())
}

func TestClientNoReconnectAfterConfirmedDrop(t *testing.T) {
	c, d, mock, rec := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))

	d.conn(0).pushFrame(t, Frame{Type: frameConnected})
	waitFor(t, c.Confirmed)

	// once confirmed, a drop is the owner's problem, not the client's
	d.conn(0).pushClose(websocket.StatusInternalError)
	waitFor(t, func() bool { return rec.count(EventClose) == 1 })
	mock.Add(10 * time.Minute)
	assert.Equal(t, 1, d.count())
	assert.False(t, c.Confirmed())
}

func TestClientNoReconnectOnNormalClosure(t *testing.T) {
	c, d, mock, rec := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))

	d.conn(0).pushClose(websocket.StatusGoingAway)
	waitFor(t, func() bool { return rec.count(EventClose) == 1 })
	mock.Add(10 * time.Minute)
	assert.Equal(t, 1, d.count())
}

func TestClientDisconnectSuppressesReconnect(t *testing.T) {
	c, d, mock, _ := newTestClient()
	d.fail = true
	require.Error(t, c.Connect(context.Background(), 5, "tok"))
	require.Equal(t, 1, d.count())

	// a reconnect attempt is pending; Disconnect must cancel it
	c.Disconnect()
	mock.Add(10 * time.Minute)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, int64(0), c.RoomID())
}

func TestClientDisconnectThenConnectDropsStaleSession(t *testing.T) {
	c, d, _, rec := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))
	old := d.conn(0)
	old.pushFrame(t, Frame{Type: frameConnected})
	waitFor(t, c.Confirmed)

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background(), 6, "tok"))
	require.Equal(t, 2, d.count())
	assert.True(t, strings.HasSuffix(d.addrs[1], "/ws/chat/6?token=tok"))

	d.conn(1).pushFrame(t, Frame{Type: frameConnected})
	waitFor(t, c.Confirmed)

	// frames queued on the stale transport never surface
	before := rec.count(EventMessage)
	old.pushRaw([]byte(`{"type":"message","id":99,"content":"stale"}`))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, rec.count(EventMessage))
}

func TestClientConnectReplacesUnconfirmedConnection(t *testing.T) {
	c, d, _, _ := newTestClient()
	require.NoError(t, c.Connect(context.Background(), 5, "tok"))
	require.NoError(t, c.Connect(context.Background(), 6, "tok"))

	require.Equal(t, 2, d.count())
	assert.Equal(t, int64(6), c.RoomID())

	d.conn(0).mu.Lock()
	closed := d.conn(0).closed
	d.conn(0).mu.Unlock()
	assert.True(t, closed, "superseded transport should be closed")
}

func TestClientEmptyBaseURL(t *testing.T) {
	c := NewClient(Config{})
	err := c.Connect(context.Background(), 5, "tok")
	assert.Equal(t, ErrorInvalidConfig, CodeOf(err))
}
