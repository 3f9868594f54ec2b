package roomkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"

	"github.com/roomkit/roomkit-go/roomkit/internal"
)

// DialFunc opens a transport to the given address. Tests and proxies may
// substitute their own.
type DialFunc func(ctx context.Context, addr string) (internal.Transport, error)

// Client owns one websocket connection bound to a single room. It translates
// inbound frames into events, outbound calls into frames, and reconnects with
// exponential backoff while the first confirmed session for the current
// Connect call is still being established. Once a session has been confirmed
// and then drops, re-establishing is the owner's decision, not the client's.
type Client struct {
	cfg     Config
	logger  Logger
	clock   clock.Clock
	dial    DialFunc
	emitter Emitter

	mu        sync.Mutex
	conn      internal.Transport
	roomID    int64
	token     string
	confirmed bool
	attempts  int
	reconnect *clock.Timer
	// gen is bumped by every Connect and Disconnect; read loops and reconnect
	// timers from superseded sessions check it and fall silent.
	gen uint64
}

// NewClient constructs a client with the provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	c := &Client{
		cfg:    cfg,
		logger: noopLogger{},
		clock:  clock.New(),
	}
	c.dial = func(ctx context.Context, addr string) (internal.Transport, error) {
		conn, err := internal.Dial(ctx, addr, cfg.ReadTimeout, cfg.WriteTimeout)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return c
}

// SetLogger overrides the logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetClock overrides the timer source (optional, used by tests).
func (c *Client) SetClock(clk clock.Clock) {
	if clk == nil {
		return
	}
	c.clock = clk
}

// SetDialFunc overrides how the transport is opened (optional).
func (c *Client) SetDialFunc(dial DialFunc) {
	if dial == nil {
		return
	}
	c.dial = dial
}

// On registers a listener for events of type t.
func (c *Client) On(t EventType, fn func(Event)) *Subscription {
	return c.emitter.On(t, fn)
}

// Connect binds the client to roomID and opens the transport. It is
// idempotent while an open, handshake-confirmed connection to the same room
// exists; any other existing transport is closed first. On dial failure the
// error is returned and a reconnect attempt is scheduled per the backoff
// policy.
func (c *Client) Connect(ctx context.Context, roomID int64, token string) error {
	if c.cfg.WSBaseURL == "" {
		return NewError(ErrorInvalidConfig, "empty websocket base URL")
	}

	c.mu.Lock()
	if c.conn != nil && c.roomID == roomID && c.token == token && c.confirmed {
		c.mu.Unlock()
		return nil
	}
	hasConn := c.conn != nil
	c.mu.Unlock()
	if hasConn {
		c.Disconnect()
	}

	addr := fmt.Sprintf("%s/ws/chat/%d?token=%s",
		strings.TrimSuffix(c.cfg.WSBaseURL, "/"), roomID, url.QueryEscape(token))

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.roomID = roomID
	c.token = token
	c.confirmed = false
	c.mu.Unlock()

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := c.dial(dialCtx, addr)
	if err != nil {
		werr := WrapError(ErrorConnection, "dial failed", err)
		c.emitter.emit(Event{Type: EventError, Err: werr})

		c.mu.Lock()
		terminal := false
		if c.gen == gen {
			terminal = c.scheduleReconnectLocked(roomID, token)
		}
		c.mu.Unlock()
		if terminal {
			c.emitTerminal()
		}
		return werr
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return NewError(ErrorConnection, "connection superseded")
	}
	c.conn = conn
	c.attempts = 0
	c.confirmed = false
	c.mu.Unlock()

	c.logger.Debug("connection open", map[string]any{"room_id": roomID})
	c.emitter.emit(Event{Type: EventOpen})
	go c.readLoop(gen, conn, roomID, token)
	return nil
}

// SendMessage publishes a chat message to the connected room.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	return c.send(ctx, messagePayload{Type: frameMessage, Content: content})
}

// SendTyping reports the local user's typing state.
func (c *Client) SendTyping(ctx context.Context, isTyping bool) error {
	return c.send(ctx, typingPayload{Type: frameTyping, IsTyping: isTyping})
}

// EditMessage rewrites the content of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) error {
	return c.send(ctx, editPayload{Type: frameEdit, MessageID: messageID, Content: content})
}

// Disconnect closes the transport with a normal-closure code, unbinds the
// room, and synchronously cancels any pending reconnect attempt. Late frames
// and timer callbacks from the closed session are suppressed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.roomID = 0
	c.token = ""
	c.confirmed = false
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.emitter.emit(Event{Type: EventClose})
	}
}

// Connected reports whether the transport is open. The session may not be
// confirmed yet; see Confirmed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Confirmed reports whether the server acknowledged the session with its
// handshake frame.
func (c *Client) Confirmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// RoomID returns the room this client is bound to, or 0.
func (c *Client) RoomID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		err := NewError(ErrorNotConnected, "not connected to chat")
		c.emitter.emit(Event{Type: EventError, Err: err})
		return err
	}
	if err := conn.Write(ctx, v); err != nil {
		werr := WrapError(ErrorConnection, "write failed", err)
		c.emitter.emit(Event{Type: EventError, Err: werr})
		return werr
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn internal.Transport, roomID int64, token string) {
	for {
		data, err := conn.Read(context.Background())

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		if err != nil {
			status := websocket.CloseStatus(err)
			wasConfirmed := c.confirmed
			c.confirmed = false
			c.conn = nil
			unexpected := !wasConfirmed &&
				status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway
			terminal := false
			if unexpected {
				terminal = c.scheduleReconnectLocked(roomID, token)
			}
			c.mu.Unlock()

			c.logger.Debug("connection closed", map[string]any{
				"room_id": roomID, "status": int(status),
			})
			c.emitter.emit(Event{Type: EventClose})
			if terminal {
				c.emitTerminal()
			}
			return
		}
		c.mu.Unlock()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emitter.emit(Event{
				Type: EventError,
				Err:  WrapError(ErrorProtocol, "invalid frame", err),
			})
			continue
		}

		if f.Type == frameConnected {
			c.mu.Lock()
			if c.gen == gen {
				c.confirmed = true
				c.attempts = 0
			}
			c.mu.Unlock()
			c.emitter.emit(Event{Type: EventConnected, Frame: &f})
		}
		c.emitter.emit(Event{Type: EventMessage, Frame: &f})
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt. It
// returns true when the attempt budget is exhausted, in which case the caller
// emits the terminal error after releasing the lock. Caller must hold c.mu.
func (c *Client) scheduleReconnectLocked(roomID int64, token string) bool {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		return true
	}
	c.attempts++
	delay := c.cfg.ReconnectBaseDelay << (c.attempts - 1)
	gen := c.gen

	c.logger.Info("scheduling reconnect", map[string]any{
		"room_id": roomID, "attempt": c.attempts, "delay": delay.String(),
	})
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		_ = c.Connect(context.Background(), roomID, token)
	})
	return false
}

func (c *Client) emitTerminal() {
	c.logger.Warn("reconnect attempts exhausted", nil)
	c.emitter.emit(Event{
		Type: EventError,
		Err:  NewError(ErrorReconnectFailed, "failed to reconnect to chat"),
	})
}
