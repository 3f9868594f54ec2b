package roomkit

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
)

// SnapshotSource provides the REST-backed initial data for a room. A failed
// load is retryable, never fatal to the coordinator.
type SnapshotSource interface {
	Messages(ctx context.Context, roomID int64) ([]ChatMessage, error)
	Presence(ctx context.Context, roomID int64) ([]PresenceUser, error)
}

// connection is the surface the coordinator needs from a Client.
type connection interface {
	Connect(ctx context.Context, roomID int64, token string) error
	Disconnect()
	On(t EventType, fn func(Event)) *Subscription
	SendMessage(ctx context.Context, content string) error
	SendTyping(ctx context.Context, isTyping bool) error
	EditMessage(ctx context.Context, messageID int64, content string) error
}

type typingEntry struct {
	username string
	timer    *clock.Timer
}

// Coordinator owns the single authoritative connection for whatever room is
// currently active. It absorbs rapid and duplicate room-selection calls,
// promotes state to connected only after the server's handshake frame, and
// materializes chat state (messages, typing indicators, presence) from the
// connection's events.
type Coordinator struct {
	cfg     Config
	logger  Logger
	clock   clock.Clock
	source  SnapshotSource
	newConn func() connection

	mu    sync.Mutex
	state ConnectionState
	conn  connection
	subs  []*Subscription

	roomID     int64
	token      string
	connecting bool // attempt in flight, handshake pending
	confirmed  bool

	graceTimer *clock.Timer
	graceRoom  int64

	messages []ChatMessage
	index    map[int64]int // message id -> messages slice index
	typing   map[int64]typingEntry
	presence []PresenceUser
	lastErr  error
	loadGen  uint64 // invalidates in-flight snapshot loads

	changes chan struct{}
}

// NewCoordinator constructs an idle coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		logger:  noopLogger{},
		clock:   clock.New(),
		state:   StateIdle,
		index:   make(map[int64]int),
		typing:  make(map[int64]typingEntry),
		changes: make(chan struct{}, 1),
	}
	c.newConn = func() connection {
		cl := NewClient(cfg)
		cl.SetLogger(c.logger)
		cl.SetClock(c.clock)
		return cl
	}
	return c
}

// SetLogger overrides the logger (optional).
func (c *Coordinator) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// SetClock overrides the timer source (optional, used by tests).
func (c *Coordinator) SetClock(clk clock.Clock) {
	if clk == nil {
		return
	}
	c.clock = clk
}

// SetSnapshotSource wires the REST facade used to seed message history and
// presence when a room becomes active.
func (c *Coordinator) SetSnapshotSource(s SnapshotSource) {
	c.source = s
}

// Observe makes (roomID, token) the active target. A zero room or empty token
// clears the target and tears down any connection immediately. A matching
// Observe cancels a pending grace-window teardown for the same room. While an
// attempt for the exact same room and token is in flight, duplicate calls are
// refused. A target change tears down the old connection unconditionally
// before connecting.
func (c *Coordinator) Observe(ctx context.Context, roomID int64, token string) {
	c.mu.Lock()
	if c.graceTimer != nil && c.graceRoom == roomID {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}

	if roomID == 0 || token == "" {
		c.teardownLocked()
		c.mu.Unlock()
		return
	}

	if c.conn != nil && c.roomID == roomID && c.token == token && c.confirmed {
		c.mu.Unlock()
		return
	}
	if c.connecting && c.roomID == roomID && c.token == token {
		c.mu.Unlock()
		return
	}

	c.teardownLocked()
	c.roomID = roomID
	c.token = token
	c.connecting = true
	c.confirmed = false
	c.state = StateConnecting
	conn := c.newConn()
	c.conn = conn
	c.wireLocked(conn, roomID)
	gen := c.loadGen
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("observing room", map[string]any{"room_id": roomID})
	if c.source != nil {
		go c.loadSnapshot(ctx, roomID, gen)
	}
	_ = conn.Connect(ctx, roomID, token)
}

// Release stops observing roomID. If roomID is the active target the teardown
// is deferred by the grace window and cancelled by a matching Observe,
// absorbing re-entrant stop/start churn from the hosting UI layer. Releasing
// a room that is not the active target is a no-op.
func (c *Coordinator) Release(roomID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.roomID != roomID {
		return
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.graceRoom = roomID

	var t *clock.Timer
	t = c.clock.AfterFunc(c.cfg.TeardownGrace, func() {
		c.mu.Lock()
		if c.graceTimer == t && c.roomID == roomID {
			c.graceTimer = nil
			c.logger.Info("grace window elapsed, tearing down", map[string]any{"room_id": roomID})
			c.teardownLocked()
		}
		c.mu.Unlock()
	})
	c.graceTimer = t
}

// Clear drops the active target and tears down any connection immediately.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

// SendMessage publishes a chat message through the active connection.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	conn := c.active()
	if conn == nil {
		return NewError(ErrorNotConnected, "no active room connection")
	}
	return conn.SendMessage(ctx, content)
}

// SendTyping reports the local user's typing state through the active
// connection.
func (c *Coordinator) SendTyping(ctx context.Context, isTyping bool) error {
	conn := c.active()
	if conn == nil {
		return NewError(ErrorNotConnected, "no active room connection")
	}
	return conn.SendTyping(ctx, isTyping)
}

// EditMessage rewrites a previously sent message through the active
// connection.
func (c *Coordinator) EditMessage(ctx context.Context, messageID int64, content string) error {
	conn := c.active()
	if conn == nil {
		return NewError(ErrorNotConnected, "no active room connection")
	}
	return conn.EditMessage(ctx, messageID, content)
}

// Messages returns a copy of the ordered message sequence.
func (c *Coordinator) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// TypingUsers returns the users currently typing, ordered by user id.
func (c *Coordinator) TypingUsers() []PresenceUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PresenceUser, 0, len(c.typing))
	for id, e := range c.typing {
		out = append(out, PresenceUser{UserID: id, Username: e.username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Presence returns the last loaded presence snapshot for the active room.
func (c *Coordinator) Presence() []PresenceUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PresenceUser, len(c.presence))
	copy(out, c.presence)
	return out
}

// Connected reports whether the active connection is handshake-confirmed.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// State returns the coordinator's connection state.
func (c *Coordinator) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the active target room id, or 0.
func (c *Coordinator) Room() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Err returns the most recent terminal or snapshot-load error. It clears on
// the next Observe.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Changes returns a coalescing notification channel that receives after any
// observable state change.
func (c *Coordinator) Changes() <-chan struct{} {
	return c.changes
}

func (c *Coordinator) active() connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// wireLocked subscribes the coordinator to the connection's events. The
// roomID is captured so handlers of a superseded connection fall silent after
// a room switch. Caller must hold c.mu.
func (c *Coordinator) wireLocked(conn connection, roomID int64) {
	c.subs = append(c.subs,
		conn.On(EventConnected, func(Event) { c.onConnected(roomID) }),
		conn.On(EventMessage, func(ev Event) { c.onFrame(roomID, ev.Frame) }),
		conn.On(EventError, func(ev Event) { c.onError(roomID, ev.Err) }),
		conn.On(EventClose, func(Event) { c.onClose(roomID) }),
	)
}

// teardownLocked cancels subscriptions, disconnects the connection, and
// resets all derived state. Caller must hold c.mu.
func (c *Coordinator) teardownLocked() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	for _, s := range c.subs {
		s.Cancel()
	}
	c.subs = nil
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		conn.Disconnect()
	}
	c.clearTypingLocked()
	c.connecting = false
	c.confirmed = false
	c.roomID = 0
	c.token = ""
	c.state = StateIdle
	c.messages = nil
	c.index = make(map[int64]int)
	c.presence = nil
	c.lastErr = nil
	c.loadGen++
	c.notifyLocked()
}

func (c *Coordinator) onConnected(roomID int64) {
	c.mu.Lock()
	if c.roomID == roomID {
		c.confirmed = true
		c.connecting = false
		c.state = StateConfirmed
		c.notifyLocked()
	}
	c.mu.Unlock()
}

func (c *Coordinator) onFrame(roomID int64, f *Frame) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID != roomID {
		return
	}

	switch f.Type {
	case frameMessage:
		if f.ID == 0 || f.Content == "" {
			return
		}
		msg := ChatMessage{
			ID:        f.ID,
			RoomID:    f.RoomID,
			UserID:    f.UserID,
			Username:  f.Username,
			Content:   f.Content,
			Timestamp: f.Timestamp,
			Edited:    f.Edited,
		}
		if msg.RoomID == 0 {
			msg.RoomID = roomID
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = c.clock.Now()
		}
		c.appendMessageLocked(msg)

	case frameEdit:
		// An edit for an id that never arrived is dropped; ordering makes
		// that the out-of-order case, not the common one.
		idx, ok := c.index[f.ID]
		if !ok || f.Content == "" {
			return
		}
		c.messages[idx].Content = f.Content
		if !f.Timestamp.IsZero() {
			c.messages[idx].Timestamp = f.Timestamp
		}
		c.messages[idx].Edited = true
		c.notifyLocked()

	case frameTyping:
		if f.UserID == 0 || f.Username == "" {
			return
		}
		if f.IsTyping {
			c.setTypingLocked(f.UserID, f.Username)
		} else {
			c.removeTypingLocked(f.UserID)
		}
		c.notifyLocked()

	case frameConnected, frameSystem:
		// connected is handled via onConnected; system frames are accepted
		// and ignored.
	}
}

func (c *Coordinator) onError(roomID int64, err error) {
	c.mu.Lock()
	if c.roomID == roomID && IsTerminal(err) {
		c.connecting = false
		c.confirmed = false
		c.state = StateDisconnected
		c.lastErr = err
		c.notifyLocked()
	}
	c.mu.Unlock()
}

func (c *Coordinator) onClose(roomID int64) {
	c.mu.Lock()
	if c.roomID == roomID {
		wasConfirmed := c.confirmed
		c.confirmed = false
		c.connecting = false
		if wasConfirmed {
			c.state = StateDisconnected
		}
		c.clearTypingLocked()
		c.notifyLocked()
	}
	c.mu.Unlock()
}

// appendMessageLocked inserts msg unless its id is already present. Caller
// must hold c.mu.
func (c *Coordinator) appendMessageLocked(msg ChatMessage) {
	if _, ok := c.index[msg.ID]; ok {
		return
	}
	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	c.notifyLocked()
}

// setTypingLocked creates or refreshes the typing entry for userID. The new
// expiry timer supersedes any prior one for that user. Caller must hold c.mu.
func (c *Coordinator) setTypingLocked(userID int64, username string) {
	if e, ok := c.typing[userID]; ok {
		e.timer.Stop()
	}
	var t *clock.Timer
	t = c.clock.AfterFunc(c.cfg.TypingTTL, func() {
		c.mu.Lock()
		if e, ok := c.typing[userID]; ok && e.timer == t {
			delete(c.typing, userID)
			c.notifyLocked()
		}
		c.mu.Unlock()
	})
	c.typing[userID] = typingEntry{username: username, timer: t}
}

func (c *Coordinator) removeTypingLocked(userID int64) {
	if e, ok := c.typing[userID]; ok {
		e.timer.Stop()
		delete(c.typing, userID)
	}
}

func (c *Coordinator) clearTypingLocked() {
	for id, e := range c.typing {
		e.timer.Stop()
		delete(c.typing, id)
	}
}

// loadSnapshot seeds messages and presence from the REST facade. Stale loads
// (superseded room target) are discarded; failures are surfaced via Err.
func (c *Coordinator) loadSnapshot(ctx context.Context, roomID int64, gen uint64) {
	msgs, err := c.source.Messages(ctx, roomID)
	if err != nil {
		c.logger.Warn("message history load failed", map[string]any{
			"room_id": roomID, "error": err.Error(),
		})
		c.mu.Lock()
		if c.loadGen == gen {
			c.lastErr = WrapError(ErrorAPI, "load message history", err)
			c.notifyLocked()
		}
		c.mu.Unlock()
		return
	}
	presence, perr := c.source.Presence(ctx, roomID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadGen != gen || c.roomID != roomID {
		return
	}
	for _, m := range msgs {
		c.appendMessageLocked(m)
	}
	if perr != nil {
		c.lastErr = WrapError(ErrorAPI, "load presence snapshot", perr)
	} else {
		c.presence = presence
	}
	c.notifyLocked()
}

func (c *Coordinator) notifyLocked() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
