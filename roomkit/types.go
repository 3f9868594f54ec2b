package roomkit

import "time"

const (
	frameMessage   = "message"
	frameEdit      = "edit"
	frameTyping    = "typing"
	frameConnected = "connected"
	frameSystem    = "system"
)

// Frame is the envelope server -> client. Which fields are set depends on
// Type; unused fields stay at their zero values.
type Frame struct {
	Type      string    `json:"type"`
	ID        int64     `json:"id,omitempty"`
	RoomID    int64     `json:"room_id,omitempty"`
	UserID    int64     `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Edited    bool      `json:"edited,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	IsTyping  bool      `json:"is_typing,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// messagePayload publishes a chat message to the connected room.
type messagePayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// typingPayload reports the local user's typing state.
type typingPayload struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// editPayload rewrites the content of a previously sent message.
type editPayload struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

// ChatMessage is one entry in the ordered message sequence kept by the
// coordinator. Identity key is ID.
type ChatMessage struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Username  string
	Content   string
	Timestamp time.Time
	Edited    bool
}

// PresenceUser identifies a user present (or typing) in a room.
type PresenceUser struct {
	UserID   int64
	Username string
}
