package rest

import "time"

// Authentication types

// SignupRequest is the request body for account creation.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse contains the bearer token returned after successful login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User represents an account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active,omitempty"`
}

// Room types

// Room represents room metadata.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPrivate   bool      `json:"is_private"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   int64     `json:"created_by"`
}

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
}

// Invite and join-request types

// InviteMemberRequest identifies the user to invite, by username or email.
type InviteMemberRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// InviteLink is a shareable invite token for a room.
type InviteLink struct {
	Token     string     `json:"token"`
	RoomID    int64      `json:"room_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// JoinRequest represents a pending request to join a private room.
type JoinRequest struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username,omitempty"`
}

// Message history and presence types

// Message is a single entry in a room's message history.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Edited    bool      `json:"edited,omitempty"`
}

// PresenceUser is one entry in a room's presence snapshot.
type PresenceUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// errorResponse is the error body the API returns on non-2xx statuses.
type errorResponse struct {
	Detail string `json:"detail"`
}
