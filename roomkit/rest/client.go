package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Detail)
}

// TokenFunc returns the current bearer token, or "" when unauthenticated.
type TokenFunc func() string

// Client provides REST API access to the chat server.
type Client struct {
	baseURL    string
	token      string
	tokenFunc  TokenFunc
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g. "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets a static bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetTokenFunc installs a credential source consulted on every request. It
// takes precedence over SetToken, so token rotation needs no client churn.
func (c *Client) SetTokenFunc(fn TokenFunc) {
	c.tokenFunc = fn
}

// Authentication endpoints

// Signup creates a new user account.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	var resp User
	if err := c.post(ctx, "/auth/signup", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates with existing credentials and returns a bearer token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp User
	if err := c.get(ctx, "/auth/me", &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Room management endpoints

// ListRooms returns the rooms the authenticated user belongs to.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var resp []Room
	if err := c.get(ctx, "/rooms", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListPublicRooms returns all public rooms.
func (c *Client) ListPublicRooms(ctx context.Context) ([]Room, error) {
	var resp []Room
	if err := c.get(ctx, "/rooms/public", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRoom returns metadata for one room.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	var resp Room
	if err := c.get(ctx, fmt.Sprintf("/rooms/%d", roomID), &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a new public or private room.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	var resp Room
	if err := c.post(ctx, "/rooms", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom joins a public room.
func (c *Client) JoinRoom(ctx context.Context, roomID int64) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%d/join", roomID), nil, nil, true)
}

// LeaveRoom leaves a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%d/leave", roomID), nil, nil, true)
}

// DeleteRoom deletes a room owned by the authenticated user.
func (c *Client) DeleteRoom(ctx context.Context, roomID int64) error {
	return c.delete(ctx, fmt.Sprintf("/rooms/%d", roomID), true)
}

// Invite and join-request endpoints

// InviteMember invites a user to a room by username or email.
func (c *Client) InviteMember(ctx context.Context, roomID int64, req InviteMemberRequest) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%d/members", roomID), req, nil, true)
}

// CreateInviteLink creates a shareable invite token for a room.
func (c *Client) CreateInviteLink(ctx context.Context, roomID int64) (*InviteLink, error) {
	var resp InviteLink
	if err := c.post(ctx, fmt.Sprintf("/rooms/%d/invites", roomID), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestJoinByInvite asks to join the room behind an invite token.
func (c *Client) RequestJoinByInvite(ctx context.Context, inviteToken string) (*JoinRequest, error) {
	var resp JoinRequest
	if err := c.post(ctx, fmt.Sprintf("/rooms/invites/%s/request", inviteToken), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJoinRequests returns the pending join requests for a room.
func (c *Client) ListJoinRequests(ctx context.Context, roomID int64) ([]JoinRequest, error) {
	var resp []JoinRequest
	if err := c.get(ctx, fmt.Sprintf("/rooms/%d/requests", roomID), &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// ApproveJoinRequest approves a pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, roomID, requestID int64) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%d/requests/%d/approve", roomID, requestID), nil, nil, true)
}

// RejectJoinRequest rejects a pending join request.
func (c *Client) RejectJoinRequest(ctx context.Context, roomID, requestID int64) error {
	return c.post(ctx, fmt.Sprintf("/rooms/%d/requests/%d/reject", roomID, requestID), nil, nil, true)
}

// Message history and presence endpoints

// GetMessages retrieves the message history snapshot for a room.
func (c *Client) GetMessages(ctx context.Context, roomID int64) ([]Message, error) {
	var resp []Message
	if err := c.get(ctx, fmt.Sprintf("/rooms/%d/messages", roomID), &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetPresence retrieves the presence snapshot for a room.
func (c *Client) GetPresence(ctx context.Context, roomID int64) ([]PresenceUser, error) {
	var resp []PresenceUser
	if err := c.get(ctx, fmt.Sprintf("/presence/%d", roomID), &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// Helper methods

func (c *Client) bearer() string {
	if c.tokenFunc != nil {
		return c.tokenFunc()
	}
	return c.token
}

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, requireAuth)

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req, requireAuth)

	return c.do(req, dest)
}

func (c *Client) delete(ctx context.Context, path string, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req, requireAuth)

	return c.do(req, nil)
}

func (c *Client) authorize(req *http.Request, requireAuth bool) {
	if !requireAuth {
		return
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: string(body)}
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
			apiErr.Detail = errResp.Detail
		}
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
