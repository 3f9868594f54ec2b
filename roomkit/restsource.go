package roomkit

import (
	"context"

	"github.com/roomkit/roomkit-go/roomkit/rest"
)

// RESTSource adapts a rest.Client to the SnapshotSource interface.
type RESTSource struct {
	client *rest.Client
}

// NewRESTSource wraps client for use with SetSnapshotSource.
func NewRESTSource(client *rest.Client) *RESTSource {
	return &RESTSource{client: client}
}

func (s *RESTSource) Messages(ctx context.Context, roomID int64) ([]ChatMessage, error) {
	msgs, err := s.client.GetMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessage{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Edited:    m.Edited,
		})
	}
	return out, nil
}

func (s *RESTSource) Presence(ctx context.Context, roomID int64) ([]PresenceUser, error) {
	users, err := s.client.GetPresence(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]PresenceUser, 0, len(users))
	for _, u := range users {
		out = append(out, PresenceUser{UserID: u.UserID, Username: u.Username})
	}
	return out, nil
}
