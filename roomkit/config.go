package roomkit

import "time"

// Config controls how the SDK connects.
type Config struct {
	// WSBaseURL is the websocket origin, e.g. "ws://localhost:8000". The
	// client appends /ws/chat/{roomID} and carries the credential as a query
	// parameter, since the transport does not accept custom headers at
	// connect time.
	WSBaseURL string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	// ReconnectBaseDelay is the delay before the first reconnect attempt;
	// each subsequent attempt doubles it.
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int

	// TypingTTL is how long a typing indicator survives without a refresh.
	TypingTTL time.Duration

	// TeardownGrace is how long the coordinator defers tearing down a
	// connection for a room it was just asked to stop observing, absorbing
	// redundant stop/start churn from the hosting UI layer.
	TeardownGrace time.Duration
}

// DefaultConfig returns sensible defaults. Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectBaseDelay:   time.Second,
		MaxReconnectAttempts: 5,
		TypingTTL:            2 * time.Second,
		TeardownGrace:        500 * time.Millisecond,
	}
}
