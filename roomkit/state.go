package roomkit

// ConnectionState represents the coordinator's view of the active room
// connection.
type ConnectionState int

const (
	// StateIdle means no room is selected or no credential is available.
	StateIdle ConnectionState = iota

	// StateConnecting means an attempt is in flight and the handshake is
	// still pending.
	StateConnecting

	// StateConfirmed means the server acknowledged the session with its
	// handshake frame. Only now is the connection usable.
	StateConfirmed

	// StateDisconnected means a session was lost (or the reconnect budget was
	// exhausted) while a room is still selected. A fresh room selection
	// retries.
	StateDisconnected
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfirmed:
		return "confirmed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
