package realtime

// State describes the connection manager's position in its lifecycle.
type State int

const (
	// StateDisconnected means no session exists and none is being attempted.
	StateDisconnected State = iota
	// StateConnecting means a handshake is in flight.
	StateConnecting
	// StateConnected means a live session is established.
	StateConnected
	// StateReconnecting means a backoff timer is pending before the next attempt.
	StateReconnecting
	// StateFailed means the reconnect budget is exhausted; only an external
	// trigger (network online, force reconnect, credential change) resumes.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
