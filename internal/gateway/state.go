// ABOUTME: Connection lifecycle states for the gateway connection manager.
// ABOUTME: Transitions are owned exclusively by the supervision loop and Stop.

package gateway

// State is the connection lifecycle position. It moves Disconnected ->
// Connecting -> Handshaking -> Connected, drops to Reconnecting on loss, and
// ends at Closed after Stop. Closed is terminal for the supervision loop.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
