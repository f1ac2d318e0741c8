package relay

// State is the relay lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateSubscribed
	StateRelaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateRelaying:
		return "relaying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
