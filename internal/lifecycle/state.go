package lifecycle

// State is the position of a session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTunnelPending
	StateSynchronizing
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTunnelPending:
		return "tunnel-pending"
	case StateSynchronizing:
		return "synchronizing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the phase sequence may no longer advance.
func (s State) terminal() bool {
	return s == StateClosing || s == StateClosed || s == StateFailed
}
