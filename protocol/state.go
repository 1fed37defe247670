package protocol

// State is a session's position in the protocol state machine.
type State uint8

const (
	// StateIdle: transport connected, no frames exchanged.
	StateIdle State = iota
	// StateHandshaking: hello exchange and authentication in progress.
	StateHandshaking
	// StateAuthenticated: session keys derived, no transfer yet.
	StateAuthenticated
	// StateTransferring: chunk frames flowing.
	StateTransferring
	// StateClosing: final acknowledgment confirmed, close exchange.
	StateClosing
	// StateClosed: orderly shutdown complete.
	StateClosed
	// StateError: terminal failure; the transport is closed.
	StateError
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticated:
		return "authenticated"
	case StateTransferring:
		return "transferring"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateClosed || s == StateError
}
