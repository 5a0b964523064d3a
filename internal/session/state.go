package session

// State is the lifecycle state of a recording session.
type State int

const (
	// StateIdle is the initial state before the first recording.
	StateIdle State = iota

	// StateConnecting means the microphone is live and the agent channel is
	// being dialled.
	StateConnecting

	// StateListening means the agent is waiting for the user to speak.
	StateListening

	// StateBotSpeaking means the agent is producing audio or text.
	StateBotSpeaking

	// StateError means the channel was lost and a reconnect is pending.
	StateError

	// StateStopped is reached through an explicit or internal stop.
	StateStopped
)

// String returns a short lower-case name suitable for logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateBotSpeaking:
		return "bot_speaking"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether s belongs to a running recording session.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateListening, StateBotSpeaking, StateError:
		return true
	}
	return false
}

// StatusText returns the human-readable status line shown for s.
func (s State) StatusText() string {
	switch s {
	case StateConnecting:
		return "Connecting..."
	case StateListening:
		return "Waiting for your speech... (Pause briefly after speaking)"
	case StateBotSpeaking:
		return "Bot is speaking... (Please wait)"
	case StateError:
		return "Disconnected"
	case StateStopped:
		return "Stopped"
	default:
		return "Idle"
	}
}

// Status is a state change delivered to a [Listener]. Text is usually
// [State.StatusText] but may carry error detail.
type Status struct {
	State State
	Text  string
}
