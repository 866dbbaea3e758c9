package scraper

// State is a worker lifecycle phase.
//
//	Idle → Launching → Listening → Scrolling → Finalizing → Closed
//
// Finalizing is entered on every path once a session exists; a worker with
// nothing to collect goes straight from Idle to Closed.
type State int32

const (
	StateIdle State = iota
	StateLaunching
	StateListening
	StateScrolling
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateListening:
		return "listening"
	case StateScrolling:
		return "scrolling"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
