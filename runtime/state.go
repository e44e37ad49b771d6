package runtime

// State is the lifecycle state of an Instance.
//
//	Idle -> Running -> Returned | Trapped
//	             \--> Yielded -> Running (Resume)
//
// Reset returns any state except Closed to Idle.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StateYielded
	StateReturned
	StateTrapped
	StateFailed // reset could not re-instantiate; only Close is valid
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateYielded:
		return "yielded"
	case StateReturned:
		return "returned"
	case StateTrapped:
		return "trapped"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
