package session

import "sync/atomic"

type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateBox struct {
	v        atomic.Int32
	onChange func(State)
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

// advance only moves forward so a late Draining never reopens a closed session.
func (b *stateBox) advance(next State) bool {
	for {
		cur := b.v.Load()
		if State(cur) >= next {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(next)) {
			if b.onChange != nil {
				b.onChange(next)
			}
			return true
		}
	}
}
