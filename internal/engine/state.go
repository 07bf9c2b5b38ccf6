// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Run lifecycle states

package engine

// State identifies where a run is in its lifecycle. Transitions move
// strictly forward with no retries; Failed is reachable from every
// non-terminal state and, like Done, is terminal.
type State int

const (
	StateReceived State = iota
	StateParsed
	StatePlanned
	StateStagedIn
	StateExecuted
	StateStagedOut
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsed:
		return "parsed"
	case StatePlanned:
		return "planned"
	case StateStagedIn:
		return "staged-in"
	case StateExecuted:
		return "executed"
	case StateStagedOut:
		return "staged-out"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
