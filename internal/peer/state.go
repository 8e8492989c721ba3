package peer

import "fmt"

// State is the dialer's connection state.
type State int

const (
	Disconnected State = iota
	Scanning
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is a state plus the port it refers to. Port is 0 when disconnected.
type Status struct {
	State State
	Port  int
}

func (s Status) String() string {
	if s.State == Disconnected {
		return s.State.String()
	}
	return fmt.Sprintf("%s(%d)", s.State, s.Port)
}
