package workflow

import "fmt"

// State is a letter's position in the approval lifecycle
type State string

const (
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateRejected State = "REJECTED"
	StateSigned   State = "SIGNED"
)

// ParseState converts a stored status into a State
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown letter state %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no trigger may leave the state
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateSigned
}

// IsValid reports whether s is one of the lifecycle states
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateSigned:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}
