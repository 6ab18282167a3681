package tracking

import (
	"fmt"
	"time"
)

// VisitorState is the lifecycle position of a visitor.
type VisitorState int

const (
	StateTemporary VisitorState = iota
	StateActive
	StateMissing
	StateReturning
	StateExpired
)

var stateNames = map[VisitorState]string{
	StateTemporary: "temporary",
	StateActive:    "active",
	StateMissing:   "missing",
	StateReturning: "returning",
	StateExpired:   "expired",
}

func (s VisitorState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("VisitorState(%d)", int(s))
}

func (s VisitorState) MarshalText() ([]byte, error) {
	name, ok := stateNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown visitor state %d", int(s))
	}
	return []byte(name), nil
}

func (s *VisitorState) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState converts the symbolic name back into a VisitorState.
func ParseState(name string) (VisitorState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown visitor state %q", name)
}

// Policy holds the timing and promotion thresholds of the state machine.
type Policy struct {
	MissingAfter    time.Duration
	ReturningWindow time.Duration
	RemoveAfter     time.Duration
	PromoteAfter    int
}

func DefaultPolicy() Policy {
	return Policy{
		MissingAfter:    60 * time.Second,
		ReturningWindow: 30 * time.Second,
		RemoveAfter:     2 * time.Minute,
		PromoteAfter:    3,
	}
}
