package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// Class is the telegram operation class. It fixes the campaign cadence and
// the default eligibility check.
type Class int

const (
	// Bulk is a campaign telegram, sent every 30 seconds.
	Bulk Class = iota
	// Throttled is a recruitment telegram, sent every 180 seconds.
	Throttled
)

func (c Class) String() string {
	if c == Throttled {
		return "throttled"
	}
	return "bulk"
}

// Cadence returns the delay between successive telegrams of the class.
func (c Class) Cadence() time.Duration {
	if c == Throttled {
		return 180 * time.Second
	}
	return 30 * time.Second
}

// ParseClass accepts "bulk" (or "campaign") and "throttled" (or "recruitment").
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bulk", "campaign":
		return Bulk, nil
	case "throttled", "recruitment":
		return Throttled, nil
	}
	return 0, fmt.Errorf("unknown operation class %q (want bulk or throttled)", s)
}

// State is a campaign's lifecycle position.
type State int

const (
	Idle State = iota
	Running
	// Stopped means the campaign ended on an error.
	Stopped
	// Exhausted means the source ran out of recipients.
	Exhausted
	Cancelled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	}
	return "idle"
}

// Done reports whether the state is terminal.
func (s State) Done() bool {
	return s == Stopped || s == Exhausted || s == Cancelled
}
