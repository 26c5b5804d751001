// Package monitor turns time-varying NationStates queries (who is active, who
// moved, who is voting, who withdrew an approval) into polled recipient
// snapshots.
//
// A Monitor yields its current snapshot through Recipients and reports
// irreversible exhaustion through Exhausted. Polling monitors are built with
// NewUpdating from a Strategy (the refresh logic) and share one Scheduler, so
// any number of live monitors costs a bounded number of goroutines.
package monitor

import (
	"context"
	"errors"
)

var (
	// ErrExhausted is returned by Recipients once a monitor can never yield
	// new data again. It is a control-flow signal, not a failure.
	ErrExhausted = errors.New("monitor exhausted")

	// ErrMonitorStopped is returned to callers waiting on a monitor that
	// stopped before its first successful refresh.
	ErrMonitorStopped = errors.New("monitor stopped before its first update")

	// ErrIntervalTooShort rejects update intervals below twice the provider's
	// minimum request spacing.
	ErrIntervalTooShort = errors.New("monitor update interval too short")
)

// Monitor yields a possibly time-varying list of canonical nation names.
type Monitor interface {
	// Recipients returns the current snapshot, or ErrExhausted.
	Recipients(ctx context.Context) ([]string, error)
	Exhausted() bool
}

// Gated is a Monitor with a one-shot readiness gate.
type Gated interface {
	Monitor
	// Ready is closed after the first successful refresh.
	Ready() <-chan struct{}
	// Done is closed when the monitor stops polling.
	Done() <-chan struct{}
}

// Logger abstracts logging so callers can use logrus or anything else that
// satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// NopLogger silently discards all messages.
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) Debugf(string, ...interface{}) {}

// Static is a fixed recipient list. It is never exhausted.
type Static struct {
	names []string
}

func NewStatic(names []string) *Static {
	return &Static{names: append([]string(nil), names...)}
}

func (s *Static) Recipients(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.names...), nil
}

func (s *Static) Exhausted() bool { return false }

// diff returns the elements of a that are not in b, in a's order.
func diff(a, b []string) []string {
	drop := make(map[string]struct{}, len(b))
	for _, n := range b {
		drop[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := drop[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
