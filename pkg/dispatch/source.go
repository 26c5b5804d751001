package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sw33tLie/nstg/pkg/monitor"
)

// Source yields campaign recipients one at a time. ok is false once the
// source is exhausted.
type Source interface {
	Next(ctx context.Context) (recipient string, ok bool, err error)
}

// ListSource yields a fixed, already resolved list in order.
type ListSource struct {
	mu    sync.Mutex
	names []string
	pos   int
}

func NewListSource(names []string) *ListSource {
	return &ListSource{names: append([]string(nil), names...)}
}

func (s *ListSource) Next(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.names) {
		return "", false, nil
	}
	n := s.names[s.pos]
	s.pos++
	return n, true, nil
}

// Len returns the total number of recipients.
func (s *ListSource) Len() int { return len(s.names) }

// Remaining returns how many recipients have not been yielded yet.
func (s *ListSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names) - s.pos
}

// DefaultPollInterval is how long a MonitorSource waits before asking an
// idle monitor again.
const DefaultPollInterval = 5 * time.Second

// MonitorSource yields nations from a live monitor, each at most once. When
// the monitor has nothing new it waits and asks again. It ends when the
// monitor exhausts, after delivering the monitor's final snapshot, and fails
// when a monitor with a Done channel stops without exhausting.
type MonitorSource struct {
	m    monitor.Monitor
	poll time.Duration

	seen    map[string]bool
	pending []string
	drained bool
}

// NewMonitorSource wraps m. A zero poll uses DefaultPollInterval.
func NewMonitorSource(m monitor.Monitor, poll time.Duration) *MonitorSource {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &MonitorSource{m: m, poll: poll, seen: make(map[string]bool)}
}

func (s *MonitorSource) Next(ctx context.Context) (string, bool, error) {
	for {
		if len(s.pending) > 0 {
			n := s.pending[0]
			s.pending = s.pending[1:]
			return n, true, nil
		}
		if s.drained {
			return "", false, nil
		}
		if s.m.Exhausted() {
			s.drain()
			continue
		}

		// Read before fetching so a snapshot taken just before the stop
		// is still delivered.
		stopped := s.stopped()
		names, err := s.m.Recipients(ctx)
		if errors.Is(err, monitor.ErrExhausted) {
			s.drain()
			continue
		}
		if err != nil {
			return "", false, err
		}
		s.enqueue(names)
		if len(s.pending) > 0 {
			continue
		}
		if stopped {
			return "", false, fmt.Errorf("%w: no further updates", monitor.ErrMonitorStopped)
		}
		if err := sleep(ctx, s.poll); err != nil {
			return "", false, err
		}
	}
}

func (s *MonitorSource) enqueue(names []string) {
	for _, n := range names {
		if !s.seen[n] {
			s.seen[n] = true
			s.pending = append(s.pending, n)
		}
	}
}

// drain queues the unseen part of the monitor's final snapshot, once.
func (s *MonitorSource) drain() {
	s.drained = true
	if f, ok := s.m.(interface{ Snapshot() []string }); ok {
		s.enqueue(f.Snapshot())
	}
}

func (s *MonitorSource) stopped() bool {
	g, ok := s.m.(monitor.Gated)
	if !ok {
		return false
	}
	select {
	case <-g.Done():
		return true
	default:
		return false
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
