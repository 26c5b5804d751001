package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Strategy is the refresh logic of a polling monitor. Refresh is never called
// concurrently with itself, so implementations may keep unguarded state.
type Strategy interface {
	// Refresh polls the provider and returns the new snapshot. exhausted
	// reports that no further data will ever be produced; it is irreversible.
	Refresh(ctx context.Context) (names []string, exhausted bool, err error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context) ([]string, bool, error)

func (f StrategyFunc) Refresh(ctx context.Context) ([]string, bool, error) { return f(ctx) }

// Options configures an Updating monitor.
type Options struct {
	// Interval is the fixed delay between the end of one refresh and the
	// start of the next.
	Interval time.Duration
	// MinSpacing is the provider's minimum spacing between requests.
	// Interval must be at least twice this.
	MinSpacing   time.Duration
	InitialDelay time.Duration
	Log          Logger
}

// Updating is a Monitor polled in the background by a Scheduler.
type Updating struct {
	name     string
	strategy Strategy
	log      Logger

	mu          sync.RWMutex
	snapshot    []string
	exhausted   bool
	lastRefresh time.Time

	job       *Job
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// NewUpdating validates opts and schedules the first refresh on sched.
func NewUpdating(name string, strategy Strategy, sched *Scheduler, opts Options) (*Updating, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%s: %w: interval must be positive", name, ErrIntervalTooShort)
	}
	if floor := 2 * opts.MinSpacing; opts.Interval < floor {
		return nil, fmt.Errorf("%s: %w: %s is below %s", name, ErrIntervalTooShort, opts.Interval, floor)
	}
	log := opts.Log
	if log == nil {
		log = NopLogger{}
	}
	m := &Updating{
		name:     name,
		strategy: strategy,
		log:      log,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.job = sched.NewJob(m.update, opts.Interval)
	m.job.Start(opts.InitialDelay)
	return m, nil
}

func (m *Updating) update(ctx context.Context) {
	names, exhausted, err := m.strategy.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Errorf("Monitor %s failed to update, stopping: %v", m.name, err)
		}
		m.Stop()
		return
	}

	m.mu.Lock()
	m.snapshot = names
	m.lastRefresh = time.Now()
	if exhausted && !m.exhausted {
		m.exhausted = true
		m.log.Infof("Monitor %s exhausted", m.name)
	}
	m.mu.Unlock()
	m.log.Debugf("Monitor %s refreshed: %d recipients", m.name, len(names))

	m.readyOnce.Do(func() { close(m.ready) })
	if exhausted {
		m.Stop()
	}
}

// Recipients blocks until the first successful refresh, then returns the
// latest snapshot.
func (m *Updating) Recipients(ctx context.Context) ([]string, error) {
	if m.Exhausted() {
		return nil, ErrExhausted
	}
	select {
	case <-m.ready:
	default:
		select {
		case <-m.ready:
		case <-m.done:
			select {
			case <-m.ready:
			default:
				return nil, fmt.Errorf("%s: %w", m.name, ErrMonitorStopped)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.exhausted {
		return nil, ErrExhausted
	}
	return append([]string(nil), m.snapshot...), nil
}

// Snapshot returns the last successful refresh's names, including the one
// that reported exhaustion.
func (m *Updating) Snapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.snapshot...)
}

func (m *Updating) Exhausted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exhausted
}

func (m *Updating) Ready() <-chan struct{} { return m.ready }

func (m *Updating) Done() <-chan struct{} { return m.done }

// Stop ends background polling. The last snapshot stays readable.
func (m *Updating) Stop() {
	m.doneOnce.Do(func() {
		m.job.Cancel()
		close(m.done)
	})
}

// SetInterval changes the polling interval without restarting the period in
// progress.
func (m *Updating) SetInterval(d time.Duration) {
	m.job.SetInterval(d)
}

// LastRefresh returns the time of the last successful refresh.
func (m *Updating) LastRefresh() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRefresh
}

func (m *Updating) String() string { return m.name }
