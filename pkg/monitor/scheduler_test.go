package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := NewScheduler(workers)
	t.Cleanup(s.Close)
	return s
}

func TestSchedulerRunsRepeatedly(t *testing.T) {
	s := newTestScheduler(t, 1)
	var runs int32
	s.Schedule(func(context.Context) { atomic.AddInt32(&runs, 1) }, 0, 5*time.Millisecond)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, time.Millisecond)
}

func TestSchedulerFixedDelay(t *testing.T) {
	s := newTestScheduler(t, 1)
	var mu sync.Mutex
	var starts, ends []time.Time
	s.Schedule(func(context.Context) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
	}, 0, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) >= 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		// The delay counts from the end of the previous run.
		require.GreaterOrEqual(t, starts[i].Sub(ends[i-1]), 10*time.Millisecond)
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := newTestScheduler(t, 1)
	var runs int32
	j := s.Schedule(func(context.Context) { atomic.AddInt32(&runs, 1) }, time.Hour, time.Hour)
	require.Equal(t, 1, s.Len())

	j.Cancel()
	require.Equal(t, 0, s.Len())
	j.Cancel()
	require.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestSchedulerInitialDelay(t *testing.T) {
	s := newTestScheduler(t, 1)
	start := time.Now()
	ran := make(chan time.Time, 1)
	j := s.Schedule(func(context.Context) {
		select {
		case ran <- time.Now():
		default:
		}
	}, 30*time.Millisecond, time.Hour)
	defer j.Cancel()

	select {
	case at := <-ran:
		require.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestSetIntervalKeepsRemainingDelay(t *testing.T) {
	s := newTestScheduler(t, 1)
	j := s.Schedule(func(context.Context) {}, time.Hour, time.Hour)

	before := j.Remaining()
	j.SetInterval(time.Millisecond)
	after := j.Remaining()

	require.Equal(t, time.Millisecond, j.Interval())
	require.Greater(t, after, 59*time.Minute)
	require.LessOrEqual(t, after, before)
}

func TestSetIntervalAppliesToLaterRuns(t *testing.T) {
	s := newTestScheduler(t, 1)
	var runs int32
	j := s.Schedule(func(context.Context) { atomic.AddInt32(&runs, 1) }, 0, time.Hour)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, time.Millisecond)
	j.SetInterval(2 * time.Millisecond)
	// The pending hour-long wait is kept, so no second run happens soon.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	s := newTestScheduler(t, 2)
	var active, peak int32
	var total int32
	for i := 0; i < 6; i++ {
		s.Schedule(func(context.Context) {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&total, 1)
		}, 0, time.Hour)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&total) >= 6 }, 2*time.Second, time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSchedulerCloseStopsEverything(t *testing.T) {
	s := NewScheduler(1)
	started := make(chan struct{})
	s.Schedule(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, 0, time.Hour)
	<-started

	s.Close()
	s.Close()

	j := s.Schedule(func(context.Context) { t.Error("ran after close") }, 0, time.Millisecond)
	require.Equal(t, time.Duration(0), j.Remaining())
}

func TestSchedulerJobWaitsForStart(t *testing.T) {
	s := newTestScheduler(t, 1)
	var runs int32
	j := s.NewJob(func(context.Context) { atomic.AddInt32(&runs, 1) }, time.Hour)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&runs))
	require.Zero(t, s.Len())

	j.Start(0)
	j.Start(0)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestSchedulerCanceledJobNeverStarts(t *testing.T) {
	s := newTestScheduler(t, 1)
	var runs int32
	j := s.NewJob(func(context.Context) { atomic.AddInt32(&runs, 1) }, time.Millisecond)
	j.Cancel()
	j.Start(0)

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&runs))
	require.Zero(t, s.Len())
}
