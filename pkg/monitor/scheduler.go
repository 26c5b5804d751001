package monitor

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs fixed-delay jobs for every monitor in the process. One loop
// goroutine watches a min-heap of next-fire times and hands due jobs to at
// most `workers` concurrent runs. A job is never run concurrently with itself:
// its next fire time is computed when the previous run returns.
type Scheduler struct {
	mu     sync.Mutex
	queue  jobQueue
	wake   chan struct{}
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	now    func() time.Time
}

// Job is a handle on a scheduled function.
type Job struct {
	s        *Scheduler
	run      func(ctx context.Context)
	interval time.Duration
	next     time.Time
	index    int
	started  bool
	running  bool
	canceled bool
}

// NewScheduler starts a scheduler allowing up to workers concurrent job runs.
func NewScheduler(workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		wake:   make(chan struct{}, 1),
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Schedule runs fn after initialDelay and then again interval after each run
// completes, until the job is canceled or the scheduler closed.
func (s *Scheduler) Schedule(fn func(ctx context.Context), initialDelay, interval time.Duration) *Job {
	j := s.NewJob(fn, interval)
	j.Start(initialDelay)
	return j
}

// NewJob returns a job that does not run until Start is called.
func (s *Scheduler) NewJob(fn func(ctx context.Context), interval time.Duration) *Job {
	return &Job{s: s, run: fn, interval: interval, index: -1}
}

// Start queues the first run of j after initialDelay. Starting a job twice,
// or after it was canceled, does nothing.
func (j *Job) Start(initialDelay time.Duration) {
	s := j.s
	s.mu.Lock()
	if s.closed {
		j.canceled = true
	}
	if j.canceled || j.started {
		s.mu.Unlock()
		return
	}
	j.started = true
	j.next = s.now().Add(initialDelay)
	heap.Push(&s.queue, j)
	s.mu.Unlock()
	s.signal()
}

// Len reports how many jobs are waiting for their next run.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Close cancels every job and waits for running ones to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, j := range s.queue {
		j.canceled = true
		j.index = -1
	}
	s.queue = nil
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		var wait time.Duration = -1
		if s.queue.Len() > 0 {
			top := s.queue[0]
			wait = top.next.Sub(s.now())
			if wait <= 0 {
				heap.Pop(&s.queue)
				top.running = true
				s.mu.Unlock()
				s.dispatch(top)
				continue
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if wait < 0 {
			wait = time.Hour
		}
		timer.Reset(wait)

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) dispatch(j *Job) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		j.run(s.ctx)

		s.mu.Lock()
		j.running = false
		if !j.canceled && !s.closed {
			j.next = s.now().Add(j.interval)
			heap.Push(&s.queue, j)
		}
		s.mu.Unlock()
		s.signal()
	}()
}

// Cancel stops future runs. A run in progress is allowed to finish.
func (j *Job) Cancel() {
	s := j.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.canceled {
		return
	}
	j.canceled = true
	if j.index >= 0 {
		heap.Remove(&s.queue, j.index)
	}
}

// SetInterval changes the delay between runs. A pending run keeps the time
// left until it fires; only later runs use the new interval.
func (j *Job) SetInterval(d time.Duration) {
	s := j.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.canceled {
		return
	}
	j.interval = d
	if j.index >= 0 {
		remaining := j.next.Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		heap.Remove(&s.queue, j.index)
		j.next = s.now().Add(remaining)
		heap.Push(&s.queue, j)
	}
}

// Interval returns the current delay between runs.
func (j *Job) Interval() time.Duration {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	return j.interval
}

// Remaining returns the time until the next run, or zero while running.
func (j *Job) Remaining() time.Duration {
	s := j.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.index < 0 {
		return 0
	}
	if d := j.next.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

type jobQueue []*Job

func (q jobQueue) Len() int           { return len(q) }
func (q jobQueue) Less(i, k int) bool { return q[i].next.Before(q[k].next) }
func (q jobQueue) Swap(i, k int) {
	q[i], q[k] = q[k], q[i]
	q[i].index = i
	q[k].index = k
}

func (q *jobQueue) Push(x interface{}) {
	j := x.(*Job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}
