package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sw33tLie/nstg/pkg/monitor"
	"github.com/sw33tLie/nstg/pkg/nsapi"
	"github.com/sw33tLie/nstg/pkg/providers"
	"github.com/sw33tLie/nstg/pkg/providers/fake"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testCreds = providers.Credentials{ClientKey: "client", TelegramID: "123", SecretKey: "secret"}

func newDriver(t *testing.T, w providers.Writer, cfg Config) *Driver {
	t.Helper()
	if cfg.Credentials == (providers.Credentials{}) {
		cfg.Credentials = testCreds
	}
	if cfg.Locks == nil {
		cfg.Locks = NewLockRegistry()
	}
	d, err := New(w, cfg)
	require.NoError(t, err)
	return d
}

func TestRunSendsInOrderAtCadence(t *testing.T) {
	w := fake.NewWriter()
	names := []string{"a", "b", "c", "d"}
	const cadence = 20 * time.Millisecond
	d := newDriver(t, w, Config{Source: NewListSource(names), Cadence: cadence})

	start := time.Now()
	report, err := d.Run(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, Exhausted, report.State)
	require.Equal(t, Exhausted, d.State())
	require.Equal(t, names, w.Recipients())
	require.Equal(t, names, report.Sent)
	require.Equal(t, 4, report.Outcomes[providers.Accepted])
	require.GreaterOrEqual(t, elapsed, time.Duration(len(names)-1)*cadence)

	calls := w.Calls()
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].At.Sub(calls[i-1].At), cadence)
	}
	require.Equal(t, testCreds, calls[0].Creds)
}

func TestRunKeepsFullCadenceAboveProviderSpacing(t *testing.T) {
	w := fake.NewWriter()
	w.Spacing = 40 * time.Millisecond
	cadence := 60 * time.Millisecond
	names := []string{"a", "b", "c", "d"}
	d := newDriver(t, w, Config{Source: NewListSource(names), Cadence: cadence})

	start := time.Now()
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), time.Duration(len(names)-1)*cadence)

	calls := w.Calls()
	require.Len(t, calls, len(names))
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].At.Sub(calls[i-1].At), cadence)
	}

	_, err = New(w, Config{Source: NewListSource(nil), Credentials: testCreds, Cadence: 10 * time.Millisecond})
	require.Error(t, err)
}

func TestSkipsDoNotDelayNextSend(t *testing.T) {
	r := fake.NewReader()
	r.SetProfile(providers.NationProfile{Name: "a", CanCampaign: true})
	r.SetProfile(providers.NationProfile{Name: "b"})
	r.SetProfile(providers.NationProfile{Name: "c", CanCampaign: true})
	w := fake.NewWriter()
	cadence := 50 * time.Millisecond
	d := newDriver(t, w, Config{
		Source:     NewListSource([]string{"a", "b", "c"}),
		Cadence:    cadence,
		Profiles:   r,
		Predicates: []Predicate{CanCampaign},
	})

	start := time.Now()
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, w.Recipients())
	require.GreaterOrEqual(t, time.Since(start), cadence)
}

func TestRunCadenceAgainstAPIClient(t *testing.T) {
	var mu sync.Mutex
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		rw.Write([]byte("queued"))
	}))
	defer srv.Close()

	hc := &http.Client{Transport: &http.Transport{}}
	defer hc.CloseIdleConnections()
	client, err := nsapi.New("nstg test suite",
		nsapi.WithBaseURL(srv.URL),
		nsapi.WithSpacing(20*time.Millisecond),
		nsapi.WithHTTPClient(hc))
	require.NoError(t, err)

	cadence := 60 * time.Millisecond
	d := newDriver(t, client, Config{Source: NewListSource([]string{"a", "b", "c", "d"}), Cadence: cadence})
	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Sent, 4)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 4)
	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i].Sub(hits[i-1]), cadence)
	}
}

func TestRunClassifiesOutcomes(t *testing.T) {
	w := fake.NewWriter()
	w.SetOutcome("b", providers.RegionMismatch)
	w.SetOutcome("c", providers.Unclassified)
	w.SetError("d", errors.New("connection reset"))
	w.SetOutcome("e", providers.RateLimitExceeded)

	var results []Result
	d := newDriver(t, w, Config{
		Source:   NewListSource([]string{"a", "b", "c", "d", "e", "f"}),
		Cadence:  time.Millisecond,
		OnResult: func(r Result) { results = append(results, r) },
	})
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, w.Recipients())
	require.Equal(t, []string{"a", "f"}, report.Sent)
	require.Equal(t, []string{"d"}, report.Failed)
	require.Equal(t, 1, report.Outcomes[providers.RegionMismatch])
	require.Equal(t, 1, report.Outcomes[providers.Unclassified])
	require.Equal(t, 1, report.Outcomes[providers.RateLimitExceeded])

	require.Len(t, results, 6)
	require.True(t, results[0].Sent())
	require.Equal(t, 1, results[0].Index)
	require.Equal(t, 6, results[0].Total)

	var rej *RejectionError
	require.ErrorAs(t, results[1].Err, &rej)
	require.Equal(t, providers.RegionMismatch, rej.Outcome)
	require.ErrorAs(t, results[2].Err, &rej)
	require.Equal(t, providers.Unclassified, rej.Outcome)
	require.False(t, errors.As(results[3].Err, &rej))
	require.Error(t, results[3].Err)
}

func TestRunSkipsIneligible(t *testing.T) {
	r := fake.NewReader()
	r.SetProfile(providers.NationProfile{Name: "a", Region: "europe", CanCampaign: true})
	r.SetProfile(providers.NationProfile{Name: "b", Region: "europe"})
	r.SetProfile(providers.NationProfile{Name: "c", Region: "lazarus", CanCampaign: true})
	w := fake.NewWriter()

	d := newDriver(t, w, Config{
		Source:     NewListSource([]string{"a", "b", "c", "ghost"}),
		Cadence:    time.Millisecond,
		Profiles:   r,
		Predicates: []Predicate{DefaultFor(Bulk), NotInRegions("lazarus")},
	})
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"a"}, w.Recipients())
	require.Len(t, report.Skipped, 3)
	require.Equal(t, Skip{Recipient: "b", Reason: CanCampaign.Name}, report.Skipped[0])
	require.Equal(t, "c", report.Skipped[1].Recipient)
	require.Equal(t, "resides in an excluded region", report.Skipped[1].Reason)
	require.Contains(t, report.Skipped[2].Reason, "profile unavailable")
}

func TestPredicatesShortCircuit(t *testing.T) {
	r := fake.NewReader()
	r.SetProfile(providers.NationProfile{Name: "a"})
	var second int
	d := newDriver(t, fake.NewWriter(), Config{
		Source:   NewListSource([]string{"a"}),
		Cadence:  time.Millisecond,
		Profiles: r,
		Predicates: []Predicate{
			CanRecruit,
			{Name: "counted", Check: func(providers.NationProfile) bool { second++; return true }},
		},
	})
	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, second)
}

func TestDryRunSendsNothing(t *testing.T) {
	w := fake.NewWriter()
	d, err := New(w, Config{Source: NewListSource([]string{"a", "b"}), DryRun: true, Locks: NewLockRegistry()})
	require.NoError(t, err)

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, w.Calls())
	require.Equal(t, []string{"a", "b"}, report.WouldSend)
	require.Empty(t, report.Sent)
}

func TestCancelDuringSleep(t *testing.T) {
	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewListSource([]string{"a", "b", "c"}), Cadence: time.Hour})

	done := make(chan *Report)
	go func() {
		report, _ := d.Run(context.Background())
		done <- report
	}()

	require.Eventually(t, func() bool { return len(w.Calls()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, Running, d.State())
	d.Cancel()

	select {
	case report := <-done:
		require.Equal(t, Cancelled, report.State)
		require.Equal(t, []string{"a"}, report.Sent)
	case <-time.After(time.Second):
		t.Fatal("cancel did not interrupt the sleep")
	}
	require.Equal(t, Cancelled, d.State())
}

func TestCancelBeforeRun(t *testing.T) {
	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewListSource([]string{"a"}), Cadence: time.Millisecond})
	d.Cancel()

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Cancelled, report.State)
	require.Empty(t, w.Calls())

	_, err = d.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestContextCancellation(t *testing.T) {
	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewListSource([]string{"a", "b"}), Cadence: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Cancelled, report.State)
	require.Equal(t, []string{"a"}, w.Recipients())
}

func TestCredentialLock(t *testing.T) {
	locks := NewLockRegistry()
	w := fake.NewWriter()
	first := newDriver(t, w, Config{Source: NewListSource([]string{"a", "b"}), Cadence: time.Hour, Locks: locks})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = first.Run(context.Background())
	}()
	require.Eventually(t, func() bool { return locks.Held(testCreds.ClientKey) }, time.Second, time.Millisecond)

	second := newDriver(t, w, Config{Source: NewListSource([]string{"c"}), Cadence: time.Millisecond, Locks: locks})
	report, err := second.Run(context.Background())
	require.ErrorIs(t, err, ErrCredentialInUse)
	require.Equal(t, Stopped, report.State)

	other := testCreds
	other.ClientKey = "other-client"
	third := newDriver(t, w, Config{Source: NewListSource([]string{"c"}), Cadence: time.Millisecond, Locks: locks, Credentials: other})
	_, err = third.Run(context.Background())
	require.NoError(t, err)

	first.Cancel()
	<-done
	require.False(t, locks.Held(testCreds.ClientKey))
}

func TestNewValidates(t *testing.T) {
	w := fake.NewWriter()
	_, err := New(w, Config{Credentials: testCreds})
	require.Error(t, err)

	_, err = New(w, Config{Source: NewListSource(nil), Credentials: providers.Credentials{ClientKey: "x"}})
	require.Error(t, err)

	_, err = New(w, Config{Source: NewListSource(nil), Credentials: testCreds, Predicates: []Predicate{CanRecruit}})
	require.Error(t, err)

	d, err := New(w, Config{Source: NewListSource(nil), Credentials: testCreds, Class: Throttled})
	require.NoError(t, err)
	require.Equal(t, 180*time.Second, d.cfg.Cadence)
	require.Equal(t, Idle, d.State())
}

func TestClassAndState(t *testing.T) {
	c, err := ParseClass("Recruitment")
	require.NoError(t, err)
	require.Equal(t, Throttled, c)
	require.Equal(t, 6*Bulk.Cadence(), Throttled.Cadence())
	_, err = ParseClass("spam")
	require.Error(t, err)

	require.Equal(t, CanRecruit.Name, DefaultFor(Throttled).Name)
	require.True(t, Cancelled.Done())
	require.False(t, Running.Done())
	require.Equal(t, "exhausted", Exhausted.String())
}

type scriptedMonitor struct {
	mu        sync.Mutex
	snapshots [][]string
	exhausted bool
}

func (m *scriptedMonitor) Recipients(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		m.exhausted = true
		return nil, monitor.ErrExhausted
	}
	s := m.snapshots[0]
	m.snapshots = m.snapshots[1:]
	return s, nil
}

func (m *scriptedMonitor) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

func TestMonitorSourceSendsEachNationOnce(t *testing.T) {
	m := &scriptedMonitor{snapshots: [][]string{{"a", "b"}, {"b", "a"}, {"c", "a"}, nil}}
	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewMonitorSource(m, time.Millisecond), Cadence: time.Millisecond})

	report, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Exhausted, report.State)
	require.Equal(t, []string{"a", "b", "c"}, w.Recipients())
}

type brokenMonitor struct{}

func (brokenMonitor) Recipients(context.Context) ([]string, error) {
	return nil, monitor.ErrMonitorStopped
}

func (brokenMonitor) Exhausted() bool { return false }

func TestMonitorSourceFailureStops(t *testing.T) {
	d := newDriver(t, fake.NewWriter(), Config{Source: NewMonitorSource(brokenMonitor{}, time.Millisecond), Cadence: time.Millisecond})
	report, err := d.Run(context.Background())
	require.ErrorIs(t, err, monitor.ErrMonitorStopped)
	require.Equal(t, Stopped, report.State)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	w := fake.NewWriter()
	w.SetOutcome("b", providers.NoSuchTemplate)
	w.SetError("c", errors.New("timeout"))

	d := newDriver(t, w, Config{Source: NewListSource([]string{"a", "b", "c"}), Cadence: time.Millisecond, Metrics: metrics})
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Telegrams.WithLabelValues("accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Telegrams.WithLabelValues("no_such_template")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.TransportErrors))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.Running))
}

func newLiveMonitor(t *testing.T, refresh monitor.StrategyFunc) *monitor.Updating {
	t.Helper()
	sched := monitor.NewScheduler(1)
	t.Cleanup(sched.Close)
	m, err := monitor.NewUpdating("live", refresh, sched, monitor.Options{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorSourceEndsWhenMonitorStops(t *testing.T) {
	var refreshes int32
	m := newLiveMonitor(t, func(context.Context) ([]string, bool, error) {
		if atomic.AddInt32(&refreshes, 1) == 1 {
			return []string{"a"}, false, nil
		}
		return nil, false, errors.New("503 service unavailable")
	})

	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewMonitorSource(m, time.Millisecond), Cadence: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := d.Run(ctx)
	require.ErrorIs(t, err, monitor.ErrMonitorStopped)
	require.Equal(t, Stopped, report.State)
	require.Equal(t, []string{"a"}, w.Recipients())
	require.NoError(t, ctx.Err())
}

func TestMonitorSourceDeliversFinalSnapshot(t *testing.T) {
	var refreshes int32
	m := newLiveMonitor(t, func(context.Context) ([]string, bool, error) {
		if atomic.AddInt32(&refreshes, 1) == 1 {
			return []string{"a"}, false, nil
		}
		return []string{"a", "b"}, true, nil
	})

	w := fake.NewWriter()
	d := newDriver(t, w, Config{Source: NewMonitorSource(m, time.Millisecond), Cadence: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := d.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Exhausted, report.State)
	require.Equal(t, []string{"a", "b"}, w.Recipients())
}
