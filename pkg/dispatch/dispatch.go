// Package dispatch runs telegram campaigns: it pulls recipients from a
// Source, checks their eligibility, sends one telegram each through a
// providers.Writer and keeps a fixed cadence between sends.
//
// A Driver runs one campaign. Its lifecycle is
//
//	Idle -> Running -> Stopped | Exhausted | Cancelled
//
// Failed sends are classified and logged but never retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sw33tLie/nstg/pkg/monitor"
	"github.com/sw33tLie/nstg/pkg/providers"
)

// Logger is the logging interface shared with the monitor package.
type Logger = monitor.Logger

// ErrAlreadyStarted is returned by Run on a driver that has already run.
var ErrAlreadyStarted = errors.New("campaign already started")

// RejectionError describes a telegram the API refused or answered with an
// unrecognized response.
type RejectionError struct {
	Recipient string
	Outcome   providers.Outcome
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("telegram to %s not delivered: %s", e.Recipient, e.Outcome)
}

// Result is the fate of one recipient.
type Result struct {
	// Index counts recipients pulled from the source, starting at 1.
	Index int
	// Total is the source size, or 0 when it is not known in advance.
	Total     int
	Recipient string
	Outcome   providers.Outcome
	// SkipReason names the failed eligibility check, if any.
	SkipReason string
	// Err is a *RejectionError or the transport error, if any.
	Err    error
	DryRun bool
	At     time.Time
}

// Sent reports whether the telegram was accepted.
func (r Result) Sent() bool {
	return r.SkipReason == "" && r.Err == nil && !r.DryRun && r.Outcome == providers.Accepted
}

// Skip is a recipient left out by an eligibility check.
type Skip struct {
	Recipient string
	Reason    string
}

// Report summarizes a finished campaign.
type Report struct {
	State State
	// Sent lists accepted recipients in send order.
	Sent []string
	// WouldSend lists eligible recipients of a dry run.
	WouldSend []string
	Outcomes  map[providers.Outcome]int
	Skipped   []Skip
	// Failed lists recipients whose submission failed in transport.
	Failed   []string
	Started  time.Time
	Finished time.Time
}

func (r *Report) record(res Result) {
	switch {
	case res.SkipReason != "":
		r.Skipped = append(r.Skipped, Skip{Recipient: res.Recipient, Reason: res.SkipReason})
	case res.DryRun:
		r.WouldSend = append(r.WouldSend, res.Recipient)
	case res.Err != nil && !errors.As(res.Err, new(*RejectionError)):
		r.Failed = append(r.Failed, res.Recipient)
	default:
		r.Outcomes[res.Outcome]++
		if res.Outcome == providers.Accepted {
			r.Sent = append(r.Sent, res.Recipient)
		}
	}
}

// Config describes one campaign.
type Config struct {
	Source      Source
	Credentials providers.Credentials
	Class       Class
	// Cadence overrides the class cadence when non-zero.
	Cadence time.Duration
	// Profiles fetches recipient profiles for Predicates. Required when
	// Predicates is not empty.
	Profiles   providers.Reader
	Predicates []Predicate
	// DryRun resolves and checks recipients without sending anything.
	DryRun bool
	// Locks guards credentials against concurrent campaigns. Nil uses a
	// process-wide registry.
	Locks    *LockRegistry
	Metrics  *Metrics
	Log      Logger
	OnResult func(Result)
}

// Driver runs a single campaign.
type Driver struct {
	writer providers.Writer
	cfg    Config
	log    Logger

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	cancelled bool
}

// New validates cfg and returns an idle driver.
func New(writer providers.Writer, cfg Config) (*Driver, error) {
	if cfg.Source == nil {
		return nil, errors.New("campaign has no recipient source")
	}
	if !cfg.DryRun {
		if err := cfg.Credentials.Validate(); err != nil {
			return nil, err
		}
	}
	if len(cfg.Predicates) > 0 && cfg.Profiles == nil {
		return nil, errors.New("eligibility checks need a profile reader")
	}
	if cfg.Cadence == 0 {
		cfg.Cadence = cfg.Class.Cadence()
	}
	if spacing := writer.MinInterval(); cfg.Cadence < spacing {
		return nil, fmt.Errorf("cadence %s is below the provider's minimum spacing %s", cfg.Cadence, spacing)
	}
	if cfg.Locks == nil {
		cfg.Locks = defaultLocks
	}
	log := cfg.Log
	if log == nil {
		log = monitor.NopLogger{}
	}
	return &Driver{writer: writer, cfg: cfg, log: log}, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Cancel stops the campaign at its next cancellation point. Cancelling an
// idle driver makes Run return at once.
func (d *Driver) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
	if d.cancel != nil {
		d.cancel()
	}
}

// Run dispatches until the source is exhausted, ctx is done or Cancel is
// called. The report is returned in every case; the error is non-nil only
// when the campaign could not start or its source failed.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{Outcomes: make(map[providers.Outcome]int), Started: time.Now()}

	d.mu.Lock()
	if d.state != Idle {
		d.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancel = cancel
	if d.cancelled {
		cancel()
	}
	d.state = Running
	d.mu.Unlock()

	if !d.cfg.DryRun {
		release, err := d.cfg.Locks.Acquire(d.cfg.Credentials.ClientKey)
		if err != nil {
			return d.finish(report, Stopped), err
		}
		defer release()
	}

	d.cfg.Metrics.running(1)
	defer d.cfg.Metrics.running(-1)

	total, label := 0, "live recipients"
	if l, ok := d.cfg.Source.(interface{ Len() int }); ok {
		total = l.Len()
		label = strconv.Itoa(total) + " recipients"
	}
	d.log.Infof("Starting %s campaign (%s), cadence %s", d.cfg.Class, label, d.cfg.Cadence)

	var lastSend time.Time
	for index := 1; ; index++ {
		if ctx.Err() != nil {
			return d.finish(report, Cancelled), nil
		}

		recipient, ok, err := d.cfg.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return d.finish(report, Cancelled), nil
			}
			d.log.Errorf("Recipient source failed: %v", err)
			return d.finish(report, Stopped), fmt.Errorf("recipient source: %w", err)
		}
		if !ok {
			return d.finish(report, Exhausted), nil
		}

		res := Result{Index: index, Total: total, Recipient: recipient, DryRun: d.cfg.DryRun}
		res.SkipReason = d.check(ctx, recipient)
		if res.SkipReason == "" && !d.cfg.DryRun {
			if err := d.pace(ctx, lastSend); err != nil {
				return d.finish(report, Cancelled), nil
			}
			res.Outcome, res.Err = d.writer.SendTelegram(ctx, d.cfg.Credentials, recipient)
			lastSend = time.Now()
			if res.Err == nil && res.Outcome != providers.Accepted {
				res.Err = &RejectionError{Recipient: recipient, Outcome: res.Outcome}
			}
		}
		res.At = time.Now()
		if ctx.Err() != nil && (res.Err != nil || res.SkipReason != "") {
			return d.finish(report, Cancelled), nil
		}
		d.publish(report, res)
	}
}

// pace waits until a full cadence has passed since the previous send
// returned.
func (d *Driver) pace(ctx context.Context, lastSend time.Time) error {
	if lastSend.IsZero() {
		return ctx.Err()
	}
	return sleep(ctx, d.cfg.Cadence-time.Since(lastSend))
}

// check fetches the recipient's profile and runs the predicates in order,
// stopping at the first failure. It returns the failure reason.
func (d *Driver) check(ctx context.Context, recipient string) string {
	if len(d.cfg.Predicates) == 0 {
		return ""
	}
	profile, err := d.cfg.Profiles.Nation(ctx, recipient)
	if err != nil {
		return "profile unavailable: " + err.Error()
	}
	for _, p := range d.cfg.Predicates {
		if !p.Check(profile) {
			return p.Name
		}
	}
	return ""
}

func (d *Driver) publish(report *Report, res Result) {
	report.record(res)
	pos := strconv.Itoa(res.Index)
	if res.Total > 0 {
		pos += "/" + strconv.Itoa(res.Total)
	}

	switch {
	case res.SkipReason != "":
		d.cfg.Metrics.skipped()
		d.log.Infof("[%s] Skipping %s: %s", pos, res.Recipient, res.SkipReason)
	case res.DryRun:
		d.log.Infof("[%s] Would send to %s", pos, res.Recipient)
	case res.Err != nil && res.Outcome == providers.Unclassified && !errors.As(res.Err, new(*RejectionError)):
		d.cfg.Metrics.transportError()
		d.log.Warnf("[%s] Sending to %s failed: %v", pos, res.Recipient, res.Err)
	case res.Outcome == providers.Accepted:
		d.cfg.Metrics.outcome(res.Outcome)
		d.log.Infof("[%s] Sent to %s", pos, res.Recipient)
	default:
		d.cfg.Metrics.outcome(res.Outcome)
		d.log.Warnf("[%s] %v", pos, res.Err)
	}

	if d.cfg.OnResult != nil {
		d.cfg.OnResult(res)
	}
}

func (d *Driver) finish(report *Report, state State) *Report {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
	report.State = state
	report.Finished = time.Now()
	d.log.Infof("Campaign %s: %d sent, %d skipped, %d failed", state, len(report.Sent), len(report.Skipped), len(report.Failed))
	return report
}
