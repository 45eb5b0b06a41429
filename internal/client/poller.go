package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

const (
	// DefaultSafetyTimeout bounds how long an observation waits for a
	// terminal signal.
	DefaultSafetyTimeout = 10 * time.Minute

	// DefaultMaxConsecutiveFailures is the number of failed polls after
	// which the transport is reported as degraded.
	DefaultMaxConsecutiveFailures = 5
)

// IntervalPolicy returns the delay before the next poll given the latest
// counters.
type IntervalPolicy func(job.Counts) time.Duration

// DefaultIntervalPolicy polls quickly while a job is young and backs off as
// it nears completion: 1s below 25%, 1.5s below 50%, 2s below 75%, then 3s.
// An unknown total polls every second.
func DefaultIntervalPolicy(c job.Counts) time.Duration {
	ratio := c.Ratio()
	switch {
	case ratio < 0.25:
		return time.Second
	case ratio < 0.5:
		return 1500 * time.Millisecond
	case ratio < 0.75:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}

// JobFetcher reads a job snapshot. *Client satisfies it.
type JobFetcher interface {
	Job(ctx context.Context, id string) (job.ImportJob, error)
}

// ReconcilerConfig tunes a Reconciler. Zero values take the defaults.
type ReconcilerConfig struct {
	Policy                 IntervalPolicy
	SafetyTimeout          time.Duration
	MaxConsecutiveFailures int
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Policy == nil {
		c.Policy = DefaultIntervalPolicy
	}
	if c.SafetyTimeout <= 0 {
		c.SafetyTimeout = DefaultSafetyTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return c
}

// Reconciler polls a job snapshot as a fallback to the push stream. It
// emits snapshots, degradation and recovery, a lost-job signal on 404 and
// the safety timeout. Polling stops at the first terminal snapshot.
type Reconciler struct {
	fetch JobFetcher
	out   chan<- Signal
	cfg   ReconcilerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler returns a Reconciler that sends its signals to out.
func NewReconciler(fetch JobFetcher, out chan<- Signal, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{fetch: fetch, out: out, cfg: cfg.withDefaults()}
}

// Start begins polling jobID in the background. The safety timeout counts
// from this call. Starting a running Reconciler does nothing.
func (r *Reconciler) Start(ctx context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		r.run(ctx, jobID)
	}(r.done)
}

// Stop ends polling and waits for the poll loop to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reconciler) run(ctx context.Context, jobID string) {
	safety := time.NewTimer(r.cfg.SafetyTimeout)
	defer safety.Stop()

	poll := time.NewTimer(0)
	defer poll.Stop()

	failures := 0
	degraded := false
	var last job.Counts

	for {
		select {
		case <-ctx.Done():
			return

		case <-safety.C:
			slog.Warn("import observation timed out", "job_id", jobID, "after", r.cfg.SafetyTimeout)
			r.emit(ctx, Signal{Kind: SignalTimeout, Source: SourceLocal, After: r.cfg.SafetyTimeout})
			return

		case <-poll.C:
			j, err := r.fetch.Job(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if IsNotFound(err) {
					r.emit(ctx, Signal{Kind: SignalLost, Source: SourcePoll, Err: err})
					return
				}
				failures++
				slog.Debug("job poll failed", "job_id", jobID, "failures", failures, "error", err)
				if failures >= r.cfg.MaxConsecutiveFailures && !degraded {
					degraded = true
					r.emit(ctx, Signal{Kind: SignalDegraded, Source: SourcePoll, Err: err})
				}
				poll.Reset(r.cfg.Policy(last))
				continue
			}

			failures = 0
			if degraded {
				degraded = false
				r.emit(ctx, Signal{Kind: SignalRecovered, Source: SourcePoll})
			}
			last = j.Counts
			r.emit(ctx, JobSignal(SourcePoll, j))
			if j.State.Terminal() {
				return
			}
			poll.Reset(r.cfg.Policy(last))
		}
	}
}

func (r *Reconciler) emit(ctx context.Context, s Signal) {
	select {
	case r.out <- s:
	case <-ctx.Done():
	}
}
