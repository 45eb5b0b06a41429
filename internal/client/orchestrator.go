package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
	"golang.org/x/sync/errgroup"
)

const (
	// signalBuffer is the capacity of an observation's signal channel.
	signalBuffer = 64

	// reportTimeout bounds the fetch of a final job record.
	reportTimeout = 5 * time.Second
)

// Config tunes an Orchestrator. Zero values take the defaults.
type Config struct {
	// DisablePush turns the event stream off so only polling runs.
	DisablePush bool

	// StreamRetry is the delay before the push listener reconnects.
	StreamRetry time.Duration

	Reconciler ReconcilerConfig
}

// Orchestrator submits imports and observes background jobs through both
// the push stream and the polling reconciler.
type Orchestrator struct {
	client *Client
	cfg    Config
}

// NewOrchestrator returns an Orchestrator using c.
func NewOrchestrator(c *Client, cfg Config) *Orchestrator {
	return &Orchestrator{client: c, cfg: cfg}
}

// Submit uploads a file. Small files come back with their SyncResult; for
// background imports only the job id is returned.
func (o *Orchestrator) Submit(ctx context.Context, up FileUpload) (Submission, error) {
	return o.client.Submit(ctx, up)
}

// SubmitAndObserve uploads a file and, for a background import, starts
// observing it. The Observation is nil for inline imports.
func (o *Orchestrator) SubmitAndObserve(ctx context.Context, up FileUpload) (Submission, *Observation, error) {
	sub, err := o.Submit(ctx, up)
	if err != nil {
		return Submission{}, nil, err
	}
	if sub.Mode != job.ModeAsync {
		return sub, nil, nil
	}
	return sub, o.Observe(sub.JobID), nil
}

// Observe starts following jobID and returns at once. The push listener
// and the reconciler feed one signal channel; a single reducer goroutine
// owns the view. Call Close when the caller loses interest before the job
// finishes.
func (o *Orchestrator) Observe(jobID string) *Observation {
	ctx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	obs := &Observation{
		jobID:   jobID,
		client:  o.client,
		signals: make(chan Signal, signalBuffer),
		updates: make(chan View, 1),
		done:    make(chan struct{}),
		view:    NewView(jobID),
		stop:    stop,
		group:   g,
	}
	obs.reconciler = NewReconciler(o.client, obs.signals, o.cfg.Reconciler)

	if !o.cfg.DisablePush {
		g.Go(func() error {
			listen(gctx, o.client, jobID, o.cfg.StreamRetry, obs.signals)
			return nil
		})
	}
	obs.reconciler.Start(gctx, jobID)

	go obs.reduce(ctx)
	return obs
}

// Observation is the live view of one background job.
type Observation struct {
	jobID      string
	client     *Client
	signals    chan Signal
	updates    chan View
	done       chan struct{}
	reconciler *Reconciler
	stop       context.CancelFunc
	group      *errgroup.Group

	mu   sync.RWMutex
	view View

	closeOnce sync.Once
}

// JobID returns the observed job id.
func (ob *Observation) JobID() string { return ob.jobID }

// View returns the current view.
func (ob *Observation) View() View {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.view
}

// Updates delivers the view after each change. Slow readers only see the
// latest view. The channel closes when the observation ends.
func (ob *Observation) Updates() <-chan View { return ob.updates }

// Done is closed when the view is final or the observation was closed.
func (ob *Observation) Done() <-chan struct{} { return ob.done }

// Wait blocks until the observation ends or ctx is done and returns the
// view at that point.
func (ob *Observation) Wait(ctx context.Context) (View, error) {
	select {
	case <-ob.done:
		return ob.View(), nil
	case <-ctx.Done():
		return ob.View(), ctx.Err()
	}
}

// Cancel asks the server to cancel the job. The view shows cancelling
// until a terminal state arrives from the server, which always wins. If
// the job had already finished its final snapshot is fetched at once.
func (ob *Observation) Cancel(ctx context.Context) error {
	if !ob.send(Signal{Kind: SignalCancelRequested, Source: SourceLocal}) {
		return nil
	}

	res, err := ob.client.Cancel(ctx, ob.jobID)
	switch {
	case err == nil:
		if res.State.Terminal() {
			ob.refresh(ctx)
		}
		return nil
	case IsConflict(err):
		ob.refresh(ctx)
		return nil
	case IsNotFound(err):
		ob.send(Signal{Kind: SignalLost, Source: SourceLocal, Err: err})
		return err
	default:
		ob.send(Signal{Kind: SignalCancelRejected, Source: SourceLocal, Err: err})
		return err
	}
}

// Close stops both watchers and the reducer. The view keeps its last value.
func (ob *Observation) Close() {
	ob.closeOnce.Do(func() {
		ob.stop()
		ob.reconciler.Stop()
		_ = ob.group.Wait()
		<-ob.done
	})
}

// refresh fetches the snapshot once and feeds it to the reducer.
func (ob *Observation) refresh(ctx context.Context) {
	j, err := ob.client.Job(ctx, ob.jobID)
	if err != nil {
		slog.Debug("refresh after cancel failed", "job_id", ob.jobID, "error", err)
		return
	}
	ob.send(JobSignal(SourcePoll, j))
}

// send queues a signal unless the observation already ended.
func (ob *Observation) send(s Signal) bool {
	select {
	case <-ob.done:
		return false
	default:
	}
	select {
	case ob.signals <- s:
		return true
	case <-ob.done:
		return false
	}
}

// reduce is the only writer of the view.
func (ob *Observation) reduce(ctx context.Context) {
	defer close(ob.updates)
	defer close(ob.done)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-ob.signals:
			ob.mu.RLock()
			cur := ob.view
			ob.mu.RUnlock()

			next, changed := Reduce(cur, s)
			if !changed {
				continue
			}
			if next.Final && s.Job == nil && next.Counts.Failed > 0 && len(next.Errors) == 0 {
				next = ob.fetchReport(ctx, next)
			}
			ob.mu.Lock()
			ob.view = next
			ob.mu.Unlock()
			ob.publish(next)

			if next.Final {
				slog.Debug("import observation finished",
					"job_id", ob.jobID,
					"state", next.State,
					"local", next.LocalError,
					"source", next.Source,
				)
				// Watchers are cancelled; their pending signals are dropped.
				ob.stop()
				return
			}
		}
	}
}

// fetchReport completes a final view built from a pushed event with the
// row errors that only the job record carries.
func (ob *Observation) fetchReport(ctx context.Context, v View) View {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	j, err := ob.client.Job(ctx, ob.jobID)
	if err != nil {
		slog.Debug("fetch final report failed", "job_id", ob.jobID, "error", err)
		return v
	}
	return WithReport(v, j)
}

// publish offers v to Updates, replacing an unread older view.
func (ob *Observation) publish(v View) {
	select {
	case <-ob.updates:
	default:
	}
	ob.updates <- v
}
