package core

// executor.go runs imports.
//
// The batch engine is shared by both transports: the sync path drives it
// inline and collects the result, the async path drives it through a
// JobLease so every batch becomes one registry delta.
//
// Cancellation is cooperative. The engine asks whether to proceed before
// each batch and never abandons a batch half way, so counters always land on
// a batch boundary. Writes run on a context detached from cancellation and
// bounded only by the per-batch timeout.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

const (
	// DefaultBatchSize is the number of rows applied per batch.
	DefaultBatchSize = 500

	// DefaultBatchTimeout bounds one write of a started batch.
	DefaultBatchTimeout = 2 * time.Minute
)

// errStopped is returned by the batch engine when proceed reports false.
var errStopped = errors.New("import stopped")

// batchEngine applies validated rows in fixed-size batches.
type batchEngine struct {
	writer       RowWriter
	batchSize    int
	batchTimeout time.Duration
}

// run processes rows batch by batch. Before each batch it calls proceed; a
// false answer stops the run with errStopped. After each batch it hands the
// batch delta to emit. A writer error is fatal and returned as is.
// The returned counts cover every batch that completed.
func (b batchEngine) run(
	ctx context.Context,
	def DatasetDefinition,
	rows []Row,
	opts job.Options,
	proceed func() bool,
	emit func(job.Delta) error,
) (job.Counts, error) {
	size := b.batchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	counts := job.Counts{Total: len(rows)}
	for start := 0; start < len(rows); start += size {
		if !proceed() {
			return counts, errStopped
		}

		end := start + size
		if end > len(rows) {
			end = len(rows)
		}

		delta, err := b.applyBatch(ctx, def, rows[start:end], opts)
		if err != nil {
			return counts, err
		}
		delta.Offset = counts.Processed

		if err := emit(delta); err != nil {
			return counts, fmt.Errorf("record progress: %w", err)
		}

		counts.Processed += delta.Processed
		counts.Succeeded += delta.Succeeded
		counts.Failed += delta.Failed
	}
	return counts, nil
}

// applyBatch counts invalid rows as failed and sends the rest to the writer.
// With ValidateOnly nothing is written and valid rows count as succeeded.
func (b batchEngine) applyBatch(ctx context.Context, def DatasetDefinition, batch []Row, opts job.Options) (job.Delta, error) {
	d := job.Delta{Processed: len(batch)}

	valid := make([]Row, 0, len(batch))
	for _, row := range batch {
		if row.Valid() {
			valid = append(valid, row)
			continue
		}
		d.Failed++
		d.Errors = append(d.Errors, row.Errors...)
	}

	if len(valid) > 0 {
		if opts.ValidateOnly || b.writer == nil {
			d.Succeeded += len(valid)
		} else {
			wctx, cancel := b.writeContext(ctx)
			outcomes, err := b.writer.WriteBatch(wctx, def, valid, opts.OverwriteExisting)
			cancel()
			if err != nil {
				return job.Delta{}, err
			}
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					d.Errors = append(d.Errors, *o.Err)
				}
			}
			d.Failed += failed
			d.Succeeded += len(valid) - failed
		}
	}

	sort.SliceStable(d.Errors, func(i, j int) bool {
		return d.Errors[i].Row < d.Errors[j].Row
	})
	return d, nil
}

// writeContext keeps ctx's values but not its cancellation, so shutdown or
// the job timeout never abort a batch that already started.
func (b batchEngine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := b.batchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Task is one queued async import.
type Task struct {
	JobID       string
	FileName    string
	Data        []byte
	DatasetType job.DatasetType
	Options     job.Options
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Registry  *JobRegistry
	Validator RowValidator
	Writer    RowWriter
	History   JobHistory // optional
	Notifier  Notifier   // optional
	BatchSize int
	Timeout   time.Duration

	// BatchTimeout bounds a single batch write. Zero means DefaultBatchTimeout.
	BatchTimeout time.Duration
}

// Executor runs async import jobs against the registry.
type Executor struct {
	registry  *JobRegistry
	validator RowValidator
	engine    batchEngine
	history   JobHistory
	notifier  Notifier
	timeout   time.Duration
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Validator == nil {
		cfg.Validator = NewCSVValidator()
	}
	return &Executor{
		registry:  cfg.Registry,
		validator: cfg.Validator,
		engine:    batchEngine{writer: cfg.Writer, batchSize: cfg.BatchSize, batchTimeout: cfg.BatchTimeout},
		history:   cfg.History,
		notifier:  cfg.Notifier,
		timeout:   cfg.Timeout,
	}
}

// Run executes t to a terminal state. ctx is the server lifetime context;
// cancelling it stops the job at the next batch boundary.
func (e *Executor) Run(ctx context.Context, t Task) {
	log := slog.With("job_id", t.JobID, "file", t.FileName)

	lease, err := e.registry.Lease(t.JobID)
	if err != nil {
		log.Error("executor could not lease job", "error", err)
		return
	}
	defer lease.Close()

	var final job.ImportJob
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in import executor", "panic", r)
			final = e.fail(lease, fmt.Sprintf("internal error: %v", r))
		}
		if final.State.Terminal() {
			e.finish(final, log)
		}
	}()

	final = e.execute(ctx, lease, t, log)
}

func (e *Executor) execute(ctx context.Context, lease *JobLease, t Task, log *slog.Logger) job.ImportJob {
	if snap := lease.Snapshot(); snap.State.Terminal() {
		log.Info("import job finished before start", "state", snap.State)
		return snap
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if _, err := lease.Start(); err != nil {
		log.Warn("import job could not start", "error", err)
		return lease.Snapshot()
	}
	started := time.Now()
	log.Info("import job started", "dataset", t.DatasetType, "bytes", len(t.Data))

	validation, err := e.validator.Validate(ctx, bytes.NewReader(t.Data), t.DatasetType, t.FileName)
	t.Data = nil
	if err != nil {
		if ctx.Err() != nil {
			return e.stop(ctx, lease, log)
		}
		log.Warn("import file rejected", "error", err)
		return e.fail(lease, err.Error())
	}

	def, ok := Dataset(validation.DetectedType)
	if !ok {
		return e.fail(lease, fmt.Sprintf("%v: %s", job.ErrUnknownDataset, validation.DetectedType))
	}
	if _, err := lease.SetTotal(def.Info.Key, len(validation.Rows)); err != nil {
		return e.fail(lease, err.Error())
	}

	proceed := func() bool { return ctx.Err() == nil && !lease.CancelRequested() }
	emit := func(d job.Delta) error {
		_, err := lease.ApplyDelta(d)
		return err
	}

	counts, err := e.engine.run(ctx, def, validation.Rows, t.Options, proceed, emit)

	switch {
	case err == nil:
		snap, terr := lease.MarkTerminal(job.StateCompleted, counts, completionMessage(counts, t.Options))
		if terr != nil {
			log.Error("mark job completed", "error", terr)
			return lease.Snapshot()
		}
		log.Info("import job completed",
			"dataset", def.Info.Key,
			"processed", counts.Processed,
			"succeeded", counts.Succeeded,
			"failed", counts.Failed,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return snap
	case errors.Is(err, errStopped), ctx.Err() != nil:
		return e.stop(ctx, lease, log)
	default:
		log.Error("import job failed", "error", err, "processed", counts.Processed)
		return e.fail(lease, err.Error())
	}
}

// stop moves the job to Cancelled with whatever progress was recorded.
func (e *Executor) stop(ctx context.Context, lease *JobLease, log *slog.Logger) job.ImportJob {
	msg := "cancelled by request"
	switch {
	case lease.CancelRequested():
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		msg = "import timed out"
	case ctx.Err() != nil:
		msg = "server shutting down"
	}

	snap, err := lease.MarkTerminal(job.StateCancelled, lease.Snapshot().Counts, msg)
	if err != nil {
		log.Error("mark job cancelled", "error", err)
		return lease.Snapshot()
	}
	log.Info("import job cancelled", "reason", msg, "processed", snap.Counts.Processed)
	return snap
}

// fail moves the job to Error with message. A job that never started is
// started first so the transition stays legal.
func (e *Executor) fail(lease *JobLease, message string) job.ImportJob {
	snap := lease.Snapshot()
	if snap.State.Terminal() {
		return snap
	}
	if snap.State == job.StatePending {
		if _, err := lease.Start(); err != nil {
			return lease.Snapshot()
		}
	}

	final, err := lease.MarkTerminal(job.StateError, lease.Snapshot().Counts, message)
	if err != nil {
		slog.Error("mark job failed", "job_id", lease.ID(), "error", err)
		return lease.Snapshot()
	}
	return final
}

// finish records the terminal snapshot and sends the completion notice.
func (e *Executor) finish(final job.ImportJob, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.history != nil {
		if err := e.history.Record(ctx, final); err != nil {
			log.Warn("record job history", "error", err)
		}
	}
	if e.notifier != nil && final.Options.NotifyOnCompletion {
		if err := e.notifier.JobFinished(ctx, final); err != nil {
			log.Warn("completion notification failed", "error", err)
		}
	}
}

func completionMessage(c job.Counts, opts job.Options) string {
	verb := "imported"
	if opts.ValidateOnly {
		verb = "validated"
	}
	if c.Failed > 0 {
		return fmt.Sprintf("%d of %d rows %s, %d with errors", c.Succeeded, c.Processed, verb, c.Failed)
	}
	return fmt.Sprintf("%d rows %s", c.Succeeded, verb)
}
