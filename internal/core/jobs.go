package core

// jobs.go implements the JobRegistry: the authoritative in-memory record of
// every async import job.
//
// Lifecycle: Create (Pending) -> Start (Processing) -> ApplyDelta ... ->
// MarkTerminal -> retained for the retention window -> Sweep. Only a
// JobLease can start, advance or finish a job; RequestCancel is the one
// mutation open to other callers.
//
// Locking: the registry mutex guards the map only and is always taken before
// an entry mutex. Each entry has its own mutex that serializes writes to that
// job; readers always receive a deep copy. Change hooks run while the entry
// lock is held, so observers see the mutations of one job in commit order.

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

var (
	// ErrJobNotFound is returned for ids the registry does not know.
	ErrJobNotFound = errors.New("import job not found")

	// ErrJobExists is returned by Create for a duplicate id.
	ErrJobExists = errors.New("import job already exists")

	// ErrInvalidDelta is returned for deltas that would break the counter invariants.
	ErrInvalidDelta = errors.New("invalid progress delta")

	// ErrStaleDelta is returned for a delta that was already applied.
	ErrStaleDelta = errors.New("stale progress delta")

	// ErrDeltaGap is returned when a delta skips progress that was never applied.
	ErrDeltaGap = errors.New("progress delta out of order")

	// ErrInvalidTransition is returned when the state machine forbids a change.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrAlreadyTerminal is returned when a finished job is asked to change.
	ErrAlreadyTerminal = errors.New("import job already finished")

	// ErrLeaseHeld is returned when a second writer asks for a job's lease.
	ErrLeaseHeld = errors.New("import job already has a writer")

	// ErrLeaseClosed is returned by writes through a released lease.
	ErrLeaseClosed = errors.New("import job lease is closed")
)

// DefaultRetention is how long terminal jobs stay in the registry.
const DefaultRetention = time.Hour

// DefaultMaxReportedErrors caps the row errors kept per job.
const DefaultMaxReportedErrors = 1000

// RegistryOptions configures a JobRegistry.
type RegistryOptions struct {
	Retention time.Duration
	MaxErrors int
	Now       func() time.Time
}

// JobRegistry stores import jobs and enforces their state machine.
type JobRegistry struct {
	retention time.Duration
	maxErrors int
	now       func() time.Time

	mu      sync.RWMutex
	entries map[string]*jobEntry

	hooksMu  sync.RWMutex
	onChange []func(job.ImportJob)
}

type jobEntry struct {
	mu     sync.Mutex
	job    job.ImportJob
	leased bool
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry(opts RegistryOptions) *JobRegistry {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxReportedErrors
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &JobRegistry{
		retention: opts.Retention,
		maxErrors: opts.MaxErrors,
		now:       opts.Now,
		entries:   make(map[string]*jobEntry),
	}
}

// OnChange registers fn to be called with a snapshot after every committed
// mutation. Hooks must not block and must not call back into the registry
// for the same job.
func (r *JobRegistry) OnChange(fn func(job.ImportJob)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Create inserts j in the Pending state.
func (r *JobRegistry) Create(j job.ImportJob) (job.ImportJob, error) {
	if j.ID == "" {
		return job.ImportJob{}, fmt.Errorf("create job: empty id")
	}

	now := r.now()
	j.State = job.StatePending
	j.Counts = job.Counts{}
	j.Errors = nil
	j.ErrorsTruncated = false
	j.CancelRequested = false
	j.Message = ""
	j.CreatedAt = now
	j.UpdatedAt = now
	j.StartedAt = nil
	j.FinishedAt = nil

	e := &jobEntry{job: j}

	r.mu.Lock()
	if _, exists := r.entries[j.ID]; exists {
		r.mu.Unlock()
		return job.ImportJob{}, fmt.Errorf("%w: %s", ErrJobExists, j.ID)
	}
	r.entries[j.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.job.Clone()
	r.notify(snap)
	return snap, nil
}

// Get returns a snapshot of the job.
func (r *JobRegistry) Get(id string) (job.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return job.ImportJob{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// start moves a Pending job to Processing.
func (r *JobRegistry) start(id string) (job.ImportJob, error) {
	return r.mutate(id, func(j *job.ImportJob, now time.Time) error {
		if j.State.Terminal() {
			return ErrAlreadyTerminal
		}
		if !j.State.CanTransition(job.StateProcessing) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, job.StateProcessing)
		}
		j.State = job.StateProcessing
		j.StartedAt = &now
		return nil
	})
}

// setTotal records the detected dataset and row count of a Processing job.
// The total can only be set once.
func (r *JobRegistry) setTotal(id string, dt job.DatasetType, total int) (job.ImportJob, error) {
	return r.mutate(id, func(j *job.ImportJob, _ time.Time) error {
		if j.State != job.StateProcessing {
			return fmt.Errorf("%w: set total while %s", ErrInvalidTransition, j.State)
		}
		if total < j.Counts.Processed || (j.Counts.Total != 0 && j.Counts.Total != total) {
			return fmt.Errorf("%w: total %d", ErrInvalidDelta, total)
		}
		if dt != "" {
			j.DatasetType = dt
		}
		j.Counts.Total = total
		return nil
	})
}

// applyDelta folds one batch of progress into a Processing job. Calling it
// on a terminal job is a no-op that returns the frozen snapshot.
func (r *JobRegistry) applyDelta(id string, d job.Delta) (job.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return job.ImportJob{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	j := &e.job
	if j.State.Terminal() {
		return j.Clone(), nil
	}
	if !d.Valid() {
		return job.ImportJob{}, fmt.Errorf("%w: %+v", ErrInvalidDelta, d)
	}
	if j.State != job.StateProcessing {
		return job.ImportJob{}, fmt.Errorf("%w: delta while %s", ErrInvalidTransition, j.State)
	}
	switch {
	case d.Offset < j.Counts.Processed:
		return job.ImportJob{}, fmt.Errorf("%w: offset %d, processed %d", ErrStaleDelta, d.Offset, j.Counts.Processed)
	case d.Offset > j.Counts.Processed:
		return job.ImportJob{}, fmt.Errorf("%w: offset %d, processed %d", ErrDeltaGap, d.Offset, j.Counts.Processed)
	}

	next := j.Counts
	next.Processed += d.Processed
	next.Succeeded += d.Succeeded
	next.Failed += d.Failed
	if !next.Consistent() {
		return job.ImportJob{}, fmt.Errorf("%w: processed %d exceeds total %d", ErrInvalidDelta, next.Processed, next.Total)
	}

	j.Counts = next
	r.appendErrors(j, d.Errors)
	j.UpdatedAt = r.now()

	snap := j.Clone()
	r.notify(snap)
	return snap, nil
}

// markTerminal finishes a job. final must satisfy the counter invariants and
// cover the counts already recorded. A zero final.Total keeps the known total.
func (r *JobRegistry) markTerminal(id string, state job.State, final job.Counts, message string) (job.ImportJob, error) {
	return r.mutate(id, func(j *job.ImportJob, now time.Time) error {
		if j.State.Terminal() {
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, j.State)
		}
		if !state.Terminal() || !j.State.CanTransition(state) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, state)
		}
		if final.Total == 0 {
			final.Total = j.Counts.Total
		}
		if !final.Consistent() || !final.Covers(j.Counts) {
			return fmt.Errorf("%w: final counts %+v behind %+v", ErrInvalidDelta, final, j.Counts)
		}

		j.State = state
		j.Counts = final
		j.Message = message
		j.FinishedAt = &now
		return nil
	})
}

// RequestCancel cancels a Pending job immediately and flags a Processing
// job so its executor stops at the next batch boundary.
func (r *JobRegistry) RequestCancel(id string) (job.ImportJob, error) {
	return r.mutate(id, func(j *job.ImportJob, now time.Time) error {
		switch j.State {
		case job.StatePending:
			j.State = job.StateCancelled
			j.Message = "cancelled before start"
			j.FinishedAt = &now
		case job.StateProcessing:
			j.CancelRequested = true
		default:
			return fmt.Errorf("%w: %s", ErrAlreadyTerminal, j.State)
		}
		return nil
	})
}

// CancelRequested reports whether a cancel was requested for id.
func (r *JobRegistry) CancelRequested(id string) bool {
	j, err := r.Get(id)
	if err != nil {
		return false
	}
	return j.CancelRequested
}

// Sweep removes terminal jobs that finished more than the retention window
// before now. Jobs with an active writer are kept. It returns the removed ids.
func (r *JobRegistry) Sweep(now time.Time) []string {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.entries {
		e.mu.Lock()
		expired := e.job.State.Terminal() && !e.leased &&
			e.job.FinishedAt != nil && e.job.FinishedAt.Before(cutoff)
		e.mu.Unlock()

		if expired {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// RegistryStats is a snapshot of job counts by state.
type RegistryStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Terminal   int `json:"terminal"`
}

// Stats returns job counts by state.
func (r *JobRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s RegistryStats
	for _, e := range r.entries {
		e.mu.Lock()
		state := e.job.State
		e.mu.Unlock()

		s.Total++
		switch {
		case state == job.StatePending:
			s.Pending++
		case state == job.StateProcessing:
			s.Processing++
		case state.Terminal():
			s.Terminal++
		}
	}
	return s
}

// Lease grants the exclusive write handle for id. Only one lease per job can
// be held at a time.
func (r *JobRegistry) Lease(id string) (*JobLease, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leased {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, id)
	}
	e.leased = true
	return &JobLease{registry: r, entry: e, id: id}, nil
}

func (r *JobRegistry) entry(id string) (*jobEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e, nil
}

// mutate applies fn to the job under its entry lock. fn sees a working copy;
// the copy is committed and observers notified only when fn returns nil.
func (r *JobRegistry) mutate(id string, fn func(j *job.ImportJob, now time.Time) error) (job.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return job.ImportJob{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	work := e.job.Clone()
	if err := fn(&work, now); err != nil {
		return job.ImportJob{}, err
	}
	work.UpdatedAt = now
	e.job = work

	snap := work.Clone()
	r.notify(snap)
	return snap, nil
}

func (r *JobRegistry) appendErrors(j *job.ImportJob, errs []job.RowError) {
	room := r.maxErrors - len(j.Errors)
	if room <= 0 {
		if len(errs) > 0 {
			j.ErrorsTruncated = true
		}
		return
	}
	if len(errs) > room {
		errs = errs[:room]
		j.ErrorsTruncated = true
	}
	j.Errors = append(j.Errors, errs...)
}

func (r *JobRegistry) notify(snap job.ImportJob) {
	r.hooksMu.RLock()
	hooks := r.onChange
	r.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// JobLease is the single-writer handle an executor holds while it runs a job.
type JobLease struct {
	registry *JobRegistry
	entry    *jobEntry
	id       string
	once     sync.Once
	closed   atomic.Bool
}

// ID returns the leased job id.
func (l *JobLease) ID() string { return l.id }

// Snapshot returns the current state of the leased job.
func (l *JobLease) Snapshot() job.ImportJob {
	l.entry.mu.Lock()
	defer l.entry.mu.Unlock()
	return l.entry.job.Clone()
}

// Start moves the job to Processing.
func (l *JobLease) Start() (job.ImportJob, error) {
	if l.closed.Load() {
		return job.ImportJob{}, fmt.Errorf("%w: %s", ErrLeaseClosed, l.id)
	}
	return l.registry.start(l.id)
}

// SetTotal records the detected dataset and row count.
func (l *JobLease) SetTotal(dt job.DatasetType, total int) (job.ImportJob, error) {
	if l.closed.Load() {
		return job.ImportJob{}, fmt.Errorf("%w: %s", ErrLeaseClosed, l.id)
	}
	return l.registry.setTotal(l.id, dt, total)
}

// ApplyDelta applies one batch of progress.
func (l *JobLease) ApplyDelta(d job.Delta) (job.ImportJob, error) {
	if l.closed.Load() {
		return job.ImportJob{}, fmt.Errorf("%w: %s", ErrLeaseClosed, l.id)
	}
	return l.registry.applyDelta(l.id, d)
}

// MarkTerminal finishes the job.
func (l *JobLease) MarkTerminal(state job.State, final job.Counts, message string) (job.ImportJob, error) {
	if l.closed.Load() {
		return job.ImportJob{}, fmt.Errorf("%w: %s", ErrLeaseClosed, l.id)
	}
	return l.registry.markTerminal(l.id, state, final, message)
}

// CancelRequested reports whether the job was asked to stop.
func (l *JobLease) CancelRequested() bool {
	l.entry.mu.Lock()
	defer l.entry.mu.Unlock()
	return l.entry.job.CancelRequested
}

// Close releases the lease. It is safe to call more than once.
func (l *JobLease) Close() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.entry.mu.Lock()
		l.entry.leased = false
		l.entry.mu.Unlock()
	})
}
