package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/google/uuid"
)

var (
	// ErrEmptyFile is returned for an upload with no content.
	ErrEmptyFile = errors.New("empty file")

	// ErrNoFile is returned when a request carries no file at all.
	ErrNoFile = errors.New("no file provided")

	// ErrFileTooLarge is returned when a file exceeds the configured maximum.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidOptions is returned when import options cannot be decoded.
	ErrInvalidOptions = errors.New("invalid import options")
)

// Dependencies are the collaborators a Service is built from. Validator
// defaults to the CSV validator; every other field is optional. Without a
// Writer rows are validated but never stored.
type Dependencies struct {
	Validator RowValidator
	Writer    RowWriter
	History   JobHistory
	Files     FileStore
	Notifier  Notifier
	Now       func() time.Time
}

// Service is the import submission gateway. It selects the transport for
// each upload, runs small imports inline and hands large ones to the
// executor pool as tracked jobs.
type Service struct {
	selector    job.Selector
	maxFileSize int64
	syncTimeout time.Duration
	maxErrors   int
	now         func() time.Time

	validator   RowValidator
	engine      batchEngine
	history     JobHistory
	files       FileStore
	registry    *JobRegistry
	broadcaster *Broadcaster
	executor    *Executor
	pool        *ExecutorPool
}

// NewService wires the registry, broadcaster, executor and pool. ctx bounds
// the lifetime of the executor pool; call Shutdown to drain it.
func NewService(ctx context.Context, cfg *config.Config, deps Dependencies) *Service {
	if deps.Validator == nil {
		deps.Validator = NewCSVValidator()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	registry := NewJobRegistry(RegistryOptions{
		Retention: cfg.Import.Retention,
		MaxErrors: cfg.Import.MaxReportedErrors,
		Now:       deps.Now,
	})
	broadcaster := NewBroadcaster(cfg.Import.SubscriberBuffer)
	registry.OnChange(broadcaster.PublishJob)

	executor := NewExecutor(ExecutorConfig{
		Registry:  registry,
		Validator: deps.Validator,
		Writer:    deps.Writer,
		History:   deps.History,
		Notifier:  deps.Notifier,
		BatchSize:    cfg.Upload.BatchSize,
		Timeout:      cfg.Upload.Timeout,
		BatchTimeout: cfg.Upload.BatchTimeout,
	})

	maxErrors := cfg.Import.MaxReportedErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxReportedErrors
	}

	return &Service{
		selector:    job.Selector{Threshold: cfg.Import.SyncThreshold},
		maxFileSize: cfg.Upload.MaxFileSize,
		syncTimeout: cfg.Upload.SyncTimeout,
		maxErrors:   maxErrors,
		now:         deps.Now,
		validator:   deps.Validator,
		engine:      batchEngine{writer: deps.Writer, batchSize: cfg.Upload.BatchSize, batchTimeout: cfg.Upload.BatchTimeout},
		history:     deps.History,
		files:       deps.Files,
		registry:    registry,
		broadcaster: broadcaster,
		executor:    executor,
		pool:        NewExecutorPool(ctx, cfg.Import.MaxConcurrent, cfg.Import.MaxQueued),
	}
}

// Submit accepts one upload. Files below the sync threshold are imported
// inline and the result is returned directly; larger files (or any file
// with ForceAsync) become a Pending job and only the job id is returned.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.Size <= 0 {
		req.Size = int64(len(req.Data))
	}
	if len(req.Data) == 0 {
		return SubmitResult{}, ErrEmptyFile
	}
	if s.maxFileSize > 0 && req.Size > s.maxFileSize {
		return SubmitResult{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, req.Size, s.maxFileSize)
	}
	if _, err := DelimiterFor(req.FileName); err != nil {
		return SubmitResult{}, err
	}

	dt, err := job.ParseDatasetType(string(req.DatasetType))
	if err != nil {
		return SubmitResult{}, err
	}
	if dt != job.DatasetAuto {
		if _, ok := Dataset(dt); !ok {
			return SubmitResult{}, fmt.Errorf("%w: %q", job.ErrUnknownDataset, dt)
		}
	}
	req.DatasetType = dt

	mode := s.selector.Select(req.Size, dt)
	if req.ForceAsync {
		mode = job.ModeAsync
	}

	if mode == job.ModeSync {
		res, err := s.runSync(ctx, req)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Mode: job.ModeSync, Sync: res}, nil
	}
	return s.enqueue(ctx, req)
}

// runSync validates and imports req inline. No job is created and no
// progress events are published.
func (s *Service) runSync(ctx context.Context, req SubmitRequest) (*SyncResult, error) {
	if s.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
	}

	validation, err := s.validator.Validate(ctx, bytes.NewReader(req.Data), req.DatasetType, req.FileName)
	if err != nil {
		return nil, err
	}
	def, ok := Dataset(validation.DetectedType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", job.ErrUnknownDataset, validation.DetectedType)
	}

	res := &SyncResult{
		DatasetType: def.Info.Key,
		Errors:      []job.RowError{},
	}
	collect := func(d job.Delta) error {
		room := s.maxErrors - len(res.Errors)
		if room > 0 {
			if len(d.Errors) > room {
				d.Errors = d.Errors[:room]
			}
			res.Errors = append(res.Errors, d.Errors...)
		}
		return nil
	}

	counts, err := s.engine.run(ctx, def, validation.Rows, req.Options, func() bool { return ctx.Err() == nil }, collect)
	res.RecordsProcessed = counts.Processed
	res.RecordsSucceeded = counts.Succeeded
	res.RecordsFailed = counts.Failed

	switch {
	case err == nil:
		res.Success = true
		res.Message = completionMessage(counts, req.Options)
	case errors.Is(err, errStopped):
		res.Message = fmt.Sprintf("import interrupted after %d rows: %v", counts.Processed, ctx.Err())
	default:
		res.Message = err.Error()
	}

	slog.Info("sync import finished",
		"dataset", def.Info.Key,
		"file", req.FileName,
		"processed", counts.Processed,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed,
		"success", res.Success,
	)
	return res, nil
}

// enqueue creates a Pending job and queues its executor.
func (s *Service) enqueue(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := s.pool.Admit(); err != nil {
		return SubmitResult{}, err
	}

	id := uuid.NewString()
	src := job.Source{FileName: req.FileName, Size: req.Size}

	if s.files != nil {
		key := SourceObjectKey(s.now(), id, req.FileName)
		stored, err := s.files.Put(ctx, key, contentTypeFor(req.FileName), bytes.NewReader(req.Data), int64(len(req.Data)))
		if err != nil {
			slog.Warn("archive import source failed", "job_id", id, "error", err)
		} else {
			src.ObjectKey = stored
		}
	}

	created, err := s.registry.Create(job.ImportJob{
		ID:          id,
		DatasetType: req.DatasetType,
		Options:     req.Options,
		Source:      src,
	})
	if err != nil {
		return SubmitResult{}, err
	}

	task := Task{
		JobID:       id,
		FileName:    req.FileName,
		Data:        req.Data,
		DatasetType: req.DatasetType,
		Options:     req.Options,
	}
	if err := s.pool.TrySubmit(func(ctx context.Context) { s.executor.Run(ctx, task) }); err != nil {
		// Lost the race for the last queue slot; the job never ran.
		_, _ = s.registry.RequestCancel(id)
		return SubmitResult{}, err
	}

	client := ClientFromContext(ctx)
	slog.Info("import job queued",
		"job_id", id,
		"dataset", req.DatasetType,
		"file", req.FileName,
		"bytes", req.Size,
		"client_ip", client.IPAddress,
		"user_agent", client.UserAgent,
	)
	return SubmitResult{Mode: job.ModeAsync, JobID: id, State: created.State}, nil
}

// Get returns the job snapshot, falling back to job history for jobs the
// registry already collected.
func (s *Service) Get(ctx context.Context, id string) (job.ImportJob, error) {
	j, err := s.registry.Get(id)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, ErrJobNotFound) || s.history == nil {
		return job.ImportJob{}, err
	}
	return s.history.Get(ctx, id)
}

// Cancel asks a job to stop. A Pending job is cancelled at once; a
// Processing job stops at its next batch boundary. Finished jobs return
// ErrAlreadyTerminal and are left unchanged.
func (s *Service) Cancel(ctx context.Context, id string) (job.ImportJob, error) {
	j, err := s.registry.RequestCancel(id)
	if err == nil {
		slog.Info("import cancel requested", "job_id", id, "state", j.State)
		return j, nil
	}
	if errors.Is(err, ErrJobNotFound) && s.history != nil {
		if _, herr := s.history.Get(ctx, id); herr == nil {
			return job.ImportJob{}, fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
		}
	}
	return job.ImportJob{}, err
}

// Subscribe returns the push event stream for a job. The current state is
// always delivered first; for a finished job that is the only event.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan job.Event, func(), error) {
	j, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if j.State.Terminal() {
		if _, rerr := s.registry.Get(id); rerr != nil {
			ch := make(chan job.Event, 1)
			ch <- job.EventFor(j)
			close(ch)
			return ch, func() {}, nil
		}
	}

	ch, cancel := s.broadcaster.Subscribe(id)
	return ch, cancel, nil
}

// Datasets returns the registered dataset descriptions.
func (s *Service) Datasets() []DatasetInfo {
	defs := AllDatasets()
	infos := make([]DatasetInfo, len(defs))
	for i, def := range defs {
		infos[i] = def.Info
	}
	return infos
}

// Health is a snapshot of the pipeline's load.
type Health struct {
	Pool PoolStatus    `json:"pool"`
	Jobs RegistryStats `json:"jobs"`
}

// Health reports pool and registry statistics.
func (s *Service) Health() Health {
	return Health{Pool: s.pool.Status(), Jobs: s.registry.Stats()}
}

// Shutdown stops accepting imports and waits for queued and running jobs to
// finish. If ctx ends first, running jobs see a cancelled context and finish
// as Cancelled after their current batch.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

// SourceObjectKey returns the archive key for a job's source file:
// imports/{yyyy}/{mm}/{jobId}/{fileName}.
func SourceObjectKey(now time.Time, jobID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "source"
	}
	return fmt.Sprintf("imports/%04d/%02d/%s/%s", now.Year(), int(now.Month()), jobID, name)
}

func contentTypeFor(fileName string) string {
	if strings.EqualFold(filepath.Ext(fileName), ".tsv") {
		return "text/tab-separated-values"
	}
	return "text/csv"
}
