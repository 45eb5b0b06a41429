package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const upsertJobSQL = `
INSERT INTO import_jobs (
    id, dataset_type, state, total, processed, succeeded, failed,
    errors, errors_truncated, options, file_name, file_size, object_key,
    message, created_at, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
    dataset_type = EXCLUDED.dataset_type,
    state = EXCLUDED.state,
    total = EXCLUDED.total,
    processed = EXCLUDED.processed,
    succeeded = EXCLUDED.succeeded,
    failed = EXCLUDED.failed,
    errors = EXCLUDED.errors,
    errors_truncated = EXCLUDED.errors_truncated,
    message = EXCLUDED.message,
    started_at = EXCLUDED.started_at,
    finished_at = EXCLUDED.finished_at`

const selectJobSQL = `
SELECT id, dataset_type, state, total, processed, succeeded, failed,
       errors, errors_truncated, options, file_name, file_size, object_key,
       message, created_at, started_at, finished_at
FROM import_jobs
WHERE id = $1`

// JobHistory keeps finished import jobs in the import_jobs table so they
// stay queryable after the in-memory registry forgets them.
type JobHistory struct {
	db core.DBTX
}

// NewJobHistory creates a history store over db.
func NewJobHistory(db core.DBTX) *JobHistory {
	return &JobHistory{db: db}
}

// Record stores the job snapshot, replacing an earlier record of the same job.
func (h *JobHistory) Record(ctx context.Context, j job.ImportJob) error {
	id, err := uuid.Parse(j.ID)
	if err != nil {
		return fmt.Errorf("record job %q: %w", j.ID, err)
	}

	rowErrors := j.Errors
	if rowErrors == nil {
		rowErrors = []job.RowError{}
	}
	errorsJSON, err := json.Marshal(rowErrors)
	if err != nil {
		return fmt.Errorf("marshal row errors: %w", err)
	}
	optionsJSON, err := json.Marshal(j.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = h.db.Exec(ctx, upsertJobSQL,
		id,
		string(j.DatasetType),
		string(j.State),
		j.Counts.Total,
		j.Counts.Processed,
		j.Counts.Succeeded,
		j.Counts.Failed,
		errorsJSON,
		j.ErrorsTruncated,
		optionsJSON,
		j.Source.FileName,
		j.Source.Size,
		core.ToPgText(j.Source.ObjectKey),
		core.ToPgText(j.Message),
		j.CreatedAt,
		j.StartedAt,
		j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads a recorded job. Unknown ids return core.ErrJobNotFound.
func (h *JobHistory) Get(ctx context.Context, id string) (job.ImportJob, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return job.ImportJob{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}

	var (
		j           job.ImportJob
		rowID       uuid.UUID
		datasetType string
		state       string
		errorsJSON  []byte
		optionsJSON []byte
		objectKey   pgtype.Text
		message     pgtype.Text
	)
	err = h.db.QueryRow(ctx, selectJobSQL, uid).Scan(
		&rowID,
		&datasetType,
		&state,
		&j.Counts.Total,
		&j.Counts.Processed,
		&j.Counts.Succeeded,
		&j.Counts.Failed,
		&errorsJSON,
		&j.ErrorsTruncated,
		&optionsJSON,
		&j.Source.FileName,
		&j.Source.Size,
		&objectKey,
		&message,
		&j.CreatedAt,
		&j.StartedAt,
		&j.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.ImportJob{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	if err != nil {
		return job.ImportJob{}, fmt.Errorf("load job %s: %w", id, err)
	}

	return decodeJob(j, rowID, datasetType, state, errorsJSON, optionsJSON, objectKey, message)
}

func decodeJob(j job.ImportJob, id uuid.UUID, datasetType, state string, errorsJSON, optionsJSON []byte, objectKey, message pgtype.Text) (job.ImportJob, error) {
	st, err := job.ParseState(state)
	if err != nil {
		return job.ImportJob{}, fmt.Errorf("load job %s: %w", id, err)
	}

	j.ID = id.String()
	j.DatasetType = job.DatasetType(datasetType)
	j.State = st
	j.Source.ObjectKey = objectKey.String
	j.Message = message.String
	j.UpdatedAt = j.CreatedAt
	if j.FinishedAt != nil {
		j.UpdatedAt = *j.FinishedAt
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &j.Errors); err != nil {
			return job.ImportJob{}, fmt.Errorf("decode row errors: %w", err)
		}
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &j.Options); err != nil {
			return job.ImportJob{}, fmt.Errorf("decode options: %w", err)
		}
	}
	return j, nil
}
