package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type fakeDB struct {
	execSQL  string
	execArgs []any
	row      pgx.Row
}

func (d *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.execSQL = sql
	d.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return d.row
}

func sampleJob() job.ImportJob {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := created.Add(2 * time.Minute)
	return job.ImportJob{
		ID:          uuid.NewString(),
		DatasetType: job.DatasetMovements,
		State:       job.StateCompleted,
		Counts:      job.Counts{Total: 10, Processed: 10, Succeeded: 7, Failed: 3},
		Errors:      []job.RowError{{Row: 4, Column: "quantity", Message: "invalid whole number", Kind: job.KindValidation}},
		Options:     job.Options{OverwriteExisting: true},
		Source:      job.Source{FileName: "movements.csv", Size: 6 << 20, ObjectKey: "imports/2024/03/x/movements.csv"},
		CreatedAt:   created,
		StartedAt:   &created,
		FinishedAt:  &finished,
	}
}

func TestJobHistory_Record(t *testing.T) {
	db := &fakeDB{}
	h := NewJobHistory(db)
	j := sampleJob()

	require.NoError(t, h.Record(context.Background(), j))
	assert.Contains(t, db.execSQL, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, db.execArgs, 17)

	var errs []job.RowError
	require.NoError(t, json.Unmarshal(db.execArgs[7].([]byte), &errs))
	assert.Equal(t, j.Errors, errs)
	assert.Equal(t, "Completed", db.execArgs[2])
}

func TestJobHistory_RecordRejectsBadID(t *testing.T) {
	h := NewJobHistory(&fakeDB{})
	j := sampleJob()
	j.ID = "not-a-uuid"
	assert.Error(t, h.Record(context.Background(), j))
}

func TestJobHistory_GetNotFound(t *testing.T) {
	h := NewJobHistory(&fakeDB{row: errRow{err: pgx.ErrNoRows}})

	_, err := h.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	_, err = h.Get(context.Background(), "garbage")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestDecodeJob(t *testing.T) {
	id := uuid.New()
	finished := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base := job.ImportJob{Counts: job.Counts{Total: 2, Processed: 2, Succeeded: 2}, FinishedAt: &finished}

	got, err := decodeJob(base, id, "products", "Completed",
		[]byte(`[{"row":3,"message":"x","kind":"conflict"}]`),
		[]byte(`{"overwriteExisting":false,"validateOnly":true,"notifyOnCompletion":false}`),
		pgtype.Text{String: "imports/k", Valid: true}, pgtype.Text{})
	require.NoError(t, err)

	assert.Equal(t, id.String(), got.ID)
	assert.Equal(t, job.StateCompleted, got.State)
	assert.True(t, got.Options.ValidateOnly)
	assert.Equal(t, job.KindConflict, got.Errors[0].Kind)
	assert.Equal(t, "imports/k", got.Source.ObjectKey)
	assert.Equal(t, finished, got.UpdatedAt)

	_, err = decodeJob(base, id, "products", "Exploded", nil, nil, pgtype.Text{}, pgtype.Text{})
	assert.Error(t, err)
}

// TestIntegration_RoundTrip runs against TEST_DATABASE_URL or a Postgres
// container.
func TestIntegration_RoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	h := NewJobHistory(pool)
	j := sampleJob()
	require.NoError(t, h.Record(ctx, j))
	t.Cleanup(func() { _, _ = pool.Exec(ctx, "DELETE FROM import_jobs WHERE id = $1", uuid.MustParse(j.ID)) })

	got, err := h.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.Counts, got.Counts)
	assert.Equal(t, j.Errors, got.Errors)
	assert.Equal(t, j.Source, got.Source)

	def := core.DatasetDefinition{
		Info:       core.DatasetInfo{Key: job.DatasetProviders, Table: "providers", UniqueKey: []string{"code"}},
		FieldSpecs: []core.FieldSpec{{Name: "code"}, {Name: "name"}},
		Convert: func(cells []string) ([]any, error) {
			return []any{core.ToPgText(cells[0]), core.ToPgText(cells[1])}, nil
		},
	}
	code := "ITEST-" + uuid.NewString()[:8]
	t.Cleanup(func() { _, _ = pool.Exec(ctx, "DELETE FROM providers WHERE code = $1", code) })

	w := NewRowWriter(pool)
	batch := []core.Row{{Line: 2, Cells: []string{code, "First"}}}
	out, err := w.WriteBatch(ctx, def, batch, false)
	require.NoError(t, err)
	assert.Nil(t, out[0].Err)

	out, err = w.WriteBatch(ctx, def, batch, false)
	require.NoError(t, err)
	require.NotNil(t, out[0].Err)
	assert.Equal(t, job.KindConflict, out[0].Err.Kind)

	batch[0].Cells[1] = "Second"
	out, err = w.WriteBatch(ctx, def, batch, true)
	require.NoError(t, err)
	assert.Nil(t, out[0].Err)

	var name string
	require.NoError(t, pool.QueryRow(ctx, "SELECT name FROM providers WHERE code = $1", code).Scan(&name))
	assert.Equal(t, "Second", name)
}
