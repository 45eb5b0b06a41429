package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RowWriter writes validated rows to the dataset tables. Each batch runs in
// one transaction and each row in its own savepoint, so a bad row is rolled
// back alone and reported while the rest of the batch commits.
type RowWriter struct {
	db TxBeginner
}

// NewRowWriter creates a writer over db.
func NewRowWriter(db TxBeginner) *RowWriter {
	return &RowWriter{db: db}
}

// WriteBatch implements core.RowWriter. Existing keys are updated when
// overwrite is set and reported as conflicts otherwise. Datasets without a
// unique key are append-only.
func (w *RowWriter) WriteBatch(ctx context.Context, def core.DatasetDefinition, rows []core.Row, overwrite bool) ([]core.RowOutcome, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	query := InsertSQL(def, overwrite)
	detectConflict := len(def.Info.UniqueKey) > 0 && !overwrite

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcomes := make([]core.RowOutcome, len(rows))
	for i, row := range rows {
		outcomes[i].Line = row.Line

		args, err := def.Convert(row.Cells)
		if err != nil {
			outcomes[i].Err = &job.RowError{Row: row.Line, Message: err.Error(), Kind: job.KindValidation}
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("insert %s line %d: %w", def.Info.Table, row.Line, err)
			}
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			outcomes[i].Err = rowError(row.Line, err)
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}

		if detectConflict && tag.RowsAffected() == 0 {
			outcomes[i].Err = &job.RowError{
				Row:     row.Line,
				Column:  strings.Join(def.Info.UniqueKey, ","),
				Value:   keyValue(def, row),
				Message: "record already exists (enable overwrite to update it)",
				Kind:    job.KindConflict,
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return outcomes, nil
}

// InsertSQL builds the parameterized insert for a dataset. Parameters follow
// FieldSpecs order.
func InsertSQL(def core.DatasetDefinition, overwrite bool) string {
	cols := def.DBColumns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		core.QuoteIdentifier(def.Info.Table),
		strings.Join(core.QuoteIdentifiers(cols), ", "),
		strings.Join(placeholders, ", "),
	)

	if len(def.Info.UniqueKey) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, " ON CONFLICT (%s)", strings.Join(core.QuoteIdentifiers(def.Info.UniqueKey), ", "))
	if !overwrite {
		b.WriteString(" DO NOTHING")
		return b.String()
	}

	isKey := make(map[string]bool, len(def.Info.UniqueKey))
	for _, k := range def.Info.UniqueKey {
		isKey[k] = true
	}
	var sets []string
	for _, c := range cols {
		if isKey[c] {
			continue
		}
		q := core.QuoteIdentifier(c)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String()
	}
	b.WriteString(" DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// keyValue returns the row's unique key as it appears in the file.
func keyValue(def core.DatasetDefinition, row core.Row) string {
	var parts []string
	for _, k := range def.Info.UniqueKey {
		for i, spec := range def.FieldSpecs {
			if spec.Column() == k && i < len(row.Cells) {
				parts = append(parts, row.Cells[i])
			}
		}
	}
	return strings.Join(parts, "|")
}
