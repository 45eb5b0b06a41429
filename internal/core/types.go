package core

import (
	"context"
	"io"

	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// FieldType represents the expected data type for an import column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldInteger
	FieldEmail
)

// FieldSpec defines validation rules for a single import column.
type FieldSpec struct {
	Name       string              // Column header name (matched case-insensitively)
	DBColumn   string              // Database column name (derived from Name if empty)
	Type       FieldType           // Expected data type
	Required   bool                // Column must exist and be non-empty
	MaxLen     int                 // Maximum text length (0 = unlimited)
	EnumValues []string            // Valid values for FieldEnum type
	Normalizer func(string) string // Optional transformation applied before validation
}

// Column returns the database column for the field.
func (f FieldSpec) Column() string {
	if f.DBColumn != "" {
		return f.DBColumn
	}
	return toSnakeCase(f.Name)
}

// DatasetInfo contains display and storage information about a dataset.
type DatasetInfo struct {
	Key       job.DatasetType // "products", "providers", "movements"
	Label     string          // Display name
	Table     string          // Target database table
	Columns   []string        // Header column names, in template order
	UniqueKey []string        // Column(s) used for conflict detection; empty = append only
}

// HeaderIndex maps column names (lowercase) to their position in the source row.
type HeaderIndex map[string]int

// ConvertFunc converts validated cells (aligned with FieldSpecs) into
// database values in the same order.
type ConvertFunc func(cells []string) ([]any, error)

// DatasetDefinition contains everything needed to validate and store a dataset.
type DatasetDefinition struct {
	Info       DatasetInfo
	FieldSpecs []FieldSpec
	Example    []string // Example row for templates, aligned with FieldSpecs
	Convert    ConvertFunc
}

// DBColumns returns the database column names in FieldSpecs order.
func (d DatasetDefinition) DBColumns() []string {
	cols := make([]string, len(d.FieldSpecs))
	for i, spec := range d.FieldSpecs {
		cols[i] = spec.Column()
	}
	return cols
}

// RequiredColumns returns the header names of required fields.
func (d DatasetDefinition) RequiredColumns() []string {
	var cols []string
	for _, spec := range d.FieldSpecs {
		if spec.Required {
			cols = append(cols, spec.Name)
		}
	}
	return cols
}

// Row is one data row of a parsed import file.
// Cells are aligned with the dataset's FieldSpecs after cleaning and
// normalization. A row with Errors is never written.
type Row struct {
	Line   int
	Cells  []string
	Errors []job.RowError
}

// Valid reports whether the row passed validation.
func (r Row) Valid() bool { return len(r.Errors) == 0 }

// Validation is the output of a RowValidator.
type Validation struct {
	DetectedType job.DatasetType
	Confidence   float64
	Header       []string
	Rows         []Row
	RowErrors    []job.RowError
}

// RowValidator parses an import file, detects or confirms its dataset type
// and validates every row.
type RowValidator interface {
	Validate(ctx context.Context, file io.Reader, hint job.DatasetType, fileName string) (*Validation, error)
}

// RowOutcome is the storage result for one row. A nil Err means the row
// was written.
type RowOutcome struct {
	Line int
	Err  *job.RowError
}

// RowWriter applies validated rows to business storage. A returned error
// is fatal for the whole import; per-row failures are reported in outcomes.
type RowWriter interface {
	WriteBatch(ctx context.Context, def DatasetDefinition, rows []Row, overwrite bool) ([]RowOutcome, error)
}

// JobHistory persists terminal job snapshots beyond registry retention.
type JobHistory interface {
	Record(ctx context.Context, j job.ImportJob) error
	Get(ctx context.Context, id string) (job.ImportJob, error)
}

// FileStore archives submitted source files. It returns the stored key.
type FileStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
}

// Notifier is told about finished jobs that asked for a notification.
type Notifier interface {
	JobFinished(ctx context.Context, j job.ImportJob) error
}

// SyncResult is the response of an inline (synchronous) import.
type SyncResult struct {
	Success          bool            `json:"success"`
	DatasetType      job.DatasetType `json:"datasetType"`
	RecordsProcessed int             `json:"recordsProcessed"`
	RecordsSucceeded int             `json:"recordsSucceeded"`
	RecordsFailed    int             `json:"recordsFailed"`
	Errors           []job.RowError  `json:"errors"`
	Message          string          `json:"message,omitempty"`
}

// SubmitRequest describes one import submission.
type SubmitRequest struct {
	FileName    string
	Size        int64
	Data        []byte
	DatasetType job.DatasetType
	Options     job.Options
	ForceAsync  bool
}

// SubmitResult is either a SyncResult or an accepted async job.
type SubmitResult struct {
	Mode  job.Mode
	Sync  *SyncResult
	JobID string
	State job.State
}
