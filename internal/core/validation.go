package core

// validation.go implements the default RowValidator for delimited text files.
//
// Validation happens at three levels:
//  1. Container: the file must be CSV/TSV text with a recognizable header row
//  2. Dataset: the header is scored against every registered dataset to detect
//     (auto) or confirm (explicit) the dataset type
//  3. Row: each cell is checked against its FieldSpec (type, format, enum values)
//
// Row problems never fail the call; they are returned as typed job.RowError
// values so the executor can count them and keep going.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// MaxHeaderSearchRows is the maximum number of rows to scan for the header.
var MaxHeaderSearchRows = 20

// ContextCheckInterval is how often (in rows) parsing checks for cancellation.
var ContextCheckInterval = 1000

var (
	// ErrUnsupportedFormat is returned for files that are not delimited text.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrHeaderNotFound is returned when no header row can be located.
	ErrHeaderNotFound = errors.New("header not found")

	// ErrMissingColumns is returned when an explicit dataset's required columns are absent.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrDatasetUndetected is returned when auto-detection finds no good match.
	ErrDatasetUndetected = errors.New("could not detect dataset type")

	// ErrNoDataRows is returned when the header is followed by no data.
	ErrNoDataRows = errors.New("no data rows after header")
)

// supportedExtensions maps file extensions to their field delimiter.
var supportedExtensions = map[string]rune{
	".csv": ',',
	".tsv": '\t',
	".txt": ',',
}

// DelimiterFor returns the field delimiter for fileName, or an error if the
// container format is not recognized.
func DelimiterFor(fileName string) (rune, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	d, ok := supportedExtensions[ext]
	if !ok {
		return 0, fmt.Errorf("%w: %q (expected .csv, .tsv or .txt)", ErrUnsupportedFormat, ext)
	}
	return d, nil
}

// CSVValidator is the default RowValidator. It resolves dataset definitions
// through the dataset registry.
type CSVValidator struct{}

// NewCSVValidator creates a validator over the registered datasets.
func NewCSVValidator() *CSVValidator {
	return &CSVValidator{}
}

// Validate parses file and validates every data row.
func (v *CSVValidator) Validate(ctx context.Context, file io.Reader, hint job.DatasetType, fileName string) (*Validation, error) {
	delim, err := DelimiterFor(fileName)
	if err != nil {
		return nil, err
	}

	records, lines, err := readRecords(ctx, WrapForStreaming(file, 0), delim)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	def, headerIdx, confidence, err := resolveDataset(records, hint)
	if err != nil {
		return nil, err
	}

	header := records[headerIdx]
	dataRows := records[headerIdx+1:]
	idx := MakeHeaderIndex(header)

	result := &Validation{
		DetectedType: def.Info.Key,
		Confidence:   confidence,
		Header:       header,
		Rows:         make([]Row, 0, len(dataRows)),
	}

	checker := NewRowChecker(def.FieldSpecs, idx)
	for i, record := range dataRows {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isEmptyRow(record) {
			continue
		}

		row := checker.Check(lines[headerIdx+1+i], record)
		result.Rows = append(result.Rows, row)
		result.RowErrors = append(result.RowErrors, row.Errors...)
	}

	if len(result.Rows) == 0 {
		return nil, ErrNoDataRows
	}

	return result, nil
}

// resolveDataset finds the header row and the dataset it belongs to.
// For an explicit hint only that dataset is considered.
func resolveDataset(records [][]string, hint job.DatasetType) (DatasetDefinition, int, float64, error) {
	maxRows := MaxHeaderSearchRows
	if len(records) < maxRows {
		maxRows = len(records)
	}

	if hint != job.DatasetAuto && hint != "" {
		def, ok := Dataset(hint)
		if !ok {
			return DatasetDefinition{}, 0, 0, fmt.Errorf("%w: %q", job.ErrUnknownDataset, hint)
		}

		bestRow, bestScore := -1, 0.0
		for i := 0; i < maxRows; i++ {
			score := headerScore(MakeHeaderIndex(records[i]), def)
			if score > bestScore {
				bestRow, bestScore = i, score
			}
			if score == 1 {
				return def, i, 1, nil
			}
		}
		if bestRow < 0 {
			return DatasetDefinition{}, 0, 0, fmt.Errorf("%w (expected: %s)", ErrHeaderNotFound, strings.Join(def.Info.Columns, ", "))
		}
		missing := missingColumns(MakeHeaderIndex(records[bestRow]), def)
		return DatasetDefinition{}, 0, 0, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var (
		best      DatasetDefinition
		bestRow   = -1
		bestScore float64
	)
	for i := 0; i < maxRows; i++ {
		idx := MakeHeaderIndex(records[i])
		for _, def := range AllDatasets() {
			score := headerScore(idx, def)
			if score > bestScore {
				best, bestRow, bestScore = def, i, score
			}
		}
	}

	if bestRow < 0 || bestScore < DetectionThreshold {
		return DatasetDefinition{}, 0, 0, ErrDatasetUndetected
	}
	if missing := missingColumns(MakeHeaderIndex(records[bestRow]), best); len(missing) > 0 {
		return DatasetDefinition{}, 0, 0, fmt.Errorf("%w: detected %s but %s", ErrMissingColumns, best.Info.Key, strings.Join(missing, ", "))
	}

	return best, bestRow, bestScore, nil
}

func missingColumns(idx HeaderIndex, def DatasetDefinition) []string {
	var missing []string
	for _, col := range def.RequiredColumns() {
		if _, ok := idx[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// readRecords reads all records from r along with the file line each one
// starts on. Parse errors are fatal: a file that is not well-formed
// delimited text cannot be imported row by row.
func readRecords(ctx context.Context, r io.Reader, delim rune) ([][]string, []int, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	var (
		records [][]string
		lines   []int
	)
	for {
		if len(records)%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return records, lines, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RowChecker validates rows against a dataset's field specifications.
type RowChecker struct {
	specs     []FieldSpec
	headerIdx HeaderIndex
}

// NewRowChecker creates a checker for the given specs and header index.
func NewRowChecker(specs []FieldSpec, headerIdx HeaderIndex) *RowChecker {
	return &RowChecker{
		specs:     specs,
		headerIdx: headerIdx,
	}
}

// Check validates a single row and returns it with cells aligned to the
// field specs. All problems in the row are reported.
func (c *RowChecker) Check(line int, record []string) Row {
	row := Row{
		Line:  line,
		Cells: make([]string, len(c.specs)),
	}

	for i, spec := range c.specs {
		pos, ok := c.headerIdx[strings.ToLower(spec.Name)]
		if !ok || pos >= len(record) {
			if spec.Required {
				row.Errors = append(row.Errors, job.RowError{
					Row:     line,
					Column:  spec.Name,
					Message: "missing required column",
					Kind:    job.KindParse,
				})
			}
			continue
		}

		raw := CleanCell(record[pos])
		if spec.Normalizer != nil && raw != "" {
			raw = spec.Normalizer(raw)
		}

		if raw == "" {
			if spec.Required {
				row.Errors = append(row.Errors, job.RowError{
					Row:     line,
					Column:  spec.Name,
					Message: "required field is empty",
					Kind:    job.KindValidation,
				})
			}
			continue
		}

		if err := ValidateCell(raw, spec); err != nil {
			row.Errors = append(row.Errors, job.RowError{
				Row:     line,
				Column:  spec.Name,
				Value:   raw,
				Message: err.Error(),
				Kind:    job.KindValidation,
			})
			continue
		}

		row.Cells[i] = canonicalCell(raw, spec)
	}

	return row
}

// ValidateCell validates a single cell value against a field specification.
// Returns nil if valid, or an error describing the problem.
func ValidateCell(value string, spec FieldSpec) error {
	if value == "" {
		return nil // Empty values are allowed (will be NULL)
	}

	if spec.MaxLen > 0 && len([]rune(value)) > spec.MaxLen {
		return fmt.Errorf("longer than %d characters", spec.MaxLen)
	}

	switch spec.Type {
	case FieldNumeric:
		if !ToPgNumeric(value).Valid {
			return fmt.Errorf("invalid number format")
		}
	case FieldInteger:
		if !ToPgInt8(value).Valid {
			return fmt.Errorf("invalid whole number")
		}
	case FieldDate:
		if !ToPgDate(value).Valid {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD or similar)")
		}
	case FieldEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("invalid email address")
		}
	case FieldEnum:
		if len(spec.EnumValues) > 0 {
			for _, ev := range spec.EnumValues {
				if strings.EqualFold(ev, value) {
					return nil
				}
			}
			return fmt.Errorf("value must be one of: %s", strings.Join(spec.EnumValues, ", "))
		}
	}
	return nil
}

// canonicalCell rewrites a valid cell into the form the writer expects.
func canonicalCell(value string, spec FieldSpec) string {
	switch spec.Type {
	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, value) {
				return ev
			}
		}
	case FieldDate:
		return FormatDate(ToPgDate(value))
	}
	return value
}

// fieldTypeName returns a human-readable name for a field type.
func fieldTypeName(ft FieldType) string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "number"
	case FieldInteger:
		return "whole number"
	case FieldEmail:
		return "email"
	default:
		return "value"
	}
}
