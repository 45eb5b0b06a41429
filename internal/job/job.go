// Package job defines the import job model shared by the server pipeline and
// the client orchestrator: the ImportJob record, its state machine, progress
// deltas and events, and the transport selector.
//
// Nothing in this package performs I/O. It is safe to import from both sides
// of the wire.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of an import job.
type State string

const (
	StatePending    State = "Pending"
	StateProcessing State = "Processing"
	StateCompleted  State = "Completed"
	StateError      State = "Error"
	StateCancelled  State = "Cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s -> to.
//
//	Pending    -> Processing | Cancelled
//	Processing -> Completed | Error | Cancelled
//
// Terminal states have no outgoing edges.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateProcessing || to == StateCancelled
	case StateProcessing:
		return to.Terminal()
	}
	return false
}

// ParseState converts a string into a State. Matching is case-insensitive.
func ParseState(s string) (State, error) {
	for _, st := range []State{StatePending, StateProcessing, StateCompleted, StateError, StateCancelled} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// DatasetType identifies the kind of records an import file contains.
type DatasetType string

const (
	DatasetAuto      DatasetType = "auto"
	DatasetProducts  DatasetType = "products"
	DatasetProviders DatasetType = "providers"
	DatasetMovements DatasetType = "movements"
)

// ErrUnknownDataset is returned when a dataset type is not recognized.
var ErrUnknownDataset = errors.New("unknown dataset type")

// ParseDatasetType normalizes and validates a dataset type string.
// An empty string means auto-detection.
func ParseDatasetType(s string) (DatasetType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch DatasetType(s) {
	case "", DatasetAuto:
		return DatasetAuto, nil
	case DatasetProducts, DatasetProviders, DatasetMovements:
		return DatasetType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDataset, s)
}

// Counts are the progress counters of a job.
// Processed always equals Succeeded + Failed.
type Counts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Consistent reports whether the counters satisfy the job invariants.
func (c Counts) Consistent() bool {
	if c.Total < 0 || c.Processed < 0 || c.Succeeded < 0 || c.Failed < 0 {
		return false
	}
	if c.Processed != c.Succeeded+c.Failed {
		return false
	}
	return c.Total == 0 || c.Processed <= c.Total
}

// Covers reports whether c is at least as advanced as prev on every counter.
func (c Counts) Covers(prev Counts) bool {
	return c.Processed >= prev.Processed &&
		c.Succeeded >= prev.Succeeded &&
		c.Failed >= prev.Failed
}

// Ratio returns Processed/Total in [0,1], or -1 when Total is unknown.
func (c Counts) Ratio() float64 {
	if c.Total <= 0 {
		return -1
	}
	r := float64(c.Processed) / float64(c.Total)
	if r > 1 {
		return 1
	}
	return r
}

// ErrorKind classifies a row error.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindParse      ErrorKind = "parse"
	KindConflict   ErrorKind = "conflict"
	KindStorage    ErrorKind = "storage"
)

// RowError describes a single row that could not be imported.
// Row is the 1-based line number in the source file.
type RowError struct {
	Row     int       `json:"row"`
	Column  string    `json:"column,omitempty"`
	Value   string    `json:"value,omitempty"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Options control how an import is applied.
type Options struct {
	OverwriteExisting  bool `json:"overwriteExisting"`
	ValidateOnly       bool `json:"validateOnly"`
	NotifyOnCompletion bool `json:"notifyOnCompletion"`
}

// Source describes the submitted file. Content is never part of the record.
type Source struct {
	FileName  string `json:"fileName"`
	Size      int64  `json:"size"`
	ObjectKey string `json:"objectKey,omitempty"`
}

// ImportJob is the authoritative record of one bulk import.
type ImportJob struct {
	ID              string      `json:"id"`
	DatasetType     DatasetType `json:"datasetType"`
	State           State       `json:"state"`
	Counts          Counts      `json:"counts"`
	Errors          []RowError  `json:"errors"`
	ErrorsTruncated bool        `json:"errorsTruncated,omitempty"`
	Options         Options     `json:"options"`
	Source          Source      `json:"source"`
	Message         string      `json:"message,omitempty"`
	CancelRequested bool        `json:"cancelRequested,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	StartedAt       *time.Time  `json:"startedAt,omitempty"`
	FinishedAt      *time.Time  `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy of j.
func (j ImportJob) Clone() ImportJob {
	out := j
	if j.Errors != nil {
		out.Errors = make([]RowError, len(j.Errors))
		copy(out.Errors, j.Errors)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Delta is one batch worth of progress produced by an executor.
//
// Offset is the Processed value the delta was computed against; the registry
// uses it to reject replays and gaps. Processed, Succeeded and Failed are
// increments.
type Delta struct {
	Offset    int
	Processed int
	Succeeded int
	Failed    int
	Errors    []RowError
}

// Valid reports whether the increments are non-negative and balanced.
func (d Delta) Valid() bool {
	if d.Offset < 0 || d.Processed < 0 || d.Succeeded < 0 || d.Failed < 0 {
		return false
	}
	return d.Processed == d.Succeeded+d.Failed
}
