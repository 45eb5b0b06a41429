package client

import (
	"fmt"
	"reflect"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// Source names the channel a signal came from.
type Source string

const (
	SourcePush  Source = "push"
	SourcePoll  Source = "poll"
	SourceLocal Source = "local"
)

// SignalKind classifies a Signal.
type SignalKind int

const (
	// SignalSnapshot carries job counters and state from either channel.
	SignalSnapshot SignalKind = iota
	// SignalCancelRequested marks the view as cancelling.
	SignalCancelRequested
	// SignalCancelRejected clears cancelling after a failed cancel call.
	SignalCancelRejected
	// SignalTimeout is the client-side safety timeout.
	SignalTimeout
	// SignalLost means the server no longer knows the job.
	SignalLost
	// SignalDegraded means polling failed repeatedly.
	SignalDegraded
	// SignalRecovered means polling succeeded again after degrading.
	SignalRecovered
)

func (k SignalKind) String() string {
	switch k {
	case SignalSnapshot:
		return "snapshot"
	case SignalCancelRequested:
		return "cancel-requested"
	case SignalCancelRejected:
		return "cancel-rejected"
	case SignalTimeout:
		return "timeout"
	case SignalLost:
		return "lost"
	case SignalDegraded:
		return "degraded"
	case SignalRecovered:
		return "recovered"
	}
	return fmt.Sprintf("signal(%d)", int(k))
}

// Signal is one input to the reducer.
type Signal struct {
	Kind   SignalKind
	Source Source
	// Snapshot is set for SignalSnapshot.
	Snapshot job.Event
	// Job is the full record behind Snapshot when the channel fetched one.
	// Push events leave it nil.
	Job *job.ImportJob
	// After is the waiting time for SignalTimeout.
	After time.Duration
	Err   error
}

// SnapshotSignal wraps an event from the given channel.
func SnapshotSignal(src Source, ev job.Event) Signal {
	return Signal{Kind: SignalSnapshot, Source: src, Snapshot: ev}
}

// JobSignal wraps a fetched job record. Unlike a pushed event it carries
// the row errors and the update time.
func JobSignal(src Source, j job.ImportJob) Signal {
	return Signal{Kind: SignalSnapshot, Source: src, Snapshot: job.EventFor(j), Job: &j}
}

// View is the client's mirror of one job. It only moves forward: counters
// never decrease and a final view is never reopened.
type View struct {
	JobID   string     `json:"jobId"`
	Mode    job.Mode   `json:"mode"`
	State   job.State  `json:"state"`
	Counts  job.Counts `json:"counts"`
	Message string     `json:"message,omitempty"`

	// Errors are the row errors of the last fetched record. Pushed events
	// do not carry them.
	Errors          []job.RowError `json:"errors,omitempty"`
	ErrorsTruncated bool           `json:"errorsTruncated,omitempty"`

	// Cancelling is set between a cancel request and the server's answer.
	Cancelling bool `json:"cancelling,omitempty"`

	// TransportDegraded is set while polling keeps failing. It is not an
	// error state.
	TransportDegraded bool `json:"transportDegraded,omitempty"`

	// LocalError marks an Error the client decided on its own (safety
	// timeout or lost job). The server may still be running the job.
	LocalError bool `json:"localError,omitempty"`

	// Final is set once the view reached a terminal state.
	Final bool `json:"final"`

	// Source is the channel of the last applied snapshot.
	Source Source `json:"source,omitempty"`

	// UpdatedAt is the server time of the last fetched record.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// NewView returns the starting view for a background job that was just
// accepted.
func NewView(jobID string) View {
	return View{JobID: jobID, Mode: job.ModeAsync, State: job.StatePending}
}

// WithReport copies the row errors of a terminal record into a final view
// that lacks them. Any other record leaves v unchanged.
func WithReport(v View, j job.ImportJob) View {
	if !v.Final || v.LocalError || j.ID != v.JobID || !j.State.Terminal() {
		return v
	}
	applyRecord(&v, &j)
	return v
}

func applyRecord(v *View, j *job.ImportJob) {
	if len(j.Errors) >= len(v.Errors) {
		v.Errors = append([]job.RowError(nil), j.Errors...)
		v.ErrorsTruncated = j.ErrorsTruncated
	}
	if j.UpdatedAt.After(v.UpdatedAt) {
		v.UpdatedAt = j.UpdatedAt
	}
}

// stateRank orders states so a stale snapshot cannot move the view back.
func stateRank(s job.State) int {
	switch {
	case s == job.StatePending:
		return 0
	case s == job.StateProcessing:
		return 1
	case s.Terminal():
		return 2
	}
	return -1
}

// Reduce folds one signal into v. It reports whether the view changed.
func Reduce(v View, s Signal) (View, bool) {
	if v.Final {
		return v, false
	}

	next := v
	switch s.Kind {
	case SignalSnapshot:
		ev := s.Snapshot
		if ev.JobID != "" && v.JobID != "" && ev.JobID != v.JobID {
			return v, false
		}
		terminal := ev.State.Terminal()
		if !terminal && ev.Counts.Processed < v.Counts.Processed {
			return v, false
		}
		if ev.Counts.Processed >= v.Counts.Processed {
			next.Counts = ev.Counts
			if next.Counts.Total == 0 {
				next.Counts.Total = v.Counts.Total
			}
			if s.Job != nil {
				applyRecord(&next, s.Job)
			}
		}
		if stateRank(ev.State) >= stateRank(v.State) {
			next.State = ev.State
		}
		if ev.Message != "" {
			next.Message = ev.Message
		}
		next.Source = s.Source
		if terminal {
			next.Final = true
			next.Cancelling = false
			next.TransportDegraded = false
		}

	case SignalCancelRequested:
		next.Cancelling = true

	case SignalCancelRejected:
		next.Cancelling = false

	case SignalTimeout:
		next.State = job.StateError
		next.LocalError = true
		next.Final = true
		next.Cancelling = false
		next.Source = SourceLocal
		next.Message = fmt.Sprintf("no final status after %s; the import may still be running on the server", s.After)

	case SignalLost:
		next.State = job.StateError
		next.LocalError = true
		next.Final = true
		next.Cancelling = false
		next.Source = SourceLocal
		next.Message = "the server no longer knows this import job"

	case SignalDegraded:
		next.TransportDegraded = true

	case SignalRecovered:
		next.TransportDegraded = false
	}

	return next, !reflect.DeepEqual(next, v)
}
