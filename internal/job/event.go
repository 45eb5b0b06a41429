package job

import (
	"encoding/json"
	"fmt"
)

// EventType names a push-channel event.
type EventType string

const (
	EventProgress  EventType = "progress-updated"
	EventCompleted EventType = "job-completed"
	EventError     EventType = "job-error"
	EventCancelled EventType = "job-cancelled"
)

// Terminal reports whether the event type ends a job's stream.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventError || t == EventCancelled
}

// ParseEventType validates an event name received on the wire.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventProgress, EventCompleted, EventError, EventCancelled:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is a progress notification for one job. It always carries the full
// current counters so that a missed event loses no information.
type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"jobId"`
	State   State     `json:"state"`
	Counts  Counts    `json:"counts"`
	Message string    `json:"message,omitempty"`
}

// EventFor derives the event that describes j's current snapshot.
func EventFor(j ImportJob) Event {
	ev := Event{
		Type:    EventProgress,
		JobID:   j.ID,
		State:   j.State,
		Counts:  j.Counts,
		Message: j.Message,
	}
	switch j.State {
	case StateCompleted:
		ev.Type = EventCompleted
	case StateError:
		ev.Type = EventError
	case StateCancelled:
		ev.Type = EventCancelled
	}
	return ev
}

// ProgressPayload is the wire body of a progress-updated event.
type ProgressPayload struct {
	JobID     string `json:"jobId"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	State     State  `json:"state"`
}

// CompletedPayload is the wire body of a job-completed event.
type CompletedPayload struct {
	JobID       string `json:"jobId"`
	FinalCounts Counts `json:"finalCounts"`
	State       State  `json:"state"`
}

// FailurePayload is the wire body of job-error and job-cancelled events.
// FinalCounts carries the counters the job stopped at.
type FailurePayload struct {
	JobID       string `json:"jobId"`
	Message     string `json:"message"`
	State       State  `json:"state"`
	FinalCounts Counts `json:"finalCounts"`
}

// Payload returns the wire body for e.
func (e Event) Payload() any {
	switch e.Type {
	case EventCompleted:
		return CompletedPayload{JobID: e.JobID, FinalCounts: e.Counts, State: e.State}
	case EventError, EventCancelled:
		return FailurePayload{JobID: e.JobID, Message: e.Message, State: e.State, FinalCounts: e.Counts}
	default:
		return ProgressPayload{
			JobID:     e.JobID,
			Processed: e.Counts.Processed,
			Succeeded: e.Counts.Succeeded,
			Failed:    e.Counts.Failed,
			Total:     e.Counts.Total,
			State:     e.State,
		}
	}
}

// DecodeEvent rebuilds an Event from a wire event name and its JSON body.
func DecodeEvent(name string, data []byte) (Event, error) {
	t, err := ParseEventType(name)
	if err != nil {
		return Event{}, err
	}

	ev := Event{Type: t}
	switch t {
	case EventCompleted:
		var p CompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.JobID, ev.State, ev.Counts = p.JobID, p.State, p.FinalCounts
	case EventError, EventCancelled:
		var p FailurePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.JobID, ev.State, ev.Message, ev.Counts = p.JobID, p.State, p.Message, p.FinalCounts
	default:
		var p ProgressPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.JobID, ev.State = p.JobID, p.State
		ev.Counts = Counts{Total: p.Total, Processed: p.Processed, Succeeded: p.Succeeded, Failed: p.Failed}
	}

	if ev.JobID == "" {
		return Event{}, fmt.Errorf("decode %s: missing jobId", name)
	}
	if !ev.State.Valid() {
		return Event{}, fmt.Errorf("decode %s: invalid state %q", name, ev.State)
	}
	return ev, nil
}
