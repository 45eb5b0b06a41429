package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher returns its responses in order and repeats the last one.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
}

type fetchStep struct {
	job job.ImportJob
	err error
}

func (f *scriptedFetcher) Job(_ context.Context, id string) (job.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	step := f.steps[i]
	step.job.ID = id
	return step.job, step.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func processing(processed int) fetchStep {
	return fetchStep{job: job.ImportJob{State: job.StateProcessing, Counts: job.Counts{Total: 100, Processed: processed, Succeeded: processed}}}
}

func fastPolicy(job.Counts) time.Duration { return time.Millisecond }

func collect(t *testing.T, ch <-chan Signal, until func(Signal) bool) []Signal {
	t.Helper()
	var got []Signal
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-ch:
			got = append(got, s)
			if until(s) {
				return got
			}
		case <-timeout:
			t.Fatalf("no matching signal, got %d signals", len(got))
		}
	}
}

func TestReconciler_PollsUntilTerminal(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{
		processing(10),
		processing(60),
		{job: job.ImportJob{State: job.StateCompleted, Counts: job.Counts{Total: 100, Processed: 100, Succeeded: 100}}},
	}}
	out := make(chan Signal, 16)
	r := NewReconciler(f, out, ReconcilerConfig{Policy: fastPolicy})
	r.Start(context.Background(), "j1")
	defer r.Stop()

	got := collect(t, out, func(s Signal) bool { return s.Snapshot.State.Terminal() })
	require.Len(t, got, 3)
	for _, s := range got {
		assert.Equal(t, SignalSnapshot, s.Kind)
		assert.Equal(t, SourcePoll, s.Source)
		assert.Equal(t, "j1", s.Snapshot.JobID)
		assert.NotNil(t, s.Job, "polled signals carry the full record")
	}
	assert.Equal(t, job.EventCompleted, got[2].Snapshot.Type)

	r.Stop()
	assert.Equal(t, 3, f.Calls(), "no polls after the terminal snapshot")
}

func TestReconciler_SafetyTimeout(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{processing(1)}}
	out := make(chan Signal, 256)
	r := NewReconciler(f, out, ReconcilerConfig{
		Policy:        func(job.Counts) time.Duration { return 10 * time.Millisecond },
		SafetyTimeout: 80 * time.Millisecond,
	})
	r.Start(context.Background(), "j1")
	defer r.Stop()

	got := collect(t, out, func(s Signal) bool { return s.Kind == SignalTimeout })
	last := got[len(got)-1]
	assert.Equal(t, SourceLocal, last.Source)
	assert.Equal(t, 80*time.Millisecond, last.After)
}

func TestReconciler_DegradesAndRecovers(t *testing.T) {
	boom := errors.New("connection refused")
	f := &scriptedFetcher{steps: []fetchStep{
		{err: boom}, {err: boom}, {err: boom}, {err: boom},
		processing(5),
	}}
	out := make(chan Signal, 16)
	r := NewReconciler(f, out, ReconcilerConfig{Policy: fastPolicy, MaxConsecutiveFailures: 3})
	r.Start(context.Background(), "j1")
	defer r.Stop()

	got := collect(t, out, func(s Signal) bool { return s.Kind == SignalSnapshot })
	kinds := make([]SignalKind, len(got))
	for i, s := range got {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []SignalKind{SignalDegraded, SignalRecovered, SignalSnapshot}, kinds)
}

func TestReconciler_NotFoundIsLost(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{{err: &APIError{Status: http.StatusNotFound, Code: "JOB001"}}}}
	out := make(chan Signal, 4)
	r := NewReconciler(f, out, ReconcilerConfig{Policy: fastPolicy})
	r.Start(context.Background(), "gone")
	defer r.Stop()

	got := collect(t, out, func(Signal) bool { return true })
	assert.Equal(t, SignalLost, got[0].Kind)
	assert.True(t, IsNotFound(got[0].Err))
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{steps: []fetchStep{processing(1)}}
	r := NewReconciler(f, make(chan Signal, 1), ReconcilerConfig{Policy: fastPolicy})

	r.Stop()
	r.Start(context.Background(), "j1")
	r.Start(context.Background(), "j1")
	r.Stop()
	r.Stop()
}
