package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// maxStreamJobs bounds how many jobs one multiplexed stream may follow.
const maxStreamJobs = 50

// handleJobEvents streams one job's events via Server-Sent Events.
// Supports resumption through the Last-Event-ID header or a lastEventId
// query parameter: progress events at or below that processed count are
// skipped. Terminal events are always sent.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	resumeAfter := -1
	if n, err := strconv.Atoi(lastEventID); err == nil {
		resumeAfter = n
	}

	events, cancel, err := s.service.Subscribe(r.Context(), jobID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer cancel()

	s.stream(w, r, events, func(ev job.Event) bool {
		return ev.Type.Terminal() || ev.Counts.Processed > resumeAfter
	})
}

// handleEvents multiplexes several jobs onto one stream:
// GET /import/events?jobId=a&jobId=b (comma-separated ids also work). The
// stream ends once every job has reached a terminal state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ids := jobIDsFromQuery(r)
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "HTTP400", "at least one jobId is required")
		return
	}
	if len(ids) > maxStreamJobs {
		writeError(w, http.StatusBadRequest, "HTTP400", fmt.Sprintf("at most %d jobs per stream", maxStreamJobs))
		return
	}

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	var cancels []func()
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	sources := make([]<-chan job.Event, 0, len(ids))
	for _, id := range ids {
		events, cancel, err := s.service.Subscribe(ctx, id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		cancels = append(cancels, cancel)
		sources = append(sources, events)
	}

	s.stream(w, r, fanIn(ctx, sources), func(job.Event) bool { return true })
}

// stream writes events until the channel closes or the client goes away,
// sending keep-alive comments while idle.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, events <-chan job.Event, send func(job.Event) bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "HTTP500", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := s.cfg.Server.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	log := logging.FromContext(r.Context())
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(ev) {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				log.Debug("event stream write failed", "job_id", ev.JobID, "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one SSE frame. The id is the processed count so a
// reconnecting client can resume.
func writeEvent(w http.ResponseWriter, ev job.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Counts.Processed, ev.Type, data)
	return err
}

// fanIn merges event channels. The output closes when every input has
// closed or ctx is done.
func fanIn(ctx context.Context, sources []<-chan job.Event) <-chan job.Event {
	out := make(chan job.Event)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src <-chan job.Event) {
			defer wg.Done()
			for ev := range src {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func jobIDsFromQuery(r *http.Request) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, v := range r.URL.Query()["jobId"] {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
