package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// DefaultStreamRetry is the delay before the push listener reconnects.
const DefaultStreamRetry = 2 * time.Second

// errStreamEnded is returned when the server closed the stream before a
// terminal event.
var errStreamEnded = errors.New("event stream ended")

// Stream opens the job's event stream and calls fn for every decoded
// event. It returns nil after a terminal event, errStreamEnded if the
// server closed the stream early, or the transport error. lastEventID
// resumes after a known processed count; pass a negative value to start
// fresh.
func (c *Client) Stream(ctx context.Context, jobID string, lastEventID int, fn func(job.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/import/jobs/"+url.PathEscape(jobID)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID >= 0 {
		req.Header.Set("Last-Event-ID", strconv.Itoa(lastEventID))
	}

	res, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return decodeAPIError(res)
	}

	sc := bufio.NewScanner(res.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name != "" {
				ev, err := job.DecodeEvent(name, []byte(data.String()))
				if err != nil {
					slog.Debug("skipping undecodable event", "job_id", jobID, "event", name, "error", err)
				} else {
					fn(ev)
					if ev.Type.Terminal() {
						return nil
					}
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return errStreamEnded
}

// listen follows the push stream for jobID, reconnecting after drops, and
// forwards every event to out. It returns after a terminal event, a 4xx
// answer or when ctx is done. Transport failures are logged and absorbed;
// the reconciler covers the gap.
func listen(ctx context.Context, c *Client, jobID string, retry time.Duration, out chan<- Signal) {
	if retry <= 0 {
		retry = DefaultStreamRetry
	}
	last := -1

	for {
		terminal := false
		err := c.Stream(ctx, jobID, last, func(ev job.Event) {
			last = ev.Counts.Processed
			terminal = ev.Type.Terminal()
			select {
			case out <- SnapshotSignal(SourcePush, ev):
			case <-ctx.Done():
			}
		})
		if terminal || ctx.Err() != nil {
			return
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
			slog.Debug("event stream refused", "job_id", jobID, "status", apiErr.Status, "error", err)
			return
		}
		slog.Debug("event stream dropped, reconnecting", "job_id", jobID, "error", err, "retry", retry)

		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
