package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/stockimport/internal/client"
	"github.com/urfave/cli/v3"
)

// WatchAction follows an existing background job until it finishes.
func WatchAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "job-id")
	if err != nil {
		return err
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	obs := client.NewOrchestrator(c, observeConfig(cmd)).Observe(id)
	defer obs.Close()
	return follow(ctx, cmd, obs)
}

// StatusAction prints the current snapshot of a job.
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "job-id")
	if err != nil {
		return err
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	j, err := c.Job(ctx, id)
	if err != nil {
		return err
	}

	w := stdout(cmd)
	if cmd.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(j)
	}

	_, _ = fmt.Fprintf(w, "job:      %s\n", j.ID)
	_, _ = fmt.Fprintf(w, "dataset:  %s\n", j.DatasetType)
	_, _ = fmt.Fprintf(w, "file:     %s (%d bytes)\n", j.Source.FileName, j.Source.Size)
	_, _ = fmt.Fprintf(w, "state:    %s\n", j.State)
	_, _ = fmt.Fprintf(w, "progress: %s\n", formatCounts(j.Counts))
	_, _ = fmt.Fprintf(w, "created:  %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "started:  %s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "finished: %s\n", j.FinishedAt.Format(time.RFC3339))
	}
	if j.CancelRequested && !j.State.Terminal() {
		_, _ = fmt.Fprintln(w, "cancellation requested")
	}
	if j.Message != "" {
		_, _ = fmt.Fprintf(w, "message:  %s\n", j.Message)
	}
	if len(j.Errors) > 0 {
		_, _ = fmt.Fprintf(w, "errors:\n")
		printRowErrors(w, j.Errors, j.ErrorsTruncated)
	}
	return nil
}

// CancelAction requests cancellation. Running jobs stop at their next
// batch boundary, so the job may still report Processing for a moment.
func CancelAction(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "job-id")
	if err != nil {
		return err
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Cancel(ctx, id)
	if client.IsConflict(err) {
		return cli.Exit(fmt.Sprintf("job %s already finished", id), exitFailed)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout(cmd), "cancel requested for job %s (state %s)\n", res.JobID, res.State)
	return nil
}
