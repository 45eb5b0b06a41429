package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/stockimport/internal/client"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/urfave/cli/v3"
)

// SubmitAction uploads a file. Inline imports print their result at once;
// background imports are followed until they finish unless --detach is set.
func SubmitAction(ctx context.Context, cmd *cli.Command) error {
	path, err := requireArg(cmd, "file")
	if err != nil {
		return err
	}
	dt, err := job.ParseDatasetType(cmd.String("dataset"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	c, err := newClient(cmd, client.WithSyncThreshold(cmd.Int64("sync-threshold")))
	if err != nil {
		return err
	}

	up := client.FileUpload{
		FileName:    filepath.Base(path),
		Data:        data,
		DatasetType: dt,
		Options: job.Options{
			OverwriteExisting:  cmd.Bool("overwrite"),
			ValidateOnly:       cmd.Bool("validate-only"),
			NotifyOnCompletion: cmd.Bool("notify"),
		},
		ForceAsync: cmd.Bool("async") || cmd.Bool("detach"),
	}

	slog.Debug("submitting import", "file", up.FileName, "size", len(data), "dataset", dt)

	w := stdout(cmd)
	if cmd.Bool("detach") {
		sub, err := c.Submit(ctx, up)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, sub.JobID)
		return nil
	}

	orch := client.NewOrchestrator(c, observeConfig(cmd))
	sub, obs, err := orch.SubmitAndObserve(ctx, up)
	if err != nil {
		return err
	}
	if obs == nil {
		return printSyncResult(w, sub.Sync)
	}
	defer obs.Close()

	_, _ = fmt.Fprintf(w, "job %s accepted\n", sub.JobID)
	return follow(ctx, cmd, obs)
}

func observeConfig(cmd *cli.Command) client.Config {
	return client.Config{
		DisablePush: cmd.Bool("no-push"),
		Reconciler: client.ReconcilerConfig{
			SafetyTimeout: cmd.Duration("timeout"),
		},
	}
}

func printSyncResult(w io.Writer, res *client.SyncResult) error {
	counts := job.Counts{
		Total:     res.RecordsProcessed,
		Processed: res.RecordsProcessed,
		Succeeded: res.RecordsSucceeded,
		Failed:    res.RecordsFailed,
	}
	_, _ = fmt.Fprintf(w, "imported %s: %s\n", res.DatasetType, formatCounts(counts))
	if res.Message != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", res.Message)
	}
	printRowErrors(w, res.Errors, false)

	if !res.Success {
		return cli.Exit("", exitFailed)
	}
	return nil
}
