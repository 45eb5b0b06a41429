package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/JonMunkholm/stockimport/internal/client"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/urfave/cli/v3"
)

// Exit codes.
const (
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 3
	exitUnknown   = 4
)

// cancelTimeout bounds the cancel request sent after an interrupt.
const cancelTimeout = 10 * time.Second

// ExitCode maps a final view to the process exit code. A job the client
// gave up on is reported separately from one the server failed.
func ExitCode(v client.View) int {
	switch {
	case v.LocalError:
		return exitUnknown
	case v.State == job.StateCompleted:
		return 0
	case v.State == job.StateCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

func newClient(cmd *cli.Command, opts ...client.Option) (*client.Client, error) {
	opts = append([]client.Option{
		client.WithHTTPClient(&http.Client{Timeout: cmd.Duration("request-timeout")}),
		client.WithUserAgent("importctl/" + Version),
	}, opts...)
	return client.New(cmd.String("server"), opts...)
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// requireArg returns the first positional argument or a usage error.
func requireArg(cmd *cli.Command, name string) (string, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return "", cli.Exit(fmt.Sprintf("%s: missing <%s> argument", cmd.Name, name), exitUsage)
	}
	return arg, nil
}

// follow prints the observation's progress until it ends. The first
// interrupt asks the server to cancel the job and keeps following until
// the server confirms a terminal state.
func follow(ctx context.Context, cmd *cli.Command, obs *client.Observation) error {
	w := stdout(cmd)
	quiet := cmd.Bool("quiet")
	interrupted := ctx.Done()

	for {
		select {
		case v, ok := <-obs.Updates():
			if !ok {
				return finish(w, obs.View())
			}
			if !quiet && !v.Final {
				printProgress(w, v)
			}
		case <-interrupted:
			interrupted = nil
			_, _ = fmt.Fprintf(w, "cancelling %s...\n", obs.JobID())

			cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			err := obs.Cancel(cctx)
			cancel()
			if err != nil && !client.IsNotFound(err) {
				slog.Warn("cancel request failed", "job_id", obs.JobID(), "error", err)
				obs.Close()
				return cli.Exit(fmt.Sprintf("cancel %s: %v", obs.JobID(), err), exitFailed)
			}
		}
	}
}

// finish prints the final view and turns it into an exit status.
func finish(w io.Writer, v client.View) error {
	_, _ = fmt.Fprintf(w, "job %s %s: %s\n", v.JobID, v.State, formatCounts(v.Counts))
	if v.Message != "" {
		_, _ = fmt.Fprintf(w, "  %s\n", v.Message)
	}
	printRowErrors(w, v.Errors, v.ErrorsTruncated)
	if code := ExitCode(v); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func printProgress(w io.Writer, v client.View) {
	line := fmt.Sprintf("job %s %s: %s", v.JobID, v.State, formatCounts(v.Counts))
	if v.Cancelling {
		line += " (cancelling)"
	}
	if v.TransportDegraded {
		line += " (connection degraded)"
	}
	_, _ = fmt.Fprintln(w, line)
}

func formatCounts(c job.Counts) string {
	if c.Total > 0 {
		return fmt.Sprintf("%d/%d processed, %d succeeded, %d failed", c.Processed, c.Total, c.Succeeded, c.Failed)
	}
	return fmt.Sprintf("%d processed, %d succeeded, %d failed", c.Processed, c.Succeeded, c.Failed)
}

// maxPrintedErrors caps the row errors printed for one import.
const maxPrintedErrors = 20

func printRowErrors(w io.Writer, errs []job.RowError, truncated bool) {
	for i, e := range errs {
		if i == maxPrintedErrors {
			_, _ = fmt.Fprintf(w, "  ... %d more\n", len(errs)-i)
			return
		}
		if e.Column != "" {
			_, _ = fmt.Fprintf(w, "  row %d %s: %s\n", e.Row, e.Column, e.Message)
		} else {
			_, _ = fmt.Fprintf(w, "  row %d: %s\n", e.Row, e.Message)
		}
	}
	if truncated {
		_, _ = fmt.Fprintln(w, "  (error list truncated by the server)")
	}
}
