// Package commands implements the importctl command line: submitting import
// files to the server and following, inspecting and cancelling the
// resulting jobs.
package commands

import (
	"time"

	"github.com/JonMunkholm/stockimport/internal/client"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/urfave/cli/v3"
)

// Version is reported by --version and in the User-Agent header.
var Version = "dev"

// App returns the importctl command tree.
func App() *cli.Command {
	return &cli.Command{
		Name:    "importctl",
		Usage:   "bulk import client for the stock import server",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "import server base URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("IMPORTCTL_SERVER"),
			},
			&cli.DurationFlag{
				Name:  "request-timeout",
				Usage: "timeout of a single API request",
				Value: 30 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "submit",
				Usage:     "upload a CSV or TSV file and follow the import",
				ArgsUsage: "<file>",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "dataset",
						Usage: "dataset type, or auto to detect it from the header",
						Value: "auto",
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "update existing records that share the unique key",
					},
					&cli.BoolFlag{
						Name:  "validate-only",
						Usage: "validate every row without writing",
					},
					&cli.BoolFlag{
						Name:  "notify",
						Usage: "send a completion notification",
					},
					&cli.BoolFlag{
						Name:  "async",
						Usage: "run as a background job regardless of file size",
					},
					&cli.Int64Flag{
						Name:  "sync-threshold",
						Usage: "file size in bytes from which imports run in the background",
						Value: job.DefaultSyncThreshold,
					},
					&cli.BoolFlag{
						Name:  "detach",
						Usage: "print the job id and return without following it",
					},
				}, watchFlags()...),
				Action: SubmitAction,
			},
			{
				Name:      "watch",
				Usage:     "follow a background import until it finishes",
				ArgsUsage: "<job-id>",
				Flags:     watchFlags(),
				Action:    WatchAction,
			},
			{
				Name:      "status",
				Usage:     "show the current snapshot of an import job",
				ArgsUsage: "<job-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print the raw job as JSON",
					},
				},
				Action: StatusAction,
			},
			{
				Name:      "cancel",
				Usage:     "request cancellation of an import job",
				ArgsUsage: "<job-id>",
				Action:    CancelAction,
			},
			{
				Name:   "datasets",
				Usage:  "list the importable datasets",
				Action: DatasetsAction,
			},
			{
				Name:      "template",
				Usage:     "download the CSV template of a dataset",
				ArgsUsage: "<dataset>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write to this file instead of stdout",
					},
				},
				Action: TemplateAction,
			},
		},
	}
}

// watchFlags returns the flags shared by submit and watch.
func watchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-push",
			Usage: "follow by polling only",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "give up following after this long",
			Value: client.DefaultSafetyTimeout,
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "print only the final result",
		},
	}
}
