package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/urfave/cli/v3"
)

// DatasetsAction lists the datasets the server accepts.
func DatasetsAction(ctx context.Context, cmd *cli.Command) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	sets, err := c.Datasets(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout(cmd), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tLABEL\tUNIQUE KEY\tREQUIRED COLUMNS")
	for _, ds := range sets {
		var required []string
		for _, col := range ds.Columns {
			if col.Required {
				required = append(required, col.Name)
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ds.Key, ds.Label, strings.Join(ds.UniqueKey, ","), strings.Join(required, ","))
	}
	return tw.Flush()
}

// TemplateAction downloads a dataset's CSV template.
func TemplateAction(ctx context.Context, cmd *cli.Command) error {
	arg, err := requireArg(cmd, "dataset")
	if err != nil {
		return err
	}
	dt, err := job.ParseDatasetType(arg)
	if err != nil || dt == job.DatasetAuto {
		return cli.Exit(fmt.Sprintf("template: unknown dataset %q", arg), exitUsage)
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	body, err := c.Template(ctx, dt)
	if err != nil {
		return err
	}

	if out := cmd.String("output"); out != "" {
		if err := os.WriteFile(out, body, 0o644); err != nil {
			return fmt.Errorf("write template: %w", err)
		}
		_, _ = fmt.Fprintf(stdout(cmd), "wrote %s\n", out)
		return nil
	}
	_, err = stdout(cmd).Write(body)
	return err
}
