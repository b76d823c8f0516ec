package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

func (a *app) runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs with their prediction alert counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			if reg == nil {
				return model.ConfigErrorf("runs", "registry.path is empty")
			}
			defer reg.Close()

			runs, err := reg.Runs(cmd.Context(), limit)
			if err != nil {
				return model.PersistenceErrorf("registry", "%w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tTRAIN\tTEST\tMAE\tF1\tBASELINE\tVIOLATION\tSAFE")
			for _, run := range runs {
				counts, err := reg.AlertCounts(cmd.Context(), run.ID)
				if err != nil {
					return model.PersistenceErrorf("registry", "%w", err)
				}
				f1, baseline := "-", "-"
				if run.F1Defined {
					f1 = fmt.Sprintf("%.3f", run.F1)
				}
				if run.BaselineMAE != nil {
					baseline = fmt.Sprintf("%.2f", *run.BaselineMAE)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\t%s\t%d\t%d\n",
					run.ID, run.CreatedAt.Local().Format(time.DateTime),
					run.TrainRows, run.TestRows, run.MAE, f1, baseline,
					counts[model.AlertViolation], counts[model.AlertSafe])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "most recent runs to list")
	return cmd
}
