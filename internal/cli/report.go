package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/report"
)

func (a *app) reportCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "report <full-pipeline|quick-demo>",
		Short:     "Write a Markdown report for the trained models",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(report.FullPipeline), string(report.QuickDemo)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := report.ParseKind(args[0])
			if err != nil {
				return err
			}
			dm, err := a.loadModels()
			if err != nil {
				return err
			}
			path, err := report.Generate(a.cfg.Paths.ReportsDir, kind, dm, a.unit(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report saved to %s\n", path)
			return nil
		},
	}
}
