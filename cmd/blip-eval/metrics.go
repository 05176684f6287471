package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Mineru98/blip2-eval-go/evaluate"
	"github.com/Mineru98/blip2-eval-go/metrics"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics RESULTS",
		Short: "Print Recall@K for a saved retrieval result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := evaluate.LoadRetrievalResults(args[0])
			if err != nil {
				return err
			}

			m := metrics.Recall(results.ScoresI2T, results.ScoresT2I, results.Img2Txt, results.Txt2Img)

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"DIRECTION", "R@1", "R@5", "R@10", "MEAN"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk([][]string{
				{"text", pct(m.TxtR1), pct(m.TxtR5), pct(m.TxtR10), pct(m.TxtRMean)},
				{"image", pct(m.ImgR1), pct(m.ImgR5), pct(m.ImgR10), pct(m.ImgRMean)},
			})
			table.Render()

			fmt.Fprintf(cmd.OutOrStdout(), "r_mean: %s\n", pct(m.RMean))
			return nil
		},
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
