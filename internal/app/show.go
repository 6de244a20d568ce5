package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"nexora-analytics/internal/analytics"
)

// Show prints a bank's KPIs and network breakdown for a period.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	svc, closeStore, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	dash, err := svc.dashboard.Build(ctx, opts.BankID, opts.Period)
	if err != nil {
		return err
	}

	renderDashboard(a.Out, opts.BankID, dash)
	return nil
}

func renderDashboard(out io.Writer, bankID string, dash analytics.Dashboard) {
	k := dash.KPIs
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(writer, "Bank\t%s\n", bankID)
	fmt.Fprintf(writer, "Period\t%s (%s to %s)\n", k.Period, dash.Period.Start.Format("2006-01-02"), dash.Period.End.Format("2006-01-02"))
	fmt.Fprintf(writer, "Transfers\t%d\n", k.TotalTransfers)
	fmt.Fprintf(writer, "Volume\t%.2f\n", k.TotalVolume)
	fmt.Fprintf(writer, "Fees\t%.2f\n", k.TotalFees)
	fmt.Fprintf(writer, "Avg settlement (s)\t%.2f\n", k.AvgSettlementTime)
	fmt.Fprintf(writer, "Success rate %%\t%.2f\n", k.SuccessRate)
	fmt.Fprintf(writer, "SWIFT-equivalent fees\t%.2f\n", k.SwiftFeeTotal)
	fmt.Fprintf(writer, "Cost savings\t%.2f (%.2f%%)\n", k.TotalCostSavings, k.SavingsPercentage)
	writer.Flush()

	if len(dash.NetworkPerformance) == 0 {
		fmt.Fprintln(out, "\nno transfers in period")
		return
	}

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Network\tTransfers\tVolume\tFees\tAvg settle (s)\tSuccess%\tSavings")
	for _, n := range dash.NetworkPerformance {
		fmt.Fprintf(writer, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			sanitizeInline(n.Network),
			n.TransferCount,
			n.Volume,
			n.TotalFees,
			n.AvgSettlementTime,
			n.SuccessRate,
			n.TotalCostSavings,
		)
	}
	writer.Flush()

	if len(dash.TransferTypes) > 0 {
		fmt.Fprintln(out)
		writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Type\tTransfers\tVolume\tAvg amount\tShare%")
		for _, t := range dash.TransferTypes {
			fmt.Fprintf(writer, "%s\t%d\t%.2f\t%.2f\t%.2f\n", sanitizeInline(t.TransferType), t.Count, t.Volume, t.AvgAmount, t.Percentage)
		}
		writer.Flush()
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
