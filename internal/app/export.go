package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"nexora-analytics/internal/analytics"
)

// Export renders a bank's daily volume trend as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	svc, closeStore, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStore()

	points, err := svc.aggregator.VolumeTrends(ctx, opts.BankID, opts.Period)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Str("bank_id", opts.BankID).Str("period", opts.Period).Msg("no transfers found for export window")
		return nil
	}

	downsampled := downsampleTrend(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting volume trend")

	if opts.CSVPath != "" {
		if err := writeTrendCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTrendPNG(opts.PNGPath, opts.BankID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleTrend(points []analytics.TrendPoint, max int) []analytics.TrendPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]analytics.TrendPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeTrendCSV(path string, points []analytics.TrendPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "transfer_count", "volume", "fees", "success_rate", "avg_settlement_time"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Date,
			strconv.FormatInt(p.TransferCount, 10),
			strconv.FormatFloat(p.Volume, 'f', 2, 64),
			strconv.FormatFloat(p.Fees, 'f', 2, 64),
			strconv.FormatFloat(p.SuccessRate, 'f', 2, 64),
			strconv.FormatFloat(p.AvgSettlementTime, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeTrendPNG(path, bankID string, points []analytics.TrendPoint) error {
	if len(points) < 2 {
		return errors.New("png export needs at least two days of data")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	volume := make([]float64, len(points))
	success := make([]float64, len(points))

	for i, p := range points {
		day, err := time.Parse(time.DateOnly, p.Date)
		if err != nil {
			return err
		}
		x[i] = day
		volume[i] = p.Volume
		success[i] = p.SuccessRate
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  "Daily volume: " + bankID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Success rate (%)",
			ValueFormatter: amountFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
			},
			chart.TimeSeries{
				Name:    "Success %",
				XValues: x,
				YValues: success,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
