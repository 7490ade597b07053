package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pool-risk-metrics/internal/storage"
)

// Export renders one (quote, field) metric history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.QuoteID == "" {
		return errors.New("--quote is required")
	}
	if opts.FieldType == "" {
		return errors.New("--field is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	metrics, err := store.ListRiskMetricsBetween(ctx, opts.QuoteID, opts.FieldType, from, to)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		a.Logger.Info().Msg("no metrics found for export window")
		return nil
	}

	downsampled := downsampleMetrics(metrics, opts.MaxPoints)
	a.Logger.Info().Int("total", len(metrics)).Int("exported", len(downsampled)).Msg("exporting metrics")

	if opts.CSVPath != "" {
		if err := writeMetricsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeMetricsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleMetrics(metrics []storage.RiskMetric, max int) []storage.RiskMetric {
	if max <= 0 || len(metrics) <= max {
		return metrics
	}

	result := make([]storage.RiskMetric, 0, max)
	step := float64(len(metrics)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(metrics) {
			idx = len(metrics) - 1
		}
		result = append(result, metrics[idx])
	}
	return result
}

// gridLabels returns the union of VaR labels across the export set, sorted,
// so every CSV row shares one column layout.
func gridLabels(metrics []storage.RiskMetric) []string {
	set := map[string]struct{}{}
	for _, metric := range metrics {
		for label := range metric.VaR {
			set[label] = struct{}{}
		}
	}
	labels := make([]string, 0, len(set))
	for label := range set {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func writeMetricsCSV(path string, metrics []storage.RiskMetric) error {
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

	labels := gridLabels(metrics)
	header := append([]string{"ts", "quote_id", "token_name", "field_type", "mu", "sig_sqrd"}, labels...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, metric := range metrics {
		record := []string{
			metric.TS.UTC().Format(time.RFC3339),
			metric.QuoteID,
			metric.TokenName,
			metric.FieldType,
			strconv.FormatFloat(metric.Mu, 'g', -1, 64),
			strconv.FormatFloat(metric.SigSqrd, 'g', -1, 64),
		}
		for _, label := range labels {
			record = append(record, strconv.FormatFloat(metric.VaR[label], 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeMetricsPNG(path string, metrics []storage.RiskMetric) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	labels := gridLabels(metrics)

	x := make([]time.Time, len(metrics))
	mu := make([]float64, len(metrics))
	for i, metric := range metrics {
		x[i] = metric.TS
		mu[i] = metric.Mu
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4g")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Drift rate",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "VaR",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "mu",
				XValues: x,
				YValues: mu,
			},
		},
	}

	// One secondary series per grid cell keeps the whole surface visible.
	for _, label := range labels {
		y := make([]float64, len(metrics))
		for i, metric := range metrics {
			y[i] = metric.VaR[label]
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    label,
			XValues: x,
			YValues: y,
			YAxis:   chart.YAxisSecondary,
		})
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
