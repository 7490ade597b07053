package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent risk metrics.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show metrics")
	}
	defer closeStore()

	metrics, err := store.ListRecentRiskMetrics(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(metrics) == 0 {
		fmt.Fprintln(os.Stdout, "no metrics found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tQuote\tToken\tField\tMu\tSigSqrd\tVaR grid")

	for _, metric := range metrics {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			metric.TS.UTC().Format(time.RFC3339),
			metric.QuoteID,
			metric.TokenName,
			metric.FieldType,
			formatRate(metric.Mu),
			formatRate(metric.SigSqrd),
			formatGrid(metric.VaR),
		)
	}

	writer.Flush()
	return nil
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'e', 4, 64)
}

func formatGrid(grid map[string]float64) string {
	labels := make([]string, 0, len(grid))
	for label := range grid {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, fmt.Sprintf("%s: %.6f", label, grid[label]))
	}
	return strings.Join(parts, "; ")
}
