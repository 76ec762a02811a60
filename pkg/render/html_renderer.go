// Package render draws operator cost breakdowns as standalone HTML charts.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/models"
)

const (
	chartWidth  = "1000px"
	chartHeight = "600px"
)

// ArtifactName is the deterministic file name of the chart for a query.
func ArtifactName(id int64) string {
	return "query_" + strconv.FormatInt(id, 10) + "_profile.html"
}

// Title is the chart title for a query.
func Title(id int64) string {
	return fmt.Sprintf("Query %d Profile (Execution Time per Operator)", id)
}

// HTMLRenderer writes one bar chart per query into a directory.
type HTMLRenderer struct {
	dir    string
	logger zerolog.Logger
}

// NewHTMLRenderer creates the artifact directory if needed.
func NewHTMLRenderer(dir string, logger zerolog.Logger) (*HTMLRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}
	return &HTMLRenderer{
		dir:    dir,
		logger: logger.With().Str("component", "renderer").Logger(),
	}, nil
}

// Dir returns the artifact directory.
func (r *HTMLRenderer) Dir() string {
	return r.dir
}

// Path returns where the artifact for id lives, whether or not it exists.
func (r *HTMLRenderer) Path(id int64) string {
	return filepath.Join(r.dir, ArtifactName(id))
}

// Handle returns the artifact path when it exists.
func (r *HTMLRenderer) Handle(id int64) (string, bool) {
	path := r.Path(id)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// Render draws costs sorted ascending by time. An empty breakdown becomes a
// single bar for the whole query.
func (r *HTMLRenderer) Render(ctx context.Context, id int64, costs []models.OperatorCostEntry, execTimeMs float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	labels, values := series(costs, execTimeMs)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: Title(id),
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: Title(id)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Execution Time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Operator"}),
	)
	bar.SetXAxis(labels).AddSeries("time_s", values)
	bar.XYReversal()

	// Write to a temp file first so a half-written chart is never visible.
	tmp, err := os.CreateTemp(r.dir, ".query_*.html")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := bar.Render(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to flush chart: %w", err)
	}

	path := r.Path(id)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to publish chart: %w", err)
	}

	r.logger.Debug().Int64("query_id", id).Str("path", path).Int("bars", len(labels)).Msg("Chart rendered")
	return path, nil
}

// Clear removes every chart in the directory, including temp files left by an
// interrupted render.
func (r *HTMLRenderer) Clear(ctx context.Context) error {
	var errs []error
	removed := 0
	for _, pattern := range []string{"query_*_profile.html", ".query_*.html"} {
		matches, err := filepath.Glob(filepath.Join(r.dir, pattern))
		if err != nil {
			return fmt.Errorf("failed to list artifacts: %w", err)
		}
		for _, path := range matches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	r.logger.Debug().Int("removed", removed).Msg("Charts cleared")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}
	return nil
}

func series(costs []models.OperatorCostEntry, execTimeMs float64) ([]string, []opts.BarData) {
	if len(costs) == 0 {
		label := fmt.Sprintf("QUERY (%.3f ms)", execTimeMs)
		return []string{label}, []opts.BarData{{Value: execTimeMs / 1000}}
	}

	sorted := make([]models.OperatorCostEntry, len(costs))
	copy(sorted, costs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimeS < sorted[j].TimeS })

	labels := make([]string, len(sorted))
	values := make([]opts.BarData, len(sorted))
	for i, e := range sorted {
		labels[i] = e.OperatorType
		values[i] = opts.BarData{Name: e.ID, Value: e.TimeS}
	}
	return labels, values
}
