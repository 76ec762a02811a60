// Package report writes analysis results for the command line in table,
// JSON or Arrow IPC form.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/infrastructure/converter"
	"github.com/TFMV/duckprof/pkg/models"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatArrow = "arrow"
)

const queryPreviewLimit = 60

// ParseFormat validates an output format name.
func ParseFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case FormatTable, FormatJSON, FormatArrow:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// Writer renders results in one format.
type Writer struct {
	format    string
	out       io.Writer
	converter *converter.Converter
}

// NewWriter creates a writer. format must be valid per ParseFormat.
func NewWriter(format string, out io.Writer, logger zerolog.Logger) (*Writer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return &Writer{
		format:    f,
		out:       out,
		converter: converter.New(nil, logger),
	}, nil
}

// Analysis writes the result of a single analysis.
func (w *Writer) Analysis(res *models.AnalysisResult) error {
	switch w.format {
	case FormatJSON:
		return w.json(res)
	case FormatArrow:
		return w.arrow(w.converter.Records([]models.QueryRecord{*res.Record}))
	}
	return w.recordTable(res.Record, res.HasVisualization)
}

// Record writes one stored record in full.
func (w *Writer) Record(rec *models.QueryRecord, hasVisualization bool) error {
	switch w.format {
	case FormatJSON:
		return w.json(rec)
	case FormatArrow:
		return w.arrow(w.converter.Records([]models.QueryRecord{*rec}))
	}
	return w.recordTable(rec, hasVisualization)
}

// Summaries writes a log listing.
func (w *Writer) Summaries(rows []models.RecordSummary) error {
	switch w.format {
	case FormatJSON:
		return w.json(rows)
	case FormatArrow:
		return w.arrow(w.converter.Summaries(rows))
	}
	return w.summaryTable(rows)
}

// Workload writes a workload run report.
func (w *Writer) Workload(rep *models.WorkloadReport) error {
	switch w.format {
	case FormatJSON:
		return w.json(rep)
	case FormatArrow:
		records := make([]models.QueryRecord, 0, len(rep.Results))
		for _, r := range rep.Results {
			if r.Record != nil {
				records = append(records, *r.Record)
			}
		}
		return w.arrow(w.converter.Records(records))
	}

	fmt.Fprintf(w.out, "Workload Results\n")
	fmt.Fprintf(w.out, "================\n\n")
	fmt.Fprintf(w.out, "%-4s %-6s %-12s %-10s %-10s %s\n", "Q", "ID", "Time (ms)", "Rows", "Status", "Bottleneck")
	fmt.Fprintf(w.out, "%-4s %-6s %-12s %-10s %-10s %s\n", "--", "--", "---------", "----", "------", "----------")
	for i, r := range rep.Results {
		fmt.Fprintf(w.out, "%-4d %-6d %-12.2f %-10d %-10s %s\n",
			i+1, r.QueryID, r.ExecTimeMs, r.RowsReturned, r.Status, orDash(r.BottleneckOperator))
	}
	fmt.Fprintf(w.out, "\n%d queries, %d failed\n\n", len(rep.Results), rep.Failed)

	fmt.Fprintf(w.out, "Slowest queries:\n")
	return w.summaryTable(rep.Slowest)
}

func (w *Writer) json(v interface{}) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// arrow writes the reader as an Arrow IPC stream and releases it.
func (w *Writer) arrow(reader array.RecordReader) error {
	defer reader.Release()

	iw := ipc.NewWriter(w.out, ipc.WithSchema(reader.Schema()))
	for reader.Next() {
		if err := iw.Write(reader.Record()); err != nil {
			iw.Close()
			return fmt.Errorf("failed to write arrow batch: %w", err)
		}
	}
	if err := reader.Err(); err != nil {
		iw.Close()
		return err
	}
	return iw.Close()
}

func (w *Writer) summaryTable(rows []models.RecordSummary) error {
	fmt.Fprintf(w.out, "%-6s %-12s %-10s %-10s %-5s %-20s %s\n", "ID", "Time (ms)", "Rows", "Status", "Graph", "Bottleneck", "Query")
	fmt.Fprintf(w.out, "%-6s %-12s %-10s %-10s %-5s %-20s %s\n", "--", "---------", "----", "------", "-----", "----------", "-----")
	for _, s := range rows {
		graph := "no"
		if s.HasVisualization {
			graph = "yes"
		}
		fmt.Fprintf(w.out, "%-6d %-12.2f %-10d %-10s %-5s %-20s %s\n",
			s.QueryID, s.ExecTimeMs, s.ReturnedRows, s.Status, graph, orDash(s.BottleneckOperator), preview(s.QueryText))
	}
	return nil
}

func (w *Writer) recordTable(rec *models.QueryRecord, hasVisualization bool) error {
	fmt.Fprintf(w.out, "Query %d (%s)\n", rec.QueryID, rec.Status)
	fmt.Fprintf(w.out, "  Logged:         %s\n", rec.LoggedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(w.out, "  Execution time: %.2f ms\n", rec.ExecTimeMs)
	fmt.Fprintf(w.out, "  Rows:           %d scanned, %d returned\n", rec.ScannedRows, rec.ReturnedRows)
	fmt.Fprintf(w.out, "  Joins:          %d expected, %d detected\n", rec.JoinsExpected, rec.JoinsDetected)
	fmt.Fprintf(w.out, "  Aggregations:   %d expected, %d detected\n", rec.AggsExpected, rec.AggsDetected)
	fmt.Fprintf(w.out, "  Bottleneck:     %s\n", orDash(rec.BottleneckOperator))
	fmt.Fprintf(w.out, "  Visualization:  %t\n", hasVisualization)
	if rec.ErrorMessage != "" {
		fmt.Fprintf(w.out, "  Error:          %s\n", rec.ErrorMessage)
	}

	fmt.Fprintf(w.out, "\nRecommendation:\n")
	for _, f := range rec.Findings() {
		fmt.Fprintf(w.out, "  - %s\n", f)
	}

	if len(rec.RecommendationSnippets) > 0 {
		fmt.Fprintf(w.out, "\nExample SQL (inspect and modify before running):\n")
		for _, s := range rec.RecommendationSnippets {
			fmt.Fprintf(w.out, "  ---\n")
			for _, line := range strings.Split(s, "\n") {
				fmt.Fprintf(w.out, "  %s\n", line)
			}
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func preview(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if r := []rune(q); len(r) > queryPreviewLimit {
		return string(r[:queryPreviewLimit]) + "..."
	}
	return q
}
