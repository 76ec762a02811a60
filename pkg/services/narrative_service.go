package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/TFMV/duckprof/pkg/infrastructure/metrics"
	"github.com/TFMV/duckprof/pkg/models"
)

// Some models emit their reasoning between think tags.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

const narrativePromptTemplate = `Analyze this database query performance:

Query ID: %d
Query Text: %s
Execution Time: %.3f ms
Scanned Rows: %d
Returned Rows: %d
Joins Expected: %d, Detected: %d
Aggregations Expected: %d, Detected: %d
Bottleneck Operator: %s
Current Recommendation: %s
Suggested SQL:
%s

Database Schema: %s

Provide a detailed analysis of this query's performance, including:
1. Performance assessment
2. Bottleneck identification
3. Specific optimization recommendations
4. SQL snippets for improvements`

// schemaUnavailable stands in for the schema when it cannot be read.
const schemaUnavailable = "(unavailable)"

// narrativeService implements NarrativeService.
type narrativeService struct {
	summarizer Summarizer
	schema     SchemaSource
	logger     Logger
	metrics    MetricsCollector
}

// NewNarrativeService wraps a summarizer and a schema source, either of which
// may be nil.
func NewNarrativeService(summarizer Summarizer, schema SchemaSource, logger Logger, metrics MetricsCollector) NarrativeService {
	return &narrativeService{
		summarizer: summarizer,
		schema:     schema,
		logger:     logger,
		metrics:    metrics,
	}
}

// Enabled reports whether a summarizer is configured.
func (s *narrativeService) Enabled() bool {
	return s.summarizer != nil
}

// Narrate asks the summarizer for prose about rec.
func (s *narrativeService) Narrate(ctx context.Context, rec *models.QueryRecord) string {
	if s.summarizer == nil {
		s.metrics.IncrementCounter(metrics.SummariesTotal, "status", "disabled")
		return "Error: no summarizer configured"
	}

	out, err := s.summarizer.Summarize(ctx, NarrativePrompt(rec, s.schemaText(ctx, rec.QueryID)))
	if err != nil {
		s.logger.Warn("Summarizer failed", "query_id", rec.QueryID, "error", err)
		s.metrics.IncrementCounter(metrics.SummariesTotal, "status", "error")
		return "Error: " + err.Error()
	}

	s.metrics.IncrementCounter(metrics.SummariesTotal, "status", "ok")
	return StripThinking(out)
}

// schemaText reads the current schema. Failures degrade the prompt rather
// than the narrative.
func (s *narrativeService) schemaText(ctx context.Context, id int64) string {
	if s.schema == nil {
		return schemaUnavailable
	}
	tables, err := s.schema.Schema(ctx)
	if err != nil {
		s.logger.Warn("Schema unavailable for narrative", "query_id", id, "error", err)
		return schemaUnavailable
	}
	return FormatSchema(tables)
}

// FormatSchema renders tables as compact JSON.
func FormatSchema(tables []models.TableSchema) string {
	if tables == nil {
		tables = []models.TableSchema{}
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return schemaUnavailable
	}
	return string(data)
}

// NarrativePrompt renders the report sent to the summarizer. schema is the
// rendered database schema.
func NarrativePrompt(rec *models.QueryRecord, schema string) string {
	snippets := rec.SnippetText()
	if snippets == "" {
		snippets = "(none)"
	}
	bottleneck := rec.BottleneckOperator
	if bottleneck == "" {
		bottleneck = "(unknown)"
	}
	return fmt.Sprintf(narrativePromptTemplate,
		rec.QueryID,
		rec.QueryText,
		rec.ExecTimeMs,
		rec.ScannedRows,
		rec.ReturnedRows,
		rec.JoinsExpected, rec.JoinsDetected,
		rec.AggsExpected, rec.AggsDetected,
		bottleneck,
		rec.Recommendation,
		snippets,
		schema,
	)
}

// StripThinking removes think blocks from model output.
func StripThinking(text string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(text, ""))
}
