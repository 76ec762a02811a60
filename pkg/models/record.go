// Package models provides the data structures shared by the analysis engine.
package models

import (
	"strings"
	"time"
)

const (
	// FindingSeparator joins findings into a record's recommendation text.
	FindingSeparator = " | "
	// SnippetSeparator joins remediation statements when they are persisted.
	SnippetSeparator = "\n\n"
	// SummaryRecommendationLimit bounds the recommendation shown in listings.
	SummaryRecommendationLimit = 100
)

// RecordStatus describes how an analysis ended.
type RecordStatus string

const (
	// StatusCompleted means the submitted query executed successfully.
	StatusCompleted RecordStatus = "completed"
	// StatusFailed means the submitted query itself errored.
	StatusFailed RecordStatus = "failed"
	// StatusCancelled means the analysis was cancelled or timed out.
	StatusCancelled RecordStatus = "cancelled"
)

// QueryRecord is one row of the analysis log. It is never mutated once written.
type QueryRecord struct {
	QueryID                int64        `json:"query_id"`
	QueryText              string       `json:"query_text"`
	ExplainText            string       `json:"explain_text"`
	ExecTimeMs             float64      `json:"exec_time_ms"`
	ScannedRows            int64        `json:"scanned_rows"`
	ReturnedRows           int64        `json:"returned_rows"`
	JoinsExpected          int          `json:"joins_expected"`
	JoinsDetected          int          `json:"joins_detected"`
	AggsExpected           int          `json:"aggs_expected"`
	AggsDetected           int          `json:"aggs_detected"`
	Recommendation         string       `json:"recommendation"`
	RecommendationSnippets []string     `json:"recommendation_snippets,omitempty"`
	BottleneckOperator     string       `json:"bottleneck_operator"`
	Success                bool         `json:"success"`
	ErrorMessage           string       `json:"error_message,omitempty"`
	Status                 RecordStatus `json:"status"`
	LoggedAt               time.Time    `json:"logged_at"`
}

// SnippetText returns the snippets in their persisted form.
func (r *QueryRecord) SnippetText() string {
	return JoinSnippets(r.RecommendationSnippets)
}

// Findings splits the recommendation text into its findings.
func (r *QueryRecord) Findings() []string {
	if r.Recommendation == "" {
		return nil
	}
	return strings.Split(r.Recommendation, FindingSeparator)
}

// Summary builds the listing view of the record.
func (r *QueryRecord) Summary(hasVisualization bool) RecordSummary {
	return RecordSummary{
		QueryID:            r.QueryID,
		QueryText:          r.QueryText,
		ExecTimeMs:         r.ExecTimeMs,
		ReturnedRows:       r.ReturnedRows,
		BottleneckOperator: r.BottleneckOperator,
		Recommendation:     TruncateRecommendation(r.Recommendation),
		Status:             r.Status,
		HasVisualization:   hasVisualization,
		LoggedAt:           r.LoggedAt,
	}
}

// JoinSnippets serializes remediation statements.
func JoinSnippets(snippets []string) string {
	return strings.Join(snippets, SnippetSeparator)
}

// SplitSnippets is the inverse of JoinSnippets. Empty input yields nil.
func SplitSnippets(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, SnippetSeparator)
}

// TruncateRecommendation shortens a recommendation for listings.
func TruncateRecommendation(text string) string {
	runes := []rune(text)
	if len(runes) <= SummaryRecommendationLimit {
		return text
	}
	return string(runes[:SummaryRecommendationLimit]) + "..."
}

// RecordSummary is the listing view of a QueryRecord.
type RecordSummary struct {
	QueryID            int64        `json:"query_id"`
	QueryText          string       `json:"query_text"`
	ExecTimeMs         float64      `json:"exec_time_ms"`
	ReturnedRows       int64        `json:"returned_rows"`
	BottleneckOperator string       `json:"bottleneck_operator"`
	Recommendation     string       `json:"recommendation"`
	Status             RecordStatus `json:"status"`
	HasVisualization   bool         `json:"has_graph"`
	LoggedAt           time.Time    `json:"logged_at"`
}

// ListOrder selects the ordering of a log listing.
type ListOrder string

const (
	// OrderByExecTime lists the slowest queries first. It is the default.
	OrderByExecTime ListOrder = "exec_time"
	// OrderByLoggedAt lists the most recent records first.
	OrderByLoggedAt ListOrder = "logged_at"
	// OrderByQueryID lists records in id order.
	OrderByQueryID ListOrder = "query_id"
)

// Valid reports whether o is a known ordering. The empty ordering is valid
// and means the default.
func (o ListOrder) Valid() bool {
	switch o {
	case "", OrderByExecTime, OrderByLoggedAt, OrderByQueryID:
		return true
	}
	return false
}

// ListOptions controls a log listing.
type ListOptions struct {
	OrderBy ListOrder `json:"order_by,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}
