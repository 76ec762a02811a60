package models

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// RecordSummarySchema returns the Arrow schema for log listings.
func RecordSummarySchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "query_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "query_text", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "exec_time_ms", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "returned_rows", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "bottleneck_operator", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "recommendation", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "status", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "has_graph", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: "logged_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false},
	}, nil)
}

// QueryRecordSchema returns the Arrow schema for full query records.
func QueryRecordSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "query_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "query_text", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "explain_text", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "exec_time_ms", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "scanned_rows", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "returned_rows", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "joins_expected", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "joins_detected", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "aggs_expected", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "aggs_detected", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "recommendation", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "recommendation_snippets", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: false},
		{Name: "bottleneck_operator", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "success", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
		{Name: "error_message", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "status", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "logged_at", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false},
	}, nil)
}

// OperatorCostSchema returns the Arrow schema for operator breakdowns.
func OperatorCostSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "parent_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "operator_type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "time_s", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "rows_count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)
}
