package converter

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/TFMV/duckprof/pkg/models"
)

// Converter builds Arrow readers for analysis log data.
type Converter struct {
	allocator memory.Allocator
	logger    zerolog.Logger
	batchSize int
}

// New creates a converter. A nil allocator uses the Go allocator.
func New(allocator memory.Allocator, logger zerolog.Logger) *Converter {
	if allocator == nil {
		allocator = memory.NewGoAllocator()
	}
	return &Converter{
		allocator: allocator,
		logger:    logger.With().Str("component", "converter").Logger(),
		batchSize: defaultBatchSize,
	}
}

// SetBatchSize sets the batch size of readers created afterwards.
func (c *Converter) SetBatchSize(size int) {
	if size > 0 {
		c.batchSize = size
	}
}

// Summaries streams log listing rows.
func (c *Converter) Summaries(rows []models.RecordSummary) array.RecordReader {
	r := NewBatchReader(c.allocator, models.RecordSummarySchema(), rows, AppendSummary, c.logger)
	r.SetBatchSize(c.batchSize)
	return r
}

// Records streams full query records.
func (c *Converter) Records(rows []models.QueryRecord) array.RecordReader {
	r := NewBatchReader(c.allocator, models.QueryRecordSchema(), rows, AppendRecord, c.logger)
	r.SetBatchSize(c.batchSize)
	return r
}

// OperatorCosts streams an operator breakdown.
func (c *Converter) OperatorCosts(rows []models.OperatorCostEntry) array.RecordReader {
	r := NewBatchReader(c.allocator, models.OperatorCostSchema(), rows, AppendOperatorCost, c.logger)
	r.SetBatchSize(c.batchSize)
	return r
}

// AppendSummary appends one row of models.RecordSummarySchema.
func AppendSummary(b *array.RecordBuilder, s models.RecordSummary) {
	b.Field(0).(*array.Int64Builder).Append(s.QueryID)
	b.Field(1).(*array.StringBuilder).Append(s.QueryText)
	b.Field(2).(*array.Float64Builder).Append(s.ExecTimeMs)
	b.Field(3).(*array.Int64Builder).Append(s.ReturnedRows)
	appendOptionalString(b.Field(4).(*array.StringBuilder), s.BottleneckOperator)
	b.Field(5).(*array.StringBuilder).Append(s.Recommendation)
	b.Field(6).(*array.StringBuilder).Append(string(s.Status))
	b.Field(7).(*array.BooleanBuilder).Append(s.HasVisualization)
	b.Field(8).(*array.TimestampBuilder).Append(arrow.Timestamp(s.LoggedAt.UnixMicro()))
}

// AppendRecord appends one row of models.QueryRecordSchema.
func AppendRecord(b *array.RecordBuilder, r models.QueryRecord) {
	b.Field(0).(*array.Int64Builder).Append(r.QueryID)
	b.Field(1).(*array.StringBuilder).Append(r.QueryText)
	b.Field(2).(*array.StringBuilder).Append(r.ExplainText)
	b.Field(3).(*array.Float64Builder).Append(r.ExecTimeMs)
	b.Field(4).(*array.Int64Builder).Append(r.ScannedRows)
	b.Field(5).(*array.Int64Builder).Append(r.ReturnedRows)
	b.Field(6).(*array.Int32Builder).Append(int32(r.JoinsExpected))
	b.Field(7).(*array.Int32Builder).Append(int32(r.JoinsDetected))
	b.Field(8).(*array.Int32Builder).Append(int32(r.AggsExpected))
	b.Field(9).(*array.Int32Builder).Append(int32(r.AggsDetected))
	b.Field(10).(*array.StringBuilder).Append(r.Recommendation)

	lb := b.Field(11).(*array.ListBuilder)
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.StringBuilder)
	for _, s := range r.RecommendationSnippets {
		vb.Append(s)
	}

	appendOptionalString(b.Field(12).(*array.StringBuilder), r.BottleneckOperator)
	b.Field(13).(*array.BooleanBuilder).Append(r.Success)
	appendOptionalString(b.Field(14).(*array.StringBuilder), r.ErrorMessage)
	b.Field(15).(*array.StringBuilder).Append(string(r.Status))
	b.Field(16).(*array.TimestampBuilder).Append(arrow.Timestamp(r.LoggedAt.UnixMicro()))
}

// AppendOperatorCost appends one row of models.OperatorCostSchema.
func AppendOperatorCost(b *array.RecordBuilder, e models.OperatorCostEntry) {
	b.Field(0).(*array.StringBuilder).Append(e.ID)
	b.Field(1).(*array.StringBuilder).Append(e.ParentID)
	b.Field(2).(*array.StringBuilder).Append(e.OperatorType)
	b.Field(3).(*array.Float64Builder).Append(e.TimeS)
	b.Field(4).(*array.Int64Builder).Append(e.RowsCount)
}

// appendOptionalString maps "" to null.
func appendOptionalString(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()
		return
	}
	b.Append(s)
}

// DecodeSummaries reads the rows of a models.RecordSummarySchema batch.
func DecodeSummaries(rec arrow.Record) ([]models.RecordSummary, error) {
	if !rec.Schema().Equal(models.RecordSummarySchema()) {
		return nil, fmt.Errorf("unexpected summary schema: %s", rec.Schema())
	}

	ids := rec.Column(0).(*array.Int64)
	texts := rec.Column(1).(*array.String)
	execTimes := rec.Column(2).(*array.Float64)
	returned := rec.Column(3).(*array.Int64)
	bottlenecks := rec.Column(4).(*array.String)
	recommendations := rec.Column(5).(*array.String)
	statuses := rec.Column(6).(*array.String)
	hasGraph := rec.Column(7).(*array.Boolean)
	loggedAt := rec.Column(8).(*array.Timestamp)

	rows := make([]models.RecordSummary, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		row := models.RecordSummary{
			QueryID:          ids.Value(i),
			QueryText:        texts.Value(i),
			ExecTimeMs:       execTimes.Value(i),
			ReturnedRows:     returned.Value(i),
			Recommendation:   recommendations.Value(i),
			Status:           models.RecordStatus(statuses.Value(i)),
			HasVisualization: hasGraph.Value(i),
			LoggedAt:         time.UnixMicro(int64(loggedAt.Value(i))).UTC(),
		}
		if bottlenecks.IsValid(i) {
			row.BottleneckOperator = bottlenecks.Value(i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
