package converter

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/duckprof/pkg/models"
)

func newTestConverter(t *testing.T) (*Converter, *memory.CheckedAllocator) {
	t.Helper()
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	t.Cleanup(func() { alloc.AssertSize(t, 0) })
	return New(alloc, zerolog.New(zerolog.NewTestWriter(t))), alloc
}

func TestConverter_Summaries(t *testing.T) {
	c, _ := newTestConverter(t)
	c.SetBatchSize(2)

	loggedAt := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	rows := []models.RecordSummary{
		{QueryID: 1, QueryText: "SELECT 1", ExecTimeMs: 1.5, ReturnedRows: 1, Recommendation: "ok", Status: models.StatusCompleted, HasVisualization: true, LoggedAt: loggedAt},
		{QueryID: 2, QueryText: "SELECT 2", ExecTimeMs: 2.5, ReturnedRows: 1, BottleneckOperator: "PROJECTION", Status: models.StatusCompleted, LoggedAt: loggedAt},
		{QueryID: 3, QueryText: "SELEC", Status: models.StatusFailed, LoggedAt: loggedAt},
	}

	reader := c.Summaries(rows)
	defer reader.Release()
	assert.True(t, reader.Schema().Equal(models.RecordSummarySchema()))

	var batches []int64
	var ids []int64
	for reader.Next() {
		rec := reader.Record()
		batches = append(batches, rec.NumRows())
		col := rec.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			ids = append(ids, col.Value(i))
		}
		if len(batches) == 1 {
			bottleneck := rec.Column(4).(*array.String)
			assert.True(t, bottleneck.IsNull(0))
			assert.Equal(t, "PROJECTION", bottleneck.Value(1))
			assert.True(t, rec.Column(7).(*array.Boolean).Value(0))
			ts := rec.Column(8).(*array.Timestamp).Value(0)
			assert.Equal(t, arrow.Timestamp(loggedAt.UnixMicro()), ts)
		}
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, []int64{2, 1}, batches)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.False(t, reader.Next(), "exhausted reader stays exhausted")
}

func TestConverter_Records(t *testing.T) {
	c, _ := newTestConverter(t)

	rows := []models.QueryRecord{
		{
			QueryID:                7,
			QueryText:              "SELECT * FROM customer WHERE c_nationkey = 7",
			ExplainText:            "TABLE_SCAN 6000 Rows",
			ExecTimeMs:             3.25,
			ScannedRows:            150000,
			ReturnedRows:           6000,
			JoinsExpected:          1,
			AggsDetected:           2,
			Recommendation:         "Suggest creating an index on customer(c_nationkey).",
			RecommendationSnippets: []string{"CREATE INDEX a", "CREATE INDEX b"},
			BottleneckOperator:     "TABLE_SCAN",
			Success:                true,
			Status:                 models.StatusCompleted,
			LoggedAt:               time.Unix(1700000000, 0).UTC(),
		},
		{
			QueryID:      8,
			QueryText:    "SELEC",
			ExplainText:  "EXPLAIN_FAILED: Parser Error",
			ErrorMessage: "Parser Error",
			Status:       models.StatusFailed,
			LoggedAt:     time.Unix(1700000001, 0).UTC(),
		},
	}

	reader := c.Records(rows)
	defer reader.Release()

	require.True(t, reader.Next())
	rec := reader.Record()
	require.Equal(t, int64(2), rec.NumRows())
	assert.Equal(t, int32(1), rec.Column(6).(*array.Int32).Value(0))
	assert.Equal(t, int32(2), rec.Column(9).(*array.Int32).Value(0))

	snippets := rec.Column(11).(*array.List)
	values := snippets.ListValues().(*array.String)
	start, end := snippets.ValueOffsets(0)
	assert.Equal(t, int64(2), end-start)
	assert.Equal(t, "CREATE INDEX b", values.Value(int(start)+1))
	start, end = snippets.ValueOffsets(1)
	assert.Equal(t, start, end)

	assert.True(t, rec.Column(12).(*array.String).IsNull(1))
	assert.True(t, rec.Column(14).(*array.String).IsNull(0))
	assert.Equal(t, "Parser Error", rec.Column(14).(*array.String).Value(1))
	assert.Equal(t, "failed", rec.Column(15).(*array.String).Value(1))
	assert.False(t, reader.Next())
}

func TestConverter_OperatorCosts(t *testing.T) {
	c, _ := newTestConverter(t)

	reader := c.OperatorCosts([]models.OperatorCostEntry{
		{ID: "HASH_JOIN-0", ParentID: models.RootOperatorID, OperatorType: "HASH_JOIN", TimeS: 0.4, RowsCount: 10},
		{ID: "TABLE_SCAN-1", ParentID: "HASH_JOIN-0", OperatorType: "TABLE_SCAN", TimeS: 0.1, RowsCount: 1000},
	})
	defer reader.Release()

	require.True(t, reader.Next())
	rec := reader.Record()
	assert.Equal(t, "HASH_JOIN-0", rec.Column(1).(*array.String).Value(1))
	assert.InDelta(t, 0.4, rec.Column(3).(*array.Float64).Value(0), 1e-12)
	assert.Equal(t, int64(1000), rec.Column(4).(*array.Int64).Value(1))
}

func TestBatchReader_Empty(t *testing.T) {
	c, _ := newTestConverter(t)
	reader := c.Summaries(nil)
	assert.False(t, reader.Next())
	assert.Nil(t, reader.Record())
	reader.Release()
}

func TestBatchReader_RetainRelease(t *testing.T) {
	c, _ := newTestConverter(t)
	reader := c.OperatorCosts([]models.OperatorCostEntry{{ID: "a", OperatorType: "A"}})
	reader.Retain()
	require.True(t, reader.Next())
	reader.Release()
	assert.NotNil(t, reader.Record(), "still referenced")
	reader.Release()
}

func TestDecodeSummaries(t *testing.T) {
	c, _ := newTestConverter(t)

	loggedAt := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	rows := []models.RecordSummary{
		{QueryID: 1, QueryText: "SELECT 1", ExecTimeMs: 1.5, ReturnedRows: 1, Recommendation: "ok", Status: models.StatusCompleted, HasVisualization: true, LoggedAt: loggedAt},
		{QueryID: 2, QueryText: "SELEC", BottleneckOperator: "PROJECTION", Status: models.StatusFailed, LoggedAt: loggedAt},
	}

	reader := c.Summaries(rows)
	defer reader.Release()
	require.True(t, reader.Next())

	got, err := DecodeSummaries(reader.Record())
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestDecodeSummaries_WrongSchema(t *testing.T) {
	c, _ := newTestConverter(t)

	reader := c.OperatorCosts([]models.OperatorCostEntry{{ID: "0", OperatorType: "PROJECTION"}})
	defer reader.Release()
	require.True(t, reader.Next())

	_, err := DecodeSummaries(reader.Record())
	assert.Error(t, err)
}
