package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/TFMV/duckprof/pkg/errors"
	"github.com/TFMV/duckprof/pkg/infrastructure/converter"
	"github.com/TFMV/duckprof/pkg/models"
	"github.com/TFMV/duckprof/pkg/services"
)

// Handler metric names.
const (
	metricActions      = "handler_actions_total"
	metricActionTime   = "handler_action_duration_seconds"
	metricStreamedRows = "handler_streamed_rows"
)

// VisualizationInfo is the has_visualization action result.
type VisualizationInfo struct {
	QueryID          int64  `json:"query_id"`
	HasVisualization bool   `json:"has_graph"`
	Handle           string `json:"handle,omitempty"`
}

// SummaryResult is the summarize action result.
type SummaryResult struct {
	QueryID int64  `json:"query_id"`
	Summary string `json:"summary"`
}

// analysisHandler implements AnalysisHandler.
type analysisHandler struct {
	service   services.AnalysisService
	converter *converter.Converter
	logger    Logger
	metrics   MetricsCollector
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(
	service services.AnalysisService,
	conv *converter.Converter,
	logger Logger,
	metrics MetricsCollector,
) AnalysisHandler {
	return &analysisHandler{
		service:   service,
		converter: conv,
		logger:    logger,
		metrics:   metrics,
	}
}

// Analyze runs the pipeline on the SQL in body.
func (h *analysisHandler) Analyze(ctx context.Context, body []byte) ([]byte, error) {
	timer := h.metrics.StartTimer(metricActionTime)
	defer timer.Stop()

	res, err := h.service.Analyze(ctx, string(body))
	if err != nil {
		h.actionFailed("analyze", err)
		return nil, err
	}

	h.metrics.IncrementCounter(metricActions, "action", "analyze", "status", "ok")
	return json.Marshal(res)
}

// GetRecord returns a stored record.
func (h *analysisHandler) GetRecord(ctx context.Context, body []byte) ([]byte, error) {
	id, err := ParseQueryID(body)
	if err != nil {
		h.actionFailed("get_record", err)
		return nil, err
	}

	rec, err := h.service.GetRecord(ctx, id)
	if err != nil {
		h.actionFailed("get_record", err)
		return nil, err
	}

	h.metrics.IncrementCounter(metricActions, "action", "get_record", "status", "ok")
	return json.Marshal(rec)
}

// HasVisualization reports whether a chart exists for the id in body.
func (h *analysisHandler) HasVisualization(ctx context.Context, body []byte) ([]byte, error) {
	id, err := ParseQueryID(body)
	if err != nil {
		h.actionFailed("has_visualization", err)
		return nil, err
	}

	info := VisualizationInfo{QueryID: id}
	if handle, err := h.service.VisualizationHandle(id); err == nil {
		info.HasVisualization = true
		info.Handle = handle
	}

	h.metrics.IncrementCounter(metricActions, "action", "has_visualization", "status", "ok")
	return json.Marshal(info)
}

// Summarize returns a narrative for the id in body.
func (h *analysisHandler) Summarize(ctx context.Context, body []byte) ([]byte, error) {
	id, err := ParseQueryID(body)
	if err != nil {
		h.actionFailed("summarize", err)
		return nil, err
	}

	text, err := h.service.Summarize(ctx, id)
	if err != nil {
		h.actionFailed("summarize", err)
		return nil, err
	}

	h.metrics.IncrementCounter(metricActions, "action", "summarize", "status", "ok")
	return json.Marshal(SummaryResult{QueryID: id, Summary: text})
}

// StreamSummaries streams the log listing.
func (h *analysisHandler) StreamSummaries(ctx context.Context, opts models.ListOptions) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	rows, err := h.service.ListRecords(ctx, opts)
	if err != nil {
		h.logger.Error("Failed to list records", "error", err)
		return nil, nil, err
	}
	return h.stream(ctx, h.converter.Summaries(rows))
}

// StreamRecord streams one record.
func (h *analysisHandler) StreamRecord(ctx context.Context, id int64) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	rec, err := h.service.GetRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return h.stream(ctx, h.converter.Records([]models.QueryRecord{*rec}))
}

// stream drains reader into a channel. The receiver releases each record.
func (h *analysisHandler) stream(ctx context.Context, reader array.RecordReader) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	chunks := make(chan flight.StreamChunk, 16)

	go func() {
		defer close(chunks)
		defer reader.Release()

		var rows int64
		for reader.Next() {
			rec := reader.Record()
			rec.Retain()

			select {
			case <-ctx.Done():
				h.logger.Warn("Record streaming cancelled", "rows_sent", rows)
				rec.Release()
				return
			case chunks <- flight.StreamChunk{Data: rec}:
				rows += rec.NumRows()
			}
		}
		h.metrics.RecordHistogram(metricStreamedRows, float64(rows))
	}()

	return reader.Schema(), chunks, nil
}

func (h *analysisHandler) actionFailed(action string, err error) {
	h.logger.Warn("Action failed", "action", action, "error", err)
	h.metrics.IncrementCounter(metricActions, "action", action, "status", strings.ToLower(errors.GetCode(err)))
}

// ParseQueryID reads a query id from an action body. Both a bare number
// and {"query_id": n} are accepted.
func ParseQueryID(body []byte) (int64, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return 0, errors.New(errors.CodeInvalidRequest, "query id is required")
	}

	if strings.HasPrefix(text, "{") {
		var req struct {
			QueryID *int64 `json:"query_id"`
		}
		if err := json.Unmarshal([]byte(text), &req); err != nil || req.QueryID == nil {
			return 0, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("invalid query id payload: %s", text))
		}
		return *req.QueryID, nil
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidRequest, fmt.Sprintf("invalid query id: %s", text))
	}
	return id, nil
}
