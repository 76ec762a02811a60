// Package converter turns analysis log data into Apache Arrow record batches.
package converter

import (
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
)

const defaultBatchSize = 1024

// AppendFunc appends one row to the builder.
type AppendFunc[T any] func(b *array.RecordBuilder, row T)

// BatchReader streams a slice of rows as Arrow record batches.
// It implements array.RecordReader.
type BatchReader[T any] struct {
	refCount  atomic.Int64
	schema    *arrow.Schema
	rows      []T
	pos       int
	appendRow AppendFunc[T]
	record    arrow.Record
	builder   *array.RecordBuilder
	logger    zerolog.Logger
	batchSize int
}

// NewBatchReader creates a reader over rows using schema.
func NewBatchReader[T any](
	allocator memory.Allocator,
	schema *arrow.Schema,
	rows []T,
	appendRow AppendFunc[T],
	logger zerolog.Logger,
) *BatchReader[T] {
	r := &BatchReader[T]{
		schema:    schema,
		rows:      rows,
		appendRow: appendRow,
		builder:   array.NewRecordBuilder(allocator, schema),
		logger:    logger,
		batchSize: defaultBatchSize,
	}
	r.refCount.Store(1)
	return r
}

// SetBatchSize sets the number of rows per batch.
func (r *BatchReader[T]) SetBatchSize(size int) {
	if size > 0 {
		r.batchSize = size
	}
}

// Schema returns the Arrow schema.
func (r *BatchReader[T]) Schema() *arrow.Schema {
	return r.schema
}

// Retain increases the reference count.
func (r *BatchReader[T]) Retain() {
	r.refCount.Add(1)
}

// Release decreases the reference count and cleans up when it reaches 0.
func (r *BatchReader[T]) Release() {
	if r.refCount.Add(-1) == 0 {
		r.cleanup()
	}
}

func (r *BatchReader[T]) cleanup() {
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
	if r.builder != nil {
		r.builder.Release()
		r.builder = nil
	}
	r.rows = nil
}

// Record returns the current record batch.
func (r *BatchReader[T]) Record() arrow.Record {
	return r.record
}

// Err always returns nil; rows are already in memory.
func (r *BatchReader[T]) Err() error {
	return nil
}

// Next builds the next batch.
func (r *BatchReader[T]) Next() bool {
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
	if r.builder == nil || r.pos >= len(r.rows) {
		return false
	}

	start := time.Now()
	end := r.pos + r.batchSize
	if end > len(r.rows) {
		end = len(r.rows)
	}
	for _, row := range r.rows[r.pos:end] {
		r.appendRow(r.builder, row)
	}
	n := end - r.pos
	r.pos = end

	r.record = r.builder.NewRecord()
	r.logger.Debug().
		Int("rows", n).
		Dur("duration", time.Since(start)).
		Msg("Built batch")
	return true
}
