package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/duckprof/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []models.OperatorCostEntry
	}{
		{
			name: "modern layout with root children",
			input: `{
				"query_name": "SELECT 1",
				"children": [{
					"operator_type": "PROJECTION",
					"operator_timing": 0.001,
					"operator_cardinality": 10,
					"children": [{
						"operator_type": "TABLE_SCAN",
						"operator_timing": 0.25,
						"operator_cardinality": 1000
					}]
				}]
			}`,
			expected: []models.OperatorCostEntry{
				{ID: "PROJECTION-0", ParentID: "ROOT", OperatorType: "PROJECTION", TimeS: 0.001, RowsCount: 10},
				{ID: "TABLE_SCAN-1", ParentID: "PROJECTION-0", OperatorType: "TABLE_SCAN", TimeS: 0.25, RowsCount: 1000},
			},
		},
		{
			name:  "document is the root node",
			input: `{"name": "HASH_JOIN", "timing": 1.5, "cardinality": 42}`,
			expected: []models.OperatorCostEntry{
				{ID: "HASH_JOIN-0", ParentID: "ROOT", OperatorType: "HASH_JOIN", TimeS: 1.5, RowsCount: 42},
			},
		},
		{
			name:  "nested timing object prefers time",
			input: `{"operator": "ORDER_BY", "time": {"time": 0.75, "total": 2.0}, "rows": 7}`,
			expected: []models.OperatorCostEntry{
				{ID: "ORDER_BY-0", ParentID: "ROOT", OperatorType: "ORDER_BY", TimeS: 0.75, RowsCount: 7},
			},
		},
		{
			name:  "nested timing object falls back to total",
			input: `{"operator": "ORDER_BY", "operator_timing": {"total": 2.0}}`,
			expected: []models.OperatorCostEntry{
				{ID: "ORDER_BY-0", ParentID: "ROOT", OperatorType: "ORDER_BY", TimeS: 2.0, RowsCount: 0},
			},
		},
		{
			name: "missing fields are defaulted not dropped",
			input: `{"children": [
				{"children": [{"operator_type": "FILTER"}]},
				{"operator_type": "HASH_GROUP_BY", "operator_timing": "bogus", "operator_cardinality": "12"}
			]}`,
			expected: []models.OperatorCostEntry{
				{ID: "UNKNOWN-0", ParentID: "ROOT", OperatorType: "UNKNOWN"},
				{ID: "FILTER-1", ParentID: "UNKNOWN-0", OperatorType: "FILTER"},
				{ID: "HASH_GROUP_BY-2", ParentID: "ROOT", OperatorType: "HASH_GROUP_BY", RowsCount: 12},
			},
		},
		{
			name:  "zero primary alias falls through to next alias",
			input: `{"operator_type": "TABLE_SCAN", "operator_timing": 0, "time": 0.5}`,
			expected: []models.OperatorCostEntry{
				{ID: "TABLE_SCAN-0", ParentID: "ROOT", OperatorType: "TABLE_SCAN", TimeS: 0.5},
			},
		},
		{
			name:     "empty root children",
			input:    `{"children": []}`,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Parse(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, entries)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "malformed json", input: `{"children": [`},
		{name: "array root", input: `[1, 2, 3]`},
		{name: "empty input", input: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"children":[{"operator_type":"TABLE_SCAN","operator_timing":0.1}]}`), 0o600))

	entries, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "TABLE_SCAN", entries[0].OperatorType)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
