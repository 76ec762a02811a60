// Package profile parses DuckDB JSON execution profiles into flat operator cost entries.
//
// The profile layout differs between DuckDB versions, so every field is
// resolved through an ordered list of accepted aliases. Nodes missing a field
// are kept with a default value rather than dropped.
package profile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/TFMV/duckprof/pkg/models"
)

var (
	typeAliases        = []string{"operator_type", "operator", "name"}
	timingAliases      = []string{"operator_timing", "time", "timing"}
	nestedTimingKeys   = []string{"time", "total"}
	cardinalityAliases = []string{"operator_cardinality", "cardinality", "rows"}
)

const childrenKey = "children"

// ParseFile reads and parses a profile written by PRAGMA profiling_output.
func ParseFile(path string) ([]models.OperatorCostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a JSON profile and flattens its operator tree in pre-order.
func Parse(r io.Reader) ([]models.OperatorCostEntry, error) {
	var doc interface{}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	root, ok := doc.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("profile root is %T, expected an object", doc)
	}

	w := &walker{}
	if children, ok := root[childrenKey]; ok {
		for _, child := range asNodes(children) {
			w.walk(child, models.RootOperatorID)
		}
	} else {
		w.walk(root, models.RootOperatorID)
	}
	return w.entries, nil
}

type walker struct {
	entries []models.OperatorCostEntry
}

func (w *walker) walk(node map[string]interface{}, parent string) {
	typ := models.UnknownOperator
	if v, ok := lookup(node, typeAliases); ok {
		if s, ok := v.(string); ok {
			typ = s
		} else {
			typ = fmt.Sprint(v)
		}
	}

	entry := models.OperatorCostEntry{
		ID:           fmt.Sprintf("%s-%d", typ, len(w.entries)),
		ParentID:     parent,
		OperatorType: typ,
		TimeS:        timing(node),
		RowsCount:    cardinality(node),
	}
	w.entries = append(w.entries, entry)

	for _, child := range asNodes(node[childrenKey]) {
		w.walk(child, entry.ID)
	}
}

// lookup returns the first alias holding a non-empty value.
func lookup(node map[string]interface{}, aliases []string) (interface{}, bool) {
	for _, key := range aliases {
		v, ok := node[key]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func timing(node map[string]interface{}) float64 {
	v, ok := lookup(node, timingAliases)
	if !ok {
		return 0
	}
	if nested, ok := v.(map[string]interface{}); ok {
		v = nil
		for _, key := range nestedTimingKeys {
			if inner, ok := nested[key]; ok {
				v = inner
				break
			}
		}
	}
	f, ok := toFloat(v)
	if !ok || f < 0 {
		return 0
	}
	return f
}

func cardinality(node map[string]interface{}) int64 {
	v, ok := lookup(node, cardinalityAliases)
	if !ok {
		return 0
	}
	f, ok := toFloat(v)
	if !ok || f < 0 {
		return 0
	}
	return int64(f)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func asNodes(v interface{}) []map[string]interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	nodes := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			nodes = append(nodes, m)
		}
	}
	return nodes
}
