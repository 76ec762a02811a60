package services

import (
	"fmt"
	"strings"

	"github.com/TFMV/duckprof/pkg/models"
)

// Canned findings.
const (
	computedColumnFinding = "Detected substring on a column — create a computed column and index it."
	genericFinding        = "Suggested generic optimization — review execution plan for hotspots."
	multipleJoinsFinding  = "Multiple joins detected — consider denormalization or materialized pre-joins."
	largeAggFinding       = "Large aggregation over >1M rows — consider pre-aggregation or materialized view."
	noIssuesFinding       = "No obvious issues detected — query looks OK."
)

// Thresholds of the structural checks.
const (
	veryLowSelectivity  = 0.01
	lowSelectivity      = 0.1
	multipleJoinsLimit  = 5
	largeAggregationMin = 1_000_000
)

// operatorFamily is one catalog entry. Matching is by substring of the
// uppercased bottleneck label.
type operatorFamily struct {
	key    string
	short  string
	reason string
}

// operatorCatalog is ordered; the first matching family wins.
var operatorCatalog = []operatorFamily{
	{
		key:    "TABLE_SCAN",
		short:  "Full table scan detected",
		reason: "Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
	},
	{
		key:    "HASH_JOIN",
		short:  "Expensive hash join",
		reason: "Join operation is spending substantial time. Ensure join keys are indexed and compatible.",
	},
	{
		key:    "HASH_GROUP_BY",
		short:  "Heavy aggregation (GROUP BY)",
		reason: "Aggregation is expensive. Consider pre-aggregation or grouping by integer surrogate keys.",
	},
	{
		key:    "ORDER_BY",
		short:  "Sorting / ORDER BY heavy",
		reason: "Sorting large result sets is costly; an index on the ORDER BY columns can help.",
	},
}

func matchFamily(label string) (operatorFamily, bool) {
	op := strings.ToUpper(label)
	for _, f := range operatorCatalog {
		if strings.Contains(op, f.key) {
			return f, true
		}
	}
	return operatorFamily{}, false
}

// recommendationSynthesizer implements RecommendationSynthesizer.
type recommendationSynthesizer struct{}

// NewRecommendationSynthesizer creates the template-based synthesizer.
func NewRecommendationSynthesizer() RecommendationSynthesizer {
	return &recommendationSynthesizer{}
}

// Synthesize never fails. Every snippet is a template that needs review.
func (s *recommendationSynthesizer) Synthesize(in SynthesisInput) models.Recommendation {
	var findings, snippets []string

	if in.ScannedKnown && in.ScannedRows > 0 && in.ReturnedKnown {
		selectivity := float64(in.ReturnedRows) / float64(in.ScannedRows)
		switch {
		case selectivity < veryLowSelectivity:
			findings = append(findings, fmt.Sprintf(
				"Very low selectivity (%.6f) — consider indexing filter columns or partitioning.", selectivity))
		case selectivity < lowSelectivity:
			findings = append(findings, fmt.Sprintf("Low selectivity (%.4f) — indexing may help.", selectivity))
		}
	}

	if in.BottleneckOperator != "" {
		if family, ok := matchFamily(in.BottleneckOperator); ok {
			findings = append(findings, family.short+": "+family.reason)
			f, snip := operatorRemediation(strings.ToUpper(in.BottleneckOperator), in.QueryText)
			findings = append(findings, f...)
			snippets = append(snippets, snip...)
		}
	}

	if in.JoinsDetected > multipleJoinsLimit || in.JoinsExpected > multipleJoinsLimit {
		findings = append(findings, multipleJoinsFinding)
	}
	if in.AggsExpected > 0 && in.ScannedRows > largeAggregationMin {
		findings = append(findings, largeAggFinding)
	}

	if len(findings) == 0 {
		findings = append(findings, noIssuesFinding)
	}

	return models.Recommendation{
		Text:     strings.Join(findings, models.FindingSeparator),
		Snippets: snippets,
	}
}

// operatorRemediation emits at most one finding and its snippets. op is the
// uppercased bottleneck label.
func operatorRemediation(op, query string) ([]string, []string) {
	table := ExtractTableName(query, UnknownTable)
	filterCol, hasFilter := ExtractFilterColumn(query)

	switch {
	case HasSubstringCall(query):
		col, expr, ok := ExtractSubstringCall(query)
		if !ok && hasFilter {
			col, expr, ok = filterCol, fmt.Sprintf("substring(%s,1,2)", filterCol), true
		}
		if !ok {
			return nil, nil
		}
		// Query aliases mean nothing to DDL, so the argument loses its qualifier.
		name := lastSegment(col)
		expr = strings.Replace(expr, col, name, 1)
		return []string{computedColumnFinding}, []string{
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s_computed AS (%s);", table, name, expr),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_%[2]s_computed ON %[1]s(%[2]s_computed);", table, name),
		}

	case hasFilter:
		snippet := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_%[2]s ON %[1]s(%[2]s);", table, filterCol)
		return []string{fmt.Sprintf("Suggest creating an index on %s(%s).", table, filterCol)}, []string{snippet}

	case strings.Contains(op, "JOIN"):
		snippet := fmt.Sprintf(
			"-- Ensure join keys are indexed\nCREATE INDEX IF NOT EXISTS idx_%[1]s_joinkey ON %[1]s(<join_key>);", table)
		return []string{fmt.Sprintf("Suggest indexing join keys on %s.", table)}, []string{snippet}

	case strings.Contains(op, "GROUP_BY") || strings.Contains(op, "AGGREGATE"):
		snippet := fmt.Sprintf(
			"CREATE MATERIALIZED VIEW IF NOT EXISTS mv_aggr_%[1]s AS\n"+
				"SELECT <group_col>, SUM(<agg_col>) AS agg_val FROM %[1]s GROUP BY <group_col>;", table)
		return []string{fmt.Sprintf("Suggest pre-aggregating results for %s.", table)}, []string{snippet}

	case strings.Contains(op, "ORDER"):
		snippet := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_order ON %[1]s(<order_col>);", table)
		return []string{fmt.Sprintf("Suggest indexing ORDER BY column(s) in %s.", table)}, []string{snippet}

	default:
		return []string{genericFinding}, nil
	}
}
