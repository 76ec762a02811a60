package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesize_Selectivity(t *testing.T) {
	s := NewRecommendationSynthesizer()

	tests := []struct {
		name        string
		in          SynthesisInput
		wantVeryLow bool
		wantLow     bool
		contains    string
	}{
		{
			name:        "very low",
			in:          SynthesisInput{ScannedRows: 1_000_000, ScannedKnown: true, ReturnedRows: 500, ReturnedKnown: true},
			wantVeryLow: true,
			contains:    "Very low selectivity (0.000500)",
		},
		{
			name:     "low",
			in:       SynthesisInput{ScannedRows: 1_000_000, ScannedKnown: true, ReturnedRows: 50_000, ReturnedKnown: true},
			wantLow:  true,
			contains: "Low selectivity (0.0500)",
		},
		{
			name: "selective enough",
			in:   SynthesisInput{ScannedRows: 1_000_000, ScannedKnown: true, ReturnedRows: 900_000, ReturnedKnown: true},
		},
		{
			name: "returned unknown",
			in:   SynthesisInput{ScannedRows: 1_000_000, ScannedKnown: true},
		},
		{
			name: "scanned zero is treated as unknown",
			in:   SynthesisInput{ScannedRows: 0, ScannedKnown: true, ReturnedRows: 0, ReturnedKnown: true},
		},
		{
			name:        "zero returned rows",
			in:          SynthesisInput{ScannedRows: 10, ScannedKnown: true, ReturnedRows: 0, ReturnedKnown: true},
			wantVeryLow: true,
			contains:    "Very low selectivity (0.000000)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.Synthesize(tt.in)
			assert.Equal(t, tt.wantVeryLow, strings.Contains(rec.Text, "Very low selectivity"))
			assert.Equal(t, tt.wantLow, strings.HasPrefix(rec.Text, "Low selectivity"))
			if tt.contains != "" {
				assert.Contains(t, rec.Text, tt.contains)
			}
			if !tt.wantLow && !tt.wantVeryLow {
				assert.Equal(t, noIssuesFinding, rec.Text)
			}
			assert.Empty(t, rec.Snippets)
		})
	}
}

func TestSynthesize_OperatorTemplates(t *testing.T) {
	s := NewRecommendationSynthesizer()

	tests := []struct {
		name     string
		op       string
		query    string
		findings []string
		snippets []string
	}{
		{
			name:  "substring takes priority over filter column",
			op:    "TABLE_SCAN",
			query: "SELECT substring(name,1,2) FROM customer WHERE id=5",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS name_computed AS (substring(name,1,2));",
				"CREATE INDEX IF NOT EXISTS idx_customer_name_computed ON customer(name_computed);",
			},
		},
		{
			name:  "qualified substring column",
			op:    "TABLE_SCAN",
			query: "SELECT substring(c.phone, 1, 2) AS cc FROM customer c",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS phone_computed AS (substring(phone, 1, 2));",
				"CREATE INDEX IF NOT EXISTS idx_customer_phone_computed ON customer(phone_computed);",
			},
		},
		{
			name:  "substr targets its own argument",
			op:    "TABLE_SCAN",
			query: "SELECT substr(name,1,2) FROM customer WHERE id=5",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS name_computed AS (substr(name,1,2));",
				"CREATE INDEX IF NOT EXISTS idx_customer_name_computed ON customer(name_computed);",
			},
		},
		{
			name:  "computed column keeps the query's arguments",
			op:    "TABLE_SCAN",
			query: "SELECT substring(name,3,4) FROM customer WHERE id=5",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS name_computed AS (substring(name,3,4));",
				"CREATE INDEX IF NOT EXISTS idx_customer_name_computed ON customer(name_computed);",
			},
		},
		{
			name:  "nested call inside substring",
			op:    "TABLE_SCAN",
			query: "SELECT SUBSTR(c_phone, 1, length(')')) FROM customer",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS c_phone_computed AS (SUBSTR(c_phone, 1, length(')')));",
				"CREATE INDEX IF NOT EXISTS idx_customer_c_phone_computed ON customer(c_phone_computed);",
			},
		},
		{
			name:  "literal substring argument falls back to filter column",
			op:    "TABLE_SCAN",
			query: "SELECT substr('abc',1,2) FROM customer WHERE id=5",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				computedColumnFinding,
			},
			snippets: []string{
				"ALTER TABLE customer ADD COLUMN IF NOT EXISTS id_computed AS (substring(id,1,2));",
				"CREATE INDEX IF NOT EXISTS idx_customer_id_computed ON customer(id_computed);",
			},
		},
		{
			name:  "substr without any column adds nothing",
			op:    "TABLE_SCAN",
			query: "SELECT substr('abc',1,2) FROM customer",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
			},
		},
		{
			name:  "filter column index",
			op:    "TABLE_SCAN",
			query: "SELECT * FROM customer WHERE c_nationkey = 3",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				"Suggest creating an index on customer(c_nationkey).",
			},
			snippets: []string{"CREATE INDEX IF NOT EXISTS idx_customer_c_nationkey ON customer(c_nationkey);"},
		},
		{
			name:  "numeric literal comparison is skipped",
			op:    "SEQ_SCAN TABLE_SCAN",
			query: "SELECT * FROM orders WHERE 1=1 AND o_custkey = 7",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				"Suggest creating an index on orders(o_custkey).",
			},
			snippets: []string{"CREATE INDEX IF NOT EXISTS idx_orders_o_custkey ON orders(o_custkey);"},
		},
		{
			name:  "join label matches by substring",
			op:    "HASH_JOIN_OPERATOR",
			query: "SELECT * FROM orders JOIN lineitem USING (l_orderkey)",
			findings: []string{
				"Expensive hash join: Join operation is spending substantial time. Ensure join keys are indexed and compatible.",
				"Suggest indexing join keys on orders.",
			},
			snippets: []string{"-- Ensure join keys are indexed\nCREATE INDEX IF NOT EXISTS idx_orders_joinkey ON orders(<join_key>);"},
		},
		{
			name:  "aggregation template",
			op:    "hash_group_by",
			query: "SELECT o_custkey, SUM(o_totalprice) FROM orders GROUP BY o_custkey",
			findings: []string{
				"Heavy aggregation (GROUP BY): Aggregation is expensive. Consider pre-aggregation or grouping by integer surrogate keys.",
				"Suggest pre-aggregating results for orders.",
			},
			snippets: []string{
				"CREATE MATERIALIZED VIEW IF NOT EXISTS mv_aggr_orders AS\n" +
					"SELECT <group_col>, SUM(<agg_col>) AS agg_val FROM orders GROUP BY <group_col>;",
			},
		},
		{
			name:  "order by template",
			op:    "ORDER_BY",
			query: "SELECT * FROM lineitem ORDER BY l_shipdate",
			findings: []string{
				"Sorting / ORDER BY heavy: Sorting large result sets is costly; an index on the ORDER BY columns can help.",
				"Suggest indexing ORDER BY column(s) in lineitem.",
			},
			snippets: []string{"CREATE INDEX IF NOT EXISTS idx_lineitem_order ON lineitem(<order_col>);"},
		},
		{
			name:  "table scan without filter is generic",
			op:    "TABLE_SCAN",
			query: "SELECT * FROM region",
			findings: []string{
				"Full table scan detected: Query performs a full table scan on a large table which often indicates missing index or predicate not sargable.",
				genericFinding,
			},
		},
		{
			name:  "placeholder table",
			op:    "ORDER_BY",
			query: "SELECT 1 ORDER BY 1",
			findings: []string{
				"Sorting / ORDER BY heavy: Sorting large result sets is costly; an index on the ORDER BY columns can help.",
				"Suggest indexing ORDER BY column(s) in unknown_table.",
			},
			snippets: []string{"CREATE INDEX IF NOT EXISTS idx_unknown_table_order ON unknown_table(<order_col>);"},
		},
		{
			name:     "unmatched operator",
			op:       "PROJECTION",
			query:    "SELECT * FROM region WHERE r_regionkey = 1",
			findings: []string{noIssuesFinding},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.Synthesize(SynthesisInput{BottleneckOperator: tt.op, QueryText: tt.query})
			assert.Equal(t, strings.Join(tt.findings, " | "), rec.Text)
			assert.Equal(t, tt.snippets, rec.Snippets)
		})
	}
}

func TestSynthesize_StructuralChecks(t *testing.T) {
	s := NewRecommendationSynthesizer()

	tests := []struct {
		name string
		in   SynthesisInput
		want []string
	}{
		{
			name: "many detected joins",
			in:   SynthesisInput{JoinsDetected: 6},
			want: []string{multipleJoinsFinding},
		},
		{
			name: "many expected joins",
			in:   SynthesisInput{JoinsExpected: 7},
			want: []string{multipleJoinsFinding},
		},
		{
			name: "five joins is fine",
			in:   SynthesisInput{JoinsExpected: 5, JoinsDetected: 5},
			want: []string{noIssuesFinding},
		},
		{
			name: "large aggregation",
			in:   SynthesisInput{AggsExpected: 1, ScannedRows: 1_000_001, ScannedKnown: true, ReturnedRows: 200_000, ReturnedKnown: true},
			want: []string{largeAggFinding},
		},
		{
			name: "aggregation at exactly one million",
			in:   SynthesisInput{AggsExpected: 1, ScannedRows: 1_000_000},
			want: []string{noIssuesFinding},
		},
		{
			name: "findings accumulate in order",
			in: SynthesisInput{
				BottleneckOperator: "HASH_GROUP_BY",
				QueryText:          "SELECT l_returnflag, SUM(l_quantity) FROM lineitem GROUP BY l_returnflag",
				ScannedRows:        6_000_000,
				ScannedKnown:       true,
				ReturnedRows:       4,
				ReturnedKnown:      true,
				AggsExpected:       1,
				JoinsDetected:      8,
			},
			want: []string{
				"Very low selectivity (0.000001) — consider indexing filter columns or partitioning.",
				"Heavy aggregation (GROUP BY): Aggregation is expensive. Consider pre-aggregation or grouping by integer surrogate keys.",
				"Suggest pre-aggregating results for lineitem.",
				multipleJoinsFinding,
				largeAggFinding,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.Synthesize(tt.in)
			assert.Equal(t, strings.Join(tt.want, " | "), rec.Text)
		})
	}
}

func TestSynthesize_NoIssues(t *testing.T) {
	rec := NewRecommendationSynthesizer().Synthesize(SynthesisInput{QueryText: "SELECT 1"})
	assert.Equal(t, "No obvious issues detected — query looks OK.", rec.Text)
	assert.Empty(t, rec.Snippets)
}
