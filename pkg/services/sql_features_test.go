package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const samplePlan = `┌─────────────────────────────┐
│┌───────────────────────────┐│
││    Query Profiling Information    ││
│└───────────────────────────┘│
└─────────────────────────────┘
EXPLAIN ANALYZE SELECT o_custkey, SUM(o_totalprice) FROM orders GROUP BY o_custkey
┌─────────────────────────────┐
│        Total Time: 0.0412s        │
└─────────────────────────────┘
┌───────────────────────────┐
│       HASH_GROUP_BY       │
│    ────────────────────   │
│          99996 Rows        │
│          (0.03s)          │
└─────────────┬─────────────┘
┌─────────────┴─────────────┐
│         TABLE_SCAN        │
│    ────────────────────   │
│        1500000 Rows       │
│          (0.01s)          │
└───────────────────────────┘`

func TestParsePlanText(t *testing.T) {
	tests := []struct {
		name     string
		plan     string
		scanned  int64
		returned int64
		execMs   float64
		rows     bool
		timed    bool
	}{
		{
			name:     "duckdb plan",
			plan:     samplePlan,
			scanned:  1500000,
			returned: 99996,
			execMs:   30,
			rows:     true,
			timed:    true,
		},
		{
			name:     "single figure",
			plan:     "PROJECTION 42 Rows (0.5s)",
			scanned:  42,
			returned: 42,
			execMs:   500,
			rows:     true,
			timed:    true,
		},
		{
			name:     "zero rows is known",
			plan:     "FILTER 0 Rows\nTABLE_SCAN 10 Rows",
			scanned:  10,
			returned: 0,
			rows:     true,
		},
		{
			name: "nothing parseable",
			plan: "EXPLAIN_FAILED: Parser Error",
		},
		{
			name: "integer seconds are not matched",
			plan: "(3s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := ParsePlanText(tt.plan)
			assert.Equal(t, tt.scanned, stats.ScannedRows)
			assert.Equal(t, tt.returned, stats.ReturnedRows)
			assert.InDelta(t, tt.execMs, stats.ExecTimeMs, 1e-9)
			assert.Equal(t, tt.rows, stats.RowsKnown)
			assert.Equal(t, tt.timed, stats.ExecTimeKnown)
		})
	}
}

func TestCountOperators(t *testing.T) {
	query := `SELECT c.name, COUNT(*), sum(o.total), AVG(o.total)
		FROM customer c JOIN orders o ON c.id = o.cust
		LEFT JOIN nation n ON n.id = c.nation
		WHERE c.joined_at > DATE '2020-01-01'`

	joins, aggs := CountExpectedOperators(query)
	assert.Equal(t, 2, joins)
	assert.Equal(t, 3, aggs)

	joins, aggs = CountDetectedOperators(samplePlan + "\nHASH_JOIN\nPERFECT_HASH_GROUP_BY\nUNGROUPED_AGGREGATE")
	assert.Equal(t, 0, joins, "HASH_JOIN is one word")
	assert.Equal(t, 1, aggs)

	joins, _ = CountDetectedOperators("│ HASH JOIN │ LEFT JOIN │")
	assert.Equal(t, 2, joins)
}

func TestExtractTableName(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"SELECT * FROM customer WHERE id = 5", "customer"},
		{"select * from orders o join lineitem l on o.k = l.k", "orders"},
		{"SELECT 1 JOIN nation ON true", "nation"},
		{"SELECT 42", UnknownTable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTableName(tt.query, UnknownTable), tt.query)
	}
}

func TestExtractFilterColumn(t *testing.T) {
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"SELECT * FROM customer WHERE c.id = 5", "id", true},
		{"SELECT * FROM t WHERE region IN ('EU')", "region", true},
		{"SELECT * FROM t WHERE name LIKE 'A%'", "name", true},
		{"SELECT * FROM t WHERE x.y.price>10", "price", true},
		{"SELECT 1", "", false},
		{"SELECT * FROM orders JOIN lineitem USING (l_orderkey)", "", false},
		{"SELECT * FROM t WHERE t. = 1", "", false},
		{"SELECT * FROM orders WHERE 1=1 AND o_custkey = 7", "o_custkey", true},
		{"SELECT * FROM t WHERE 10 > 2", "", false},
	}
	for _, tt := range tests {
		col, ok := ExtractFilterColumn(tt.query)
		assert.Equal(t, tt.ok, ok, tt.query)
		assert.Equal(t, tt.want, col, tt.query)
	}
}

func TestSubstringDetection(t *testing.T) {
	assert.True(t, HasSubstringCall("SELECT substring(name,1,2) FROM customer"))
	assert.True(t, HasSubstringCall("SELECT SUBSTR(c.name, 1, 2) FROM customer c"))
	assert.False(t, HasSubstringCall("SELECT name FROM customer"))

	col, ok := ExtractSubstringColumn("SELECT SUBSTRING( c.phone ,1,2) FROM customer c")
	assert.True(t, ok)
	assert.Equal(t, "c.phone", col)

	col, ok = ExtractSubstringColumn("SELECT substr(name,1,2) FROM customer")
	assert.True(t, ok)
	assert.Equal(t, "name", col)

	_, ok = ExtractSubstringColumn("SELECT substr('abc',1,2) FROM customer")
	assert.False(t, ok)
}

func TestExtractSubstringCall(t *testing.T) {
	tests := []struct {
		query string
		col   string
		call  string
		ok    bool
	}{
		{"SELECT substring(name,3,4) FROM customer", "name", "substring(name,3,4)", true},
		{"SELECT Substr( c.phone , 1, 2) AS cc FROM customer c", "c.phone", "Substr( c.phone , 1, 2)", true},
		{"SELECT substr(name, 1, strpos(name, '(')) FROM t", "name", "substr(name, 1, strpos(name, '('))", true},
		{"SELECT substring(123, 1, 2)", "", "", false},
		{"SELECT substring(name, 1", "", "", false},
		{"SELECT mysubstring(name, 1, 2) FROM t", "", "", false},
	}
	for _, tt := range tests {
		col, call, ok := ExtractSubstringCall(tt.query)
		assert.Equal(t, tt.ok, ok, tt.query)
		assert.Equal(t, tt.col, col, tt.query)
		assert.Equal(t, tt.call, call, tt.query)
	}
}

func TestIsModifyingStatement(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"CREATE TABLE test (id INT)", true},
		{"  drop table test", true},
		{"ALTER TABLE test ADD COLUMN name VARCHAR", true},
		{"INSERT INTO test VALUES (1)", true},
		{"update test set id = 3", true},
		{"DELETE FROM test WHERE id = 1", true},
		{"COPY test TO 'out.csv'", true},
		{"BEGIN", true},
		{"ATTACH 'other.db'", true},
		{"INSTALL tpch", true},
		{"SELECT * FROM test", false},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", false},
		{"PRAGMA table_info('test')", false},
		{"SELECT created FROM updates", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsModifyingStatement(tt.sql), tt.sql)
	}
}
