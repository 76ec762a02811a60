package models

// RootOperatorID is the parent id of root-level profile nodes.
const RootOperatorID = "ROOT"

// UnknownOperator labels profile nodes that carry no operator type.
const UnknownOperator = "UNKNOWN"

// OperatorCostEntry is one flattened node of an execution profile.
type OperatorCostEntry struct {
	ID           string  `json:"id"`
	ParentID     string  `json:"parent_id"`
	OperatorType string  `json:"operator_type"`
	TimeS        float64 `json:"time_s"`
	RowsCount    int64   `json:"rows_count"`
}

// SignalReport holds the signals extracted for a single query.
// The *Known flags separate a measured zero from a value that could not be derived.
type SignalReport struct {
	ExplainText   string              `json:"explain_text"`
	ScannedRows   int64               `json:"scanned_rows"`
	ReturnedRows  int64               `json:"returned_rows"`
	ExecTimeMs    float64             `json:"exec_time_ms"`
	JoinsExpected int                 `json:"joins_expected"`
	JoinsDetected int                 `json:"joins_detected"`
	AggsExpected  int                 `json:"aggs_expected"`
	AggsDetected  int                 `json:"aggs_detected"`
	OperatorCosts []OperatorCostEntry `json:"operator_costs,omitempty"`

	ScannedKnown  bool `json:"-"`
	ReturnedKnown bool `json:"-"`
	ExecTimeKnown bool `json:"-"`

	// Success and ExecError describe the direct execution of the query.
	Success   bool   `json:"success"`
	ExecError string `json:"exec_error,omitempty"`
}

// Bottleneck is the dominant operator of a profile.
type Bottleneck struct {
	Operator string             `json:"operator"`
	Entry    *OperatorCostEntry `json:"entry,omitempty"`
	Share    float64            `json:"share"`
}

// Recommendation is the synthesized advice for a query.
type Recommendation struct {
	Text     string   `json:"text"`
	Snippets []string `json:"snippets,omitempty"`
}
