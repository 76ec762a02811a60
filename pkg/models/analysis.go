package models

// AnalysisResult is returned by the end-to-end analysis entry point.
type AnalysisResult struct {
	QueryID            int64        `json:"query_id"`
	ExecTimeMs         float64      `json:"exec_time_ms"`
	RowsReturned       int64        `json:"rows_returned"`
	Success            bool         `json:"success"`
	Error              *string      `json:"error"`
	Status             RecordStatus `json:"status"`
	BottleneckOperator string       `json:"bottleneck_operator,omitempty"`
	HasVisualization   bool         `json:"has_graph"`
	Record             *QueryRecord `json:"record,omitempty"`
}

// WorkloadQuery is one query of a benchmark workload.
type WorkloadQuery struct {
	Number int    `json:"query_nr"`
	Text   string `json:"query"`
}

// WorkloadReport summarizes a workload run.
type WorkloadReport struct {
	Results []AnalysisResult `json:"results"`
	Slowest []RecordSummary  `json:"slowest"`
	Failed  int              `json:"failed"`
}
