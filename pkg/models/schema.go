package models

// SchemaSampleLimit is the number of sample values kept per column.
const SchemaSampleLimit = 5

// TableSchema describes one table of the target database.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// ColumnSchema describes one column and a few of its non-null values.
type ColumnSchema struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Nullable     bool     `json:"nullable"`
	SampleValues []string `json:"sample_values"`
}
