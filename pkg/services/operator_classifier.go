package services

import (
	"github.com/TFMV/duckprof/pkg/models"
)

// operatorClassifier implements OperatorClassifier.
type operatorClassifier struct{}

// NewOperatorClassifier creates a classifier that selects the most expensive operator.
func NewOperatorClassifier() OperatorClassifier {
	return &operatorClassifier{}
}

// Classify returns the entry with the largest time_s. Ties go to the entry
// seen first; an empty profile yields an empty label.
func (c *operatorClassifier) Classify(costs []models.OperatorCostEntry) models.Bottleneck {
	if len(costs) == 0 {
		return models.Bottleneck{}
	}

	best := 0
	var total float64
	for i, e := range costs {
		total += e.TimeS
		if e.TimeS > costs[best].TimeS {
			best = i
		}
	}

	entry := costs[best]
	b := models.Bottleneck{
		Operator: entry.OperatorType,
		Entry:    &entry,
	}
	if total > 0 {
		b.Share = entry.TimeS / total
	}
	return b
}

// OperatorFamily groups bottleneck labels for metrics.
func OperatorFamily(label string) string {
	if label == "" {
		return "none"
	}
	if family, ok := matchFamily(label); ok {
		return family.key
	}
	return "other"
}
