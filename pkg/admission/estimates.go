package admission

import "studyhall/warden/pkg/config"

// fallbackEstimate is charged pre-flight for operations missing from the
// estimate table. Deliberately conservative; the post-flight commit uses
// actual provider-reported usage either way.
const fallbackEstimate int64 = 2000

// EstimateTable maps operation names to a priori token-cost estimates.
type EstimateTable struct {
	estimates map[string]int64
}

// NewEstimateTable builds a table from configuration, falling back to the
// built-in defaults when the config carries none.
func NewEstimateTable(estimates map[string]int64) *EstimateTable {
	if len(estimates) == 0 {
		estimates = config.DefaultEstimates()
	}
	copied := make(map[string]int64, len(estimates))
	for op, cost := range estimates {
		copied[op] = cost
	}
	return &EstimateTable{estimates: copied}
}

// For returns the pre-flight estimate for an operation.
func (t *EstimateTable) For(operation string) int64 {
	if cost, ok := t.estimates[operation]; ok {
		return cost
	}
	return fallbackEstimate
}

// Known reports whether the operation has an explicit estimate.
func (t *EstimateTable) Known(operation string) bool {
	_, ok := t.estimates[operation]
	return ok
}
