package oracle

import "sort"

// median computes the median of candidates per spec.md §4.2 step 8: sort
// ascending; for an even count, average the two middle elements using the
// overflow-safe halves formula; for an odd count, take the middle element.
// Returns ErrCalculationError when len(candidates) <= 1, which step 7's
// source_limit >= 2 requirement makes unreachable in practice.
func median(candidates []Value) (Value, error) {
	if len(candidates) <= 1 {
		return Value{}, ErrCalculationError
	}
	sorted := make([]Value, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return AvgHalves(sorted[n/2-1], sorted[n/2]), nil
}
