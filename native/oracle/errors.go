package oracle

import "errors"

// Internal error taxonomy (spec.md §7). These are the errors the core
// itself produces; dispatch.go maps them onto the wire discriminants
// consumed by the host.
var (
	// ErrWrongPeriods is returned by NewPeriodHandler when period <=
	// aggregate_part, or either is non-positive.
	ErrWrongPeriods = errors.New("oracle: period must exceed aggregate_part, both positive")

	// ErrFewSources is returned when the roster shrinks below source_limit.
	ErrFewSources = errors.New("oracle: not enough sources in roster")

	// ErrFewPushedValue is returned when the candidate set for a slot at
	// calculate time is smaller than source_limit.
	ErrFewPushedValue = errors.New("oracle: not enough pushed values for slot")

	// ErrWrongValuesCount is returned when push is given a number of
	// observations that does not equal slot_count().
	ErrWrongValuesCount = errors.New("oracle: wrong number of values pushed")

	// ErrWrongSlot is returned when a slot index is out of range.
	ErrWrongSlot = errors.New("oracle: slot index out of range")

	// ErrNotAggregationTime is returned by push when the current moment is
	// not inside the Aggregate part of a window.
	ErrNotAggregationTime = errors.New("oracle: not in aggregate part of window")

	// ErrNotCalculateTime is returned by calculate when MayCalculate is
	// false for the slot.
	ErrNotCalculateTime = errors.New("oracle: not calculate time for slot")

	// ErrSourcePermissionDenied is returned by push when the caller is not
	// a member of the current roster.
	ErrSourcePermissionDenied = errors.New("oracle: source not in roster")

	// ErrUncalculatedValue is returned by read when the slot has never
	// been published.
	ErrUncalculatedValue = errors.New("oracle: slot has no calculated value")

	// ErrEmptyPushedValueInPeriod is returned by calculate when no push
	// has landed in the current window.
	ErrEmptyPushedValueInPeriod = errors.New("oracle: no pushes landed in current window")

	// ErrCalculationError covers the median-undefined case and any
	// detected violation of the monotonic-time contract.
	ErrCalculationError = errors.New("oracle: calculation error")

	// ErrOracleIdOverflow is fatal for further oracle creation.
	ErrOracleIdOverflow = errors.New("oracle: oracle id space exhausted")

	// ErrOracleNotFound is returned by the registry when an id has no
	// backing oracle.
	ErrOracleNotFound = errors.New("oracle: unknown oracle id")

	// ErrAccountPermissionDenied covers caller-authorization failures
	// raised above the aggregator (e.g. creator checks).
	ErrAccountPermissionDenied = errors.New("oracle: account not permitted")
)

// WireError is the wire-visible error discriminant set from spec.md §6.
type WireError string

const (
	WireNoneValue               WireError = "NoneValue"
	WireOracleIdOverflow        WireError = "OracleIdOverflow"
	WireWrongPeriods            WireError = "WrongPeriods"
	WireWrongValuesCount        WireError = "WrongValuesCount"
	WireWrongValueId            WireError = "WrongValueId"
	WireNotAggregationTime      WireError = "NotAggregationTime"
	WireNotCalculateTime        WireError = "NotCalculateTime"
	WireNotEnoughSources        WireError = "NotEnoughSources"
	WireNotEnoughValues         WireError = "NotEnoughValues"
	WireNotCalculatedValue      WireError = "NotCalculatedValue"
	WireAccountPermissionDenied WireError = "AccountPermissionDenied"
)

// ToWireError maps an internal error to the wire discriminant the host
// returns to the caller. Unknown errors fall back to CalculationError's
// closest analogue, NoneValue, since the core never returns an internal
// error it cannot classify.
func ToWireError(err error) WireError {
	switch {
	case errors.Is(err, ErrOracleIdOverflow):
		return WireOracleIdOverflow
	case errors.Is(err, ErrWrongPeriods):
		return WireWrongPeriods
	case errors.Is(err, ErrWrongValuesCount):
		return WireWrongValuesCount
	case errors.Is(err, ErrWrongSlot):
		return WireWrongValueId
	case errors.Is(err, ErrNotAggregationTime):
		return WireNotAggregationTime
	case errors.Is(err, ErrNotCalculateTime):
		return WireNotCalculateTime
	case errors.Is(err, ErrFewSources):
		return WireNotEnoughSources
	case errors.Is(err, ErrFewPushedValue), errors.Is(err, ErrEmptyPushedValueInPeriod):
		return WireNotEnoughValues
	case errors.Is(err, ErrUncalculatedValue):
		return WireNotCalculatedValue
	case errors.Is(err, ErrSourcePermissionDenied), errors.Is(err, ErrAccountPermissionDenied):
		return WireAccountPermissionDenied
	case errors.Is(err, ErrCalculationError):
		return WireNoneValue
	default:
		return WireNoneValue
	}
}
