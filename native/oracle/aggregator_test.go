package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func src(b byte) SourceId {
	var s SourceId
	s[19] = b
	return s
}

func names(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte{'s', byte('0' + i)}
	}
	return out
}

func newTestOracle(t *testing.T, now, period, aggregatePart Moment, sourceLimit uint8, slotCount int) *Oracle {
	t.Helper()
	ph, err := NewPeriodHandler(now, period, aggregatePart)
	require.NoError(t, err)
	o, err := NewOracle([]byte("feed"), 1, ph, sourceLimit, names(slotCount))
	require.NoError(t, err)
	return o
}

func TestNewOracleCleanAfterCreate(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 6)
	for i, v := range o.Values {
		require.Truef(t, v.IsClean(), "values[%d] not clean", i)
	}
	require.Len(t, o.Sources, 0)
}

func TestRefreshRosterEquality(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 2, 3)
	roster := []SourceId{src(1), src(2), src(3)}
	snap, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)
	require.ElementsMatch(t, roster, snap)
	require.Len(t, o.Sources, 3)
	for _, id := range roster {
		require.Len(t, o.Sources[id], 3)
	}
}

func TestRefreshRosterBufferShapePreservedAndIdempotent(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 2)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	require.NoError(t, o.Push(src(1), 100, []Value{NewValue(5), NewValue(6)}))

	// Re-running refresh with the same roster must not lose the buffer.
	_, err = o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	require.True(t, o.Sources[src(1)][0].IsSet())
	require.True(t, o.Sources[src(1)][0].Value.Equal(NewValue(5)))
}

func TestRefreshRosterDropsRemovedSources(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1), src(2)})
	require.NoError(t, err)
	_, err = o.RefreshRoster(100, []SourceId{src(2), src(3)})
	require.NoError(t, err)
	_, ok := o.Sources[src(1)]
	require.False(t, ok)
	require.Contains(t, o.Sources, src(2))
	require.Contains(t, o.Sources, src(3))
}

func TestRefreshRosterFewSources(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1), src(2)})
	require.ErrorIs(t, err, ErrFewSources)
}

func TestPushRejectsNonAggregateTime(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	err = o.Push(src(1), 107, []Value{NewValue(1)})
	require.ErrorIs(t, err, ErrNotAggregationTime)
}

func TestPushRejectsUnknownSource(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	err = o.Push(src(2), 100, []Value{NewValue(1)})
	require.ErrorIs(t, err, ErrSourcePermissionDenied)
}

func TestPushRejectsWrongValueCount(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 2)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	err = o.Push(src(1), 100, []Value{NewValue(1)})
	require.ErrorIs(t, err, ErrWrongValuesCount)
}

func TestCalculateRejectsWrongSlot(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.Calculate(5, 106)
	require.ErrorIs(t, err, ErrWrongSlot)
}

func TestCalculateNoPushesEmptiesBuffers(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	_, err = o.Calculate(0, 106)
	require.ErrorIs(t, err, ErrEmptyPushedValueInPeriod)
}

func TestCalculateFirstWindowAggregateFailsNotCalculateTime(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	require.NoError(t, o.Push(src(1), 102, []Value{NewValue(1)}))
	_, err = o.Calculate(0, 103) // still in aggregate part of window 0
	require.ErrorIs(t, err, ErrNotCalculateTime)
}

// TestScenarioS1SimpleMedianOdd implements spec.md §8 scenario S1.
func TestScenarioS1SimpleMedianOdd(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 6)
	roster := []SourceId{src(1), src(2), src(3), src(4), src(5), src(6), src(7), src(8)}
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)

	obs := make([]Value, 6)
	for i := range obs {
		obs[i] = NewValue(10)
	}
	for _, s := range roster {
		require.NoError(t, o.Push(s, 100, obs))
	}

	for slot := 0; slot < 6; slot++ {
		v, err := o.Calculate(SlotIndex(slot), 106)
		require.NoError(t, err)
		require.True(t, v.Equal(NewValue(10)))
	}
	for i, v := range o.Values {
		require.Truef(t, v.Value.Equal(NewValue(10)), "slot %d", i)
		require.Equal(t, Moment(106), v.LastChanged)
	}
}

// TestScenarioS2MedianEven implements spec.md §8 scenario S2.
func TestScenarioS2MedianEven(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	roster := []SourceId{src(1), src(2), src(3), src(4)} // A B D E in spec text order
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)

	require.NoError(t, o.Push(src(1), 103, []Value{NewValue(124)})) // A
	require.NoError(t, o.Push(src(2), 101, []Value{NewValue(126)})) // B
	require.NoError(t, o.Push(src(3), 102, []Value{NewValue(128)})) // D
	require.NoError(t, o.Push(src(4), 100, []Value{NewValue(123)})) // E

	v, err := o.Calculate(0, 106)
	require.NoError(t, err)
	require.True(t, v.Equal(NewValue(125)))
}

// TestScenarioS3UnderQuorumObservations implements spec.md §8 scenario S3.
func TestScenarioS3UnderQuorumObservations(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	roster := []SourceId{src(1), src(2), src(3), src(4)}
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)

	require.NoError(t, o.Push(src(2), 101, []Value{NewValue(126)})) // B
	require.NoError(t, o.Push(src(3), 102, []Value{NewValue(128)})) // D
	require.NoError(t, o.Push(src(4), 100, []Value{NewValue(123)})) // E

	_, err = o.Calculate(0, 106)
	require.ErrorIs(t, err, ErrFewPushedValue)

	_, _, err = o.Read(0)
	require.ErrorIs(t, err, ErrUncalculatedValue)
}

// TestScenarioS4WindowCarryOver implements spec.md §8 scenario S4.
func TestScenarioS4WindowCarryOver(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	roster := []SourceId{src(1), src(2), src(3), src(4)}
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)

	for i, s := range roster {
		require.NoError(t, o.Push(s, Moment(100+i), []Value{NewValue(uint64(100 + i))}))
	}
	// No calculation happens in window 0's Calculate part.

	// First push of window 1 triggers the snapshot + clear.
	require.NoError(t, o.Push(src(1), 200, []Value{NewValue(999)}))

	v, err := o.Calculate(0, 201) // window 1, Aggregate part: carry-over recovery
	require.NoError(t, err)
	require.True(t, v.Equal(NewValue(101))) // median of {100,101,102,103}
}

// TestScenarioS4NoPushInNewWindowFails covers the note in S4: carry-over
// recovery requires at least one push in the new window.
func TestScenarioS4NoPushInNewWindowFails(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	roster := []SourceId{src(1), src(2), src(3), src(4)}
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)
	for i, s := range roster {
		require.NoError(t, o.Push(s, Moment(100+i), []Value{NewValue(uint64(100 + i))}))
	}
	_, err = o.Calculate(0, 201)
	require.ErrorIs(t, err, ErrEmptyPushedValueInPeriod)
}

// TestScenarioS5WrongTime implements spec.md §8 scenario S5.
func TestScenarioS5WrongTime(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)

	err = o.Push(src(1), 107, []Value{NewValue(1)}) // calculate part
	require.ErrorIs(t, err, ErrNotAggregationTime)

	require.NoError(t, o.Push(src(1), 100, []Value{NewValue(1)}))
	_, err = o.Calculate(0, 103) // still aggregate part, no prior publication
	require.ErrorIs(t, err, ErrNotCalculateTime)
}

// TestScenarioS6RosterRefreshAtWindowBoundary implements spec.md §8
// scenario S6.
func TestScenarioS6RosterRefreshAtWindowBoundary(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 3, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1), src(2), src(3)})
	require.NoError(t, err)
	require.NoError(t, o.Push(src(1), 100, []Value{NewValue(1)}))
	require.NoError(t, o.Push(src(2), 100, []Value{NewValue(2)}))
	require.NoError(t, o.Push(src(3), 100, []Value{NewValue(3)}))

	require.True(t, o.NeedsRosterRefresh(200))
	_, err = o.RefreshRoster(200, []SourceId{src(4), src(5), src(6)})
	require.NoError(t, err)
	require.Len(t, o.Sources, 3)
	require.NotContains(t, o.Sources, src(1))
	require.Contains(t, o.Sources, src(4))

	err = o.Push(src(1), 200, []Value{NewValue(1)})
	require.ErrorIs(t, err, ErrSourcePermissionDenied)
}

func TestMedianCandidateInsufficientFails(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 4, 1)
	roster := []SourceId{src(1), src(2), src(3), src(4)}
	_, err := o.RefreshRoster(100, roster)
	require.NoError(t, err)
	require.NoError(t, o.Push(src(1), 100, []Value{NewValue(1)}))
	require.NoError(t, o.Push(src(2), 100, []Value{NewValue(2)}))
	require.NoError(t, o.Push(src(3), 100, []Value{NewValue(3)}))

	_, err = o.Calculate(0, 106)
	require.ErrorIs(t, err, ErrFewPushedValue)
}

func TestOnePublicationPerWindow(t *testing.T) {
	o := newTestOracle(t, 100, 10, 5, 1, 1)
	_, err := o.RefreshRoster(100, []SourceId{src(1)})
	require.NoError(t, err)
	require.NoError(t, o.Push(src(1), 100, []Value{NewValue(1)}))
	_, err = o.Calculate(0, 106)
	require.NoError(t, err)

	// Same window, second call must not be allowed to recalculate.
	_, err = o.Calculate(0, 107)
	require.ErrorIs(t, err, ErrNotCalculateTime)
}
