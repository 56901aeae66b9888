package oracle

import (
	"fmt"
	"sort"
)

// PrevSlot is one cell of the window-carry-over buffer: Carried reports
// whether this slot is being carried into the next Aggregate part at all
// (spec.md §4.2's outer Option), and Value is the reporter's buffered
// observation for that slot at the moment of the snapshot (whose own
// IsSet/IsClean distinguishes "no value" from "a value").
type PrevSlot struct {
	Carried bool
	Value   ExternalValue
}

// Oracle is the per-feed aggregator state described in spec.md §3/§4.2.
type Oracle struct {
	Name             []byte
	Table            TableId
	SourceLimit      uint8
	Period           *PeriodHandler
	Names            [][]byte
	Sources          map[SourceId][]ExternalValue
	Values           []ExternalValue
	LastPushWindow   *Moment
	PrevPeriodSource map[SourceId][]PrevSlot
}

// NewOracle allocates an empty roster and a clean values vector, one slot
// per entry in slotNames.
func NewOracle(name []byte, table TableId, period *PeriodHandler, sourceLimit uint8, slotNames [][]byte) (*Oracle, error) {
	if sourceLimit == 0 {
		return nil, fmt.Errorf("oracle: source_limit must be positive")
	}
	if period == nil {
		return nil, fmt.Errorf("oracle: period handler required")
	}
	values := make([]ExternalValue, len(slotNames))
	names := make([][]byte, len(slotNames))
	copy(names, slotNames)
	return &Oracle{
		Name:             append([]byte(nil), name...),
		Table:            table,
		SourceLimit:      sourceLimit,
		Period:           period,
		Names:            names,
		Sources:          make(map[SourceId][]ExternalValue),
		Values:           values,
		PrevPeriodSource: make(map[SourceId][]PrevSlot),
	}, nil
}

// SlotCount returns the number of feed slots this oracle tracks.
func (o *Oracle) SlotCount() int { return len(o.Names) }

func (o *Oracle) sortedSourceKeys() []SourceId {
	keys := make([]SourceId, 0, len(o.Sources))
	for k := range o.Sources {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessSourceId(keys[i], keys[j]) })
	return keys
}

func lessSourceId(a, b SourceId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// NeedsRosterRefresh reports whether the caller must fetch the reputation
// table's current head and call RefreshRoster before Push or Calculate.
func (o *Oracle) NeedsRosterRefresh(now Moment) bool {
	return o.Period.NeedsRosterRefresh(now)
}

// RefreshRoster rebuilds Sources so its key set equals newRoster exactly.
// Retained keys keep their buffers verbatim; new keys start clean; dropped
// keys are removed. It never mutates Values or PrevPeriodSource. The
// rebuild always happens; ErrFewSources is returned (after the rebuild)
// when the resulting roster is smaller than SourceLimit, matching the
// reference implementation's update-then-validate order.
func (o *Oracle) RefreshRoster(now Moment, newRoster []SourceId) ([]SourceId, error) {
	cleanBuf := func() []ExternalValue { return make([]ExternalValue, o.SlotCount()) }

	next := make(map[SourceId][]ExternalValue, len(newRoster))
	for _, id := range newRoster {
		if existing, ok := o.Sources[id]; ok {
			next[id] = existing
			continue
		}
		next[id] = cleanBuf()
	}
	o.Sources = next
	o.Period.MarkRosterRefreshed(now)

	snapshot := o.sortedSourceKeys()
	if len(snapshot) < int(o.SourceLimit) {
		return snapshot, fmt.Errorf("%w: need %d have %d", ErrFewSources, o.SourceLimit, len(snapshot))
	}
	return snapshot, nil
}

// Push records source's observations for the current window. The caller
// must have already resolved NeedsRosterRefresh/RefreshRoster for now.
func (o *Oracle) Push(source SourceId, now Moment, observations []Value) error {
	if !o.Period.MayAggregate(now) {
		return ErrNotAggregationTime
	}
	buf, ok := o.Sources[source]
	if !ok {
		return ErrSourcePermissionDenied
	}
	if len(observations) != o.SlotCount() {
		return fmt.Errorf("%w: expected %d got %d", ErrWrongValuesCount, o.SlotCount(), len(observations))
	}

	currentWindow := o.Period.Window(now)
	if o.LastPushWindow != nil && *o.LastPushWindow != currentWindow {
		o.snapshotAndClear(*o.LastPushWindow)
		buf = o.Sources[source]
	}
	cw := currentWindow
	o.LastPushWindow = &cw

	for i, v := range observations {
		buf[i] = NewExternalValue(v, now)
	}
	return nil
}

// snapshotAndClear implements the window-transition rule from spec.md
// §4.2: for each slot whose last published value does not already belong
// to prevWindow, snapshot every reporter's current buffer for that slot
// into PrevPeriodSource; slots whose result is already canonical for
// prevWindow are marked not-carried. Every reporter's buffer is then
// cleared to clean across all slots.
func (o *Oracle) snapshotAndClear(prevWindow Moment) {
	slotCarries := make([]bool, o.SlotCount())
	for s := 0; s < o.SlotCount(); s++ {
		v := o.Values[s]
		alreadyCanonical := v.IsSet() && o.Period.Window(v.LastChanged) == prevWindow
		slotCarries[s] = !alreadyCanonical
	}

	next := make(map[SourceId][]PrevSlot, len(o.Sources))
	for id, buf := range o.Sources {
		row := make([]PrevSlot, o.SlotCount())
		for s := 0; s < o.SlotCount(); s++ {
			if slotCarries[s] {
				row[s] = PrevSlot{Carried: true, Value: buf[s]}
			} else {
				row[s] = PrevSlot{Carried: false}
			}
		}
		next[id] = row
	}
	o.PrevPeriodSource = next

	for id := range o.Sources {
		o.Sources[id] = make([]ExternalValue, o.SlotCount())
	}
}

func (o *Oracle) clearAllBuffers() {
	for id := range o.Sources {
		o.Sources[id] = make([]ExternalValue, o.SlotCount())
	}
}

// Calculate publishes the median of the current candidate set for slot.
// The caller must have already resolved NeedsRosterRefresh/RefreshRoster
// for now.
func (o *Oracle) Calculate(slot SlotIndex, now Moment) (Value, error) {
	if int(slot) >= o.SlotCount() {
		return Value{}, ErrWrongSlot
	}

	cur := o.Values[slot]
	if cur.IsSet() && now < cur.LastChanged {
		// Host violated the monotonic-time contract: never mask this as an
		// ordinary "not calculate time" result.
		return Value{}, ErrCalculationError
	}

	var lastPtr *Moment
	if cur.IsSet() {
		t := cur.LastChanged
		lastPtr = &t
	}
	if !o.Period.MayCalculate(lastPtr, now) {
		return Value{}, ErrNotCalculateTime
	}

	if len(o.Sources) < int(o.SourceLimit) {
		return Value{}, fmt.Errorf("%w: need %d have %d", ErrFewSources, o.SourceLimit, len(o.Sources))
	}

	currentWindow := o.Period.Window(now)
	if o.LastPushWindow == nil || *o.LastPushWindow != currentWindow {
		o.clearAllBuffers()
		return Value{}, ErrEmptyPushedValueInPeriod
	}

	var candidates []Value
	switch o.Period.Part(now) {
	case Calculate:
		for _, id := range o.sortedSourceKeys() {
			if ev := o.Sources[id][slot]; ev.IsSet() {
				candidates = append(candidates, ev.Value)
			}
		}
	default: // Aggregate part: carry-over recovery from the prior window.
		ids := make([]SourceId, 0, len(o.PrevPeriodSource))
		for id := range o.PrevPeriodSource {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return lessSourceId(ids[i], ids[j]) })
		for _, id := range ids {
			ps := o.PrevPeriodSource[id][slot]
			if ps.Carried && ps.Value.IsSet() {
				candidates = append(candidates, ps.Value.Value)
			}
		}
	}

	if len(candidates) < int(o.SourceLimit) {
		return Value{}, fmt.Errorf("%w: need %d got %d", ErrFewPushedValue, o.SourceLimit, len(candidates))
	}

	med, err := median(candidates)
	if err != nil {
		return Value{}, err
	}
	o.Values[slot] = NewExternalValue(med, now)
	return med, nil
}

// Read returns the published value and moment for slot.
func (o *Oracle) Read(slot SlotIndex) (Value, Moment, error) {
	if int(slot) >= o.SlotCount() {
		return Value{}, 0, ErrWrongSlot
	}
	v := o.Values[slot]
	if v.IsClean() {
		return Value{}, 0, ErrUncalculatedValue
	}
	return v.Value, v.LastChanged, nil
}
