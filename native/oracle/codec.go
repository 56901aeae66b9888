package oracle

import "sort"

// codec.go implements the persisted state layout from spec.md §6: fields
// serialized in declared order, maps as length-prefixed sorted-by-key
// sequences, optionals as a one-byte tag followed by the payload when
// present. Go's map iteration order is randomized, and the host's KVPut
// encodes values with RLP (which has no native map support), so every
// Oracle map is flattened into a sorted slice before being handed to the
// host, mirroring core/state/staking_keys.go's explicit wire-struct
// pattern.

// storedExternalValue is the wire form of ExternalValue: Set is the
// presence tag, Value/LastChanged are only meaningful when Set is true.
// LastChanged is stored as uint64 (like core/state/staking_keys.go's
// LastUpdateUnix/LastPayoutUnix): RLP has no signed-integer encoding, and
// a Moment is always a non-negative unix timestamp in practice.
type storedExternalValue struct {
	Set         bool
	ValueBytes  []byte
	LastChanged uint64
}

func encodeExternalValue(e ExternalValue) storedExternalValue {
	if !e.IsSet() {
		return storedExternalValue{}
	}
	return storedExternalValue{Set: true, ValueBytes: e.Value.Bytes(), LastChanged: momentToUint64(e.LastChanged)}
}

func decodeExternalValue(s storedExternalValue) (ExternalValue, error) {
	if !s.Set {
		return CleanExternalValue(), nil
	}
	v, err := ValueFromBig(s.ValueBytes)
	if err != nil {
		return ExternalValue{}, err
	}
	return NewExternalValue(v, Moment(s.LastChanged)), nil
}

// momentToUint64 clamps a negative Moment to zero before storage, mirroring
// core/state/staking_keys.go's defensive conversion of signed timestamps.
func momentToUint64(m Moment) uint64 {
	if m < 0 {
		return 0
	}
	return uint64(m)
}

// storedPrevSlot is the wire form of PrevSlot.
type storedPrevSlot struct {
	Carried bool
	Value   storedExternalValue
}

// storedSourceRow pairs a SourceId with its ordered per-slot buffer so the
// Sources map can be serialized as a sorted sequence.
type storedSourceRow struct {
	Source [20]byte
	Slots  []storedExternalValue
}

// storedPrevRow is the PrevPeriodSource analogue of storedSourceRow.
type storedPrevRow struct {
	Source [20]byte
	Slots  []storedPrevSlot
}

// storedPeriodHandler is the wire form of PeriodHandler.
type storedPeriodHandler struct {
	Begin                uint64
	Period               uint64
	AggregatePart        uint64
	HasLastSourcesUpdate bool
	LastSourcesUpdate    uint64
}

// storedOracle is the field-by-field wire form of Oracle.
type storedOracle struct {
	Name              []byte
	Table             uint64
	SourceLimit       uint8
	PeriodHandler     storedPeriodHandler
	Names             [][]byte
	Sources           []storedSourceRow
	Values            []storedExternalValue
	HasLastPushWindow bool
	LastPushWindow    uint64
	PrevPeriodSource  []storedPrevRow
}

// Encode renders the oracle into its deterministic wire form, ready to be
// handed to the host's KVPut.
func (o *Oracle) Encode() interface{} {
	sph := storedPeriodHandler{
		Begin:         momentToUint64(o.Period.Begin()),
		Period:        momentToUint64(o.Period.PeriodLength()),
		AggregatePart: momentToUint64(o.Period.AggregatePart()),
	}
	if last, ok := o.Period.LastSourcesUpdate(); ok {
		sph.HasLastSourcesUpdate = true
		sph.LastSourcesUpdate = momentToUint64(last)
	}

	keys := o.sortedSourceKeys()
	sources := make([]storedSourceRow, 0, len(keys))
	for _, id := range keys {
		buf := o.Sources[id]
		slots := make([]storedExternalValue, len(buf))
		for i, v := range buf {
			slots[i] = encodeExternalValue(v)
		}
		sources = append(sources, storedSourceRow{Source: id, Slots: slots})
	}

	prevKeys := make([]SourceId, 0, len(o.PrevPeriodSource))
	for id := range o.PrevPeriodSource {
		prevKeys = append(prevKeys, id)
	}
	sortSourceIds(prevKeys)
	prev := make([]storedPrevRow, 0, len(prevKeys))
	for _, id := range prevKeys {
		row := o.PrevPeriodSource[id]
		slots := make([]storedPrevSlot, len(row))
		for i, ps := range row {
			slots[i] = storedPrevSlot{Carried: ps.Carried, Value: encodeExternalValue(ps.Value)}
		}
		prev = append(prev, storedPrevRow{Source: id, Slots: slots})
	}

	values := make([]storedExternalValue, len(o.Values))
	for i, v := range o.Values {
		values[i] = encodeExternalValue(v)
	}

	out := storedOracle{
		Name:             o.Name,
		Table:            uint64(o.Table),
		SourceLimit:      o.SourceLimit,
		PeriodHandler:    sph,
		Names:            o.Names,
		Sources:          sources,
		Values:           values,
		PrevPeriodSource: prev,
	}
	if o.LastPushWindow != nil {
		out.HasLastPushWindow = true
		out.LastPushWindow = momentToUint64(*o.LastPushWindow)
	}
	return out
}

// DecodeOracle reconstructs an Oracle from its wire form.
func DecodeOracle(s *storedOracle) (*Oracle, error) {
	ph := &PeriodHandler{
		begin:         Moment(s.PeriodHandler.Begin),
		period:        Moment(s.PeriodHandler.Period),
		aggregatePart: Moment(s.PeriodHandler.AggregatePart),
	}
	if s.PeriodHandler.HasLastSourcesUpdate {
		m := Moment(s.PeriodHandler.LastSourcesUpdate)
		ph.lastSourcesUpdate = &m
	}

	values := make([]ExternalValue, len(s.Values))
	for i, sv := range s.Values {
		v, err := decodeExternalValue(sv)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	sources := make(map[SourceId][]ExternalValue, len(s.Sources))
	for _, row := range s.Sources {
		slots := make([]ExternalValue, len(row.Slots))
		for i, sv := range row.Slots {
			v, err := decodeExternalValue(sv)
			if err != nil {
				return nil, err
			}
			slots[i] = v
		}
		sources[SourceId(row.Source)] = slots
	}

	prev := make(map[SourceId][]PrevSlot, len(s.PrevPeriodSource))
	for _, row := range s.PrevPeriodSource {
		slots := make([]PrevSlot, len(row.Slots))
		for i, sp := range row.Slots {
			v, err := decodeExternalValue(sp.Value)
			if err != nil {
				return nil, err
			}
			slots[i] = PrevSlot{Carried: sp.Carried, Value: v}
		}
		prev[SourceId(row.Source)] = slots
	}

	o := &Oracle{
		Name:             s.Name,
		Table:            TableId(s.Table),
		SourceLimit:      s.SourceLimit,
		Period:           ph,
		Names:            s.Names,
		Sources:          sources,
		Values:           values,
		PrevPeriodSource: prev,
	}
	if s.HasLastPushWindow {
		w := Moment(s.LastPushWindow)
		o.LastPushWindow = &w
	}
	return o, nil
}

func sortSourceIds(ids []SourceId) {
	sort.Slice(ids, func(i, j int) bool { return lessSourceId(ids[i], ids[j]) })
}
