// Package oracle implements the permissioned price oracle core: a period
// handler, a per-feed aggregator and a registry of feeds, dispatched by the
// host state machine.
package oracle

import (
	"fmt"

	"github.com/holiman/uint256"
)

// OracleId uniquely identifies a feed inside the registry. IDs are
// monotonically assigned starting at zero.
type OracleId uint64

// TableId is an opaque handle on a reputation table maintained by the
// external collaborator (native/reputation.Table).
type TableId uint64

// SourceId identifies a reporter. Reporters are chain accounts.
type SourceId [20]byte

// SlotIndex names one feed-slot inside an oracle. Transported on the wire as
// a single byte.
type SlotIndex uint8

// Moment is the monotonic wall-clock reading supplied by the host, expressed
// in unix seconds.
type Moment int64

// Window returns the period-handler window number for m given a handler with
// the supplied begin/period.
func windowOf(begin, period, now Moment) Moment {
	return (now - begin) / period
}

// Value is the opaque unsigned amount reported by sources and published by
// calculate. It wraps uint256.Int so the oracle core never performs floating
// point arithmetic, per the spec's non-goals.
type Value struct {
	i uint256.Int
}

// NewValue constructs a Value from a uint64 magnitude.
func NewValue(v uint64) Value {
	var val Value
	val.i.SetUint64(v)
	return val
}

// ValueFromBig constructs a Value from a big-endian byte slice, returning an
// error if the slice would overflow a 256-bit integer.
func ValueFromBig(b []byte) (Value, error) {
	var val Value
	if len(b) > 32 {
		return Value{}, fmt.Errorf("oracle: value overflows 256 bits")
	}
	val.i.SetBytes(b)
	return val, nil
}

// Bytes renders the value as a big-endian 32 byte slice.
func (v Value) Bytes() []byte {
	b := v.i.Bytes32()
	return b[:]
}

// Add returns v+other. The caller is responsible for any overflow policy;
// the core never adds more than two values in the same operation (the
// median's even-count average), and that addition is always performed via
// AvgHalves instead to avoid overflow.
func (v Value) Add(other Value) Value {
	var out Value
	out.i.Add(&v.i, &other.i)
	return out
}

// Half returns v/2, truncating toward zero.
func (v Value) Half() Value {
	var out Value
	two := uint256.NewInt(2)
	out.i.Div(&v.i, two)
	return out
}

// Mod2 returns v%2, i.e. 0 or 1.
func (v Value) Mod2() Value {
	var out Value
	two := uint256.NewInt(2)
	out.i.Mod(&v.i, two)
	return out
}

// AvgHalves computes the floor average of a and b without risking overflow,
// per spec.md §9 note 4: a/2 + b/2 + (a%2 + b%2)/2.
func AvgHalves(a, b Value) Value {
	sum := a.Half().Add(b.Half())
	remainder := a.Mod2().Add(b.Mod2()).Half()
	return sum.Add(remainder)
}

// Cmp orders values for sorting; it is the only comparison the aggregator
// needs, used when building the sorted candidate list for the median.
func (v Value) Cmp(other Value) int {
	return v.i.Cmp(&other.i)
}

// Equal reports whether v and other hold the same magnitude.
func (v Value) Equal(other Value) bool {
	return v.i.Eq(&other.i)
}

func (v Value) String() string {
	return v.i.String()
}

// ExternalValue pairs an optional value with the moment it was last
// changed. Both fields are set together, or both are clean (zero value).
type ExternalValue struct {
	Value       Value
	LastChanged Moment
	set         bool
}

// CleanExternalValue returns the zero ("clean") ExternalValue.
func CleanExternalValue() ExternalValue {
	return ExternalValue{}
}

// NewExternalValue constructs a populated ExternalValue.
func NewExternalValue(v Value, at Moment) ExternalValue {
	return ExternalValue{Value: v, LastChanged: at, set: true}
}

// IsClean reports whether both the value and the timestamp are unset.
func (e ExternalValue) IsClean() bool {
	return !e.set
}

// IsSet reports whether the value has been populated.
func (e ExternalValue) IsSet() bool {
	return e.set
}

// Less orders ExternalValues lexicographically by (value, last_changed)
// with an unset value sorting before any set value, per spec.md §3.
func (e ExternalValue) Less(other ExternalValue) bool {
	if e.set != other.set {
		return !e.set
	}
	if !e.set {
		return false
	}
	if cmp := e.Value.Cmp(other.Value); cmp != 0 {
		return cmp < 0
	}
	return e.LastChanged < other.LastChanged
}
