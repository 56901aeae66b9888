package oracle

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"oraclechain/core/events"
)

// ReputationTable is the external collaborator described in spec.md §6: a
// ranked set of candidate reporters maintained outside the oracle core.
// native/reputation.Table satisfies this interface.
type ReputationTable interface {
	// Create allocates a new table staked to owner and returns its id.
	Create(owner SourceId, assetID uint64, headSize uint8, name []byte) (TableId, error)
	// Head returns the current top-K reporters in ranked order.
	Head(id TableId) ([]SourceId, error)
}

// Registry holds the indexed collection of oracles and dispatches the
// host-invoked operations (spec.md §4.3, §6).
type Registry struct {
	oracles map[OracleId]*Oracle
	nextID  OracleId
	table   ReputationTable
	emitter events.Emitter
}

// NewRegistry constructs an empty registry backed by the given reputation
// table collaborator.
func NewRegistry(table ReputationTable) *Registry {
	return &Registry{
		oracles: make(map[OracleId]*Oracle),
		table:   table,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used to broadcast OracleCreated
// and OracleUpdated. Passing nil resets it to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

// allocateID returns the next oracle id and post-increments the counter
// with checked addition; overflow is fatal for further creation.
func (r *Registry) allocateID() (OracleId, error) {
	id := r.nextID
	if uint64(id) == math.MaxUint64 {
		return 0, ErrOracleIdOverflow
	}
	r.nextID = id + 1
	return id, nil
}

// CreateOracleParams bundles the create_oracle dispatch inputs.
type CreateOracleParams struct {
	Creator       SourceId
	Name          []byte
	SourceLimit   uint8
	Period        Moment
	AggregatePart Moment
	AssetID       uint64
	SlotNames     [][]byte
	Now           Moment
}

// CreateOracle allocates a fresh oracle, asks the reputation table
// collaborator to mint and stake a backing table to the creator, and emits
// OracleCreated.
func (r *Registry) CreateOracle(p CreateOracleParams) (OracleId, error) {
	if r.table == nil {
		return 0, fmt.Errorf("oracle: reputation table not configured")
	}
	ph, err := NewPeriodHandler(p.Now, p.Period, p.AggregatePart)
	if err != nil {
		return 0, err
	}
	id, err := r.allocateID()
	if err != nil {
		return 0, err
	}
	// The table's head size mirrors the feed's own source_limit: the
	// roster this oracle draws from need never be larger than the
	// quorum it requires.
	tableID, err := r.table.Create(p.Creator, p.AssetID, p.SourceLimit, p.Name)
	if err != nil {
		return 0, err
	}
	o, err := NewOracle(p.Name, tableID, ph, p.SourceLimit, p.SlotNames)
	if err != nil {
		return 0, err
	}
	r.oracles[id] = o
	r.emit(OracleCreated{ID: id, Creator: p.Creator, CorrelationID: uuid.NewString()})
	return id, nil
}

func oracleIDLabel(id OracleId) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (r *Registry) lookup(id OracleId) (*Oracle, error) {
	o, ok := r.oracles[id]
	if !ok {
		return nil, ErrOracleNotFound
	}
	return o, nil
}

// refreshIfNeeded consults the reputation table collaborator when the
// oracle's period handler signals a refresh is due.
func (r *Registry) refreshIfNeeded(id OracleId, o *Oracle, now Moment) error {
	if !o.NeedsRosterRefresh(now) {
		return nil
	}
	roster, err := r.table.Head(o.Table)
	if err != nil {
		return err
	}
	snapshot, err := o.RefreshRoster(now, roster)
	if err == nil {
		defaultMetrics().rosterSize.WithLabelValues(oracleIDLabel(id)).Set(float64(len(snapshot)))
	}
	return err
}

// Push dispatches an observation push against the named oracle.
func (r *Registry) Push(id OracleId, source SourceId, now Moment, observations []Value) (err error) {
	defer func() { defaultMetrics().pushes.WithLabelValues(oracleIDLabel(id), resultLabel(err)).Inc() }()
	o, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err = r.refreshIfNeeded(id, o, now); err != nil {
		return err
	}
	err = o.Push(source, now, observations)
	return err
}

// Calculate dispatches a calculation against the named oracle and slot,
// emitting OracleUpdated on success.
func (r *Registry) Calculate(id OracleId, slot SlotIndex, now Moment) (v Value, err error) {
	defer func() { defaultMetrics().calculations.WithLabelValues(oracleIDLabel(id), resultLabel(err)).Inc() }()
	o, err := r.lookup(id)
	if err != nil {
		return Value{}, err
	}
	if err = r.refreshIfNeeded(id, o, now); err != nil {
		return Value{}, err
	}
	v, err = o.Calculate(slot, now)
	if err != nil {
		return Value{}, err
	}
	r.emit(OracleUpdated{ID: id, Slot: slot, Value: v, CorrelationID: uuid.NewString()})
	return v, nil
}

// Read returns the last published value and moment for id/slot.
func (r *Registry) Read(id OracleId, slot SlotIndex) (Value, Moment, error) {
	o, err := r.lookup(id)
	if err != nil {
		return Value{}, 0, err
	}
	return o.Read(slot)
}

// Oracle exposes the backing Oracle for read-only RPC projections (roster,
// names, values snapshot) without allowing external mutation.
func (r *Registry) Oracle(id OracleId) (*Oracle, error) {
	return r.lookup(id)
}

// OracleIDs returns every allocated oracle id in ascending order.
func (r *Registry) OracleIDs() []OracleId {
	ids := make([]OracleId, 0, len(r.oracles))
	for id := range r.oracles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
