package oracle

import "fmt"

// storage is the narrow persistence interface native/oracle depends on. It
// is satisfied by core/state.Manager, mirroring native/reputation's own
// storage interface.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	oracleNextIDKey = []byte("oracle/nextId")
	oracleIndexKey  = []byte("oracle/index")
)

func oracleRecordKey(id OracleId) []byte {
	return []byte(fmt.Sprintf("oracle/record/%d", uint64(id)))
}

// storedIndex is the append-only list of allocated oracle ids, the same
// sorted-index idiom native/reputation/table.go uses for its stake index.
type storedIndex struct {
	IDs []uint64
}

// Store persists Registry/Oracle state through the host's KV interface:
// one record per oracle plus a small index, so a dispatch call can
// rehydrate exactly the oracle it needs without scanning the keyspace.
type Store struct {
	kv storage
}

// NewStore constructs a Store bound to the host's key/value backend.
func NewStore(kv storage) *Store {
	return &Store{kv: kv}
}

// NewRegistryForCreate returns an empty registry seeded with the next
// allocatable oracle id, ready for exactly one CreateOracle call.
func (s *Store) NewRegistryForCreate(table ReputationTable) (*Registry, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("oracle: store not configured")
	}
	var next uint64
	if _, err := s.kv.KVGet(oracleNextIDKey, &next); err != nil {
		return nil, err
	}
	r := NewRegistry(table)
	r.nextID = OracleId(next)
	return r, nil
}

// NewRegistryForOracle returns a registry with exactly id's persisted
// state loaded, ready for one Push/Calculate/Read call.
func (s *Store) NewRegistryForOracle(table ReputationTable, id OracleId) (*Registry, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("oracle: store not configured")
	}
	o, err := s.loadOracle(id)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(table)
	r.oracles[id] = o
	return r, nil
}

func (s *Store) loadOracle(id OracleId) (*Oracle, error) {
	var rec storedOracle
	ok, err := s.kv.KVGet(oracleRecordKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOracleNotFound
	}
	return DecodeOracle(&rec)
}

// PersistCreated writes id's freshly created record, advances the id
// counter past it, and appends it to the index.
func (s *Store) PersistCreated(r *Registry, id OracleId) error {
	if err := s.persistRecord(r, id); err != nil {
		return err
	}
	if err := s.kv.KVPut(oracleNextIDKey, uint64(id)+1); err != nil {
		return err
	}
	var idx storedIndex
	if _, err := s.kv.KVGet(oracleIndexKey, &idx); err != nil {
		return err
	}
	idx.IDs = append(idx.IDs, uint64(id))
	return s.kv.KVPut(oracleIndexKey, &idx)
}

// PersistUpdated writes id's current record after a Push or Calculate
// call. It never touches the id counter or index.
func (s *Store) PersistUpdated(r *Registry, id OracleId) error {
	return s.persistRecord(r, id)
}

func (s *Store) persistRecord(r *Registry, id OracleId) error {
	o, err := r.Oracle(id)
	if err != nil {
		return err
	}
	return s.kv.KVPut(oracleRecordKey(id), o.Encode())
}

// OracleIDs returns every allocated oracle id, for read-only enumeration
// (e.g. an RPC list method) without loading each oracle's full state.
func (s *Store) OracleIDs() ([]OracleId, error) {
	if s == nil || s.kv == nil {
		return nil, fmt.Errorf("oracle: store not configured")
	}
	var idx storedIndex
	if _, err := s.kv.KVGet(oracleIndexKey, &idx); err != nil {
		return nil, err
	}
	ids := make([]OracleId, len(idx.IDs))
	for i, raw := range idx.IDs {
		ids[i] = OracleId(raw)
	}
	return ids, nil
}
