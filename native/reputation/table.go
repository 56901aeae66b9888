package reputation

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
)

// Table is the reputation/voting table external collaborator consumed by
// native/oracle (spec.md §6): a ranked set of staked reporters from which
// the oracle core draws its roster via Head. Ranking reuses the same
// descending-weight, lexicographic-tie-break idiom as
// native/potso/metrics.go's TopKWinners selection, applied here to raw
// stake instead of composite engagement weight.
type Table struct {
	store storage
}

// NewTable constructs a table registry backed by the provided storage.
func NewTable(store storage) *Table {
	return &Table{store: store}
}

var (
	tableNextIDKey = []byte("reputation/table/nextId")
	tablePrefix    = []byte("reputation/table/")
	tableStakePref = []byte("reputation/table/stake/")
)

func tableKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", tablePrefix, id))
}

func tableStakeKey(id uint64, source [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%d/%x", tableStakePref, id, source))
}

func tableStakeIndexKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d/index", tableStakePref, id))
}

// storedTableMeta is the persisted metadata for one table.
type storedTableMeta struct {
	ID       uint64
	Owner    [20]byte
	AssetID  uint64
	HeadSize uint8
	Name     []byte
}

// storedStakeIndex tracks which sources have a stake entry under a table so
// Head can iterate deterministically without scanning the whole keyspace.
type storedStakeIndex struct {
	Sources [][20]byte
}

// Create allocates a new table, staked to owner, and returns its id. This
// satisfies the create() half of the oracle core's consumed collaborator
// interface.
func (t *Table) Create(owner [20]byte, assetID uint64, headSize uint8, name []byte) (uint64, error) {
	if t == nil || t.store == nil {
		return 0, fmt.Errorf("reputation: table store not configured")
	}
	if headSize == 0 {
		return 0, fmt.Errorf("reputation: head size must be positive")
	}
	var next uint64
	if _, err := t.store.KVGet(tableNextIDKey, &next); err != nil {
		return 0, err
	}
	id := next
	if err := t.store.KVPut(tableNextIDKey, next+1); err != nil {
		return 0, err
	}
	meta := storedTableMeta{ID: id, Owner: owner, AssetID: assetID, HeadSize: headSize, Name: append([]byte(nil), name...)}
	if err := t.store.KVPut(tableKey(id), &meta); err != nil {
		return 0, err
	}
	if err := t.store.KVPut(tableStakeIndexKey(id), &storedStakeIndex{}); err != nil {
		return 0, err
	}
	// Owner is staked a nominal unit so newly created tables are never
	// empty; real stake is adjusted via Stake once governance wires this
	// table to a live staking ledger.
	return id, t.stakeLocked(id, owner, big.NewInt(1))
}

// Stake sets source's stake under the named table to amount, inserting the
// source into the table's index if it is new. A zero amount removes the
// source from future Head results while leaving the index entry (and thus
// historical ordering) untouched.
func (t *Table) Stake(id uint64, source [20]byte, amount *big.Int) error {
	if t == nil || t.store == nil {
		return fmt.Errorf("reputation: table store not configured")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("reputation: stake must be non-negative")
	}
	return t.stakeLocked(id, source, amount)
}

func (t *Table) stakeLocked(id uint64, source [20]byte, amount *big.Int) error {
	var idx storedStakeIndex
	if _, err := t.store.KVGet(tableStakeIndexKey(id), &idx); err != nil {
		return err
	}
	found := false
	for _, s := range idx.Sources {
		if s == source {
			found = true
			break
		}
	}
	if !found {
		idx.Sources = append(idx.Sources, source)
		if err := t.store.KVPut(tableStakeIndexKey(id), &idx); err != nil {
			return err
		}
	}
	return t.store.KVPut(tableStakeKey(id, source), amount)
}

// Head returns the table's current top-K reporters in ranked order,
// descending by stake and tie-broken lexicographically by address,
// truncated to the table's configured head size.
func (t *Table) Head(id uint64) ([][20]byte, error) {
	if t == nil || t.store == nil {
		return nil, fmt.Errorf("reputation: table store not configured")
	}
	var meta storedTableMeta
	ok, err := t.store.KVGet(tableKey(id), &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reputation: unknown table %d", id)
	}

	var idx storedStakeIndex
	if _, err := t.store.KVGet(tableStakeIndexKey(id), &idx); err != nil {
		return nil, err
	}

	type ranked struct {
		source [20]byte
		stake  *big.Int
	}
	entries := make([]ranked, 0, len(idx.Sources))
	for _, src := range idx.Sources {
		var stake big.Int
		has, err := t.store.KVGet(tableStakeKey(id, src), &stake)
		if err != nil {
			return nil, err
		}
		if !has || stake.Sign() <= 0 {
			continue
		}
		entries = append(entries, ranked{source: src, stake: &stake})
	}

	sort.Slice(entries, func(i, j int) bool {
		cmp := entries[i].stake.Cmp(entries[j].stake)
		if cmp != 0 {
			return cmp > 0
		}
		return bytes.Compare(entries[i].source[:], entries[j].source[:]) < 0
	})

	headSize := int(meta.HeadSize)
	if headSize > 0 && len(entries) > headSize {
		entries = entries[:headSize]
	}

	head := make([][20]byte, len(entries))
	for i, e := range entries {
		head[i] = e.source
	}
	return head, nil
}
