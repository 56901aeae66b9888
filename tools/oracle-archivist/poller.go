package main

import (
	"context"
	"fmt"
	"time"
)

// rpcClient is the minimal JSON-RPC surface the poller depends on, the same
// shape services/oraclerpc.Client exposes.
type rpcClient interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// Poller periodically mirrors every published oracle value from the chain's
// RPC surface into the Storage. It has no write access to the chain and no
// bearing on consensus: a missed or duplicated poll only affects the
// dashboard mirror, never the on-chain oracle state.
type Poller struct {
	rpc     rpcClient
	storage *Storage
	seen    map[seenKey]int64
}

type seenKey struct {
	oracleID uint64
	slot     uint8
}

// NewPoller constructs a Poller bound to the given RPC client and storage.
func NewPoller(rpc rpcClient, storage *Storage) *Poller {
	return &Poller{rpc: rpc, storage: storage, seen: make(map[seenKey]int64)}
}

type listOraclesResult struct {
	OracleIDs []uint64 `json:"oracleIds"`
}

type oracleValueJSON struct {
	Value       string `json:"value"`
	LastChanged int64  `json:"lastChanged,omitempty"`
	Set         bool   `json:"set"`
}

type oracleResult struct {
	ID     uint64            `json:"id"`
	Values []oracleValueJSON `json:"values"`
}

// PollOnce fetches every oracle's current state and mirrors any slot whose
// lastChanged moment has advanced since the previous poll.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p == nil || p.rpc == nil || p.storage == nil {
		return 0, fmt.Errorf("oracle-archivist: poller not configured")
	}
	var list listOraclesResult
	if err := p.rpc.Call(ctx, "oracle_listOracles", nil, &list); err != nil {
		return 0, fmt.Errorf("list oracles: %w", err)
	}

	mirrored := 0
	for _, id := range list.OracleIDs {
		var o oracleResult
		if err := p.rpc.Call(ctx, "oracle_getOracle", []map[string]uint64{{"oracleId": id}}, &o); err != nil {
			return mirrored, fmt.Errorf("get oracle %d: %w", id, err)
		}
		for slot, v := range o.Values {
			if !v.Set {
				continue
			}
			key := seenKey{oracleID: id, slot: uint8(slot)}
			if last, ok := p.seen[key]; ok && last >= v.LastChanged {
				continue
			}
			if err := p.storage.RecordUpdate(ctx, Update{
				OracleID:    id,
				Slot:        uint8(slot),
				Value:       v.Value,
				LastChanged: v.LastChanged,
				RecordedAt:  time.Now(),
			}); err != nil {
				return mirrored, fmt.Errorf("record update: %w", err)
			}
			p.seen[key] = v.LastChanged
			mirrored++
		}
	}
	return mirrored, nil
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PollOnce(ctx); err != nil {
				return err
			}
		}
	}
}
