package oracle

import (
	"encoding/hex"
	"strconv"

	"oraclechain/core/events"
	"oraclechain/core/types"
)

const (
	// EventTypeOracleCreated is emitted when create_oracle allocates a new
	// feed.
	EventTypeOracleCreated = "oracle.created"
	// EventTypeOracleUpdated is emitted when calculate successfully
	// publishes a new value for a slot.
	EventTypeOracleUpdated = "oracle.updated"
)

// OracleCreated is emitted once per successful create_oracle dispatch.
// CorrelationID lets an external indexer stitch this event to the RPC
// request that produced it without replaying call arguments.
type OracleCreated struct {
	ID            OracleId
	Creator       SourceId
	CorrelationID string
}

func (OracleCreated) EventType() string { return EventTypeOracleCreated }

// Event renders the canonical attribute map for OracleCreated.
func (e OracleCreated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOracleCreated,
		Attributes: map[string]string{
			"oracleId":      strconv.FormatUint(uint64(e.ID), 10),
			"creator":       hex.EncodeToString(e.Creator[:]),
			"correlationId": e.CorrelationID,
		},
	}
}

// OracleUpdated is emitted once per successful calculate dispatch.
type OracleUpdated struct {
	ID            OracleId
	Slot          SlotIndex
	Value         Value
	CorrelationID string
}

func (OracleUpdated) EventType() string { return EventTypeOracleUpdated }

// Event renders the canonical attribute map for OracleUpdated.
func (e OracleUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeOracleUpdated,
		Attributes: map[string]string{
			"oracleId":      strconv.FormatUint(uint64(e.ID), 10),
			"slot":          strconv.FormatUint(uint64(e.Slot), 10),
			"value":         e.Value.String(),
			"correlationId": e.CorrelationID,
		},
	}
}

var (
	_ events.Event = OracleCreated{}
	_ events.Event = OracleUpdated{}
)
