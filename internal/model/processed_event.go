package model

import (
	"encoding/json"
	"time"
)

// ProcessedEvent is an idempotency ledger entry.
type ProcessedEvent struct {
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	BlockNumber uint64          `json:"block_number"`
	EventName   string          `json:"event_name"`
	EventData   json.RawMessage `json:"event_data"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// Key returns the ledger key of the record.
func (p ProcessedEvent) Key() EventKey {
	return EventKey{TxHash: p.TxHash, LogIndex: p.LogIndex}
}
