package model

import "fmt"

// EventMeta locates a log on chain.
type EventMeta struct {
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
}

// EventKey identifies a log for idempotency purposes.
type EventKey struct {
	TxHash   string
	LogIndex uint64
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// Event is a decoded contract log.
type Event struct {
	Kind    EventKind
	Meta    EventMeta
	Payload Payload
}

// Key returns the ledger key of the event.
func (e Event) Key() EventKey {
	return EventKey{TxHash: e.Meta.TxHash, LogIndex: e.Meta.LogIndex}
}

// Before reports whether e was emitted before other.
func (e Event) Before(other Event) bool {
	if e.Meta.BlockNumber != other.Meta.BlockNumber {
		return e.Meta.BlockNumber < other.Meta.BlockNumber
	}
	return e.Meta.LogIndex < other.Meta.LogIndex
}
