package storage

import (
	"context"
	"errors"

	"paywallIndexer/internal/model"
)

var (
	// ErrWatermarkRegression is returned when an advance is not ahead of the stored watermark.
	ErrWatermarkRegression = errors.New("watermark regression")
	// ErrAlreadyProcessed is returned when a ledger key already exists.
	ErrAlreadyProcessed = errors.New("event already processed")
)

// WatermarkStore persists the per-contract ingestion watermark.
type WatermarkStore interface {
	GetOrCreate(ctx context.Context, address, network string, startBlock *uint64) (model.Watermark, error)
	// Advance moves wm to toBlock and updates it in place. It fails with
	// ErrWatermarkRegression unless toBlock is ahead of the stored value.
	Advance(ctx context.Context, wm *model.Watermark, toBlock uint64) error
}

// Ledger answers whether an event has already been materialized.
type Ledger interface {
	IsProcessed(ctx context.Context, key model.EventKey) (bool, error)
}

// Tx is one atomic materialization unit.
type Tx interface {
	Apply(ctx context.Context, writes model.Writes) error
	// RecordProcessed fails with ErrAlreadyProcessed if the key exists.
	RecordProcessed(ctx context.Context, record model.ProcessedEvent) error
}

// Store is the persistence backend of the ingestion engine.
type Store interface {
	WatermarkStore
	Ledger
	// InTx runs fn in a transaction; it commits only when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}

// AuditSink receives ledger records once they are committed.
type AuditSink interface {
	PutEventBatch(records []model.ProcessedEvent) error
}
