package model

import "time"

// Watermark is the persisted ingestion progress of one contract on one network.
type Watermark struct {
	ID                 string
	Address            string
	Network            string
	StartBlock         *uint64
	LastProcessedBlock uint64
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasStartBlock reports whether an explicit, non-zero start block was configured.
func (w Watermark) HasStartBlock() bool {
	return w.StartBlock != nil && *w.StartBlock > 0
}

// NeverAdvanced reports whether nothing has been processed and no start block was configured.
func (w Watermark) NeverAdvanced() bool {
	return w.LastProcessedBlock == 0 && !w.HasStartBlock()
}
