package indexer

import (
	"context"

	"paywallIndexer/internal/model"
)

// Status returns a snapshot of ingestion health. RPC connectivity is checked
// by asking the source for the current height.
func (e *Engine) Status(ctx context.Context) model.Status {
	status := model.Status{
		State:           e.State(),
		Network:         e.cfg.Network,
		ContractAddress: e.cfg.Contract,
		Confirmations:   e.cfg.Confirmations,
		PollInterval:    e.cfg.PollInterval.Milliseconds(),
	}

	if processor := e.Processor(); processor != nil {
		status.LastProcessedBlock = processor.Watermark().LastProcessedBlock
		status.EventsProcessed = processor.Processed()
	}
	if poller := e.Poller(); poller != nil {
		status.Polling = poller.Running()
	}

	if e.source != nil {
		height, err := e.source.CurrentHeight(ctx)
		if err == nil {
			status.RPCConnected = true
			status.CurrentBlock = height
		}
	}
	return status
}

// Ready reports whether the engine has resolved its watermark and the store answers.
func (e *Engine) Ready(ctx context.Context) error {
	if e.Processor() == nil {
		return errNotResolved
	}
	return e.store.Ping(ctx)
}
