package chain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/paywall"
)

// LogSource is the subset of Client the reader depends on.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topic0 common.Hash) ([]types.Log, error)
}

// EventReader reads typed subscription contract events from a single contract.
type EventReader struct {
	source   LogSource
	decoder  *paywall.Decoder
	contract common.Address
}

// NewEventReader builds an EventReader for contract.
func NewEventReader(source LogSource, decoder *paywall.Decoder, contract common.Address) *EventReader {
	return &EventReader{source: source, decoder: decoder, contract: contract}
}

// CurrentHeight returns the latest block number.
func (r *EventReader) CurrentHeight(ctx context.Context) (uint64, error) {
	return r.source.LatestBlockNumber(ctx)
}

// BlockTimestamp returns the wall-clock time of a block.
func (r *EventReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	ts, err := r.source.BlockTimestamp(ctx, blockNumber)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

// QueryEvents returns the events of one kind in [fromBlock, toBlock], ordered by (block, log index).
func (r *EventReader) QueryEvents(ctx context.Context, kind model.EventKind, fromBlock, toBlock uint64) ([]model.Event, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("to block must be >= from block")
	}
	topic0, err := r.decoder.Topic0(kind)
	if err != nil {
		return nil, err
	}

	logs, err := r.source.FilterLogs(ctx, fromBlock, toBlock, r.contract, topic0)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", kind, err)
	}

	events := make([]model.Event, 0, len(logs))
	for _, log := range logs {
		if log.Address != r.contract {
			continue
		}
		event, err := r.decoder.Decode(kind, log)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
	return events, nil
}
