package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/storage"
)

// EventSource is the chain boundary of the engine.
type EventSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, kind model.EventKind, fromBlock, toBlock uint64) ([]model.Event, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
}

// Order selects how events of different kinds are interleaved within a range.
type Order string

const (
	// OrderKind applies all events of one kind before the next, in priority order.
	OrderKind Order = "kind"
	// OrderGlobal applies events in (block, log index) order across kinds.
	OrderGlobal Order = "global"
)

// ParseOrder validates an order name; empty means OrderKind.
func ParseOrder(value string) (Order, error) {
	switch Order(value) {
	case "", OrderKind:
		return OrderKind, nil
	case OrderGlobal:
		return OrderGlobal, nil
	default:
		return "", fmt.Errorf("unknown order %q", value)
	}
}

// Processor applies block ranges and advances the watermark.
type Processor struct {
	source EventSource
	store  storage.Store
	audit  storage.AuditSink
	order  Order
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	watermark model.Watermark

	processed atomic.Uint64
}

// NewProcessor builds a Processor for an already resolved watermark.
func NewProcessor(source EventSource, store storage.Store, wm model.Watermark, order Order, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if order == "" {
		order = OrderKind
	}
	return &Processor{
		source:    source,
		store:     store,
		order:     order,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		watermark: wm,
	}
}

// SetAuditSink registers a sink that receives every committed ledger record.
func (p *Processor) SetAuditSink(sink storage.AuditSink) {
	p.audit = sink
}

// Watermark returns a copy of the current watermark.
func (p *Processor) Watermark() model.Watermark {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

// Processed returns the number of events applied since the processor was created.
func (p *Processor) Processed() uint64 {
	return p.processed.Load()
}

// Process applies every event in [fromBlock, toBlock] and then advances the
// watermark to toBlock. Any error leaves the watermark untouched. A range that
// ends at or below the watermark is a replay: already recorded events are
// skipped and the watermark is not moved.
func (p *Processor) Process(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	if toBlock < fromBlock {
		return 0, fmt.Errorf("to block must be >= from block")
	}

	started := time.Now()
	applied, err := p.process(ctx, fromBlock, toBlock)
	status := "ok"
	if err != nil {
		status = "error"
	}
	rangeDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return applied, err
}

func (p *Processor) process(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	events, err := p.fetch(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, err
	}

	blockTimes := make(map[uint64]time.Time)
	var committed []model.ProcessedEvent
	defer func() { p.writeAudit(committed) }()

	applied := 0
	for _, event := range events {
		record, ok, err := p.apply(ctx, event, blockTimes)
		if err != nil {
			return applied, err
		}
		if ok {
			committed = append(committed, record)
			applied++
		}
	}

	wm := p.Watermark()
	if toBlock <= wm.LastProcessedBlock {
		p.logger.Info("range replayed below watermark",
			zap.Uint64("from", fromBlock),
			zap.Uint64("to", toBlock),
			zap.Int("applied", applied),
			zap.Uint64("watermark", wm.LastProcessedBlock),
		)
		return applied, nil
	}
	if err := p.store.Advance(ctx, &wm, toBlock); err != nil {
		return applied, fmt.Errorf("advance watermark to %d: %w", toBlock, err)
	}
	p.mu.Lock()
	p.watermark = wm
	p.mu.Unlock()
	lastProcessedBlock.Set(float64(wm.LastProcessedBlock))

	p.logger.Info("range processed",
		zap.Uint64("from", fromBlock),
		zap.Uint64("to", toBlock),
		zap.Int("events", len(events)),
		zap.Int("applied", applied),
		zap.Uint64("watermark", wm.LastProcessedBlock),
	)
	return applied, nil
}

// fetch queries every kind concurrently and returns the events in apply order.
func (p *Processor) fetch(ctx context.Context, fromBlock, toBlock uint64) ([]model.Event, error) {
	results := make([][]model.Event, len(model.EventKinds))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, kind := range model.EventKinds {
		i, kind := i, kind
		group.Go(func() error {
			events, err := p.source.QueryEvents(groupCtx, kind, fromBlock, toBlock)
			if err != nil {
				return fmt.Errorf("query %s [%d,%d]: %w", kind, fromBlock, toBlock, err)
			}
			results[i] = events
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var events []model.Event
	for _, batch := range results {
		events = append(events, batch...)
	}
	if p.order == OrderGlobal {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Before(events[j])
		})
	}
	return events, nil
}

// apply materializes one event together with its ledger record. It reports
// false when the event had already been applied.
func (p *Processor) apply(ctx context.Context, event model.Event, blockTimes map[uint64]time.Time) (model.ProcessedEvent, bool, error) {
	key := event.Key()
	logger := p.logger.With(
		zap.String("kind", string(event.Kind)),
		zap.String("tx_hash", key.TxHash),
		zap.Uint64("log_index", key.LogIndex),
		zap.Uint64("block_number", event.Meta.BlockNumber),
	)

	done, err := p.store.IsProcessed(ctx, key)
	if err != nil {
		return model.ProcessedEvent{}, false, fmt.Errorf("check ledger %s: %w", key, err)
	}
	if done {
		eventsTotal.WithLabelValues(string(event.Kind), "skipped").Inc()
		logger.Debug("event already processed")
		return model.ProcessedEvent{}, false, nil
	}

	blockTime, ok := blockTimes[event.Meta.BlockNumber]
	if !ok {
		blockTime, err = p.source.BlockTimestamp(ctx, event.Meta.BlockNumber)
		if err != nil {
			return model.ProcessedEvent{}, false, fmt.Errorf("block %d timestamp: %w", event.Meta.BlockNumber, err)
		}
		blockTimes[event.Meta.BlockNumber] = blockTime
	}

	writes, err := Materialize(event, blockTime)
	if err != nil {
		return model.ProcessedEvent{}, false, err
	}
	record, err := LedgerRecord(event, p.now())
	if err != nil {
		return model.ProcessedEvent{}, false, err
	}

	err = p.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.Apply(ctx, writes); err != nil {
			return fmt.Errorf("apply %s: %w", key, err)
		}
		return tx.RecordProcessed(ctx, record)
	})
	if errors.Is(err, storage.ErrAlreadyProcessed) {
		eventsTotal.WithLabelValues(string(event.Kind), "skipped").Inc()
		logger.Debug("event recorded concurrently")
		return model.ProcessedEvent{}, false, nil
	}
	if err != nil {
		eventsTotal.WithLabelValues(string(event.Kind), "error").Inc()
		return model.ProcessedEvent{}, false, fmt.Errorf("materialize %s: %w", key, err)
	}

	p.processed.Add(1)
	eventsTotal.WithLabelValues(string(event.Kind), "applied").Inc()
	if amount, ok := eventAmount(event); ok {
		logger = logger.With(zap.String("amount_eth", formatEther(amount)))
	}
	logger.Info("event applied")
	return record, true, nil
}

// writeAudit hands the records committed by one range to the audit sink in a single batch.
func (p *Processor) writeAudit(records []model.ProcessedEvent) {
	if p.audit == nil || len(records) == 0 {
		return
	}
	if err := p.audit.PutEventBatch(records); err != nil {
		p.logger.Warn("audit write failed", zap.Int("records", len(records)), zap.Error(err))
	}
}
