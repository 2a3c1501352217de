package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/storage"
)

var errNotResolved = errors.New("watermark not resolved")

// EngineConfig holds the ingestion settings of one contract.
type EngineConfig struct {
	Contract       string
	Network        string
	StartBlock     *uint64
	Confirmations  uint64
	LookbackBlocks uint64
	ChunkSize      uint64
	PollInterval   time.Duration
	Order          Order
	MaxRetries     int
	RetryBackoff   time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithAuditSink mirrors committed ledger records to sink.
func WithAuditSink(sink storage.AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// WithReporter forwards backfill and poll failures to reporter.
func WithReporter(reporter ErrorReporter) EngineOption {
	return func(e *Engine) { e.reporter = reporter }
}

// WithTimer replaces the poll timer source.
func WithTimer(after func(time.Duration) <-chan time.Time) EngineOption {
	return func(e *Engine) { e.after = after }
}

// Engine drives one contract through Uninitialized -> Backfilling -> Polling.
// An engine built without a source or store stays uninitialized and only
// answers Status.
type Engine struct {
	cfg      EngineConfig
	source   EventSource
	store    storage.Store
	audit    storage.AuditSink
	reporter ErrorReporter
	logger   *zap.Logger
	after    func(time.Duration) <-chan time.Time

	mu        sync.RWMutex
	state     model.EngineState
	processor *Processor
	poller    *Poller
}

// NewEngine builds an Engine; source and store may be nil when unconfigured.
func NewEngine(cfg EngineConfig, source EventSource, store storage.Store, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		source:   source,
		store:    store,
		reporter: nopReporter{},
		logger:   logger,
		state:    model.StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve loads or creates the watermark and wires the processor and poller.
func (e *Engine) Resolve(ctx context.Context) (model.Watermark, error) {
	if e.source == nil || e.store == nil {
		return model.Watermark{}, fmt.Errorf("engine is not configured")
	}

	var wm model.Watermark
	retry := newRetryPolicy(e.cfg.MaxRetries, e.cfg.RetryBackoff, e.logger)
	err := retry.do(ctx, "resolve watermark", func(ctx context.Context) error {
		var err error
		wm, err = e.store.GetOrCreate(ctx, e.cfg.Contract, e.cfg.Network, e.cfg.StartBlock)
		return err
	})
	if err != nil {
		return model.Watermark{}, fmt.Errorf("resolve watermark: %w", err)
	}

	processor := NewProcessor(e.source, e.store, wm, e.cfg.Order, e.logger)
	if e.audit != nil {
		processor.SetAuditSink(e.audit)
	}
	poller := NewPoller(PollConfig{
		Interval:       e.cfg.PollInterval,
		Confirmations:  e.cfg.Confirmations,
		LookbackBlocks: e.cfg.LookbackBlocks,
		ChunkSize:      e.cfg.ChunkSize,
	}, e.source, processor, e.reporter, e.logger)
	if e.after != nil {
		poller.after = e.after
	}

	e.mu.Lock()
	e.processor = processor
	e.poller = poller
	e.mu.Unlock()
	lastProcessedBlock.Set(float64(wm.LastProcessedBlock))

	e.logger.Info("watermark resolved",
		zap.String("contract", wm.Address),
		zap.String("network", wm.Network),
		zap.Uint64("watermark", wm.LastProcessedBlock),
	)
	return wm, nil
}

// Backfill runs the historical catch-up once. Resolve must have succeeded.
func (e *Engine) Backfill(ctx context.Context) error {
	processor := e.Processor()
	if processor == nil {
		return errNotResolved
	}
	e.setState(model.StateBackfilling)

	backfiller := NewBackfiller(BackfillConfig{
		Confirmations:  e.cfg.Confirmations,
		LookbackBlocks: e.cfg.LookbackBlocks,
		ChunkSize:      e.cfg.ChunkSize,
	}, e.source, processor, e.reporter, e.logger)
	return backfiller.Run(ctx)
}

// Start resolves the watermark, backfills, then polls until ctx is done.
// A failed backfill is logged and polling starts anyway; the poll ticks
// resume from the last committed watermark.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.Resolve(ctx); err != nil {
		e.reporter.Report(err, map[string]string{"stage": "init"})
		return err
	}

	if err := e.Backfill(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		e.logger.Error("backfill failed", zap.Error(err))
	}

	e.setState(model.StatePolling)
	e.Poller().Run(ctx)
	return nil
}

// Processor returns the range processor, or nil before Resolve.
func (e *Engine) Processor() *Processor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.processor
}

// Poller returns the poll loop, or nil before Resolve.
func (e *Engine) Poller() *Poller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.poller
}

// State returns the lifecycle state.
func (e *Engine) State() model.EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(state model.EngineState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	e.logger.Info("engine state", zap.String("state", string(state)))
}
