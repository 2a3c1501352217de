package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paywallIndexer/internal/model"
)

// ErrorReporter forwards operational failures to an external tracker.
type ErrorReporter interface {
	Report(err error, tags map[string]string)
}

type nopReporter struct{}

func (nopReporter) Report(error, map[string]string) {}

// SafeBlock returns the newest block outside the confirmation window. It
// reports false while the chain is not taller than the window.
func SafeBlock(height, confirmations uint64) (uint64, bool) {
	if height < confirmations {
		return 0, false
	}
	return height - confirmations, true
}

// BackfillConfig controls the historical catch-up walk.
type BackfillConfig struct {
	Confirmations  uint64
	LookbackBlocks uint64
	ChunkSize      uint64
}

// Backfiller walks from the watermark to the safe block in fixed-size chunks.
type Backfiller struct {
	cfg       BackfillConfig
	source    EventSource
	processor *Processor
	reporter  ErrorReporter
	logger    *zap.Logger
}

// NewBackfiller builds a Backfiller.
func NewBackfiller(cfg BackfillConfig, source EventSource, processor *Processor, reporter ErrorReporter, logger *zap.Logger) *Backfiller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Backfiller{cfg: cfg, source: source, processor: processor, reporter: reporter, logger: logger}
}

// Run processes chunks sequentially and stops at the first failing chunk.
// Chunks committed before the failure keep their watermark advance.
func (b *Backfiller) Run(ctx context.Context) error {
	if b.cfg.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be greater than zero")
	}

	height, err := b.source.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("get current height: %w", err)
	}
	chainHeight.Set(float64(height))

	safe, ok := SafeBlock(height, b.cfg.Confirmations)
	if !ok || safe == 0 {
		b.logger.Info("chain below confirmation depth", zap.Uint64("height", height))
		return nil
	}

	from := b.startBlock(height)
	if from > safe {
		b.logger.Info("backfill up to date", zap.Uint64("from", from), zap.Uint64("safe_block", safe))
		return nil
	}

	ranges, err := SplitRange(from, safe, b.cfg.ChunkSize)
	if err != nil {
		return err
	}

	b.logger.Info("backfill start",
		zap.Uint64("from", from),
		zap.Uint64("to", safe),
		zap.Int("chunks", len(ranges)),
	)

	total := 0
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b.logger.Debug("backfill chunk",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Uint64("blocks", blockRange.Blocks()),
		)
		applied, err := b.processor.Process(ctx, blockRange.From, blockRange.To)
		total += applied
		if err != nil {
			err = fmt.Errorf("backfill chunk [%d,%d]: %w", blockRange.From, blockRange.To, err)
			b.reporter.Report(err, map[string]string{"stage": "backfill"})
			return err
		}
	}

	b.logger.Info("backfill complete", zap.Int("applied", total), zap.Uint64("watermark", b.processor.Watermark().LastProcessedBlock))
	return nil
}

// startBlock resolves the first block of the walk.
func (b *Backfiller) startBlock(height uint64) uint64 {
	return resumeBlock(b.processor.Watermark(), height, b.cfg.LookbackBlocks)
}

// resumeBlock is the first unprocessed block. A watermark that never
// advanced and has no configured start falls back to the lookback window.
func resumeBlock(wm model.Watermark, height, lookback uint64) uint64 {
	if wm.NeverAdvanced() {
		if height > lookback {
			return height - lookback
		}
		return 0
	}
	return wm.LastProcessedBlock + 1
}
