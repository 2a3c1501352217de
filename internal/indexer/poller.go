package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrBusy is returned by Tick while another tick holds the slot.
var ErrBusy = errors.New("poll tick already in flight")

// slot admits at most one holder at a time.
type slot chan struct{}

func newSlot() slot {
	return make(slot, 1)
}

func (s slot) TryAcquire() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s slot) Release() {
	select {
	case <-s:
	default:
	}
}

// PollConfig controls the poll loop.
type PollConfig struct {
	Interval       time.Duration
	Confirmations  uint64
	LookbackBlocks uint64
	ChunkSize      uint64
}

// Poller periodically processes the blocks between the watermark and the safe block.
type Poller struct {
	cfg       PollConfig
	source    EventSource
	processor *Processor
	reporter  ErrorReporter
	logger    *zap.Logger

	inflight slot
	running  atomic.Bool
	after    func(time.Duration) <-chan time.Time
}

// NewPoller builds a Poller.
func NewPoller(cfg PollConfig, source EventSource, processor *Processor, reporter ErrorReporter, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Poller{
		cfg:       cfg,
		source:    source,
		processor: processor,
		reporter:  reporter,
		logger:    logger,
		inflight:  newSlot(),
		after:     time.After,
	}
}

// Running reports whether Run is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Interval returns the poll cadence.
func (p *Poller) Interval() time.Duration {
	return p.cfg.Interval
}

// Tick processes one poll interval. It returns ErrBusy without doing
// anything if another tick is still in flight.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.inflight.TryAcquire() {
		pollTicksTotal.WithLabelValues("busy").Inc()
		return ErrBusy
	}
	defer p.inflight.Release()

	status, err := p.tick(ctx)
	pollTicksTotal.WithLabelValues(status).Inc()
	return err
}

// tick walks the gap in chunks, so a tick after a failed backfill resumes
// the same lookback window and chunk size. The first failing chunk ends the tick.
func (p *Poller) tick(ctx context.Context) (string, error) {
	height, err := p.source.CurrentHeight(ctx)
	if err != nil {
		return "error", fmt.Errorf("get current height: %w", err)
	}
	chainHeight.Set(float64(height))

	safe, ok := SafeBlock(height, p.cfg.Confirmations)
	if !ok || safe == 0 {
		return "idle", nil
	}
	from := resumeBlock(p.processor.Watermark(), height, p.cfg.LookbackBlocks)
	if from > safe {
		return "idle", nil
	}

	chunkSize := p.cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = safe - from + 1
	}
	ranges, err := SplitRange(from, safe, chunkSize)
	if err != nil {
		return "error", err
	}

	applied := 0
	for _, blockRange := range ranges {
		n, err := p.processor.Process(ctx, blockRange.From, blockRange.To)
		applied += n
		if err != nil {
			return "error", fmt.Errorf("poll [%d,%d]: %w", blockRange.From, blockRange.To, err)
		}
	}
	if applied > 0 {
		p.logger.Info("poll applied events",
			zap.Uint64("from", from),
			zap.Uint64("to", safe),
			zap.Int("chunks", len(ranges)),
			zap.Int("applied", applied),
		)
	}
	return "ok", nil
}

// Run ticks until ctx is cancelled. The next tick is scheduled only after
// the previous one has returned.
func (p *Poller) Run(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	p.logger.Info("polling start", zap.Duration("interval", p.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stop")
			return
		case <-p.after(p.cfg.Interval):
		}

		if err := p.Tick(ctx); err != nil {
			if errors.Is(err, ErrBusy) {
				p.logger.Debug("poll tick skipped")
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("poll tick failed", zap.Error(err))
			p.reporter.Report(err, map[string]string{"stage": "poll"})
		}
	}
}
