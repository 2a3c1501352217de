package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paywallIndexer/internal/chain"
	"paywallIndexer/internal/config"
	"paywallIndexer/internal/indexer"
	"paywallIndexer/internal/paywall"
	"paywallIndexer/internal/storage"
	"paywallIndexer/internal/storage/memory"
	"paywallIndexer/internal/storage/postgres"
)

// deps holds the connections an engine runs on.
type deps struct {
	contract string
	order    indexer.Order
	reader   *chain.EventReader
	store    storage.Store
	audit    storage.AuditSink
	closers  []func()
}

func openDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	address, normalized, err := indexer.ParseContract(cfg.Contract)
	if err != nil {
		return nil, err
	}
	order, err := indexer.ParseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}

	d := &deps{contract: normalized, order: order}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	d.closers = append(d.closers, client.Close)

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		logger.Warn("chain id unavailable", zap.Error(err))
	} else {
		logger.Info("rpc connected", zap.String("chain_id", chainID.String()), zap.String("network", cfg.Network))
	}

	decoder, err := paywall.NewDecoder()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.reader = chain.NewEventReader(client, decoder, address)

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store; state is lost on exit")
		d.store = memory.NewStore()
	default:
		store, err := openPostgres(ctx, cfg.PGDSN)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, store.Close)
		d.store = store
	}

	if cfg.AuditOut != "" {
		sink := storage.NewJsonlAuditSink(cfg.AuditOut)
		d.closers = append(d.closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("close audit file", zap.Error(err))
			}
		})
		d.audit = sink
	}
	return d, nil
}

func (d *deps) engine(cfg config.Config, logger *zap.Logger, opts ...indexer.EngineOption) *indexer.Engine {
	if d.audit != nil {
		opts = append(opts, indexer.WithAuditSink(d.audit))
	}
	return indexer.NewEngine(engineConfig(cfg, d.contract, d.order), d.reader, d.store, logger, opts...)
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func engineConfig(cfg config.Config, contract string, order indexer.Order) indexer.EngineConfig {
	if contract == "" {
		contract = cfg.Contract
	}
	return indexer.EngineConfig{
		Contract:       contract,
		Network:        cfg.Network,
		StartBlock:     cfg.StartBlock,
		Confirmations:  cfg.Confirmations,
		LookbackBlocks: cfg.LookbackBlocks,
		ChunkSize:      cfg.ChunkSize,
		PollInterval:   cfg.PollInterval,
		Order:          order,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}
}

func openPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}
