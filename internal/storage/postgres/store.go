package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Store provides Postgres persistence for the ingestion engine.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// GetOrCreate returns the watermark row for (address, network), creating it on first use.
func (s *Store) GetOrCreate(ctx context.Context, address, network string, startBlock *uint64) (model.Watermark, error) {
	if address == "" || network == "" {
		return model.Watermark{}, fmt.Errorf("address and network are required")
	}

	var start *int64
	initial := int64(0)
	if startBlock != nil {
		v := int64(*startBlock)
		start = &v
		initial = v
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contracts (id, address, network, start_block, last_processed_block, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		ON CONFLICT (address, network) DO NOTHING
	`, uuid.NewString(), address, network, start, initial)
	if err != nil {
		return model.Watermark{}, fmt.Errorf("insert contract: %w", err)
	}

	var (
		wm        model.Watermark
		rowStart  *int64
		processed int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, address, network, start_block, last_processed_block, active, created_at, updated_at
		FROM contracts WHERE address=$1 AND network=$2
	`, address, network)
	if err := row.Scan(&wm.ID, &wm.Address, &wm.Network, &rowStart, &processed, &wm.Active, &wm.CreatedAt, &wm.UpdatedAt); err != nil {
		return model.Watermark{}, fmt.Errorf("load contract: %w", err)
	}
	if rowStart != nil {
		v := uint64(*rowStart)
		wm.StartBlock = &v
	}
	wm.LastProcessedBlock = uint64(processed)
	return wm, nil
}

// Advance moves the watermark forward; it never moves it backwards.
func (s *Store) Advance(ctx context.Context, wm *model.Watermark, toBlock uint64) error {
	if wm == nil || wm.ID == "" {
		return fmt.Errorf("watermark is not persisted")
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE contracts SET last_processed_block=$1, updated_at=now()
		WHERE id=$2 AND last_processed_block < $1
		RETURNING updated_at
	`, int64(toBlock), wm.ID)
	if err := row.Scan(&wm.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d is not ahead of %d", storage.ErrWatermarkRegression, toBlock, wm.LastProcessedBlock)
		}
		return fmt.Errorf("advance watermark: %w", err)
	}
	wm.LastProcessedBlock = toBlock
	return nil
}

// IsProcessed reports whether the ledger holds key.
func (s *Store) IsProcessed(ctx context.Context, key model.EventKey) (bool, error) {
	var exists bool
	row := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE tx_hash=$1 AND log_index=$2)`,
		key.TxHash, int64(key.LogIndex))
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// InTx runs fn inside a database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// Apply writes derived domain facts.
func (t *pgTx) Apply(ctx context.Context, writes model.Writes) error {
	if writes.Empty() {
		return nil
	}

	batch := &pgx.Batch{}
	for _, address := range writes.Wallets {
		batch.Queue(`
			INSERT INTO wallets (id, address, created_at, updated_at)
			VALUES ($1, $2, now(), now())
			ON CONFLICT (address) DO UPDATE SET updated_at = now()
		`, uuid.NewString(), address)
	}
	for _, p := range writes.Payments {
		batch.Queue(`
			INSERT INTO payments (id, wallet_id, amount, tx_hash, block_number, log_index, timestamp, created_at)
			VALUES ($1, (SELECT id FROM wallets WHERE address=$2), $3::numeric, $4, $5, $6, $7, now())
		`, uuid.NewString(), p.WalletAddress, p.Amount.String(), p.TxHash, int64(p.BlockNumber), int64(p.LogIndex), p.Timestamp)
	}
	for _, sub := range writes.Subscriptions {
		batch.Queue(`
			INSERT INTO subscriptions (id, wallet_id, expiry_timestamp, activated_at, amount_paid, tx_hash, block_number, log_index, created_at)
			VALUES ($1, (SELECT id FROM wallets WHERE address=$2), $3::bigint, $4, $5::numeric, $6, $7, $8, now())
		`, uuid.NewString(), sub.WalletAddress, sub.ExpiryTimestamp, sub.ActivatedAt, sub.AmountPaid.String(), sub.TxHash, int64(sub.BlockNumber), int64(sub.LogIndex))
	}
	for _, p := range writes.Payouts {
		batch.Queue(`
			INSERT INTO payouts (id, payee_address, amount, tx_hash, block_number, log_index, timestamp, created_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, now())
		`, uuid.NewString(), p.PayeeAddress, p.Amount.String(), p.TxHash, int64(p.BlockNumber), int64(p.LogIndex), p.Timestamp)
	}
	for _, c := range writes.ConfigChanges {
		batch.Queue(`
			INSERT INTO config_changes (id, change_type, old_value, new_value, tx_hash, block_number, log_index, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), string(c.ChangeType), c.OldValue, c.NewValue, c.TxHash, int64(c.BlockNumber), int64(c.LogIndex), c.Timestamp)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("apply writes: %w: %w", storage.ErrAlreadyProcessed, err)
			}
			return fmt.Errorf("apply writes: %w", err)
		}
	}
	return br.Close()
}

// isUniqueViolation reports a (tx_hash, log_index) row already written by a
// concurrent writer that committed first.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// RecordProcessed inserts the ledger row for an event.
func (t *pgTx) RecordProcessed(ctx context.Context, record model.ProcessedEvent) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (id, tx_hash, log_index, block_number, event_name, event_data, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, uuid.NewString(), record.TxHash, int64(record.LogIndex), int64(record.BlockNumber), record.EventName, []byte(record.EventData), record.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s:%d", storage.ErrAlreadyProcessed, record.TxHash, record.LogIndex)
	}
	return nil
}
