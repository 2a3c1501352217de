//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/shopspring/decimal"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/storage"
)

var testStore *Store

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("connect to docker: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("ping docker: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_USER=indexer",
			"POSTGRES_PASSWORD=indexer",
			"POSTGRES_DB=indexer",
		},
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	dsn := fmt.Sprintf("postgres://indexer:indexer@%s/indexer?sslmode=disable", resource.GetHostPort("5432/tcp"))
	err = pool.Retry(func() error {
		store, err := NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return err
		}
		testStore = store
		return nil
	})
	if err == nil {
		err = testStore.EnsureSchema(ctx)
	}
	if err != nil {
		_ = pool.Purge(resource)
		log.Fatalf("prepare postgres: %v", err)
	}

	code := m.Run()

	testStore.Close()
	if err := pool.Purge(resource); err != nil {
		log.Printf("purge postgres: %v", err)
	}
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testStore.pool.Exec(context.Background(),
		`TRUNCATE contracts, processed_events, payments, subscriptions, payouts, config_changes, wallets`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func testRecord(tx string, logIndex uint64) model.ProcessedEvent {
	return model.ProcessedEvent{
		TxHash:      tx,
		LogIndex:    logIndex,
		BlockNumber: 105,
		EventName:   string(model.KindSubscriptionStarted),
		EventData:   json.RawMessage(`{"subscriber":"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","amount":"1000"}`),
		ProcessedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testWrites(tx string, logIndex uint64) model.Writes {
	wallet := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.Writes{
		Wallets: []string{wallet},
		Payments: []model.Payment{{
			WalletAddress: wallet,
			Amount:        decimal.RequireFromString("1000000000000000000"),
			TxHash:        tx,
			BlockNumber:   105,
			LogIndex:      logIndex,
			Timestamp:     at,
		}},
		Subscriptions: []model.Subscription{{
			WalletAddress:   wallet,
			ExpiryTimestamp: "1706745600",
			ActivatedAt:     at,
			AmountPaid:      decimal.RequireFromString("1000000000000000000"),
			TxHash:          tx,
			BlockNumber:     105,
			LogIndex:        logIndex,
		}},
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	start := uint64(100)

	first, err := testStore.GetOrCreate(ctx, "0x1111111111111111111111111111111111111111", "sepolia", &start)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.LastProcessedBlock != 100 || first.StartBlock == nil || *first.StartBlock != 100 {
		t.Fatalf("unexpected watermark: %+v", first)
	}

	other := uint64(5)
	second, err := testStore.GetOrCreate(ctx, "0x1111111111111111111111111111111111111111", "sepolia", &other)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.ID != first.ID || second.LastProcessedBlock != 100 {
		t.Fatalf("expected the existing row, got %+v", second)
	}

	fresh, err := testStore.GetOrCreate(ctx, "0x1111111111111111111111111111111111111111", "mainnet", nil)
	if err != nil {
		t.Fatalf("create unset: %v", err)
	}
	if !fresh.NeverAdvanced() {
		t.Fatalf("expected a never-advanced watermark, got %+v", fresh)
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	wm, err := testStore.GetOrCreate(ctx, "0x1111111111111111111111111111111111111111", "sepolia", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := testStore.Advance(ctx, &wm, 120); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if wm.LastProcessedBlock != 120 {
		t.Fatalf("expected 120, got %d", wm.LastProcessedBlock)
	}

	for _, block := range []uint64{120, 119} {
		if err := testStore.Advance(ctx, &wm, block); !errors.Is(err, storage.ErrWatermarkRegression) {
			t.Fatalf("advance to %d: expected regression, got %v", block, err)
		}
	}

	reloaded, err := testStore.GetOrCreate(ctx, "0x1111111111111111111111111111111111111111", "sepolia", nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LastProcessedBlock != 120 {
		t.Fatalf("expected persisted 120, got %d", reloaded.LastProcessedBlock)
	}
}

func TestInTxAppliesWritesWithLedgerEntry(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	tx := "0x00000000000000000000000000000000000000000000000000000000000000ab"

	err := testStore.InTx(ctx, func(stx storage.Tx) error {
		if err := stx.Apply(ctx, testWrites(tx, 2)); err != nil {
			return err
		}
		return stx.RecordProcessed(ctx, testRecord(tx, 2))
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	done, err := testStore.IsProcessed(ctx, model.EventKey{TxHash: tx, LogIndex: 2})
	if err != nil || !done {
		t.Fatalf("expected ledger entry, got %v %v", done, err)
	}

	var linked int
	row := testStore.pool.QueryRow(ctx, `
		SELECT count(*) FROM payments p JOIN wallets w ON w.id = p.wallet_id
		WHERE w.address = $1 AND p.amount = 1000000000000000000
	`, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err := row.Scan(&linked); err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if linked != 1 {
		t.Fatalf("expected 1 payment linked to the wallet, got %d", linked)
	}
}

func TestInTxRollsBackFailedEvent(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	tx := "0x00000000000000000000000000000000000000000000000000000000000000ac"
	boom := errors.New("boom")

	err := testStore.InTx(ctx, func(stx storage.Tx) error {
		if err := stx.Apply(ctx, testWrites(tx, 0)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var rows int
	if err := testStore.pool.QueryRow(ctx, `SELECT count(*) FROM payments`).Scan(&rows); err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected rollback, found %d payments", rows)
	}
}

func TestDuplicateEventReportsAlreadyProcessed(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	tx := "0x00000000000000000000000000000000000000000000000000000000000000ad"

	apply := func(withWrites bool) error {
		return testStore.InTx(ctx, func(stx storage.Tx) error {
			if withWrites {
				if err := stx.Apply(ctx, testWrites(tx, 1)); err != nil {
					return err
				}
			}
			return stx.RecordProcessed(ctx, testRecord(tx, 1))
		})
	}

	if err := apply(true); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := apply(false); !errors.Is(err, storage.ErrAlreadyProcessed) {
		t.Fatalf("duplicate ledger entry: expected ErrAlreadyProcessed, got %v", err)
	}
	if err := apply(true); !errors.Is(err, storage.ErrAlreadyProcessed) {
		t.Fatalf("duplicate domain row: expected ErrAlreadyProcessed, got %v", err)
	}
}
