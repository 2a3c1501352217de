// Package memory is an in-process storage.Store used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"paywallIndexer/internal/model"
	"paywallIndexer/internal/storage"
)

type watermarkKey struct {
	address string
	network string
}

// Store keeps all engine state in memory. Transactions are staged and
// published only on commit.
type Store struct {
	mu sync.Mutex

	watermarks    map[watermarkKey]model.Watermark
	ledger        map[model.EventKey]model.ProcessedEvent
	wallets       map[string]model.Wallet
	payments      []model.Payment
	subscriptions []model.Subscription
	payouts       []model.Payout
	configChanges []model.ConfigChange

	// Failure injection; a non-nil return aborts the operation.
	FailApply   func(writes model.Writes) error
	FailRecord  func(record model.ProcessedEvent) error
	FailAdvance func(toBlock uint64) error

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		watermarks: make(map[watermarkKey]model.Watermark),
		ledger:     make(map[model.EventKey]model.ProcessedEvent),
		wallets:    make(map[string]model.Wallet),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetOrCreate(_ context.Context, address, network string, startBlock *uint64) (model.Watermark, error) {
	if address == "" || network == "" {
		return model.Watermark{}, fmt.Errorf("address and network are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := watermarkKey{address: address, network: network}
	if wm, ok := s.watermarks[key]; ok {
		return wm, nil
	}

	now := s.now()
	wm := model.Watermark{
		ID:        uuid.NewString(),
		Address:   address,
		Network:   network,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if startBlock != nil {
		v := *startBlock
		wm.StartBlock = &v
		wm.LastProcessedBlock = v
	}
	s.watermarks[key] = wm
	return wm, nil
}

func (s *Store) Advance(_ context.Context, wm *model.Watermark, toBlock uint64) error {
	if wm == nil {
		return fmt.Errorf("watermark is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := watermarkKey{address: wm.Address, network: wm.Network}
	stored, ok := s.watermarks[key]
	if !ok {
		return fmt.Errorf("watermark %s/%s not found", wm.Address, wm.Network)
	}
	if toBlock <= stored.LastProcessedBlock {
		return fmt.Errorf("%w: %d is not ahead of %d", storage.ErrWatermarkRegression, toBlock, stored.LastProcessedBlock)
	}
	if s.FailAdvance != nil {
		if err := s.FailAdvance(toBlock); err != nil {
			return err
		}
	}

	stored.LastProcessedBlock = toBlock
	stored.UpdatedAt = s.now()
	s.watermarks[key] = stored
	*wm = stored
	return nil
}

func (s *Store) IsProcessed(_ context.Context, key model.EventKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[key]
	return ok, nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx := &memTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range tx.records {
		if _, ok := s.ledger[record.Key()]; ok {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyProcessed, record.Key())
		}
	}

	now := s.now()
	for _, writes := range tx.writes {
		for _, address := range writes.Wallets {
			wallet, ok := s.wallets[address]
			if !ok {
				wallet = model.Wallet{ID: uuid.NewString(), Address: address, CreatedAt: now}
			}
			wallet.UpdatedAt = now
			s.wallets[address] = wallet
		}
		for _, p := range writes.Payments {
			p.ID = uuid.NewString()
			s.payments = append(s.payments, p)
		}
		for _, sub := range writes.Subscriptions {
			sub.ID = uuid.NewString()
			s.subscriptions = append(s.subscriptions, sub)
		}
		for _, p := range writes.Payouts {
			p.ID = uuid.NewString()
			s.payouts = append(s.payouts, p)
		}
		for _, c := range writes.ConfigChanges {
			c.ID = uuid.NewString()
			s.configChanges = append(s.configChanges, c)
		}
	}
	for _, record := range tx.records {
		s.ledger[record.Key()] = record
	}
	return nil
}

type memTx struct {
	store   *Store
	writes  []model.Writes
	records []model.ProcessedEvent
}

func (t *memTx) Apply(_ context.Context, writes model.Writes) error {
	if t.store.FailApply != nil {
		if err := t.store.FailApply(writes); err != nil {
			return err
		}
	}
	t.writes = append(t.writes, writes)
	return nil
}

func (t *memTx) RecordProcessed(_ context.Context, record model.ProcessedEvent) error {
	if t.store.FailRecord != nil {
		if err := t.store.FailRecord(record); err != nil {
			return err
		}
	}
	t.store.mu.Lock()
	_, exists := t.store.ledger[record.Key()]
	t.store.mu.Unlock()
	if exists {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyProcessed, record.Key())
	}
	t.records = append(t.records, record)
	return nil
}

// Watermark returns the stored watermark for (address, network).
func (s *Store) Watermark(address, network string) (model.Watermark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[watermarkKey{address: address, network: network}]
	return wm, ok
}

// Snapshot is the identity-free domain state, comparable across runs.
type Snapshot struct {
	Wallets       []string
	Ledger        []model.EventKey
	Payments      []model.Payment
	Subscriptions []model.Subscription
	Payouts       []model.Payout
	ConfigChanges []model.ConfigChange
}

// Snapshot returns the current domain state with generated ids cleared and
// every collection sorted by (block, log index).
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{}
	for address := range s.wallets {
		snap.Wallets = append(snap.Wallets, address)
	}
	sort.Strings(snap.Wallets)

	for key := range s.ledger {
		snap.Ledger = append(snap.Ledger, key)
	}
	sort.Slice(snap.Ledger, func(i, j int) bool {
		if snap.Ledger[i].TxHash != snap.Ledger[j].TxHash {
			return snap.Ledger[i].TxHash < snap.Ledger[j].TxHash
		}
		return snap.Ledger[i].LogIndex < snap.Ledger[j].LogIndex
	})

	for _, p := range s.payments {
		p.ID = ""
		snap.Payments = append(snap.Payments, p)
	}
	sort.Slice(snap.Payments, func(i, j int) bool {
		return locBefore(snap.Payments[i].BlockNumber, snap.Payments[i].LogIndex, snap.Payments[j].BlockNumber, snap.Payments[j].LogIndex)
	})
	for _, sub := range s.subscriptions {
		sub.ID = ""
		snap.Subscriptions = append(snap.Subscriptions, sub)
	}
	sort.Slice(snap.Subscriptions, func(i, j int) bool {
		return locBefore(snap.Subscriptions[i].BlockNumber, snap.Subscriptions[i].LogIndex, snap.Subscriptions[j].BlockNumber, snap.Subscriptions[j].LogIndex)
	})
	for _, p := range s.payouts {
		p.ID = ""
		snap.Payouts = append(snap.Payouts, p)
	}
	sort.Slice(snap.Payouts, func(i, j int) bool {
		return locBefore(snap.Payouts[i].BlockNumber, snap.Payouts[i].LogIndex, snap.Payouts[j].BlockNumber, snap.Payouts[j].LogIndex)
	})
	for _, c := range s.configChanges {
		c.ID = ""
		snap.ConfigChanges = append(snap.ConfigChanges, c)
	}
	sort.Slice(snap.ConfigChanges, func(i, j int) bool {
		return locBefore(snap.ConfigChanges[i].BlockNumber, snap.ConfigChanges[i].LogIndex, snap.ConfigChanges[j].BlockNumber, snap.ConfigChanges[j].LogIndex)
	})
	return snap
}

// ProcessedEvents returns the ledger records for inspection.
func (s *Store) ProcessedEvents() []model.ProcessedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProcessedEvent, 0, len(s.ledger))
	for _, record := range s.ledger {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return locBefore(out[i].BlockNumber, out[i].LogIndex, out[j].BlockNumber, out[j].LogIndex)
	})
	return out
}

func locBefore(blockA, logA, blockB, logB uint64) bool {
	if blockA != blockB {
		return blockA < blockB
	}
	return logA < logB
}
