package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paywallIndexer/internal/model"
)

const (
	testContract = "0x1111111111111111111111111111111111111111"
	testNetwork  = "sepolia"
	subscriberA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	subscriberB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	payeeC       = "0xcccccccccccccccccccccccccccccccccccccccc"
)

type queryCall struct {
	kind model.EventKind
	from uint64
	to   uint64
}

// fakeChain is a scripted chain that serves a fixed set of decoded events.
type fakeChain struct {
	mu     sync.Mutex
	height uint64
	events []model.Event

	heightErr     error
	failQuery     func(kind model.EventKind, from, to uint64) error
	failTimestamp func(block uint64) error
	gate          chan struct{}

	queries []queryCall
}

func newFakeChain(height uint64, events ...model.Event) *fakeChain {
	return &fakeChain{height: height, events: events}
}

func (f *fakeChain) CurrentHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeChain) QueryEvents(_ context.Context, kind model.EventKind, from, to uint64) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, queryCall{kind: kind, from: from, to: to})
	if f.failQuery != nil {
		if err := f.failQuery(kind, from, to); err != nil {
			return nil, err
		}
	}

	var out []model.Event
	for _, event := range f.events {
		if event.Kind != kind {
			continue
		}
		if event.Meta.BlockNumber < from || event.Meta.BlockNumber > to {
			continue
		}
		out = append(out, event)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, block uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimestamp != nil {
		if err := f.failTimestamp(block); err != nil {
			return time.Time{}, err
		}
	}
	return blockTime(block), nil
}

func (f *fakeChain) setHeight(height uint64) {
	f.mu.Lock()
	f.height = height
	f.mu.Unlock()
}

func (f *fakeChain) ranges() []BlockRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[BlockRange]bool)
	var out []BlockRange
	for _, q := range f.queries {
		r := BlockRange{From: q.from, To: q.to}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func blockTime(block uint64) time.Time {
	return time.Unix(1700000000+int64(block)*12, 0).UTC()
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func subscriptionStarted(block, logIndex uint64, tx, subscriber string, amount int64) model.Event {
	return model.Event{
		Kind: model.KindSubscriptionStarted,
		Meta: model.EventMeta{TxHash: tx, LogIndex: logIndex, BlockNumber: block},
		Payload: model.SubscriptionStartedData{
			Subscriber: subscriber,
			Expiry:     decimal.NewFromInt(blockTime(block).Unix() + 30*24*3600),
			Amount:     decimal.NewFromInt(amount),
		},
	}
}

func paymentReleased(block, logIndex uint64, tx, to string, amount int64) model.Event {
	return model.Event{
		Kind:    model.KindPaymentReleased,
		Meta:    model.EventMeta{TxHash: tx, LogIndex: logIndex, BlockNumber: block},
		Payload: model.PaymentReleasedData{To: to, Amount: decimal.NewFromInt(amount)},
	}
}

func priceUpdated(block, logIndex uint64, tx string, oldPrice, newPrice int64) model.Event {
	return model.Event{
		Kind:    model.KindPriceUpdated,
		Meta:    model.EventMeta{TxHash: tx, LogIndex: logIndex, BlockNumber: block},
		Payload: model.PriceUpdatedData{OldPrice: decimal.NewFromInt(oldPrice), NewPrice: decimal.NewFromInt(newPrice)},
	}
}

func durationUpdated(block, logIndex uint64, tx string, oldDuration, newDuration int64) model.Event {
	return model.Event{
		Kind:    model.KindDurationUpdated,
		Meta:    model.EventMeta{TxHash: tx, LogIndex: logIndex, BlockNumber: block},
		Payload: model.DurationUpdatedData{OldDuration: decimal.NewFromInt(oldDuration), NewDuration: decimal.NewFromInt(newDuration)},
	}
}

// recordingSink captures audit records in commit order.
type recordingSink struct {
	mu      sync.Mutex
	records []model.ProcessedEvent
	batches int
}

func (s *recordingSink) PutEventBatch(records []model.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingSink) keys() []model.EventKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventKey, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.Key())
	}
	return out
}

// sampleEvents spans blocks 5..28 with every kind represented.
func sampleEvents() []model.Event {
	return []model.Event{
		priceUpdated(5, 0, txHash(1), 100, 200),
		subscriptionStarted(7, 1, txHash(2), subscriberA, 200),
		paymentReleased(9, 0, txHash(3), payeeC, 150),
		subscriptionStarted(12, 3, txHash(4), subscriberB, 200),
		durationUpdated(12, 4, txHash(4), 2592000, 5184000),
		subscriptionStarted(19, 0, txHash(5), subscriberA, 200),
		paymentReleased(23, 1, txHash(6), payeeC, 250),
		priceUpdated(28, 2, txHash(7), 200, 300),
	}
}
