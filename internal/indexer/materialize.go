package indexer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"paywallIndexer/internal/model"
)

// Materializer derives the domain writes of one event kind.
type Materializer func(event model.Event, blockTime time.Time) (model.Writes, error)

var materializers = map[model.EventKind]Materializer{
	model.KindSubscriptionStarted: materializeSubscriptionStarted,
	model.KindPaymentReleased:     materializePaymentReleased,
	model.KindPriceUpdated:        materializePriceUpdated,
	model.KindDurationUpdated:     materializeDurationUpdated,
}

// Materialize dispatches event to the materializer of its kind.
func Materialize(event model.Event, blockTime time.Time) (model.Writes, error) {
	fn, ok := materializers[event.Kind]
	if !ok {
		return model.Writes{}, fmt.Errorf("no materializer for %s", event.Kind)
	}
	if event.Payload == nil || event.Payload.Kind() != event.Kind {
		return model.Writes{}, fmt.Errorf("%s payload mismatch at %s", event.Kind, event.Key())
	}
	return fn(event, blockTime)
}

func materializeSubscriptionStarted(event model.Event, blockTime time.Time) (model.Writes, error) {
	data, ok := event.Payload.(model.SubscriptionStartedData)
	if !ok {
		return model.Writes{}, fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return model.Writes{
		Wallets: []string{data.Subscriber},
		Payments: []model.Payment{{
			WalletAddress: data.Subscriber,
			Amount:        data.Amount,
			TxHash:        event.Meta.TxHash,
			BlockNumber:   event.Meta.BlockNumber,
			LogIndex:      event.Meta.LogIndex,
			Timestamp:     blockTime,
		}},
		Subscriptions: []model.Subscription{{
			WalletAddress:   data.Subscriber,
			ExpiryTimestamp: data.Expiry.String(),
			ActivatedAt:     blockTime,
			AmountPaid:      data.Amount,
			TxHash:          event.Meta.TxHash,
			BlockNumber:     event.Meta.BlockNumber,
			LogIndex:        event.Meta.LogIndex,
		}},
	}, nil
}

func materializePaymentReleased(event model.Event, blockTime time.Time) (model.Writes, error) {
	data, ok := event.Payload.(model.PaymentReleasedData)
	if !ok {
		return model.Writes{}, fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return model.Writes{
		Payouts: []model.Payout{{
			PayeeAddress: data.To,
			Amount:       data.Amount,
			TxHash:       event.Meta.TxHash,
			BlockNumber:  event.Meta.BlockNumber,
			LogIndex:     event.Meta.LogIndex,
			Timestamp:    blockTime,
		}},
	}, nil
}

func materializePriceUpdated(event model.Event, blockTime time.Time) (model.Writes, error) {
	data, ok := event.Payload.(model.PriceUpdatedData)
	if !ok {
		return model.Writes{}, fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return configChange(event, model.ConfigChangePrice, data.OldPrice, data.NewPrice, blockTime), nil
}

func materializeDurationUpdated(event model.Event, blockTime time.Time) (model.Writes, error) {
	data, ok := event.Payload.(model.DurationUpdatedData)
	if !ok {
		return model.Writes{}, fmt.Errorf("unexpected payload %T", event.Payload)
	}
	return configChange(event, model.ConfigChangeDuration, data.OldDuration, data.NewDuration, blockTime), nil
}

func configChange(event model.Event, changeType model.ConfigChangeType, oldValue, newValue decimal.Decimal, blockTime time.Time) model.Writes {
	return model.Writes{
		ConfigChanges: []model.ConfigChange{{
			ChangeType:  changeType,
			OldValue:    oldValue.String(),
			NewValue:    newValue.String(),
			TxHash:      event.Meta.TxHash,
			BlockNumber: event.Meta.BlockNumber,
			LogIndex:    event.Meta.LogIndex,
			Timestamp:   blockTime,
		}},
	}
}

// LedgerRecord builds the processed-event entry for event.
func LedgerRecord(event model.Event, processedAt time.Time) (model.ProcessedEvent, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return model.ProcessedEvent{}, fmt.Errorf("encode %s payload: %w", event.Kind, err)
	}
	return model.ProcessedEvent{
		TxHash:      event.Meta.TxHash,
		LogIndex:    event.Meta.LogIndex,
		BlockNumber: event.Meta.BlockNumber,
		EventName:   string(event.Kind),
		EventData:   payload,
		ProcessedAt: processedAt,
	}, nil
}

// formatEther renders a wei amount in ether for log output.
func formatEther(wei decimal.Decimal) string {
	return wei.Shift(-18).String()
}

func eventAmount(event model.Event) (decimal.Decimal, bool) {
	switch data := event.Payload.(type) {
	case model.SubscriptionStartedData:
		return data.Amount, true
	case model.PaymentReleasedData:
		return data.Amount, true
	default:
		return decimal.Decimal{}, false
	}
}
