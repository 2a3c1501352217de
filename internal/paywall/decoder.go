package paywall

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"paywallIndexer/internal/model"
)

// ErrUnknownKind is returned for event kinds the contract does not emit.
var ErrUnknownKind = errors.New("unknown event kind")

// Decoder turns raw subscription contract logs into typed events.
type Decoder struct {
	contractABI abi.ABI
	topics      map[model.EventKind]common.Hash
}

// NewDecoder builds a Decoder for every kind in model.EventKinds.
func NewDecoder() (*Decoder, error) {
	contractABI, err := SubscriptionABI()
	if err != nil {
		return nil, err
	}

	topics := make(map[model.EventKind]common.Hash, len(model.EventKinds))
	for _, kind := range model.EventKinds {
		event, ok := contractABI.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("abi missing event %s", kind)
		}
		topics[kind] = event.ID
	}

	return &Decoder{contractABI: contractABI, topics: topics}, nil
}

// Topic0 returns the event signature hash of kind.
func (d *Decoder) Topic0(kind model.EventKind) (common.Hash, error) {
	topic, ok := d.topics[kind]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return topic, nil
}

// Decode converts a log of the given kind into a typed event.
func (d *Decoder) Decode(kind model.EventKind, log types.Log) (model.Event, error) {
	topic, err := d.Topic0(kind)
	if err != nil {
		return model.Event{}, err
	}
	if len(log.Topics) == 0 || log.Topics[0] != topic {
		return model.Event{}, fmt.Errorf("log %s:%d is not a %s event", log.TxHash.Hex(), log.Index, kind)
	}
	if log.Removed {
		return model.Event{}, fmt.Errorf("log %s:%d was removed by a reorg", log.TxHash.Hex(), log.Index)
	}

	var payload model.Payload
	switch kind {
	case model.KindSubscriptionStarted:
		payload, err = d.decodeSubscriptionStarted(log)
	case model.KindPaymentReleased:
		payload, err = d.decodePaymentReleased(log)
	case model.KindPriceUpdated:
		payload, err = d.decodePriceUpdated(log)
	case model.KindDurationUpdated:
		payload, err = d.decodeDurationUpdated(log)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("decode %s %s:%d: %w", kind, log.TxHash.Hex(), log.Index, err)
	}

	return model.Event{
		Kind: kind,
		Meta: model.EventMeta{
			TxHash:      strings.ToLower(log.TxHash.Hex()),
			LogIndex:    uint64(log.Index),
			BlockNumber: log.BlockNumber,
			BlockHash:   strings.ToLower(log.BlockHash.Hex()),
		},
		Payload: payload,
	}, nil
}

func (d *Decoder) decodeSubscriptionStarted(log types.Log) (model.SubscriptionStartedData, error) {
	event := d.contractABI.Events[string(model.KindSubscriptionStarted)]

	var indexed struct {
		Subscriber common.Address
	}
	if err := parseIndexed(event, log.Topics, &indexed); err != nil {
		return model.SubscriptionStartedData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return model.SubscriptionStartedData{}, err
	}
	expiry, err := asDecimal(values[0])
	if err != nil {
		return model.SubscriptionStartedData{}, err
	}
	amount, err := asDecimal(values[1])
	if err != nil {
		return model.SubscriptionStartedData{}, err
	}

	return model.SubscriptionStartedData{
		Subscriber: NormalizeAddress(indexed.Subscriber),
		Expiry:     expiry,
		Amount:     amount,
	}, nil
}

func (d *Decoder) decodePaymentReleased(log types.Log) (model.PaymentReleasedData, error) {
	event := d.contractABI.Events[string(model.KindPaymentReleased)]
	if err := parseIndexed(event, log.Topics, nil); err != nil {
		return model.PaymentReleasedData{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return model.PaymentReleasedData{}, err
	}
	to, ok := values[0].(common.Address)
	if !ok {
		return model.PaymentReleasedData{}, fmt.Errorf("unexpected address type %T", values[0])
	}
	amount, err := asDecimal(values[1])
	if err != nil {
		return model.PaymentReleasedData{}, err
	}

	return model.PaymentReleasedData{To: NormalizeAddress(to), Amount: amount}, nil
}

func (d *Decoder) decodePriceUpdated(log types.Log) (model.PriceUpdatedData, error) {
	oldValue, newValue, err := d.decodeChange(model.KindPriceUpdated, log)
	if err != nil {
		return model.PriceUpdatedData{}, err
	}
	return model.PriceUpdatedData{OldPrice: oldValue, NewPrice: newValue}, nil
}

func (d *Decoder) decodeDurationUpdated(log types.Log) (model.DurationUpdatedData, error) {
	oldValue, newValue, err := d.decodeChange(model.KindDurationUpdated, log)
	if err != nil {
		return model.DurationUpdatedData{}, err
	}
	return model.DurationUpdatedData{OldDuration: oldValue, NewDuration: newValue}, nil
}

// decodeChange handles the (old, new) uint256 pair shared by the config events.
func (d *Decoder) decodeChange(kind model.EventKind, log types.Log) (decimal.Decimal, decimal.Decimal, error) {
	event := d.contractABI.Events[string(kind)]
	if err := parseIndexed(event, log.Topics, nil); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	values, err := unpackNonIndexed(event, log.Data, 2)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	oldValue, err := asDecimal(values[0])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	newValue, err := asDecimal(values[1])
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return oldValue, newValue, nil
}

// NormalizeAddress returns the lower-case hex form of an address.
func NormalizeAddress(address common.Address) string {
	return strings.ToLower(address.Hex())
}

func parseIndexed(event abi.Event, topics []common.Hash, out interface{}) error {
	indexed := indexedArguments(event.Inputs)
	if len(topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(topics))
	}
	if out == nil || len(indexed) == 0 {
		return nil
	}
	if err := abi.ParseTopics(out, indexed, topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}
	return values, nil
}

func asDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return decimal.Decimal{}, fmt.Errorf("nil integer")
		}
		return decimal.NewFromBigInt(v, 0), nil
	case big.Int:
		return decimal.NewFromBigInt(&v, 0), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported int type %T", value)
	}
}
