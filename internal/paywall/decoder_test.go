package paywall

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"paywallIndexer/internal/model"
)

var contract = common.HexToAddress("0x9999999999999999999999999999999999999999")

func TestDecoderSubscriptionStarted(t *testing.T) {
	contractABI, err := SubscriptionABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	subscriber := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	amount, _ := new(big.Int).SetString("10000000000000000", 10)

	data, err := contractABI.Events["SubscriptionStarted"].Inputs.NonIndexed().Pack(
		big.NewInt(1735689600),
		amount,
	)
	if err != nil {
		t.Fatalf("pack subscription: %v", err)
	}

	log := buildLog(contractABI.Events["SubscriptionStarted"].ID, data, []common.Hash{topicFromAddress(subscriber)})

	event, err := decoder.Decode(model.KindSubscriptionStarted, log)
	if err != nil {
		t.Fatalf("decode subscription: %v", err)
	}

	sub, ok := event.Payload.(model.SubscriptionStartedData)
	if !ok {
		t.Fatalf("payload type mismatch: %T", event.Payload)
	}
	if sub.Subscriber != strings.ToLower(subscriber.Hex()) {
		t.Fatalf("subscriber should be lower-case: %s", sub.Subscriber)
	}
	if sub.Expiry.String() != "1735689600" || sub.Amount.String() != "10000000000000000" {
		t.Fatalf("values mismatch: %+v", sub)
	}
	if event.Meta.LogIndex != 2 || event.Meta.BlockNumber != 105 {
		t.Fatalf("meta mismatch: %+v", event.Meta)
	}
	if event.Meta.TxHash != strings.ToLower(log.TxHash.Hex()) {
		t.Fatalf("tx hash mismatch: %s", event.Meta.TxHash)
	}
}

func TestDecoderPayoutAndConfigChanges(t *testing.T) {
	contractABI, err := SubscriptionABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	payee := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	releaseData, err := contractABI.Events["PaymentReleased"].Inputs.NonIndexed().Pack(payee, big.NewInt(5000))
	if err != nil {
		t.Fatalf("pack release: %v", err)
	}
	releaseEvent, err := decoder.Decode(model.KindPaymentReleased, buildLog(contractABI.Events["PaymentReleased"].ID, releaseData, nil))
	if err != nil {
		t.Fatalf("decode release: %v", err)
	}
	release, ok := releaseEvent.Payload.(model.PaymentReleasedData)
	if !ok {
		t.Fatalf("release type mismatch")
	}
	if release.To != strings.ToLower(payee.Hex()) || release.Amount.String() != "5000" {
		t.Fatalf("release mismatch: %+v", release)
	}

	priceData, err := contractABI.Events["PriceUpdated"].Inputs.NonIndexed().Pack(big.NewInt(100), big.NewInt(200))
	if err != nil {
		t.Fatalf("pack price: %v", err)
	}
	priceEvent, err := decoder.Decode(model.KindPriceUpdated, buildLog(contractABI.Events["PriceUpdated"].ID, priceData, nil))
	if err != nil {
		t.Fatalf("decode price: %v", err)
	}
	price := priceEvent.Payload.(model.PriceUpdatedData)
	if price.OldPrice.String() != "100" || price.NewPrice.String() != "200" {
		t.Fatalf("price mismatch: %+v", price)
	}

	durationData, err := contractABI.Events["DurationUpdated"].Inputs.NonIndexed().Pack(big.NewInt(2592000), big.NewInt(5184000))
	if err != nil {
		t.Fatalf("pack duration: %v", err)
	}
	durationEvent, err := decoder.Decode(model.KindDurationUpdated, buildLog(contractABI.Events["DurationUpdated"].ID, durationData, nil))
	if err != nil {
		t.Fatalf("decode duration: %v", err)
	}
	duration := durationEvent.Payload.(model.DurationUpdatedData)
	if duration.OldDuration.String() != "2592000" || duration.NewDuration.String() != "5184000" {
		t.Fatalf("duration mismatch: %+v", duration)
	}
}

func TestDecoderRejectsMismatchedLogs(t *testing.T) {
	contractABI, err := SubscriptionABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	priceData, err := contractABI.Events["PriceUpdated"].Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatalf("pack price: %v", err)
	}
	priceLog := buildLog(contractABI.Events["PriceUpdated"].ID, priceData, nil)

	if _, err := decoder.Decode(model.KindDurationUpdated, priceLog); err == nil {
		t.Fatalf("expected topic mismatch error")
	}

	if _, err := decoder.Decode(model.EventKind("Transfer"), priceLog); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	removed := priceLog
	removed.Removed = true
	if _, err := decoder.Decode(model.KindPriceUpdated, removed); err == nil {
		t.Fatalf("expected error for removed log")
	}

	truncated := priceLog
	truncated.Data = priceData[:16]
	if _, err := decoder.Decode(model.KindPriceUpdated, truncated); err == nil {
		t.Fatalf("expected unpack error for truncated data")
	}

	missingTopic := buildLog(contractABI.Events["SubscriptionStarted"].ID, nil, nil)
	if _, err := decoder.Decode(model.KindSubscriptionStarted, missingTopic); err == nil {
		t.Fatalf("expected error for missing indexed topic")
	}
}

func buildLog(topic0 common.Hash, data []byte, indexed []common.Hash) types.Log {
	topics := append([]common.Hash{topic0}, indexed...)
	return types.Log{
		Address:     contract,
		Topics:      topics,
		Data:        data,
		BlockNumber: 105,
		TxHash:      common.HexToHash("0xABC"),
		BlockHash:   common.HexToHash("0xdef"),
		Index:       2,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestSubscriptionABIHasOnlyIndexedEvents(t *testing.T) {
	contractABI, err := SubscriptionABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if len(contractABI.Methods) != 0 {
		t.Fatalf("unexpected methods: %v", contractABI.Methods)
	}
	if len(contractABI.Events) != len(model.EventKinds) {
		t.Fatalf("events mismatch: %d != %d", len(contractABI.Events), len(model.EventKinds))
	}
	for _, kind := range model.EventKinds {
		if _, ok := contractABI.Events[string(kind)]; !ok {
			t.Fatalf("missing event %s", kind)
		}
	}
}
