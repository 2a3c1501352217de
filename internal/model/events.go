package model

import "github.com/shopspring/decimal"

// EventKind names a contract event.
type EventKind string

const (
	KindSubscriptionStarted EventKind = "SubscriptionStarted"
	KindPaymentReleased     EventKind = "PaymentReleased"
	KindPriceUpdated        EventKind = "PriceUpdated"
	KindDurationUpdated     EventKind = "DurationUpdated"
)

// EventKinds lists every indexed kind in apply priority order.
var EventKinds = []EventKind{
	KindSubscriptionStarted,
	KindPaymentReleased,
	KindPriceUpdated,
	KindDurationUpdated,
}

// Priority returns the position of k in EventKinds, or -1.
func (k EventKind) Priority() int {
	for i, kind := range EventKinds {
		if kind == k {
			return i
		}
	}
	return -1
}

// Payload is the decoded data of one event kind.
type Payload interface {
	Kind() EventKind
	isPayload()
}

// SubscriptionStartedData is the decoded SubscriptionStarted payload.
type SubscriptionStartedData struct {
	Subscriber string          `json:"subscriber"`
	Expiry     decimal.Decimal `json:"expiry"`
	Amount     decimal.Decimal `json:"amount"`
}

// PaymentReleasedData is the decoded PaymentReleased payload.
type PaymentReleasedData struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// PriceUpdatedData is the decoded PriceUpdated payload.
type PriceUpdatedData struct {
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// DurationUpdatedData is the decoded DurationUpdated payload.
type DurationUpdatedData struct {
	OldDuration decimal.Decimal `json:"old_duration"`
	NewDuration decimal.Decimal `json:"new_duration"`
}

func (SubscriptionStartedData) Kind() EventKind { return KindSubscriptionStarted }
func (PaymentReleasedData) Kind() EventKind     { return KindPaymentReleased }
func (PriceUpdatedData) Kind() EventKind        { return KindPriceUpdated }
func (DurationUpdatedData) Kind() EventKind     { return KindDurationUpdated }

func (SubscriptionStartedData) isPayload() {}
func (PaymentReleasedData) isPayload()     {}
func (PriceUpdatedData) isPayload()        {}
func (DurationUpdatedData) isPayload()     {}
