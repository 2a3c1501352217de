package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is an address observed in at least one event.
type Wallet struct {
	ID        string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is a subscription payment fact.
type Payment struct {
	ID            string
	WalletAddress string
	Amount        decimal.Decimal
	TxHash        string
	BlockNumber   uint64
	LogIndex      uint64
	Timestamp     time.Time
}

// Subscription is a subscription activation fact.
type Subscription struct {
	ID              string
	WalletAddress   string
	ExpiryTimestamp string
	ActivatedAt     time.Time
	AmountPaid      decimal.Decimal
	TxHash          string
	BlockNumber     uint64
	LogIndex        uint64
}

// Payout is a released split payment.
type Payout struct {
	ID           string
	PayeeAddress string
	Amount       decimal.Decimal
	TxHash       string
	BlockNumber  uint64
	LogIndex     uint64
	Timestamp    time.Time
}

// ConfigChangeType names the changed contract parameter.
type ConfigChangeType string

const (
	ConfigChangePrice    ConfigChangeType = "price_updated"
	ConfigChangeDuration ConfigChangeType = "duration_updated"
)

// ConfigChange records a before/after contract parameter update.
type ConfigChange struct {
	ID          string
	ChangeType  ConfigChangeType
	OldValue    string
	NewValue    string
	TxHash      string
	BlockNumber uint64
	LogIndex    uint64
	Timestamp   time.Time
}
