package paywall

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const subscriptionABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "subscriber", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "expiry", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "SubscriptionStarted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "PaymentReleased",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "oldPrice", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "newPrice", "type": "uint256"}
    ],
    "name": "PriceUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "oldDuration", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "newDuration", "type": "uint256"}
    ],
    "name": "DurationUpdated",
    "type": "event"
  }
]`

var (
	subscriptionABI     abi.ABI
	subscriptionABIOnce sync.Once
	subscriptionABIErr  error
)

// SubscriptionABI returns the parsed subscription contract ABI.
func SubscriptionABI() (abi.ABI, error) {
	subscriptionABIOnce.Do(func() {
		subscriptionABI, subscriptionABIErr = abi.JSON(strings.NewReader(subscriptionABIJSON))
	})
	return subscriptionABI, subscriptionABIErr
}
