package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"paywallIndexer/internal/paywall"
)

// ParseContract validates a contract address and returns it together with
// its normalized lower-case form.
func ParseContract(input string) (common.Address, string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, "", fmt.Errorf("contract address is required")
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, "", fmt.Errorf("invalid address: %s", input)
	}
	address := common.HexToAddress(input)
	return address, paywall.NormalizeAddress(address), nil
}
