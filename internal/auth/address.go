package auth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/radieske/cup-betting-engine/internal/ledger"
)

// NormalizeAddress valida o endereço hex e devolve a forma com checksum EIP-55.
// Todo endereço gravado no ledger passa por aqui.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}
