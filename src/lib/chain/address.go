package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress returns the lowercase form of a 0x-prefixed 20-byte address.
func NormalizeAddress(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if !IsAddress(trimmed) {
		return "", fmt.Errorf("%w: malformed address %q", ErrInvalidInput, s)
	}
	return strings.ToLower(trimmed), nil
}

func IsAddress(s string) bool {
	return len(s) == 42 && (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) && common.IsHexAddress(s)
}

func ParseAddress(s string) (common.Address, error) {
	norm, err := NormalizeAddress(s)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(norm), nil
}

func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Lower renders an address the way the mirror stores it.
func Lower(a common.Address) string {
	return strings.ToLower(a.Hex())
}
