package chain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

type PropertyIDKind int

const (
	Numeric PropertyIDKind = iota + 1
	Hex
	OpaqueHashed
)

func (k PropertyIDKind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Hex:
		return "hex"
	case OpaqueHashed:
		return "opaque"
	}
	return "unknown"
}

var (
	numericPattern = regexp.MustCompile(`^\d+$`)
	hexPattern     = regexp.MustCompile(`^0[xX][0-9a-fA-F]+$`)
)

// PropertyID is a property reference resolved to the uint256 the contract keys on.
type PropertyID struct {
	kind  PropertyIDKind
	raw   string
	value uint256.Int
}

// ParsePropertyID resolves a decimal, 0x-hex or opaque identifier. Opaque
// identifiers are hashed with keccak256 over their UTF-8 bytes.
func ParsePropertyID(s string) (PropertyID, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return PropertyID{}, fmt.Errorf("%w: property id is required", ErrInvalidInput)
	}
	id := PropertyID{raw: raw}
	switch {
	case hexPattern.MatchString(raw):
		id.kind = Hex
		b, ok := new(big.Int).SetString(raw[2:], 16)
		if !ok {
			return PropertyID{}, fmt.Errorf("%w: malformed hex property id %q", ErrInvalidInput, raw)
		}
		if overflow := id.value.SetFromBig(b); overflow {
			return PropertyID{}, fmt.Errorf("%w: property id %q exceeds 256 bits", ErrInvalidInput, raw)
		}
	case numericPattern.MatchString(raw):
		id.kind = Numeric
		b, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return PropertyID{}, fmt.Errorf("%w: malformed property id %q", ErrInvalidInput, raw)
		}
		if overflow := id.value.SetFromBig(b); overflow {
			return PropertyID{}, fmt.Errorf("%w: property id %q exceeds 256 bits", ErrInvalidInput, raw)
		}
	default:
		id.kind = OpaqueHashed
		id.value.SetBytes(crypto.Keccak256([]byte(raw)))
	}
	return id, nil
}

func (p PropertyID) Kind() PropertyIDKind { return p.kind }

func (p PropertyID) Raw() string { return p.raw }

// Canonical is the decimal form used as the mirror key.
func (p PropertyID) Canonical() string {
	return p.value.Dec()
}

func (p PropertyID) Big() *big.Int {
	return p.value.ToBig()
}

func (p PropertyID) IsZero() bool {
	return p.value.IsZero()
}

func (p PropertyID) String() string {
	return p.Canonical()
}

// ParseTokenID parses a decimal token id as assigned by the contract.
func ParseTokenID(s string) (*big.Int, error) {
	raw := strings.TrimSpace(s)
	if !numericPattern.MatchString(raw) {
		return nil, fmt.Errorf("%w: token id must be a decimal integer", ErrInvalidInput)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: token id out of range", ErrInvalidInput)
	}
	return v, nil
}
