package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for a single address.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Vault resolves the custodial signer for a caller address.
type Vault interface {
	SignerFor(ctx context.Context, address string) (Signer, error)
}

type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// KeySignerFromHex parses a 0x-prefixed or bare 64 hex digit private key.
func KeySignerFromHex(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() common.Address {
	return s.addr
}

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// StaticVault holds one key and only signs for its own address.
type StaticVault struct {
	signer *KeySigner
}

func NewStaticVault(hexKey string) (*StaticVault, error) {
	signer, err := KeySignerFromHex(hexKey)
	if err != nil {
		return nil, err
	}
	return &StaticVault{signer: signer}, nil
}

func (v *StaticVault) SignerFor(ctx context.Context, address string) (Signer, error) {
	if !SameAddress(address, v.signer.Address().Hex()) {
		return nil, fmt.Errorf("%w: %s", ErrNoCustody, strings.ToLower(address))
	}
	return v.signer, nil
}

func (v *StaticVault) Address() common.Address {
	return v.signer.Address()
}
