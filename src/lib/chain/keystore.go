package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// KeystoreVault serves signers from an encrypted v3 keystore directory.
type KeystoreVault struct {
	ks         *keystore.KeyStore
	passphrase string
}

func NewKeystoreVault(dir, passphrase string) *KeystoreVault {
	return NewKeystoreVaultWithParams(dir, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

func NewKeystoreVaultWithParams(dir, passphrase string, scryptN, scryptP int) *KeystoreVault {
	return &KeystoreVault{
		ks:         keystore.NewKeyStore(dir, scryptN, scryptP),
		passphrase: passphrase,
	}
}

func (v *KeystoreVault) SignerFor(ctx context.Context, address string) (Signer, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	account, err := v.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCustody, strings.ToLower(address))
	}
	return &keystoreSigner{ks: v.ks, account: account, passphrase: v.passphrase}, nil
}

// Import stores a hex private key in the keystore, returning its address.
func (v *KeystoreVault) Import(hexKey string) (common.Address, error) {
	signer, err := KeySignerFromHex(hexKey)
	if err != nil {
		return common.Address{}, err
	}
	if v.ks.HasAddress(signer.Address()) {
		return signer.Address(), nil
	}
	account, err := v.ks.ImportECDSA(signer.key, v.passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("import key: %w", err)
	}
	return account.Address, nil
}

type keystoreSigner struct {
	ks         *keystore.KeyStore
	account    accounts.Account
	passphrase string
}

func (s *keystoreSigner) Address() common.Address {
	return s.account.Address
}

func (s *keystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.ks.SignTxWithPassphrase(s.account, s.passphrase, tx, chainID)
}
