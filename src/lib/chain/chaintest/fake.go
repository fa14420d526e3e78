// Package chaintest provides an in-memory reservation contract for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"nftdiarias/src/lib/chain"
)

type reservation struct {
	property *big.Int
	guest    common.Address
	start    uint64
	end      uint64
	uri      string
	paid     bool
	canceled bool
	burned   bool
}

// Contract mimics the on-chain rules: owner/operator checks, interval
// overlap and the paid/canceled/burned flags.
type Contract struct {
	mu        sync.Mutex
	owners    map[string]common.Address
	operators map[string]map[common.Address]bool
	tokens    map[string]*reservation
	txs       map[string]chain.Receipt
	nextToken int64
	nextTx    int64
	block     uint64

	// Fail, when set, is consulted before every method. A non-nil error is returned as-is.
	Fail func(method string) error
	// FailAfterApply is consulted after a write took effect, simulating a
	// transaction that landed while the caller's wait failed.
	FailAfterApply func(method string) error
	// Calls counts invocations per method.
	Calls map[string]int
	// SkipAvailability makes IsAvailable always report true so the mint itself must arbitrate.
	SkipAvailability bool
}

func NewContract() *Contract {
	return &Contract{
		owners:    make(map[string]common.Address),
		operators: make(map[string]map[common.Address]bool),
		tokens:    make(map[string]*reservation),
		txs:       make(map[string]chain.Receipt),
		nextToken: 1,
		Calls:     make(map[string]int),
	}
}

func (c *Contract) SetOwner(propertyID *big.Int, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[propertyID.String()] = owner
}

func (c *Contract) SetOperator(propertyID *big.Int, operator common.Address, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setOperator(propertyID, operator, approved)
}

func (c *Contract) setOperator(propertyID *big.Int, operator common.Address, approved bool) {
	ops, ok := c.operators[propertyID.String()]
	if !ok {
		ops = make(map[common.Address]bool)
		c.operators[propertyID.String()] = ops
	}
	ops[operator] = approved
}

// Pay, Cancel and Burn mutate a token behind the service's back.
func (c *Contract) Pay(tokenID *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.tokens[tokenID.String()]; ok {
		r.paid = true
	}
}

func (c *Contract) Cancel(tokenID *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.tokens[tokenID.String()]; ok {
		r.canceled = true
	}
}

func (c *Contract) Burn(tokenID *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.tokens[tokenID.String()]; ok {
		r.burned = true
	}
}

func (c *Contract) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[method]
}

func (c *Contract) enter(method string) error {
	c.Calls[method]++
	if c.Fail != nil {
		return c.Fail(method)
	}
	return nil
}

func (c *Contract) receipt(tokenID *big.Int) chain.Receipt {
	c.nextTx++
	c.block++
	r := chain.Receipt{
		TxHash:      common.BigToHash(big.NewInt(c.nextTx)).Hex(),
		BlockNumber: c.block,
		TokenID:     tokenID,
	}
	c.txs[strings.ToLower(r.TxHash)] = r
	return r
}

func (c *Contract) authorized(propertyID *big.Int, who common.Address) bool {
	if c.owners[propertyID.String()] == who {
		return true
	}
	return c.operators[propertyID.String()][who]
}

func (c *Contract) available(propertyID *big.Int, start, end uint64) bool {
	for _, r := range c.tokens {
		if r.property.Cmp(propertyID) != 0 || r.canceled || r.burned {
			continue
		}
		if start < r.end && r.start < end {
			return false
		}
	}
	return true
}

func reverted(method, reason string) error {
	return &chain.TxError{Method: method, Err: fmt.Errorf("%w: %s", chain.ErrReverted, reason)}
}

func (c *Contract) IsAvailable(ctx context.Context, propertyID *big.Int, start, end uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("isAvailable"); err != nil {
		return false, err
	}
	if c.SkipAvailability {
		return true, nil
	}
	return c.available(propertyID, start, end), nil
}

func (c *Contract) PropertyOwner(ctx context.Context, propertyID *big.Int) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("propertyOwner"); err != nil {
		return common.Address{}, err
	}
	owner, ok := c.owners[propertyID.String()]
	if !ok {
		return common.Address{}, &chain.TxError{Method: "propertyOwner", Err: chain.ErrPropertyNotFound}
	}
	return owner, nil
}

func (c *Contract) PropertyOperator(ctx context.Context, propertyID *big.Int, who common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("propertyOperator"); err != nil {
		return false, err
	}
	return c.operators[propertyID.String()][who], nil
}

func (c *Contract) ReservationState(ctx context.Context, tokenID *big.Int) (chain.ChainReservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("reservations"); err != nil {
		return chain.ChainReservation{}, err
	}
	r, ok := c.tokens[tokenID.String()]
	if !ok {
		return chain.ChainReservation{PropertyID: new(big.Int)}, nil
	}
	return chain.ChainReservation{
		Exists:     true,
		PropertyID: new(big.Int).Set(r.property),
		StartDate:  r.start,
		EndDate:    r.end,
		Paid:       r.paid,
		Canceled:   r.canceled,
		Burned:     r.burned,
	}, nil
}

func (c *Contract) MintReceipt(ctx context.Context, txHash string, propertyID *big.Int) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("mintReceipt"); err != nil {
		return chain.Receipt{}, err
	}
	r, ok := c.txs[strings.ToLower(txHash)]
	if !ok || r.TokenID == nil {
		return chain.Receipt{TxHash: txHash}, &chain.TxError{Method: "mintReservation", TxHash: txHash, Err: chain.ErrTimeout}
	}
	return r, nil
}

func (c *Contract) MintReservation(ctx context.Context, signer chain.Signer, propertyID *big.Int, guest common.Address, start, end uint64, tokenURI string) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("mintReservation"); err != nil {
		return chain.Receipt{}, err
	}
	if !c.authorized(propertyID, signer.Address()) {
		return chain.Receipt{}, reverted("mintReservation", "not owner or operator")
	}
	if start >= end || !c.available(propertyID, start, end) {
		return chain.Receipt{}, reverted("mintReservation", "period unavailable")
	}
	tokenID := big.NewInt(c.nextToken)
	c.nextToken++
	c.tokens[tokenID.String()] = &reservation{property: new(big.Int).Set(propertyID), guest: guest, start: start, end: end, uri: tokenURI}
	return c.landed("mintReservation", c.receipt(tokenID))
}

func (c *Contract) mutate(method string, signer chain.Signer, tokenID *big.Int, apply func(r *reservation) error) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(method); err != nil {
		return chain.Receipt{}, err
	}
	r, ok := c.tokens[tokenID.String()]
	if !ok {
		return chain.Receipt{}, reverted(method, "unknown token")
	}
	if !c.authorized(r.property, signer.Address()) {
		return chain.Receipt{}, reverted(method, "not owner or operator")
	}
	if err := apply(r); err != nil {
		return chain.Receipt{}, reverted(method, err.Error())
	}
	return c.landed(method, c.receipt(nil))
}

func (c *Contract) landed(method string, rcpt chain.Receipt) (chain.Receipt, error) {
	if c.FailAfterApply == nil {
		return rcpt, nil
	}
	if err := c.FailAfterApply(method); err != nil {
		return chain.Receipt{TxHash: rcpt.TxHash}, &chain.TxError{Method: method, TxHash: rcpt.TxHash, Err: err}
	}
	return rcpt, nil
}

func (c *Contract) SetReservation(ctx context.Context, signer chain.Signer, tokenID *big.Int, paid bool) (chain.Receipt, error) {
	return c.mutate("setReservation", signer, tokenID, func(r *reservation) error {
		if r.canceled || r.burned {
			return fmt.Errorf("reservation closed")
		}
		if r.paid && paid {
			return fmt.Errorf("already paid")
		}
		r.paid = paid
		return nil
	})
}

func (c *Contract) CancelReservation(ctx context.Context, signer chain.Signer, tokenID *big.Int) (chain.Receipt, error) {
	return c.mutate("cancelReservation", signer, tokenID, func(r *reservation) error {
		if r.canceled || r.burned {
			return fmt.Errorf("reservation closed")
		}
		r.canceled = true
		return nil
	})
}

func (c *Contract) CompleteAndBurn(ctx context.Context, signer chain.Signer, tokenID *big.Int) (chain.Receipt, error) {
	return c.mutate("completeAndBurn", signer, tokenID, func(r *reservation) error {
		if !r.paid || r.canceled || r.burned {
			return fmt.Errorf("reservation not active")
		}
		r.burned = true
		return nil
	})
}

func (c *Contract) SetPropertyOperator(ctx context.Context, signer chain.Signer, propertyID *big.Int, operator common.Address, approved bool) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("setPropertyOperator"); err != nil {
		return chain.Receipt{}, err
	}
	if c.owners[propertyID.String()] != signer.Address() {
		return chain.Receipt{}, reverted("setPropertyOperator", "not owner")
	}
	c.setOperator(propertyID, operator, approved)
	return c.receipt(nil), nil
}

// Vault signs for every key it was given.
type Vault struct {
	mu      sync.Mutex
	signers map[string]*chain.KeySigner
}

func NewVault() *Vault {
	return &Vault{signers: make(map[string]*chain.KeySigner)}
}

// NewAccount creates a key held by the vault and returns its lowercase address.
func (v *Vault) NewAccount() (string, *ecdsa.PrivateKey) {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	signer := chain.NewKeySigner(key)
	v.mu.Lock()
	defer v.mu.Unlock()
	addr := chain.Lower(signer.Address())
	v.signers[addr] = signer
	return addr, key
}

func (v *Vault) SignerFor(ctx context.Context, address string) (chain.Signer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.signers[strings.ToLower(address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrNoCustody, address)
	}
	return s, nil
}
