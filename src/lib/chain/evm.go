package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is the subset of the JSON-RPC client the oracle uses.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

type EVMOptions struct {
	ChainID       *big.Int
	WaitTimeout   time.Duration
	PollInterval  time.Duration
	Confirmations uint64
	Nonces        NonceLocker
	// SubmitTimeout bounds the RPCs made while the signer's nonce lock is
	// held. Keep it below the lock TTL.
	SubmitTimeout time.Duration
	// Observe receives the latency of every RPC round trip by contract method.
	Observe func(method string, elapsed time.Duration)
}

type EVMOracle struct {
	client   EVMClient
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	opts     EVMOptions
}

// DialEVMOracle connects to rpcURL and binds the oracle to contract.
func DialEVMOracle(ctx context.Context, rpcURL, contract string, opts EVMOptions) (*EVMOracle, error) {
	trimmed := strings.TrimSpace(rpcURL)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc url required")
	}
	addr, err := ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	if opts.ChainID == nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		opts.ChainID = id
	}
	return NewEVMOracle(client, addr, opts)
}

func NewEVMOracle(client EVMClient, contract common.Address, opts EVMOptions) (*EVMOracle, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if opts.ChainID == nil {
		return nil, fmt.Errorf("chain id required")
	}
	parsed, err := ParseContractABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 20 * time.Second
	}
	if opts.Confirmations == 0 {
		opts.Confirmations = 1
	}
	if opts.Nonces == nil {
		opts.Nonces = NewLocalNonceLocker()
	}
	return &EVMOracle{client: client, contract: contract, abi: parsed, chainID: opts.ChainID, opts: opts}, nil
}

func (o *EVMOracle) ChainID() *big.Int {
	return new(big.Int).Set(o.chainID)
}

func (o *EVMOracle) Contract() common.Address {
	return o.contract
}

func (o *EVMOracle) observe(method string, started time.Time) {
	if o.opts.Observe != nil {
		o.opts.Observe(method, time.Since(started))
	}
}

func (o *EVMOracle) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := o.abi.Pack(method, args...)
	if err != nil {
		return nil, &TxError{Method: method, Err: fmt.Errorf("%w: %w", ErrInvalidInput, err)}
	}
	defer o.observe(method, time.Now())
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	values, err := o.abi.Unpack(method, out)
	if err != nil {
		return nil, &TxError{Method: method, Err: fmt.Errorf("%w: unpack: %w", ErrChainUnavailable, err)}
	}
	return values, nil
}

func (o *EVMOracle) IsAvailable(ctx context.Context, propertyID *big.Int, start, end uint64) (bool, error) {
	out, err := o.call(ctx, "isAvailable", propertyID, start, end)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (o *EVMOracle) PropertyOwner(ctx context.Context, propertyID *big.Int) (common.Address, error) {
	out, err := o.call(ctx, "propertyOwner", propertyID)
	if err != nil {
		if errors.Is(err, ErrReverted) {
			return common.Address{}, &TxError{Method: "propertyOwner", Err: fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID.String())}
		}
		return common.Address{}, err
	}
	owner := out[0].(common.Address)
	if owner == (common.Address{}) {
		return common.Address{}, &TxError{Method: "propertyOwner", Err: fmt.Errorf("%w: %s", ErrPropertyNotFound, propertyID.String())}
	}
	return owner, nil
}

func (o *EVMOracle) PropertyOperator(ctx context.Context, propertyID *big.Int, who common.Address) (bool, error) {
	out, err := o.call(ctx, "propertyOperator", propertyID, who)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (o *EVMOracle) ReservationState(ctx context.Context, tokenID *big.Int) (ChainReservation, error) {
	out, err := o.call(ctx, "reservations", tokenID)
	if err != nil {
		return ChainReservation{}, err
	}
	state := ChainReservation{
		PropertyID: out[0].(*big.Int),
		StartDate:  out[1].(uint64),
		EndDate:    out[2].(uint64),
		Paid:       out[3].(bool),
		Canceled:   out[4].(bool),
		Burned:     out[5].(bool),
	}
	state.Exists = state.StartDate != 0 || state.EndDate != 0 || state.PropertyID.Sign() != 0
	return state, nil
}

func (o *EVMOracle) MintReservation(ctx context.Context, signer Signer, propertyID *big.Int, guest common.Address, start, end uint64, tokenURI string) (Receipt, error) {
	receipt, hash, err := o.transact(ctx, signer, "mintReservation", propertyID, guest, start, end, tokenURI)
	if err != nil {
		return Receipt{TxHash: hash}, err
	}
	tokenID, ok := o.mintedTokenID(receipt, propertyID)
	if !ok {
		// the mint landed; the token id has to be recovered from the logs later
		return Receipt{TxHash: hash}, &TxError{Method: "mintReservation", TxHash: hash, Err: fmt.Errorf("%w: receipt has no ReservationMinted event", ErrTimeout)}
	}
	return Receipt{TxHash: hash, BlockNumber: receipt.BlockNumber.Uint64(), TokenID: tokenID}, nil
}

func (o *EVMOracle) MintReceipt(ctx context.Context, txHash string, propertyID *big.Int) (Receipt, error) {
	hash := common.HexToHash(txHash)
	receipt, err := o.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Receipt{TxHash: txHash}, &TxError{Method: "mintReservation", TxHash: txHash, Err: fmt.Errorf("%w: receipt not found", ErrTimeout)}
		}
		return Receipt{TxHash: txHash}, classify("mintReservation", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return Receipt{TxHash: txHash}, &TxError{Method: "mintReservation", TxHash: txHash, Err: ErrReverted}
	}
	tokenID, ok := o.mintedTokenID(receipt, propertyID)
	if !ok {
		return Receipt{TxHash: txHash}, &TxError{Method: "mintReservation", TxHash: txHash, Err: fmt.Errorf("%w: receipt has no ReservationMinted event", ErrTimeout)}
	}
	return Receipt{TxHash: txHash, BlockNumber: receipt.BlockNumber.Uint64(), TokenID: tokenID}, nil
}

func (o *EVMOracle) SetReservation(ctx context.Context, signer Signer, tokenID *big.Int, paid bool) (Receipt, error) {
	return o.write(ctx, signer, "setReservation", tokenID, paid)
}

func (o *EVMOracle) CancelReservation(ctx context.Context, signer Signer, tokenID *big.Int) (Receipt, error) {
	return o.write(ctx, signer, "cancelReservation", tokenID)
}

func (o *EVMOracle) CompleteAndBurn(ctx context.Context, signer Signer, tokenID *big.Int) (Receipt, error) {
	return o.write(ctx, signer, "completeAndBurn", tokenID)
}

func (o *EVMOracle) SetPropertyOperator(ctx context.Context, signer Signer, propertyID *big.Int, operator common.Address, approved bool) (Receipt, error) {
	return o.write(ctx, signer, "setPropertyOperator", propertyID, operator, approved)
}

func (o *EVMOracle) write(ctx context.Context, signer Signer, method string, args ...any) (Receipt, error) {
	receipt, hash, err := o.transact(ctx, signer, method, args...)
	if err != nil {
		return Receipt{TxHash: hash}, err
	}
	return Receipt{TxHash: hash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (o *EVMOracle) mintedTokenID(receipt *gethtypes.Receipt, propertyID *big.Int) (*big.Int, bool) {
	event := o.abi.Events["ReservationMinted"]
	want := common.BigToHash(propertyID)
	var fallback *big.Int
	for _, log := range receipt.Logs {
		if log == nil || log.Address != o.contract {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != event.ID {
			continue
		}
		tokenID := new(big.Int).SetBytes(log.Topics[1].Bytes())
		if log.Topics[2] == want {
			return tokenID, true
		}
		if fallback == nil {
			fallback = tokenID
		}
	}
	return fallback, fallback != nil
}

// transact submits one contract call and waits for inclusion. The returned
// hash is set as soon as the transaction has been handed to the node.
func (o *EVMOracle) transact(ctx context.Context, signer Signer, method string, args ...any) (*gethtypes.Receipt, string, error) {
	if signer == nil {
		return nil, "", &TxError{Method: method, Err: ErrNoCustody}
	}
	data, err := o.abi.Pack(method, args...)
	if err != nil {
		return nil, "", &TxError{Method: method, Err: fmt.Errorf("%w: %w", ErrInvalidInput, err)}
	}
	from := signer.Address()
	signed, err := o.submit(ctx, signer, method, from, data)
	if err != nil {
		return nil, TxHashOf(err), err
	}
	hash := signed.Hash().Hex()
	receipt, err := o.waitMined(ctx, method, signed.Hash())
	if err != nil {
		return nil, hash, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, hash, &TxError{Method: method, TxHash: hash, Err: ErrReverted}
	}
	return receipt, hash, nil
}

func (o *EVMOracle) submit(ctx context.Context, signer Signer, method string, from common.Address, data []byte) (*gethtypes.Transaction, error) {
	unlock, err := o.opts.Nonces.Lock(ctx, from)
	if err != nil {
		return nil, &TxError{Method: method, Err: fmt.Errorf("%w: nonce lock: %w", ErrChainUnavailable, err)}
	}
	defer unlock()
	defer o.observe(method, time.Now())
	ctx, cancel := context.WithTimeout(ctx, o.opts.SubmitTimeout)
	defer cancel()

	gas, err := o.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &o.contract, Data: data})
	if err != nil {
		return nil, classify(method, err)
	}
	nonce, err := o.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, classify(method, err)
	}
	tip, err := o.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, classify(method, err)
	}
	head, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   o.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &o.contract,
		Data:      data,
	})
	signed, err := signer.SignTx(tx, o.chainID)
	if err != nil {
		return nil, &TxError{Method: method, Err: fmt.Errorf("%w: sign: %w", ErrNoCustody, err)}
	}
	if err := o.client.SendTransaction(ctx, signed); err != nil {
		if isRevert(err) {
			return nil, &TxError{Method: method, Err: fmt.Errorf("%w: %w", ErrReverted, err)}
		}
		// The node may have accepted the transaction before the transport failed.
		return nil, &TxError{Method: method, TxHash: signed.Hash().Hex(), Err: fmt.Errorf("%w: send: %w", ErrChainUnavailable, err)}
	}
	return signed, nil
}

func (o *EVMOracle) waitMined(ctx context.Context, method string, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.WaitTimeout)
	defer cancel()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := o.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil && o.confirmed(ctx, receipt) {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, &TxError{Method: method, TxHash: hash.Hex(), Err: fmt.Errorf("%w after %s", ErrTimeout, o.opts.WaitTimeout)}
		case <-ticker.C:
		}
	}
}

func (o *EVMOracle) confirmed(ctx context.Context, receipt *gethtypes.Receipt) bool {
	if o.opts.Confirmations <= 1 {
		return true
	}
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return false
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	return confirmed.Cmp(new(big.Int).SetUint64(o.opts.Confirmations)) >= 0
}
