package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt describes an included transaction. TokenID is only set for mints.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	TokenID     *big.Int
}

// ChainReservation is the contract's view of a token.
type ChainReservation struct {
	Exists     bool
	PropertyID *big.Int
	StartDate  uint64
	EndDate    uint64
	Paid       bool
	Canceled   bool
	Burned     bool
}

// Oracle is the reservation contract as seen by the service.
type Oracle interface {
	IsAvailable(ctx context.Context, propertyID *big.Int, start, end uint64) (bool, error)
	PropertyOwner(ctx context.Context, propertyID *big.Int) (common.Address, error)
	PropertyOperator(ctx context.Context, propertyID *big.Int, who common.Address) (bool, error)
	ReservationState(ctx context.Context, tokenID *big.Int) (ChainReservation, error)
	// MintReceipt recovers the outcome of a previously submitted mint.
	MintReceipt(ctx context.Context, txHash string, propertyID *big.Int) (Receipt, error)

	MintReservation(ctx context.Context, signer Signer, propertyID *big.Int, guest common.Address, start, end uint64, tokenURI string) (Receipt, error)
	SetReservation(ctx context.Context, signer Signer, tokenID *big.Int, paid bool) (Receipt, error)
	CancelReservation(ctx context.Context, signer Signer, tokenID *big.Int) (Receipt, error)
	CompleteAndBurn(ctx context.Context, signer Signer, tokenID *big.Int) (Receipt, error)
	SetPropertyOperator(ctx context.Context, signer Signer, propertyID *big.Int, operator common.Address, approved bool) (Receipt, error)
}
