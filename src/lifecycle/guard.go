package lifecycle

import (
	"context"
	"errors"
	"math/big"

	"nftdiarias/src/lib/chain"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Guard decides whether a wallet may act on a property.
type Guard struct {
	oracle chain.Oracle
}

func NewGuard(oracle chain.Oracle) *Guard {
	return &Guard{oracle: oracle}
}

// Authorize reads owner and operator approval concurrently. Undeterminable
// answers are errors of kind PropertyNotFound or ChainUnavailable, never a denial.
func (g *Guard) Authorize(ctx context.Context, caller string, propertyID *big.Int) (bool, error) {
	who, err := chain.ParseAddress(caller)
	if err != nil {
		return false, newError(KindInvalidInput, "malformed caller address", err)
	}
	var (
		owner      common.Address
		isOperator bool
	)
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		o, err := g.oracle.PropertyOwner(egctx, propertyID)
		owner = o
		return err
	})
	eg.Go(func() error {
		ok, err := g.oracle.PropertyOperator(egctx, propertyID, who)
		isOperator = ok
		return err
	})
	if err := eg.Wait(); err != nil {
		if errors.Is(err, chain.ErrPropertyNotFound) {
			return false, newError(KindPropertyNotFound, "property not found", err)
		}
		return false, newError(KindChainUnavailable, "could not read property permissions", err)
	}
	return owner == who || isOperator, nil
}

// Owner reports whether caller is the property owner. Operators are not enough.
func (g *Guard) Owner(ctx context.Context, caller string, propertyID *big.Int) (bool, error) {
	who, err := chain.ParseAddress(caller)
	if err != nil {
		return false, newError(KindInvalidInput, "malformed caller address", err)
	}
	owner, err := g.oracle.PropertyOwner(ctx, propertyID)
	if err != nil {
		if errors.Is(err, chain.ErrPropertyNotFound) {
			return false, newError(KindPropertyNotFound, "property not found", err)
		}
		return false, newError(KindChainUnavailable, "could not read property owner", err)
	}
	return owner == who, nil
}
