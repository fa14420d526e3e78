package lifecycle

import (
	"testing"

	"nftdiarias/src/lib/chain"
	"nftdiarias/src/types"

	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(types.RESERVATION_PENDING, types.RESERVATION_ACTIVE))
	assert.True(t, CanTransition(types.RESERVATION_PENDING, types.RESERVATION_CANCELED))
	assert.True(t, CanTransition(types.RESERVATION_ACTIVE, types.RESERVATION_COMPLETED))
	assert.True(t, CanTransition(types.RESERVATION_ACTIVE, types.RESERVATION_CANCELED))

	assert.False(t, CanTransition(types.RESERVATION_PENDING, types.RESERVATION_COMPLETED))
	assert.False(t, CanTransition(types.RESERVATION_CANCELED, types.RESERVATION_COMPLETED))
	assert.False(t, CanTransition(types.RESERVATION_ACTIVE, types.RESERVATION_PENDING))

	assert.True(t, IsTerminal(types.RESERVATION_CANCELED))
	assert.True(t, IsTerminal(types.RESERVATION_COMPLETED))
	assert.False(t, IsTerminal(types.RESERVATION_ACTIVE))
}

func TestAdvancesNeverGoesBackward(t *testing.T) {
	assert.True(t, Advances(types.RESERVATION_PENDING, types.RESERVATION_COMPLETED))
	assert.True(t, Advances(types.RESERVATION_PENDING, types.RESERVATION_ACTIVE))
	assert.True(t, Advances(types.RESERVATION_ACTIVE, types.RESERVATION_CANCELED))

	assert.False(t, Advances(types.RESERVATION_ACTIVE, types.RESERVATION_PENDING))
	assert.False(t, Advances(types.RESERVATION_ACTIVE, types.RESERVATION_ACTIVE))
	assert.False(t, Advances(types.RESERVATION_CANCELED, types.RESERVATION_COMPLETED))
	assert.False(t, Advances(types.RESERVATION_COMPLETED, types.RESERVATION_CANCELED))
}

func TestReachedFollowsContractFlags(t *testing.T) {
	paidThenCanceled := chain.ChainReservation{Exists: true, Paid: true, Canceled: true}
	assert.True(t, Reached(paidThenCanceled, types.RESERVATION_ACTIVE))
	assert.True(t, Reached(paidThenCanceled, types.RESERVATION_CANCELED))
	assert.False(t, Reached(paidThenCanceled, types.RESERVATION_COMPLETED))

	assert.True(t, Reached(chain.ChainReservation{Exists: true}, types.RESERVATION_PENDING))
	assert.False(t, Reached(chain.ChainReservation{Paid: true}, types.RESERVATION_ACTIVE))
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindForbidden, "nope", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, ErrAlreadyApplied, ErrConflict)
	assert.NotErrorIs(t, newError(KindConflict, "other", nil), ErrAlreadyApplied)
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.Equal(t, Kind(""), KindOf(nil))
}
