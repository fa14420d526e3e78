package lifecycle

import (
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/types"
)

var validTransitions = map[types.ReservationStatus][]types.ReservationStatus{
	types.RESERVATION_PENDING:   {types.RESERVATION_ACTIVE, types.RESERVATION_CANCELED},
	types.RESERVATION_ACTIVE:    {types.RESERVATION_COMPLETED, types.RESERVATION_CANCELED},
	types.RESERVATION_COMPLETED: {},
	types.RESERVATION_CANCELED:  {},
}

var progress = map[types.ReservationStatus]int{
	types.RESERVATION_PENDING:   1,
	types.RESERVATION_ACTIVE:    2,
	types.RESERVATION_CANCELED:  3,
	types.RESERVATION_COMPLETED: 3,
}

func CanTransition(from, to types.ReservationStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func IsTerminal(s types.ReservationStatus) bool {
	allowed, ok := validTransitions[s]
	return !ok || len(allowed) == 0
}

// Advances reports whether moving from one status to another goes forward,
// possibly skipping states the mirror never observed.
func Advances(from, to types.ReservationStatus) bool {
	if IsTerminal(from) {
		return false
	}
	return progress[to] > progress[from]
}

// Reached reports whether the contract flags show the transition into status
// took effect. Later transitions do not clear earlier flags.
func Reached(state chain.ChainReservation, status types.ReservationStatus) bool {
	if !state.Exists {
		return false
	}
	switch status {
	case types.RESERVATION_PENDING:
		return true
	case types.RESERVATION_ACTIVE:
		return state.Paid
	case types.RESERVATION_CANCELED:
		return state.Canceled
	case types.RESERVATION_COMPLETED:
		return state.Burned
	}
	return false
}
