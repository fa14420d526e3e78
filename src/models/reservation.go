package models

import (
	"nftdiarias/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reservation mirrors a minted reservation token. The chain is authoritative.
type Reservation struct {
	ID           uuid.UUID               `gorm:"primarykey;type:uuid" json:"id"`
	TokenID      string                  `gorm:"uniqueIndex;not null" json:"tokenId"`
	PropertyID   string                  `gorm:"index;not null" json:"propertyId"`
	PropertyRef  string                  `json:"propertyRef,omitempty"`
	GuestAddress string                  `gorm:"index;not null" json:"guestWallet"`
	StartDate    int64                   `gorm:"not null" json:"startDate"`
	EndDate      int64                   `gorm:"not null" json:"endDate"`
	TokenURI     string                  `json:"tokenURI"`
	Status       types.ReservationStatus `gorm:"index;default:'PENDING'" json:"status"`
	MintTx       string                  `json:"mintTx,omitempty"`
	PaymentTx    string                  `json:"paymentTx,omitempty"`
	CancelTx     string                  `json:"cancelTx,omitempty"`
	CheckoutTx   string                  `json:"checkoutTx,omitempty"`
	CreatedBy    string                  `json:"createdBy,omitempty"`

	types.Timestamps
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// TxColumnFor names the column holding the hash of the transition into status.
func TxColumnFor(status types.ReservationStatus) string {
	switch status {
	case types.RESERVATION_PENDING:
		return "mint_tx"
	case types.RESERVATION_ACTIVE:
		return "payment_tx"
	case types.RESERVATION_CANCELED:
		return "cancel_tx"
	case types.RESERVATION_COMPLETED:
		return "checkout_tx"
	}
	return ""
}

// SetTx records hash against the transition into status.
func (r *Reservation) SetTx(status types.ReservationStatus, hash string) {
	switch status {
	case types.RESERVATION_PENDING:
		r.MintTx = hash
	case types.RESERVATION_ACTIVE:
		r.PaymentTx = hash
	case types.RESERVATION_CANCELED:
		r.CancelTx = hash
	case types.RESERVATION_COMPLETED:
		r.CheckoutTx = hash
	}
}
