package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TRAIL_MINTED        = "minted"
	TRAIL_CONFIRMED     = "confirmed"
	TRAIL_CANCELED      = "canceled"
	TRAIL_COMPLETED     = "completed"
	TRAIL_REJECTED      = "rejected"
	TRAIL_MIRROR_FAILED = "mirror_failed"
	TRAIL_RECONCILED    = "reconciled"
	TRAIL_OPERATOR_SET  = "operator_set"
)

// TrailLog is an append-only audit row per lifecycle outcome.
type TrailLog struct {
	ID        uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`
	Type      string    `gorm:"index" json:"type"`
	Initiator string    `json:"initiator"`
	Group     string    `gorm:"index" json:"group"`
	TokenID   string    `gorm:"index" json:"tokenId,omitempty"`
	TxHash    string    `json:"tx,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime:nano" json:"created_at"`
}

func (t *TrailLog) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
