package models

import (
	"time"

	"nftdiarias/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JOB_RECONCILE_TOKEN = "reconcile_token"
	JOB_RECOVER_MINT    = "recover_mint"
)

// JobTask is a pending reconciliation between mirror and chain.
type JobTask struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	Name       string          `json:"name"`
	JobType    string          `gorm:"index" json:"type"`
	RunsAt     time.Time       `json:"runs_at"`
	PayloadID  string          `gorm:"index" json:"payload_id,omitempty"`
	Payload    types.JSONB     `gorm:"type:jsonb" json:"payload,omitempty"`
	Source     string          `json:"source,omitempty"`
	SourceType string          `json:"source_type,omitempty"`
	Status     types.JobStatus `gorm:"index;default:'pending'" json:"status"`
	Topic      string          `json:"topic,omitempty"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`

	types.Timestamps
}

func (j *JobTask) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = types.JOB_PENDING
	}
	return nil
}
