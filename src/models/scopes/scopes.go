package scopes

import (
	"time"

	"nftdiarias/src/types"

	"gorm.io/gorm"
)

func WithTokenID(tokenID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("token_id = ?", tokenID)
	}
}

func WithStatuses(statuses ...types.ReservationStatus) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN (?)", statuses)
	}
}

func UpdatedBefore(t time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("updated_at < ?", t)
	}
}

func WithPendingStatus(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", types.JOB_PENDING)
}

func DueBy(now time.Time) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("runs_at <= ?", now)
	}
}

// Limit ignores non-positive values.
func Limit(n int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}
