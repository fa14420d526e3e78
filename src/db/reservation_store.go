package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nftdiarias/src/models"
	"nftdiarias/src/models/scopes"
	"nftdiarias/src/types"

	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrStaleStatus = errors.New("status changed concurrently")
)

type ReservationFilter struct {
	PropertyID string
	Guest      string
	Status     types.ReservationStatus
	Limit      int
}

// ReservationStore is the single write path for mirror records.
type ReservationStore struct {
	db *gorm.DB
}

func NewReservationStore(gdb *gorm.DB) *ReservationStore {
	return &ReservationStore{db: gdb}
}

func (s *ReservationStore) FindByTokenID(ctx context.Context, tokenID string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.WithContext(ctx).Scopes(scopes.WithTokenID(tokenID)).First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("reservation %s: %w", tokenID, ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

func (s *ReservationStore) Insert(ctx context.Context, r *models.Reservation) error {
	err := s.db.WithContext(ctx).Create(r).Error
	if err != nil && isDuplicate(err) {
		return fmt.Errorf("reservation %s: %w", r.TokenID, ErrDuplicate)
	}
	return err
}

// UpdateStatus moves tokenID from one status to another only if the stored
// status still equals from. txHash is written to the column of the target status.
func (s *ReservationStore) UpdateStatus(ctx context.Context, tokenID string, from, to types.ReservationStatus, txHash string) error {
	updates := map[string]any{"status": to}
	if col := models.TxColumnFor(to); col != "" && txHash != "" {
		updates[col] = txHash
	}
	res := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("token_id = ? AND status = ?", tokenID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByTokenID(ctx, tokenID); err != nil {
			return err
		}
		return fmt.Errorf("reservation %s is no longer %s: %w", tokenID, from, ErrStaleStatus)
	}
	return nil
}

// SetTxHash fills the hash column of the transition into status if it is
// still empty. Callers only pass hashes of transactions the chain confirmed.
func (s *ReservationStore) SetTxHash(ctx context.Context, tokenID string, status types.ReservationStatus, txHash string) error {
	col := models.TxColumnFor(status)
	if col == "" || txHash == "" {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Scopes(scopes.WithTokenID(tokenID)).
		Where("(" + col + " = '' OR " + col + " IS NULL)").
		Update(col, txHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := s.FindByTokenID(ctx, tokenID)
		return err
	}
	return nil
}

func (s *ReservationStore) List(ctx context.Context, f ReservationFilter) ([]models.Reservation, error) {
	q := s.db.WithContext(ctx).Model(&models.Reservation{})
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.Guest != "" {
		q = q.Where("guest_address = ?", strings.ToLower(f.Guest))
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.Reservation
	if err := q.Scopes(scopes.Limit(f.Limit)).Order("start_date asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ReservationStore) ListByProperty(ctx context.Context, propertyID string, status types.ReservationStatus) ([]models.Reservation, error) {
	return s.List(ctx, ReservationFilter{PropertyID: propertyID, Status: status})
}

func (s *ReservationStore) ListByGuest(ctx context.Context, guest string, status types.ReservationStatus) ([]models.Reservation, error) {
	return s.List(ctx, ReservationFilter{Guest: guest, Status: status})
}

// ListStale returns records in one of statuses untouched since olderThan, oldest first.
func (s *ReservationStore) ListStale(ctx context.Context, statuses []types.ReservationStatus, olderThan time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Scopes(scopes.WithStatuses(statuses...), scopes.UpdatedBefore(olderThan), scopes.Limit(limit)).
		Order("updated_at asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
