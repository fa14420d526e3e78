package db

import (
	"context"
	"time"

	"nftdiarias/src/models"
	"nftdiarias/src/models/scopes"
	"nftdiarias/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TrailStore struct {
	db *gorm.DB
}

func NewTrailStore(gdb *gorm.DB) *TrailStore {
	return &TrailStore{db: gdb}
}

func (s *TrailStore) Record(ctx context.Context, entry *models.TrailLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *TrailStore) ListByToken(ctx context.Context, tokenID string) ([]models.TrailLog, error) {
	var out []models.TrailLog
	err := s.db.WithContext(ctx).Scopes(scopes.WithTokenID(tokenID)).Order("created_at asc").Find(&out).Error
	return out, err
}

type JobStore struct {
	db *gorm.DB
}

func NewJobStore(gdb *gorm.DB) *JobStore {
	return &JobStore{db: gdb}
}

func (s *JobStore) Enqueue(ctx context.Context, job *models.JobTask) error {
	if job.RunsAt.IsZero() {
		job.RunsAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// Due returns pending jobs whose RunsAt has passed, oldest first.
func (s *JobStore) Due(ctx context.Context, now time.Time, limit int) ([]models.JobTask, error) {
	var out []models.JobTask
	err := s.db.WithContext(ctx).
		Scopes(scopes.WithPendingStatus, scopes.DueBy(now), scopes.Limit(limit)).
		Order("runs_at asc").
		Find(&out).Error
	return out, err
}

// PendingFor returns the pending jobs of jobType queued for payloadID, newest first.
func (s *JobStore) PendingFor(ctx context.Context, payloadID, jobType string) ([]models.JobTask, error) {
	var out []models.JobTask
	err := s.db.WithContext(ctx).
		Scopes(scopes.WithPendingStatus).
		Where("payload_id = ? AND job_type = ?", payloadID, jobType).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

func (s *JobStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.JobTask{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": types.JOB_DONE, "last_error": ""}).Error
}

// MarkAttempt records a failed attempt and reschedules the job, or fails it
// once maxAttempts is reached.
func (s *JobStore) MarkAttempt(ctx context.Context, job *models.JobTask, cause string, retryAt time.Time, maxAttempts int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempts := job.Attempts + 1
		status := types.JOB_PENDING
		if maxAttempts > 0 && attempts >= maxAttempts {
			status = types.JOB_FAILED
		}
		err := tx.Model(&models.JobTask{}).Where("id = ?", job.ID).Updates(map[string]any{
			"attempts":   attempts,
			"last_error": cause,
			"status":     status,
			"runs_at":    retryAt,
		}).Error
		if err != nil {
			return err
		}
		job.Attempts = attempts
		job.Status = status
		job.LastError = cause
		job.RunsAt = retryAt
		return nil
	})
}
