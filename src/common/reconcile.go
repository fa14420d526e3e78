package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"nftdiarias/src/db"
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/lib/metrics"
	"nftdiarias/src/lifecycle"
	"nftdiarias/src/models"
	"nftdiarias/src/types"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

type ReconcileStore interface {
	FindByTokenID(ctx context.Context, tokenID string) (*models.Reservation, error)
	Insert(ctx context.Context, r *models.Reservation) error
	UpdateStatus(ctx context.Context, tokenID string, from, to types.ReservationStatus, txHash string) error
	SetTxHash(ctx context.Context, tokenID string, status types.ReservationStatus, txHash string) error
	ListStale(ctx context.Context, statuses []types.ReservationStatus, olderThan time.Time, limit int) ([]models.Reservation, error)
}

type ReconcileJobs interface {
	Due(ctx context.Context, now time.Time, limit int) ([]models.JobTask, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkAttempt(ctx context.Context, job *models.JobTask, cause string, retryAt time.Time, maxAttempts int) error
}

type ReconcilerConfig struct {
	Oracle chain.Oracle
	Store  ReconcileStore
	Jobs   ReconcileJobs
	Trail  lifecycle.Trail
	Events lifecycle.Publisher
	Topic  string
	Now    func() time.Time
	// StaleAfter is how long a PENDING or ACTIVE record may go untouched before it is re-read.
	StaleAfter  time.Duration
	Batch       int
	MaxAttempts int
	RetryAfter  time.Duration
	// PublishTimeout bounds each event publish. Defaults to 5s.
	PublishTimeout time.Duration
}

// Reconciler moves mirror records forward to what the contract reports. It
// never moves a record backward and never submits transactions.
type Reconciler struct {
	cfg     ReconcilerConfig
	metrics *metrics.ReservationMetrics
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Oracle == nil || cfg.Store == nil {
		return nil, fmt.Errorf("reconcile: oracle and store are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Minute
	}
	if cfg.Topic == "" {
		cfg.Topic = "reservations.lifecycle"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Reconciler{cfg: cfg, metrics: metrics.Reservations()}, nil
}

var errUnrecoverable = errors.New("unrecoverable job")

type RunStats struct {
	Jobs      int
	JobErrors int
	Scanned   int
	Advanced  int
}

// RunOnce drains due jobs, then re-reads stale records.
func (r *Reconciler) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if r.cfg.Jobs != nil {
		jobs, err := r.cfg.Jobs.Due(ctx, r.cfg.Now().UTC(), r.cfg.Batch)
		if err != nil {
			return stats, fmt.Errorf("load due jobs: %w", err)
		}
		for i := range jobs {
			stats.Jobs++
			if err := r.runJob(ctx, &jobs[i]); err != nil {
				stats.JobErrors++
			}
		}
	}

	stale, err := r.cfg.Store.ListStale(ctx,
		[]types.ReservationStatus{types.RESERVATION_PENDING, types.RESERVATION_ACTIVE},
		r.cfg.Now().UTC().Add(-r.cfg.StaleAfter), r.cfg.Batch)
	if err != nil {
		return stats, fmt.Errorf("load stale records: %w", err)
	}
	for _, rec := range stale {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Scanned++
		before := rec.Status
		after, err := r.ReconcileToken(ctx, rec.TokenID)
		if err != nil {
			log.Printf("Error reconciling token %s: %s\n", rec.TokenID, err.Error())
			continue
		}
		if after.Status != before {
			stats.Advanced++
		}
	}
	if stats.Jobs > 0 || stats.Advanced > 0 {
		log.Printf("[reconcile] jobs=%d failed=%d scanned=%d advanced=%d\n", stats.Jobs, stats.JobErrors, stats.Scanned, stats.Advanced)
	}
	return stats, nil
}

func (r *Reconciler) runJob(ctx context.Context, job *models.JobTask) error {
	var err error
	switch job.JobType {
	case models.JOB_RECOVER_MINT:
		err = r.recoverMint(ctx, job)
	case models.JOB_RECONCILE_TOKEN:
		_, err = r.reconcile(ctx, job.PayloadID, submittedTxOf(job))
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}
	if err == nil {
		if merr := r.cfg.Jobs.MarkDone(ctx, job.ID); merr != nil {
			log.Printf("Error marking job %s done: %s\n", job.ID, merr.Error())
		}
		return nil
	}
	maxAttempts := r.cfg.MaxAttempts
	if errors.Is(err, chain.ErrReverted) || errors.Is(err, errUnrecoverable) {
		maxAttempts = 1
	}
	log.Printf("Error running job %s (%s): %s\n", job.ID, job.JobType, err.Error())
	if merr := r.cfg.Jobs.MarkAttempt(ctx, job, err.Error(), r.cfg.Now().UTC().Add(r.cfg.RetryAfter), maxAttempts); merr != nil {
		log.Printf("Error rescheduling job %s: %s\n", job.ID, merr.Error())
	}
	return err
}

// recoverMint rebuilds the mirror record of a mint whose transaction landed
// but whose record was never written.
func (r *Reconciler) recoverMint(ctx context.Context, job *models.JobTask) error {
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	payload := gjson.ParseBytes(raw)
	tokenID := payload.Get("tokenId").String()
	if tokenID == "" {
		txHash := payload.Get("mintTx").String()
		if txHash == "" {
			return fmt.Errorf("%w: recover job without mint tx", errUnrecoverable)
		}
		property, ok := new(big.Int).SetString(payload.Get("propertyId").String(), 10)
		if !ok {
			return fmt.Errorf("%w: recover job with bad property %q", errUnrecoverable, payload.Get("propertyId").String())
		}
		receipt, err := r.cfg.Oracle.MintReceipt(ctx, txHash, property)
		if err != nil {
			return err
		}
		tokenID = receipt.TokenID.String()
	}

	if _, err := r.cfg.Store.FindByTokenID(ctx, tokenID); err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		rec := &models.Reservation{
			TokenID:      tokenID,
			PropertyID:   payload.Get("propertyId").String(),
			PropertyRef:  payload.Get("propertyRef").String(),
			GuestAddress: payload.Get("guest").String(),
			StartDate:    payload.Get("startDate").Int(),
			EndDate:      payload.Get("endDate").Int(),
			TokenURI:     payload.Get("tokenURI").String(),
			Status:       types.RESERVATION_PENDING,
			MintTx:       payload.Get("mintTx").String(),
			CreatedBy:    payload.Get("createdBy").String(),
		}
		if err := r.cfg.Store.Insert(ctx, rec); err != nil && !errors.Is(err, db.ErrDuplicate) {
			return err
		}
		r.record(ctx, rec, "recovered mint "+rec.MintTx)
		r.publish(ctx, rec)
	}
	_, err = r.ReconcileToken(ctx, tokenID)
	return err
}

// submittedTx is a transition the lifecycle manager sent to the chain but
// could not record in the mirror.
type submittedTx struct {
	hash string
	to   types.ReservationStatus
}

func submittedTxOf(job *models.JobTask) submittedTx {
	hash, _ := job.Payload["txHash"].(string)
	to, _ := job.Payload["to"].(string)
	return submittedTx{hash: hash, to: types.ReservationStatus(to)}
}

// ObservedStatus is the lifecycle status the contract flags imply.
func ObservedStatus(state chain.ChainReservation) types.ReservationStatus {
	switch {
	case state.Burned:
		return types.RESERVATION_COMPLETED
	case state.Canceled:
		return types.RESERVATION_CANCELED
	case state.Paid:
		return types.RESERVATION_ACTIVE
	}
	return types.RESERVATION_PENDING
}

// ReconcileToken re-reads one token and advances its record when the chain is ahead.
func (r *Reconciler) ReconcileToken(ctx context.Context, tokenRaw string) (*models.Reservation, error) {
	return r.reconcile(ctx, tokenRaw, submittedTx{})
}

// reconcile advances the record of one token. When tx names a submitted
// transition, its hash is stored once the chain shows that transition.
func (r *Reconciler) reconcile(ctx context.Context, tokenRaw string, tx submittedTx) (*models.Reservation, error) {
	tokenID, err := chain.ParseTokenID(tokenRaw)
	if err != nil {
		return nil, lifecycle.ChainError("reconcile", err)
	}
	rec, err := r.cfg.Store.FindByTokenID(ctx, tokenID.String())
	if err != nil {
		return nil, lifecycle.StoreError(err)
	}
	state, err := r.cfg.Oracle.ReservationState(ctx, tokenID)
	if err != nil {
		return nil, lifecycle.ChainError("reconcile", err)
	}
	if !state.Exists {
		log.Printf("[reconcile] token %s has a record but no on-chain reservation\n", rec.TokenID)
		return rec, nil
	}
	if tx.hash != "" && !lifecycle.Reached(state, tx.to) {
		return rec, fmt.Errorf("transaction %s into %s is not reflected on chain yet", tx.hash, tx.to)
	}

	reread := false
	target := ObservedStatus(state)
	if lifecycle.Advances(rec.Status, target) {
		hash := ""
		if target == tx.to {
			hash = tx.hash
		}
		from := rec.Status
		err := r.cfg.Store.UpdateStatus(ctx, rec.TokenID, from, target, hash)
		switch {
		case errors.Is(err, db.ErrStaleStatus):
			// a lifecycle request moved it first
			reread = true
		case err != nil:
			return nil, lifecycle.StoreError(err)
		default:
			rec.Status = target
			if hash != "" {
				rec.SetTx(target, hash)
			}
			log.Printf("[reconcile] token=%s %s -> %s\n", rec.TokenID, from, target)
			r.metrics.ObserveReconciled(string(target))
			r.record(ctx, rec, fmt.Sprintf("%s -> %s", from, target))
			r.publish(ctx, rec)
		}
	}
	if tx.hash != "" {
		if err := r.cfg.Store.SetTxHash(ctx, rec.TokenID, tx.to, tx.hash); err != nil {
			return nil, lifecycle.StoreError(err)
		}
		reread = true
	}
	if !reread {
		return rec, nil
	}
	fresh, err := r.cfg.Store.FindByTokenID(ctx, rec.TokenID)
	if err != nil {
		return nil, lifecycle.StoreError(err)
	}
	return fresh, nil
}

func (r *Reconciler) record(ctx context.Context, rec *models.Reservation, detail string) {
	if r.cfg.Trail == nil {
		return
	}
	err := r.cfg.Trail.Record(ctx, &models.TrailLog{
		Type:      models.TRAIL_RECONCILED,
		Initiator: "reconciler",
		Group:     rec.PropertyID,
		TokenID:   rec.TokenID,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("Error writing trail for token %s: %s\n", rec.TokenID, err.Error())
	}
}

func (r *Reconciler) publish(ctx context.Context, rec *models.Reservation) {
	if r.cfg.Events == nil {
		return
	}
	event := types.LifecycleEvent{
		Type:       "reservation.reconciled",
		TokenID:    rec.TokenID,
		PropertyID: rec.PropertyID,
		Status:     rec.Status,
		Caller:     "reconciler",
		At:         r.cfg.Now(),
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	if err := r.cfg.Events.Publish(ctx, r.cfg.Topic, event.JSONB()); err != nil {
		log.Printf("Error publishing reconcile of token %s: %s\n", rec.TokenID, err.Error())
	}
}

// QueueHandler reconciles the token named in an SNS-wrapped queue message:
// {"Message": "{\"tokenId\": \"7\"}"}. Bare {"tokenId": ...} bodies are accepted too.
func (r *Reconciler) QueueHandler() types.Handler {
	return func(ctx context.Context, body string) error {
		if !gjson.Valid(body) {
			log.Println("[ReconcileReservations]: Received invalid json body. Dropping")
			return nil
		}
		tokenID := gjson.Get(body, "tokenId").String()
		if msg := gjson.Get(body, "Message"); msg.Exists() && gjson.Valid(msg.String()) {
			tokenID = gjson.Get(msg.String(), "tokenId").String()
		}
		if tokenID == "" {
			log.Println("[ReconcileReservations]: Message without tokenId. Dropping")
			return nil
		}
		_, err := r.ReconcileToken(ctx, tokenID)
		if lifecycle.IsKind(err, lifecycle.KindNotFound) || lifecycle.IsKind(err, lifecycle.KindInvalidInput) {
			log.Printf("[ReconcileReservations]: token %s: %s. Dropping\n", tokenID, err.Error())
			return nil
		}
		return err
	}
}
