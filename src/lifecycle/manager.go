package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"nftdiarias/src/db"
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/lib/metrics"
	"nftdiarias/src/models"
	"nftdiarias/src/types"
)

type Store interface {
	FindByTokenID(ctx context.Context, tokenID string) (*models.Reservation, error)
	Insert(ctx context.Context, r *models.Reservation) error
	UpdateStatus(ctx context.Context, tokenID string, from, to types.ReservationStatus, txHash string) error
	SetTxHash(ctx context.Context, tokenID string, status types.ReservationStatus, txHash string) error
	List(ctx context.Context, f db.ReservationFilter) ([]models.Reservation, error)
}

type Trail interface {
	Record(ctx context.Context, entry *models.TrailLog) error
}

type Jobs interface {
	Enqueue(ctx context.Context, job *models.JobTask) error
	PendingFor(ctx context.Context, payloadID, jobType string) ([]models.JobTask, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload types.JSONB) error
}

type Config struct {
	Oracle chain.Oracle
	Store  Store
	Vault  chain.Vault
	Trail  Trail
	Jobs   Jobs
	Events Publisher
	Topic  string
	Now    func() time.Time
	// PublishTimeout bounds each event publish. Defaults to 5s.
	PublishTimeout time.Duration
}

// Manager runs the reservation state machine against the contract and keeps
// the mirror behind it. Every mirror write for a transition goes through here.
type Manager struct {
	cfg     Config
	guard   *Guard
	metrics *metrics.ReservationMetrics
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Oracle == nil || cfg.Store == nil || cfg.Vault == nil {
		return nil, fmt.Errorf("lifecycle: oracle, store and vault are required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Topic == "" {
		cfg.Topic = "reservations.lifecycle"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Manager{cfg: cfg, guard: NewGuard(cfg.Oracle), metrics: metrics.Reservations()}, nil
}

func (m *Manager) Guard() *Guard {
	return m.guard
}

type MintRequest struct {
	Caller      string
	PropertyRef string
	Guest       string
	Start       int64
	End         int64
	TokenURI    string
}

func validateWindow(start, end int64) *Error {
	if start <= 0 || end <= 0 {
		return newError(KindInvalidInput, "startDate and endDate are required", nil)
	}
	if start >= end {
		return newError(KindInvalidInput, "startDate must be before endDate", nil)
	}
	return nil
}

func (m *Manager) authorize(ctx context.Context, caller string, propertyID *big.Int) error {
	allowed, err := m.guard.Authorize(ctx, caller, propertyID)
	if err != nil {
		return err
	}
	if !allowed {
		return newError(KindForbidden, "caller is neither owner nor operator of the property", nil)
	}
	return nil
}

func (m *Manager) Mint(ctx context.Context, req MintRequest) (rec *models.Reservation, err error) {
	defer func() { m.observe("mint", err) }()

	caller, err := chain.NormalizeAddress(req.Caller)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed caller address", err)
	}
	guest, err := chain.ParseAddress(req.Guest)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed guest wallet", err)
	}
	if e := validateWindow(req.Start, req.End); e != nil {
		return nil, e
	}
	tokenURI := strings.TrimSpace(req.TokenURI)
	if tokenURI == "" {
		return nil, newError(KindInvalidInput, "tokenURI is required", nil)
	}
	property, err := chain.ParsePropertyID(req.PropertyRef)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed property id", err)
	}

	if err := m.authorize(ctx, caller, property.Big()); err != nil {
		return nil, err
	}
	available, err := m.cfg.Oracle.IsAvailable(ctx, property.Big(), uint64(req.Start), uint64(req.End))
	if err != nil {
		return nil, fromChain("availability", err)
	}
	if !available {
		return nil, newError(KindConflict, "property is not available for the requested period", nil)
	}
	signer, err := m.cfg.Vault.SignerFor(ctx, caller)
	if err != nil {
		return nil, fromChain("mint", err)
	}

	rec = &models.Reservation{
		PropertyID:   property.Canonical(),
		PropertyRef:  property.Raw(),
		GuestAddress: chain.Lower(guest),
		StartDate:    req.Start,
		EndDate:      req.End,
		TokenURI:     tokenURI,
		Status:       types.RESERVATION_PENDING,
		CreatedBy:    caller,
	}
	receipt, err := m.cfg.Oracle.MintReservation(ctx, signer, property.Big(), guest, uint64(req.Start), uint64(req.End), tokenURI)
	if err != nil {
		e := fromChain("mint", err)
		if e.TxHash == "" {
			e.TxHash = receipt.TxHash
		}
		m.rejected(ctx, "mint", caller, property.Canonical(), "", e)
		if e.Kind == KindTransient && e.TxHash != "" {
			rec.MintTx = e.TxHash
			m.enqueue(context.WithoutCancel(ctx), models.JOB_RECOVER_MINT, "mint", rec, types.RESERVATION_PENDING, e.TxHash, e.Error())
		}
		return nil, e
	}

	// The contract accepted the mint; nothing below may undo that.
	ctx = context.WithoutCancel(ctx)
	rec.TokenID = receipt.TokenID.String()
	rec.MintTx = receipt.TxHash
	if err := m.cfg.Store.Insert(ctx, rec); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			if existing, ferr := m.cfg.Store.FindByTokenID(ctx, rec.TokenID); ferr == nil {
				rec = existing
			}
		} else {
			m.mirrorFailed(ctx, "mint", models.JOB_RECOVER_MINT, rec, types.RESERVATION_PENDING, caller, receipt.TxHash, err)
		}
	}
	log.Printf("Minted reservation token=%s property=%s caller=%s tx=%s\n", rec.TokenID, rec.PropertyID, caller, receipt.TxHash)
	m.record(ctx, models.TRAIL_MINTED, caller, rec, receipt.TxHash, "")
	m.publish(ctx, "reservation.minted", rec, receipt.TxHash, caller)
	return rec, nil
}

type transition struct {
	op    string
	trail string
	event string
	from  []types.ReservationStatus
	to    types.ReservationStatus
	call  func(ctx context.Context, signer chain.Signer, tokenID *big.Int) (chain.Receipt, error)
}

func (m *Manager) Confirm(ctx context.Context, caller, tokenID string) (*models.Reservation, error) {
	return m.apply(ctx, caller, tokenID, transition{
		op:    "confirm",
		trail: models.TRAIL_CONFIRMED,
		event: "reservation.confirmed",
		from:  []types.ReservationStatus{types.RESERVATION_PENDING},
		to:    types.RESERVATION_ACTIVE,
		call: func(ctx context.Context, signer chain.Signer, id *big.Int) (chain.Receipt, error) {
			return m.cfg.Oracle.SetReservation(ctx, signer, id, true)
		},
	})
}

func (m *Manager) Cancel(ctx context.Context, caller, tokenID string) (*models.Reservation, error) {
	return m.apply(ctx, caller, tokenID, transition{
		op:    "cancel",
		trail: models.TRAIL_CANCELED,
		event: "reservation.canceled",
		from:  []types.ReservationStatus{types.RESERVATION_PENDING, types.RESERVATION_ACTIVE},
		to:    types.RESERVATION_CANCELED,
		call: func(ctx context.Context, signer chain.Signer, id *big.Int) (chain.Receipt, error) {
			return m.cfg.Oracle.CancelReservation(ctx, signer, id)
		},
	})
}

func (m *Manager) Checkout(ctx context.Context, caller, tokenID string) (*models.Reservation, error) {
	return m.apply(ctx, caller, tokenID, transition{
		op:    "checkout",
		trail: models.TRAIL_COMPLETED,
		event: "reservation.completed",
		from:  []types.ReservationStatus{types.RESERVATION_ACTIVE},
		to:    types.RESERVATION_COMPLETED,
		call: func(ctx context.Context, signer chain.Signer, id *big.Int) (chain.Receipt, error) {
			return m.cfg.Oracle.CompleteAndBurn(ctx, signer, id)
		},
	})
}

func allowedFrom(st transition, status types.ReservationStatus) bool {
	for _, f := range st.from {
		if f == status {
			return true
		}
	}
	return false
}

func (m *Manager) apply(ctx context.Context, callerRaw, tokenRaw string, st transition) (rec *models.Reservation, err error) {
	defer func() { m.observe(st.op, err) }()

	caller, err := chain.NormalizeAddress(callerRaw)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed caller address", err)
	}
	tokenID, err := chain.ParseTokenID(tokenRaw)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed token id", err)
	}
	key := tokenID.String()

	rec, err = m.cfg.Store.FindByTokenID(ctx, key)
	if err != nil {
		return nil, fromStore(err)
	}
	property, err := chain.ParsePropertyID(rec.PropertyID)
	if err != nil {
		return nil, newError(KindInternal, "stored property id is malformed", err)
	}
	if err := m.authorize(ctx, caller, property.Big()); err != nil {
		return nil, err
	}

	// Re-read right before submitting to narrow the check-then-act window.
	rec, err = m.cfg.Store.FindByTokenID(ctx, key)
	if err != nil {
		return nil, fromStore(err)
	}
	if rec.Status == st.to {
		return rec, ErrAlreadyApplied
	}
	if !allowedFrom(st, rec.Status) {
		return rec, newError(KindConflict, fmt.Sprintf("cannot %s a %s reservation", st.op, rec.Status), nil)
	}
	// An earlier submission that timed out may have landed since.
	if converged, ok := m.alreadyLanded(ctx, rec, tokenID, st); ok {
		return converged, ErrAlreadyApplied
	}
	signer, err := m.cfg.Vault.SignerFor(ctx, caller)
	if err != nil {
		return nil, fromChain(st.op, err)
	}

	from := rec.Status
	receipt, err := st.call(ctx, signer, tokenID)
	if err != nil {
		e := fromChain(st.op, err)
		if e.TxHash == "" {
			e.TxHash = receipt.TxHash
		}
		if e.Kind == KindRejected {
			if converged, ok := m.alreadyLanded(ctx, rec, tokenID, st); ok {
				return converged, ErrAlreadyApplied
			}
		}
		m.rejected(ctx, st.op, caller, rec.PropertyID, key, e)
		if e.Kind == KindTransient && e.TxHash != "" {
			m.enqueue(context.WithoutCancel(ctx), models.JOB_RECONCILE_TOKEN, st.op, rec, st.to, e.TxHash, e.Error())
		}
		return nil, e
	}

	ctx = context.WithoutCancel(ctx)
	if err := m.cfg.Store.UpdateStatus(ctx, key, from, st.to, receipt.TxHash); err != nil {
		if !m.settleStale(ctx, key, st.to, receipt.TxHash, err) {
			m.mirrorFailed(ctx, st.op, models.JOB_RECONCILE_TOKEN, rec, st.to, caller, receipt.TxHash, err)
		}
	}
	rec.Status = st.to
	rec.SetTx(st.to, receipt.TxHash)
	log.Printf("Applied %s token=%s property=%s caller=%s tx=%s\n", st.op, key, rec.PropertyID, caller, receipt.TxHash)
	m.record(ctx, st.trail, caller, rec, receipt.TxHash, "")
	m.publish(ctx, st.event, rec, receipt.TxHash, caller)
	return rec, nil
}

// alreadyLanded checks whether an earlier submission already produced the
// target state. If so the mirror is brought forward without a new transaction,
// carrying the hash of that submission when a reconcile job still holds it.
func (m *Manager) alreadyLanded(ctx context.Context, rec *models.Reservation, tokenID *big.Int, st transition) (*models.Reservation, bool) {
	state, err := m.cfg.Oracle.ReservationState(ctx, tokenID)
	if err != nil || !Reached(state, st.to) {
		return nil, false
	}
	txHash := m.pendingTx(ctx, rec.TokenID, st.to)
	if err := m.cfg.Store.UpdateStatus(ctx, rec.TokenID, rec.Status, st.to, txHash); err != nil && !m.settleStale(ctx, rec.TokenID, st.to, txHash, err) {
		log.Printf("Error converging token %s to %s: %s\n", rec.TokenID, st.to, err.Error())
	}
	fresh, err := m.cfg.Store.FindByTokenID(ctx, rec.TokenID)
	if err != nil {
		rec.Status = st.to
		return rec, true
	}
	return fresh, true
}

// settleStale handles an UpdateStatus that lost to a concurrent writer. The
// transition landed, so only its hash is still owed to the record.
func (m *Manager) settleStale(ctx context.Context, tokenID string, to types.ReservationStatus, txHash string, err error) bool {
	if !errors.Is(err, db.ErrStaleStatus) {
		return false
	}
	if serr := m.cfg.Store.SetTxHash(ctx, tokenID, to, txHash); serr != nil {
		log.Printf("Error storing %s tx for token %s: %s\n", to, tokenID, serr.Error())
		return false
	}
	return true
}

// pendingTx returns the hash a queued reconcile job holds for the transition into to.
func (m *Manager) pendingTx(ctx context.Context, tokenID string, to types.ReservationStatus) string {
	if m.cfg.Jobs == nil {
		return ""
	}
	jobs, err := m.cfg.Jobs.PendingFor(ctx, tokenID, models.JOB_RECONCILE_TOKEN)
	if err != nil {
		log.Printf("Error loading pending jobs for token %s: %s\n", tokenID, err.Error())
		return ""
	}
	for _, job := range jobs {
		if job.Payload["to"] != string(to) {
			continue
		}
		if hash, _ := job.Payload["txHash"].(string); hash != "" {
			return hash
		}
	}
	return ""
}

func (m *Manager) Get(ctx context.Context, tokenRaw string) (*models.Reservation, error) {
	tokenID, err := chain.ParseTokenID(tokenRaw)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed token id", err)
	}
	rec, err := m.cfg.Store.FindByTokenID(ctx, tokenID.String())
	if err != nil {
		return nil, fromStore(err)
	}
	return rec, nil
}

type ListFilter struct {
	PropertyRef string
	Guest       string
	Status      string
}

func (m *Manager) List(ctx context.Context, f ListFilter) ([]models.Reservation, error) {
	var filter db.ReservationFilter
	if f.PropertyRef != "" {
		property, err := chain.ParsePropertyID(f.PropertyRef)
		if err != nil {
			return nil, newError(KindInvalidInput, "malformed property id", err)
		}
		filter.PropertyID = property.Canonical()
	}
	if f.Guest != "" {
		guest, err := chain.NormalizeAddress(f.Guest)
		if err != nil {
			return nil, newError(KindInvalidInput, "malformed guest wallet", err)
		}
		filter.Guest = guest
	}
	if f.Status != "" {
		status, ok := types.ParseReservationStatus(f.Status)
		if !ok {
			return nil, newError(KindInvalidInput, "unknown status "+f.Status, nil)
		}
		filter.Status = status
	}
	if filter.PropertyID == "" && filter.Guest == "" {
		return nil, newError(KindInvalidInput, "property or guest filter is required", nil)
	}
	out, err := m.cfg.Store.List(ctx, filter)
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

func (m *Manager) ListByProperty(ctx context.Context, propertyRef, status string) ([]models.Reservation, error) {
	return m.List(ctx, ListFilter{PropertyRef: propertyRef, Status: status})
}

func (m *Manager) ListByGuest(ctx context.Context, guest, status string) ([]models.Reservation, error) {
	return m.List(ctx, ListFilter{Guest: guest, Status: status})
}

func (m *Manager) CheckAvailability(ctx context.Context, propertyRef string, start, end int64) (bool, error) {
	if e := validateWindow(start, end); e != nil {
		return false, e
	}
	property, err := chain.ParsePropertyID(propertyRef)
	if err != nil {
		return false, newError(KindInvalidInput, "malformed property id", err)
	}
	ok, err := m.cfg.Oracle.IsAvailable(ctx, property.Big(), uint64(start), uint64(end))
	if err != nil {
		return false, fromChain("availability", err)
	}
	return ok, nil
}

// AuthorizeReservation loads a record and checks caller against its property.
func (m *Manager) AuthorizeReservation(ctx context.Context, callerRaw, tokenRaw string) (*models.Reservation, error) {
	caller, err := chain.NormalizeAddress(callerRaw)
	if err != nil {
		return nil, newError(KindInvalidInput, "malformed caller address", err)
	}
	rec, err := m.Get(ctx, tokenRaw)
	if err != nil {
		return nil, err
	}
	property, err := chain.ParsePropertyID(rec.PropertyID)
	if err != nil {
		return nil, newError(KindInternal, "stored property id is malformed", err)
	}
	if err := m.authorize(ctx, caller, property.Big()); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetOperator approves or revokes an operator. Only the owner may do this.
func (m *Manager) SetOperator(ctx context.Context, callerRaw, propertyRef, operatorRaw string, approved bool) (receipt chain.Receipt, err error) {
	defer func() { m.observe("set_operator", err) }()

	caller, err := chain.NormalizeAddress(callerRaw)
	if err != nil {
		return chain.Receipt{}, newError(KindInvalidInput, "malformed caller address", err)
	}
	operator, err := chain.ParseAddress(operatorRaw)
	if err != nil {
		return chain.Receipt{}, newError(KindInvalidInput, "malformed operator address", err)
	}
	property, err := chain.ParsePropertyID(propertyRef)
	if err != nil {
		return chain.Receipt{}, newError(KindInvalidInput, "malformed property id", err)
	}
	isOwner, err := m.guard.Owner(ctx, caller, property.Big())
	if err != nil {
		return chain.Receipt{}, err
	}
	if !isOwner {
		return chain.Receipt{}, newError(KindForbidden, "only the property owner may manage operators", nil)
	}
	signer, err := m.cfg.Vault.SignerFor(ctx, caller)
	if err != nil {
		return chain.Receipt{}, fromChain("set_operator", err)
	}
	receipt, err = m.cfg.Oracle.SetPropertyOperator(ctx, signer, property.Big(), operator, approved)
	if err != nil {
		e := fromChain("set_operator", err)
		m.rejected(ctx, "set_operator", caller, property.Canonical(), "", e)
		return receipt, e
	}
	ctx = context.WithoutCancel(ctx)
	detail := fmt.Sprintf("operator=%s approved=%t", chain.Lower(operator), approved)
	log.Printf("Set operator property=%s %s caller=%s tx=%s\n", property.Canonical(), detail, caller, receipt.TxHash)
	m.record(ctx, models.TRAIL_OPERATOR_SET, caller, &models.Reservation{PropertyID: property.Canonical()}, receipt.TxHash, detail)
	if m.cfg.Events != nil {
		payload := types.JSONB{
			"type":       "property.operator_set",
			"propertyId": property.Canonical(),
			"operator":   chain.Lower(operator),
			"approved":   approved,
			"tx":         receipt.TxHash,
			"caller":     caller,
			"at":         m.cfg.Now().UTC().Format(time.RFC3339),
		}
		if err := m.emit(ctx, payload); err != nil {
			log.Printf("Error publishing operator event: %s\n", err.Error())
		}
	}
	return receipt, nil
}

func (m *Manager) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.metrics.ObserveTransition(op, outcome)
}

func (m *Manager) record(ctx context.Context, kind, caller string, rec *models.Reservation, txHash, detail string) {
	if m.cfg.Trail == nil {
		return
	}
	entry := &models.TrailLog{
		Type:      kind,
		Initiator: caller,
		Group:     rec.PropertyID,
		TokenID:   rec.TokenID,
		TxHash:    txHash,
		Detail:    detail,
	}
	if err := m.cfg.Trail.Record(ctx, entry); err != nil {
		log.Printf("Error writing trail %s for token %s: %s\n", kind, rec.TokenID, err.Error())
	}
}

func (m *Manager) rejected(ctx context.Context, op, caller, propertyID, tokenID string, e *Error) {
	log.Printf("Error on %s token=%s property=%s caller=%s kind=%s tx=%s: %s\n", op, tokenID, propertyID, caller, e.Kind, e.TxHash, e.Error())
	m.record(context.WithoutCancel(ctx), models.TRAIL_REJECTED, caller, &models.Reservation{PropertyID: propertyID, TokenID: tokenID}, e.TxHash, op+": "+string(e.Kind))
}

// mirrorFailed leaves a trail and a reconcile job; the chain result stands.
func (m *Manager) mirrorFailed(ctx context.Context, op, jobType string, rec *models.Reservation, to types.ReservationStatus, caller, txHash string, cause error) {
	log.Printf("Error mirroring %s token=%s tx=%s: %s\n", op, rec.TokenID, txHash, cause.Error())
	m.record(ctx, models.TRAIL_MIRROR_FAILED, caller, rec, txHash, op+": "+cause.Error())
	m.enqueue(ctx, jobType, op, rec, to, txHash, cause.Error())
}

// enqueue queues a reconcile job. txHash is the submission whose transition
// into to the mirror has not recorded yet.
func (m *Manager) enqueue(ctx context.Context, jobType, op string, rec *models.Reservation, to types.ReservationStatus, txHash, cause string) {
	if m.cfg.Jobs == nil {
		return
	}
	payload := RecordPayload(rec)
	if txHash != "" {
		payload["txHash"] = txHash
		payload["to"] = string(to)
	}
	job := &models.JobTask{
		Name:       op + " " + rec.TokenID,
		JobType:    jobType,
		RunsAt:     m.cfg.Now().UTC(),
		PayloadID:  rec.TokenID,
		Payload:    payload,
		Source:     op,
		SourceType: "lifecycle",
		Topic:      m.cfg.Topic,
		LastError:  cause,
	}
	if err := m.cfg.Jobs.Enqueue(ctx, job); err != nil {
		log.Printf("Error enqueueing reconcile job for token %s: %s\n", rec.TokenID, err.Error())
	}
}

func (m *Manager) publish(ctx context.Context, kind string, rec *models.Reservation, txHash, caller string) {
	if m.cfg.Events == nil {
		return
	}
	event := types.LifecycleEvent{
		Type:       kind,
		TokenID:    rec.TokenID,
		PropertyID: rec.PropertyID,
		Status:     rec.Status,
		Tx:         txHash,
		Caller:     caller,
		At:         m.cfg.Now(),
	}
	if err := m.emit(ctx, event.JSONB()); err != nil {
		log.Printf("Error publishing %s for token %s: %s\n", kind, rec.TokenID, err.Error())
	}
}

func (m *Manager) emit(ctx context.Context, payload types.JSONB) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()
	return m.cfg.Events.Publish(ctx, m.cfg.Topic, payload)
}

// RecordPayload captures what a reconciler needs to recreate or locate rec.
func RecordPayload(rec *models.Reservation) types.JSONB {
	return types.JSONB{
		"tokenId":     rec.TokenID,
		"propertyId":  rec.PropertyID,
		"propertyRef": rec.PropertyRef,
		"guest":       rec.GuestAddress,
		"startDate":   rec.StartDate,
		"endDate":     rec.EndDate,
		"tokenURI":    rec.TokenURI,
		"status":      string(rec.Status),
		"mintTx":      rec.MintTx,
		"createdBy":   rec.CreatedBy,
	}
}
