package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"nftdiarias/src/db"
	"nftdiarias/src/db/dbtest"
	"nftdiarias/src/lib/chain"
	"nftdiarias/src/lib/chain/chaintest"
	"nftdiarias/src/models"
	"nftdiarias/src/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	start = int64(1700000000)
	end   = int64(1700300000)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.JSONB
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e["type"].(string))
	}
	return out
}

type fixture struct {
	m        *Manager
	contract *chaintest.Contract
	vault    *chaintest.Vault
	store    *db.ReservationStore
	trail    *db.TrailStore
	jobs     *db.JobStore
	events   *recordingPublisher
	owner    string
	guest    string
	stranger string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	f := &fixture{
		contract: chaintest.NewContract(),
		vault:    chaintest.NewVault(),
		store:    db.NewReservationStore(gdb),
		trail:    db.NewTrailStore(gdb),
		jobs:     db.NewJobStore(gdb),
		events:   &recordingPublisher{},
		guest:    "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	f.owner, _ = f.vault.NewAccount()
	f.stranger, _ = f.vault.NewAccount()
	f.contract.SetOwner(big.NewInt(42), common.HexToAddress(f.owner))
	f.m = f.manager(t, f.store)
	return f
}

func (f *fixture) manager(t *testing.T, store Store) *Manager {
	m, err := NewManager(Config{
		Oracle: f.contract,
		Store:  store,
		Vault:  f.vault,
		Trail:  f.trail,
		Jobs:   f.jobs,
		Events: f.events,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) mint(t *testing.T, s, e int64) (*models.Reservation, error) {
	t.Helper()
	return f.m.Mint(context.Background(), MintRequest{
		Caller:      f.owner,
		PropertyRef: "42",
		Guest:       f.guest,
		Start:       s,
		End:         e,
		TokenURI:    "ipfs://abc",
	})
}

func (f *fixture) dueJobs(t *testing.T) []models.JobTask {
	t.Helper()
	jobs, err := f.jobs.Due(context.Background(), time.Now().UTC().Add(time.Minute), 0)
	require.NoError(t, err)
	return jobs
}

func TestMintConfirmCheckoutRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.mint(t, start, end)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_PENDING, rec.Status)
	assert.NotEmpty(t, rec.TokenID)
	assert.NotEmpty(t, rec.MintTx)
	assert.Equal(t, "42", rec.PropertyID)
	assert.Equal(t, f.guest, rec.GuestAddress)

	rec, err = f.m.Confirm(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_ACTIVE, rec.Status)

	rec, err = f.m.Checkout(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_COMPLETED, rec.Status)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_COMPLETED, stored.Status)
	assert.NotEmpty(t, stored.MintTx)
	assert.NotEmpty(t, stored.PaymentTx)
	assert.NotEmpty(t, stored.CheckoutTx)
	assert.Empty(t, stored.CancelTx)
	assert.NotEqual(t, stored.MintTx, stored.PaymentTx)

	entries, err := f.trail.ListByToken(ctx, rec.TokenID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.TRAIL_COMPLETED, entries[2].Type)

	assert.Equal(t, []string{"reservation.minted", "reservation.confirmed", "reservation.completed"}, f.events.types())
}

func TestMintOwnerCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	rec, err := f.m.Mint(context.Background(), MintRequest{
		Caller:      common.HexToAddress(f.owner).Hex(),
		PropertyRef: "0x2a",
		Guest:       "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
		Start:       start,
		End:         end,
		TokenURI:    "ipfs://abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", rec.PropertyID)
	assert.Equal(t, "0x2a", rec.PropertyRef)
	assert.Equal(t, f.guest, rec.GuestAddress)
}

func TestMintDisjointIntervalsBothSucceed(t *testing.T) {
	f := newFixture(t)
	first, err := f.mint(t, start, end)
	require.NoError(t, err)
	second, err := f.mint(t, end, end+86400)
	require.NoError(t, err)
	assert.NotEqual(t, first.TokenID, second.TokenID)
}

func TestMintOverlappingIsConflictWithoutRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.mint(t, start, end)
	require.NoError(t, err)

	rec, err := f.mint(t, 1700100000, 1700200000)
	assert.Nil(t, rec)
	assert.True(t, IsKind(err, KindConflict))
	assert.Equal(t, 1, f.contract.CallCount("mintReservation"))

	all, err := f.m.ListByProperty(context.Background(), "42", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMintRevertAfterAvailabilityIsConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.mint(t, start, end)
	require.NoError(t, err)

	f.contract.SkipAvailability = true
	_, err = f.mint(t, 1700100000, 1700200000)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, f.contract.CallCount("mintReservation"))

	all, err := f.m.ListByProperty(context.Background(), "42", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Empty(t, f.dueJobs(t))
}

func TestMintValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]MintRequest{
		"start after end":  {Caller: f.owner, PropertyRef: "42", Guest: f.guest, Start: end, End: start, TokenURI: "ipfs://abc"},
		"start equals end": {Caller: f.owner, PropertyRef: "42", Guest: f.guest, Start: start, End: start, TokenURI: "ipfs://abc"},
		"missing dates":    {Caller: f.owner, PropertyRef: "42", Guest: f.guest, TokenURI: "ipfs://abc"},
		"bad guest":        {Caller: f.owner, PropertyRef: "42", Guest: "0xBBB", Start: start, End: end, TokenURI: "ipfs://abc"},
		"bad caller":       {Caller: "owner", PropertyRef: "42", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"},
		"no token uri":     {Caller: f.owner, PropertyRef: "42", Guest: f.guest, Start: start, End: end},
		"no property":      {Caller: f.owner, PropertyRef: " ", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.m.Mint(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Zero(t, f.contract.CallCount("propertyOwner"))
	assert.Zero(t, f.contract.CallCount("mintReservation"))
}

func TestMintOpaquePropertyID(t *testing.T) {
	f := newFixture(t)
	hashed := crypto.Keccak256Hash([]byte("65f0c0ffee")).Big()
	f.contract.SetOwner(hashed, common.HexToAddress(f.owner))

	rec, err := f.m.Mint(context.Background(), MintRequest{
		Caller: f.owner, PropertyRef: "65f0c0ffee", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc",
	})
	require.NoError(t, err)
	assert.Equal(t, hashed.String(), rec.PropertyID)
	assert.Equal(t, "65f0c0ffee", rec.PropertyRef)
}

func TestStrangerIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	_, err = f.m.Cancel(ctx, f.stranger, rec.TokenID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.m.Confirm(ctx, f.stranger, rec.TokenID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.m.Mint(ctx, MintRequest{Caller: f.stranger, PropertyRef: "42", Guest: f.guest, Start: end, End: end + 10, TokenURI: "ipfs://x"})
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_PENDING, stored.Status)
	assert.Zero(t, f.contract.CallCount("cancelReservation"))
}

func TestOperatorMayActAfterApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	operator, _ := f.vault.NewAccount()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	_, err = f.m.Confirm(ctx, operator, rec.TokenID)
	assert.ErrorIs(t, err, ErrForbidden)

	receipt, err := f.m.SetOperator(ctx, f.owner, "42", operator, true)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxHash)

	rec, err = f.m.Confirm(ctx, operator, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_ACTIVE, rec.Status)

	_, err = f.m.SetOperator(ctx, operator, "42", f.stranger, true)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.m.SetOperator(ctx, f.owner, "42", operator, false)
	require.NoError(t, err)
	_, err = f.m.Cancel(ctx, operator, rec.TokenID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCancelThenCheckoutFailsPrecondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	rec, err = f.m.Cancel(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_CANCELED, rec.Status)

	_, err = f.m.Checkout(ctx, f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, f.contract.CallCount("completeAndBurn"))

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_CANCELED, stored.Status)
	assert.NotEmpty(t, stored.CancelTx)
}

func TestCheckoutRequiresActive(t *testing.T) {
	f := newFixture(t)
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	_, err = f.m.Checkout(context.Background(), f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestConfirmTwiceIsAlreadyApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	_, err = f.m.Confirm(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)

	again, err := f.m.Confirm(ctx, f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	require.NotNil(t, again)
	assert.Equal(t, types.RESERVATION_ACTIVE, again.Status)
	assert.Equal(t, 1, f.contract.CallCount("setReservation"))
}

func TestConfirmRetryAfterTimeoutThatLanded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)
	tokenID, _ := new(big.Int).SetString(rec.TokenID, 10)

	var once sync.Once
	f.contract.FailAfterApply = func(method string) error {
		var out error
		if method == "setReservation" {
			once.Do(func() { out = fmt.Errorf("%w after 2m", chain.ErrTimeout) })
		}
		return out
	}

	_, err = f.m.Confirm(ctx, f.owner, rec.TokenID)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransient))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.NotEmpty(t, e.TxHash)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_PENDING, stored.Status)

	jobs := f.dueJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JOB_RECONCILE_TOKEN, jobs[0].JobType)
	assert.Equal(t, rec.TokenID, jobs[0].PayloadID)

	assert.Equal(t, e.TxHash, jobs[0].Payload["txHash"])
	assert.Equal(t, string(types.RESERVATION_ACTIVE), jobs[0].Payload["to"])

	again, err := f.m.Confirm(ctx, f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	require.NotNil(t, again)
	assert.Equal(t, types.RESERVATION_ACTIVE, again.Status)
	assert.Equal(t, e.TxHash, again.PaymentTx)
	assert.Equal(t, 1, f.contract.CallCount("setReservation"))

	stored, err = f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, e.TxHash, stored.PaymentTx)

	state, err := f.contract.ReservationState(ctx, tokenID)
	require.NoError(t, err)
	assert.True(t, state.Paid)
}

func TestConfirmAfterOutOfBandPaymentSendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)
	tokenID, _ := new(big.Int).SetString(rec.TokenID, 10)
	f.contract.Pay(tokenID)

	out, err := f.m.Confirm(ctx, f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	require.NotNil(t, out)
	assert.Equal(t, types.RESERVATION_ACTIVE, out.Status)
	assert.Empty(t, out.PaymentTx)
	assert.Zero(t, f.contract.CallCount("setReservation"))
}

type flakyStore struct {
	*db.ReservationStore
	failUpdate error
	failInsert error
}

func (s *flakyStore) UpdateStatus(ctx context.Context, tokenID string, from, to types.ReservationStatus, txHash string) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.ReservationStore.UpdateStatus(ctx, tokenID, from, to, txHash)
}

func (s *flakyStore) Insert(ctx context.Context, r *models.Reservation) error {
	if s.failInsert != nil {
		return s.failInsert
	}
	return s.ReservationStore.Insert(ctx, r)
}

// racedStore lets a concurrent writer land the same transition, without its
// hash, just before the manager's own write.
type racedStore struct {
	*db.ReservationStore
}

func (s *racedStore) UpdateStatus(ctx context.Context, tokenID string, from, to types.ReservationStatus, txHash string) error {
	if err := s.ReservationStore.UpdateStatus(ctx, tokenID, from, to, ""); err != nil {
		return err
	}
	return s.ReservationStore.UpdateStatus(ctx, tokenID, from, to, txHash)
}

func TestConfirmLosingStatusRaceKeepsTxHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)
	m := f.manager(t, &racedStore{ReservationStore: f.store})

	out, err := m.Confirm(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)
	require.NotEmpty(t, out.PaymentTx)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_ACTIVE, stored.Status)
	assert.Equal(t, out.PaymentTx, stored.PaymentTx)
	assert.Empty(t, f.dueJobs(t))

	entries, err := f.trail.ListByToken(ctx, rec.TokenID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, models.TRAIL_MIRROR_FAILED, e.Type)
	}
}

func TestMirrorFailureAfterChainSuccessStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	flaky := &flakyStore{ReservationStore: f.store, failUpdate: errors.New("connection reset by peer")}
	m := f.manager(t, flaky)

	out, err := m.Confirm(ctx, f.owner, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_ACTIVE, out.Status)
	assert.NotEmpty(t, out.PaymentTx)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_PENDING, stored.Status)

	entries, err := f.trail.ListByToken(ctx, rec.TokenID)
	require.NoError(t, err)
	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, models.TRAIL_MIRROR_FAILED)

	jobs := f.dueJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, rec.TokenID, jobs[0].PayloadID)
	assert.Equal(t, out.PaymentTx, jobs[0].Payload["txHash"])
	assert.Equal(t, string(types.RESERVATION_ACTIVE), jobs[0].Payload["to"])
}

func TestMintMirrorFailureQueuesRecovery(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyStore{ReservationStore: f.store, failInsert: errors.New("connection reset by peer")}
	m := f.manager(t, flaky)

	rec, err := m.Mint(context.Background(), MintRequest{Caller: f.owner, PropertyRef: "42", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.TokenID)

	jobs := f.dueJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JOB_RECOVER_MINT, jobs[0].JobType)
	assert.Equal(t, rec.MintTx, jobs[0].Payload["mintTx"])
}

func TestMintWithoutEventQueuesRecovery(t *testing.T) {
	f := newFixture(t)
	f.contract.FailAfterApply = func(method string) error {
		if method == "mintReservation" {
			return fmt.Errorf("%w: receipt has no ReservationMinted event", chain.ErrTimeout)
		}
		return nil
	}

	rec, err := f.mint(t, start, end)
	assert.Nil(t, rec)
	assert.True(t, IsKind(err, KindTransient))
	assert.False(t, IsKind(err, KindConflict))
	var e *Error
	require.True(t, errors.As(err, &e))
	require.NotEmpty(t, e.TxHash)

	jobs := f.dueJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JOB_RECOVER_MINT, jobs[0].JobType)
	assert.Equal(t, e.TxHash, jobs[0].Payload["mintTx"])
	assert.Equal(t, "42", jobs[0].Payload["propertyId"])
}

func TestConfirmUnknownTokenIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Confirm(context.Background(), f.owner, "999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.m.Confirm(context.Background(), f.owner, "abc")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGuardFailuresAreDistinguishedFromDenial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Mint(ctx, MintRequest{Caller: f.owner, PropertyRef: "7", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"})
	assert.True(t, IsKind(err, KindPropertyNotFound))

	f.contract.Fail = func(method string) error {
		if method == "propertyOwner" {
			return &chain.TxError{Method: method, Err: fmt.Errorf("%w: dial tcp: connection refused", chain.ErrChainUnavailable)}
		}
		return nil
	}
	_, err = f.mint(t, start, end)
	assert.True(t, IsKind(err, KindChainUnavailable))
}

func TestMintWithoutCustodyIsForbidden(t *testing.T) {
	f := newFixture(t)
	uncustodied := "0xdddddddddddddddddddddddddddddddddddddddd"
	f.contract.SetOwner(big.NewInt(5), common.HexToAddress(uncustodied))

	_, err := f.m.Mint(context.Background(), MintRequest{Caller: uncustodied, PropertyRef: "5", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.contract.CallCount("mintReservation"))
}

func TestTransientSubmissionFailureLeavesMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.mint(t, start, end)
	require.NoError(t, err)

	f.contract.Fail = func(method string) error {
		if method == "cancelReservation" {
			return &chain.TxError{Method: method, Err: fmt.Errorf("%w: i/o timeout", chain.ErrChainUnavailable)}
		}
		return nil
	}
	_, err = f.m.Cancel(ctx, f.owner, rec.TokenID)
	assert.ErrorIs(t, err, ErrTransient)

	stored, err := f.store.FindByTokenID(ctx, rec.TokenID)
	require.NoError(t, err)
	assert.Equal(t, types.RESERVATION_PENDING, stored.Status)
	assert.Empty(t, f.dueJobs(t))
}

func TestListAndAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mint(t, start, end)
	require.NoError(t, err)

	byGuest, err := f.m.ListByGuest(ctx, "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", "pending")
	require.NoError(t, err)
	assert.Len(t, byGuest, 1)

	_, err = f.m.List(ctx, ListFilter{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.m.List(ctx, ListFilter{PropertyRef: "42", Status: "paid"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	ok, err := f.m.CheckAvailability(ctx, "42", 1700100000, 1700200000)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.m.CheckAvailability(ctx, "0x2a", end, end+3600)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = f.m.CheckAvailability(ctx, "42", end, start)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// stalledPublisher never delivers; it returns only when ctx ends.
type stalledPublisher struct {
	mu   sync.Mutex
	errs []error
}

func (p *stalledPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	<-ctx.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, ctx.Err())
	return ctx.Err()
}

func TestStalledPublisherDoesNotHoldTransitions(t *testing.T) {
	f := newFixture(t)
	events := &stalledPublisher{}
	m, err := NewManager(Config{
		Oracle:         f.contract,
		Store:          f.store,
		Vault:          f.vault,
		Trail:          f.trail,
		Jobs:           f.jobs,
		Events:         events,
		PublishTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec, err := m.Mint(ctx, MintRequest{Caller: f.owner, PropertyRef: "42", Guest: f.guest, Start: start, End: end, TokenURI: "ipfs://abc"})
		if !assert.NoError(t, err) {
			return
		}
		_, err = m.Confirm(ctx, f.owner, rec.TokenID)
		assert.NoError(t, err)
		_, err = m.SetOperator(ctx, f.owner, "42", f.stranger, true)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transitions blocked on a stalled publisher")
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.errs, 3)
	for _, err := range events.errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}
