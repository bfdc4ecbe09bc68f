package escrow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/domain/idempotency"
	"github.com/timebank/timebank-api/internal/pkg/apperror"
	"github.com/timebank/timebank-api/internal/pkg/testdb"
)

type fixture struct {
	db        *sqlx.DB
	engine    *escrow.Engine
	events    *recorder
	provider  uuid.UUID
	requester uuid.UUID
	admin     uuid.UUID
	offerID   uuid.UUID
}

type recorder struct {
	mu     sync.Mutex
	events []escrow.Event
}

func (r *recorder) Publish(_ context.Context, e escrow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []escrow.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]escrow.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func setup(t *testing.T, requesterBalance int64) *fixture {
	t.Helper()
	db := testdb.Open(t)
	events := &recorder{}
	f := &fixture{
		db:        db,
		engine:    escrow.NewEngine(db, escrow.Config{HoldPeriod: time.Hour, OpTimeout: 10 * time.Second}, events),
		events:    events,
		provider:  testdb.SeedMember(t, db, 0),
		requester: testdb.SeedMember(t, db, requesterBalance),
		admin:     testdb.SeedAdmin(t, db),
	}
	f.offerID = testdb.SeedOffer(t, db, f.provider, 10)
	return f
}

func (f *fixture) request(t *testing.T, price int64) uuid.UUID {
	t.Helper()
	return testdb.SeedRequest(t, f.db, f.offerID, f.requester, price)
}

func (f *fixture) accept(t *testing.T, price int64) *escrow.AcceptResult {
	t.Helper()
	res, err := f.engine.AcceptRequest(context.Background(), escrow.Caller{MemberID: f.provider}, f.request(t, price), uuid.NewString())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return res
}

func (f *fixture) requestStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	var status string
	if err := f.db.Get(&status, `SELECT status FROM requests WHERE id = $1`, id); err != nil {
		t.Fatalf("read request status: %v", err)
	}
	return status
}

func (f *fixture) ledgerRows(t *testing.T, memberID uuid.UUID, txType string) int {
	t.Helper()
	var n int
	err := f.db.Get(&n, `SELECT COUNT(*) FROM credit_transactions WHERE member_id = $1 AND tx_type = $2`, memberID, txType)
	if err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	return n
}

func TestAcceptAndConfirmMovesCredits(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	before := testdb.Circulating(t, f.db)

	requestID := f.request(t, 10)
	accepted, err := f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, requestID, "accept-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Replayed || accepted.Amount != 10 || accepted.RequestID != requestID {
		t.Fatalf("unexpected accept result: %+v", accepted)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 10 {
		t.Fatalf("requester balance after hold = %d, want 10", got)
	}
	if got := f.requestStatus(t, requestID); got != "accepted" {
		t.Fatalf("request status = %s, want accepted", got)
	}
	if got := testdb.Circulating(t, f.db); got != before {
		t.Fatalf("circulating changed on hold: %d -> %d", before, got)
	}

	released, err := f.engine.ConfirmCompletion(ctx, escrow.Caller{MemberID: f.requester}, accepted.EscrowID, "confirm-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if released.Status != escrow.StatusReleased || released.ProviderID != f.provider {
		t.Fatalf("unexpected release result: %+v", released)
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 10 {
		t.Fatalf("provider balance = %d, want 10", got)
	}
	if got := f.requestStatus(t, requestID); got != "completed" {
		t.Fatalf("request status = %s, want completed", got)
	}
	if got := testdb.Circulating(t, f.db); got != before {
		t.Fatalf("circulating changed on release: %d -> %d", before, got)
	}

	e, err := f.engine.GetEscrow(ctx, escrow.Caller{MemberID: f.provider}, accepted.EscrowID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if !e.RequesterConfirmed || e.AutoReleased || e.ReleasedAt == nil {
		t.Fatalf("unexpected escrow flags: %+v", e)
	}

	want := []escrow.EventType{escrow.EventHeld, escrow.EventReleased}
	if got := f.events.types(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestAcceptReplaysStoredResult(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	provider := escrow.Caller{MemberID: f.provider}
	requestID := f.request(t, 10)

	first, err := f.engine.AcceptRequest(ctx, provider, requestID, "K1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.engine.ConfirmCompletion(ctx, escrow.Caller{MemberID: f.requester}, first.EscrowID, "K2"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The escrow has moved on, the key still answers with the original result.
	again, err := f.engine.AcceptRequest(ctx, provider, requestID, "K1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed {
		t.Fatal("expected Replayed on repeated key")
	}
	if again.EscrowID != first.EscrowID || again.Amount != first.Amount || !again.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("replayed %+v, original %+v", again, first)
	}
	if n := f.ledgerRows(t, f.requester, "escrow_hold"); n != 1 {
		t.Fatalf("expected one hold row, got %d", n)
	}

	confirmAgain, err := f.engine.ConfirmCompletion(ctx, escrow.Caller{MemberID: f.requester}, first.EscrowID, "K2")
	if err != nil {
		t.Fatalf("confirm replay: %v", err)
	}
	if !confirmAgain.Replayed {
		t.Fatal("expected confirm replay")
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 10 {
		t.Fatalf("provider credited twice: balance %d", got)
	}
}

func TestAcceptRejectsKeyReusedWithDifferentRequest(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	provider := escrow.Caller{MemberID: f.provider}

	if _, err := f.engine.AcceptRequest(ctx, provider, f.request(t, 5), "shared"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	other := testdb.SeedRequest(t, f.db, testdb.SeedOffer(t, f.db, f.provider, 5), f.requester, 5)
	_, err := f.engine.AcceptRequest(ctx, provider, other, "shared")
	if !errors.Is(err, idempotency.ErrKeyReused) {
		t.Fatalf("expected key reuse conflict, got %v", err)
	}
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected Conflict kind, got %v", err)
	}
	if got := f.requestStatus(t, other); got != "pending" {
		t.Fatalf("second request status = %s, want pending", got)
	}
}

func TestAcceptPreconditions(t *testing.T) {
	f := setup(t, 3)
	ctx := context.Background()
	requestID := f.request(t, 5)

	_, err := f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.requester}, requestID, "k-forbidden")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("requester accepting own request: expected Forbidden, got %v", err)
	}

	_, err = f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, uuid.New(), "k-missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("unknown request: expected NotFound, got %v", err)
	}

	_, err = f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, requestID, "k-funds")
	if !errors.Is(err, apperror.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 3 {
		t.Fatalf("failed accept changed balance to %d", got)
	}

	_, err = f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, requestID, "")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("empty key: expected validation error, got %v", err)
	}

	// The failed attempt was not remembered; once funded the same key succeeds.
	if _, err := f.db.Exec(`UPDATE members SET balance = 5 WHERE id = $1`, f.requester); err != nil {
		t.Fatalf("fund requester: %v", err)
	}
	res, err := f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, requestID, "k-funds")
	if err != nil {
		t.Fatalf("retry after funding: %v", err)
	}
	if res.Replayed {
		t.Fatal("retry after a failure must execute, not replay")
	}

	_, err = f.engine.AcceptRequest(ctx, escrow.Caller{MemberID: f.provider}, requestID, "k-second")
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Fatalf("accepting twice: expected InvalidState, got %v", err)
	}
}

func TestConcurrentAcceptSucceedsOnce(t *testing.T) {
	f := setup(t, 100)
	requestID := f.request(t, 10)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.AcceptRequest(context.Background(), escrow.Caller{MemberID: f.provider}, requestID, uuid.NewString())
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			if !errors.Is(err, apperror.ErrInvalidState) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly one accept, got %d", accepted)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 90 {
		t.Fatalf("requester balance = %d, want 90", got)
	}
}

func TestConcurrentSameKeyExecutesOnce(t *testing.T) {
	f := setup(t, 100)
	requestID := f.request(t, 10)

	const callers = 8
	var (
		wg       sync.WaitGroup
		accepts  = make([]*escrow.AcceptResult, callers)
		releases = make([]*escrow.ReleaseResult, callers)
		errs     = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepts[i], errs[i] = f.engine.AcceptRequest(context.Background(), escrow.Caller{MemberID: f.provider}, requestID, "accept-shared")
		}(i)
	}
	wg.Wait()

	escrowID, replays := uuid.Nil, 0
	for i, res := range accepts {
		if errs[i] != nil {
			t.Fatalf("accept %d: %v", i, errs[i])
		}
		if escrowID == uuid.Nil {
			escrowID = res.EscrowID
		}
		if res.EscrowID != escrowID {
			t.Fatalf("accept %d returned escrow %s, want %s", i, res.EscrowID, escrowID)
		}
		if res.Replayed {
			replays++
		}
	}
	if replays != callers-1 {
		t.Fatalf("accept replays = %d, want %d", replays, callers-1)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 90 {
		t.Fatalf("requester balance = %d, want 90", got)
	}
	if n := f.ledgerRows(t, f.requester, "escrow_hold"); n != 1 {
		t.Fatalf("expected one hold row, got %d", n)
	}

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			releases[i], errs[i] = f.engine.ConfirmCompletion(context.Background(), escrow.Caller{MemberID: f.requester}, escrowID, "confirm-shared")
		}(i)
	}
	wg.Wait()

	replays = 0
	for i, res := range releases {
		if errs[i] != nil {
			t.Fatalf("confirm %d: %v", i, errs[i])
		}
		if res.EscrowID != escrowID || res.Status != escrow.StatusReleased {
			t.Fatalf("confirm %d: unexpected result %+v", i, res)
		}
		if res.Replayed {
			replays++
		}
	}
	if replays != callers-1 {
		t.Fatalf("confirm replays = %d, want %d", replays, callers-1)
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 10 {
		t.Fatalf("provider balance = %d, want 10", got)
	}
}

func TestAcceptTreatsPaddedKeyAsSame(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	provider := escrow.Caller{MemberID: f.provider}
	requestID := f.request(t, 10)

	first, err := f.engine.AcceptRequest(ctx, provider, requestID, "K1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	again, err := f.engine.AcceptRequest(ctx, provider, requestID, "  K1 ")
	if err != nil {
		t.Fatalf("padded replay: %v", err)
	}
	if !again.Replayed || again.EscrowID != first.EscrowID {
		t.Fatalf("padded key not replayed: %+v", again)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 10 {
		t.Fatalf("requester balance = %d, want 10", got)
	}
}

func TestDisputeBlocksConfirmation(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	held := f.accept(t, 10)

	_, err := f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.admin}, held.EscrowID, "outsider complaint here")
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("non-participant dispute: expected Forbidden, got %v", err)
	}

	_, err = f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.provider}, held.EscrowID, "  short ")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("short reason: expected validation error, got %v", err)
	}

	d, err := f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.provider}, held.EscrowID, "requester never answered the door")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if d.Status != escrow.DisputeOpen {
		t.Fatalf("dispute status = %s", d.Status)
	}
	if got := f.requestStatus(t, held.RequestID); got != "disputed" {
		t.Fatalf("request status = %s, want disputed", got)
	}

	_, err = f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.requester}, held.EscrowID, "second opinion on the same job")
	if !errors.Is(err, escrow.ErrAlreadyDisputed) {
		t.Fatalf("second dispute: expected Conflict, got %v", err)
	}

	_, err = f.engine.ConfirmCompletion(ctx, escrow.Caller{MemberID: f.requester}, held.EscrowID, "confirm-blocked")
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Fatalf("confirm on disputed escrow: expected InvalidState, got %v", err)
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 0 {
		t.Fatalf("provider paid during dispute: %d", got)
	}

	released, err := f.engine.AutoRelease(ctx, held.EscrowID, held.ExpiresAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("auto release: %v", err)
	}
	if released {
		t.Fatal("disputed escrow must not auto-release")
	}
}

func TestResolveDisputeSplit(t *testing.T) {
	f := setup(t, 200)
	ctx := context.Background()
	before := testdb.Circulating(t, f.db)
	held := f.accept(t, 101)

	if _, err := f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.requester}, held.EscrowID, "only half of the work was done"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	_, err := f.engine.ResolveDispute(ctx, escrow.Caller{MemberID: f.provider}, held.EscrowID, escrow.DecisionSplit, 50, "resolve-1")
	if !errors.Is(err, escrow.ErrAdminOnly) {
		t.Fatalf("non-admin resolve: expected Forbidden, got %v", err)
	}

	admin := escrow.Caller{MemberID: f.admin, IsAdmin: true}
	res, err := f.engine.ResolveDispute(ctx, admin, held.EscrowID, escrow.DecisionSplit, 50, "resolve-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ProviderAmount != 50 || res.RequesterAmount != 51 {
		t.Fatalf("split = %d/%d, want 50/51", res.ProviderAmount, res.RequesterAmount)
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 50 {
		t.Fatalf("provider balance = %d, want 50", got)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 99+51 {
		t.Fatalf("requester balance = %d, want 150", got)
	}
	if got := f.requestStatus(t, held.RequestID); got != "completed" {
		t.Fatalf("request status = %s, want completed", got)
	}
	if got := testdb.Circulating(t, f.db); got != before {
		t.Fatalf("circulating changed: %d -> %d", before, got)
	}

	replayed, err := f.engine.ResolveDispute(ctx, admin, held.EscrowID, escrow.DecisionSplit, 50, "resolve-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed.Replayed || replayed.DisputeID != res.DisputeID {
		t.Fatalf("unexpected replay: %+v", replayed)
	}

	_, err = f.engine.ResolveDispute(ctx, admin, held.EscrowID, escrow.DecisionRefund, 50, "resolve-2")
	if !errors.Is(err, escrow.ErrNotDisputed) {
		t.Fatalf("resolving twice: expected InvalidState, got %v", err)
	}

	queue, err := f.engine.ListOpenDisputes(ctx, admin, escrow.Pagination{})
	if err != nil {
		t.Fatalf("list disputes: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("expected empty dispute queue, got %d", len(queue))
	}
}

func TestResolveDisputeRefundCancelsRequest(t *testing.T) {
	f := setup(t, 30)
	ctx := context.Background()
	held := f.accept(t, 10)

	if _, err := f.engine.OpenDispute(ctx, escrow.Caller{MemberID: f.requester}, held.EscrowID, "provider cancelled last minute"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	admin := escrow.Caller{MemberID: f.admin, IsAdmin: true}
	queue, err := f.engine.ListOpenDisputes(ctx, admin, escrow.Pagination{})
	if err != nil {
		t.Fatalf("list disputes: %v", err)
	}
	if len(queue) != 1 || queue[0].EscrowID != held.EscrowID || queue[0].Amount != 10 {
		t.Fatalf("unexpected dispute queue: %+v", queue)
	}

	res, err := f.engine.ResolveDispute(ctx, admin, held.EscrowID, escrow.DecisionRefund, escrow.DefaultOfferShare, "refund-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ProviderAmount != 0 || res.RequesterAmount != 10 {
		t.Fatalf("refund = %d/%d", res.ProviderAmount, res.RequesterAmount)
	}
	if got := testdb.Balance(t, f.db, f.requester); got != 30 {
		t.Fatalf("requester balance = %d, want 30", got)
	}
	if got := f.requestStatus(t, held.RequestID); got != "cancelled" {
		t.Fatalf("request status = %s, want cancelled", got)
	}
	if n := f.ledgerRows(t, f.provider, "escrow_release"); n != 0 {
		t.Fatalf("zero share must not write a ledger row, got %d", n)
	}
}

func TestResolveDisputeValidatesInput(t *testing.T) {
	f := setup(t, 0)
	admin := escrow.Caller{MemberID: f.admin, IsAdmin: true}

	_, err := f.engine.ResolveDispute(context.Background(), admin, uuid.New(), escrow.Decision("halve"), 50, "k")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("bad decision: expected validation error, got %v", err)
	}
	_, err = f.engine.ResolveDispute(context.Background(), admin, uuid.New(), escrow.DecisionSplit, 120, "k")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("bad share: expected validation error, got %v", err)
	}
	_, err = f.engine.ResolveDispute(context.Background(), admin, uuid.New(), escrow.DecisionRelease, 50, "k")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("unknown escrow: expected NotFound, got %v", err)
	}
}

func TestConfirmRacesDispute(t *testing.T) {
	f := setup(t, 20)
	held := f.accept(t, 10)

	var (
		wg         sync.WaitGroup
		confirmErr error
		disputeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = f.engine.ConfirmCompletion(context.Background(), escrow.Caller{MemberID: f.requester}, held.EscrowID, "race-confirm")
	}()
	go func() {
		defer wg.Done()
		_, disputeErr = f.engine.OpenDispute(context.Background(), escrow.Caller{MemberID: f.provider}, held.EscrowID, "racing to dispute the job")
	}()
	wg.Wait()

	if (confirmErr == nil) == (disputeErr == nil) {
		t.Fatalf("expected exactly one winner, confirm=%v dispute=%v", confirmErr, disputeErr)
	}
	if confirmErr != nil && !errors.Is(confirmErr, apperror.ErrInvalidState) {
		t.Fatalf("losing confirm: %v", confirmErr)
	}
	if disputeErr != nil && !errors.Is(disputeErr, apperror.ErrInvalidState) {
		t.Fatalf("losing dispute: %v", disputeErr)
	}
}

func TestAutoReleaseAfterHoldPeriod(t *testing.T) {
	f := setup(t, 20)
	ctx := context.Background()
	held := f.accept(t, 10)

	released, err := f.engine.AutoRelease(ctx, held.EscrowID, held.ExpiresAt.Add(-time.Minute))
	if err != nil {
		t.Fatalf("early auto release: %v", err)
	}
	if released {
		t.Fatal("escrow released before expiry")
	}

	released, err = f.engine.AutoRelease(ctx, held.EscrowID, held.ExpiresAt)
	if err != nil {
		t.Fatalf("auto release: %v", err)
	}
	if !released {
		t.Fatal("expected release at expiry")
	}

	e, err := f.engine.GetEscrow(ctx, escrow.Caller{MemberID: f.requester}, held.EscrowID)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if e.Status != escrow.StatusReleased || !e.AutoReleased || e.RequesterConfirmed {
		t.Fatalf("unexpected escrow after auto release: %+v", e)
	}
	if got := testdb.Balance(t, f.db, f.provider); got != 10 {
		t.Fatalf("provider balance = %d, want 10", got)
	}

	released, err = f.engine.AutoRelease(ctx, held.EscrowID, held.ExpiresAt.Add(time.Hour))
	if err != nil || released {
		t.Fatalf("second auto release: released=%v err=%v", released, err)
	}

	_, err = f.engine.GetEscrow(ctx, escrow.Caller{MemberID: uuid.New()}, held.EscrowID)
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("outsider read: expected Forbidden, got %v", err)
	}
}
