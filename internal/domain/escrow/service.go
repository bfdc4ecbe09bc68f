package escrow

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/credit"
	"github.com/timebank/timebank-api/internal/domain/idempotency"
	"github.com/timebank/timebank-api/internal/domain/request"
	"github.com/timebank/timebank-api/internal/pkg/apperror"
	"github.com/timebank/timebank-api/internal/pkg/database"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
)

// Config tunes the engine.
type Config struct {
	HoldPeriod time.Duration
	OpTimeout  time.Duration
}

// Engine runs the escrow lifecycle. Every operation is one READ COMMITTED transaction that
// claims its idempotency key, locks the entity rows and then the member rows in ascending
// id order, checks all preconditions before writing, and commits the writes together with
// the stored result. A returned error means nothing was written.
type Engine struct {
	db        *sqlx.DB
	repo      *Repository
	requests  request.Repository
	ledger    *credit.Repository
	guard     *idempotency.Guard
	publisher EventPublisher
	cfg       Config
	now       func() time.Time
}

// NewEngine creates the escrow engine. publisher may be nil.
func NewEngine(db *sqlx.DB, cfg Config, publisher EventPublisher) *Engine {
	if cfg.HoldPeriod <= 0 {
		cfg.HoldPeriod = 72 * time.Hour
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	return &Engine{
		db:        db,
		repo:      NewRepository(db),
		requests:  request.NewRepository(db),
		ledger:    credit.NewRepository(db),
		guard:     idempotency.NewGuard(db),
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// SetClock replaces the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Repository exposes read access for the sweeper and handlers.
func (e *Engine) Repository() *Repository {
	return e.repo
}

var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// run executes fn in a transaction bounded by the operation timeout and records metrics.
func (e *Engine) run(ctx context.Context, op string, replayed *bool, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	start := time.Now()
	err := database.WithTx(ctx, e.db, txOptions, func(tx *sqlx.Tx) error {
		return fn(ctx, tx)
	})

	outcome := "ok"
	switch {
	case err != nil:
		if kind, ok := apperror.KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "error"
		}
	case replayed != nil && *replayed:
		outcome = "replayed"
	}
	metrics.RecordLedgerOperation(op, outcome, time.Since(start))
	return err
}

func (e *Engine) publish(ctx context.Context, ev *Event) {
	if ev == nil || e.publisher == nil {
		return
	}
	e.publisher.Publish(context.WithoutCancel(ctx), *ev)
}

// AcceptRequest moves a pending request to accepted and holds its price in a new escrow.
func (e *Engine) AcceptRequest(ctx context.Context, caller Caller, requestID uuid.UUID, idempotencyKey string) (*AcceptResult, error) {
	idempotencyKey, err := idempotency.NormalizeKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	fingerprint := idempotency.Fingerprint(caller.MemberID.String(), requestID.String())

	var (
		res AcceptResult
		ev  *Event
	)
	err = e.run(ctx, idempotency.OpAcceptRequest, &res.Replayed, func(ctx context.Context, tx *sqlx.Tx) error {
		res, ev = AcceptResult{}, nil

		rec, claimed, err := e.guard.Claim(ctx, tx, idempotency.OpAcceptRequest, idempotencyKey, fingerprint)
		if err != nil {
			return err
		}
		if !claimed {
			if err := idempotency.Decode(rec, &res); err != nil {
				return err
			}
			res.Replayed = true
			return nil
		}

		req, err := e.requests.LockTx(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.ProviderID != caller.MemberID {
			return request.ErrNotProvider
		}
		if req.Status != request.StatusPending {
			return request.ErrNotPending
		}

		balances, err := e.ledger.LockBalances(ctx, tx, req.RequesterID)
		if err != nil {
			return err
		}
		if balances[req.RequesterID] < req.PriceCredits {
			return credit.ErrInsufficientCredits
		}

		now := e.now()
		escrow := &Escrow{
			ID:          uuid.New(),
			RequestID:   req.ID,
			ProviderID:  req.ProviderID,
			RequesterID: req.RequesterID,
			Amount:      req.PriceCredits,
			Status:      StatusHeld,
			ExpiresAt:   now.Add(e.cfg.HoldPeriod),
		}
		if err := e.repo.insertTx(ctx, tx, escrow); err != nil {
			return err
		}
		if err := e.ledger.DebitTx(ctx, tx, req.RequesterID, escrow.Amount, credit.TxTypeEscrowHold, credit.Meta{
			RelatedEntityType: "escrow",
			RelatedEntityID:   escrow.ID,
			Description:       "credits held for " + req.OfferTitle,
		}); err != nil {
			return err
		}
		if err := e.requests.TransitionTx(ctx, tx, req.ID, request.StatusPending, request.StatusAccepted, &escrow.ID); err != nil {
			return err
		}

		res = AcceptResult{
			EscrowID:  escrow.ID,
			RequestID: req.ID,
			Amount:    escrow.Amount,
			ExpiresAt: escrow.ExpiresAt,
		}
		ev = newEvent(EventHeld, escrow, now)
		return e.guard.Complete(ctx, tx, idempotency.OpAcceptRequest, idempotencyKey, res)
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		log.Info().
			Str("escrow_id", res.EscrowID.String()).
			Str("request_id", res.RequestID.String()).
			Int64("amount", res.Amount).
			Time("expires_at", res.ExpiresAt).
			Msg("request accepted, credits held")
	}
	e.publish(ctx, ev)
	return &res, nil
}

// ConfirmCompletion releases a held escrow to the provider on the requester's confirmation.
func (e *Engine) ConfirmCompletion(ctx context.Context, caller Caller, escrowID uuid.UUID, idempotencyKey string) (*ReleaseResult, error) {
	idempotencyKey, err := idempotency.NormalizeKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	fingerprint := idempotency.Fingerprint(caller.MemberID.String(), escrowID.String())

	var (
		res ReleaseResult
		ev  *Event
	)
	err = e.run(ctx, idempotency.OpConfirmCompletion, &res.Replayed, func(ctx context.Context, tx *sqlx.Tx) error {
		res, ev = ReleaseResult{}, nil

		rec, claimed, err := e.guard.Claim(ctx, tx, idempotency.OpConfirmCompletion, idempotencyKey, fingerprint)
		if err != nil {
			return err
		}
		if !claimed {
			if err := idempotency.Decode(rec, &res); err != nil {
				return err
			}
			res.Replayed = true
			return nil
		}

		escrow, err := e.repo.lockTx(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if escrow.RequesterID != caller.MemberID {
			return ErrNotRequester
		}
		if escrow.Status != StatusHeld {
			return ErrNotHeld
		}

		now := e.now()
		if err := e.release(ctx, tx, escrow, true, false, now); err != nil {
			return err
		}

		res = ReleaseResult{
			EscrowID:   escrow.ID,
			RequestID:  escrow.RequestID,
			ProviderID: escrow.ProviderID,
			Amount:     escrow.Amount,
			Status:     StatusReleased,
		}
		ev = newEvent(EventReleased, escrow, now)
		return e.guard.Complete(ctx, tx, idempotency.OpConfirmCompletion, idempotencyKey, res)
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		log.Info().
			Str("escrow_id", res.EscrowID.String()).
			Str("provider_id", res.ProviderID.String()).
			Int64("amount", res.Amount).
			Msg("escrow released on confirmation")
	}
	e.publish(ctx, ev)
	return &res, nil
}

// release pays a locked held escrow out to the provider and completes the request.
func (e *Engine) release(ctx context.Context, tx *sqlx.Tx, escrow *Escrow, confirmed, auto bool, now time.Time) error {
	if _, err := e.ledger.LockBalances(ctx, tx, escrow.ProviderID); err != nil {
		return err
	}
	if err := e.ledger.CreditTx(ctx, tx, escrow.ProviderID, escrow.Amount, credit.TxTypeEscrowRelease, credit.Meta{
		RelatedEntityType: "escrow",
		RelatedEntityID:   escrow.ID,
		Description:       "escrow released",
	}); err != nil {
		return err
	}
	if err := e.repo.releaseTx(ctx, tx, escrow.ID, confirmed, auto, now); err != nil {
		return err
	}
	if err := e.requests.TransitionTx(ctx, tx, escrow.RequestID, request.StatusAccepted, request.StatusCompleted, nil); err != nil {
		return err
	}

	escrow.Status = StatusReleased
	escrow.RequesterConfirmed = confirmed
	escrow.AutoReleased = auto
	escrow.ReleasedAt = &now
	return nil
}

// OpenDispute freezes a held escrow until an admin resolves it. It is not keyed: a second
// call on the same escrow fails with Conflict.
func (e *Engine) OpenDispute(ctx context.Context, caller Caller, escrowID uuid.UUID, reason string) (*DisputeResult, error) {
	reason, err := normalizeReason(reason)
	if err != nil {
		return nil, err
	}

	var (
		res DisputeResult
		ev  *Event
	)
	err = e.run(ctx, "open_dispute", nil, func(ctx context.Context, tx *sqlx.Tx) error {
		res, ev = DisputeResult{}, nil

		escrow, err := e.repo.lockTx(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if !escrow.IsParticipant(caller.MemberID) {
			return ErrNotParticipant
		}
		if escrow.Status == StatusDisputed {
			return ErrAlreadyDisputed
		}
		open, err := e.repo.hasOpenDisputeTx(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}
		if open {
			return ErrAlreadyDisputed
		}
		if escrow.Status != StatusHeld {
			return ErrNotHeld
		}

		d := &Dispute{
			ID:       uuid.New(),
			EscrowID: escrow.ID,
			OpenedBy: caller.MemberID,
			Reason:   reason,
			Status:   DisputeOpen,
		}
		if err := e.repo.insertDisputeTx(ctx, tx, d); err != nil {
			return err
		}
		if err := e.repo.transitionTx(ctx, tx, escrow.ID, StatusHeld, StatusDisputed); err != nil {
			return err
		}
		if err := e.requests.TransitionTx(ctx, tx, escrow.RequestID, request.StatusAccepted, request.StatusDisputed, nil); err != nil {
			return err
		}

		escrow.Status = StatusDisputed
		res = DisputeResult{DisputeID: d.ID, EscrowID: escrow.ID, Status: DisputeOpen}
		ev = newEvent(EventDisputed, escrow, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", res.EscrowID.String()).
		Str("dispute_id", res.DisputeID.String()).
		Str("opened_by", caller.MemberID.String()).
		Msg("dispute opened")
	e.publish(ctx, ev)
	return &res, nil
}

// ResolveDispute settles a disputed escrow by admin decision. offerShare is the provider's
// percentage and only matters for a split.
func (e *Engine) ResolveDispute(ctx context.Context, caller Caller, escrowID uuid.UUID, decision Decision, offerShare int, idempotencyKey string) (*ResolveResult, error) {
	if _, err := ParseDecision(string(decision)); err != nil {
		return nil, err
	}
	if offerShare < 0 || offerShare > 100 {
		return nil, apperror.Validation(map[string]string{"offer_share": "Value must be between 0 and 100"})
	}
	if !caller.IsAdmin {
		return nil, ErrAdminOnly
	}
	idempotencyKey, err := idempotency.NormalizeKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	fingerprint := idempotency.Fingerprint(escrowID.String(), string(decision), strconv.Itoa(offerShare))

	var (
		res ResolveResult
		ev  *Event
	)
	err = e.run(ctx, idempotency.OpResolveDispute, &res.Replayed, func(ctx context.Context, tx *sqlx.Tx) error {
		res, ev = ResolveResult{}, nil

		rec, claimed, err := e.guard.Claim(ctx, tx, idempotency.OpResolveDispute, idempotencyKey, fingerprint)
		if err != nil {
			return err
		}
		if !claimed {
			if err := idempotency.Decode(rec, &res); err != nil {
				return err
			}
			res.Replayed = true
			return nil
		}

		escrow, err := e.repo.lockTx(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if escrow.Status != StatusDisputed {
			return ErrNotDisputed
		}
		dispute, err := e.repo.lockOpenDisputeTx(ctx, tx, escrow.ID)
		if err != nil {
			return err
		}

		providerAmount, requesterAmount, err := SplitAmounts(decision, escrow.Amount, offerShare)
		if err != nil {
			return err
		}

		if _, err := e.ledger.LockBalances(ctx, tx, escrow.ProviderID, escrow.RequesterID); err != nil {
			return err
		}
		meta := credit.Meta{RelatedEntityType: "dispute", RelatedEntityID: dispute.ID, Description: "dispute resolved: " + string(decision)}
		if providerAmount > 0 {
			if err := e.ledger.CreditTx(ctx, tx, escrow.ProviderID, providerAmount, credit.TxTypeEscrowRelease, meta); err != nil {
				return err
			}
		}
		if requesterAmount > 0 {
			if err := e.ledger.CreditTx(ctx, tx, escrow.RequesterID, requesterAmount, credit.TxTypeEscrowRefund, meta); err != nil {
				return err
			}
		}

		if err := e.repo.transitionTx(ctx, tx, escrow.ID, StatusDisputed, StatusResolved); err != nil {
			return err
		}

		now := e.now()
		adminID := caller.MemberID
		dispute.Status = DisputeResolved
		dispute.AdminDecision = &decision
		dispute.OfferShare = &offerShare
		dispute.ProviderAmount = &providerAmount
		dispute.RequesterAmount = &requesterAmount
		dispute.ResolvedBy = &adminID
		dispute.ResolvedAt = &now
		if err := e.repo.resolveDisputeTx(ctx, tx, dispute); err != nil {
			return err
		}

		final := request.StatusCancelled
		if providerAmount > 0 {
			final = request.StatusCompleted
		}
		if err := e.requests.TransitionTx(ctx, tx, escrow.RequestID, request.StatusDisputed, final, nil); err != nil {
			return err
		}

		escrow.Status = StatusResolved
		res = ResolveResult{
			EscrowID:        escrow.ID,
			DisputeID:       dispute.ID,
			Decision:        decision,
			OfferShare:      offerShare,
			ProviderAmount:  providerAmount,
			RequesterAmount: requesterAmount,
		}
		ev = newEvent(EventResolved, escrow, now)
		return e.guard.Complete(ctx, tx, idempotency.OpResolveDispute, idempotencyKey, res)
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		log.Info().
			Str("escrow_id", res.EscrowID.String()).
			Str("dispute_id", res.DisputeID.String()).
			Str("decision", string(res.Decision)).
			Int64("provider_amount", res.ProviderAmount).
			Int64("requester_amount", res.RequesterAmount).
			Msg("dispute resolved")
	}
	e.publish(ctx, ev)
	return &res, nil
}

// AutoRelease releases a held escrow whose hold period ended at or before now. It reports
// false without error when the escrow is no longer eligible or another worker holds it.
func (e *Engine) AutoRelease(ctx context.Context, escrowID uuid.UUID, now time.Time) (bool, error) {
	var ev *Event
	err := e.run(ctx, "auto_release", nil, func(ctx context.Context, tx *sqlx.Tx) error {
		ev = nil

		escrow, found, err := e.repo.lockExpiredTx(ctx, tx, escrowID, now)
		if err != nil || !found {
			return err
		}
		if err := e.release(ctx, tx, escrow, false, true, now); err != nil {
			return err
		}
		ev = newEvent(EventReleased, escrow, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}

	log.Info().
		Str("escrow_id", ev.EscrowID.String()).
		Str("provider_id", ev.ProviderID.String()).
		Int64("amount", ev.Amount).
		Msg("escrow auto-released after hold period")
	e.publish(ctx, ev)
	return true, nil
}

// GetEscrow returns an escrow visible to its participants and admins.
func (e *Engine) GetEscrow(ctx context.Context, caller Caller, escrowID uuid.UUID) (*Escrow, error) {
	escrow, err := e.repo.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && !escrow.IsParticipant(caller.MemberID) {
		return nil, ErrNotParticipant
	}
	return escrow, nil
}

// ListForMember returns the caller's escrows.
func (e *Engine) ListForMember(ctx context.Context, caller Caller, p Pagination) ([]*Escrow, error) {
	return e.repo.ListForMember(ctx, caller.MemberID, p)
}

// ListOpenDisputes returns the admin dispute queue.
func (e *Engine) ListOpenDisputes(ctx context.Context, caller Caller, p Pagination) ([]*OpenDisputeView, error) {
	if !caller.IsAdmin {
		return nil, ErrAdminOnly
	}
	return e.repo.ListOpenDisputes(ctx, p)
}

// IsTerminal reports whether no further transition can leave status.
func IsTerminal(status Status) bool {
	switch status {
	case StatusReleased, StatusRefunded, StatusResolved:
		return true
	}
	return false
}
