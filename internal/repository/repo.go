package repository

import (
	"context"
	"time"

	"bakery-system/internal/domain"
)

// Orders is the persistence boundary of the order state machine. Every
// status-changing method is a conditional write keyed by (id, expected
// current status): when the record is no longer in the expected state the
// method returns domain.ErrStateConflict and nothing is overwritten. That
// conditional update is the only cross-process correctness mechanism; no
// in-process lock can substitute for it.
type Orders interface {
	Insert(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)

	CountPending(ctx context.Context) (int, error)
	CountActiveByRequester(ctx context.Context, requester string) (int, error)
	ListActive(ctx context.Context) ([]domain.Order, error)
	ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Order, error)
	ListStaleReady(ctx context.Context, before time.Time) ([]domain.Order, error)

	// Pending -> Claimed.
	Claim(ctx context.Context, id, preparer string, at time.Time) error
	// Claimed -> Pending, clearing the preparer (non-punitive requeue).
	ReleaseClaim(ctx context.Context, id string) error
	// Claimed -> Preparing; fails unless preparer still owns the claim.
	StartPreparing(ctx context.Context, id, preparer string, proofs []string, at time.Time) error
	// Preparing -> Ready.
	MarkReady(ctx context.Context, id string, at time.Time) error
	// Ready -> Dispatching.
	StartDispatch(ctx context.Context, id, courier string, at time.Time) error
	// Dispatching -> Ready, clearing the courier (non-punitive requeue).
	AbortDispatch(ctx context.Context, id string) error
	// Dispatching -> Delivered; fails unless courier still owns the dispatch.
	CompleteDelivery(ctx context.Context, id, courier string) error
	// Ready -> Delivered with a system marker, only while ready_at < before.
	// The staleness guard lives inside the same conditional write so the
	// sweep stays idempotent when racing a courier confirmation.
	ForceDeliver(ctx context.Context, id, marker string, before time.Time) error
	// Any of from -> to (cancellations, refunds).
	SetTerminal(ctx context.Context, id string, from []domain.Status, to domain.Status) error

	SetRating(ctx context.Context, id string, stars int, feedback string) error
	SetComplaint(ctx context.Context, id, reason string) error
}

// Accounts is the ledger's persistence boundary. Balance mutation is atomic
// relative to concurrent mutation of the same account: debits carry their
// funds check inside the update statement.
type Accounts interface {
	// Get returns the account, creating a zero-balance record on first use.
	Get(ctx context.Context, identity string) (*domain.Account, error)

	Credit(ctx context.Context, identity string, amount int64) error
	Debit(ctx context.Context, identity string, amount int64) error
	// Transfer debits from and credits to inside one transaction.
	Transfer(ctx context.Context, from, to string, amount int64) error

	AddCounter(ctx context.Context, identity string, kind domain.CounterKind, weight int) error
	AddStrike(ctx context.Context, identity string) (int, error)
	SetSuspension(ctx context.Context, identity string, until *time.Time, permanent bool) error
	// ClearDiscipline lifts any suspension and resets the strike count.
	ClearDiscipline(ctx context.Context, identity string) error

	SetVIP(ctx context.Context, identity string, until *time.Time) error
	SetDoubleStats(ctx context.Context, identity string, until time.Time) error

	// ClaimDaily credits amount and stamps last_daily_at, but only when the
	// previous stamp is absent or older than cutoff. Reports whether the
	// claim won.
	ClaimDaily(ctx context.Context, identity string, now, cutoff time.Time, amount int64) (bool, error)
	// MarkOverflowBypass stamps last_overflow_bypass under the same
	// conditional pattern, gating the free VIP queue bypass.
	MarkOverflowBypass(ctx context.Context, identity string, now, cutoff time.Time) (bool, error)

	ListWithWeeklyActivity(ctx context.Context) ([]domain.Account, error)
	ResetWeekly(ctx context.Context, identities []string) error
}

// Codes stores single-use VIP entitlement codes.
type Codes interface {
	Insert(ctx context.Context, code, createdBy string) error
	// Redeem marks the code used; domain.ErrNotFound if unknown or spent.
	Redeem(ctx context.Context, code, identity string, at time.Time) error
}

// Scripts stores per-courier custom delivery messages.
type Scripts interface {
	Set(ctx context.Context, identity, text string) error
	Get(ctx context.Context, identity string) (string, error)
}

// Blacklist stores destination communities barred from ordering.
type Blacklist interface {
	Add(ctx context.Context, communityID, reason string) error
	Remove(ctx context.Context, communityID string) error
	Contains(ctx context.Context, communityID string) (bool, error)
}

// Markers stores job watermarks such as the last quota run.
type Markers interface {
	Get(ctx context.Context, key string) (*time.Time, error)
	Set(ctx context.Context, key string, t time.Time) error
}

// Store bundles the repositories a single backend provides.
type Store struct {
	Orders    Orders
	Accounts  Accounts
	Codes     Codes
	Scripts   Scripts
	Blacklist Blacklist
	Markers   Markers
}
