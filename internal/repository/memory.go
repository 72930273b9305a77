package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bakery-system/internal/domain"
)

// NewMemoryStore builds a mutex-guarded in-memory Store with the same
// conditional-write semantics as the Postgres repositories: a transition
// that finds the record out of its expected state fails with
// domain.ErrStateConflict, a debit that would go negative fails with
// domain.ErrInsufficientFunds and changes nothing. Transitions are
// additionally asserted against the state machine's legal edge set, which
// the engine tests rely on.
func NewMemoryStore() *Store {
	s := &memState{
		orders:    make(map[string]*domain.Order),
		accounts:  make(map[string]*domain.Account),
		codes:     make(map[string]*codeRecord),
		scripts:   make(map[string]string),
		blacklist: make(map[string]string),
		markers:   make(map[string]time.Time),
	}
	return &Store{
		Orders:    &memOrders{s},
		Accounts:  &memAccounts{s},
		Codes:     &memCodes{s},
		Scripts:   &memScripts{s},
		Blacklist: &memBlacklist{s},
		Markers:   &memMarkers{s},
	}
}

type memState struct {
	mu sync.Mutex

	orders    map[string]*domain.Order
	accounts  map[string]*domain.Account
	codes     map[string]*codeRecord
	scripts   map[string]string
	blacklist map[string]string
	markers   map[string]time.Time
}

type codeRecord struct {
	createdBy  string
	redeemedBy string
}

// --- Orders ---

type memOrders struct{ s *memState }

func (r *memOrders) Insert(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	cp := *o
	r.s.orders[o.ID] = &cp
	return nil
}

func (r *memOrders) Get(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrders) CountPending(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.orders {
		if o.Status == domain.StatusPending {
			n++
		}
	}
	return n, nil
}

func (r *memOrders) CountActiveByRequester(_ context.Context, requester string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.orders {
		if o.RequesterID == requester && o.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (r *memOrders) ListActive(_ context.Context) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if o.Status.Active() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Tier != domain.TierStandard, out[j].Tier != domain.TierStandard
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memOrders) ListByStatus(_ context.Context, statuses ...domain.Status) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, *o)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memOrders) ListStaleReady(_ context.Context, before time.Time) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if o.Status == domain.StatusReady && o.ReadyAt != nil && o.ReadyAt.Before(before) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// mutate applies fn while holding the lock, after checking the expected
// status and the legality of the edge.
func (r *memOrders) mutate(id string, from, to domain.Status, fn func(*domain.Order) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != from {
		return domain.ErrStateConflict
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	if err := fn(o); err != nil {
		return err
	}
	o.Status = to
	return nil
}

func (r *memOrders) Claim(_ context.Context, id, preparer string, at time.Time) error {
	return r.mutate(id, domain.StatusPending, domain.StatusClaimed, func(o *domain.Order) error {
		o.PreparerID = &preparer
		o.ClaimedAt = &at
		return nil
	})
}

func (r *memOrders) ReleaseClaim(_ context.Context, id string) error {
	return r.mutate(id, domain.StatusClaimed, domain.StatusPending, func(o *domain.Order) error {
		o.PreparerID = nil
		o.ClaimedAt = nil
		return nil
	})
}

func (r *memOrders) StartPreparing(_ context.Context, id, preparer string, proofs []string, at time.Time) error {
	return r.mutate(id, domain.StatusClaimed, domain.StatusPreparing, func(o *domain.Order) error {
		if o.PreparerID == nil || *o.PreparerID != preparer {
			return domain.ErrStateConflict
		}
		o.Proofs = append([]string(nil), proofs...)
		o.PrepStartedAt = &at
		return nil
	})
}

func (r *memOrders) MarkReady(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, domain.StatusPreparing, domain.StatusReady, func(o *domain.Order) error {
		o.ReadyAt = &at
		return nil
	})
}

func (r *memOrders) StartDispatch(_ context.Context, id, courier string, at time.Time) error {
	return r.mutate(id, domain.StatusReady, domain.StatusDispatching, func(o *domain.Order) error {
		o.CourierID = &courier
		o.DispatchStartedAt = &at
		return nil
	})
}

func (r *memOrders) AbortDispatch(_ context.Context, id string) error {
	return r.mutate(id, domain.StatusDispatching, domain.StatusReady, func(o *domain.Order) error {
		o.CourierID = nil
		o.DispatchStartedAt = nil
		return nil
	})
}

func (r *memOrders) CompleteDelivery(_ context.Context, id, courier string) error {
	return r.mutate(id, domain.StatusDispatching, domain.StatusDelivered, func(o *domain.Order) error {
		if o.CourierID == nil || *o.CourierID != courier {
			return domain.ErrStateConflict
		}
		return nil
	})
}

func (r *memOrders) ForceDeliver(_ context.Context, id, marker string, before time.Time) error {
	return r.mutate(id, domain.StatusReady, domain.StatusDelivered, func(o *domain.Order) error {
		if o.ReadyAt == nil || !o.ReadyAt.Before(before) {
			return domain.ErrStateConflict
		}
		o.CourierID = &marker
		return nil
	})
}

func (r *memOrders) SetTerminal(_ context.Context, id string, from []domain.Status, to domain.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if o.Status == f {
			if !domain.CanTransition(f, to) {
				return fmt.Errorf("illegal transition %s -> %s", f, to)
			}
			o.Status = to
			return nil
		}
	}
	return domain.ErrStateConflict
}

func (r *memOrders) SetRating(_ context.Context, id string, stars int, feedback string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.StatusDelivered || o.Rated {
		return domain.ErrStateConflict
	}
	o.Rating, o.Feedback, o.Rated = stars, feedback, true
	return nil
}

func (r *memOrders) SetComplaint(_ context.Context, id, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Complaint = reason
	return nil
}

// --- Accounts ---

type memAccounts struct{ s *memState }

// account must be called with the lock held.
func (s *memState) account(identity string) *domain.Account {
	a, ok := s.accounts[identity]
	if !ok {
		a = &domain.Account{Identity: identity}
		s.accounts[identity] = a
	}
	return a
}

func (r *memAccounts) Get(_ context.Context, identity string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *r.s.account(identity)
	return &cp, nil
}

func (r *memAccounts) Credit(_ context.Context, identity string, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.account(identity).Balance += amount
	return nil
}

func (r *memAccounts) Debit(_ context.Context, identity string, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	if a.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	a.Balance -= amount
	return nil
}

func (r *memAccounts) Transfer(_ context.Context, from, to string, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src := r.s.account(from)
	if src.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	src.Balance -= amount
	r.s.account(to).Balance += amount
	return nil
}

func (r *memAccounts) AddCounter(_ context.Context, identity string, kind domain.CounterKind, weight int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	switch kind {
	case domain.CounterPrep:
		a.WeeklyPrep += weight
		a.LifetimePrep += weight
	case domain.CounterDeliver:
		a.WeeklyDeliver += weight
		a.LifetimeDeliver += weight
	default:
		return fmt.Errorf("%w: unknown counter kind %q", domain.ErrValidation, kind)
	}
	return nil
}

func (r *memAccounts) AddStrike(_ context.Context, identity string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	a.StrikeCount++
	return a.StrikeCount, nil
}

func (r *memAccounts) SetSuspension(_ context.Context, identity string, until *time.Time, permanent bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	a.SuspendedUntil = until
	a.PermanentlySuspended = permanent
	return nil
}

func (r *memAccounts) ClearDiscipline(_ context.Context, identity string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	a.StrikeCount = 0
	a.SuspendedUntil = nil
	a.PermanentlySuspended = false
	return nil
}

func (r *memAccounts) SetVIP(_ context.Context, identity string, until *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.account(identity).VIPExpiresAt = until
	return nil
}

func (r *memAccounts) SetDoubleStats(_ context.Context, identity string, until time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.account(identity).DoubleStatsUntil = &until
	return nil
}

func (r *memAccounts) ClaimDaily(_ context.Context, identity string, now, cutoff time.Time, amount int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	if a.LastDailyAt != nil && a.LastDailyAt.After(cutoff) {
		return false, nil
	}
	a.Balance += amount
	a.LastDailyAt = &now
	return true, nil
}

func (r *memAccounts) MarkOverflowBypass(_ context.Context, identity string, now, cutoff time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a := r.s.account(identity)
	if a.LastOverflowBypass != nil && a.LastOverflowBypass.After(cutoff) {
		return false, nil
	}
	a.LastOverflowBypass = &now
	return true, nil
}

func (r *memAccounts) ListWithWeeklyActivity(_ context.Context) ([]domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Account
	for _, a := range r.s.accounts {
		if a.WeeklyPrep > 0 || a.WeeklyDeliver > 0 {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (r *memAccounts) ResetWeekly(_ context.Context, identities []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range identities {
		a := r.s.account(id)
		a.WeeklyPrep = 0
		a.WeeklyDeliver = 0
	}
	return nil
}

// --- Codes / Scripts / Blacklist / Markers ---

type memCodes struct{ s *memState }

func (r *memCodes) Insert(_ context.Context, code, createdBy string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.codes[code] = &codeRecord{createdBy: createdBy}
	return nil
}

func (r *memCodes) Redeem(_ context.Context, code, identity string, _ time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[code]
	if !ok || c.redeemedBy != "" {
		return domain.ErrNotFound
	}
	c.redeemedBy = identity
	return nil
}

type memScripts struct{ s *memState }

func (r *memScripts) Set(_ context.Context, identity, text string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.scripts[identity] = text
	return nil
}

func (r *memScripts) Get(_ context.Context, identity string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.scripts[identity], nil
}

type memBlacklist struct{ s *memState }

func (r *memBlacklist) Add(_ context.Context, communityID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.blacklist[communityID] = reason
	return nil
}

func (r *memBlacklist) Remove(_ context.Context, communityID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.blacklist, communityID)
	return nil
}

func (r *memBlacklist) Contains(_ context.Context, communityID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.blacklist[communityID]
	return ok, nil
}

type memMarkers struct{ s *memState }

func (r *memMarkers) Get(_ context.Context, key string) (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.markers[key]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (r *memMarkers) Set(_ context.Context, key string, t time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.markers[key] = t
	return nil
}
