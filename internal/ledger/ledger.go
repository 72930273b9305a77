package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
	"bakery-system/internal/repository"
)

// Ledger owns currency and entitlement state: balances, work counters,
// the daily allowance, VIP entitlements and the double-stats buff. It has
// no opinion about order state; the coordinator calls in at the points
// where money or counters move.
type Ledger struct {
	accounts repository.Accounts
	codes    repository.Codes
	cfg      config.Engine
}

func New(accounts repository.Accounts, codes repository.Codes, cfg config.Engine) *Ledger {
	return &Ledger{accounts: accounts, codes: codes, cfg: cfg}
}

func (l *Ledger) Account(ctx context.Context, identity string) (*domain.Account, error) {
	return l.accounts.Get(ctx, identity)
}

// Blocked reports whether the identity is under an active suspension.
func (l *Ledger) Blocked(ctx context.Context, identity string, now time.Time) (bool, error) {
	a, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return false, err
	}
	return a.Blocked(now), nil
}

func (l *Ledger) Charge(ctx context.Context, identity string, amount int64) error {
	return l.accounts.Debit(ctx, identity, amount)
}

func (l *Ledger) Refund(ctx context.Context, identity string, amount int64) error {
	return l.accounts.Credit(ctx, identity, amount)
}

// Payout credits the stage payout and bumps the matching work counters.
// An active double-stats buff doubles the counter weight, never the money.
func (l *Ledger) Payout(ctx context.Context, identity string, kind domain.CounterKind, now time.Time) (int64, error) {
	var amount int64
	switch kind {
	case domain.CounterPrep:
		amount = l.cfg.PayoutPrepare
	case domain.CounterDeliver:
		amount = l.cfg.PayoutDeliver
	default:
		return 0, fmt.Errorf("%w: unknown counter kind %q", domain.ErrValidation, kind)
	}
	a, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return 0, err
	}
	weight := 1
	if a.DoubleStats(now) {
		weight = 2
	}
	if err := l.accounts.Credit(ctx, identity, amount); err != nil {
		return 0, err
	}
	if err := l.accounts.AddCounter(ctx, identity, kind, weight); err != nil {
		return 0, err
	}
	return amount, nil
}

// Daily claims the once-per-24h allowance. Returns the amount credited, or
// domain.ErrStateConflict when the previous claim is still fresh.
func (l *Ledger) Daily(ctx context.Context, identity string, now time.Time) (int64, error) {
	a, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return 0, err
	}
	amount := l.cfg.DailyAllowance
	if a.VIP(now) {
		amount = l.cfg.DailyAllowanceVIP
	}
	won, err := l.accounts.ClaimDaily(ctx, identity, now, now.Add(-24*time.Hour), amount)
	if err != nil {
		return 0, err
	}
	if !won {
		return 0, fmt.Errorf("%w: daily allowance already claimed", domain.ErrStateConflict)
	}
	return amount, nil
}

// Tip moves funds directly between two identities.
func (l *Ledger) Tip(ctx context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: tip must be positive", domain.ErrValidation)
	}
	if from == to {
		return fmt.Errorf("%w: cannot tip yourself", domain.ErrValidation)
	}
	return l.accounts.Transfer(ctx, from, to, amount)
}

// BuyDoubleStats debits the buff price and stamps the expiry. Buying while
// the buff is active restarts the clock rather than stacking.
func (l *Ledger) BuyDoubleStats(ctx context.Context, identity string, now time.Time) (time.Time, error) {
	if err := l.accounts.Debit(ctx, identity, l.cfg.DoubleStatsCost); err != nil {
		return time.Time{}, err
	}
	until := now.AddDate(0, 0, l.cfg.DoubleStatsDays)
	if err := l.accounts.SetDoubleStats(ctx, identity, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// GrantVIP extends the VIP entitlement by the given number of days,
// stacking on a still-active entitlement.
func (l *Ledger) GrantVIP(ctx context.Context, identity string, days int, now time.Time) (time.Time, error) {
	a, err := l.accounts.Get(ctx, identity)
	if err != nil {
		return time.Time{}, err
	}
	base := now
	if a.VIP(now) {
		base = *a.VIPExpiresAt
	}
	until := base.AddDate(0, 0, days)
	if err := l.accounts.SetVIP(ctx, identity, &until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

func (l *Ledger) RevokeVIP(ctx context.Context, identity string) error {
	return l.accounts.SetVIP(ctx, identity, nil)
}

// GenerateCodes mints n single-use VIP entitlement codes.
func (l *Ledger) GenerateCodes(ctx context.Context, createdBy string, n int) ([]string, error) {
	if n <= 0 || n > 100 {
		return nil, fmt.Errorf("%w: code count out of range", domain.ErrValidation)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code := formatCode(uuid.NewString())
		if err := l.codes.Insert(ctx, code, createdBy); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// RedeemCode burns a code and stacks the VIP days it carries. Unknown or
// already-spent codes fail with domain.ErrNotFound.
func (l *Ledger) RedeemCode(ctx context.Context, identity, code string, now time.Time) (time.Time, error) {
	if err := l.codes.Redeem(ctx, strings.ToUpper(strings.TrimSpace(code)), identity, now); err != nil {
		return time.Time{}, err
	}
	return l.GrantVIP(ctx, identity, l.cfg.CodeVIPDays, now)
}

func formatCode(id string) string {
	hex := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	return fmt.Sprintf("VIP-%s-%s-%s", hex[0:4], hex[4:8], hex[8:12])
}
