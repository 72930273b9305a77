package discipline

import (
	"context"
	"fmt"
	"time"

	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/repository"
)

// Suspension ladder. The timed rungs fire only when the total lands
// exactly on them; any other count below permanent is a warning.
const (
	rungWeek      = 3
	rungMonth     = 6
	rungPermanent = 9

	weekSuspension  = 7 * 24 * time.Hour
	monthSuspension = 30 * 24 * time.Hour
)

// Penalty describes what a strike application resulted in.
type Penalty struct {
	Count          int
	SuspendedUntil *time.Time
	Permanent      bool
	// Warning means this strike did not land on a suspension rung.
	Warning bool
}

// Engine applies the strike ladder and owns manual bans. Notification of
// the offender and the audit trail are best-effort: the penalty stands even
// when the broker is down.
type Engine struct {
	accounts repository.Accounts
	notifier notify.Notifier
	log      *logger.Logger
}

func New(accounts repository.Accounts, notifier notify.Notifier, log *logger.Logger) *Engine {
	return &Engine{accounts: accounts, notifier: notifier, log: log}
}

// ApplyStrike increments the identity's strike total and applies the
// penalty the new total lands on.
func (e *Engine) ApplyStrike(ctx context.Context, identity, reason string, now time.Time) (Penalty, error) {
	count, err := e.accounts.AddStrike(ctx, identity)
	if err != nil {
		return Penalty{}, err
	}

	p := Penalty{Count: count}
	switch {
	case count >= rungPermanent:
		p.Permanent = true
		err = e.accounts.SetSuspension(ctx, identity, nil, true)
	case count == rungMonth:
		until := now.Add(monthSuspension)
		p.SuspendedUntil = &until
		err = e.accounts.SetSuspension(ctx, identity, &until, false)
	case count == rungWeek:
		until := now.Add(weekSuspension)
		p.SuspendedUntil = &until
		err = e.accounts.SetSuspension(ctx, identity, &until, false)
	default:
		p.Warning = true
	}
	if err != nil {
		return Penalty{}, err
	}

	e.announce(ctx, identity, reason, p)
	return p, nil
}

// Ban suspends the identity for the given number of days, or permanently
// when days is zero. It does not touch the strike total.
func (e *Engine) Ban(ctx context.Context, identity string, days int, reason string, now time.Time) error {
	if days < 0 {
		return fmt.Errorf("%w: ban days must be >= 0", domain.ErrValidation)
	}
	var (
		until     *time.Time
		permanent bool
	)
	if days == 0 {
		permanent = true
	} else {
		t := now.AddDate(0, 0, days)
		until = &t
	}
	if err := e.accounts.SetSuspension(ctx, identity, until, permanent); err != nil {
		return err
	}
	e.announce(ctx, identity, reason, Penalty{SuspendedUntil: until, Permanent: permanent})
	return nil
}

// Unban lifts any suspension and zeroes the strike total.
func (e *Engine) Unban(ctx context.Context, identity string) error {
	return e.accounts.ClearDiscipline(ctx, identity)
}

func (e *Engine) announce(ctx context.Context, identity, reason string, p Penalty) {
	text := describe(reason, p)
	if err := e.notifier.User(ctx, identity, notify.KindDiscipline, "", text); err != nil {
		e.log.Error("discipline_notify_failed", err, map[string]any{"identity": identity})
	}
	if err := e.notifier.Audit(ctx, notify.KeyAuditDiscipline, map[string]any{
		"identity":  identity,
		"reason":    reason,
		"strikes":   p.Count,
		"permanent": p.Permanent,
		"until":     p.SuspendedUntil,
	}); err != nil {
		e.log.Error("discipline_audit_failed", err, map[string]any{"identity": identity})
	}
}

func describe(reason string, p Penalty) string {
	switch {
	case p.Permanent:
		return fmt.Sprintf("You have been permanently suspended. Reason: %s", reason)
	case p.SuspendedUntil != nil:
		return fmt.Sprintf("You have been suspended until %s. Reason: %s",
			p.SuspendedUntil.UTC().Format(time.RFC1123), reason)
	default:
		return fmt.Sprintf("You received a strike (%d total). Reason: %s", p.Count, reason)
	}
}
