package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bakery-system/internal/domain"
)

type accountsPG struct {
	db *sql.DB
}

func NewAccountsPG(db *sql.DB) Accounts {
	return &accountsPG{db: db}
}

const accountColumns = `identity, balance, weekly_prep, lifetime_prep, weekly_deliver, lifetime_deliver,
	vip_expires_at, double_stats_until, strike_count, suspended_until, permanently_suspended,
	last_daily_at, last_overflow_bypass`

// ensure creates the zero-balance record on first interaction.
func (r *accountsPG) ensure(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (identity) VALUES ($1) ON CONFLICT (identity) DO NOTHING
	`, identity)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (r *accountsPG) Get(ctx context.Context, identity string) (*domain.Account, error) {
	if err := r.ensure(ctx, identity); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE identity=$1`, identity)
	var a domain.Account
	err := row.Scan(&a.Identity, &a.Balance,
		&a.WeeklyPrep, &a.LifetimePrep, &a.WeeklyDeliver, &a.LifetimeDeliver,
		&a.VIPExpiresAt, &a.DoubleStatsUntil,
		&a.StrikeCount, &a.SuspendedUntil, &a.PermanentlySuspended,
		&a.LastDailyAt, &a.LastOverflowBypass)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func (r *accountsPG) Credit(ctx context.Context, identity string, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (identity, balance) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
	`, identity, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// Debit carries its funds check inside the update so two simultaneous debits
// of the same account cannot both pass a stale read.
func (r *accountsPG) Debit(ctx context.Context, identity string, amount int64) error {
	if err := r.ensure(ctx, identity); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $2 WHERE identity=$1 AND balance >= $2
	`, identity, amount)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (r *accountsPG) Transfer(ctx context.Context, from, to string, amount int64) error {
	if err := r.ensure(ctx, from); err != nil {
		return err
	}
	if err := r.ensure(ctx, to); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $2 WHERE identity=$1 AND balance >= $2
	`, from, amount)
	if err != nil {
		return fmt.Errorf("transfer debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $2 WHERE identity=$1
	`, to, amount); err != nil {
		return fmt.Errorf("transfer credit: %w", err)
	}
	return tx.Commit()
}

func (r *accountsPG) AddCounter(ctx context.Context, identity string, kind domain.CounterKind, weight int) error {
	if err := r.ensure(ctx, identity); err != nil {
		return err
	}
	var query string
	switch kind {
	case domain.CounterPrep:
		query = `UPDATE accounts SET weekly_prep = weekly_prep + $2, lifetime_prep = lifetime_prep + $2 WHERE identity=$1`
	case domain.CounterDeliver:
		query = `UPDATE accounts SET weekly_deliver = weekly_deliver + $2, lifetime_deliver = lifetime_deliver + $2 WHERE identity=$1`
	default:
		return fmt.Errorf("%w: unknown counter kind %q", domain.ErrValidation, kind)
	}
	if _, err := r.db.ExecContext(ctx, query, identity, weight); err != nil {
		return fmt.Errorf("add counter: %w", err)
	}
	return nil
}

func (r *accountsPG) AddStrike(ctx context.Context, identity string) (int, error) {
	if err := r.ensure(ctx, identity); err != nil {
		return 0, err
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE accounts SET strike_count = strike_count + 1 WHERE identity=$1
		RETURNING strike_count
	`, identity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("add strike: %w", err)
	}
	return count, nil
}

func (r *accountsPG) SetSuspension(ctx context.Context, identity string, until *time.Time, permanent bool) error {
	if err := r.ensure(ctx, identity); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET suspended_until=$2, permanently_suspended=$3 WHERE identity=$1
	`, identity, until, permanent)
	if err != nil {
		return fmt.Errorf("set suspension: %w", err)
	}
	return nil
}

func (r *accountsPG) ClearDiscipline(ctx context.Context, identity string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET strike_count=0, suspended_until=NULL, permanently_suspended=FALSE
		WHERE identity=$1
	`, identity)
	if err != nil {
		return fmt.Errorf("clear discipline: %w", err)
	}
	return nil
}

func (r *accountsPG) SetVIP(ctx context.Context, identity string, until *time.Time) error {
	if err := r.ensure(ctx, identity); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET vip_expires_at=$2 WHERE identity=$1`, identity, until)
	if err != nil {
		return fmt.Errorf("set vip: %w", err)
	}
	return nil
}

func (r *accountsPG) SetDoubleStats(ctx context.Context, identity string, until time.Time) error {
	if err := r.ensure(ctx, identity); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET double_stats_until=$2 WHERE identity=$1`, identity, until)
	if err != nil {
		return fmt.Errorf("set double stats: %w", err)
	}
	return nil
}

func (r *accountsPG) ClaimDaily(ctx context.Context, identity string, now, cutoff time.Time, amount int64) (bool, error) {
	if err := r.ensure(ctx, identity); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $4, last_daily_at = $2
		WHERE identity=$1 AND (last_daily_at IS NULL OR last_daily_at <= $3)
	`, identity, now, cutoff, amount)
	if err != nil {
		return false, fmt.Errorf("claim daily: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *accountsPG) MarkOverflowBypass(ctx context.Context, identity string, now, cutoff time.Time) (bool, error) {
	if err := r.ensure(ctx, identity); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_overflow_bypass = $2
		WHERE identity=$1 AND (last_overflow_bypass IS NULL OR last_overflow_bypass <= $3)
	`, identity, now, cutoff)
	if err != nil {
		return false, fmt.Errorf("mark overflow bypass: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *accountsPG) ListWithWeeklyActivity(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE weekly_prep > 0 OR weekly_deliver > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Identity, &a.Balance,
			&a.WeeklyPrep, &a.LifetimePrep, &a.WeeklyDeliver, &a.LifetimeDeliver,
			&a.VIPExpiresAt, &a.DoubleStatsUntil,
			&a.StrikeCount, &a.SuspendedUntil, &a.PermanentlySuspended,
			&a.LastDailyAt, &a.LastOverflowBypass); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *accountsPG) ResetWeekly(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET weekly_prep=0, weekly_deliver=0 WHERE identity = ANY($1::text[])
	`, textArray(identities))
	if err != nil {
		return fmt.Errorf("reset weekly: %w", err)
	}
	return nil
}
