package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bakery-system/internal/domain"
)

type ordersPG struct {
	db *sql.DB
}

func NewOrdersPG(db *sql.DB) Orders {
	return &ordersPG{db: db}
}

const orderColumns = `id, requester_id, community_id, channel_id, item, tier, cost, status,
	preparer_id, courier_id, created_at, claimed_at, prep_started_at, ready_at, dispatch_started_at,
	rating, feedback, rated, complaint`

func (r *ordersPG) Insert(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
			(id, requester_id, community_id, channel_id, item, tier, cost, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, o.ID, o.RequesterID, o.Destination.CommunityID, o.Destination.ChannelID,
		o.Item, string(o.Tier), o.Cost, string(o.Status), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := logStatus(ctx, tx, o.ID, o.Status, o.RequesterID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ordersPG) Get(ctx context.Context, id string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	proofs, err := r.proofs(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Proofs = proofs
	return o, nil
}

func (r *ordersPG) proofs(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ref FROM order_proofs WHERE order_id=$1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get proofs: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *ordersPG) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE status='pending'`).Scan(&n)
	return n, err
}

func (r *ordersPG) CountActiveByRequester(ctx context.Context, requester string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE requester_id=$1 AND status = ANY($2::text[])`,
		requester, statusArray(domain.ActiveStatuses)).Scan(&n)
	return n, err
}

func (r *ordersPG) ListActive(ctx context.Context) ([]domain.Order, error) {
	// VIP and urgent tiers first, then oldest first.
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1::text[])
		ORDER BY (tier <> 'standard') DESC, created_at ASC
	`, statusArray(domain.ActiveStatuses))
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *ordersPG) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ANY($1::text[]) ORDER BY created_at ASC`,
		statusArray(statuses))
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *ordersPG) ListStaleReady(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status='ready' AND ready_at < $1`, before)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (r *ordersPG) Claim(ctx context.Context, id, preparer string, at time.Time) error {
	return r.transition(ctx, id, domain.StatusClaimed, preparer, `
		UPDATE orders SET status='claimed', preparer_id=$2, claimed_at=$3, updated_at=now()
		WHERE id=$1 AND status='pending'
	`, id, preparer, at)
}

func (r *ordersPG) ReleaseClaim(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPending, "engine", `
		UPDATE orders SET status='pending', preparer_id=NULL, claimed_at=NULL, updated_at=now()
		WHERE id=$1 AND status='claimed'
	`, id)
}

func (r *ordersPG) StartPreparing(ctx context.Context, id, preparer string, proofs []string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status='preparing', prep_started_at=$3, updated_at=now()
		WHERE id=$1 AND status='claimed' AND preparer_id=$2
	`, id, preparer, at)
	if err != nil {
		return fmt.Errorf("start preparing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	for i, ref := range proofs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_proofs (order_id, position, ref) VALUES ($1,$2,$3)
		`, id, i, ref); err != nil {
			return fmt.Errorf("insert proof: %w", err)
		}
	}
	if err := logStatus(ctx, tx, id, domain.StatusPreparing, preparer); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ordersPG) MarkReady(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, domain.StatusReady, "engine", `
		UPDATE orders SET status='ready', ready_at=$2, updated_at=now()
		WHERE id=$1 AND status='preparing'
	`, id, at)
}

func (r *ordersPG) StartDispatch(ctx context.Context, id, courier string, at time.Time) error {
	return r.transition(ctx, id, domain.StatusDispatching, courier, `
		UPDATE orders SET status='dispatching', courier_id=$2, dispatch_started_at=$3, updated_at=now()
		WHERE id=$1 AND status='ready'
	`, id, courier, at)
}

func (r *ordersPG) AbortDispatch(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusReady, "engine", `
		UPDATE orders SET status='ready', courier_id=NULL, dispatch_started_at=NULL, updated_at=now()
		WHERE id=$1 AND status='dispatching'
	`, id)
}

func (r *ordersPG) CompleteDelivery(ctx context.Context, id, courier string) error {
	return r.transition(ctx, id, domain.StatusDelivered, courier, `
		UPDATE orders SET status='delivered', updated_at=now()
		WHERE id=$1 AND status='dispatching' AND courier_id=$2
	`, id, courier)
}

func (r *ordersPG) ForceDeliver(ctx context.Context, id, marker string, before time.Time) error {
	return r.transition(ctx, id, domain.StatusDelivered, marker, `
		UPDATE orders SET status='delivered', courier_id=$2, updated_at=now()
		WHERE id=$1 AND status='ready' AND ready_at < $3
	`, id, marker, before)
}

func (r *ordersPG) SetTerminal(ctx context.Context, id string, from []domain.Status, to domain.Status) error {
	return r.transition(ctx, id, to, "engine", `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3::text[])
	`, id, string(to), statusArray(from))
}

func (r *ordersPG) SetRating(ctx context.Context, id string, stars int, feedback string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET rating=$2, feedback=$3, rated=TRUE, updated_at=now()
		WHERE id=$1 AND status='delivered' AND NOT rated
	`, id, stars, feedback)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	return nil
}

func (r *ordersPG) SetComplaint(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET complaint=$2, updated_at=now() WHERE id=$1`, id, reason)
	if err != nil {
		return fmt.Errorf("set complaint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// transition runs one conditional status update plus its audit-log append in
// a transaction. Zero rows affected means the record left the expected state
// first (or never existed); callers get the taxonomy error, never a partial
// write.
func (r *ordersPG) transition(ctx context.Context, id string, to domain.Status, actor, query string, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	if err := logStatus(ctx, tx, id, to, actor); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ordersPG) conflictOrMissing(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrStateConflict
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func logStatus(ctx context.Context, tx execer, id string, status domain.Status, actor string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at)
		VALUES ($1,$2,$3,now())
	`, id, string(status), actor)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                 domain.Order
		tier, status      string
		preparer, courier sql.NullString
		feedback, compl   sql.NullString
		rating            sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.RequesterID, &o.Destination.CommunityID, &o.Destination.ChannelID,
		&o.Item, &tier, &o.Cost, &status, &preparer, &courier,
		&o.CreatedAt, &o.ClaimedAt, &o.PrepStartedAt, &o.ReadyAt, &o.DispatchStartedAt,
		&rating, &feedback, &o.Rated, &compl)
	if err != nil {
		return nil, err
	}
	o.Tier = domain.Tier(tier)
	o.Status = domain.Status(status)
	if preparer.Valid {
		o.PreparerID = &preparer.String
	}
	if courier.Valid {
		o.CourierID = &courier.String
	}
	o.Rating = int(rating.Int64)
	o.Feedback = feedback.String
	o.Complaint = compl.String
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// textArray renders values as a Postgres text[] literal; the pgx stdlib
// driver accepts it for ANY($n::text[]) parameters.
func textArray(values []string) string {
	return "{" + strings.Join(values, ",") + "}"
}

func statusArray(statuses []domain.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return textArray(parts)
}
