package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bakery-system/internal/domain"
)

type codesPG struct{ db *sql.DB }

func NewCodesPG(db *sql.DB) Codes { return &codesPG{db: db} }

func (r *codesPG) Insert(ctx context.Context, code, createdBy string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entitlement_codes (code, created_by, created_at) VALUES ($1,$2,now())
	`, code, createdBy)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// Redeem is the single-use guard: the conditional update wins for exactly
// one concurrent redeemer.
func (r *codesPG) Redeem(ctx context.Context, code, identity string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE entitlement_codes SET redeemed_by=$2, redeemed_at=$3
		WHERE code=$1 AND redeemed_by IS NULL
	`, code, identity, at)
	if err != nil {
		return fmt.Errorf("redeem code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scriptsPG struct{ db *sql.DB }

func NewScriptsPG(db *sql.DB) Scripts { return &scriptsPG{db: db} }

func (r *scriptsPG) Set(ctx context.Context, identity, text string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courier_scripts (identity, script) VALUES ($1,$2)
		ON CONFLICT (identity) DO UPDATE SET script = EXCLUDED.script
	`, identity, text)
	if err != nil {
		return fmt.Errorf("set script: %w", err)
	}
	return nil
}

func (r *scriptsPG) Get(ctx context.Context, identity string) (string, error) {
	var s string
	err := r.db.QueryRowContext(ctx,
		`SELECT script FROM courier_scripts WHERE identity=$1`, identity).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return s, err
}

type blacklistPG struct{ db *sql.DB }

func NewBlacklistPG(db *sql.DB) Blacklist { return &blacklistPG{db: db} }

func (r *blacklistPG) Add(ctx context.Context, communityID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO destination_blacklist (community_id, reason) VALUES ($1,$2)
		ON CONFLICT (community_id) DO UPDATE SET reason = EXCLUDED.reason
	`, communityID, reason)
	if err != nil {
		return fmt.Errorf("blacklist add: %w", err)
	}
	return nil
}

func (r *blacklistPG) Remove(ctx context.Context, communityID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM destination_blacklist WHERE community_id=$1`, communityID)
	if err != nil {
		return fmt.Errorf("blacklist remove: %w", err)
	}
	return nil
}

func (r *blacklistPG) Contains(ctx context.Context, communityID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM destination_blacklist WHERE community_id=$1`, communityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type markersPG struct{ db *sql.DB }

func NewMarkersPG(db *sql.DB) Markers { return &markersPG{db: db} }

func (r *markersPG) Get(ctx context.Context, key string) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT stamped_at FROM job_markers WHERE key=$1`, key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *markersPG) Set(ctx context.Context, key string, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_markers (key, stamped_at) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET stamped_at = EXCLUDED.stamped_at
	`, key, t)
	if err != nil {
		return fmt.Errorf("set marker: %w", err)
	}
	return nil
}

// NewStorePG wires every repository over one database handle.
func NewStorePG(db *sql.DB) *Store {
	return &Store{
		Orders:    NewOrdersPG(db),
		Accounts:  NewAccountsPG(db),
		Codes:     NewCodesPG(db),
		Scripts:   NewScriptsPG(db),
		Blacklist: NewBlacklistPG(db),
		Markers:   NewMarkersPG(db),
	}
}
