package discipline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/repository"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *repository.Store, *notify.Recorder) {
	t.Helper()
	store := repository.NewMemoryStore()
	rec := notify.NewRecorder()
	return New(store.Accounts, rec, logger.New("discipline-test")), store, rec
}

func TestStrikeLadder(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		p, err := e.ApplyStrike(ctx, "w1", "late", t0)
		require.NoError(t, err)
		assert.Equal(t, i, p.Count)
		assert.True(t, p.Warning)
		assert.Nil(t, p.SuspendedUntil)
	}

	p, err := e.ApplyStrike(ctx, "w1", "late", t0)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
	require.NotNil(t, p.SuspendedUntil)
	assert.Equal(t, t0.Add(7*24*time.Hour), *p.SuspendedUntil)

	for i := 4; i <= 5; i++ {
		p, err = e.ApplyStrike(ctx, "w1", "late", t0)
		require.NoError(t, err)
		assert.True(t, p.Warning, "counts between rungs are warning-only")
		assert.Nil(t, p.SuspendedUntil)
	}

	p, err = e.ApplyStrike(ctx, "w1", "late", t0)
	require.NoError(t, err)
	assert.Equal(t, 6, p.Count)
	require.NotNil(t, p.SuspendedUntil)
	assert.Equal(t, t0.Add(30*24*time.Hour), *p.SuspendedUntil)

	for p.Count < 9 {
		p, err = e.ApplyStrike(ctx, "w1", "late", t0)
		require.NoError(t, err)
	}
	assert.True(t, p.Permanent)
}

func TestStrikeBetweenRungsDoesNotReArmSuspension(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	var (
		p   Penalty
		err error
	)
	for i := 0; i < 4; i++ {
		p, err = e.ApplyStrike(ctx, "w1", "late", t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, 4, p.Count)
	assert.True(t, p.Warning)
	assert.Nil(t, p.SuspendedUntil)

	// The suspension on record is still the one armed by the third strike.
	a, err := store.Accounts.Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, a.SuspendedUntil)
	assert.Equal(t, t0.Add(2*time.Hour).Add(7*24*time.Hour), *a.SuspendedUntil)
}

func TestStrikeNotifiesAndAudits(t *testing.T) {
	e, _, rec := newEngine(t)
	_, err := e.ApplyStrike(context.Background(), "w1", "missed quota", t0)
	require.NoError(t, err)

	msgs := rec.UserMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "w1", msgs[0].Recipient)
	assert.Equal(t, notify.KindDiscipline, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "missed quota")
	assert.Equal(t, 1, rec.AuditCount())
}

func TestBanAndUnban(t *testing.T) {
	e, store, _ := newEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Ban(ctx, "w1", 7, "abuse", t0))
	a, err := store.Accounts.Get(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, a.Blocked(t0.AddDate(0, 0, 6)))
	assert.False(t, a.Blocked(t0.AddDate(0, 0, 8)))

	// days=0 is a permanent ban.
	require.NoError(t, e.Ban(ctx, "w2", 0, "fraud", t0))
	a, err = store.Accounts.Get(ctx, "w2")
	require.NoError(t, err)
	assert.True(t, a.Blocked(t0.AddDate(10, 0, 0)))

	require.NoError(t, e.Unban(ctx, "w2"))
	a, err = store.Accounts.Get(ctx, "w2")
	require.NoError(t, err)
	assert.False(t, a.Blocked(t0))
	assert.Zero(t, a.StrikeCount)

	assert.ErrorIs(t, e.Ban(ctx, "w3", -1, "", t0), domain.ErrValidation)
}
