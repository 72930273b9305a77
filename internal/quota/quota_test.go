package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/config"
	"bakery-system/internal/discipline"
	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
	"bakery-system/internal/repository"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	auditor *Auditor
	store   *repository.Store
	gw      *platform.Fake
	rec     *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	gw := platform.NewFake()
	rec := notify.NewRecorder()
	lg := logger.New("quota-test")
	disc := discipline.New(store.Accounts, rec, lg)
	return &fixture{
		auditor: New(store, gw, disc, rec, lg, config.DefaultEngine()),
		store:   store,
		gw:      gw,
		rec:     rec,
	}
}

func (f *fixture) staff(t *testing.T, identity string, role domain.RoleClass, prep, deliver int) {
	t.Helper()
	f.gw.SetCapabilities(identity, domain.Capabilities{CanPrepare: true, CanDeliver: true, Role: role})
	ctx := context.Background()
	if prep > 0 {
		require.NoError(t, f.store.Accounts.AddCounter(ctx, identity, domain.CounterPrep, prep))
	}
	if deliver > 0 {
		require.NoError(t, f.store.Accounts.AddCounter(ctx, identity, domain.CounterDeliver, deliver))
	}
}

func TestGlobalTargetClamping(t *testing.T) {
	cfg := config.DefaultEngine()
	assert.Equal(t, 5, globalTarget(0, 0, cfg), "dead week still yields the floor")
	assert.Equal(t, 5, globalTarget(4, 1, cfg))
	assert.Equal(t, 10, globalTarget(30, 3, cfg))
	assert.Equal(t, 10, globalTarget(28, 3, cfg), "ceil division")
	assert.Equal(t, 30, globalTarget(1000, 2, cfg), "capped at the ceiling")
}

func TestRoleTargets(t *testing.T) {
	cfg := config.DefaultEngine()
	assert.Equal(t, 0, roleTarget(domain.RoleExempt, 20, cfg))
	assert.Equal(t, 5, roleTarget(domain.RoleTrainee, 20, cfg))
	assert.Equal(t, 10, roleTarget(domain.RoleSenior, 20, cfg))
	assert.Equal(t, 11, roleTarget(domain.RoleSenior, 21, cfg))
	assert.Equal(t, 20, roleTarget(domain.RoleStandard, 20, cfg))
}

func TestRunStrikesShortfallsAndResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three staff, 30 units total -> global target 10.
	f.staff(t, "busy", domain.RoleStandard, 15, 5)
	f.staff(t, "senior", domain.RoleSenior, 5, 0)
	f.staff(t, "slacker", domain.RoleStandard, 3, 2)

	rep, err := f.auditor.Run(ctx, t0)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 10, rep.GlobalTarget)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, []string{"slacker"}, rep.Struck, "senior meets the halved target")
	assert.Equal(t, "busy", rep.MVP)

	a, err := f.store.Accounts.Get(ctx, "slacker")
	require.NoError(t, err)
	assert.Equal(t, 1, a.StrikeCount)

	mvp, err := f.store.Accounts.Get(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), mvp.Balance)

	// Weekly counters reset for everyone processed; lifetime survives.
	for _, id := range []string{"busy", "senior", "slacker"} {
		a, err := f.store.Accounts.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, a.WeeklyPrep, id)
		assert.Zero(t, a.WeeklyDeliver, id)
		assert.Positive(t, a.LifetimePrep+a.LifetimeDeliver, id)
	}
}

func TestRunSkipsExemptAndTrainee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.staff(t, "vacation", domain.RoleExempt, 0, 0)
	f.staff(t, "newbie", domain.RoleTrainee, 5, 0)
	f.staff(t, "workhorse", domain.RoleStandard, 30, 30)

	rep, err := f.auditor.Run(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, rep.Struck)
	assert.Equal(t, 2, rep.Checked, "exempt members are not audited")

	a, err := f.store.Accounts.Get(ctx, "vacation")
	require.NoError(t, err)
	assert.Zero(t, a.StrikeCount)
}

func TestRunHonorsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.staff(t, "slacker", domain.RoleStandard, 0, 1)

	rep, err := f.auditor.Run(ctx, t0)
	require.NoError(t, err)
	require.Len(t, rep.Struck, 1)

	// Re-running inside the minimum interval is a no-op.
	f.staff(t, "slacker", domain.RoleStandard, 0, 1)
	rep, err = f.auditor.Run(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, rep.Skipped)

	a, err := f.store.Accounts.Get(ctx, "slacker")
	require.NoError(t, err)
	assert.Equal(t, 1, a.StrikeCount, "no double strike inside the window")

	rep, err = f.auditor.Run(ctx, t0.Add(80*time.Hour))
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
}
