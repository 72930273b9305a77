package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
	"bakery-system/internal/repository"
)

func newLedger(t *testing.T) (*Ledger, *repository.Store) {
	t.Helper()
	store := repository.NewMemoryStore()
	return New(store.Accounts, store.Codes, config.DefaultEngine()), store
}

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func TestChargeInsufficientFunds(t *testing.T) {
	led, store := newLedger(t)
	ctx := context.Background()

	require.NoError(t, store.Accounts.Credit(ctx, "u1", 80))
	err := led.Charge(ctx, "u1", 100)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	a, err := store.Accounts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), a.Balance, "failed charge must not move funds")
}

func TestDaily(t *testing.T) {
	led, store := newLedger(t)
	ctx := context.Background()

	amount, err := led.Daily(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount)

	_, err = led.Daily(ctx, "u1", t0.Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	amount, err = led.Daily(ctx, "u1", t0.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount)

	// VIP members draw the larger allowance.
	until := t0.AddDate(0, 1, 0)
	require.NoError(t, store.Accounts.SetVIP(ctx, "vip1", &until))
	amount, err = led.Daily(ctx, "vip1", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), amount)
}

func TestPayoutCountersAndDoubleStats(t *testing.T) {
	led, store := newLedger(t)
	ctx := context.Background()

	amount, err := led.Payout(ctx, "w1", domain.CounterPrep, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), amount)

	a, err := store.Accounts.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.WeeklyPrep)
	assert.Equal(t, int64(20), a.Balance)

	// Double stats doubles the counter weight, not the payout.
	require.NoError(t, store.Accounts.SetDoubleStats(ctx, "w1", t0.AddDate(0, 0, 30)))
	amount, err = led.Payout(ctx, "w1", domain.CounterDeliver, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(30), amount)

	a, err = store.Accounts.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.WeeklyDeliver)
	assert.Equal(t, int64(50), a.Balance)
}

func TestTipValidation(t *testing.T) {
	led, store := newLedger(t)
	ctx := context.Background()
	require.NoError(t, store.Accounts.Credit(ctx, "u1", 500))

	assert.ErrorIs(t, led.Tip(ctx, "u1", "u1", 100), domain.ErrValidation)
	assert.ErrorIs(t, led.Tip(ctx, "u1", "u2", 0), domain.ErrValidation)
	assert.ErrorIs(t, led.Tip(ctx, "u1", "u2", -5), domain.ErrValidation)
	assert.ErrorIs(t, led.Tip(ctx, "u1", "u2", 600), domain.ErrInsufficientFunds)

	require.NoError(t, led.Tip(ctx, "u1", "u2", 200))
	to, _ := store.Accounts.Get(ctx, "u2")
	from, _ := store.Accounts.Get(ctx, "u1")
	assert.Equal(t, int64(200), to.Balance)
	assert.Equal(t, int64(300), from.Balance)
}

func TestBuyDoubleStats(t *testing.T) {
	led, store := newLedger(t)
	ctx := context.Background()

	_, err := led.BuyDoubleStats(ctx, "w1", t0)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, store.Accounts.Credit(ctx, "w1", 15000))
	until, err := led.BuyDoubleStats(ctx, "w1", t0)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 30), until)

	a, _ := store.Accounts.Get(ctx, "w1")
	assert.Equal(t, int64(0), a.Balance)
	assert.True(t, a.DoubleStats(t0.AddDate(0, 0, 29)))
	assert.False(t, a.DoubleStats(t0.AddDate(0, 0, 31)))
}

func TestCodesSingleUse(t *testing.T) {
	led, _ := newLedger(t)
	ctx := context.Background()

	codes, err := led.GenerateCodes(ctx, "mgr", 3)
	require.NoError(t, err)
	require.Len(t, codes, 3)
	for _, c := range codes {
		assert.Regexp(t, `^VIP-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, c)
	}

	until, err := led.RedeemCode(ctx, "u1", codes[0], t0)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 30), until)

	_, err = led.RedeemCode(ctx, "u2", codes[0], t0)
	assert.ErrorIs(t, err, domain.ErrNotFound, "a spent code stays spent")

	_, err = led.RedeemCode(ctx, "u2", "VIP-DEAD-BEEF-0000", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGrantVIPStacks(t *testing.T) {
	led, _ := newLedger(t)
	ctx := context.Background()

	first, err := led.GrantVIP(ctx, "u1", 30, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 30), first)

	second, err := led.GrantVIP(ctx, "u1", 30, t0.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, 60), second, "active entitlements stack")

	require.NoError(t, led.RevokeVIP(ctx, "u1"))
	a, _ := led.Account(ctx, "u1")
	assert.False(t, a.VIP(t0))
}
