package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusClaimed, true},
		{StatusPending, StatusCancelledPreCook, true},
		{StatusClaimed, StatusPending, true},
		{StatusClaimed, StatusPreparing, true},
		{StatusPreparing, StatusReady, true},
		{StatusReady, StatusDispatching, true},
		{StatusReady, StatusDelivered, true},
		{StatusReady, StatusCancelledPreDispatch, true},
		{StatusDispatching, StatusReady, true},
		{StatusDispatching, StatusDelivered, true},

		{StatusPending, StatusReady, false},
		{StatusPending, StatusDelivered, false},
		{StatusClaimed, StatusReady, false},
		{StatusPreparing, StatusPending, false},
		{StatusPreparing, StatusDelivered, false},
		{StatusDelivered, StatusReady, false},
		{StatusDelivered, StatusRefunded, false},
		{StatusRefunded, StatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestDeliveredIsTerminal(t *testing.T) {
	for _, to := range []Status{StatusPending, StatusClaimed, StatusPreparing, StatusReady,
		StatusDispatching, StatusRefunded, StatusCancelledPost} {
		assert.False(t, CanTransition(StatusDelivered, to))
	}
}

func TestActive(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusDispatching.Active())
	assert.False(t, StatusDelivered.Active())
	assert.False(t, StatusCancelledPreCook.Active())
	assert.False(t, StatusRefunded.Active())
}

func TestAccountFlags(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	a := Account{Identity: "u1"}
	assert.False(t, a.VIP(now))
	assert.False(t, a.Blocked(now))

	a.VIPExpiresAt = &later
	assert.True(t, a.VIP(now))
	a.VIPExpiresAt = &earlier
	assert.False(t, a.VIP(now))

	a.SuspendedUntil = &later
	assert.True(t, a.Blocked(now))
	a.SuspendedUntil = &earlier
	assert.False(t, a.Blocked(now))

	a.PermanentlySuspended = true
	assert.True(t, a.Blocked(now))
}
