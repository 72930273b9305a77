package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/repository"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func readyOrder(t *testing.T, store *repository.Store, id string, readyAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Orders.Insert(ctx, &domain.Order{
		ID: id, RequesterID: "u-" + id, Item: "baguette",
		Tier: domain.TierStandard, Status: domain.StatusPending, CreatedAt: readyAt.Add(-10 * time.Minute),
	}))
	require.NoError(t, store.Orders.Claim(ctx, id, "prep-1", readyAt.Add(-8*time.Minute)))
	require.NoError(t, store.Orders.StartPreparing(ctx, id, "prep-1", nil, readyAt.Add(-5*time.Minute)))
	require.NoError(t, store.Orders.MarkReady(ctx, id, readyAt))
}

func TestSweepForceDeliversStaleOrders(t *testing.T) {
	store := repository.NewMemoryStore()
	rec := notify.NewRecorder()
	s := New(store.Orders, rec, logger.New("sweeper-test"), config.DefaultEngine())
	ctx := context.Background()

	readyOrder(t, store, "stale", t0.Add(-30*time.Minute))
	readyOrder(t, store, "fresh", t0.Add(-5*time.Minute))

	swept, err := s.SweepOnce(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	o, err := store.Orders.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, o.Status)
	require.NotNil(t, o.CourierID)
	assert.Equal(t, domain.SystemCourier, *o.CourierID)

	o, err = store.Orders.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, o.Status, "orders inside the timeout stay in the pool")

	// The system marker never earns a payout or counters.
	a, err := store.Accounts.Get(ctx, domain.SystemCourier)
	require.NoError(t, err)
	assert.Zero(t, a.Balance)
	assert.Zero(t, a.WeeklyDeliver)

	msgs := rec.UserMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u-stale", msgs[0].Recipient)
}

func TestSweepIsIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	s := New(store.Orders, notify.NewRecorder(), logger.New("sweeper-test"), config.DefaultEngine())
	ctx := context.Background()

	readyOrder(t, store, "stale", t0.Add(-time.Hour))

	swept, err := s.SweepOnce(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	swept, err = s.SweepOnce(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, swept, "a delivered order is not swept twice")
}

func TestSweepLosesRaceGracefully(t *testing.T) {
	store := repository.NewMemoryStore()
	s := New(store.Orders, notify.NewRecorder(), logger.New("sweeper-test"), config.DefaultEngine())
	ctx := context.Background()

	readyOrder(t, store, "o1", t0.Add(-time.Hour))
	// A courier takes the order between the sweep's list and its write.
	require.NoError(t, store.Orders.StartDispatch(ctx, "o1", "courier-1", t0))

	swept, err := s.SweepOnce(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, swept)

	o, err := store.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispatching, o.Status)
}
