package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/domain"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func pendingOrder(t *testing.T, store *Store, id string) {
	t.Helper()
	require.NoError(t, store.Orders.Insert(context.Background(), &domain.Order{
		ID: id, RequesterID: "u1", Item: "croissant",
		Tier: domain.TierStandard, Status: domain.StatusPending, CreatedAt: t0,
	}))
}

func TestConditionalTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	pendingOrder(t, store, "o1")

	require.NoError(t, store.Orders.Claim(ctx, "o1", "prep-1", t0))
	assert.ErrorIs(t, store.Orders.Claim(ctx, "o1", "prep-2", t0), domain.ErrStateConflict)
	assert.ErrorIs(t, store.Orders.Claim(ctx, "missing", "prep-1", t0), domain.ErrNotFound)

	// Only the claim owner can start preparing.
	assert.ErrorIs(t, store.Orders.StartPreparing(ctx, "o1", "prep-2", nil, t0), domain.ErrStateConflict)
	require.NoError(t, store.Orders.StartPreparing(ctx, "o1", "prep-1", []string{"p1"}, t0))

	require.NoError(t, store.Orders.MarkReady(ctx, "o1", t0))
	assert.ErrorIs(t, store.Orders.MarkReady(ctx, "o1", t0), domain.ErrStateConflict)

	require.NoError(t, store.Orders.StartDispatch(ctx, "o1", "courier-1", t0))
	assert.ErrorIs(t, store.Orders.CompleteDelivery(ctx, "o1", "courier-2"), domain.ErrStateConflict)
	require.NoError(t, store.Orders.CompleteDelivery(ctx, "o1", "courier-1"))

	o, err := store.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, o.Status)
	assert.Equal(t, []string{"p1"}, o.Proofs)
}

func TestConcurrentClaims(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	pendingOrder(t, store, "o1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := fmt.Sprintf("prep-%d", i)
			if err := store.Orders.Claim(ctx, "o1", who, t0); err == nil {
				mu.Lock()
				wins = append(wins, who)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	o, err := store.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, o.PreparerID)
	assert.Equal(t, wins[0], *o.PreparerID)
}

func TestForceDeliverStalenessGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	pendingOrder(t, store, "o1")
	require.NoError(t, store.Orders.Claim(ctx, "o1", "prep-1", t0))
	require.NoError(t, store.Orders.StartPreparing(ctx, "o1", "prep-1", nil, t0))
	require.NoError(t, store.Orders.MarkReady(ctx, "o1", t0))

	// Not yet stale relative to the cutoff.
	assert.ErrorIs(t, store.Orders.ForceDeliver(ctx, "o1", domain.SystemCourier, t0), domain.ErrStateConflict)

	require.NoError(t, store.Orders.ForceDeliver(ctx, "o1", domain.SystemCourier, t0.Add(time.Minute)))
	assert.ErrorIs(t, store.Orders.ForceDeliver(ctx, "o1", domain.SystemCourier, t0.Add(time.Minute)), domain.ErrStateConflict)
}

func TestConcurrentDebits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Accounts.Credit(ctx, "u1", 100))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Accounts.Debit(ctx, "u1", 60); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "only one debit may pass the funds check")
	a, err := store.Accounts.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), a.Balance)
}

func TestSetTerminalFromSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	pendingOrder(t, store, "o1")

	err := store.Orders.SetTerminal(ctx, "o1",
		[]domain.Status{domain.StatusReady}, domain.StatusCancelledPreDispatch)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	require.NoError(t, store.Orders.SetTerminal(ctx, "o1",
		[]domain.Status{domain.StatusPending, domain.StatusClaimed}, domain.StatusCancelledPreCook))

	o, err := store.Orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelledPreCook, o.Status)
}
