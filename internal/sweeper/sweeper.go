package sweeper

import (
	"context"
	"time"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/repository"
)

// Sweeper is the delivery failsafe. Orders that sit in ready past the
// timeout are force-completed under the system courier marker so requesters
// are not left waiting on a pool with no couriers. The system marker earns
// no payout and no counters.
type Sweeper struct {
	orders   repository.Orders
	notifier notify.Notifier
	log      *logger.Logger
	cfg      config.Engine
}

func New(orders repository.Orders, notifier notify.Notifier, log *logger.Logger, cfg config.Engine) *Sweeper {
	return &Sweeper{orders: orders, notifier: notifier, log: log, cfg: cfg}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval.Std())
	defer ticker.Stop()
	s.log.Info("sweeper_started", map[string]any{
		"interval":      s.cfg.SweepInterval.Std().String(),
		"ready_timeout": s.cfg.ReadyTimeout.Std().String(),
	})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper_stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx, time.Now().UTC()); err != nil {
				s.log.Error("sweep_failed", err, nil)
			}
		}
	}
}

// SweepOnce force-delivers every order whose ready timeout has elapsed and
// reports how many it closed. Safe to run concurrently with couriers and
// with other sweepers: the staleness guard inside ForceDeliver lets exactly
// one writer win each order.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ReadyTimeout.Std())
	stale, err := s.orders.ListStaleReady(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, o := range stale {
		err := s.orders.ForceDeliver(ctx, o.ID, domain.SystemCourier, cutoff)
		switch {
		case err == nil:
			swept++
			s.log.Info("order_force_delivered", map[string]any{"order_id": o.ID})
			if nerr := s.notifier.User(ctx, o.RequesterID, notify.KindOrderUpdate, o.ID,
				"No courier picked up your order in time, so it was completed automatically."); nerr != nil {
				s.log.Error("sweep_notify_failed", nerr, map[string]any{"order_id": o.ID})
			}
			if aerr := s.notifier.Audit(ctx, notify.KeyAuditOrder, map[string]any{
				"event":    "force_delivered",
				"order_id": o.ID,
			}); aerr != nil {
				s.log.Error("sweep_audit_failed", aerr, map[string]any{"order_id": o.ID})
			}
		default:
			// A courier took or finished the order between the list and the
			// write; somebody else's win, not an error.
			s.log.Debug("sweep_lost_race", map[string]any{"order_id": o.ID, "reason": err.Error()})
		}
	}
	return swept, nil
}
