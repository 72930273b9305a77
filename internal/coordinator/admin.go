package coordinator

import (
	"context"
	"fmt"
	"strings"

	"bakery-system/internal/domain"
	"bakery-system/internal/notify"
)

// RequireManager resolves capabilities and fails unless the identity can
// manage the workforce.
func (c *Coordinator) RequireManager(ctx context.Context, identity string) (domain.Capabilities, error) {
	caps, err := c.gateway.Capabilities(ctx, identity)
	if err != nil {
		return domain.Capabilities{}, err
	}
	if !caps.CanManage && !caps.IsOwner {
		return domain.Capabilities{}, fmt.Errorf("%w: manager capability required", domain.ErrPermissionDenied)
	}
	return caps, nil
}

// RequireStaff fails unless the identity holds any workforce role.
func (c *Coordinator) RequireStaff(ctx context.Context, identity string) (domain.Capabilities, error) {
	caps, err := c.gateway.Capabilities(ctx, identity)
	if err != nil {
		return domain.Capabilities{}, err
	}
	if !caps.Staff() {
		return domain.Capabilities{}, fmt.Errorf("%w: workforce role required", domain.ErrPermissionDenied)
	}
	return caps, nil
}

// CancelPreCook is the disciplinary cancel for orders nobody has started
// preparing. Cooks and management can issue it; the requester takes a
// strike and keeps nothing back, the punitive cancels never refund.
func (c *Coordinator) CancelPreCook(ctx context.Context, issuer, orderID, reason string) error {
	caps, err := c.gateway.Capabilities(ctx, issuer)
	if err != nil {
		return err
	}
	if !caps.CanPrepare && !caps.CanManage && !caps.IsOwner {
		return fmt.Errorf("%w: cook or management capability required", domain.ErrPermissionDenied)
	}
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := c.store.Orders.SetTerminal(ctx, orderID,
		[]domain.Status{domain.StatusPending, domain.StatusClaimed}, domain.StatusCancelledPreCook); err != nil {
		return err
	}
	c.sched.cancel(orderID + "/claim")
	if _, err := c.disc.ApplyStrike(ctx, o.RequesterID, reason, c.clock.Now()); err != nil {
		return err
	}
	c.notifyUser(ctx, o.RequesterID, notify.KindOrderUpdate, orderID, "Your order was cancelled by staff. Reason: "+reason)
	if o.PreparerID != nil {
		c.notifyUser(ctx, *o.PreparerID, notify.KindOrderUpdate, orderID, "The order you claimed was cancelled by staff.")
	}
	c.audit(ctx, o, domain.StatusCancelledPreCook)
	return nil
}

// CancelPreDispatch is the disciplinary cancel for a prepared order no
// courier has taken. Management only; the preparer keeps the stage payout.
func (c *Coordinator) CancelPreDispatch(ctx context.Context, issuer, orderID, reason string) error {
	if _, err := c.RequireManager(ctx, issuer); err != nil {
		return err
	}
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := c.store.Orders.SetTerminal(ctx, orderID,
		[]domain.Status{domain.StatusReady}, domain.StatusCancelledPreDispatch); err != nil {
		return err
	}
	if _, err := c.disc.ApplyStrike(ctx, o.RequesterID, reason, c.clock.Now()); err != nil {
		return err
	}
	c.notifyUser(ctx, o.RequesterID, notify.KindOrderUpdate, orderID, "Your order was cancelled by staff. Reason: "+reason)
	c.audit(ctx, o, domain.StatusCancelledPreDispatch)
	return nil
}

// ForceCancel is the post-completion disciplinary cancel: the requester
// takes a strike regardless of how far the order got. A delivered order
// keeps its status; an active one closes out.
func (c *Coordinator) ForceCancel(ctx context.Context, staff, orderID, reason string) error {
	if _, err := c.RequireManager(ctx, staff); err != nil {
		return err
	}
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status.Active() {
		if err := c.store.Orders.SetTerminal(ctx, orderID, domain.ActiveStatuses, domain.StatusCancelledPost); err != nil {
			return err
		}
		c.cancelTimers(orderID)
	}
	if _, err := c.disc.ApplyStrike(ctx, o.RequesterID, reason, c.clock.Now()); err != nil {
		return err
	}
	c.audit(ctx, o, domain.StatusCancelledPost)
	return nil
}

// RefundOrder closes an active order and returns the payment, without any
// disciplinary side effect.
func (c *Coordinator) RefundOrder(ctx context.Context, staff, orderID string) error {
	if _, err := c.RequireManager(ctx, staff); err != nil {
		return err
	}
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := c.store.Orders.SetTerminal(ctx, orderID, domain.ActiveStatuses, domain.StatusRefunded); err != nil {
		return err
	}
	c.cancelTimers(orderID)
	if err := c.ledger.Refund(ctx, o.RequesterID, o.Cost); err != nil {
		return err
	}
	c.notifyUser(ctx, o.RequesterID, notify.KindPayment, orderID, "Your order was refunded by staff.")
	c.audit(ctx, o, domain.StatusRefunded)
	return nil
}

// SetScript stores a courier's custom delivery message.
func (c *Coordinator) SetScript(ctx context.Context, courier, text string) error {
	caps, err := c.gateway.Capabilities(ctx, courier)
	if err != nil {
		return err
	}
	if !caps.CanDeliver {
		return fmt.Errorf("%w: courier capability required", domain.ErrPermissionDenied)
	}
	text = strings.TrimSpace(text)
	if len(text) > 500 {
		return fmt.Errorf("%w: script too long", domain.ErrValidation)
	}
	return c.store.Scripts.Set(ctx, courier, text)
}

// BlacklistDestination bars a community from receiving orders.
func (c *Coordinator) BlacklistDestination(ctx context.Context, staff, communityID, reason string) error {
	if _, err := c.RequireManager(ctx, staff); err != nil {
		return err
	}
	return c.store.Blacklist.Add(ctx, communityID, reason)
}

// UnblacklistDestination lifts a destination bar.
func (c *Coordinator) UnblacklistDestination(ctx context.Context, staff, communityID string) error {
	if _, err := c.RequireManager(ctx, staff); err != nil {
		return err
	}
	return c.store.Blacklist.Remove(ctx, communityID)
}

func (c *Coordinator) cancelTimers(orderID string) {
	c.sched.cancel(orderID + "/claim")
	c.sched.cancel(orderID + "/prep")
	c.sched.cancel(orderID + "/confirm")
}
