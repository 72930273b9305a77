package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bakery-system/internal/admission"
	"bakery-system/internal/config"
	"bakery-system/internal/discipline"
	"bakery-system/internal/domain"
	"bakery-system/internal/ledger"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
	"bakery-system/internal/repository"
)

const maxProofs = 3

// Coordinator drives the order state machine: placement, the worker
// claim/prepare/dispatch flow, the deadline timers around each stage, and
// cancellation. All cross-process races resolve at the repository's
// conditional writes; the in-memory timers only decide when the engine
// tries a transition, never whether it wins.
type Coordinator struct {
	store    *repository.Store
	ledger   *ledger.Ledger
	disc     *discipline.Engine
	adm      *admission.Controller
	gateway  platform.Gateway
	notifier notify.Notifier
	log      *logger.Logger
	cfg      config.Engine
	clock    Clock
	sched    *schedule

	pendMu  sync.Mutex
	pending map[string]PlaceRequest // bypass offer id -> original request
}

type PlaceRequest struct {
	Requester   string
	Destination domain.Destination
	Item        string
	Tier        domain.Tier
}

// PlaceResult carries either the created order or the bypass offer the
// requester must confirm first.
type PlaceResult struct {
	Order *domain.Order
	Offer *admission.Offer
}

func New(store *repository.Store, led *ledger.Ledger, disc *discipline.Engine,
	adm *admission.Controller, gw platform.Gateway, n notify.Notifier,
	log *logger.Logger, cfg config.Engine, clock Clock) *Coordinator {
	return &Coordinator{
		store:    store,
		ledger:   led,
		disc:     disc,
		adm:      adm,
		gateway:  gw,
		notifier: n,
		log:      log,
		cfg:      cfg,
		clock:    clock,
		sched:    newSchedule(clock),
		pending:  make(map[string]PlaceRequest),
	}
}

func (c *Coordinator) Order(ctx context.Context, id string) (*domain.Order, error) {
	return c.store.Orders.Get(ctx, id)
}

func (c *Coordinator) ActiveOrders(ctx context.Context) ([]domain.Order, error) {
	return c.store.Orders.ListActive(ctx)
}

// PlaceOrder validates the request, runs admission, charges the requester
// and enqueues the order. When the queue is full the result carries a
// bypass offer instead of an order.
func (c *Coordinator) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	now := c.clock.Now()
	if err := validatePlace(req); err != nil {
		return nil, err
	}
	acct, err := c.ledger.Account(ctx, req.Requester)
	if err != nil {
		return nil, err
	}
	if acct.Blocked(now) {
		return nil, domain.ErrSuspended
	}
	active, err := c.store.Orders.CountActiveByRequester(ctx, req.Requester)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, fmt.Errorf("%w: an order is already in flight", domain.ErrStateConflict)
	}
	tier, cost, err := c.price(req.Tier, acct.VIP(now))
	if err != nil {
		return nil, err
	}
	req.Tier = tier

	dec, err := c.adm.Check(ctx, req.Requester, req.Destination, now)
	if err != nil {
		return nil, err
	}
	if dec.Offer != nil {
		offerID := dec.Offer.ID
		c.pendMu.Lock()
		c.pending[offerID] = req
		c.pendMu.Unlock()
		// Drop the stashed request when the offer lapses unredeemed.
		c.sched.arm("bypass/"+offerID, c.cfg.BypassOfferTTL.Std(), func() {
			c.pendMu.Lock()
			delete(c.pending, offerID)
			c.pendMu.Unlock()
		})
		return &PlaceResult{Offer: dec.Offer}, nil
	}

	o, err := c.place(ctx, req, cost, dec.Surcharge, now)
	if err != nil {
		return nil, err
	}
	return &PlaceResult{Order: o}, nil
}

// ConfirmBypass redeems a paid-bypass offer and places the order it was
// issued for, surcharge included. A lapsed offer moves no funds.
func (c *Coordinator) ConfirmBypass(ctx context.Context, requester, offerID string) (*domain.Order, error) {
	now := c.clock.Now()
	offer, err := c.adm.Redeem(offerID, requester, now)
	if err != nil {
		return nil, err
	}
	c.pendMu.Lock()
	req, ok := c.pending[offerID]
	delete(c.pending, offerID)
	c.pendMu.Unlock()
	c.sched.cancel("bypass/" + offerID)
	if !ok {
		return nil, fmt.Errorf("%w: bypass offer expired or unknown", domain.ErrNotFound)
	}
	acct, err := c.ledger.Account(ctx, requester)
	if err != nil {
		return nil, err
	}
	_, cost, err := c.price(req.Tier, acct.VIP(now))
	if err != nil {
		return nil, err
	}
	return c.place(ctx, req, cost, offer.Surcharge, now)
}

func (c *Coordinator) place(ctx context.Context, req PlaceRequest, cost, surcharge int64, now time.Time) (*domain.Order, error) {
	total := cost + surcharge
	if err := c.ledger.Charge(ctx, req.Requester, total); err != nil {
		return nil, err
	}
	o := &domain.Order{
		ID:          newOrderID(),
		RequesterID: req.Requester,
		Destination: req.Destination,
		Item:        req.Item,
		Tier:        req.Tier,
		Cost:        total,
		Status:      domain.StatusPending,
		CreatedAt:   now,
	}
	if err := c.store.Orders.Insert(ctx, o); err != nil {
		if rerr := c.ledger.Refund(ctx, req.Requester, total); rerr != nil {
			c.log.Error("refund_after_failed_insert", rerr, map[string]any{"order_id": o.ID})
		}
		return nil, err
	}
	c.broadcastNew(ctx, o)
	return o, nil
}

// price resolves the effective tier and base cost. VIP members get the
// discounted tier on standard requests but may not use the urgent tier,
// which exists to let non-members outbid the VIP queue priority.
func (c *Coordinator) price(requested domain.Tier, vip bool) (domain.Tier, int64, error) {
	switch requested {
	case domain.TierUrgent:
		if vip {
			return "", 0, fmt.Errorf("%w: urgent tier is unavailable to VIP members", domain.ErrValidation)
		}
		return domain.TierUrgent, c.cfg.CostUrgent, nil
	case domain.TierVIP:
		if !vip {
			return "", 0, fmt.Errorf("%w: VIP tier requires an active VIP entitlement", domain.ErrPermissionDenied)
		}
		return domain.TierVIP, c.cfg.CostVIP, nil
	case domain.TierStandard:
		if vip {
			return domain.TierVIP, c.cfg.CostVIP, nil
		}
		return domain.TierStandard, c.cfg.CostStandard, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, requested)
	}
}

// Claim reserves a pending order for a preparer and arms the claim-expiry
// timer. Exactly one of several concurrent claimers wins.
func (c *Coordinator) Claim(ctx context.Context, preparer, orderID string) error {
	now := c.clock.Now()
	if err := c.requireWorker(ctx, preparer, now, func(caps domain.Capabilities) bool { return caps.CanPrepare }); err != nil {
		return err
	}
	if err := c.store.Orders.Claim(ctx, orderID, preparer, now); err != nil {
		return err
	}
	c.sched.arm(orderID+"/claim", c.cfg.ClaimWindow.Std(), func() { c.expireClaim(orderID) })
	return nil
}

// Unclaim releases a claim voluntarily. Non-punitive: the order goes back
// to the pool and the preparer walks away clean.
func (c *Coordinator) Unclaim(ctx context.Context, preparer, orderID string) error {
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PreparerID == nil || *o.PreparerID != preparer {
		return fmt.Errorf("%w: claim belongs to someone else", domain.ErrPermissionDenied)
	}
	if err := c.store.Orders.ReleaseClaim(ctx, orderID); err != nil {
		return err
	}
	c.sched.cancel(orderID + "/claim")
	c.rebroadcast(orderID)
	return nil
}

// BeginPreparation moves a claimed order into preparation with up to three
// proof artifacts. The fixed preparation window runs from here; when it
// lapses the order is marked ready automatically.
func (c *Coordinator) BeginPreparation(ctx context.Context, preparer, orderID string, proofs []string) error {
	if len(proofs) > maxProofs {
		return fmt.Errorf("%w: at most %d proofs", domain.ErrValidation, maxProofs)
	}
	now := c.clock.Now()
	if err := c.store.Orders.StartPreparing(ctx, orderID, preparer, proofs, now); err != nil {
		return err
	}
	c.sched.cancel(orderID + "/claim")
	c.sched.arm(orderID+"/prep", c.cfg.PrepWindow.Std(), func() { c.finishPreparation(orderID) })
	return nil
}

// Take reserves a ready order for a courier, arms the confirmation budget
// and returns an access link into the destination.
func (c *Coordinator) Take(ctx context.Context, courier, orderID string) (string, error) {
	now := c.clock.Now()
	if err := c.requireWorker(ctx, courier, now, func(caps domain.Capabilities) bool { return caps.CanDeliver }); err != nil {
		return "", err
	}
	if err := c.store.Orders.StartDispatch(ctx, orderID, courier, now); err != nil {
		return "", err
	}
	c.sched.arm(orderID+"/confirm", c.cfg.ConfirmBudget.Std(), func() { c.expireDispatch(orderID) })

	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		c.log.Error("dispatch_lookup_failed", err, map[string]any{"order_id": orderID})
		return "", nil
	}
	link, err := c.gateway.AccessLink(ctx, o.Destination)
	if err != nil {
		c.log.Error("access_link_failed", err, map[string]any{"order_id": orderID})
		return "", nil
	}
	return link, nil
}

// ConfirmDelivery completes a dispatch. The courier must still be inside
// the confirmation budget and present at the destination; otherwise the
// order goes back to the ready pool without penalty.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, courier, orderID string) error {
	now := c.clock.Now()
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusDispatching {
		return domain.ErrStateConflict
	}
	if o.CourierID == nil || *o.CourierID != courier {
		return fmt.Errorf("%w: dispatch belongs to someone else", domain.ErrPermissionDenied)
	}
	if o.DispatchStartedAt != nil && now.After(o.DispatchStartedAt.Add(c.cfg.ConfirmBudget.Std())) {
		c.requeueDispatch(ctx, orderID)
		return fmt.Errorf("%w: confirmation budget elapsed", domain.ErrStateConflict)
	}
	present, err := c.gateway.PresentAt(ctx, courier, o.Destination)
	if err != nil {
		return err
	}
	if !present {
		c.requeueDispatch(ctx, orderID)
		return fmt.Errorf("%w: courier is not present at the destination", domain.ErrPermissionDenied)
	}

	if err := c.store.Orders.CompleteDelivery(ctx, orderID, courier); err != nil {
		return err
	}
	c.sched.cancel(orderID + "/confirm")

	amount, err := c.ledger.Payout(ctx, courier, domain.CounterDeliver, now)
	if err != nil {
		c.log.Error("deliver_payout_failed", err, map[string]any{"order_id": orderID, "courier": courier})
	} else {
		c.notifyUser(ctx, courier, notify.KindPayment, orderID,
			fmt.Sprintf("Delivery confirmed, %d credited.", amount))
	}
	c.notifyUser(ctx, o.RequesterID, notify.KindOrderUpdate, orderID, c.deliveryText(ctx, courier))
	c.audit(ctx, o, domain.StatusDelivered)
	return nil
}

// Rate records the requester's one-shot rating of a delivered order.
func (c *Coordinator) Rate(ctx context.Context, requester, orderID string, stars int, feedback string) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("%w: rating must be 1-5", domain.ErrValidation)
	}
	if _, err := c.requireRequester(ctx, requester, orderID); err != nil {
		return err
	}
	return c.store.Orders.SetRating(ctx, orderID, stars, strings.TrimSpace(feedback))
}

// Tip forwards a gratuity for a delivered order to the courier, or to the
// preparer when the failsafe completed the delivery.
func (c *Coordinator) Tip(ctx context.Context, requester, orderID string, amount int64) error {
	o, err := c.requireRequester(ctx, requester, orderID)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusDelivered {
		return fmt.Errorf("%w: order is not delivered", domain.ErrStateConflict)
	}
	recipient := ""
	switch {
	case o.CourierID != nil && *o.CourierID != domain.SystemCourier:
		recipient = *o.CourierID
	case o.PreparerID != nil:
		recipient = *o.PreparerID
	}
	if recipient == "" {
		return fmt.Errorf("%w: nobody to tip on this order", domain.ErrValidation)
	}
	if err := c.ledger.Tip(ctx, requester, recipient, amount); err != nil {
		return err
	}
	c.notifyUser(ctx, recipient, notify.KindPayment, orderID, fmt.Sprintf("You received a %d tip.", amount))
	return nil
}

// Complain attaches a complaint to an order and raises it on the audit
// stream for staff review.
func (c *Coordinator) Complain(ctx context.Context, requester, orderID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: complaint reason required", domain.ErrValidation)
	}
	o, err := c.requireRequester(ctx, requester, orderID)
	if err != nil {
		return err
	}
	if err := c.store.Orders.SetComplaint(ctx, orderID, reason); err != nil {
		return err
	}
	if err := c.notifier.Audit(ctx, notify.KeyAuditOrder, map[string]any{
		"event":    "complaint",
		"order_id": orderID,
		"against":  workerIDs(o),
		"reason":   reason,
	}); err != nil {
		c.log.Error("complaint_audit_failed", err, map[string]any{"order_id": orderID})
	}
	return nil
}

// Rebuild re-arms stage timers from persisted timestamps after a restart.
// Deadlines already in the past fire immediately.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	orders, err := c.store.Orders.ListByStatus(ctx,
		domain.StatusClaimed, domain.StatusPreparing, domain.StatusDispatching)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, o := range orders {
		id := o.ID
		switch o.Status {
		case domain.StatusClaimed:
			if o.ClaimedAt != nil {
				c.sched.arm(id+"/claim", o.ClaimedAt.Add(c.cfg.ClaimWindow.Std()).Sub(now),
					func() { c.expireClaim(id) })
			}
		case domain.StatusPreparing:
			base := now
			if o.PrepStartedAt != nil {
				base = *o.PrepStartedAt
			}
			c.sched.arm(id+"/prep", base.Add(c.cfg.PrepWindow.Std()).Sub(now),
				func() { c.finishPreparation(id) })
		case domain.StatusDispatching:
			if o.DispatchStartedAt != nil {
				c.sched.arm(id+"/confirm", o.DispatchStartedAt.Add(c.cfg.ConfirmBudget.Std()).Sub(now),
					func() { c.expireDispatch(id) })
			}
		}
	}
	c.log.Info("timers_rebuilt", map[string]any{"orders": len(orders)})
	return nil
}

// --- timer callbacks; each runs on its own background context ---

func (c *Coordinator) expireClaim(orderID string) {
	ctx, cancel := c.bg()
	defer cancel()
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		c.log.Error("claim_expiry_lookup_failed", err, map[string]any{"order_id": orderID})
		return
	}
	if err := c.store.Orders.ReleaseClaim(ctx, orderID); err != nil {
		// The claim advanced or was cancelled before the timer fired.
		c.log.Debug("claim_expiry_lost", map[string]any{"order_id": orderID, "reason": err.Error()})
		return
	}
	if o.PreparerID != nil {
		c.notifyUser(ctx, *o.PreparerID, notify.KindOrderUpdate, orderID, "Your claim expired and the order returned to the pool.")
	}
	c.rebroadcast(orderID)
}

func (c *Coordinator) finishPreparation(orderID string) {
	ctx, cancel := c.bg()
	defer cancel()
	now := c.clock.Now()
	if err := c.store.Orders.MarkReady(ctx, orderID, now); err != nil {
		c.log.Debug("prep_finish_lost", map[string]any{"order_id": orderID, "reason": err.Error()})
		return
	}
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		c.log.Error("prep_finish_lookup_failed", err, map[string]any{"order_id": orderID})
		return
	}
	if o.PreparerID != nil {
		amount, err := c.ledger.Payout(ctx, *o.PreparerID, domain.CounterPrep, now)
		if err != nil {
			c.log.Error("prep_payout_failed", err, map[string]any{"order_id": orderID})
		} else {
			c.notifyUser(ctx, *o.PreparerID, notify.KindPayment, orderID,
				fmt.Sprintf("Preparation complete, %d credited.", amount))
		}
	}
	if err := c.notifier.Order(ctx, notify.KeyOrderReady, snapshot(o, now)); err != nil {
		c.log.Error("ready_broadcast_failed", err, map[string]any{"order_id": orderID})
	}
}

func (c *Coordinator) expireDispatch(orderID string) {
	ctx, cancel := c.bg()
	defer cancel()
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		c.log.Error("dispatch_expiry_lookup_failed", err, map[string]any{"order_id": orderID})
		return
	}
	if err := c.store.Orders.AbortDispatch(ctx, orderID); err != nil {
		c.log.Debug("dispatch_expiry_lost", map[string]any{"order_id": orderID, "reason": err.Error()})
		return
	}
	if o.CourierID != nil {
		c.notifyUser(ctx, *o.CourierID, notify.KindOrderUpdate, orderID, "Confirmation budget elapsed; the order returned to the ready pool.")
	}
	if o2, err := c.store.Orders.Get(ctx, orderID); err == nil {
		if err := c.notifier.Order(ctx, notify.KeyOrderReady, snapshot(o2, c.clock.Now())); err != nil {
			c.log.Error("ready_broadcast_failed", err, map[string]any{"order_id": orderID})
		}
	}
}

// --- helpers ---

func (c *Coordinator) requeueDispatch(ctx context.Context, orderID string) {
	if err := c.store.Orders.AbortDispatch(ctx, orderID); err != nil {
		c.log.Debug("dispatch_requeue_lost", map[string]any{"order_id": orderID, "reason": err.Error()})
		return
	}
	c.sched.cancel(orderID + "/confirm")
	if o, err := c.store.Orders.Get(ctx, orderID); err == nil {
		if err := c.notifier.Order(ctx, notify.KeyOrderReady, snapshot(o, c.clock.Now())); err != nil {
			c.log.Error("ready_broadcast_failed", err, map[string]any{"order_id": orderID})
		}
	}
}

func (c *Coordinator) requireWorker(ctx context.Context, identity string, now time.Time, allowed func(domain.Capabilities) bool) error {
	caps, err := c.gateway.Capabilities(ctx, identity)
	if err != nil {
		return err
	}
	if !allowed(caps) {
		return fmt.Errorf("%w: missing workforce capability", domain.ErrPermissionDenied)
	}
	blocked, err := c.ledger.Blocked(ctx, identity, now)
	if err != nil {
		return err
	}
	if blocked {
		return domain.ErrSuspended
	}
	return nil
}

func (c *Coordinator) requireRequester(ctx context.Context, requester, orderID string) (*domain.Order, error) {
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.RequesterID != requester {
		return nil, fmt.Errorf("%w: not your order", domain.ErrPermissionDenied)
	}
	return o, nil
}

func (c *Coordinator) broadcastNew(ctx context.Context, o *domain.Order) {
	key := notify.KeyOrderCreated
	if o.Tier == domain.TierUrgent {
		key = notify.KeyOrderUrgent
	}
	if err := c.notifier.Order(ctx, key, snapshot(o, c.clock.Now())); err != nil {
		c.log.Error("order_broadcast_failed", err, map[string]any{"order_id": o.ID})
	}
	c.audit(ctx, o, domain.StatusPending)
}

func (c *Coordinator) rebroadcast(orderID string) {
	ctx, cancel := c.bg()
	defer cancel()
	o, err := c.store.Orders.Get(ctx, orderID)
	if err != nil {
		return
	}
	if o.Status == domain.StatusPending {
		c.broadcastNew(ctx, o)
	}
}

func (c *Coordinator) notifyUser(ctx context.Context, identity string, kind notify.Kind, orderID, text string) {
	if err := c.notifier.User(ctx, identity, kind, orderID, text); err != nil {
		c.log.Error("user_notify_failed", err, map[string]any{"identity": identity, "order_id": orderID})
	}
}

func (c *Coordinator) audit(ctx context.Context, o *domain.Order, status domain.Status) {
	if err := c.notifier.Audit(ctx, notify.KeyAuditOrder, map[string]any{
		"event":    "status",
		"order_id": o.ID,
		"status":   status,
	}); err != nil {
		c.log.Error("order_audit_failed", err, map[string]any{"order_id": o.ID})
	}
}

func (c *Coordinator) deliveryText(ctx context.Context, courier string) string {
	script, err := c.store.Scripts.Get(ctx, courier)
	if err != nil {
		c.log.Error("script_lookup_failed", err, map[string]any{"courier": courier})
	}
	if script = strings.TrimSpace(script); script != "" {
		return script
	}
	return "Your order has been delivered. Enjoy!"
}

func (c *Coordinator) bg() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func snapshot(o *domain.Order, at time.Time) notify.OrderEvent {
	return notify.OrderEvent{
		OrderID:     o.ID,
		Item:        o.Item,
		Tier:        o.Tier,
		Status:      o.Status,
		Destination: o.Destination,
		At:          at,
	}
}

// newOrderID derives the caller-facing short token from a fresh UUID.
func newOrderID() string {
	u := uuid.New()
	return strings.ToUpper(hex.EncodeToString(u[:3]))
}

func workerIDs(o *domain.Order) []string {
	var out []string
	if o.PreparerID != nil {
		out = append(out, *o.PreparerID)
	}
	if o.CourierID != nil {
		out = append(out, *o.CourierID)
	}
	return out
}

func validatePlace(req PlaceRequest) error {
	if strings.TrimSpace(req.Item) == "" {
		return fmt.Errorf("%w: item required", domain.ErrValidation)
	}
	if len(req.Item) > 200 {
		return fmt.Errorf("%w: item too long", domain.ErrValidation)
	}
	if req.Destination.CommunityID == "" || req.Destination.ChannelID == "" {
		return fmt.Errorf("%w: destination required", domain.ErrValidation)
	}
	if !req.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, req.Tier)
	}
	return nil
}
