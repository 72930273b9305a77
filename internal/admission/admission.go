package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bakery-system/internal/config"
	"bakery-system/internal/domain"
	"bakery-system/internal/repository"
)

// Offer is a pending paid-bypass proposal: the queue was full, and the
// requester may pay the surcharge to jump in anyway. Offers are held in
// memory only; one that lapses simply disappears and no funds move.
type Offer struct {
	ID        string
	Identity  string
	Surcharge int64
	ExpiresAt time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	// Admit means the order may enter the queue now. Surcharge is zero for
	// ordinary admissions and for the free VIP bypass.
	Admit     bool
	Surcharge int64
	// Offer is set instead of Admit when the requester must confirm a paid
	// bypass first.
	Offer *Offer
}

// Controller gates order intake: destination blacklist, the pending-queue
// cap, and the bypass paths around it.
type Controller struct {
	orders    repository.Orders
	accounts  repository.Accounts
	blacklist repository.Blacklist
	cfg       config.Engine

	mu     sync.Mutex
	offers map[string]Offer
}

func New(orders repository.Orders, accounts repository.Accounts, blacklist repository.Blacklist, cfg config.Engine) *Controller {
	return &Controller{
		orders:    orders,
		accounts:  accounts,
		blacklist: blacklist,
		cfg:       cfg,
		offers:    make(map[string]Offer),
	}
}

// Check decides whether identity may place an order bound for dest at now.
func (c *Controller) Check(ctx context.Context, identity string, dest domain.Destination, now time.Time) (Decision, error) {
	barred, err := c.blacklist.Contains(ctx, dest.CommunityID)
	if err != nil {
		return Decision{}, err
	}
	if barred {
		return Decision{}, fmt.Errorf("%w: destination community is blacklisted", domain.ErrPermissionDenied)
	}

	if c.cfg.PartnerBypassesCap && c.partner(dest.CommunityID) {
		return Decision{Admit: true}, nil
	}

	pending, err := c.orders.CountPending(ctx)
	if err != nil {
		return Decision{}, err
	}
	if pending < c.cfg.QueueCap {
		return Decision{Admit: true}, nil
	}

	// Queue is full. VIPs get one free bypass per cooldown window; the
	// conditional stamp makes concurrent attempts race to a single winner.
	a, err := c.accounts.Get(ctx, identity)
	if err != nil {
		return Decision{}, err
	}
	if a.VIP(now) {
		won, err := c.accounts.MarkOverflowBypass(ctx, identity, now, now.Add(-c.cfg.VIPBypassCooldown.Std()))
		if err != nil {
			return Decision{}, err
		}
		if won {
			return Decision{Admit: true}, nil
		}
	}

	offer := Offer{
		ID:        uuid.NewString(),
		Identity:  identity,
		Surcharge: c.cfg.BypassSurcharge,
		ExpiresAt: now.Add(c.cfg.BypassOfferTTL.Std()),
	}
	c.mu.Lock()
	c.pruneLocked(now)
	c.offers[offer.ID] = offer
	c.mu.Unlock()
	return Decision{Offer: &offer}, nil
}

// Redeem consumes a live offer. Unknown, expired or foreign offers fail
// with domain.ErrNotFound.
func (c *Controller) Redeem(offerID, identity string, now time.Time) (Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	o, ok := c.offers[offerID]
	if !ok || o.Identity != identity {
		return Offer{}, fmt.Errorf("%w: bypass offer expired or unknown", domain.ErrNotFound)
	}
	delete(c.offers, offerID)
	return o, nil
}

func (c *Controller) partner(communityID string) bool {
	for _, p := range c.cfg.PartnerCommunities {
		if p == communityID {
			return true
		}
	}
	return false
}

func (c *Controller) pruneLocked(now time.Time) {
	for id, o := range c.offers {
		if !now.Before(o.ExpiresAt) {
			delete(c.offers, id)
		}
	}
}
