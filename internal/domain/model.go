package domain

import "time"

// SystemCourier is the marker written to an order's courier slot when the
// failsafe sweep force-completes it. No account exists under this identity
// and no payout is ever attributed to it.
const SystemCourier = "SYSTEM"

// Tier is the priority tier of an order. It drives cost, queue sort order
// and notification fan-out (urgent orders ping every available preparer).
type Tier string

const (
	TierStandard Tier = "standard"
	TierVIP      Tier = "vip"
	TierUrgent   Tier = "urgent"
)

func (t Tier) Valid() bool {
	return t == TierStandard || t == TierVIP || t == TierUrgent
}

// Destination identifies where completion notifications for an order are
// sent: a community plus a sub-channel inside it.
type Destination struct {
	CommunityID string `json:"community_id"`
	ChannelID   string `json:"channel_id"`
}

type Order struct {
	ID          string
	RequesterID string
	Destination Destination
	Item        string
	Tier        Tier
	Cost        int64
	Status      Status

	PreparerID *string
	CourierID  *string

	CreatedAt         time.Time
	ClaimedAt         *time.Time
	PrepStartedAt     *time.Time
	ReadyAt           *time.Time
	DispatchStartedAt *time.Time

	// Proof artifacts attached at begin-preparation, at most three.
	Proofs []string

	Rating    int
	Feedback  string
	Rated     bool
	Complaint string
}

// CounterKind selects which pair of weekly/lifetime work counters an
// increment applies to.
type CounterKind string

const (
	CounterPrep    CounterKind = "prep"
	CounterDeliver CounterKind = "deliver"
)

type Account struct {
	Identity string
	Balance  int64

	WeeklyPrep      int
	LifetimePrep    int
	WeeklyDeliver   int
	LifetimeDeliver int

	VIPExpiresAt     *time.Time
	DoubleStatsUntil *time.Time

	StrikeCount          int
	SuspendedUntil       *time.Time
	PermanentlySuspended bool

	LastDailyAt        *time.Time
	LastOverflowBypass *time.Time
}

// VIP reports whether the account's VIP entitlement is active at t.
func (a *Account) VIP(t time.Time) bool {
	return a.VIPExpiresAt != nil && t.Before(*a.VIPExpiresAt)
}

// DoubleStats reports whether the double-stats buff is active at t.
func (a *Account) DoubleStats(t time.Time) bool {
	return a.DoubleStatsUntil != nil && t.Before(*a.DoubleStatsUntil)
}

// Blocked reports whether the account is barred from gated operations,
// either permanently or until a suspension expires.
func (a *Account) Blocked(t time.Time) bool {
	if a.PermanentlySuspended {
		return true
	}
	return a.SuspendedUntil != nil && t.Before(*a.SuspendedUntil)
}

// Capabilities is the resolved permission set of an external identity,
// sourced from role membership in the governance community.
type Capabilities struct {
	CanPrepare bool `json:"can_prepare"`
	CanDeliver bool `json:"can_deliver"`
	CanManage  bool `json:"can_manage"`
	IsOwner    bool `json:"is_owner"`

	Role RoleClass `json:"role"`
}

func (c Capabilities) Staff() bool {
	return c.CanPrepare || c.CanDeliver || c.CanManage || c.IsOwner
}

// RoleClass adjusts an identity's weekly quota target.
type RoleClass string

const (
	RoleStandard RoleClass = "standard"
	RoleSenior   RoleClass = "senior"
	RoleTrainee  RoleClass = "trainee"
	RoleExempt   RoleClass = "exempt"
)
