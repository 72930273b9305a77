package quota

import (
	"context"
	"time"

	"bakery-system/internal/config"
	"bakery-system/internal/discipline"
	"bakery-system/internal/domain"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
	"bakery-system/internal/repository"
)

const markerKey = "quota_audit"

// Report summarizes one audit run.
type Report struct {
	Skipped      bool
	GlobalTarget int
	Checked      int
	Struck       []string
	MVP          string
}

// Auditor runs the weekly workforce quota: it derives a global target from
// total volume, scales it per role, strikes everyone who fell short,
// rewards the top performer and resets the weekly counters. A persisted
// watermark keeps overlapping deploys from double-striking the same week.
type Auditor struct {
	store    *repository.Store
	gateway  platform.Gateway
	disc     *discipline.Engine
	notifier notify.Notifier
	log      *logger.Logger
	cfg      config.Engine
}

func New(store *repository.Store, gw platform.Gateway, disc *discipline.Engine,
	notifier notify.Notifier, log *logger.Logger, cfg config.Engine) *Auditor {
	return &Auditor{store: store, gateway: gw, disc: disc, notifier: notifier, log: log, cfg: cfg}
}

// Run executes one audit at now. A run inside the minimum interval since
// the previous watermark is a no-op.
func (a *Auditor) Run(ctx context.Context, now time.Time) (Report, error) {
	last, err := a.store.Markers.Get(ctx, markerKey)
	if err != nil {
		return Report{}, err
	}
	if last != nil && now.Sub(*last) < a.cfg.QuotaMinInterval.Std() {
		a.log.Info("quota_audit_skipped", map[string]any{"last_run": last.Format(time.RFC3339)})
		return Report{Skipped: true}, nil
	}

	roster, err := a.gateway.Workforce(ctx)
	if err != nil {
		return Report{}, err
	}

	type member struct {
		identity string
		caps     domain.Capabilities
		work     int
	}
	var (
		members []member
		total   int
	)
	for _, identity := range roster {
		caps, err := a.gateway.Capabilities(ctx, identity)
		if err != nil {
			return Report{}, err
		}
		if !caps.Staff() {
			continue
		}
		acct, err := a.store.Accounts.Get(ctx, identity)
		if err != nil {
			return Report{}, err
		}
		work := acct.WeeklyPrep + acct.WeeklyDeliver
		members = append(members, member{identity: identity, caps: caps, work: work})
		total += work
	}

	global := globalTarget(total, len(members), a.cfg)
	rep := Report{GlobalTarget: global}

	var (
		processed []string
		mvp       member
	)
	for _, m := range members {
		processed = append(processed, m.identity)
		if m.work > mvp.work {
			mvp = m
		}
		target := roleTarget(m.caps.Role, global, a.cfg)
		if target == 0 {
			// Exempt roles sit outside the audit entirely.
			continue
		}
		rep.Checked++
		if m.work >= target {
			continue
		}
		if _, err := a.disc.ApplyStrike(ctx, m.identity, "weekly quota missed", now); err != nil {
			a.log.Error("quota_strike_failed", err, map[string]any{"identity": m.identity})
			continue
		}
		rep.Struck = append(rep.Struck, m.identity)
	}

	if mvp.identity != "" && mvp.work > 0 {
		rep.MVP = mvp.identity
		if err := a.store.Accounts.Credit(ctx, mvp.identity, a.cfg.MVPBonus); err != nil {
			a.log.Error("mvp_bonus_failed", err, map[string]any{"identity": mvp.identity})
		} else if err := a.notifier.User(ctx, mvp.identity, notify.KindQuota, "",
			"Top performer of the week: bonus credited."); err != nil {
			a.log.Error("mvp_notify_failed", err, map[string]any{"identity": mvp.identity})
		}
	}

	if err := a.store.Accounts.ResetWeekly(ctx, processed); err != nil {
		return rep, err
	}
	if err := a.store.Markers.Set(ctx, markerKey, now); err != nil {
		return rep, err
	}
	if err := a.notifier.Audit(ctx, notify.KeyAuditQuota, map[string]any{
		"global_target": global,
		"checked":       rep.Checked,
		"struck":        rep.Struck,
		"mvp":           rep.MVP,
	}); err != nil {
		a.log.Error("quota_audit_publish_failed", err, nil)
	}
	a.log.Info("quota_audit_done", map[string]any{
		"global_target": global,
		"checked":       rep.Checked,
		"struck":        len(rep.Struck),
	})
	return rep, nil
}

// globalTarget spreads total volume over the staff count, clamped to the
// configured floor and ceiling. Zero staff or zero volume still yields the
// floor: a dead week does not suspend the quota.
func globalTarget(total, staff int, cfg config.Engine) int {
	if staff < 1 {
		staff = 1
	}
	target := (total + staff - 1) / staff
	if target < cfg.QuotaFloor {
		return cfg.QuotaFloor
	}
	if target > cfg.QuotaCeiling {
		return cfg.QuotaCeiling
	}
	return target
}

// roleTarget scales the global target per role class. Exempt members are
// never struck; seniors carry half; trainees a fixed ramp-up target.
func roleTarget(role domain.RoleClass, global int, cfg config.Engine) int {
	switch role {
	case domain.RoleExempt:
		return 0
	case domain.RoleTrainee:
		return cfg.TraineeTarget
	case domain.RoleSenior:
		return (global + 1) / 2
	default:
		return global
	}
}
