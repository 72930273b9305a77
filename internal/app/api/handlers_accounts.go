package api

import (
	"net/http"
	"time"

	"bakery-system/internal/domain"
)

type accountView struct {
	Identity        string     `json:"identity"`
	Balance         int64      `json:"balance"`
	WeeklyPrep      int        `json:"weekly_prep"`
	WeeklyDeliver   int        `json:"weekly_deliver"`
	LifetimePrep    int        `json:"lifetime_prep"`
	LifetimeDeliver int        `json:"lifetime_deliver"`
	VIP             bool       `json:"vip"`
	VIPExpiresAt    *time.Time `json:"vip_expires_at,omitempty"`
	DoubleStats     bool       `json:"double_stats"`
	Strikes         int        `json:"strikes"`
	Suspended       bool       `json:"suspended"`
	SuspendedUntil  *time.Time `json:"suspended_until,omitempty"`
}

func (h *Handler) accountViewOf(a *domain.Account) accountView {
	now := h.clock.Now()
	return accountView{
		Identity:        a.Identity,
		Balance:         a.Balance,
		WeeklyPrep:      a.WeeklyPrep,
		WeeklyDeliver:   a.WeeklyDeliver,
		LifetimePrep:    a.LifetimePrep,
		LifetimeDeliver: a.LifetimeDeliver,
		VIP:             a.VIP(now),
		VIPExpiresAt:    a.VIPExpiresAt,
		DoubleStats:     a.DoubleStats(now),
		Strikes:         a.StrikeCount,
		Suspended:       a.Blocked(now),
		SuspendedUntil:  a.SuspendedUntil,
	}
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	a, err := h.led.Account(r.Context(), r.PathValue("identity"))
	if err != nil {
		writeErr(w, h.log, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, h.accountViewOf(a))
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	amount, err := h.led.Daily(r.Context(), r.PathValue("identity"), h.clock.Now())
	if err != nil {
		writeErr(w, h.log, "claim_daily", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"credited": amount})
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "pay", err)
		return
	}
	if err := h.led.Tip(r.Context(), r.PathValue("identity"), req.To, req.Amount); err != nil {
		writeErr(w, h.log, "pay", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// buyDoubleStats is the staff perk purchase: double counter weight for the
// configured period, paid from earned balance.
func (h *Handler) buyDoubleStats(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if _, err := h.coord.RequireStaff(r.Context(), identity); err != nil {
		writeErr(w, h.log, "buy_double_stats", err)
		return
	}
	until, err := h.led.BuyDoubleStats(r.Context(), identity, h.clock.Now())
	if err != nil {
		writeErr(w, h.log, "buy_double_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_until": until})
}

func (h *Handler) generateCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Count    int    `json:"count"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "generate_codes", err)
		return
	}
	if _, err := h.coord.RequireManager(r.Context(), req.Identity); err != nil {
		writeErr(w, h.log, "generate_codes", err)
		return
	}
	codes, err := h.led.GenerateCodes(r.Context(), req.Identity, req.Count)
	if err != nil {
		writeErr(w, h.log, "generate_codes", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

func (h *Handler) redeemCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Code     string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "redeem_code", err)
		return
	}
	until, err := h.led.RedeemCode(r.Context(), req.Identity, req.Code, h.clock.Now())
	if err != nil {
		writeErr(w, h.log, "redeem_code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vip_until": until})
}

func (h *Handler) grantVIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Target   string `json:"target"`
		Days     int    `json:"days"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "grant_vip", err)
		return
	}
	if _, err := h.coord.RequireManager(r.Context(), req.Identity); err != nil {
		writeErr(w, h.log, "grant_vip", err)
		return
	}
	if req.Days <= 0 {
		writeErr(w, h.log, "grant_vip", domain.ErrValidation)
		return
	}
	until, err := h.led.GrantVIP(r.Context(), req.Target, req.Days, h.clock.Now())
	if err != nil {
		writeErr(w, h.log, "grant_vip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vip_until": until})
}

func (h *Handler) revokeVIP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Target   string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "revoke_vip", err)
		return
	}
	if _, err := h.coord.RequireManager(r.Context(), req.Identity); err != nil {
		writeErr(w, h.log, "revoke_vip", err)
		return
	}
	if err := h.led.RevokeVIP(r.Context(), req.Target); err != nil {
		writeErr(w, h.log, "revoke_vip", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) setScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Text     string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "set_script", err)
		return
	}
	if err := h.coord.SetScript(r.Context(), req.Identity, req.Text); err != nil {
		writeErr(w, h.log, "set_script", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) blacklistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity    string `json:"identity"`
		CommunityID string `json:"community_id"`
		Reason      string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "blacklist_add", err)
		return
	}
	if err := h.coord.BlacklistDestination(r.Context(), req.Identity, req.CommunityID, req.Reason); err != nil {
		writeErr(w, h.log, "blacklist_add", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

func (h *Handler) blacklistRemove(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if err := h.coord.UnblacklistDestination(r.Context(), identity, r.PathValue("community_id")); err != nil {
		writeErr(w, h.log, "blacklist_remove", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) ban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Target   string `json:"target"`
		Days     int    `json:"days"`
		Reason   string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "ban", err)
		return
	}
	if _, err := h.coord.RequireManager(r.Context(), req.Identity); err != nil {
		writeErr(w, h.log, "ban", err)
		return
	}
	if err := h.disc.Ban(r.Context(), req.Target, req.Days, req.Reason, h.clock.Now()); err != nil {
		writeErr(w, h.log, "ban", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (h *Handler) unban(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Target   string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "unban", err)
		return
	}
	if _, err := h.coord.RequireManager(r.Context(), req.Identity); err != nil {
		writeErr(w, h.log, "unban", err)
		return
	}
	if err := h.disc.Unban(r.Context(), req.Target); err != nil {
		writeErr(w, h.log, "unban", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned"})
}
