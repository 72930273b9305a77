package api

import (
	"net/http"
	"time"

	"bakery-system/internal/coordinator"
	"bakery-system/internal/domain"
)

type orderView struct {
	ID          string             `json:"id"`
	Requester   string             `json:"requester"`
	Destination domain.Destination `json:"destination"`
	Item        string             `json:"item"`
	Tier        domain.Tier        `json:"tier"`
	Cost        int64              `json:"cost"`
	Status      domain.Status      `json:"status"`
	Preparer    *string            `json:"preparer,omitempty"`
	Courier     *string            `json:"courier,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	ReadyAt     *time.Time         `json:"ready_at,omitempty"`
	Proofs      []string           `json:"proofs,omitempty"`
	Rating      int                `json:"rating,omitempty"`
	Rated       bool               `json:"rated,omitempty"`
}

func viewOf(o *domain.Order) orderView {
	return orderView{
		ID:          o.ID,
		Requester:   o.RequesterID,
		Destination: o.Destination,
		Item:        o.Item,
		Tier:        o.Tier,
		Cost:        o.Cost,
		Status:      o.Status,
		Preparer:    o.PreparerID,
		Courier:     o.CourierID,
		CreatedAt:   o.CreatedAt,
		ReadyAt:     o.ReadyAt,
		Proofs:      o.Proofs,
		Rating:      o.Rating,
		Rated:       o.Rated,
	}
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requester   string `json:"requester"`
		CommunityID string `json:"community_id"`
		ChannelID   string `json:"channel_id"`
		Item        string `json:"item"`
		Tier        string `json:"tier"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "place_order", err)
		return
	}
	if req.Tier == "" {
		req.Tier = string(domain.TierStandard)
	}
	res, err := h.coord.PlaceOrder(r.Context(), coordinator.PlaceRequest{
		Requester:   req.Requester,
		Destination: domain.Destination{CommunityID: req.CommunityID, ChannelID: req.ChannelID},
		Item:        req.Item,
		Tier:        domain.Tier(req.Tier),
	})
	if err != nil {
		writeErr(w, h.log, "place_order", err)
		return
	}
	if res.Offer != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"queue_full": true,
			"offer_id":   res.Offer.ID,
			"surcharge":  res.Offer.Surcharge,
			"expires_at": res.Offer.ExpiresAt,
		})
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(res.Order))
}

func (h *Handler) confirmBypass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requester string `json:"requester"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "confirm_bypass", err)
		return
	}
	o, err := h.coord.ConfirmBypass(r.Context(), req.Requester, r.PathValue("offer_id"))
	if err != nil {
		writeErr(w, h.log, "confirm_bypass", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.coord.ActiveOrders(r.Context())
	if err != nil {
		writeErr(w, h.log, "list_orders", err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOf(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.coord.Order(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, h.log, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o))
}

type identityReq struct {
	Identity string `json:"identity"`
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	var req identityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "claim_order", err)
		return
	}
	if err := h.coord.Claim(r.Context(), req.Identity, r.PathValue("id")); err != nil {
		writeErr(w, h.log, "claim_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (h *Handler) unclaim(w http.ResponseWriter, r *http.Request) {
	var req identityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "unclaim_order", err)
		return
	}
	if err := h.coord.Unclaim(r.Context(), req.Identity, r.PathValue("id")); err != nil {
		writeErr(w, h.log, "unclaim_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string   `json:"identity"`
		Proofs   []string `json:"proofs"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "begin_preparation", err)
		return
	}
	if err := h.coord.BeginPreparation(r.Context(), req.Identity, r.PathValue("id"), req.Proofs); err != nil {
		writeErr(w, h.log, "begin_preparation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "preparing"})
}

func (h *Handler) take(w http.ResponseWriter, r *http.Request) {
	var req identityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "take_order", err)
		return
	}
	link, err := h.coord.Take(r.Context(), req.Identity, r.PathValue("id"))
	if err != nil {
		writeErr(w, h.log, "take_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatching", "access_link": link})
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	var req identityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "confirm_delivery", err)
		return
	}
	if err := h.coord.ConfirmDelivery(r.Context(), req.Identity, r.PathValue("id")); err != nil {
		writeErr(w, h.log, "confirm_delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// cancel routes the disciplinary cancel to the stage-appropriate form
// based on where the order currently is.
func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Reason   string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "cancel_order", err)
		return
	}
	id := r.PathValue("id")
	o, err := h.coord.Order(r.Context(), id)
	if err != nil {
		writeErr(w, h.log, "cancel_order", err)
		return
	}
	switch o.Status {
	case domain.StatusPending, domain.StatusClaimed:
		err = h.coord.CancelPreCook(r.Context(), req.Identity, id, req.Reason)
	case domain.StatusReady:
		err = h.coord.CancelPreDispatch(r.Context(), req.Identity, id, req.Reason)
	default:
		err = domain.ErrStateConflict
	}
	if err != nil {
		writeErr(w, h.log, "cancel_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) rate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Stars    int    `json:"stars"`
		Feedback string `json:"feedback"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "rate_order", err)
		return
	}
	if err := h.coord.Rate(r.Context(), req.Identity, r.PathValue("id"), req.Stars, req.Feedback); err != nil {
		writeErr(w, h.log, "rate_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

func (h *Handler) tip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Amount   int64  `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "tip_order", err)
		return
	}
	if err := h.coord.Tip(r.Context(), req.Identity, r.PathValue("id"), req.Amount); err != nil {
		writeErr(w, h.log, "tip_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "tipped"})
}

func (h *Handler) complain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Reason   string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "complain_order", err)
		return
	}
	if err := h.coord.Complain(r.Context(), req.Identity, r.PathValue("id"), req.Reason); err != nil {
		writeErr(w, h.log, "complain_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) forceCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity string `json:"identity"`
		Reason   string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "force_cancel", err)
		return
	}
	if err := h.coord.ForceCancel(r.Context(), req.Identity, r.PathValue("id"), req.Reason); err != nil {
		writeErr(w, h.log, "force_cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	var req identityReq
	if err := decode(r, &req); err != nil {
		writeErr(w, h.log, "refund_order", err)
		return
	}
	if err := h.coord.RefundOrder(r.Context(), req.Identity, r.PathValue("id")); err != nil {
		writeErr(w, h.log, "refund_order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}
