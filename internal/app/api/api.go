package api

import (
	"context"
	"net/http"
	"strconv"

	"bakery-system/internal/common/httpx"
	"bakery-system/internal/coordinator"
	"bakery-system/internal/discipline"
	"bakery-system/internal/ledger"
	"bakery-system/internal/logger"
	"bakery-system/internal/rules"
)

// Handler is the HTTP command surface. The front-end adapter that talks to
// the chat platform is the only intended client; it authenticates users
// itself and passes the acting identity in each request body.
type Handler struct {
	coord *coordinator.Coordinator
	led   *ledger.Ledger
	disc  *discipline.Engine
	rules *rules.Fetcher
	clock coordinator.Clock
	log   *logger.Logger

	// health reports readiness of the backing services.
	health func(context.Context) error
}

func NewHandler(coord *coordinator.Coordinator, led *ledger.Ledger, disc *discipline.Engine,
	rf *rules.Fetcher, clock coordinator.Clock, log *logger.Logger,
	health func(context.Context) error) *Handler {
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	return &Handler{coord: coord, led: led, disc: disc, rules: rf, clock: clock, log: log, health: health}
}

func Router(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/orders", h.placeOrder)
	mux.HandleFunc("POST /v1/orders/bypass/{offer_id}", h.confirmBypass)
	mux.HandleFunc("GET /v1/orders", h.listOrders)
	mux.HandleFunc("GET /v1/orders/{id}", h.getOrder)
	mux.HandleFunc("POST /v1/orders/{id}/claim", h.claim)
	mux.HandleFunc("POST /v1/orders/{id}/unclaim", h.unclaim)
	mux.HandleFunc("POST /v1/orders/{id}/prepare", h.prepare)
	mux.HandleFunc("POST /v1/orders/{id}/take", h.take)
	mux.HandleFunc("POST /v1/orders/{id}/deliver", h.deliver)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", h.cancel)
	mux.HandleFunc("POST /v1/orders/{id}/rate", h.rate)
	mux.HandleFunc("POST /v1/orders/{id}/tip", h.tip)
	mux.HandleFunc("POST /v1/orders/{id}/complain", h.complain)
	mux.HandleFunc("POST /v1/orders/{id}/force-cancel", h.forceCancel)
	mux.HandleFunc("POST /v1/orders/{id}/refund", h.refund)

	mux.HandleFunc("GET /v1/accounts/{identity}", h.account)
	mux.HandleFunc("POST /v1/accounts/{identity}/daily", h.daily)
	mux.HandleFunc("POST /v1/accounts/{identity}/pay", h.pay)
	mux.HandleFunc("POST /v1/accounts/{identity}/double-stats", h.buyDoubleStats)

	mux.HandleFunc("POST /v1/codes", h.generateCodes)
	mux.HandleFunc("POST /v1/codes/redeem", h.redeemCode)
	mux.HandleFunc("POST /v1/vip/grant", h.grantVIP)
	mux.HandleFunc("POST /v1/vip/revoke", h.revokeVIP)

	mux.HandleFunc("POST /v1/scripts", h.setScript)
	mux.HandleFunc("POST /v1/blacklist", h.blacklistAdd)
	mux.HandleFunc("DELETE /v1/blacklist/{community_id}", h.blacklistRemove)
	mux.HandleFunc("POST /v1/discipline/ban", h.ban)
	mux.HandleFunc("POST /v1/discipline/unban", h.unban)

	mux.HandleFunc("GET /v1/rules", h.rulebook)
	mux.HandleFunc("GET /healthz", h.healthz)

	return mux
}

// Run serves the command surface until ctx is cancelled.
func Run(ctx context.Context, port int, h *Handler) error {
	srv := httpx.New(":"+strconv.Itoa(port), Router(h))
	h.log.Info("api_listening", map[string]any{"port": port})
	return srv.Run(ctx)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) rulebook(w http.ResponseWriter, r *http.Request) {
	sections, err := h.rules.Sections(r.Context())
	if err != nil {
		writeErr(w, h.log, "rules_fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}
