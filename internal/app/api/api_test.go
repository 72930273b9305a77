package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bakery-system/internal/admission"
	"bakery-system/internal/config"
	"bakery-system/internal/coordinator"
	"bakery-system/internal/discipline"
	"bakery-system/internal/domain"
	"bakery-system/internal/ledger"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
	"bakery-system/internal/repository"
	"bakery-system/internal/rules"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *httptest.Server
	store *repository.Store
	gw    *platform.Fake
	clock *coordinator.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultEngine()
	store := repository.NewMemoryStore()
	gw := platform.NewFake()
	rec := notify.NewRecorder()
	lg := logger.New("api-test")
	clock := coordinator.NewFakeClock(t0)

	led := ledger.New(store.Accounts, store.Codes, cfg)
	disc := discipline.New(store.Accounts, rec, lg)
	adm := admission.New(store.Orders, store.Accounts, store.Blacklist, cfg)
	coord := coordinator.New(store, led, disc, adm, gw, rec, lg, cfg, clock)

	gw.SetCapabilities("prep-1", domain.Capabilities{CanPrepare: true})
	gw.SetCapabilities("mgr-1", domain.Capabilities{CanManage: true})

	h := NewHandler(coord, led, disc, rules.NewFetcher(""), clock, lg, nil)
	srv := httptest.NewServer(Router(h))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, gw: gw, clock: clock}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) fund(t *testing.T, identity string, amount int64) {
	t.Helper()
	require.NoError(t, f.store.Accounts.Credit(context.Background(), identity, amount))
}

func placeBody(requester string) map[string]any {
	return map[string]any{
		"requester":    requester,
		"community_id": "guild-1",
		"channel_id":   "chan-1",
		"item":         "croissant",
	}
}

func TestPlaceOrderEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)

	resp, body := f.post(t, "/v1/orders", placeBody("u1"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(100), body["cost"])
	assert.NotEmpty(t, body["id"])
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	b := placeBody("u1")
	b["item"] = ""
	resp, body := f.post(t, "/v1/orders", b)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestPlaceOrderInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.post(t, "/v1/orders", placeBody("broke"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestQueueFullReturnsOffer(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		u := fmt.Sprintf("filler-%d", i)
		f.fund(t, u, 1000)
		resp, _ := f.post(t, "/v1/orders", placeBody(u))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	f.fund(t, "late", 1000)
	resp, body := f.post(t, "/v1/orders", placeBody("late"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, true, body["queue_full"])
	offerID, _ := body["offer_id"].(string)
	require.NotEmpty(t, offerID)

	resp, body = f.post(t, "/v1/orders/bypass/"+offerID, map[string]any{"requester": "late"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(150), body["cost"])
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/v1/orders/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClaimErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "u1", 1000)
	_, body := f.post(t, "/v1/orders", placeBody("u1"))
	id := body["id"].(string)

	// No capability: 403.
	resp, _ := f.post(t, "/v1/orders/"+id+"/claim", map[string]any{"identity": "rando"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.post(t, "/v1/orders/"+id+"/claim", map[string]any{"identity": "prep-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Losing the race surfaces as 409.
	f.gw.SetCapabilities("prep-2", domain.Capabilities{CanPrepare: true})
	resp, _ = f.post(t, "/v1/orders/"+id+"/claim", map[string]any{"identity": "prep-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDailyEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post(t, "/v1/accounts/u1/daily", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1000), body["credited"])

	resp, _ = f.post(t, "/v1/accounts/u1/daily", map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCodesEndpoints(t *testing.T) {
	f := newFixture(t)

	// Only managers mint codes.
	resp, _ := f.post(t, "/v1/codes", map[string]any{"identity": "prep-1", "count": 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.post(t, "/v1/codes", map[string]any{"identity": "mgr-1", "count": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	codes := body["codes"].([]any)
	require.Len(t, codes, 2)

	resp, body = f.post(t, "/v1/codes/redeem", map[string]any{"identity": "u1", "code": codes[0]})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["vip_until"])

	resp, _ = f.post(t, "/v1/codes/redeem", map[string]any{"identity": "u2", "code": codes[0]})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBanEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/v1/discipline/ban", map[string]any{
		"identity": "mgr-1", "target": "u1", "days": 7, "reason": "abuse",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	a, err := f.store.Accounts.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, a.Blocked(t0.Add(time.Hour)))

	resp, _ = f.post(t, "/v1/discipline/unban", map[string]any{"identity": "mgr-1", "target": "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzDegraded(t *testing.T) {
	store := repository.NewMemoryStore()
	cfg := config.DefaultEngine()
	lg := logger.New("api-test")
	clock := coordinator.NewFakeClock(t0)
	led := ledger.New(store.Accounts, store.Codes, cfg)
	rec := notify.NewRecorder()
	disc := discipline.New(store.Accounts, rec, lg)
	adm := admission.New(store.Orders, store.Accounts, store.Blacklist, cfg)
	coord := coordinator.New(store, led, disc, adm, platform.NewFake(), rec, lg, cfg, clock)

	h := NewHandler(coord, led, disc, rules.NewFetcher(""), clock, lg,
		func(context.Context) error { return errors.New("broker down") })
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestRulesEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("## Ordering\nOne at a time.\n"))
	}))
	defer upstream.Close()

	store := repository.NewMemoryStore()
	cfg := config.DefaultEngine()
	lg := logger.New("api-test")
	clock := coordinator.NewFakeClock(t0)
	led := ledger.New(store.Accounts, store.Codes, cfg)
	rec := notify.NewRecorder()
	disc := discipline.New(store.Accounts, rec, lg)
	adm := admission.New(store.Orders, store.Accounts, store.Blacklist, cfg)
	coord := coordinator.New(store, led, disc, adm, platform.NewFake(), rec, lg, cfg, clock)

	h := NewHandler(coord, led, disc, rules.NewFetcher(upstream.URL), clock, lg, nil)
	srv := httptest.NewServer(Router(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/rules")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sections []rules.Section `json:"sections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sections, 1)
	assert.Equal(t, "Ordering", body.Sections[0].Title)
}
