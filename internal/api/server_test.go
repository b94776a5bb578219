package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bricks/internal/auth"
	"bricks/internal/db"
	"bricks/internal/game"
	"bricks/internal/metrics"
	"bricks/internal/odds"
)

type testAPI struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(db.NewMemoryStore(), nil, odds.DefaultConfig(), logger,
		game.WithRand(rand.New(rand.NewSource(3))),
		game.WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }),
		game.WithMetrics(metrics.New(reg)),
		game.WithSettings(game.Settings{}),
	)
	verifier := auth.StaticVerifier{
		"root":  {ID: "ops", Email: "ops@example.com", Admin: true},
		"alice": {ID: "alice", Email: "alice@example.com"},
		"bob":   {ID: "bob", Email: "bob@example.com"},
	}
	s := New(logger, verifier, svc, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv}
}

func (a *testAPI) do(method, path, token, idem string, body any) (int, map[string]any) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		a.t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		a.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (a *testAPI) mustStatus(want int, method, path, token string, body any) map[string]any {
	a.t.Helper()
	got, out := a.do(method, path, token, "", body)
	if got != want {
		a.t.Fatalf("%s %s: status %d, want %d: %v", method, path, got, want, out)
	}
	return out
}

func (a *testAPI) seed() {
	a.t.Helper()
	a.mustStatus(http.StatusCreated, http.MethodPost, "/v1/admin/seasons", "root", map[string]any{"name": "Season 1"})
	a.mustStatus(http.StatusOK, http.MethodGet, "/v1/wallet", "alice", nil)
	a.mustStatus(http.StatusOK, http.MethodGet, "/v1/wallet", "bob", nil)
	a.mustStatus(http.StatusOK, http.MethodPost, "/v1/admin/grants", "root", map[string]any{
		"account_id": "alice", "crates": 20, "tokens": 20,
	})
	a.mustStatus(http.StatusOK, http.MethodPost, "/v1/admin/grants", "root", map[string]any{
		"account_id": "bob", "coins": 1000,
	})
}

func TestHealthAndAuth(t *testing.T) {
	a := newTestAPI(t)
	a.mustStatus(http.StatusOK, http.MethodGet, "/healthz", "", nil)
	a.mustStatus(http.StatusUnauthorized, http.MethodGet, "/v1/wallet", "", nil)
	a.mustStatus(http.StatusUnauthorized, http.MethodGet, "/v1/wallet", "forged", nil)

	out := a.mustStatus(http.StatusOK, http.MethodGet, "/v1/wallet", "root", nil)
	if out["admin"] != true || out["account_id"] != "ops" {
		t.Fatalf("wallet %v", out)
	}
}

func TestOddsAreDecimalStrings(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	out := a.mustStatus(http.StatusOK, http.MethodGet, "/v1/odds", "alice", nil)
	dist, ok := out["distribution"].(map[string]any)
	if !ok {
		t.Fatalf("distribution missing: %v", out)
	}
	if dist["top"] != "0.3" || dist["second"] != "5" {
		t.Fatalf("distribution %v", dist)
	}
	if out["pity_max"] != float64(75) {
		t.Fatalf("pity_max %v", out["pity_max"])
	}
	a.mustStatus(http.StatusBadRequest, http.MethodGet, "/v1/odds?season=abc", "alice", nil)
	a.mustStatus(http.StatusBadRequest, http.MethodGet, "/v1/odds?season=9", "alice", nil)
}

func TestOpenAndErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	out := a.mustStatus(http.StatusOK, http.MethodPost, "/v1/gacha/open", "alice", map[string]any{"count": 10})
	rewards, _ := out["rewards"].([]any)
	if len(rewards) != 10 {
		t.Fatalf("rewards %v", out["rewards"])
	}
	if _, ok := out["base_price"].(string); !ok {
		t.Fatalf("base_price should be a decimal string: %v", out["base_price"])
	}

	a.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/gacha/open", "alice", map[string]any{"count": 3})
	a.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/gacha/open", "alice", map[string]any{"count": 1, "bogus": true})
	a.mustStatus(http.StatusConflict, http.MethodPost, "/v1/gacha/open", "bob", map[string]any{"count": 1})
	a.mustStatus(http.StatusForbidden, http.MethodPost, "/v1/admin/grants", "alice", map[string]any{"account_id": "alice", "coins": 5})
	a.mustStatus(http.StatusNotFound, http.MethodPost, "/v1/market/bricks/sell/cancel/99", "alice", nil)
	a.mustStatus(http.StatusBadRequest, http.MethodPost, "/v1/market/bricks/sell/cancel/x", "alice", nil)

	status, _ := a.do(http.MethodPost, "/v1/gacha/open", "alice", "same-key", map[string]any{"count": 1})
	if status != http.StatusOK {
		t.Fatalf("first keyed open: %d", status)
	}
	status, body := a.do(http.MethodPost, "/v1/gacha/open", "alice", "same-key", map[string]any{"count": 1})
	if status != http.StatusConflict {
		t.Fatalf("replayed key: %d %v", status, body)
	}
}

func TestMarketFlow(t *testing.T) {
	a := newTestAPI(t)
	a.seed()

	sell := a.mustStatus(http.StatusCreated, http.MethodPost, "/v1/market/bricks/sell", "alice", map[string]any{"quantity": 10, "price": 50})
	order := sell["order"].(map[string]any)
	if order["active"] != true {
		t.Fatalf("order %v", order)
	}

	shop := a.mustStatus(http.StatusOK, http.MethodPost, "/v1/shop/buy-bricks", "bob", map[string]any{"count": 4, "max_price": 60})
	if shop["spent"] != float64(200) {
		t.Fatalf("shop %v", shop)
	}

	book := a.mustStatus(http.StatusOK, http.MethodGet, "/v1/market/bricks/book?season=1", "alice", nil)
	mine := book["my_sells"].([]any)
	if len(mine) != 1 || mine[0].(map[string]any)["remaining"] != float64(6) {
		t.Fatalf("my_sells %v", book["my_sells"])
	}
	if _, ok := book["all_sells"]; ok {
		t.Fatalf("players must not see the full book")
	}
	if _, ok := book["base_price"].(string); !ok {
		t.Fatalf("base_price %v", book["base_price"])
	}
	admin := a.mustStatus(http.StatusOK, http.MethodGet, "/v1/market/bricks/book", "root", nil)
	if len(admin["all_sells"].([]any)) != 1 {
		t.Fatalf("admin book %v", admin)
	}

	bid := a.mustStatus(http.StatusCreated, http.MethodPost, "/v1/market/bricks/buy-order", "bob", map[string]any{"quantity": 2, "target_price": 45})
	bidID := int64(bid["order"].(map[string]any)["id"].(float64))
	cancel := a.mustStatus(http.StatusOK, http.MethodPost, "/v1/market/bricks/buy-order/cancel/"+strconv.FormatInt(bidID, 10), "bob", nil)
	if cancel["cancelled"] != true || cancel["restored"] != float64(90) {
		t.Fatalf("cancel %v", cancel)
	}

	hist := a.mustStatus(http.StatusOK, http.MethodGet, "/v1/market/bricks/history?limit=5", "alice", nil)
	if len(hist["trades"].([]any)) != 1 {
		t.Fatalf("history %v", hist)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.seed()
	a.mustStatus(http.StatusOK, http.MethodPost, "/v1/gacha/open", "alice", map[string]any{"count": 1})

	resp, err := a.srv.Client().Get(a.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "bricks_crates_opened_total 1") {
		t.Fatalf("metrics output missing opened counter:\n%s", raw)
	}
}
