package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"points_service/internal/domain"
	"points_service/internal/http/middleware"
	"points_service/internal/idgen"
	"points_service/internal/ratelimit"
	"points_service/internal/repository/memory"
	"points_service/internal/service"

	"github.com/gin-gonic/gin"
)

var now = time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

const adminToken = "admin-secret"

type fixture struct {
	router *gin.Engine
	ledger *memory.Ledger
	audit  *memory.Audit
	tokens *service.TokenService
}

func newFixture(t *testing.T, jwtSecret string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := func() time.Time { return now }
	ids, err := idgen.New(1)
	if err != nil {
		t.Fatalf("idgen: %v", err)
	}
	limiter := ratelimit.NewSlidingWindow(ratelimit.WithClock(clock), ratelimit.WithCleanupInterval(0))
	t.Cleanup(func() { limiter.Close() })

	f := &fixture{
		ledger: memory.NewLedger(),
		audit:  memory.NewAudit(),
		tokens: service.NewTokenService(jwtSecret),
	}
	metricsStore := memory.NewMetrics()
	audit := service.NewAuditService(f.audit)

	ingestor := service.NewEventIngestor(f.ledger, limiter, service.NewPolicyEngine(domain.DefaultPolicyTable()), ids, service.IngestorConfig{
		RateLimit:  5,
		RateWindow: time.Minute,
		Strictness: service.StrictnessSerialized,
	})
	ingestor.SetClock(clock)
	ingestor.SetAudit(audit)

	rollups := service.NewRollupAggregator(f.ledger, metricsStore, 2)
	rollups.SetClock(clock)

	h := NewHandler(ingestor, f.ledger, metricsStore, rollups, audit)
	h.SetClock(clock)

	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	v1 := r.Group("/api/v1", middleware.Identity(f.tokens))
	v1.POST("/points/events", h.SubmitEvent)
	v1.GET("/points/users/:userId/events", h.ListUserEvents)
	v1.GET("/points/users/:userId/summary", h.UserSummary)
	v1.GET("/metrics/hourly", h.HourlyMetrics)
	v1.GET("/metrics/daily", h.DailyMetrics)
	v1.GET("/policy", h.GetPolicy)
	v1.POST("/admin/rollup", middleware.AdminOnly(adminToken), h.TriggerRollup)
	v1.GET("/admin/audit", middleware.AdminOnly(adminToken), h.AuditLogs)
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.1.2.3:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func event(userID string, typ domain.EarnType, amount int64) map[string]any {
	return map[string]any{"userId": userID, "type": typ, "amount": amount}
}

func TestSubmitEvent_Accepted(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(http.MethodPost, "/api/v1/points/events", event("new-user", domain.EarnReferral, 50), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("limit header = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Fatalf("remaining header = %q", got)
	}

	body := decode(t, w)
	if body["remaining"].(float64) != 4 {
		t.Fatalf("unexpected remaining: %v", body["remaining"])
	}
	ev := body["event"].(map[string]any)
	if ev["amount"].(float64) != 50 || ev["source"] != "client" || ev["user_id"] != "new-user" {
		t.Fatalf("unexpected event %v", ev)
	}
	if f.ledger.Count() != 1 {
		t.Fatalf("expected one ledger row, got %d", f.ledger.Count())
	}
}

func TestSubmitEvent_RateLimited(t *testing.T) {
	f := newFixture(t, "")

	for i := 0; i < 5; i++ {
		w := f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnReferral, 10), nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, w.Code)
		}
	}

	w := f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnReferral, 10), nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("remaining header = %q", got)
	}
	body := decode(t, w)
	if body["reason"] != string(domain.ReasonRateLimited) || body["retry_after"].(float64) != 60 || body["remaining"].(float64) != 0 {
		t.Fatalf("unexpected body %v", body)
	}
	if f.ledger.Count() != 5 {
		t.Fatalf("rejected request must not write, ledger has %d", f.ledger.Count())
	}
}

func TestSubmitEvent_ForwardedHeadersDoNotChangeIdentity(t *testing.T) {
	f := newFixture(t, "")

	for i := 0; i < 20; i++ {
		fwd := fmt.Sprintf("198.51.100.%d", i)
		w := f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnReferral, 10),
			map[string]string{"X-Forwarded-For": fwd, "X-Real-IP": fwd})
		want := http.StatusCreated
		if i >= 5 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, w.Code)
		}
	}
	if f.ledger.Count() != 5 {
		t.Fatalf("expected 5 ledger rows from one socket, got %d", f.ledger.Count())
	}
}

func TestSubmitEvent_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		body   any
		status int
		reason domain.Reason
	}{
		{"missing amount", map[string]any{"userId": "u1", "type": "referral"}, http.StatusBadRequest, domain.ReasonMalformed},
		{"bad json", `{"userId":`, http.StatusBadRequest, domain.ReasonMalformed},
		{"negative amount", event("u1", domain.EarnReferral, -1), http.StatusBadRequest, domain.ReasonMalformed},
		{"unknown type", event("u1", "mining", 1), http.StatusBadRequest, domain.ReasonInvalidType},
		{"over per-event cap", event("u1", domain.EarnReferral, 501), http.StatusForbidden, domain.ReasonOverPerEventCap},
		{"signature required", event("u1", domain.EarnBandwidthShare, 10), http.StatusUnauthorized, domain.ReasonUnauthenticated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "")
			w := f.do(http.MethodPost, "/api/v1/points/events", tc.body, nil)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if body := decode(t, w); body["reason"] != string(tc.reason) {
				t.Fatalf("expected reason %s, got %v", tc.reason, body["reason"])
			}
			if f.ledger.Count() != 0 {
				t.Fatalf("rejected request wrote %d rows", f.ledger.Count())
			}
		})
	}
}

func TestSubmitEvent_CooldownRetryAfter(t *testing.T) {
	f := newFixture(t, "")

	if w := f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnExtensionFarm, 20), nil); w.Code != http.StatusCreated {
		t.Fatalf("first event: %d", w.Code)
	}
	w := f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnExtensionFarm, 20), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	body := decode(t, w)
	if body["reason"] != string(domain.ReasonCooldownActive) || body["retry_after"].(float64) != 10 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSubmitEvent_SignedEvent(t *testing.T) {
	f := newFixture(t, "")
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	body := event("u1", domain.EarnBandwidthShare, 40)
	body["publicKey"] = hex.EncodeToString(pub)
	body["signature"] = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, service.SignedMessage("u1", domain.EarnBandwidthShare, 40)))
	if w := f.do(http.MethodPost, "/api/v1/points/events", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Same signature over a different amount.
	body["amount"] = 41
	w := f.do(http.MethodPost, "/api/v1/points/events", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	logs, _ := f.audit.GetByCategory(context.Background(), domain.AuditCategorySecurity, 10)
	if len(logs) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(logs))
	}

	w = f.do(http.MethodGet, "/api/v1/admin/audit?category=security", nil, map[string]string{middleware.HeaderAdminToken: adminToken})
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d", w.Code)
	}
	entries := decode(t, w)["logs"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["action"] != domain.AuditActionSignatureRejected {
		t.Fatalf("unexpected audit entries %v", entries)
	}
}

func TestSubmitEvent_TokenUserMismatch(t *testing.T) {
	f := newFixture(t, "jwt-secret")
	token, err := f.tokens.Generate("alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + token}

	if w := f.do(http.MethodPost, "/api/v1/points/events", event("bob", domain.EarnReferral, 5), auth); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign userId, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/points/events", event("alice", domain.EarnReferral, 5), auth); w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for own userId, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/v1/points/events", event("alice", domain.EarnReferral, 5), map[string]string{"Authorization": "Bearer nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestUserSummaryAndEvents(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnReferral, 300), nil)
	f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnExtensionFarm, 150), nil)

	w := f.do(http.MethodGet, "/api/v1/points/users/u1/summary", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d", w.Code)
	}
	body := decode(t, w)
	if body["earned_24h"].(float64) != 450 || body["remaining_today"].(float64) != 1550 || body["daily_cap"].(float64) != 2000 {
		t.Fatalf("unexpected summary %v", body)
	}

	w = f.do(http.MethodGet, "/api/v1/points/users/u1/events?limit=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d", w.Code)
	}
	if events := decode(t, w)["events"].([]any); len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if w := f.do(http.MethodGet, "/api/v1/points/users/u1/events?limit=abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestTriggerRollup_Admin(t *testing.T) {
	f := newFixture(t, "")
	f.do(http.MethodPost, "/api/v1/points/events", event("u1", domain.EarnReferral, 50), nil)
	trigger := map[string]any{"scope": "hour", "bucketKey": "2026-03-10T12"}

	if w := f.do(http.MethodPost, "/api/v1/admin/rollup", trigger, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	admin := map[string]string{middleware.HeaderAdminToken: adminToken}
	w := f.do(http.MethodPost, "/api/v1/admin/rollup", trigger, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	report := decode(t, w)
	if report["bucket"] != "2026-03-10T12" || report["users"].(float64) != 1 {
		t.Fatalf("unexpected report %v", report)
	}

	w = f.do(http.MethodGet, "/api/v1/metrics/hourly?userId=u1&from=2026-03-10T12&to=2026-03-10T12", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d %s", w.Code, w.Body.String())
	}
	rows := decode(t, w)["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["points_earned"].(float64) != 50 {
		t.Fatalf("unexpected rows %v", rows)
	}

	logs, _ := f.audit.GetByCategory(context.Background(), domain.AuditCategoryAdmin, 10)
	if len(logs) != 1 {
		t.Fatalf("expected rollup audit entry, got %d", len(logs))
	}

	for _, bad := range []map[string]any{
		{"scope": "week"},
		{"scope": "hour", "bucketKey": "yesterday"},
		{"scope": "day", "bucketKey": "2026-03-11"},
	} {
		if w := f.do(http.MethodPost, "/api/v1/admin/rollup", bad, admin); w.Code != http.StatusBadRequest {
			t.Fatalf("trigger %v: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestTriggerRollup_NotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/rollup", middleware.AdminOnly(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rollup", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMetrics_BadRange(t *testing.T) {
	f := newFixture(t, "")
	for _, q := range []string{
		"",
		"?userId=u1&from=bad",
		"?userId=u1&from=2026-03-10T12&to=2026-03-10T10",
	} {
		if w := f.do(http.MethodGet, "/api/v1/metrics/hourly"+q, nil, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, w.Code)
		}
	}
	if w := f.do(http.MethodGet, "/api/v1/metrics/daily?userId=u1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("default daily range: %d", w.Code)
	}
}

func TestGetPolicy(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(http.MethodGet, "/api/v1/policy", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("policy: %d", w.Code)
	}
	types := decode(t, w)["types"].(map[string]any)
	if _, ok := types[string(domain.EarnUptimeMinute)]; !ok {
		t.Fatalf("policy table missing uptime_minute: %v", types)
	}
}

func TestHealth_Readiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("test", map[string]CheckFunc{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp 10.9.8.7:6379: connection refused") },
	})
	r := gin.New()
	r.GET("/readyz", h.Readiness)
	r.GET("/healthz", h.Liveness)
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "10.9.8.7") {
		t.Fatalf("readiness leaked dependency error: %s", w.Body.String())
	}
	checks := decode(t, w)["checks"].(map[string]any)
	if checks["database"] != "healthy" || checks["redis"] != "unhealthy" {
		t.Fatalf("unexpected checks %v", checks)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable || strings.Contains(w.Body.String(), "10.9.8.7") {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("liveness: %d", w.Code)
	}
}
