package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/config"
	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/proxy"
	"github.com/openmarkets/tradegate/internal/token"
)

const testSigningKey = "test-signing-key-needs-32-bytes!"

// testUpstreams fakes the three downstream services behind the gateway.
type testUpstreams struct {
	user      *httptest.Server
	inventory *httptest.Server
	order     *httptest.Server
}

func (u *testUpstreams) close() {
	u.user.Close()
	u.inventory.Close()
	u.order.Close()
}

func newUpstreams(t *testing.T) *testUpstreams {
	t.Helper()
	u := &testUpstreams{}

	u.user = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"code": "AUTH_INVALID"})
		case "/api/v1/balance":
			json.NewEncoder(w).Encode(map[string]string{
				"subject":   r.Header.Get(proxy.HeaderSubject),
				"available": "100",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	u.inventory = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"assets": []string{"btc", "eth"}})
	}))

	u.order = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/v1/portfolio/") {
			json.NewEncoder(w).Encode(map[string]any{"holdings": []any{}})
			return
		}
		// Orders always fail so breaker tests can trip on this downstream.
		w.WriteHeader(http.StatusInternalServerError)
	}))

	t.Cleanup(u.close)
	return u
}

func newGateway(t *testing.T, up *testUpstreams, mutate func(*config.Config)) (*Server, *coordstore.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:     "0",
		Env:      "development",
		LogLevel: "error",

		TokenSigningKey: testSigningKey,
		TokenTTL:        time.Hour,

		UserServiceURL:      up.user.URL,
		InventoryServiceURL: up.inventory.URL,
		OrderServiceURL:     up.order.URL,

		GatewayRateLimit: 1000,
		AuthRateLimit:    1000,
		OrderRateLimit:   1000,
		RateWindow:       time.Minute,

		BlockThreshold: 100,
		BlockTTL:       time.Minute,

		BreakerThreshold:     100,
		BreakerFailureWindow: time.Minute,
		BreakerCooldown:      time.Minute,
		BreakerProbes:        1,

		LockTTL:     30 * time.Second,
		LockWaitMax: 5 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := coordstore.NewMemoryStore()
	s, err := New(cfg,
		WithStore(store),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return s, store
}

func issue(t *testing.T, subject string, role token.Role) string {
	t.Helper()
	bearer, _, err := token.NewIssuer(testSigningKey, time.Hour).Issue(subject, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return bearer
}

func request(s *Server, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func problemCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode problem: %v: %s", err, w.Body.String())
	}
	return body.Code
}

func TestGateway_UnknownRoute(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	w := request(s, "GET", "/api/v1/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := problemCode(t, w); code != "NOT_FOUND" {
		t.Fatalf("code = %q", code)
	}
}

func TestGateway_PublicRouteProxies(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	w := request(s, "GET", "/api/v1/inventory/assets", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("missing X-RateLimit-Limit header")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestGateway_AuthCodes(t *testing.T) {
	s, store := newGateway(t, newUpstreams(t), nil)

	// No token.
	w := request(s, "GET", "/api/v1/balance", "")
	if w.Code != http.StatusUnauthorized || problemCode(t, w) != "AUTH_MISSING" {
		t.Fatalf("missing: status=%d code=%s", w.Code, w.Body.String())
	}

	// Garbage token.
	w = request(s, "GET", "/api/v1/balance", "not-a-jwt")
	if w.Code != http.StatusUnauthorized || problemCode(t, w) != "AUTH_INVALID" {
		t.Fatalf("garbage: status=%d code=%s", w.Code, w.Body.String())
	}

	// Expired token, beyond clock skew.
	expired, _, err := token.NewIssuer(testSigningKey, -2*time.Minute).Issue("alice", token.RoleCustomer)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	w = request(s, "GET", "/api/v1/balance", expired)
	if w.Code != http.StatusUnauthorized || problemCode(t, w) != "AUTH_EXPIRED" {
		t.Fatalf("expired: status=%d code=%s", w.Code, w.Body.String())
	}

	// Revoked token.
	bearer := issue(t, "alice", token.RoleCustomer)
	v := token.NewVerifier(testSigningKey, store)
	if err := v.Denylist(context.Background(), token.Fingerprint(bearer), time.Hour); err != nil {
		t.Fatalf("denylist: %v", err)
	}
	w = request(s, "GET", "/api/v1/balance", bearer)
	if w.Code != http.StatusUnauthorized || problemCode(t, w) != "AUTH_REVOKED" {
		t.Fatalf("revoked: status=%d code=%s", w.Code, w.Body.String())
	}
}

func TestGateway_IdentityForwarded(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	w := request(s, "GET", "/api/v1/balance", issue(t, "alice", token.RoleCustomer))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Subject string `json:"subject"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Subject != "alice" {
		t.Fatalf("upstream saw subject %q, want alice", body.Subject)
	}
}

func TestGateway_RoleEnforced(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	w := request(s, "GET", "/api/v1/balance", issue(t, "guest", token.RolePublic))
	if w.Code != http.StatusForbidden || problemCode(t, w) != "PERM_FORBIDDEN" {
		t.Fatalf("status=%d code=%s", w.Code, w.Body.String())
	}
}

func TestGateway_OwnerParam(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	if w := request(s, "GET", "/api/v1/portfolio/alice", issue(t, "alice", token.RoleCustomer)); w.Code != http.StatusOK {
		t.Fatalf("owner: status = %d: %s", w.Code, w.Body.String())
	}
	if w := request(s, "GET", "/api/v1/portfolio/alice", issue(t, "bob", token.RoleCustomer)); w.Code != http.StatusForbidden {
		t.Fatalf("stranger: status = %d, want 403", w.Code)
	}
	if w := request(s, "GET", "/api/v1/portfolio/alice", issue(t, "root", token.RoleAdmin)); w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, want 200", w.Code)
	}
}

func TestGateway_RateLimitExhaustion(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), func(c *config.Config) {
		c.GatewayRateLimit = 2
	})

	for i := 0; i < 2; i++ {
		if w := request(s, "GET", "/api/v1/inventory/assets", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}

	w := request(s, "GET", "/api/v1/inventory/assets", "")
	if w.Code != http.StatusTooManyRequests || problemCode(t, w) != "RATE_LIMITED" {
		t.Fatalf("status=%d code=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q, want 0", w.Header().Get("X-RateLimit-Remaining"))
	}
	if w.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("missing X-RateLimit-Reset header")
	}
}

func TestGateway_LoginFailuresBlockAddress(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), func(c *config.Config) {
		c.BlockThreshold = 3
	})

	for i := 0; i < 3; i++ {
		if w := request(s, "POST", "/api/v1/auth/login", ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("login %d: status = %d", i, w.Code)
		}
	}

	// Any path from the blocked address is now refused before routing.
	w := request(s, "GET", "/api/v1/inventory/assets", "")
	if w.Code != http.StatusForbidden || problemCode(t, w) != "IP_BLOCKED" {
		t.Fatalf("status=%d code=%s", w.Code, w.Body.String())
	}

	// Even previously valid authenticated traffic.
	w = request(s, "GET", "/api/v1/balance", issue(t, "alice", token.RoleCustomer))
	if w.Code != http.StatusForbidden {
		t.Fatalf("authed status = %d, want 403", w.Code)
	}
}

func TestGateway_OpsClearIPBlock(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), func(c *config.Config) {
		c.BlockThreshold = 2
		c.AdminSecret = "ops-secret"
	})

	for i := 0; i < 2; i++ {
		request(s, "POST", "/api/v1/auth/login", "")
	}
	if w := request(s, "GET", "/api/v1/inventory/assets", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected block, got %d", w.Code)
	}

	// httptest requests default to RemoteAddr 192.0.2.1.
	req := httptest.NewRequest("DELETE", "/ops/ip-blocks/192.0.2.1", nil)
	req.Header.Set("X-Admin-Secret", "ops-secret")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d: %s", w.Code, w.Body.String())
	}

	if w := request(s, "GET", "/api/v1/inventory/assets", ""); w.Code != http.StatusOK {
		t.Fatalf("after clear: status = %d", w.Code)
	}

	// Wrong secret is refused.
	req = httptest.NewRequest("DELETE", "/ops/ip-blocks/192.0.2.1", nil)
	req.Header.Set("X-Admin-Secret", "wrong")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: status = %d, want 403", w.Code)
	}
}

func TestGateway_BreakerOpensOnDownstreamFailures(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), func(c *config.Config) {
		c.BreakerThreshold = 2
	})
	bearer := issue(t, "alice", token.RoleCustomer)

	// The fake order service 500s on /orders; each response feeds the breaker.
	for i := 0; i < 2; i++ {
		if w := request(s, "GET", "/api/v1/orders", bearer); w.Code != http.StatusInternalServerError {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}

	w := request(s, "GET", "/api/v1/orders", bearer)
	if w.Code != http.StatusServiceUnavailable || problemCode(t, w) != "SERVICE_UNAVAILABLE" {
		t.Fatalf("status=%d code=%s", w.Code, w.Body.String())
	}

	// Other downstreams are unaffected.
	if w := request(s, "GET", "/api/v1/inventory/assets", ""); w.Code != http.StatusOK {
		t.Fatalf("inventory status = %d", w.Code)
	}
}

func TestGateway_HealthEndpoints(t *testing.T) {
	s, _ := newGateway(t, newUpstreams(t), nil)

	w := request(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Healthy  bool              `json:"healthy"`
		Breakers map[string]string `json:"breakers"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Healthy {
		t.Fatal("expected healthy")
	}

	if w := request(s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Fatalf("live status = %d", w.Code)
	}
	// Readiness flips only once Run starts listening.
	if w := request(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503 before Run", w.Code)
	}
}
