package ipblock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openmarkets/tradegate/internal/coordstore"
)

func TestGuard_BlocksAtThreshold(t *testing.T) {
	store := coordstore.NewMemoryStore()
	g := New(store, 3, 5*time.Minute)
	ctx := context.Background()

	g.RecordFailure(ctx, "203.0.113.7")
	g.RecordFailure(ctx, "203.0.113.7")
	if g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("should not block below threshold")
	}

	g.RecordFailure(ctx, "203.0.113.7")
	if !g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("should block at threshold")
	}
	if g.Blocked(ctx, "203.0.113.8") {
		t.Fatal("other addresses are unaffected")
	}
}

func TestGuard_FailureWindowExpires(t *testing.T) {
	store := coordstore.NewMemoryStore()
	now := time.Now()
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	g := New(store, 2, time.Minute)
	ctx := context.Background()

	g.RecordFailure(ctx, "203.0.113.7")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	g.RecordFailure(ctx, "203.0.113.7")
	if g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("stale failures must not count toward the threshold")
	}
}

func TestGuard_BlockExpires(t *testing.T) {
	store := coordstore.NewMemoryStore()
	now := time.Now()
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	g := New(store, 1, time.Minute)
	ctx := context.Background()

	g.RecordFailure(ctx, "203.0.113.7")
	if !g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("should be blocked")
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("block should have expired")
	}
}

func TestGuard_Clear(t *testing.T) {
	store := coordstore.NewMemoryStore()
	g := New(store, 1, time.Hour)
	ctx := context.Background()

	g.RecordFailure(ctx, "203.0.113.7")
	if !g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("should be blocked")
	}

	if err := g.Clear(ctx, "203.0.113.7"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if g.Blocked(ctx, "203.0.113.7") {
		t.Fatal("clear should lift the block")
	}

	// The failure count is cleared too, so one more failure does not
	// immediately reinstate the block at higher thresholds.
	g2 := New(store, 2, time.Hour)
	g2.RecordFailure(ctx, "203.0.113.7")
	if g2.Blocked(ctx, "203.0.113.7") {
		t.Fatal("failure count should restart after clear")
	}
}

func TestMiddleware_RejectsBlockedAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := coordstore.NewMemoryStore()
	g := New(store, 1, time.Hour)
	g.RecordFailure(context.Background(), "203.0.113.7")

	r := gin.New()
	r.Use(g.Middleware())
	r.GET("/api/v1/inventory/assets", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/api/v1/inventory/assets", nil)
	req.RemoteAddr = "203.0.113.7:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/problem+json") {
		t.Fatalf("content type = %q", ct)
	}

	var body struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasSuffix(body.Type, "/authentication-error") {
		t.Errorf("type = %q", body.Type)
	}
	if body.Code != "IP_BLOCKED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestMiddleware_AdmitsUnblockedAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := New(coordstore.NewMemoryStore(), 1, time.Hour)

	r := gin.New()
	r.Use(g.Middleware())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/ok", nil)
	req.RemoteAddr = "198.51.100.1:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
