package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func seed(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	for _, a := range []*Asset{
		{ID: "btc", Symbol: "BTC", Name: "Bitcoin", Category: "crypto", Price: decimal.RequireFromString("65000"), Tradable: true},
		{ID: "eth", Symbol: "ETH", Name: "Ethereum", Category: "crypto", Price: decimal.RequireFromString("3200"), Tradable: true},
		{ID: "aapl", Symbol: "AAPL", Name: "Apple Inc.", Category: "equity", Price: decimal.RequireFromString("230.10"), Tradable: true},
	} {
		if err := svc.Upsert(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return svc
}

func TestService_ListAndFilter(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	all, err := svc.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list = %d assets, %v", len(all), err)
	}

	crypto, err := svc.List(ctx, "crypto")
	if err != nil || len(crypto) != 2 {
		t.Fatalf("crypto = %d assets, %v", len(crypto), err)
	}
	for _, a := range crypto {
		if a.Category != "crypto" {
			t.Fatalf("filter leak: %+v", a)
		}
	}
}

func TestService_GetUnknownAsset(t *testing.T) {
	svc := seed(t)
	if _, err := svc.Get(context.Background(), "doge"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_UpsertReplaces(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, &Asset{
		ID: "btc", Symbol: "BTC", Name: "Bitcoin", Category: "crypto",
		Price: decimal.RequireFromString("70000"), Tradable: true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	a, _ := svc.Get(ctx, "btc")
	if !a.Price.Equal(decimal.RequireFromString("70000")) {
		t.Fatalf("price = %s", a.Price)
	}
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(seed(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestHandler_List(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/inventory/assets?category=equity", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Assets []struct {
			ID string `json:"id"`
		} `json:"assets"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Assets) != 1 || body.Assets[0].ID != "aapl" {
		t.Fatalf("assets = %+v", body.Assets)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/inventory/assets/doge", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != "NOT_FOUND" {
		t.Fatalf("code = %q", body.Code)
	}
}
