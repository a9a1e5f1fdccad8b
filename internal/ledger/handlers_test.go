package ledger

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

	"github.com/openmarkets/tradegate/internal/coordstore"
	"github.com/openmarkets/tradegate/internal/identity"
	"github.com/openmarkets/tradegate/internal/locks"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	lm := locks.NewManager(coordstore.NewMemoryStore())
	svc := NewService(store, lm, 30*time.Second, time.Second)
	h := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	h.RegisterInternalRoutes(r.Group("/internal/v1"))
	return r, svc
}

func doJSON(r *gin.Engine, method, path, subject, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set(identity.HeaderSubject, subject)
		req.Header.Set(identity.HeaderRole, "customer")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_DepositThenBalance(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/api/v1/balance/deposit", "alice", `{"amount":"150.25","reference":"wire-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(r, "GET", "/api/v1/balance", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d", w.Code)
	}
	var acct struct {
		Subject   string `json:"subject"`
		Available string `json:"available"`
	}
	json.Unmarshal(w.Body.Bytes(), &acct)
	if acct.Subject != "alice" || acct.Available != "150.25" {
		t.Fatalf("account = %+v", acct)
	}
}

func TestHandler_WithdrawInsufficientFunds(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(r, "POST", "/api/v1/balance/deposit", "alice", `{"amount":"5"}`)
	w := doJSON(r, "POST", "/api/v1/balance/withdraw", "alice", `{"amount":"10"}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != "INSUFFICIENT_FUNDS" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestHandler_RejectsMissingIdentity(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, "GET", "/api/v1/balance", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandler_ValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, "POST", "/api/v1/balance/deposit", "alice", `{"amount":"-10"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var body struct {
		Code   string `json:"code"`
		Errors []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Code != "VALIDATION_FAILED" || len(body.Errors) == 0 || body.Errors[0].Field != "amount" {
		t.Fatalf("body = %+v", body)
	}
}

func TestHandler_InternalDebit(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.Deposit(context.Background(), "alice", dec("500"), "")

	w := doJSON(r, "POST", "/internal/v1/ledger/debit", "",
		`{"subject":"alice","amount":"200","order_id":"ord_42"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	acct, _ := svc.Balance(context.Background(), "alice")
	if !acct.Available.Equal(dec("300")) {
		t.Fatalf("available = %s, want 300", acct.Available)
	}
}

func TestHandler_TransactionsPagination(t *testing.T) {
	r, svc := newTestRouter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.Deposit(ctx, "alice", dec("1"), "")
		time.Sleep(time.Millisecond)
	}

	w := doJSON(r, "GET", "/api/v1/balance/transactions?limit=2", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var page struct {
		Transactions []json.RawMessage `json:"transactions"`
		NextCursor   string            `json:"next_cursor"`
		HasMore      bool              `json:"has_more"`
	}
	json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Transactions) != 2 || !page.HasMore || page.NextCursor == "" {
		t.Fatalf("page = %+v", page)
	}

	w = doJSON(r, "GET", "/api/v1/balance/transactions?limit=10&cursor="+page.NextCursor, "alice", "")
	json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Transactions) != 3 || page.HasMore {
		t.Fatalf("second page = %+v", page)
	}
}
