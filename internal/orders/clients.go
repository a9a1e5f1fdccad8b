package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/httperr"
	"github.com/openmarkets/tradegate/internal/logging"
)

// httpClient is shared by both service clients. Internal calls happen under
// a 30-second subject lock, so they get a much shorter budget.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// HTTPLedgerClient calls the user service's internal ledger endpoints.
type HTTPLedgerClient struct {
	base   string
	client *http.Client
}

// NewHTTPLedgerClient creates a ledger client for the user service at base.
func NewHTTPLedgerClient(base string) *HTTPLedgerClient {
	return &HTTPLedgerClient{base: base, client: httpClient}
}

func (c *HTTPLedgerClient) Debit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) error {
	return c.move(ctx, "/internal/v1/ledger/debit", subject, amount, orderID)
}

func (c *HTTPLedgerClient) Credit(ctx context.Context, subject string, amount decimal.Decimal, orderID string) error {
	return c.move(ctx, "/internal/v1/ledger/credit", subject, amount, orderID)
}

func (c *HTTPLedgerClient) move(ctx context.Context, path, subject string, amount decimal.Decimal, orderID string) error {
	payload, err := json.Marshal(map[string]string{
		"subject":  subject,
		"amount":   amount.String(),
		"order_id": orderID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", logging.RequestID(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if code := problemCode(resp.Body); code == httperr.CodeInsufficient {
		return ErrInsufficientFunds
	}
	return fmt.Errorf("ledger call returned %d", resp.StatusCode)
}

// HTTPCatalogClient reads assets from the inventory service.
type HTTPCatalogClient struct {
	base   string
	client *http.Client
}

// NewHTTPCatalogClient creates a catalog client for the inventory service at
// base.
func NewHTTPCatalogClient(base string) *HTTPCatalogClient {
	return &HTTPCatalogClient{base: base, client: httpClient}
}

func (c *HTTPCatalogClient) GetAsset(ctx context.Context, id string) (*CatalogAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/inventory/assets/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", logging.RequestID(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog call failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var asset CatalogAsset
		if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
			return nil, fmt.Errorf("catalog response: %w", err)
		}
		return &asset, nil
	case http.StatusNotFound:
		return nil, ErrAssetNotFound
	default:
		return nil, fmt.Errorf("catalog call returned %d", resp.StatusCode)
	}
}

// problemCode extracts the machine code from a problem+json body.
func problemCode(r io.Reader) string {
	var p struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&p); err != nil {
		return ""
	}
	return p.Code
}
