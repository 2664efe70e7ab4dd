package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrDisabled = errors.New("document generator is not configured")

// maxDocumentSize bounds the response body read from the generator.
const maxDocumentSize = 10 << 20

type Line struct {
	ProductID    uuid.UUID       `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
}

type Order struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber int64           `json:"order_number"`
	Email       string          `json:"email"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Shipping    decimal.Decimal `json:"shipping"`
	Total       decimal.Decimal `json:"total"`
	Lines       []Line          `json:"lines"`
}

type Refund struct {
	Order        Order           `json:"order"`
	ReturnID     uuid.UUID       `json:"return_id"`
	RefundID     string          `json:"refund_id"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type Generator interface {
	GenerateInvoice(ctx context.Context, order Order) ([]byte, error)
	GenerateRefundDocument(ctx context.Context, refund Refund) ([]byte, error)
}

// Client calls the document-generation service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) GenerateInvoice(ctx context.Context, order Order) ([]byte, error) {
	return c.render(ctx, "/invoices", order)
}

func (c *Client) GenerateRefundDocument(ctx context.Context, refund Refund) ([]byte, error) {
	return c.render(ctx, "/refund-notes", refund)
}

func (c *Client) render(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("document: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("document: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("document: %s returned status %d", path, resp.StatusCode)
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("document: failed to read response: %w", err)
	}
	return doc, nil
}
