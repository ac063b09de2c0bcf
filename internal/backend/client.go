package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/domain"
)

const maxBodyBytes = 4 << 20

// StatusError is returned for non-2xx responses from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the distributor backend over REST with a bearer token.
// Transport failures and 5xx responses trip a circuit breaker; 4xx responses
// are caller errors and never count against it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return NewClientWithHTTP(cfg, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(cfg Config, httpClient *http.Client) *Client {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var statusErr *StatusError
			return errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	if err := c.call(ctx, http.MethodGet, "/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	var out []domain.Customer
	if err := c.call(ctx, http.MethodGet, "/customers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListUnpaidInvoices(ctx context.Context) ([]domain.InvoiceSummary, error) {
	var out []domain.InvoiceSummary
	if err := c.call(ctx, http.MethodGet, "/invoices?status=unpaid", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	var out domain.Invoice
	err := c.call(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID), nil, &out)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return domain.Invoice{}, fmt.Errorf("invoice %s: %w", invoiceID, checkout.ErrInvoiceNotFound)
		}
		return domain.Invoice{}, err
	}
	return out, nil
}

func (c *Client) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	var out domain.Sale
	if err := c.call(ctx, http.MethodPost, "/sales", req, &out); err != nil {
		return domain.Sale{}, err
	}
	return out, nil
}

func (c *Client) InitiateMobilePayment(ctx context.Context, req domain.MobilePaymentRequest) (domain.MobilePaymentResponse, error) {
	var out domain.MobilePaymentResponse
	if err := c.call(ctx, http.MethodPost, "/payments/mpesa/stk-push", req, &out); err != nil {
		return domain.MobilePaymentResponse{}, err
	}
	return out, nil
}

func (c *Client) GetMobilePaymentStatus(ctx context.Context, checkoutReference string) (domain.MobilePaymentStatus, error) {
	var out domain.MobilePaymentStatus
	path := "/payments/mpesa/status/" + url.PathEscape(checkoutReference)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.MobilePaymentStatus{}, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, in any, out any) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = encoded
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, payload)
	})
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return body, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
