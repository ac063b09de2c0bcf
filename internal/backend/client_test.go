package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Token: "svc-token", Timeout: time.Second})
}

func TestClientSendsBearerToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.URL.Path != "/products" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"p1","part_number":"BP-001","name":"Brake pad","retail_price":1500.50,"wholesale_price":1200,"stock":4}]`))
	})

	products, err := client.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 1 || products[0].Stock != 4 {
		t.Fatalf("unexpected products %+v", products)
	}
	if !products[0].RetailPrice.Equal(decimal.RequireFromString("1500.5")) {
		t.Fatalf("unexpected price %s", products[0].RetailPrice)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"invoice not found"}`))
	})

	_, err := client.GetInvoice(context.Background(), "inv-404")
	if !errors.Is(err, checkout.ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
}

func TestListUnpaidInvoicesQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoices" || r.URL.Query().Get("status") != "unpaid" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`[{"id":"inv-1","invoice_number":"INV-1","customer_id":"c1","total_amount":4200}]`))
	})

	invoices, err := client.ListUnpaidInvoices(context.Background())
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(invoices) != 1 || invoices[0].InvoiceNumber != "INV-1" {
		t.Fatalf("unexpected invoices %+v", invoices)
	}
}

func TestCreateSaleEncodesBareDecimals(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sales" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if _, ok := body["total_amount"].(float64); !ok {
			t.Errorf("expected numeric total_amount, got %T", body["total_amount"])
		}
		if body["invoice_id"] != "inv-3" {
			t.Errorf("expected invoice_id, got %v", body["invoice_id"])
		}
		_, _ = w.Write([]byte(`{"id":"sale-1","sale_number":"S-0001","payment_method":"cash","total_amount":2088,"items":[]}`))
	})

	sale, err := client.CreateSale(context.Background(), domain.CreateSaleRequest{
		BranchID:      "main",
		TotalAmount:   decimal.RequireFromString("2088"),
		PaymentMethod: domain.PaymentCash,
		InvoiceID:     "inv-3",
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.SaleNumber != "S-0001" {
		t.Fatalf("unexpected sale %+v", sale)
	}
}

func TestMobilePaymentRoundTrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/mpesa/stk-push":
			_, _ = w.Write([]byte(`{"checkout_reference":"ws_CO_123"}`))
		case "/payments/mpesa/status/ws_CO_123":
			_, _ = w.Write([]byte(`{"status":"completed","sale":{"id":"s1","sale_number":"S-9","payment_method":"mpesa","total_amount":10}}`))
		default:
			http.NotFound(w, r)
		}
	})

	resp, err := client.InitiateMobilePayment(context.Background(), domain.MobilePaymentRequest{PhoneNumber: "254712345678"})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	status, err := client.GetMobilePaymentStatus(context.Background(), resp.CheckoutReference)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != domain.MobileStatusCompleted || status.Sale == nil || status.Sale.SaleNumber != "S-9" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusErrorCarriesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"insufficient stock for BP-001"}`))
	})

	_, err := client.CreateSale(context.Background(), domain.CreateSaleRequest{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusUnprocessableEntity || statusErr.Message != "insufficient stock for BP-001" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var calls atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	})

	for i := 0; i < 8; i++ {
		if _, err := client.ListCustomers(context.Background()); err == nil {
			t.Fatalf("expected 400 error")
		}
	}
	if calls.Load() != 8 {
		t.Fatalf("4xx responses must not open the breaker, got %d calls", calls.Load())
	}

	status.Store(http.StatusBadGateway)
	for i := 0; i < 5; i++ {
		_, _ = client.ListCustomers(context.Background())
	}
	before := calls.Load()

	_, err := client.ListCustomers(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != before {
		t.Fatalf("open breaker must not reach the backend")
	}
}
