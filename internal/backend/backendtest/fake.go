// Package backendtest provides an in-memory distributor backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/domain"
)

type Fake struct {
	mu        sync.Mutex
	products  []domain.Product
	customers []domain.Customer
	invoices  map[string]domain.Invoice
	sales     []domain.CreateSaleRequest
	pushes    []domain.MobilePaymentRequest
	outcome   domain.MobilePaymentStatus

	SaleErr error
	PushErr error
}

// New returns a backend seeded with a small auto-parts catalog and one
// unpaid invoice, inv-100.
func New() *Fake {
	f := &Fake{
		products: []domain.Product{
			{ID: "p-brake", PartNumber: "BP-4410", Name: "Brake pad set", RetailPrice: decimal.NewFromInt(1000), WholesalePrice: decimal.NewFromInt(850), Stock: 5},
			{ID: "p-filter", PartNumber: "OF-220", Name: "Oil filter", RetailPrice: decimal.NewFromInt(650), WholesalePrice: decimal.NewFromInt(520), Stock: 12},
			{ID: "p-belt", PartNumber: "FB-031", Name: "Fan belt", RetailPrice: decimal.NewFromInt(480), WholesalePrice: decimal.NewFromInt(400), Stock: 0},
		},
		customers: []domain.Customer{
			{ID: "c-mwangi", Name: "Mwangi Motors", Phone: "0712345678", Wholesale: true},
		},
		invoices: make(map[string]domain.Invoice),
		outcome:  domain.MobilePaymentStatus{Status: domain.MobileStatusPending},
	}
	f.invoices["inv-100"] = domain.Invoice{
		ID:            "inv-100",
		InvoiceNumber: "INV-100",
		Status:        "unpaid",
		CustomerID:    "c-mwangi",
		Items: []domain.InvoiceItem{
			{ProductID: "p-brake", PartNumber: "BP-4410", Name: "Brake pad set", Quantity: 2, UnitPrice: decimal.NewFromInt(900)},
			{ProductID: "p-filter", PartNumber: "OF-220", Name: "Oil filter", Quantity: 1, UnitPrice: decimal.NewFromInt(600)},
		},
		TotalAmount: decimal.NewFromInt(2400),
		CreatedAt:   time.Now().UTC(),
	}
	return f
}

func (f *Fake) ListProducts(_ context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Product(nil), f.products...), nil
}

func (f *Fake) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Customer(nil), f.customers...), nil
}

func (f *Fake) ListUnpaidInvoices(_ context.Context) ([]domain.InvoiceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InvoiceSummary, 0, len(f.invoices))
	for _, inv := range f.invoices {
		if inv.Status != "unpaid" {
			continue
		}
		out = append(out, domain.InvoiceSummary{
			ID:            inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			CustomerID:    inv.CustomerID,
			TotalAmount:   inv.TotalAmount,
			CreatedAt:     inv.CreatedAt,
		})
	}
	return out, nil
}

func (f *Fake) GetInvoice(_ context.Context, invoiceID string) (domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", invoiceID, checkout.ErrInvoiceNotFound)
	}
	return inv, nil
}

func (f *Fake) CreateSale(_ context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaleErr != nil {
		return domain.Sale{}, f.SaleErr
	}
	f.sales = append(f.sales, req)
	if inv, ok := f.invoices[req.InvoiceID]; ok {
		inv.Status = "paid"
		f.invoices[req.InvoiceID] = inv
	}
	n := len(f.sales)
	return domain.Sale{
		ID:            fmt.Sprintf("sale-%d", n),
		SaleNumber:    fmt.Sprintf("S-%05d", n),
		CustomerID:    req.CustomerID,
		InvoiceID:     req.InvoiceID,
		PaymentMethod: req.PaymentMethod,
		TotalAmount:   req.TotalAmount,
		Items:         req.Items,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (f *Fake) InitiateMobilePayment(_ context.Context, req domain.MobilePaymentRequest) (domain.MobilePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PushErr != nil {
		return domain.MobilePaymentResponse{}, f.PushErr
	}
	f.pushes = append(f.pushes, req)
	return domain.MobilePaymentResponse{CheckoutReference: fmt.Sprintf("ws_CO_%d", len(f.pushes))}, nil
}

func (f *Fake) GetMobilePaymentStatus(_ context.Context, _ string) (domain.MobilePaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, nil
}

// CompleteMobilePayment makes subsequent status polls report a completed
// sale for the latest push.
func (f *Fake) CompleteMobilePayment(saleNumber string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var amount decimal.Decimal
	var items []domain.SaleItem
	if n := len(f.pushes); n > 0 {
		amount = f.pushes[n-1].Amount
		items = f.pushes[n-1].Cart
	}
	f.outcome = domain.MobilePaymentStatus{
		Status: domain.MobileStatusCompleted,
		Sale: &domain.Sale{
			ID:            "sale-" + saleNumber,
			SaleNumber:    saleNumber,
			PaymentMethod: domain.PaymentMpesa,
			TotalAmount:   amount,
			Items:         items,
			CreatedAt:     time.Now().UTC(),
		},
	}
}

func (f *Fake) RejectMobilePayment(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome = domain.MobilePaymentStatus{Status: domain.MobileStatusFailed, Message: message}
}

func (f *Fake) Sales() []domain.CreateSaleRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CreateSaleRequest(nil), f.sales...)
}

func (f *Fake) Pushes() []domain.MobilePaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MobilePaymentRequest(nil), f.pushes...)
}
