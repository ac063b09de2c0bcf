package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/domain"
)

type pollResult struct {
	status domain.MobilePaymentStatus
	err    error
}

type fakeBackend struct {
	mu         sync.Mutex
	invoices   map[string]domain.Invoice
	invoiceErr error
	saleErr    error
	sales      []domain.CreateSaleRequest
	pushErr    error
	pushes     []domain.MobilePaymentRequest
	results    []pollResult
	pollDelay  time.Duration

	polls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{invoices: make(map[string]domain.Invoice)}
}

func (f *fakeBackend) GetInvoice(_ context.Context, invoiceID string) (domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invoiceErr != nil {
		return domain.Invoice{}, f.invoiceErr
	}
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return domain.Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (f *fakeBackend) CreateSale(_ context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saleErr != nil {
		return domain.Sale{}, f.saleErr
	}
	f.sales = append(f.sales, req)
	return domain.Sale{
		ID:            fmt.Sprintf("sale-%d", len(f.sales)),
		SaleNumber:    fmt.Sprintf("S-%04d", len(f.sales)),
		CustomerID:    req.CustomerID,
		InvoiceID:     req.InvoiceID,
		PaymentMethod: req.PaymentMethod,
		TotalAmount:   req.TotalAmount,
		Items:         req.Items,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeBackend) InitiateMobilePayment(_ context.Context, req domain.MobilePaymentRequest) (domain.MobilePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	if f.pushErr != nil {
		return domain.MobilePaymentResponse{}, f.pushErr
	}
	return domain.MobilePaymentResponse{CheckoutReference: fmt.Sprintf("ws_CO_%d", len(f.pushes))}, nil
}

// GetMobilePaymentStatus replays results in order; the last one repeats.
// With no results configured it always reports pending.
func (f *fakeBackend) GetMobilePaymentStatus(ctx context.Context, _ string) (domain.MobilePaymentStatus, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	idx := int(f.polls.Add(1)) - 1

	f.mu.Lock()
	delay := f.pollDelay
	var res pollResult
	switch {
	case len(f.results) == 0:
		res = pollResult{status: domain.MobilePaymentStatus{Status: domain.MobileStatusPending}}
	case idx < len(f.results):
		res = f.results[idx]
	default:
		res = f.results[len(f.results)-1]
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.MobilePaymentStatus{}, ctx.Err()
		}
	}
	return res.status, res.err
}

func (f *fakeBackend) setResults(results ...pollResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = results
}

func (f *fakeBackend) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeBackend) saleRequests() []domain.CreateSaleRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CreateSaleRequest(nil), f.sales...)
}

func pending() pollResult {
	return pollResult{status: domain.MobilePaymentStatus{Status: domain.MobileStatusPending}}
}

func completed(saleNumber string, total string) pollResult {
	return pollResult{status: domain.MobilePaymentStatus{
		Status: domain.MobileStatusCompleted,
		Sale: &domain.Sale{
			ID:            "sale-" + saleNumber,
			SaleNumber:    saleNumber,
			PaymentMethod: domain.PaymentMpesa,
			TotalAmount:   decimal.RequireFromString(total),
			CreatedAt:     time.Now().UTC(),
		},
	}}
}

func rejected(message string) pollResult {
	return pollResult{status: domain.MobilePaymentStatus{Status: domain.MobileStatusFailed, Message: message}}
}

func transient() pollResult {
	return pollResult{err: errors.New("connection reset by peer")}
}

func testInvoice(id string, lines int) domain.Invoice {
	items := make([]domain.InvoiceItem, 0, lines)
	for i := 0; i < lines; i++ {
		items = append(items, domain.InvoiceItem{
			ProductID:  fmt.Sprintf("item-%d", i),
			PartNumber: fmt.Sprintf("PN-%d", i),
			Name:       fmt.Sprintf("Invoice part %d", i),
			Quantity:   i + 1,
			UnitPrice:  decimal.NewFromInt(int64(100 * (i + 1))),
		})
	}
	return domain.Invoice{
		ID:            id,
		InvoiceNumber: "INV-" + id,
		Status:        "unpaid",
		CustomerID:    "cust-" + id,
		Items:         items,
		CreatedAt:     time.Now().UTC(),
	}
}

// recorder captures finalize and payment-outcome hook invocations.
type recorder struct {
	mu        sync.Mutex
	finalized []domain.CompletedSale
	outcomes  []domain.PaymentAttempt
}

func (r *recorder) options(opts Options) Options {
	opts.OnFinalize = func(sale domain.CompletedSale) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.finalized = append(r.finalized, sale)
	}
	opts.OnPaymentOutcome = func(attempt domain.PaymentAttempt) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outcomes = append(r.outcomes, attempt)
	}
	return opts
}

func (r *recorder) finalizedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finalized)
}

func (r *recorder) lastOutcome() (domain.PaymentAttempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return domain.PaymentAttempt{}, false
	}
	return r.outcomes[len(r.outcomes)-1], true
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", within)
}
