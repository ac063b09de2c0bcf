package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"partsdesk/checkout/internal/domain"
)

// Backend is the remote collaborator the checkout flow settles sales with.
type Backend interface {
	GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error)
	CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error)
	InitiateMobilePayment(ctx context.Context, req domain.MobilePaymentRequest) (domain.MobilePaymentResponse, error)
	GetMobilePaymentStatus(ctx context.Context, checkoutReference string) (domain.MobilePaymentStatus, error)
}

type Options struct {
	BranchID       string
	TaxRate        decimal.Decimal
	CountryCode    string
	PollInterval   time.Duration
	PaymentTimeout time.Duration

	// OnFinalize runs once per completed sale, after the session lock is
	// released.
	OnFinalize func(domain.CompletedSale)
	// OnPaymentOutcome runs when a mobile payment attempt reaches a
	// terminal status.
	OnPaymentOutcome func(domain.PaymentAttempt)
}

func (o Options) withDefaults() Options {
	if o.TaxRate.IsZero() {
		o.TaxRate = DefaultTaxRate
	}
	if o.CountryCode == "" {
		o.CountryCode = DefaultCountryCode
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PaymentTimeout <= 0 {
		o.PaymentTimeout = DefaultPaymentTimeout
	}
	return o
}

// Session is one operator's checkout: cart, pricing inputs, customer, the
// mobile payment attempt and the last completed sale. All methods are safe
// for concurrent use.
type Session struct {
	id       string
	operator string
	backend  Backend
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	cart           Cart
	pricing        PricingInput
	customerID     string
	unpaid         []domain.InvoiceSummary
	payment        domain.PaymentSession
	attempt        uint64
	attemptAmount  decimal.Decimal
	cancelPoll     context.CancelFunc
	directInFlight bool
	lastSale       *domain.CompletedSale
	version        uint64
	subscribers    map[int]chan domain.CheckoutSnapshot
	nextSub        int
	closed         bool
}

func NewSession(id string, operator string, backend Backend, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:          id,
		operator:    operator,
		backend:     backend,
		opts:        opts.withDefaults(),
		ctx:         ctx,
		cancel:      cancel,
		pricing:     PricingInput{DiscountType: domain.DiscountFixed},
		payment:     domain.PaymentSession{Status: domain.PaymentIdle},
		subscribers: make(map[int]chan domain.CheckoutSnapshot),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Operator() string {
	return s.operator
}

func (s *Session) AddProduct(product domain.Product) error {
	return s.AddProductQuantity(product, 1)
}

// AddProductQuantity adds qty units in one change; a stock rejection leaves
// the cart as it was.
func (s *Session) AddProductQuantity(product domain.Product, qty int) error {
	return s.mutate(func() error { return s.cart.AddLineQty(product, qty) })
}

func (s *Session) SetQuantity(productID string, qty int) error {
	return s.mutate(func() error { return s.cart.SetQuantity(productID, qty) })
}

func (s *Session) RemoveLine(productID string) error {
	return s.mutate(func() error { return s.cart.RemoveLine(productID) })
}

// Unlock releases an invoice-locked cart, clearing its lines and customer.
// On an ad-hoc cart it changes nothing.
func (s *Session) Unlock() error {
	return s.mutate(func() error {
		if s.cart.Unlock() {
			s.customerID = ""
		}
		return nil
	})
}

func (s *Session) SetPricing(in PricingInput) error {
	if in.DiscountType != domain.DiscountPercent && in.DiscountType != domain.DiscountFixed {
		in.DiscountType = domain.DiscountFixed
	}
	return s.mutate(func() error {
		s.pricing = in
		return nil
	})
}

func (s *Session) SelectCustomer(customerID string) error {
	return s.mutate(func() error {
		s.customerID = customerID
		return nil
	})
}

func (s *Session) SetUnpaidInvoices(invoices []domain.InvoiceSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unpaid = append([]domain.InvoiceSummary(nil), invoices...)
	s.changedLocked()
}

// LoadInvoice fetches invoiceID and locks the cart to its lines. On failure
// the existing cart is left untouched.
func (s *Session) LoadInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	s.mu.Lock()
	err := s.busyLocked()
	s.mu.Unlock()
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice, err := s.backend.GetInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			return domain.Invoice{}, err
		}
		return domain.Invoice{}, fmt.Errorf("%w: %v", ErrInvoiceFetch, err)
	}

	err = s.mutate(func() error {
		s.cart.LoadFromInvoice(invoice)
		s.customerID = invoice.CustomerID
		if invoice.Customer != nil && invoice.Customer.ID != "" {
			s.customerID = invoice.Customer.ID
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return invoice, nil
}

// PayDirect settles the cart with a synchronous method (cash, bank transfer,
// cheque) and finalizes the sale on success.
func (s *Session) PayDirect(ctx context.Context, method domain.PaymentMethod) (domain.CompletedSale, error) {
	if !method.Direct() {
		return domain.CompletedSale{}, fmt.Errorf("%s: %w", method, ErrUnsupportedMethod)
	}

	s.mu.Lock()
	if err := s.busyLocked(); err != nil {
		s.mu.Unlock()
		return domain.CompletedSale{}, err
	}
	if s.cart.Len() == 0 {
		s.mu.Unlock()
		return domain.CompletedSale{}, ErrEmptyCart
	}
	summary := s.summaryLocked()
	req := domain.CreateSaleRequest{
		CustomerID:    s.customerID,
		BranchID:      s.opts.BranchID,
		Items:         saleItems(s.cart.Lines()),
		Discount:      summary.DiscountAmount,
		TaxAmount:     summary.TaxAmount,
		TotalAmount:   summary.Total,
		PaymentMethod: method,
		InvoiceID:     s.cart.InvoiceID(),
	}
	s.directInFlight = true
	s.changedLocked()
	s.mu.Unlock()

	sale, err := s.backend.CreateSale(ctx, req)

	s.mu.Lock()
	s.directInFlight = false
	if err != nil {
		s.changedLocked()
		s.mu.Unlock()
		return domain.CompletedSale{}, fmt.Errorf("%w: %v", ErrSaleCreation, err)
	}
	completed := s.finalizeLocked(sale, method, summary)
	s.changedLocked()
	s.mu.Unlock()

	s.emitFinalized(completed)
	return completed, nil
}

func (s *Session) Summary() domain.PricingSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

func (s *Session) LastSale() (domain.CompletedSale, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSale == nil {
		return domain.CompletedSale{}, false
	}
	return *s.lastSale, true
}

func (s *Session) Snapshot() domain.CheckoutSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Slow readers skip intermediate versions. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan domain.CheckoutSnapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan domain.CheckoutSnapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// Close abandons any payment attempt and releases subscribers.
func (s *Session) Close() {
	s.AbandonMobilePayment()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.busyLocked(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	s.changedLocked()
	return nil
}

func (s *Session) busyLocked() error {
	if s.payment.Status == domain.PaymentAwaitingConfirmation || s.directInFlight {
		return ErrPaymentInProgress
	}
	return nil
}

func (s *Session) summaryLocked() domain.PricingSummary {
	return Price(s.cart.lines, s.cart.Locked(), s.pricing, s.opts.TaxRate)
}

// finalizeLocked records the completed sale, drops a settled invoice from the
// unpaid set and resets cart, pricing and payment state.
func (s *Session) finalizeLocked(sale domain.Sale, method domain.PaymentMethod, summary domain.PricingSummary) domain.CompletedSale {
	now := time.Now().UTC()
	invoiceID := s.cart.InvoiceID()

	items := sale.Items
	if len(items) == 0 {
		items = saleItems(s.cart.Lines())
	}
	amount := sale.TotalAmount
	if amount.IsZero() {
		amount = summary.Total
	}
	createdAt := sale.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	completed := domain.CompletedSale{
		SaleNumber:    sale.SaleNumber,
		SaleID:        sale.ID,
		Operator:      s.operator,
		BranchID:      s.opts.BranchID,
		CustomerID:    s.customerID,
		InvoiceID:     invoiceID,
		PaymentMethod: method,
		Amount:        amount,
		Pricing:       summary,
		Items:         items,
		CreatedAt:     createdAt,
		CompletedAt:   now,
	}
	s.lastSale = &completed

	if invoiceID != "" {
		kept := s.unpaid[:0]
		for _, inv := range s.unpaid {
			if inv.ID != invoiceID {
				kept = append(kept, inv)
			}
		}
		s.unpaid = kept
	}

	s.cart.Clear()
	s.customerID = ""
	s.pricing = PricingInput{DiscountType: s.pricing.DiscountType, ApplyTax: s.pricing.ApplyTax}
	s.payment = domain.PaymentSession{Status: domain.PaymentIdle}
	return completed
}

func (s *Session) emitFinalized(sale domain.CompletedSale) {
	if s.opts.OnFinalize != nil {
		s.opts.OnFinalize(sale)
	}
}

func (s *Session) changedLocked() {
	s.version++
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) snapshotLocked() domain.CheckoutSnapshot {
	unpaid := make([]domain.InvoiceSummary, len(s.unpaid))
	copy(unpaid, s.unpaid)

	var last *domain.CompletedSale
	if s.lastSale != nil {
		sale := *s.lastSale
		last = &sale
	}

	return domain.CheckoutSnapshot{
		SessionID:      s.id,
		Operator:       s.operator,
		Lines:          s.cart.Lines(),
		Locked:         s.cart.Locked(),
		InvoiceID:      s.cart.InvoiceID(),
		CustomerID:     s.customerID,
		DiscountValue:  s.pricing.DiscountValue,
		DiscountType:   s.pricing.DiscountType,
		ApplyTax:       s.pricing.ApplyTax,
		Pricing:        s.summaryLocked(),
		Payment:        s.payment,
		UnpaidInvoices: unpaid,
		LastSale:       last,
		Version:        s.version,
	}
}

func saleItems(lines []domain.CartLine) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.SaleItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.RetailPrice,
		})
	}
	return items
}
