package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"partsdesk/checkout/internal/catalog"
	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/domain"
	"partsdesk/checkout/internal/publisher"
	"partsdesk/checkout/internal/store"
	"partsdesk/checkout/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authenticated operator required")
	ErrForbidden       = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Backend is the distributor backend as seen by the terminal: checkout
// settlement plus catalog reads.
type Backend interface {
	checkout.Backend
	catalog.Source
}

type Service struct {
	repo      store.Repository
	catalog   *catalog.Service
	publisher publisher.SalePublisher
	registry  *checkout.Registry
	branchID  string

	hookTimeout time.Duration
	pending     sync.WaitGroup
	hooksMu     sync.Mutex
	hooksClosed bool

	rolesMu sync.RWMutex
	roles   map[string]string
}

func New(repo store.Repository, backend Backend, cat *catalog.Service, pub publisher.SalePublisher, opts checkout.Options) *Service {
	if opts.BranchID == "" {
		opts.BranchID = "main-branch"
	}
	if pub == nil {
		pub = publisher.NoopSalePublisher{}
	}

	s := &Service{
		repo:        repo,
		catalog:     cat,
		publisher:   pub,
		branchID:    opts.BranchID,
		hookTimeout: 15 * time.Second,
		roles:       make(map[string]string),
	}
	opts.OnFinalize = s.onFinalize
	opts.OnPaymentOutcome = s.onPaymentOutcome
	s.registry = checkout.NewRegistry(backend, opts)
	return s
}

func (s *Service) BranchID() string {
	return s.branchID
}

func (s *Service) Products(ctx context.Context) ([]domain.Product, error) {
	return s.catalog.Products(ctx)
}

func (s *Service) Customers(ctx context.Context) ([]domain.Customer, error) {
	return s.catalog.Customers(ctx)
}

func (s *Service) UnpaidInvoices(ctx context.Context) ([]domain.InvoiceSummary, error) {
	return s.catalog.UnpaidInvoices(ctx)
}

// OpenCheckout returns the caller's session, creating it on first use and
// refreshing its unpaid-invoice list from the backend.
func (s *Service) OpenCheckout(ctx context.Context) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}

	invoices, err := s.catalog.UnpaidInvoices(ctx)
	if err != nil {
		log.Printf("[service] WARN: failed to refresh unpaid invoices operator=%s: %v", sess.Operator(), err)
	} else {
		sess.SetUnpaidInvoices(invoices)
	}
	return sess.Snapshot(), nil
}

func (s *Service) Checkout(ctx context.Context) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

// CloseCheckout abandons any pending payment and discards the session.
func (s *Service) CloseCheckout(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if s.registry.Close(actor.Username) {
		s.logAudit(ctx, "checkout_close", "checkout", actor.Username, "")
	}
	return nil
}

func (s *Service) AddProduct(ctx context.Context, productID string) (domain.CheckoutSnapshot, error) {
	return s.AddProductQuantity(ctx, productID, 1)
}

// AddProductQuantity adds qty units to the operator's cart, on top of any
// quantity already there.
func (s *Service) AddProductQuantity(ctx context.Context, productID string, qty int) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	product, err := s.catalog.Product(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return s.apply(sess, sess.AddProductQuantity(product, qty))
}

func (s *Service) SetQuantity(ctx context.Context, productID string, qty int) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return s.apply(sess, sess.SetQuantity(productID, qty))
}

func (s *Service) RemoveLine(ctx context.Context, productID string) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return s.apply(sess, sess.RemoveLine(productID))
}

func (s *Service) LoadInvoice(ctx context.Context, invoiceID string) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.CheckoutSnapshot{}, checkout.ErrInvoiceNotFound
	}

	invoice, err := sess.LoadInvoice(ctx, invoiceID)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	s.logAudit(ctx, "invoice_load", "invoice", invoice.ID, fmt.Sprintf("number=%s,lines=%d", invoice.InvoiceNumber, len(invoice.Items)))
	return sess.Snapshot(), nil
}

func (s *Service) UnlockInvoice(ctx context.Context) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	invoiceID := sess.Snapshot().InvoiceID
	if err := sess.Unlock(); err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	if invoiceID != "" {
		s.logAudit(ctx, "invoice_unlock", "invoice", invoiceID, "")
	}
	return sess.Snapshot(), nil
}

func (s *Service) SetPricing(ctx context.Context, in checkout.PricingInput) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return s.apply(sess, sess.SetPricing(in))
}

func (s *Service) SelectCustomer(ctx context.Context, customerID string) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return s.apply(sess, sess.SelectCustomer(strings.TrimSpace(customerID)))
}

func (s *Service) PayDirect(ctx context.Context, method domain.PaymentMethod) (domain.CompletedSale, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CompletedSale{}, err
	}
	return sess.PayDirect(ctx, method)
}

func (s *Service) StartMobilePayment(ctx context.Context, phone string) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	payment, err := sess.StartMobilePayment(ctx, phone)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	s.logAudit(ctx, "mpesa_push", "payment", payment.CheckoutReference, "phone="+maskPhone(payment.PhoneNumber))
	return sess.Snapshot(), nil
}

func (s *Service) RetryMobilePayment(ctx context.Context) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	if _, err := sess.RetryMobilePayment(); err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) AbandonMobilePayment(ctx context.Context) (domain.CheckoutSnapshot, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	ref := sess.Payment().CheckoutReference
	sess.AbandonMobilePayment()
	if ref != "" {
		s.logAudit(ctx, "mpesa_abandon", "payment", ref, "")
	}
	return sess.Snapshot(), nil
}

// Watch streams the caller's session snapshots until the returned stop func
// is called or the session closes.
func (s *Service) Watch(ctx context.Context) (<-chan domain.CheckoutSnapshot, func(), error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, nil, err
	}
	updates, stop := sess.Subscribe()
	return updates, stop, nil
}

func (s *Service) RecentSales(ctx context.Context, limit int) ([]domain.CompletedSale, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.repo.ListSales(ctx, s.branchID, limit)
}

func (s *Service) PaymentAttempts(ctx context.Context, limit int) ([]domain.PaymentAttempt, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return s.repo.ListPaymentAttempts(ctx, s.branchID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRecord
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, s.branchID, from, to, limit)
}

// Drain waits for in-flight sale and payment hooks to finish.
func (s *Service) Drain() {
	s.pending.Wait()
}

// Close abandons every open session and waits for pending hooks. Hooks
// fired after this point are dropped.
func (s *Service) Close() {
	s.registry.CloseAll()
	s.hooksMu.Lock()
	s.hooksClosed = true
	s.hooksMu.Unlock()
	s.Drain()
}

// startHook registers one in-flight hook, or reports false once Close has
// begun draining.
func (s *Service) startHook() bool {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	if s.hooksClosed {
		return false
	}
	s.pending.Add(1)
	return true
}

func (s *Service) session(ctx context.Context) (*checkout.Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return nil, ErrUnauthenticated
	}

	s.rolesMu.Lock()
	s.roles[actor.Username] = actor.Role
	s.rolesMu.Unlock()

	return s.registry.Open(actor.Username), nil
}

func (s *Service) apply(sess *checkout.Session, err error) (domain.CheckoutSnapshot, error) {
	if err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (s *Service) operatorContext(operator string) (context.Context, context.CancelFunc) {
	s.rolesMu.RLock()
	role := s.roles[operator]
	s.rolesMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.hookTimeout)
	return WithActor(ctx, domain.Actor{Username: operator, Role: role}), cancel
}

// onFinalize journals, announces and audits a completed sale. It runs off
// the caller's goroutine so a slow broker never holds up the till.
func (s *Service) onFinalize(sale domain.CompletedSale) {
	if !s.startHook() {
		log.Printf("[service] WARN: shutting down, dropping journal for sale=%s", sale.SaleNumber)
		return
	}
	go func() {
		defer s.pending.Done()
		ctx, cancel := s.operatorContext(sale.Operator)
		defer cancel()

		if err := s.repo.RecordSale(ctx, sale); err != nil {
			log.Printf("[service] WARN: failed to journal sale=%s: %v", sale.SaleNumber, err)
		}
		if err := s.publisher.PublishSale(ctx, sale); err != nil {
			log.Printf("[publisher] WARN: %v", err)
		}
		if err := s.catalog.Invalidate(ctx); err != nil {
			log.Printf("[service] WARN: failed to invalidate product cache after sale=%s: %v", sale.SaleNumber, err)
		}

		detail := fmt.Sprintf("method=%s,amount=%s,lines=%d", sale.PaymentMethod, sale.Amount.StringFixed(2), len(sale.Items))
		if sale.InvoiceID != "" {
			detail += ",invoice=" + sale.InvoiceID
		}
		s.logAudit(ctx, "sale_completed", "sale", sale.SaleNumber, detail)
	}()
}

func (s *Service) onPaymentOutcome(attempt domain.PaymentAttempt) {
	if !s.startHook() {
		log.Printf("[service] WARN: shutting down, dropping payment outcome ref=%s", attempt.CheckoutReference)
		return
	}
	go func() {
		defer s.pending.Done()
		ctx, cancel := s.operatorContext(attempt.Operator)
		defer cancel()

		if attempt.ID == "" {
			attempt.ID = xid.New("pay")
		}
		if err := s.repo.RecordPaymentAttempt(ctx, attempt); err != nil {
			log.Printf("[service] WARN: failed to record payment attempt ref=%s: %v", attempt.CheckoutReference, err)
		}

		detail := fmt.Sprintf("status=%s,amount=%s,phone=%s", attempt.Status, attempt.Amount.StringFixed(2), maskPhone(attempt.PhoneNumber))
		if attempt.Message != "" {
			detail += ",message=" + attempt.Message
		}
		s.logAudit(ctx, "mpesa_"+attempt.Status.String(), "payment", attempt.CheckoutReference, detail)
	}()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      s.branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// maskPhone keeps the country prefix and last three digits.
func maskPhone(phone string) string {
	if len(phone) <= 6 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-3:]
}
