package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"partsdesk/checkout/internal/domain"
)

func newPaymentSession(t *testing.T, backend *fakeBackend, rec *recorder, timeout time.Duration) *Session {
	t.Helper()
	opts := Options{
		BranchID:       "nairobi-cbd",
		PollInterval:   10 * time.Millisecond,
		PaymentTimeout: timeout,
	}
	if rec != nil {
		opts = rec.options(opts)
	}
	sess := NewSession("sess-test", "cashier", backend, opts)
	t.Cleanup(sess.Close)

	if err := sess.AddProduct(testProduct("alternator", 1000, 5)); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if err := sess.SetQuantity("alternator", 2); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	return sess
}

func TestCanTransition(t *testing.T) {
	statuses := []domain.PaymentStatus{
		domain.PaymentIdle,
		domain.PaymentAwaitingConfirmation,
		domain.PaymentConfirmed,
		domain.PaymentFailed,
	}
	allowed := map[[2]domain.PaymentStatus]bool{
		{domain.PaymentIdle, domain.PaymentAwaitingConfirmation}:      true,
		{domain.PaymentAwaitingConfirmation, domain.PaymentConfirmed}: true,
		{domain.PaymentAwaitingConfirmation, domain.PaymentFailed}:    true,
		{domain.PaymentFailed, domain.PaymentIdle}:                    true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]domain.PaymentStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("%s -> %s: expected %t, got %t", from, to, want, got)
			}
		}
	}
}

func TestStartMobilePaymentRejectsInvalidPhoneWithoutNetwork(t *testing.T) {
	backend := newFakeBackend()
	sess := newPaymentSession(t, backend, nil, time.Second)

	payment, err := sess.StartMobilePayment(context.Background(), "123")
	if !errors.Is(err, ErrInvalidPhoneNumber) {
		t.Fatalf("expected ErrInvalidPhoneNumber, got %v", err)
	}
	if payment.Status != domain.PaymentIdle {
		t.Fatalf("expected idle, got %s", payment.Status)
	}
	if backend.pushCount() != 0 {
		t.Fatalf("expected no push request, got %d", backend.pushCount())
	}
}

func TestStartMobilePaymentSendsCurrentTotal(t *testing.T) {
	backend := newFakeBackend()
	sess := newPaymentSession(t, backend, nil, time.Second)
	if err := sess.SetPricing(PricingInput{DiscountValue: dec("200"), DiscountType: domain.DiscountFixed, ApplyTax: true}); err != nil {
		t.Fatalf("set pricing: %v", err)
	}

	payment, err := sess.StartMobilePayment(context.Background(), "0712345678")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if payment.Status != domain.PaymentAwaitingConfirmation || payment.CheckoutReference == "" {
		t.Fatalf("expected awaiting with reference, got %+v", payment)
	}

	backend.mu.Lock()
	push := backend.pushes[0]
	backend.mu.Unlock()
	if push.PhoneNumber != "254712345678" {
		t.Fatalf("expected normalized phone, got %s", push.PhoneNumber)
	}
	assertAmount(t, "amount", push.Amount, "2088")
	if push.BranchID != "nairobi-cbd" || len(push.Cart) != 1 || push.Cart[0].Quantity != 2 {
		t.Fatalf("unexpected push payload %+v", push)
	}
}

func TestMobilePaymentConfirmedFinalizesOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.setResults(pending(), pending(), completed("S-1001", "2000"))
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.finalizedCount() > 0 })

	outcome, ok := rec.lastOutcome()
	if !ok || outcome.Status != domain.PaymentConfirmed || outcome.SaleNumber != "S-1001" {
		t.Fatalf("expected confirmed outcome for S-1001, got %+v", outcome)
	}

	polls := backend.polls.Load()
	time.Sleep(60 * time.Millisecond)
	if backend.polls.Load() != polls {
		t.Fatalf("expected polling to stop after confirmation")
	}
	if rec.finalizedCount() != 1 {
		t.Fatalf("expected exactly one finalize, got %d", rec.finalizedCount())
	}

	snap := sess.Snapshot()
	if len(snap.Lines) != 0 || snap.Payment.Status != domain.PaymentIdle {
		t.Fatalf("expected reset session, got %+v", snap)
	}
	if snap.LastSale == nil || snap.LastSale.SaleNumber != "S-1001" || snap.LastSale.PaymentMethod != domain.PaymentMpesa {
		t.Fatalf("expected last sale S-1001, got %+v", snap.LastSale)
	}
}

func TestMobilePaymentRejectedThenRetry(t *testing.T) {
	backend := newFakeBackend()
	backend.setResults(pending(), rejected("Request cancelled by user"))
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sess.Payment().Status == domain.PaymentFailed })

	payment := sess.Payment()
	if payment.ErrorMessage != "Request cancelled by user" {
		t.Fatalf("expected gateway message, got %q", payment.ErrorMessage)
	}
	if rec.finalizedCount() != 0 {
		t.Fatalf("rejected payment must not finalize")
	}
	if len(sess.Snapshot().Lines) != 1 {
		t.Fatalf("cart must survive a rejected payment")
	}

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before retry, got %v", err)
	}

	payment, err := sess.RetryMobilePayment()
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if payment.Status != domain.PaymentIdle || payment.ErrorMessage != "" {
		t.Fatalf("expected clean idle session, got %+v", payment)
	}

	backend.setResults(completed("S-2002", "2000"))
	backend.polls.Store(0)
	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return rec.finalizedCount() == 1 })
}

func TestMobilePaymentTransientPollErrorsAreRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.setResults(transient(), transient(), pending(), completed("S-3003", "2000"))
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return rec.finalizedCount() == 1 })
}

func TestMobilePaymentTimesOutAtDeadline(t *testing.T) {
	const timeout = 150 * time.Millisecond
	backend := newFakeBackend()
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, timeout)

	start := time.Now()
	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(timeout / 2)
	if status := sess.Payment().Status; status != domain.PaymentAwaitingConfirmation {
		t.Fatalf("expected awaiting before deadline, got %s", status)
	}

	waitFor(t, 2*time.Second, func() bool { return sess.Payment().Status == domain.PaymentFailed })
	if elapsed := time.Since(start); elapsed < timeout {
		t.Fatalf("failed after %s, before the %s deadline", elapsed, timeout)
	}

	outcome, ok := rec.lastOutcome()
	if !ok || outcome.Status != domain.PaymentFailed || outcome.Message != msgTimedOut {
		t.Fatalf("expected timeout outcome, got %+v", outcome)
	}
	if outcome.FinishedAt.Sub(outcome.StartedAt) < timeout {
		t.Fatalf("outcome recorded before deadline: %s", outcome.FinishedAt.Sub(outcome.StartedAt))
	}
	if rec.finalizedCount() != 0 {
		t.Fatalf("timed out payment must not finalize")
	}
}

func TestMobilePaymentPushFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.pushErr = errors.New("gateway unreachable")
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, time.Second)

	payment, err := sess.StartMobilePayment(context.Background(), "0712345678")
	if !errors.Is(err, ErrPaymentInitiation) {
		t.Fatalf("expected ErrPaymentInitiation, got %v", err)
	}
	if payment.Status != domain.PaymentFailed || payment.ErrorMessage != msgInitiationFailed {
		t.Fatalf("expected failed with generic message, got %+v", payment)
	}
	if backend.polls.Load() != 0 {
		t.Fatalf("expected no polling after failed push")
	}
}

func TestAbandonStopsPollingAndIgnoresLateResult(t *testing.T) {
	backend := newFakeBackend()
	backend.pollDelay = 30 * time.Millisecond
	backend.setResults(completed("S-4004", "2000"))
	rec := &recorder{}
	sess := newPaymentSession(t, backend, rec, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return backend.inFlight.Load() > 0 })
	sess.AbandonMobilePayment()

	time.Sleep(80 * time.Millisecond)
	if rec.finalizedCount() != 0 {
		t.Fatalf("abandoned attempt must not finalize")
	}
	if sess.Payment().Status != domain.PaymentIdle {
		t.Fatalf("expected idle after abandon, got %s", sess.Payment().Status)
	}
	if len(sess.Snapshot().Lines) != 1 {
		t.Fatalf("abandon must keep the cart")
	}
}

func TestPollingNeverOverlaps(t *testing.T) {
	backend := newFakeBackend()
	backend.pollDelay = 25 * time.Millisecond
	sess := newPaymentSession(t, backend, nil, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return backend.polls.Load() >= 4 })
	sess.AbandonMobilePayment()

	if peak := backend.maxInFlight.Load(); peak != 1 {
		t.Fatalf("expected at most one poll in flight, saw %d", peak)
	}
}

func TestAwaitingPaymentBlocksCartAndDirectPayment(t *testing.T) {
	backend := newFakeBackend()
	sess := newPaymentSession(t, backend, nil, time.Second)

	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := sess.AddProduct(testProduct("fan-belt", 300, 4)); !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("add: expected ErrPaymentInProgress, got %v", err)
	}
	if err := sess.SetQuantity("alternator", 1); !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("set: expected ErrPaymentInProgress, got %v", err)
	}
	if _, err := sess.PayDirect(context.Background(), domain.PaymentCash); !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("pay: expected ErrPaymentInProgress, got %v", err)
	}
	if _, err := sess.StartMobilePayment(context.Background(), "0712345678"); !errors.Is(err, ErrPaymentInProgress) {
		t.Fatalf("second start: expected ErrPaymentInProgress, got %v", err)
	}
}
