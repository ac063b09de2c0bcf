package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"partsdesk/checkout/internal/domain"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultPaymentTimeout = 120 * time.Second
)

const (
	msgInitiationFailed = "Could not send the payment request to the customer's phone. Please try again."
	msgTimedOut         = "Payment was not confirmed within the time limit. Please try again."
	msgRejected         = "Payment was cancelled or declined on the customer's phone."
)

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentIdle:                 {domain.PaymentAwaitingConfirmation},
	domain.PaymentAwaitingConfirmation: {domain.PaymentConfirmed, domain.PaymentFailed},
	domain.PaymentFailed:               {domain.PaymentIdle},
}

// CanTransition reports whether a payment session may move from one status
// to the other.
func CanTransition(from, to domain.PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *Session) setPaymentStatusLocked(to domain.PaymentStatus) error {
	if !CanTransition(s.payment.Status, to) {
		return fmt.Errorf("%s -> %s: %w", s.payment.Status, to, ErrInvalidTransition)
	}
	s.payment.Status = to
	return nil
}

// StartMobilePayment validates phone, sends the push request for the current
// total and starts polling for the outcome in the background.
func (s *Session) StartMobilePayment(ctx context.Context, phone string) (domain.PaymentSession, error) {
	normalized, err := NormalizePhone(phone, s.opts.CountryCode)
	if err != nil {
		return s.Payment(), err
	}

	s.mu.Lock()
	if err := s.busyLocked(); err != nil {
		s.mu.Unlock()
		return domain.PaymentSession{}, err
	}
	if s.cart.Len() == 0 {
		s.mu.Unlock()
		return domain.PaymentSession{}, ErrEmptyCart
	}
	if err := s.setPaymentStatusLocked(domain.PaymentAwaitingConfirmation); err != nil {
		s.mu.Unlock()
		return domain.PaymentSession{}, err
	}

	summary := s.summaryLocked()
	req := domain.MobilePaymentRequest{
		Amount:      summary.Total,
		PhoneNumber: normalized,
		Cart:        saleItems(s.cart.Lines()),
		CustomerID:  s.customerID,
		BranchID:    s.opts.BranchID,
		InvoiceID:   s.cart.InvoiceID(),
	}
	startedAt := time.Now().UTC()
	s.attempt++
	attempt := s.attempt
	s.payment = domain.PaymentSession{
		PhoneNumber: normalized,
		Status:      domain.PaymentAwaitingConfirmation,
		StartedAt:   &startedAt,
	}
	s.attemptAmount = summary.Total
	s.changedLocked()
	s.mu.Unlock()

	resp, pushErr := s.backend.InitiateMobilePayment(ctx, req)

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return s.Payment(), fmt.Errorf("payment attempt abandoned: %w", context.Canceled)
	}
	if pushErr == nil && resp.CheckoutReference == "" {
		pushErr = errors.New("empty checkout reference")
	}
	if pushErr != nil {
		s.attempt++
		_ = s.setPaymentStatusLocked(domain.PaymentFailed)
		s.payment.ErrorMessage = msgInitiationFailed
		outcome := s.attemptRecordLocked()
		s.changedLocked()
		payment := s.payment
		s.mu.Unlock()

		log.Printf("[checkout] WARN: mobile payment push failed operator=%s: %v", s.operator, pushErr)
		s.emitOutcome(outcome)
		return payment, fmt.Errorf("%w: %v", ErrPaymentInitiation, pushErr)
	}

	s.payment.CheckoutReference = resp.CheckoutReference
	pollCtx, cancel := context.WithDeadline(s.ctx, startedAt.Add(s.opts.PaymentTimeout))
	s.cancelPoll = cancel
	s.changedLocked()
	payment := s.payment
	s.mu.Unlock()

	go s.poll(pollCtx, attempt, resp.CheckoutReference)
	return payment, nil
}

// poll queries the payment status once per interval until a terminal result,
// the attempt deadline, or cancellation. Requests are issued sequentially, so
// at most one is ever in flight.
func (s *Session) poll(ctx context.Context, attempt uint64, ref string) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.resolve(attempt, domain.PaymentFailed, nil, msgTimedOut)
			}
			return
		case <-ticker.C:
		}

		status, err := s.backend.GetMobilePaymentStatus(ctx, ref)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[checkout] WARN: status poll failed ref=%s: %v", ref, err)
			}
			continue
		}

		switch status.Status {
		case domain.MobileStatusCompleted:
			if status.Sale == nil {
				log.Printf("[checkout] WARN: completed status without sale ref=%s", ref)
				continue
			}
			s.resolve(attempt, domain.PaymentConfirmed, status.Sale, "")
			return
		case domain.MobileStatusFailed:
			msg := status.Message
			if msg == "" {
				msg = msgRejected
			}
			s.resolve(attempt, domain.PaymentFailed, nil, msg)
			return
		}
	}
}

// resolve applies a terminal outcome if attempt is still the live attempt.
// Invalidating the token before finalizing keeps the finalizer to a single
// invocation per confirmed payment.
func (s *Session) resolve(attempt uint64, to domain.PaymentStatus, sale *domain.Sale, message string) {
	s.mu.Lock()
	if s.attempt != attempt || s.payment.Status != domain.PaymentAwaitingConfirmation {
		s.mu.Unlock()
		return
	}
	s.attempt++
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	if err := s.setPaymentStatusLocked(to); err != nil {
		s.mu.Unlock()
		return
	}
	s.payment.ErrorMessage = message

	var completed *domain.CompletedSale
	if to == domain.PaymentConfirmed {
		summary := s.summaryLocked()
		outcome := s.attemptRecordLocked()
		outcome.SaleNumber = sale.SaleNumber
		done := s.finalizeLocked(*sale, domain.PaymentMpesa, summary)
		completed = &done
		s.changedLocked()
		s.mu.Unlock()

		s.emitOutcome(outcome)
		s.emitFinalized(*completed)
		return
	}

	outcome := s.attemptRecordLocked()
	s.changedLocked()
	s.mu.Unlock()
	s.emitOutcome(outcome)
}

// RetryMobilePayment moves a failed attempt back to idle so a new phone
// number can be submitted for the same total.
func (s *Session) RetryMobilePayment() (domain.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setPaymentStatusLocked(domain.PaymentIdle); err != nil {
		return s.payment, err
	}
	s.payment.ErrorMessage = ""
	s.payment.CheckoutReference = ""
	s.payment.StartedAt = nil
	s.changedLocked()
	return s.payment, nil
}

// AbandonMobilePayment discards the payment session, stopping any polling.
// Late poll results for the abandoned attempt are ignored.
func (s *Session) AbandonMobilePayment() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt++
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
	s.payment = domain.PaymentSession{Status: domain.PaymentIdle}
	s.changedLocked()
}

func (s *Session) Payment() domain.PaymentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payment
}

func (s *Session) attemptRecordLocked() domain.PaymentAttempt {
	record := domain.PaymentAttempt{
		Operator:          s.operator,
		BranchID:          s.opts.BranchID,
		PhoneNumber:       s.payment.PhoneNumber,
		CheckoutReference: s.payment.CheckoutReference,
		Amount:            s.attemptAmount,
		Status:            s.payment.Status,
		Message:           s.payment.ErrorMessage,
		FinishedAt:        time.Now().UTC(),
	}
	if s.payment.StartedAt != nil {
		record.StartedAt = *s.payment.StartedAt
	}
	return record
}

func (s *Session) emitOutcome(outcome domain.PaymentAttempt) {
	if s.opts.OnPaymentOutcome != nil {
		s.opts.OnPaymentOutcome(outcome)
	}
}
