package checkout

import (
	"context"
	"errors"
)

var (
	ErrStockExceeded       = errors.New("quantity exceeds available stock")
	ErrCartLocked          = errors.New("cart is locked to an invoice")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidPhoneNumber  = errors.New("invalid phone number")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceFetch        = errors.New("failed to fetch invoice")
	ErrPaymentInitiation   = errors.New("failed to initiate mobile payment")
	ErrPaymentTimeout      = errors.New("mobile payment timed out")
	ErrPaymentRejected     = errors.New("mobile payment rejected")
	ErrSaleCreation        = errors.New("failed to create sale")
	ErrPaymentInProgress   = errors.New("a mobile payment is awaiting confirmation")
	ErrInvalidTransition   = errors.New("illegal payment state transition")
	ErrUnsupportedMethod   = errors.New("unsupported payment method")
	ErrProductNotAvailable = errors.New("product is out of stock")
)

// Kind classifies err into a stable, machine-readable code for clients.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStockExceeded), errors.Is(err, ErrProductNotAvailable):
		return "stock_exceeded"
	case errors.Is(err, ErrCartLocked):
		return "cart_locked"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidPhoneNumber):
		return "invalid_phone_number"
	case errors.Is(err, ErrInvoiceNotFound):
		return "invoice_not_found"
	case errors.Is(err, ErrInvoiceFetch):
		return "invoice_fetch_error"
	case errors.Is(err, ErrPaymentInitiation):
		return "payment_initiation_error"
	case errors.Is(err, ErrPaymentTimeout):
		return "payment_timeout"
	case errors.Is(err, ErrPaymentRejected):
		return "payment_rejected"
	case errors.Is(err, ErrSaleCreation):
		return "sale_creation_error"
	case errors.Is(err, ErrPaymentInProgress):
		return "payment_in_progress"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported_payment_method"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
