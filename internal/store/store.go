package store

import (
	"context"
	"errors"
	"time"

	"partsdesk/checkout/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrDuplicate     = errors.New("duplicate record")
)

// Repository persists the terminal's own records: operator accounts, the
// audit trail, the completed-sale journal and mobile payment attempts.
// Products, customers and invoices live in the distributor backend.
type Repository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// RecordSale appends to the sale journal. Recording the same sale number
	// twice is a no-op.
	RecordSale(ctx context.Context, sale domain.CompletedSale) error
	ListSales(ctx context.Context, branchID string, limit int) ([]domain.CompletedSale, error)

	RecordPaymentAttempt(ctx context.Context, attempt domain.PaymentAttempt) error
	ListPaymentAttempts(ctx context.Context, branchID string, limit int) ([]domain.PaymentAttempt, error)
}
