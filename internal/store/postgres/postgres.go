package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"partsdesk/checkout/internal/domain"
	"partsdesk/checkout/internal/store"
	"partsdesk/checkout/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) RecordSale(ctx context.Context, sale domain.CompletedSale) error {
	if strings.TrimSpace(sale.SaleNumber) == "" {
		return store.ErrInvalidRecord
	}
	if sale.CompletedAt.IsZero() {
		sale.CompletedAt = time.Now().UTC()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = sale.CompletedAt
	}

	pricing, err := json.Marshal(sale.Pricing)
	if err != nil {
		return fmt.Errorf("encode pricing: %w", err)
	}
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sale_journal (
			sale_number, sale_id, operator, branch_id, customer_id, invoice_id,
			payment_method, amount, pricing, items, created_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (sale_number) DO NOTHING
	`, sale.SaleNumber, sale.SaleID, sale.Operator, sale.BranchID, nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.InvoiceID),
		string(sale.PaymentMethod), sale.Amount, pricing, items, sale.CreatedAt, sale.CompletedAt)
	return err
}

func (s *Store) ListSales(ctx context.Context, branchID string, limit int) ([]domain.CompletedSale, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_number, sale_id, operator, branch_id, COALESCE(customer_id, ''), COALESCE(invoice_id, ''),
			payment_method, amount, pricing, items, created_at, completed_at
		FROM sale_journal
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY completed_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.CompletedSale, 0, limit)
	for rows.Next() {
		var (
			sale    domain.CompletedSale
			method  string
			pricing []byte
			items   []byte
		)
		if err := rows.Scan(&sale.SaleNumber, &sale.SaleID, &sale.Operator, &sale.BranchID, &sale.CustomerID, &sale.InvoiceID,
			&method, &sale.Amount, &pricing, &items, &sale.CreatedAt, &sale.CompletedAt); err != nil {
			return nil, err
		}
		sale.PaymentMethod = domain.PaymentMethod(method)
		if err := json.Unmarshal(pricing, &sale.Pricing); err != nil {
			return nil, fmt.Errorf("decode pricing for %s: %w", sale.SaleNumber, err)
		}
		if err := json.Unmarshal(items, &sale.Items); err != nil {
			return nil, fmt.Errorf("decode items for %s: %w", sale.SaleNumber, err)
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.CompletedAt = sale.CompletedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) RecordPaymentAttempt(ctx context.Context, attempt domain.PaymentAttempt) error {
	if attempt.ID == "" {
		attempt.ID = xid.New("pay")
	}
	if attempt.FinishedAt.IsZero() {
		attempt.FinishedAt = time.Now().UTC()
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = attempt.FinishedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (
			id, operator, branch_id, phone_number, checkout_reference, amount,
			status, message, sale_number, started_at, finished_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, attempt.ID, attempt.Operator, attempt.BranchID, attempt.PhoneNumber, attempt.CheckoutReference, attempt.Amount,
		string(attempt.Status), attempt.Message, nullIfEmpty(attempt.SaleNumber), attempt.StartedAt, attempt.FinishedAt)
	return err
}

func (s *Store) ListPaymentAttempts(ctx context.Context, branchID string, limit int) ([]domain.PaymentAttempt, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operator, branch_id, phone_number, checkout_reference, amount,
			status, message, COALESCE(sale_number, ''), started_at, finished_at
		FROM payment_attempts
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY finished_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]domain.PaymentAttempt, 0, limit)
	for rows.Next() {
		var (
			attempt domain.PaymentAttempt
			status  string
		)
		if err := rows.Scan(&attempt.ID, &attempt.Operator, &attempt.BranchID, &attempt.PhoneNumber, &attempt.CheckoutReference, &attempt.Amount,
			&status, &attempt.Message, &attempt.SaleNumber, &attempt.StartedAt, &attempt.FinishedAt); err != nil {
			return nil, err
		}
		attempt.Status = domain.PaymentStatus(status)
		attempt.StartedAt = attempt.StartedAt.UTC()
		attempt.FinishedAt = attempt.FinishedAt.UTC()
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attempts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
