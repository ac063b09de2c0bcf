package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The backend reads and writes monetary fields as bare JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID             string          `json:"id"`
	PartNumber     string          `json:"part_number"`
	Name           string          `json:"name"`
	RetailPrice    decimal.Decimal `json:"retail_price"`
	WholesalePrice decimal.Decimal `json:"wholesale_price"`
	Stock          int             `json:"stock"`
}

type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Wholesale bool   `json:"wholesale"`
}

type InvoiceItem struct {
	ProductID  string          `json:"product_id"`
	PartNumber string          `json:"part_number"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	Status        string          `json:"status"`
	Customer      *Customer       `json:"customer,omitempty"`
	CustomerID    string          `json:"customer_id"`
	Items         []InvoiceItem   `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type InvoiceSummary struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

type PricingSummary struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentMpesa        PaymentMethod = "mpesa"
)

// Direct reports whether the method settles synchronously without a
// mobile-money confirmation.
func (m PaymentMethod) Direct() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentCheque:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentIdle                 PaymentStatus = "idle"
	PaymentAwaitingConfirmation PaymentStatus = "awaiting_confirmation"
	PaymentConfirmed            PaymentStatus = "confirmed"
	PaymentFailed               PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentConfirmed || s == PaymentFailed
}

func (s PaymentStatus) String() string {
	return string(s)
}

type PaymentSession struct {
	PhoneNumber       string        `json:"phone_number,omitempty"`
	CheckoutReference string        `json:"checkout_reference,omitempty"`
	Status            PaymentStatus `json:"status"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
}

type SaleItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Sale is the backend's record of a created sale.
type Sale struct {
	ID            string          `json:"id"`
	SaleNumber    string          `json:"sale_number"`
	CustomerID    string          `json:"customer_id,omitempty"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Items         []SaleItem      `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CompletedSale is the server-confirmed outcome kept for receipt display.
type CompletedSale struct {
	SaleNumber    string          `json:"sale_number"`
	SaleID        string          `json:"sale_id"`
	Operator      string          `json:"operator"`
	BranchID      string          `json:"branch_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Pricing       PricingSummary  `json:"pricing"`
	Items         []SaleItem      `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   time.Time       `json:"completed_at"`
}

type CreateSaleRequest struct {
	CustomerID    string          `json:"customer_id,omitempty"`
	BranchID      string          `json:"branch_id"`
	Items         []SaleItem      `json:"items"`
	Discount      decimal.Decimal `json:"discount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
}

type MobilePaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number"`
	Cart        []SaleItem      `json:"cart"`
	CustomerID  string          `json:"customer_id,omitempty"`
	BranchID    string          `json:"branch_id"`
	InvoiceID   string          `json:"invoice_id,omitempty"`
}

type MobilePaymentResponse struct {
	CheckoutReference string `json:"checkout_reference"`
}

const (
	MobileStatusPending   = "pending"
	MobileStatusCompleted = "completed"
	MobileStatusFailed    = "failed"
)

type MobilePaymentStatus struct {
	Status  string `json:"status"`
	Sale    *Sale  `json:"sale,omitempty"`
	Message string `json:"message,omitempty"`
}

// PaymentAttempt is the journal entry of one mobile-money attempt outcome.
type PaymentAttempt struct {
	ID                string          `json:"id"`
	Operator          string          `json:"operator"`
	BranchID          string          `json:"branch_id"`
	PhoneNumber       string          `json:"phone_number"`
	CheckoutReference string          `json:"checkout_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	Message           string          `json:"message,omitempty"`
	SaleNumber        string          `json:"sale_number,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        time.Time       `json:"finished_at"`
}

type CheckoutSnapshot struct {
	SessionID      string           `json:"session_id"`
	Operator       string           `json:"operator"`
	Lines          []CartLine       `json:"lines"`
	Locked         bool             `json:"locked"`
	InvoiceID      string           `json:"invoice_id,omitempty"`
	CustomerID     string           `json:"customer_id,omitempty"`
	DiscountValue  decimal.Decimal  `json:"discount_value"`
	DiscountType   DiscountType     `json:"discount_type"`
	ApplyTax       bool             `json:"apply_tax"`
	Pricing        PricingSummary   `json:"pricing"`
	Payment        PaymentSession   `json:"payment"`
	UnpaidInvoices []InvoiceSummary `json:"unpaid_invoices"`
	LastSale       *CompletedSale   `json:"last_sale,omitempty"`
	Version        uint64           `json:"version"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
