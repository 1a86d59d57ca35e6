package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentWeekly  = "weekly"
	PaymentMonthly = "monthly"
)

const (
	SaleStatusPaid    = "Paid"
	SaleStatusPending = "Pending"

	InstallmentPending = "Pending"
	InstallmentPaid    = "Paid"

	PlanActive    = "Active"
	PlanCompleted = "Completed"

	ClosingClosed = "Closed"
)

const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Labels used on collected items and closing detail rows.
const (
	CollectedCreditPayment = "Credit Payment"
	CollectedDirectCash    = "Direct Sale (Cash)"
	CollectedDirectCard    = "Direct Sale (Card)"
)

const (
	SourceFinancialInstallment = "financial_installment"
	SourceSale                 = "sale"
)

func IsInstallmentMethod(method string) bool {
	return method == PaymentWeekly || method == PaymentMonthly
}

func IsDirectMethod(method string) bool {
	return method == PaymentCash || method == PaymentCard
}

func DirectSaleLabel(method string) string {
	if method == PaymentCard {
		return CollectedDirectCard
	}
	return CollectedDirectCash
}

type Branch struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	BranchID     *int64    `json:"branch_id,omitempty"`
	BranchName   string    `json:"branch_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Customer struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	Address       string          `json:"address,omitempty"`
	BranchID      int64           `json:"branch_id"`
	BranchName    string          `json:"branch_name,omitempty"`
	CreditBalance decimal.Decimal `json:"credit_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Stock struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	BranchID    int64  `json:"branch_id"`
	BranchName  string `json:"branch_name,omitempty"`
	Quantity    int    `json:"quantity"`
}

type Sale struct {
	ID            int64           `json:"id"`
	CustomerID    int64           `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	UserID        int64           `json:"user_id"`
	BranchID      int64           `json:"branch_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Details       []SaleDetail    `json:"details"`
	Installments  []Installment   `json:"installments,omitempty"`
}

type SaleDetail struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Installment struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	DueDate   time.Time       `json:"due_date"`
	AmountDue decimal.Decimal `json:"amount_due"`
	Status    string          `json:"status"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
}

type FinancialPayment struct {
	ID                int64                  `json:"id"`
	CustomerID        int64                  `json:"customer_id"`
	CustomerName      string                 `json:"customer_name,omitempty"`
	UserID            int64                  `json:"user_id"`
	BranchID          int64                  `json:"branch_id"`
	PrincipalAmount   decimal.Decimal        `json:"principal_amount"`
	InterestRate      decimal.Decimal        `json:"interest_rate"`
	TotalAmount       decimal.Decimal        `json:"total_amount"`
	InstallmentType   string                 `json:"installment_type"`
	NumInstallments   int                    `json:"num_installments"`
	InstallmentAmount decimal.Decimal        `json:"installment_amount"`
	Status            string                 `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	Installments      []FinancialInstallment `json:"installments"`
}

type FinancialInstallment struct {
	ID                int64           `json:"id"`
	PaymentID         int64           `json:"payment_id"`
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Status            string          `json:"status"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
}

type CashClosing struct {
	ID             int64               `json:"id"`
	UserID         int64               `json:"user_id"`
	Username       string              `json:"username,omitempty"`
	BranchID       int64               `json:"branch_id"`
	PeriodType     string              `json:"period_type"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	TotalCollected decimal.Decimal     `json:"total_collected"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	Details        []CashClosingDetail `json:"details"`
}

type CashClosingDetail struct {
	ID          int64           `json:"id"`
	ClosingID   int64           `json:"closing_id"`
	PaymentType string          `json:"payment_type"`
	PaymentID   int64           `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
}

// CollectedItem is one cash or card inflow inside a closing window. SourceID
// points at a financial installment or a sale depending on SourceType.
type CollectedItem struct {
	SourceType   string          `json:"source_type"`
	SourceID     int64           `json:"source_id"`
	UserID       int64           `json:"user_id"`
	CustomerName string          `json:"customer_name"`
	PaymentType  string          `json:"payment_type"`
	Amount       decimal.Decimal `json:"amount"`
	PaidAt       time.Time       `json:"paid_at"`
}

type CollectibleReport struct {
	PeriodType string          `json:"period_type,omitempty"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	Items      []CollectedItem `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

type DashboardMetrics struct {
	Scope               string          `json:"scope"`
	TotalRevenue        decimal.Decimal `json:"total_revenue"`
	TotalSales          int             `json:"total_sales"`
	TotalCustomers      int             `json:"total_customers"`
	PendingInstallments int             `json:"pending_installments"`
}

// Actor is the authenticated caller injected into every engine call.
type Actor struct {
	ID         int64
	Username   string
	Role       string
	BranchID   *int64
	BranchName string
	SessionID  string
	ExpiresAt  time.Time
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) HasBranch() bool {
	return a.BranchID != nil && *a.BranchID > 0
}

type Session struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	BranchID   *int64 `json:"branch_id,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
}

type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Cart struct {
	Lines []CartLine      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}
