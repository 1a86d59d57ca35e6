package domain

import "github.com/shopspring/decimal"

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   string  `json:"expires_at"`
	User        Session `json:"user"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin seller"`
	BranchID *int64 `json:"branch_id,omitempty"`
}

type BranchCreateRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Location string `json:"location,omitempty"`
}

type CustomerCreateRequest struct {
	Name     string `json:"name" validate:"required,max=160"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Address  string `json:"address,omitempty"`
	BranchID *int64 `json:"branch_id,omitempty"`
}

type ProductCreateRequest struct {
	Name        string          `json:"name" validate:"required,max=160"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
}

type StockSetRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	BranchID  int64 `json:"branch_id" validate:"required"`
	Quantity  int   `json:"quantity" validate:"gte=0"`
}

type StockTransferRequest struct {
	ProductID    int64 `json:"product_id" validate:"required"`
	FromBranchID int64 `json:"from_branch_id" validate:"required"`
	ToBranchID   int64 `json:"to_branch_id" validate:"required"`
	Quantity     int   `json:"quantity"`
}

type StockTransferResponse struct {
	ProductID int64 `json:"product_id"`
	From      Stock `json:"from"`
	To        Stock `json:"to"`
}

type CartAddRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerID      int64  `json:"customer_id"`
	PaymentMethod   string `json:"payment_method" validate:"required,oneof=cash card weekly monthly"`
	NumInstallments int    `json:"num_installments,omitempty"`
}

type FinancingPlanCreateRequest struct {
	CustomerID      int64           `json:"customer_id" validate:"required"`
	PrincipalAmount decimal.Decimal `json:"principal_amount" validate:"gt=0"`
	InterestRate    decimal.Decimal `json:"interest_rate" validate:"gte=0"`
	InstallmentType string          `json:"installment_type" validate:"required,oneof=weekly monthly"`
	NumInstallments int             `json:"num_installments" validate:"gt=0"`
}

// CollectibleQuery selects a closing window. Empty dates fall back to the
// default window of PeriodType.
type CollectibleQuery struct {
	PeriodType string `json:"period_type" validate:"omitempty,oneof=weekly monthly"`
	StartDate  string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type CashClosingRequest struct {
	PeriodType string `json:"period_type" validate:"required,oneof=weekly monthly"`
	StartDate  string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BranchID   *int64 `json:"branch_id,omitempty"`
}
