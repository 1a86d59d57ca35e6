package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"branchpos/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid request")

	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConflict)
	ErrInvalidTransfer   = fmt.Errorf("%w: invalid transfer", ErrValidation)
)

// Scope narrows list and aggregate queries. Nil fields mean "all".
type Scope struct {
	UserID   *int64
	BranchID *int64
}

type CustomerFilter struct {
	BranchID *int64
	Search   string
}

type Repository interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranch(ctx context.Context, id int64) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	DeleteBranch(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id int64) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	SetStock(ctx context.Context, productID int64, branchID int64, qty int) (*domain.Stock, error)
	TransferStock(ctx context.Context, productID int64, fromBranchID int64, toBranchID int64, qty int) (*domain.StockTransferResponse, error)
	ListStock(ctx context.Context, branchID *int64) ([]domain.Stock, error)

	// CreateSale checks and decrements branch stock for every detail and
	// persists the sale with its details and installments as one unit.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, scope Scope) ([]domain.Sale, error)
	PaySaleInstallment(ctx context.Context, installmentID int64, at time.Time) (*domain.Installment, *domain.Sale, error)

	CreateFinancialPayment(ctx context.Context, payment domain.FinancialPayment) (*domain.FinancialPayment, error)
	ListFinancialPayments(ctx context.Context, scope Scope) ([]domain.FinancialPayment, error)
	PayFinancialInstallment(ctx context.Context, installmentID int64, at time.Time) (*domain.FinancialInstallment, *domain.FinancialPayment, error)

	ListCollected(ctx context.Context, from time.Time, to time.Time, userID *int64) ([]domain.CollectedItem, error)
	CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)
	ListCashClosings(ctx context.Context, scope Scope) ([]domain.CashClosing, error)

	SalesSummary(ctx context.Context, scope Scope) (decimal.Decimal, int, error)
	CountCustomers(ctx context.Context, scope Scope) (int, error)
	CountPendingInstallments(ctx context.Context, scope Scope) (int, error)
}

func Int64Ptr(v int64) *int64 {
	return &v
}
