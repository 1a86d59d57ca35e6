package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("BRANCHPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BRANCHPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestCheckoutAndTransferKeepStockConsistent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	north, err := s.CreateBranch(ctx, domain.Branch{Name: fmt.Sprintf("IT North %d", stamp)})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	south, err := s.CreateBranch(ctx, domain.Branch{Name: fmt.Sprintf("IT South %d", stamp)})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if _, err := s.CreateBranch(ctx, domain.Branch{Name: north.Name}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate branch, got %v", err)
	}

	seller, err := s.CreateUser(ctx, domain.User{
		Username:     fmt.Sprintf("it-seller-%d", stamp),
		PasswordHash: "$2a$10$integrationtestplaceholderhashvalue000000000000000000",
		Role:         domain.RoleSeller,
		BranchID:     store.Int64Ptr(north.ID),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if seller.BranchName != north.Name {
		t.Fatalf("expected branch name %q, got %q", north.Name, seller.BranchName)
	}

	customer, err := s.CreateCustomer(ctx, domain.Customer{Name: "IT Customer", BranchID: north.ID, CreditBalance: decimal.Zero})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	product, err := s.CreateProduct(ctx, domain.Product{Name: fmt.Sprintf("IT Widget %d", stamp), Price: decimal.RequireFromString("9.99")})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE branch_id = $1`, north.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customer.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, seller.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id IN ($1, $2)`, north.ID, south.ID)
	})

	if _, err := s.SetStock(ctx, product.ID, north.ID, 20); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	resp, err := s.TransferStock(ctx, product.ID, north.ID, south.ID, 5)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if resp.From.Quantity != 15 || resp.To.Quantity != 5 {
		t.Fatalf("expected 15/5 after transfer, got %d/%d", resp.From.Quantity, resp.To.Quantity)
	}
	if _, err := s.TransferStock(ctx, product.ID, south.ID, north.ID, 6); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	line := domain.SaleDetail{ProductID: product.ID, Quantity: 16, UnitPrice: product.Price, Subtotal: product.Price.Mul(decimal.NewFromInt(16))}
	_, err = s.CreateSale(ctx, domain.Sale{
		CustomerID:    customer.ID,
		UserID:        seller.ID,
		BranchID:      north.ID,
		TotalAmount:   line.Subtotal,
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleStatusPaid,
		Details:       []domain.SaleDetail{line},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock on checkout, got %v", err)
	}

	line.Quantity = 3
	line.Subtotal = product.Price.Mul(decimal.NewFromInt(3))
	sale, err := s.CreateSale(ctx, domain.Sale{
		CustomerID:    customer.ID,
		UserID:        seller.ID,
		BranchID:      north.ID,
		TotalAmount:   line.Subtotal,
		PaymentMethod: domain.PaymentMonthly,
		Status:        domain.SaleStatusPending,
		Details:       []domain.SaleDetail{line},
		Installments: []domain.Installment{
			{DueDate: time.Now().UTC().AddDate(0, 0, 30), AmountDue: line.Subtotal, Status: domain.InstallmentPending},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	rows, err := s.ListStock(ctx, store.Int64Ptr(north.ID))
	if err != nil {
		t.Fatalf("list stock: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 12 {
		t.Fatalf("expected 12 left at north, got %+v", rows)
	}

	_, updated, err := s.PaySaleInstallment(ctx, sale.Installments[0].ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("pay installment: %v", err)
	}
	if updated.Status != domain.SaleStatusPaid {
		t.Fatalf("expected sale status Paid, got %s", updated.Status)
	}
	if _, _, err := s.PaySaleInstallment(ctx, sale.Installments[0].ID, time.Now().UTC()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second payment, got %v", err)
	}

	if err := s.DeleteProduct(ctx, product.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deleting stocked product, got %v", err)
	}
	if err := s.DeleteBranch(ctx, north.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deleting branch with users, got %v", err)
	}
}
