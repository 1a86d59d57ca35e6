package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

// CreateSale locks the branch stock rows of every product in the sale,
// verifies all quantities, then writes the sale, its details and
// installments and decrements stock. Any shortfall aborts the whole unit.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Details) == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", store.ErrValidation)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	needed := make(map[int64]int, len(sale.Details))
	productIDs := make([]int64, 0, len(sale.Details))
	for _, detail := range sale.Details {
		if detail.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
		}
		if _, seen := needed[detail.ProductID]; !seen {
			productIDs = append(productIDs, detail.ProductID)
		}
		needed[detail.ProductID] += detail.Quantity
	}

	names := make(map[int64]string, len(productIDs))
	for _, id := range productIDs {
		product, err := s.getProductTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		names[id] = product.Name
	}

	stockRows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stock
		WHERE branch_id = $1 AND product_id = ANY($2)
		ORDER BY product_id
		FOR UPDATE
	`, sale.BranchID, productIDs)
	if err != nil {
		return nil, err
	}
	available := make(map[int64]int, len(productIDs))
	for stockRows.Next() {
		var productID int64
		var qty int
		if err := stockRows.Scan(&productID, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		available[productID] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	for _, id := range productIDs {
		if available[id] < needed[id] {
			return nil, fmt.Errorf("%w: not enough stock for %s", store.ErrInsufficientStock, names[id])
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (customer_id, user_id, branch_id, total_amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sale.CustomerID, sale.UserID, sale.BranchID, sale.TotalAmount, sale.PaymentMethod, sale.Status, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return nil, missingReference(err,
			reference{"customer_id", sale.CustomerID},
			reference{"user_id", sale.UserID},
			reference{"branch_id", sale.BranchID},
		)
	}

	for i := range sale.Details {
		d := &sale.Details[i]
		d.SaleID = sale.ID
		d.ProductName = names[d.ProductID]
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_details (sale_id, product_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, sale.ID, d.ProductID, d.Quantity, d.UnitPrice, d.Subtotal).Scan(&d.ID); err != nil {
			return nil, err
		}
	}
	for i := range sale.Installments {
		inst := &sale.Installments[i]
		inst.SaleID = sale.ID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO installments (sale_id, due_date, amount_due, status, paid_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, sale.ID, inst.DueDate, inst.AmountDue, inst.Status, nullTime(inst.PaidAt)).Scan(&inst.ID); err != nil {
			return nil, err
		}
	}
	for _, id := range productIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock
			SET quantity = quantity - $3, updated_at = now()
			WHERE product_id = $1 AND branch_id = $2
		`, id, sale.BranchID, needed[id]); err != nil {
			return nil, err
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id = $1`, sale.CustomerID).Scan(&sale.CustomerName); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, scope store.Scope) ([]domain.Sale, error) {
	where, args := scopeClause("s", scope)
	return s.loadSales(ctx, where, args...)
}

func (s *Store) loadSales(ctx context.Context, where string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, c.name, s.user_id, s.branch_id, s.total_amount, s.payment_method, s.status, s.created_at
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
	`+where+`
		ORDER BY s.created_at DESC, s.id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 64)
	index := make(map[int64]int)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.CustomerName, &sale.UserID, &sale.BranchID,
			&sale.TotalAmount, &sale.PaymentMethod, &sale.Status, &sale.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		sale.Details = []domain.SaleDetail{}
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]int64, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}

	detailRows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.sale_id, d.product_id, p.name, d.quantity, d.unit_price, d.subtotal
		FROM sale_details d
		JOIN products p ON p.id = d.product_id
		WHERE d.sale_id = ANY($1)
		ORDER BY d.id
	`, ids)
	if err != nil {
		return nil, err
	}
	for detailRows.Next() {
		var d domain.SaleDetail
		if err := detailRows.Scan(&d.ID, &d.SaleID, &d.ProductID, &d.ProductName, &d.Quantity, &d.UnitPrice, &d.Subtotal); err != nil {
			_ = detailRows.Close()
			return nil, err
		}
		sale := &sales[index[d.SaleID]]
		sale.Details = append(sale.Details, d)
	}
	if err := detailRows.Err(); err != nil {
		_ = detailRows.Close()
		return nil, err
	}
	_ = detailRows.Close()

	instRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, due_date, amount_due, status, paid_at
		FROM installments
		WHERE sale_id = ANY($1)
		ORDER BY due_date, id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer instRows.Close()
	for instRows.Next() {
		var inst domain.Installment
		var paidAt sql.NullTime
		if err := instRows.Scan(&inst.ID, &inst.SaleID, &inst.DueDate, &inst.AmountDue, &inst.Status, &paidAt); err != nil {
			return nil, err
		}
		inst.PaidAt = timePtr(paidAt)
		sale := &sales[index[inst.SaleID]]
		sale.Installments = append(sale.Installments, inst)
	}
	return sales, instRows.Err()
}

func (s *Store) PaySaleInstallment(ctx context.Context, installmentID int64, at time.Time) (*domain.Installment, *domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var inst domain.Installment
	var paidAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, sale_id, due_date, amount_due, status, paid_at
		FROM installments
		WHERE id = $1
		FOR UPDATE
	`, installmentID).Scan(&inst.ID, &inst.SaleID, &inst.DueDate, &inst.AmountDue, &inst.Status, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if inst.Status == domain.InstallmentPaid {
		return nil, nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE installments SET status = $2, paid_at = $3 WHERE id = $1
	`, installmentID, domain.InstallmentPaid, at); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM installments WHERE sale_id = $1 AND status <> $3
		)
	`, inst.SaleID, domain.SaleStatusPaid, domain.InstallmentPaid); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	inst.Status = domain.InstallmentPaid
	inst.PaidAt = &at
	sales, err := s.loadSales(ctx, ` WHERE s.id = $1`, inst.SaleID)
	if err != nil {
		return nil, nil, err
	}
	if len(sales) == 0 {
		return nil, nil, store.ErrNotFound
	}
	return &inst, &sales[0], nil
}

func (s *Store) CreateFinancialPayment(ctx context.Context, payment domain.FinancialPayment) (*domain.FinancialPayment, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO financial_payments (
			customer_id, user_id, branch_id, principal_amount, interest_rate, total_amount,
			installment_type, num_installments, installment_amount, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, payment.CustomerID, payment.UserID, payment.BranchID, payment.PrincipalAmount, payment.InterestRate, payment.TotalAmount,
		payment.InstallmentType, payment.NumInstallments, payment.InstallmentAmount, payment.Status, payment.CreatedAt).Scan(&payment.ID)
	if err != nil {
		return nil, missingReference(err,
			reference{"customer_id", payment.CustomerID},
			reference{"user_id", payment.UserID},
			reference{"branch_id", payment.BranchID},
		)
	}

	for i := range payment.Installments {
		inst := &payment.Installments[i]
		inst.PaymentID = payment.ID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO financial_installments (payment_id, installment_number, due_date, amount_due, amount_paid, status, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, payment.ID, inst.InstallmentNumber, inst.DueDate, inst.AmountDue, inst.AmountPaid, inst.Status, nullTime(inst.PaidAt)).Scan(&inst.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT name FROM customers WHERE id = $1`, payment.CustomerID).Scan(&payment.CustomerName); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (s *Store) ListFinancialPayments(ctx context.Context, scope store.Scope) ([]domain.FinancialPayment, error) {
	where, args := scopeClause("f", scope)
	return s.loadPayments(ctx, where, args...)
}

func (s *Store) loadPayments(ctx context.Context, where string, args ...any) ([]domain.FinancialPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.customer_id, c.name, f.user_id, f.branch_id, f.principal_amount, f.interest_rate,
			f.total_amount, f.installment_type, f.num_installments, f.installment_amount, f.status, f.created_at
		FROM financial_payments f
		JOIN customers c ON c.id = f.customer_id
	`+where+`
		ORDER BY f.created_at DESC, f.id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	payments := make([]domain.FinancialPayment, 0, 32)
	index := make(map[int64]int)
	for rows.Next() {
		var p domain.FinancialPayment
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.CustomerName, &p.UserID, &p.BranchID, &p.PrincipalAmount, &p.InterestRate,
			&p.TotalAmount, &p.InstallmentType, &p.NumInstallments, &p.InstallmentAmount, &p.Status, &p.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		p.Installments = []domain.FinancialInstallment{}
		index[p.ID] = len(payments)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(payments) == 0 {
		return payments, nil
	}

	ids := make([]int64, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.ID)
	}
	instRows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, installment_number, due_date, amount_due, amount_paid, status, paid_at
		FROM financial_installments
		WHERE payment_id = ANY($1)
		ORDER BY payment_id, installment_number
	`, ids)
	if err != nil {
		return nil, err
	}
	defer instRows.Close()
	for instRows.Next() {
		var inst domain.FinancialInstallment
		var paidAt sql.NullTime
		if err := instRows.Scan(&inst.ID, &inst.PaymentID, &inst.InstallmentNumber, &inst.DueDate, &inst.AmountDue,
			&inst.AmountPaid, &inst.Status, &paidAt); err != nil {
			return nil, err
		}
		inst.PaidAt = timePtr(paidAt)
		p := &payments[index[inst.PaymentID]]
		p.Installments = append(p.Installments, inst)
	}
	return payments, instRows.Err()
}

func (s *Store) PayFinancialInstallment(ctx context.Context, installmentID int64, at time.Time) (*domain.FinancialInstallment, *domain.FinancialPayment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var inst domain.FinancialInstallment
	var paidAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, payment_id, installment_number, due_date, amount_due, amount_paid, status, paid_at
		FROM financial_installments
		WHERE id = $1
		FOR UPDATE
	`, installmentID).Scan(&inst.ID, &inst.PaymentID, &inst.InstallmentNumber, &inst.DueDate, &inst.AmountDue,
		&inst.AmountPaid, &inst.Status, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if inst.Status == domain.InstallmentPaid {
		return nil, nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE financial_installments
		SET status = $2, amount_paid = amount_due, paid_at = $3
		WHERE id = $1
	`, installmentID, domain.InstallmentPaid, at); err != nil {
		return nil, nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE financial_payments
		SET status = $2
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM financial_installments WHERE payment_id = $1 AND status <> $3
		)
	`, inst.PaymentID, domain.PlanCompleted, domain.InstallmentPaid); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	inst.Status = domain.InstallmentPaid
	inst.AmountPaid = inst.AmountDue
	inst.PaidAt = &at
	payments, err := s.loadPayments(ctx, ` WHERE f.id = $1`, inst.PaymentID)
	if err != nil {
		return nil, nil, err
	}
	if len(payments) == 0 {
		return nil, nil, store.ErrNotFound
	}
	return &inst, &payments[0], nil
}

// scopeClause renders a WHERE clause on alias.user_id / alias.branch_id.
func scopeClause(alias string, scope store.Scope) (string, []any) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if scope.UserID != nil {
		args = append(args, *scope.UserID)
		conds = append(conds, fmt.Sprintf("%s.user_id = $%d", alias, len(args)))
	}
	if scope.BranchID != nil {
		args = append(args, *scope.BranchID)
		conds = append(conds, fmt.Sprintf("%s.branch_id = $%d", alias, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
