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

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, phone, email, address, branch_id, credit_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, customer.Name, customer.Phone, customer.Email, customer.Address, customer.BranchID, customer.CreditBalance, customer.CreatedAt).Scan(&customer.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, customer.BranchID)
		}
		return nil, err
	}
	return s.GetCustomer(ctx, customer.ID)
}

const customerColumns = `
	SELECT c.id, c.name, c.phone, c.email, c.address, c.branch_id, b.name, c.credit_balance, c.created_at
	FROM customers c
	JOIN branches b ON b.id = c.branch_id
`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.BranchID, &c.BranchName, &c.CreditBalance, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, customerColumns+` WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return customer, err
}

func (s *Store) ListCustomers(ctx context.Context, filter store.CustomerFilter) ([]domain.Customer, error) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.BranchID != nil {
		args = append(args, *filter.BranchID)
		conds = append(conds, fmt.Sprintf("c.branch_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(c.name ILIKE $%d OR c.email ILIKE $%d OR c.phone ILIKE $%d)", n, n, n))
	}

	query := customerColumns
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY c.name, c.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM customers WHERE id = $1`, id, "customer has sales or financing plans")
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, category, price, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, product.Name, product.Description, product.Category, product.Price, product.CreatedAt).Scan(&product.ID)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, price, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, price, created_at
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM products WHERE id = $1`, id, "product still has stock rows or sales")
}

func (s *Store) SetStock(ctx context.Context, productID int64, branchID int64, qty int) (*domain.Stock, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock (product_id, branch_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (product_id, branch_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
	`, productID, branchID, qty)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: product %d or branch %d", store.ErrNotFound, productID, branchID)
		}
		return nil, err
	}
	return s.stockRow(ctx, s.db, productID, branchID)
}

// TransferStock locks the source row, checks availability and moves qty to
// the destination in one transaction.
func (s *Store) TransferStock(ctx context.Context, productID int64, fromBranchID int64, toBranchID int64, qty int) (*domain.StockTransferResponse, error) {
	if fromBranchID == toBranchID || qty <= 0 {
		return nil, store.ErrInvalidTransfer
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []int64{fromBranchID, toBranchID} {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, id)
		}
	}
	if _, err := s.getProductTx(ctx, tx, productID); err != nil {
		return nil, err
	}

	var available int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock
		WHERE product_id = $1 AND branch_id = $2
		FOR UPDATE
	`, productID, fromBranchID).Scan(&available)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if available < qty {
		return nil, fmt.Errorf("%w: %d requested, %d available", store.ErrInsufficientStock, qty, available)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock
		SET quantity = quantity - $3, updated_at = now()
		WHERE product_id = $1 AND branch_id = $2
	`, productID, fromBranchID, qty); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock (product_id, branch_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (product_id, branch_id)
		DO UPDATE SET quantity = stock.quantity + EXCLUDED.quantity, updated_at = now()
	`, productID, toBranchID, qty); err != nil {
		return nil, err
	}

	from, err := s.stockRow(ctx, tx, productID, fromBranchID)
	if err != nil {
		return nil, err
	}
	to, err := s.stockRow(ctx, tx, productID, toBranchID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.StockTransferResponse{ProductID: productID, From: *from, To: *to}, nil
}

func (s *Store) ListStock(ctx context.Context, branchID *int64) ([]domain.Stock, error) {
	query := `
		SELECT st.product_id, p.name, st.branch_id, b.name, st.quantity
		FROM stock st
		JOIN products p ON p.id = st.product_id
		JOIN branches b ON b.id = st.branch_id
	`
	args := []any{}
	if branchID != nil {
		query += ` WHERE st.branch_id = $1`
		args = append(args, *branchID)
	}
	query += ` ORDER BY p.name, b.name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Stock, 0, 64)
	for rows.Next() {
		var st domain.Stock
		if err := rows.Scan(&st.ProductID, &st.ProductName, &st.BranchID, &st.BranchName, &st.Quantity); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) stockRow(ctx context.Context, q queryer, productID int64, branchID int64) (*domain.Stock, error) {
	var st domain.Stock
	err := q.QueryRowContext(ctx, `
		SELECT st.product_id, p.name, st.branch_id, b.name, st.quantity
		FROM stock st
		JOIN products p ON p.id = st.product_id
		JOIN branches b ON b.id = st.branch_id
		WHERE st.product_id = $1 AND st.branch_id = $2
	`, productID, branchID).Scan(&st.ProductID, &st.ProductName, &st.BranchID, &st.BranchName, &st.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) getProductTx(ctx context.Context, q queryer, id int64) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}
