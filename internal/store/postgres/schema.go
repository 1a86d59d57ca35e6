package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		location TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'seller')),
		branch_id BIGINT REFERENCES branches(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		branch_id BIGINT NOT NULL REFERENCES branches(id),
		credit_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price NUMERIC(14,2) NOT NULL CHECK (price > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stock (
		product_id BIGINT NOT NULL REFERENCES products(id),
		branch_id BIGINT NOT NULL REFERENCES branches(id),
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (product_id, branch_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		branch_id BIGINT NOT NULL REFERENCES branches(id),
		total_amount NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL CHECK (payment_method IN ('cash', 'card', 'weekly', 'monthly')),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS sales_user_created_idx ON sales (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sale_details (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_id BIGINT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL,
		subtotal NUMERIC(14,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS installments (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		due_date TIMESTAMPTZ NOT NULL,
		amount_due NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL,
		paid_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS financial_payments (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		branch_id BIGINT NOT NULL REFERENCES branches(id),
		principal_amount NUMERIC(14,2) NOT NULL,
		interest_rate NUMERIC(7,2) NOT NULL,
		total_amount NUMERIC(14,2) NOT NULL,
		installment_type TEXT NOT NULL CHECK (installment_type IN ('weekly', 'monthly')),
		num_installments INTEGER NOT NULL CHECK (num_installments > 0),
		installment_amount NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS financial_installments (
		id BIGSERIAL PRIMARY KEY,
		payment_id BIGINT NOT NULL REFERENCES financial_payments(id) ON DELETE CASCADE,
		installment_number INTEGER NOT NULL,
		due_date TIMESTAMPTZ NOT NULL,
		amount_due NUMERIC(14,2) NOT NULL,
		amount_paid NUMERIC(14,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		paid_at TIMESTAMPTZ,
		UNIQUE (payment_id, installment_number)
	)`,
	`CREATE INDEX IF NOT EXISTS financial_installments_paid_idx ON financial_installments (paid_at) WHERE paid_at IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS cash_closings (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		branch_id BIGINT NOT NULL REFERENCES branches(id),
		period_type TEXT NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		total_collected NUMERIC(14,2) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS cash_closing_details (
		id BIGSERIAL PRIMARY KEY,
		closing_id BIGINT NOT NULL REFERENCES cash_closings(id) ON DELETE CASCADE,
		payment_type TEXT NOT NULL,
		payment_id BIGINT NOT NULL,
		amount NUMERIC(14,2) NOT NULL
	)`,
}

// Migrate creates any missing tables and indexes. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

// Bootstrap creates the "Main" branch and an admin account when the users
// table is empty. It reports whether anything was inserted.
func (s *Store) Bootstrap(ctx context.Context, adminUsername string, passwordHash string) (bool, error) {
	var users int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&users); err != nil {
		return false, err
	}
	if users > 0 {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (name, created_at) VALUES ('Main', now())
		ON CONFLICT (name) DO NOTHING
	`); err != nil {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES ($1, $2, 'admin', now())
		ON CONFLICT (username) DO NOTHING
	`, adminUsername, passwordHash); err != nil {
		return false, err
	}
	return true, nil
}
