package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

// ListCollected returns paid financing installments and direct cash/card
// sales whose payment time falls in [from, to).
func (s *Store) ListCollected(ctx context.Context, from time.Time, to time.Time, userID *int64) ([]domain.CollectedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT $4::text, fi.id, fp.user_id, c.name, $5::text, fi.amount_paid, fi.paid_at
		FROM financial_installments fi
		JOIN financial_payments fp ON fp.id = fi.payment_id
		JOIN customers c ON c.id = fp.customer_id
		WHERE fi.status = $6 AND fi.paid_at >= $1 AND fi.paid_at < $2
			AND ($3::bigint IS NULL OR fp.user_id = $3)
		UNION ALL
		SELECT $7::text, s.id, s.user_id, c.name,
			CASE WHEN s.payment_method = 'card' THEN $8::text ELSE $9::text END,
			s.total_amount, s.created_at
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		WHERE s.payment_method IN ('cash', 'card') AND s.created_at >= $1 AND s.created_at < $2
			AND ($3::bigint IS NULL OR s.user_id = $3)
		ORDER BY 7, 1, 2
	`, from, to, nullInt64(userID),
		domain.SourceFinancialInstallment, domain.CollectedCreditPayment, domain.InstallmentPaid,
		domain.SourceSale, domain.CollectedDirectCard, domain.CollectedDirectCash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CollectedItem, 0, 64)
	for rows.Next() {
		var item domain.CollectedItem
		if err := rows.Scan(&item.SourceType, &item.SourceID, &item.UserID, &item.CustomerName, &item.PaymentType, &item.Amount, &item.PaidAt); err != nil {
			return nil, err
		}
		item.PaidAt = item.PaidAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO cash_closings (user_id, branch_id, period_type, start_date, end_date, total_collected, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, closing.UserID, closing.BranchID, closing.PeriodType, closing.StartDate, closing.EndDate,
		closing.TotalCollected, closing.Status, closing.CreatedAt).Scan(&closing.ID)
	if err != nil {
		return nil, missingReference(err,
			reference{"user_id", closing.UserID},
			reference{"branch_id", closing.BranchID},
		)
	}

	for i := range closing.Details {
		d := &closing.Details[i]
		d.ClosingID = closing.ID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO cash_closing_details (closing_id, payment_type, payment_id, amount)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, closing.ID, d.PaymentType, d.PaymentID, d.Amount).Scan(&d.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1`, closing.UserID).Scan(&closing.Username); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &closing, nil
}

func (s *Store) ListCashClosings(ctx context.Context, scope store.Scope) ([]domain.CashClosing, error) {
	where, args := scopeClause("cc", scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT cc.id, cc.user_id, u.username, cc.branch_id, cc.period_type, cc.start_date, cc.end_date,
			cc.total_collected, cc.status, cc.created_at
		FROM cash_closings cc
		JOIN users u ON u.id = cc.user_id
	`+where+`
		ORDER BY cc.created_at DESC, cc.id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	closings := make([]domain.CashClosing, 0, 32)
	index := make(map[int64]int)
	for rows.Next() {
		var c domain.CashClosing
		if err := rows.Scan(&c.ID, &c.UserID, &c.Username, &c.BranchID, &c.PeriodType, &c.StartDate, &c.EndDate,
			&c.TotalCollected, &c.Status, &c.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.Details = []domain.CashClosingDetail{}
		index[c.ID] = len(closings)
		closings = append(closings, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(closings) == 0 {
		return closings, nil
	}

	ids := make([]int64, 0, len(closings))
	for _, c := range closings {
		ids = append(ids, c.ID)
	}
	detailRows, err := s.db.QueryContext(ctx, `
		SELECT id, closing_id, payment_type, payment_id, amount
		FROM cash_closing_details
		WHERE closing_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer detailRows.Close()
	for detailRows.Next() {
		var d domain.CashClosingDetail
		if err := detailRows.Scan(&d.ID, &d.ClosingID, &d.PaymentType, &d.PaymentID, &d.Amount); err != nil {
			return nil, err
		}
		c := &closings[index[d.ClosingID]]
		c.Details = append(c.Details, d)
	}
	return closings, detailRows.Err()
}

func (s *Store) SalesSummary(ctx context.Context, scope store.Scope) (decimal.Decimal, int, error) {
	where, args := scopeClause("s", scope)
	var total decimal.Decimal
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(s.total_amount), 0), count(*)
		FROM sales s
	`+where, args...).Scan(&total, &count)
	return total, count, err
}

func (s *Store) CountCustomers(ctx context.Context, scope store.Scope) (int, error) {
	where, args := scopeClause("c", store.Scope{BranchID: scope.BranchID})
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM customers c`+where, args...).Scan(&count)
	return count, err
}

// CountPendingInstallments counts pending sale installments only. Financing
// plan installments are not included.
func (s *Store) CountPendingInstallments(ctx context.Context, scope store.Scope) (int, error) {
	where, args := scopeClause("s", store.Scope{UserID: scope.UserID})
	args = append(args, domain.InstallmentPending)
	cond := fmt.Sprintf("i.status = $%d", len(args))
	if where == "" {
		where = " WHERE " + cond
	} else {
		where += " AND " + cond
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM installments i
		JOIN sales s ON s.id = i.sale_id
	`+where, args...).Scan(&count)
	return count, err
}
