package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
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

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO branches (name, location, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, branch.Name, branch.Location, branch.CreatedAt).Scan(&branch.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: branch %q already exists", store.ErrConflict, branch.Name)
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) GetBranch(ctx context.Context, id int64) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, created_at
		FROM branches
		WHERE id = $1
	`, id).Scan(&branch.ID, &branch.Name, &branch.Location, &branch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, location, created_at
		FROM branches
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 16)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Location, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// DeleteBranch refuses while users, customers, stock or history reference
// the branch.
func (s *Store) DeleteBranch(ctx context.Context, id int64) error {
	var users int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE branch_id = $1`, id).Scan(&users); err != nil {
		return err
	}
	if users > 0 {
		return fmt.Errorf("%w: branch has assigned users", store.ErrConflict)
	}
	return s.deleteByID(ctx, `DELETE FROM branches WHERE id = $1`, id, "branch is still referenced")
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, branch_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, user.Username, user.PasswordHash, user.Role, nullInt64(user.BranchID), user.CreatedAt).Scan(&user.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: username %q already exists", store.ErrConflict, user.Username)
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, *user.BranchID)
		}
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

const userColumns = `
	SELECT u.id, u.username, u.password_hash, u.role, u.branch_id, COALESCE(b.name, ''), u.created_at
	FROM users u
	LEFT JOIN branches b ON b.id = u.branch_id
`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var branchID sql.NullInt64
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &branchID, &user.BranchName, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.BranchID = int64Ptr(branchID)
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userColumns+` WHERE u.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return user, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, userColumns+` WHERE u.username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return user, err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, userColumns+` ORDER BY u.username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, `DELETE FROM users WHERE id = $1`, id, "user has recorded history")
}

// deleteByID runs a single-row delete and maps a missing row to NotFound and
// a foreign-key violation to Conflict.
func (s *Store) deleteByID(ctx context.Context, query string, id int64, inUse string) error {
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrConflict, inUse)
		}
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

type reference struct {
	column string
	id     int64
}

// missingReference maps a foreign key violation to a NotFound naming the
// parent row that is gone. The column is read from the constraint name,
// which Postgres defaults to <table>_<column>_fkey.
func missingReference(err error, refs ...reference) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	for _, ref := range refs {
		if strings.Contains(pgErr.ConstraintName, "_"+ref.column+"_") {
			return fmt.Errorf("%w: %s %d", store.ErrNotFound, strings.TrimSuffix(ref.column, "_id"), ref.id)
		}
	}
	return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return store.Int64Ptr(v.Int64)
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
