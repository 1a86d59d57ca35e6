package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

type stockKey struct {
	productID int64
	branchID  int64
}

type Store struct {
	mu        sync.RWMutex
	seq       map[string]int64
	branches  map[int64]domain.Branch
	users     map[int64]domain.User
	customers map[int64]domain.Customer
	products  map[int64]domain.Product
	stock     map[stockKey]int
	sales     map[int64]*domain.Sale
	plans     map[int64]*domain.FinancialPayment
	closings  map[int64]*domain.CashClosing
}

func New() *Store {
	return &Store{
		seq:       map[string]int64{},
		branches:  map[int64]domain.Branch{},
		users:     map[int64]domain.User{},
		customers: map[int64]domain.Customer{},
		products:  map[int64]domain.Product{},
		stock:     map[stockKey]int{},
		sales:     map[int64]*domain.Sale{},
		plans:     map[int64]*domain.FinancialPayment{},
		closings:  map[int64]*domain.CashClosing{},
	}
}

// NewSeeded returns a store holding a "Main" branch, an "admin" account
// without a branch and a "seller" account assigned to Main. Passwords come
// from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD, falling back to dev
// defaults. Only used when DATABASE_URL is unset.
func NewSeeded() *Store {
	s := New()
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		logrus.Warn("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	now := time.Now().UTC()
	mainBranch := domain.Branch{ID: s.next("branch"), Name: "Main", CreatedAt: now}
	s.branches[mainBranch.ID] = mainBranch

	for _, u := range []struct {
		username string
		password string
		role     string
		branchID *int64
	}{
		{"admin", adminPwd, domain.RoleAdmin, nil},
		{"seller", sellerPwd, domain.RoleSeller, store.Int64Ptr(mainBranch.ID)},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Fatalf("memory store: failed to hash seed password for %s", u.username)
		}
		id := s.next("user")
		s.users[id] = domain.User{
			ID:           id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			BranchID:     u.branchID,
			CreatedAt:    now,
		}
	}
	return s
}

func (s *Store) next(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.branches {
		if existing.Name == branch.Name {
			return nil, fmt.Errorf("%w: branch %q already exists", store.ErrConflict, branch.Name)
		}
	}
	branch.ID = s.next("branch")
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	s.branches[branch.ID] = branch
	return &branch, nil
}

func (s *Store) GetBranch(_ context.Context, id int64) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branches))
	for _, branch := range s.branches {
		result = append(result, branch)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) DeleteBranch(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[id]; !ok {
		return store.ErrNotFound
	}
	for _, user := range s.users {
		if user.BranchID != nil && *user.BranchID == id {
			return fmt.Errorf("%w: branch has assigned users", store.ErrConflict)
		}
	}
	if s.branchReferenced(id) {
		return fmt.Errorf("%w: branch is still referenced by other records", store.ErrConflict)
	}
	delete(s.branches, id)
	return nil
}

func (s *Store) branchReferenced(id int64) bool {
	for _, customer := range s.customers {
		if customer.BranchID == id {
			return true
		}
	}
	for key := range s.stock {
		if key.branchID == id {
			return true
		}
	}
	for _, sale := range s.sales {
		if sale.BranchID == id {
			return true
		}
	}
	for _, plan := range s.plans {
		if plan.BranchID == id {
			return true
		}
	}
	for _, closing := range s.closings {
		if closing.BranchID == id {
			return true
		}
	}
	return false
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return nil, fmt.Errorf("%w: username %q already exists", store.ErrConflict, user.Username)
		}
	}
	if user.BranchID != nil {
		if _, ok := s.branches[*user.BranchID]; !ok {
			return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, *user.BranchID)
		}
	}
	user.ID = s.next("user")
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return s.withBranchName(user), nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withBranchName(user), nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			return s.withBranchName(user), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, *s.withBranchName(user))
	}
	slices.SortFunc(result, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.UserID == id {
			return fmt.Errorf("%w: user has recorded sales", store.ErrConflict)
		}
	}
	for _, plan := range s.plans {
		if plan.UserID == id {
			return fmt.Errorf("%w: user has issued financing plans", store.ErrConflict)
		}
	}
	for _, closing := range s.closings {
		if closing.UserID == id {
			return fmt.Errorf("%w: user has cash closings", store.ErrConflict)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) withBranchName(user domain.User) *domain.User {
	if user.BranchID != nil {
		user.BranchName = s.branches[*user.BranchID].Name
	}
	return &user
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[customer.BranchID]
	if !ok {
		return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, customer.BranchID)
	}
	customer.ID = s.next("customer")
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customers[customer.ID] = customer
	customer.BranchName = branch.Name
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.BranchName = s.branches[customer.BranchID].Name
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, filter store.CustomerFilter) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if filter.BranchID != nil && customer.BranchID != *filter.BranchID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(strings.ToLower(customer.Email), search) &&
			!strings.Contains(strings.ToLower(customer.Phone), search) {
			continue
		}
		customer.BranchName = s.branches[customer.BranchID].Name
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	for _, sale := range s.sales {
		if sale.CustomerID == id {
			return fmt.Errorf("%w: customer has recorded sales", store.ErrConflict)
		}
	}
	for _, plan := range s.plans {
		if plan.CustomerID == id {
			return fmt.Errorf("%w: customer has financing plans", store.ErrConflict)
		}
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.ID = s.next("product")
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	for key := range s.stock {
		if key.productID == id {
			return fmt.Errorf("%w: product has stock records, clear them first", store.ErrConflict)
		}
	}
	for _, sale := range s.sales {
		for _, detail := range sale.Details {
			if detail.ProductID == id {
				return fmt.Errorf("%w: product appears in recorded sales", store.ErrConflict)
			}
		}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) SetStock(_ context.Context, productID int64, branchID int64, qty int) (*domain.Stock, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireProductAndBranch(productID, branchID); err != nil {
		return nil, err
	}
	s.stock[stockKey{productID, branchID}] = qty
	row := s.stockRow(productID, branchID)
	return &row, nil
}

func (s *Store) TransferStock(_ context.Context, productID int64, fromBranchID int64, toBranchID int64, qty int) (*domain.StockTransferResponse, error) {
	if fromBranchID == toBranchID || qty <= 0 {
		return nil, store.ErrInvalidTransfer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireProductAndBranch(productID, fromBranchID); err != nil {
		return nil, err
	}
	if _, ok := s.branches[toBranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, toBranchID)
	}

	from := stockKey{productID, fromBranchID}
	available, ok := s.stock[from]
	if !ok || available < qty {
		return nil, fmt.Errorf("%w: %d requested, %d available", store.ErrInsufficientStock, qty, available)
	}
	to := stockKey{productID, toBranchID}
	s.stock[from] = available - qty
	s.stock[to] += qty

	return &domain.StockTransferResponse{
		ProductID: productID,
		From:      s.stockRow(productID, fromBranchID),
		To:        s.stockRow(productID, toBranchID),
	}, nil
}

func (s *Store) ListStock(_ context.Context, branchID *int64) ([]domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Stock, 0, len(s.stock))
	for key := range s.stock {
		if branchID != nil && key.branchID != *branchID {
			continue
		}
		result = append(result, s.stockRow(key.productID, key.branchID))
	}
	slices.SortFunc(result, func(a, b domain.Stock) int {
		return cmp.Or(
			strings.Compare(a.ProductName, b.ProductName),
			strings.Compare(a.BranchName, b.BranchName),
			cmp.Compare(a.ProductID, b.ProductID),
			cmp.Compare(a.BranchID, b.BranchID),
		)
	})
	return result, nil
}

func (s *Store) requireProductAndBranch(productID int64, branchID int64) error {
	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("%w: product %d", store.ErrNotFound, productID)
	}
	if _, ok := s.branches[branchID]; !ok {
		return fmt.Errorf("%w: branch %d", store.ErrNotFound, branchID)
	}
	return nil
}

func (s *Store) stockRow(productID int64, branchID int64) domain.Stock {
	return domain.Stock{
		ProductID:   productID,
		ProductName: s.products[productID].Name,
		BranchID:    branchID,
		BranchName:  s.branches[branchID].Name,
		Quantity:    s.stock[stockKey{productID, branchID}],
	}
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Details) == 0 {
		return nil, fmt.Errorf("%w: sale has no lines", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[sale.CustomerID]
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, sale.CustomerID)
	}
	if _, ok := s.branches[sale.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, sale.BranchID)
	}
	if _, ok := s.users[sale.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, sale.UserID)
	}

	// Verify every line before touching any row.
	needed := make(map[int64]int, len(sale.Details))
	for _, detail := range sale.Details {
		if detail.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
		}
		product, ok := s.products[detail.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, detail.ProductID)
		}
		needed[detail.ProductID] += detail.Quantity
		if s.stock[stockKey{detail.ProductID, sale.BranchID}] < needed[detail.ProductID] {
			return nil, fmt.Errorf("%w: not enough stock for %s", store.ErrInsufficientStock, product.Name)
		}
	}

	sale.ID = s.next("sale")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Details = slices.Clone(sale.Details)
	for i := range sale.Details {
		sale.Details[i].ID = s.next("sale_detail")
		sale.Details[i].SaleID = sale.ID
		sale.Details[i].ProductName = s.products[sale.Details[i].ProductID].Name
	}
	sale.Installments = slices.Clone(sale.Installments)
	for i := range sale.Installments {
		sale.Installments[i].ID = s.next("installment")
		sale.Installments[i].SaleID = sale.ID
	}
	for productID, qty := range needed {
		s.stock[stockKey{productID, sale.BranchID}] -= qty
	}

	sale.CustomerName = customer.Name
	stored := cloneSale(sale)
	s.sales[sale.ID] = &stored
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, scope store.Scope) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if !inScope(scope, sale.UserID, sale.BranchID) {
			continue
		}
		out := cloneSale(*sale)
		out.CustomerName = s.customers[sale.CustomerID].Name
		result = append(result, out)
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return result, nil
}

func (s *Store) PaySaleInstallment(_ context.Context, installmentID int64, at time.Time) (*domain.Installment, *domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range s.sales {
		for i := range sale.Installments {
			inst := &sale.Installments[i]
			if inst.ID != installmentID {
				continue
			}
			if inst.Status == domain.InstallmentPaid {
				return nil, nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
			}
			paidAt := at
			inst.Status = domain.InstallmentPaid
			inst.PaidAt = &paidAt

			allPaid := true
			for _, sibling := range sale.Installments {
				if sibling.Status != domain.InstallmentPaid {
					allPaid = false
					break
				}
			}
			if allPaid {
				sale.Status = domain.SaleStatusPaid
			}
			updated := *inst
			out := cloneSale(*sale)
			out.CustomerName = s.customers[sale.CustomerID].Name
			return &updated, &out, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) CreateFinancialPayment(_ context.Context, payment domain.FinancialPayment) (*domain.FinancialPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[payment.CustomerID]
	if !ok {
		return nil, fmt.Errorf("%w: customer %d", store.ErrNotFound, payment.CustomerID)
	}
	if _, ok := s.branches[payment.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, payment.BranchID)
	}
	if _, ok := s.users[payment.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, payment.UserID)
	}

	payment.ID = s.next("financial_payment")
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.Installments = slices.Clone(payment.Installments)
	for i := range payment.Installments {
		payment.Installments[i].ID = s.next("financial_installment")
		payment.Installments[i].PaymentID = payment.ID
	}
	payment.CustomerName = customer.Name
	stored := clonePayment(payment)
	s.plans[payment.ID] = &stored
	return &payment, nil
}

func (s *Store) ListFinancialPayments(_ context.Context, scope store.Scope) ([]domain.FinancialPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinancialPayment, 0, len(s.plans))
	for _, plan := range s.plans {
		if !inScope(scope, plan.UserID, plan.BranchID) {
			continue
		}
		out := clonePayment(*plan)
		out.CustomerName = s.customers[plan.CustomerID].Name
		result = append(result, out)
	}
	slices.SortFunc(result, func(a, b domain.FinancialPayment) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return result, nil
}

func (s *Store) PayFinancialInstallment(_ context.Context, installmentID int64, at time.Time) (*domain.FinancialInstallment, *domain.FinancialPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, plan := range s.plans {
		for i := range plan.Installments {
			inst := &plan.Installments[i]
			if inst.ID != installmentID {
				continue
			}
			if inst.Status == domain.InstallmentPaid {
				return nil, nil, fmt.Errorf("%w: installment already paid", store.ErrConflict)
			}
			paidAt := at
			inst.Status = domain.InstallmentPaid
			inst.AmountPaid = inst.AmountDue
			inst.PaidAt = &paidAt

			allPaid := true
			for _, sibling := range plan.Installments {
				if sibling.Status != domain.InstallmentPaid {
					allPaid = false
					break
				}
			}
			if allPaid {
				plan.Status = domain.PlanCompleted
			}
			updated := *inst
			out := clonePayment(*plan)
			out.CustomerName = s.customers[plan.CustomerID].Name
			return &updated, &out, nil
		}
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) ListCollected(_ context.Context, from time.Time, to time.Time, userID *int64) ([]domain.CollectedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inWindow := func(at time.Time) bool {
		return !at.Before(from) && at.Before(to)
	}

	items := make([]domain.CollectedItem, 0)
	for _, plan := range s.plans {
		if userID != nil && plan.UserID != *userID {
			continue
		}
		for _, inst := range plan.Installments {
			if inst.Status != domain.InstallmentPaid || inst.PaidAt == nil || !inWindow(*inst.PaidAt) {
				continue
			}
			items = append(items, domain.CollectedItem{
				SourceType:   domain.SourceFinancialInstallment,
				SourceID:     inst.ID,
				UserID:       plan.UserID,
				CustomerName: s.customers[plan.CustomerID].Name,
				PaymentType:  domain.CollectedCreditPayment,
				Amount:       inst.AmountPaid,
				PaidAt:       *inst.PaidAt,
			})
		}
	}
	for _, sale := range s.sales {
		if !domain.IsDirectMethod(sale.PaymentMethod) || !inWindow(sale.CreatedAt) {
			continue
		}
		if userID != nil && sale.UserID != *userID {
			continue
		}
		items = append(items, domain.CollectedItem{
			SourceType:   domain.SourceSale,
			SourceID:     sale.ID,
			UserID:       sale.UserID,
			CustomerName: s.customers[sale.CustomerID].Name,
			PaymentType:  domain.DirectSaleLabel(sale.PaymentMethod),
			Amount:       sale.TotalAmount,
			PaidAt:       sale.CreatedAt,
		})
	}
	slices.SortFunc(items, func(a, b domain.CollectedItem) int {
		return cmp.Or(
			a.PaidAt.Compare(b.PaidAt),
			strings.Compare(a.SourceType, b.SourceType),
			cmp.Compare(a.SourceID, b.SourceID),
		)
	})
	return items, nil
}

func (s *Store) CreateCashClosing(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[closing.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, closing.UserID)
	}
	if _, ok := s.branches[closing.BranchID]; !ok {
		return nil, fmt.Errorf("%w: branch %d", store.ErrNotFound, closing.BranchID)
	}

	closing.ID = s.next("cash_closing")
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	closing.Details = slices.Clone(closing.Details)
	for i := range closing.Details {
		closing.Details[i].ID = s.next("cash_closing_detail")
		closing.Details[i].ClosingID = closing.ID
	}
	closing.Username = user.Username
	stored := closing
	stored.Details = slices.Clone(closing.Details)
	s.closings[closing.ID] = &stored
	return &closing, nil
}

func (s *Store) ListCashClosings(_ context.Context, scope store.Scope) ([]domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashClosing, 0, len(s.closings))
	for _, closing := range s.closings {
		if !inScope(scope, closing.UserID, closing.BranchID) {
			continue
		}
		out := *closing
		out.Details = slices.Clone(closing.Details)
		out.Username = s.users[closing.UserID].Username
		result = append(result, out)
	}
	slices.SortFunc(result, func(a, b domain.CashClosing) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return result, nil
}

func (s *Store) SalesSummary(_ context.Context, scope store.Scope) (decimal.Decimal, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	count := 0
	for _, sale := range s.sales {
		if !inScope(scope, sale.UserID, sale.BranchID) {
			continue
		}
		total = total.Add(sale.TotalAmount)
		count++
	}
	return total, count, nil
}

func (s *Store) CountCustomers(_ context.Context, scope store.Scope) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, customer := range s.customers {
		if scope.BranchID != nil && customer.BranchID != *scope.BranchID {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) CountPendingInstallments(_ context.Context, scope store.Scope) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.sales {
		if scope.UserID != nil && sale.UserID != *scope.UserID {
			continue
		}
		for _, inst := range sale.Installments {
			if inst.Status == domain.InstallmentPending {
				count++
			}
		}
	}
	return count, nil
}

func inScope(scope store.Scope, userID int64, branchID int64) bool {
	if scope.UserID != nil && userID != *scope.UserID {
		return false
	}
	if scope.BranchID != nil && branchID != *scope.BranchID {
		return false
	}
	return true
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Details = slices.Clone(sale.Details)
	sale.Installments = slices.Clone(sale.Installments)
	for i := range sale.Installments {
		if sale.Installments[i].PaidAt != nil {
			paidAt := *sale.Installments[i].PaidAt
			sale.Installments[i].PaidAt = &paidAt
		}
	}
	return sale
}

func clonePayment(payment domain.FinancialPayment) domain.FinancialPayment {
	payment.Installments = slices.Clone(payment.Installments)
	for i := range payment.Installments {
		if payment.Installments[i].PaidAt != nil {
			paidAt := *payment.Installments[i].PaidAt
			payment.Installments[i].PaidAt = &paidAt
		}
	}
	return payment
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
