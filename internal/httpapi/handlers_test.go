package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/xuri/excelize/v2"

	"branchpos/backend/internal/cache"
	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/service"
	"branchpos/backend/internal/store/memory"
)

const testSecret = "test-secret-key-at-least-32-chars!!"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SELLER_PASSWORD", "seller123")

	logger, _ := logrustest.NewNullLogger()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NewMemorySessionStore(), cache.NoopMetricsCache{}, cache.NewLocalLocker(), logger, service.Options{
		SessionTTL:  time.Hour,
		PhoneRegion: "US",
	})
	auth := NewAuthManager(testSecret, time.Hour, svc)

	return New(svc, auth, Options{AllowedOrigin: "*", LoginRateLimit: 5, Logger: logger})
}

// call sends a JSON request through the router. Empty token or csrf leave
// the matching header unset.
func call(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "seller",
		Password: "seller123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	decodeBody(t, rec, &body)
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", body)
	}
	if body.User.Role != domain.RoleSeller || body.User.BranchID == nil || *body.User.BranchID != 1 {
		t.Fatalf("unexpected session payload %+v", body.User)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	for _, req := range []domain.LoginRequest{
		{Username: "admin", Password: "wrongpassword"},
		{Username: "nobody", Password: "admin123"},
	} {
		rec := call(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d (body: %s)", req.Username, rec.Code, rec.Body.String())
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] != service.ErrInvalidCredentials.Error() {
			t.Fatalf("expected generic credentials error, got %q", body["error"])
		}
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	rec := call(t, api.Handler(), http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if _, ok := body["products"]; !ok {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestHandleMe(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	rec := call(t, api.Handler(), http.MethodGet, "/api/v1/auth/me", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		User domain.Session `json:"user"`
	}
	decodeBody(t, rec, &body)
	if body.User.Username != "seller" || body.User.BranchName != "Main" {
		t.Fatalf("unexpected me payload %+v", body.User)
	}
}

func TestSellerCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "seller", "seller123")
	csrf := fetchCSRFToken(t, api)

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/users", nil},
		{http.MethodPost, "/api/v1/branches", domain.BranchCreateRequest{Name: "North"}},
		{http.MethodPost, "/api/v1/products", map[string]any{"name": "Widget", "price": "9.99"}},
		{http.MethodPut, "/api/v1/stock", domain.StockSetRequest{ProductID: 1, BranchID: 1, Quantity: 3}},
		{http.MethodPost, "/api/v1/stock/transfers", domain.StockTransferRequest{ProductID: 1, FromBranchID: 1, ToBranchID: 2, Quantity: 1}},
	}
	for _, tc := range cases {
		rec := call(t, handler, tc.method, tc.path, token, csrf, tc.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api.Handler(), http.MethodPost, "/api/v1/branches", token, csrf, map[string]any{
		"name":   "North",
		"region": "unknown",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteBranchWithUsersReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api.Handler(), http.MethodDelete, "/api/v1/branches/1", token, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api.Handler(), http.MethodDelete, "/api/v1/branches/abc", token, csrf, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", rec.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "seller", "seller123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, handler, http.MethodPost, "/api/v1/auth/logout", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, handler, http.MethodGet, "/api/v1/cart", token, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}

	fresh := loginAs(t, api, "seller", "seller123")
	rec = call(t, handler, http.MethodGet, "/api/v1/cart", fresh, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a new session to work, got %d", rec.Code)
	}
}

func TestDeletedUserTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAsAdmin(t, api)
	seller := loginAs(t, api, "seller", "seller123")

	rec := call(t, handler, http.MethodGet, "/api/v1/auth/me", seller, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected seller token to work before deletion, got %d", rec.Code)
	}

	rec = call(t, handler, http.MethodDelete, "/api/v1/users/2", admin, csrf, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete user expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, handler, http.MethodPost, "/api/v1/checkout", seller, csrf, domain.CheckoutRequest{CustomerID: 1, PaymentMethod: domain.PaymentCash})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on checkout for deleted user, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = call(t, handler, http.MethodGet, "/api/v1/auth/me", seller, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on me for deleted user, got %d", rec.Code)
	}
}

func TestCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := fetchCSRFToken(t, api)
	admin := loginAs(t, api, "admin", "admin123")
	seller := loginAs(t, api, "seller", "seller123")

	rec := call(t, handler, http.MethodPost, "/api/v1/products", admin, csrf, map[string]any{
		"name":  "Widget",
		"price": "9.99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var product domain.Product
	decodeBody(t, rec, &product)

	rec = call(t, handler, http.MethodPut, "/api/v1/stock", admin, csrf, domain.StockSetRequest{
		ProductID: product.ID,
		BranchID:  1,
		Quantity:  10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set stock expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, handler, http.MethodPost, "/api/v1/customers", seller, csrf, domain.CustomerCreateRequest{Name: "Ana"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var customer domain.Customer
	decodeBody(t, rec, &customer)

	rec = call(t, handler, http.MethodPost, "/api/v1/cart/items", seller, csrf, domain.CartAddRequest{
		ProductID: product.ID,
		Quantity:  2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add to cart expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, handler, http.MethodPost, "/api/v1/checkout", seller, csrf, domain.CheckoutRequest{
		CustomerID:    customer.ID,
		PaymentMethod: domain.PaymentCash,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.Sale
	decodeBody(t, rec, &sale)
	if sale.TotalAmount.String() != "19.98" || sale.Status != domain.SaleStatusPaid {
		t.Fatalf("unexpected sale %s %s", sale.TotalAmount, sale.Status)
	}

	rec = call(t, handler, http.MethodGet, "/api/v1/stock?branch_id=1", seller, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list stock expected 200, got %d", rec.Code)
	}
	var stock struct {
		Stock []domain.Stock `json:"stock"`
	}
	decodeBody(t, rec, &stock)
	if len(stock.Stock) != 1 || stock.Stock[0].Quantity != 8 {
		t.Fatalf("expected 8 units left, got %+v", stock.Stock)
	}

	rec = call(t, handler, http.MethodGet, "/api/v1/cart", seller, "", nil)
	var cart domain.Cart
	decodeBody(t, rec, &cart)
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart after checkout, got %+v", cart.Lines)
	}

	rec = call(t, handler, http.MethodGet, "/api/v1/cash-closings/collectible?period_type=weekly", seller, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("collectible expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.CollectibleReport
	decodeBody(t, rec, &report)
	if len(report.Items) != 1 || report.Total.String() != "19.98" {
		t.Fatalf("unexpected collectible report %+v", report)
	}
}

func TestCollectibleExportReturnsWorkbook(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	rec := call(t, api.Handler(), http.MethodGet, "/api/v1/cash-closings/collectible.xlsx?start_date=2024-03-01&end_date=2024-03-31", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "collectible-2024-03-01-2024-03-31.xlsx") {
		t.Fatalf("unexpected content disposition %q", got)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	header, err := f.GetCellValue(collectibleSheet, "A3")
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header != "Paid At" {
		t.Fatalf("expected header row, got %q", header)
	}
	label, err := f.GetCellValue(collectibleSheet, "E4")
	if err != nil {
		t.Fatalf("read total label: %v", err)
	}
	if label != "Total" {
		t.Fatalf("expected total row right after headers, got %q", label)
	}
}

func TestCollectibleRejectsBadDate(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	rec := call(t, api.Handler(), http.MethodGet, "/api/v1/cash-closings/collectible?start_date=13-03-2024", token, "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
