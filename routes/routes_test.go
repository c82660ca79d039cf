package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"rewards-backend/auth"
	"rewards-backend/catalog"
	"rewards-backend/config"
	"rewards-backend/coupon"
	"rewards-backend/ledger"
	"rewards-backend/limits"
	"rewards-backend/metrics"
	"rewards-backend/middleware"
	"rewards-backend/models"
	"rewards-backend/redemption"
	"rewards-backend/subscription"
	"rewards-backend/testutil"
	"rewards-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", "test-secret-key-for-unit-tests")
}

func setupRouter(t *testing.T, rl *middleware.RateLimiter) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	tx := testutil.TxOptions()
	m := metrics.MustNew(prometheus.NewRegistry())
	l := ledger.New(db, ledger.Options{
		Rules: map[string]config.ActionRule{
			"daily_login": {Category: models.CategoryDaily, DailyLimit: 1, DefaultAmount: 50, UserTriggered: true},
		},
		Tx:      tx,
		Metrics: m,
	})
	store := catalog.NewStore(db)
	lookup := catalog.NewCachedLookup(store, 16, time.Minute)
	coupons := coupon.New(db, coupon.Options{Ledger: l, Metrics: m, Tx: tx})
	r := gin.New()
	SetupRoutes(r, Deps{
		DB:            db,
		Products:      store,
		Lookup:        lookup,
		Ledger:        l,
		Limits:        limits.New(db, limits.Options{Features: map[string]int{"job_search": 3}, Tx: tx}),
		Redemptions:   redemption.NewService(db, l, redemption.Options{Lookup: lookup, Metrics: m, Tx: tx}),
		Subscriptions: subscription.NewService(db, subscription.Options{Coupons: coupons, Tx: tx}),
		Coupons:       coupons,
		Metrics:       m,
		RateLimiter:   rl,
	})
	return r, db
}

func do(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := utils.GenerateToken(userID, "user@test.com", role, nil)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return tok
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupRouter(t, nil)
	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}

func TestHealthReportsClosedDatabase(t *testing.T) {
	r, db := setupRouter(t, nil)
	sqlDB, _ := db.DB()
	sqlDB.Close()
	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after the database closed, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r, _ := setupRouter(t, nil)
	for _, path := range []string{"/api/points", "/api/cart", "/api/redemptions", "/api/premium", "/api/coupons"} {
		if w := do(r, http.MethodGet, path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestPublicCatalog(t *testing.T) {
	r, _ := setupRouter(t, nil)
	if w := do(r, http.MethodGet, "/api/products", "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 for the public catalog, got %d", w.Code)
	}
}

func TestRoleGates(t *testing.T) {
	r, _ := setupRouter(t, nil)
	customer := token(t, uuid.New(), "customer")
	staff := token(t, uuid.New(), RoleStaff)
	admin := token(t, uuid.New(), auth.RoleAdmin)

	if w := do(r, http.MethodGet, "/api/admin/coupons", customer, nil); w.Code != http.StatusForbidden {
		t.Errorf("customer on admin route: expected 403, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/admin/coupons", staff, nil); w.Code != http.StatusForbidden {
		t.Errorf("staff on admin route: expected 403, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/admin/coupons", admin, nil); w.Code != http.StatusOK {
		t.Errorf("admin on admin route: expected 200, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/staff/redemptions/scan", customer, map[string]string{"code": "R-X"}); w.Code != http.StatusForbidden {
		t.Errorf("customer on staff route: expected 403, got %d", w.Code)
	}
	// Admins pass the staff gate; the unknown code is then a 404.
	if w := do(r, http.MethodPost, "/api/staff/redemptions/scan", admin, map[string]string{"code": "R-X"}); w.Code != http.StatusNotFound {
		t.Errorf("admin on staff route: expected 404, got %d", w.Code)
	}
}

func TestEarnCheckoutConfirmFlow(t *testing.T) {
	r, db := setupRouter(t, nil)
	userID := uuid.New()
	user := token(t, userID, "customer")
	staff := token(t, uuid.New(), RoleStaff)
	poster := testutil.SeedProduct(t, db, "Poster", 30, 2)

	if w := do(r, http.MethodPost, "/api/points/earn", user, map[string]string{"action_type": "daily_login"}); w.Code != http.StatusOK {
		t.Fatalf("earn: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/api/cart", user, map[string]any{"product_id": poster.ID}); w.Code != http.StatusOK {
		t.Fatalf("add to cart: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w := do(r, http.MethodPost, "/api/checkout", user, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res redemption.CheckoutResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if res.RemainingBalance != 20 {
		t.Errorf("expected 20 points left, got %d", res.RemainingBalance)
	}

	w = do(r, http.MethodPost, "/api/staff/redemptions/confirm", staff, map[string]string{"code": *res.Redemptions[0].ClaimCode})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/products/"+poster.ID.String(), "", nil)
	var p models.Product
	json.Unmarshal(w.Body.Bytes(), &p)
	if p.Stock != 1 {
		t.Errorf("expected stock 1 after checkout, got %d", p.Stock)
	}

	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rewards_checkouts_total") {
		t.Error("expected checkout counter in metrics output")
	}
}

func TestRateLimiterApplies(t *testing.T) {
	r, _ := setupRouter(t, middleware.NewRateLimiter(60, 2))
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodGet, "/api/products", "", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	if w := do(r, http.MethodGet, "/api/products", "", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %d", w.Code)
	}
}
