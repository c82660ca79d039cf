package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"rewards-backend/middleware"
	"rewards-backend/models"
	"rewards-backend/redemption"
	"rewards-backend/testutil"

	"github.com/google/uuid"
)

func setupRedemptionRoutes(e *testEnv) {
	cart := &CartHandler{Redemptions: e.redemptions}
	red := &RedemptionHandler{Redemptions: e.redemptions}
	api := e.protected()
	api.GET("/cart", cart.GetCart)
	api.POST("/cart", cart.AddToCart)
	api.PUT("/cart/:id", cart.UpdateCartItem)
	api.DELETE("/cart/:id", cart.RemoveFromCart)
	api.DELETE("/cart", cart.ClearCart)
	api.POST("/checkout", red.Checkout)
	api.GET("/redemptions", red.ListRedemptions)
	api.GET("/redemptions/:id", red.GetRedemption)
	api.GET("/redemptions/:id/history", red.GetHistory)
	api.POST("/redemptions/:id/receive", red.ConfirmReceipt)

	staff := e.router.Group("/api/staff", middleware.AuthMiddleware(nil), middleware.StaffMiddleware("staff"))
	staff.POST("/redemptions/scan", red.ScanCode)
	staff.POST("/redemptions/confirm", red.ConfirmByCode)
	staff.POST("/redemptions/deliver", red.MarkDelivered)
}

func checkout(t *testing.T, e *testEnv, token string) redemption.CheckoutResult {
	t.Helper()
	w := authRequest(e, http.MethodPost, "/api/checkout", token, nil)
	expectStatus(t, w, http.StatusCreated)
	var res redemption.CheckoutResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	return res
}

func TestCartLifecycle(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	token := tokenFor(t, uuid.New(), "customer")
	mug := testutil.SeedProduct(t, e.db, "Mug", 40, 10)

	w := authRequest(e, http.MethodPost, "/api/cart", token, map[string]any{"product_id": mug.ID, "quantity": 2})
	expectStatus(t, w, http.StatusOK)
	itemID := parseResponse(t, w)["id"].(string)

	w = authRequest(e, http.MethodPut, "/api/cart/"+itemID, token, map[string]any{"quantity": 3})
	expectStatus(t, w, http.StatusOK)
	if got := parseResponse(t, w)["quantity"]; got != float64(3) {
		t.Errorf("expected quantity 3, got %v", got)
	}

	w = authRequest(e, http.MethodGet, "/api/cart", token, nil)
	expectStatus(t, w, http.StatusOK)
	cart := parseResponse(t, w)
	if cart["total_points"] != float64(120) {
		t.Errorf("expected total 120, got %v", cart["total_points"])
	}
	if cart["item_count"] != float64(3) {
		t.Errorf("expected item count 3, got %v", cart["item_count"])
	}

	expectStatus(t, authRequest(e, http.MethodDelete, "/api/cart/"+itemID, token, nil), http.StatusOK)
	w = authRequest(e, http.MethodDelete, "/api/cart/"+itemID, token, nil)
	expectStatus(t, w, http.StatusNotFound)
	expectErrorCode(t, w, "cart_item_not_found")
}

func TestCartRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	token := tokenFor(t, uuid.New(), "customer")

	w := authRequest(e, http.MethodPost, "/api/cart", token, map[string]any{"quantity": 1})
	expectStatus(t, w, http.StatusBadRequest)
	expectErrorCode(t, w, "validation_error")

	w = authRequest(e, http.MethodPut, "/api/cart/not-a-uuid", token, map[string]any{"quantity": 1})
	expectStatus(t, w, http.StatusBadRequest)

	w = authRequest(e, http.MethodPost, "/api/cart", token, map[string]any{"product_id": uuid.New()})
	expectStatus(t, w, http.StatusNotFound)
	expectErrorCode(t, w, "product_unavailable")
}

func TestCheckoutAndStaffFlow(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	userID := uuid.New()
	token := tokenFor(t, userID, "customer")
	staffToken := tokenFor(t, uuid.New(), "staff")
	testutil.SeedBalance(t, e.db, userID, 100)
	mug := testutil.SeedProduct(t, e.db, "Mug", 40, 10)

	expectStatus(t, authRequest(e, http.MethodPost, "/api/cart", token, map[string]any{"product_id": mug.ID}), http.StatusOK)
	res := checkout(t, e, token)
	if res.PointsSpent != 40 || res.RemainingBalance != 60 {
		t.Fatalf("expected 40 spent and 60 left, got %d and %d", res.PointsSpent, res.RemainingBalance)
	}
	if len(res.Redemptions) != 1 || res.Redemptions[0].ClaimCode == nil {
		t.Fatalf("expected one redemption with a claim code, got %+v", res.Redemptions)
	}
	code := *res.Redemptions[0].ClaimCode

	// Customers cannot reach staff routes.
	w := authRequest(e, http.MethodPost, "/api/staff/redemptions/confirm", token, map[string]any{"code": code})
	expectStatus(t, w, http.StatusForbidden)

	w = authRequest(e, http.MethodPost, "/api/staff/redemptions/confirm", staffToken, map[string]any{"code": code, "station": "desk-1"})
	expectStatus(t, w, http.StatusOK)
	if parseResponse(t, w)["already_processed"] != false {
		t.Errorf("first confirm should not be a duplicate: %s", w.Body.String())
	}

	w = authRequest(e, http.MethodPost, "/api/staff/redemptions/confirm", staffToken, map[string]any{"code": code})
	expectStatus(t, w, http.StatusOK)
	if parseResponse(t, w)["already_processed"] != true {
		t.Errorf("second confirm should be a duplicate: %s", w.Body.String())
	}

	w = authRequest(e, http.MethodPost, "/api/staff/redemptions/deliver", staffToken, map[string]any{"code": code})
	expectStatus(t, w, http.StatusOK)
	var tr redemption.Transition
	if err := json.Unmarshal(w.Body.Bytes(), &tr); err != nil {
		t.Fatalf("decode transition: %v", err)
	}
	if tr.Redemption.Status != models.RedemptionDelivered {
		t.Errorf("expected delivered, got %s", tr.Redemption.Status)
	}

	id := res.Redemptions[0].ID.String()
	w = authRequest(e, http.MethodGet, "/api/redemptions/"+id+"/history", token, nil)
	expectStatus(t, w, http.StatusOK)
	var hist struct {
		Entries []models.RedemptionAudit `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Entries) != 3 {
		t.Errorf("expected 3 audit entries, got %d", len(hist.Entries))
	}

	w = authRequest(e, http.MethodGet, "/api/redemptions", token, nil)
	expectStatus(t, w, http.StatusOK)
	if parseResponse(t, w)["total"] != float64(1) {
		t.Errorf("expected one redemption listed: %s", w.Body.String())
	}
}

func TestCheckoutInsufficientPoints(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	userID := uuid.New()
	token := tokenFor(t, userID, "customer")
	testutil.SeedBalance(t, e.db, userID, 10)
	mug := testutil.SeedProduct(t, e.db, "Mug", 40, 10)
	testutil.SeedCartItem(t, e.db, userID, mug, 1)

	w := authRequest(e, http.MethodPost, "/api/checkout", token, nil)
	expectStatus(t, w, http.StatusUnprocessableEntity)
	body := parseResponse(t, w)
	if body["error"] != "insufficient_points" {
		t.Errorf("expected insufficient_points, got %v", body["error"])
	}
	if _, ok := body["message"].(string); !ok {
		t.Errorf("expected a message in the error body: %v", body)
	}

	w = authRequest(e, http.MethodGet, "/api/cart", token, nil)
	if parseResponse(t, w)["item_count"] != float64(1) {
		t.Errorf("failed checkout must leave the cart intact: %s", w.Body.String())
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	w := authRequest(e, http.MethodPost, "/api/checkout", tokenFor(t, uuid.New(), "customer"), nil)
	expectStatus(t, w, http.StatusBadRequest)
	expectErrorCode(t, w, "validation_error")
}

func TestStaffUnknownCode(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	w := authRequest(e, http.MethodPost, "/api/staff/redemptions/scan", tokenFor(t, uuid.New(), "staff"), map[string]any{"code": "R-000000-ZZZZ"})
	expectStatus(t, w, http.StatusNotFound)
	expectErrorCode(t, w, "redemption_not_found")

	w = authRequest(e, http.MethodPost, "/api/staff/redemptions/scan", tokenFor(t, uuid.New(), "staff"), map[string]any{})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestConfirmReceiptEndpoint(t *testing.T) {
	e := newTestEnv(t)
	setupRedemptionRoutes(e)
	userID := uuid.New()
	token := tokenFor(t, userID, "customer")
	testutil.SeedBalance(t, e.db, userID, 100)
	voucher := testutil.SeedProduct(t, e.db, "Voucher", 20, 0, testutil.Digital(30))
	testutil.SeedCartItem(t, e.db, userID, voucher, 1)
	res := checkout(t, e, token)
	id := res.Redemptions[0].ID.String()

	w := authRequest(e, http.MethodPost, "/api/redemptions/"+id+"/receive", tokenFor(t, uuid.New(), "customer"), nil)
	expectStatus(t, w, http.StatusNotFound)

	w = authRequest(e, http.MethodPost, "/api/redemptions/"+id+"/receive", token, nil)
	expectStatus(t, w, http.StatusOK)

	w = authRequest(e, http.MethodGet, "/api/redemptions/"+id, token, nil)
	expectStatus(t, w, http.StatusOK)
	if got := parseResponse(t, w)["status"]; got != string(models.RedemptionDelivered) {
		t.Errorf("expected delivered, got %v", got)
	}
}
