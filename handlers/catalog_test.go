package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"rewards-backend/auth"
	"rewards-backend/catalog"
	"rewards-backend/models"
	"rewards-backend/testutil"

	"github.com/google/uuid"
)

func setupCatalogRoutes(e *testEnv) *catalog.CachedLookup {
	store := catalog.NewStore(e.db)
	lookup := catalog.NewCachedLookup(store, 16, time.Minute)
	h := &CatalogHandler{Products: store, Lookup: lookup}
	e.router.GET("/api/products", h.ListProducts)
	e.router.GET("/api/products/:id", h.GetProduct)
	e.admin().POST("/products", h.CreateProduct)
	return lookup
}

func TestListProductsFilters(t *testing.T) {
	e := newTestEnv(t)
	setupCatalogRoutes(e)
	testutil.SeedProduct(t, e.db, "Mug", 40, 10)
	testutil.SeedProduct(t, e.db, "Voucher", 20, 0, testutil.Digital(30))

	w := authRequest(e, http.MethodGet, "/api/products", "", nil)
	expectStatus(t, w, http.StatusOK)
	var all struct {
		Products []models.Product `json:"products"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(all.Products) != 2 {
		t.Errorf("expected 2 products, got %d", len(all.Products))
	}

	w = authRequest(e, http.MethodGet, "/api/products?category=digital", "", nil)
	expectStatus(t, w, http.StatusOK)
	var digital struct {
		Products []models.Product `json:"products"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &digital); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(digital.Products) != 1 || digital.Products[0].Name != "Voucher" {
		t.Errorf("expected only the voucher, got %+v", digital.Products)
	}
}

func TestGetProductUsesCache(t *testing.T) {
	e := newTestEnv(t)
	lookup := setupCatalogRoutes(e)
	mug := testutil.SeedProduct(t, e.db, "Mug", 40, 10)

	expectStatus(t, authRequest(e, http.MethodGet, "/api/products/"+mug.ID.String(), "", nil), http.StatusOK)
	if lookup.Len() != 1 {
		t.Errorf("expected the product to be cached, cache holds %d", lookup.Len())
	}

	w := authRequest(e, http.MethodGet, "/api/products/"+uuid.NewString(), "", nil)
	expectStatus(t, w, http.StatusNotFound)
	expectErrorCode(t, w, "product_unavailable")

	w = authRequest(e, http.MethodGet, "/api/products/abc", "", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestCreateProduct(t *testing.T) {
	e := newTestEnv(t)
	setupCatalogRoutes(e)
	adminToken := tokenFor(t, uuid.New(), auth.RoleAdmin)

	w := authRequest(e, http.MethodPost, "/api/admin/products", adminToken, map[string]any{
		"name": "Hoodie", "points_cost": 300, "stock": 5, "category": "physical", "product_type": "marketplace",
	})
	expectStatus(t, w, http.StatusCreated)
	if parseResponse(t, w)["name"] != "Hoodie" {
		t.Errorf("unexpected body: %s", w.Body.String())
	}

	w = authRequest(e, http.MethodPost, "/api/admin/products", adminToken, map[string]any{
		"name": "Freebie", "points_cost": 0, "category": "physical",
	})
	expectStatus(t, w, http.StatusBadRequest)

	w = authRequest(e, http.MethodPost, "/api/admin/products", tokenFor(t, uuid.New(), "customer"), map[string]any{
		"name": "Hoodie", "points_cost": 300,
	})
	expectStatus(t, w, http.StatusForbidden)
}
