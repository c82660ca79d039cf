package handlers

import (
	"net/http"

	"rewards-backend/catalog"
	"rewards-backend/dtos"
	"rewards-backend/models"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	Products *catalog.Store
	// Lookup serves single-product reads; usually a catalog.CachedLookup.
	Lookup catalog.Lookup
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	products, err := h.Products.List(c.Request.Context(), catalog.ListFilter{
		Category:    models.ProductCategory(c.Query("category")),
		ProductType: models.ProductType(c.Query("product_type")),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	lookup := h.Lookup
	if lookup == nil {
		lookup = h.Products
	}
	p, err := lookup.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req dtos.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	p := models.Product{
		Name:              req.Name,
		PointsCost:        req.PointsCost,
		Stock:             req.Stock,
		Category:          models.ProductCategory(req.Category),
		ProductType:       models.ProductType(req.ProductType),
		Active:            true,
		PremiumOnly:       req.PremiumOnly,
		OneTimeRedeemable: req.OneTimeRedeemable,
		ValidityDays:      req.ValidityDays,
	}
	if err := h.Products.Create(c.Request.Context(), &p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}
