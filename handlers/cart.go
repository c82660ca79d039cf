package handlers

import (
	"net/http"

	"rewards-backend/dtos"
	"rewards-backend/redemption"

	"github.com/gin-gonic/gin"
)

type CartHandler struct {
	Redemptions *redemption.Service
}

func (h *CartHandler) GetCart(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	cart, err := h.Redemptions.GetCart(c.Request.Context(), ac)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *CartHandler) AddToCart(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var req redemption.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	item, err := h.Redemptions.AddToCart(c.Request.Context(), ac, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *CartHandler) UpdateCartItem(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dtos.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	item, err := h.Redemptions.UpdateCartItem(c.Request.Context(), ac, id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *CartHandler) RemoveFromCart(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.Redemptions.RemoveFromCart(c.Request.Context(), ac, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	n, err := h.Redemptions.ClearCart(c.Request.Context(), ac)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared", "removed": n})
}
