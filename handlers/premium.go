package handlers

import (
	"net/http"

	"rewards-backend/dtos"
	"rewards-backend/subscription"

	"github.com/gin-gonic/gin"
)

type PremiumHandler struct {
	Subscriptions *subscription.Service
}

func (h *PremiumHandler) Subscribe(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var req dtos.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	sub, err := h.Subscriptions.Subscribe(c.Request.Context(), ac, subscription.SubscribeRequest{
		Plan:          req.Plan,
		PaymentMethod: req.PaymentMethod,
		Price:         req.Price,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *PremiumHandler) Status(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	active, expiry, err := h.Subscriptions.Premium(c.Request.Context(), ac.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"is_premium": active, "premium_expiry": expiry}
	if sub, err := h.Subscriptions.Current(c.Request.Context(), ac.UserID); err == nil {
		body["subscription"] = sub
	}
	c.JSON(http.StatusOK, body)
}

func (h *PremiumHandler) History(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	subs, err := h.Subscriptions.History(c.Request.Context(), ac.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *PremiumHandler) Cancel(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	sub, err := h.Subscriptions.Cancel(c.Request.Context(), ac)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// ConfirmPayment and Renew are called by the payment adapter, not by users.

func (h *PremiumHandler) ConfirmPayment(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dtos.PaymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	sub, err := h.Subscriptions.ConfirmPayment(c.Request.Context(), id, req.PaymentRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *PremiumHandler) Renew(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dtos.PaymentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	sub, err := h.Subscriptions.Renew(c.Request.Context(), id, req.PaymentRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
