package handlers

import (
	"errors"
	"net/http"

	"rewards-backend/dtos"
	"rewards-backend/redemption"

	"github.com/gin-gonic/gin"
)

type RedemptionHandler struct {
	Redemptions *redemption.Service
}

func (h *RedemptionHandler) Checkout(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var req redemption.CheckoutRequest
	if err := bindOptionalJSON(c, &req); err != nil && !errors.Is(err, errNoBody) {
		respondBindError(c, err)
		return
	}
	res, err := h.Redemptions.Checkout(c.Request.Context(), ac, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *RedemptionHandler) ListRedemptions(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	page, limit := pagination(c)
	res, err := h.Redemptions.ListRedemptions(c.Request.Context(), ac.UserID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *RedemptionHandler) GetRedemption(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	r, err := h.Redemptions.GetRedemption(c.Request.Context(), ac, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *RedemptionHandler) GetHistory(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	entries, err := h.Redemptions.History(c.Request.Context(), ac, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *RedemptionHandler) ConfirmReceipt(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	tr, err := h.Redemptions.ConfirmReceipt(c.Request.Context(), ac, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

// Staff endpoints. The code arrives in the body so that it never lands in
// access logs.

func (h *RedemptionHandler) ScanCode(c *gin.Context) {
	actor, req, ok := h.staffRequest(c)
	if !ok {
		return
	}
	r, err := h.Redemptions.ScanCode(c.Request.Context(), req.Code, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *RedemptionHandler) ConfirmByCode(c *gin.Context) {
	actor, req, ok := h.staffRequest(c)
	if !ok {
		return
	}
	tr, err := h.Redemptions.ConfirmByCode(c.Request.Context(), req.Code, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *RedemptionHandler) MarkDelivered(c *gin.Context) {
	actor, req, ok := h.staffRequest(c)
	if !ok {
		return
	}
	tr, err := h.Redemptions.MarkDeliveredByCode(c.Request.Context(), req.Code, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *RedemptionHandler) staffRequest(c *gin.Context) (redemption.Actor, dtos.CodeActionRequest, bool) {
	ac, ok := currentAuth(c)
	if !ok {
		return redemption.Actor{}, dtos.CodeActionRequest{}, false
	}
	var req dtos.CodeActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return redemption.Actor{}, dtos.CodeActionRequest{}, false
	}
	return redemption.Actor{ID: ac.UserID, Station: req.Station, DeviceID: req.DeviceID}, req, true
}
