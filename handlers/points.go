package handlers

import (
	"net/http"

	"rewards-backend/apperr"
	"rewards-backend/dtos"
	"rewards-backend/ledger"

	"github.com/gin-gonic/gin"
)

type PointsHandler struct {
	Ledger *ledger.Ledger
}

func (h *PointsHandler) GetStats(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	stats, err := h.Ledger.GetStats(c.Request.Context(), ac.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *PointsHandler) GetHistory(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	page, limit := pagination(c)
	history, err := h.Ledger.GetHistory(c.Request.Context(), ac.UserID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// Earn credits an action the client may report itself, such as a daily login.
// The amount always comes from the rule, never from the request.
func (h *PointsHandler) Earn(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var req dtos.EarnPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	rule, ok := h.Ledger.Rule(req.ActionType)
	if !ok || !rule.UserTriggered {
		respondError(c, apperr.ErrForbidden.Withf("%s cannot be claimed directly", req.ActionType))
		return
	}
	res, err := h.Ledger.Award(c.Request.Context(), ledger.AwardRequest{
		UserID:         ac.UserID,
		ActionType:     req.ActionType,
		Amount:         rule.DefaultAmount,
		Reason:         req.ActionType,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PointsHandler) AdminAward(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var req dtos.AdminAwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	meta := map[string]any{"granted_by": ac.UserID.String()}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	res, err := h.Ledger.Award(c.Request.Context(), ledger.AwardRequest{
		UserID:         req.UserID,
		ActionType:     req.ActionType,
		Amount:         req.Amount,
		Reason:         req.Reason,
		Metadata:       meta,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
