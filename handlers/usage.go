package handlers

import (
	"net/http"

	"rewards-backend/limits"

	"github.com/gin-gonic/gin"
)

// UsageHandler exposes the daily allowance of premium-gated features.
type UsageHandler struct {
	Limits *limits.Tracker
}

func (h *UsageHandler) Check(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	st, err := h.Limits.Check(c.Request.Context(), ac, c.Param("feature"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *UsageHandler) Consume(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	st, err := h.Limits.Consume(c.Request.Context(), ac, c.Param("feature"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
