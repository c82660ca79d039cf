package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/coupon"
	"rewards-backend/dtos"
	"rewards-backend/models"

	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	Coupons *coupon.Tracker
	Sweeper *coupon.Sweeper
}

// GetAvailable lists the caller's coupons for a cycle. cycle_start is a date
// (YYYY-MM-DD); without it the cycle containing now is used.
func (h *CouponHandler) GetAvailable(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	var start time.Time
	if v := c.Query("cycle_start"); v != "" {
		t, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
		if err != nil {
			respondError(c, apperr.Validation("cycle_start must be YYYY-MM-DD"))
			return
		}
		start = t
	}
	usages, err := h.Coupons.GetAvailable(c.Request.Context(), ac.UserID, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": usages})
}

func (h *CouponHandler) ListUsages(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	usages, err := h.Coupons.ListUsages(c.Request.Context(), ac.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usages": usages})
}

func (h *CouponHandler) Use(c *gin.Context) {
	ac, ok := currentAuth(c)
	if !ok {
		return
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req dtos.UseCouponRequest
	if err := bindOptionalJSON(c, &req); err != nil && !errors.Is(err, errNoBody) {
		respondBindError(c, err)
		return
	}
	res, err := h.Coupons.Use(c.Request.Context(), ac, id, req.Details)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req dtos.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	cp := models.Coupon{
		Code:            strings.TrimSpace(req.Code),
		Title:           req.Title,
		Description:     req.Description,
		BenefitType:     models.BenefitType(req.BenefitType),
		BenefitValue:    req.BenefitValue,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		MaxUsesPerCycle: req.MaxUsesPerCycle,
		Active:          true,
	}
	if err := h.Coupons.CreateCoupon(c.Request.Context(), &cp); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h *CouponHandler) ListCoupons(c *gin.Context) {
	coupons, err := h.Coupons.ListCoupons(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

// RunSweep runs subscription expiry and the coupon sweep immediately.
func (h *CouponHandler) RunSweep(c *gin.Context) {
	if h.Sweeper == nil {
		respondError(c, apperr.ErrForbidden.Withf("sweeper is not configured"))
		return
	}
	res, err := h.Sweeper.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *CouponHandler) GetSweepRun(c *gin.Context) {
	runs := h.Coupons.Runs()
	var (
		run dtos.SweepRun
		ok  bool
	)
	if id := c.Param("id"); id == "latest" {
		job := c.DefaultQuery("job", dtos.JobCouponReset)
		run, ok = runs.Latest(job)
	} else {
		runID, valid := paramUUID(c, "id")
		if !valid {
			return
		}
		run, ok = runs.Get(runID)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Sweep run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}
