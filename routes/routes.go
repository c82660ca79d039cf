package routes

import (
	"net/http"

	"rewards-backend/catalog"
	"rewards-backend/coupon"
	"rewards-backend/handlers"
	"rewards-backend/ledger"
	"rewards-backend/limits"
	"rewards-backend/metrics"
	"rewards-backend/middleware"
	"rewards-backend/redemption"
	"rewards-backend/subscription"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RoleStaff may confirm and deliver redemptions at a pickup point.
const RoleStaff = "staff"

type Deps struct {
	DB            *gorm.DB
	Products      *catalog.Store
	Lookup        catalog.Lookup
	Ledger        *ledger.Ledger
	Limits        *limits.Tracker
	Redemptions   *redemption.Service
	Subscriptions *subscription.Service
	Coupons       *coupon.Tracker
	Sweeper       *coupon.Sweeper
	Metrics       *metrics.Metrics
	RateLimiter   *middleware.RateLimiter
}

func SetupRoutes(r *gin.Engine, d Deps) {
	catalogHandler := &handlers.CatalogHandler{Products: d.Products, Lookup: d.Lookup}
	cartHandler := &handlers.CartHandler{Redemptions: d.Redemptions}
	redemptionHandler := &handlers.RedemptionHandler{Redemptions: d.Redemptions}
	pointsHandler := &handlers.PointsHandler{Ledger: d.Ledger}
	usageHandler := &handlers.UsageHandler{Limits: d.Limits}
	premiumHandler := &handlers.PremiumHandler{Subscriptions: d.Subscriptions}
	couponHandler := &handlers.CouponHandler{Coupons: d.Coupons, Sweeper: d.Sweeper}

	limit := func(c *gin.Context) { c.Next() }
	if d.RateLimiter != nil {
		limit = d.RateLimiter.Middleware()
	}

	// Public routes
	api := r.Group("/api")
	api.Use(limit)
	{
		api.GET("/products", catalogHandler.ListProducts)
		api.GET("/products/:id", catalogHandler.GetProduct)
	}

	var premium middleware.PremiumSource
	if d.Subscriptions != nil {
		premium = d.Subscriptions
	}

	// Protected routes (require authentication). The limiter runs after auth
	// so that buckets are per user.
	protected := r.Group("/api")
	protected.Use(middleware.AuthMiddleware(premium), limit)
	{
		protected.GET("/points", pointsHandler.GetStats)
		protected.GET("/points/history", pointsHandler.GetHistory)
		protected.POST("/points/earn", pointsHandler.Earn)

		protected.GET("/usage/:feature", usageHandler.Check)
		protected.POST("/usage/:feature", usageHandler.Consume)

		protected.GET("/cart", cartHandler.GetCart)
		protected.POST("/cart", cartHandler.AddToCart)
		protected.PUT("/cart/:id", cartHandler.UpdateCartItem)
		protected.DELETE("/cart/:id", cartHandler.RemoveFromCart)
		protected.DELETE("/cart", cartHandler.ClearCart)

		protected.POST("/checkout", redemptionHandler.Checkout)
		protected.GET("/redemptions", redemptionHandler.ListRedemptions)
		protected.GET("/redemptions/:id", redemptionHandler.GetRedemption)
		protected.GET("/redemptions/:id/history", redemptionHandler.GetHistory)
		protected.POST("/redemptions/:id/receive", redemptionHandler.ConfirmReceipt)

		protected.GET("/premium", premiumHandler.Status)
		protected.GET("/premium/history", premiumHandler.History)
		protected.POST("/premium/subscribe", premiumHandler.Subscribe)
		protected.POST("/premium/cancel", premiumHandler.Cancel)

		protected.GET("/coupons", couponHandler.GetAvailable)
		protected.GET("/coupons/usages", couponHandler.ListUsages)
		protected.POST("/coupons/:id/use", couponHandler.Use)
	}

	// Staff routes (pickup desks and scanners)
	staff := r.Group("/api/staff")
	staff.Use(middleware.AuthMiddleware(nil), middleware.StaffMiddleware(RoleStaff))
	{
		staff.POST("/redemptions/scan", redemptionHandler.ScanCode)
		staff.POST("/redemptions/confirm", redemptionHandler.ConfirmByCode)
		staff.POST("/redemptions/deliver", redemptionHandler.MarkDelivered)
	}

	// Admin routes (require admin role)
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(nil), middleware.AdminMiddleware())
	{
		admin.POST("/products", catalogHandler.CreateProduct)
		admin.POST("/points/award", pointsHandler.AdminAward)

		admin.GET("/coupons", couponHandler.ListCoupons)
		admin.POST("/coupons", couponHandler.CreateCoupon)
		admin.POST("/sweeps", couponHandler.RunSweep)
		admin.GET("/sweeps/:id", couponHandler.GetSweepRun)

		admin.POST("/subscriptions/:id/confirm", premiumHandler.ConfirmPayment)
		admin.POST("/subscriptions/:id/renew", premiumHandler.Renew)
	}

	r.GET("/health", func(c *gin.Context) {
		if d.DB != nil {
			if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
}
