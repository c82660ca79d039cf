// Package redemption turns a user's cart into redemptions in one atomic
// checkout and moves each redemption through confirmation and delivery.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/catalog"
	"rewards-backend/database"
	"rewards-backend/ledger"
	"rewards-backend/logging"
	"rewards-backend/metrics"
	"rewards-backend/models"
	"rewards-backend/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Options struct {
	// Lookup serves cart validation; checkout always reads through the store.
	Lookup   catalog.Lookup
	Audit    AuditAppender
	Notifier notify.Sender
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Tx       database.TxOptions
	Now      func() time.Time
	NewCode  CodeGenerator
}

type Service struct {
	db       *gorm.DB
	products *catalog.Store
	lookup   catalog.Lookup
	ledger   *ledger.Ledger
	audit    AuditAppender
	notifier notify.Sender
	metrics  *metrics.Metrics
	logger   *slog.Logger
	txOpts   database.TxOptions
	now      func() time.Time
	newCode  CodeGenerator
}

func NewService(db *gorm.DB, l *ledger.Ledger, opts Options) *Service {
	s := &Service{
		db:       db,
		products: catalog.NewStore(db),
		lookup:   opts.Lookup,
		ledger:   l,
		audit:    opts.Audit,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logging.OrDefault(opts.Logger),
		txOpts:   opts.Tx,
		now:      opts.Now,
		newCode:  opts.NewCode,
	}
	if s.lookup == nil {
		s.lookup = s.products
	}
	if s.audit == nil {
		s.audit = NewGormAuditLog(db)
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newCode == nil {
		s.newCode = NewClaimCode
	}
	return s
}

type AddToCartRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity"`
}

type Cart struct {
	Items       []models.CartItem `json:"items"`
	TotalPoints int64             `json:"total_points"`
	ItemCount   int               `json:"item_count"`
}

// AddToCart puts a product in the caller's cart, adding to the quantity when
// the product is already there. Stock is checked but not reserved.
func (s *Service) AddToCart(ctx context.Context, ac auth.Context, req AddToCartRequest) (models.CartItem, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 {
		return models.CartItem{}, apperr.Validation("quantity must be positive")
	}
	p, err := s.lookup.GetProduct(ctx, req.ProductID)
	if err != nil {
		return models.CartItem{}, err
	}
	if err := s.checkOrderable(ac, p, req.Quantity); err != nil {
		return models.CartItem{}, err
	}

	item := models.CartItem{
		UserID:      ac.UserID,
		ProductID:   p.ID,
		ProductType: p.ProductType,
		Quantity:    req.Quantity,
		UnitPrice:   decimal.NewFromInt(p.PointsCost),
		Currency:    models.CurrencyPoints,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "product_type"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"unit_price": gorm.Expr("excluded.unit_price"),
			"updated_at": s.now().UTC(),
		}),
	}).Create(&item).Error
	if err != nil {
		return models.CartItem{}, apperr.Internal(fmt.Errorf("add cart item: %w", err))
	}

	var stored models.CartItem
	if err := s.db.WithContext(ctx).Preload("Product").
		Where("user_id = ? AND product_id = ? AND product_type = ?", ac.UserID, p.ID, p.ProductType).
		First(&stored).Error; err != nil {
		return models.CartItem{}, apperr.Internal(fmt.Errorf("read cart item: %w", err))
	}
	if p.OneTimeRedeemable && stored.Quantity > 1 {
		if err := s.db.WithContext(ctx).Model(&stored).Update("quantity", 1).Error; err != nil {
			return models.CartItem{}, apperr.Internal(fmt.Errorf("cap cart item: %w", err))
		}
		stored.Quantity = 1
	}
	return stored, nil
}

func (s *Service) UpdateCartItem(ctx context.Context, ac auth.Context, itemID uuid.UUID, quantity int) (models.CartItem, error) {
	if quantity < 1 {
		return models.CartItem{}, apperr.Validation("quantity must be at least 1")
	}
	var item models.CartItem
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", itemID, ac.UserID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CartItem{}, apperr.ErrCartItemNotFound
	}
	if err != nil {
		return models.CartItem{}, apperr.Internal(fmt.Errorf("read cart item: %w", err))
	}
	p, err := s.lookup.GetProduct(ctx, item.ProductID)
	if err != nil {
		return models.CartItem{}, err
	}
	if err := s.checkOrderable(ac, p, quantity); err != nil {
		return models.CartItem{}, err
	}

	if err := s.db.WithContext(ctx).Model(&item).Update("quantity", quantity).Error; err != nil {
		return models.CartItem{}, apperr.Internal(fmt.Errorf("update cart item: %w", err))
	}
	item.Quantity = quantity
	item.Product = &p
	return item, nil
}

func (s *Service) RemoveFromCart(ctx context.Context, ac auth.Context, itemID uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", itemID, ac.UserID).Delete(&models.CartItem{})
	if res.Error != nil {
		return apperr.Internal(fmt.Errorf("remove cart item: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		return apperr.ErrCartItemNotFound
	}
	return nil
}

// ClearCart empties the caller's cart and returns how many lines it held.
func (s *Service) ClearCart(ctx context.Context, ac auth.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", ac.UserID).Delete(&models.CartItem{})
	if res.Error != nil {
		return 0, apperr.Internal(fmt.Errorf("clear cart: %w", res.Error))
	}
	return res.RowsAffected, nil
}

func (s *Service) GetCart(ctx context.Context, ac auth.Context) (Cart, error) {
	cart := Cart{Items: []models.CartItem{}}
	if err := s.db.WithContext(ctx).Preload("Product").
		Where("user_id = ?", ac.UserID).
		Order("created_at ASC").
		Find(&cart.Items).Error; err != nil {
		return Cart{}, apperr.Internal(fmt.Errorf("read cart: %w", err))
	}
	for _, item := range cart.Items {
		cost := item.UnitPrice.IntPart()
		if item.Product != nil {
			cost = item.Product.PointsCost
		}
		cart.TotalPoints += cost * int64(item.Quantity)
		cart.ItemCount += item.Quantity
	}
	return cart, nil
}

type Page struct {
	Redemptions []models.Redemption `json:"redemptions"`
	Page        int                 `json:"page"`
	Limit       int                 `json:"limit"`
	Total       int64               `json:"total"`
}

// ListRedemptions pages through a user's redemptions, newest first.
func (s *Service) ListRedemptions(ctx context.Context, userID uuid.UUID, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	out := Page{Page: page, Limit: limit, Redemptions: []models.Redemption{}}
	q := s.db.WithContext(ctx).Model(&models.Redemption{}).Where("user_id = ?", userID)
	if err := q.Count(&out.Total).Error; err != nil {
		return Page{}, apperr.Internal(fmt.Errorf("count redemptions: %w", err))
	}
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&out.Redemptions).Error; err != nil {
		return Page{}, apperr.Internal(fmt.Errorf("list redemptions: %w", err))
	}
	return out, nil
}

// GetRedemption returns a redemption visible to the caller. Other users'
// redemptions are reported as not found unless the caller is an admin.
func (s *Service) GetRedemption(ctx context.Context, ac auth.Context, id uuid.UUID) (models.Redemption, error) {
	var r models.Redemption
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && r.UserID != ac.UserID && !ac.IsAdmin()) {
		return models.Redemption{}, apperr.ErrRedemptionNotFound
	}
	if err != nil {
		return models.Redemption{}, apperr.Internal(fmt.Errorf("read redemption: %w", err))
	}
	return r, nil
}

// History returns the audit trail of a redemption, oldest entry first.
func (s *Service) History(ctx context.Context, ac auth.Context, id uuid.UUID) ([]models.RedemptionAudit, error) {
	if _, err := s.GetRedemption(ctx, ac, id); err != nil {
		return nil, err
	}
	entries, err := s.audit.History(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

// checkOrderable applies the product rules shared by the cart and checkout.
// Stock is a hint here; checkout re-checks it under lock.
func (s *Service) checkOrderable(ac auth.Context, p models.Product, qty int) error {
	switch {
	case !p.Active:
		return apperr.ErrProductUnavailable.Withf("%s is not available", p.Name)
	case p.PremiumOnly && !ac.HasPremium(s.now()):
		return apperr.ErrPremiumRequired.Withf("%s is reserved for premium members", p.Name)
	case p.OneTimeRedeemable && qty > 1:
		return apperr.Validation("%s can only be redeemed once", p.Name)
	case p.TracksStock() && p.Stock < qty:
		return apperr.ErrOutOfStock.Withf("only %d of %s left", p.Stock, p.Name)
	}
	return nil
}
