// Package catalog reads redeemable products and reserves their stock.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"rewards-backend/apperr"
	"rewards-backend/database"
	"rewards-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lookup resolves a product for display or cart validation. Implementations
// may serve stale data; checkout always re-reads under lock through Store.
type Lookup interface {
	GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error)
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (models.Product, error) {
	var p models.Product
	err := database.Conn(ctx, s.db).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Product{}, apperr.ErrProductUnavailable.Withf("product %s not found", id)
	}
	if err != nil {
		return models.Product{}, apperr.Internal(fmt.Errorf("read product: %w", err))
	}
	return p, nil
}

// LockProducts loads ids FOR UPDATE in ascending id order so that two
// checkouts over overlapping products always lock in the same sequence.
// Missing products are absent from the result.
func (s *Store) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	var rows []models.Product
	err := database.Conn(ctx, s.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	out := make(map[uuid.UUID]models.Product, len(rows))
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// DecrementStock removes qty units, failing with apperr.ErrOutOfStock when
// fewer remain.
func (s *Store) DecrementStock(ctx context.Context, id uuid.UUID, qty int) error {
	res := database.Conn(ctx, s.db).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return fmt.Errorf("decrement stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrOutOfStock.Withf("product %s has fewer than %d left", id, qty)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, p *models.Product) error {
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.PointsCost <= 0 {
		return apperr.Validation("points_cost must be positive")
	}
	if p.Stock < 0 {
		return apperr.Validation("stock must not be negative")
	}
	if err := database.Conn(ctx, s.db).Create(p).Error; err != nil {
		return apperr.Internal(fmt.Errorf("create product: %w", err))
	}
	return nil
}

type ListFilter struct {
	Category    models.ProductCategory
	ProductType models.ProductType
	// IncludeInactive returns retired products too; admin listings only.
	IncludeInactive bool
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]models.Product, error) {
	q := database.Conn(ctx, s.db).Model(&models.Product{})
	if !f.IncludeInactive {
		q = q.Where("active = ?", true)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ProductType != "" {
		q = q.Where("product_type = ?", f.ProductType)
	}
	products := []models.Product{}
	if err := q.Order("points_cost ASC, name ASC").Find(&products).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("list products: %w", err))
	}
	return products, nil
}
