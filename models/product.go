package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProductCategory string

const (
	ProductPhysical ProductCategory = "physical"
	ProductDigital  ProductCategory = "digital"
)

type ProductType string

const (
	ProductTypeMarketplace    ProductType = "marketplace"
	ProductTypeMicroinsurance ProductType = "microinsurance"
)

// Product is a catalog item redeemable for points. The catalog service owns
// these rows; the rewards core reads them and decrements Stock on checkout.
type Product struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string          `gorm:"not null" json:"name"`
	PointsCost        int64           `gorm:"not null" json:"points_cost"`
	Stock             int             `gorm:"not null" json:"stock"`
	Category          ProductCategory `gorm:"type:varchar(20);not null" json:"category"`
	ProductType       ProductType     `gorm:"type:varchar(20);not null" json:"product_type"`
	Active            bool            `gorm:"not null" json:"active"`
	PremiumOnly       bool            `gorm:"not null" json:"premium_only"`
	OneTimeRedeemable bool            `gorm:"not null" json:"one_time_redeemable"`
	ValidityDays      int             `json:"validity_days,omitempty"` // digital redemptions expire after this many days
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Category == "" {
		p.Category = ProductPhysical
	}
	if p.ProductType == "" {
		p.ProductType = ProductTypeMarketplace
	}
	return nil
}

// TracksStock reports whether checkout must reserve stock for this product.
func (p Product) TracksStock() bool {
	return p.Category == ProductPhysical
}
