package redemption

import (
	"context"
	"fmt"

	"rewards-backend/database"
	"rewards-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditAppender records lifecycle events for a redemption. Append runs in the
// caller's transaction, which must hold the redemption's row lock.
type AuditAppender interface {
	Append(ctx context.Context, tx *gorm.DB, entry *models.RedemptionAudit) error
	History(ctx context.Context, redemptionID uuid.UUID) ([]models.RedemptionAudit, error)
}

// GormAuditLog stores audit entries in redemption_audits with a per
// redemption sequence number.
type GormAuditLog struct {
	db *gorm.DB
}

func NewGormAuditLog(db *gorm.DB) *GormAuditLog {
	return &GormAuditLog{db: db}
}

func (l *GormAuditLog) Append(ctx context.Context, tx *gorm.DB, entry *models.RedemptionAudit) error {
	if tx == nil {
		tx = l.db
	}
	tx = database.Conn(ctx, tx)

	var last struct{ Seq int }
	if err := tx.Model(&models.RedemptionAudit{}).
		Select("COALESCE(MAX(seq), 0) AS seq").
		Where("redemption_id = ?", entry.RedemptionID).
		Scan(&last).Error; err != nil {
		return fmt.Errorf("read audit sequence: %w", err)
	}
	entry.Seq = last.Seq + 1
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (l *GormAuditLog) History(ctx context.Context, redemptionID uuid.UUID) ([]models.RedemptionAudit, error) {
	entries := []models.RedemptionAudit{}
	err := database.Conn(ctx, l.db).
		Where("redemption_id = ?", redemptionID).
		Order("seq ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("read audit history: %w", err)
	}
	return entries, nil
}
