// Package limits counts per-user, per-feature usage within a UTC day.
package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/database"
	"rewards-backend/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Unlimited is reported as the limit for callers that bypass caps.
const Unlimited = -1

const dateLayout = "2006-01-02"

type Status struct {
	CanUse       bool `json:"can_use"`
	CurrentUsage int  `json:"current_usage"`
	Limit        int  `json:"limit"`
}

type Options struct {
	// Features maps a premium-gated feature to its free daily allowance.
	Features map[string]int
	Tx       database.TxOptions
	Now      func() time.Time
}

type Tracker struct {
	db       *gorm.DB
	features map[string]int
	txOpts   database.TxOptions
	now      func() time.Time
	inTx     bool
}

func New(db *gorm.DB, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Features == nil {
		opts.Features = map[string]int{}
	}
	return &Tracker{db: db, features: opts.Features, txOpts: opts.Tx, now: opts.Now}
}

// WithTx returns a tracker whose reads and writes join tx.
func (t *Tracker) WithTx(tx *gorm.DB) *Tracker {
	cp := *t
	cp.db = tx
	cp.inTx = true
	return &cp
}

// Day returns the counter key for at.
func Day(at time.Time) string {
	return at.UTC().Format(dateLayout)
}

// CheckLimit compares today's counter for feature against limit. Premium
// callers are never capped and see Limit == Unlimited.
func (t *Tracker) CheckLimit(ctx context.Context, userID uuid.UUID, feature string, limit int, isPremiumOverride bool) (Status, error) {
	used, err := t.Usage(ctx, userID, feature, t.now())
	if err != nil {
		return Status{}, err
	}
	if isPremiumOverride {
		return Status{CanUse: true, CurrentUsage: used, Limit: Unlimited}, nil
	}
	return Status{CanUse: used < limit, CurrentUsage: used, Limit: limit}, nil
}

// Usage returns the counter for feature on the UTC day containing day.
func (t *Tracker) Usage(ctx context.Context, userID uuid.UUID, feature string, day time.Time) (int, error) {
	var row models.DailyUsage
	err := database.Conn(ctx, t.db).
		Where("user_id = ? AND feature = ? AND usage_date = ?", userID, feature, Day(day)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily usage: %w", err)
	}
	return row.UsageCount, nil
}

// Increment bumps today's counter for feature with a single upsert and
// returns the new count.
func (t *Tracker) Increment(ctx context.Context, userID uuid.UUID, feature string, metadata map[string]any) (int, error) {
	now := t.now().UTC()
	row := models.DailyUsage{
		UserID:     userID,
		Feature:    feature,
		UsageDate:  Day(now),
		UsageCount: 1,
		LastUsedAt: now,
		Metadata:   datatypes.JSONMap(metadata),
	}
	db := database.Conn(ctx, t.db)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "feature"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"usage_count":  gorm.Expr("daily_usages.usage_count + 1"),
			"last_used_at": now,
			"metadata":     gorm.Expr("excluded.metadata"),
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("increment daily usage: %w", err)
	}
	return t.Usage(ctx, userID, feature, now)
}

// Consume spends one use of a premium-gated feature from the configured
// allowance. The counter is incremented first and rolled back when it
// overshoots, so concurrent requests cannot both take the last use.
func (t *Tracker) Consume(ctx context.Context, ac auth.Context, feature string) (Status, error) {
	limit, ok := t.features[feature]
	if !ok {
		return Status{}, apperr.Validation("unknown feature %q", feature)
	}
	premium := ac.HasPremium(t.now())

	var st Status
	err := t.run(ctx, func(tx *gorm.DB) error {
		tt := t.WithTx(tx)
		used, err := tt.Increment(ctx, ac.UserID, feature, map[string]any{"role": ac.Role})
		if err != nil {
			return err
		}
		if premium {
			st = Status{CanUse: true, CurrentUsage: used, Limit: Unlimited}
			return nil
		}
		if used > limit {
			return apperr.ErrLimitExceeded.Withf("%s: daily limit of %d reached", feature, limit)
		}
		st = Status{CanUse: used < limit, CurrentUsage: used, Limit: limit}
		return nil
	})
	return st, err
}

// Check reports the caller's standing for a configured feature.
func (t *Tracker) Check(ctx context.Context, ac auth.Context, feature string) (Status, error) {
	limit, ok := t.features[feature]
	if !ok {
		return Status{}, apperr.Validation("unknown feature %q", feature)
	}
	return t.CheckLimit(ctx, ac.UserID, feature, limit, ac.HasPremium(t.now()))
}

// Prune deletes counters for days before before. Counters are historical
// once their day ends, so this only reclaims space.
func (t *Tracker) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := database.Conn(ctx, t.db).Where("usage_date < ?", Day(before)).Delete(&models.DailyUsage{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune daily usage: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (t *Tracker) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if t.inTx {
		return fn(database.Conn(ctx, t.db))
	}
	return database.Transact(ctx, t.db, t.txOpts, fn)
}
