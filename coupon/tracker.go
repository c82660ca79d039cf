// Package coupon hands benefit coupons to premium subscribers once per
// billing cycle and tracks their use within that cycle.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/database"
	"rewards-backend/ledger"
	"rewards-backend/logging"
	"rewards-backend/metrics"
	"rewards-backend/models"
	"rewards-backend/notify"
	"rewards-backend/subscription"
	"rewards-backend/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BonusAction is the ledger action credited by points_bonus coupons.
const BonusAction = "coupon_bonus"

type Options struct {
	Ledger   *ledger.Ledger
	Notifier notify.Sender
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Runs     *utils.SweepRunStore
	Tx       database.TxOptions
	Now      func() time.Time
	// Concurrency bounds how many usages a sweep resets at once.
	Concurrency int
}

type Tracker struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	notifier    notify.Sender
	metrics     *metrics.Metrics
	logger      *slog.Logger
	runs        *utils.SweepRunStore
	txOpts      database.TxOptions
	now         func() time.Time
	concurrency int
}

func New(db *gorm.DB, opts Options) *Tracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Runs == nil {
		opts.Runs = utils.NewSweepRunStore(time.Hour)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Tracker{
		db:          db,
		ledger:      opts.Ledger,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      logging.OrDefault(opts.Logger),
		runs:        opts.Runs,
		txOpts:      opts.Tx,
		now:         opts.Now,
		concurrency: opts.Concurrency,
	}
}

// Runs exposes the sweep history.
func (t *Tracker) Runs() *utils.SweepRunStore { return t.runs }

// CreateCoupon validates and stores a new coupon template.
func (t *Tracker) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	switch {
	case c.Code == "":
		return apperr.Validation("code is required")
	case strings.TrimSpace(c.Title) == "":
		return apperr.Validation("title is required")
	case !c.BenefitType.Valid():
		return apperr.Validation("unknown benefit type %q", c.BenefitType)
	case c.MaxUsesPerCycle < 1:
		return apperr.Validation("max_uses_per_cycle must be at least 1")
	case c.BenefitValue.IsNegative():
		return apperr.Validation("benefit_value must not be negative")
	case c.BenefitType == models.BenefitDiscountPercentage && c.BenefitValue.GreaterThan(decimal.NewFromInt(100)):
		return apperr.Validation("discount percentage must not exceed 100")
	case c.BenefitType == models.BenefitPointsBonus && (!c.BenefitValue.IsPositive() || !c.BenefitValue.IsInteger()):
		return apperr.Validation("points bonus must be a positive whole number")
	case c.ValidFrom != nil && c.ValidUntil != nil && !c.ValidUntil.After(*c.ValidFrom):
		return apperr.Validation("valid_until must be after valid_from")
	}
	c.TotalUses = 0

	if err := t.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Validation("coupon code %q already exists", c.Code)
		}
		return apperr.Internal(fmt.Errorf("create coupon: %w", err))
	}
	t.logger.Info("coupon created", "coupon_id", c.ID, "code", c.Code, "benefit", c.BenefitType)
	return nil
}

func (t *Tracker) ListCoupons(ctx context.Context, activeOnly bool) ([]models.Coupon, error) {
	q := t.db.WithContext(ctx).Order("created_at DESC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	coupons := []models.Coupon{}
	if err := q.Find(&coupons).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("list coupons: %w", err))
	}
	return coupons, nil
}

// ProvisionCycle creates the user's coupon usages for cyc, one per active
// coupon. Existing rows for the same window are left alone. tx may be nil.
func (t *Tracker) ProvisionCycle(ctx context.Context, tx *gorm.DB, userID, subscriptionID uuid.UUID, cyc subscription.Cycle) (int, error) {
	db := database.Conn(ctx, t.dbOr(tx))

	var coupons []models.Coupon
	if err := db.Where("active = ? AND (valid_until IS NULL OR valid_until >= ?)", true, cyc.Start).
		Find(&coupons).Error; err != nil {
		return 0, fmt.Errorf("load coupons: %w", err)
	}
	if len(coupons) == 0 {
		return 0, nil
	}

	var subID *uuid.UUID
	if subscriptionID != uuid.Nil {
		subID = &subscriptionID
	}
	rows := make([]models.CouponUsage, 0, len(coupons))
	for _, c := range coupons {
		rows = append(rows, models.CouponUsage{
			UserID:         userID,
			CouponID:       c.ID,
			SubscriptionID: subID,
			CycleNumber:    cyc.Number,
			CycleStart:     cyc.Start,
			CycleEnd:       cyc.End,
			Status:         models.CouponAvailable,
			MaxUsesInCycle: c.MaxUsesPerCycle,
			WillResetOn:    cyc.ResetsOn(),
		})
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "coupon_id"}, {Name: "cycle_start"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("provision coupon usages: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ResetSubscription moves the subscription's live usages into next. Usages
// whose window is still running are left for the subscriber to finish; the
// sweep retires them once next has been provisioned.
func (t *Tracker) ResetSubscription(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, next subscription.Cycle) (int, error) {
	db := database.Conn(ctx, t.dbOr(tx))
	now := t.now().UTC()

	var usages []models.CouponUsage
	if err := db.Preload("Coupon").
		Where("subscription_id = ? AND cycle_start < ? AND cycle_end < ? AND status <> ?", subscriptionID, next.Start, now, models.CouponExpired).
		Find(&usages).Error; err != nil {
		return 0, fmt.Errorf("load subscription coupon usages: %w", err)
	}
	reset := 0
	for i := range usages {
		ok, err := t.resetRow(ctx, db, &usages[i], next)
		if err != nil {
			return reset, err
		}
		if ok {
			reset++
		}
	}
	return reset, nil
}

// GetAvailable lists the user's usable coupons for the window starting at
// cycleStart. A zero cycleStart selects the window containing now.
func (t *Tracker) GetAvailable(ctx context.Context, userID uuid.UUID, cycleStart time.Time) ([]models.CouponUsage, error) {
	now := t.now().UTC()
	q := t.db.WithContext(ctx).
		Preload("Coupon").
		Joins("JOIN coupons ON coupons.id = coupon_usages.coupon_id AND coupons.deleted_at IS NULL").
		Where("coupon_usages.user_id = ? AND coupon_usages.status = ? AND coupon_usages.cycle_end >= ?", userID, models.CouponAvailable, now).
		Where("coupons.active = ?", true)
	if cycleStart.IsZero() {
		q = q.Where("coupon_usages.cycle_start <= ?", now)
	} else {
		q = q.Where("coupon_usages.cycle_start = ?", cycleStart.UTC())
	}

	usages := []models.CouponUsage{}
	if err := q.Order("coupon_usages.created_at ASC").Find(&usages).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("list available coupons: %w", err))
	}
	return usages, nil
}

// ListUsages returns every usage the user has held, newest window first.
func (t *Tracker) ListUsages(ctx context.Context, userID uuid.UUID) ([]models.CouponUsage, error) {
	usages := []models.CouponUsage{}
	if err := t.db.WithContext(ctx).Preload("Coupon").
		Where("user_id = ?", userID).
		Order("cycle_start DESC").
		Find(&usages).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("list coupon usages: %w", err))
	}
	return usages, nil
}

type UseResult struct {
	Usage         models.CouponUsage `json:"usage"`
	PointsAwarded int64              `json:"points_awarded,omitempty"`
}

// Use redeems one use of a coupon usage owned by the caller.
func (t *Tracker) Use(ctx context.Context, ac auth.Context, usageID uuid.UUID, details map[string]any) (UseResult, error) {
	var res UseResult
	err := database.Transact(ctx, t.db, t.txOpts, func(tx *gorm.DB) error {
		res = UseResult{}
		var usage models.CouponUsage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", usageID).First(&usage).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && usage.UserID != ac.UserID) {
			return apperr.ErrNotAvailable.Withf("coupon usage %s not found", usageID)
		}
		if err != nil {
			return fmt.Errorf("lock coupon usage: %w", err)
		}
		var c models.Coupon
		if err := tx.Where("id = ?", usage.CouponID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotAvailable.Withf("coupon has been withdrawn")
			}
			return fmt.Errorf("read coupon: %w", err)
		}

		now := t.now().UTC()
		switch {
		case !ac.HasPremium(now):
			return apperr.ErrPremiumRequired
		case usage.Status != models.CouponAvailable:
			return apperr.ErrNotAvailable.Withf("coupon is %s", usage.Status)
		case usage.UsageCount >= usage.MaxUsesInCycle:
			return apperr.ErrNotAvailable.Withf("coupon already used %d of %d times this cycle", usage.UsageCount, usage.MaxUsesInCycle)
		case now.Before(usage.CycleStart) || now.After(usage.CycleEnd):
			return apperr.ErrNotAvailable.Withf("coupon is outside its cycle window")
		case !c.ValidAt(now):
			return apperr.ErrNotAvailable.Withf("coupon %s is not valid now", c.Code)
		}

		count := usage.UsageCount + 1
		status := models.CouponAvailable
		if count >= usage.MaxUsesInCycle {
			status = models.CouponUsed
		}
		merged := datatypes.JSONMap{}
		for k, v := range usage.UsageDetails {
			merged[k] = v
		}
		merged[fmt.Sprintf("use_%d", count)] = map[string]any{"at": now.Format(time.RFC3339), "details": details}

		upd := tx.Model(&models.CouponUsage{}).
			Where("id = ? AND usage_count = ? AND status = ?", usage.ID, usage.UsageCount, models.CouponAvailable).
			Updates(map[string]any{
				"usage_count":   count,
				"status":        status,
				"used_at":       now,
				"usage_details": merged,
			})
		if upd.Error != nil {
			return fmt.Errorf("update coupon usage: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return apperr.ErrNotAvailable.Withf("coupon was used concurrently")
		}
		if err := tx.Model(&models.Coupon{}).Where("id = ?", c.ID).
			Update("total_uses", gorm.Expr("total_uses + 1")).Error; err != nil {
			return fmt.Errorf("count coupon use: %w", err)
		}

		if c.BenefitType == models.BenefitPointsBonus {
			if t.ledger == nil {
				return apperr.Internal(errors.New("points bonus coupon used without a ledger"))
			}
			amount := c.BenefitValue.IntPart()
			key := fmt.Sprintf("coupon:%s:%d:%d", usage.ID, usage.ResetCount, count)
			if _, err := t.ledger.WithTx(tx).Award(ctx, ledger.AwardRequest{
				UserID:         ac.UserID,
				ActionType:     BonusAction,
				Amount:         amount,
				Reason:         "coupon " + c.Code,
				Metadata:       map[string]any{"coupon_id": c.ID.String(), "usage_id": usage.ID.String()},
				IdempotencyKey: key,
			}); err != nil {
				return err
			}
			res.PointsAwarded = amount
		}

		usage.UsageCount = count
		usage.Status = status
		usage.UsedAt = &now
		usage.UsageDetails = merged
		usage.Coupon = &c
		res.Usage = usage
		return nil
	})
	if err != nil {
		t.metrics.CouponUse(apperr.Code(err))
		return UseResult{}, err
	}
	t.metrics.CouponUse("ok")
	if res.PointsAwarded > 0 {
		t.metrics.PointsAwarded(models.CategoryAdmin, res.PointsAwarded)
	}
	t.logger.Info("coupon used", "usage_id", usageID, "user_id", ac.UserID, "count", res.Usage.UsageCount, "status", res.Usage.Status)
	return res, nil
}

// ResetForNewCycle reopens a usage for the window [newStart, newEnd]. If the
// user already holds a usage of the same coupon for that window, the stale
// row is expired instead.
func (t *Tracker) ResetForNewCycle(ctx context.Context, usageID uuid.UUID, newStart, newEnd time.Time, newCycleNumber int) (models.CouponUsage, error) {
	if !newEnd.After(newStart) {
		return models.CouponUsage{}, apperr.Validation("cycle end must be after cycle start")
	}
	cyc := subscription.Cycle{Number: newCycleNumber, Start: newStart.UTC(), End: newEnd.UTC()}

	var usage models.CouponUsage
	err := database.Transact(ctx, t.db, t.txOpts, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("Coupon").Where("id = ?", usageID).First(&usage).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotAvailable.Withf("coupon usage %s not found", usageID)
		}
		if err != nil {
			return fmt.Errorf("lock coupon usage: %w", err)
		}
		if usage.Status == models.CouponExpired {
			return apperr.ErrNotAvailable.Withf("coupon usage has expired")
		}
		_, err = t.resetRow(ctx, tx, &usage, cyc)
		return err
	})
	if err != nil {
		return models.CouponUsage{}, err
	}
	return usage, nil
}

// resetRow reopens u for cyc inside a savepoint and updates u in place. It
// reports false when u was expired because its target window is taken.
func (t *Tracker) resetRow(ctx context.Context, db *gorm.DB, u *models.CouponUsage, cyc subscription.Cycle) (bool, error) {
	maxUses := u.MaxUsesInCycle
	if u.Coupon != nil && u.Coupon.MaxUsesPerCycle > 0 {
		maxUses = u.Coupon.MaxUsesPerCycle
	}
	updates := map[string]any{
		"status":            models.CouponAvailable,
		"usage_count":       0,
		"used_at":           nil,
		"cycle_number":      cyc.Number,
		"cycle_start":       cyc.Start,
		"cycle_end":         cyc.End,
		"will_reset_on":     cyc.ResetsOn(),
		"max_uses_in_cycle": maxUses,
		"reset_count":       gorm.Expr("reset_count + 1"),
	}
	err := database.Conn(ctx, db).Transaction(func(sp *gorm.DB) error {
		return sp.Model(&models.CouponUsage{}).Where("id = ?", u.ID).Updates(updates).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		if err := database.Conn(ctx, db).Model(&models.CouponUsage{}).Where("id = ?", u.ID).
			Update("status", models.CouponExpired).Error; err != nil {
			return false, fmt.Errorf("expire superseded coupon usage: %w", err)
		}
		u.Status = models.CouponExpired
		t.metrics.CouponReset("superseded")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reset coupon usage: %w", err)
	}

	u.Status = models.CouponAvailable
	u.UsageCount = 0
	u.UsedAt = nil
	u.CycleNumber = cyc.Number
	u.CycleStart = cyc.Start
	u.CycleEnd = cyc.End
	u.WillResetOn = cyc.ResetsOn()
	u.MaxUsesInCycle = maxUses
	u.ResetCount++
	t.metrics.CouponReset("reset")
	return true, nil
}

func (t *Tracker) dbOr(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return t.db
}
