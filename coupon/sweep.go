package coupon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/database"
	"rewards-backend/dtos"
	"rewards-backend/models"
	"rewards-backend/notify"
	"rewards-backend/subscription"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxCatchUp bounds how many cycles a single usage may be advanced in one
// sweep.
const maxCatchUp = 120

type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeReset
	outcomeExpired
)

// Sweep resets every usage whose window ended at or before now. Usages whose
// coupon or subscription is no longer live are expired instead. One failing
// row does not stop the others; failures are listed in the returned run.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) (dtos.SweepRun, error) {
	started := time.Now()
	now = now.UTC()

	var due []models.CouponUsage
	if err := t.db.WithContext(ctx).
		Where("will_reset_on <= ? AND status <> ?", now, models.CouponExpired).
		Order("will_reset_on ASC").
		Find(&due).Error; err != nil {
		return dtos.SweepRun{}, apperr.Internal(fmt.Errorf("find due coupon usages: %w", err))
	}

	run := t.runs.Start(dtos.JobCouponReset, len(due))
	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for _, u := range due {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				t.runs.AddFailed(run.ID, u.ID, err)
				return nil
			}
			outcome, usage, err := t.sweepOne(ctx, u.ID, now)
			switch {
			case err != nil:
				t.logger.Warn("coupon reset failed", "usage_id", u.ID, "error", err)
				t.runs.AddFailed(run.ID, u.ID, err)
			case outcome == outcomeReset:
				t.runs.AddReset(run.ID)
				t.notifier.Send(ctx, notify.Notification{
					UserID: usage.UserID,
					Kind:   notify.KindCouponReset,
					Data: map[string]string{
						"usage_id":     usage.ID.String(),
						"cycle_number": strconv.Itoa(usage.CycleNumber),
						"cycle_end":    usage.CycleEnd.Format(time.DateOnly),
					},
				})
			case outcome == outcomeExpired:
				t.runs.AddExpired(run.ID)
			default:
				t.runs.Update(run.ID, func(r *dtos.SweepRun) { r.Processed++ })
			}
			return nil
		})
	}
	_ = g.Wait()

	status := dtos.SweepStatusCompleted
	if ctx.Err() != nil {
		status = dtos.SweepStatusFailed
	}
	final, _ := t.runs.Finish(run.ID, status)
	t.metrics.SweepFinished(dtos.JobCouponReset, time.Since(started))
	t.logger.Info("coupon sweep finished", "run_id", final.ID, "due", final.Total, "reset", final.Reset, "expired", final.Expired, "failed", final.Failed)
	return final, ctx.Err()
}

func (t *Tracker) sweepOne(ctx context.Context, usageID uuid.UUID, now time.Time) (sweepOutcome, models.CouponUsage, error) {
	var (
		outcome sweepOutcome
		usage   models.CouponUsage
	)
	err := database.Transact(ctx, t.db, t.txOpts, func(tx *gorm.DB) error {
		outcome = outcomeSkipped
		usage = models.CouponUsage{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", usageID).First(&usage).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock coupon usage: %w", err)
		}
		// Another sweep or a renewal got here first.
		if usage.Status == models.CouponExpired || usage.WillResetOn.After(now) {
			return nil
		}

		c, live, err := t.stillLive(tx, usage, now)
		if err != nil {
			return err
		}
		usage.Coupon = c
		if !live {
			if err := tx.Model(&models.CouponUsage{}).Where("id = ?", usage.ID).
				Update("status", models.CouponExpired).Error; err != nil {
				return fmt.Errorf("expire coupon usage: %w", err)
			}
			usage.Status = models.CouponExpired
			outcome = outcomeExpired
			t.metrics.CouponReset("expired")
			return nil
		}

		cyc := subscription.Cycle{Number: usage.CycleNumber, Start: usage.CycleStart, End: usage.CycleEnd}
		for i := 0; i < maxCatchUp; i++ {
			cyc = cyc.Next()
			if !cyc.End.Before(now) {
				break
			}
		}
		ok, err := t.resetRow(ctx, tx, &usage, cyc)
		if err != nil {
			return err
		}
		outcome = outcomeExpired
		if ok {
			outcome = outcomeReset
		}
		return nil
	})
	return outcome, usage, err
}

// stillLive loads the usage's coupon and subscription and reports whether the
// usage should carry into another cycle.
func (t *Tracker) stillLive(tx *gorm.DB, u models.CouponUsage, now time.Time) (*models.Coupon, bool, error) {
	var c models.Coupon
	err := tx.Where("id = ?", u.CouponID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read coupon: %w", err)
	}
	if !c.Active || (c.ValidUntil != nil && c.ValidUntil.Before(now)) {
		return &c, false, nil
	}
	if u.SubscriptionID == nil {
		return &c, true, nil
	}

	var sub models.PremiumSubscription
	err = tx.Where("id = ?", *u.SubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &c, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read subscription: %w", err)
	}
	return &c, sub.Status == models.SubscriptionActive, nil
}
