package subscription

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
	"rewards-backend/logging"
	"rewards-backend/models"
	"rewards-backend/notify"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CouponProvisioner keeps a subscriber's coupon usages in step with their
// billing cycle. Both calls run inside the caller's transaction.
type CouponProvisioner interface {
	ProvisionCycle(ctx context.Context, tx *gorm.DB, userID, subscriptionID uuid.UUID, cyc Cycle) (int, error)
	ResetSubscription(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID, next Cycle) (int, error)
}

type SubscribeRequest struct {
	Plan          string          `json:"plan" binding:"required"`
	PaymentMethod string          `json:"payment_method"`
	Price         decimal.Decimal `json:"price"`
}

type Options struct {
	Coupons  CouponProvisioner
	Notifier notify.Sender
	Logger   *slog.Logger
	Tx       database.TxOptions
	Now      func() time.Time
}

type Service struct {
	db       *gorm.DB
	coupons  CouponProvisioner
	notifier notify.Sender
	logger   *slog.Logger
	txOpts   database.TxOptions
	now      func() time.Time
}

func NewService(db *gorm.DB, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	return &Service{
		db:       db,
		coupons:  opts.Coupons,
		notifier: opts.Notifier,
		logger:   logging.OrDefault(opts.Logger),
		txOpts:   opts.Tx,
		now:      opts.Now,
	}
}

var openStatuses = []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPendingPayment}

// Subscribe opens a subscription awaiting payment. A user may hold only one
// active or pending subscription at a time.
func (s *Service) Subscribe(ctx context.Context, ac auth.Context, req SubscribeRequest) (models.PremiumSubscription, error) {
	plan := strings.TrimSpace(req.Plan)
	if plan == "" {
		return models.PremiumSubscription{}, apperr.Validation("plan is required")
	}
	if !req.Price.IsPositive() {
		return models.PremiumSubscription{}, apperr.Validation("price must be positive")
	}

	sub := models.PremiumSubscription{
		UserID:        ac.UserID,
		Plan:          plan,
		Status:        models.SubscriptionPendingPayment,
		Price:         req.Price,
		PaymentMethod: req.PaymentMethod,
	}
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		if err := tx.Create(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrSubscriptionExists
			}
			return fmt.Errorf("create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.PremiumSubscription{}, err
	}
	s.logger.Info("subscription opened", "user_id", ac.UserID, "subscription_id", sub.ID, "plan", plan)
	return sub, nil
}

// ConfirmPayment activates a pending subscription and opens its first cycle.
// Confirming an already active subscription returns it unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (models.PremiumSubscription, error) {
	var (
		sub       models.PremiumSubscription
		activated bool
	)
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		var err error
		activated = false
		sub, err = lockSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case models.SubscriptionActive:
			return nil
		case models.SubscriptionPendingPayment:
		default:
			return apperr.Validation("subscription is %s", sub.Status)
		}

		now := s.now().UTC()
		cyc := CurrentCycle(now, now)
		sub.Status = models.SubscriptionActive
		sub.StartDate = &now
		sub.CycleStart = &cyc.Start
		sub.EndDate = &cyc.End
		sub.CurrentCycle = cyc.Number
		if paymentRef != "" {
			sub.PaymentRef = paymentRef
		}
		if err := tx.Model(&sub).Select("status", "start_date", "cycle_start", "end_date", "current_cycle", "payment_ref").Updates(&sub).Error; err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		if s.coupons != nil {
			if _, err := s.coupons.ProvisionCycle(ctx, tx, sub.UserID, sub.ID, cyc); err != nil {
				return err
			}
		}
		activated = true
		return nil
	})
	if err != nil {
		return models.PremiumSubscription{}, err
	}
	if activated {
		s.logger.Info("subscription activated", "subscription_id", sub.ID, "user_id", sub.UserID, "ends", sub.EndDate)
		s.notifier.Send(ctx, notify.Notification{
			UserID: sub.UserID,
			Kind:   notify.KindPremiumActivated,
			Data:   map[string]string{"plan": sub.Plan, "end_date": sub.EndDate.Format(time.DateOnly)},
		})
	}
	return sub, nil
}

// Renew extends an active subscription by one cycle and rolls its coupon
// usages into the new window. A repeated paymentRef is treated as a replay.
func (s *Service) Renew(ctx context.Context, subscriptionID uuid.UUID, paymentRef string) (models.PremiumSubscription, error) {
	var (
		sub     models.PremiumSubscription
		renewed bool
	)
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		var err error
		renewed = false
		sub, err = lockSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubscriptionActive {
			return apperr.Validation("only active subscriptions can be renewed, subscription is %s", sub.Status)
		}
		if sub.EndDate == nil {
			return apperr.Internal(fmt.Errorf("active subscription %s has no end date", sub.ID))
		}
		if paymentRef != "" && paymentRef == sub.PaymentRef {
			return nil
		}

		next := NextCycle(*sub.EndDate)
		next.Number = sub.CurrentCycle + 1
		sub.CycleStart = &next.Start
		sub.EndDate = &next.End
		sub.CurrentCycle = next.Number
		if paymentRef != "" {
			sub.PaymentRef = paymentRef
		}
		if err := tx.Model(&sub).Select("cycle_start", "end_date", "current_cycle", "payment_ref").Updates(&sub).Error; err != nil {
			return fmt.Errorf("renew subscription: %w", err)
		}
		if s.coupons != nil {
			if _, err := s.coupons.ResetSubscription(ctx, tx, sub.ID, next); err != nil {
				return err
			}
			if _, err := s.coupons.ProvisionCycle(ctx, tx, sub.UserID, sub.ID, next); err != nil {
				return err
			}
		}
		renewed = true
		return nil
	})
	if err != nil {
		return models.PremiumSubscription{}, err
	}
	if renewed {
		s.logger.Info("subscription renewed", "subscription_id", sub.ID, "cycle", sub.CurrentCycle)
		s.notifier.Send(ctx, notify.Notification{
			UserID: sub.UserID,
			Kind:   notify.KindPremiumRenewed,
			Data:   map[string]string{"cycle": fmt.Sprint(sub.CurrentCycle), "end_date": sub.EndDate.Format(time.DateOnly)},
		})
	}
	return sub, nil
}

// Cancel closes the caller's open subscription immediately.
func (s *Service) Cancel(ctx context.Context, ac auth.Context) (models.PremiumSubscription, error) {
	var sub models.PremiumSubscription
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status IN ?", ac.UserID, openStatuses).
			First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("find open subscription: %w", err)
		}
		now := s.now().UTC()
		sub.Status = models.SubscriptionCancelled
		sub.CancelledAt = &now
		return tx.Model(&sub).Select("status", "cancelled_at").Updates(&sub).Error
	})
	if err != nil {
		return models.PremiumSubscription{}, err
	}
	s.logger.Info("subscription cancelled", "subscription_id", sub.ID, "user_id", sub.UserID)
	return sub, nil
}

// Current returns the user's open subscription.
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (models.PremiumSubscription, error) {
	var sub models.PremiumSubscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, openStatuses).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PremiumSubscription{}, apperr.ErrSubscriptionNotFound
	}
	if err != nil {
		return models.PremiumSubscription{}, apperr.Internal(fmt.Errorf("read subscription: %w", err))
	}
	return sub, nil
}

// Premium reports whether userID holds an active subscription at now and
// when it ends.
func (s *Service) Premium(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error) {
	sub, err := s.Current(ctx, userID)
	if errors.Is(err, apperr.ErrSubscriptionNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if sub.Status != models.SubscriptionActive || sub.EndDate == nil || !s.now().Before(*sub.EndDate) {
		return false, nil, nil
	}
	return true, sub.EndDate, nil
}

// History lists all of a user's subscriptions, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]models.PremiumSubscription, error) {
	subs := []models.PremiumSubscription{}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("list subscriptions: %w", err))
	}
	return subs, nil
}

// ExpireDue marks active subscriptions whose end date has passed as expired
// and returns how many changed.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	var due []models.PremiumSubscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date < ?", models.SubscriptionActive, now.UTC()).
		Find(&due).Error; err != nil {
		return 0, apperr.Internal(fmt.Errorf("find due subscriptions: %w", err))
	}

	expired := 0
	for _, sub := range due {
		var changed bool
		err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
			res := tx.Model(&models.PremiumSubscription{}).
				Where("id = ? AND status = ? AND end_date < ?", sub.ID, models.SubscriptionActive, now.UTC()).
				Update("status", models.SubscriptionExpired)
			changed = res.RowsAffected > 0
			return res.Error
		})
		if err != nil {
			return expired, err
		}
		if !changed {
			continue
		}
		expired++
		s.notifier.Send(ctx, notify.Notification{
			UserID: sub.UserID,
			Kind:   notify.KindPremiumExpired,
			Data:   map[string]string{"plan": sub.Plan},
		})
	}
	if expired > 0 {
		s.logger.Info("subscriptions expired", "count", expired)
	}
	return expired, nil
}

func lockSubscription(tx *gorm.DB, id uuid.UUID) (models.PremiumSubscription, error) {
	var sub models.PremiumSubscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PremiumSubscription{}, apperr.ErrSubscriptionNotFound
	}
	if err != nil {
		return models.PremiumSubscription{}, fmt.Errorf("lock subscription: %w", err)
	}
	return sub, nil
}
