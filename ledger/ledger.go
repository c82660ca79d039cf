// Package ledger records point movements and keeps each user's balance equal
// to the sum of their transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/config"
	"rewards-backend/database"
	"rewards-backend/limits"
	"rewards-backend/logging"
	"rewards-backend/metrics"
	"rewards-backend/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AwardRequest struct {
	UserID     uuid.UUID
	ActionType string
	Amount     int64
	Reason     string
	Metadata   map[string]any
	// IdempotencyKey makes retries of the same award a no-op. Optional.
	IdempotencyKey string
}

type SpendRequest struct {
	UserID uuid.UUID
	Amount int64
	// Kind becomes the spent_<kind> type tag, e.g. "redemption".
	Kind           string
	Reason         string
	Metadata       map[string]any
	IdempotencyKey string
}

type Result struct {
	NewBalance  int64                    `json:"new_balance"`
	Transaction models.PointsTransaction `json:"transaction"`
	// Duplicate is set when the idempotency key was already used; nothing
	// was written.
	Duplicate bool `json:"duplicate,omitempty"`
}

type Stats struct {
	Balance          int64            `json:"balance"`
	LifetimeEarned   int64            `json:"lifetime_earned"`
	TotalSpent       int64            `json:"total_spent"`
	ByCategory       map[string]int64 `json:"by_category"`
	TransactionCount int64            `json:"transaction_count"`
	EarnedToday      int64            `json:"earned_today"`
}

type History struct {
	Transactions []models.PointsTransaction `json:"transactions"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
	Total        int64                      `json:"total"`
}

type Options struct {
	Rules   map[string]config.ActionRule
	Tx      database.TxOptions
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type Ledger struct {
	db      *gorm.DB
	rules   map[string]config.ActionRule
	limits  *limits.Tracker
	txOpts  database.TxOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	inTx    bool
}

func New(db *gorm.DB, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		db:      db,
		rules:   opts.Rules,
		limits:  limits.New(db, limits.Options{Tx: opts.Tx, Now: opts.Now}),
		txOpts:  opts.Tx,
		metrics: opts.Metrics,
		logger:  logging.OrDefault(opts.Logger),
		now:     opts.Now,
	}
}

// WithTx returns a ledger that runs inside tx instead of opening its own
// transaction, so a debit can commit or roll back with the caller's writes.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	cp := *l
	cp.db = tx
	cp.limits = l.limits.WithTx(tx)
	cp.inTx = true
	return &cp
}

// Rule returns the configured rule for action.
func (l *Ledger) Rule(action string) (config.ActionRule, bool) {
	r, ok := l.rules[action]
	return r, ok
}

func usageFeature(action string) string { return "points:" + action }

// Award credits points for an earning action, enforcing the action's daily
// cap and cooldown.
func (l *Ledger) Award(ctx context.Context, req AwardRequest) (Result, error) {
	rule, ok := l.rules[req.ActionType]
	if !ok {
		return Result{}, apperr.Validation("unknown action %q", req.ActionType)
	}
	if req.Amount < 0 {
		return Result{}, apperr.Validation("amount must not be negative")
	}
	if rule.MaxAmount > 0 && req.Amount > rule.MaxAmount {
		return Result{}, apperr.Validation("amount exceeds %d for %s", rule.MaxAmount, req.ActionType)
	}

	var res Result
	err := l.run(ctx, func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, req.UserID)
		if err != nil {
			return err
		}
		if dup, ok, err := findIdempotent(tx, req.UserID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			res = Result{NewBalance: acct.Balance, Transaction: dup, Duplicate: true}
			return nil
		}

		now := l.now().UTC()
		tracker := l.limits.WithTx(tx)
		if rule.DailyLimit > 0 {
			st, err := tracker.CheckLimit(ctx, req.UserID, usageFeature(req.ActionType), rule.DailyLimit, false)
			if err != nil {
				return err
			}
			if !st.CanUse {
				l.metrics.AwardRejected("daily_limit")
				return apperr.ErrLimitExceeded.Withf("%s: daily limit of %d reached", req.ActionType, rule.DailyLimit)
			}
		}
		if rule.Cooldown > 0 {
			var last models.PointsTransaction
			err := tx.Where("user_id = ? AND action = ?", req.UserID, req.ActionType).
				Order("created_at DESC").First(&last).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("read last %s award: %w", req.ActionType, err)
			}
			if err == nil && now.Sub(last.CreatedAt) < rule.Cooldown {
				l.metrics.AwardRejected("cooldown")
				wait := rule.Cooldown - now.Sub(last.CreatedAt)
				return apperr.ErrLimitExceeded.Withf("%s: try again in %s", req.ActionType, wait.Round(time.Second))
			}
		}

		entry := models.PointsTransaction{
			UserID:         req.UserID,
			Amount:         req.Amount,
			Type:           "earned_" + rule.Category,
			Action:         req.ActionType,
			Reason:         req.Reason,
			Metadata:       datatypes.JSONMap(req.Metadata),
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			BalanceAfter:   acct.Balance + req.Amount,
			CreatedAt:      now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert points transaction: %w", err)
		}
		if _, err := tracker.Increment(ctx, req.UserID, usageFeature(req.ActionType), req.Metadata); err != nil {
			return err
		}

		updates := map[string]any{
			"balance":         gorm.Expr("balance + ?", req.Amount),
			"lifetime_earned": gorm.Expr("lifetime_earned + ?", req.Amount),
		}
		if col := models.CategoryColumn(rule.Category); col != "" {
			updates[col] = gorm.Expr(col+" + ?", req.Amount)
		}
		if err := tx.Model(&models.PointsAccount{}).Where("id = ?", acct.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update points account: %w", err)
		}

		res = Result{NewBalance: entry.BalanceAfter, Transaction: entry}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Duplicate && !l.inTx {
		l.metrics.PointsAwarded(rule.Category, req.Amount)
		l.logger.Info("points awarded", "user_id", req.UserID, "action", req.ActionType, "amount", req.Amount, "balance", res.NewBalance)
	}
	return res, nil
}

// Spend debits points. It fails with apperr.ErrInsufficientFunds when the
// balance is lower than the amount.
func (l *Ledger) Spend(ctx context.Context, req SpendRequest) (Result, error) {
	if req.Amount <= 0 {
		return Result{}, apperr.Validation("amount must be positive")
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = "other"
	}

	var res Result
	err := l.run(ctx, func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, req.UserID)
		if err != nil {
			return err
		}
		if dup, ok, err := findIdempotent(tx, req.UserID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			res = Result{NewBalance: acct.Balance, Transaction: dup, Duplicate: true}
			return nil
		}
		if acct.Balance < req.Amount {
			return apperr.ErrInsufficientFunds.Withf("balance %d is lower than %d", acct.Balance, req.Amount)
		}

		entry := models.PointsTransaction{
			UserID:         req.UserID,
			Amount:         -req.Amount,
			Type:           "spent_" + kind,
			Reason:         req.Reason,
			Metadata:       datatypes.JSONMap(req.Metadata),
			IdempotencyKey: keyPtr(req.IdempotencyKey),
			BalanceAfter:   acct.Balance - req.Amount,
			CreatedAt:      l.now().UTC(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert points transaction: %w", err)
		}

		upd := tx.Model(&models.PointsAccount{}).
			Where("id = ? AND balance >= ?", acct.ID, req.Amount).
			Updates(map[string]any{
				"balance":     gorm.Expr("balance - ?", req.Amount),
				"total_spent": gorm.Expr("total_spent + ?", req.Amount),
			})
		if upd.Error != nil {
			return fmt.Errorf("update points account: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return apperr.ErrInsufficientFunds
		}

		res = Result{NewBalance: entry.BalanceAfter, Transaction: entry}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if !res.Duplicate && !l.inTx {
		l.metrics.PointsSpent(req.Amount)
		l.logger.Info("points spent", "user_id", req.UserID, "kind", kind, "amount", req.Amount, "balance", res.NewBalance)
	}
	return res, nil
}

// Lock creates the user's account if needed and holds its row lock until the
// surrounding transaction ends. Only meaningful on a WithTx ledger.
func (l *Ledger) Lock(ctx context.Context, userID uuid.UUID) (models.PointsAccount, error) {
	return lockAccount(database.Conn(ctx, l.db), userID)
}

func (l *Ledger) GetStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	db := database.Conn(ctx, l.db)

	var acct models.PointsAccount
	err := db.Where("user_id = ?", userID).First(&acct).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, apperr.Internal(fmt.Errorf("read points account: %w", err))
	}

	st := Stats{
		Balance:        acct.Balance,
		LifetimeEarned: acct.LifetimeEarned,
		TotalSpent:     acct.TotalSpent,
		ByCategory: map[string]int64{
			models.CategoryGame:     acct.GamePoints,
			models.CategoryAds:      acct.AdsPoints,
			models.CategoryReferral: acct.ReferralPoints,
			models.CategoryDaily:    acct.DailyPoints,
			models.CategoryAdmin:    acct.AdminPoints,
		},
	}
	if err := db.Model(&models.PointsTransaction{}).Where("user_id = ?", userID).Count(&st.TransactionCount).Error; err != nil {
		return Stats{}, apperr.Internal(fmt.Errorf("count points transactions: %w", err))
	}

	today := l.now().UTC().Truncate(24 * time.Hour)
	var earned struct{ Total int64 }
	if err := db.Model(&models.PointsTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND amount > 0 AND created_at >= ?", userID, today).
		Scan(&earned).Error; err != nil {
		return Stats{}, apperr.Internal(fmt.Errorf("sum today's earnings: %w", err))
	}
	st.EarnedToday = earned.Total
	return st, nil
}

// GetHistory pages through a user's transactions, newest first.
func (l *Ledger) GetHistory(ctx context.Context, userID uuid.UUID, page, limit int) (History, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	h := History{Page: page, Limit: limit, Transactions: []models.PointsTransaction{}}
	db := database.Conn(ctx, l.db).Model(&models.PointsTransaction{}).Where("user_id = ?", userID)
	if err := db.Count(&h.Total).Error; err != nil {
		return History{}, apperr.Internal(fmt.Errorf("count points transactions: %w", err))
	}
	if err := db.Order("created_at DESC").Order("id DESC").Offset((page - 1) * limit).Limit(limit).Find(&h.Transactions).Error; err != nil {
		return History{}, apperr.Internal(fmt.Errorf("list points transactions: %w", err))
	}
	return h, nil
}

// VerifyInvariant checks that the stored balance equals the transaction sum.
func (l *Ledger) VerifyInvariant(ctx context.Context, userID uuid.UUID) error {
	db := database.Conn(ctx, l.db)
	var acct models.PointsAccount
	if err := db.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("read points account: %w", err)
	}
	var sum struct{ Total int64 }
	if err := db.Model(&models.PointsTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).Scan(&sum).Error; err != nil {
		return fmt.Errorf("sum points transactions: %w", err)
	}
	if sum.Total != acct.Balance {
		return fmt.Errorf("ledger invariant broken for %s: balance %d, transactions sum to %d", userID, acct.Balance, sum.Total)
	}
	if acct.Balance < 0 {
		return fmt.Errorf("ledger invariant broken for %s: negative balance %d", userID, acct.Balance)
	}
	return nil
}

func (l *Ledger) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if l.inTx {
		return fn(database.Conn(ctx, l.db))
	}
	return database.Transact(ctx, l.db, l.txOpts, fn)
}

func lockAccount(tx *gorm.DB, userID uuid.UUID) (models.PointsAccount, error) {
	if userID == uuid.Nil {
		return models.PointsAccount{}, apperr.Validation("user id is required")
	}
	seed := models.PointsAccount{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return models.PointsAccount{}, fmt.Errorf("ensure points account: %w", err)
	}

	var acct models.PointsAccount
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&acct).Error; err != nil {
		return models.PointsAccount{}, fmt.Errorf("lock points account: %w", err)
	}
	return acct, nil
}

func findIdempotent(tx *gorm.DB, userID uuid.UUID, key string) (models.PointsTransaction, bool, error) {
	if key == "" {
		return models.PointsTransaction{}, false, nil
	}
	var existing models.PointsTransaction
	err := tx.Where("user_id = ? AND idempotency_key = ?", userID, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PointsTransaction{}, false, nil
	}
	if err != nil {
		return models.PointsTransaction{}, false, fmt.Errorf("read idempotency key: %w", err)
	}
	return existing, true, nil
}

func keyPtr(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}
