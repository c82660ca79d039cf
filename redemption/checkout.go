package redemption

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/database"
	"rewards-backend/ledger"
	"rewards-backend/models"
	"rewards-backend/notify"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// codeAttempts bounds claim code regeneration after unique collisions.
const codeAttempts = 5

type CheckoutRequest struct {
	// ProductIDs limits the checkout to these cart lines. Empty means the
	// whole cart.
	ProductIDs []uuid.UUID `json:"product_ids"`
}

type CheckoutResult struct {
	Redemptions      []models.Redemption `json:"redemptions"`
	PointsSpent      int64               `json:"points_spent"`
	RemainingBalance int64               `json:"remaining_balance"`
}

// Checkout converts cart lines into redemptions. The debit, the stock
// decrements, the redemption rows and the cart cleanup commit together or
// not at all.
func (s *Service) Checkout(ctx context.Context, ac auth.Context, req CheckoutRequest) (CheckoutResult, error) {
	var res CheckoutResult
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		res = CheckoutResult{}
		now := s.now().UTC()

		// Account, then cart lines, then products, in every checkout. The
		// account lock serializes checkouts of the same cart.
		ldg := s.ledger.WithTx(tx)
		acct, err := ldg.Lock(ctx, ac.UserID)
		if err != nil {
			return err
		}

		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", ac.UserID)
		if len(req.ProductIDs) > 0 {
			q = q.Where("product_id IN ?", req.ProductIDs)
		}
		var lines []models.CartItem
		if err := q.Order("product_id ASC").Find(&lines).Error; err != nil {
			return fmt.Errorf("read cart: %w", err)
		}
		if len(lines) == 0 {
			return apperr.Validation("cart is empty")
		}

		ids := make([]uuid.UUID, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}
		store := s.products.WithTx(tx)
		products, err := store.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		var total int64
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return apperr.ErrProductUnavailable.Withf("product %s is no longer available", l.ProductID)
			}
			if err := s.checkOrderable(ac, p, l.Quantity); err != nil {
				return err
			}
			if p.OneTimeRedeemable {
				var n int64
				if err := tx.Model(&models.Redemption{}).
					Where("user_id = ? AND product_id = ?", ac.UserID, p.ID).
					Count(&n).Error; err != nil {
					return fmt.Errorf("check previous redemption: %w", err)
				}
				if n > 0 {
					return apperr.ErrAlreadyRedeemed.Withf("%s has already been redeemed", p.Name)
				}
			}
			total += p.PointsCost * int64(l.Quantity)
		}
		if acct.Balance < total {
			return apperr.ErrInsufficientPoints.Withf("checkout costs %d points, balance is %d", total, acct.Balance)
		}

		spent, err := ldg.Spend(ctx, spendRequest(ac.UserID, total, lines))
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			return apperr.ErrInsufficientPoints
		}
		if err != nil {
			return err
		}

		for _, l := range lines {
			p := products[l.ProductID]
			if p.TracksStock() {
				if err := store.DecrementStock(ctx, p.ID, l.Quantity); err != nil {
					return err
				}
			}
			r := models.Redemption{
				ID:            uuid.New(),
				UserID:        ac.UserID,
				ProductID:     p.ID,
				ProductName:   p.Name,
				ProductType:   p.ProductType,
				Category:      p.Category,
				Quantity:      l.Quantity,
				PointsSpent:   p.PointsCost * int64(l.Quantity),
				TransactionID: spent.Transaction.ID,
				Status:        models.RedemptionPending,
			}
			if p.Category == models.ProductDigital && p.ValidityDays > 0 {
				exp := now.AddDate(0, 0, p.ValidityDays)
				r.ExpiresAt = &exp
			}
			if p.OneTimeRedeemable {
				key := ac.UserID.String() + ":" + p.ID.String()
				r.OnceKey = &key
			}
			if err := s.insertRedemption(tx, &r); err != nil {
				return err
			}
			res.Redemptions = append(res.Redemptions, r)
		}

		lineIDs := make([]uuid.UUID, 0, len(lines))
		for _, l := range lines {
			lineIDs = append(lineIDs, l.ID)
		}
		cleared := tx.Where("id IN ?", lineIDs).Delete(&models.CartItem{})
		if cleared.Error != nil {
			return fmt.Errorf("clear checked out cart lines: %w", cleared.Error)
		}
		if cleared.RowsAffected != int64(len(lineIDs)) {
			return apperr.Validation("cart changed during checkout, %d of %d lines remain", cleared.RowsAffected, len(lineIDs))
		}

		res.PointsSpent = total
		res.RemainingBalance = spent.NewBalance
		return nil
	})
	if err != nil {
		s.metrics.Checkout(apperr.Code(err))
		return CheckoutResult{}, err
	}

	s.metrics.Checkout("ok")
	s.metrics.PointsSpent(res.PointsSpent)
	if inv, ok := s.lookup.(interface{ Invalidate(...uuid.UUID) }); ok {
		ids := make([]uuid.UUID, 0, len(res.Redemptions))
		for _, r := range res.Redemptions {
			ids = append(ids, r.ProductID)
		}
		inv.Invalidate(ids...)
	}
	for _, r := range res.Redemptions {
		data := map[string]string{
			"redemption_id": r.ID.String(),
			"product_name":  r.ProductName,
			"quantity":      strconv.Itoa(r.Quantity),
		}
		if r.ClaimCode != nil {
			data["claim_code"] = *r.ClaimCode
		}
		if r.ExpiresAt != nil {
			data["expires_at"] = r.ExpiresAt.Format(time.DateOnly)
		}
		s.notifier.Send(ctx, notify.Notification{UserID: ac.UserID, Kind: notify.KindRedemptionReady, Data: data})
	}
	s.logger.Info("checkout completed", "user_id", ac.UserID, "redemptions", len(res.Redemptions), "points", res.PointsSpent, "balance", res.RemainingBalance)
	return res, nil
}

func spendRequest(userID uuid.UUID, total int64, lines []models.CartItem) ledger.SpendRequest {
	products := make([]string, 0, len(lines))
	for _, l := range lines {
		products = append(products, l.ProductID.String())
	}
	return ledger.SpendRequest{
		UserID:   userID,
		Amount:   total,
		Kind:     "redemption",
		Reason:   fmt.Sprintf("checkout of %d item(s)", len(lines)),
		Metadata: map[string]any{"products": products},
	}
}

// insertRedemption writes r with a fresh claim code, retrying inside a
// savepoint when the code collides with an existing one.
func (s *Service) insertRedemption(tx *gorm.DB, r *models.Redemption) error {
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		code, err := s.newCode(r.ID)
		if err != nil {
			return err
		}
		r.ClaimCode = &code

		err = tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(r).Error
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("insert redemption: %w", err)
		}
		if r.OnceKey != nil {
			var n int64
			if err := tx.Model(&models.Redemption{}).Where("once_key = ?", *r.OnceKey).Count(&n).Error; err != nil {
				return fmt.Errorf("check once key: %w", err)
			}
			if n > 0 {
				return apperr.ErrAlreadyRedeemed.Withf("%s has already been redeemed", r.ProductName)
			}
		}
		s.logger.Debug("claim code collision", "redemption_id", r.ID, "attempt", attempt)
	}
	return fmt.Errorf("could not allocate a unique claim code after %d attempts", codeAttempts)
}
