package redemption

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
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Actor identifies the staff member and device performing a transition.
type Actor struct {
	ID       uuid.UUID `json:"actor_id"`
	Station  string    `json:"station,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
}

type Transition struct {
	Redemption models.Redemption `json:"redemption"`
	// AlreadyProcessed is set when the redemption had already reached the
	// requested status; nothing changed.
	AlreadyProcessed bool   `json:"already_processed"`
	Message          string `json:"message"`
}

// ConfirmByCode moves a pending redemption to confirmed. Repeated scans of the
// same code succeed without changing anything.
func (s *Service) ConfirmByCode(ctx context.Context, code string, actor Actor) (Transition, error) {
	return s.transitionByCode(ctx, code, actor, models.RedemptionConfirmed, models.AuditConfirm)
}

// MarkDeliveredByCode moves a redemption to delivered. Physical items must be
// confirmed first; digital items may skip confirmation.
func (s *Service) MarkDeliveredByCode(ctx context.Context, code string, actor Actor) (Transition, error) {
	return s.transitionByCode(ctx, code, actor, models.RedemptionDelivered, models.AuditDeliver)
}

// rejection is returned from a transaction that must still commit its audit
// entry before the caller sees err.
type rejection struct{ err error }

func (s *Service) transitionByCode(ctx context.Context, code string, actor Actor, target models.RedemptionStatus, action models.AuditAction) (Transition, error) {
	code = normalizeCode(code)
	if code == "" {
		return Transition{}, apperr.Validation("claim code is required")
	}

	var (
		out    Transition
		reject *rejection
	)
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		out, reject = Transition{}, nil
		now := s.now().UTC()

		var r models.Redemption
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("claim_code = ?", code).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrRedemptionNotFound.Withf("no redemption with code %s", code)
		}
		if err != nil {
			return fmt.Errorf("lock redemption: %w", err)
		}

		entry := &models.RedemptionAudit{
			RedemptionID: r.ID,
			Action:       action,
			ActorID:      actorID(actor),
			Station:      actor.Station,
			DeviceID:     actor.DeviceID,
			CreatedAt:    now,
		}
		switch {
		case r.Status.Reached(target):
			entry.Outcome = models.OutcomeDuplicate
			entry.Note = fmt.Sprintf("already %s", r.Status)
			out = Transition{Redemption: r, AlreadyProcessed: true, Message: fmt.Sprintf("redemption already %s", r.Status)}
		case r.Expired(now):
			entry.Outcome = models.OutcomeExpired
			reject = &rejection{apperr.ErrRedemptionExpired.Withf("code %s expired on %s", code, r.ExpiresAt.Format(time.DateOnly))}
		case !models.IsValidTransition(r.Category, r.Status, target):
			entry.Outcome = models.OutcomeInvalid
			entry.Note = fmt.Sprintf("%s to %s", r.Status, target)
			reject = &rejection{apperr.Validation("cannot move a %s redemption from %s to %s", r.Category, r.Status, target)}
		default:
			if err := s.advance(tx, &r, target, actorID(actor), now); err != nil {
				return err
			}
			entry.Outcome = models.OutcomeOK
			out = Transition{Redemption: r, Message: fmt.Sprintf("redemption %s", target)}
		}
		return s.audit.Append(ctx, tx, entry)
	})
	if err != nil {
		s.metrics.Transition(string(action), string(models.OutcomeError))
		return Transition{}, err
	}
	if reject != nil {
		s.metrics.Transition(string(action), apperr.Code(reject.err))
		return Transition{}, reject.err
	}

	outcome := models.OutcomeOK
	if out.AlreadyProcessed {
		outcome = models.OutcomeDuplicate
	}
	s.metrics.Transition(string(action), string(outcome))
	s.logger.Info("redemption transition", "redemption_id", out.Redemption.ID, "action", action, "outcome", outcome, "station", actor.Station)
	return out, nil
}

// ScanCode looks up a redemption by code and records the scan without
// changing its status.
func (s *Service) ScanCode(ctx context.Context, code string, actor Actor) (models.Redemption, error) {
	code = normalizeCode(code)
	if code == "" {
		return models.Redemption{}, apperr.Validation("claim code is required")
	}
	var (
		r       models.Redemption
		outcome models.AuditOutcome
	)
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		r = models.Redemption{}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("claim_code = ?", code).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrRedemptionNotFound.Withf("no redemption with code %s", code)
		}
		if err != nil {
			return fmt.Errorf("lock redemption: %w", err)
		}
		now := s.now().UTC()
		entry := &models.RedemptionAudit{
			RedemptionID: r.ID,
			Action:       models.AuditScan,
			ActorID:      actorID(actor),
			Station:      actor.Station,
			DeviceID:     actor.DeviceID,
			Outcome:      models.OutcomeOK,
			Note:         string(r.Status),
			CreatedAt:    now,
		}
		if r.Expired(now) {
			entry.Outcome = models.OutcomeExpired
		}
		outcome = entry.Outcome
		return s.audit.Append(ctx, tx, entry)
	})
	if err != nil {
		return models.Redemption{}, err
	}
	s.metrics.Transition(string(models.AuditScan), string(outcome))
	return r, nil
}

// ConfirmReceipt lets the owner of a digital redemption mark it delivered.
// Expiry does not apply: the code was already used to obtain the item.
func (s *Service) ConfirmReceipt(ctx context.Context, ac auth.Context, id uuid.UUID) (Transition, error) {
	var out Transition
	err := database.Transact(ctx, s.db, s.txOpts, func(tx *gorm.DB) error {
		out = Transition{}
		var r models.Redemption
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && r.UserID != ac.UserID) {
			return apperr.ErrRedemptionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock redemption: %w", err)
		}
		if r.Category != models.ProductDigital {
			return apperr.ErrRedemptionNotDigital
		}

		now := s.now().UTC()
		entry := &models.RedemptionAudit{
			RedemptionID: r.ID,
			Action:       models.AuditReceive,
			ActorID:      &ac.UserID,
			CreatedAt:    now,
		}
		if r.Status.Reached(models.RedemptionDelivered) {
			entry.Outcome = models.OutcomeDuplicate
			out = Transition{Redemption: r, AlreadyProcessed: true, Message: "receipt already confirmed"}
		} else {
			if err := s.advance(tx, &r, models.RedemptionDelivered, &ac.UserID, now); err != nil {
				return err
			}
			entry.Outcome = models.OutcomeOK
			out = Transition{Redemption: r, Message: "receipt confirmed"}
		}
		return s.audit.Append(ctx, tx, entry)
	})
	if err != nil {
		s.metrics.Transition(string(models.AuditReceive), apperr.Code(err))
		return Transition{}, err
	}
	outcome := models.OutcomeOK
	if out.AlreadyProcessed {
		outcome = models.OutcomeDuplicate
	}
	s.metrics.Transition(string(models.AuditReceive), string(outcome))
	return out, nil
}

// advance writes the status change guarded on the status read under lock and
// stamps the matching timestamp and actor columns.
func (s *Service) advance(tx *gorm.DB, r *models.Redemption, target models.RedemptionStatus, by *uuid.UUID, now time.Time) error {
	updates := map[string]any{"status": target, "updated_at": now}
	switch target {
	case models.RedemptionConfirmed:
		updates["confirmed_at"] = now
		updates["confirmed_by"] = by
	case models.RedemptionDelivered:
		updates["delivered_at"] = now
		updates["delivered_by"] = by
	}
	res := tx.Model(&models.Redemption{}).
		Where("id = ? AND status = ?", r.ID, r.Status).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update redemption status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("redemption %s changed status concurrently", r.ID)
	}

	r.Status = target
	r.UpdatedAt = now
	switch target {
	case models.RedemptionConfirmed:
		r.ConfirmedAt, r.ConfirmedBy = &now, by
	case models.RedemptionDelivered:
		r.DeliveredAt, r.DeliveredBy = &now, by
	}
	return nil
}

func actorID(a Actor) *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
