package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"adsmarket/settlement/internal/models"
)

// CreateDealWithFreeze inserts the deal in PENDING and moves the escrowed
// amount from the advertiser's available balance into frozen, all in one
// transaction.
func (db *DB) CreateDealWithFreeze(ctx context.Context, deal *models.DealLedgerEntry) error {
	return db.InTransaction(func(tx *sqlx.Tx) error {
		balance, err := lockBalance(tx, deal.AdvertiserID)
		if err != nil {
			return err
		}

		if balance.Available.LT(deal.Amount) {
			return models.ErrInsufficientBalance
		}

		balance.Available = balance.Available.Sub(deal.Amount)
		balance.Frozen = balance.Frozen.Add(deal.Amount)
		if err := writeBalance(tx, balance); err != nil {
			return err
		}

		insert := `
			INSERT INTO deal_ledger (
				deal_id, advertiser_id, owner_id, amount, platform_fee, status,
				channel_ref, post_text, scheduled_post_time, verification_deadline, min_views_required
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.Exec(insert,
			deal.DealID,
			deal.AdvertiserID,
			deal.OwnerID,
			deal.Amount,
			deal.PlatformFee,
			deal.Status,
			deal.ChannelRef,
			deal.PostText,
			deal.ScheduledPostTime,
			deal.VerificationDeadline,
			deal.MinViewsRequired,
		); err != nil {
			return fmt.Errorf("failed to create deal: %w", err)
		}

		return appendHistory(tx, deal.DealID, "", models.DealStatusPending, "escrow created")
	})
}

// GetDeal retrieves a deal ledger entry by ID
func (db *DB) GetDeal(ctx context.Context, dealID uuid.UUID) (*models.DealLedgerEntry, error) {
	var deal models.DealLedgerEntry
	query := dealSelect + ` WHERE deal_id = $1`
	err := db.GetContext(ctx, &deal, query, dealID)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// GetDealsByStatus retrieves all deals with a given status
func (db *DB) GetDealsByStatus(ctx context.Context, status models.DealStatus) ([]models.DealLedgerEntry, error) {
	var deals []models.DealLedgerEntry
	query := dealSelect + ` WHERE status = $1 ORDER BY created_at ASC`
	err := db.SelectContext(ctx, &deals, query, status)
	return deals, err
}

// GetDealHistory retrieves the append-only audit log for a deal
func (db *DB) GetDealHistory(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusChange, error) {
	var history []models.DealStatusChange
	query := `
		SELECT id, deal_id, from_status, to_status, reason, created_at
		FROM deal_status_history
		WHERE deal_id = $1
		ORDER BY id ASC
	`
	err := db.SelectContext(ctx, &history, query, dealID)
	return history, err
}

// TransitionDeal applies a guarded status transition. Terminal transitions
// move the escrowed balances in the same transaction as the status write and
// the history append; an illegal transition aborts with nothing applied.
func (db *DB) TransitionDeal(ctx context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error {
	return db.transition(ctx, dealID, "", target, reason, nil)
}

// PostDeal transitions to POSTED and records the published message reference.
func (db *DB) PostDeal(ctx context.Context, dealID uuid.UUID, messageID int64, reason string) error {
	return db.transition(ctx, dealID, "", models.DealStatusPosted, reason, func(tx *sqlx.Tx) error {
		query := `UPDATE deal_ledger SET post_message_id = $2 WHERE deal_id = $1`
		_, err := tx.Exec(query, dealID, messageID)
		return err
	})
}

// DisputeDeal transitions to DISPUTED and records the dispute reason.
func (db *DB) DisputeDeal(ctx context.Context, dealID uuid.UUID, reason string) error {
	return db.transition(ctx, dealID, "", models.DealStatusDisputed, reason, func(tx *sqlx.Tx) error {
		query := `UPDATE deal_ledger SET dispute_reason = $2 WHERE deal_id = $1`
		_, err := tx.Exec(query, dealID, reason)
		return err
	})
}

// ResolveDeal settles a dispute fully in one direction. Unlike TransitionDeal
// it insists the deal is currently DISPUTED: POSTED -> RELEASED is a legal
// transition for the verifier, but an administrative resolution of a deal
// that was never disputed is not.
func (db *DB) ResolveDeal(ctx context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error {
	return db.transition(ctx, dealID, models.DealStatusDisputed, target, reason, nil)
}

// ResolveDealPartial credits both parties from a disputed deal's escrow in a
// single transaction. The split must equal the escrowed amount exactly. The
// resulting terminal status is RELEASED when the owner receives anything,
// REFUNDED otherwise.
func (db *DB) ResolveDealPartial(ctx context.Context, dealID uuid.UUID, release, refund models.Amount, reason string) (models.DealStatus, error) {
	var target models.DealStatus

	err := db.InTransaction(func(tx *sqlx.Tx) error {
		deal, err := lockDeal(tx, dealID)
		if err != nil {
			return err
		}

		if deal.Status != models.DealStatusDisputed {
			return models.ErrInvalidTransition
		}
		if !release.Add(refund).Equal(deal.Amount) {
			return models.ErrAmountMismatch
		}

		target = models.DealStatusRefunded
		if release.IsPositive() {
			target = models.DealStatusReleased
		}

		if err := unfreeze(tx, deal.AdvertiserID, deal.Amount); err != nil {
			return err
		}
		if release.IsPositive() {
			if err := creditAvailable(tx, deal.OwnerID, release); err != nil {
				return err
			}
		}
		if refund.IsPositive() {
			if err := creditAvailable(tx, deal.AdvertiserID, refund); err != nil {
				return err
			}
		}

		if err := writeStatus(tx, dealID, target); err != nil {
			return err
		}
		return appendHistory(tx, dealID, deal.Status, target, reason)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

const dealSelect = `
	SELECT deal_id, advertiser_id, owner_id, amount, platform_fee, status,
	       channel_ref, post_text, post_message_id, scheduled_post_time,
	       verification_deadline, min_views_required, dispute_reason,
	       created_at, updated_at
	FROM deal_ledger`

// transition runs the shared guarded-transition transaction. A non-empty from
// restricts the source status on top of the transition table. extra runs
// after the status write, still inside the same transaction.
func (db *DB) transition(ctx context.Context, dealID uuid.UUID, from, target models.DealStatus, reason string, extra func(*sqlx.Tx) error) error {
	return db.InTransaction(func(tx *sqlx.Tx) error {
		deal, err := lockDeal(tx, dealID)
		if err != nil {
			return err
		}

		if from != "" && deal.Status != from {
			return fmt.Errorf("%w: requires %s, deal is %s", models.ErrInvalidTransition, from, deal.Status)
		}
		if !deal.Status.CanTransitionTo(target) {
			return models.ErrInvalidTransition
		}

		switch target {
		case models.DealStatusReleased:
			if err := settleRelease(tx, deal); err != nil {
				return err
			}
		case models.DealStatusRefunded, models.DealStatusCancelled, models.DealStatusExpired:
			if err := settleReturn(tx, deal); err != nil {
				return err
			}
		}

		if err := writeStatus(tx, dealID, target); err != nil {
			return err
		}
		if err := appendHistory(tx, dealID, deal.Status, target, reason); err != nil {
			return err
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

// lockDeal reads a deal row under FOR UPDATE, serializing transitions per deal.
func lockDeal(tx *sqlx.Tx, dealID uuid.UUID) (*models.DealLedgerEntry, error) {
	var deal models.DealLedgerEntry
	query := dealSelect + ` WHERE deal_id = $1 FOR UPDATE`
	err := tx.Get(&deal, query, dealID)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

func writeStatus(tx *sqlx.Tx, dealID uuid.UUID, status models.DealStatus) error {
	query := `UPDATE deal_ledger SET status = $2, updated_at = NOW() WHERE deal_id = $1`
	if _, err := tx.Exec(query, dealID, status); err != nil {
		return fmt.Errorf("failed to write deal status: %w", err)
	}
	return nil
}

func appendHistory(tx *sqlx.Tx, dealID uuid.UUID, from, to models.DealStatus, reason string) error {
	query := `
		INSERT INTO deal_status_history (deal_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(query, dealID, from, to, reason); err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

// unfreeze removes the escrowed amount from the advertiser's frozen balance.
func unfreeze(tx *sqlx.Tx, advertiserID string, amount models.Amount) error {
	balance, err := lockBalance(tx, advertiserID)
	if err != nil {
		return err
	}
	if balance.Frozen.LT(amount) {
		return fmt.Errorf("frozen balance %s below escrowed amount %s for %s",
			balance.Frozen, amount, advertiserID)
	}
	balance.Frozen = balance.Frozen.Sub(amount)
	return writeBalance(tx, balance)
}

// settleRelease credits the owner with amount minus the platform fee, the
// platform sink with the fee, and unfreezes the advertiser's escrow.
func settleRelease(tx *sqlx.Tx, deal *models.DealLedgerEntry) error {
	if err := unfreeze(tx, deal.AdvertiserID, deal.Amount); err != nil {
		return err
	}
	payout := deal.Amount.Sub(deal.PlatformFee)
	if err := creditAvailable(tx, deal.OwnerID, payout); err != nil {
		return err
	}
	if deal.PlatformFee.IsPositive() {
		return creditAvailable(tx, models.PlatformAccountID, deal.PlatformFee)
	}
	return nil
}

// settleReturn sends the full escrowed amount back to the advertiser.
func settleReturn(tx *sqlx.Tx, deal *models.DealLedgerEntry) error {
	if err := unfreeze(tx, deal.AdvertiserID, deal.Amount); err != nil {
		return err
	}
	return creditAvailable(tx, deal.AdvertiserID, deal.Amount)
}
