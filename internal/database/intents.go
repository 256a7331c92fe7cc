package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"adsmarket/settlement/internal/models"
)

// CreateDepositIntent persists a new intent in pending state
func (db *DB) CreateDepositIntent(ctx context.Context, intent *models.DepositIntent) error {
	query := `
		INSERT INTO deposit_intents (id, user_id, expected_amount, tag, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.ExecContext(
		ctx, query,
		intent.ID,
		intent.UserID,
		intent.ExpectedAmount,
		intent.Tag,
		intent.Status,
		intent.CreatedAt,
		intent.ExpiresAt,
	)
	return err
}

// GetDepositIntent retrieves an intent by ID
func (db *DB) GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error) {
	var intent models.DepositIntent
	query := `
		SELECT id, user_id, expected_amount, tag, status, created_at, expires_at
		FROM deposit_intents
		WHERE id = $1
	`
	err := db.GetContext(ctx, &intent, query, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetOpenDepositIntents retrieves intents still waiting for a matching
// transaction (pending or confirming).
func (db *DB) GetOpenDepositIntents(ctx context.Context) ([]models.DepositIntent, error) {
	var intents []models.DepositIntent
	query := `
		SELECT id, user_id, expected_amount, tag, status, created_at, expires_at
		FROM deposit_intents
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`
	err := db.SelectContext(ctx, &intents, query,
		models.DepositStatusPending, models.DepositStatusConfirming)
	return intents, err
}

// UpdateDepositIntentStatus updates the status of an intent
func (db *DB) UpdateDepositIntentStatus(ctx context.Context, id uuid.UUID, status models.DepositStatus) error {
	query := `UPDATE deposit_intents SET status = $2 WHERE id = $1`
	_, err := db.ExecContext(ctx, query, id, status)
	return err
}

// ExpireDepositIntents marks pending intents past their expiry window
func (db *DB) ExpireDepositIntents(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE deposit_intents
		SET status = $1
		WHERE status = $2 AND expires_at < $3
	`
	res, err := db.ExecContext(ctx, query, models.DepositStatusExpired, models.DepositStatusPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CancelDepositIntent cancels an intent that is still pending
func (db *DB) CancelDepositIntent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE deposit_intents
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	res, err := db.ExecContext(ctx, query, id, models.DepositStatusCancelled, models.DepositStatusPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotCancellable
	}
	return nil
}

// errIntentNotOpen aborts a credit transaction whose intent was already
// settled by a concurrent pass.
var errIntentNotOpen = errors.New("intent is no longer open")

// ApplyDepositCredit completes an intent and credits the received amount in
// one transaction, keyed on the external transaction identifier. The insert
// into deposit_credits conflicts when the transaction was already credited;
// the status guard on the intent update covers a second transaction carrying
// the same tag. Either way nothing is applied and false is returned.
func (db *DB) ApplyDepositCredit(ctx context.Context, txID string, intent *models.DepositIntent, received models.Amount) (bool, error) {
	credited := false

	err := db.InTransaction(func(tx *sqlx.Tx) error {
		update := `
			UPDATE deposit_intents
			SET status = $2
			WHERE id = $1 AND status IN ($3, $4)
		`
		res, err := tx.Exec(update, intent.ID, models.DepositStatusCompleted,
			models.DepositStatusPending, models.DepositStatusConfirming)
		if err != nil {
			return fmt.Errorf("failed to complete intent: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errIntentNotOpen
		}

		insert := `
			INSERT INTO deposit_credits (tx_id, intent_id, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (tx_id) DO NOTHING
		`
		res, err = tx.Exec(insert, txID, intent.ID, received)
		if err != nil {
			return fmt.Errorf("failed to record credit: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return models.ErrDuplicateCredit
		}

		if err := creditAvailable(tx, intent.UserID, received); err != nil {
			return err
		}

		credited = true
		return nil
	})
	if errors.Is(err, errIntentNotOpen) || errors.Is(err, models.ErrDuplicateCredit) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return credited, nil
}
