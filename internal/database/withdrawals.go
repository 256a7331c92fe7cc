package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"adsmarket/settlement/internal/models"
)

// CreateWithdrawalReservation atomically debits the user's available balance
// and creates the request in pending state. After this commits, the reserved
// amount can never be spent twice, whatever happens during execution.
func (db *DB) CreateWithdrawalReservation(ctx context.Context, request *models.WithdrawalRequest) error {
	return db.InTransaction(func(tx *sqlx.Tx) error {
		balance, err := lockBalance(tx, request.UserID)
		if err != nil {
			return err
		}

		if balance.Available.LT(request.Amount) {
			return models.ErrInsufficientBalance
		}

		balance.Available = balance.Available.Sub(request.Amount)
		if err := writeBalance(tx, balance); err != nil {
			return err
		}

		insert := `
			INSERT INTO withdrawal_requests (id, user_id, amount, destination, status)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.Exec(insert,
			request.ID, request.UserID, request.Amount, request.Destination, request.Status); err != nil {
			return fmt.Errorf("failed to create withdrawal request: %w", err)
		}
		return nil
	})
}

// GetWithdrawalRequest retrieves a request by ID
func (db *DB) GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	var request models.WithdrawalRequest
	query := `
		SELECT id, user_id, amount, destination, status, chain_tx_ref, created_at, updated_at
		FROM withdrawal_requests
		WHERE id = $1
	`
	err := db.GetContext(ctx, &request, query, id)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// GetWithdrawalsByStatus retrieves all requests with a given status
func (db *DB) GetWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus) ([]models.WithdrawalRequest, error) {
	var requests []models.WithdrawalRequest
	query := `
		SELECT id, user_id, amount, destination, status, chain_tx_ref, created_at, updated_at
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`
	err := db.SelectContext(ctx, &requests, query, status)
	return requests, err
}

// ClaimWithdrawal moves a pending request to processing. The status guard in
// the WHERE clause means exactly one caller wins a concurrent claim.
func (db *DB) ClaimWithdrawal(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`
	res, err := db.ExecContext(ctx, query, id, models.WithdrawalStatusProcessing, models.WithdrawalStatusPending)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkWithdrawalSent records the submitted transfer reference
func (db *DB) MarkWithdrawalSent(ctx context.Context, id uuid.UUID, txRef string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $2, chain_tx_ref = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, models.WithdrawalStatusSent, txRef)
	return err
}

// CompleteWithdrawal marks a request completed after seqno confirmation
func (db *DB) CompleteWithdrawal(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.ExecContext(ctx, query, id, models.WithdrawalStatusCompleted)
	return err
}

// FailWithdrawal marks the request failed and restores the reserved amount
// back into available in the same transaction (compensating credit). The
// status guard makes the credit single-shot: a request that already reached a
// terminal status is left untouched.
func (db *DB) FailWithdrawal(ctx context.Context, id uuid.UUID, userID string, amount models.Amount) error {
	return db.InTransaction(func(tx *sqlx.Tx) error {
		update := `
			UPDATE withdrawal_requests
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status IN ($3, $4)
		`
		res, err := tx.Exec(update, id, models.WithdrawalStatusFailed,
			models.WithdrawalStatusProcessing, models.WithdrawalStatusSent)
		if err != nil {
			return fmt.Errorf("failed to mark withdrawal failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		return creditAvailable(tx, userID, amount)
	})
}

// CancelWithdrawal cancels a request that has not been claimed yet and
// restores the reservation. A processing request is not cancellable.
func (db *DB) CancelWithdrawal(ctx context.Context, id uuid.UUID, userID string, amount models.Amount) error {
	return db.InTransaction(func(tx *sqlx.Tx) error {
		update := `
			UPDATE withdrawal_requests
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`
		res, err := tx.Exec(update, id, models.WithdrawalStatusCancelled, models.WithdrawalStatusPending)
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
		return creditAvailable(tx, userID, amount)
	})
}
