package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"adsmarket/settlement/internal/models"
)

// GetBalance retrieves a user's balance, returning a zero balance when no
// row exists yet.
func (db *DB) GetBalance(ctx context.Context, userID string) (*models.Balance, error) {
	var balance models.Balance
	query := `SELECT user_id, available, frozen FROM balances WHERE user_id = $1`
	err := db.GetContext(ctx, &balance, query, userID)
	if err == sql.ErrNoRows {
		return &models.Balance{
			UserID:    userID,
			Available: models.ZeroAmount(),
			Frozen:    models.ZeroAmount(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// lockBalance reads a balance row under FOR UPDATE, creating the row first if
// it does not exist so there is always something to lock.
func lockBalance(tx *sqlx.Tx, userID string) (*models.Balance, error) {
	insert := `
		INSERT INTO balances (user_id, available, frozen)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(insert, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var balance models.Balance
	query := `SELECT user_id, available, frozen FROM balances WHERE user_id = $1 FOR UPDATE`
	if err := tx.Get(&balance, query, userID); err != nil {
		return nil, fmt.Errorf("failed to lock balance row: %w", err)
	}
	return &balance, nil
}

// writeBalance stores absolute values computed by the caller while the row
// lock from lockBalance is still held.
func writeBalance(tx *sqlx.Tx, balance *models.Balance) error {
	query := `
		UPDATE balances
		SET available = $2, frozen = $3, updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(query, balance.UserID, balance.Available, balance.Frozen); err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

// creditAvailable adds to a user's available balance inside a transaction.
func creditAvailable(tx *sqlx.Tx, userID string, amount models.Amount) error {
	balance, err := lockBalance(tx, userID)
	if err != nil {
		return err
	}
	balance.Available = balance.Available.Add(amount)
	return writeBalance(tx, balance)
}
