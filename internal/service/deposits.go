package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

// reconcileSlack widens the transaction listing window so boundary
// transactions are never missed between passes. Overlap is harmless: credits
// are keyed by transaction id.
const reconcileSlack = 5 * time.Minute

// DepositService correlates deposit intents with confirmed incoming
// transactions and credits balances exactly once per matched transaction.
type DepositService struct {
	store   DepositStore
	gateway ChainGateway
	cfg     *config.Config
	logger  *zap.Logger
}

// NewDepositService creates a new deposit matcher
func NewDepositService(store DepositStore, gateway ChainGateway, cfg *config.Config, logger *zap.Logger) *DepositService {
	return &DepositService{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.Named("deposits"),
	}
}

// DepositAddress returns the watched address users send funds to.
func (s *DepositService) DepositAddress() string {
	return s.cfg.Ton.WalletAddress
}

// CreateIntent registers a deposit intent before the user sends funds. The
// returned tag must be embedded as the comment of the external transfer.
func (s *DepositService) CreateIntent(ctx context.Context, userID string, amount models.Amount) (*models.DepositIntent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	tag, err := newTag()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tag: %w", err)
	}

	now := time.Now().UTC()
	intent := &models.DepositIntent{
		ID:             uuid.New(),
		UserID:         userID,
		ExpectedAmount: amount,
		Tag:            tag,
		Status:         models.DepositStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.Escrow.DepositExpiry),
	}

	if err := s.store.CreateDepositIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to create deposit intent: %w", err)
	}

	s.logger.Info("Deposit intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("user_id", userID),
		zap.String("expected_amount", amount.String()),
		zap.Time("expires_at", intent.ExpiresAt))

	return intent, nil
}

// GetIntent returns an intent, reconciling first when it is still open so a
// status poll observes any transfer that has already confirmed.
func (s *DepositService) GetIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error) {
	intent, err := s.store.GetDepositIntent(ctx, id)
	if err != nil {
		return nil, err
	}

	if intent.Status == models.DepositStatusPending || intent.Status == models.DepositStatusConfirming {
		if err := s.Reconcile(ctx); err != nil {
			// Transient gateway failures must not break status polling.
			s.logger.Warn("On-demand reconcile failed", zap.Error(err))
		} else {
			return s.store.GetDepositIntent(ctx, id)
		}
	}

	return intent, nil
}

// CancelIntent cancels an intent that has not been matched yet.
func (s *DepositService) CancelIntent(ctx context.Context, id uuid.UUID) error {
	return s.store.CancelDepositIntent(ctx, id)
}

// Reconcile lists recent confirmed transactions at the watched address and
// settles every open intent whose tag and amount match. Reprocessing
// overlapping history windows is safe: each external transaction credits at
// most once.
func (s *DepositService) Reconcile(ctx context.Context) error {
	intents, err := s.store.GetOpenDepositIntents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open intents: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	byTag := make(map[string]*models.DepositIntent, len(intents))
	since := intents[0].CreatedAt
	for i := range intents {
		byTag[intents[i].Tag] = &intents[i]
		if intents[i].CreatedAt.Before(since) {
			since = intents[i].CreatedAt
		}
	}

	txs, err := s.gateway.ListConfirmedTransactions(ctx, s.cfg.Ton.WalletAddress, since.Add(-reconcileSlack))
	if err != nil {
		return fmt.Errorf("failed to list confirmed transactions: %w", err)
	}

	now := time.Now().UTC()
	for _, tx := range txs {
		if tx.Comment == "" {
			continue
		}
		intent, ok := byTag[tx.Comment]
		if !ok {
			continue
		}

		// A late transfer never completes an expired intent.
		if intent.Status == models.DepositStatusPending && now.After(intent.ExpiresAt) {
			s.logger.Warn("Matching transfer arrived after intent expiry",
				zap.String("intent_id", intent.ID.String()),
				zap.String("tx_id", tx.TxID))
			continue
		}

		if !models.WithinTolerance(tx.Amount, intent.ExpectedAmount, s.cfg.Escrow.DepositToleranceBps) {
			s.logger.Warn("Matching transfer below tolerance",
				zap.String("intent_id", intent.ID.String()),
				zap.String("expected", intent.ExpectedAmount.String()),
				zap.String("received", tx.Amount.String()))
			continue
		}

		if intent.Status == models.DepositStatusPending {
			if err := s.store.UpdateDepositIntentStatus(ctx, intent.ID, models.DepositStatusConfirming); err != nil {
				s.logger.Error("Failed to mark intent confirming",
					zap.String("intent_id", intent.ID.String()),
					zap.Error(err))
				continue
			}
		}

		credited, err := s.store.ApplyDepositCredit(ctx, tx.TxID, intent, tx.Amount)
		if err != nil {
			s.logger.Error("Failed to apply deposit credit",
				zap.String("intent_id", intent.ID.String()),
				zap.String("tx_id", tx.TxID),
				zap.Error(err))
			continue
		}

		if credited {
			s.logger.Info("Deposit credited",
				zap.String("intent_id", intent.ID.String()),
				zap.String("user_id", intent.UserID),
				zap.String("tx_id", tx.TxID),
				zap.String("amount", tx.Amount.String()))
			delete(byTag, tx.Comment)
		}
	}

	return nil
}

// ExpireSweep marks pending intents past their expiry window.
func (s *DepositService) ExpireSweep(ctx context.Context) (int64, error) {
	expired, err := s.store.ExpireDepositIntents(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire intents: %w", err)
	}
	if expired > 0 {
		s.logger.Info("Expired deposit intents", zap.Int64("count", expired))
	}
	return expired, nil
}

// newTag generates a cryptographically unpredictable intent tag.
func newTag() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
