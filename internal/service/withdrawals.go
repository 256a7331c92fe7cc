package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

// WithdrawalService reserves balances and executes outbound transfers,
// confirming them through sequence-number advancement.
type WithdrawalService struct {
	store   WithdrawalStore
	gateway ChainGateway
	cfg     *config.Config
	logger  *zap.Logger

	// One mutex per source account. The chain account has a single mutable
	// sequence number, so two in-flight transfers from the same account
	// corrupt or silently drop each other.
	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// NewWithdrawalService creates a new withdrawal executor
func NewWithdrawalService(store WithdrawalStore, gateway ChainGateway, cfg *config.Config, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.Named("withdrawals"),
		accounts: make(map[string]*sync.Mutex),
	}
}

// RequestWithdrawal validates the request and atomically reserves the amount
// out of the user's available balance before any external call happens.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, userID string, amount models.Amount, destination string) (*models.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	if !s.gateway.ValidateAddress(destination) {
		return nil, models.ErrInvalidAddress
	}

	request := &models.WithdrawalRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Destination: destination,
		Status:      models.WithdrawalStatusPending,
	}

	if err := s.store.CreateWithdrawalReservation(ctx, request); err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal requested",
		zap.String("request_id", request.ID.String()),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("destination", destination))

	return request, nil
}

// GetRequest retrieves a withdrawal request by ID
func (s *WithdrawalService) GetRequest(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return s.store.GetWithdrawalRequest(ctx, id)
}

// CancelRequest cancels a request that has not been claimed for execution.
func (s *WithdrawalService) CancelRequest(ctx context.Context, id uuid.UUID) error {
	request, err := s.store.GetWithdrawalRequest(ctx, id)
	if err != nil {
		return err
	}
	return s.store.CancelWithdrawal(ctx, id, request.UserID, request.Amount)
}

// Execute submits the transfer and waits for the source account's sequence
// number to advance. Execution for a given source account is serialized; a
// confirmation timeout marks the request failed and restores the reserved
// amount for manual reconciliation.
func (s *WithdrawalService) Execute(ctx context.Context, request *models.WithdrawalRequest) error {
	source := s.cfg.Ton.WalletAddress

	lock := s.accountLock(source)
	lock.Lock()
	defer lock.Unlock()

	claimed, err := s.store.ClaimWithdrawal(ctx, request.ID)
	if err != nil {
		return fmt.Errorf("failed to claim withdrawal: %w", err)
	}
	if !claimed {
		// Another invocation already picked it up.
		return nil
	}

	s.logger.Info("Executing withdrawal",
		zap.String("request_id", request.ID.String()),
		zap.String("destination", request.Destination),
		zap.String("amount", request.Amount.String()))

	seqBefore, err := s.gateway.GetSequenceNumber(ctx, source)
	if err != nil {
		// Nothing was submitted yet, so restoring the reservation is safe.
		s.logger.Error("Failed to read sequence number, restoring reservation",
			zap.String("request_id", request.ID.String()),
			zap.Error(err))
		if failErr := s.store.FailWithdrawal(ctx, request.ID, request.UserID, request.Amount); failErr != nil {
			return fmt.Errorf("failed to restore reservation: %w", failErr)
		}
		return err
	}

	txRef, submitErr := s.gateway.SubmitTransfer(ctx, source, request.Destination, request.Amount, "")
	if submitErr != nil && !errors.Is(submitErr, models.ErrChainUnavailable) {
		// The ledger rejected the transfer outright; it was never broadcast.
		s.logger.Error("Transfer rejected, restoring reservation",
			zap.String("request_id", request.ID.String()),
			zap.Error(submitErr))
		if failErr := s.store.FailWithdrawal(ctx, request.ID, request.UserID, request.Amount); failErr != nil {
			return fmt.Errorf("failed to restore reservation: %w", failErr)
		}
		return submitErr
	}

	if submitErr == nil {
		if err := s.store.MarkWithdrawalSent(ctx, request.ID, txRef); err != nil {
			s.logger.Error("Failed to record transfer reference",
				zap.String("request_id", request.ID.String()),
				zap.Error(err))
		}
	} else {
		// Ambiguous network failure: the transfer may still have gone
		// through, so fall through to confirmation polling and let the
		// timeout path decide.
		s.logger.Warn("Transfer submission ambiguous, polling for confirmation",
			zap.String("request_id", request.ID.String()),
			zap.Error(submitErr))
	}

	confirmed, err := s.awaitSeqnoAdvance(ctx, source, seqBefore)
	if err != nil {
		return err
	}

	if confirmed {
		if err := s.store.CompleteWithdrawal(ctx, request.ID); err != nil {
			return fmt.Errorf("failed to complete withdrawal: %w", err)
		}
		s.logger.Info("Withdrawal completed",
			zap.String("request_id", request.ID.String()),
			zap.String("tx_ref", txRef))
		return nil
	}

	// The sequence number never advanced. The transfer may or may not have
	// landed, so the request is failed and surfaced rather than retried.
	if err := s.store.FailWithdrawal(ctx, request.ID, request.UserID, request.Amount); err != nil {
		return fmt.Errorf("failed to apply compensating credit: %w", err)
	}

	s.logger.Error("Withdrawal confirmation timed out",
		zap.String("request_id", request.ID.String()),
		zap.Int("attempts", s.cfg.Escrow.ConfirmAttempts))

	return fmt.Errorf("%w: request %s", models.ErrConfirmationTimeout, request.ID)
}

// awaitSeqnoAdvance polls the account's sequence number until it moves past
// seqBefore or the bounded attempt budget is exhausted.
func (s *WithdrawalService) awaitSeqnoAdvance(ctx context.Context, account string, seqBefore uint64) (bool, error) {
	ticker := time.NewTicker(s.cfg.Escrow.ConfirmInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.cfg.Escrow.ConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}

		seq, err := s.gateway.GetSequenceNumber(ctx, account)
		if err != nil {
			s.logger.Debug("Sequence poll failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		if seq > seqBefore {
			return true, nil
		}
	}

	return false, nil
}

func (s *WithdrawalService) accountLock(account string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.accounts[account]
	if !ok {
		lock = &sync.Mutex{}
		s.accounts[account] = lock
	}
	return lock
}
