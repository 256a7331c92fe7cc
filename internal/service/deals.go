package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

// DealService owns the escrow ledger: freezing funds into deals and driving
// the status state machine that gates when they move.
type DealService struct {
	store  DealStore
	fees   *FeeService
	cfg    *config.Config
	logger *zap.Logger
}

// NewDealService creates a new deal ledger service
func NewDealService(store DealStore, fees *FeeService, cfg *config.Config, logger *zap.Logger) *DealService {
	return &DealService{
		store:  store,
		fees:   fees,
		cfg:    cfg,
		logger: logger.Named("deals"),
	}
}

// CreateEscrowParams carries everything needed to open an escrow.
type CreateEscrowParams struct {
	DealID               uuid.UUID
	AdvertiserID         string
	OwnerID              string
	Amount               models.Amount
	ChannelRef           string
	PostText             *string
	ScheduledPostTime    *time.Time
	VerificationDeadline *time.Time
	MinViewsRequired     *int64
}

// CreateEscrow freezes the amount out of the advertiser's available balance
// and opens the deal in PENDING.
func (s *DealService) CreateEscrow(ctx context.Context, params CreateEscrowParams) (*models.DealLedgerEntry, error) {
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("escrow amount must be positive")
	}
	if params.DealID == uuid.Nil {
		params.DealID = uuid.New()
	}

	deal := &models.DealLedgerEntry{
		DealID:               params.DealID,
		AdvertiserID:         params.AdvertiserID,
		OwnerID:              params.OwnerID,
		Amount:               params.Amount,
		PlatformFee:          s.fees.PlatformFee(params.Amount),
		Status:               models.DealStatusPending,
		ChannelRef:           params.ChannelRef,
		PostText:             params.PostText,
		ScheduledPostTime:    params.ScheduledPostTime,
		VerificationDeadline: params.VerificationDeadline,
		MinViewsRequired:     params.MinViewsRequired,
	}

	if err := s.store.CreateDealWithFreeze(ctx, deal); err != nil {
		return nil, err
	}

	s.logger.Info("Escrow created",
		zap.String("deal_id", deal.DealID.String()),
		zap.String("advertiser_id", deal.AdvertiserID),
		zap.String("owner_id", deal.OwnerID),
		zap.String("amount", deal.Amount.String()),
		zap.String("platform_fee", deal.PlatformFee.String()))

	return deal, nil
}

// GetDeal retrieves a deal ledger entry
func (s *DealService) GetDeal(ctx context.Context, dealID uuid.UUID) (*models.DealLedgerEntry, error) {
	return s.store.GetDeal(ctx, dealID)
}

// GetHistory retrieves the audit log for a deal
func (s *DealService) GetHistory(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusChange, error) {
	return s.store.GetDealHistory(ctx, dealID)
}

// Transition applies a guarded status transition. Terminal states move the
// escrowed balances atomically with the status write.
func (s *DealService) Transition(ctx context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error {
	if err := s.store.TransitionDeal(ctx, dealID, target, reason); err != nil {
		return err
	}

	s.logger.Info("Deal transitioned",
		zap.String("deal_id", dealID.String()),
		zap.String("to", string(target)),
		zap.String("reason", reason))

	return nil
}

// MarkPosted transitions to POSTED recording the published message.
func (s *DealService) MarkPosted(ctx context.Context, dealID uuid.UUID, messageID int64, reason string) error {
	if err := s.store.PostDeal(ctx, dealID, messageID, reason); err != nil {
		return err
	}

	s.logger.Info("Deal posted",
		zap.String("deal_id", dealID.String()),
		zap.Int64("message_id", messageID))

	return nil
}

// RaiseDispute transitions to DISPUTED with the given reason.
func (s *DealService) RaiseDispute(ctx context.Context, dealID uuid.UUID, reason string) error {
	if err := s.store.DisputeDeal(ctx, dealID, reason); err != nil {
		return err
	}

	s.logger.Warn("Deal disputed",
		zap.String("deal_id", dealID.String()),
		zap.String("reason", reason))

	return nil
}

// ExpireStalePending expires PENDING deals whose scheduled post time passed
// by more than the grace window without the deal ever being scheduled,
// returning the escrow to the advertiser.
func (s *DealService) ExpireStalePending(ctx context.Context) error {
	deals, err := s.store.GetDealsByStatus(ctx, models.DealStatusPending)
	if err != nil {
		return fmt.Errorf("failed to load pending deals: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.Escrow.PendingDealGrace)
	for i := range deals {
		deal := &deals[i]
		if deal.ScheduledPostTime == nil || deal.ScheduledPostTime.After(cutoff) {
			continue
		}

		reason := fmt.Sprintf("not scheduled within %s of planned post time", s.cfg.Escrow.PendingDealGrace)
		if err := s.store.TransitionDeal(ctx, deal.DealID, models.DealStatusExpired, reason); err != nil {
			s.logger.Error("Failed to expire stale deal",
				zap.String("deal_id", deal.DealID.String()),
				zap.Error(err))
			continue
		}

		s.logger.Info("Stale pending deal expired",
			zap.String("deal_id", deal.DealID.String()))
	}

	return nil
}
