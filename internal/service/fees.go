package service

import (
	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

// FeeService computes the platform fee withheld from released escrows
type FeeService struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(cfg *config.Config, logger *zap.Logger) *FeeService {
	return &FeeService{
		cfg:    cfg,
		logger: logger,
	}
}

// PlatformFee calculates the fee for an escrowed amount:
// max(amount * feeBps / 10000, minFee), capped at the amount itself so the
// owner payout can never go negative.
func (s *FeeService) PlatformFee(amount models.Amount) models.Amount {
	fee := amount.MulBps(s.cfg.Escrow.PlatformFeeBps)

	minFee := models.NewAmount(s.cfg.Escrow.MinPlatformFee)
	if fee.LT(minFee) {
		fee = minFee
	}
	if fee.GT(amount) {
		fee = amount
	}

	s.logger.Debug("Calculated platform fee",
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))

	return fee
}
