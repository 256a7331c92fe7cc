package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adsmarket/settlement/internal/models"
)

// DisputeAction is the administrative decision applied to a disputed deal.
type DisputeAction string

const (
	DisputeActionRelease DisputeAction = "release"
	DisputeActionRefund  DisputeAction = "refund"
	DisputeActionPartial DisputeAction = "partial"
)

// DisputeDecision carries the action and, for partial splits, the exact
// amounts going to each party.
type DisputeDecision struct {
	Action  DisputeAction
	Release models.Amount
	Refund  models.Amount
}

// DisputeService applies administrative decisions to disputed deals.
type DisputeService struct {
	store  DealStore
	logger *zap.Logger
}

// NewDisputeService creates a new dispute resolver
func NewDisputeService(store DealStore, logger *zap.Logger) *DisputeService {
	return &DisputeService{
		store:  store,
		logger: logger.Named("disputes"),
	}
}

// Resolve finalizes a disputed deal. Only legal from DISPUTED; a partial
// split must equal the escrowed amount exactly, with no rounding tolerance.
func (s *DisputeService) Resolve(ctx context.Context, dealID uuid.UUID, decision DisputeDecision) (models.DealStatus, error) {
	switch decision.Action {
	case DisputeActionRelease:
		reason := "dispute resolved: full release to owner"
		if err := s.store.ResolveDeal(ctx, dealID, models.DealStatusReleased, reason); err != nil {
			return "", err
		}
		s.logResolved(dealID, models.DealStatusReleased, reason)
		return models.DealStatusReleased, nil

	case DisputeActionRefund:
		reason := "dispute resolved: full refund to advertiser"
		if err := s.store.ResolveDeal(ctx, dealID, models.DealStatusRefunded, reason); err != nil {
			return "", err
		}
		s.logResolved(dealID, models.DealStatusRefunded, reason)
		return models.DealStatusRefunded, nil

	case DisputeActionPartial:
		if decision.Release.IsNil() || decision.Refund.IsNil() ||
			decision.Release.IsNegative() || decision.Refund.IsNegative() {
			return "", models.ErrAmountMismatch
		}

		deal, err := s.store.GetDeal(ctx, dealID)
		if err != nil {
			return "", err
		}
		if !decision.Release.Add(decision.Refund).Equal(deal.Amount) {
			return "", models.ErrAmountMismatch
		}

		reason := fmt.Sprintf("dispute resolved: partial split, release=%s refund=%s",
			decision.Release, decision.Refund)
		terminal, err := s.store.ResolveDealPartial(ctx, dealID, decision.Release, decision.Refund, reason)
		if err != nil {
			return "", err
		}
		s.logResolved(dealID, terminal, reason)
		return terminal, nil

	default:
		return "", fmt.Errorf("unknown dispute action %q", decision.Action)
	}
}

func (s *DisputeService) logResolved(dealID uuid.UUID, terminal models.DealStatus, reason string) {
	s.logger.Info("Dispute resolved",
		zap.String("deal_id", dealID.String()),
		zap.String("terminal_status", string(terminal)),
		zap.String("reason", reason))
}
