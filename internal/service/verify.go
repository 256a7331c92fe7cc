package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/models"
)

// VerificationResult is the read-only outcome of a delivery check.
type VerificationResult struct {
	Verified   bool
	ViewsCount int64
	IsDeleted  bool
}

// VerifyService checks delivery evidence for posted deals and applies the
// outcome to the deal ledger.
type VerifyService struct {
	posts  PostClient
	deals  *DealService
	logger *zap.Logger
}

// NewVerifyService creates a new post verifier
func NewVerifyService(posts PostClient, deals *DealService, logger *zap.Logger) *VerifyService {
	return &VerifyService{
		posts:  posts,
		deals:  deals,
		logger: logger.Named("verify"),
	}
}

// Verify reads delivery evidence for a posted deal. It never touches the
// ledger: existence is checked first, and view counts are only read for
// posts that are still live.
func (s *VerifyService) Verify(ctx context.Context, deal *models.DealLedgerEntry) (VerificationResult, error) {
	if deal.PostMessageID == nil {
		return VerificationResult{}, fmt.Errorf("deal %s has no post reference", deal.DealID)
	}

	exists, err := s.posts.MessageExists(ctx, deal.ChannelRef, *deal.PostMessageID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("failed to check post existence: %w", err)
	}
	if !exists {
		return VerificationResult{IsDeleted: true}, nil
	}

	views, err := s.posts.GetViewCount(ctx, deal.ChannelRef, *deal.PostMessageID)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("failed to read view count: %w", err)
	}

	verified := deal.MinViewsRequired == nil || views >= *deal.MinViewsRequired

	return VerificationResult{
		Verified:   verified,
		ViewsCount: views,
	}, nil
}

// ProcessVerification applies a verification outcome to a POSTED deal:
//   - a deleted post raises a dispute (deletion may itself be contested,
//     so the money decision is left to the resolver)
//   - a verified post releases the escrow
//   - an unverified post before the deadline stays untouched, views can
//     still grow between checks
//   - a missed deadline raises a dispute rather than silently refunding
func (s *VerifyService) ProcessVerification(ctx context.Context, deal *models.DealLedgerEntry) error {
	result, err := s.Verify(ctx, deal)
	if err != nil {
		// Evidence could not be read; the next sweep retries.
		return err
	}

	if result.IsDeleted {
		reason := "post deleted before verification completed"
		return s.deals.RaiseDispute(ctx, deal.DealID, reason)
	}

	if result.Verified {
		reason := fmt.Sprintf("post verified with %d views", result.ViewsCount)
		return s.deals.Transition(ctx, deal.DealID, models.DealStatusReleased, reason)
	}

	deadlinePassed := deal.VerificationDeadline != nil && time.Now().UTC().After(*deal.VerificationDeadline)
	if !deadlinePassed {
		s.logger.Debug("Post not yet verified, will re-check",
			zap.String("deal_id", deal.DealID.String()),
			zap.Int64("views", result.ViewsCount))
		return nil
	}

	required := int64(0)
	if deal.MinViewsRequired != nil {
		required = *deal.MinViewsRequired
	}
	reason := fmt.Sprintf("verification deadline passed with %d views, required %d",
		result.ViewsCount, required)
	return s.deals.RaiseDispute(ctx, deal.DealID, reason)
}
