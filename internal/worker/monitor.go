package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/models"
)

// Monitor polls the chain and the deal ledger: it reconciles deposits,
// expires stale intents and deals, publishes due posts, verifies delivered
// ones, and feeds pending withdrawals to the executor.
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger

	// Channel to send withdrawals ready for execution
	readyWithdrawals chan *models.WithdrawalRequest
}

// NewMonitor creates a new settlement monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	return &Monitor{
		manager:          manager,
		logger:           manager.logger.Named("monitor"),
		readyWithdrawals: make(chan *models.WithdrawalRequest, 100),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", DefaultPollInterval))

	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			close(m.readyWithdrawals)
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll executes one polling cycle
func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	m.logger.Debug("Starting poll cycle")

	m.reconcileDeposits(pollCtx)
	m.expireStale(pollCtx)
	m.publishDuePosts(pollCtx)
	m.verifyPostedDeals(pollCtx)
	m.collectPendingWithdrawals(pollCtx)
}

// reconcileDeposits matches confirmed incoming transfers against open intents
func (m *Monitor) reconcileDeposits(ctx context.Context) {
	if err := m.manager.depositService.Reconcile(ctx); err != nil {
		m.logger.Error("Deposit reconciliation failed", zap.Error(err))
	}
}

// expireStale sweeps deposit intents past their funding window and PENDING
// deals past their scheduling grace period
func (m *Monitor) expireStale(ctx context.Context) {
	if _, err := m.manager.depositService.ExpireSweep(ctx); err != nil {
		m.logger.Error("Deposit expiry sweep failed", zap.Error(err))
	}
	if err := m.manager.dealService.ExpireStalePending(ctx); err != nil {
		m.logger.Error("Stale deal sweep failed", zap.Error(err))
	}
}

// publishDuePosts publishes SCHEDULED deals whose post time has arrived
func (m *Monitor) publishDuePosts(ctx context.Context) {
	deals, err := m.manager.db.GetDealsByStatus(ctx, models.DealStatusScheduled)
	if err != nil {
		m.logger.Error("Failed to get scheduled deals", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for i := range deals {
		deal := &deals[i]

		select {
		case <-ctx.Done():
			return
		default:
		}

		if deal.ScheduledPostTime != nil && deal.ScheduledPostTime.After(now) {
			continue
		}
		if deal.PostText == nil {
			// The post is published out of band; the API records it.
			continue
		}

		publishCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
		messageID, err := m.manager.posts.PublishPost(publishCtx, deal.ChannelRef, *deal.PostText)
		cancel()
		if err != nil {
			m.logger.Error("Failed to publish scheduled post",
				zap.String("deal_id", deal.DealID.String()),
				zap.String("channel", deal.ChannelRef),
				zap.Error(err))
			continue
		}

		if err := m.manager.dealService.MarkPosted(ctx, deal.DealID, messageID, "scheduled post published"); err != nil {
			m.logger.Error("Failed to mark deal posted",
				zap.String("deal_id", deal.DealID.String()),
				zap.Int64("message_id", messageID),
				zap.Error(err))
		}
	}
}

// verifyPostedDeals checks delivery evidence for POSTED deals
func (m *Monitor) verifyPostedDeals(ctx context.Context) {
	deals, err := m.manager.db.GetDealsByStatus(ctx, models.DealStatusPosted)
	if err != nil {
		m.logger.Error("Failed to get posted deals", zap.Error(err))
		return
	}

	if len(deals) == 0 {
		return
	}

	m.logger.Debug("Verifying posted deals", zap.Int("count", len(deals)))

	for i := range deals {
		deal := &deals[i]

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.manager.verifyService.ProcessVerification(ctx, deal); err != nil {
			m.logger.Error("Verification failed",
				zap.String("deal_id", deal.DealID.String()),
				zap.Error(err))
		}
	}
}

// collectPendingWithdrawals feeds pending withdrawal requests to the executor
func (m *Monitor) collectPendingWithdrawals(ctx context.Context) {
	requests, err := m.manager.db.GetWithdrawalsByStatus(ctx, models.WithdrawalStatusPending)
	if err != nil {
		m.logger.Error("Failed to get pending withdrawals", zap.Error(err))
		return
	}

	for i := range requests {
		request := &requests[i]

		select {
		case m.readyWithdrawals <- request:
		case <-ctx.Done():
			return
		default:
			// Channel full; the request is picked up on the next cycle.
			m.logger.Warn("Executor channel full, deferring withdrawal",
				zap.String("request_id", request.ID.String()))
			return
		}
	}
}
