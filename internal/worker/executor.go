package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/models"
)

// Executor drains the monitor's withdrawal queue and drives each request
// through submission and confirmation.
type Executor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewExecutor creates a new withdrawal executor
func NewExecutor(manager *WorkerManager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Run starts the executor loop
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping")
			return
		case request, ok := <-e.manager.monitor.readyWithdrawals:
			if !ok {
				e.logger.Info("Withdrawal channel closed, executor stopping")
				return
			}
			e.handleWithdrawal(ctx, request)
		}
	}
}

// handleWithdrawal executes a single withdrawal request. Failure handling
// lives in the service: a timed-out or rejected request is already marked
// failed with its reservation restored by the time an error surfaces here.
func (e *Executor) handleWithdrawal(ctx context.Context, request *models.WithdrawalRequest) {
	e.logger.Info("Handling withdrawal",
		zap.String("request_id", request.ID.String()),
		zap.String("amount", request.Amount.String()))

	execCtx, cancel := context.WithTimeout(ctx, WithdrawalTimeout)
	defer cancel()

	err := e.manager.withdrawalService.Execute(execCtx, request)
	if err == nil {
		return
	}

	if errors.Is(err, models.ErrConfirmationTimeout) {
		e.logger.Error("Withdrawal timed out awaiting confirmation, needs manual reconciliation",
			zap.String("request_id", request.ID.String()),
			zap.String("destination", request.Destination))
		return
	}

	e.logger.Error("Withdrawal execution failed",
		zap.String("request_id", request.ID.String()),
		zap.Error(err))
}
