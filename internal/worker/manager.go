package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/database"
	"adsmarket/settlement/internal/service"
)

// Constants for worker configuration
const (
	DefaultPollInterval = 30 * time.Second
	MonitorTimeout      = 30 * time.Second
	PublishTimeout      = time.Minute
	WithdrawalTimeout   = 5 * time.Minute
)

// WorkerManager orchestrates the background settlement loops: the monitor
// that reconciles chain state with the ledger and the executor that drives
// outbound withdrawals.
type WorkerManager struct {
	db     *database.DB
	cfg    *config.Config
	logger *zap.Logger

	// Services
	depositService    *service.DepositService
	withdrawalService *service.WithdrawalService
	dealService       *service.DealService
	verifyService     *service.VerifyService
	posts             service.PostClient

	// Worker components
	monitor  *Monitor
	executor *Executor

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager creates a new worker manager with all required dependencies
func NewWorkerManager(
	db *database.DB,
	cfg *config.Config,
	depositService *service.DepositService,
	withdrawalService *service.WithdrawalService,
	dealService *service.DealService,
	verifyService *service.VerifyService,
	posts service.PostClient,
	logger *zap.Logger,
) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		db:                db,
		cfg:               cfg,
		logger:            logger.Named("worker"),
		depositService:    depositService,
		withdrawalService: withdrawalService,
		dealService:       dealService,
		verifyService:     verifyService,
		posts:             posts,
		ctx:               ctx,
		cancel:            cancel,
	}

	wm.monitor = NewMonitor(wm)
	wm.executor = NewExecutor(wm)

	return wm
}

// Start starts all worker goroutines
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Duration("poll_interval", DefaultPollInterval))

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.monitor.Run(wm.ctx)
	}()

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.executor.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown gracefully stops all workers
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	wm.logger.Info("Worker manager shutdown complete")
	return nil
}
