package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"adsmarket/settlement/internal/models"
)

// ChainGateway is the external ledger facade. It holds no durable state.
type ChainGateway interface {
	SubmitTransfer(ctx context.Context, from, to string, amount models.Amount, comment string) (string, error)
	GetSequenceNumber(ctx context.Context, account string) (uint64, error)
	ListConfirmedTransactions(ctx context.Context, account string, since time.Time) ([]models.ChainTransaction, error)
	ValidateAddress(address string) bool
}

// PostClient reads delivery evidence from the messaging platform and can
// publish scheduled posts.
type PostClient interface {
	PublishPost(ctx context.Context, channelRef, text string) (int64, error)
	MessageExists(ctx context.Context, channelRef string, messageID int64) (bool, error)
	GetViewCount(ctx context.Context, channelRef string, messageID int64) (int64, error)
}

// DepositStore is the persistence surface the deposit matcher needs.
type DepositStore interface {
	CreateDepositIntent(ctx context.Context, intent *models.DepositIntent) error
	GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error)
	GetOpenDepositIntents(ctx context.Context) ([]models.DepositIntent, error)
	UpdateDepositIntentStatus(ctx context.Context, id uuid.UUID, status models.DepositStatus) error
	ExpireDepositIntents(ctx context.Context, now time.Time) (int64, error)
	CancelDepositIntent(ctx context.Context, id uuid.UUID) error
	ApplyDepositCredit(ctx context.Context, txID string, intent *models.DepositIntent, received models.Amount) (bool, error)
}

// WithdrawalStore is the persistence surface the withdrawal executor needs.
type WithdrawalStore interface {
	CreateWithdrawalReservation(ctx context.Context, request *models.WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	GetWithdrawalsByStatus(ctx context.Context, status models.WithdrawalStatus) ([]models.WithdrawalRequest, error)
	ClaimWithdrawal(ctx context.Context, id uuid.UUID) (bool, error)
	MarkWithdrawalSent(ctx context.Context, id uuid.UUID, txRef string) error
	CompleteWithdrawal(ctx context.Context, id uuid.UUID) error
	FailWithdrawal(ctx context.Context, id uuid.UUID, userID string, amount models.Amount) error
	CancelWithdrawal(ctx context.Context, id uuid.UUID, userID string, amount models.Amount) error
}

// DealStore is the persistence surface for the deal ledger. Its transition
// methods are atomic: status write, history append, and balance moves commit
// together or not at all.
type DealStore interface {
	CreateDealWithFreeze(ctx context.Context, deal *models.DealLedgerEntry) error
	GetDeal(ctx context.Context, dealID uuid.UUID) (*models.DealLedgerEntry, error)
	GetDealsByStatus(ctx context.Context, status models.DealStatus) ([]models.DealLedgerEntry, error)
	GetDealHistory(ctx context.Context, dealID uuid.UUID) ([]models.DealStatusChange, error)
	TransitionDeal(ctx context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error
	PostDeal(ctx context.Context, dealID uuid.UUID, messageID int64, reason string) error
	DisputeDeal(ctx context.Context, dealID uuid.UUID, reason string) error
	ResolveDeal(ctx context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error
	ResolveDealPartial(ctx context.Context, dealID uuid.UUID, release, refund models.Amount, reason string) (models.DealStatus, error)
}
