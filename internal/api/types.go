package api

import (
	"time"

	"adsmarket/settlement/internal/models"
)

// ==================== Deposits ====================

// CreateDepositRequest represents a request to open a deposit intent
type CreateDepositRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"` // in nanotons
}

// DepositResponse represents a deposit intent
type DepositResponse struct {
	IntentID       string               `json:"intent_id"`
	UserID         string               `json:"user_id"`
	ExpectedAmount string               `json:"expected_amount"` // in nanotons
	DepositAddress string               `json:"deposit_address"`
	Tag            string               `json:"tag"` // must be the transfer comment
	Status         models.DepositStatus `json:"status"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

// ==================== Withdrawals ====================

// CreateWithdrawalRequest represents a request to withdraw funds
type CreateWithdrawalRequest struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"` // in nanotons
	Destination string `json:"destination"`
}

// WithdrawalResponse represents a withdrawal request
type WithdrawalResponse struct {
	RequestID   string                  `json:"request_id"`
	UserID      string                  `json:"user_id"`
	Amount      string                  `json:"amount"` // in nanotons
	Destination string                  `json:"destination"`
	Status      models.WithdrawalStatus `json:"status"`
	ChainTxRef  *string                 `json:"chain_tx_ref,omitempty"`
}

// ==================== Balances ====================

// BalanceResponse represents a user's balance
type BalanceResponse struct {
	UserID    string `json:"user_id"`
	Available string `json:"available"` // in nanotons
	Frozen    string `json:"frozen"`    // in nanotons
}

// ==================== Deals ====================

// CreateDealRequest represents a request to open an escrowed deal
type CreateDealRequest struct {
	AdvertiserID         string     `json:"advertiser_id"`
	OwnerID              string     `json:"owner_id"`
	Amount               string     `json:"amount"` // in nanotons
	ChannelRef           string     `json:"channel_ref"`
	PostText             *string    `json:"post_text,omitempty"`
	ScheduledPostTime    *time.Time `json:"scheduled_post_time,omitempty"`
	VerificationDeadline *time.Time `json:"verification_deadline,omitempty"`
	MinViewsRequired     *int64     `json:"min_views_required,omitempty"`
}

// TransitionDealRequest represents a guarded status transition
type TransitionDealRequest struct {
	Target models.DealStatus `json:"target"`
	Reason string            `json:"reason"`
	// MessageID must be set when Target is POSTED and records the
	// published post.
	MessageID *int64 `json:"message_id,omitempty"`
}

// DisputeDealRequest represents a dispute being raised
type DisputeDealRequest struct {
	Reason string `json:"reason"`
}

// ResolveDealRequest represents an administrative dispute decision
type ResolveDealRequest struct {
	Action string `json:"action"` // release | refund | partial
	// Release and Refund are required for partial and must sum to the
	// escrowed amount exactly.
	Release string `json:"release,omitempty"` // in nanotons
	Refund  string `json:"refund,omitempty"`  // in nanotons
}

// StatusChange is one row of the deal audit log
type StatusChange struct {
	FromStatus models.DealStatus `json:"from_status"`
	ToStatus   models.DealStatus `json:"to_status"`
	Reason     string            `json:"reason"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DealResponse represents a deal ledger entry with its audit log
type DealResponse struct {
	DealID               string            `json:"deal_id"`
	AdvertiserID         string            `json:"advertiser_id"`
	OwnerID              string            `json:"owner_id"`
	Amount               string            `json:"amount"`       // in nanotons
	PlatformFee          string            `json:"platform_fee"` // in nanotons
	Status               models.DealStatus `json:"status"`
	ChannelRef           string            `json:"channel_ref"`
	PostMessageID        *int64            `json:"post_message_id,omitempty"`
	ScheduledPostTime    *time.Time        `json:"scheduled_post_time,omitempty"`
	VerificationDeadline *time.Time        `json:"verification_deadline,omitempty"`
	MinViewsRequired     *int64            `json:"min_views_required,omitempty"`
	DisputeReason        *string           `json:"dispute_reason,omitempty"`
	History              []StatusChange    `json:"history,omitempty"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
