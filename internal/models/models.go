package models

import (
	"time"

	"github.com/google/uuid"
)

// DepositStatus represents the state of a deposit intent
type DepositStatus string

const (
	DepositStatusPending    DepositStatus = "pending"
	DepositStatusConfirming DepositStatus = "confirming"
	DepositStatusCompleted  DepositStatus = "completed"
	DepositStatusExpired    DepositStatus = "expired"
	DepositStatusFailed     DepositStatus = "failed"
	DepositStatusCancelled  DepositStatus = "cancelled"
)

// WithdrawalStatus represents the state of a withdrawal request
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusSent       WithdrawalStatus = "sent"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
	WithdrawalStatusCancelled  WithdrawalStatus = "cancelled"
)

// DealStatus represents the state of an escrowed deal
type DealStatus string

const (
	DealStatusPending   DealStatus = "PENDING"
	DealStatusScheduled DealStatus = "SCHEDULED"
	DealStatusPosted    DealStatus = "POSTED"
	DealStatusReleased  DealStatus = "RELEASED"
	DealStatusDisputed  DealStatus = "DISPUTED"
	DealStatusRefunded  DealStatus = "REFUNDED"
	DealStatusCancelled DealStatus = "CANCELLED"
	DealStatusExpired   DealStatus = "EXPIRED"
)

// dealTransitions is the single source of truth for legal status moves.
var dealTransitions = map[DealStatus][]DealStatus{
	DealStatusPending:   {DealStatusScheduled, DealStatusPosted, DealStatusCancelled, DealStatusExpired},
	DealStatusScheduled: {DealStatusPosted, DealStatusCancelled, DealStatusDisputed},
	DealStatusPosted:    {DealStatusReleased, DealStatusDisputed},
	DealStatusDisputed:  {DealStatusReleased, DealStatusRefunded},
}

// CanTransitionTo reports whether a move from s to target is legal.
func (s DealStatus) CanTransitionTo(target DealStatus) bool {
	for _, allowed := range dealTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case DealStatusReleased, DealStatusRefunded, DealStatusCancelled, DealStatusExpired:
		return true
	}
	return false
}

// PlatformAccountID is the balance row that accumulates platform fees.
const PlatformAccountID = "platform"

// Balance holds a user's spendable and escrowed funds
type Balance struct {
	UserID    string `db:"user_id"`
	Available Amount `db:"available"`
	Frozen    Amount `db:"frozen"`
}

// DepositIntent is created before the user sends funds; the tag is embedded
// in the on-chain transfer comment so the matcher can attribute it.
type DepositIntent struct {
	ID             uuid.UUID     `db:"id"`
	UserID         string        `db:"user_id"`
	ExpectedAmount Amount        `db:"expected_amount"`
	Tag            string        `db:"tag"`
	Status         DepositStatus `db:"status"`
	CreatedAt      time.Time     `db:"created_at"`
	ExpiresAt      time.Time     `db:"expires_at"`
}

// DepositCredit records a balance credit keyed by the external transaction
// identifier. The primary key on TxID is what makes double credits impossible.
type DepositCredit struct {
	TxID       string    `db:"tx_id"`
	IntentID   uuid.UUID `db:"intent_id"`
	Amount     Amount    `db:"amount"`
	CreditedAt time.Time `db:"credited_at"`
}

// WithdrawalRequest is a payout to an external address. Amount is reserved
// out of the available balance the moment the row is created.
type WithdrawalRequest struct {
	ID          uuid.UUID        `db:"id"`
	UserID      string           `db:"user_id"`
	Amount      Amount           `db:"amount"`
	Destination string           `db:"destination"`
	Status      WithdrawalStatus `db:"status"`
	ChainTxRef  *string          `db:"chain_tx_ref"`
	CreatedAt   time.Time        `db:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

// DealLedgerEntry is the per-deal escrow record. Status is the single source
// of truth for where the escrowed amount currently sits.
type DealLedgerEntry struct {
	DealID               uuid.UUID  `db:"deal_id"`
	AdvertiserID         string     `db:"advertiser_id"`
	OwnerID              string     `db:"owner_id"`
	Amount               Amount     `db:"amount"`
	PlatformFee          Amount     `db:"platform_fee"`
	Status               DealStatus `db:"status"`
	ChannelRef           string     `db:"channel_ref"`
	PostText             *string    `db:"post_text"`
	PostMessageID        *int64     `db:"post_message_id"`
	ScheduledPostTime    *time.Time `db:"scheduled_post_time"`
	VerificationDeadline *time.Time `db:"verification_deadline"`
	MinViewsRequired     *int64     `db:"min_views_required"`
	DisputeReason        *string    `db:"dispute_reason"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// DealStatusChange is one row of the append-only audit log.
type DealStatusChange struct {
	ID         int64      `db:"id"`
	DealID     uuid.UUID  `db:"deal_id"`
	FromStatus DealStatus `db:"from_status"`
	ToStatus   DealStatus `db:"to_status"`
	Reason     string     `db:"reason"`
	CreatedAt  time.Time  `db:"created_at"`
}

// ChainTransaction is the narrow schema extracted from raw ledger payloads.
// Anything that does not parse into this shape never reaches the ledger.
type ChainTransaction struct {
	TxID      string
	From      string
	Amount    Amount
	Comment   string
	Timestamp time.Time
}
