package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"adsmarket/settlement/internal/config"
	"adsmarket/settlement/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Ton: config.TonConfig{
			RPCEndpoint:   "http://localhost:0",
			WalletAddress: "0:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		Escrow: config.EscrowConfig{
			PlatformFeeBps:      500,
			MinPlatformFee:      50000000,
			DepositToleranceBps: 100,
			DepositExpiry:       30 * time.Minute,
			ConfirmAttempts:     3,
			ConfirmInterval:     time.Millisecond,
			PendingDealGrace:    24 * time.Hour,
		},
	}
}

// fakeDepositStore implements DepositStore in memory with the same
// exactly-once credit semantics as the database layer.
type fakeDepositStore struct {
	mu       sync.Mutex
	intents  map[uuid.UUID]*models.DepositIntent
	credits  map[string]models.Amount
	balances map[string]models.Amount
}

func newFakeDepositStore() *fakeDepositStore {
	return &fakeDepositStore{
		intents:  make(map[uuid.UUID]*models.DepositIntent),
		credits:  make(map[string]models.Amount),
		balances: make(map[string]models.Amount),
	}
}

func (f *fakeDepositStore) CreateDepositIntent(_ context.Context, intent *models.DepositIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *intent
	f.intents[intent.ID] = &cp
	return nil
}

func (f *fakeDepositStore) GetDepositIntent(_ context.Context, id uuid.UUID) (*models.DepositIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *fakeDepositStore) GetOpenDepositIntents(_ context.Context) ([]models.DepositIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DepositIntent
	for _, intent := range f.intents {
		if intent.Status == models.DepositStatusPending || intent.Status == models.DepositStatusConfirming {
			out = append(out, *intent)
		}
	}
	return out, nil
}

func (f *fakeDepositStore) UpdateDepositIntentStatus(_ context.Context, id uuid.UUID, status models.DepositStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return models.ErrNotFound
	}
	intent.Status = status
	return nil
}

func (f *fakeDepositStore) ExpireDepositIntents(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, intent := range f.intents {
		if intent.Status == models.DepositStatusPending && now.After(intent.ExpiresAt) {
			intent.Status = models.DepositStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeDepositStore) CancelDepositIntent(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[id]
	if !ok {
		return models.ErrNotFound
	}
	if intent.Status != models.DepositStatusPending {
		return models.ErrNotCancellable
	}
	intent.Status = models.DepositStatusCancelled
	return nil
}

func (f *fakeDepositStore) ApplyDepositCredit(_ context.Context, txID string, intent *models.DepositIntent, received models.Amount) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.intents[intent.ID]
	if !ok {
		return false, models.ErrNotFound
	}
	if stored.Status != models.DepositStatusPending && stored.Status != models.DepositStatusConfirming {
		return false, nil
	}
	if _, dup := f.credits[txID]; dup {
		return false, nil
	}
	stored.Status = models.DepositStatusCompleted
	f.credits[txID] = received
	f.balances[stored.UserID] = f.balance(stored.UserID).Add(received)
	return true, nil
}

func (f *fakeDepositStore) balance(userID string) models.Amount {
	if b, ok := f.balances[userID]; ok {
		return b
	}
	return models.ZeroAmount()
}

// fakeChainGateway implements ChainGateway with scripted responses.
type fakeChainGateway struct {
	mu sync.Mutex

	txs     []models.ChainTransaction
	listErr error

	seqs    []uint64
	seqErr  error
	seqIdx  int
	lastSeq uint64

	submitRef  string
	submitErr  error
	submitted  int
	invalidTo  map[string]bool
	validateFn func(string) bool
}

func (f *fakeChainGateway) SubmitTransfer(_ context.Context, _, to string, _ models.Amount, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.submitRef == "" {
		return fmt.Sprintf("ref-%d", f.submitted), nil
	}
	return f.submitRef, nil
}

func (f *fakeChainGateway) GetSequenceNumber(_ context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seqErr != nil {
		return 0, f.seqErr
	}
	if f.seqIdx < len(f.seqs) {
		f.lastSeq = f.seqs[f.seqIdx]
		f.seqIdx++
	}
	return f.lastSeq, nil
}

func (f *fakeChainGateway) ListConfirmedTransactions(_ context.Context, _ string, _ time.Time) ([]models.ChainTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.ChainTransaction, len(f.txs))
	copy(out, f.txs)
	return out, nil
}

func (f *fakeChainGateway) ValidateAddress(address string) bool {
	if f.validateFn != nil {
		return f.validateFn(address)
	}
	return !f.invalidTo[address]
}

// fakeWithdrawalStore implements WithdrawalStore in memory, including the
// reserve/restore balance moves.
type fakeWithdrawalStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.WithdrawalRequest
	balances map[string]models.Amount
}

func newFakeWithdrawalStore() *fakeWithdrawalStore {
	return &fakeWithdrawalStore{
		requests: make(map[uuid.UUID]*models.WithdrawalRequest),
		balances: make(map[string]models.Amount),
	}
}

func (f *fakeWithdrawalStore) CreateWithdrawalReservation(_ context.Context, request *models.WithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	have, ok := f.balances[request.UserID]
	if !ok {
		have = models.ZeroAmount()
	}
	if have.LT(request.Amount) {
		return models.ErrInsufficientBalance
	}
	f.balances[request.UserID] = have.Sub(request.Amount)
	cp := *request
	f.requests[request.ID] = &cp
	return nil
}

func (f *fakeWithdrawalStore) GetWithdrawalRequest(_ context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *request
	return &cp, nil
}

func (f *fakeWithdrawalStore) GetWithdrawalsByStatus(_ context.Context, status models.WithdrawalStatus) ([]models.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WithdrawalRequest
	for _, request := range f.requests {
		if request.Status == status {
			out = append(out, *request)
		}
	}
	return out, nil
}

func (f *fakeWithdrawalStore) ClaimWithdrawal(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok || request.Status != models.WithdrawalStatusPending {
		return false, nil
	}
	request.Status = models.WithdrawalStatusProcessing
	return true, nil
}

func (f *fakeWithdrawalStore) MarkWithdrawalSent(_ context.Context, id uuid.UUID, txRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	request.Status = models.WithdrawalStatusSent
	request.ChainTxRef = &txRef
	return nil
}

func (f *fakeWithdrawalStore) CompleteWithdrawal(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	request.Status = models.WithdrawalStatusCompleted
	return nil
}

func (f *fakeWithdrawalStore) FailWithdrawal(_ context.Context, id uuid.UUID, userID string, amount models.Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	if request.Status != models.WithdrawalStatusProcessing && request.Status != models.WithdrawalStatusSent {
		return nil
	}
	request.Status = models.WithdrawalStatusFailed
	have, ok := f.balances[userID]
	if !ok {
		have = models.ZeroAmount()
	}
	f.balances[userID] = have.Add(amount)
	return nil
}

func (f *fakeWithdrawalStore) CancelWithdrawal(_ context.Context, id uuid.UUID, userID string, amount models.Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.requests[id]
	if !ok {
		return models.ErrNotFound
	}
	if request.Status != models.WithdrawalStatusPending {
		return models.ErrNotCancellable
	}
	request.Status = models.WithdrawalStatusCancelled
	have, ok := f.balances[userID]
	if !ok {
		have = models.ZeroAmount()
	}
	f.balances[userID] = have.Add(amount)
	return nil
}

// fakeDealStore implements DealStore in memory, enforcing the transition
// table and mirroring the terminal balance moves.
type fakeDealStore struct {
	mu       sync.Mutex
	deals    map[uuid.UUID]*models.DealLedgerEntry
	history  map[uuid.UUID][]models.DealStatusChange
	balances map[string]models.Amount
}

func newFakeDealStore() *fakeDealStore {
	return &fakeDealStore{
		deals:    make(map[uuid.UUID]*models.DealLedgerEntry),
		history:  make(map[uuid.UUID][]models.DealStatusChange),
		balances: make(map[string]models.Amount),
	}
}

func (f *fakeDealStore) credit(userID string, amount models.Amount) {
	have, ok := f.balances[userID]
	if !ok {
		have = models.ZeroAmount()
	}
	f.balances[userID] = have.Add(amount)
}

func (f *fakeDealStore) balance(userID string) models.Amount {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[userID]; ok {
		return b
	}
	return models.ZeroAmount()
}

func (f *fakeDealStore) CreateDealWithFreeze(_ context.Context, deal *models.DealLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	have, ok := f.balances[deal.AdvertiserID]
	if !ok {
		have = models.ZeroAmount()
	}
	if have.LT(deal.Amount) {
		return models.ErrInsufficientBalance
	}
	f.balances[deal.AdvertiserID] = have.Sub(deal.Amount)
	cp := *deal
	f.deals[deal.DealID] = &cp
	f.history[deal.DealID] = append(f.history[deal.DealID], models.DealStatusChange{
		DealID:   deal.DealID,
		ToStatus: models.DealStatusPending,
		Reason:   "escrow created",
	})
	return nil
}

func (f *fakeDealStore) GetDeal(_ context.Context, dealID uuid.UUID) (*models.DealLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *deal
	return &cp, nil
}

func (f *fakeDealStore) GetDealsByStatus(_ context.Context, status models.DealStatus) ([]models.DealLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DealLedgerEntry
	for _, deal := range f.deals {
		if deal.Status == status {
			out = append(out, *deal)
		}
	}
	return out, nil
}

func (f *fakeDealStore) GetDealHistory(_ context.Context, dealID uuid.UUID) ([]models.DealStatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DealStatusChange, len(f.history[dealID]))
	copy(out, f.history[dealID])
	return out, nil
}

func (f *fakeDealStore) transitionLocked(dealID uuid.UUID, target models.DealStatus, reason string) (*models.DealLedgerEntry, error) {
	deal, ok := f.deals[dealID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !deal.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, deal.Status, target)
	}
	f.history[dealID] = append(f.history[dealID], models.DealStatusChange{
		DealID:     dealID,
		FromStatus: deal.Status,
		ToStatus:   target,
		Reason:     reason,
	})
	deal.Status = target

	switch target {
	case models.DealStatusReleased:
		f.credit(deal.OwnerID, deal.Amount.Sub(deal.PlatformFee))
		f.credit(models.PlatformAccountID, deal.PlatformFee)
	case models.DealStatusRefunded, models.DealStatusCancelled, models.DealStatusExpired:
		f.credit(deal.AdvertiserID, deal.Amount)
	}
	return deal, nil
}

func (f *fakeDealStore) TransitionDeal(_ context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.transitionLocked(dealID, target, reason)
	return err
}

func (f *fakeDealStore) PostDeal(_ context.Context, dealID uuid.UUID, messageID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, err := f.transitionLocked(dealID, models.DealStatusPosted, reason)
	if err != nil {
		return err
	}
	deal.PostMessageID = &messageID
	return nil
}

func (f *fakeDealStore) DisputeDeal(_ context.Context, dealID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, err := f.transitionLocked(dealID, models.DealStatusDisputed, reason)
	if err != nil {
		return err
	}
	deal.DisputeReason = &reason
	return nil
}

func (f *fakeDealStore) ResolveDeal(_ context.Context, dealID uuid.UUID, target models.DealStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return models.ErrNotFound
	}
	if deal.Status != models.DealStatusDisputed {
		return fmt.Errorf("%w: requires %s, deal is %s",
			models.ErrInvalidTransition, models.DealStatusDisputed, deal.Status)
	}
	_, err := f.transitionLocked(dealID, target, reason)
	return err
}

func (f *fakeDealStore) ResolveDealPartial(_ context.Context, dealID uuid.UUID, release, refund models.Amount, reason string) (models.DealStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deal, ok := f.deals[dealID]
	if !ok {
		return "", models.ErrNotFound
	}
	if deal.Status != models.DealStatusDisputed {
		return "", fmt.Errorf("%w: %s -> partial resolution", models.ErrInvalidTransition, deal.Status)
	}
	if !release.Add(refund).Equal(deal.Amount) {
		return "", models.ErrAmountMismatch
	}
	terminal := models.DealStatusRefunded
	if release.IsPositive() {
		terminal = models.DealStatusReleased
	}
	f.history[dealID] = append(f.history[dealID], models.DealStatusChange{
		DealID:     dealID,
		FromStatus: deal.Status,
		ToStatus:   terminal,
		Reason:     reason,
	})
	deal.Status = terminal
	f.credit(deal.OwnerID, release)
	f.credit(deal.AdvertiserID, refund)
	return terminal, nil
}

// fakePostClient implements PostClient with scripted responses.
type fakePostClient struct {
	exists    bool
	existsErr error
	views     int64
	viewsErr  error

	published   int
	publishID   int64
	publishErr  error
	lastChannel string
	lastText    string
}

func (f *fakePostClient) PublishPost(_ context.Context, channelRef, text string) (int64, error) {
	f.published++
	f.lastChannel = channelRef
	f.lastText = text
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	return f.publishID, nil
}

func (f *fakePostClient) MessageExists(_ context.Context, _ string, _ int64) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists, nil
}

func (f *fakePostClient) GetViewCount(_ context.Context, _ string, _ int64) (int64, error) {
	if f.viewsErr != nil {
		return 0, f.viewsErr
	}
	return f.views, nil
}
