package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"adsmarket/settlement/internal/models"
	"adsmarket/settlement/internal/service"
)

// BalanceStore reads user balances. *database.DB satisfies it.
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db                BalanceStore
	depositService    *service.DepositService
	withdrawalService *service.WithdrawalService
	dealService       *service.DealService
	disputeService    *service.DisputeService
	logger            *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	db BalanceStore,
	depositService *service.DepositService,
	withdrawalService *service.WithdrawalService,
	dealService *service.DealService,
	disputeService *service.DisputeService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		db:                db,
		depositService:    depositService,
		withdrawalService: withdrawalService,
		dealService:       dealService,
		disputeService:    disputeService,
		logger:            logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: "1.0.0",
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Deposits ====================

// HandleCreateDeposit handles POST /api/v1/deposits
func (h *Handler) HandleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	amount, err := models.AmountFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount: must be an integer", err)
		return
	}
	if !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	intent, err := h.depositService.CreateIntent(r.Context(), req.UserID, amount)
	if err != nil {
		h.respondServiceError(w, "Failed to create deposit intent", err)
		return
	}

	respondJSON(w, http.StatusCreated, h.depositResponse(intent))
}

// HandleGetDeposit handles GET /api/v1/deposits/{intentId}
func (h *Handler) HandleGetDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "intentId")
	if !ok {
		return
	}

	intent, err := h.depositService.GetIntent(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deposit intent", err)
		return
	}

	respondJSON(w, http.StatusOK, h.depositResponse(intent))
}

// HandleCancelDeposit handles POST /api/v1/deposits/{intentId}/cancel
func (h *Handler) HandleCancelDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "intentId")
	if !ok {
		return
	}

	if err := h.depositService.CancelIntent(r.Context(), id); err != nil {
		h.respondServiceError(w, "Failed to cancel deposit intent", err)
		return
	}

	intent, err := h.depositService.GetIntent(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deposit intent", err)
		return
	}
	respondJSON(w, http.StatusOK, h.depositResponse(intent))
}

func (h *Handler) depositResponse(intent *models.DepositIntent) DepositResponse {
	return DepositResponse{
		IntentID:       intent.ID.String(),
		UserID:         intent.UserID,
		ExpectedAmount: intent.ExpectedAmount.String(),
		DepositAddress: h.depositService.DepositAddress(),
		Tag:            intent.Tag,
		Status:         intent.Status,
		ExpiresAt:      intent.ExpiresAt,
	}
}

// ==================== Withdrawals ====================

// HandleCreateWithdrawal handles POST /api/v1/withdrawals
func (h *Handler) HandleCreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	if req.Destination == "" {
		respondError(w, http.StatusBadRequest, "destination is required", nil)
		return
	}
	amount, err := models.AmountFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount: must be an integer", err)
		return
	}
	if !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	request, err := h.withdrawalService.RequestWithdrawal(r.Context(), req.UserID, amount, req.Destination)
	if err != nil {
		h.respondServiceError(w, "Failed to request withdrawal", err)
		return
	}

	respondJSON(w, http.StatusCreated, withdrawalResponse(request))
}

// HandleGetWithdrawal handles GET /api/v1/withdrawals/{requestId}
func (h *Handler) HandleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "requestId")
	if !ok {
		return
	}

	request, err := h.withdrawalService.GetRequest(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get withdrawal", err)
		return
	}

	respondJSON(w, http.StatusOK, withdrawalResponse(request))
}

// HandleCancelWithdrawal handles POST /api/v1/withdrawals/{requestId}/cancel
func (h *Handler) HandleCancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "requestId")
	if !ok {
		return
	}

	if err := h.withdrawalService.CancelRequest(r.Context(), id); err != nil {
		h.respondServiceError(w, "Failed to cancel withdrawal", err)
		return
	}

	request, err := h.withdrawalService.GetRequest(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get withdrawal", err)
		return
	}
	respondJSON(w, http.StatusOK, withdrawalResponse(request))
}

func withdrawalResponse(request *models.WithdrawalRequest) WithdrawalResponse {
	return WithdrawalResponse{
		RequestID:   request.ID.String(),
		UserID:      request.UserID,
		Amount:      request.Amount.String(),
		Destination: request.Destination,
		Status:      request.Status,
		ChainTxRef:  request.ChainTxRef,
	}
}

// ==================== Balances ====================

// HandleGetBalance handles GET /api/v1/balances/{userId}
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	balance, err := h.db.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "Failed to get balance", err)
		return
	}

	respondJSON(w, http.StatusOK, BalanceResponse{
		UserID:    balance.UserID,
		Available: balance.Available.String(),
		Frozen:    balance.Frozen.String(),
	})
}

// ==================== Deals ====================

// HandleCreateDeal handles POST /api/v1/deals
func (h *Handler) HandleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.AdvertiserID == "" || req.OwnerID == "" {
		respondError(w, http.StatusBadRequest, "advertiser_id and owner_id are required", nil)
		return
	}
	if req.ChannelRef == "" {
		respondError(w, http.StatusBadRequest, "channel_ref is required", nil)
		return
	}
	amount, err := models.AmountFromString(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid amount: must be an integer", err)
		return
	}
	if !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	deal, err := h.dealService.CreateEscrow(r.Context(), service.CreateEscrowParams{
		AdvertiserID:         req.AdvertiserID,
		OwnerID:              req.OwnerID,
		Amount:               amount,
		ChannelRef:           req.ChannelRef,
		PostText:             req.PostText,
		ScheduledPostTime:    req.ScheduledPostTime,
		VerificationDeadline: req.VerificationDeadline,
		MinViewsRequired:     req.MinViewsRequired,
	})
	if err != nil {
		h.respondServiceError(w, "Failed to create deal", err)
		return
	}

	respondJSON(w, http.StatusCreated, dealResponse(deal, nil))
}

// HandleGetDeal handles GET /api/v1/deals/{dealId}
// Returns the ledger entry together with its status history
func (h *Handler) HandleGetDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "dealId")
	if !ok {
		return
	}

	deal, err := h.dealService.GetDeal(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deal", err)
		return
	}

	history, err := h.dealService.GetHistory(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deal history", err)
		return
	}

	respondJSON(w, http.StatusOK, dealResponse(deal, history))
}

// HandleTransitionDeal handles POST /api/v1/deals/{dealId}/transition
func (h *Handler) HandleTransitionDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "dealId")
	if !ok {
		return
	}

	var req TransitionDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Target == "" {
		respondError(w, http.StatusBadRequest, "target is required", nil)
		return
	}

	var err error
	if req.Target == models.DealStatusPosted && req.MessageID != nil {
		err = h.dealService.MarkPosted(r.Context(), id, *req.MessageID, req.Reason)
	} else {
		err = h.dealService.Transition(r.Context(), id, req.Target, req.Reason)
	}
	if err != nil {
		h.respondServiceError(w, "Failed to transition deal", err)
		return
	}

	h.respondDealWithHistory(w, r, id)
}

// HandleDisputeDeal handles POST /api/v1/deals/{dealId}/dispute
func (h *Handler) HandleDisputeDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "dealId")
	if !ok {
		return
	}

	var req DisputeDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	if err := h.dealService.RaiseDispute(r.Context(), id, req.Reason); err != nil {
		h.respondServiceError(w, "Failed to raise dispute", err)
		return
	}

	h.respondDealWithHistory(w, r, id)
}

// HandleResolveDeal handles POST /api/v1/deals/{dealId}/resolve
func (h *Handler) HandleResolveDeal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "dealId")
	if !ok {
		return
	}

	var req ResolveDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	decision := service.DisputeDecision{Action: service.DisputeAction(req.Action)}
	if decision.Action == service.DisputeActionPartial {
		release, err := models.AmountFromString(req.Release)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid release amount", err)
			return
		}
		refund, err := models.AmountFromString(req.Refund)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid refund amount", err)
			return
		}
		decision.Release = release
		decision.Refund = refund
	}

	if _, err := h.disputeService.Resolve(r.Context(), id, decision); err != nil {
		h.respondServiceError(w, "Failed to resolve dispute", err)
		return
	}

	h.respondDealWithHistory(w, r, id)
}

func (h *Handler) respondDealWithHistory(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	deal, err := h.dealService.GetDeal(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deal", err)
		return
	}
	history, err := h.dealService.GetHistory(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, "Failed to get deal history", err)
		return
	}
	respondJSON(w, http.StatusOK, dealResponse(deal, history))
}

func dealResponse(deal *models.DealLedgerEntry, history []models.DealStatusChange) DealResponse {
	resp := DealResponse{
		DealID:               deal.DealID.String(),
		AdvertiserID:         deal.AdvertiserID,
		OwnerID:              deal.OwnerID,
		Amount:               deal.Amount.String(),
		PlatformFee:          deal.PlatformFee.String(),
		Status:               deal.Status,
		ChannelRef:           deal.ChannelRef,
		PostMessageID:        deal.PostMessageID,
		ScheduledPostTime:    deal.ScheduledPostTime,
		VerificationDeadline: deal.VerificationDeadline,
		MinViewsRequired:     deal.MinViewsRequired,
		DisputeReason:        deal.DisputeReason,
	}
	for _, change := range history {
		resp.History = append(resp.History, StatusChange{
			FromStatus: change.FromStatus,
			ToStatus:   change.ToStatus,
			Reason:     change.Reason,
			CreatedAt:  change.CreatedAt,
		})
	}
	return resp
}

// ==================== Helper Functions ====================

// pathUUID extracts and parses a UUID path variable, responding with 400 on
// failure.
func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars[name])
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name), err)
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service-layer errors onto HTTP status codes
func (h *Handler) respondServiceError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))

	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotCancellable),
		errors.Is(err, models.ErrDuplicateCredit):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrAmountMismatch),
		errors.Is(err, models.ErrInvalidAddress):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, models.ErrChainUnavailable):
		respondError(w, http.StatusBadGateway, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}
