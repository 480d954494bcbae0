package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ledgerx/backend/internal/middleware"
	"github.com/ledgerx/backend/internal/models"
	"github.com/ledgerx/backend/internal/observability"
	"github.com/ledgerx/backend/internal/services"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

type LedgerHandler struct {
	ledger    *services.LedgerService
	reversals *services.ReversalService
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewLedgerHandler(ledger *services.LedgerService, reversals *services.ReversalService, metrics *observability.Metrics, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		reversals: reversals,
		metrics:   metrics,
		logger:    logger,
	}
}

// Routes mounts the ledger API on r.
func (h *LedgerHandler) Routes(r chi.Router) {
	r.Post("/transactions", h.CreateTransaction)
	r.Get("/transactions/{txId}", h.GetTransaction)
	r.Post("/transactions/{txId}/reverse", h.ReverseTransaction)
	r.Post("/reversals/{hash}", h.ReverseByHash)
	r.Get("/accounts/{accountId}/chain", h.GetAccountChain)
	r.Get("/accounts/{accountId}/chain/verify", h.VerifyAccountChain)
	r.Get("/users/{userId}/entries", h.ListUserEntries)
	r.Get("/users/{userId}/spending", h.GetSpending)
	r.Get("/stats", h.Stats)
}

// CreateTransaction books a transfer
// @Summary Create transaction
// @Tags Ledger
// @Accept json
// @Produce json
// @Param request body models.TransactionRequest true "Transfer"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions [post]
func (h *LedgerHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.TransactionRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	// An authenticated caller always books as themselves.
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		req.UserID = userID
	}

	tx, err := h.ledger.CreateTransactionWithRetry(r.Context(), req)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction
// @Summary Get transaction
// @Tags Ledger
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.GetTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ReverseTransaction books the inverse of a transaction
// @Summary Reverse transaction
// @Tags Ledger
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 201 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /transactions/{txId}/reverse [post]
func (h *LedgerHandler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.reversals.ReverseTransaction(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ReverseByHash reverses the transaction owning an entry hash
// @Router /reversals/{hash} [post]
func (h *LedgerHandler) ReverseByHash(w http.ResponseWriter, r *http.Request) {
	tx, err := h.reversals.ReverseByEntryHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// GetAccountChain
// @Router /accounts/{accountId}/chain [get]
func (h *LedgerHandler) GetAccountChain(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	entries, err := h.ledger.GetAccountChain(r.Context(), accountID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId": accountID,
		"entries":   entries,
	})
}

// VerifyAccountChain
// @Router /accounts/{accountId}/chain/verify [get]
func (h *LedgerHandler) VerifyAccountChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.VerifyAccountChain(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListUserEntries
// @Router /users/{userId}/entries [get]
func (h *LedgerHandler) ListUserEntries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	entries, err := h.ledger.ListUserEntries(r.Context(), userID)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":  userID,
		"entries": entries,
	})
}

// GetSpending reports a user's spending
// @Summary Spending summary
// @Tags Ledger
// @Produce json
// @Param userId path string true "User ID"
// @Param category query string false "Only this category"
// @Param year query int false "Calendar year"
// @Param month query int false "Month 1-12"
// @Param limit query int false "Top categories to return"
// @Success 200 {object} models.SpendingSummary
// @Failure 400 {object} services.ErrorResponse
// @Router /users/{userId}/spending [get]
func (h *LedgerHandler) GetSpending(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := models.SpendingQuery{
		UserID:   chi.URLParam(r, "userId"),
		Category: params.Get("category"),
	}

	for name, dst := range map[string]*int{"year": &q.Year, "month": &q.Month, "limit": &q.Limit} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			services.SendErrorResponse(w, "Invalid query parameter "+name, http.StatusBadRequest, nil)
			return
		}
		*dst = n
	}

	summary, err := h.ledger.GetSpendingSummary(r.Context(), q)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *LedgerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *LedgerHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *services.RequestError
	var repoErr *models.RepositoryError

	switch {
	case errors.As(err, &reqErr):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, reqErr.Err)
	case errors.Is(err, models.ErrImbalancedAmount), errors.Is(err, models.ErrInvalidEntryKind):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, models.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, models.ErrAlreadyReversed):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, models.ErrReversalWindowExpired):
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, models.ErrChainConflict):
		services.SendRetryableErrorResponse(w, "Concurrent update on account chain, retry", http.StatusConflict)
	case errors.As(err, &repoErr):
		h.logger.Error("ledger storage failure",
			zap.String("path", r.URL.Path),
			zap.String("op", repoErr.Op),
			zap.Error(err),
		)
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	default:
		h.logger.Error("unhandled ledger error", zap.String("path", r.URL.Path), zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
