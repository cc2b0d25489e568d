package exchange

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/service/account"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
	"github.com/ecpmlab/advisor/backend/pkg/utils"
)

const historyPageSize = 50

// friendlyFailure is what end users see for operational failures; their quota
// is untouched either way.
const friendlyFailure = "Sorry, I encountered an error. Please try again."

// Handler serves the exchange endpoint and the account audit listing.
type Handler struct {
	orchestrator *exchangeService.Orchestrator
	store        store.SessionStore
	accounts     account.Lookup
	logger       *zap.Logger
}

// New creates the exchange handler.
func New(o *exchangeService.Orchestrator, s store.SessionStore, accounts account.Lookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orchestrator: o, store: s, accounts: accounts, logger: logger}
}

// RegisterRoutes mounts the exchange endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/exchange", h.handleExchange)
	r.Get("/exchanges", h.handleListExchanges)
}

type exchangeResponse struct {
	AnswerText string `json:"answerText"`
	UsageCount int    `json:"usageCount"`
	Remaining  int    `json:"remaining"`
	Billable   bool   `json:"billable"`
}

type failureResponse struct {
	Error        string `json:"error"`
	UsageCount   int    `json:"usageCount"`
	Remaining    int    `json:"remaining"`
	LimitReached bool   `json:"limitReached,omitempty"`
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accountID, err := h.accounts.Lookup(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		// A broken credential lookup downgrades the request to anonymous
		// rather than blocking it.
		h.logger.Warn("credential lookup failed", zap.Error(err))
		accountID = ""
	}

	result, err := h.orchestrator.Handle(r.Context(), payload.SessionID, payload.Message, accountID)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, exchangeResponse{
			AnswerText: result.Answer,
			UsageCount: result.UsageCount,
			Remaining:  result.Remaining,
			Billable:   result.Billable,
		})

	case errors.Is(err, exchangeService.ErrInvalidInput):
		utils.RespondError(w, http.StatusBadRequest, "sessionId and message are required")

	case errors.Is(err, quota.ErrExhausted):
		utils.RespondJSON(w, http.StatusForbidden, failureResponse{
			Error:        "Question limit reached. Please sign up to continue.",
			UsageCount:   result.UsageCount,
			Remaining:    0,
			LimitReached: true,
		})

	case errors.Is(err, exchangeService.ErrInference):
		h.logger.Error("inference failed", zap.String("session", payload.SessionID), zap.Error(err))
		utils.RespondJSON(w, http.StatusBadGateway, failureResponse{
			Error:      friendlyFailure,
			UsageCount: result.UsageCount,
			Remaining:  result.Remaining,
		})

	default:
		// Store unavailable or CAS retry budget exhausted: retryable, no
		// partial state, pre-request numbers.
		h.logger.Error("exchange failed", zap.String("session", payload.SessionID), zap.Error(err))
		utils.RespondJSON(w, http.StatusServiceUnavailable, failureResponse{
			Error:      friendlyFailure,
			UsageCount: result.UsageCount,
			Remaining:  result.Remaining,
		})
	}
}

func (h *Handler) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accounts.Lookup(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.logger.Error("credential lookup failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "account lookup unavailable")
		return
	}
	if accountID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "valid credential required")
		return
	}

	exchanges, err := h.store.ListExchanges(r.Context(), accountID, historyPageSize)
	if err != nil {
		h.logger.Error("exchange listing failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "exchange store unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}
