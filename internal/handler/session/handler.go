package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/model/chat"
	"github.com/ecpmlab/advisor/backend/internal/service/account"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
	"github.com/ecpmlab/advisor/backend/pkg/utils"
)

// Handler serves session bootstrap and account linking.
type Handler struct {
	store    store.SessionStore
	quota    *quota.Enforcer
	accounts account.Lookup
	logger   *zap.Logger
}

// New creates the session handler.
func New(s store.SessionStore, q *quota.Enforcer, accounts account.Lookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: s, quota: q, accounts: accounts, logger: logger}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleGetOrCreate)
	r.Post("/session/link", h.handleLink)
}

// View is the client-facing session summary.
type View struct {
	UsageCount      int    `json:"usageCount"`
	Remaining       int    `json:"remaining"`
	LinkedAccountID string `json:"linkedAccountId,omitempty"`
	IsNew           bool   `json:"isNew"`
}

func (h *Handler) view(session chat.Session, created bool) View {
	return View{
		UsageCount:      session.UsageCount,
		Remaining:       h.quota.Remaining(session),
		LinkedAccountID: session.LinkedAccountID,
		IsNew:           created,
	}
}

func (h *Handler) handleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, created, err := h.store.CreateIfAbsent(r.Context(), payload.SessionID)
	if err != nil {
		h.logger.Error("session bootstrap failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondJSON(w, status, h.view(session, created))
}

func (h *Handler) handleLink(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

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

	session, err := h.store.LinkAccount(r.Context(), payload.SessionID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("account link failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.view(session, false))
}
