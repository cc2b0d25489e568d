package live

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ecpmlab/advisor/backend/internal/service/account"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
)

// Handler runs exchanges over a websocket for clients that keep the chat
// widget open. Each inbound frame is one question; each outbound frame is the
// answer plus the updated quota status.
type Handler struct {
	orchestrator *exchangeService.Orchestrator
	accounts     account.Lookup
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// New creates the live exchange handler.
func New(orchestrator *exchangeService.Orchestrator, accounts account.Lookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		accounts:     accounts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live/{sessionID}", h.handleLive)
}

type inboundFrame struct {
	Message string `json:"message"`
}

type outboundFrame struct {
	Type         string `json:"type"`
	AnswerText   string `json:"answerText,omitempty"`
	UsageCount   int    `json:"usageCount"`
	Remaining    int    `json:"remaining"`
	Billable     bool   `json:"billable,omitempty"`
	Error        string `json:"error,omitempty"`
	LimitReached bool   `json:"limitReached,omitempty"`
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	// Credentials are resolved once at upgrade time for the whole socket.
	accountID, err := h.accounts.Lookup(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		h.logger.Warn("credential lookup failed", zap.Error(err))
		accountID = ""
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("live session opened", zap.String("session", sessionID))

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("live session read failed", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}

		result, err := h.orchestrator.Handle(r.Context(), sessionID, frame.Message, accountID)
		out := outboundFrame{
			Type:       "answer",
			AnswerText: result.Answer,
			UsageCount: result.UsageCount,
			Remaining:  result.Remaining,
			Billable:   result.Billable,
		}
		switch {
		case err == nil:
		case errors.Is(err, quota.ErrExhausted):
			out = outboundFrame{
				Type:         "denied",
				UsageCount:   result.UsageCount,
				Remaining:    0,
				Error:        "Question limit reached. Please sign up to continue.",
				LimitReached: true,
			}
		case errors.Is(err, exchangeService.ErrInvalidInput):
			out = outboundFrame{Type: "error", Error: "message is required"}
		default:
			h.logger.Error("live exchange failed", zap.String("session", sessionID), zap.Error(err))
			out = outboundFrame{
				Type:       "error",
				UsageCount: result.UsageCount,
				Remaining:  result.Remaining,
				Error:      "Sorry, I encountered an error. Please try again.",
			}
		}

		if err := conn.WriteJSON(out); err != nil {
			h.logger.Warn("live session write failed", zap.String("session", sessionID), zap.Error(err))
			return
		}
	}
}
