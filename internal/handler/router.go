package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	exchangeHandler "github.com/ecpmlab/advisor/backend/internal/handler/exchange"
	liveHandler "github.com/ecpmlab/advisor/backend/internal/handler/live"
	sessionHandler "github.com/ecpmlab/advisor/backend/internal/handler/session"
	streamHandler "github.com/ecpmlab/advisor/backend/internal/handler/stream"
	middlewarePkg "github.com/ecpmlab/advisor/backend/internal/middleware"
	"github.com/ecpmlab/advisor/backend/internal/service/account"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
	"github.com/ecpmlab/advisor/backend/pkg/utils"
)

// Deps carries everything the router needs.
type Deps struct {
	Store        store.SessionStore
	Quota        *quota.Enforcer
	Accounts     account.Lookup
	Orchestrator *exchangeService.Orchestrator
	Streamer     streamHandler.Streamer // nil when inference is not configured
	Logger       *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessions := sessionHandler.New(deps.Store, deps.Quota, deps.Accounts, logger)
	exchanges := exchangeHandler.New(deps.Orchestrator, deps.Store, deps.Accounts, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		sessions.RegisterRoutes(api)
		exchanges.RegisterRoutes(api)

		if deps.Streamer != nil {
			streams := streamHandler.New(deps.Streamer, deps.Orchestrator, 0, logger)
			api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
				sessionID := chi.URLParam(r, "sessionID")
				userMessage := r.URL.Query().Get("message")
				if userMessage == "" {
					utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
					return
				}

				accountID, err := deps.Accounts.Lookup(r.Context(), r.Header.Get("Authorization"))
				if err != nil {
					logger.Warn("credential lookup failed", zap.Error(err))
					accountID = ""
				}

				if err := streams.HandleStreamRequest(r.Context(), w, sessionID, userMessage, accountID); err != nil {
					logger.Error("stream request failed", zap.String("session", sessionID), zap.Error(err))
				}
			})
		}

		live := liveHandler.New(deps.Orchestrator, deps.Accounts, logger)
		live.RegisterRoutes(api)
	})

	return r
}
