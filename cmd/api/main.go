package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ecpmlab/advisor/backend/internal/analysis/billing"
	"github.com/ecpmlab/advisor/backend/internal/config"
	"github.com/ecpmlab/advisor/backend/internal/handler"
	streamHandler "github.com/ecpmlab/advisor/backend/internal/handler/stream"
	"github.com/ecpmlab/advisor/backend/internal/service/account"
	"github.com/ecpmlab/advisor/backend/internal/service/ai"
	exchangeService "github.com/ecpmlab/advisor/backend/internal/service/exchange"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	sessionStore, tokenStore, cleanup, err := openStore(cfg.Store, cfg.Quota.HistoryWindow)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer cleanup()

	enforcer := quota.NewEnforcer(sessionStore, cfg.Quota.Limit, cfg.Quota.CASRetries, logger)
	accounts := account.NewService(tokenStore, logger)
	classifier := billing.NewHeuristicClassifier(billing.Heuristics{
		MinAnswerRunes:     cfg.Classifier.MinAnswerRunes,
		QuestionRatio:      cfg.Classifier.QuestionRatio,
		SubstanceThreshold: cfg.Classifier.SubstanceThreshold,
	})

	var generator ai.Generator
	var streamer streamHandler.Streamer
	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Fatal("failed to initialize inference service", zap.Error(err))
		}
		generator = aiSvc
		if aiSvc.StreamingEnabled() {
			streamer = aiSvc
		}
		logger.Info("inference service initialized", zap.String("model", cfg.AI.Model))
	} else {
		logger.Fatal("ark credentials not configured; set ARK_API_KEY and ARK_MODEL")
	}

	orchestrator := exchangeService.New(sessionStore, enforcer, classifier, generator,
		cfg.AI.InferenceTimeout, logger)

	router := handler.NewRouter(handler.Deps{
		Store:        sessionStore,
		Quota:        enforcer,
		Accounts:     accounts,
		Orchestrator: orchestrator,
		Streamer:     streamer,
		Logger:       logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			config.Level = zap.NewAtomicLevelAt(parsed)
		}
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func openStore(cfg config.StoreConfig, window int) (store.SessionStore, store.TokenStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		mem := store.NewMemory(window)
		return mem, mem, func() {}, nil
	default:
		db, err := store.OpenSQLite(cfg.Path, window)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db, func() { db.Close() }, nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("advisor backend listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
