package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"report-ledger/internal/backend"
	"report-ledger/internal/config"
	apphttp "report-ledger/internal/http"
	"report-ledger/internal/reports"
	"report-ledger/internal/repository/sqlite"
	"report-ledger/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if !cfg.Configured() {
		// degraded mode: the process serves, every backend-touching
		// route answers with the configuration error
		logger.Warn("backend url/api key missing, starting unconfigured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Session.Path)
	if err != nil {
		logger.Fatalf("open session database: %v", err)
	}
	defer db.Close()

	sessionRepo := sqlite.NewSessionRepository(db)
	if err := sessionRepo.Init(ctx); err != nil {
		logger.Fatalf("init session repository: %v", err)
	}

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	sessions := session.NewManager(session.Config{
		AdminEmail: cfg.Admin.Email,
		Logger:     logger,
	}, client, sessionRepo)

	reportClient := reports.NewClient(client, sessions, logger)

	// the report client follows session changes: refetch on a new
	// principal, clear on sign-out
	changes := sessions.Subscribe()
	go reportClient.Run(ctx, changes)

	if err := sessions.Start(ctx); err != nil {
		logger.Fatalf("start session manager: %v", err)
	}
	if cfg.Configured() {
		sessions.Restore(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(sessions, reportClient, cfg.Configured(), logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	sessions.Close()

	logger.Info("bye")
}
