package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tris3514/EmailSystem/internal/account"
	"github.com/Tris3514/EmailSystem/internal/config"
	"github.com/Tris3514/EmailSystem/internal/conversation"
	"github.com/Tris3514/EmailSystem/internal/generator"
	"github.com/Tris3514/EmailSystem/internal/mail"
	"github.com/Tris3514/EmailSystem/internal/ratelimit"
	"github.com/Tris3514/EmailSystem/internal/scheduler"
	"github.com/Tris3514/EmailSystem/internal/sheets"
	"github.com/Tris3514/EmailSystem/internal/store/bolt"
	"github.com/Tris3514/EmailSystem/internal/web"
	"github.com/Tris3514/EmailSystem/internal/web/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Store
	db, err := bolt.Open(cfg.DataPath)
	if err != nil {
		slog.Error("failed to open data store", "error", err, "path", cfg.DataPath)
		os.Exit(1)
	}
	defer db.Close()

	// Spreadsheet mirror
	var accountMirror account.Mirror = &account.NoopMirror{}
	var conversationMirror conversation.Mirror = &conversation.NoopMirror{}
	if cfg.SpreadsheetID != "" {
		key, err := os.ReadFile(cfg.ServiceAccountJSONPath)
		if err != nil {
			slog.Error("failed to read service account key", "error", err, "path", cfg.ServiceAccountJSONPath)
			os.Exit(1)
		}
		mirror, err := sheets.NewMirror(context.Background(), key, cfg.SpreadsheetID)
		if err != nil {
			slog.Error("failed to init spreadsheet mirror", "error", err)
			os.Exit(1)
		}
		accountMirror = mirror
		conversationMirror = mirror
		slog.Info("spreadsheet mirror enabled", "spreadsheet_id", cfg.SpreadsheetID)
	}

	// Services
	accountService := account.NewService(db, accountMirror)
	gen := generator.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, generator.Pricing{
		InputPer1K:  cfg.InputCostPer1K,
		OutputPer1K: cfg.OutputCostPer1K,
	})
	conversationService := conversation.NewService(db, db, gen, conversationMirror)
	engine := scheduler.NewEngine(db, mail.NewSMTPDispatcher(), scheduler.Options{})

	// Rate limiter
	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Router
	router := web.NewRouter(web.RouterConfig{
		Conversations: conversationService,
		Accounts:      handlers.NewAccountHandler(accountService),
		Engine:        engine,
		Limiter:       limiter,
		AllowOrigin:   cfg.AllowOrigin,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("emailsim starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
