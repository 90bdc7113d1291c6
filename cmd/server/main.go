package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/clienthub/internal/api"
	"github.com/ignite/clienthub/internal/campaign"
	"github.com/ignite/clienthub/internal/config"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/mailer"
	"github.com/ignite/clienthub/internal/notify"
	"github.com/ignite/clienthub/internal/pkg/logger"
)

func main() {
	log.Println("Starting ClientHub API Server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	store := crm.NewStore(db)
	m := buildMailer(cfg.SES)

	notifyEngine := notify.NewEngine(store, m)
	campaignEngine := campaign.NewEngine(store, m)

	handlers := api.NewHandlers(store, notifyEngine, campaignEngine)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handlers.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("API server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildMailer(cfg config.SESConfig) mailer.Mailer {
	if !cfg.Enabled || cfg.FromEmail == "" {
		log.Println("[mailer] SES disabled, using log mailer")
		return mailer.LogMailer{}
	}
	m, err := mailer.NewSESMailer(cfg.AccessKey, cfg.SecretKey, cfg.Region, cfg.FromName, cfg.FromEmail)
	if err != nil {
		log.Printf("[mailer] SES init failed (%v), falling back to log mailer", err)
		return mailer.LogMailer{}
	}
	log.Printf("[mailer] SES ready in %s, from %s", cfg.Region, logger.RedactEmail(cfg.FromEmail))
	return m
}
