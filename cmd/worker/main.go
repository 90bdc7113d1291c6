package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/clienthub/internal/campaign"
	"github.com/ignite/clienthub/internal/config"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/mailer"
	"github.com/ignite/clienthub/internal/notify"
	"github.com/ignite/clienthub/internal/pkg/logger"
	"github.com/ignite/clienthub/internal/scheduler"
)

func main() {
	log.Println("Starting ClientHub Scheduler Worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifeMins) * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	store := crm.NewStore(db)

	var m mailer.Mailer
	if cfg.SES.Enabled && cfg.SES.FromEmail != "" {
		sesMailer, err := mailer.NewSESMailer(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.FromName, cfg.SES.FromEmail)
		if err != nil {
			log.Fatalf("Failed to initialize SES mailer: %v", err)
		}
		m = sesMailer
		log.Printf("[mailer] SES ready in %s, from %s", cfg.SES.Region, logger.RedactEmail(cfg.SES.FromEmail))
	} else {
		m = mailer.LogMailer{}
		log.Println("[mailer] SES disabled, using log mailer")
	}

	notifyEngine := notify.NewEngine(store, m)
	campaignEngine := campaign.NewEngine(store, m)

	schedCfg := scheduler.DefaultConfig()
	if cfg.Scheduler.ExpiryDays > 0 {
		schedCfg.ExpiryDays = cfg.Scheduler.ExpiryDays
	}
	if cfg.Scheduler.ExpirySpec != "" {
		schedCfg.ExpirySpec = cfg.Scheduler.ExpirySpec
	}
	if cfg.Scheduler.ReminderSpec != "" {
		schedCfg.ReminderSpec = cfg.Scheduler.ReminderSpec
	}
	if cfg.Scheduler.DispatchSpec != "" {
		schedCfg.DispatchSpec = cfg.Scheduler.DispatchSpec
	}
	if cfg.Scheduler.CampaignSpec != "" {
		schedCfg.CampaignSpec = cfg.Scheduler.CampaignSpec
	}
	if cfg.Scheduler.SweepSpec != "" {
		schedCfg.SweepSpec = cfg.Scheduler.SweepSpec
	}

	sched := scheduler.New(store, notifyEngine, campaignEngine, schedCfg)

	if cfg.Redis.Enabled && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Printf("[redis] Unreachable at %s (%v), campaign locks fall back to advisory locks", cfg.Redis.Addr, err)
		} else {
			sched.SetRedisClient(client)
			log.Printf("[redis] Connected to %s", cfg.Redis.Addr)
		}
		cancel()
	}

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, stopping scheduler...", sig)

	sched.Stop()
	log.Println("Worker stopped")
}
