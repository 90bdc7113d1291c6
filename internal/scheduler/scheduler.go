// Package scheduler owns the recurring triggers that drive automated
// notification discovery, dispatch, and campaign launches. Each trigger
// runs inside an error boundary that logs and continues; idempotency
// lives in the engines' dedup checks, so a re-fired trigger is safe.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ignite/clienthub/internal/campaign"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/notify"
	"github.com/ignite/clienthub/internal/pkg/distlock"
)

const (
	// DefaultExpiryDays is the lookahead window for the daily expiry batch.
	DefaultExpiryDays = 7

	// triggerTimeout bounds a single trigger execution.
	triggerTimeout = 10 * time.Minute

	// campaignLockTTL is how long a campaign launch lock is held before
	// expiring on its own.
	campaignLockTTL = 10 * time.Minute
)

// Config holds the trigger timetable. Specs are standard cron expressions.
type Config struct {
	ExpiryDays   int
	ExpirySpec   string // daily expiry discovery
	ReminderSpec string // weekly payment reminders
	DispatchSpec string // hourly pending dispatch
	CampaignSpec string // daily due-campaign launch
	SweepSpec    string // daily expired-subscription sweep
}

// DefaultConfig returns the production timetable.
func DefaultConfig() Config {
	return Config{
		ExpiryDays:   DefaultExpiryDays,
		ExpirySpec:   "0 9 * * *",
		ReminderSpec: "0 10 * * 1",
		DispatchSpec: "@hourly",
		CampaignSpec: "30 9 * * *",
		SweepSpec:    "0 1 * * *",
	}
}

// Scheduler wires the engines to their recurring triggers.
type Scheduler struct {
	store     *crm.Store
	notify    *notify.Engine
	campaigns *campaign.Engine
	cfg       Config

	redisClient *redis.Client // optional; nil falls back to PG advisory locks
	db          *sql.DB
	now         func() time.Time

	cron    *cron.Cron
	running bool
	mu      sync.Mutex

	// Stats
	ticks             int64
	errors            int64
	dispatchedTotal   int64
	dispatchFailures  int64
	campaignsLaunched int64
}

// New creates a scheduler over the given store and engines.
func New(store *crm.Store, notifyEngine *notify.Engine, campaignEngine *campaign.Engine, cfg Config) *Scheduler {
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = DefaultExpiryDays
	}
	def := DefaultConfig()
	if cfg.ExpirySpec == "" {
		cfg.ExpirySpec = def.ExpirySpec
	}
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = def.ReminderSpec
	}
	if cfg.DispatchSpec == "" {
		cfg.DispatchSpec = def.DispatchSpec
	}
	if cfg.CampaignSpec == "" {
		cfg.CampaignSpec = def.CampaignSpec
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = def.SweepSpec
	}

	return &Scheduler{
		store:     store,
		notify:    notifyEngine,
		campaigns: campaignEngine,
		cfg:       cfg,
		db:        store.DB(),
		now:       time.Now,
	}
}

// SetRedisClient sets the Redis client used for campaign launch locks.
// Without it the scheduler uses PostgreSQL advisory locks.
func (s *Scheduler) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

// SetClock overrides the scheduler's time source (used in tests).
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start registers the triggers and begins the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron = cron.New()

	triggers := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"expiry-batch", s.cfg.ExpirySpec, s.RunExpiryBatch},
		{"payment-reminders", s.cfg.ReminderSpec, s.RunReminderBatch},
		{"dispatch", s.cfg.DispatchSpec, s.RunDispatchTick},
		{"campaign-launch", s.cfg.CampaignSpec, s.RunCampaignTick},
		{"expiry-sweep", s.cfg.SweepSpec, s.RunExpirySweep},
	}

	for _, t := range triggers {
		if _, err := s.cron.AddFunc(t.spec, s.boundary(t.name, t.fn)); err != nil {
			return fmt.Errorf("register trigger %s (%q): %w", t.name, t.spec, err)
		}
		log.Printf("[Scheduler] Registered trigger %s: %s", t.name, t.spec)
	}

	s.cron.Start()
	s.running = true
	log.Printf("[Scheduler] Started with %d triggers", len(triggers))
	return nil
}

// Stop halts the cron loop and waits for any running trigger to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Printf("[Scheduler] Stopped. Ticks: %d, errors: %d, dispatched: %d, campaigns launched: %d",
		atomic.LoadInt64(&s.ticks), atomic.LoadInt64(&s.errors),
		atomic.LoadInt64(&s.dispatchedTotal), atomic.LoadInt64(&s.campaignsLaunched))
}

// boundary wraps a trigger so a failure, or even a panic, is logged and
// the process keeps running.
func (s *Scheduler) boundary(name string, fn func(context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Scheduler] Trigger %s panicked: %v", name, r)
				atomic.AddInt64(&s.errors, 1)
			}
		}()

		atomic.AddInt64(&s.ticks, 1)
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()

		start := s.now()
		if err := fn(ctx); err != nil {
			log.Printf("[Scheduler] Trigger %s failed: %v", name, err)
			atomic.AddInt64(&s.errors, 1)
			return
		}
		log.Printf("[Scheduler] Trigger %s completed in %v", name, time.Since(start).Round(time.Millisecond))
	}
}

// RunExpiryBatch creates expiry notifications for subscriptions ending
// within the configured window.
func (s *Scheduler) RunExpiryBatch(ctx context.Context) error {
	result, err := s.notify.CreateSubscriptionExpiryBatch(ctx, s.cfg.ExpiryDays)
	if err != nil {
		return err
	}
	log.Printf("[Scheduler] Expiry batch: created=%d skipped=%d", result.Created, result.Skipped)
	return nil
}

// RunReminderBatch creates payment reminders for unpaid subscriptions.
func (s *Scheduler) RunReminderBatch(ctx context.Context) error {
	result, err := s.notify.CreatePaymentReminderBatch(ctx)
	if err != nil {
		return err
	}
	log.Printf("[Scheduler] Payment reminders: created=%d skipped=%d", result.Created, result.Skipped)
	return nil
}

// RunDispatchTick sends every pending notification sequentially, tallying
// outcomes. Unsendable records never reach Dispatch; they are counted as
// skipped by the pending query's filter.
func (s *Scheduler) RunDispatchTick(ctx context.Context) error {
	pending, skipped, err := s.notify.GetPending(ctx)
	if err != nil {
		return err
	}

	sent, failed := 0, 0
	for _, n := range pending {
		_, err := s.notify.Dispatch(ctx, n.ID)
		switch {
		case err == nil:
			sent++
		case crm.IsValidation(err):
			// Customer vanished between the pending query and dispatch.
			skipped++
		default:
			failed++
		}
	}

	atomic.AddInt64(&s.dispatchedTotal, int64(sent))
	atomic.AddInt64(&s.dispatchFailures, int64(failed))
	log.Printf("[Scheduler] Dispatch tick: sent=%d failed=%d skipped=%d", sent, failed, skipped)
	return nil
}

// RunCampaignTick launches every scheduled campaign whose time has come.
// Each campaign is launched under a lock and independently; one launch
// failure does not block the rest.
func (s *Scheduler) RunCampaignTick(ctx context.Context) error {
	due, err := s.store.GetDueCampaigns(ctx, s.now())
	if err != nil {
		return fmt.Errorf("query due campaigns: %w", err)
	}

	for _, c := range due {
		s.launchDueCampaign(ctx, c)
	}
	return nil
}

func (s *Scheduler) launchDueCampaign(ctx context.Context, c *crm.EmailCampaign) {
	lock := distlock.New(s.redisClient, s.db, fmt.Sprintf("campaign:%s", c.ID), campaignLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Printf("[Scheduler] Lock error for campaign %s: %v", c.ID, err)
		return
	}
	if !acquired {
		log.Printf("[Scheduler] Campaign %s already being launched elsewhere", c.ID)
		return
	}
	defer lock.Release(ctx)

	result, err := s.campaigns.Launch(ctx, c.ID)
	if err != nil {
		log.Printf("[Scheduler] Campaign %s launch failed: %v", c.ID, err)
		atomic.AddInt64(&s.errors, 1)
		return
	}
	atomic.AddInt64(&s.campaignsLaunched, 1)
	log.Printf("[Scheduler] Campaign %s launched: sent=%d failed=%d", c.ID, result.Sent, result.Failed)
}

// RunExpirySweep deactivates subscriptions past their end date and flips
// their customers to expired.
func (s *Scheduler) RunExpirySweep(ctx context.Context) error {
	n, err := s.store.MarkExpiredSubscriptions(ctx, s.now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Scheduler] Expiry sweep deactivated %d subscriptions", n)
	}
	return nil
}

// Stats is a point-in-time snapshot of trigger counters.
type Stats struct {
	Ticks             int64 `json:"ticks"`
	Errors            int64 `json:"errors"`
	DispatchedTotal   int64 `json:"dispatched_total"`
	DispatchFailures  int64 `json:"dispatch_failures"`
	CampaignsLaunched int64 `json:"campaigns_launched"`
}

// Snapshot returns the current counters.
func (s *Scheduler) Snapshot() Stats {
	return Stats{
		Ticks:             atomic.LoadInt64(&s.ticks),
		Errors:            atomic.LoadInt64(&s.errors),
		DispatchedTotal:   atomic.LoadInt64(&s.dispatchedTotal),
		DispatchFailures:  atomic.LoadInt64(&s.dispatchFailures),
		CampaignsLaunched: atomic.LoadInt64(&s.campaignsLaunched),
	}
}
