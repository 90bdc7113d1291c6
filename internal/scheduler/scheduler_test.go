package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/ignite/clienthub/internal/campaign"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/mailer"
	"github.com/ignite/clienthub/internal/notify"
)

func setupScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	store := crm.NewStore(db)
	m := mailer.LogMailer{}
	s := New(store, notify.NewEngine(store, m), campaign.NewEngine(store, m), DefaultConfig())
	return s, mock, func() { db.Close() }
}

func TestNew_FillsDefaults(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()
	store := crm.NewStore(db)
	m := mailer.LogMailer{}

	s := New(store, notify.NewEngine(store, m), campaign.NewEngine(store, m), Config{})
	if s.cfg.ExpiryDays != DefaultExpiryDays {
		t.Errorf("expiry days = %d, want %d", s.cfg.ExpiryDays, DefaultExpiryDays)
	}
	if s.cfg.DispatchSpec == "" || s.cfg.ExpirySpec == "" {
		t.Error("empty specs should be filled from defaults")
	}
}

func TestStartStop(t *testing.T) {
	s, _, cleanup := setupScheduler(t)
	defer cleanup()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("double Start() should return error")
	}
	s.Stop()
	// Stop on a stopped scheduler is a no-op.
	s.Stop()
}

func TestStart_BadSpec(t *testing.T) {
	s, _, cleanup := setupScheduler(t)
	defer cleanup()
	s.cfg.ExpirySpec = "not a cron spec"

	if err := s.Start(); err == nil {
		t.Error("Start() should reject an invalid cron spec")
	}
}

func TestBoundary_RecoversPanic(t *testing.T) {
	s, _, cleanup := setupScheduler(t)
	defer cleanup()

	fn := s.boundary("panicky", func(ctx context.Context) error {
		panic("boom")
	})
	fn() // must not crash the test binary

	stats := s.Snapshot()
	if stats.Ticks != 1 {
		t.Errorf("ticks = %d, want 1", stats.Ticks)
	}
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
}

func TestRunDispatchTick_TalliesOutcomes(t *testing.T) {
	s, mock, cleanup := setupScheduler(t)
	defer cleanup()

	now := time.Now()
	nID := uuid.New()
	custID := uuid.New()
	joinCols := []string{"id", "customer_id", "subscription_id", "type", "title", "message",
		"status", "channel", "is_automated", "scheduled_for", "sent_at", "delivery_attempts",
		"metadata", "created_at", "updated_at",
		"c_id", "c_name", "c_email", "c_phone", "c_category", "c_status"}

	// Pending query returns one sendable notification.
	mock.ExpectQuery("FROM notifications n").
		WillReturnRows(sqlmock.NewRows(joinCols).
			AddRow(nID, custID, nil, crm.TypeWelcome, "t", "m",
				crm.NotificationPending, crm.ChannelEmail, false, nil, nil, 0, []byte(`{}`), now, now,
				custID.String(), "Sara", "sara@x.com", "", "gym", crm.CustomerSubscribed))
	// Dispatch reloads it, sends through the log mailer, and marks sent.
	mock.ExpectQuery("FROM notifications n").
		WillReturnRows(sqlmock.NewRows(joinCols).
			AddRow(nID, custID, nil, crm.TypeWelcome, "t", "m",
				crm.NotificationPending, crm.ChannelEmail, false, nil, nil, 0, []byte(`{}`), now, now,
				custID.String(), "Sara", "sara@x.com", "", "gym", crm.CustomerSubscribed))
	mock.ExpectExec("UPDATE notifications SET status = 'sent'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RunDispatchTick(context.Background()); err != nil {
		t.Fatalf("RunDispatchTick() error: %v", err)
	}
	if got := s.Snapshot().DispatchedTotal; got != 1 {
		t.Errorf("dispatched total = %d, want 1", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunExpirySweep(t *testing.T) {
	s, mock, cleanup := setupScheduler(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions SET is_active = false").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(uuid.New()))
	mock.ExpectExec("UPDATE customers SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RunExpirySweep(context.Background()); err != nil {
		t.Fatalf("RunExpirySweep() error: %v", err)
	}
}

func TestRunCampaignTick_NoDueCampaigns(t *testing.T) {
	s, mock, cleanup := setupScheduler(t)
	defer cleanup()

	mock.ExpectQuery("FROM email_campaigns").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "subject", "template", "content",
			"status", "target_audience", "custom_recipients", "scheduled_for", "sent_at",
			"total_recipients", "sent_count", "delivered_count", "opened_count", "failed_count",
			"created_at", "updated_at"}))

	if err := s.RunCampaignTick(context.Background()); err != nil {
		t.Fatalf("RunCampaignTick() error: %v", err)
	}
	if got := s.Snapshot().CampaignsLaunched; got != 0 {
		t.Errorf("campaigns launched = %d, want 0", got)
	}
}
