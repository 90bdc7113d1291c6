package campaign

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/mailer"
)

type fakeMailer struct {
	sent    []*mailer.Message
	failFor map[string]error
}

func (f *fakeMailer) Send(ctx context.Context, msg *mailer.Message) (*mailer.SendResult, error) {
	if err, ok := f.failFor[msg.To]; ok {
		return nil, err
	}
	f.sent = append(f.sent, msg)
	return &mailer.SendResult{MessageID: "test-" + msg.To}, nil
}

func setupEngine(t *testing.T) (*Engine, *fakeMailer, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	fm := &fakeMailer{failFor: map[string]error{}}
	engine := NewEngine(crm.NewStore(db), fm)
	return engine, fm, mock, func() { db.Close() }
}

func campaignRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "subject", "template", "content", "status",
		"target_audience", "custom_recipients", "scheduled_for", "sent_at",
		"total_recipients", "sent_count", "delivered_count", "opened_count", "failed_count",
		"created_at", "updated_at"})
}

func customerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "phone", "category", "status",
		"total_spent", "created_at", "updated_at"})
}

func expectCampaignRow(mock sqlmock.Sqlmock, id uuid.UUID, status, audience string) {
	now := time.Now()
	mock.ExpectQuery("FROM email_campaigns").
		WillReturnRows(campaignRows().
			AddRow(id, "Promo", "Big news", "promotional", "Hello {{name}}", status, audience,
				pq.StringArray{}, nil, nil, 0, 0, 0, 0, 0, now, now))
}

func TestResolveRecipients_Audiences(t *testing.T) {
	tests := []struct {
		audience   string
		wantStatus string
	}{
		{crm.AudienceSubscribed, crm.CustomerSubscribed},
		{crm.AudienceExpired, crm.CustomerExpired},
		{crm.AudienceInterested, crm.CustomerInterested},
	}
	for _, tt := range tests {
		t.Run(tt.audience, func(t *testing.T) {
			engine, _, mock, cleanup := setupEngine(t)
			defer cleanup()

			now := time.Now()
			mock.ExpectQuery("FROM customers WHERE status").
				WithArgs(tt.wantStatus).
				WillReturnRows(customerRows().
					AddRow(uuid.New(), "A", "a@x.com", "", "gym", tt.wantStatus, 0.0, now, now))

			got, err := engine.ResolveRecipients(context.Background(),
				&crm.EmailCampaign{TargetAudience: tt.audience})
			if err != nil {
				t.Fatalf("ResolveRecipients() error: %v", err)
			}
			if len(got) != 1 {
				t.Errorf("len = %d, want 1", len(got))
			}
		})
	}
}

func TestResolveRecipients_UnknownAudience(t *testing.T) {
	engine, _, _, cleanup := setupEngine(t)
	defer cleanup()

	got, err := engine.ResolveRecipients(context.Background(),
		&crm.EmailCampaign{TargetAudience: "vip_whales"})
	if err != nil {
		t.Fatalf("ResolveRecipients() error: %v", err)
	}
	if got != nil {
		t.Errorf("unknown audience should resolve to nil, got %v", got)
	}
}

func TestResolveRecipients_KeepsEmaillessCustomers(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM customers ORDER BY created_at").
		WillReturnRows(customerRows().
			AddRow(uuid.New(), "A", "a@x.com", "", "gym", crm.CustomerSubscribed, 0.0, now, now).
			AddRow(uuid.New(), "B", "", "", "gym", crm.CustomerSubscribed, 0.0, now, now))

	got, err := engine.ResolveRecipients(context.Background(),
		&crm.EmailCampaign{TargetAudience: crm.AudienceAll})
	if err != nil {
		t.Fatalf("ResolveRecipients() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2; resolution must not filter on email", len(got))
	}
}

func TestLaunch_MixedOutcomes(t *testing.T) {
	engine, fm, mock, cleanup := setupEngine(t)
	defer cleanup()
	fm.failFor["bad@x.com"] = errors.New("mailbox full")

	id := uuid.New()
	now := time.Now()
	expectCampaignRow(mock, id, crm.CampaignDraft, crm.AudienceAll)
	mock.ExpectQuery("FROM customers ORDER BY created_at").
		WillReturnRows(customerRows().
			AddRow(uuid.New(), "Good One", "good1@x.com", "", "gym", crm.CustomerSubscribed, 0.0, now, now).
			AddRow(uuid.New(), "Bad", "bad@x.com", "", "gym", crm.CustomerSubscribed, 0.0, now, now).
			AddRow(uuid.New(), "Good Two", "good2@x.com", "", "gym", crm.CustomerSubscribed, 0.0, now, now))
	mock.ExpectExec("UPDATE email_campaigns SET status = 'active'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// One audit notification per recipient, success or not.
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_campaigns SET status = 'completed'").
		WithArgs(id, 2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := engine.Launch(context.Background(), id)
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want sent=2 failed=1", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].Email != "bad@x.com" {
		t.Errorf("errors = %+v", result.Errors)
	}
	if len(fm.sent) != 2 {
		t.Errorf("mailer sent %d, want 2", len(fm.sent))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLaunch_WrongStatus(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	id := uuid.New()
	expectCampaignRow(mock, id, crm.CampaignCompleted, crm.AudienceAll)

	_, err := engine.Launch(context.Background(), id)
	if !crm.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestLaunch_DoubleLaunchRace(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	id := uuid.New()
	expectCampaignRow(mock, id, crm.CampaignScheduled, crm.AudienceAll)
	mock.ExpectQuery("FROM customers ORDER BY created_at").
		WillReturnRows(customerRows())
	// Another worker won the activation between load and update.
	mock.ExpectExec("UPDATE email_campaigns SET status = 'active'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := engine.Launch(context.Background(), id)
	if !crm.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestLaunch_NotFound(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	mock.ExpectQuery("FROM email_campaigns").
		WillReturnRows(campaignRows())

	_, err := engine.Launch(context.Background(), uuid.New())
	if !crm.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestPause_NotActive(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	mock.ExpectExec("UPDATE email_campaigns SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := engine.Pause(context.Background(), uuid.New())
	if !crm.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestPauseResume_Toggle(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectExec("UPDATE email_campaigns SET status").
		WithArgs(id, crm.CampaignActive, crm.CampaignPaused).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE email_campaigns SET status").
		WithArgs(id, crm.CampaignPaused, crm.CampaignActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := engine.Pause(context.Background(), id); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}
	if err := engine.Resume(context.Background(), id); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTestSend_NoAuditWrites(t *testing.T) {
	engine, fm, mock, cleanup := setupEngine(t)
	defer cleanup()
	fm.failFor["down@x.com"] = errors.New("rejected")

	id := uuid.New()
	expectCampaignRow(mock, id, crm.CampaignDraft, crm.AudienceAll)

	results, err := engine.TestSend(context.Background(), id, []string{"ok@x.com", "down@x.com"})
	if err != nil {
		t.Fatalf("TestSend() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if !results[0].Success || results[0].MessageID == "" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("second result = %+v", results[1])
	}
	if !strings.HasPrefix(fm.sent[0].Subject, "[TEST] ") {
		t.Errorf("test subject = %q", fm.sent[0].Subject)
	}
	// No INSERT INTO notifications was ever expected; any write would fail
	// the expectation check.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTestSend_NoAddresses(t *testing.T) {
	engine, _, mock, cleanup := setupEngine(t)
	defer cleanup()

	id := uuid.New()
	expectCampaignRow(mock, id, crm.CampaignDraft, crm.AudienceAll)

	_, err := engine.TestSend(context.Background(), id, nil)
	if !crm.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
