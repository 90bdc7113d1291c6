// Package campaign implements the campaign engine: audience resolution,
// the bulk send loop with per-recipient outcome tracking, scheduling, and
// the pause/resume toggle.
package campaign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/mailer"
	"github.com/ignite/clienthub/internal/pkg/logger"
)

// Engine drives bulk email campaigns.
type Engine struct {
	store    *crm.Store
	mailer   mailer.Mailer
	renderer *Renderer
	now      func() time.Time
}

// NewEngine creates a campaign engine with an injected mailer.
func NewEngine(store *crm.Store, m mailer.Mailer) *Engine {
	return &Engine{store: store, mailer: m, renderer: NewRenderer(), now: time.Now}
}

// SetClock overrides the engine's time source (used in tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ResolveRecipients maps a campaign's target audience to the customers it
// addresses. Unknown audience values resolve to an empty list rather than
// an error. Recipients are not filtered on email presence here; that is a
// dispatch concern.
func (e *Engine) ResolveRecipients(ctx context.Context, c *crm.EmailCampaign) ([]*crm.Customer, error) {
	switch c.TargetAudience {
	case crm.AudienceAll:
		return e.store.GetAllCustomers(ctx)
	case crm.AudienceSubscribed:
		return e.store.GetCustomersByStatus(ctx, crm.CustomerSubscribed)
	case crm.AudienceExpired:
		return e.store.GetCustomersByStatus(ctx, crm.CustomerExpired)
	case crm.AudienceInterested:
		return e.store.GetCustomersByStatus(ctx, crm.CustomerInterested)
	case crm.AudienceCustom:
		return e.store.GetCustomersByIDs(ctx, c.CustomRecipients)
	default:
		log.Printf("[Campaign] Unknown target audience %q for campaign %s; resolving to no recipients", c.TargetAudience, c.ID)
		return nil, nil
	}
}

// RecipientError records one recipient's send failure for the caller to
// render without re-querying.
type RecipientError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// LaunchResult summarizes a completed bulk send.
type LaunchResult struct {
	Sent   int              `json:"sent"`
	Failed int              `json:"failed"`
	Errors []RecipientError `json:"errors,omitempty"`
}

// Launch runs the bulk send loop for a campaign. Each recipient is
// isolated: one transport failure is recorded and the loop continues. One
// audit notification is written per recipient regardless of outcome, and
// the campaign always finishes in completed status. Failed recipients are
// not retried automatically.
func (e *Engine) Launch(ctx context.Context, id uuid.UUID) (*LaunchResult, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if c == nil {
		return nil, &crm.NotFoundError{Resource: "campaign", ID: id.String()}
	}
	if c.Status != crm.CampaignDraft && c.Status != crm.CampaignScheduled {
		return nil, &crm.ValidationError{Msg: fmt.Sprintf("campaign %s cannot be launched from status %q", id, c.Status)}
	}

	recipients, err := e.ResolveRecipients(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	launched, err := e.store.MarkCampaignActive(ctx, id, len(recipients), e.now())
	if err != nil {
		return nil, fmt.Errorf("activate campaign: %w", err)
	}
	if !launched {
		return nil, &crm.ValidationError{Msg: fmt.Sprintf("campaign %s was already launched", id)}
	}

	log.Printf("[Campaign] Launching %s (%s) to %d recipients", c.Name, c.ID, len(recipients))

	result := &LaunchResult{}
	for _, recipient := range recipients {
		e.sendToRecipient(ctx, c, recipient, result)
	}

	if err := e.store.FinalizeCampaign(ctx, id, result.Sent, result.Failed); err != nil {
		return result, fmt.Errorf("finalize campaign %s: %w", id, err)
	}

	log.Printf("[Campaign] Campaign %s completed (sent: %d, failed: %d)", c.ID, result.Sent, result.Failed)
	return result, nil
}

// sendToRecipient sends one campaign email and writes the audit
// notification for it. Never returns an error; outcomes land in result.
func (e *Engine) sendToRecipient(ctx context.Context, c *crm.EmailCampaign, recipient *crm.Customer, result *LaunchResult) {
	bindings := map[string]interface{}{
		"name":  recipient.Name,
		"email": recipient.Email,
	}
	body := e.renderer.RenderBody(c.Template, c.Subject, c.Content, bindings)

	msg := &mailer.Message{
		To:       recipient.Email,
		Subject:  c.Subject,
		HTML:     body,
		Template: c.Template,
		Metadata: map[string]string{"campaign_id": c.ID.String()},
	}

	_, sendErr := e.mailer.Send(ctx, msg)

	status := crm.NotificationSent
	if sendErr != nil {
		status = crm.NotificationFailed
		result.Failed++
		result.Errors = append(result.Errors, RecipientError{
			Email: recipient.Email,
			Error: sendErr.Error(),
		})
		logger.Warn("campaign send failed", "campaign_id", c.ID.String(), "recipient", recipient.Email, "error", sendErr.Error())
	} else {
		result.Sent++
	}

	sentAt := e.now()
	audit := &crm.Notification{
		CustomerID:       recipient.ID,
		Type:             crm.TypeCustom,
		Title:            c.Subject,
		Message:          e.renderer.RenderContent(c.Content, bindings),
		Status:           status,
		Channel:          crm.ChannelEmail,
		IsAutomated:      true,
		DeliveryAttempts: 1,
		Metadata: crm.JSON{
			"campaign_id":   c.ID.String(),
			"campaign_name": c.Name,
		},
	}
	if status == crm.NotificationSent {
		audit.SentAt = &sentAt
	}
	if err := e.store.CreateNotification(ctx, audit); err != nil {
		log.Printf("[Campaign] Warning: audit notification write failed for campaign %s recipient %s: %v", c.ID, recipient.ID, err)
	}
}

// Schedule sets a campaign's send time. Nothing is sent until the daily
// campaign tick notices the time has arrived.
func (e *Engine) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (*crm.EmailCampaign, error) {
	if err := e.store.ScheduleCampaign(ctx, id, at); err != nil {
		return nil, err
	}
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload campaign: %w", err)
	}
	return c, nil
}

// Pause moves an active campaign to paused. It does not interrupt a
// launch loop already in flight.
func (e *Engine) Pause(ctx context.Context, id uuid.UUID) error {
	ok, err := e.store.TransitionCampaignStatus(ctx, id, crm.CampaignActive, crm.CampaignPaused)
	if err != nil {
		return err
	}
	if !ok {
		return &crm.ValidationError{Msg: fmt.Sprintf("campaign %s is not active", id)}
	}
	return nil
}

// Resume moves a paused campaign back to active. The send loop is not
// re-run.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) error {
	ok, err := e.store.TransitionCampaignStatus(ctx, id, crm.CampaignPaused, crm.CampaignActive)
	if err != nil {
		return err
	}
	if !ok {
		return &crm.ValidationError{Msg: fmt.Sprintf("campaign %s is not paused", id)}
	}
	return nil
}

// TestSendResult is the outcome for one test address.
type TestSendResult struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TestSend sends the campaign to the given addresses with the same
// rendering as Launch, but writes no audit notifications and leaves the
// campaign untouched. Each address is independent.
func (e *Engine) TestSend(ctx context.Context, id uuid.UUID, emails []string) ([]TestSendResult, error) {
	c, err := e.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if c == nil {
		return nil, &crm.NotFoundError{Resource: "campaign", ID: id.String()}
	}
	if len(emails) == 0 {
		return nil, &crm.ValidationError{Msg: "test send requires at least one address"}
	}

	results := make([]TestSendResult, 0, len(emails))
	for _, email := range emails {
		bindings := map[string]interface{}{"name": "Test Recipient", "email": email}
		msg := &mailer.Message{
			To:       email,
			Subject:  "[TEST] " + c.Subject,
			HTML:     e.renderer.RenderBody(c.Template, c.Subject, c.Content, bindings),
			Template: c.Template,
			Metadata: map[string]string{"campaign_id": c.ID.String(), "test": "true"},
		}
		res, sendErr := e.mailer.Send(ctx, msg)
		if sendErr != nil {
			results = append(results, TestSendResult{Email: email, Success: false, Error: sendErr.Error()})
			continue
		}
		results = append(results, TestSendResult{Email: email, Success: true, MessageID: res.MessageID})
	}
	return results, nil
}
