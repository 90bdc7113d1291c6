// Package notify implements the notification engine: creation, dedup,
// pending-queue queries, and dispatch of individual customer notifications.
package notify

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

const (
	// DefaultExpiryWindowDays is how far ahead the expiry batch looks
	// when the caller does not specify a window.
	DefaultExpiryWindowDays = 7

	// ReminderRepeatDays is the minimum gap between payment reminders
	// for the same subscription. Payment nags repeat; expiry notices
	// do not.
	ReminderRepeatDays = 7
)

// Engine creates, deduplicates, queries, and dispatches notifications.
type Engine struct {
	store  *crm.Store
	mailer mailer.Mailer
	now    func() time.Time
}

// NewEngine creates a notification engine. The mailer is injected; there
// is no ambient transport.
func NewEngine(store *crm.Store, m mailer.Mailer) *Engine {
	return &Engine{store: store, mailer: m, now: time.Now}
}

// SetClock overrides the engine's time source (used in tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateParams are the inputs for creating a single notification.
type CreateParams struct {
	CustomerID     uuid.UUID
	SubscriptionID *uuid.UUID
	Type           string
	Title          string
	Message        string
	ScheduledFor   *time.Time
	Channel        string
	IsAutomated    bool
	Metadata       crm.JSON
}

// Create creates a notification in pending status. The customer must
// exist; a customer without an email is allowed (not every notification
// is email-bound) but logged.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*crm.Notification, error) {
	customer, err := e.store.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, &crm.NotFoundError{Resource: "customer", ID: p.CustomerID.String()}
	}
	if customer.Email == "" {
		log.Printf("[Notify] Warning: customer %s has no email; notification will be created but cannot be emailed", customer.ID)
	}

	n := &crm.Notification{
		CustomerID:     p.CustomerID,
		SubscriptionID: p.SubscriptionID,
		Type:           p.Type,
		Title:          p.Title,
		Message:        p.Message,
		Status:         crm.NotificationPending,
		Channel:        p.Channel,
		IsAutomated:    p.IsAutomated,
		ScheduledFor:   p.ScheduledFor,
		Metadata:       p.Metadata,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	n.Customer = customer
	return n, nil
}

// GetPending returns dispatchable notifications oldest-first, excluding
// any whose customer is missing or has no email. Excluded records stay in
// the store untouched; the count of exclusions is returned for the
// scheduler's skip tally.
func (e *Engine) GetPending(ctx context.Context) ([]*crm.Notification, int, error) {
	all, err := e.store.GetPendingNotifications(ctx, e.now())
	if err != nil {
		return nil, 0, fmt.Errorf("query pending notifications: %w", err)
	}

	var sendable []*crm.Notification
	skipped := 0
	for _, n := range all {
		if n.Customer == nil {
			log.Printf("[Notify] Excluding notification %s from pending queue: customer %s missing", n.ID, n.CustomerID)
			skipped++
			continue
		}
		if n.Customer.Email == "" {
			log.Printf("[Notify] Excluding notification %s from pending queue: customer %s has no email", n.ID, n.CustomerID)
			skipped++
			continue
		}
		sendable = append(sendable, n)
	}
	return sendable, skipped, nil
}

// Dispatch attempts delivery of one notification. Delivery attempts are
// incremented exactly once whether the send succeeds or fails. A failed
// status write after a transport failure is logged and swallowed; the
// transport error still reaches the caller.
func (e *Engine) Dispatch(ctx context.Context, id uuid.UUID) (*crm.Notification, error) {
	n, err := e.store.GetNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notification: %w", err)
	}
	if n == nil {
		return nil, &crm.NotFoundError{Resource: "notification", ID: id.String()}
	}
	if n.Customer == nil {
		return nil, &crm.ValidationError{Msg: fmt.Sprintf("notification %s cannot be sent: customer %s does not exist", n.ID, n.CustomerID)}
	}
	if n.Customer.Email == "" {
		return nil, &crm.ValidationError{Msg: fmt.Sprintf("notification %s cannot be sent: customer %s has no email", n.ID, n.CustomerID)}
	}

	if n.Channel == crm.ChannelEmail || n.Channel == crm.ChannelAll {
		msg := &mailer.Message{
			To:       n.Customer.Email,
			Subject:  n.Title,
			Text:     n.Message,
			Template: n.Type,
			Metadata: metadataTags(n),
		}
		if _, sendErr := e.mailer.Send(ctx, msg); sendErr != nil {
			if updErr := e.store.MarkNotificationFailed(ctx, n.ID); updErr != nil {
				log.Printf("[Notify] Warning: failed-status write for notification %s also failed: %v", n.ID, updErr)
			} else {
				n.Status = crm.NotificationFailed
				n.DeliveryAttempts++
			}
			return n, &crm.TransportError{Op: fmt.Sprintf("dispatch notification %s", n.ID), Err: sendErr}
		}
	}

	sentAt := e.now()
	if err := e.store.MarkNotificationSent(ctx, n.ID, sentAt); err != nil {
		return nil, fmt.Errorf("record sent status for notification %s: %w", n.ID, err)
	}
	n.Status = crm.NotificationSent
	n.SentAt = &sentAt
	n.DeliveryAttempts++
	logger.Info("notification dispatched", "notification_id", n.ID.String(), "recipient", n.Customer.Email, "type", n.Type)
	return n, nil
}

// BatchResult reports how a discovery batch went. Batches never fail on
// individual records; problems become skips.
type BatchResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// CreateSubscriptionExpiryBatch scans active subscriptions ending within
// daysBefore days and creates one expiry notification per subscription.
// A subscription with a pending or sent expiry notification is skipped,
// so re-running the batch never duplicates notices.
func (e *Engine) CreateSubscriptionExpiryBatch(ctx context.Context, daysBefore int) (BatchResult, error) {
	if daysBefore <= 0 {
		daysBefore = DefaultExpiryWindowDays
	}
	now := e.now()

	subs, err := e.store.GetExpiringSubscriptions(ctx, now, now.AddDate(0, 0, daysBefore))
	if err != nil {
		return BatchResult{}, fmt.Errorf("query expiring subscriptions: %w", err)
	}

	var result BatchResult
	for _, sub := range subs {
		if sub.Customer == nil || sub.Customer.Email == "" {
			log.Printf("[Notify] Expiry batch skipping subscription %s: customer missing or has no email", sub.ID)
			result.Skipped++
			continue
		}

		exists, err := e.store.HasActiveExpiryNotification(ctx, sub.CustomerID, sub.ID)
		if err != nil {
			log.Printf("[Notify] Expiry batch dedup check failed for subscription %s: %v", sub.ID, err)
			result.Skipped++
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		title, message := expiryMessage(sub.Customer.Name, sub.DaysUntilExpiry(now), sub.EndDate)
		scheduledFor := now
		subID := sub.ID
		n := &crm.Notification{
			CustomerID:     sub.CustomerID,
			SubscriptionID: &subID,
			Type:           crm.TypeSubscriptionExpiry,
			Title:          title,
			Message:        message,
			Channel:        crm.ChannelEmail,
			IsAutomated:    true,
			ScheduledFor:   &scheduledFor,
			Metadata: crm.JSON{
				"days_until_expiry": sub.DaysUntilExpiry(now),
				"package_type":      sub.PackageType,
			},
		}
		if err := e.store.CreateNotification(ctx, n); err != nil {
			log.Printf("[Notify] Expiry batch insert failed for subscription %s: %v", sub.ID, err)
			result.Skipped++
			continue
		}
		result.Created++
	}

	log.Printf("[Notify] Expiry batch complete: created=%d skipped=%d (window: %d days)", result.Created, result.Skipped, daysBefore)
	return result, nil
}

// CreatePaymentReminderBatch scans active unpaid subscriptions and creates
// a reminder for each, unless one was already sent within the last
// ReminderRepeatDays days. Unlike expiry notices, reminders repeat weekly
// until the payment lands.
func (e *Engine) CreatePaymentReminderBatch(ctx context.Context) (BatchResult, error) {
	now := e.now()

	subs, err := e.store.GetPendingPaymentSubscriptions(ctx, now)
	if err != nil {
		return BatchResult{}, fmt.Errorf("query pending-payment subscriptions: %w", err)
	}

	cutoff := now.AddDate(0, 0, -ReminderRepeatDays)
	var result BatchResult
	for _, sub := range subs {
		if sub.Customer == nil || sub.Customer.Email == "" {
			log.Printf("[Notify] Reminder batch skipping subscription %s: customer missing or has no email", sub.ID)
			result.Skipped++
			continue
		}

		recent, err := e.store.HasRecentPaymentReminder(ctx, sub.CustomerID, sub.ID, cutoff)
		if err != nil {
			log.Printf("[Notify] Reminder batch dedup check failed for subscription %s: %v", sub.ID, err)
			result.Skipped++
			continue
		}
		if recent {
			result.Skipped++
			continue
		}

		title, message := paymentReminderMessage(sub.Customer.Name, sub.Price, sub.EndDate)
		scheduledFor := now
		subID := sub.ID
		n := &crm.Notification{
			CustomerID:     sub.CustomerID,
			SubscriptionID: &subID,
			Type:           crm.TypePaymentReminder,
			Title:          title,
			Message:        message,
			Channel:        crm.ChannelEmail,
			IsAutomated:    true,
			ScheduledFor:   &scheduledFor,
			Metadata: crm.JSON{
				"price":        sub.Price,
				"package_type": sub.PackageType,
			},
		}
		if err := e.store.CreateNotification(ctx, n); err != nil {
			log.Printf("[Notify] Reminder batch insert failed for subscription %s: %v", sub.ID, err)
			result.Skipped++
			continue
		}
		result.Created++
	}

	log.Printf("[Notify] Payment reminder batch complete: created=%d skipped=%d", result.Created, result.Skipped)
	return result, nil
}

// CreateWelcome creates a welcome notification and sends it immediately,
// bypassing the hourly dispatch queue. Welcome mail should land while the
// signup is still fresh.
func (e *Engine) CreateWelcome(ctx context.Context, customerID uuid.UUID) (*crm.Notification, error) {
	customer, err := e.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil {
		return nil, &crm.NotFoundError{Resource: "customer", ID: customerID.String()}
	}
	if customer.Email == "" {
		return nil, &crm.ValidationError{Msg: fmt.Sprintf("customer %s has no email for welcome message", customerID)}
	}

	wc := welcomeCopyFor(customer.Category)
	n := &crm.Notification{
		CustomerID:  customerID,
		Type:        crm.TypeWelcome,
		Title:       wc.Title,
		Message:     wc.Message,
		Channel:     crm.ChannelEmail,
		IsAutomated: true,
		Metadata: crm.JSON{
			"category": customer.Category,
			"image":    wc.Image,
			"link":     wc.Link,
		},
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create welcome notification: %w", err)
	}
	n.Customer = customer

	msg := &mailer.Message{
		To:       customer.Email,
		Subject:  n.Title,
		Text:     n.Message,
		Template: crm.TypeWelcome,
		Metadata: metadataTags(n),
	}
	if _, sendErr := e.mailer.Send(ctx, msg); sendErr != nil {
		if updErr := e.store.MarkNotificationFailed(ctx, n.ID); updErr != nil {
			log.Printf("[Notify] Warning: failed-status write for welcome %s also failed: %v", n.ID, updErr)
		} else {
			n.Status = crm.NotificationFailed
			n.DeliveryAttempts++
		}
		return n, &crm.TransportError{Op: fmt.Sprintf("send welcome %s", n.ID), Err: sendErr}
	}

	sentAt := e.now()
	if err := e.store.MarkNotificationSent(ctx, n.ID, sentAt); err != nil {
		return nil, fmt.Errorf("record sent status for welcome %s: %w", n.ID, err)
	}
	n.Status = crm.NotificationSent
	n.SentAt = &sentAt
	n.DeliveryAttempts++
	return n, nil
}

func metadataTags(n *crm.Notification) map[string]string {
	tags := map[string]string{"notification_id": n.ID.String()}
	for k, v := range n.Metadata {
		tags[k] = fmt.Sprintf("%v", v)
	}
	return tags
}
