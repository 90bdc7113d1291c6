package crm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateNotification creates a new notification record. Status defaults to
// pending and delivery attempts start at zero unless the caller set them
// (campaign audit records are written with a final status directly).
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = time.Now()
	if n.Status == "" {
		n.Status = NotificationPending
	}
	if n.Channel == "" {
		n.Channel = ChannelEmail
	}

	query := `INSERT INTO notifications (id, customer_id, subscription_id, type, title, message,
		status, channel, is_automated, scheduled_for, sent_at, delivery_attempts, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.db.ExecContext(ctx, query, n.ID, n.CustomerID, n.SubscriptionID, n.Type,
		n.Title, n.Message, n.Status, n.Channel, n.IsAutomated, n.ScheduledFor, n.SentAt,
		n.DeliveryAttempts, n.Metadata, n.CreatedAt, n.UpdatedAt)
	return err
}

const notificationJoinColumns = `n.id, n.customer_id, n.subscription_id, n.type, n.title, n.message,
	n.status, n.channel, n.is_automated, n.scheduled_for, n.sent_at, n.delivery_attempts, n.metadata,
	n.created_at, n.updated_at,
	c.id, c.name, c.email, c.phone, c.category, c.status`

// GetNotification retrieves a notification by ID with its customer populated.
// Returns nil, nil when the notification does not exist; a missing customer
// row leaves Customer nil.
func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationJoinColumns + `
		FROM notifications n
		LEFT JOIN customers c ON c.id = n.customer_id
		WHERE n.id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	n, err := scanNotificationWithCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

// GetPendingNotifications retrieves pending notifications whose scheduled
// time is unset or has passed, oldest first, with customers populated.
// Email filtering is the caller's concern.
func (s *Store) GetPendingNotifications(ctx context.Context, now time.Time) ([]*Notification, error) {
	query := `SELECT ` + notificationJoinColumns + `
		FROM notifications n
		LEFT JOIN customers c ON c.id = n.customer_id
		WHERE n.status = 'pending' AND (n.scheduled_for IS NULL OR n.scheduled_for <= $1)
		ORDER BY n.scheduled_for ASC NULLS FIRST, n.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotificationWithCustomer(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotificationWithCustomer(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var custID, custName, custEmail, custPhone, custCategory, custStatus sql.NullString
	err := row.Scan(&n.ID, &n.CustomerID, &n.SubscriptionID, &n.Type, &n.Title, &n.Message,
		&n.Status, &n.Channel, &n.IsAutomated, &n.ScheduledFor, &n.SentAt, &n.DeliveryAttempts,
		&n.Metadata, &n.CreatedAt, &n.UpdatedAt,
		&custID, &custName, &custEmail, &custPhone, &custCategory, &custStatus)
	if err != nil {
		return nil, err
	}
	if custID.Valid {
		id, parseErr := uuid.Parse(custID.String)
		if parseErr == nil {
			n.Customer = &Customer{
				ID:       id,
				Name:     custName.String,
				Email:    custEmail.String,
				Phone:    custPhone.String,
				Category: custCategory.String,
				Status:   custStatus.String,
			}
		}
	}
	return n, nil
}

// MarkNotificationSent records a successful dispatch attempt
func (s *Store) MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `UPDATE notifications SET status = 'sent', sent_at = $2,
		delivery_attempts = delivery_attempts + 1, updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, sentAt)
	return err
}

// MarkNotificationFailed records a failed dispatch attempt
func (s *Store) MarkNotificationFailed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE notifications SET status = 'failed',
		delivery_attempts = delivery_attempts + 1, updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// HasActiveExpiryNotification reports whether a pending or sent
// subscription_expiry notification already exists for the pair.
func (s *Store) HasActiveExpiryNotification(ctx context.Context, customerID, subscriptionID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM notifications
		WHERE customer_id = $1 AND subscription_id = $2
		  AND type = 'subscription_expiry' AND status IN ('pending', 'sent'))`

	var exists bool
	err := s.db.QueryRowContext(ctx, query, customerID, subscriptionID).Scan(&exists)
	return exists, err
}

// HasRecentPaymentReminder reports whether a sent payment_reminder exists
// for the pair with sent_at on or after the given cutoff.
func (s *Store) HasRecentPaymentReminder(ctx context.Context, customerID, subscriptionID uuid.UUID, since time.Time) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM notifications
		WHERE customer_id = $1 AND subscription_id = $2
		  AND type = 'payment_reminder' AND status = 'sent' AND sent_at >= $3)`

	var exists bool
	err := s.db.QueryRowContext(ctx, query, customerID, subscriptionID, since).Scan(&exists)
	return exists, err
}

// GetNotifications retrieves notifications filtered by status and/or type,
// newest first. Empty filter values match everything.
func (s *Store) GetNotifications(ctx context.Context, status, notifType string, limit, offset int) ([]*Notification, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1
	if status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if notifType != "" {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, notifType)
		argIdx++
	}

	var total int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications `+where, args...).Scan(&total)

	query := fmt.Sprintf(`SELECT id, customer_id, subscription_id, type, title, message, status,
		channel, is_automated, scheduled_for, sent_at, delivery_attempts, metadata, created_at, updated_at
		FROM notifications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		err := rows.Scan(&n.ID, &n.CustomerID, &n.SubscriptionID, &n.Type, &n.Title, &n.Message,
			&n.Status, &n.Channel, &n.IsAutomated, &n.ScheduledFor, &n.SentAt,
			&n.DeliveryAttempts, &n.Metadata, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// DeleteNotification removes a notification
func (s *Store) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "notification", ID: id.String()}
	}
	return nil
}

// DeleteNotifications removes a batch of notifications by id
func (s *Store) DeleteNotifications(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, &ValidationError{Msg: "bulk delete requires at least one notification id"}
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ANY($1::uuid[])`, pq.Array(strIDs))
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// CountNotificationsByStatus returns notification counts grouped by status
func (s *Store) CountNotificationsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countNotificationsBy(ctx, "status")
}

// CountNotificationsByType returns notification counts grouped by type
func (s *Store) CountNotificationsByType(ctx context.Context) (map[string]int, error) {
	return s.countNotificationsBy(ctx, "type")
}

func (s *Store) countNotificationsBy(ctx context.Context, column string) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM notifications GROUP BY %s`, column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
