package crm

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Customer status constants
const (
	CustomerInterested    = "interested"
	CustomerNotInterested = "not_interested"
	CustomerSubscribed    = "subscribed"
	CustomerExpired       = "expired"
)

// Payment status constants
const (
	PaymentPending   = "pending"
	PaymentPaid      = "paid"
	PaymentOverdue   = "overdue"
	PaymentCancelled = "cancelled"
)

// Notification status constants
const (
	NotificationPending   = "pending"
	NotificationSent      = "sent"
	NotificationDelivered = "delivered"
	NotificationFailed    = "failed"
)

// Notification type constants
const (
	TypeSubscriptionExpiry = "subscription_expiry"
	TypePaymentReminder    = "payment_reminder"
	TypeWelcome            = "welcome"
	TypeCustom             = "custom"
)

// Notification channel constants
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
	ChannelAll   = "all"
)

// Campaign status constants
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignActive    = "active"
	CampaignCompleted = "completed"
	CampaignPaused    = "paused"
)

// Campaign target audience constants
const (
	AudienceAll        = "all"
	AudienceSubscribed = "subscribed"
	AudienceExpired    = "expired"
	AudienceInterested = "interested"
	AudienceCustom     = "custom"
)

// JSON helper type for JSONB fields
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// Customer represents a tracked customer/contact
type Customer struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Phone      string    `json:"phone" db:"phone"`
	Category   string    `json:"category" db:"category"`
	Status     string    `json:"status" db:"status"`
	TotalSpent float64   `json:"total_spent" db:"total_spent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription represents a time-bounded grant for a customer
type Subscription struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CustomerID    uuid.UUID `json:"customer_id" db:"customer_id"`
	PackageType   string    `json:"package_type" db:"package_type"`
	StartDate     time.Time `json:"start_date" db:"start_date"`
	EndDate       time.Time `json:"end_date" db:"end_date"`
	Price         float64   `json:"price" db:"price"`
	PaymentStatus string    `json:"payment_status" db:"payment_status"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	AutoRenew     bool      `json:"auto_renew" db:"auto_renew"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	Customer *Customer `json:"customer,omitempty" db:"-"`
}

// DaysUntilExpiry returns the number of whole or partial days until the
// subscription's end date, relative to now. Negative once expired.
func (s *Subscription) DaysUntilExpiry(now time.Time) int {
	return int(math.Ceil(s.EndDate.Sub(now).Hours() / 24))
}

// IsExpired reports whether the subscription's end date has passed.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.EndDate.Before(now)
}

// Notification represents a single scheduled-or-sent message.
// Customer and Subscription are populated by queries that join the
// referenced rows; they are nil otherwise.
type Notification struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	CustomerID       uuid.UUID  `json:"customer_id" db:"customer_id"`
	SubscriptionID   *uuid.UUID `json:"subscription_id,omitempty" db:"subscription_id"`
	Type             string     `json:"type" db:"type"`
	Title            string     `json:"title" db:"title"`
	Message          string     `json:"message" db:"message"`
	Status           string     `json:"status" db:"status"`
	Channel          string     `json:"channel" db:"channel"`
	IsAutomated      bool       `json:"is_automated" db:"is_automated"`
	ScheduledFor     *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt           *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveryAttempts int        `json:"delivery_attempts" db:"delivery_attempts"`
	Metadata         JSON       `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`

	Customer *Customer `json:"customer,omitempty" db:"-"`
}

// EmailCampaign represents a bulk-send unit
type EmailCampaign struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	Name             string      `json:"name" db:"name"`
	Subject          string      `json:"subject" db:"subject"`
	Template         string      `json:"template" db:"template"`
	Content          string      `json:"content" db:"content"`
	Status           string      `json:"status" db:"status"`
	TargetAudience   string      `json:"target_audience" db:"target_audience"`
	CustomRecipients []uuid.UUID `json:"custom_recipients,omitempty" db:"custom_recipients"`
	ScheduledFor     *time.Time  `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt           *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
	Stats            CampaignStats `json:"statistics"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// CampaignStats holds aggregate delivery statistics for a campaign
type CampaignStats struct {
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	DeliveredCount  int `json:"delivered_count" db:"delivered_count"`
	OpenedCount     int `json:"opened_count" db:"opened_count"`
	FailedCount     int `json:"failed_count" db:"failed_count"`
}
