package crm

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateCampaign creates a new email campaign in draft status
func (s *Store) CreateCampaign(ctx context.Context, c *EmailCampaign) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	if c.TargetAudience == "" {
		c.TargetAudience = AudienceAll
	}

	query := `INSERT INTO email_campaigns (id, name, subject, template, content, status,
		target_audience, custom_recipients, scheduled_for, sent_at,
		total_recipients, sent_count, delivered_count, opened_count, failed_count,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.Template, c.Content,
		c.Status, c.TargetAudience, pq.Array(uuidStrings(c.CustomRecipients)),
		c.ScheduledFor, c.SentAt, c.Stats.TotalRecipients, c.Stats.SentCount,
		c.Stats.DeliveredCount, c.Stats.OpenedCount, c.Stats.FailedCount,
		c.CreatedAt, c.UpdatedAt)
	return err
}

const campaignColumns = `id, name, subject, template, content, status, target_audience,
	custom_recipients, scheduled_for, sent_at, total_recipients, sent_count,
	delivered_count, opened_count, failed_count, created_at, updated_at`

// GetCampaign retrieves a campaign by ID
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*EmailCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns WHERE id = $1`

	c := &EmailCampaign{}
	var recipients pq.StringArray
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.Template, &c.Content, &c.Status, &c.TargetAudience,
		&recipients, &c.ScheduledFor, &c.SentAt, &c.Stats.TotalRecipients, &c.Stats.SentCount,
		&c.Stats.DeliveredCount, &c.Stats.OpenedCount, &c.Stats.FailedCount,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CustomRecipients = parseUUIDs(recipients)
	return c, nil
}

// GetCampaigns retrieves campaigns, newest first
func (s *Store) GetCampaigns(ctx context.Context, limit, offset int) ([]*EmailCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

// GetDueCampaigns retrieves scheduled campaigns whose send time has arrived
func (s *Store) GetDueCampaigns(ctx context.Context, now time.Time) ([]*EmailCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM email_campaigns
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

func scanCampaigns(rows *sql.Rows) ([]*EmailCampaign, error) {
	var campaigns []*EmailCampaign
	for rows.Next() {
		c := &EmailCampaign{}
		var recipients pq.StringArray
		err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.Template, &c.Content, &c.Status,
			&c.TargetAudience, &recipients, &c.ScheduledFor, &c.SentAt,
			&c.Stats.TotalRecipients, &c.Stats.SentCount, &c.Stats.DeliveredCount,
			&c.Stats.OpenedCount, &c.Stats.FailedCount, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		c.CustomRecipients = parseUUIDs(recipients)
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaign updates a campaign's editable fields
func (s *Store) UpdateCampaign(ctx context.Context, c *EmailCampaign) error {
	query := `UPDATE email_campaigns SET name = $2, subject = $3, template = $4, content = $5,
		target_audience = $6, custom_recipients = $7, updated_at = NOW() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.Template,
		c.Content, c.TargetAudience, pq.Array(uuidStrings(c.CustomRecipients)))
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "campaign", ID: c.ID.String()}
	}
	return nil
}

// DeleteCampaign removes a campaign. Audit notifications written during
// its sends are left in place.
func (s *Store) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM email_campaigns WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "campaign", ID: id.String()}
	}
	return nil
}

// ScheduleCampaign sets a campaign's send time and moves it to scheduled.
// Only draft or already-scheduled campaigns can be (re)scheduled.
func (s *Store) ScheduleCampaign(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE email_campaigns SET status = 'scheduled', scheduled_for = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'scheduled')`

	result, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "schedulable campaign", ID: id.String()}
	}
	return nil
}

// MarkCampaignActive flips a launchable campaign to active and stamps its
// send time and recipient total. Returns false if the campaign was not in
// a launchable status, which guards against double launches.
func (s *Store) MarkCampaignActive(ctx context.Context, id uuid.UUID, totalRecipients int, sentAt time.Time) (bool, error) {
	query := `UPDATE email_campaigns SET status = 'active', sent_at = $2, total_recipients = $3,
		updated_at = NOW() WHERE id = $1 AND status IN ('draft', 'scheduled')`

	result, err := s.db.ExecContext(ctx, query, id, sentAt, totalRecipients)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// FinalizeCampaign records final send counts and moves the campaign to
// completed. A campaign with failures still completes; it is never
// automatically retried.
func (s *Store) FinalizeCampaign(ctx context.Context, id uuid.UUID, sent, failed int) error {
	query := `UPDATE email_campaigns SET status = 'completed', sent_count = $2, failed_count = $3,
		updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, sent, failed)
	return err
}

// TransitionCampaignStatus moves a campaign between two statuses, guarded
// on the expected current status. Used for the pause/resume toggle.
func (s *Store) TransitionCampaignStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE email_campaigns SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) []uuid.UUID {
	var out []uuid.UUID
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
