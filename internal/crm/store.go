package crm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides database operations for CRM entities
type Store struct {
	db *sql.DB
}

// NewStore creates a new CRM store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that need advisory locks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateCustomer creates a new customer
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	c.ID = uuid.New()
	c.Email = NormalizeEmail(c.Email)
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()
	if c.Status == "" {
		c.Status = CustomerInterested
	}

	query := `INSERT INTO customers (id, name, email, phone, category, status, total_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Email, c.Phone, c.Category,
		c.Status, c.TotalSpent, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	query := `SELECT id, name, email, phone, category, status, total_spent, created_at, updated_at
		FROM customers WHERE id = $1`

	c := &Customer{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Category, &c.Status,
		&c.TotalSpent, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetCustomers retrieves customers with pagination
func (s *Store) GetCustomers(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	var total int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&total)

	query := `SELECT id, name, email, phone, category, status, total_spent, created_at, updated_at
		FROM customers ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	customers, err := scanCustomers(rows)
	return customers, total, err
}

// GetCustomersByStatus retrieves all customers with the given status
func (s *Store) GetCustomersByStatus(ctx context.Context, status string) ([]*Customer, error) {
	query := `SELECT id, name, email, phone, category, status, total_spent, created_at, updated_at
		FROM customers WHERE status = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(rows)
}

// GetAllCustomers retrieves every customer
func (s *Store) GetAllCustomers(ctx context.Context) ([]*Customer, error) {
	query := `SELECT id, name, email, phone, category, status, total_spent, created_at, updated_at
		FROM customers ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(rows)
}

// GetCustomersByIDs retrieves customers whose id is in the given set.
// Missing ids are silently absent from the result.
func (s *Store) GetCustomersByIDs(ctx context.Context, ids []uuid.UUID) ([]*Customer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	query := `SELECT id, name, email, phone, category, status, total_spent, created_at, updated_at
		FROM customers WHERE id = ANY($1::uuid[]) ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(strIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(rows)
}

func scanCustomers(rows *sql.Rows) ([]*Customer, error) {
	var customers []*Customer
	for rows.Next() {
		c := &Customer{}
		err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Category, &c.Status,
			&c.TotalSpent, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// UpdateCustomer updates a customer's editable fields
func (s *Store) UpdateCustomer(ctx context.Context, c *Customer) error {
	query := `UPDATE customers SET name = $2, email = $3, phone = $4, category = $5,
		status = $6, total_spent = $7, updated_at = NOW() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, c.ID, c.Name, NormalizeEmail(c.Email),
		c.Phone, c.Category, c.Status, c.TotalSpent)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "customer", ID: c.ID.String()}
	}
	return nil
}

// UpdateCustomerStatus updates a customer's status only
func (s *Store) UpdateCustomerStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE customers SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// DeleteCustomer removes a customer. Notifications and subscriptions that
// reference the customer are left in place.
func (s *Store) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "customer", ID: id.String()}
	}
	return nil
}

// CountCustomersByStatus returns customer counts grouped by status
func (s *Store) CountCustomersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM customers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CreateSubscription creates a new subscription for a customer
func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.EndDate.Before(sub.StartDate) {
		return &ValidationError{Msg: fmt.Sprintf("subscription end date %s is before start date %s",
			sub.EndDate.Format(time.RFC3339), sub.StartDate.Format(time.RFC3339))}
	}

	sub.ID = uuid.New()
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = time.Now()
	if sub.PaymentStatus == "" {
		sub.PaymentStatus = PaymentPending
	}

	query := `INSERT INTO subscriptions (id, customer_id, package_type, start_date, end_date,
		price, payment_status, is_active, auto_renew, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query, sub.ID, sub.CustomerID, sub.PackageType,
		sub.StartDate, sub.EndDate, sub.Price, sub.PaymentStatus, sub.IsActive,
		sub.AutoRenew, sub.CreatedAt, sub.UpdatedAt)
	return err
}

// GetSubscription retrieves a subscription by ID
func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	query := `SELECT id, customer_id, package_type, start_date, end_date, price,
		payment_status, is_active, auto_renew, created_at, updated_at
		FROM subscriptions WHERE id = $1`

	sub := &Subscription{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.CustomerID, &sub.PackageType, &sub.StartDate, &sub.EndDate,
		&sub.Price, &sub.PaymentStatus, &sub.IsActive, &sub.AutoRenew,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// GetSubscriptionsForCustomer retrieves all subscriptions for a customer
func (s *Store) GetSubscriptionsForCustomer(ctx context.Context, customerID uuid.UUID) ([]*Subscription, error) {
	query := `SELECT id, customer_id, package_type, start_date, end_date, price,
		payment_status, is_active, auto_renew, created_at, updated_at
		FROM subscriptions WHERE customer_id = $1 ORDER BY end_date DESC`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		err := rows.Scan(&sub.ID, &sub.CustomerID, &sub.PackageType, &sub.StartDate,
			&sub.EndDate, &sub.Price, &sub.PaymentStatus, &sub.IsActive, &sub.AutoRenew,
			&sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RenewSubscription extends a subscription's end date and resets its
// payment status to pending.
func (s *Store) RenewSubscription(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `UPDATE subscriptions SET end_date = $2, payment_status = 'pending',
		is_active = true, updated_at = NOW() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id, until)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Resource: "subscription", ID: id.String()}
	}
	return nil
}

// SetSubscriptionPaymentStatus transitions a subscription's payment status
// and syncs the owning customer's status in the same transaction. A paid
// subscription marks its customer subscribed.
func (s *Store) SetSubscriptionPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var customerID uuid.UUID
	err = tx.QueryRowContext(ctx, `UPDATE subscriptions SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 RETURNING customer_id`, id, status).Scan(&customerID)
	if err == sql.ErrNoRows {
		return &NotFoundError{Resource: "subscription", ID: id.String()}
	}
	if err != nil {
		return err
	}

	if status == PaymentPaid {
		_, err = tx.ExecContext(ctx, `UPDATE customers SET status = $2, updated_at = NOW() WHERE id = $1`,
			customerID, CustomerSubscribed)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MarkExpiredSubscriptions deactivates subscriptions past their end date
// and flips their customers to expired status. Returns the number of
// subscriptions deactivated.
func (s *Store) MarkExpiredSubscriptions(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `UPDATE subscriptions SET is_active = false, updated_at = NOW()
		WHERE is_active = true AND end_date < $1 RETURNING customer_id`, now)
	if err != nil {
		return 0, err
	}
	var customerIDs []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		customerIDs = append(customerIDs, id.String())
	}
	rows.Close()

	if len(customerIDs) > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE customers SET status = $2, updated_at = NOW()
			WHERE id = ANY($1::uuid[])`, pq.Array(customerIDs), CustomerExpired)
		if err != nil {
			return 0, err
		}
	}

	return len(customerIDs), tx.Commit()
}

// GetExpiringSubscriptions retrieves active subscriptions ending within
// [from, to], with the owning customer populated. A missing customer row
// leaves Customer nil.
func (s *Store) GetExpiringSubscriptions(ctx context.Context, from, to time.Time) ([]*Subscription, error) {
	query := `SELECT s.id, s.customer_id, s.package_type, s.start_date, s.end_date, s.price,
		s.payment_status, s.is_active, s.auto_renew, s.created_at, s.updated_at,
		c.id, c.name, c.email, c.category, c.status
		FROM subscriptions s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.is_active = true AND s.end_date >= $1 AND s.end_date <= $2
		ORDER BY s.end_date`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsWithCustomer(rows)
}

// GetPendingPaymentSubscriptions retrieves active, unexpired subscriptions
// awaiting payment, with the owning customer populated.
func (s *Store) GetPendingPaymentSubscriptions(ctx context.Context, now time.Time) ([]*Subscription, error) {
	query := `SELECT s.id, s.customer_id, s.package_type, s.start_date, s.end_date, s.price,
		s.payment_status, s.is_active, s.auto_renew, s.created_at, s.updated_at,
		c.id, c.name, c.email, c.category, c.status
		FROM subscriptions s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.payment_status = 'pending' AND s.is_active = true AND s.end_date >= $1
		ORDER BY s.end_date`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptionsWithCustomer(rows)
}

func scanSubscriptionsWithCustomer(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		var custID sql.NullString
		var custName, custEmail, custCategory, custStatus sql.NullString
		err := rows.Scan(&sub.ID, &sub.CustomerID, &sub.PackageType, &sub.StartDate,
			&sub.EndDate, &sub.Price, &sub.PaymentStatus, &sub.IsActive, &sub.AutoRenew,
			&sub.CreatedAt, &sub.UpdatedAt,
			&custID, &custName, &custEmail, &custCategory, &custStatus)
		if err != nil {
			return nil, err
		}
		if custID.Valid {
			id, parseErr := uuid.Parse(custID.String)
			if parseErr == nil {
				sub.Customer = &Customer{
					ID:       id,
					Name:     custName.String,
					Email:    custEmail.String,
					Category: custCategory.String,
					Status:   custStatus.String,
				}
			}
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
