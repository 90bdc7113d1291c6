package crm

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func setupTestDB(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return NewStore(db), mock, func() { db.Close() }
}

func customerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "phone", "category", "status",
		"total_spent", "created_at", "updated_at"})
}

func TestCreateCustomer_Defaults(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO customers").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Customer{Name: "Sara", Email: "  Sara@Example.COM "}
	if err := store.CreateCustomer(context.Background(), c); err != nil {
		t.Fatalf("CreateCustomer() error: %v", err)
	}

	if c.ID == uuid.Nil {
		t.Error("expected generated id")
	}
	if c.Status != CustomerInterested {
		t.Errorf("default status = %q, want %q", c.Status, CustomerInterested)
	}
	if c.Email != "sara@example.com" {
		t.Errorf("email not normalized: %q", c.Email)
	}
}

func TestGetCustomer_NotFound(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, name, email").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	c, err := store.GetCustomer(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCustomer() error: %v", err)
	}
	if c != nil {
		t.Errorf("expected nil customer, got %+v", c)
	}
}

func TestGetCustomers_Pagination(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectQuery("FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("FROM customers ORDER BY created_at DESC").
		WithArgs(2, 0).
		WillReturnRows(customerRows().
			AddRow(uuid.New(), "A", "a@x.com", "", "gym", CustomerSubscribed, 10.0, now, now).
			AddRow(uuid.New(), "B", "b@x.com", "", "gym", CustomerSubscribed, 20.0, now, now))

	customers, total, err := store.GetCustomers(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("GetCustomers() error: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(customers) != 2 {
		t.Errorf("len = %d, want 2", len(customers))
	}
}

func TestGetCustomersByIDs_Empty(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	customers, err := store.GetCustomersByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetCustomersByIDs() error: %v", err)
	}
	if customers != nil {
		t.Errorf("expected nil for empty id set, got %v", customers)
	}
}

func TestUpdateCustomer_NotFound(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE customers SET name").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateCustomer(context.Background(), &Customer{ID: uuid.New(), Name: "X"})
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestDeleteCustomer_NotFound(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM customers").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteCustomer(context.Background(), uuid.New())
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestCountCustomersByStatus(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(CustomerSubscribed, 5).
			AddRow(CustomerExpired, 2))

	counts, err := store.CountCustomersByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountCustomersByStatus() error: %v", err)
	}
	if counts[CustomerSubscribed] != 5 || counts[CustomerExpired] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCreateSubscription_EndBeforeStart(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	start := time.Now()
	sub := &Subscription{
		CustomerID: uuid.New(),
		StartDate:  start,
		EndDate:    start.Add(-24 * time.Hour),
	}
	err := store.CreateSubscription(context.Background(), sub)
	if !IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestCreateSubscription_DefaultPaymentStatus(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	start := time.Now()
	sub := &Subscription{
		CustomerID: uuid.New(),
		StartDate:  start,
		EndDate:    start.AddDate(0, 1, 0),
	}
	if err := store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("CreateSubscription() error: %v", err)
	}
	if sub.PaymentStatus != PaymentPending {
		t.Errorf("payment status = %q, want %q", sub.PaymentStatus, PaymentPending)
	}
}

func TestRenewSubscription_NotFound(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions SET end_date").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.RenewSubscription(context.Background(), uuid.New(), time.Now().AddDate(1, 0, 0))
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSetSubscriptionPaymentStatus_PaidSyncsCustomer(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	subID := uuid.New()
	customerID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions SET payment_status").
		WithArgs(subID, PaymentPaid).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(customerID))
	mock.ExpectExec("UPDATE customers SET status").
		WithArgs(customerID, CustomerSubscribed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.SetSubscriptionPaymentStatus(context.Background(), subID, PaymentPaid); err != nil {
		t.Fatalf("SetSubscriptionPaymentStatus() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSetSubscriptionPaymentStatus_PendingSkipsCustomerSync(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	subID := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions SET payment_status").
		WithArgs(subID, PaymentPending).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(uuid.New()))
	mock.ExpectCommit()

	if err := store.SetSubscriptionPaymentStatus(context.Background(), subID, PaymentPending); err != nil {
		t.Fatalf("SetSubscriptionPaymentStatus() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMarkExpiredSubscriptions(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	c1, c2 := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions SET is_active = false").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(c1).AddRow(c2))
	mock.ExpectExec("UPDATE customers SET status").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.MarkExpiredSubscriptions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("MarkExpiredSubscriptions() error: %v", err)
	}
	if n != 2 {
		t.Errorf("deactivated = %d, want 2", n)
	}
}

func TestMarkExpiredSubscriptions_NoneDue(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE subscriptions SET is_active = false").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectCommit()

	n, err := store.MarkExpiredSubscriptions(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("MarkExpiredSubscriptions() error: %v", err)
	}
	if n != 0 {
		t.Errorf("deactivated = %d, want 0", n)
	}
}

func TestGetExpiringSubscriptions_PopulatesCustomer(t *testing.T) {
	store, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	subID := uuid.New()
	custID := uuid.New()
	orphanSubID := uuid.New()

	cols := []string{"id", "customer_id", "package_type", "start_date", "end_date", "price",
		"payment_status", "is_active", "auto_renew", "created_at", "updated_at",
		"c_id", "c_name", "c_email", "c_category", "c_status"}
	mock.ExpectQuery("LEFT JOIN customers").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(subID, custID, "monthly", now, now.AddDate(0, 0, 5), 99.0,
				PaymentPaid, true, false, now, now,
				custID.String(), "Sara", "sara@x.com", "gym", CustomerSubscribed).
			AddRow(orphanSubID, uuid.New(), "monthly", now, now.AddDate(0, 0, 6), 99.0,
				PaymentPaid, true, false, now, now,
				nil, nil, nil, nil, nil))

	subs, err := store.GetExpiringSubscriptions(context.Background(), now, now.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("GetExpiringSubscriptions() error: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len = %d, want 2", len(subs))
	}
	if subs[0].Customer == nil || subs[0].Customer.Name != "Sara" {
		t.Errorf("first subscription customer not populated: %+v", subs[0].Customer)
	}
	if subs[1].Customer != nil {
		t.Errorf("orphan subscription should have nil customer, got %+v", subs[1].Customer)
	}
}

func TestSubscription_DaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"five days out", now.AddDate(0, 0, 5), 5},
		{"partial day rounds up", now.Add(36 * time.Hour), 2},
		{"already past", now.Add(-48 * time.Hour), -2},
		{"same instant", now, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &Subscription{EndDate: tt.end}
			if got := sub.DaysUntilExpiry(now); got != tt.want {
				t.Errorf("DaysUntilExpiry() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Example.Com "); got != "user@example.com" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}
