// Package api exposes the engine operations over JSON for the admin
// dashboard. Routing only; authentication and request validation live in
// front of this service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/ignite/clienthub/internal/campaign"
	"github.com/ignite/clienthub/internal/crm"
	"github.com/ignite/clienthub/internal/notify"
	"github.com/ignite/clienthub/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store     *crm.Store
	notify    *notify.Engine
	campaigns *campaign.Engine
	scheduler *scheduler.Scheduler
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store *crm.Store, notifyEngine *notify.Engine, campaignEngine *campaign.Engine) *Handlers {
	return &Handlers{store: store, notify: notifyEngine, campaigns: campaignEngine}
}

// SetScheduler attaches the scheduler for the stats endpoint
func (h *Handlers) SetScheduler(s *scheduler.Scheduler) {
	h.scheduler = s
}

// Router builds the HTTP routing table
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/stats", h.CustomerStats)
			r.Get("/{id}", h.GetCustomer)
			r.Put("/{id}", h.UpdateCustomer)
			r.Delete("/{id}", h.DeleteCustomer)
			r.Post("/{id}/welcome", h.SendWelcome)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.CreateSubscription)
			r.Get("/{id}", h.GetSubscription)
			r.Post("/{id}/renew", h.RenewSubscription)
			r.Post("/{id}/payment-status", h.SetPaymentStatus)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/", h.CreateNotification)
			r.Get("/stats", h.NotificationStats)
			r.Post("/bulk-delete", h.BulkDeleteNotifications)
			r.Post("/expiry-batch", h.RunExpiryBatch)
			r.Post("/payment-reminders", h.RunPaymentReminders)
			r.Get("/{id}", h.GetNotification)
			r.Delete("/{id}", h.DeleteNotification)
			r.Post("/{id}/dispatch", h.DispatchNotification)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Put("/{id}", h.UpdateCampaign)
			r.Delete("/{id}", h.DeleteCampaign)
			r.Post("/{id}/launch", h.LaunchCampaign)
			r.Post("/{id}/schedule", h.ScheduleCampaign)
			r.Post("/{id}/pause", h.PauseCampaign)
			r.Post("/{id}/resume", h.ResumeCampaign)
			r.Post("/{id}/test-send", h.TestSendCampaign)
		})

		r.Get("/scheduler/stats", h.SchedulerStats)
	})

	return r
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListCustomers returns customers with pagination
func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	customers, total, err := h.store.GetCustomers(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"customers": customers, "total": total})
}

// CreateCustomer creates a customer
func (h *Handlers) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var c crm.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	if err := h.store.CreateCustomer(r.Context(), &c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, &c)
}

// CustomerStats returns customer counts grouped by status
func (h *Handlers) CustomerStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountCustomersByStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"by_status": counts})
}

// GetCustomer returns one customer
func (h *Handlers) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	c, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if c == nil {
		respondError(w, &crm.NotFoundError{Resource: "customer", ID: id.String()})
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// UpdateCustomer updates a customer
func (h *Handlers) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var c crm.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	c.ID = id
	if err := h.store.UpdateCustomer(r.Context(), &c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &c)
}

// DeleteCustomer removes a customer
func (h *Handlers) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.store.DeleteCustomer(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

// SendWelcome creates and immediately sends a welcome notification
func (h *Handlers) SendWelcome(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	n, err := h.notify.CreateWelcome(r.Context(), id)
	if err != nil && !crm.IsTransport(err) {
		respondError(w, err)
		return
	}
	// A transport failure still produced a notification record; surface both.
	resp := map[string]interface{}{"notification": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// CreateSubscription creates a subscription
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var sub crm.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	if err := h.store.CreateSubscription(r.Context(), &sub); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, &sub)
}

// GetSubscription returns one subscription
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if sub == nil {
		respondError(w, &crm.NotFoundError{Resource: "subscription", ID: id.String()})
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// RenewSubscription extends a subscription and resets payment status
func (h *Handlers) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Until time.Time `json:"until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Until.IsZero() {
		respondError(w, &crm.ValidationError{Msg: "renewal requires an end date"})
		return
	}
	if err := h.store.RenewSubscription(r.Context(), id, body.Until); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"renewed": id.String()})
}

// SetPaymentStatus transitions a subscription's payment status
func (h *Handlers) SetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		respondError(w, &crm.ValidationError{Msg: "payment status is required"})
		return
	}
	if err := h.store.SetSubscriptionPaymentStatus(r.Context(), id, body.Status); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "payment_status": body.Status})
}

// ListNotifications returns notifications filtered by status/type
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	notifications, total, err := h.store.GetNotifications(r.Context(),
		r.URL.Query().Get("status"), r.URL.Query().Get("type"), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications, "total": total})
}

// CreateNotification creates a notification via the engine
func (h *Handlers) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var p notify.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	n, err := h.notify.Create(r.Context(), p)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// NotificationStats returns notification counts by status and type
func (h *Handlers) NotificationStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := h.store.CountNotificationsByStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	byType, err := h.store.CountNotificationsByType(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"by_status": byStatus, "by_type": byType})
}

// BulkDeleteNotifications removes a batch of notifications
func (h *Handlers) BulkDeleteNotifications(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	deleted, err := h.store.DeleteNotifications(r.Context(), body.IDs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// RunExpiryBatch triggers expiry discovery manually
func (h *Handlers) RunExpiryBatch(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	result, err := h.notify.CreateSubscriptionExpiryBatch(r.Context(), days)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RunPaymentReminders triggers reminder discovery manually
func (h *Handlers) RunPaymentReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.notify.CreatePaymentReminderBatch(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetNotification returns one notification with its customer populated
func (h *Handlers) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	n, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if n == nil {
		respondError(w, &crm.NotFoundError{Resource: "notification", ID: id.String()})
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// DeleteNotification removes one notification
func (h *Handlers) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.store.DeleteNotification(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

// DispatchNotification attempts delivery of one notification
func (h *Handlers) DispatchNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	n, err := h.notify.Dispatch(r.Context(), id)
	if err != nil && !crm.IsTransport(err) {
		respondError(w, err)
		return
	}
	resp := map[string]interface{}{"notification": n}
	if err != nil {
		resp["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListCampaigns returns campaigns, newest first
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	campaigns, err := h.store.GetCampaigns(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns})
}

// CreateCampaign creates a campaign
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var c crm.EmailCampaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	if err := h.store.CreateCampaign(r.Context(), &c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, &c)
}

// GetCampaign returns one campaign
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if c == nil {
		respondError(w, &crm.NotFoundError{Resource: "campaign", ID: id.String()})
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// UpdateCampaign updates a campaign's editable fields
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var c crm.EmailCampaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	c.ID = id
	if err := h.store.UpdateCampaign(r.Context(), &c); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &c)
}

// DeleteCampaign removes a campaign
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.store.DeleteCampaign(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

// LaunchCampaign runs the bulk send loop
func (h *Handlers) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := h.campaigns.Launch(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ScheduleCampaign sets a campaign's send time
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ScheduledFor.IsZero() {
		respondError(w, &crm.ValidationError{Msg: "scheduled_for is required"})
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), id, body.ScheduledFor)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// PauseCampaign pauses an active campaign
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transitionCampaign(w, r, h.campaigns.Pause, crm.CampaignPaused)
}

// ResumeCampaign resumes a paused campaign
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.transitionCampaign(w, r, h.campaigns.Resume, crm.CampaignActive)
}

func (h *Handlers) transitionCampaign(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error, status string) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": status})
}

// TestSendCampaign sends the campaign to test addresses only
func (h *Handlers) TestSendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var body struct {
		Emails []string `json:"emails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, &crm.ValidationError{Msg: "invalid request body"})
		return
	}
	results, err := h.campaigns.TestSend(r.Context(), id, body.Emails)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// SchedulerStats returns trigger counters
func (h *Handlers) SchedulerStats(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respondJSON(w, http.StatusOK, map[string]string{"scheduler": "not running in this process"})
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Snapshot())
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &crm.ValidationError{Msg: "invalid id"}
	}
	return id, nil
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case crm.IsNotFound(err):
		status = http.StatusNotFound
	case crm.IsValidation(err):
		status = http.StatusBadRequest
	case crm.IsTransport(err):
		status = http.StatusBadGateway
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
