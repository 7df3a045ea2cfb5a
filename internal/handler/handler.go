package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/models"
	"github.com/qistapp/installment-service/internal/repository"
	"github.com/qistapp/installment-service/internal/schedule"
	"github.com/qistapp/installment-service/internal/service"
)

// Handler exposes the engine's boundary operations over HTTP.
type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

// NewHandler initializes HTTP handlers.
func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register wires the routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/plans", h.CreatePlan).Methods("POST")
	r.HandleFunc("/plans/{id}", h.GetPlan).Methods("GET")
	r.HandleFunc("/plans/{id}/cancel", h.CancelPlan).Methods("POST")
	r.HandleFunc("/installments/overdue", h.ListOverdue).Methods("GET")
	r.HandleFunc("/installments/{id}/payments", h.ApplyPayment).Methods("POST")
	r.HandleFunc("/installments/{id}/waive", h.WaiveInstallment).Methods("POST")
	r.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	r.HandleFunc("/notifications/{id}/read", h.MarkNotificationRead).Methods("POST")
}

type createPlanRequest struct {
	BuyerID          uuid.UUID       `json:"buyer_id"`
	ProductRef       string          `json:"product_ref"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	InstallmentCount int             `json:"installment_count"`
	FrequencyDays    int             `json:"frequency_days"`
	StartDate        string          `json:"start_date"`
}

// CreatePlan handles plan creation.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		h.badRequest(w, "start_date must be YYYY-MM-DD")
		return
	}

	snap, err := h.svc.CreatePlan(r.Context(), schedule.PlanTerms{
		BuyerID:          req.BuyerID,
		ProductRef:       req.ProductRef,
		PrincipalAmount:  req.PrincipalAmount,
		DownPayment:      req.DownPayment,
		InstallmentCount: req.InstallmentCount,
		FrequencyDays:    req.FrequencyDays,
		StartDate:        startDate,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, snap)
}

// GetPlan returns a plan snapshot.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.badRequest(w, "invalid plan id")
		return
	}
	snap, err := h.svc.GetPlan(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, snap)
}

// CancelPlan cancels an active plan.
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.badRequest(w, "invalid plan id")
		return
	}
	snap, err := h.svc.CancelPlan(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, snap)
}

type applyPaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// ApplyPayment applies a payment to an installment. The idempotency key may
// come from the body or the X-Idempotency-Key header.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.badRequest(w, "invalid installment id")
		return
	}
	var req applyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
	}

	state, err := h.svc.ApplyPayment(r.Context(), id, req.Amount, req.IdempotencyKey)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, state)
}

// WaiveInstallment marks an installment as waived.
func (h *Handler) WaiveInstallment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.badRequest(w, "invalid installment id")
		return
	}
	state, err := h.svc.WaiveInstallment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, state)
}

// ListOverdue lists overdue installments, optionally filtered by buyer_id.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	var buyerID *uuid.UUID
	if raw := r.URL.Query().Get("buyer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(w, "invalid buyer_id")
			return
		}
		buyerID = &id
	}
	installments, err := h.svc.ListOverdueInstallments(r.Context(), buyerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if installments == nil {
		installments = []models.Installment{}
	}
	h.respond(w, http.StatusOK, installments)
}

// ListNotifications lists a user's in-app notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.badRequest(w, "invalid user_id")
		return
	}
	notifications, err := h.svc.ListNotifications(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	h.respond(w, http.StatusOK, notifications)
}

// MarkNotificationRead flags a notification as read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.badRequest(w, "invalid notification id")
		return
	}
	if err := h.svc.MarkNotificationRead(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]bool{"read": true})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, message string) {
	h.fail(w, http.StatusBadRequest, message)
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

// respondError maps the engine's error taxonomy to HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalidPlanTerms),
		errors.Is(err, ledger.ErrInvalidAmount):
		h.fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrOverpaymentRejected):
		h.fail(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInstallmentClosed),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, service.ErrPlanNotActive):
		h.fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		h.fail(w, http.StatusNotFound, "not found")
	default:
		h.log.Errorf("Internal error: %v", err)
		h.fail(w, http.StatusInternalServerError, "internal error")
	}
}
