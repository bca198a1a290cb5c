/**
 * @description
 * This file contains the HTTP handlers for the billing-service's bill and
 * payment endpoints. Handlers parse incoming requests, call the application
 * service and translate domain errors into HTTP statuses.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/paygate: For gateway error types.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/app"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
)

// BillingHandlers holds the application service that handlers will use.
type BillingHandlers struct {
	service *app.Service
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(service *app.Service) *BillingHandlers {
	return &BillingHandlers{service: service}
}

// GenerateBillHandler handles admin requests to generate a tenant's bill for
// a period.
func (h *BillingHandlers) GenerateBillHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bill, err := h.service.GenerateBill(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "generate_bill", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bill)
}

// GetBillHandler returns one bill with its payment history. Tenants can only
// read their own bills.
func (h *BillingHandlers) GetBillHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	billID, err := uuid.Parse(chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid bill id")
		return
	}

	bill, err := h.service.GetBill(r.Context(), billID)
	if err != nil {
		h.writeServiceError(w, r, "get_bill", err)
		return
	}
	if !principal.Admin() && bill.TenantID != principal.TenantID {
		// A foreign bill id presents as absent, not as forbidden.
		h.writeError(w, http.StatusNotFound, "Bill not found")
		return
	}
	h.writeJSON(w, http.StatusOK, bill)
}

// ListBillsHandler returns the caller's bills. Admins can pass ?tenant_id= to
// read any tenant's bills.
func (h *BillingHandlers) ListBillsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	tenantID := principal.TenantID
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		if !principal.Admin() {
			h.writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid tenant id")
			return
		}
		tenantID = parsed
	}

	bills, err := h.service.ListTenantBills(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, r, "list_bills", err)
		return
	}
	h.writeJSON(w, http.StatusOK, bills)
}

// DeleteBillHandler soft-deletes a bill. Blocked once any verified payment
// exists.
func (h *BillingHandlers) DeleteBillHandler(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid bill id")
		return
	}

	if err := h.service.DeleteBill(r.Context(), billID); err != nil {
		h.writeServiceError(w, r, "delete_bill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateOrderHandler opens a gateway payment order for the bill's remaining
// balance.
func (h *BillingHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	billID, err := uuid.Parse(chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid bill id")
		return
	}

	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreatePaymentOrder(r.Context(), principal.TenantID, billID, req.Amount)
	if err != nil {
		h.writeServiceError(w, r, "create_order", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// VerifyPaymentHandler reconciles a gateway completion callback.
func (h *BillingHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var claim domain.PaymentClaim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.ReconcilePayment(r.Context(), claim)
	if err != nil {
		h.writeServiceError(w, r, "verify_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// PeriodReportHandler returns all bills with payments for one period.
func (h *BillingHandlers) PeriodReportHandler(w http.ResponseWriter, r *http.Request) {
	month, errM := strconv.Atoi(r.URL.Query().Get("month"))
	year, errY := strconv.Atoi(r.URL.Query().Get("year"))
	if errM != nil || errY != nil {
		h.writeError(w, http.StatusBadRequest, "month and year query parameters are required")
		return
	}

	report, err := h.service.BuildPeriodReport(r.Context(), domain.BillingPeriod{Month: month, Year: year})
	if err != nil {
		h.writeServiceError(w, r, "period_report", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// ProfileEventHandler relays a profile change from the internal profile API
// into the event stream.
func (h *BillingHandlers) ProfileEventHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID uuid.UUID `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.EmitProfileUpdated(r.Context(), req.TenantID); err != nil {
		h.writeServiceError(w, r, "profile_event", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *BillingHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrBillNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrNotificationNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrDuplicateBill):
		h.writeError(w, http.StatusConflict, "A bill already exists for this tenant and period")
	case errors.Is(err, store.ErrBillHasPayments):
		h.writeError(w, http.StatusConflict, "Bill has verified payments and cannot be deleted")
	case errors.Is(err, store.ErrBillAlreadySettled):
		h.writeError(w, http.StatusConflict, "Bill is already settled")
	case errors.Is(err, store.ErrOverpayment):
		h.writeError(w, http.StatusConflict, "Payment exceeds the bill's remaining balance")
	case errors.Is(err, app.ErrStaleAmount):
		h.writeError(w, http.StatusConflict, "Bill total has changed; refresh and try again")
	case errors.Is(err, app.ErrNoRecipients),
		errors.Is(err, app.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many requests")
	case errors.Is(err, paygate.ErrSignatureMismatch):
		// Deliberately unspecific: callers learn nothing about why
		// verification failed.
		h.writeError(w, http.StatusUnauthorized, "Payment verification failed")
	case errors.Is(err, paygate.ErrGatewayUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Payment gateway is unavailable")
	default:
		log.Printf("level=error component=api op=%s err=%v", op, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
