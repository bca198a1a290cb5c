/**
 * @description
 * HTTP handlers for the notification endpoints: posting, listing, marking
 * read and deletion.
 */

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
)

// PostNotificationHandler handles admin requests to post a notification.
func (h *BillingHandlers) PostNotificationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.PostNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	n, err := h.service.PostNotification(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "post_notification", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, n)
}

// ListNotificationsHandler returns the notifications visible to the caller.
func (h *BillingHandlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	notifications, err := h.service.ListNotifications(r.Context(), principal.TenantID, principal.Admin())
	if err != nil {
		h.writeServiceError(w, r, "list_notifications", err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

// MarkNotificationReadHandler flips the caller's read flag on one personal
// notification.
func (h *BillingHandlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	notificationID, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), notificationID, principal.TenantID); err != nil {
		h.writeServiceError(w, r, "mark_notification_read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotificationHandler removes a notification for everyone.
func (h *BillingHandlers) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	notificationID, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	if err := h.service.DeleteNotification(r.Context(), notificationID); err != nil {
		h.writeServiceError(w, r, "delete_notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
