/**
 * @description
 * Domain event envelope and payload types shared by the RabbitMQ producer,
 * the in-process consumer and the websocket distribution hub. Every state
 * change in the billing engine is broadcast as one of these facts; connected
 * clients treat server state, not event history, as authoritative.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types carried in the stream envelope. These double as RabbitMQ
// routing keys on the billing.events exchange.
const (
	EventInitialSync         = "initial_sync"
	EventBillCreated         = "bill.created"
	EventPaymentApplied      = "payment.applied"
	EventBillPaid            = "bill.paid"
	EventNotificationPosted  = "notification.posted"
	EventNotificationDeleted = "notification.deleted"
	EventProfileUpdated      = "profile.updated"
)

// Event is the message envelope delivered to stream subscribers.
// TenantID scopes delivery: nil means broadcast to every session, otherwise
// the matching tenant's sessions plus all admin/owner sessions receive it.
type Event struct {
	Type     string          `json:"type"`
	TenantID *uuid.UUID      `json:"tenant_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// NewEvent marshals a payload into an event envelope. Marshal failures are a
// programming error on our own types, so they surface as a zero envelope.
func NewEvent(eventType string, tenantID *uuid.UUID, payload interface{}) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, TenantID: tenantID, Payload: body}, nil
}

// PaymentAppliedPayload is broadcast after a verified payment mutates a bill.
type PaymentAppliedPayload struct {
	Payment Payment     `json:"payment"`
	Bill    BillSummary `json:"bill"`
}

// BillPaidPayload is additionally broadcast when a payment settles the bill.
type BillPaidPayload struct {
	Bill   BillSummary `json:"bill"`
	PaidAt time.Time   `json:"paid_at"`
}

// NotificationDeletedPayload tells clients to prune the notification from
// their local fallback caches.
type NotificationDeletedPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// ProfileUpdatedPayload is relayed for the out-of-scope profile UI so that
// connected clients refresh the tenant's profile view.
type ProfileUpdatedPayload struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitialSyncPayload is the snapshot pushed to a session on connect. A
// reconnecting client relies on this, never on queued events, to catch up.
type InitialSyncPayload struct {
	Notifications []Notification `json:"notifications"`
	Bills         []BillSummary  `json:"bills"`
	SyncedAt      time.Time      `json:"synced_at"`
}
