/**
 * @description
 * Notification domain models: broadcast ("common") and per-recipient
 * ("personal") notices with independent read tracking per recipient.
 *
 * @notes
 * - Read state for common notifications is a client-local projection against
 *   created_at; the server stores per-recipient rows only for personal ones.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationTypeCommon   = "common"
	NotificationTypePersonal = "personal"
)

// NotificationRecipient is one tenant's copy of a personal notification,
// carrying its own read flag. Maps to the `notification_recipients` table.
type NotificationRecipient struct {
	NotificationID uuid.UUID  `json:"notification_id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Notification represents a broadcast or targeted notice.
// Maps to the `notifications` table.
type Notification struct {
	ID         uuid.UUID               `json:"id"`
	Type       string                  `json:"type"`
	Title      string                  `json:"title"`
	Message    string                  `json:"message"`
	Category   string                  `json:"category"`
	Priority   string                  `json:"priority"`
	Recipients []NotificationRecipient `json:"recipients,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// RecipientIDs returns the tenant ids targeted by a personal notification.
func (n *Notification) RecipientIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(n.Recipients))
	for _, r := range n.Recipients {
		ids = append(ids, r.TenantID)
	}
	return ids
}

// PostNotificationRequest is the DTO for the notification post API.
type PostNotificationRequest struct {
	Type       string      `json:"type"`
	Title      string      `json:"title"`
	Message    string      `json:"message"`
	Category   string      `json:"category"`
	Priority   string      `json:"priority"`
	Recipients []uuid.UUID `json:"recipients,omitempty"`
}
