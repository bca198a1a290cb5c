/**
 * @description
 * Notification business logic: posting broadcast ("common") and targeted
 * ("personal") notices, per-recipient read tracking and deletion with a
 * prune event for client caches.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
)

// PostNotification creates a notification and announces it on the event
// stream. Personal notifications require at least one recipient; common ones
// must not name any.
func (s *Service) PostNotification(ctx context.Context, req domain.PostNotificationRequest) (*domain.Notification, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: title and message are required", ErrInvalidRequest)
	}

	switch req.Type {
	case domain.NotificationTypeCommon:
		if len(req.Recipients) > 0 {
			return nil, fmt.Errorf("%w: common notifications cannot name recipients", ErrInvalidRequest)
		}
	case domain.NotificationTypePersonal:
		if len(req.Recipients) == 0 {
			return nil, ErrNoRecipients
		}
	default:
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrInvalidRequest, req.Type)
	}

	n := &domain.Notification{
		ID:       uuid.New(),
		Type:     req.Type,
		Title:    req.Title,
		Message:  req.Message,
		Category: req.Category,
		Priority: req.Priority,
	}
	seen := make(map[uuid.UUID]struct{}, len(req.Recipients))
	for _, tenantID := range req.Recipients {
		if tenantID == uuid.Nil {
			return nil, fmt.Errorf("%w: recipient id cannot be nil", ErrInvalidRequest)
		}
		if _, dup := seen[tenantID]; dup {
			continue
		}
		seen[tenantID] = struct{}{}
		n.Recipients = append(n.Recipients, domain.NotificationRecipient{NotificationID: n.ID, TenantID: tenantID})
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	log.Printf("level=info component=notifications op=post notification_id=%s type=%s recipients=%d", n.ID, n.Type, len(n.Recipients))

	if n.Type == domain.NotificationTypeCommon {
		s.publishEvent(domain.EventNotificationPosted, nil, n)
	} else {
		// One event per recipient so the hub can target each tenant's
		// sessions. Each event carries only that recipient's own row, the
		// same projection the pull API returns.
		for _, r := range n.Recipients {
			tenantID := r.TenantID
			scoped := *n
			scoped.Recipients = []domain.NotificationRecipient{r}
			s.publishEvent(domain.EventNotificationPosted, &tenantID, &scoped)
		}
	}
	return n, nil
}

// MarkNotificationRead flips one recipient's read flag. Idempotent: marking
// an already-read notification is a no-op, and one tenant's read state never
// leaks into another's.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, tenantID uuid.UUID) error {
	flipped, err := s.repo.MarkNotificationRead(ctx, notificationID, tenantID, s.now().UTC())
	if err != nil {
		return err
	}
	if flipped {
		log.Printf("level=info component=notifications op=mark_read notification_id=%s tenant_id=%s", notificationID, tenantID)
	}
	return nil
}

// DeleteNotification removes a notification and its recipient rows, then
// broadcasts a prune event so client fallback caches drop it too.
func (s *Service) DeleteNotification(ctx context.Context, notificationID uuid.UUID) error {
	if err := s.repo.DeleteNotification(ctx, notificationID); err != nil {
		return err
	}
	log.Printf("level=info component=notifications op=delete notification_id=%s", notificationID)
	s.publishEvent(domain.EventNotificationDeleted, nil, domain.NotificationDeletedPayload{NotificationID: notificationID})
	return nil
}

// ListNotifications returns the notifications visible to the caller: all of
// them for admins, otherwise common ones plus the tenant's personal copies.
func (s *Service) ListNotifications(ctx context.Context, tenantID uuid.UUID, admin bool) ([]domain.Notification, error) {
	if admin {
		return s.repo.ListAllNotifications(ctx)
	}
	return s.repo.ListNotificationsForTenant(ctx, tenantID)
}
