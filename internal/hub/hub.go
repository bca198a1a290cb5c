/**
 * @description
 * The event distribution hub: fan-out of billing domain events to connected
 * websocket sessions. Events scoped to a tenant reach that tenant's sessions
 * plus every admin session; unscoped events reach everyone.
 *
 * Delivery is best-effort. Each session has a bounded outbound queue; a
 * session that cannot keep up is disconnected rather than allowed to stall
 * the hub or grow memory without bound. Clients recover through the initial
 * sync snapshot on reconnect, never through event replay.
 *
 * @dependencies
 * - github.com/gorilla/websocket: Websocket transport.
 * - internal/domain: Event envelope and snapshot payloads.
 */

package hub

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/tenantly/billing-service/internal/domain"
)

// SyncProvider builds the state snapshot pushed to a session on connect.
type SyncProvider interface {
	InitialSyncSnapshot(ctx context.Context, tenantID uuid.UUID, admin bool) (*domain.InitialSyncPayload, error)
}

// Hub routes events to live sessions. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}

	syncProvider SyncProvider
	sendBuffer   int
}

// New creates a hub. sendBuffer bounds each session's outbound queue.
func New(syncProvider SyncProvider, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		sessions:     make(map[*Session]struct{}),
		syncProvider: syncProvider,
		sendBuffer:   sendBuffer,
	}
}

// Broadcast delivers one event to every session it targets. Sessions whose
// queues are full are disconnected.
func (h *Hub) Broadcast(event domain.Event) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		if h.targets(s, event) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.enqueue(event) {
			log.Printf("level=warn component=hub tenant_id=%s msg=\"session queue overflow; disconnecting\"", s.tenantID)
			s.closeSlow()
			h.remove(s)
		}
	}
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) targets(s *Session, event domain.Event) bool {
	if event.TenantID == nil {
		return true
	}
	return s.admin || s.tenantID == *event.TenantID
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}
