package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tenantly/billing-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Session is one websocket connection bound to a principal.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID uuid.UUID
	admin    bool

	send      chan domain.Event
	closeOnce sync.Once
	done      chan struct{}
}

// ServeSession attaches an upgraded connection to the hub and blocks until
// the connection closes. The initial sync snapshot is sent before any event
// so the client starts from authoritative state.
func (h *Hub) ServeSession(ctx context.Context, conn *websocket.Conn, tenantID uuid.UUID, admin bool) {
	s := &Session{
		hub:      h,
		conn:     conn,
		tenantID: tenantID,
		admin:    admin,
		send:     make(chan domain.Event, h.sendBuffer),
		done:     make(chan struct{}),
	}

	snapshot, err := h.syncProvider.InitialSyncSnapshot(ctx, tenantID, admin)
	if err != nil {
		log.Printf("level=warn component=hub tenant_id=%s msg=\"initial sync failed; closing session\" err=%v", tenantID, err)
		conn.Close()
		return
	}
	syncEvent, err := domain.NewEvent(domain.EventInitialSync, nil, snapshot)
	if err != nil {
		conn.Close()
		return
	}
	s.send <- syncEvent

	h.add(s)
	log.Printf("level=info component=hub op=connect tenant_id=%s admin=%v sessions=%d", tenantID, admin, h.SessionCount())

	go s.writePump()
	s.readPump()

	h.remove(s)
	s.close()
	log.Printf("level=info component=hub op=disconnect tenant_id=%s sessions=%d", tenantID, h.SessionCount())
}

// enqueue offers an event to the session without blocking. Returns false when
// the queue is full.
func (s *Session) enqueue(event domain.Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- event:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// closeSlow tells the client why it is being dropped before closing.
func (s *Session) closeSlow() {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event queue overflow"),
		time.Now().Add(writeWait))
	s.close()
}

// readPump drains inbound frames. Clients send nothing meaningful; the read
// loop exists to process control frames and detect disconnects.
func (s *Session) readPump() {
	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case event := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
