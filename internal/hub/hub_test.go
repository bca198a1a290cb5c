package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tenantly/billing-service/internal/domain"
)

type stubSyncProvider struct{}

func (stubSyncProvider) InitialSyncSnapshot(ctx context.Context, tenantID uuid.UUID, admin bool) (*domain.InitialSyncPayload, error) {
	return &domain.InitialSyncPayload{
		Notifications: []domain.Notification{},
		Bills:         []domain.BillSummary{},
		SyncedAt:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

var testUpgrader = websocket.Upgrader{}

// newTestServer serves websocket sessions whose identity comes from query
// parameters, standing in for the API auth middleware.
func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(r.URL.Query().Get("tenant"))
		if err != nil {
			http.Error(w, "bad tenant", http.StatusBadRequest)
			return
		}
		admin := r.URL.Query().Get("admin") == "1"
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.ServeSession(r.Context(), conn, tenantID, admin)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialSession(t *testing.T, srv *httptest.Server, tenantID uuid.UUID, admin bool) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?tenant=" + tenantID.String()
	if admin {
		wsURL += "&admin=1"
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event domain.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func waitForSessions(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session count = %d, want %d", h.SessionCount(), want)
}

func mustEvent(t *testing.T, eventType string, tenantID *uuid.UUID, payload interface{}) domain.Event {
	t.Helper()
	event, err := domain.NewEvent(eventType, tenantID, payload)
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return event
}

func TestSessionReceivesInitialSyncFirst(t *testing.T) {
	h := New(stubSyncProvider{}, 16)
	srv := newTestServer(t, h)

	conn := dialSession(t, srv, uuid.New(), false)
	event := readEvent(t, conn)
	if event.Type != domain.EventInitialSync {
		t.Fatalf("first event = %q, want initial_sync", event.Type)
	}

	var snapshot domain.InitialSyncPayload
	if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
		t.Fatalf("bad snapshot payload: %v", err)
	}
	if snapshot.SyncedAt.IsZero() {
		t.Error("snapshot has zero SyncedAt")
	}
}

func TestBroadcastTargeting(t *testing.T) {
	h := New(stubSyncProvider{}, 16)
	srv := newTestServer(t, h)

	alice := uuid.New()
	bob := uuid.New()
	adminID := uuid.New()

	aliceConn := dialSession(t, srv, alice, false)
	bobConn := dialSession(t, srv, bob, false)
	adminConn := dialSession(t, srv, adminID, true)

	// Drain the initial sync from each session.
	readEvent(t, aliceConn)
	readEvent(t, bobConn)
	readEvent(t, adminConn)
	waitForSessions(t, h, 3)

	// A tenant-scoped event reaches that tenant and the admin, not others.
	h.Broadcast(mustEvent(t, domain.EventPaymentApplied, &alice, map[string]string{"k": "v"}))

	if got := readEvent(t, aliceConn); got.Type != domain.EventPaymentApplied {
		t.Errorf("alice got %q, want payment.applied", got.Type)
	}
	if got := readEvent(t, adminConn); got.Type != domain.EventPaymentApplied {
		t.Errorf("admin got %q, want payment.applied", got.Type)
	}

	// A broadcast event reaches everyone, including bob, who must not have
	// received the earlier scoped event.
	h.Broadcast(mustEvent(t, domain.EventNotificationPosted, nil, map[string]string{"k": "v"}))
	if got := readEvent(t, bobConn); got.Type != domain.EventNotificationPosted {
		t.Errorf("bob got %q, want notification.posted (scoped event must not leak)", got.Type)
	}
}

func TestSlowSessionIsDisconnected(t *testing.T) {
	h := New(stubSyncProvider{}, 2)
	srv := newTestServer(t, h)

	tenantID := uuid.New()
	conn := dialSession(t, srv, tenantID, false)
	readEvent(t, conn)
	waitForSessions(t, h, 1)

	// Stop reading and flood the session with payloads large enough to fill
	// the socket buffer, so the write pump stalls and the queue overflows.
	padding := strings.Repeat("x", 512*1024)
	for i := 0; i < 64 && h.SessionCount() > 0; i++ {
		h.Broadcast(mustEvent(t, domain.EventNotificationPosted, nil, map[string]string{"pad": padding}))
	}

	waitForSessions(t, h, 0)
}

func TestDisconnectRemovesSession(t *testing.T) {
	h := New(stubSyncProvider{}, 16)
	srv := newTestServer(t, h)

	conn := dialSession(t, srv, uuid.New(), false)
	readEvent(t, conn)
	waitForSessions(t, h, 1)

	conn.Close()
	waitForSessions(t, h, 0)
}
