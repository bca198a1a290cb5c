/**
 * @description
 * This package provides a resilient client for the billing event stream. It
 * maintains a websocket session against the distribution channel, keeps a
 * local cache of notifications and bill summaries, and degrades to polling
 * the read API when the stream cannot be re-established.
 *
 * Reconnection uses exponential backoff up to a ceiling; a session that
 * connected resets the outage streak, so a drop after healthy streaming
 * retries quickly instead of starting at the ceiling. Because the server
 * treats state as authoritative, every successful (re)connect starts from the
 * initial sync snapshot; the client never tries to replay missed events.
 *
 * Callers can stage optimistic state (a locally assumed bill summary, a
 * locally flipped read flag) ahead of server confirmation. Staged entries
 * overlay the cache until the next authoritative event or snapshot touches
 * the same object, at which point the server's version wins.
 *
 * @dependencies
 * - github.com/gorilla/websocket: Websocket transport.
 * - internal/domain: Event envelope and payload types.
 */

package streamclient

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tenantly/billing-service/internal/domain"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	pollInterval   = 60 * time.Second
)

// SnapshotPuller fetches the same state the initial sync carries, over plain
// HTTP. Used while the stream is down.
type SnapshotPuller interface {
	PullSnapshot(ctx context.Context) (*domain.InitialSyncPayload, error)
}

// Client is a reconnecting subscriber to the billing event stream.
type Client struct {
	wsURL  string
	token  string
	dialer *websocket.Dialer
	puller SnapshotPuller

	// OnEvent, when set, is invoked for every event after the cache has
	// absorbed it. Called from the client's run goroutine.
	OnEvent func(domain.Event)

	mu            sync.RWMutex
	notifications map[uuid.UUID]domain.Notification
	bills         map[uuid.UUID]domain.BillSummary
	pendingBills  map[uuid.UUID]domain.BillSummary
	pendingReads  map[uuid.UUID]struct{}
	syncedAt      time.Time
	streaming     bool
}

// New creates a stream client. puller may be nil, in which case the client
// simply waits out disconnections without refreshing its cache.
func New(wsURL, token string, puller SnapshotPuller) *Client {
	return &Client{
		wsURL:         wsURL,
		token:         token,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		puller:        puller,
		notifications: make(map[uuid.UUID]domain.Notification),
		bills:         make(map[uuid.UUID]domain.BillSummary),
		pendingBills:  make(map[uuid.UUID]domain.BillSummary),
		pendingReads:  make(map[uuid.UUID]struct{}),
	}
}

// Run connects and consumes events until the context is cancelled. It never
// returns an error for transient failures; it backs off and reconnects.
func (c *Client) Run(ctx context.Context) {
	var backoff time.Duration
	lastPoll := time.Time{}

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		backoff = reconnectDelay(backoff, connected)
		if err != nil {
			log.Printf("level=warn component=streamclient msg=\"stream disconnected\" err=%v backoff=%s", err, backoff)
		}

		// At the backoff ceiling the stream is considered down; fall back to
		// pulling state over HTTP so the cache stays usable.
		if backoff >= maxBackoff && c.puller != nil && time.Since(lastPoll) >= pollInterval {
			if snapshot, pullErr := c.puller.PullSnapshot(ctx); pullErr == nil {
				c.absorbSnapshot(snapshot)
				lastPoll = time.Now()
			} else {
				log.Printf("level=warn component=streamclient msg=\"fallback pull failed\" err=%v", pullErr)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// reconnectDelay returns how long to wait before the next dial attempt. A
// session that actually connected resets the streak; only consecutive
// failures walk the delay up to the ceiling.
func reconnectDelay(previous time.Duration, connected bool) time.Duration {
	if connected {
		return initialBackoff
	}
	next := previous * 2
	if next < initialBackoff {
		next = initialBackoff
	}
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// consume runs one websocket session to completion. The returned flag reports
// whether the dial succeeded, regardless of how the session ended.
func (c *Client) consume(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, err
	}
	defer conn.Close()

	c.setStreaming(true)
	defer c.setStreaming(false)
	log.Printf("level=info component=streamclient msg=\"stream connected\"")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event domain.Event
		if err := conn.ReadJSON(&event); err != nil {
			return true, err
		}
		c.apply(event)
		if c.OnEvent != nil {
			c.OnEvent(event)
		}
	}
}

// StageBill records an optimistic local view of a bill, typically right after
// the gateway accepts a payment and before the confirming event arrives. The
// staged summary overlays the cache until the server next speaks about that
// bill.
func (c *Client) StageBill(summary domain.BillSummary) {
	c.mu.Lock()
	c.pendingBills[summary.ID] = summary
	c.mu.Unlock()
}

// StageNotificationRead optimistically marks a cached notification read. The
// overlay is dropped the next time an authoritative event or snapshot covers
// that notification.
func (c *Client) StageNotificationRead(notificationID uuid.UUID) {
	c.mu.Lock()
	c.pendingReads[notificationID] = struct{}{}
	c.mu.Unlock()
}

// apply folds one event into the local cache. Authoritative state for an
// object supersedes any optimistic entry staged for it.
func (c *Client) apply(event domain.Event) {
	switch event.Type {
	case domain.EventInitialSync:
		var snapshot domain.InitialSyncPayload
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			log.Printf("level=warn component=streamclient msg=\"bad initial sync payload\" err=%v", err)
			return
		}
		c.absorbSnapshot(&snapshot)

	case domain.EventBillCreated:
		var summary domain.BillSummary
		if err := json.Unmarshal(event.Payload, &summary); err != nil {
			return
		}
		c.mu.Lock()
		c.bills[summary.ID] = summary
		delete(c.pendingBills, summary.ID)
		c.mu.Unlock()

	case domain.EventPaymentApplied:
		var payload domain.PaymentAppliedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.bills[payload.Bill.ID] = payload.Bill
		delete(c.pendingBills, payload.Bill.ID)
		c.mu.Unlock()

	case domain.EventBillPaid:
		var payload domain.BillPaidPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.bills[payload.Bill.ID] = payload.Bill
		delete(c.pendingBills, payload.Bill.ID)
		c.mu.Unlock()

	case domain.EventNotificationPosted:
		var n domain.Notification
		if err := json.Unmarshal(event.Payload, &n); err != nil {
			return
		}
		c.mu.Lock()
		c.notifications[n.ID] = n
		delete(c.pendingReads, n.ID)
		c.mu.Unlock()

	case domain.EventNotificationDeleted:
		var payload domain.NotificationDeletedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		delete(c.notifications, payload.NotificationID)
		delete(c.pendingReads, payload.NotificationID)
		c.mu.Unlock()
	}
}

// absorbSnapshot replaces the cache with authoritative server state. Staged
// optimistic entries are dropped wholesale; the snapshot is the truth.
func (c *Client) absorbSnapshot(snapshot *domain.InitialSyncPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifications = make(map[uuid.UUID]domain.Notification, len(snapshot.Notifications))
	for _, n := range snapshot.Notifications {
		c.notifications[n.ID] = n
	}
	c.bills = make(map[uuid.UUID]domain.BillSummary, len(snapshot.Bills))
	for _, b := range snapshot.Bills {
		c.bills[b.ID] = b
	}
	c.pendingBills = make(map[uuid.UUID]domain.BillSummary)
	c.pendingReads = make(map[uuid.UUID]struct{})
	c.syncedAt = snapshot.SyncedAt
}

func (c *Client) setStreaming(on bool) {
	c.mu.Lock()
	c.streaming = on
	c.mu.Unlock()
}

// Streaming reports whether a live websocket session is up.
func (c *Client) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streaming
}

// Notifications returns the cached notifications with any staged read flags
// applied.
func (c *Client) Notifications() []domain.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Notification, 0, len(c.notifications))
	for id, n := range c.notifications {
		if _, staged := c.pendingReads[id]; staged {
			recipients := append([]domain.NotificationRecipient(nil), n.Recipients...)
			for i := range recipients {
				recipients[i].Read = true
			}
			n.Recipients = recipients
		}
		out = append(out, n)
	}
	return out
}

// Bills returns the cached bill summaries, staged entries included.
func (c *Client) Bills() []domain.BillSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.BillSummary, 0, len(c.bills))
	for id, b := range c.bills {
		if staged, ok := c.pendingBills[id]; ok {
			b = staged
		}
		out = append(out, b)
	}
	for id, staged := range c.pendingBills {
		if _, known := c.bills[id]; !known {
			out = append(out, staged)
		}
	}
	return out
}

// SyncedAt returns when the cache last absorbed a full snapshot.
func (c *Client) SyncedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncedAt
}
