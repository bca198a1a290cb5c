/**
 * @description
 * Websocket endpoint for the real-time event distribution channel. The
 * upgrade is authenticated the same way as the REST API (header or `token`
 * query parameter); the session then lives on the hub until the client
 * disconnects or falls too far behind.
 *
 * @dependencies
 * - github.com/gorilla/websocket: Connection upgrade.
 * - internal/hub: Session fan-out.
 */

package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tenantly/billing-service/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS layer in front of us.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler serves websocket sessions.
type StreamHandler struct {
	hub *hub.Hub
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(h *hub.Hub) *StreamHandler {
	return &StreamHandler{hub: h}
}

// ServeHTTP upgrades the connection and attaches it to the hub.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=warn component=api op=ws_upgrade err=%v", err)
		return
	}

	h.hub.ServeSession(r.Context(), conn, principal.TenantID, principal.Admin())
}
