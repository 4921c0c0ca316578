package progress

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// upgrader is configured with an explicit CheckOrigin. Every connection is
// additionally required to present a tenant_id query parameter that scopes
// which subscription it receives, so a stolen websocket URL for one tenant
// cannot be replayed against another.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == r.Header.Get("Host")
	},
}

// Handler upgrades a Control API request to a websocket stream of
// ProgressEvents for the tenant named by the tenant_id query parameter.
type Handler struct {
	channel *Channel
	logger  arbor.ILogger
}

func NewHandler(channel *Channel, logger arbor.ILogger) *Handler {
	return &Handler{channel: channel, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade progress websocket connection")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.channel.Subscribe(tenantID)
	defer unsubscribe()

	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to marshal progress event")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug().Err(err).Str("tenant_id", tenantID).Msg("progress websocket write failed, closing")
			return
		}
	}
}
