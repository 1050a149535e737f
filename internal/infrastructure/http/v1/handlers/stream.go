package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"backoffice/internal/infrastructure/websocket"
	"backoffice/pkg/logger"
)

// StreamHandler upgrades UI observers to the websocket event stream.
type StreamHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

// NewStreamHandler creates a stream handler. An empty allowedOrigins accepts
// same-host requests only.
func NewStreamHandler(hub *websocket.Hub, allowedOrigins []string) *StreamHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return &StreamHandler{
		hub: hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowed)
			},
		},
	}
}

func originAllowed(r *http.Request, allowed map[string]struct{}) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := allowed["*"]; ok {
		return true
	}
	if _, ok := allowed[strings.ToLower(origin)]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Connect handles GET /inventory/ws
func (h *StreamHandler) Connect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Debug(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := websocket.NewClient(h.hub, conn)
	if !client.Start() {
		_ = conn.WriteControl(gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}
