package handlers

import (
	"encoding/binary"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/access"
	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/collab"
	"github.com/bidboard/backend/pkg/logger"
)

// Application close codes for a rejected connect. 4000-4999 is the range
// reserved for application use.
const (
	closeUnauthenticated = 4401
	closeForbidden       = 4403
)

const sessionCookie = "session_token"

type CollabHandler struct {
	hub      *collab.Hub
	verifier *auth.Verifier
	checker  *access.Checker
}

func NewCollabHandler(hub *collab.Hub, verifier *auth.Verifier, checker *access.Checker) *CollabHandler {
	return &CollabHandler{
		hub:      hub,
		verifier: verifier,
		checker:  checker,
	}
}

// Upgrade gates the HTTP -> WebSocket upgrade.
func (h *CollabHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleConnection runs one connection's lifecycle: authenticate, run the
// access gate, register with the hub, then pump frames until the peer goes
// away. A rejected connect is closed before it touches any room state.
func (h *CollabHandler) HandleConnection(c *websocket.Conn) {
	defer c.Close()

	responseID := c.Params("id")

	identity, err := h.verifier.Resolve(c.Cookies(sessionCookie))
	if err != nil {
		logger.Warn("Collab connect rejected: unauthenticated",
			zap.String("response_id", responseID),
		)
		writeClose(c, closeUnauthenticated, "unauthenticated")
		return
	}

	response, err := h.checker.Response(identity, responseID)
	if err != nil {
		logger.Warn("Collab connect rejected: forbidden",
			zap.String("response_id", responseID),
			zap.String("user", identity.Email),
		)
		writeClose(c, closeForbidden, "forbidden")
		return
	}

	client, err := h.hub.Connect(identity, response, c)
	if err != nil {
		logger.Error("Failed to register collab connection", zap.Error(err))
		return
	}
	defer h.hub.Disconnect(client)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			logger.Debug("Collab connection closed",
				zap.String("response_id", responseID),
				zap.String("user", identity.Email),
				zap.Error(err),
			)
			return
		}
		h.hub.Dispatch(client, raw)
	}
}

func writeClose(c *websocket.Conn, code int, reason string) {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)

	if err := c.WriteMessage(websocket.CloseMessage, payload); err != nil {
		logger.Debug("Failed to write close frame", zap.Error(err))
	}
}
