package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xpanvictor/evermore/internal/domains/session"
	"github.com/xpanvictor/evermore/pkg/Logger"
)

// Handler upgrades voice connections and routes client messages into a
// per-connection session controller.
type Handler struct {
	logger   *Logger.Logger
	newDeps  func() session.Deps
	upgrader websocket.Upgrader
}

// NewHandler takes a deps factory: each connection gets fresh session deps
// so per-session state (memory rate limiting) never leaks across clients.
func NewHandler(logger *Logger.Logger, newDeps func() session.Deps) *Handler {
	return &Handler{
		logger:  logger.Named("ws"),
		newDeps: newDeps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Implement proper origin checking for production
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers WebSocket routes.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	ws := router.Group("/ws")
	{
		ws.GET("/voice", h.HandleVoiceWebSocket)
	}
}

// HandleVoiceWebSocket runs one voice conversation: binary frames are mic
// PCM, text frames are JSON control messages.
func (h *Handler) HandleVoiceWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sink := newConnSink(conn)
	ctrl := session.NewController(sink, h.newDeps())
	defer ctrl.Shutdown()

	h.logger.Infof("voice ws connected - session %s", ctrl.ID())

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Errorf("ws read error for session %s: %v", ctrl.ID(), err)
			} else {
				h.logger.Infof("voice ws closed - session %s", ctrl.ID())
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			ctrl.HandleInboundAudio(data)
		case websocket.TextMessage:
			h.handleControlMessage(ctrl, sink, data)
		}
	}
}

func (h *Handler) handleControlMessage(ctrl *session.Controller, sink *connSink, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		sink.Send(map[string]any{"type": "error", "error": "invalid_json"})
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case MessageSessionStart:
		personaID, _ := uuid.Parse(msg.PersonaID)
		if err := ctrl.Start(ctx, personaID, msg.ConfigUpdate); err != nil {
			h.logger.Warnf("session start failed for %s: %v", ctrl.ID(), err)
		}
	case MessageSessionConfig:
		ctrl.UpdateConfig(ctx, msg.ConfigUpdate)
	case MessagePTTDown:
		ctrl.SetPTT(true)
	case MessagePTTUp:
		ctrl.SetPTT(false)
	case MessageCutAudio, MessageCutAudioLegacy:
		ctrl.CutAudio(ctx)
	default:
		h.logger.Warnf("unknown message type %q from session %s", msg.Type, ctrl.ID())
	}
}
