package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/agent"
	"github.com/ragmind/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *agent.Orchestrator
}

func NewWebSocketHandler(orchestrator *agent.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{orchestrator: orchestrator}
}

// HandleConnection streams loop progress per iteration, then the final
// response. One connection corresponds to one conversation.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type            string `json:"type"`
			Query           string `json:"query"`
			KnowledgeBaseID string `json:"knowledge_base_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" || msg.Query == "" {
			continue
		}
		if msg.KnowledgeBaseID == "" {
			msg.KnowledgeBaseID = "default"
		}

		if err := h.streamQuery(c, msg.Query, msg.KnowledgeBaseID); err != nil {
			logger.Error("Failed to stream query", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamQuery(c *websocket.Conn, query, kbID string) error {
	progress := func(state agent.State, payload map[string]interface{}) {
		msg := map[string]interface{}{
			"type":  "progress",
			"state": string(state),
		}
		for k, v := range payload {
			msg[k] = v
		}
		if err := c.WriteJSON(msg); err != nil {
			logger.Debug("Failed to write progress event", zap.Error(err))
		}
	}

	response, err := h.orchestrator.QueryWithProgress(context.Background(), query, kbID, progress)
	if err != nil {
		return err
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"response": response,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
