package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecombot/internal/history"
	"ecombot/internal/models"
	"ecombot/internal/service/rag"
	"ecombot/internal/worker"
)

// Chatter answers one question for one session.
type Chatter interface {
	Invoke(ctx context.Context, req rag.Request) (*rag.Response, error)
}

// Handler wires the JSON routes to the chain and the transcript store.
type Handler struct {
	chat    Chatter
	history history.Store
	logger  *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(chat Chatter, store history.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chat: chat, history: store, logger: logger}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.POST("/chat", h.chatOnce)
	api.POST("/chat/stream", h.chatStream)
	api.GET("/sessions/:session_id/messages", h.getSessionMessages)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
}

func (r chatRequest) validate() error {
	if strings.TrimSpace(r.Input) == "" {
		return rag.ErrEmptyInput
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return history.ErrSessionRequired
	}
	return nil
}

func (h *Handler) chatOnce(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.chat.Invoke(c.Request.Context(), rag.Request{Input: req.Input, SessionID: req.SessionID})
	if err != nil {
		h.logger.Warn("chat failed", zap.String("session_id", req.SessionID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// chatStream reports the turn as server-sent events: ack once the question is
// accepted, then done with the answer or error.
func (h *Handler) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{
		"message": models.NewMessage(req.SessionID, models.RoleUser, strings.TrimSpace(req.Input)),
	}); err != nil {
		return
	}

	resp, err := h.chat.Invoke(c.Request.Context(), rag.Request{Input: req.Input, SessionID: req.SessionID})
	if err != nil {
		h.logger.Warn("chat stream failed", zap.String("session_id", req.SessionID), zap.Error(err))
		_ = sendEvent("error", gin.H{"error": err.Error(), "status": statusFor(err)})
		return
	}
	_ = sendEvent("done", resp)
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	messages, err := h.history.Peek(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, history.ErrSessionRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyInput), errors.Is(err, history.ErrSessionRequired):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, worker.ErrDispatcherStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
