package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agri-rag/server/internal/agent/graph"
	"github.com/agri-rag/server/internal/agent/model"
	errx "github.com/agri-rag/server/internal/core/error"
	logx "github.com/agri-rag/server/pkg/logger"
)

type ChatHandler struct {
	runner      graph.Runner
	threads     Threads
	turnTimeout time.Duration
}

// ChatRequest starts a new thread when ThreadID is empty.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message" binding:"required"`
}

// Chat runs one turn.
// POST /api/v1/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		req.ThreadID = uuid.NewString()
	}

	ctx := c.Request.Context()
	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	result, err := h.runner.Invoke(ctx, model.TurnInput{ThreadID: req.ThreadID, Message: req.Message})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History lists the persisted messages of a thread.
// GET /api/v1/threads/:thread_id/messages
func (h *ChatHandler) History(c *gin.Context) {
	threadID := c.Param("thread_id")
	msgs, err := h.threads.History(c.Request.Context(), threadID)
	if err != nil {
		writeError(c, err)
		return
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, message{Role: string(m.Role), Content: m.Content})
	}
	c.JSON(http.StatusOK, gin.H{
		"thread_id": threadID,
		"messages":  out,
		"count":     len(out),
	})
}

// Reset forgets a thread.
// DELETE /api/v1/threads/:thread_id
func (h *ChatHandler) Reset(c *gin.Context) {
	if err := h.threads.Reset(c.Request.Context(), c.Param("thread_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError renders the safe message of an AppError. Anything else is
// reported as a generic internal error.
func writeError(c *gin.Context, err error) {
	status := errx.StatusOf(err)
	message := errx.SystemErrorMessage
	var appErr *errx.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "turn timed out"
	case errors.Is(err, context.Canceled):
		status, message = 499, "request canceled"
	}

	logx.Ctx(c.Request.Context()).Error().Err(err).Int("status", status).Msg("Request failed")
	c.JSON(status, gin.H{"error": message})
}
