// Package api implements the daemon's control API handlers.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/penguinchat/penguinchat/internal/backup"
	"github.com/penguinchat/penguinchat/internal/blob"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/link"
	"github.com/penguinchat/penguinchat/internal/store"
)

// Response is the envelope of every control API reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func fail(c *gin.Context, err error, msg string) {
	c.JSON(statusFor(err), Response{Success: false, Message: msg, Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Message: "invalid request", Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidChatID), errors.Is(err, chat.ErrNotParticipant):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrMessageNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrNoStore), errors.Is(err, link.ErrNoHTTP):
		return http.StatusServiceUnavailable
	case errors.Is(err, blob.ErrRetryable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
