package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-mailevents/core"
	"github.com/goliatone/go-mailevents/webhooks"
)

type receiverHandler struct {
	receiver     *webhooks.Receiver
	logger       core.Logger
	maxBodyBytes int64
}

func (h *receiverHandler) handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		h.logger.WithContext(c.Request.Context()).Warn("webhook body read failed", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	result, err := h.receiver.Receive(c.Request.Context(), webhooks.InboundRequest{
		Headers:    flattenHeaders(c.Request.Header),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil && result.StatusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(result.StatusCode, result.Body)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
