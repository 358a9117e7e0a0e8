package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JushBJJ/Wormhole/internal/core"
	"github.com/JushBJJ/Wormhole/internal/http/dto"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/relay"
)

// MessageIngester is the core entry point for bridge traffic.
type MessageIngester interface {
	Handle(ctx context.Context, msg model.InboundMessage) (core.Outcome, error)
}

// EnvelopeRelayer delivers bus-format messages from bridges that do not
// speak Redis.
type EnvelopeRelayer interface {
	RelayEnvelope(ctx context.Context, env model.Envelope) (relay.Result, error)
}

type MessageHandler struct {
	ingester MessageIngester
	envelope EnvelopeRelayer
}

func NewMessageHandler(ingester MessageIngester, envelope EnvelopeRelayer) *MessageHandler {
	return &MessageHandler{ingester: ingester, envelope: envelope}
}

func (h *MessageHandler) Post(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid message request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.ingester.Handle(ctx, req.Inbound())
	if err != nil {
		if errors.Is(err, relay.ErrDraining) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay is shutting down"})
			return
		}
		slog.ErrorContext(ctx, "failed to handle message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to handle message"})
		return
	}

	resp := dto.PostMessageResponse{
		Admitted:  out.Admitted,
		Reason:    string(out.Reason),
		Reply:     out.Reply,
		Category:  out.Relay.Category,
		Delivered: out.Relay.Delivered,
		Failed:    out.Relay.Failed,
	}
	for _, ep := range out.Relay.Removed {
		resp.Removed = append(resp.Removed, ep.String())
	}

	status := http.StatusAccepted
	if !out.Admitted {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (h *MessageHandler) PostEnvelope(c *gin.Context) {
	ctx := c.Request.Context()

	var env model.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if env.Category == "" || env.FromBridge == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "category and from_bridge are required"})
		return
	}

	result, err := h.envelope.RelayEnvelope(ctx, env)
	if err != nil {
		if errors.Is(err, relay.ErrDraining) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay is shutting down"})
			return
		}
		slog.ErrorContext(ctx, "failed to relay envelope", "error", err, "from_bridge", env.FromBridge)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to relay envelope"})
		return
	}

	c.JSON(http.StatusAccepted, dto.PostEnvelopeResponse{
		Category:  result.Category,
		Delivered: result.Delivered,
		Failed:    result.Failed,
	})
}
