package rtc

import (
	"context"
	"io"
	"net/http"

	"voice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventSink is the coordinator's event-ingestion interface. Keeping the
// dependency in this direction breaks the provider<->coordinator cycle:
// the adapter only knows how to hand decoded events over.
type EventSink interface {
	HandleParticipantJoined(ctx context.Context, address, roomName string) error
	HandleParticipantLeft(ctx context.Context, address, roomName string, reason LeaveReason) error
	HandleRoomDeleted(ctx context.Context, roomName string) error
}

// WebhookHandler authenticates and decodes provider webhooks, then feeds
// the sink. No business logic here.
type WebhookHandler struct {
	Secret []byte
	Sink   EventSink
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if len(h.Secret) == 0 || h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook handler not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := VerifySignature(h.Secret, body, c.GetHeader(SignatureHeader)); err != nil {
		log.Warn("webhook signature rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}

	e, err := DecodeEvent(body)
	if err != nil {
		log.Warn("webhook decode failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	ctx := c.Request.Context()
	switch e.Type {
	case EventParticipantJoined:
		err = h.Sink.HandleParticipantJoined(ctx, e.ParticipantIdentity, e.RoomName)
	case EventParticipantLeft:
		err = h.Sink.HandleParticipantLeft(ctx, e.ParticipantIdentity, e.RoomName, e.Reason)
	case EventRoomDeleted:
		err = h.Sink.HandleRoomDeleted(ctx, e.RoomName)
	default:
		// room_started and ingress events carry no session state.
	}
	if err != nil {
		log.Error("webhook handling failed", "event", e.Type, "room", e.RoomName, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
