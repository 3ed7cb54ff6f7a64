package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voice-platform/internal/community"
	"voice-platform/internal/coordinator"
	"voice-platform/internal/sessions"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Coordinator *coordinator.Coordinator
	Community   *community.StatusService

	// Redis backs the per-room join concurrency cap.
	Redis      *redis.Client
	JoinCap    int
	JoinCapTTL time.Duration
}

func abortForErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, sessions.ErrRoomNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sessions.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

/* ===================== PRIVATE VOICE CHAT ===================== */

type createPrivateRequest struct {
	CallID    string   `json:"call_id" binding:"required"`
	Addresses []string `json:"addresses" binding:"required"`
}

// CreatePrivateVoiceChat provisions a 1:1 call and returns a join
// credential per address.
func (h Handlers) CreatePrivateVoiceChat(c *gin.Context) {
	log := logger.FromGin(c)

	var req createPrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Addresses) != 2 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "exactly 2 addresses required"})
		return
	}

	creds, err := h.Coordinator.CreatePrivateVoiceChat(c.Request.Context(), req.CallID, req.Addresses)
	if err != nil {
		log.Error("private voice chat creation failed", "call_id", req.CallID, "err", err)
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call_id": req.CallID, "credentials": creds})
}

type endPrivateRequest struct {
	Address string `json:"address" binding:"required"`
}

// EndPrivateVoiceChat terminates a call; the requester must be (or have
// been) a member.
func (h Handlers) EndPrivateVoiceChat(c *gin.Context) {
	log := logger.FromGin(c)

	callID := c.Param("id")
	var req endPrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	members, err := h.Coordinator.EndPrivateVoiceChat(c.Request.Context(), callID, req.Address)
	if err != nil {
		if !errors.Is(err, sessions.ErrRoomNotFound) {
			log.Error("private voice chat end failed", "call_id", callID, "err", err)
		}
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "members": members})
}

// GetVoiceChatStatus reports whether a user is currently in a call.
func (h Handlers) GetVoiceChatStatus(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "address required"})
		return
	}
	inCall, err := h.Coordinator.IsUserInCall(c.Request.Context(), address)
	if err != nil {
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "in_call": inCall})
}

/* ===================== COMMUNITY VOICE CHAT ===================== */

type joinCommunityRequest struct {
	Address string            `json:"address" binding:"required"`
	Role    string            `json:"role" binding:"required"`
	Profile map[string]string `json:"profile,omitempty"`
}

// JoinCommunityVoiceChat creates or joins a community room. In-flight
// joins per room are capped through redis so a join storm cannot pile up
// on the store.
func (h Handlers) JoinCommunityVoiceChat(c *gin.Context) {
	log := logger.FromGin(c)

	communityID := c.Param("id")
	var req joinCommunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	switch req.Role {
	case coordinator.RoleOwner, coordinator.RoleModerator, coordinator.RoleMember:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "role must be owner, moderator or member"})
		return
	}

	if h.Redis != nil && h.JoinCap > 0 {
		capKey := "voice:join-cap:" + communityID
		ok, err := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, capKey, h.JoinCap, h.joinCapTTL())
		if err != nil {
			// Cap check is protective, not load-bearing; let the join through.
			log.Error("join cap check failed", "community", communityID, "err", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent joins"})
			return
		} else {
			defer func() {
				if err := utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, capKey); err != nil {
					log.Debug("join cap release failed", "community", communityID, "err", err)
				}
			}()
		}
	}

	cred, err := h.Coordinator.JoinCommunityVoiceChat(c.Request.Context(), communityID, req.Address, req.Role, req.Profile)
	if err != nil {
		if !errors.Is(err, sessions.ErrRoomNotFound) {
			log.Error("community join failed", "community", communityID, "err", err)
		}
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"community_id": communityID, "credential": cred})
}

func (h Handlers) joinCapTTL() time.Duration {
	if h.JoinCapTTL > 0 {
		return h.JoinCapTTL
	}
	return 10 * time.Second
}

// GetCommunityStatus returns the status of one community room.
func (h Handlers) GetCommunityStatus(c *gin.Context) {
	communityID := c.Param("id")
	st, err := h.Community.GetStatus(c.Request.Context(), communityID)
	if err != nil {
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type bulkStatusRequest struct {
	CommunityIDs []string `json:"community_ids" binding:"required"`
}

// GetCommunityStatuses resolves many communities in one request.
func (h Handlers) GetCommunityStatuses(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.CommunityIDs) == 0 || len(req.CommunityIDs) > 100 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "1..100 community_ids required"})
		return
	}
	statuses, err := h.Community.GetStatuses(c.Request.Context(), req.CommunityIDs)
	if err != nil {
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

/* ===================== MODERATION ===================== */

// Moderation endpoints are pass-throughs; the session state machine is
// untouched by them.

func (h Handlers) RequestToSpeak(c *gin.Context) {
	h.moderation(c, h.Coordinator.RequestToSpeak)
}

func (h Handlers) PromoteSpeaker(c *gin.Context) {
	h.moderation(c, h.Coordinator.PromoteSpeaker)
}

func (h Handlers) DemoteSpeaker(c *gin.Context) {
	h.moderation(c, h.Coordinator.DemoteSpeaker)
}

func (h Handlers) KickFromCommunity(c *gin.Context) {
	h.moderation(c, h.Coordinator.KickFromCommunity)
}

func (h Handlers) moderation(c *gin.Context, action func(ctx context.Context, communityID, address string) error) {
	communityID := c.Param("id")
	address := c.Param("address")
	if communityID == "" || address == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "community id and address required"})
		return
	}
	if err := action(c.Request.Context(), communityID, address); err != nil {
		logger.FromGin(c).Error("moderation action failed", "community", communityID, "address", address, "err", err)
		abortForErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
