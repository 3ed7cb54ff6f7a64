package main

import (
	"voice-platform/internal/community"
	"voice-platform/internal/config"
	"voice-platform/internal/coordinator"
	"voice-platform/internal/httpapi"
	"voice-platform/internal/rtc"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, coord *coordinator.Coordinator, statusSvc *community.StatusService, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public, body-signature authenticated).
	wh := rtc.WebhookHandler{
		Secret: []byte(cfg.RTC.WebhookSecret),
		Sink:   coord,
	}
	r.POST("/webhooks/rtc", wh.Handle)

	h := httpapi.Handlers{
		Coordinator: coord,
		Community:   statusSvc,
		Redis:       rdb,
		JoinCap:     cfg.Voice.JoinCapPerRoom,
	}

	v1 := r.Group("/v1")
	{
		// PRIVATE 1:1 calls
		private := v1.Group("/private-voice-chat")
		{
			private.POST("", h.CreatePrivateVoiceChat)
			private.DELETE("/:id", h.EndPrivateVoiceChat)
		}

		v1.GET("/users/:address/voice-chat-status", h.GetVoiceChatStatus)

		// COMMUNITY rooms
		comm := v1.Group("/community-voice-chat")
		{
			comm.POST("/status", h.GetCommunityStatuses)
			comm.GET("/:id/status", h.GetCommunityStatus)
			comm.POST("/:id/users", h.JoinCommunityVoiceChat)

			// moderation
			comm.POST("/:id/users/:address/speak-request", h.RequestToSpeak)
			comm.POST("/:id/users/:address/promote", h.PromoteSpeaker)
			comm.POST("/:id/users/:address/demote", h.DemoteSpeaker)
			comm.DELETE("/:id/users/:address", h.KickFromCommunity)
		}
	}
}
