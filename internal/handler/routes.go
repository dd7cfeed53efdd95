package handler

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func parseCorsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS"))
	if raw == "" {
		return []string{"*"}
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// SetupRouter wires the webhook and owner API routes.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	origins := parseCorsOrigins()
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
			break
		}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", SignatureHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/webhook/:channel", h.Webhook)

	api := r.Group("/api")
	{
		events := api.Group("/events")
		{
			events.POST("", h.CreateEvent)
			events.GET("/:id/guests", h.ListGuests)
			events.POST("/:id/guests", h.CreateGuest)
			events.GET("/:id/flows", h.ListFlows)
			events.POST("/:id/flows", h.CreateFlow)
		}

		guests := api.Group("/guests")
		{
			guests.POST("/:id/rsvp", h.SetRsvp)
			guests.POST("/:id/invite", h.SendInvitation)
		}

		flows := api.Group("/flows")
		{
			flows.POST("/:id/activate", h.ActivateFlow)
			flows.POST("/:id/pause", h.PauseFlow)
			flows.POST("/:id/archive", h.ArchiveFlow)
			flows.GET("/:id/executions", h.ListExecutions)
		}
	}

	return r
}
