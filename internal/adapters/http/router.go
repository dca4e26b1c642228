package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Voice/internal/adapters/signal"
	"github.com/dkeye/Voice/internal/app/orch"
	"github.com/dkeye/Voice/internal/config"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SetupRouter mounts the signaling endpoint, the room admin API, health and
// metrics. ctx bounds every WebSocket connection the router accepts.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait(),
		SendBuffer:   cfg.SendBuffer,
		RateLimit:    cfg.RateLimit,
		RateInterval: cfg.RateInterval,
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	rooms := api.Group("/rooms")
	rooms.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})
	rooms.GET("/:room/members", func(c *gin.Context) {
		room, ok := o.Rooms.GetRoom(domain.RoomID(c.Param("room")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room.Room().ID, "members": room.Members()})
	})
	rooms.DELETE("/:room", func(c *gin.Context) {
		id := domain.RoomID(c.Param("room"))
		if _, ok := o.Rooms.GetRoom(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		o.EvictRoom(id)
		log.Info().Str("module", "adapters.http").Str("room", string(id)).Msg("room evicted")
		c.Status(http.StatusNoContent)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
