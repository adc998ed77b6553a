package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/openclass/liveforum/config"
	"github.com/openclass/liveforum/controllers"
	"github.com/openclass/liveforum/middleware"
	"github.com/openclass/liveforum/utils"
)

// SetupRouter wires routes, middlewares, and controllers. It returns the
// engine together with the websocket controller so main can drain live
// sessions during graceful shutdown.
func SetupRouter(forumController *controllers.ForumController, wsController *controllers.WSController) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	rooms := api.Group("/rooms")
	rooms.Use(middleware.AuthRequired())
	rooms.GET("/:room/snapshot", forumController.GetRoomSnapshot)
	rooms.GET("/:room/posts/:id", forumController.GetPost)
	rooms.GET("/:room/stats", forumController.GetRoomStats)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())
	protected.POST("/intents", forumController.PostIntent)

	// Websocket endpoint; the token travels as a query parameter.
	r.GET("/ws", middleware.AuthRequired(), wsController.Serve)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, utils.CodeNotFound, "route not found")
	})

	return r
}
