package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"carelink-backend/internal/database"
	"carelink-backend/internal/domain"
	authHandler "carelink-backend/internal/handler/http/auth"
	doctorHandler "carelink-backend/internal/handler/http/doctor"
	"carelink-backend/internal/handler/http/health"
	userHandler "carelink-backend/internal/handler/http/user"
	videoHandler "carelink-backend/internal/handler/http/video"
	"carelink-backend/internal/handler/ws"
	"carelink-backend/internal/middleware"
	authService "carelink-backend/internal/service/auth"
	userService "carelink-backend/internal/service/user"
	videoService "carelink-backend/internal/service/video"
	"carelink-backend/pkg/config"
	"carelink-backend/pkg/constants"
	"carelink-backend/pkg/metrics"
)

type routerDeps struct {
	authService  *authService.Service
	userService  *userService.Service
	videoService *videoService.Service
	hub          *ws.RelayHub
	metrics      *metrics.Metrics
	redisClient  *database.RedisClient
	healthChecks []health.Check
}

func setupRouter(cfg *config.Config, deps routerDeps) *gin.Engine {
	authHdlr := authHandler.NewHandler(deps.authService)
	doctorHdlr := doctorHandler.NewHandler(deps.userService)
	userHdlr := userHandler.NewHandler(deps.userService)
	videoHdlr := videoHandler.NewHandler(deps.videoService)
	healthHdlr := health.NewHandler(deps.metrics, deps.healthChecks...)

	router := gin.New()

	// Apply middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.HTTPMetrics(deps.metrics, cfg.WebSocket.Path, "/metrics"))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        cfg.Server.ServiceName,
			"version":     cfg.Server.APIVersion,
			"status":      "running",
			"environment": cfg.Server.Environment,
			"timestamp":   time.Now().UTC(),
		})
	})

	router.GET("/health", healthHdlr.Health)

	router.GET("/metrics", middleware.MetricsHandler(deps.metrics))
	router.GET(cfg.WebSocket.Path, deps.hub.ServeWS)

	authMW := middleware.AuthMiddleware(deps.authService)
	limiter := middleware.NewRateLimiter(deps.redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, deps.metrics)

	v1 := router.Group("/api/" + cfg.Server.APIVersion)
	v1.Use(middleware.RequestTimeout(constants.DefaultTimeout, deps.metrics))
	{
		v1.GET("/health", healthHdlr.Health)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", limiter.Middleware(), authHdlr.Register)
			auth.POST("/login", limiter.Middleware(), authHdlr.Login)
			auth.POST("/logout", authMW, authHdlr.Logout)
		}

		doctors := v1.Group("/doctors")
		doctors.Use(authMW)
		{
			doctors.GET("", doctorHdlr.ListDoctors)
			doctors.POST("/status", middleware.RequireRole(domain.RoleDoctor), doctorHdlr.UpdateStatus)
		}

		users := v1.Group("/users")
		users.Use(authMW)
		{
			users.GET("", userHdlr.ListUsers)
			users.GET("/me", userHdlr.Me)
		}

		calls := v1.Group("/calls")
		calls.Use(authMW)
		{
			calls.GET("", videoHdlr.ListCalls)
			calls.GET("/:id", videoHdlr.GetCall)
		}
	}

	return router
}
