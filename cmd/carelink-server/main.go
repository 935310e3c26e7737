package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carelink-backend/internal/database"
	"carelink-backend/internal/handler/http/health"
	"carelink-backend/internal/handler/ws"
	"carelink-backend/internal/repository/cockroach"
	"carelink-backend/internal/repository/memory"
	redisRepo "carelink-backend/internal/repository/redis"
	"carelink-backend/internal/seed"
	authService "carelink-backend/internal/service/auth"
	userService "carelink-backend/internal/service/user"
	videoService "carelink-backend/internal/service/video"
	"carelink-backend/pkg/config"
	"carelink-backend/pkg/constants"
	pgdb "carelink-backend/pkg/database"
	"carelink-backend/pkg/jwt"
	"carelink-backend/pkg/lockout"
	"carelink-backend/pkg/logger"
	"carelink-backend/pkg/metrics"
)

// userStore is satisfied by both directory backends
type userStore interface {
	ws.Directory
	authService.UserRepository
	seed.UserStore
}

// callStore is satisfied by both call history backends
type callStore interface {
	ws.CallLog
	videoService.CallRepository
}

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Service:  cfg.Server.ServiceName,
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfg.UsesDefaultSecret() {
		logger.Warn("Using the default JWT secret, set JWT_SECRET before deploying")
	}

	m := metrics.NewMetrics("carelink")
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// 1. User directory and call history
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open user store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer st.close()
	store, calls := st.users, st.calls

	var checks []health.Check
	if st.check != nil {
		checks = append(checks, *st.check)
	}

	if cfg.SeedUsers {
		if _, err := seed.Users(ctx, store); err != nil {
			logger.Fatal("Failed to seed users", zap.Error(err))
		}
		logger.Info("Seeded accounts ready",
			zap.String("doctor", "doctor@sayurveda.test"),
			zap.String("patient", "patient@sayurveda.test"))
	}

	// 2. Optional Redis: revocation, presence mirror, lockout, shared rate limits
	var (
		redisClient *database.RedisClient
		blacklist   authService.TokenBlacklist
		loginLock   authService.LoginLockout
		mirror      ws.PresenceMirror
	)
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()

	if cfg.Redis.Enabled {
		redisClient = database.NewRedisDB(&cfg.Redis)
		defer redisClient.Close()

		checks = append(checks, health.Check{Name: "redis", Probe: redisClient.HealthCheck})

		if err := redisClient.HealthCheck(ctx); err != nil {
			logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
		}
		redisClient.StartHealthCheck(healthCtx, constants.RedisHealthCheckInterval)

		presenceRepo := redisRepo.NewPresenceRepository(redisClient)
		if err := presenceRepo.ClearAll(ctx); err != nil {
			logger.Warn("Failed to clear stale presence", zap.Error(err))
		}
		mirror = presenceRepo
		blacklist = redisRepo.NewSessionRepository(redisClient)
		loginLock = lockout.NewLockoutManager(redisClient, cfg.Lockout.MaxAttempts, cfg.Lockout.Duration)
		logger.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr()))
	}

	// 3. Relay and services
	notifier := ws.NewNotifier()
	authSvc := authService.NewService(store, blacklist, loginLock, notifier, jwtManager, m)
	hub := ws.NewRelayHub(store, notifier, ws.HubOptions{
		Verifier:       authSvc,
		Mirror:         mirror,
		CallLog:        calls,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxConnections: cfg.WebSocket.MaxConnections,
	})
	userSvc := userService.NewService(store, hub, hub, notifier)
	videoSvc := videoService.NewService(calls, hub)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, routerDeps{
		authService:  authSvc,
		userService:  userSvc,
		videoService: videoSvc,
		hub:          hub,
		metrics:      m,
		redisClient:  redisClient,
		healthChecks: checks,
	})

	// 4. Start server in goroutine
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("CareLink server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("store", cfg.Store.Driver),
			zap.String("ws_path", cfg.WebSocket.Path))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 5. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	closed := hub.Shutdown(shutdownCtx)
	logger.Info("Closed relay connections", zap.Int("count", closed))

	logger.Info("Server exited")
}

// storage bundles the configured backends
type storage struct {
	users userStore
	calls callStore
	check *health.Check
	close func()
}

// openStore connects the configured storage driver
func openStore(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Store.Driver != config.StorePostgres {
		return &storage{
			users: memory.NewUserRepository(),
			calls: memory.NewCallRepository(),
			close: func() {},
		}, nil
	}

	db, err := pgdb.NewCockroachDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	users := cockroach.NewUserRepository(db.Pool)
	calls := cockroach.NewCallRepository(db.Pool)
	for _, ensure := range []func(context.Context) error{users.EnsureSchema, calls.EnsureSchema} {
		if err := ensure(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	logger.Info("Connected to CockroachDB", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))
	return &storage{
		users: users,
		calls: calls,
		check: &health.Check{Name: "database", Critical: true, Probe: db.HealthCheck},
		close: db.Close,
	}, nil
}
