package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulse-backend/internal/config"
	"pulse-backend/internal/database"
	presenceHandler "pulse-backend/internal/handler/http/presence"
	wsHandler "pulse-backend/internal/handler/ws"
	"pulse-backend/internal/middleware"
	"pulse-backend/internal/ratelimit"
	"pulse-backend/internal/repository/cassandra"
	"pulse-backend/internal/repository/cockroach"
	redisRepo "pulse-backend/internal/repository/redis"
	"pulse-backend/internal/service/callhistory"
	"pulse-backend/internal/service/moderation"
	notificationService "pulse-backend/internal/service/notification"
	"pulse-backend/internal/service/policy"
	"pulse-backend/internal/service/presence"
	"pulse-backend/internal/service/relay"
	"pulse-backend/internal/service/signaling"
	"pulse-backend/pkg/constants"
	"pulse-backend/pkg/jwt"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

func main() {
	// 1. Load configuration and logger
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 2. Connect to CockroachDB
	cockroachDB, err := database.NewCockroachDB(ctx, &database.CockroachConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("Connected to CockroachDB")

	// 3. Connect to Cassandra
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.Cassandra.Hosts,
		Keyspace: cfg.Cassandra.Keyspace,
		Username: cfg.Cassandra.Username,
		Password: cfg.Cassandra.Password,
		Timeout:  cfg.Cassandra.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("Connected to Cassandra")

	// 4. Connect to Redis with degraded mode support. The gateway keeps
	// serving on in-process state while Redis is down.
	redisDB := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, cfg.Redis.HealthCheckInterval)

	// 5. Repositories
	userRepo := cockroach.NewUserRepository(cockroachDB.Pool)
	relationshipRepo := cockroach.NewRelationshipRepository(cockroachDB.Pool)
	callLogRepo := cockroach.NewCallLogRepository(cockroachDB.Pool)
	notificationRepo := cockroach.NewNotificationRepository(cockroachDB.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	revocationRepo := redisRepo.NewRevocationRepository(redisDB)
	rateLimitStore := redisRepo.NewRateLimitStore(redisDB)

	// A previous process may have died without clearing its presence keys
	if err := presenceRepo.Reset(ctx); err != nil {
		logger.Warn("Failed to reset presence mirror", zap.Error(err))
	}

	// 6. Services
	clk := clock.New()
	limiter := ratelimit.New(ratelimit.Config{
		Rules: map[string]ratelimit.Rule{
			ratelimit.ActionMessage: {Limit: cfg.RateLimit.Messages, Window: cfg.RateLimit.Window},
			ratelimit.ActionREST:    {Limit: cfg.RateLimit.RESTCalls, Window: cfg.RateLimit.Window},
		},
		Default:    ratelimit.Rule{Limit: cfg.RateLimit.RESTCalls, Window: cfg.RateLimit.Window},
		MaxBuckets: cfg.RateLimit.MaxBuckets,
	}, rateLimitStore, clk)

	notificationSvc := notificationService.NewService(notificationRepo)
	policySvc := policy.NewService(userRepo, relationshipRepo)
	registry := presence.NewRegistry(userRepo, presenceRepo)
	recorder := callhistory.NewRecorder(userRepo, callLogRepo, notificationSvc, clk)

	hub := wsHandler.NewHub(registry)
	coordinator := signaling.NewCoordinator(signaling.NewState(), registry, policySvc, recorder, hub, clk)
	reconciler := signaling.NewReconciler(coordinator, registry, cfg.Realtime.CallGracePeriod, clk)
	relaySvc := relay.NewService(
		messageRepo,
		limiter,
		policySvc,
		moderation.NewFilter(cfg.Realtime.ModerationBlocklist),
		notificationSvc,
		hub,
		clk,
		relay.Config{
			EditWindow:   cfg.Realtime.MessageEditWindow,
			DeleteWindow: cfg.Realtime.MessageDeleteWindow,
		},
	)

	// 7. Handlers
	authenticator := middleware.NewAuthenticator(jwtManager, revocationRepo)
	gateway := wsHandler.NewHandler(wsHandler.Config{
		MaxConnections: cfg.Realtime.MaxConnections,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		SendBuffer:     cfg.Realtime.SendBuffer,
	}, hub, authenticator, registry, reconciler, coordinator, relaySvc)
	presenceHdlr := presenceHandler.NewHandler(registry)

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 8. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"service":        cfg.Server.ServiceName,
			"redis_degraded": redisDB.IsDegraded(),
			"connections":    hub.Len(),
			"time":           time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	// The upgrade authenticates itself so cookie and query tokens work
	router.GET("/v1/ws", gateway.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(middleware.SecurityHeaders())
	v1.Use(middleware.CORSMiddleware(cfg.Realtime.AllowedOrigins))
	v1.Use(middleware.Timeout(constants.DefaultTimeout))
	v1.Use(middleware.AuthMiddleware(authenticator))
	v1.Use(middleware.RateLimit(limiter, appMetrics))
	{
		v1.GET("/presence/online", presenceHdlr.GetOnline)
	}

	// 9. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Realtime gateway starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("ws_endpoint", "/v1/ws"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket connections did not drain", zap.Error(err))
	}
	reconciler.Shutdown()
	stop()

	logger.Info("Server exited")
}
