package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proctorsfu/internal/core/domain"
	"proctorsfu/internal/core/ports"
	"proctorsfu/internal/core/services"
	httphandlers "proctorsfu/internal/handlers/http"
	"proctorsfu/internal/infrastructure/distributed"
	"proctorsfu/internal/infrastructure/engine"
	"proctorsfu/internal/infrastructure/middleware"
	"proctorsfu/internal/infrastructure/monitoring"
	"proctorsfu/internal/infrastructure/repositories/memory"
	redisrepo "proctorsfu/internal/infrastructure/repositories/redis"
	signalserver "proctorsfu/internal/infrastructure/signal"
	"proctorsfu/pkg/config"
	"proctorsfu/pkg/logger"
	"proctorsfu/pkg/tracing"
	"proctorsfu/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/proctorsfu/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "proctorsfu",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: os.Getenv("PROCTORSFU_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize monitoring
	metrics := monitoring.NewPrometheusCollector()
	health := monitoring.NewHealthChecker()

	// Initialize media engine and worker pool
	mediaEngine := engine.New(log)

	strategy := services.StrategyRoundRobin
	if cfg.Worker.Strategy == "least_loaded" {
		strategy = services.StrategyLeastLoaded
	}

	pool := services.NewWorkerPool(mediaEngine, ports.WorkerSettings{
		RtcMinPort:  cfg.Worker.RtcMinPort,
		RtcMaxPort:  cfg.Worker.RtcMaxPort,
		ListenIP:    cfg.WebRTC.ListenIP,
		AnnouncedIP: cfg.WebRTC.AnnouncedIP,
	}, strategy, log)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	// A worker that cannot start at boot is a deployment problem, not
	// something to limp along without.
	if err := pool.Initialize(bootCtx, cfg.Worker.Count); err != nil {
		log.Fatalw("failed to initialize worker pool", "error", err, "workers", cfg.Worker.Count)
	}
	pool.OnWorkerDied(func(pid int) {
		metrics.IncWorkerDeath()
	})

	// Initialize room repository (Redis when configured, in-memory otherwise)
	var roomRepo ports.RoomRepository
	var eventBus *distributed.EventBus
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err, "address", cfg.Redis.Address)
		}
		defer client.Close()

		roomRepo = redisrepo.NewRedisRoomRepository(client)
		health.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, 2*time.Second)

		eventBus = distributed.NewEventBus(client, utils.GenerateID("sfu"), log)
		defer eventBus.Close()
	} else {
		roomRepo = memory.NewMemoryRoomRepository()
	}

	// Initialize services
	rooms := services.NewRoomService(roomRepo, domain.RoomConfig{
		MaxParticipants:  cfg.Room.MaxParticipants,
		RequireWebcam:    cfg.Room.RequireWebcam,
		RequireScreen:    cfg.Room.RequireScreen,
		RequireAudio:     cfg.Room.RequireAudio,
		RecordingEnabled: cfg.Room.RecordingEnabled,
	}, log)

	routers := services.NewRouterRegistry(pool, domain.DefaultMediaCodecs(), log)
	transports := services.NewTransportRegistry(routers, ports.WebRtcTransportOptions{
		ListenIP:    cfg.WebRTC.ListenIP,
		AnnouncedIP: cfg.WebRTC.AnnouncedIP,
	}, log)
	producers := services.NewProducerRegistry(transports, log)
	consumers := services.NewConsumerRegistry(routers, transports, producers, log)

	// Mirror media events onto the platform event channel when Redis is up.
	if eventBus != nil {
		producers.OnNewProducer(func(info domain.ProducerInfo) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := eventBus.PublishProducerCreated(ctx, info); err != nil {
				log.Warnw("failed to publish producer event", "error", err)
			}
		})
		pool.OnWorkerDied(func(pid int) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := eventBus.PublishWorkerDied(ctx, pid); err != nil {
				log.Warnw("failed to publish worker death event", "error", err)
			}
		})
	}

	// Token verification is optional; without it any claimed identity is accepted.
	var verifier signalserver.TokenVerifier
	var jwtVerifier *middleware.JWTVerifier
	if cfg.Auth.Enabled {
		jwtVerifier = middleware.NewJWTVerifier(cfg.Auth.JWTSecret)
		verifier = jwtVerifier
	}

	// Initialize signaling server
	sigServer := signalserver.NewServer(rooms, routers, transports, producers, consumers, verifier, metrics, signalserver.Config{
		PingInterval: cfg.Signal.PingInterval,
		PongTimeout:  cfg.Signal.PongTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}, log)

	health.AddCheck("workers", func(ctx context.Context) error {
		if pool.Size() == 0 {
			return domain.ErrNoWorkersAvailable
		}
		return nil
	}, time.Second)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))

	// Admin API
	adminHandler := httphandlers.NewAdminHandler(rooms, pool, routers, producers, health, eventBus)
	adminHandler.SetupHealthRoute(router)

	adminGroup := router.Group("/")
	if jwtVerifier != nil {
		adminGroup.Use(middleware.AuthMiddleware(jwtVerifier), middleware.RequireRole(domain.RoleProctor))
	}
	adminHandler.SetupRoutes(adminGroup)

	// Signaling endpoint with connection throttling
	wsGuard := middleware.NewWSConnectionGuard(cfg)
	router.GET("/ws", wsGuard.Middleware(), func(c *gin.Context) {
		if release, ok := c.Get("ws_release"); ok {
			defer release.(func())()
		}
		sigServer.HandleWebSocket(c.Writer, c.Request)
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	// Periodic gauge sweep
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(cfg.Monitoring.MetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				active, err := rooms.ListActive(sweepCtx)
				if err != nil {
					log.Warnw("gauge sweep failed to list rooms", "error", err)
					continue
				}
				metrics.SetCounts(pool.Size(), routers.Count(), len(active),
					transports.Count(), producers.Count(), consumers.Count())
			}
		}
	}()

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting proctoring SFU server", "address", cfg.Server.Address, "workers", pool.Size())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	// Tear down live sessions and the media plane.
	sigServer.Shutdown()
	pool.Shutdown()

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracer provider", "error", err)
	}

	log.Info("server stopped")
}
