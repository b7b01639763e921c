// Command relay-server runs the live-stream fan-out relay: the WebSocket
// Session Manager, the RabbitMQ-backed test-rtmp-stream pipeline, and the
// ambient HTTP/metrics/tracing stack around them. Wiring mirrors the
// teacher's cmd/api and cmd/worker main()s (config load, database/cache/
// queue construction, gin router, signal-driven graceful shutdown)
// collapsed into a single process, since the relay has no analogous
// upload/transcode split to keep API and worker apart.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/transcode/internal/cache"
	"github.com/therealutkarshpriyadarshi/transcode/internal/config"
	"github.com/therealutkarshpriyadarshi/transcode/internal/database"
	"github.com/therealutkarshpriyadarshi/transcode/internal/logging"
	"github.com/therealutkarshpriyadarshi/transcode/internal/metrics"
	"github.com/therealutkarshpriyadarshi/transcode/internal/middleware"
	"github.com/therealutkarshpriyadarshi/transcode/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/transcode/internal/queue"
	"github.com/therealutkarshpriyadarshi/transcode/internal/relay/pipe"
	"github.com/therealutkarshpriyadarshi/transcode/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/transcode/internal/session"
	"github.com/therealutkarshpriyadarshi/transcode/internal/streamrecord"
	"github.com/therealutkarshpriyadarshi/transcode/internal/testworker"
	"github.com/therealutkarshpriyadarshi/transcode/internal/tracing"
	"github.com/therealutkarshpriyadarshi/transcode/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logging.NewDefaultLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	logger := appLogger.Zerolog()
	logger.Info().Msg("relay server starting")

	middleware.SetJWTSecret(cfg.Server.JWTSecret)

	_, tracerCloser, err := tracing.InitTracer("relay-server", cfg.Server.JaegerEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled: failed to initialize jaeger tracer")
	} else {
		defer tracerCloser.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisCache.Close()

	streamRepo := streamrecord.NewRepository(db)
	cachedStreamRepo := streamrecord.NewCachedRepository(streamRepo, redisCache)

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatalf("failed to connect to queue: %v", err)
	}
	defer q.Close()
	if err := q.SetupDeadLetterQueue(); err != nil {
		logger.Warn().Err(err).Msg("failed to set up test job dead letter queue")
	}

	webhookSvc := webhook.NewService(repo)

	mgr := session.New(session.Config{
		TranscoderBinaryPath: cfg.Relay.TranscoderBinaryPath,
		MaxRecentBuffer:      cfg.Relay.MaxRecentBuffer,
		ChildShutdownGrace:   cfg.Relay.ChildShutdownGrace,
		MetricsInterval:      cfg.Relay.MetricsInterval,
		HeaderScanLimit:      cfg.Relay.HeaderScanLimit,
	}, logger, pipe.RealSpawner, cachedStreamRepo, webhookSvc)

	sched := scheduler.NewScheduler(q, 4)
	sched.Start()
	defer sched.Stop()
	mgr.SetTestDispatcher(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobSource, err := queue.NewChanJobSource(ctx, q, 32)
	if err != nil {
		log.Fatalf("failed to start test job consumer: %v", err)
	}

	testWorker := testworker.New(testworker.Config{
		BinaryPath:  cfg.Relay.TranscoderBinaryPath,
		Concurrency: 2,
		Completer:   sched,
	}, mgr, logger)
	go testWorker.Run(ctx, jobSource)

	go webhookSvc.RetryWorker(ctx)

	monitor := monitoring.NewMonitor(mgr, q)
	monitor.Start(ctx)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	router := setupRouter(mgr, monitor, repo)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting relay HTTP/WebSocket server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay server")
	cancel()
	mgr.ShutdownAllRooms()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server forced to shutdown")
	}

	logger.Info().Msg("relay server stopped")
}

func setupRouter(mgr *session.Manager, monitor *monitoring.Monitor, validator middleware.APIKeyValidator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": monitor.GetSystemHealth()})
	})

	rl := middleware.NewRateLimiter(20, 40)
	go rl.Cleanup()

	admin := router.Group("/admin", middleware.RateLimit(rl), middleware.APIKeyAuth(validator))
	admin.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"snapshot": monitor.GetSnapshot(),
			"alerts":   monitor.GetAlerts(),
			"workers":  monitor.GetWorkerHealth(),
		})
	})

	router.GET("/ws", gin.WrapF(mgr.ServeWS))

	return router
}
