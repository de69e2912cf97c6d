package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"factory-dashboard-backend/config"
	"factory-dashboard-backend/internal/api"
	"factory-dashboard-backend/internal/dashboard"
	"factory-dashboard-backend/internal/db"
	"factory-dashboard-backend/internal/ingest"
	"factory-dashboard-backend/internal/liveness"
	"factory-dashboard-backend/internal/logger"
	"factory-dashboard-backend/internal/metrics"
	"factory-dashboard-backend/internal/notification"
	"factory-dashboard-backend/internal/store"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "factory-dashboard")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(finish(log, run(cfg, log)))
}

// finish logs how the process ended and flushes the logger before the exit
// code is returned, since os.Exit skips deferred calls.
func finish(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("dashboard stopped with error", zap.Error(err))
		code = 1
	} else {
		log.Info("server gracefully stopped")
	}
	// stdout and stderr report EINVAL on Sync for terminals
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("configuration loaded",
		zap.String("timezone", cfg.Timezone),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("push", cfg.PushEnabled()),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
	)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	gormDB, err := db.Init(initCtx, &cfg.Database, cfg.Log.Level, log)
	cancelInit()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	appStore := store.NewGormStore(gormDB, cfg.Location)

	metrics.Register()

	hub := notification.NewHub(log)
	go hub.Run(ctx)
	sinks := notification.Fanout{notification.Instrument("websocket", hub)}

	var webpushOptions *webpush.Options
	if cfg.PushEnabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions,
			time.Duration(cfg.Push.CooldownSeconds)*time.Second, log)
		pool.Start(ctx)
		sinks = append(sinks, notification.Instrument("webpush", pool))
	} else {
		log.Warn("VAPID keys are not configured, browser push is disabled")
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Publishing retries per event, so a late Redis is tolerated.
			log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		sinks = append(sinks, notification.Instrument("redis", notification.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix)))
	}

	ingestSvc := ingest.NewService(appStore, sinks, cfg.Location, log)
	dashSvc := dashboard.NewService(appStore, dashboard.Options{
		Location: cfg.Location,
		Timeout:  cfg.Liveness.Timeout(),
		MaxRows:  cfg.Logs.MaxRows,
	}, log)

	evaluator := liveness.NewEvaluator(appStore, sinks, liveness.Options{
		Interval: cfg.Liveness.Interval(),
		Timeout:  cfg.Liveness.Timeout(),
		Grace:    cfg.Liveness.Grace(),
		Location: cfg.Location,
	}, log)
	if cfg.LivenessEnabled() {
		go evaluator.Run(ctx)
	} else {
		log.Info("periodic liveness evaluation is disabled")
	}

	if cfg.MQTT.Enabled {
		sub := ingest.NewMQTTSubscriber(cfg.MQTT, ingestSvc, log)
		if err := sub.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt subscriber: %w", err)
		}
		defer sub.Stop()
	}

	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Dashboard: dashSvc,
		Ingest:    ingestSvc,
		Liveness:  evaluator,
		Hub:       hub,
		WebPush:   webpushOptions,
		Logger:    log,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping services")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}
	return nil
}
