package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/events"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/handler"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/service"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"github.com/bitfantasy/nimo-inspection/internal/config"
	"github.com/bitfantasy/nimo-inspection/internal/middleware"
	"github.com/bitfantasy/nimo-inspection/internal/storage"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// SupervisorRole may author templates and register machines.
const SupervisorRole = "supervisor"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, zapLogger, err := bootstrap()
			if err != nil {
				return err
			}
			defer zapLogger.Sync()
			return serve(cfg, zapLogger)
		},
	}
}

func serve(cfg *config.Config, zapLogger *zap.Logger) error {
	zapLogger.Info("Starting nimo-inspection service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)
	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	gin.SetMode(cfg.Server.Mode)

	db, err := initDatabase(cfg.Database, cfg.Server.Mode)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := sse.NewHub(zapLogger)
	svc := service.NewServices(repository.NewRepositories(db), zapLogger, service.Options{
		DueSoonDays:     cfg.Checklist.DueSoonThresholdDays,
		SingleActiveRun: cfg.Checklist.SingleActiveRunPerMachine,
		PhotoURLExpiry:  cfg.MinIO.URLExpiry,
	})

	// 多实例部署时通过 Redis 转发事件，否则直接推送到本机 SSE
	var bus *events.RedisBus
	if cfg.Redis.Enabled() {
		rdb := initRedis(cfg.Redis)
		defer rdb.Close()
		bus = events.NewRedisBus(rdb, cfg.Redis.Channel, zapLogger)
		svc.SetPublisher(bus)
	} else {
		zapLogger.Info("Redis not configured, events stay on this instance")
		svc.SetPublisher(events.NewHubPublisher(hub))
	}

	if cfg.MinIO.Enabled() {
		store, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = store.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			zapLogger.Warn("Photo bucket not ready", zap.String("bucket", cfg.MinIO.Bucket), zap.Error(err))
		}
		svc.SetObjectStore(store)
	} else {
		zapLogger.Info("MinIO not configured, photo uploads disabled")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	// SSE 流不压缩
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/sse"})))

	registerRoutes(router, handler.NewHandlers(svc, hub, zapLogger), cfg, db, bus)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	if bus != nil {
		g.Go(func() error {
			return runRelay(gctx, bus, hub, zapLogger, 5*time.Second)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	zapLogger.Info("Server exited")
	return nil
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config, db *gorm.DB, bus *events.RedisBus) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok"}
		ready := true
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			ready = false
		}
		if bus != nil {
			checks["redis"] = "ok"
			if err := bus.Ping(ctx); err != nil {
				checks["redis"] = "unavailable"
				ready = false
			}
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	api := r.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret))
	h.RegisterRoutes(api, middleware.RequireRole(SupervisorRole))
}
