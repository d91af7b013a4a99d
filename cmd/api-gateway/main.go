package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/taskdesk/taskdesk-api/api/swagger"
	"github.com/taskdesk/taskdesk-api/internal/handler"
	"github.com/taskdesk/taskdesk-api/internal/middleware"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/repository"
	"github.com/taskdesk/taskdesk-api/internal/service"
	"github.com/taskdesk/taskdesk-api/pkg/cache"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	"github.com/taskdesk/taskdesk-api/pkg/database"
	"github.com/taskdesk/taskdesk-api/pkg/logger"
	corsmiddleware "github.com/taskdesk/taskdesk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/taskdesk/taskdesk-api/pkg/middleware/requestid"
)

// @title TaskDesk API
// @version 1.0.0
// @description Task assignment workflow engine: assignment lifecycle, evidence checklists, final-report review, audit trail
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	var cacheService *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, dashboard cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheService = service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled)
	}

	assignmentRepo := repository.NewAssignmentRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	reportRepo := repository.NewFinalReportRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	var notifier service.Notifier = service.NopNotifier{}
	var notifications *service.NotificationService
	if cfg.Notifications.Enabled {
		notifications = service.NewNotificationService(cfg.Notifications, logr)
		notifications.Start(ctx)
		defer notifications.Stop()
		notifier = notifications
	}

	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "taskdesk-api",
	})
	userService := service.NewUserService(userRepo, logr)

	progress := service.NewProgressCalculator(cfg.Workflow)
	assignmentService := service.NewAssignmentService(assignmentRepo, activityRepo, reportRepo, userRepo, progress, notifier, nil, logr)
	activityService := service.NewActivityService(activityRepo, assignmentRepo, reportRepo, progress, notifier, nil, logr)
	overdueService := service.NewOverdueService(assignmentRepo, auditRepo, cfg.Workflow, notifier, logr)
	dashboardService := service.NewDashboardService(assignmentRepo, cacheService, metrics, cfg.Workflow, cfg.Dashboard, logr)

	auditService, err := service.NewAuditService(auditRepo, cfg.AuditExports, logr)
	if err != nil {
		logr.Sugar().Fatalw("audit export storage failed", "error", err)
	}
	evidenceService, err := service.NewEvidenceService(cfg.Evidence, logr)
	if err != nil {
		logr.Sugar().Fatalw("evidence storage failed", "error", err)
	}

	overdueService.Start(ctx)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	assignmentHandler := handler.NewAssignmentHandler(assignmentService, overdueService, dashboardService, metrics)
	activityHandler := handler.NewActivityHandler(activityService, evidenceService, dashboardService, metrics)
	auditHandler := handler.NewAuditHandler(auditService)
	dashboardHandler := handler.NewDashboardHandler(dashboardService, metrics)
	evidenceHandler := handler.NewEvidenceHandler(evidenceService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authService), authHandler.Me)

	secured := api.Group("")
	secured.Use(middleware.JWT(authService))

	managers := middleware.RequireRoles(models.RoleAdmin, models.RoleManager)
	admins := middleware.RequireRoles(models.RoleAdmin)
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleManager, models.RoleEmployee)

	secured.GET("/users", managers, userHandler.List)
	secured.GET("/users/:id", anyRole, userHandler.Get)

	assignments := secured.Group("/assignments")
	assignments.POST("", managers, assignmentHandler.Create)
	assignments.GET("", anyRole, assignmentHandler.List)
	assignments.POST("/sweep-overdue", admins, assignmentHandler.SweepOverdue)
	assignments.GET("/:id", anyRole, assignmentHandler.Get)
	assignments.PUT("/:id", managers, assignmentHandler.Update)
	assignments.DELETE("/:id", admins, assignmentHandler.Delete)
	assignments.PATCH("/:id/progress", anyRole, assignmentHandler.UpdateProgress)
	assignments.POST("/:id/final-report", anyRole, assignmentHandler.SubmitFinalReport)
	assignments.POST("/:id/approve", managers, assignmentHandler.Approve)
	assignments.POST("/:id/reject", managers, assignmentHandler.Reject)
	assignments.POST("/:id/reopen", managers, assignmentHandler.Reopen)
	assignments.GET("/:id/audit", anyRole, auditHandler.ListByAssignment)

	assignments.POST("/:id/activities", anyRole, activityHandler.Create)
	assignments.PUT("/:id/activities/:activityId", anyRole, activityHandler.Update)
	assignments.POST("/:id/activities/:activityId/evidence", anyRole, activityHandler.SubmitEvidence)
	assignments.POST("/:id/activities/:activityId/complete", anyRole, activityHandler.Complete)
	assignments.POST("/:id/activities/:activityId/reopen", anyRole, activityHandler.Reopen)

	secured.GET("/evidence/:token", anyRole, evidenceHandler.Download)

	secured.GET("/audit", managers, auditHandler.List)
	secured.GET("/audit/export", managers, auditHandler.Export)
	secured.GET("/audit/export/download", managers, auditHandler.Download)

	secured.GET("/dashboard/workflow", anyRole, dashboardHandler.Workflow)

	secured.GET("/metrics/summary", admins, metricsHandler.Summary)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
