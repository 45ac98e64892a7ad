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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/librify/librify-api/api/swagger"
	"github.com/librify/librify-api/internal/handler"
	"github.com/librify/librify-api/internal/middleware"
	"github.com/librify/librify-api/internal/models"
	"github.com/librify/librify-api/internal/repository"
	"github.com/librify/librify-api/internal/service"
	"github.com/librify/librify-api/pkg/cache"
	"github.com/librify/librify-api/pkg/config"
	"github.com/librify/librify-api/pkg/database"
	"github.com/librify/librify-api/pkg/export"
	"github.com/librify/librify-api/pkg/jobs"
	"github.com/librify/librify-api/pkg/logger"
	corsmiddleware "github.com/librify/librify-api/pkg/middleware/cors"
	reqidmiddleware "github.com/librify/librify-api/pkg/middleware/requestid"
	"github.com/librify/librify-api/pkg/storage"
)

// @title Librify API
// @version 1.0.0
// @description Library attendance, membership and fee management
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	location, err := time.LoadLocation(cfg.Attendance.Timezone)
	if err != nil {
		logr.Warn("invalid attendance timezone, falling back to UTC", zap.String("timezone", cfg.Attendance.Timezone))
		location = time.UTC
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.DefaultTTL, logr, true)
		}
	}

	accountRepo := repository.NewAccountRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)

	feePolicy := service.FeePolicy{StrictSplit: cfg.Fees.StrictSplit}

	authSvc := service.NewAuthService(accountRepo, validate, logr, service.AuthConfig{
		TokenSecret: cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.Expiration,
		Issuer:      cfg.JWT.Issuer,
	})
	attendanceSvc := service.NewAttendanceService(attendanceRepo, studentRepo, cacheSvc, metrics, validate, logr, service.AttendanceServiceConfig{
		Location:       location,
		StatusCacheTTL: cfg.Attendance.StatusCacheTTL,
		SoonWindowDays: cfg.Membership.ExpiringSoonDays,
	})
	membershipSvc := service.NewMembershipService(membershipRepo, studentRepo, metrics, validate, logr, service.MembershipServiceConfig{
		DefaultSoonDays:       cfg.Membership.ExpiringSoonDays,
		AutoProvisionAccounts: cfg.Membership.AutoProvisionAccounts,
		FeePolicy:             feePolicy,
	})
	studentSvc := service.NewStudentService(studentRepo, accountRepo, metrics, validate, logr, service.StudentServiceConfig{
		DefaultSoonDays:       cfg.Membership.ExpiringSoonDays,
		AutoProvisionAccounts: cfg.Membership.AutoProvisionAccounts,
		FeePolicy:             feePolicy,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	membershipHandler := handler.NewMembershipHandler(membershipSvc)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.GET("/auth/me", authHandler.Me)

	admin := middleware.RequireRoles(models.RoleOwner, models.RoleStaff)
	adminOrSelf := middleware.RBAC(string(models.RoleOwner), string(models.RoleStaff), "SELF")

	authed.POST("/students", admin, studentHandler.Admit)
	authed.GET("/students", admin, studentHandler.List)
	authed.GET("/students/:id", adminOrSelf, studentHandler.Get)
	authed.PATCH("/students/:id/active", admin, studentHandler.SetActive)

	authed.GET("/students/:id/attendance/status", adminOrSelf, attendanceHandler.Status)
	authed.POST("/students/:id/attendance/toggle", adminOrSelf, attendanceHandler.Toggle)
	authed.POST("/students/:id/attendance/qr", adminOrSelf, attendanceHandler.MarkWithQR)
	authed.POST("/students/:id/attendance/manual", admin, attendanceHandler.RecordManual)
	authed.GET("/students/:id/attendance/daily", adminOrSelf, attendanceHandler.DailyHistory)
	authed.GET("/students/:id/attendance/monthly", adminOrSelf, attendanceHandler.MonthlyHistory)
	authed.GET("/attendance", admin, attendanceHandler.OrgAttendance)

	authed.GET("/students/:id/membership", adminOrSelf, membershipHandler.Status)
	authed.GET("/students/:id/membership/history", adminOrSelf, membershipHandler.History)
	authed.POST("/students/:id/membership/renew", admin, membershipHandler.Renew)
	authed.GET("/memberships/expiring", admin, membershipHandler.Expiring)

	if cfg.Reports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init report storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportRepo := repository.NewReportRepository(db)
		exportSvc := service.NewExportService(attendanceRepo, studentRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Reports.SignedURLTTL,
			Location:  location,
			SoonDays:  cfg.Membership.ExpiringSoonDays,
		}, logr, export.NewCSVExporter(), export.NewPDFExporter())

		worker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		reportSvc := service.NewReportService(reportRepo, queue, exportSvc, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)

		reportHandler := handler.NewReportHandler(reportSvc)
		authed.POST("/reports/generate", admin, reportHandler.Generate)
		authed.GET("/reports/status/:id", admin, reportHandler.Status)
		api.GET("/reports/export/:token", reportHandler.Download)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
