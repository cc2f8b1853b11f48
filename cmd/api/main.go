package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/luminalearn/coursepay-api/api/swagger"
	"github.com/luminalearn/coursepay-api/internal/gateway"
	"github.com/luminalearn/coursepay-api/internal/handler"
	"github.com/luminalearn/coursepay-api/internal/middleware"
	"github.com/luminalearn/coursepay-api/internal/models"
	"github.com/luminalearn/coursepay-api/internal/notify"
	"github.com/luminalearn/coursepay-api/internal/repository"
	"github.com/luminalearn/coursepay-api/internal/service"
	"github.com/luminalearn/coursepay-api/pkg/cache"
	"github.com/luminalearn/coursepay-api/pkg/config"
	"github.com/luminalearn/coursepay-api/pkg/database"
	"github.com/luminalearn/coursepay-api/pkg/logger"
	corsmiddleware "github.com/luminalearn/coursepay-api/pkg/middleware/cors"
	reqidmiddleware "github.com/luminalearn/coursepay-api/pkg/middleware/requestid"
)

// @title CoursePay API
// @version 1.0.0
// @description Payment orchestration for paid course enrollments
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, verify cache disabled", "error", err)
		redisClient = nil
	}

	paymentRepo := repository.NewPaymentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	gatewayClient := gateway.NewHTTPClient(cfg.Gateway, logr)
	notifier := notify.NewHTTPNotifier(cfg.Notifier, logr)
	dispatcher := notify.NewDispatcher(notifier, cfg.Notifier, logr)
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	validate := validator.New()
	metricsService := service.NewMetricsService()

	paymentService := service.NewPaymentService(paymentRepo, enrollmentRepo, courseRepo, userRepo, gatewayClient, cacheRepo, metricsService, service.PaymentConfig{
		Currency:       cfg.Payments.Currency,
		CallbackURL:    cfg.Gateway.CallbackURL,
		VerifyCacheTTL: cfg.Payments.VerifyCacheTTL,
	}, validate, logr)

	adminService := service.NewAdminPaymentService(paymentRepo, enrollmentRepo, courseRepo, userRepo, auditRepo, paymentService, dispatcher, nil, nil, service.AdminPaymentConfig{
		Currency:      cfg.Payments.Currency,
		ReceiptPrefix: cfg.Payments.ReceiptPrefix,
	}, validate, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "coursepay-api",
	})

	paymentHandler := handler.NewPaymentHandler(paymentService)
	adminHandler := handler.NewAdminPaymentHandler(adminService)
	authHandler := handler.NewAuthHandler(authService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

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

	r.POST("/auth/login", authHandler.Login)
	r.POST("/webhooks/gateway", paymentHandler.Webhook)

	payments := r.Group("/payments", middleware.JWT(authService))
	{
		payments.POST("/initiate", paymentHandler.Initiate)
		payments.GET("/verify/:reference", paymentHandler.Verify)
		payments.POST("/retry", paymentHandler.Retry)
		payments.GET("/enrollment/:id", paymentHandler.History)
	}

	admin := r.Group("/admin", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		admin.GET("/transactions", adminHandler.List)
		admin.GET("/transactions/summary", adminHandler.Summary)
		admin.GET("/transactions/export", adminHandler.Export)
		admin.GET("/transactions/:id", adminHandler.Detail)
		admin.POST("/transactions/:id/resolve", adminHandler.Resolve)
		admin.POST("/payments/manual", adminHandler.ManualPayment)
		admin.POST("/payments/split", adminHandler.ConfigureSplit)
		admin.POST("/payments/split/record", adminHandler.RecordSplit)
		admin.GET("/payments/split/:id", adminHandler.SplitState)
		admin.POST("/payments/reminders/:id", adminHandler.Reminder)
		admin.POST("/enrollments/:id/cancel", adminHandler.CancelEnrollment)
		admin.GET("/payments/:id/receipt", adminHandler.Receipt)
		admin.POST("/payments/:id/receipt/email", adminHandler.EmailReceipt)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
