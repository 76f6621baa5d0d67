// Package main runs the events platform HTTP API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deevents/backend/config"
	"github.com/deevents/backend/internal/auth"
	"github.com/deevents/backend/internal/countries"
	"github.com/deevents/backend/internal/kyc"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/middleware"
	"github.com/deevents/backend/internal/organizations"
	"github.com/deevents/backend/internal/payments"
	"github.com/deevents/backend/internal/payments/mpesa"
	"github.com/deevents/backend/pkg/database"
	"github.com/deevents/backend/pkg/redis"
	"github.com/deevents/backend/pkg/response"
	"github.com/deevents/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(),
		database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	blobs, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		KYCBucket:            cfg.AWS.KYCBucket,
		MediaBucket:          cfg.AWS.MediaBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	m := metrics.New()
	txRunner := database.NewTxRunner(pool)
	sessions := auth.NewSessionIssuer(cfg.JWT.Secret,
		time.Duration(cfg.JWT.AccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWT.RefreshTTLHours)*time.Hour,
		rdb)

	// Reference data
	countrySvc := countries.NewService(countries.NewRepository(pool), cfg.Platform.DefaultCountry, logger)

	// Organizations
	orgSvc := organizations.NewService(txRunner, organizations.NewRepository(pool), m, logger, cfg.Platform.PhoneCountryCode)
	orgHandler := organizations.NewHandler(orgSvc)

	// KYC
	userRepo := auth.NewRepository(pool)
	kycSvc := kyc.NewService(kyc.Deps{
		Tx:        txRunner,
		Store:     kyc.NewRepository(pool),
		Users:     userRepo,
		Countries: countrySvc,
		Blobs:     blobs,
		Metrics:   m,
		Logger:    logger,
	})
	kycHandler := kyc.NewHandler(kycSvc)

	// Identity
	authSvc := auth.NewService(auth.Deps{
		Tx:             txRunner,
		Users:          userRepo,
		Orgs:           orgSvc,
		KYC:            kycSvc,
		Resets:         rdb,
		Blobs:          blobs,
		Metrics:        m,
		Logger:         logger,
		CountryCode:    cfg.Platform.PhoneCountryCode,
		DefaultCountry: cfg.Platform.DefaultCountry,
	})
	authHandler := auth.NewHandler(authSvc, sessions, logger)

	// Payments
	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:            cfg.Mpesa.BaseURL(),
		ConsumerKey:        cfg.Mpesa.ConsumerKey,
		ConsumerSecret:     cfg.Mpesa.ConsumerSecret,
		ShortCode:          cfg.Mpesa.ShortCode,
		Passkey:            cfg.Mpesa.Passkey,
		CallbackURL:        cfg.Mpesa.CallbackURL,
		InitiatorName:      cfg.Mpesa.InitiatorName,
		SecurityCredential: cfg.Mpesa.SecurityCredential,
		ResultURL:          cfg.Mpesa.ResultURL,
		TimeoutURL:         cfg.Mpesa.TimeoutURL,
		CountryCode:        cfg.Platform.PhoneCountryCode,
		Timeout:            time.Duration(cfg.Mpesa.HTTPTimeoutSec) * time.Second,
	}, m, logger)
	paymentSvc := payments.NewService(payments.Deps{
		Gateway:        gateway,
		Idempotency:    rdb,
		Countries:      countrySvc,
		Users:          userRepo,
		KYC:            kycSvc,
		DefaultCountry: cfg.Platform.DefaultCountry,
		Logger:         logger,
	})
	paymentHandler := payments.NewHandler(paymentSvc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/password-reset", authHandler.RequestPasswordReset)
		authGroup.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)
	}
	router.POST("/payments/quote", paymentHandler.Quote)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(sessions))
	{
		api.GET("/auth/profile", authHandler.Profile)
		api.PATCH("/auth/profile", authHandler.UpdateProfile)
		api.POST("/auth/profile/avatar", authHandler.UploadAvatar)
		api.POST("/auth/change-password", authHandler.ChangePassword)

		api.POST("/kyc/submit", kycHandler.Submit)
		api.GET("/kyc/status", kycHandler.Status)

		api.GET("/organizations", orgHandler.ListMine)
		api.POST("/organizations", orgHandler.Create)
		org := api.Group("/organizations/:id", organizations.RequireAccess(orgSvc))
		{
			org.GET("", orgHandler.Get)
			org.PATCH("", orgHandler.Update)
			org.DELETE("", orgHandler.Delete)
			org.GET("/members", orgHandler.Members)
			org.GET("/my-role", orgHandler.MyRole)
			org.POST("/invite", orgHandler.Invite)
			org.POST("/members/role", orgHandler.ChangeRole)
			org.POST("/members/remove", orgHandler.RemoveMember)
			org.POST("/request-verification", orgHandler.RequestVerification)
		}

		api.POST("/payments/checkout", paymentHandler.Checkout)
	}

	// Platform staff
	admin := router.Group("/admin", middleware.JWT(sessions), middleware.RequireStaff())
	{
		admin.GET("/users", authHandler.List)
		admin.GET("/kyc", kycHandler.List)
		admin.GET("/kyc/:id", kycHandler.Documents)
		admin.POST("/kyc/:id/review", kycHandler.Review)
		admin.GET("/organizations", orgHandler.AdminList)
		admin.POST("/organizations/:id/approve", orgHandler.Approve)
		admin.POST("/organizations/:id/suspend", orgHandler.Suspend)
		admin.POST("/organizations/:id/activate", orgHandler.Activate)
		admin.POST("/payouts", paymentHandler.Payout)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
