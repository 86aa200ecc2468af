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

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"flowcrm/internal/caching"
	"flowcrm/internal/config"
	"flowcrm/internal/handlers"
	"flowcrm/internal/jobs/background"
	"flowcrm/internal/middleware"
	"flowcrm/internal/repositories"
	"flowcrm/internal/services"
	"flowcrm/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	cacheService := caching.NewRedisCacheService(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	tenantRepo := repositories.NewTenantRepo(pool)
	sessionRepo := repositories.NewSessionRepo(pool)
	verificationRepo := repositories.NewVerificationTokenRepo(pool)

	// Services
	tokenService := services.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	fingerprintService := services.NewFingerprintService()

	var mailer services.Mailer
	if cfg.SMTPHost != "" {
		mailer = services.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
	} else {
		log.Println("SMTP_HOST not set, outgoing mail will be logged instead")
		mailer = services.NewLogMailer()
	}

	authService := services.NewAuthService(userRepo, tenantRepo, sessionRepo, verificationRepo,
		tokenService, fingerprintService, cacheService, mailer, cfg.BcryptCost, cfg.BaseURL)

	// Handlers
	authHandlers := handlers.NewAuthHandlers(authService, cfg.RefreshTokenTTL, cfg.IsProduction())
	sessionHandlers := handlers.NewSessionHandlers(authService, cfg.IsProduction())
	healthHandlers := handlers.NewHealthHandlers(pool)

	// Background jobs
	scheduler := background.NewJobScheduler(sessionRepo, verificationRepo)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer func() {
		if err := scheduler.Stop(); err != nil {
			log.Printf("Job scheduler shutdown error: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:     []string{cfg.BaseURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowCredentials: true,
	}))

	requireAuth := middleware.RequireAccessToken(tokenService, userRepo)

	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)

	auth := e.Group("/api/auth")
	auth.POST("/register", authHandlers.Register)
	auth.POST("/login", authHandlers.Login)
	auth.POST("/refresh", authHandlers.Refresh)
	auth.GET("/verify-email", authHandlers.VerifyEmail)
	auth.POST("/resend-verification", authHandlers.ResendVerification)

	auth.POST("/logout", sessionHandlers.Logout, requireAuth)
	auth.POST("/logout-all", sessionHandlers.LogoutAll, requireAuth)
	auth.GET("/sessions", sessionHandlers.ListSessions, requireAuth)
	auth.DELETE("/sessions", sessionHandlers.LogoutOthers, requireAuth)
	auth.DELETE("/sessions/:id", sessionHandlers.DeleteSession, requireAuth)
	auth.PUT("/change-password", authHandlers.ChangePassword, requireAuth)
	auth.POST("/2fa/setup", authHandlers.SetupTwoFactor, requireAuth)
	auth.POST("/2fa/enable", authHandlers.EnableTwoFactor, requireAuth)
	auth.POST("/2fa/disable", authHandlers.DisableTwoFactor, requireAuth)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
