package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"keygate/internal/api"
	"keygate/internal/api/handlers"
	"keygate/internal/api/middleware"
	"keygate/internal/engine/license"
	"keygate/internal/pkg/logger"
	"keygate/internal/platform/audit"
	"keygate/internal/platform/auth"
	"keygate/internal/platform/config"
	"keygate/internal/platform/database"
	"keygate/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	tokenSvc, err := auth.NewTokenService(cfg.JWT)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing keys")
	}

	// Repositories
	licenseRepo := repositories.NewLicenseRepository(db)
	activationRepo := repositories.NewActivationRepository(db)
	adminKeyRepo := repositories.NewAdminKeyRepository(db)

	// Services
	licenseSvc := license.NewService(licenseRepo, activationRepo, tokenSvc, cfg.License, cfg.JWT)
	auditLogger := audit.NewLogger(db)

	// Handlers
	licenseHandler := handlers.NewLicenseHandler(licenseSvc)
	adminHandler := handlers.NewAdminHandler(licenseSvc, auditLogger)
	adminKeyHandler := handlers.NewAdminKeyHandler(adminKeyRepo)
	jwksHandler := handlers.NewJWKSHandler(tokenSvc)
	healthHandler := handlers.NewHealthHandler(db)

	// Middleware
	adminAuth := middleware.NewAdminAuthMiddleware(adminKeyRepo, cfg.Admin.RootTokenHash)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)

	router := api.NewRouter(&api.Dependencies{
		LicenseHandler:  licenseHandler,
		AdminHandler:    adminHandler,
		AdminKeyHandler: adminKeyHandler,
		JWKSHandler:     jwksHandler,
		HealthHandler:   healthHandler,
		AdminAuth:       adminAuth,
		RateLimiter:     rateLimiter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info().Str("addr", addr).Msg("server starting")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
