package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tripvote/internal/usertoken"
	"tripvote/internal/util"
	"tripvote/pkg/ai"
	"tripvote/pkg/hub"
	"tripvote/pkg/route"
	"tripvote/pkg/store"
	"tripvote/services/planner/internal/app"
	"tripvote/services/planner/internal/config"
	"tripvote/services/planner/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	var tokenVerifier *usertoken.Verifier
	if strings.TrimSpace(cfg.AuthJWKSURL) != "" {
		jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
		if err != nil {
			util.Fatal("failed to parse jwt leeway", "err", err)
		}
		tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:    cfg.AuthJWKSURL,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			Leeway:     jwtLeeway,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			util.Fatal("failed to init jwks verifier", "err", err)
		}
	} else {
		logger.Warn("no jwks url configured; only anonymous identities are accepted")
	}

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("no database url configured; rooms are kept in memory")
		dataStore = store.NewMemoryStore()
	}

	var transport hub.Transport
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisTransport, err := hub.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, cfg.HubChannelPrefix)
		if err != nil {
			util.Fatal("failed to init redis hub transport", "err", err)
		}
		defer redisTransport.Close()
		transport = redisTransport
	} else {
		logger.Warn("no redis addr configured; room events stay in this process")
		transport = hub.NewMemoryTransport()
	}
	roomHub := hub.New(transport, logger)

	catalog := route.DefaultCatalog()
	if path := strings.TrimSpace(cfg.FallbackCatalogPath); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			util.Fatal("failed to read fallback catalog", "path", path, "err", err)
		}
		if catalog, err = route.LoadCatalog(data); err != nil {
			util.Fatal("failed to parse fallback catalog", "path", path, "err", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Store:       dataStore,
		Hub:         roomHub,
		Logger:      logger,
		Provider: ai.ProviderConfig{
			Provider: cfg.GenerationProvider,
			BaseURL:  cfg.GenerationBaseURL,
			APIKey:   cfg.GenerationAPIKey,
			Model:    cfg.GenerationModel,
			Timeout:  cfg.StageTimeout(),
			JSONMode: true,
		},
		StageTimeout:           cfg.StageTimeout(),
		CandidateRoutes:        cfg.CandidateRoutes,
		JSONRetries:            cfg.JSONRetries,
		Catalog:                catalog,
		AssistantReplyDisabled: cfg.AssistantReplyDisabled,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              tokenVerifier,
		TrustedProxies:             trusted,
		CORSOrigins:                cfg.CORSOrigins,
		Logger:                     logger,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		ChatRateLimitPerMinute:     cfg.ChatRateLimitPerMinute,
		WSFramesPerSecond:          cfg.WSFramesPerSecond,
		WSFrameBurst:               cfg.WSFrameBurst,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}
	defer httpServer.Close()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("planner server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
