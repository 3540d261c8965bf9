package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/channel"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/database"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/handler"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/jobs"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/middleware"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/supervisor"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(context.Background(), cfg.EmbeddingDimensions)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Int("applied", applied).Msg("migrations up to date")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	turnRepo := repository.NewChatTurnRepository(db.DB)
	vectorIndex := repository.NewVectorIndex(db.DB)
	awayRepo := repository.NewAwaySessionRepository(db.DB)
	storyRepo := repository.NewStoryRepository(db.DB)
	duelRepo := repository.NewDuelRepository(db.DB)
	botRepo := repository.NewBotRegistrationRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	generator := llm.NewClient(llm.Config{
		APIKey:        cfg.LLMAPIKey,
		BaseURL:       cfg.LLMBaseURL,
		ChatModel:     cfg.ChatModel,
		CreativeModel: cfg.CreativeModel,
	})
	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		APIKey:     cfg.EmbeddingKey(),
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})

	var mailer service.Mailer = service.NoopMailer{}
	if cfg.MailEnabled() {
		mailer = service.NewSMTPMailer(service.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}

	var minter service.Minter
	if cfg.MintServiceURL != "" {
		minter = service.NewMintClient(cfg.MintServiceURL)
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	tokenIssuer := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL())

	profileService := service.NewProfileService(userRepo)
	authService := service.NewAuthService(userRepo, tokenIssuer, mailer, rateLimiter, service.AuthConfig{
		PublicBaseURL:            cfg.PublicBaseURL,
		RequireEmailVerification: cfg.RequireEmailVerification,
	})
	historyStore := service.NewHistoryStore(turnRepo, vectorIndex, embedder)
	contextBuilder := service.NewContextBuilder(profileService, historyStore)
	orchestrator := service.NewOrchestrator(profileService, contextBuilder, historyStore, generator)
	awayLedger := service.NewAwayLedger(awayRepo)
	presenceService := service.NewPresenceService(db, userRepo, awayRepo)
	summaryService := service.NewSummaryService(profileService, awayLedger, generator)
	shoppingService := service.NewShoppingService(profileService, generator, service.NewSerpAPIClient(cfg.SerpAPIURL, cfg.SerpAPIKey))
	storyService := service.NewStoryService(profileService, generator, storyRepo, minter)
	duelService := service.NewDuelService(db, duelRepo, profileService, broker)

	var tokenStore supervisor.TokenStore
	if cfg.EncryptionKey != "" {
		store, err := supervisor.NewEncryptedTokenStore(botRepo, cfg.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid encryption key")
		}
		tokenStore = store
	}
	botSupervisor := supervisor.New(supervisor.Deps{
		Connector: channel.NewMatrixConnector(cfg.MatrixHomeserver),
		Responder: orchestrator,
		Presence:  profileService,
		Ledger:    awayLedger,
		Publisher: broker,
		Tokens:    tokenStore,
	}, supervisor.Config{
		Tag:              model.ChannelMatrix,
		RepliesPerMinute: cfg.BotRepliesPerMinute,
	})
	presenceService.SetBotStopper(botSupervisor)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.ServerRequestTimeout)
	if err := botSupervisor.Restore(restoreCtx); err != nil {
		log.Error().Err(err).Msg("failed to restore bot listeners")
	}
	restoreCancel()

	authMiddleware := middleware.NewAuthMiddleware(tokenIssuer)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(rateLimiter, config.DefaultRateLimitPerMin)
	registerLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.RegisterLimitPerIP, config.RegisterLimitWindow, "register",
	)
	loginLimiter := middleware.NewLoginRateLimiter()
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	authHandler := handler.NewAuthHandler(authService, loginLimiter.Handler, registerLimitMiddleware.Handler)
	profileHandler := handler.NewProfileHandler(profileService, presenceService, awayLedger, summaryService)
	chatHandler := handler.NewChatHandler(orchestrator, historyStore)
	botHandler := handler.NewBotHandler(botSupervisor)
	premiumHandler := handler.NewPremiumHandler(shoppingService, storyService)
	duelHandler := handler.NewDuelHandler(duelService, broker)
	eventsHandler := handler.NewEventsHandler(broker, botSupervisor)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
			"bots":      len(botSupervisor.Managed()),
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", authHandler.Routes())
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			profileHandler.RegisterRoutes(r)
			chatHandler.RegisterRoutes(r)
			botHandler.RegisterRoutes(r)
			premiumHandler.RegisterRoutes(r)
			duelHandler.RegisterRoutes(r)
		})

		// Long-lived responses.
		r.Group(func(r chi.Router) {
			r.Post("/chat", chatHandler.Chat)
			r.Get("/events", eventsHandler.ServeHTTP)
			r.Get("/duels/{id}/ws", duelHandler.WinnerFeed)
		})
	})

	cleanupJob := jobs.NewCleanupJob(map[string]jobs.Sweeper{
		"verification tokens": userRepo.ClearExpiredVerificationTokens,
	}, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	watchdogJob := jobs.NewWatchdogJob(botSupervisor, cfg.WatchdogInterval())
	watchdogJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop the watchdog before halting listeners.
	watchdogJob.Stop()
	botSupervisor.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
