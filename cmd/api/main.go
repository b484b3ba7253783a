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

	"github.com/jmoiron/sqlx"

	"github.com/caretide/priorauth/internal/adapters/cache"
	"github.com/caretide/priorauth/internal/adapters/database"
	"github.com/caretide/priorauth/internal/adapters/events"
	"github.com/caretide/priorauth/internal/adapters/providers/codeauthority"
	"github.com/caretide/priorauth/internal/adapters/search"
	"github.com/caretide/priorauth/internal/api/handlers"
	"github.com/caretide/priorauth/internal/api/middleware"
	"github.com/caretide/priorauth/internal/api/routes"
	"github.com/caretide/priorauth/internal/application/services"
	"github.com/caretide/priorauth/internal/domain/providers"
	"github.com/caretide/priorauth/internal/domain/repositories"
	"github.com/caretide/priorauth/internal/infrastructure/clients/openai"
	"github.com/caretide/priorauth/internal/infrastructure/clients/postgres"
	"github.com/caretide/priorauth/internal/infrastructure/clients/redis"
	"github.com/caretide/priorauth/internal/infrastructure/clients/typesense"
	"github.com/caretide/priorauth/internal/infrastructure/notifications"
	"github.com/caretide/priorauth/internal/infrastructure/observability"
	queryservices "github.com/caretide/priorauth/internal/query/services"
	"github.com/caretide/priorauth/pkg/config"
	"github.com/caretide/priorauth/pkg/secrets"
)

func main() {
	// Pull secrets into the environment before the config loader reads it
	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if vaultCfg.Enabled {
		vaultCtx, vaultCancel := context.WithTimeout(context.Background(), vaultCfg.Timeout)
		result, err := secrets.ApplyVaultSecrets(vaultCtx, vaultCfg)
		vaultCancel()
		if err != nil {
			log.Printf("Warning: Failed to load Vault secrets: %v", err)
		} else if result.Enabled {
			log.Printf("Vault secrets loaded from %s (%d loaded, %d skipped)", result.Path, result.Loaded, result.Skipped)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, os.Getenv("APP_ENV"))

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	var shutdown func(context.Context) error
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err = observability.Setup(
			ctx,
			cfg.OTEL.ServiceName,
			cfg.OTEL.ServiceVersion,
			cfg.OTEL.Endpoint,
		)
		if err != nil {
			log.Printf("Warning: Failed to set up OpenTelemetry: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Printf("Error shutting down OpenTelemetry: %v", err)
				}
			}()
			log.Println("OpenTelemetry initialized successfully")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Initialize database client
	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL client: %v", err)
	}
	defer pgClient.Close()
	log.Println("PostgreSQL client initialized successfully")

	// Initialize Redis client
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to initialize Redis client: %v", err)
		// Continue without Redis - caching and event streaming degrade gracefully
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis client initialized successfully")
	}

	// Initialize Typesense client
	typesenseClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		log.Printf("Warning: Failed to initialize Typesense client: %v", err)
		typesenseClient = nil
	} else {
		log.Println("Typesense client initialized successfully")
	}

	var cacheProvider providers.CacheProvider
	if redisClient != nil {
		cacheProvider = cache.NewRedisAdapter(redisClient)
	}

	// Initialize event bus for real-time case updates
	var eventBus providers.EventBus
	if redisClient != nil {
		eventBus = events.NewRedisEventBus(redisClient)
		log.Println("Event bus initialized successfully")
	} else {
		log.Println("Event bus disabled (Redis not available)")
	}

	// Initialize adapters
	caseAdapter := database.NewCaseAdapter(pgClient)
	documentAdapter := database.NewDocumentAdapter(pgClient)

	var searchRepo repositories.CaseSearchRepository
	if typesenseClient != nil {
		adapter := search.NewTypesenseAdapter(typesenseClient)
		if err := adapter.InitSchema(context.Background()); err != nil {
			log.Printf("Warning: Failed to init Typesense schema: %v", err)
		}
		searchRepo = adapter
	}

	codeAuthority := codeauthority.NewNIHClientWithOptions(
		cfg.CodeAuthority.BaseURL,
		cacheProvider,
		&http.Client{Timeout: cfg.CodeAuthority.Timeout},
	)

	// Initialize the reasoning client; the engine cannot run without it
	if cfg.Reasoning.APIKey == "" {
		log.Fatal("OPENAI_API_KEY is not set")
	}
	reasoningClient, err := openai.NewClient(&cfg.Reasoning)
	if err != nil {
		log.Fatalf("Failed to initialize reasoning client: %v", err)
	}

	// Initialize services
	var notifier services.DecisionNotifier
	sqlxDB := sqlx.NewDb(pgClient.DB(), "postgres")
	if cfg.Notifications.WebhookURL != "" {
		sender, err := notifications.NewWebhookSender(cfg.Notifications.WebhookURL)
		if err != nil {
			log.Fatalf("Failed to initialize webhook sender: %v", err)
		}
		notifier = services.NewNotificationService(sqlxDB, sender)
		log.Println("Decision webhook notifications enabled")
	} else {
		notifier = services.NewNotificationService(sqlxDB, nil)
		log.Println("Decision notifications recorded without webhook delivery")
	}

	validationStage := services.NewValidationStage(codeAuthority, reasoningClient)
	evidenceStage := services.NewEvidenceStage(documentAdapter)
	payerStage := services.NewPayerStage(reasoningClient)

	orchestrationService := services.NewOrchestrationService(
		caseAdapter,
		validationStage,
		evidenceStage,
		payerStage,
		reasoningClient,
		eventBus,
		searchRepo,
		notifier,
		cfg.Orchestrator.StageTimeout,
		cfg.Orchestrator.PlannerMaxRounds,
	)

	caseQueryService := queryservices.NewCaseQueryService(caseAdapter, searchRepo, cacheProvider)
	toolRegistry := services.NewToolRegistry(caseQueryService)
	assistantService := services.NewAssistantService(reasoningClient, toolRegistry, cfg.Assistant.MaxToolRounds)

	// Initialize handlers
	caseHandler := handlers.NewCaseHandler(caseQueryService)
	orchestrationHandler := handlers.NewOrchestrationHandler(orchestrationService)
	assistantHandler := handlers.NewAssistantHandler(assistantService)

	var sseHandler *handlers.SSEHandler
	if eventBus != nil {
		sseHandler = handlers.NewSSEHandler(eventBus)
	}

	// Initialize cache middleware
	var cacheMiddleware *middleware.CacheMiddleware
	if cacheProvider != nil {
		cacheMiddleware = middleware.NewCacheMiddleware(cacheProvider)
		log.Println("Cache middleware initialized successfully")
	}

	// Set up router
	router := routes.NewRouter(
		caseHandler,
		orchestrationHandler,
		assistantHandler,
		sseHandler,
		cacheMiddleware,
		metrics,
	)
	handler := router.SetupRoutes()

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Write timeout must outlast long orchestration runs and SSE streams
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	// Close event bus
	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Printf("Error closing event bus: %v", err)
		}
	}

	log.Println("Server stopped")
}
