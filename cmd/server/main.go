package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rrens/insights-gateway/internal/api"
	"github.com/Rrens/insights-gateway/internal/api/handler"
	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/domain"
	"github.com/Rrens/insights-gateway/internal/llm"
	"github.com/Rrens/insights-gateway/internal/llm/factory"
	"github.com/Rrens/insights-gateway/internal/logging"
	"github.com/Rrens/insights-gateway/internal/repository/mongo"
	"github.com/Rrens/insights-gateway/internal/repository/postgres"
	"github.com/Rrens/insights-gateway/internal/repository/redis"
	"github.com/Rrens/insights-gateway/internal/security"
	"github.com/Rrens/insights-gateway/internal/service"
	"github.com/Rrens/insights-gateway/internal/warehouse"
	"github.com/Rrens/insights-gateway/internal/warehouse/bigquery"
	"github.com/Rrens/insights-gateway/internal/warehouse/mysql"
	warehousePostgres "github.com/Rrens/insights-gateway/internal/warehouse/postgres"
	"github.com/Rrens/insights-gateway/internal/warehouse/sqlite"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file - try multiple locations
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	defer logCloser.Close()

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("warehouse", cfg.Warehouse.Engine).
		Str("knowledge_base", cfg.KnowledgeBase.Backend).
		Msg("Starting insights gateway")

	ctx := context.Background()
	var readyChecks []handler.Check

	// Knowledge base
	kb, closeKB, kbPing, err := openKnowledgeBase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open knowledge base")
	}
	defer closeKB()
	readyChecks = append(readyChecks, handler.Check{Name: "knowledge_base", Ping: kbPing})

	// Redis
	deps := api.Deps{}
	var schemaCache service.SchemaCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		cache := redis.NewSchemaCache(redisClient, cfg.Redis.SchemaCacheTTL)
		schemaCache = cache
		deps.SchemaCache = cache
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		readyChecks = append(readyChecks, handler.Check{Name: "redis", Ping: redisClient.Ping})
	}

	// Warehouse
	engines := newWarehouseRegistry(cfg.Warehouse)
	defer engines.CloseAll()
	readyChecks = append(readyChecks, handler.Check{Name: "warehouse", Ping: func(ctx context.Context) error {
		_, err := engines.Get(ctx, cfg.Warehouse.Engine)
		return err
	}})

	// LLM providers
	llmRouter := llm.NewRouter(cfg.LLM.DefaultProvider)
	if err := factory.RegisterAll(llmRouter, cfg.LLM); err != nil {
		log.Fatal().Err(err).Msg("Failed to register LLM providers")
	}
	for _, info := range llmRouter.GetProvidersInfo() {
		log.Info().Str("provider", info.Name).Str("model", info.Model).Bool("configured", info.Configured).Msg("LLM provider registered")
	}

	// Agent
	contexts := service.NewContextManager(kb, service.ContextConfig{
		MaxContextTurns:        cfg.Agent.MaxContextTurns,
		SummarizationThreshold: cfg.Agent.SummarizationThreshold,
		SummaryLineChars:       cfg.Agent.SummaryLineChars,
		HistoryFetchLimit:      cfg.Agent.HistoryFetchLimit,
		MaxSummaries:           cfg.Agent.MaxSummaries,
	})
	agent := service.NewInsightsAgent(service.AgentDeps{
		Providers:     llmRouter,
		Engines:       engines,
		KnowledgeBase: kb,
		Contexts:      contexts,
		Cache:         schemaCache,
	}, service.AgentConfig{
		Provider:          cfg.Agent.Provider,
		Engine:            cfg.Warehouse.Engine,
		ProjectID:         cfg.Warehouse.BigQuery.ProjectID,
		MaxRows:           cfg.Warehouse.MaxRows,
		QueryTimeout:      cfg.Warehouse.QueryTimeout,
		EnableTools:       cfg.Agent.EnableTools,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		MaxSchemaTables:   cfg.Agent.MaxSchemaTables,
		PreviewRows:       cfg.Agent.PreviewRows,
		PersistTimeout:    cfg.Agent.PersistTimeout,
	})

	period, err := domain.ParseQuotaPeriod(cfg.Quota.Period)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid quota period")
	}
	conversations := service.NewConversationManager(agent, kb, service.ConversationConfig{
		QuotaEnabled:      cfg.Quota.Enabled,
		QuotaPeriod:       period,
		MaxQuestionLength: cfg.Agent.MaxQuestionLength,
		UsageTimeout:      cfg.Agent.PersistTimeout,
	})

	// HTTP
	deps.AllowedOrigins = cfg.Server.AllowedOrigins
	deps.RequestTimeout = cfg.Server.WriteTimeout
	deps.ContextTurns = cfg.Agent.DefaultContextTurns
	deps.HistoryLimit = cfg.Agent.HistoryFetchLimit
	deps.JWT = security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL)
	deps.Roles = security.NewRoleResolver(cfg.Permissions.Roles)
	deps.Permissions = security.NewPermissionCache(cfg.Permissions.CacheTTL, cfg.Permissions.CacheSize)
	deps.Conversations = conversations
	deps.History = kb
	deps.Providers = llmRouter
	deps.ReadyChecks = readyChecks

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// openKnowledgeBase connects the configured history and usage store
func openKnowledgeBase(ctx context.Context, cfg *config.Config) (domain.KnowledgeBase, func(), func(context.Context) error, error) {
	limits := domain.QuotaLimits{Daily: cfg.Quota.DailyTokenLimit, Monthly: cfg.Quota.MonthlyTokenLimit}

	if cfg.KnowledgeBase.Backend == "mongo" {
		kb, err := mongo.Connect(ctx, cfg.KnowledgeBase.Mongo, limits)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			kb.Close(ctx)
		}
		return kb, closeFn, kb.Ping, nil
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.RunMigrations(cfg.Database.DSN(), cfg.KnowledgeBase.MigrationsPath); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	kb := postgres.NewKnowledgeBase(db.Pool, limits)
	return kb, db.Close, db.Ping, nil
}

// newWarehouseRegistry registers every engine; only the configured one is opened
func newWarehouseRegistry(cfg config.WarehouseConfig) *warehouse.Registry {
	registry := warehouse.NewRegistry()
	registry.Register("bigquery", func(ctx context.Context) (warehouse.Engine, error) {
		return bigquery.Open(ctx, bigquery.Config{
			ProjectID:       cfg.BigQuery.ProjectID,
			Location:        cfg.BigQuery.Location,
			CredentialsFile: cfg.BigQuery.CredentialsFile,
			CredentialsJSON: cfg.BigQuery.CredentialsJSON,
		})
	})
	registry.Register("postgres", func(ctx context.Context) (warehouse.Engine, error) {
		return warehousePostgres.Open(ctx, cfg.Postgres.DSN)
	})
	registry.Register("mysql", func(ctx context.Context) (warehouse.Engine, error) {
		return mysql.Open(ctx, cfg.MySQL.DSN)
	})
	registry.Register("sqlite", func(ctx context.Context) (warehouse.Engine, error) {
		return sqlite.Open(ctx, cfg.SQLite.Path)
	})
	return registry
}
