package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Warehouse     WarehouseConfig     `mapstructure:"warehouse"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	Security      SecurityConfig      `mapstructure:"security"`
	Permissions   PermissionsConfig   `mapstructure:"permissions"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// KnowledgeBaseConfig selects where history and token usage are stored
type KnowledgeBaseConfig struct {
	Backend        string      `mapstructure:"backend"` // postgres or mongo
	MigrationsPath string      `mapstructure:"migrations_path"`
	Mongo          MongoConfig `mapstructure:"mongo"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	SchemaCacheTTL time.Duration `mapstructure:"schema_cache_ttl"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type LLMConfig struct {
	DefaultProvider string          `mapstructure:"default_provider"`
	OpenAI          OpenAIConfig    `mapstructure:"openai"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic"`
	Ollama          OllamaConfig    `mapstructure:"ollama"`
	DeepSeek        DeepSeekConfig  `mapstructure:"deepseek"`
	Gemini          GeminiConfig    `mapstructure:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host         string `mapstructure:"host"`
	DefaultModel string `mapstructure:"default_model"`
}

type DeepSeekConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// WarehouseConfig selects and configures the query engine
type WarehouseConfig struct {
	Engine       string          `mapstructure:"engine"` // bigquery, postgres, mysql or sqlite
	MaxRows      int             `mapstructure:"max_rows"`
	QueryTimeout time.Duration   `mapstructure:"query_timeout"`
	BigQuery     BigQueryConfig  `mapstructure:"bigquery"`
	Postgres     SQLEngineConfig `mapstructure:"postgres"`
	MySQL        SQLEngineConfig `mapstructure:"mysql"`
	SQLite       SQLiteConfig    `mapstructure:"sqlite"`
}

type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

type SQLEngineConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// AgentConfig tunes the conversation loop
type AgentConfig struct {
	Provider               string        `mapstructure:"provider"`
	DefaultContextTurns    int           `mapstructure:"default_context_turns"`
	MaxContextTurns        int           `mapstructure:"max_context_turns"`
	SummarizationThreshold int           `mapstructure:"context_summarization_threshold"`
	SummaryLineChars       int           `mapstructure:"summary_line_chars"`
	HistoryFetchLimit      int           `mapstructure:"history_fetch_limit"`
	MaxSummaries           int           `mapstructure:"max_summaries"`
	MaxToolIterations      int           `mapstructure:"max_tool_iterations"`
	EnableTools            bool          `mapstructure:"enable_tools"`
	MaxSchemaTables        int           `mapstructure:"max_schema_tables"`
	PreviewRows            int           `mapstructure:"preview_rows"`
	MaxQuestionLength      int           `mapstructure:"max_question_length"`
	PersistTimeout         time.Duration `mapstructure:"persist_timeout"`
}

// QuotaConfig caps per-user token consumption
type QuotaConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Period            string `mapstructure:"period"` // daily or monthly
	DailyTokenLimit   int64  `mapstructure:"daily_token_limit"`
	MonthlyTokenLimit int64  `mapstructure:"monthly_token_limit"`
}

// Limit returns the token limit configured for period
func (c QuotaConfig) Limit(period string) int64 {
	if period == "monthly" {
		return c.MonthlyTokenLimit
	}
	return c.DailyTokenLimit
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// PermissionsConfig maps roles to data grants
type PermissionsConfig struct {
	CacheTTL  time.Duration        `mapstructure:"cache_ttl"`
	CacheSize int                  `mapstructure:"cache_size"`
	Roles     map[string]RoleGrant `mapstructure:"roles"`
}

// RoleGrant is what one role may read
type RoleGrant struct {
	Datasets    []string            `mapstructure:"datasets"`
	Tables      map[string][]string `mapstructure:"tables"`
	Permissions []string            `mapstructure:"permissions"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.KnowledgeBase.Backend {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("unknown knowledge_base.backend %q", c.KnowledgeBase.Backend)
	}
	switch c.Quota.Period {
	case "daily", "monthly":
	default:
		return fmt.Errorf("unknown quota.period %q", c.Quota.Period)
	}
	if c.Agent.MaxContextTurns < 1 {
		return fmt.Errorf("agent.max_context_turns must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "insights")
	v.SetDefault("database.database", "insights")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)

	// Knowledge base
	v.SetDefault("knowledge_base.backend", "postgres")
	v.SetDefault("knowledge_base.migrations_path", "file://migrations")
	v.SetDefault("knowledge_base.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("knowledge_base.mongo.database", "insights")

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.schema_cache_ttl", "1h")

	// Auth
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.access_token_ttl", "15m")

	// LLM
	v.SetDefault("llm.default_provider", "gemini")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.ollama.host", "http://localhost:11434")
	v.SetDefault("llm.ollama.default_model", "llama3")

	// Warehouse
	v.SetDefault("warehouse.engine", "bigquery")
	v.SetDefault("warehouse.max_rows", 1000)
	v.SetDefault("warehouse.query_timeout", "60s")
	v.SetDefault("warehouse.sqlite.path", "file::memory:?cache=shared")

	// Agent
	v.SetDefault("agent.default_context_turns", 5)
	v.SetDefault("agent.max_context_turns", 5)
	v.SetDefault("agent.context_summarization_threshold", 4000)
	v.SetDefault("agent.summary_line_chars", 200)
	v.SetDefault("agent.history_fetch_limit", 100)
	v.SetDefault("agent.max_summaries", 3)
	v.SetDefault("agent.max_tool_iterations", 6)
	v.SetDefault("agent.enable_tools", true)
	v.SetDefault("agent.max_schema_tables", 20)
	v.SetDefault("agent.preview_rows", 10)
	v.SetDefault("agent.max_question_length", 2000)
	v.SetDefault("agent.persist_timeout", "5s")

	// Quota
	v.SetDefault("quota.enabled", true)
	v.SetDefault("quota.period", "daily")
	v.SetDefault("quota.daily_token_limit", 200000)
	v.SetDefault("quota.monthly_token_limit", 4000000)

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 60)
	v.SetDefault("security.rate_limit.burst", 10)

	// Permissions
	v.SetDefault("permissions.cache_ttl", "5m")
	v.SetDefault("permissions.cache_size", 10000)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Knowledge base
	v.BindEnv("knowledge_base.backend", "KNOWLEDGE_BASE_BACKEND")
	v.BindEnv("knowledge_base.mongo.uri", "MONGO_URI")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// LLM API Keys
	v.BindEnv("llm.default_provider", "LLM_PROVIDER")
	v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.ollama.host", "OLLAMA_HOST")

	// Warehouse
	v.BindEnv("warehouse.engine", "WAREHOUSE_ENGINE")
	v.BindEnv("warehouse.bigquery.project_id", "GOOGLE_CLOUD_PROJECT")
	v.BindEnv("warehouse.bigquery.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	v.BindEnv("warehouse.postgres.dsn", "WAREHOUSE_POSTGRES_DSN")
	v.BindEnv("warehouse.mysql.dsn", "WAREHOUSE_MYSQL_DSN")
}
