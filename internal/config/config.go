package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/nurture-engine/internal/domain"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	AI         AIConfig         `yaml:"ai"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Snowflake  SnowflakeConfig  `yaml:"snowflake"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Notify     NotifyConfig     `yaml:"notify"`
	Job        JobConfig        `yaml:"job"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings. Redis is optional: the
// threshold cache and rate limiter fall back to in-process behavior
// when disabled.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AIConfig holds AI provider defaults. Runtime values in app_settings
// take precedence over these.
type AIConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Provider           string        `yaml:"provider"` // "gemini" or "bedrock"
	Gemini             GeminiConfig  `yaml:"gemini"`
	Bedrock            BedrockConfig `yaml:"bedrock"`
	Temperature        float64       `yaml:"temperature"`
	MaxTokens          int           `yaml:"max_tokens"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int           `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Settings maps the file config onto the runtime AI settings used as
// defaults when app_settings has no stored row.
func (c AIConfig) Settings() domain.AISettings {
	s := domain.AISettings{
		Enabled:            c.Enabled,
		Provider:           c.Provider,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		RateLimitPerMinute: c.RateLimitPerMinute,
		TimeoutSeconds:     c.TimeoutSeconds,
	}
	switch c.Provider {
	case "bedrock":
		s.Model = c.Bedrock.ModelID
	default:
		s.APIKey = c.Gemini.APIKey
		s.Model = c.Gemini.Model
	}
	return s
}

// GeminiConfig holds Google Gemini API configuration
type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// BedrockConfig holds AWS Bedrock configuration for the Claude provider
type BedrockConfig struct {
	Region    string `yaml:"region"`
	ModelID   string `yaml:"model_id"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// TrackingConfig holds pixel tracking settings
type TrackingConfig struct {
	// PublicBaseURL is the externally reachable origin embedded in pixel
	// URLs, e.g. "https://track.example.com".
	PublicBaseURL string `yaml:"public_base_url"`
}

// EnrichmentConfig holds the email verification/enrichment provider settings
type EnrichmentConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheTTLHours  int    `yaml:"cache_ttl_hours"`
}

// Timeout returns the configured timeout as a duration
func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SnowflakeConfig holds Snowflake configuration for the firmographics sync
type SnowflakeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	View      string `yaml:"view"`
}

// ArchiveConfig holds S3 report archive settings
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	S3Bucket  string `yaml:"s3_bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// NotifyConfig holds SES digest email settings
type NotifyConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Region     string   `yaml:"region"`
	AccessKey  string   `yaml:"access_key"`
	SecretKey  string   `yaml:"secret_key"`
	FromEmail  string   `yaml:"from_email"`
	FromName   string   `yaml:"from_name"`
	Recipients []string `yaml:"recipients"`
}

// JobConfig holds nightly lifecycle job tuning
type JobConfig struct {
	StaleScoreDays        int `yaml:"stale_score_days"`
	SkipRecentDefaultDays int `yaml:"skip_recent_default_days"`
	LockTTLMinutes        int `yaml:"lock_ttl_minutes"`
}

// StaleScoreAfter returns the staleness window as a duration
func (c JobConfig) StaleScoreAfter() time.Duration {
	return time.Duration(c.StaleScoreDays) * 24 * time.Hour
}

// LockTTL returns the job lock TTL as a duration
func (c JobConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "gemini"
	}
	if cfg.AI.Gemini.Model == "" {
		cfg.AI.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.AI.Gemini.BaseURL == "" {
		cfg.AI.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.AI.Bedrock.Region == "" {
		cfg.AI.Bedrock.Region = "us-east-1"
	}
	if cfg.AI.Bedrock.ModelID == "" {
		cfg.AI.Bedrock.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 1024
	}
	if cfg.AI.RateLimitPerMinute == 0 {
		cfg.AI.RateLimitPerMinute = 30
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 45
	}
	if cfg.Enrichment.TimeoutSeconds == 0 {
		cfg.Enrichment.TimeoutSeconds = 15
	}
	if cfg.Enrichment.CacheTTLHours == 0 {
		cfg.Enrichment.CacheTTLHours = 24
	}
	if cfg.Snowflake.Database == "" {
		cfg.Snowflake.Database = "IGNITE_DATA_LAKE"
	}
	if cfg.Snowflake.Schema == "" {
		cfg.Snowflake.Schema = "FIRMOGRAPHICS"
	}
	if cfg.Snowflake.View == "" {
		cfg.Snowflake.View = "VISITOR_COMPANIES"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "nightly-reports"
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = "us-east-1"
	}
	if cfg.Job.StaleScoreDays == 0 {
		cfg.Job.StaleScoreDays = 7
	}
	if cfg.Job.LockTTLMinutes == 0 {
		cfg.Job.LockTTLMinutes = 30
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// CONFIG_PATH overrides the path argument; a missing file is not an error
// here (defaults + env cover env-only deployments), only a malformed one.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg = &Config{}
		applyDefaults(cfg)
	} else if err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.AI.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		cfg.AI.Gemini.Model = model
	}
	if accessKey := os.Getenv("AWS_BEDROCK_ACCESS_KEY"); accessKey != "" {
		cfg.AI.Bedrock.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_BEDROCK_SECRET_KEY"); secretKey != "" {
		cfg.AI.Bedrock.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" {
		cfg.AI.Bedrock.Region = region
	}
	if baseURL := os.Getenv("TRACKING_BASE_URL"); baseURL != "" {
		cfg.Tracking.PublicBaseURL = baseURL
	}
	if apiKey := os.Getenv("ALEADS_API_KEY"); apiKey != "" {
		cfg.Enrichment.APIKey = apiKey
	}
	if baseURL := os.Getenv("ALEADS_BASE_URL"); baseURL != "" {
		cfg.Enrichment.BaseURL = baseURL
	}
	if pw := os.Getenv("SNOWFLAKE_PASSWORD"); pw != "" {
		cfg.Snowflake.Password = pw
	}
	if bucket := os.Getenv("ARCHIVE_S3_BUCKET"); bucket != "" {
		cfg.Archive.S3Bucket = bucket
		cfg.Archive.Enabled = true
	}
	if accessKey := os.Getenv("AWS_ARCHIVE_ACCESS_KEY"); accessKey != "" {
		cfg.Archive.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_ARCHIVE_SECRET_KEY"); secretKey != "" {
		cfg.Archive.SecretKey = secretKey
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.Notify.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.Notify.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Notify.Region = region
	}

	return cfg, nil
}
