package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ArchiveConfig configures durable storage of original documents.
type ArchiveConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
}

// ExtractConfig configures PDF text extraction.
type ExtractConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	HaikuModel        string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel       string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	ClassifyMaxTokens int64   `yaml:"classify_max_tokens" mapstructure:"classify_max_tokens"`
	AnalyzeMaxTokens  int64   `yaml:"analyze_max_tokens" mapstructure:"analyze_max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// PipelineConfig configures the ingestion-and-analysis pipeline.
type PipelineConfig struct {
	ClassifyPrefixChars int  `yaml:"classify_prefix_chars" mapstructure:"classify_prefix_chars"`
	AnalyzePrefixChars  int  `yaml:"analyze_prefix_chars" mapstructure:"analyze_prefix_chars"`
	ExtractTimeoutSecs  int  `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	ClassifyTimeoutSecs int  `yaml:"classify_timeout_secs" mapstructure:"classify_timeout_secs"`
	ArchiveTimeoutSecs  int  `yaml:"archive_timeout_secs" mapstructure:"archive_timeout_secs"`
	AnalyzeTimeoutSecs  int  `yaml:"analyze_timeout_secs" mapstructure:"analyze_timeout_secs"`
	SkipArchive         bool `yaml:"skip_archive" mapstructure:"skip_archive"`
	BreakerThreshold    int  `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs    int  `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	WriteRetries        int  `yaml:"write_retries" mapstructure:"write_retries"`
}

// StageTimeout converts a seconds setting into a duration, falling back to def.
func StageTimeout(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// QueueConfig configures the worker pool that runs pipeline jobs.
type QueueConfig struct {
	Backend            string `yaml:"backend" mapstructure:"backend"`
	Workers            int    `yaml:"workers" mapstructure:"workers"`
	Capacity           int    `yaml:"capacity" mapstructure:"capacity"`
	EnqueueTimeoutSecs int    `yaml:"enqueue_timeout_secs" mapstructure:"enqueue_timeout_secs"`
	RedisURL           string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisKey           string `yaml:"redis_key" mapstructure:"redis_key"`
	LeaseSecs          int    `yaml:"lease_secs" mapstructure:"lease_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// AuthConfig configures caller authentication for user-facing routes.
type AuthConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Issuer   string `yaml:"issuer" mapstructure:"issuer"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
}

// WebhookConfig holds the inbound email webhook settings.
type WebhookConfig struct {
	Secret string `yaml:"secret" mapstructure:"secret"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	RepeatAlertMins      int     `yaml:"repeat_alert_mins" mapstructure:"repeat_alert_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the environment variable names used by the
// earlier deployment, so existing .env files keep working.
var legacyEnv = map[string]string{
	"store.database_url":      "DATABASE_URL",
	"anthropic.key":           "ANTHROPIC_API_KEY",
	"webhook.secret":          "EMAIL_WEBHOOK_SECRET",
	"archive.bucket":          "S3_BUCKET_NAME",
	"archive.region":          "AWS_REGION",
	"server.allowed_origins":  "ALLOWED_ORIGINS",
	"extract.mistral_api_key": "MISTRAL_API_KEY",
}

// Load reads configuration from file and environment. A .env file in the
// working directory is applied first without overriding the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := "IIP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("archive.provider", "s3")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.dir", "./data/archive")
	v.SetDefault("extract.provider", "native")
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.classify_max_tokens", 64)
	v.SetDefault("anthropic.analyze_max_tokens", 8192)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("pipeline.classify_prefix_chars", 2000)
	v.SetDefault("pipeline.analyze_prefix_chars", 120000)
	v.SetDefault("pipeline.extract_timeout_secs", 60)
	v.SetDefault("pipeline.classify_timeout_secs", 30)
	v.SetDefault("pipeline.archive_timeout_secs", 60)
	v.SetDefault("pipeline.analyze_timeout_secs", 180)
	v.SetDefault("pipeline.breaker_threshold", 5)
	v.SetDefault("pipeline.breaker_reset_secs", 30)
	v.SetDefault("pipeline.write_retries", 3)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("queue.enqueue_timeout_secs", 5)
	v.SetDefault("queue.redis_key", "iip:jobs")
	v.SetDefault("queue.lease_secs", 600)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_bytes", 50<<20)
	v.SetDefault("auth.provider", "oidc")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stuck_after_mins", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.repeat_alert_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// splitOrigins accepts both a YAML list and the comma-separated form used by
// ALLOWED_ORIGINS.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// Validation modes.
const (
	ModeServe   = "serve"
	ModeAnalyze = "analyze"
)

// Validate checks the settings a command cannot start without. Only serve
// needs the webhook secret and caller authentication.
func (c *Config) Validate(mode string) error {
	if mode == ModeServe {
		if c.Webhook.Secret == "" {
			return eris.New("config: webhook.secret (EMAIL_WEBHOOK_SECRET) is required")
		}
		if c.Auth.Provider == "oidc" && c.Auth.Issuer == "" {
			return eris.New("config: auth.issuer is required for oidc")
		}
	}
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key (ANTHROPIC_API_KEY) is required")
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url (DATABASE_URL) is required for postgres")
	}
	if c.Archive.Provider == "s3" && c.Archive.Bucket == "" {
		return eris.New("config: archive.bucket (S3_BUCKET_NAME) is required for s3")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
