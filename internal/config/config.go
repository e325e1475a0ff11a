// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/workflow"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Intake     IntakeConfig     `yaml:"intake" mapstructure:"intake"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ProviderConfig configures the enrichment provider and the dispatch step's
// retry/timeout behavior.
type ProviderConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Key              string  `yaml:"key" mapstructure:"key"`
	WebhookSecret    string  `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff          string  `yaml:"backoff" mapstructure:"backoff"`
	InitialDelayMS   int     `yaml:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS       int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	DispatchTimeout  int     `yaml:"dispatch_timeout_secs" mapstructure:"dispatch_timeout_secs"`
	CallbackWaitSecs int     `yaml:"callback_wait_secs" mapstructure:"callback_wait_secs"`
}

// RetryPolicy builds the dispatch step's retry policy.
func (c ProviderConfig) RetryPolicy() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		MaxAttempts:    c.MaxAttempts,
		Backoff:        workflow.Backoff(c.Backoff),
		InitialDelay:   time.Duration(c.InitialDelayMS) * time.Millisecond,
		MaxDelay:       time.Duration(c.MaxDelayMS) * time.Millisecond,
		RetryableCodes: workflow.TransientHTTPCodes(),
	}
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// IntakeConfig configures batch intake behavior.
type IntakeConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.base_url", "https://api.enrichment.example.com")
	v.SetDefault("provider.rate_limit", 5)
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.backoff", "exponential")
	v.SetDefault("provider.initial_delay_ms", 500)
	v.SetDefault("provider.max_delay_ms", 30000)
	v.SetDefault("provider.dispatch_timeout_secs", 30)
	v.SetDefault("provider.callback_wait_secs", 600)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5)
	v.SetDefault("intake.max_concurrent_jobs", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
