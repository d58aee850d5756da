package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Database struct {
		Driver      string `yaml:"driver" validate:"oneof=sqlite postgres"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"database"`
	Paths struct {
		InputDir       string `yaml:"input_dir" validate:"required"`
		DictionaryFile string `yaml:"dictionary_file" validate:"required"`
		IndicatorsFile string `yaml:"indicators_file" validate:"required"`
		RulesFile      string `yaml:"rules_file" validate:"required"`
		ReportsDir     string `yaml:"reports_dir" validate:"required"`
	} `yaml:"paths"`
	Changes struct {
		Indicators []string `yaml:"indicators" validate:"dive,required"`
	} `yaml:"changes"`
	Formulas struct {
		Strict *bool `yaml:"strict"`
	} `yaml:"formulas"`
	AI       AI `yaml:"ai"`
	Schedule struct {
		PipelineCron string `yaml:"pipeline_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy string `yaml:"proxy"`
	Log   struct {
		Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	} `yaml:"log"`
}

// AI configures the model-assisted classification phase.
type AI struct {
	Enabled                    bool    `yaml:"enabled"`
	APIKey                     string  `yaml:"api_key"`
	Model                      string  `yaml:"model" validate:"required"`
	MaxTokens                  int     `yaml:"max_tokens" validate:"gte=1"`
	Months                     int     `yaml:"months" validate:"gte=1,lte=36"`
	CacheDir                   string  `yaml:"cache_dir" validate:"required"`
	SystemPromptFile           string  `yaml:"system_prompt_file"`
	BankLimit                  int     `yaml:"bank_limit" validate:"gte=0"`
	OnlyErrors                 bool    `yaml:"only_errors"`
	DryRun                     bool    `yaml:"dry_run"`
	StrictCache                bool    `yaml:"strict_cache"`
	TimeoutSec                 int     `yaml:"timeout_sec" validate:"gte=1"`
	MaxRetries                 int     `yaml:"max_retries" validate:"gte=0,lte=10"`
	BackoffSeconds             float64 `yaml:"backoff_seconds" validate:"gte=0"`
	StopAfterConsecutiveErrors int     `yaml:"stop_after_consecutive_errors" validate:"gte=0"`
	RequestsPerMinute          float64 `yaml:"requests_per_minute" validate:"gt=0"`
}

// Offline reports whether the AI phase must not call the model.
func (a AI) Offline() bool { return a.DryRun || a.StrictCache }

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("FINSTAT_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CRON_PIPELINE"); v != "" {
		cfg.Schedule.PipelineCron = v
	}
	if v := os.Getenv("LLM_BANK_LIMIT"); v != "" {
		// the environment can only tighten a configured limit
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if cfg.AI.BankLimit == 0 || n < cfg.AI.BankLimit {
				cfg.AI.BankLimit = n
			}
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/finstat.db"
	}
	if cfg.Paths.InputDir == "" {
		cfg.Paths.InputDir = "data/input"
	}
	if cfg.Paths.DictionaryFile == "" {
		cfg.Paths.DictionaryFile = "configs/data_dictionary.csv"
	}
	if cfg.Paths.IndicatorsFile == "" {
		cfg.Paths.IndicatorsFile = "configs/indicators.yaml"
	}
	if cfg.Paths.RulesFile == "" {
		cfg.Paths.RulesFile = "configs/rules.yaml"
	}
	if cfg.Paths.ReportsDir == "" {
		cfg.Paths.ReportsDir = "reports"
	}
	if cfg.Formulas.Strict == nil {
		strict := true
		cfg.Formulas.Strict = &strict
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "claude-sonnet-4-5"
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = 2048
	}
	if cfg.AI.Months == 0 {
		cfg.AI.Months = 6
	}
	if cfg.AI.CacheDir == "" {
		cfg.AI.CacheDir = "data/llm_logs"
	}
	if cfg.AI.TimeoutSec == 0 {
		cfg.AI.TimeoutSec = 120
	}
	if cfg.AI.MaxRetries == 0 {
		cfg.AI.MaxRetries = 2
	}
	if cfg.AI.BackoffSeconds == 0 {
		cfg.AI.BackoffSeconds = 2
	}
	if cfg.AI.StopAfterConsecutiveErrors == 0 {
		cfg.AI.StopAfterConsecutiveErrors = 10
	}
	if cfg.AI.RequestsPerMinute == 0 {
		cfg.AI.RequestsPerMinute = 30
	}
	if cfg.Schedule.PipelineCron == "" {
		cfg.Schedule.PipelineCron = "0 0 6 * * *"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// StrictFormulas reports whether a malformed formula fails the load.
func (c *Config) StrictFormulas() bool {
	return c.Formulas.Strict == nil || *c.Formulas.Strict
}

// TelegramEnabled reports whether a bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != ""
}

// Validate checks field constraints and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Database.Driver == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required for the postgres driver")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.AI.Enabled && !c.AI.Offline() && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key (or ANTHROPIC_API_KEY) is required when ai is enabled")
	}
	if c.TelegramEnabled() && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when a bot token is set")
	}
	return nil
}
