package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/onboarding-workflow/pkg/utils"
)

// Notification channels
const (
	ChannelLark = "lark"
	ChannelLog  = "log"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Lark         LarkConfig         `mapstructure:"lark"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Notification NotificationConfig `mapstructure:"notification"`
	Approvers    ApproversConfig    `mapstructure:"approvers"`
	Token        TokenConfig        `mapstructure:"token"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	App          AppConfig          `mapstructure:"app"`
	Report       ReportConfig       `mapstructure:"report"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdentityHeaders []string      `mapstructure:"identity_headers"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID      string        `mapstructure:"app_id"`
	AppSecret  string        `mapstructure:"app_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	APITimeout time.Duration `mapstructure:"api_timeout"`
}

// DirectoryConfig controls approver and identity lookups
type DirectoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NotificationConfig selects how approvers are told about pending stages
type NotificationConfig struct {
	Channel      string        `mapstructure:"channel"` // lark or log
	Locale       string        `mapstructure:"locale"`
	AsyncTimeout time.Duration `mapstructure:"async_timeout"`
}

// ApproversConfig holds the fallback contact and fixed role contacts
type ApproversConfig struct {
	Fallback string            `mapstructure:"fallback"`
	Roles    map[string]string `mapstructure:"roles"`
}

// TokenConfig holds action token and form ticket settings
type TokenConfig struct {
	Secret      string        `mapstructure:"secret"`
	TicketTTL   time.Duration `mapstructure:"ticket_ttl"`
	ApprovalTTL time.Duration `mapstructure:"approval_ttl"`
}

// WorkflowConfig tunes the stage graphs
type WorkflowConfig struct {
	// OnboardingRule routes SecurityManager approvals to the IT head of
	// department when true. Empty uses the built-in email services rule.
	OnboardingRule string `mapstructure:"onboarding_rule"`
}

// AppConfig holds application identity settings
type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ReportConfig holds completion report settings
type ReportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OutputDir string `mapstructure:"output_dir"`
	Title     string `mapstructure:"title"`
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Runtime bool `mapstructure:"runtime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configPath, then a .env file next to the working directory,
// then the environment. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables of a .env file without overriding the
// real environment
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.identity_headers", []string{"X-Remote-User", "X-Forwarded-User"})

	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("lark.api_timeout", 30*time.Second)

	v.SetDefault("notification.channel", ChannelLark)
	v.SetDefault("notification.locale", "en_us")
	v.SetDefault("notification.async_timeout", 30*time.Second)

	v.SetDefault("token.ticket_ttl", 5*time.Minute)

	v.SetDefault("app.base_url", "http://localhost:8080")

	v.SetDefault("report.enabled", true)
	v.SetDefault("report.output_dir", "data/reports")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.runtime", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("lark.app_id", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	v.BindEnv("token.secret", "WORKFLOW_TOKEN_SECRET")
	v.BindEnv("approvers.fallback", "WORKFLOW_FALLBACK_APPROVER")
	v.BindEnv("app.base_url", "WORKFLOW_BASE_URL")
	v.BindEnv("database.path", "WORKFLOW_DB_PATH")
	v.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.BaseURL == "" {
		return fmt.Errorf("app.base_url is required")
	}
	if !strings.HasPrefix(c.App.BaseURL, "http://") && !strings.HasPrefix(c.App.BaseURL, "https://") {
		return fmt.Errorf("app.base_url must be an http(s) URL")
	}

	if c.Approvers.Fallback == "" {
		return fmt.Errorf("approvers.fallback is required")
	}
	if err := utils.ValidateEmail(c.Approvers.Fallback); err != nil {
		return fmt.Errorf("approvers.fallback: %w", err)
	}
	for role, contact := range c.Approvers.Roles {
		if err := utils.ValidateEmail(contact); err != nil {
			return fmt.Errorf("approvers.roles.%s: %w", role, err)
		}
	}

	switch c.Notification.Channel {
	case ChannelLark, ChannelLog:
	default:
		return fmt.Errorf("notification.channel must be %q or %q", ChannelLark, ChannelLog)
	}

	if c.UsesLark() {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Report.Enabled && c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required when reports are enabled")
	}
	if c.Token.ApprovalTTL < 0 {
		return fmt.Errorf("token.approval_ttl cannot be negative")
	}

	return nil
}

// UsesLark reports whether any component talks to the Lark open platform
func (c *Config) UsesLark() bool {
	return c.Notification.Channel == ChannelLark || c.Directory.Enabled
}
