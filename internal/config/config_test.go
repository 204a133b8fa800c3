package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
notification:
  channel: log
approvers:
  fallback: helpdesk@example.com
  roles:
    IT: it-ops@example.com
    DSIManager: dsi-lead@example.com
token:
  approval_ttl: 72h
app:
  base_url: https://workflow.example.com
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"X-Remote-User", "X-Forwarded-User"}, cfg.Server.IdentityHeaders)
	assert.Equal(t, ChannelLog, cfg.Notification.Channel)
	assert.Equal(t, 5*time.Minute, cfg.Token.TicketTTL)
	assert.Equal(t, 72*time.Hour, cfg.Token.ApprovalTTL)
	assert.Equal(t, "helpdesk@example.com", cfg.Approvers.Fallback)
	// viper lower-cases map keys
	assert.Equal(t, "it-ops@example.com", cfg.Approvers.Roles["it"])
	assert.False(t, cfg.UsesLark())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_TOKEN_SECRET", "s3cret")
	t.Setenv("WORKFLOW_BASE_URL", "https://other.example.com")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Token.Secret)
	assert.Equal(t, "https://other.example.com", cfg.App.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:     DatabaseConfig{Path: "data/workflow.db"},
			Notification: NotificationConfig{Channel: ChannelLark},
			Lark:         LarkConfig{AppID: "cli_1", AppSecret: "secret"},
			Approvers:    ApproversConfig{Fallback: "helpdesk@example.com"},
			App:          AppConfig{BaseURL: "https://workflow.example.com"},
			Report:       ReportConfig{Enabled: true, OutputDir: "data/reports"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.App.BaseURL = "" }, "app.base_url is required"},
		{"relative base url", func(c *Config) { c.App.BaseURL = "workflow.local" }, "http(s)"},
		{"missing fallback", func(c *Config) { c.Approvers.Fallback = "" }, "approvers.fallback is required"},
		{"bad role contact", func(c *Config) { c.Approvers.Roles = map[string]string{"it": "nobody"} }, "approvers.roles.it"},
		{"unknown channel", func(c *Config) { c.Notification.Channel = "pigeon" }, "notification.channel"},
		{"lark without credentials", func(c *Config) { c.Lark.AppSecret = "" }, "lark.app_secret"},
		{"directory needs lark", func(c *Config) {
			c.Notification.Channel = ChannelLog
			c.Directory.Enabled = true
			c.Lark.AppID = ""
		}, "lark.app_id"},
		{"reports need a directory", func(c *Config) { c.Report.OutputDir = "" }, "report.output_dir"},
		{"negative ttl", func(c *Config) { c.Token.ApprovalTTL = -time.Second }, "approval_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("log channel needs no lark credentials", func(t *testing.T) {
		cfg := valid()
		cfg.Notification.Channel = ChannelLog
		cfg.Lark = LarkConfig{}
		assert.NoError(t, cfg.Validate())
	})
}
