// Package container provides dependency injection and lifecycle management
// for the onboarding workflow service.
package container

import (
	"fmt"

	"github.com/garyjia/onboarding-workflow/internal/application/service"
	"github.com/garyjia/onboarding-workflow/internal/config"
	infraLark "github.com/garyjia/onboarding-workflow/internal/infrastructure/external/lark"
	httpserver "github.com/garyjia/onboarding-workflow/internal/interfaces/http"
	"github.com/garyjia/onboarding-workflow/pkg/database"
)

// Options are the process-level settings the container needs besides the
// application configuration.
type Options struct {
	// Version is reported by /health
	Version string

	// SkipMigrations leaves the schema untouched on start
	SkipMigrations bool
}

// The helpers below translate the application configuration into the
// settings each component expects.

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

func larkConfig(cfg *config.Config) infraLark.Config {
	return infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
		Timeout:   cfg.Lark.APITimeout,
	}
}

func approverConfig(cfg *config.Config) service.ApproverConfig {
	return service.ApproverConfig{
		Fallback: cfg.Approvers.Fallback,
		Roles:    cfg.Approvers.Roles,
	}
}

func serverConfig(cfg *config.Config) httpserver.ServerConfig {
	return httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdentityHeaders: cfg.Server.IdentityHeaders,
	}
}

// validate checks the few cross-component settings config.Validate does not
func validate(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits cannot be negative")
	}
	return nil
}
