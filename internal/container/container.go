package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/service"
	"github.com/garyjia/onboarding-workflow/internal/application/token"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/config"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	httpserver "github.com/garyjia/onboarding-workflow/internal/interfaces/http"
	"github.com/garyjia/onboarding-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config  *config.Config
	options Options
	logger  *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	external *ExternalBundle
	metrics  *metrics.Recorder

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	services   *ServiceBundle

	// Interfaces
	server *httpserver.Server

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Request      port.RequestRepository
	Approval     port.ApprovalRepository
	Timeline     port.TimelineRepository
	Notification port.NotificationRepository
}

// ServiceBundle groups all application services. Report is nil when
// completion reports are disabled.
type ServiceBundle struct {
	Resolver     service.ApproverResolver
	Request      service.RequestService
	Notification service.NotificationService
	Report       service.ReportService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, opts Options, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:  cfg,
		options: opts,
		logger:  logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database and repositories
// 2. External clients and notifier
// 3. Dispatcher and metrics
// 4. Workflow engine
// 5. Application services
// 6. HTTP server
// The server is built but not listening; call Server().Start.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container is closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"external clients", c.initExternal},
		{"dispatcher", c.initDispatcher},
		{"workflow engine", c.initEngine},
		{"services", c.initServices},
		{"http server", c.initServer},
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			c.closeLocked()
			return err
		}
		c.logger.Info("Initializing component", zap.Int("step", i+1), zap.String("component", step.name))
		if err := step.fn(); err != nil {
			c.logger.Error("Component initialization failed", zap.String("component", step.name), zap.Error(err))
			c.closeLocked()
			return fmt.Errorf("init %s: %w", step.name, err)
		}
	}

	c.ready.Store(true)
	c.logger.Info("Container started")
	return nil
}

// Close releases all resources in reverse initialization order.
// It is safe to call more than once.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Container) closeLocked() error {
	if c.closed.Load() {
		return nil
	}

	c.logger.Info("Closing container")
	var errs []error

	// Step 1: Stop HTTP server
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			c.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	// Step 2: Close dispatcher, waiting for in-flight notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Close database
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, ok bool, message string) {
		status.Components[name] = ComponentHealth{Healthy: ok, Message: message}
		if !ok {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		set("database", false, "not initialized")
	default:
		if err := c.db.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	if c.engine != nil {
		set("workflow", true, "")
	} else {
		set("workflow", false, "not initialized")
	}

	if c.external != nil && c.external.Notifier != nil {
		set("notifier", true, c.external.Notifier.Channel())
	} else {
		set("notifier", false, "not initialized")
	}

	return status
}

// initDatabase opens the database and builds the repositories.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.config, !c.options.SkipMigrations, c.logger)
	if err != nil {
		return err
	}
	c.db = bundle.DB
	c.txManager = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

// initExternal creates the Lark client, notifier and directory.
func (c *Container) initExternal() error {
	external, err := ProvideExternal(c.config, c.logger)
	if err != nil {
		return err
	}
	c.external = external
	c.logger.Info("Notifier selected",
		zap.String("channel", external.Notifier.Channel()),
		zap.Bool("directory", external.Directory != nil))
	return nil
}

// initDispatcher creates the event dispatcher and metrics recorder.
func (c *Container) initDispatcher() error {
	c.dispatcher = ProvideDispatcher(c.config, c.logger)
	c.metrics = ProvideMetrics(c.config)
	return nil
}

// initEngine builds the stage graphs and the workflow engine.
func (c *Container) initEngine() error {
	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Config:     c.config,
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
	})
	if err != nil {
		return err
	}
	c.engine = engine
	return nil
}

// initServices creates the application services and registers handlers.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		Engine:     c.engine,
		External:   c.external,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

// initServer builds the HTTP server around the services.
func (c *Container) initServer() error {
	deps := httpserver.Dependencies{
		Requests:  c.services.Request,
		Reports:   c.services.Report,
		Directory: c.external.Directory,
		Tickets:   token.NewTicketSigner(c.config.Token.Secret, c.config.Token.TicketTTL),
		Version:   c.options.Version,
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics.Handler()
	}

	server, err := httpserver.NewServer(serverConfig(c.config), deps, &zapLoggerAdapter{logger: c.logger.Named("http")})
	if err != nil {
		return err
	}
	c.server = server
	return nil
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Notifier returns the notifier selected by configuration.
func (c *Container) Notifier() port.Notifier {
	if c.external == nil {
		return nil
	}
	return c.external.Notifier
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// MetricsHandler returns the /metrics handler, or nil when disabled.
func (c *Container) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
