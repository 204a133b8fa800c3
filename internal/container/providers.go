package container

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/rule"
	"github.com/garyjia/onboarding-workflow/internal/application/service"
	"github.com/garyjia/onboarding-workflow/internal/application/token"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/config"
	infraLark "github.com/garyjia/onboarding-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/notify"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/report"
	"github.com/garyjia/onboarding-workflow/internal/infrastructure/storage"
	"github.com/garyjia/onboarding-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the Lark-backed components. Client and Directory
// are nil when Lark is not configured.
type ExternalBundle struct {
	Client    *infraLark.SDKClient
	Notifier  port.Notifier
	Directory port.Directory
}

// ProvideDatabase opens the database and runs pending migrations.
func ProvideDatabase(cfg *config.Config, runMigrations bool, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.New(databaseConfig(cfg), logger)
	if err != nil {
		return nil, err
	}

	if runMigrations {
		if err := database.NewMigrator(db, logger).RunMigrations(database.Migrations, database.EmbeddedDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Request:      repository.NewRequestRepository(db.DB, logger),
		Approval:     repository.NewApprovalRepository(db.DB, logger),
		Timeline:     repository.NewTimelineRepository(db.DB, logger),
		Notification: repository.NewNotificationRepository(db.DB, logger),
	}, nil
}

// ProvideExternal creates the Lark client when any component needs it,
// and picks the notifier for the configured channel.
func ProvideExternal(cfg *config.Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &ExternalBundle{}
	if cfg.UsesLark() {
		bundle.Client = infraLark.NewSDKClient(larkConfig(cfg), logger)
	}

	switch cfg.Notification.Channel {
	case config.ChannelLark:
		bundle.Notifier = infraLark.NewMailer(bundle.Client, cfg.Notification.Locale, logger)
	case config.ChannelLog:
		bundle.Notifier = notify.NewLogNotifier(logger)
	default:
		return nil, fmt.Errorf("unknown notification channel %q", cfg.Notification.Channel)
	}

	if cfg.Directory.Enabled {
		bundle.Directory = infraLark.NewDirectory(bundle.Client, logger)
	}

	return bundle, nil
}

// ProvideMetrics returns nil when metrics are disabled.
func ProvideMetrics(cfg *config.Config) *metrics.Recorder {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewRecorder(cfg.Metrics.Runtime)
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *config.Config, logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
		dispatcher.WithAsyncTimeout(cfg.Notification.AsyncTimeout),
	)
}

// WorkflowDeps holds dependencies required for creating the engine.
type WorkflowDeps struct {
	Config     *config.Config
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Recorder
}

// ProvideWorkflowEngine builds the stage graphs and the engine driving them.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	graphs, err := workflow.Graphs(rule.NewExprEvaluator(), deps.Config.Workflow.OnboardingRule)
	if err != nil {
		return nil, fmt.Errorf("failed to build stage graphs: %w", err)
	}

	opts := []workflow.EngineOption{
		workflow.WithTokenTTL(deps.Config.Token.ApprovalTTL),
	}
	if deps.Dispatcher != nil {
		opts = append(opts, workflow.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	return workflow.NewEngine(
		deps.Repos.Request,
		deps.Repos.Approval,
		deps.Repos.Timeline,
		deps.TxManager,
		token.NewIssuer(),
		graphs,
		opts...,
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Config     *config.Config
	Repos      *RepositoryBundle
	Engine     workflow.Engine
	External   *ExternalBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// event-driven ones to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if deps.External == nil || deps.External.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger.Named("service")}

	// A nil *Recorder must not become a non-nil interface.
	var recorder port.MetricsRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	resolver := service.NewApproverResolver(approverConfig(deps.Config), deps.External.Directory, serviceLogger)

	bundle := &ServiceBundle{
		Resolver: resolver,
		Request:  service.NewRequestService(deps.Engine, resolver, serviceLogger),
		Notification: service.NewNotificationService(
			deps.Repos.Request,
			deps.Repos.Notification,
			deps.External.Notifier,
			deps.Engine,
			recorder,
			deps.Config.App.BaseURL,
			serviceLogger,
		),
	}

	if deps.Config.Report.Enabled {
		bundle.Report = service.NewReportService(
			deps.Engine,
			report.NewExcelRenderer(deps.Config.Report.Title, deps.Logger),
			storage.NewLocalFileStorage(deps.Config.Report.OutputDir, deps.Logger),
			serviceLogger,
		)
	}

	if deps.Dispatcher != nil {
		bundle.Notification.Register(deps.Dispatcher)
		if bundle.Report != nil {
			bundle.Report.Register(deps.Dispatcher)
		}
	}

	return bundle, nil
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces of
// the application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
