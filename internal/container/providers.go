package container

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/artifact"
	"github.com/garyjia/letter-approval/internal/application/assignment"
	"github.com/garyjia/letter-approval/internal/application/authz"
	"github.com/garyjia/letter-approval/internal/application/dispatcher"
	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/application/reminder"
	"github.com/garyjia/letter-approval/internal/application/service"
	"github.com/garyjia/letter-approval/internal/application/workflow"
	infraLark "github.com/garyjia/letter-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/letter-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/letter-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/letter-approval/internal/infrastructure/realtime"
	"github.com/garyjia/letter-approval/internal/infrastructure/storage"
	"github.com/garyjia/letter-approval/internal/infrastructure/worker"
	"github.com/garyjia/letter-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Conn           *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	conn, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(conn, logger).RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Conn:           conn,
		TransactionMgr: sqlite.NewDB(conn.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on top of the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Letters:   repository.NewLetterRepository(db, logger),
		History:   repository.NewHistoryRepository(db, logger),
		Actors:    repository.NewActorRepository(db, logger),
		Artifacts: repository.NewArtifactRepository(db, logger),
	}, nil
}

// ProvideStorage creates the artifact file store.
func ProvideStorage(cfg *ArtifactConfig, logger *zap.Logger) (port.FileStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("artifact config is required")
	}
	fs, err := storage.NewLocalFileStorage(cfg.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact storage: %w", err)
	}
	return fs, nil
}

// ProvideMessenger creates the Lark messenger, or returns nil when no
// credentials are configured.
func ProvideMessenger(cfg *LarkConfig, logger *zap.Logger) (port.MessageSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}

	larkCfg := infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
	}
	if !larkCfg.Enabled() {
		logger.Info("Lark credentials not configured, direct-message reminders disabled")
		return nil, nil
	}

	m, err := infraLark.NewMessenger(larkCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("lark messenger: %w", err)
	}
	return m, nil
}

// ProvideHub creates the websocket hub, or nil when realtime is disabled.
func ProvideHub(cfg *RealtimeConfig, logger *zap.Logger) *realtime.Hub {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	hubCfg := realtime.DefaultConfig()
	if cfg.SendBuffer > 0 {
		hubCfg.SendBuffer = cfg.SendBuffer
	}
	if cfg.PingInterval > 0 {
		hubCfg.PingInterval = cfg.PingInterval
	}
	if cfg.WriteTimeout > 0 {
		hubCfg.WriteTimeout = cfg.WriteTimeout
	}
	hubCfg.AllowedOrigins = cfg.AllowedOrigins

	return realtime.NewHub(hubCfg, logger)
}

// NotifyDeps holds dependencies of the notification fan-out.
type NotifyDeps struct {
	Publisher port.RealtimePublisher
	Actors    port.ActorRepository
	Sender    port.MessageSender
	QueueSize      int
	HandlerTimeout time.Duration
	Logger         *zap.Logger
}

// ProvideNotifier creates the dispatcher, registers the fan-out handlers
// and wraps both in the ordered broadcaster queue.
func ProvideNotifier(deps *NotifyDeps) (dispatcher.Dispatcher, *notify.Broadcaster, error) {
	if deps == nil || deps.Logger == nil {
		return nil, nil, fmt.Errorf("logger is required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
		dispatcher.WithHandlerTimeout(deps.HandlerTimeout),
	)
	notify.Register(disp, deps.Publisher, deps.Actors, deps.Sender, deps.Logger)

	return disp, notify.NewBroadcaster(disp, deps.QueueSize, deps.Logger), nil
}

// WorkflowDeps holds dependencies required for creating the workflow engine
// and the services built on it.
type WorkflowDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Notifier  workflow.Notifier
	Storage   port.FileStorage
	Workflow  *WorkflowConfig
	Artifact  *ArtifactConfig
	Logger    *zap.Logger
}

// WorkflowBundle holds the application layer.
type WorkflowBundle struct {
	Engine    workflow.Engine
	Throttler *reminder.Throttler
	Generator *artifact.Generator
	Letters   service.LetterService
}

// ProvideWorkflow creates the engine, the reminder throttler, the artifact
// generator and the letter service. The engine and the throttler share
// one per-letter lock.
func ProvideWorkflow(deps *WorkflowDeps) (*WorkflowBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Workflow == nil || deps.Artifact == nil {
		return nil, fmt.Errorf("workflow and artifact config are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	appLogger := &zapLoggerAdapter{logger: deps.Logger}
	locker := workflow.NewLocker()
	evaluator := authz.NewEvaluator(authz.WithLegacyApproverFallback(deps.Workflow.LegacyApproverFallback))
	resolver := assignment.NewResolver(deps.Repos.Actors, deps.Workflow.Rules, appLogger)

	engineOpts := []workflow.EngineOption{
		workflow.WithLocker(locker),
		workflow.WithLogger(appLogger),
		workflow.WithMinReasonLength(deps.Workflow.MinReasonLength),
	}
	throttlerOpts := []reminder.Option{
		reminder.WithLogger(appLogger),
	}
	if deps.Workflow.ReminderInterval > 0 {
		throttlerOpts = append(throttlerOpts, reminder.WithInterval(deps.Workflow.ReminderInterval))
	}
	if deps.Notifier != nil {
		engineOpts = append(engineOpts, workflow.WithNotifier(deps.Notifier))
		throttlerOpts = append(throttlerOpts, reminder.WithNotifier(deps.Notifier))
	}

	engine := workflow.NewEngine(
		deps.Repos.Letters,
		deps.Repos.History,
		deps.Repos.Actors,
		deps.TxManager,
		resolver,
		evaluator,
		engineOpts...,
	)
	throttler := reminder.NewThrottler(deps.Repos.Letters, deps.Repos.Actors, evaluator, locker, throttlerOpts...)

	marker, err := artifact.NewMarker(deps.Artifact.MarkerScheme, deps.Artifact.MarkerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification marker: %w", err)
	}
	generator := artifact.NewGenerator(deps.Artifact.Letterhead, marker, deps.Logger)

	letters := service.NewLetterService(service.Deps{
		Engine:    engine,
		Reminder:  throttler,
		Letters:   deps.Repos.Letters,
		History:   deps.Repos.History,
		Actors:    deps.Repos.Actors,
		Artifacts: deps.Repos.Artifacts,
		Storage:   deps.Storage,
		Generator: generator,
		Evaluator: evaluator,
		Logger:    appLogger,
	})

	return &WorkflowBundle{
		Engine:    engine,
		Throttler: throttler,
		Generator: generator,
		Letters:   letters,
	}, nil
}

// ProvideWorkers registers background workers. The hub starts before the
// broadcaster so the queue never publishes into a stopped hub, and stops
// after it for the same reason.
func ProvideWorkers(hub *realtime.Hub, broadcaster *notify.Broadcaster, logger *zap.Logger) (*worker.WorkerManager, error) {
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}

	manager := worker.NewWorkerManager(logger)
	if hub != nil {
		manager.Register(hub)
	}
	manager.Register(broadcaster)

	return manager, nil
}
