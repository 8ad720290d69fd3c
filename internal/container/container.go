package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/application/dispatcher"
	"github.com/garyjia/letter-approval/internal/application/notify"
	"github.com/garyjia/letter-approval/internal/application/port"
	"github.com/garyjia/letter-approval/internal/application/service"
	"github.com/garyjia/letter-approval/internal/application/workflow"
	"github.com/garyjia/letter-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/letter-approval/internal/infrastructure/realtime"
	"github.com/garyjia/letter-approval/internal/infrastructure/worker"
	"github.com/garyjia/letter-approval/pkg/database"
)

// Container wires the application. Start runs the init steps in dependency
// order; every step that acquires something pushes a closer, and teardown
// pops them in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	conn         *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	fileStorage  port.FileStorage
	messenger    port.MessageSender
	hub          *realtime.Hub
	dispatcher   dispatcher.Dispatcher
	broadcaster  *notify.Broadcaster
	workflow     *WorkflowBundle
	workers      *worker.WorkerManager

	mu      sync.RWMutex
	closers []closer
	cancel  context.CancelFunc
	ready   atomic.Bool
	closed  atomic.Bool
}

type closer struct {
	name string
	fn   func() error
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Letters   port.LetterRepository
	History   port.HistoryRepository
	Actors    port.ActorRepository
	Artifacts port.ArtifactRepository
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

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes every component. On failure whatever was acquired is
// released before returning.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed.Load():
		return fmt.Errorf("container has been closed")
	case c.ready.Load():
		return fmt.Errorf("container already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	steps := []struct {
		name string
		run  func() error
	}{
		{"database", c.initDatabase},
		{"storage", c.initStorage},
		{"external clients", c.initExternalClients},
		{"notifier", c.initNotifier},
		{"workflow", c.initWorkflow},
		{"workers", func() error { return c.initWorkers(runCtx) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			_ = c.teardown()
			return fmt.Errorf("initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Container step done", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started", zap.Int("steps", len(steps)))
	return nil
}

// Close releases everything in reverse acquisition order
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Swap(true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)

	if err := c.teardown(); err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *Container) teardown() error {
	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cl.name, err))
			continue
		}
		c.logger.Info("Component released", zap.String("component", cl.name))
	}
	c.closers = nil
	c.conn, c.workers, c.dispatcher = nil, nil, nil
	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health probes each component. Overall is false when any required one is
// down; the broadcaster and hub are informational.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hs := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}
	set := func(name string, ok bool, msg string) {
		hs.Components[name] = ComponentHealth{Healthy: ok, Message: msg}
		if !ok {
			hs.Overall = false
		}
	}

	switch {
	case c.conn == nil:
		set("database", false, "not initialized")
	default:
		if err := c.conn.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		for _, st := range c.workers.Statuses() {
			msg := ""
			if st.LastError != nil {
				msg = st.LastError.Error()
			}
			set("worker:"+st.Name, st.Running, msg)
		}
	}

	if c.broadcaster != nil {
		delivered, dropped := c.broadcaster.Stats()
		hs.Components["broadcaster"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("delivered: %d, dropped: %d", delivered, dropped),
		}
	}
	if c.hub != nil {
		hs.Components["realtime"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("connections: %d", c.hub.Connections()),
		}
	}
	return hs
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.conn, c.db = bundle.Conn, bundle.TransactionMgr
	c.onClose("database", c.conn.Close)

	c.repositories, err = ProvideRepositories(c.db, c.logger)
	return err
}

func (c *Container) initStorage() error {
	fs, err := ProvideStorage(&c.config.Artifact, c.logger)
	if err != nil {
		return err
	}
	c.fileStorage = fs
	return nil
}

func (c *Container) initExternalClients() error {
	messenger, err := ProvideMessenger(&c.config.Lark, c.logger)
	if err != nil {
		return err
	}
	c.messenger = messenger
	c.hub = ProvideHub(&c.config.Realtime, c.logger)
	return nil
}

func (c *Container) initNotifier() error {
	// Typed nils must not leak into the interfaces below
	var publisher port.RealtimePublisher
	if c.hub != nil {
		publisher = c.hub
	}

	disp, broadcaster, err := ProvideNotifier(&NotifyDeps{
		Publisher:      publisher,
		Actors:         c.repositories.Actors,
		Sender:         c.messenger,
		QueueSize:      c.config.Notify.QueueSize,
		HandlerTimeout: c.config.Notify.HandlerTimeout,
		Logger:         c.logger,
	})
	if err != nil {
		return err
	}
	c.dispatcher, c.broadcaster = disp, broadcaster
	// Async reminders finish before the database closes
	c.onClose("dispatcher", disp.Close)
	return nil
}

func (c *Container) initWorkflow() error {
	wf, err := ProvideWorkflow(&WorkflowDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Notifier:  c.broadcaster,
		Storage:   c.fileStorage,
		Workflow:  &c.config.Workflow,
		Artifact:  &c.config.Artifact,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = wf
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	workers, err := ProvideWorkers(c.hub, c.broadcaster, c.logger)
	if err != nil {
		return err
	}
	if err := workers.StartAll(ctx); err != nil {
		return err
	}
	c.workers = workers
	// The broadcaster drains here, ahead of the dispatcher and database
	c.onClose("workers", workers.StopAll)
	return nil
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow.Engine
}

// LetterService returns the application service used by the transport layer.
func (c *Container) LetterService() service.LetterService {
	return c.workflow.Letters
}

// Hub returns the websocket hub, or nil when realtime is disabled.
func (c *Container) Hub() *realtime.Hub {
	return c.hub
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// AppLogger returns the key-value logger used by the application layer.
func (c *Container) AppLogger() Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
