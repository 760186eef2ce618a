package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/flowfile"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Coordination
	locker      port.InstanceLocker
	redisClient *redis.Client
	registry    *prometheus.Registry

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	admins     port.AdminAuthorizer
	services   *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Flows       port.FlowDefinitionRepository
	Instances   port.InstanceRepository
	StepRecords port.StepRecordRepository
	Timeline    port.TimelineRepository
	Directory   *repository.DirectoryRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Flows        service.FlowService
	Notification service.NotificationService
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

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Instance lock
// 3. Dispatcher, metrics and workflow engine
// 4. Application services and flow seeding
// 5. Workers
//
// When startWorkers is false the escalation worker is built but not run,
// which suits one-shot commands.
func (c *Container) Start(ctx context.Context, startWorkers bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Instance lock
	bundle, err := ProvideLocker(c.ctx, &c.config.Engine, &c.config.Redis, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize instance lock: %w", err)
	}
	c.locker = bundle.Locker
	c.redisClient = bundle.Redis
	c.logger.Info("Instance lock initialized", zap.String("backend", c.config.Engine.LockBackend))

	// Step 3: Dispatcher, metrics and workflow engine
	if err := c.initDispatcherAndWorkflow(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher and workflow: %w", err)
	}
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 4: Services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := c.seedFlows(); err != nil {
		return fmt.Errorf("failed to seed flows: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: Workers
	if err := c.initWorkers(startWorkers); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 1: Stop workers so no sweep starts new transactions
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Cancel context to signal remaining goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 2: Drain the dispatcher so committed events are still delivered
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Release the Redis client
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		} else {
			c.logger.Info("Redis client closed")
		}
	}

	// Step 4: Close database
	if c.database != nil {
		if err := c.database.Close(); err != nil {
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
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	// Check database
	if c.sqlDB != nil {
		if err := c.sqlDB.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	} else {
		set("database", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check redis lock backend
	if c.redisClient != nil {
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			set("lock", ComponentHealth{Healthy: false, Message: fmt.Sprintf("redis ping failed: %v", err)})
		} else {
			set("lock", ComponentHealth{Healthy: true, Message: LockBackendRedis})
		}
	} else if c.locker != nil {
		set("lock", ComponentHealth{Healthy: true, Message: LockBackendLocal})
	}

	// Check workers
	if c.workers != nil {
		healthy := true
		msg := fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount())
		for _, s := range c.workers.Statuses() {
			if s.LastError != "" {
				healthy = false
				msg = fmt.Sprintf("%s: %s", s.Name, s.LastError)
			}
		}
		if c.workers.GetWorkerCount() > 0 && !c.workers.IsRunning() {
			healthy = false
			msg = "workers not running"
		}
		set("workers", ComponentHealth{Healthy: healthy, Message: msg})
	} else {
		set("workers", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("in flight: %d", c.dispatcher.InFlight()),
		})
	} else {
		set("dispatcher", ComponentHealth{Healthy: false, Message: "not initialized"})
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.database = dbBundle.DB
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.sqlDB, c.logger)
	if err != nil {
		c.database.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initDispatcherAndWorkflow initializes the event dispatcher, metrics
// listener and workflow engine using providers.
func (c *Container) initDispatcherAndWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.registry = ProvideMetrics(&c.config.Metrics, c.dispatcher)

	c.admins = service.NewRoleAdminAuthorizer(c.repositories.Directory, c.config.Admin.Role, c.config.Admin.Users)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Locker:     c.locker,
		Admins:     c.admins,
		Dispatcher: c.dispatcher,
		EngineCfg:  &c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = engine

	return nil
}

// initServices initializes all application services using providers.
func (c *Container) initServices() error {
	notifier, err := ProvideNotifier(&c.config.Lark, c.logger)
	if err != nil {
		return err
	}

	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Notifier:   notifier,
		Dispatcher: c.dispatcher,
		AdminUsers: c.config.Admin.Users,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	return nil
}

func (c *Container) seedFlows() error {
	if c.config.Flows.SeedPath == "" {
		return nil
	}
	_, err := ProvideSeeder(c.services, c.repositories, c.logger).SeedFile(c.ctx, c.config.Flows.SeedPath)
	return err
}

// initWorkers builds background workers and optionally starts them.
func (c *Container) initWorkers(start bool) error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Engine:    c.engine,
		EngineCfg: &c.config.Engine,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if !start {
		return nil
	}
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.GetWorkerCount()))
	return nil
}

// Getters for accessing container components

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
	return c.engine
}

// AdminAuthorizer returns the admin authority check.
func (c *Container) AdminAuthorizer() port.AdminAuthorizer {
	return c.admins
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Seeder returns a YAML seeder bound to the container's stores.
func (c *Container) Seeder() *flowfile.Seeder {
	return ProvideSeeder(c.services, c.repositories, c.logger)
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// MetricsRegistry returns the Prometheus registry, nil when metrics are disabled.
func (c *Container) MetricsRegistry() *prometheus.Registry {
	return c.registry
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces
// of the application packages.
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
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
