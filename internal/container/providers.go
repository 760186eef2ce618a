package container

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/routing"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-engine/internal/infrastructure/flowfile"
	"github.com/garyjia/approval-engine/internal/infrastructure/lock"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the instance locker and what it needs to shut down.
type LockBundle struct {
	Locker port.InstanceLocker
	// Redis is nil for the local backend
	Redis *redis.Client
}

// ProvideDatabase opens the database and, when configured, applies the
// embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(db, logger).RunMigrations(database.Schema()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Flows:       repository.NewFlowDefinitionRepository(sqlDB, logger),
		Instances:   repository.NewInstanceRepository(sqlDB, logger),
		StepRecords: repository.NewStepRecordRepository(sqlDB, logger),
		Timeline:    repository.NewTimelineRepository(sqlDB, logger),
		Directory:   repository.NewDirectoryRepository(sqlDB, logger),
	}, nil
}

// ProvideLocker creates the per-instance lock for the configured backend.
// The Redis backend is pinged before use.
func ProvideLocker(ctx context.Context, engineCfg *EngineConfig, redisCfg *RedisConfig, logger *zap.Logger) (*LockBundle, error) {
	if engineCfg == nil || redisCfg == nil {
		return nil, fmt.Errorf("engine and redis config are required")
	}

	if engineCfg.LockBackend != LockBackendRedis {
		return &LockBundle{Locker: lock.NewLocal()}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	locker := lock.NewRedis(client, logger,
		lock.WithPrefix(redisCfg.KeyPrefix),
		lock.WithTTL(redisCfg.LockTTL),
		lock.WithWaitTimeout(redisCfg.LockWait),
	)
	if err := locker.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", redisCfg.Addr, err)
	}

	logger.Info("Redis instance lock enabled", zap.String("addr", redisCfg.Addr))
	return &LockBundle{Locker: locker, Redis: client}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}),
	), nil
}

// ProvideNotifier creates the notification channel. Without Lark
// credentials notifications are written to the log.
func ProvideNotifier(cfg *LarkConfig, logger *zap.Logger) (port.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lark config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if cfg.AppID == "" {
		logger.Info("Lark credentials not set, notifications will be logged only")
		return metrics.InstrumentNotifier(lark.NewLogNotifier(logger)), nil
	}

	sdk := lark.NewSDKClient(lark.Config{
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
		BaseURL:       cfg.BaseURL,
		ReceiveIDType: cfg.ReceiveIDType,
	}, logger)

	notifier := lark.NewNotifier(lark.NewMessenger(sdk, logger), logger)
	return metrics.InstrumentNotifier(notifier), nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.InstanceLocker
	Admins     port.AdminAuthorizer
	Dispatcher dispatcher.Dispatcher
	EngineCfg  *EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine wires flow resolution, chain materialization and
// the engine itself.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow deps are required")
	}
	if deps.Repos == nil || deps.TxManager == nil || deps.Locker == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("repositories, transaction manager, locker and dispatcher are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapter := &zapLoggerAdapter{logger: deps.Logger}
	resolver := routing.NewFlowResolver(deps.Repos.Flows, adapter)
	chains := routing.NewChainBuilder(deps.Repos.Directory, adapter)

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLocker(deps.Locker),
		workflow.WithLogger(adapter),
	}
	if deps.Admins != nil {
		opts = append(opts, workflow.WithAdminAuthorizer(deps.Admins))
	}
	if deps.EngineCfg != nil {
		opts = append(opts,
			workflow.WithSweepConcurrency(deps.EngineCfg.SweepConcurrency),
			workflow.WithSweepBatchSize(deps.EngineCfg.SweepBatchSize),
		)
	}

	return workflow.NewEngine(workflow.Repositories{
		Flows:       deps.Repos.Flows,
		Instances:   deps.Repos.Instances,
		StepRecords: deps.Repos.StepRecords,
		Timeline:    deps.Repos.Timeline,
		TxManager:   deps.TxManager,
	}, resolver, chains, opts...), nil
}

// ServiceDeps holds dependencies for application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Notifier   port.Notifier
	Dispatcher dispatcher.Dispatcher
	AdminUsers []string
	Logger     *zap.Logger
}

// ProvideServices creates application services and subscribes the
// notification service to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service deps are required")
	}
	if deps.Repos == nil || deps.TxManager == nil || deps.Notifier == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("repositories, transaction manager, notifier and dispatcher are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapter := &zapLoggerAdapter{logger: deps.Logger}
	notifications := service.NewNotificationService(deps.Notifier, deps.AdminUsers, adapter)
	notifications.Register(deps.Dispatcher)

	return &ServiceBundle{
		Flows:        service.NewFlowService(deps.Repos.Flows, deps.Repos.Instances, deps.TxManager, adapter),
		Notification: notifications,
	}, nil
}

// ProvideMetrics creates the Prometheus registry and subscribes the
// event listener. Returns nil when metrics are disabled.
func ProvideMetrics(cfg *MetricsConfig, d dispatcher.Dispatcher) *prometheus.Registry {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	metrics.NewListener().Register(d)
	return metrics.NewRegistry()
}

// ProvideSeeder creates the YAML seeder over the flow service and SQL directory.
func ProvideSeeder(services *ServiceBundle, repos *RepositoryBundle, logger *zap.Logger) *flowfile.Seeder {
	return flowfile.NewSeeder(services.Flows, repos.Directory, logger)
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Engine    workflow.Engine
	EngineCfg *EngineConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates the worker manager with the escalation worker
// registered. Workers are not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Engine == nil || deps.EngineCfg == nil {
		return nil, fmt.Errorf("engine and engine config are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.EngineCfg.SweepInterval > 0 {
		manager.Register(worker.NewEscalationWorker(worker.EscalationWorkerConfig{
			PollInterval: deps.EngineCfg.SweepInterval,
			SweepTimeout: deps.EngineCfg.SweepTimeout,
			RunOnStart:   true,
		}, deps.Engine, deps.Logger))
	} else {
		deps.Logger.Info("Escalation worker disabled")
	}

	return manager, nil
}
