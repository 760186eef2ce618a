package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
)

// Sweeper runs one escalation pass
type Sweeper interface {
	EscalateOverdue(ctx context.Context) (*workflow.SweepResult, error)
}

// EscalationWorkerConfig holds configuration for the escalation worker
type EscalationWorkerConfig struct {
	PollInterval time.Duration
	// SweepTimeout bounds a single pass
	SweepTimeout time.Duration
	// RunOnStart sweeps immediately instead of waiting one interval
	RunOnStart bool
}

// DefaultEscalationWorkerConfig returns default configuration
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{
		PollInterval: time.Minute,
		SweepTimeout: 5 * time.Minute,
		RunOnStart:   true,
	}
}

// EscalationWorker periodically escalates instances whose step timed out.
// A sweep is idempotent, so a restart simply resumes on the next tick.
type EscalationWorker struct {
	config  EscalationWorkerConfig
	sweeper Sweeper
	logger  *zap.Logger

	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	isRunning  bool
	runs       int
	escalated  int
	lastRun    time.Time
	lastResult *workflow.SweepResult
	lastError  error
}

// NewEscalationWorker creates a new escalation worker
func NewEscalationWorker(config EscalationWorkerConfig, sweeper Sweeper, logger *zap.Logger) *EscalationWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultEscalationWorkerConfig().PollInterval
	}
	return &EscalationWorker{
		config:  config,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start begins the worker polling loop
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("escalation worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("EscalationWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Bool("run_on_start", w.config.RunOnStart))

	go w.pollLoop(w.ctx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("EscalationWorker stopped",
		zap.Int("runs", w.runs),
		zap.Int("escalated", w.escalated))
	return nil
}

// Name returns the worker name for identification
func (w *EscalationWorker) Name() string {
	return "EscalationWorker"
}

func (w *EscalationWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	if w.config.RunOnStart {
		w.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Poll loop context cancelled")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and records its outcome
func (w *EscalationWorker) RunOnce(ctx context.Context) (*workflow.SweepResult, error) {
	if w.config.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.SweepTimeout)
		defer cancel()
	}

	result, err := w.sweeper.EscalateOverdue(ctx)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	if result != nil {
		w.lastResult = result
		w.escalated += result.Escalated
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Escalation sweep failed", zap.Error(err))
		return result, err
	}

	metrics.RecordSweep(result.Scanned, result.Escalated, result.Blocked, result.Failed, result.Duration)
	if result.Escalated > 0 || result.Blocked > 0 || result.Failed > 0 {
		w.logger.Info("Escalation sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("escalated", result.Escalated),
			zap.Int("blocked", result.Blocked),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// Status reports the worker's runtime state
func (w *EscalationWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:    w.Name(),
		Running: w.isRunning,
		Runs:    w.runs,
		LastRun: w.lastRun,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}
