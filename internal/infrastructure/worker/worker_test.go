package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/workflow"
)

type mockSweeper struct {
	calls int32
	err   error
}

func (m *mockSweeper) EscalateOverdue(ctx context.Context) (*workflow.SweepResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return nil, m.err
	}
	return &workflow.SweepResult{Scanned: 3, Escalated: 1, Duration: time.Millisecond}, nil
}

func (m *mockSweeper) count() int {
	return int(atomic.LoadInt32(&m.calls))
}

func TestEscalationWorker_RunOnce(t *testing.T) {
	sweeper := &mockSweeper{}
	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), sweeper, zap.NewNop())

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)

	status := w.Status()
	assert.Equal(t, "EscalationWorker", status.Name)
	assert.Equal(t, 1, status.Runs)
	assert.Empty(t, status.LastError)
	assert.False(t, status.Running)
}

func TestEscalationWorker_RunOnceRecordsError(t *testing.T) {
	w := NewEscalationWorker(DefaultEscalationWorkerConfig(), &mockSweeper{err: errors.New("db down")}, zap.NewNop())

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, "db down", w.Status().LastError)
}

func TestEscalationWorker_LoopAndStop(t *testing.T) {
	sweeper := &mockSweeper{}
	w := NewEscalationWorker(EscalationWorkerConfig{PollInterval: 10 * time.Millisecond, RunOnStart: true}, sweeper, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "already running")

	assert.Eventually(t, func() bool { return sweeper.count() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	stopped := sweeper.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sweeper.count(), "no sweeps after Stop returns")
	assert.NoError(t, w.Stop(), "stop is idempotent")
}

func TestWorkerManager(t *testing.T) {
	m := NewWorkerManager(zap.NewNop())
	w := NewEscalationWorker(EscalationWorkerConfig{PollInterval: time.Hour}, &mockSweeper{}, zap.NewNop())
	m.Register(w)
	assert.Equal(t, 1, m.GetWorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	statuses := m.Statuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Running)

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.False(t, m.Statuses()[0].Running)
	assert.NoError(t, m.StopAll())
}
