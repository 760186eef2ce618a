package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

func TestListener_Handle(t *testing.T) {
	eventsTotal.Reset()
	instancesCompletedTotal.Reset()
	before := testutil.ToFloat64(awaitingAssignmentTotal)

	l := NewListener()
	ctx := context.Background()

	approved := event.NewEvent(event.TypeInstanceApproved, "t1", "i1", "u1",
		map[string]interface{}{event.PayloadToStatus: "approved"})
	require.NoError(t, l.Handle(ctx, approved))
	require.NoError(t, l.Handle(ctx, event.NewEvent(event.TypeStepApproved, "t1", "i1", "u1", nil)))
	require.NoError(t, l.Handle(ctx, event.NewEvent(event.TypeInstanceAwaitingAssignment, "t1", "i2", "system", nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(eventsTotal.WithLabelValues("instance.approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(eventsTotal.WithLabelValues("step.approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(instancesCompletedTotal.WithLabelValues("approved")))
	assert.Equal(t, before+1, testutil.ToFloat64(awaitingAssignmentTotal))
}

func TestListener_RegisterOnDispatcher(t *testing.T) {
	eventsTotal.Reset()
	d := dispatcher.NewDispatcher()
	NewListener().Register(d)

	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeStepEscalated, "t1", "i1", "system", nil)))
	assert.Equal(t, 1.0, testutil.ToFloat64(eventsTotal.WithLabelValues("step.escalated")))
}

func TestRecordSweepAndNotification(t *testing.T) {
	sweepInstancesTotal.Reset()
	notificationsTotal.Reset()

	RecordSweep(10, 3, 1, 2, 150*time.Millisecond)
	assert.Equal(t, 10.0, testutil.ToFloat64(sweepInstancesTotal.WithLabelValues("scanned")))
	assert.Equal(t, 3.0, testutil.ToFloat64(sweepInstancesTotal.WithLabelValues("escalated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sweepInstancesTotal.WithLabelValues("failed")))

	RecordNotification("completed", nil)
	RecordNotification("completed", errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues("completed", "error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	eventsTotal.Reset()
	eventsTotal.WithLabelValues("instance.started").Inc()

	srv := httptest.NewServer(Handler(NewRegistry()))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "approval_engine_events_total"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

type stubNotifier struct{ err error }

func (s stubNotifier) Notify(context.Context, entity.Notification) error { return s.err }

func TestInstrumentNotifier(t *testing.T) {
	notificationsTotal.Reset()

	ok := InstrumentNotifier(stubNotifier{})
	failing := InstrumentNotifier(stubNotifier{err: errors.New("down")})

	require.NoError(t, ok.Notify(context.Background(), entity.Notification{Kind: "escalated"}))
	require.Error(t, failing.Notify(context.Background(), entity.Notification{Kind: "escalated"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues("escalated", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues("escalated", "error")))
}
