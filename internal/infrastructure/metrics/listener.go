package metrics

import (
	"context"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Listener records committed events as metrics. Register it on the
// dispatcher with AllEvents.
type Listener struct{}

// NewListener creates a new Listener
func NewListener() *Listener {
	return &Listener{}
}

// Register subscribes the listener to every event type
func (l *Listener) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AllEvents, "metrics", l.Handle)
}

// Handle is a dispatcher.Handler
func (l *Listener) Handle(ctx context.Context, evt *event.Event) error {
	eventsTotal.WithLabelValues(string(evt.Type)).Inc()

	switch evt.Type {
	case event.TypeInstanceApproved, event.TypeInstanceRejected, event.TypeInstanceCancelled:
		instancesCompletedTotal.WithLabelValues(evt.GetPayloadString(event.PayloadToStatus)).Inc()
	case event.TypeInstanceAwaitingAssignment:
		awaitingAssignmentTotal.Inc()
	}
	return nil
}

type instrumentedNotifier struct {
	next port.Notifier
}

// InstrumentNotifier counts deliveries made through next
func InstrumentNotifier(next port.Notifier) port.Notifier {
	return &instrumentedNotifier{next: next}
}

func (n *instrumentedNotifier) Notify(ctx context.Context, msg entity.Notification) error {
	err := n.next.Notify(ctx, msg)
	RecordNotification(msg.Kind, err)
	return err
}
