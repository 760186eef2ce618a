package service

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// NotificationService turns committed lifecycle events into notifications
type NotificationService interface {
	// Register subscribes the service to the events it notifies on
	Register(d dispatcher.Dispatcher)
	Handle(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	notifier port.Notifier
	admins   []string
	logger   Logger
}

// NewNotificationService creates a new NotificationService. admins receive
// awaiting-assignment notices; with none configured those are dropped.
func NewNotificationService(notifier port.Notifier, admins []string, logger Logger) NotificationService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &notificationServiceImpl{
		notifier: notifier,
		admins:   append([]string(nil), admins...),
		logger:   logger,
	}
}

var notifiedEvents = []event.Type{
	event.TypeChainMaterialized,
	event.TypeStepDelegated,
	event.TypeStepEscalated,
	event.TypeInstanceAwaitingAssignment,
	event.TypeInstanceApproved,
	event.TypeInstanceRejected,
	event.TypeInstanceCancelled,
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range notifiedEvents {
		d.SubscribeNamed(t, "notification", s.Handle)
	}
}

func (s *notificationServiceImpl) Handle(ctx context.Context, evt *event.Event) error {
	n, ok := s.build(evt)
	if !ok {
		return nil
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("Failed to send notification",
			"error", err,
			"instance_id", evt.InstanceID,
			"kind", n.Kind,
			"recipients", len(n.Recipients),
		)
		return fmt.Errorf("notify %s: %w", n.Kind, err)
	}

	s.logger.Info("Notification sent",
		"instance_id", evt.InstanceID,
		"kind", n.Kind,
		"recipients", len(n.Recipients),
	)
	return nil
}

// build maps an event to its notification. False means nobody is notified.
func (s *notificationServiceImpl) build(evt *event.Event) (entity.Notification, bool) {
	n := entity.Notification{TenantID: evt.TenantID, InstanceID: evt.InstanceID}
	docType := evt.GetPayloadString(event.PayloadDocumentType)

	switch evt.Type {
	case event.TypeChainMaterialized:
		n.Kind = entity.NotifyApprovalRequested
		n.Recipients = evt.GetPayloadStrings(event.PayloadApprovers)
		n.Title = "Approval requested"
		n.Body = fmt.Sprintf("A %s request from %s needs your decision (step %d).",
			docType, evt.GetPayloadString(event.PayloadRequesterID), evt.GetPayloadInt(event.PayloadStepIndex)+1)

	case event.TypeStepDelegated:
		n.Kind = entity.NotifyApprovalRequested
		if to := evt.GetPayloadString(event.PayloadDelegateTo); to != "" {
			n.Recipients = []string{to}
		}
		n.Title = "Approval delegated to you"
		n.Body = fmt.Sprintf("%s delegated a %s request to you.", evt.Actor, docType)

	case event.TypeStepEscalated:
		n.Kind = entity.NotifyEscalated
		n.Recipients = evt.GetPayloadStrings(event.PayloadApprovers)
		n.Title = "Overdue approval escalated"
		n.Body = fmt.Sprintf("A %s request timed out at step %d and was escalated to you.",
			docType, evt.GetPayloadInt(event.PayloadStepIndex)+1)

	case event.TypeInstanceAwaitingAssignment:
		n.Kind = entity.NotifyAwaitingAssign
		n.Recipients = s.admins
		n.Title = "Approvers need assignment"
		n.Body = fmt.Sprintf("Instance %s is waiting: %s.", evt.InstanceID, evt.GetPayloadString(event.PayloadBlockedReason))

	case event.TypeInstanceApproved, event.TypeInstanceRejected, event.TypeInstanceCancelled:
		n.Kind = entity.NotifyCompleted
		if requester := evt.GetPayloadString(event.PayloadRequesterID); requester != "" {
			n.Recipients = []string{requester}
		}
		n.Title = "Request " + evt.GetPayloadString(event.PayloadToStatus)
		n.Body = fmt.Sprintf("Your %s request is now %s.", docType, evt.GetPayloadString(event.PayloadToStatus))

	default:
		return n, false
	}

	return n, len(n.Recipients) > 0
}
