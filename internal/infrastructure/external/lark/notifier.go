package lark

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// textSender is the part of Messenger the notifier needs
type textSender interface {
	SendText(ctx context.Context, receiveID, text string) (string, error)
}

// Notifier delivers engine notifications as Lark direct messages, one per
// recipient. A failed recipient does not stop delivery to the others.
type Notifier struct {
	sender textSender
	logger *zap.Logger
}

// NewNotifier creates a Lark-backed notifier
func NewNotifier(sender textSender, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

// Notify implements port.Notifier
func (n *Notifier) Notify(ctx context.Context, msg entity.Notification) error {
	text := FormatNotification(msg)

	var errs []error
	for _, recipient := range msg.Recipients {
		if _, err := n.sender.SendText(ctx, recipient, text); err != nil {
			errs = append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
		}
	}
	if len(errs) > 0 {
		n.logger.Error("Notification partially failed",
			zap.String("instance_id", msg.InstanceID),
			zap.String("kind", msg.Kind),
			zap.Int("failed", len(errs)),
			zap.Int("recipients", len(msg.Recipients)))
		return errors.Join(errs...)
	}
	return nil
}

// FormatNotification renders a notification as message text
func FormatNotification(msg entity.Notification) string {
	if msg.Title == "" {
		return msg.Body
	}
	return fmt.Sprintf("%s\n\n%s\n\nInstance: %s", msg.Title, msg.Body, msg.InstanceID)
}

// LogNotifier writes notifications to the log. Used when Lark is disabled.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements port.Notifier
func (n *LogNotifier) Notify(ctx context.Context, msg entity.Notification) error {
	n.logger.Info("Notification",
		zap.String("tenant_id", msg.TenantID),
		zap.String("instance_id", msg.InstanceID),
		zap.String("kind", msg.Kind),
		zap.Strings("recipients", msg.Recipients),
		zap.String("title", msg.Title))
	return nil
}

// Verify interface compliance
var (
	_ port.Notifier = (*Notifier)(nil)
	_ port.Notifier = (*LogNotifier)(nil)
	_ textSender    = (*Messenger)(nil)
)
