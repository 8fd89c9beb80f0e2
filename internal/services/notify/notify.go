// Package notify delivers run notifications to the desktop and chat sinks.
package notify

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
)

// Notifier delivers a notification to one sink.
type Notifier interface {
	Notify(ctx context.Context, msg models.Notification) error
}

// Nop discards notifications.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, models.Notification) error { return nil }

// Multi fans a notification out to several sinks.
type Multi []Notifier

// Notify delivers msg to every sink and joins their errors.
func (m Multi) Notify(ctx context.Context, msg models.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Text returns the message shown for msg.
func Text(msg models.Notification) string {
	if msg.Text != "" {
		return msg.Text
	}
	switch msg.Event {
	case models.EventStarted:
		return "Starting backup..."
	case models.EventCompleted:
		return "Backup completed"
	case models.EventWarning:
		return "Backup completed with warnings. Check log for details"
	default:
		return "Backup failed (check log for details)"
	}
}
