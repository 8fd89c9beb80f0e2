package telegram

import (
	"context"

	"github.com/fgeck/simple-backup/internal/models"
)

// Notifier sends run outcomes to a Telegram chat.
type Notifier struct {
	svc Service
	cfg models.TelegramConfig
}

// NewNotifier creates a Notifier posting to the chat in cfg.
func NewNotifier(svc Service, cfg models.TelegramConfig) *Notifier {
	return &Notifier{svc: svc, cfg: cfg}
}

// Notify sends msg. Start events are not posted to the chat.
func (n *Notifier) Notify(ctx context.Context, msg models.Notification) error {
	if msg.Event == models.EventStarted {
		return nil
	}

	result, err := n.svc.SendNotification(ctx, n.cfg, msg)
	if err != nil {
		return err
	}
	return result.Error
}
