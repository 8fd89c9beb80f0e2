package models

import "time"

// NotificationEvent identifies what a notification reports.
type NotificationEvent string

// Notification events.
const (
	EventStarted   NotificationEvent = "started"
	EventCompleted NotificationEvent = "completed"
	EventWarning   NotificationEvent = "completed_with_warnings"
	EventFailed    NotificationEvent = "failed"
)

// Notification holds the data sent to notification sinks.
type Notification struct {
	Event       NotificationEvent
	Text        string
	Host        string
	Destination string
	BackupPath  string
	StartTime   time.Time
	Duration    time.Duration

	Pruned        int
	PruneFailures int
	Warnings      []string

	// Error info (if failed).
	FailedStep   string
	ErrorMessage string
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
