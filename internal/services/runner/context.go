package runner

import (
	"os"

	"github.com/fgeck/simple-backup/internal/services/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunContext carries the per-run collaborators. It lives for exactly one run.
type RunContext struct {
	ID       string
	Host     string
	Logger   zerolog.Logger
	Notifier notify.Notifier
}

// NewRunContext creates a RunContext with a fresh run id attached to logger.
// A nil notifier discards notifications.
func NewRunContext(logger zerolog.Logger, notifier notify.Notifier) RunContext {
	id := uuid.NewString()
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return RunContext{
		ID:       id,
		Host:     host,
		Logger:   logger.With().Str("run_id", id).Logger(),
		Notifier: notifier,
	}
}
