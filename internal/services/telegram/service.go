// Package telegram posts backup run outcomes to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
)

// maxWarnings caps the warnings listed in one message.
const maxWarnings = 5

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.Notification) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: 30 * time.Second}, "https://api.telegram.org")
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendNotification posts msg to the chat in cfg. Delivery failures are
// reported in the result, not as the returned error.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.Notification) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Debug().
		Str("chat_id", cfg.ChatID).
		Str("event", string(msg.Event)).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                cfg.ChatID,
		Text:                  formatMessage(msg),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		result.Error = errors.Wrap(err, "failed to marshal request")
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = errors.Wrap(err, "failed to create request")
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = errors.Wrap(err, "failed to send request")
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		result.Error = err
		return result, nil
	}

	result.MessageSent = true
	s.logger.Debug().Msg("Telegram notification sent")

	return result, nil
}

// checkResponse turns a failed reply into an error carrying the API's
// description when one is present.
func checkResponse(resp *http.Response) error {
	var reply apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	decoded := json.Unmarshal(raw, &reply) == nil

	switch {
	case resp.StatusCode != http.StatusOK && reply.Description != "":
		return errors.Newf("telegram API returned status %d: %s", resp.StatusCode, reply.Description)
	case resp.StatusCode != http.StatusOK:
		return errors.Newf("telegram API returned status %d", resp.StatusCode)
	case decoded && !reply.OK && reply.Description != "":
		return errors.Newf("telegram API error: %s", reply.Description)
	default:
		return nil
	}
}

var headlines = map[models.NotificationEvent]string{
	models.EventStarted:   "🚀 <b>Backup Started</b>",
	models.EventCompleted: "✅ <b>Backup Successful</b>",
	models.EventWarning:   "⚠️ <b>Backup Completed With Warnings</b>",
	models.EventFailed:    "❌ <b>Backup Failed</b>",
}

// message accumulates an HTML-formatted Telegram message.
type message struct {
	strings.Builder
}

func (m *message) line(format string, args ...interface{}) {
	fmt.Fprintf(&m.Builder, format, args...)
	m.WriteByte('\n')
}

// field writes a bold label followed by an escaped value.
func (m *message) field(icon, label, value string) {
	m.line("%s <b>%s:</b> %s", icon, label, html.EscapeString(value))
}

func formatMessage(msg models.Notification) string {
	var m message

	headline, ok := headlines[msg.Event]
	if !ok {
		headline = headlines[models.EventFailed]
	}
	m.line("%s\n", headline)

	m.field("🖥", "Host", msg.Host)
	if msg.Destination != "" {
		m.field("📁", "Destination", msg.Destination)
	}
	m.field("⏰", "Started", msg.StartTime.Format("2006-01-02 15:04:05"))
	if msg.Event == models.EventStarted {
		return m.String()
	}
	m.field("⏱", "Duration", msg.Duration.Round(time.Second).String())

	if msg.Event == models.EventFailed || !ok {
		m.line("\n<b>⚠️ Error Details:</b>")
		if msg.FailedStep != "" {
			m.line("  • Failed step: %s", html.EscapeString(msg.FailedStep))
		}
		m.line("  • Error: <code>%s</code>", html.EscapeString(msg.ErrorMessage))
		return m.String()
	}

	if msg.BackupPath != "" {
		m.line("\n<b>📦 Backup:</b> <code>%s</code>", html.EscapeString(msg.BackupPath))
	}
	if msg.Pruned > 0 || msg.PruneFailures > 0 {
		m.line("\n<b>🗑 Retention:</b>")
		m.line("  • Backups removed: %d", msg.Pruned)
		if msg.PruneFailures > 0 {
			m.line("  • Removals failed: %d", msg.PruneFailures)
		}
	}
	if len(msg.Warnings) > 0 {
		m.line("\n<b>⚠️ Warnings:</b>")
		for i, w := range msg.Warnings {
			if i == maxWarnings {
				m.line("  • ... and %d more", len(msg.Warnings)-maxWarnings)
				break
			}
			m.line("  • %s", html.EscapeString(w))
		}
	}

	return m.String()
}
