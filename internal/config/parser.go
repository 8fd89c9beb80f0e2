// Package config reads the simple-backup configuration file and resolves it,
// together with defaults and command-line overrides, into models.Settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/spf13/viper"
)

// legacySection is read when the file has no [backup] section.
const (
	backupSection = "backup"
	legacySection = "default"
)

// FileValues holds the values read from a configuration file. Unset values
// are left at their zero value (nil for pointers).
type FileValues struct {
	Path      string
	Inputs    []string
	BackupDir string
	Excludes  []string
	Keep      *int
	Server    *ServerValues // nil if there is no [server] section
	Desktop   *bool
	Telegram  *models.TelegramConfig
	WOL       *models.WOLConfig
}

// ServerValues holds the [server] section.
type ServerValues struct {
	Host       string
	User       string
	KeyFile    string
	Port       int
	Sudo       bool
	NumericIDs bool
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("ini")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*FileValues, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, apperrors.New(apperrors.KindConfiguration, errors.Wrap(err, "reading config file"))
	}

	values, err := p.parse()
	if err != nil {
		return nil, err
	}
	values.Path = path
	return values, nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*FileValues, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, apperrors.New(apperrors.KindConfiguration, errors.Wrap(err, "reading config"))
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*FileValues, error) {
	values := &FileValues{}

	section := backupSection
	if !p.v.IsSet(backupSection) {
		if !p.v.IsSet(legacySection) {
			return nil, configErrorf("missing [%s] section", backupSection)
		}
		section = legacySection
	}

	values.Inputs = splitList(p.get(section + ".inputs"))
	values.BackupDir = p.get(section + ".backup_dir")
	values.Excludes = splitList(p.get(section + ".exclude"))

	if raw := p.get(section + ".keep"); raw != "" {
		keep, err := ParseKeep(raw)
		if err != nil {
			return nil, err
		}
		values.Keep = &keep
	}

	// Parse optional server section.
	if p.v.IsSet("server") {
		server := &ServerValues{
			Host:    p.get("server.ssh_host"),
			User:    p.get("server.ssh_user"),
			KeyFile: p.get("server.ssh_keyfile"),
		}

		var err error
		if raw := p.get("server.ssh_port"); raw != "" {
			if server.Port, err = strconv.Atoi(raw); err != nil || server.Port <= 0 || server.Port > 65535 {
				return nil, configErrorf("server.ssh_port must be a valid port, got %q", raw)
			}
		}
		if server.Sudo, err = p.getBool("server.remote_sudo"); err != nil {
			return nil, err
		}
		if server.NumericIDs, err = p.getBool("server.numeric_ids"); err != nil {
			return nil, err
		}

		values.Server = server
	}

	if p.v.IsSet("notify.desktop") {
		desktop, err := p.getBool("notify.desktop")
		if err != nil {
			return nil, err
		}
		values.Desktop = &desktop
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		values.Telegram = &models.TelegramConfig{
			BotToken: p.get("telegram.bot_token"),
			ChatID:   p.get("telegram.chat_id"),
		}

		if values.Telegram.BotToken == "" {
			return nil, configErrorf("telegram.bot_token is required when telegram is configured")
		}
		if values.Telegram.ChatID == "" {
			return nil, configErrorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		values.WOL = &models.WOLConfig{
			MACAddress:    p.get("wol.mac_address"),
			BroadcastIP:   p.get("wol.broadcast_ip"),
			PollAddr:      p.get("wol.poll_addr"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if values.WOL.MACAddress == "" {
			return nil, configErrorf("wol.mac_address is required when wol is configured")
		}
		if raw := p.get("wol.port"); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil || port <= 0 || port > 65535 {
				return nil, configErrorf("wol.port must be a valid port, got %q", raw)
			}
			values.WOL.Port = port
		}

		// Set defaults.
		if values.WOL.BroadcastIP == "" {
			values.WOL.BroadcastIP = "255.255.255.255"
		}
		if values.WOL.Timeout == 0 {
			values.WOL.Timeout = 5 * time.Minute
		}
		if values.WOL.PollInterval == 0 {
			values.WOL.PollInterval = 10 * time.Second
		}
		if values.WOL.StabilizeWait == 0 {
			values.WOL.StabilizeWait = 10 * time.Second
		}
	}

	return values, nil
}

// get returns a trimmed string value with environment variables expanded.
func (p *Parser) get(key string) string {
	return strings.TrimSpace(os.ExpandEnv(p.v.GetString(key)))
}

func (p *Parser) getBool(key string) (bool, error) {
	raw := p.get(key)
	if raw == "" {
		return false, nil
	}
	b, err := ParseBool(raw)
	if err != nil {
		return false, configErrorf("%s: %v", key, err)
	}
	return b, nil
}

// ParseKeep parses a keep-count. -1 keeps every backup.
func ParseKeep(raw string) (int, error) {
	keep, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, configErrorf("keep must be an integer, got %q", raw)
	}
	if keep < models.KeepAll {
		return 0, configErrorf("keep must be -1 or greater, got %d", keep)
	}
	return keep, nil
}

// ParseBool accepts the boolean spellings of INI files.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off":
		return false, nil
	}
	return false, errors.Newf("not a boolean: %q", raw)
}

// splitList splits a comma-separated value, dropping empty elements.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func configErrorf(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.KindConfiguration, format, args...)
}
