package config

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/kevinburke/ssh_config"
	"github.com/rs/zerolog"
)

// DefaultRsyncOptions are used when no --rsync-options are given.
var DefaultRsyncOptions = []string{"a", "h", "H", "X", "s"}

// supportedRsyncOptions are the option letters accepted by --rsync-options.
// "r" and "v" are always passed and accepted as no-ops.
var supportedRsyncOptions = map[string]bool{
	"a": true, "l": true, "p": true, "t": true, "g": true, "o": true,
	"c": true, "h": true, "D": true, "H": true, "X": true, "s": true,
}

// Environment abstracts the process environment for path expansion.
type Environment struct {
	EUID       int
	Getenv     func(key string) string
	LookupHome func(username string) (string, error)
	Glob       func(pattern string) ([]string, error)
	// SSHConfig reads ssh_config values; nil disables the lookup.
	SSHConfig models.SSHConfigLookup
}

// DefaultEnvironment returns the environment of the running process.
func DefaultEnvironment() Environment {
	return Environment{
		EUID:   os.Geteuid(),
		Getenv: os.Getenv,
		LookupHome: func(username string) (string, error) {
			u, err := user.Lookup(username)
			if err != nil {
				return "", err
			}
			return u.HomeDir, nil
		},
		Glob:      filepath.Glob,
		SSHConfig: ssh_config.Get,
	}
}

// Resolver merges defaults, the config file and CLI overrides into Settings.
type Resolver struct {
	logger zerolog.Logger
	env    Environment
}

// NewResolver creates a resolver for the running process.
func NewResolver(logger zerolog.Logger) *Resolver {
	return NewResolverWithEnvironment(logger, DefaultEnvironment())
}

// NewResolverWithEnvironment creates a resolver with a custom environment (for testing).
func NewResolverWithEnvironment(logger zerolog.Logger, env Environment) *Resolver {
	return &Resolver{logger: logger, env: env}
}

// DefaultConfigPath returns the config file location for the user owning home.
func DefaultConfigPath(home string) string {
	if current, err := os.UserHomeDir(); home == "" || (err == nil && current == home) {
		return filepath.Join(xdg.ConfigHome, "simple_backup", "simple_backup.conf")
	}
	return filepath.Join(home, ".config", "simple_backup", "simple_backup.conf")
}

// Load reads the config file selected by cli (or the default one) and
// resolves it together with cli. A missing default config file is not an
// error; a missing explicit one is.
func (r *Resolver) Load(cli Overrides) (*models.Settings, error) {
	username, home := r.User(cli)

	configPath := DefaultConfigPath(home)
	explicit := cli.ConfigFile != nil
	if explicit {
		configPath = r.expandUser(*cli.ConfigFile, home)
	}

	var file *FileValues
	if _, err := os.Stat(configPath); err != nil {
		if explicit {
			return nil, configErrorf("config file %s: %v", configPath, err)
		}
		r.logger.Warn().Str("file", configPath).Msg("config file does not exist")
	} else {
		file, err = NewParser().LoadFile(configPath)
		if err != nil {
			return nil, err
		}
		r.logger.Debug().Str("file", configPath).Msg("config file loaded")
	}

	if err := requireSources(file, cli); err != nil {
		return nil, err
	}

	settings, err := r.Resolve(file, cli)
	if err != nil {
		return nil, err
	}
	settings.User = username
	settings.HomeDir = home
	return settings, nil
}

// requireSources fails when neither the config file nor the command line
// names inputs or an output directory.
func requireSources(file *FileValues, cli Overrides) error {
	if file == nil {
		file = &FileValues{}
	}
	inputs := file.Inputs
	if cli.Inputs != nil {
		inputs = cli.Inputs
	}
	if len(splitAll(inputs)) == 0 {
		return configErrorf("no inputs configured: set inputs in [backup] or use --%s", FlagInput)
	}
	if pick(cli.Output, file.BackupDir) == "" {
		return configErrorf("no output directory configured: set backup_dir in [backup] or use --%s", FlagOutput)
	}
	return nil
}

// User returns the user whose home "~" expands to and that home directory:
// --user if given, SUDO_USER when running as root, USER otherwise.
func (r *Resolver) User(cli Overrides) (string, string) {
	var username string
	switch {
	case cli.User != nil && *cli.User != "":
		username = *cli.User
	case r.env.EUID == 0:
		username = r.env.Getenv("SUDO_USER")
	default:
		username = r.env.Getenv("USER")
	}

	if username == "" {
		if r.env.EUID != 0 {
			return "", r.env.Getenv("HOME")
		}
		return "", ""
	}

	home, err := r.env.LookupHome(username)
	if err != nil {
		r.logger.Warn().Err(err).Str("user", username).Msg("cannot find home directory")
		return username, ""
	}
	return username, home
}

// Resolve builds Settings with precedence CLI > file > defaults. file may be nil.
//
//nolint:gocognit,gocyclo // one precedence rule per setting
func (r *Resolver) Resolve(file *FileValues, cli Overrides) (*models.Settings, error) {
	if file == nil {
		file = &FileValues{}
	}
	_, home := r.User(cli)

	settings := &models.Settings{
		Keep:         models.KeepAll,
		RemoveBefore: cli.RemoveBefore,
		Verbose:      cli.Verbose,
		ConfigFile:   file.Path,
		WOL:          file.WOL,
		Notify: models.NotifySettings{
			Desktop:  true,
			Telegram: file.Telegram,
		},
	}

	// Keep-count.
	switch {
	case cli.Keep != nil:
		if *cli.Keep < models.KeepAll {
			return nil, configErrorf("keep must be -1 or greater, got %d", *cli.Keep)
		}
		settings.Keep = *cli.Keep
	case file.Keep != nil:
		settings.Keep = *file.Keep
	}

	// Remote server.
	var server ServerValues
	if file.Server != nil {
		server = *file.Server
	}
	host := pick(cli.SSHHost, server.Host)
	sshUser := pick(cli.SSHUser, server.User)
	keyFile := pick(cli.KeyFile, server.KeyFile)

	if host != "" || sshUser != "" {
		if host == "" || sshUser == "" {
			return nil, apperrors.New(apperrors.KindConfiguration,
				errors.Wrap(models.ErrIncompleteRemote, "incomplete server configuration"))
		}
		settings.Remote = &models.RemoteConfig{
			Host: host,
			User: sshUser,
			Port: server.Port,
			Sudo: cli.RemoteSudo || server.Sudo,
		}
		if keyFile != "" {
			settings.Remote.KeyFile = r.expandUser(keyFile, home)
		}
	}

	// Rsync options.
	options, err := resolveRsyncOptions(cli.RsyncOptions)
	if err != nil {
		return nil, err
	}
	settings.Rsync.Options = options
	settings.Rsync.Defaults = cli.RsyncOptions == nil
	if cli.Checksum && !slices.Contains(settings.Rsync.Options, "c") {
		settings.Rsync.Options = append(settings.Rsync.Options, "c")
	}
	settings.Rsync.Compress = cli.Compress
	settings.Rsync.NumericIDs = cli.NumericIDs || server.NumericIDs

	// Inputs.
	inputs := file.Inputs
	if cli.Inputs != nil {
		inputs = cli.Inputs
	}
	settings.Inputs = r.expandInputs(splitAll(inputs), home)

	// Output directory.
	output := pick(cli.Output, file.BackupDir)
	if output != "" {
		output = r.expandUser(output, home)
		if settings.IsRemote() {
			output = path.Clean(output)
		} else if abs, err := filepath.Abs(output); err == nil {
			output = abs
		}
	}
	settings.Output = output

	// Excludes are rsync patterns; only "~" is expanded.
	excludes := file.Excludes
	if cli.Excludes != nil {
		excludes = cli.Excludes
	}
	for _, e := range splitAll(excludes) {
		settings.Excludes = append(settings.Excludes, r.expandUser(e, home))
	}

	// Notifications.
	if file.Desktop != nil {
		settings.Notify.Desktop = *file.Desktop
	}
	if cli.NoNotify {
		settings.Notify.Desktop = false
		settings.Notify.Telegram = nil
	}

	if settings.WOL != nil {
		if !settings.IsRemote() {
			return nil, configErrorf("wol requires a remote server")
		}
		if settings.WOL.PollAddr == "" {
			wol := *settings.WOL
			wol.PollAddr = settings.Remote.Address(r.env.SSHConfig)
			settings.WOL = &wol
		}
	}

	return settings, nil
}

// expandInputs expands "~" and wildcards. Inputs matching nothing are
// skipped with a warning; duplicates are dropped.
func (r *Resolver) expandInputs(inputs []string, home string) []string {
	seen := make(map[string]bool)
	var expanded []string

	for _, in := range inputs {
		pattern := r.expandUser(in, home)

		matches, err := r.env.Glob(pattern)
		if err != nil {
			r.logger.Warn().Err(err).Str("input", in).Msg("invalid input pattern, skipping")
			continue
		}
		if len(matches) == 0 {
			r.logger.Warn().Str("input", in).Msg("no file or directory matching input, skipping")
			continue
		}

		for _, m := range matches {
			if abs, err := filepath.Abs(m); err == nil {
				m = abs
			}
			if !seen[m] {
				seen[m] = true
				expanded = append(expanded, m)
			}
		}
	}

	return expanded
}

// expandUser replaces a leading "~" with home.
func (r *Resolver) expandUser(p, home string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	if home == "" {
		r.logger.Warn().Str("path", p).Msg("cannot expand '~', no user home directory")
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

func resolveRsyncOptions(requested []string) ([]string, error) {
	if requested == nil {
		return append([]string(nil), DefaultRsyncOptions...), nil
	}

	var options []string
	for _, group := range requested {
		for _, r := range strings.TrimLeft(strings.TrimSpace(group), "-") {
			letter := string(r)
			if letter == "r" || letter == "v" {
				continue
			}
			if !supportedRsyncOptions[letter] {
				return nil, configErrorf("unsupported rsync option %q", letter)
			}
			if !slices.Contains(options, letter) {
				options = append(options, letter)
			}
		}
	}
	return options, nil
}

// splitAll splits comma-separated elements of values.
func splitAll(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, splitList(v)...)
	}
	return out
}

func pick(cli *string, file string) string {
	if cli != nil {
		return strings.TrimSpace(*cli)
	}
	return file
}
