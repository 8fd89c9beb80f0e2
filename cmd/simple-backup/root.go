package main

import (
	"context"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/config"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/fgeck/simple-backup/internal/services/notify"
	"github.com/fgeck/simple-backup/internal/services/runner"
	"github.com/fgeck/simple-backup/internal/services/ssh"
	"github.com/fgeck/simple-backup/internal/services/telegram"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// syslogTag identifies simple-backup records in the system log.
const syslogTag = "simple_backup"

// Version is set at build time.
var Version = "dev"

// app holds the output options and logger of one invocation.
type app struct {
	verbose    bool
	quiet      bool
	jsonOutput bool
	noSyslog   bool

	logger zerolog.Logger
}

func newApp() *app {
	return &app{logger: zerolog.Nop()}
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simple-backup",
		Short: "Incremental backups with rsync",
		Long: `simple-backup copies files and directories with rsync into a new
timestamped directory below <output>/simple_backup, hard-linking unchanged
files against the previous backup. The output directory may be local or on
an SSH server. Old backups beyond --keep are removed.

Settings are read from ~/.config/simple_backup/simple_backup.conf and can be
overridden with flags.`,
		Args:          noArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadDotEnv(cmd.ErrOrStderr())
			a.logger = a.newLogger(cmd.OutOrStdout())
			return nil
		},
		RunE:    a.runBackup,
		Version: Version,
	}

	flags := cmd.PersistentFlags()
	flags.StringP(config.FlagConfig, "c", "", "config file (default ~/.config/simple_backup/simple_backup.conf)")
	flags.StringSliceP(config.FlagInput, "i", nil, "files and directories to back up")
	flags.StringP(config.FlagOutput, "o", "", "output directory for the backups")
	flags.StringSliceP(config.FlagExclude, "e", nil, "patterns to exclude")
	flags.IntP(config.FlagKeep, "k", models.KeepAll, "number of old backups to keep (-1 keeps all)")
	flags.StringP(config.FlagUser, "u", "", "user whose home directory ~ expands to")
	flags.String(config.FlagSSHHost, "", "SSH server to back up to")
	flags.String(config.FlagSSHUser, "", "user on the SSH server")
	flags.String(config.FlagKeyFile, "", "SSH private key")
	flags.BoolP(config.FlagChecksum, "s", false, "compare files by checksum instead of mtime and size")
	flags.BoolP(config.FlagCompress, "z", false, "compress data during the transfer")
	flags.Bool(config.FlagRemoveBefore, false, "remove old backups before the new one is created")
	flags.StringSlice(config.FlagRsyncOptions, nil, "rsync option letters (subset of a l p t g o c h D H X s)")
	flags.Bool(config.FlagRemoteSudo, false, "run rsync and removals with sudo on the server")
	flags.Bool(config.FlagNumericIDs, false, "keep numeric user and group ids")
	flags.Bool(config.FlagNoNotify, false, "disable desktop and Telegram notifications")
	flags.BoolVar(&a.noSyslog, "no-syslog", false, "do not write to the system log")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose (debug) output and full rsync output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	flags.BoolVar(&a.jsonOutput, "json", false, "output logs in JSON format")

	// --inputs is the spelling of earlier releases.
	cmd.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "inputs" {
			name = config.FlagInput
		}
		return pflag.NormalizedName(name)
	})

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError(c, err)
	})

	cmd.AddCommand(a.validateCmd())
	cmd.AddCommand(a.listCmd())

	return cmd
}

// usageError reports a command-line mistake. It is a configuration error.
func usageError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\nRun '%s --help' for usage.\n", err, cmd.CommandPath())
	return apperrors.New(apperrors.KindConfiguration, err)
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError(cmd, errors.Newf("unexpected argument %q", args[0]))
	}
	return nil
}

func loadDotEnv(stderr io.Writer) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "warning: cannot read .env: %v\n", err)
	}
}

func (a *app) newLogger(out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if !a.jsonOutput {
		console := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		console.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		w = console
	}

	writers := []io.Writer{w}
	var syslogErr error
	if !a.noSyslog {
		sw, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, syslogTag)
		if err != nil {
			syslogErr = err
		} else {
			writers = append(writers, zerolog.SyslogLevelWriter(sw))
		}
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(a.logLevel()).
		With().Timestamp().Logger()

	if syslogErr != nil {
		l.Warn().Err(syslogErr).Msg("system log unavailable")
	}
	return l
}

func (a *app) logLevel() zerolog.Level {
	switch {
	case a.quiet:
		return zerolog.ErrorLevel
	case a.verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// loadSettings resolves the configuration for cmd's flags.
func loadSettings(cmd *cobra.Command, logger zerolog.Logger) (*models.Settings, error) {
	overrides, err := config.OverridesFromFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}

	settings, err := config.NewResolver(logger).Load(overrides)
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}
	return settings, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func (a *app) runBackup(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	rc := runner.NewRunContext(a.logger, newNotifier(a.logger, settings))
	_, err = runner.New(rc, sshOptions(settings)).Run(ctx, settings)
	return err
}

func newNotifier(logger zerolog.Logger, settings *models.Settings) notify.Notifier {
	var sinks notify.Multi
	if settings.Notify.Desktop {
		sinks = append(sinks, notify.NewDesktop(logger))
	}
	if settings.Notify.Telegram != nil {
		sinks = append(sinks, telegram.NewNotifier(telegram.New(logger), *settings.Notify.Telegram))
	}
	return sinks
}

func sshOptions(settings *models.Settings) ssh.Options {
	opts := ssh.Options{HomeDir: settings.HomeDir}
	if p := newTerminalPrompter(); p != nil {
		opts.Prompter = p
	}
	return opts
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return execute(newRootCmd(), os.Args[1:])
}

func execute(cmd *cobra.Command, args []string) error {
	cmd.SetArgs(expandMultiValueArgs(cmd, args))
	return cmd.Execute()
}
