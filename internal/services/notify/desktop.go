package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
)

// AppName is the application name shown in desktop notifications.
const AppName = "simple_backup"

// Command is a process started by the desktop notifier.
type Command struct {
	Name string
	Args []string
	Env  []string
	// Credential drops privileges when set.
	Credential *syscall.Credential
}

// CommandExecutor runs notification commands.
type CommandExecutor interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// DefaultExecutor starts commands with os/exec.
type DefaultExecutor struct{}

// Run executes cmd and returns its combined output.
func (e *DefaultExecutor) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	if cmd.Credential != nil {
		c.SysProcAttr = &syscall.SysProcAttr{Credential: cmd.Credential}
	}
	return c.CombinedOutput()
}

// Desktop sends notifications to the session bus of the invoking user
// through notify-send.
type Desktop struct {
	executor CommandExecutor
	euid     int
	getenv   func(string) string
	logger   zerolog.Logger
}

// NewDesktop creates a Desktop notifier.
func NewDesktop(logger zerolog.Logger) *Desktop {
	return NewDesktopWithExecutor(logger, &DefaultExecutor{}, os.Geteuid(), os.Getenv)
}

// NewDesktopWithExecutor creates a Desktop notifier with a custom executor (for testing).
func NewDesktopWithExecutor(logger zerolog.Logger, executor CommandExecutor, euid int, getenv func(string) string) *Desktop {
	return &Desktop{
		executor: executor,
		euid:     euid,
		getenv:   getenv,
		logger:   logger,
	}
}

// Notify shows msg on the user's desktop. Under sudo the notification goes
// to the session of SUDO_UID; as plain root there is no session and nothing
// is sent.
func (d *Desktop) Notify(ctx context.Context, msg models.Notification) error {
	cmd := Command{
		Name: "notify-send",
		Args: []string{
			"--app-name=" + AppName,
			"--urgency=normal",
			"--expire-time=10000",
			AppName,
			Text(msg),
		},
	}

	uid := d.euid
	if d.euid == 0 {
		sudoUID, err := strconv.Atoi(d.getenv("SUDO_UID"))
		if err != nil {
			d.logger.Debug().Msg("no desktop session to notify")
			return nil
		}
		uid = sudoUID

		gid, err := strconv.Atoi(d.getenv("SUDO_GID"))
		if err != nil {
			gid = uid
		}
		cmd.Credential = &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)} //nolint:gosec // ids come from sudo
	}
	cmd.Env = []string{fmt.Sprintf("DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/%d/bus", uid)}

	if out, err := d.executor.Run(ctx, cmd); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			d.logger.Debug().Msg("notify-send not installed")
			return nil
		}
		return errors.Wrapf(err, "desktop notification failed: %s", out)
	}
	return nil
}
