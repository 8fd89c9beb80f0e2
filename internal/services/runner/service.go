// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/fgeck/simple-backup/internal/services/notify"
	"github.com/fgeck/simple-backup/internal/services/planner"
	"github.com/fgeck/simple-backup/internal/services/retention"
	"github.com/fgeck/simple-backup/internal/services/rsync"
	"github.com/fgeck/simple-backup/internal/services/ssh"
	"github.com/fgeck/simple-backup/internal/services/wol"
	"github.com/rs/zerolog"
)

// cleanupTimeout bounds the work done after the run context is canceled.
const cleanupTimeout = 30 * time.Second

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, settings *models.Settings) (*models.RunReport, error)
	Inspect(ctx context.Context, settings *models.Settings) (*models.Inventory, error)
}

// Services are the collaborators the runner drives.
type Services struct {
	Planner   *planner.Planner
	LocalFS   planner.FS
	SSH       ssh.Service
	Retention retention.Service
	Rsync     rsync.Service
	WOL       wol.Service
}

// Impl implements the runner Service interface.
type Impl struct {
	svc      Services
	rc       RunContext
	logger   zerolog.Logger
	notifier notify.Notifier
}

// New creates a runner for one run.
func New(rc RunContext, sshOpts ssh.Options) *Impl {
	return NewWithServices(rc, Services{
		Planner:   planner.New(rc.Logger),
		LocalFS:   planner.LocalFS{},
		SSH:       ssh.New(rc.Logger, sshOpts),
		Retention: retention.New(rc.Logger),
		Rsync:     rsync.New(rc.Logger),
		WOL:       wol.New(rc.Logger),
	})
}

// NewWithServices creates a runner with custom services (for testing).
func NewWithServices(rc RunContext, svc Services) *Impl {
	notifier := rc.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Impl{
		svc:      svc,
		rc:       rc,
		logger:   rc.Logger,
		notifier: notifier,
	}
}

// target is an opened destination.
type target struct {
	dest  models.Destination
	fs    planner.FS
	env   []string // extra rsync environment
	close func()
}

// Run executes the complete backup workflow:
// Validating -> (PreRemoving) -> Syncing -> (PostRemoving) -> Done, with
// Failed reachable from every step. Pruning failures only add warnings.
//
//nolint:gocognit,gocyclo // one branch per workflow step
func (s *Impl) Run(ctx context.Context, settings *models.Settings) (report *models.RunReport, runErr error) {
	report = &models.RunReport{
		State:     models.StateInit,
		StartTime: time.Now(),
	}
	noInput := false

	s.logger.Info().
		Strs("inputs", settings.Inputs).
		Str("output", settings.Output).
		Bool("remote", settings.IsRemote()).
		Int("keep", settings.Keep).
		Msg("starting backup")
	s.notify(ctx, s.notification(models.EventStarted, report, nil))

	defer func() {
		report.Duration = time.Since(report.StartTime)
		if runErr != nil {
			report.FailedStep = report.State
			report.State = models.StateFailed
		}
		s.finish(ctx, report, runErr, noInput)
	}()

	// Validating
	report.State = models.StateValidating

	inputs := s.validInputs(settings.Inputs)
	if len(inputs) == 0 {
		noInput = true
		return report, apperrors.Newf(apperrors.KindNoValidInput, "no existing files or directories specified for backup")
	}

	tgt, err := s.open(ctx, settings)
	if err != nil {
		return report, err
	}
	defer tgt.close()
	report.Destination = tgt.dest

	entries, backupPath, err := s.survey(ctx, tgt)
	if err != nil {
		return report, err
	}
	report.BackupPath = backupPath
	report.Existing = entries
	report.Plan = retention.Plan(entries, settings.Keep)

	prune := settings.Keep != models.KeepAll && !report.Plan.Empty()

	// PreRemoving
	survivors := entries
	if prune && settings.RemoveBefore {
		report.State = models.StatePreRemoving
		report.Pruned = s.svc.Retention.Prune(ctx, tgt.fs, report.Plan)
		if err := ctx.Err(); err != nil {
			return report, apperrors.New(apperrors.KindInterrupted, err)
		}
		survivors = surviving(entries, report.Pruned)
	}

	// Syncing
	report.State = models.StateSyncing

	linkDest := ""
	if newest, ok := planner.Newest(survivors); ok {
		linkDest = newest.Path
		s.logger.Debug().Str("link_dest", linkDest).Msg("hard-linking unchanged files")
	}

	runSettings := *settings
	runSettings.Inputs = inputs
	result, err := s.svc.Rsync.Sync(ctx, rsync.Request{
		Args:    rsync.Build(runSettings, tgt.dest, backupPath, linkDest),
		Env:     tgt.env,
		Verbose: settings.Verbose,
	})
	if err != nil {
		s.markIncomplete(ctx, tgt.fs, backupPath)
		return report, s.classify(ctx, err, apperrors.KindInternal)
	}
	report.Sync = result

	if result.Error != nil {
		s.markIncomplete(ctx, tgt.fs, backupPath)
		return report, s.syncError(ctx, tgt.dest, result)
	}

	// PostRemoving
	if prune && !settings.RemoveBefore {
		report.State = models.StatePostRemoving
		report.Pruned = s.svc.Retention.Prune(ctx, tgt.fs, report.Plan)
		if err := ctx.Err(); err != nil {
			return report, apperrors.New(apperrors.KindInterrupted, err)
		}
	}

	for _, failed := range report.PruneFailures() {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("could not remove backup %s: %v", failed.Entry.Name, failed.Error))
	}

	report.State = models.StateDone
	return report, nil
}

// Inspect validates the destination and reports its backups and the
// retention plan the current keep-count would apply. Nothing is modified.
func (s *Impl) Inspect(ctx context.Context, settings *models.Settings) (*models.Inventory, error) {
	tgt, err := s.open(ctx, settings)
	if err != nil {
		return nil, err
	}
	defer tgt.close()

	if err := tgt.fs.CheckBase(ctx, tgt.dest.Path); err != nil {
		return nil, s.classify(ctx, err, apperrors.KindDestinationUnavailable)
	}

	entries, err := s.enumerate(ctx, tgt)
	if err != nil {
		return nil, err
	}

	return &models.Inventory{
		Destination: tgt.dest,
		Entries:     entries,
		Plan:        retention.Plan(entries, settings.Keep),
		Keep:        settings.Keep,
	}, nil
}

func (s *Impl) validInputs(inputs []string) []string {
	valid := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if _, err := os.Lstat(input); err != nil {
			s.logger.Warn().Str("input", input).Msg("input not found, skipping")
			continue
		}
		valid = append(valid, input)
	}
	return valid
}

// open resolves the destination and, for remote backups, wakes and connects
// to the server.
func (s *Impl) open(ctx context.Context, settings *models.Settings) (*target, error) {
	if settings.Output == "" {
		return nil, apperrors.Newf(apperrors.KindDestinationUnavailable, "no output directory configured")
	}

	if !settings.IsRemote() {
		return &target{
			dest:  models.LocalDestination(settings.Output),
			fs:    s.svc.LocalFS,
			close: func() {},
		}, nil
	}

	dest, err := models.RemoteDestination(*settings.Remote, settings.Output)
	if err != nil {
		return nil, apperrors.New(apperrors.KindConfiguration, err)
	}

	if settings.WOL != nil {
		if err := s.runWOL(ctx, settings.WOL); err != nil {
			return nil, s.classify(ctx, err, apperrors.KindSSHConnection)
		}
	}

	session, err := s.svc.SSH.Connect(ctx, *settings.Remote)
	if err != nil {
		return nil, s.classify(ctx, err, apperrors.KindSSHConnection)
	}

	env := session.PasswordEnv()
	dest.SSHPass = len(env) > 0

	return &target{
		dest: dest,
		fs:   ssh.NewRemoteFS(session, dest.Sudo),
		env:  env,
		close: func() {
			if err := session.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("closing SSH connection")
			}
		},
	}, nil
}

// survey checks the output directory, picks the new backup path and lists
// the existing backups.
func (s *Impl) survey(ctx context.Context, tgt *target) ([]models.BackupEntry, string, error) {
	if err := tgt.fs.CheckBase(ctx, tgt.dest.Path); err != nil {
		return nil, "", s.classify(ctx, err, apperrors.KindDestinationUnavailable)
	}

	backupPath, err := s.svc.Planner.NewBackupPath(ctx, tgt.fs, tgt.dest)
	if err != nil {
		return nil, "", s.classify(ctx, err, s.transportKind(tgt.dest))
	}

	entries, err := s.enumerate(ctx, tgt)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info().
		Str("backup", tgt.dest.Render(backupPath)).
		Int("existing", len(entries)).
		Msg("backup planned")

	return entries, backupPath, nil
}

// enumerate lists backups. A failed listing aborts: acting on a partial
// list could prune the wrong entries.
func (s *Impl) enumerate(ctx context.Context, tgt *target) ([]models.BackupEntry, error) {
	entries, err := s.svc.Planner.Enumerate(ctx, tgt.fs, tgt.dest)
	if err != nil {
		return nil, s.classify(ctx, err, s.transportKind(tgt.dest))
	}
	return entries, nil
}

func (s *Impl) transportKind(dest models.Destination) apperrors.Kind {
	if dest.IsRemote() {
		return apperrors.KindSSHConnection
	}
	return apperrors.KindInternal
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("target", cfg.PollAddr).
		Msg("sending Wake-on-LAN packet")

	result, err := s.svc.WOL.Wake(ctx, *cfg)
	if err != nil {
		return errors.Wrap(err, "WOL failed")
	}
	if result.Error != nil {
		return errors.Wrap(result.Error, "WOL failed")
	}

	if !result.TargetReady && cfg.PollAddr != "" {
		return errors.New("target did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

// syncError maps a failed rsync run to an error kind.
func (s *Impl) syncError(ctx context.Context, dest models.Destination, result *models.SyncResult) error {
	if err := ctx.Err(); err != nil {
		return apperrors.New(apperrors.KindInterrupted, err)
	}
	err := errors.Wrapf(result.Error, "rsync exited with code %d", result.ExitCode)
	if dest.IsRemote() && result.ExitCode == rsync.RemoteShellExitCode {
		return apperrors.New(apperrors.KindSSHConnection, err)
	}
	return apperrors.New(apperrors.KindSyncTool, err)
}

// classify keeps an error's kind, or assigns kind to untyped errors.
// Everything is an interruption once ctx is done.
func (s *Impl) classify(ctx context.Context, err error, kind apperrors.Kind) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.New(apperrors.KindInterrupted, ctxErr)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.New(kind, err)
}

// markIncomplete renames a partial backup so it never matches the backup
// name pattern. It runs even when ctx is canceled.
func (s *Impl) markIncomplete(ctx context.Context, fs planner.FS, backupPath string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	exists, err := fs.Exists(cctx, backupPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("backup", backupPath).Msg("cannot check partial backup")
		return
	}
	if !exists {
		return
	}

	incomplete := planner.IncompletePath(backupPath)
	if err := fs.Rename(cctx, backupPath, incomplete); err != nil {
		s.logger.Error().Err(err).Str("backup", backupPath).Msg("cannot mark partial backup as incomplete")
		return
	}
	s.logger.Warn().Str("path", incomplete).Msg("partial backup marked as incomplete")
}

// surviving returns entries minus the ones removed successfully.
func surviving(entries []models.BackupEntry, pruned []models.PruneResult) []models.BackupEntry {
	removed := make(map[string]bool, len(pruned))
	for _, p := range pruned {
		if p.Error == nil {
			removed[p.Entry.Name] = true
		}
	}

	var kept []models.BackupEntry
	for _, e := range entries {
		if !removed[e.Name] {
			kept = append(kept, e)
		}
	}
	return kept
}

func (s *Impl) finish(ctx context.Context, report *models.RunReport, runErr error, noInput bool) {
	event := models.EventCompleted
	switch {
	case runErr != nil:
		event = models.EventFailed
		s.logger.Error().
			Err(runErr).
			Str("step", string(report.FailedStep)).
			Int("exit_code", apperrors.ExitCode(runErr)).
			Msg("backup failed")
	case len(report.Warnings) > 0:
		event = models.EventWarning
		for _, w := range report.Warnings {
			s.logger.Warn().Msg(w)
		}
		s.logger.Warn().Str("backup", report.Destination.Render(report.BackupPath)).Msg("backup completed with warnings")
	default:
		s.logger.Info().Str("backup", report.Destination.Render(report.BackupPath)).Msg("backup completed")
	}

	msg := s.notification(event, report, runErr)
	if noInput {
		msg.Text = "Backup finished. No files copied"
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	s.notify(cctx, msg)

	s.logger.Info().
		Str("state", string(report.State)).
		Dur("elapsed", report.Duration).
		Msg("backup run finished")
}

func (s *Impl) notification(event models.NotificationEvent, report *models.RunReport, runErr error) models.Notification {
	msg := models.Notification{
		Event:         event,
		Host:          s.rc.Host,
		Destination:   report.Destination.String(),
		BackupPath:    report.BackupPath,
		StartTime:     report.StartTime,
		Duration:      report.Duration,
		PruneFailures: len(report.PruneFailures()),
		Warnings:      report.Warnings,
	}
	msg.Pruned = len(report.Pruned) - msg.PruneFailures
	if runErr != nil {
		msg.FailedStep = string(report.FailedStep)
		msg.ErrorMessage = runErr.Error()
	}
	return msg
}

func (s *Impl) notify(ctx context.Context, msg models.Notification) {
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("event", string(msg.Event)).Msg("failed to send notification")
	}
}
