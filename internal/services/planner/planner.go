// Package planner computes where a new backup goes and finds the backups
// already present at a destination.
package planner

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/rs/zerolog"
)

// Layout of the backup tree: <output>/simple_backup/<timestamp>.
const (
	BackupSubdir     = "simple_backup"
	TimestampLayout  = "2006-01-02_15-04-05"
	IncompleteSuffix = ".incomplete"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}$`)

// FS is the filesystem holding the backups, local or on an SSH server.
type FS interface {
	// CheckBase fails with a destination error unless dir is an existing,
	// listable and writable directory.
	CheckBase(ctx context.Context, dir string) error
	// ListDir returns the directory names in dir. A missing dir is empty.
	ListDir(ctx context.Context, dir string) ([]string, error)
	Exists(ctx context.Context, p string) (bool, error)
	RemoveAll(ctx context.Context, p string) error
	Rename(ctx context.Context, from, to string) error
}

// Planner computes backup paths and enumerates existing backups.
type Planner struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new planner using the wall clock.
func New(logger zerolog.Logger) *Planner {
	return NewWithClock(logger, time.Now)
}

// NewWithClock creates a new planner with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Planner {
	return &Planner{logger: logger, now: now}
}

// Root returns the directory holding all backups of dest.
func Root(dest models.Destination) string {
	return join(dest, dest.Path, BackupSubdir)
}

// BackupPath returns the backup directory for a backup taken at t.
func BackupPath(dest models.Destination, t time.Time) string {
	return join(dest, Root(dest), t.Format(TimestampLayout))
}

// ParseBackupName returns the timestamp encoded in a backup directory name.
func ParseBackupName(name string) (time.Time, bool) {
	if !timestampPattern.MatchString(name) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, name, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NewBackupPath returns the path of the backup to create now. An existing
// directory at that path is an error; it is never reused.
func (p *Planner) NewBackupPath(ctx context.Context, fs FS, dest models.Destination) (string, error) {
	backupPath := BackupPath(dest, p.now())

	exists, err := fs.Exists(ctx, backupPath)
	if err != nil {
		return "", errors.Wrapf(err, "checking %s", backupPath)
	}
	if exists {
		return "", apperrors.Newf(apperrors.KindInternal, "backup directory %s already exists", backupPath)
	}

	return backupPath, nil
}

// Enumerate lists the backups at dest sorted oldest first. Directories whose
// name is not a backup timestamp are ignored.
func (p *Planner) Enumerate(ctx context.Context, fs FS, dest models.Destination) ([]models.BackupEntry, error) {
	root := Root(dest)

	names, err := fs.ListDir(ctx, root)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", root)
	}

	entries := make([]models.BackupEntry, 0, len(names))
	for _, name := range names {
		t, ok := ParseBackupName(name)
		if !ok {
			p.logger.Debug().Str("name", name).Msg("ignoring non-backup entry")
			continue
		}
		entries = append(entries, models.BackupEntry{
			Name: name,
			Path: join(dest, root, name),
			Time: t,
		})
	}

	SortEntries(entries)

	p.logger.Debug().
		Str("root", root).
		Int("count", len(entries)).
		Msg("backups enumerated")

	return entries, nil
}

// SortEntries sorts entries oldest first.
func SortEntries(entries []models.BackupEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Before(entries[j])
	})
}

// Newest returns the most recent entry.
func Newest(entries []models.BackupEntry) (models.BackupEntry, bool) {
	if len(entries) == 0 {
		return models.BackupEntry{}, false
	}
	newest := entries[0]
	for _, e := range entries[1:] {
		if newest.Before(e) {
			newest = e
		}
	}
	return newest, true
}

// IncompletePath returns the name a failed backup is moved to so that it is
// never mistaken for a complete one.
func IncompletePath(backupPath string) string {
	return backupPath + IncompleteSuffix
}

// join uses forward slashes for remote destinations.
func join(dest models.Destination, elem ...string) string {
	if dest.IsRemote() {
		return path.Join(elem...)
	}
	return filepath.Join(elem...)
}
