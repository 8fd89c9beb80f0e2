package planner

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"golang.org/x/sys/unix"
)

// LocalFS is the local filesystem.
type LocalFS struct{}

var _ FS = LocalFS{}

// CheckBase verifies dir exists and is listable and writable.
func (LocalFS) CheckBase(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return apperrors.Newf(apperrors.KindDestinationUnavailable, "output directory %s does not exist", dir)
	case errors.Is(err, os.ErrPermission):
		return apperrors.Newf(apperrors.KindDestinationPermission, "cannot access output directory %s: permission denied", dir)
	case err != nil:
		return apperrors.New(apperrors.KindDestinationUnavailable, errors.Wrapf(err, "stat %s", dir))
	case !info.IsDir():
		return apperrors.Newf(apperrors.KindDestinationUnavailable, "output path %s is not a directory", dir)
	}

	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return apperrors.Newf(apperrors.KindDestinationPermission, "cannot write to output directory %s: %v", dir, err)
	}

	return nil
}

// ListDir returns the names of the directories in dir.
func (LocalFS) ListDir(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, apperrors.New(apperrors.KindDestinationPermission, err)
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists reports whether p exists.
func (LocalFS) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RemoveAll deletes p recursively. Unlike os.RemoveAll a missing p is an error.
func (LocalFS) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// Rename moves from to to.
func (LocalFS) Rename(_ context.Context, from, to string) error {
	return os.Rename(from, to)
}
