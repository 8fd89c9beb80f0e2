package ssh

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fgeck/simple-backup/internal/apperrors"
	"github.com/fgeck/simple-backup/internal/services/planner"
	"github.com/fgeck/simple-backup/internal/shell"
	"golang.org/x/crypto/ssh"
)

// RemoteFS runs filesystem operations on the backup server over a Session.
type RemoteFS struct {
	session Session
	sudo    bool
}

var _ planner.FS = (*RemoteFS)(nil)

// NewRemoteFS returns a RemoteFS. With sudo set every command runs through
// "sudo -n", matching how rsync is started on the server.
func NewRemoteFS(session Session, sudo bool) *RemoteFS {
	return &RemoteFS{session: session, sudo: sudo}
}

// CheckBase verifies dir exists on the server and is usable.
func (f *RemoteFS) CheckBase(ctx context.Context, dir string) error {
	q := shell.Quote(dir)
	script := fmt.Sprintf(
		"if [ ! -d %s ]; then echo missing; elif [ -r %s ] && [ -w %s ] && [ -x %s ]; then echo ok; else echo denied; fi",
		q, q, q, q)

	out, err := f.run(ctx, script)
	if err != nil {
		return err
	}

	switch strings.TrimSpace(out) {
	case "ok":
		return nil
	case "missing":
		return apperrors.Newf(apperrors.KindDestinationUnavailable, "output directory %s does not exist on server", dir)
	case "denied":
		return apperrors.Newf(apperrors.KindDestinationPermission, "cannot write to output directory %s on server", dir)
	default:
		return apperrors.Newf(apperrors.KindSSHConnection, "unexpected answer checking %s: %q", dir, strings.TrimSpace(out))
	}
}

// ListDir returns the directory names in dir on the server.
func (f *RemoteFS) ListDir(ctx context.Context, dir string) ([]string, error) {
	q := shell.Quote(dir)
	script := fmt.Sprintf("if [ -d %s ]; then find %s -mindepth 1 -maxdepth 1 -type d; fi", q, q)

	out, err := f.run(ctx, script)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, path.Base(line))
	}
	return names, nil
}

// Exists reports whether p exists on the server.
func (f *RemoteFS) Exists(ctx context.Context, p string) (bool, error) {
	q := shell.Quote(p)
	out, err := f.run(ctx, fmt.Sprintf("if [ -e %s ] || [ -L %s ]; then echo yes; else echo no; fi", q, q))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "yes", nil
}

// RemoveAll deletes p recursively on the server.
func (f *RemoteFS) RemoveAll(ctx context.Context, p string) error {
	q := shell.Quote(p)
	script := fmt.Sprintf("if [ ! -e %s ]; then echo missing; else rm -rf -- %s; fi", q, q)

	out, err := f.run(ctx, script)
	if err != nil {
		return err
	}
	if msg := strings.TrimSpace(out); msg != "" {
		if msg == "missing" {
			return errors.Newf("%s does not exist", p)
		}
		return errors.Newf("failed to remove %s: %s", p, msg)
	}
	return nil
}

// Rename moves from to to on the server.
func (f *RemoteFS) Rename(ctx context.Context, from, to string) error {
	_, err := f.run(ctx, "mv -- "+shell.Join(from, to))
	return err
}

func (f *RemoteFS) run(ctx context.Context, script string) (string, error) {
	cmd := script
	if f.sudo {
		cmd = "sudo -n sh -c " + shell.Quote(script)
	}

	out, err := f.session.Run(ctx, cmd)
	if err == nil {
		return string(out), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return "", errors.Wrapf(err, "remote command failed: %s", strings.TrimSpace(string(out)))
	}
	return "", apperrors.New(apperrors.KindSSHConnection, errors.Wrap(err, "remote command failed"))
}
