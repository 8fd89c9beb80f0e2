package rsync

import (
	"strconv"
	"strings"

	"github.com/fgeck/simple-backup/internal/models"
	"github.com/fgeck/simple-backup/internal/shell"
)

// Build returns the rsync arguments that copy settings.Inputs into newPath at
// dest. linkDest, if not empty, is an earlier backup unchanged files are
// hard-linked against. Build performs no I/O.
func Build(settings models.Settings, dest models.Destination, newPath, linkDest string) []string {
	args := []string{"-r", "-v"}
	for _, opt := range settings.Rsync.Options {
		args = append(args, "-"+opt)
	}

	if settings.Rsync.Defaults {
		args = append(args, "--ignore-missing-args")
	}
	// Inputs keep their absolute layout below the backup directory.
	args = append(args, "--mkpath", "--relative")

	if settings.Rsync.Compress {
		args = append(args, "--compress")
	}
	if settings.Rsync.NumericIDs {
		args = append(args, "--numeric-ids")
	}
	if linkDest != "" {
		args = append(args, "--link-dest="+linkDest)
	}

	for _, pattern := range settings.Excludes {
		args = append(args, "--exclude="+pattern)
	}

	if dest.IsRemote() {
		args = append(args, "-e", RemoteShell(dest))
		if dest.Sudo {
			args = append(args, "--rsync-path=sudo rsync")
		}
	}

	args = append(args, settings.Inputs...)
	args = append(args, dest.Render(newPath))

	return args
}

// RemoteShell returns the -e value rsync uses to reach dest.
func RemoteShell(dest models.Destination) string {
	parts := []string{"ssh", "-o", "StrictHostKeyChecking=accept-new"}
	if dest.Port != 0 {
		parts = append(parts, "-p", strconv.Itoa(dest.Port))
	}
	if dest.KeyFile != "" {
		parts = append(parts, "-i", shell.Quote(dest.KeyFile))
	}
	if dest.SSHPass {
		parts = append([]string{"sshpass", "-e"}, parts...)
	}
	return strings.Join(parts, " ")
}
