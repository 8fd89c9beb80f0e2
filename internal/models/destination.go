package models

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrIncompleteRemote is returned when a remote destination lacks a host or user.
var ErrIncompleteRemote = errors.New("remote destination requires both host and user")

// DestinationKind tells local and remote destinations apart.
type DestinationKind int

// Destination kinds.
const (
	DestinationLocal DestinationKind = iota
	DestinationRemote
)

// String implements fmt.Stringer.
func (k DestinationKind) String() string {
	if k == DestinationRemote {
		return "remote"
	}
	return "local"
}

// Destination is where backups are written.
type Destination struct {
	Kind    DestinationKind
	Path    string // output base directory
	Host    string
	User    string
	KeyFile string
	Port    int
	Sudo    bool
	SSHPass bool // the server accepted password auth only; wrap ssh with sshpass
}

// LocalDestination returns a destination on the local filesystem.
func LocalDestination(path string) Destination {
	return Destination{Kind: DestinationLocal, Path: path}
}

// RemoteDestination returns a destination on an SSH server.
func RemoteDestination(cfg RemoteConfig, path string) (Destination, error) {
	if cfg.Host == "" || cfg.User == "" {
		return Destination{}, ErrIncompleteRemote
	}
	return Destination{
		Kind:    DestinationRemote,
		Path:    path,
		Host:    cfg.Host,
		User:    cfg.User,
		KeyFile: cfg.KeyFile,
		Port:    cfg.Port,
		Sudo:    cfg.Sudo,
	}, nil
}

// IsRemote reports whether the destination is on an SSH server.
func (d Destination) IsRemote() bool {
	return d.Kind == DestinationRemote
}

// Render formats p the way rsync expects it as a destination argument.
func (d Destination) Render(p string) string {
	if d.IsRemote() {
		return fmt.Sprintf("%s@%s:%s", d.User, d.Host, p)
	}
	return p
}

// String implements fmt.Stringer.
func (d Destination) String() string {
	return d.Render(d.Path)
}
