// Package models contains the data structures used throughout simple-backup.
package models

// KeepAll is the keep-count sentinel that disables pruning.
const KeepAll = -1

// Settings holds the resolved configuration for a single backup run.
// It is built once from defaults, the config file and CLI flags.
type Settings struct {
	Inputs       []string
	Output       string
	Excludes     []string
	Keep         int
	Remote       *RemoteConfig // nil for local backups
	Rsync        RsyncSettings
	RemoveBefore bool
	Verbose      bool
	User         string // user whose home directory "~" expands to
	HomeDir      string
	ConfigFile   string // empty if no config file was read
	Notify       NotifySettings
	WOL          *WOLConfig // nil if not configured
}

// RsyncSettings holds the rsync flags requested for the run.
type RsyncSettings struct {
	Options    []string // single option letters, e.g. "a", "H"
	Defaults   bool     // Options is the built-in default set
	Compress   bool
	NumericIDs bool
}

// NotifySettings selects the notification sinks.
type NotifySettings struct {
	Desktop  bool
	Telegram *TelegramConfig // nil if not configured
}

// IsRemote reports whether the backup targets a remote host.
func (s Settings) IsRemote() bool {
	return s.Remote != nil
}
