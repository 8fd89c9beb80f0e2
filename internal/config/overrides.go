package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by the command layer and OverridesFromFlags.
const (
	FlagConfig       = "config"
	FlagInput        = "input"
	FlagOutput       = "output"
	FlagExclude      = "exclude"
	FlagKeep         = "keep"
	FlagUser         = "user"
	FlagSSHHost      = "ssh-host"
	FlagSSHUser      = "ssh-user"
	FlagKeyFile      = "keyfile"
	FlagChecksum     = "checksum"
	FlagCompress     = "compress"
	FlagRemoveBefore = "remove-before-backup"
	FlagRsyncOptions = "rsync-options"
	FlagRemoteSudo   = "remote-sudo"
	FlagNumericIDs   = "numeric-ids"
	FlagNoNotify     = "no-notify"
)

// Overrides holds values given on the command line. Nil pointers and nil
// slices mean the flag was not given.
type Overrides struct {
	ConfigFile   *string
	Inputs       []string
	Output       *string
	Excludes     []string
	Keep         *int
	User         *string
	SSHHost      *string
	SSHUser      *string
	KeyFile      *string
	RsyncOptions []string
	Checksum     bool
	Compress     bool
	RemoveBefore bool
	RemoteSudo   bool
	NumericIDs   bool
	NoNotify     bool
	Verbose      bool
}

// OverridesFromFlags collects the flags that were explicitly set in fs.
// Flags missing from fs are ignored.
//
//nolint:gocyclo // one branch per flag
func OverridesFromFlags(fs *pflag.FlagSet) (Overrides, error) {
	var o Overrides
	var err error

	str := func(name string) *string {
		if err != nil || !changed(fs, name) {
			return nil
		}
		var s string
		s, err = fs.GetString(name)
		return &s
	}
	slice := func(name string) []string {
		if err != nil || !changed(fs, name) {
			return nil
		}
		var s []string
		s, err = fs.GetStringSlice(name)
		if s == nil {
			s = []string{}
		}
		return s
	}
	flag := func(name string) bool {
		if err != nil || !changed(fs, name) {
			return false
		}
		var b bool
		b, err = fs.GetBool(name)
		return b
	}

	o.ConfigFile = str(FlagConfig)
	o.Inputs = slice(FlagInput)
	o.Output = str(FlagOutput)
	o.Excludes = slice(FlagExclude)
	o.User = str(FlagUser)
	o.SSHHost = str(FlagSSHHost)
	o.SSHUser = str(FlagSSHUser)
	o.KeyFile = str(FlagKeyFile)
	o.RsyncOptions = slice(FlagRsyncOptions)
	o.Checksum = flag(FlagChecksum)
	o.Compress = flag(FlagCompress)
	o.RemoveBefore = flag(FlagRemoveBefore)
	o.RemoteSudo = flag(FlagRemoteSudo)
	o.NumericIDs = flag(FlagNumericIDs)
	o.NoNotify = flag(FlagNoNotify)
	o.Verbose = flag("verbose")

	if err == nil && changed(fs, FlagKeep) {
		var keep int
		keep, err = fs.GetInt(FlagKeep)
		o.Keep = &keep
	}

	if err != nil {
		return Overrides{}, configErrorf("reading flags: %v", err)
	}
	return o, nil
}

func changed(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}
