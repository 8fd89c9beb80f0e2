package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// expandMultiValueArgs lets list flags take several values, as in
// "-i ~/docs ~/pics" or "--rsync-options a H". Every argument following the
// value of a list flag is rewritten to another occurrence of that flag, up to
// the next flag, a subcommand name or "--".
func expandMultiValueArgs(cmd *cobra.Command, args []string) []string {
	flags := cmd.PersistentFlags()
	out := make([]string, 0, len(args))

	var (
		current string // list flag being extended
		pending bool   // current still waits for its first value
	)
	for i, arg := range args {
		switch {
		case arg == "--":
			return append(out, args[i:]...)
		case len(arg) > 1 && arg[0] == '-':
			current, pending = listFlag(flags, arg)
		case pending:
			pending = false
		case current != "" && !isSubcommand(cmd, arg):
			out = append(out, "--"+current)
		default:
			current = ""
		}
		out = append(out, arg)
	}
	return out
}

// listFlag returns the name of the list flag arg sets, if any, and whether
// its value is the next argument.
func listFlag(flags *pflag.FlagSet, arg string) (string, bool) {
	if strings.HasPrefix(arg, "--") {
		name, _, hasValue := strings.Cut(arg[2:], "=")
		f := flags.Lookup(name)
		if f == nil || !isList(f) {
			return "", false
		}
		return f.Name, !hasValue
	}

	// Shorthands may be combined ("-zi") and carry their value ("-i~/docs").
	shorthands := arg[1:]
	for j, c := range shorthands {
		if c == '=' || c > 127 {
			return "", false
		}
		f := flags.ShorthandLookup(string(c))
		if f == nil {
			return "", false
		}
		if f.NoOptDefVal != "" {
			continue
		}
		if !isList(f) {
			return "", false
		}
		return f.Name, j == len(shorthands)-1
	}
	return "", false
}

func isList(f *pflag.Flag) bool {
	return f.Value.Type() == "stringSlice"
}

func isSubcommand(cmd *cobra.Command, arg string) bool {
	if arg == "help" {
		return true
	}
	for _, c := range cmd.Commands() {
		if c.Name() == arg || c.HasAlias(arg) {
			return true
		}
	}
	return false
}
