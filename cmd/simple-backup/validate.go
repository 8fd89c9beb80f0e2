package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/spf13/cobra"
)

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long: `Resolve the configuration file and flags and print the resulting settings
without connecting anywhere or copying anything.`,
		Args: noArgs,
		RunE: a.validateConfig,
	}
}

func (a *app) validateConfig(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd, a.logger)
	if err != nil {
		return err
	}

	printSettings(cmd.OutOrStdout(), settings)
	return nil
}

func printSettings(w io.Writer, s *models.Settings) {
	fmt.Fprintln(w, color.GreenString("Configuration is valid!"))
	fmt.Fprintln(w)

	configFile := s.ConfigFile
	if configFile == "" {
		configFile = "(none)"
	}

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Config file: %s\n", configFile)
	fmt.Fprintf(w, "  User: %s\n", s.User)
	fmt.Fprintf(w, "  Inputs: %s\n", strings.Join(s.Inputs, ", "))
	fmt.Fprintf(w, "  Output: %s\n", outputLabel(s))
	if len(s.Excludes) > 0 {
		fmt.Fprintf(w, "  Excludes: %s\n", strings.Join(s.Excludes, ", "))
	}
	fmt.Fprintf(w, "  Keep: %s\n", keepLabel(s.Keep))
	fmt.Fprintf(w, "  Remove before backup: %v\n", s.RemoveBefore)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rsync:")
	fmt.Fprintf(w, "  Options: -%s\n", strings.Join(append([]string{"r", "v"}, s.Rsync.Options...), ""))
	fmt.Fprintf(w, "  Compress: %v\n", s.Rsync.Compress)
	fmt.Fprintf(w, "  Numeric IDs: %v\n", s.Rsync.NumericIDs)

	if s.Remote != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Server:")
		fmt.Fprintf(w, "  Host: %s\n", s.Remote.Host)
		fmt.Fprintf(w, "  User: %s\n", s.Remote.User)
		if s.Remote.Port != 0 {
			fmt.Fprintf(w, "  Port: %d\n", s.Remote.Port)
		}
		if s.Remote.KeyFile != "" {
			fmt.Fprintf(w, "  Keyfile: %s\n", s.Remote.KeyFile)
		}
		fmt.Fprintf(w, "  Sudo: %v\n", s.Remote.Sudo)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional Features:")
	fmt.Fprintf(w, "  Desktop notifications: %v\n", s.Notify.Desktop)
	fmt.Fprintf(w, "  Telegram: %v\n", s.Notify.Telegram != nil)
	fmt.Fprintf(w, "  Wake-on-LAN: %v\n", s.WOL != nil)

	if s.WOL != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WOL Configuration:")
		fmt.Fprintf(w, "  MAC Address: %s\n", s.WOL.MACAddress)
		fmt.Fprintf(w, "  Broadcast IP: %s\n", s.WOL.BroadcastIP)
		fmt.Fprintf(w, "  Poll address: %s\n", s.WOL.PollAddr)
	}

	if s.Notify.Telegram != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Telegram Configuration:")
		fmt.Fprintf(w, "  Chat ID: %s\n", s.Notify.Telegram.ChatID)
		fmt.Fprintf(w, "  Bot Token: (configured)\n")
	}
}

func outputLabel(s *models.Settings) string {
	if s.Remote != nil {
		return fmt.Sprintf("%s@%s:%s", s.Remote.User, s.Remote.Host, s.Output)
	}
	return s.Output
}

func keepLabel(keep int) string {
	if keep == models.KeepAll {
		return "all"
	}
	return fmt.Sprintf("%d", keep)
}
