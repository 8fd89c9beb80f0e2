package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/fgeck/simple-backup/internal/models"
	"github.com/fgeck/simple-backup/internal/services/runner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing backups",
		Long: `List the backups in the output directory, oldest first, and mark the ones
the next run would remove with the current keep setting.`,
		Args: noArgs,
		RunE: a.listBackups,
	}
}

func (a *app) listBackups(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(cmd, a.logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	rc := runner.NewRunContext(a.logger, nil)
	inv, err := runner.New(rc, sshOptions(settings)).Inspect(ctx, settings)
	if err != nil {
		a.logger.Error().Err(err).Msg("cannot list backups")
		return err
	}

	renderInventory(cmd.OutOrStdout(), inv, time.Now())
	return nil
}

func renderInventory(w io.Writer, inv *models.Inventory, now time.Time) {
	fmt.Fprintf(w, "Backups in %s (keep: %s)\n", inv.Destination, keepLabel(inv.Keep))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Backup", "Created", "Age", "Status"})

	for i, e := range inv.Entries {
		status := color.GreenString("keep")
		if inv.Plan.Marked(e.Name) {
			status = color.RedString("remove")
		}
		t.AppendRow(table.Row{
			i + 1,
			e.Name,
			e.Time.Format("2006-01-02 15:04:05"),
			formatAge(now.Sub(e.Time)),
			status,
		})
	}

	t.AppendFooter(table.Row{"", "", "", "Total", len(inv.Entries)})
	t.Render()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
