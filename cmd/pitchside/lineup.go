package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/pitchside/internal/lineup"
	"github.com/zulandar/pitchside/internal/models"
	"github.com/zulandar/pitchside/internal/queue"
	"github.com/zulandar/pitchside/internal/telegraph"
)

func newLineupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineup",
		Short: "Inspect lineups",
	}
	cmd.AddCommand(newLineupShowCmd())
	return cmd
}

func newLineupShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <context>",
		Short: "Print the lineup of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineupShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Pitchside config file")
	return cmd
}

func runLineupShow(cmd *cobra.Command, configPath, contextID string) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	l, err := lineup.Get(gormDB, contextID)
	if err != nil {
		return err
	}
	entry, err := queue.GetByContext(gormDB, contextID)
	if err != nil && !errors.Is(err, models.ErrNotQueued) {
		return err
	}
	searching := entry != nil && !entry.Ephemeral

	out := cmd.OutOrStdout()
	for _, e := range telegraph.FormatLineup(l, searching).Embeds {
		fmt.Fprintln(out, e.Title)
		if e.Body != "" {
			fmt.Fprintln(out, e.Body)
		}
		for _, f := range e.Fields {
			fmt.Fprintf(out, "\n%s\n%s\n", f.Name, f.Value)
		}
	}
	if entry != nil && entry.IsReserved() {
		fmt.Fprintf(out, "\nReserved by challenge %s\n", *entry.ReservedBy)
	}
	return nil
}
