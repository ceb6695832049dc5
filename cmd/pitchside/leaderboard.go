package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/pitchside/internal/stats"
)

func newLeaderboardCmd() *cobra.Command {
	var (
		configPath string
		region     string
		guild      string
		sizes      []int
		page       int
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print a page of the games-played leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if page < 1 {
				return fmt.Errorf("--page must be at least 1")
			}
			f := stats.Filter{Region: strings.ToLower(region), GuildID: guild, Sizes: sizes}
			return runLeaderboard(cmd, configPath, f, page)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Pitchside config file")
	cmd.Flags().StringVar(&region, "region", "", "only count games in this region")
	cmd.Flags().StringVar(&guild, "guild", "", "only count games in this server")
	cmd.Flags().IntSliceVar(&sizes, "size", nil, "only count games of these lineup sizes")
	cmd.Flags().IntVar(&page, "page", 1, "page to print")
	return cmd
}

func runLeaderboard(cmd *cobra.Command, configPath string, f stats.Filter, page int) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	store := stats.NewStore(gormDB)
	ctx := context.Background()

	pages, err := store.Pages(ctx, f, stats.DefaultPageSize)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if pages == 0 {
		fmt.Fprintln(out, "Nobody has played yet.")
		return nil
	}
	page = min(page, pages)
	rows, err := store.Leaderboard(ctx, f, page-1, stats.DefaultPageSize)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-5s %-24s %s\n", "RANK", "USER", "GAMES")
	for i, r := range rows {
		fmt.Fprintf(out, "%-5d %-24s %d\n", (page-1)*stats.DefaultPageSize+i+1, r.UserID, r.Games)
	}
	fmt.Fprintf(out, "\nPage %d/%d\n", page, pages)
	return nil
}
