package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/memory"
)

func memoryCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the long-term memory store",
	}
	cmd.AddCommand(memoryStatsCMD(), memorySearchCMD(), memoryCleanupCMD(), memoryClearCMD())
	return cmd
}

func memoryStatsCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			stats, err := d.store.Statistics(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

func memorySearchCMD() *cobra.Command {
	var source string
	var topK int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}

			results, err := searchMemories(ctx, d, query, source, topK)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.Similarity, r.ID, firstLine(r.Text))
			}
			if len(results) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "restrict to a source (e.g. web_search)")
	cmd.Flags().IntVar(&topK, "top-k", 5, "number of results")
	return cmd
}

func memoryCleanupCMD() *cobra.Command {
	var days int
	var keepImportant bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete memories older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			removed, err := d.store.CleanupOld(ctx, days, keepImportant)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d memories\n", removed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete memories older than this many days")
	cmd.Flags().BoolVar(&keepImportant, "keep-important", true, "keep memories flagged important")
	return cmd
}

func memoryClearCMD() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to clear without --yes")
			}
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()
			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			return d.store.ClearAll(ctx)
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion")
	return cmd
}

func searchMemories(ctx context.Context, d *deps, query, source string, topK int) ([]memory.SearchResult, error) {
	if source != "" {
		return d.store.SearchBySource(ctx, query, source, topK)
	}
	return d.store.Search(ctx, query, topK)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
