package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/archive"
)

func reportCMD() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "report [topic]",
		Short: "Research a topic and write a quality-gated report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			result := d.newCoordinator().Execute(ctx, topic)

			if cfg.Archive.Enabled {
				arch, err := archive.Connect(ctx, cfg.Archive)
				if err != nil {
					fmt.Fprintf(os.Stderr, "archive unavailable: %v\n", err)
				} else {
					defer arch.Close()
					if err := arch.Save(ctx, result); err != nil {
						fmt.Fprintf(os.Stderr, "archiving failed: %v\n", err)
					}
				}
			}

			if outPath != "" {
				if err := os.WriteFile(outPath, []byte(result.Report), 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			} else {
				fmt.Println(result.Report)
			}

			fmt.Fprintf(os.Stderr, "\nrun %s: score %.1f (passed=%v), %d revisions\n",
				result.RunID, result.Score, result.Passed, result.RevisionCount)
			fmt.Fprintf(os.Stderr, "research: %d items (%d memory, %d web, %d saved)\n",
				result.ResearchSummary.Items, result.ResearchSummary.FromMemory,
				result.ResearchSummary.FromWeb, result.ResearchSummary.SavedToMemory)
			for dim, score := range result.Scores {
				fmt.Fprintf(os.Stderr, "  %s: %.1f\n", dim, score)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the report to a file instead of stdout")
	return cmd
}
