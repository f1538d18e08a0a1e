package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/archive"
	"github.com/quilldeep/quill/internal/server"
)

func serveCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath(cmd))
			ctx := context.Background()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}

			var arch *archive.Archive
			if cfg.Archive.Enabled {
				arch, err = archive.Connect(ctx, cfg.Archive)
				if err != nil {
					return fmt.Errorf("connect run archive: %w", err)
				}
				defer arch.Close()
			} else {
				fmt.Fprintln(os.Stderr, "run archive disabled; /api/reports listing will be unavailable")
			}

			srv := server.New(cfg, d.store, arch, d.newCoordinator)
			return srv.Run(ctx)
		},
	}
}
