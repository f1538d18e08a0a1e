package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "quill", Short: "Autonomous research report generator"}

	root.PersistentFlags().String("config", "", "path to config file")
	root.AddCommand(reportCMD(), memoryCMD(), serveCMD())
	_ = root.Execute()
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
