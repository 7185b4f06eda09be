package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scopecast/service/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the daemon configuration",
}

// configShowCmd prints the effective configuration (defaults, file, and
// environment merged) so a user can see what the daemon would actually run
// with before starting it.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}
