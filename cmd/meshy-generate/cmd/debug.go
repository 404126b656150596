package cmd

import (
	"go-meshy-generate/internal/config"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
}

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration object as JSON",
	Long: `Loads configuration from defaults, config file, environment and flags
(respecting precedence) and prints the result as JSON. The API key is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		cfg.APIKey = config.MaskAPIKey(cfg.APIKey)
		return printJSON(cmd.OutOrStdout(), cfg)
	},
}
