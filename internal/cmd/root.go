package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

var (
	configPath string
	envFile    string
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "flowdeck",
	Short: "Flowdeck workflow automation node",
	Long: `A workflow automation backend that turns natural-language requests into
deployed engine workflows.

Credentials for connected services are encrypted at rest, an OAuth exchange
handles authorization flows, and a chat interpreter compiles requests into
workflow documents for the execution engine.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Service secrets (OAuth apps, API keys) come from the environment
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			fmt.Printf("Warning: could not load env file %s: %v\n", envFile, err)
		}

		// Initialize configuration
		config = utils.NewConfigManager(configPath)

		// Initialize logging
		logger = utils.NewLogsManager(config)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Cleanup
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "env file with service secrets")
}
