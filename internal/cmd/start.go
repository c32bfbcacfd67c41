package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/crypto/keystore"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/engine"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/interpreter"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/oauth"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/vault"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/workflow"
	"github.com/spf13/cobra"
)

var passphraseFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the flowdeck node",
	Long: `Start the flowdeck node.

This will:
- Unlock (or create) the encrypted keystore
- Open the SQLite database
- Connect to the workflow execution engine
- Start the HTTP API and WebSocket server`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting Flowdeck Node...", "cli")

		// Ensure the executable path is absolute for Windows compatibility
		exePath, err := filepath.Abs(os.Args[0])
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to get absolute path: %v", err), "cli")
			fmt.Printf("Error getting absolute path: %v\n", err)
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Starting node from: %s", exePath), "cli")

		// Initialize PID manager and write current PID
		pidManager, err := utils.NewPIDManager(config)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to create PID manager: %v", err), "cli")
			os.Exit(1)
		}

		// Check if another instance is already running
		if existingPID, err := pidManager.ReadPID(); err == nil {
			if pidManager.IsProcessRunning(existingPID) {
				logger.Error(fmt.Sprintf("Another instance is already running with PID: %d", existingPID), "cli")
				fmt.Printf("Another instance is already running with PID: %d\n", existingPID)
				fmt.Println("Use 'flowdeck stop' to stop the existing instance first")
				os.Exit(1)
			} else {
				// Clean up stale PID file
				pidManager.RemovePIDFile()
			}
		}

		// Unlock the keystore before touching any encrypted data
		paths := utils.GetAppPaths("")
		keys, err := keystore.InitOrLoadKeystore(paths.DataDir, passphraseFile, config)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to unlock keystore: %v", err), "cli")
			fmt.Printf("Error unlocking keystore: %v\n", err)
			os.Exit(1)
		}

		// Initialize database
		dbManager, err := database.NewSQLiteManager(config)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize database: %v", err), "cli")
			os.Exit(1)
		}
		defer dbManager.Close()

		// Credential vault with the keystore-held encryption secret
		credVault, err := vault.NewCredentialVault(config, dbManager.Credentials, hex.EncodeToString(keys.VaultSecret), logger)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize credential vault: %v", err), "cli")
			os.Exit(1)
		}

		// OAuth exchange doubles as the vault's token refresher so
		// expired credentials heal during validation
		exchange := oauth.NewExchange(config, logger)
		credVault.SetRefresher(exchange)

		// Engine connectivity: MCP when configured, REST otherwise
		deployer := engine.NewDeployer(
			engine.NewMCPAdapter(config, logger),
			engine.NewClient(config, logger),
			logger,
		)

		// Chat interpreter
		gatekeeper := workflow.NewGatekeeper(dbManager.Credentials, logger)
		interp := interpreter.NewInterpreter(
			interpreter.NewOpenRouterClient(config, logger),
			gatekeeper,
			dbManager.Credentials,
			dbManager.Workflows,
			logger,
		)

		// Initialize monitoring server
		monitoringServer := utils.NewMonitoringServer(config, logger)
		if err := monitoringServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start monitoring server: %v", err), "cli")
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Monitoring server started on port %s", monitoringServer.GetPort()), "cli")

		// HTTP API and WebSocket server
		apiServer := api.NewAPIServer(
			config,
			logger,
			dbManager,
			credVault,
			exchange,
			deployer,
			interp,
			hex.EncodeToString(keys.JWTSecret),
		)
		if err := apiServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start API server: %v", err), "cli")
			os.Exit(1)
		}

		// Write current PID to file
		currentPID := os.Getpid()
		if err := pidManager.WritePID(currentPID); err != nil {
			logger.Error(fmt.Sprintf("Failed to write PID file: %v", err), "cli")
			os.Exit(1)
		}

		// Ensure PID file is cleaned up on exit
		defer func() {
			if err := pidManager.RemovePIDFile(); err != nil {
				logger.Warn(fmt.Sprintf("Failed to remove PID file: %v", err), "cli")
			}
		}()

		logger.Info(fmt.Sprintf("Node started with PID: %d", currentPID), "cli")
		fmt.Printf("Flowdeck Node is running on port %s. Press Ctrl+C to stop.\n", apiServer.GetPort())

		// Setup signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		cleanup := func() {
			logger.Info("Shutdown signal received, stopping node...", "cli")

			if err := apiServer.Stop(); err != nil {
				logger.Error(fmt.Sprintf("Error stopping API server: %v", err), "cli")
			}

			if err := monitoringServer.Stop(); err != nil {
				logger.Error(fmt.Sprintf("Error stopping monitoring server: %v", err), "cli")
			}

			if err := dbManager.Close(); err != nil {
				logger.Error(fmt.Sprintf("Error closing database: %v", err), "cli")
			}

			// Clean up PID file
			if err := pidManager.RemovePIDFile(); err != nil {
				logger.Warn(fmt.Sprintf("Failed to remove PID file: %v", err), "cli")
			}

			logger.Info("Flowdeck Node stopped successfully", "cli")
		}

		go func() {
			<-sigChan
			cleanup()
			os.Exit(0)
		}()

		// Use a blocking channel to keep the main function alive
		done := make(chan bool)
		<-done
	},
}

func init() {
	startCmd.Flags().StringVar(&passphraseFile, "passphrase-file", "", "file containing the keystore passphrase")
	rootCmd.AddCommand(startCmd)
}
