package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "decrypt-credential":
		RunDecryptCredential(args)
	case "inspect-workflow":
		RunInspectWorkflow(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./scripts <command> [args...]")
	fmt.Println("")
	fmt.Println("Available commands:")
	fmt.Println("  decrypt-credential <user_email> <service>")
	fmt.Println("    Decrypt a stored credential straight from the database")
	fmt.Println("    Requires FLOWDECK_VAULT_SECRET (hex vault secret from the keystore)")
	fmt.Println("    Example: FLOWDECK_VAULT_SECRET=... go run ./scripts decrypt-credential dev@example.com slack")
	fmt.Println("")
	fmt.Println("  inspect-workflow <workflow_id>")
	fmt.Println("    Print a stored workflow and summarize its engine document")
	fmt.Println("    Example: go run ./scripts inspect-workflow 4f7c1a2e")
	fmt.Println("")
	fmt.Println("Set FLOWDECK_DB to override the default database path.")
}
