package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
	"github.com/spf13/cobra"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List supported services",
	Long: `List the services workflows can connect to, with the credential type
each one requires.

OAuth services are connected through the browser authorization flow.
API-key services take a key pasted from the provider's dashboard.`,
	Run: func(cmd *cobra.Command, args []string) {
		services, err := registry.All()
		if err != nil {
			fmt.Printf("Error: Failed to load service registry: %v\n", err)
			os.Exit(1)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tNAME\tAUTH\tSCOPE")
		for _, svc := range services {
			scope := svc.Scope
			if scope == "" {
				scope = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", svc.ID, svc.Name, svc.Auth, scope)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(servicesCmd)
}
