package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/crypto/keystore"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/spf13/cobra"
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage the encrypted keystore",
	Long: `Manage the encrypted keystore holding the credential vault secret and the
JWT signing secret.

The keystore is created on first start and unlocked with a passphrase on
every subsequent start.`,
}

var keystorePassphraseCmd = &cobra.Command{
	Use:   "change-passphrase",
	Short: "Change the keystore passphrase",
	Long: `Change the passphrase protecting the keystore.

The stored secrets are re-encrypted in place; credentials in the database
are unaffected.`,
	Run: func(cmd *cobra.Command, args []string) {
		paths := utils.GetAppPaths("")
		keystorePath := filepath.Join(paths.DataDir, "keystore.dat")

		ks, err := keystore.LoadKeystore(keystorePath)
		if err != nil {
			fmt.Printf("Error: Failed to load keystore: %v\n", err)
			fmt.Printf("Keystore path: %s\n", keystorePath)
			fmt.Println("\nMake sure the node has been started at least once.")
			os.Exit(1)
		}

		oldPassphrase, err := keystore.PromptPassphrase()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		// Verify the old passphrase before prompting for a new one
		if _, err := keystore.UnlockKeystore(ks, oldPassphrase); err != nil {
			fmt.Println("Error: Incorrect passphrase")
			os.Exit(1)
		}

		newPassphrase, err := keystore.PromptNewPassphrase()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		newKs, err := keystore.ChangePassphrase(ks, oldPassphrase, newPassphrase)
		if err != nil {
			fmt.Printf("Error: Failed to change passphrase: %v\n", err)
			os.Exit(1)
		}

		if err := keystore.SaveKeystore(newKs, keystorePath); err != nil {
			fmt.Printf("Error: Failed to save keystore: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Keystore passphrase changed successfully")
	},
}

func init() {
	keystoreCmd.AddCommand(keystorePassphraseCmd)
	rootCmd.AddCommand(keystoreCmd)
}
