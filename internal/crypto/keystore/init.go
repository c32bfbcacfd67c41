package keystore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

const keyringService = "flowdeck-node"
const keyringUser = "keystore-passphrase"

// InitOrLoadKeystore initializes or loads the encrypted keystore holding the
// vault encryption secret and the JWT signing secret. The passphrase is
// resolved from config, a passphrase file, the OS keyring, or an interactive
// prompt, in that order.
func InitOrLoadKeystore(dataDir string, passphraseFile string, config *utils.ConfigManager) (*KeystoreData, error) {
	keystorePath := filepath.Join(dataDir, "keystore.dat")

	// Check if keystore exists
	if _, err := os.Stat(keystorePath); err == nil {
		// Keystore exists, unlock it
		return unlockExistingKeystore(keystorePath, passphraseFile, config)
	}

	// No keystore - create a fresh one with newly generated secrets
	return createFreshKeystore(keystorePath, passphraseFile, config)
}

// unlockExistingKeystore prompts for passphrase and unlocks the keystore
func unlockExistingKeystore(keystorePath string, passphraseFile string, config *utils.ConfigManager) (*KeystoreData, error) {
	fmt.Println("\n🔒 Encrypted keystore found")

	// Load keystore
	ks, err := LoadKeystore(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load keystore: %v", err)
	}

	// Get passphrase
	passphrase, err := getPassphrase(passphraseFile, false, config)
	if err != nil {
		return nil, err
	}

	// Unlock keystore
	data, err := UnlockKeystore(ks, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock keystore: %v", err)
	}

	fmt.Println("✓ Keystore unlocked successfully")
	return data, nil
}

// createFreshKeystore creates a new keystore with freshly generated secrets
func createFreshKeystore(keystorePath string, passphraseFile string, config *utils.ConfigManager) (*KeystoreData, error) {
	fmt.Println("\n🔑 No keystore found - creating new encrypted keystore")

	// Generate vault encryption secret
	vaultSecret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate vault secret: %v", err)
	}

	// Generate JWT secret
	jwtSecret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %v", err)
	}

	// Get passphrase
	passphrase, err := getPassphrase(passphraseFile, true, config)
	if err != nil {
		return nil, err
	}

	// Create encrypted keystore
	ks, err := CreateKeystore(passphrase, vaultSecret, jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create keystore: %v", err)
	}

	// Save keystore
	if err := SaveKeystore(ks, keystorePath); err != nil {
		return nil, fmt.Errorf("failed to save keystore: %v", err)
	}

	// Remember the passphrase in the OS keyring so unattended restarts work.
	// Failure here is not fatal - the user just gets prompted next time.
	if err := keyring.Set(keyringService, keyringUser, passphrase); err == nil {
		fmt.Println("✓ Passphrase stored in OS keyring")
	}

	fmt.Printf("✓ Keystore created and saved to: %s\n", keystorePath)

	return &KeystoreData{
		VaultSecret: vaultSecret,
		JWTSecret:   jwtSecret,
	}, nil
}

// getPassphrase resolves the keystore passphrase from config, file, OS
// keyring, or an interactive prompt
func getPassphrase(passphraseFile string, isNewKeystore bool, config *utils.ConfigManager) (string, error) {
	// Priority 1: Check config for keystore_passphrase
	if config != nil {
		if configPassphrase, exists := config.GetConfig("keystore_passphrase"); exists && configPassphrase != "" {
			return configPassphrase, nil
		}
	}

	// Priority 2: Check if passphrase file is provided
	if passphraseFile != "" {
		passphrase, err := os.ReadFile(passphraseFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %v", err)
		}
		return strings.TrimSpace(string(passphrase)), nil
	}

	// Priority 3: OS keyring (only useful for unlocking an existing keystore)
	if !isNewKeystore {
		if passphrase, err := keyring.Get(keyringService, keyringUser); err == nil && passphrase != "" {
			return passphrase, nil
		}
	}

	// Priority 4: Interactive passphrase prompt
	if isNewKeystore {
		return promptNewPassphrase()
	}
	return promptPassphrase()
}

// PromptPassphrase interactively asks for the current passphrase
func PromptPassphrase() (string, error) {
	return promptPassphrase()
}

// PromptNewPassphrase interactively asks for a new passphrase with confirmation
func PromptNewPassphrase() (string, error) {
	return promptNewPassphrase()
}

// promptPassphrase prompts for a passphrase (for unlocking)
func promptPassphrase() (string, error) {
	fmt.Print("Enter keystore passphrase: ")
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}

	if len(passphrase) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}

	return string(passphrase), nil
}

// promptNewPassphrase prompts for a new passphrase with confirmation
func promptNewPassphrase() (string, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🔐 KEYSTORE PASSPHRASE SETUP")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("")
	fmt.Println("The credential vault's encryption secret will be protected with a passphrase.")
	fmt.Println("This passphrase is required every time the node starts.")
	fmt.Println("")
	fmt.Println("⚠️  IMPORTANT:")
	fmt.Println("  • Choose a strong passphrase (minimum 8 characters recommended)")
	fmt.Println("  • You will need this passphrase on every node startup")
	fmt.Println("  • If you lose this passphrase, stored credentials cannot be decrypted")
	fmt.Println("")
	fmt.Print("Press Enter to continue...")
	reader.ReadString('\n')

	for {
		fmt.Print("\nCreate passphrase: ")
		passphrase1, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %v", err)
		}

		if len(passphrase1) == 0 {
			fmt.Println("❌ Passphrase cannot be empty. Please try again.")
			continue
		}

		if len(passphrase1) < 8 {
			fmt.Println("⚠️  Warning: Passphrase is shorter than 8 characters")
			fmt.Print("Continue with this passphrase? (yes/no): ")
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				continue
			}
		}

		fmt.Print("Confirm passphrase: ")
		passphrase2, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase confirmation: %v", err)
		}

		if string(passphrase1) != string(passphrase2) {
			fmt.Println("❌ Passphrases do not match. Please try again.")
			continue
		}

		return string(passphrase1), nil
	}
}
