package main

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// RunDecryptCredential looks up a credential by user email and service and
// decrypts it with the vault secret from the environment. It goes straight
// to the database so it works without a running node.
func RunDecryptCredential(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: go run ./scripts decrypt-credential <user_email> <service>")
		fmt.Println("Example: FLOWDECK_VAULT_SECRET=... go run ./scripts decrypt-credential dev@example.com slack")
		os.Exit(1)
	}

	email := args[0]
	service := args[1]

	secret := os.Getenv("FLOWDECK_VAULT_SECRET")
	if secret == "" {
		fmt.Println("FLOWDECK_VAULT_SECRET is not set")
		fmt.Println("Pass the hex vault secret printed by the keystore, or copy it from the node's keystore file.")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", dbPath())
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var userID string
	err = db.QueryRow(`SELECT id FROM users WHERE email = ?`, email).Scan(&userID)
	if err != nil {
		fmt.Printf("Failed to find user %s: %v\n", email, err)
		os.Exit(1)
	}

	var credID, encryptedData string
	var createdAt, updatedAt int64
	query := `SELECT id, encrypted_data, created_at, updated_at
	          FROM credentials WHERE user_id = ? AND service = ?`
	err = db.QueryRow(query, userID, service).Scan(&credID, &encryptedData, &createdAt, &updatedAt)
	if err != nil {
		fmt.Printf("Failed to find %s credential for %s: %v\n", service, email, err)
		os.Exit(1)
	}

	fmt.Println("=== Credential ===")
	fmt.Printf("ID: %s\n", credID)
	fmt.Printf("User: %s (%s)\n", email, userID)
	fmt.Printf("Service: %s\n", service)
	fmt.Printf("Created: %s\n", time.Unix(createdAt, 0).Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", time.Unix(updatedAt, 0).Format(time.RFC3339))
	fmt.Println()

	plaintext, err := decryptToken(encryptedData, secret)
	if err != nil {
		fmt.Printf("Failed to decrypt: %v\n", err)
		fmt.Println("Check that FLOWDECK_VAULT_SECRET matches the node's keystore.")
		os.Exit(1)
	}

	// Stored payloads are JSON field maps, pretty-print when possible
	var fields map[string]string
	if err := json.Unmarshal([]byte(plaintext), &fields); err == nil {
		fmt.Println("=== Decrypted Fields ===")
		for key, value := range fields {
			fmt.Printf("  %s: %s\n", key, value)
		}
	} else {
		fmt.Println("=== Decrypted Payload ===")
		fmt.Println(plaintext)
	}
}

// decryptToken decrypts a vault token: base64(iv) + ":" + base64(ciphertext),
// AES-256-CBC with a SHA-256 derived key and PKCS#7 padding.
func decryptToken(token, secret string) (string, error) {
	ivB64, ctB64, found := strings.Cut(token, ":")
	if !found {
		return "", fmt.Errorf("token missing IV separator")
	}

	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("invalid IV encoding: %v", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext encoding: %v", err)
	}
	if len(iv) != aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("malformed token")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize {
		return "", fmt.Errorf("invalid padding")
	}
	if !bytes.Equal(plaintext[len(plaintext)-padding:], bytes.Repeat([]byte{byte(padding)}, padding)) {
		return "", fmt.Errorf("invalid padding")
	}

	return string(plaintext[:len(plaintext)-padding]), nil
}

// dbPath resolves the node database path, FLOWDECK_DB overrides the default
func dbPath() string {
	if path := os.Getenv("FLOWDECK_DB"); path != "" {
		return path
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Printf("Failed to get home directory: %v\n", err)
			os.Exit(1)
		}
		dataHome = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataHome, "flowdeck", "flowdeck.db")
}
