package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Credential payload encryption.
//
// Payloads are encrypted with AES-256-CBC using a key derived from an
// operator-supplied secret (SHA-256 of the secret). Each call generates a
// fresh random IV, so encrypting the same payload twice yields different
// tokens. The wire format is:
//
//	base64(iv) + ":" + base64(ciphertext)
//
// CBC carries no integrity tag, so a tampered ciphertext is only detected
// when the PKCS#7 padding ends up invalid. The token format is fixed by
// existing stored records; switching to an AEAD mode would change it.

// ErrDecryptionFailed is returned when a credential token cannot be
// decrypted: wrong secret, corrupted token, or malformed encoding.
var ErrDecryptionFailed = errors.New("credential decryption failed")

// deriveCredentialKey derives a 32-byte AES-256 key from the secret
func deriveCredentialKey(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// EncryptData encrypts a plaintext string and returns the encoded token
func EncryptData(plaintext, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("encryption secret cannot be empty")
	}

	key := deriveCredentialKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %v", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptData decrypts a token produced by EncryptData. A wrong secret or a
// corrupted token returns ErrDecryptionFailed rather than garbage.
func DecryptData(token, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("encryption secret cannot be empty")
	}

	ivB64, ctB64, found := strings.Cut(token, ":")
	if !found {
		return "", fmt.Errorf("%w: token missing IV separator", ErrDecryptionFailed)
	}

	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid IV encoding", ErrDecryptionFailed)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: invalid IV size %d", ErrDecryptionFailed, len(iv))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryptionFailed)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d not a block multiple", ErrDecryptionFailed, len(ciphertext))
	}

	key := deriveCredentialKey(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %v", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(unpadded), nil
}

// pkcs7Pad pads data to a multiple of blockSize
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// pkcs7Unpad validates and strips PKCS#7 padding
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
