package vault

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/crypto"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	_ "modernc.org/sqlite"
)

func setupTestVault(t *testing.T, secret string) (*CredentialVault, string, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	us, err := database.NewUserStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create user store: %v", err)
	}
	cs, err := database.NewCredentialStore(db, logger)
	if err != nil {
		t.Fatalf("Failed to create credential store: %v", err)
	}

	user, err := us.CreateUser("alice@example.com", "hash")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	cv, err := NewCredentialVault(cm, cs, secret, logger)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	return cv, user.ID, db
}

func TestVaultStoreRetrieveRoundTrip(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	data := map[string]interface{}{
		"access_token":  "xoxb-token",
		"refresh_token": "xoxr-token",
		"expires_in":    float64(3600),
	}

	if err := cv.Store(userID, "slack", data); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	retrieved, err := cv.Retrieve(userID, "slack")
	if err != nil {
		t.Fatalf("Failed to retrieve credential: %v", err)
	}
	if retrieved["access_token"] != "xoxb-token" {
		t.Errorf("Expected access_token xoxb-token, got %v", retrieved["access_token"])
	}
	if retrieved["expires_in"] != float64(3600) {
		t.Errorf("Expected expires_in 3600, got %v", retrieved["expires_in"])
	}
}

func TestVaultRejectsUnknownService(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	err := cv.Store(userID, "fax-machine", map[string]interface{}{"api_key": "k"})
	if err == nil {
		t.Fatal("Expected error for unknown service")
	}
}

func TestVaultRetrieveMissing(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	_, err := cv.Retrieve(userID, "gmail")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound, got %v", err)
	}
}

func TestVaultStoreOverwrites(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "openai", map[string]interface{}{"api_key": "old"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}
	if err := cv.Store(userID, "openai", map[string]interface{}{"api_key": "new"}); err != nil {
		t.Fatalf("Failed to overwrite credential: %v", err)
	}

	retrieved, err := cv.Retrieve(userID, "openai")
	if err != nil {
		t.Fatalf("Failed to retrieve credential: %v", err)
	}
	if retrieved["api_key"] != "new" {
		t.Errorf("Expected overwritten api_key, got %v", retrieved["api_key"])
	}
}

func TestVaultWrongSecretFailsClosed(t *testing.T) {
	cv, userID, db := setupTestVault(t, "correct-secret")
	defer db.Close()

	if err := cv.Store(userID, "openai", map[string]interface{}{"api_key": "sk-123"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	// A vault unlocked with a different secret must never return plaintext
	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)
	wrong, err := NewCredentialVault(cm, cv.store, "wrong-secret", logger)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}

	_, err = wrong.Retrieve(userID, "openai")
	if err == nil {
		t.Fatal("Expected error retrieving with wrong secret")
	}
	if !errors.Is(err, crypto.ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
}

func TestVaultDelete(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "typeform", map[string]interface{}{"access_token": "t"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	if err := cv.Delete(userID, "typeform"); err != nil {
		t.Fatalf("Failed to delete credential: %v", err)
	}

	if err := cv.Delete(userID, "typeform"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound on second delete, got %v", err)
	}
}

func TestVaultListHidesPayloads(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "slack", map[string]interface{}{"access_token": "secret-token"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}
	if err := cv.Store(userID, "openai", map[string]interface{}{"api_key": "sk-secret"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	infos, err := cv.List(userID)
	if err != nil {
		t.Fatalf("Failed to list credentials: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 credentials, got %d", len(infos))
	}

	if infos[0].Service != "openai" || infos[1].Service != "slack" {
		t.Errorf("Expected services [openai slack], got [%s %s]", infos[0].Service, infos[1].Service)
	}
	if infos[0].ServiceName == "" {
		t.Error("Expected service display name to be populated")
	}
	if infos[0].Auth != "api_key" {
		t.Errorf("Expected auth api_key for openai, got %s", infos[0].Auth)
	}
}

// roundTripperFunc lets tests intercept outgoing validation requests
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestVaultValidate(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "openai", map[string]interface{}{"api_key": "sk-valid"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	var gotAuth string
	cv.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			status := http.StatusOK
			if gotAuth != "Bearer sk-valid" {
				status = http.StatusUnauthorized
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader("{}")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	valid, err := cv.Validate(context.Background(), userID, "openai")
	if err != nil {
		t.Fatalf("Failed to validate credential: %v", err)
	}
	if !valid {
		t.Error("Expected credential to validate")
	}
	if gotAuth != "Bearer sk-valid" {
		t.Errorf("Expected bearer header with api key, got %q", gotAuth)
	}
}

func TestVaultValidateRejected(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "slack", map[string]interface{}{"access_token": "expired"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	cv.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader("{}")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	valid, err := cv.Validate(context.Background(), userID, "slack")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if valid {
		t.Error("Expected credential to be rejected")
	}
}

// refresherFunc adapts a function to the TokenRefresher interface
type refresherFunc func(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error)

func (f refresherFunc) RefreshToken(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, serviceID, current)
}

func TestVaultValidateRefreshesRejectedOAuth(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "gmail", map[string]interface{}{
		"access_token":  "ya29.expired",
		"refresh_token": "1//refresh",
	}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	cv.SetRefresher(refresherFunc(func(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error) {
		if serviceID != "gmail" {
			t.Errorf("Expected refresh for gmail, got %s", serviceID)
		}
		if current["refresh_token"] != "1//refresh" {
			t.Errorf("Expected stored payload passed to refresher, got %v", current)
		}
		return map[string]interface{}{
			"access_token":  "ya29.fresh",
			"refresh_token": "1//refresh",
		}, nil
	}))

	cv.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			status := http.StatusUnauthorized
			if req.Header.Get("Authorization") == "Bearer ya29.fresh" {
				status = http.StatusOK
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader("{}")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	valid, err := cv.Validate(context.Background(), userID, "gmail")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !valid {
		t.Error("Expected refreshed credential to validate")
	}

	// The refreshed payload must be the one persisted
	stored, err := cv.Retrieve(userID, "gmail")
	if err != nil {
		t.Fatalf("Failed to retrieve credential: %v", err)
	}
	if stored["access_token"] != "ya29.fresh" {
		t.Errorf("Expected refreshed access token persisted, got %v", stored["access_token"])
	}
}

func TestVaultValidateRefreshFailureStaysInvalid(t *testing.T) {
	cv, userID, db := setupTestVault(t, "test-secret")
	defer db.Close()

	if err := cv.Store(userID, "slack", map[string]interface{}{"access_token": "expired"}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	cv.SetRefresher(refresherFunc(func(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("credential has no refresh token")
	}))

	cv.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader("{}")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	valid, err := cv.Validate(context.Background(), userID, "slack")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if valid {
		t.Error("Expected credential to stay invalid when refresh fails")
	}
}
