package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/crypto"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/database"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

// ErrCredentialNotFound is returned when no credential exists for a (user, service) pair
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialInfo is the metadata returned when listing credentials.
// It never carries credential values.
type CredentialInfo struct {
	Service     string    `json:"service"`
	ServiceName string    `json:"service_name"`
	Auth        string    `json:"auth"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TokenRefresher renews an OAuth credential payload a service has
// rejected. Implemented by oauth.Exchange.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error)
}

// CredentialVault stores and retrieves per-user service credentials.
// Credential payloads are JSON objects encrypted with the vault secret
// before they reach the database; plaintext exists only in memory.
type CredentialVault struct {
	store      *database.CredentialStore
	secret     string
	httpClient *http.Client
	refresher  TokenRefresher
	logger     *utils.LogsManager
}

// NewCredentialVault creates a credential vault backed by the given store
func NewCredentialVault(cm *utils.ConfigManager, store *database.CredentialStore, secret string, logger *utils.LogsManager) (*CredentialVault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret must not be empty")
	}

	return &CredentialVault{
		store:  store,
		secret: secret,
		httpClient: &http.Client{
			Timeout: cm.GetConfigDuration("http_timeout", 15*time.Second),
		},
		logger: logger,
	}, nil
}

// SetRefresher lets Validate renew rejected OAuth credentials instead
// of reporting them invalid outright
func (cv *CredentialVault) SetRefresher(r TokenRefresher) {
	cv.refresher = r
}

// Store encrypts and persists a credential payload for (user, service).
// The service must be known to the registry. Storing a second time for
// the same pair overwrites the previous payload.
func (cv *CredentialVault) Store(userID, service string, data map[string]interface{}) error {
	if !registry.Has(service) {
		return fmt.Errorf("unknown service: %s", service)
	}
	if len(data) == 0 {
		return fmt.Errorf("credential data must not be empty")
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize credential data: %v", err)
	}

	encrypted, err := crypto.EncryptData(string(plaintext), cv.secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %v", err)
	}

	if _, err := cv.store.UpsertCredential(userID, service, encrypted); err != nil {
		return err
	}

	cv.logger.Info(fmt.Sprintf("Stored %s credential for user %s", service, userID), "vault")
	return nil
}

// Retrieve decrypts and returns the credential payload for (user, service).
// Returns ErrCredentialNotFound when none is stored; decryption failures
// surface as crypto.ErrDecryptionFailed.
func (cv *CredentialVault) Retrieve(userID, service string) (map[string]interface{}, error) {
	cred, err := cv.store.GetCredential(userID, service)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrCredentialNotFound
	}

	plaintext, err := crypto.DecryptData(cred.EncryptedData, cv.secret)
	if err != nil {
		cv.logger.Warn(fmt.Sprintf("Failed to decrypt %s credential for user %s", service, userID), "vault")
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
		return nil, fmt.Errorf("failed to parse credential data: %v", err)
	}

	return data, nil
}

// Delete removes the credential for (user, service).
// Returns ErrCredentialNotFound when none is stored.
func (cv *CredentialVault) Delete(userID, service string) error {
	err := cv.store.DeleteCredential(userID, service)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCredentialNotFound
		}
		return err
	}
	return nil
}

// List returns metadata for every credential the user has stored.
// Payloads are never included.
func (cv *CredentialVault) List(userID string) ([]CredentialInfo, error) {
	creds, err := cv.store.ListCredentials(userID)
	if err != nil {
		return nil, err
	}

	infos := make([]CredentialInfo, 0, len(creds))
	for _, cred := range creds {
		info := CredentialInfo{
			Service:   cred.Service,
			CreatedAt: cred.CreatedAt,
			UpdatedAt: cred.UpdatedAt,
		}
		if svc, err := registry.Get(cred.Service); err == nil {
			info.ServiceName = svc.Name
			info.Auth = string(svc.Auth)
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// Has reports whether the user has a credential stored for the service
func (cv *CredentialVault) Has(userID, service string) (bool, error) {
	cred, err := cv.store.GetCredential(userID, service)
	if err != nil {
		return false, err
	}
	return cred != nil, nil
}

// Validate checks a stored credential against the service's test endpoint.
// A rejected OAuth credential is refreshed and retried once when a
// refresher is wired; otherwise rejection returns false with no error.
func (cv *CredentialVault) Validate(ctx context.Context, userID, service string) (bool, error) {
	svc, err := registry.Get(service)
	if err != nil {
		return false, err
	}

	data, err := cv.Retrieve(userID, service)
	if err != nil {
		return false, err
	}

	valid, err := cv.checkToken(ctx, svc, data)
	if err != nil || valid {
		return valid, err
	}

	if cv.refresher == nil || svc.Auth != registry.AuthOAuth2 {
		cv.logger.Warn(fmt.Sprintf("Validation of %s credential for user %s failed", service, userID), "vault")
		return false, nil
	}

	refreshed, err := cv.refresher.RefreshToken(ctx, service, data)
	if err != nil {
		// Not refreshable; the original rejection stands
		cv.logger.Warn(fmt.Sprintf("Could not refresh rejected %s credential for user %s: %v", service, userID, err), "vault")
		return false, nil
	}
	if err := cv.Store(userID, service, refreshed); err != nil {
		return false, err
	}
	cv.logger.Info(fmt.Sprintf("Refreshed rejected %s credential for user %s", service, userID), "vault")

	return cv.checkToken(ctx, svc, refreshed)
}

// checkToken sends the credential's token to the service's test endpoint
func (cv *CredentialVault) checkToken(ctx context.Context, svc *registry.ServiceConfig, data map[string]interface{}) (bool, error) {
	token := bearerToken(svc, data)
	if token == "" {
		return false, fmt.Errorf("credential for %s has no usable token", svc.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.TestURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build validation request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := cv.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("validation request failed: %v", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusBadRequest, nil
}

// bearerToken picks the token field matching the service's auth scheme
func bearerToken(svc *registry.ServiceConfig, data map[string]interface{}) string {
	var key string
	switch svc.Auth {
	case registry.AuthAPIKey:
		key = "api_key"
	case registry.AuthOAuth2:
		key = "access_token"
	default:
		return ""
	}

	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
