package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/middleware"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/vault"
)

type storeCredentialRequest struct {
	Service string                 `json:"service"`
	Data    map[string]interface{} `json:"data"`
}

// serviceEntry is one catalog row, optionally annotated with whether the
// requesting user has connected the service
type serviceEntry struct {
	*registry.ServiceConfig
	Connected *bool `json:"connected,omitempty"`
}

// handleGetServices returns the catalog of supported services. The route
// is public; requests carrying a valid token additionally learn which
// services the caller has credentials for.
func (s *APIServer) handleGetServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	services, err := registry.All()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to load service registry: %v", err), "api")
		http.Error(w, "Failed to load services", http.StatusInternalServerError)
		return
	}

	var claims *middleware.JWTClaims
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		claims, _ = s.jwtManager.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
	}

	entries := make([]serviceEntry, 0, len(services))
	for _, svc := range services {
		entry := serviceEntry{ServiceConfig: svc}
		if claims != nil {
			if has, err := s.vault.Has(claims.UserID, svc.ID); err == nil {
				entry.Connected = &has
			}
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"services": entries,
		"total":    len(entries),
	})
}

// handleServiceRequirements returns what a user must supply to connect
// a service, GET /api/services/{service}/requirements
func (s *APIServer) handleServiceRequirements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/services/")
	service := strings.TrimSuffix(path, "/requirements")
	if service == path || service == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	req, err := registry.Requirements(service)
	if err != nil {
		http.Error(w, "Unknown service", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(req)
}

// handleListCredentials returns credential metadata for the current user
func (s *APIServer) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	creds, err := s.vault.List(claims.UserID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list credentials: %v", err), "api")
		http.Error(w, "Failed to retrieve credentials", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"credentials": creds,
		"total":       len(creds),
	})
}

// handleStoreCredential encrypts and stores a credential for the current user
func (s *APIServer) handleStoreCredential(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req storeCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Service == "" || len(req.Data) == 0 {
		http.Error(w, "Missing required fields: service, data", http.StatusBadRequest)
		return
	}

	if err := s.vault.Store(claims.UserID, req.Service, req.Data); err != nil {
		if strings.Contains(err.Error(), "unknown service") {
			http.Error(w, "Unknown service", http.StatusBadRequest)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to store credential: %v", err), "api")
		http.Error(w, "Failed to store credential", http.StatusInternalServerError)
		return
	}

	s.eventEmitter.CredentialsChanged(claims.UserID, req.Service, "stored")

	// Check the credential against the service so the caller learns
	// immediately whether the secret works
	valid, err := s.vault.Validate(r.Context(), claims.UserID, req.Service)
	response := map[string]interface{}{
		"service": req.Service,
		"stored":  true,
	}
	if err != nil {
		response["validated"] = false
		response["validation_error"] = err.Error()
	} else {
		response["validated"] = valid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// handleTestCredential validates a stored credential against the live service,
// GET /api/credentials/{service}/test
func (s *APIServer) handleTestCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	service := strings.TrimSuffix(path, "/test")
	if service == "" {
		http.Error(w, "Missing service", http.StatusBadRequest)
		return
	}

	valid, err := s.vault.Validate(r.Context(), claims.UserID, service)
	if err != nil {
		if errors.Is(err, vault.ErrCredentialNotFound) {
			http.Error(w, "Credential not found", http.StatusNotFound)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to validate credential: %v", err), "api")
		http.Error(w, "Failed to validate credential", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": service,
		"valid":   valid,
	})
}

// handleDeleteCredential removes a stored credential,
// DELETE /api/credentials/{service}
func (s *APIServer) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	service := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	if service == "" {
		http.Error(w, "Missing service", http.StatusBadRequest)
		return
	}

	if err := s.vault.Delete(claims.UserID, service); err != nil {
		if errors.Is(err, vault.ErrCredentialNotFound) {
			http.Error(w, "Credential not found", http.StatusNotFound)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to delete credential: %v", err), "api")
		http.Error(w, "Failed to delete credential", http.StatusInternalServerError)
		return
	}

	s.eventEmitter.CredentialsChanged(claims.UserID, service, "deleted")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": service,
		"deleted": true,
	})
}
