package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/api/middleware"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/oauth"
)

// handleOAuthURL builds the provider authorization URL for a service,
// GET /api/oauth/url?service={service}
func (s *APIServer) handleOAuthURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		http.Error(w, "Missing service parameter", http.StatusBadRequest)
		return
	}

	authURL, err := s.exchange.BuildAuthorizationURL(service, claims.UserID, s.oauthRedirectURI(service))
	if err != nil {
		if errors.Is(err, oauth.ErrNotOAuthService) {
			http.Error(w, "Service does not use OAuth", http.StatusBadRequest)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to build authorization URL: %v", err), "api")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": service,
		"url":     authURL,
	})
}

// handleOAuthCallback completes the authorization code flow. The provider
// redirects the browser here, so the user is identified by the state
// parameter rather than a JWT.
func (s *APIServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if errMsg := query.Get("error"); errMsg != "" {
		s.logger.Warn(fmt.Sprintf("OAuth authorization denied: %s", errMsg), "api")
		s.writeCallbackPage(w, http.StatusBadRequest, "Authorization was denied. You can close this window.")
		return
	}

	service := query.Get("service")
	code := query.Get("code")
	state := query.Get("state")
	if service == "" || code == "" || state == "" {
		http.Error(w, "Missing service, code or state parameter", http.StatusBadRequest)
		return
	}

	// The state was issued by us and works once. Forged, replayed and
	// expired values all fail here, as do states issued for a different
	// service than the callback claims.
	userID, stateService, ok := s.exchange.ConsumeState(state)
	if !ok || stateService != service {
		s.logger.Warn("OAuth callback with unknown or mismatched state rejected", "api")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	user, err := s.dbManager.Users.GetUserByID(userID)
	if err != nil || user == nil {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	tokens, err := s.exchange.ExchangeCode(r.Context(), service, code, s.oauthRedirectURI(service))
	if err != nil {
		s.logger.Error(fmt.Sprintf("OAuth code exchange failed for %s: %v", service, err), "api")
		s.writeCallbackPage(w, http.StatusBadGateway, "Authorization failed. Please try connecting the service again.")
		return
	}

	if err := s.vault.Store(userID, service, tokens); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to store OAuth tokens for %s: %v", service, err), "api")
		s.writeCallbackPage(w, http.StatusInternalServerError, "Authorization succeeded but the credential could not be saved.")
		return
	}

	s.eventEmitter.CredentialsChanged(userID, service, "stored")
	s.writeCallbackPage(w, http.StatusOK, "Authorization complete. You can close this window.")
}

// oauthRedirectURI returns the redirect URI registered with OAuth providers.
// The service is carried as a query parameter so the callback knows which
// provider the code belongs to; the exact same URI must be sent in both
// the authorization and the token request.
func (s *APIServer) oauthRedirectURI(service string) string {
	fallback := fmt.Sprintf("http://localhost:%s/api/oauth/callback", s.GetPort())
	base := s.config.GetConfigWithDefault("oauth_redirect_uri", fallback)
	return base + "?service=" + url.QueryEscape(service)
}

// writeCallbackPage renders a minimal HTML page for the browser redirect
func (s *APIServer) writeCallbackPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", message)
}
