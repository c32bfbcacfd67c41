package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/registry"
	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

var (
	// ErrNotOAuthService is returned when an OAuth operation is attempted
	// on an API-key service
	ErrNotOAuthService = errors.New("service does not use oauth2")

	// ErrRefreshNotSupported is returned when a credential carries no
	// refresh token
	ErrRefreshNotSupported = errors.New("credential has no refresh token")
)

// ExchangeError reports a token endpoint rejection. Providers that
// report failures inside a 200 response, like Slack's ok:false payloads,
// still surface here.
type ExchangeError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange with %s failed: status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Exchange runs the OAuth2 authorization-code flow for registry services.
// Client credentials come from the environment (SLACK_CLIENT_ID style),
// with config-file fallback. Authorization states are held server-side
// and redeemed exactly once by the callback.
type Exchange struct {
	cm         *utils.ConfigManager
	httpClient *http.Client
	states     *stateStore
	logger     *utils.LogsManager
}

// NewExchange creates an OAuth exchange helper
func NewExchange(cm *utils.ConfigManager, logger *utils.LogsManager) *Exchange {
	return &Exchange{
		cm: cm,
		httpClient: &http.Client{
			Timeout: cm.GetConfigDuration("http_timeout", 15*time.Second),
		},
		states: newStateStore(),
		logger: logger,
	}
}

// clientCredentials resolves the OAuth app credentials for a service.
// Environment variables win (GMAIL_CLIENT_ID, GOOGLE_SHEETS_CLIENT_SECRET,
// ...), then config keys (gmail_client_id, ...).
func (e *Exchange) clientCredentials(serviceID string) (string, string, error) {
	envBase := strings.ToUpper(strings.ReplaceAll(serviceID, "-", "_"))
	cfgBase := strings.ReplaceAll(serviceID, "-", "_")

	clientID := os.Getenv(envBase + "_CLIENT_ID")
	if clientID == "" {
		clientID = e.cm.GetConfigWithDefault(cfgBase+"_client_id", "")
	}
	clientSecret := os.Getenv(envBase + "_CLIENT_SECRET")
	if clientSecret == "" {
		clientSecret = e.cm.GetConfigWithDefault(cfgBase+"_client_secret", "")
	}

	if clientID == "" || clientSecret == "" {
		return "", "", fmt.Errorf("oauth client credentials for %s are not configured", serviceID)
	}
	return clientID, clientSecret, nil
}

// config builds the oauth2 client configuration for a registry service
func (e *Exchange) config(svc *registry.ServiceConfig, redirectURI string) (*oauth2.Config, error) {
	clientID, clientSecret, err := e.clientCredentials(svc.ID)
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  svc.AuthorizeURL,
			TokenURL: svc.TokenURL,
			// Slack and Google both accept credentials in the POST body
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if svc.Scope != "" {
		conf.Scopes = strings.Fields(svc.Scope)
	}
	return conf, nil
}

// BuildAuthorizationURL returns the provider URL the user must visit to
// authorize access. The state parameter is minted here, bound to the
// initiating user, and must come back unchanged to the callback.
func (e *Exchange) BuildAuthorizationURL(serviceID, userID, redirectURI string) (string, error) {
	svc, err := registry.Get(serviceID)
	if err != nil {
		return "", err
	}
	if svc.Auth != registry.AuthOAuth2 {
		return "", ErrNotOAuthService
	}

	conf, err := e.config(svc, redirectURI)
	if err != nil {
		return "", err
	}

	state, err := e.states.Issue(userID, serviceID)
	if err != nil {
		return "", err
	}

	var opts []oauth2.AuthCodeOption
	// Google endpoints only hand out refresh tokens when offline access
	// is requested explicitly
	if strings.Contains(svc.AuthorizeURL, "google") {
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	}

	return conf.AuthCodeURL(state, opts...), nil
}

// ConsumeState redeems a callback state and returns the user and service
// it was issued for. A state works exactly once; replays and values this
// node never issued are rejected.
func (e *Exchange) ConsumeState(state string) (userID, serviceID string, ok bool) {
	return e.states.Consume(state)
}

// ExchangeCode trades an authorization code for tokens at the service's
// token endpoint. The returned map is the token payload the vault stores.
func (e *Exchange) ExchangeCode(ctx context.Context, serviceID, code, redirectURI string) (map[string]interface{}, error) {
	svc, err := registry.Get(serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Auth != registry.AuthOAuth2 {
		return nil, ErrNotOAuthService
	}

	conf, err := e.config(svc, redirectURI)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(e.clientContext(ctx), code)
	if err != nil {
		return nil, e.wrapTokenError(serviceID, err)
	}

	e.logger.Info(fmt.Sprintf("Exchanged authorization code for %s tokens", serviceID), "oauth")
	return tokenPayload(tok), nil
}

// RefreshToken refreshes an OAuth credential and returns the merged
// payload: the previous fields, overlaid with the fresh token, plus a
// refreshed_at timestamp. Providers that omit the refresh token from
// the response keep the old one.
func (e *Exchange) RefreshToken(ctx context.Context, serviceID string, current map[string]interface{}) (map[string]interface{}, error) {
	svc, err := registry.Get(serviceID)
	if err != nil {
		return nil, err
	}
	if svc.Auth != registry.AuthOAuth2 {
		return nil, ErrNotOAuthService
	}

	refreshToken, _ := current["refresh_token"].(string)
	if refreshToken == "" {
		return nil, ErrRefreshNotSupported
	}

	conf, err := e.config(svc, "")
	if err != nil {
		return nil, err
	}

	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		// An expired seed forces the token source to hit the endpoint
		Expiry: time.Now().Add(-time.Hour),
	}
	tok, err := conf.TokenSource(e.clientContext(ctx), seed).Token()
	if err != nil {
		return nil, e.wrapTokenError(serviceID, err)
	}

	merged := make(map[string]interface{}, len(current)+4)
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range tokenPayload(tok) {
		merged[k] = v
	}
	merged["refreshed_at"] = time.Now().UTC().Format(time.RFC3339)

	e.logger.Info(fmt.Sprintf("Refreshed %s tokens", serviceID), "oauth")
	return merged, nil
}

// clientContext routes oauth2 endpoint calls through the exchange's
// HTTP client
func (e *Exchange) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// wrapTokenError maps oauth2 endpoint rejections onto ExchangeError.
// RetrieveError covers both non-2xx statuses and in-body error fields,
// so Slack's 200-with-error responses land here too.
func (e *Exchange) wrapTokenError(serviceID string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		body := re.ErrorCode
		if body == "" {
			body = strings.TrimSpace(string(re.Body))
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		e.logger.Warn(fmt.Sprintf("Token endpoint for %s returned %d: %s", serviceID, status, body), "oauth")
		return &ExchangeError{Service: serviceID, StatusCode: status, Body: body}
	}
	return fmt.Errorf("token request to %s failed: %v", serviceID, err)
}

// tokenPayload flattens a token into the map shape the vault stores
func tokenPayload(tok *oauth2.Token) map[string]interface{} {
	payload := map[string]interface{}{
		"access_token": tok.AccessToken,
	}
	if tok.TokenType != "" {
		payload["token_type"] = tok.TokenType
	}
	if tok.RefreshToken != "" {
		payload["refresh_token"] = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		payload["expires_at"] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	for _, key := range []string{"scope", "team", "authed_user", "bot_user_id"} {
		if v := tok.Extra(key); v != nil {
			payload[key] = v
		}
	}
	return payload
}
