package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
)

func newTestExchange(t *testing.T) *Exchange {
	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)
	return NewExchange(cm, logger)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestStateIssueAndConsume(t *testing.T) {
	store := newStateStore()

	state, err := store.Issue("user-123", "slack")
	if err != nil {
		t.Fatalf("Failed to issue state: %v", err)
	}

	userID, service, ok := store.Consume(state)
	if !ok {
		t.Fatal("Expected issued state to redeem")
	}
	if userID != "user-123" || service != "slack" {
		t.Errorf("Expected state bound to user-123/slack, got %s/%s", userID, service)
	}

	// Each state works exactly once
	if _, _, ok := store.Consume(state); ok {
		t.Error("Expected replayed state to be rejected")
	}
}

func TestStateConsumeRejectsForged(t *testing.T) {
	store := newStateStore()
	if _, err := store.Issue("user-123", "slack"); err != nil {
		t.Fatalf("Failed to issue state: %v", err)
	}

	// Values this node never issued must fail, including ones that
	// name a real user
	for _, forged := range []string{"user-123:1", "user-123", "garbage", ""} {
		if _, _, ok := store.Consume(forged); ok {
			t.Errorf("Expected forged state %q to be rejected", forged)
		}
	}
}

func TestStateConsumeRejectsExpired(t *testing.T) {
	store := newStateStore()
	state, err := store.Issue("user-123", "slack")
	if err != nil {
		t.Fatalf("Failed to issue state: %v", err)
	}

	store.mu.Lock()
	entry := store.states[state]
	entry.expires = time.Now().Add(-time.Minute)
	store.states[state] = entry
	store.mu.Unlock()

	if _, _, ok := store.Consume(state); ok {
		t.Error("Expected expired state to be rejected")
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	t.Setenv("SLACK_CLIENT_ID", "slack-id")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	e := newTestExchange(t)
	raw, err := e.BuildAuthorizationURL("slack", "user-1", "http://localhost:8080/api/credentials/slack/callback")
	if err != nil {
		t.Fatalf("Failed to build authorization URL: %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Failed to parse authorization URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "slack-id" {
		t.Errorf("Expected client_id slack-id, got %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("Expected response_type code, got %q", q.Get("response_type"))
	}
	userID, service, ok := e.ConsumeState(q.Get("state"))
	if !ok || userID != "user-1" || service != "slack" {
		t.Errorf("Expected state redeemable for user-1/slack, got %s/%s ok=%v", userID, service, ok)
	}
	if q.Get("scope") == "" {
		t.Error("Expected scope to be set")
	}
	if q.Get("access_type") != "" {
		t.Error("Expected no offline access params for non-Google service")
	}
}

func TestBuildAuthorizationURLGoogleOffline(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "gmail-id")
	t.Setenv("GMAIL_CLIENT_SECRET", "gmail-secret")

	e := newTestExchange(t)
	raw, err := e.BuildAuthorizationURL("gmail", "user-1", "http://localhost/cb")
	if err != nil {
		t.Fatalf("Failed to build authorization URL: %v", err)
	}

	parsed, _ := url.Parse(raw)
	q := parsed.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("Expected access_type offline, got %q", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("Expected prompt consent, got %q", q.Get("prompt"))
	}
}

func TestBuildAuthorizationURLAPIKeyService(t *testing.T) {
	e := newTestExchange(t)
	_, err := e.BuildAuthorizationURL("openai", "user-1", "http://localhost/cb")
	if !errors.Is(err, ErrNotOAuthService) {
		t.Errorf("Expected ErrNotOAuthService, got %v", err)
	}
}

func TestBuildAuthorizationURLMissingClientCredentials(t *testing.T) {
	t.Setenv("TYPEFORM_CLIENT_ID", "")
	t.Setenv("TYPEFORM_CLIENT_SECRET", "")

	e := newTestExchange(t)
	_, err := e.BuildAuthorizationURL("typeform", "user-1", "http://localhost/cb")
	if err == nil {
		t.Fatal("Expected error when client credentials are not configured")
	}
}

func TestExchangeCode(t *testing.T) {
	t.Setenv("SLACK_CLIENT_ID", "slack-id")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	e := newTestExchange(t)

	var gotForm url.Values
	e.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			gotForm, _ = url.ParseQuery(string(body))
			return jsonResponse(http.StatusOK,
				`{"ok":true,"access_token":"xoxb-new","refresh_token":"xoxr-new","expires_in":3600}`), nil
		}),
	}

	tokens, err := e.ExchangeCode(context.Background(), "slack", "auth-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("Failed to exchange code: %v", err)
	}

	if gotForm.Get("grant_type") != "authorization_code" {
		t.Errorf("Expected grant_type authorization_code, got %q", gotForm.Get("grant_type"))
	}
	if gotForm.Get("code") != "auth-code" {
		t.Errorf("Expected code auth-code, got %q", gotForm.Get("code"))
	}
	if gotForm.Get("client_secret") != "slack-secret" {
		t.Errorf("Expected client secret in form, got %q", gotForm.Get("client_secret"))
	}
	if tokens["access_token"] != "xoxb-new" {
		t.Errorf("Expected access token from response, got %v", tokens["access_token"])
	}
}

func TestExchangeCodeRejected(t *testing.T) {
	t.Setenv("SLACK_CLIENT_ID", "slack-id")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	e := newTestExchange(t)
	e.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant"}`), nil
		}),
	}

	_, err := e.ExchangeCode(context.Background(), "slack", "bad-code", "http://localhost/cb")
	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("Expected ExchangeError, got %v", err)
	}
	if exchErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", exchErr.StatusCode)
	}
}

func TestExchangeCodeSlackInBodyError(t *testing.T) {
	t.Setenv("SLACK_CLIENT_ID", "slack-id")
	t.Setenv("SLACK_CLIENT_SECRET", "slack-secret")

	e := newTestExchange(t)
	e.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"ok":false,"error":"invalid_code"}`), nil
		}),
	}

	_, err := e.ExchangeCode(context.Background(), "slack", "bad-code", "http://localhost/cb")
	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("Expected ExchangeError for ok:false response, got %v", err)
	}
	if exchErr.Body != "invalid_code" {
		t.Errorf("Expected in-body error message, got %q", exchErr.Body)
	}
}

func TestRefreshTokenMerges(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "gmail-id")
	t.Setenv("GMAIL_CLIENT_SECRET", "gmail-secret")

	e := newTestExchange(t)
	e.httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			form, _ := url.ParseQuery(string(body))
			if form.Get("grant_type") != "refresh_token" {
				t.Errorf("Expected grant_type refresh_token, got %q", form.Get("grant_type"))
			}
			// Google omits the refresh token from refresh responses
			return jsonResponse(http.StatusOK, `{"access_token":"ya29.new","expires_in":3599}`), nil
		}),
	}

	current := map[string]interface{}{
		"access_token":  "ya29.old",
		"refresh_token": "1//refresh",
		"token_type":    "Bearer",
	}

	merged, err := e.RefreshToken(context.Background(), "gmail", current)
	if err != nil {
		t.Fatalf("Failed to refresh token: %v", err)
	}

	if merged["access_token"] != "ya29.new" {
		t.Errorf("Expected refreshed access token, got %v", merged["access_token"])
	}
	if merged["refresh_token"] != "1//refresh" {
		t.Errorf("Expected old refresh token preserved, got %v", merged["refresh_token"])
	}
	if merged["token_type"] != "Bearer" {
		t.Errorf("Expected untouched fields preserved, got %v", merged["token_type"])
	}
	if merged["refreshed_at"] == nil {
		t.Error("Expected refreshed_at to be stamped")
	}
	// Original map must not be mutated
	if current["access_token"] != "ya29.old" {
		t.Error("Expected input credential to be left unchanged")
	}
}

func TestRefreshTokenWithoutRefreshToken(t *testing.T) {
	t.Setenv("GMAIL_CLIENT_ID", "gmail-id")
	t.Setenv("GMAIL_CLIENT_SECRET", "gmail-secret")

	e := newTestExchange(t)
	_, err := e.RefreshToken(context.Background(), "gmail", map[string]interface{}{
		"access_token": "ya29.old",
	})
	if !errors.Is(err, ErrRefreshNotSupported) {
		t.Errorf("Expected ErrRefreshNotSupported, got %v", err)
	}
}
