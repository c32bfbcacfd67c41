package registry

import (
	"strings"
	"testing"
)

// TestRegistryLoads verifies the embedded service table parses and contains
// every service the node supports
func TestRegistryLoads(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("Failed to load service registry: %v", err)
	}

	want := []string{"gmail", "google-sheets", "openai", "slack", "typeform"}
	if len(all) != len(want) {
		t.Fatalf("Expected %d services, got %d", len(want), len(all))
	}

	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("Expected service %s at index %d, got %s", id, i, all[i].ID)
		}
	}
}

// TestOAuthServicesHaveEndpoints verifies every OAuth2 service carries the
// endpoints the exchange needs
func TestOAuthServicesHaveEndpoints(t *testing.T) {
	all, err := All()
	if err != nil {
		t.Fatalf("Failed to load service registry: %v", err)
	}

	for _, svc := range all {
		if svc.TestURL == "" {
			t.Errorf("Service %s has no test endpoint", svc.ID)
		}
		if svc.Auth != AuthOAuth2 {
			continue
		}
		if svc.AuthorizeURL == "" || svc.TokenURL == "" || svc.Scope == "" {
			t.Errorf("OAuth2 service %s is missing authorize/token/scope", svc.ID)
		}
	}
}

// TestGetUnknownService verifies unknown service lookups fail
func TestGetUnknownService(t *testing.T) {
	if _, err := Get("mainframe"); err == nil {
		t.Fatal("Expected error for unknown service, got nil")
	}

	if Has("mainframe") {
		t.Fatal("Has should return false for unknown service")
	}

	if !Has("openai") {
		t.Fatal("Has should return true for openai")
	}
}

// TestRequirements verifies requirement descriptors for both auth kinds
func TestRequirements(t *testing.T) {
	openai, err := Requirements("openai")
	if err != nil {
		t.Fatalf("Failed to get openai requirements: %v", err)
	}
	if !openai.RequiresAPIKey || openai.RequiresOAuth {
		t.Errorf("openai should require an API key, got %+v", openai)
	}
	if len(openai.Instructions) == 0 {
		t.Error("openai requirements should include setup instructions")
	}

	slack, err := Requirements("slack")
	if err != nil {
		t.Fatalf("Failed to get slack requirements: %v", err)
	}
	if !slack.RequiresOAuth || slack.RequiresAPIKey {
		t.Errorf("slack should require OAuth, got %+v", slack)
	}
	if !strings.Contains(slack.Scope, "chat:write") {
		t.Errorf("slack scope missing chat:write, got %q", slack.Scope)
	}
}
