package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	jm := NewJWTManager("test-secret", "test-issuer")

	token, err := jm.GenerateToken("user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := jm.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("Expected user ID user-1, got %s", claims.UserID)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Expected email alice@example.com, got %s", claims.Email)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("Expected issuer test-issuer, got %s", claims.Issuer)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	jm := NewJWTManager("test-secret", "test-issuer")
	other := NewJWTManager("other-secret", "test-issuer")

	token, err := jm.GenerateToken("user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("Expected validation to fail with a different secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	jm := NewJWTManager("test-secret", "test-issuer")

	token, err := jm.GenerateToken("user-1", "alice@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := jm.ValidateToken(token); err == nil {
		t.Error("Expected validation to fail for an expired token")
	}
}

func TestAuthMiddleware(t *testing.T) {
	jm := NewJWTManager("test-secret", "test-issuer")

	handler := jm.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r)
		if err != nil {
			t.Errorf("Expected claims in context: %v", err)
		}
		if claims.UserID != "user-1" {
			t.Errorf("Expected user ID user-1, got %s", claims.UserID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	// Missing header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without header, got %d", rec.Code)
	}

	// Malformed header
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "not-a-bearer-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for malformed header, got %d", rec.Code)
	}

	// Valid token
	token, err := jm.GenerateToken("user-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 with valid token, got %d", rec.Code)
	}
}
