package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// handleSignup registers a new user account and returns a JWT
func (s *APIServer) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to hash password: %v", err), "api")
		http.Error(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	user, err := s.dbManager.Users.CreateUser(req.Email, string(hash))
	if err != nil {
		// UNIQUE constraint on email
		if strings.Contains(err.Error(), "UNIQUE") {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		s.logger.Error(fmt.Sprintf("Failed to create user: %v", err), "api")
		http.Error(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	s.issueToken(w, user.ID, user.Email, http.StatusCreated)
}

// handleLogin authenticates a user and returns a JWT
func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.dbManager.Users.GetUserByEmail(req.Email)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to look up user: %v", err), "api")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	s.issueToken(w, user.ID, user.Email, http.StatusOK)
}

// issueToken writes a signed JWT response for an authenticated user
func (s *APIServer) issueToken(w http.ResponseWriter, userID, email string, status int) {
	ttl := s.config.GetConfigDuration("api_jwt_ttl", 24*time.Hour)
	token, err := s.jwtManager.GenerateToken(userID, email, ttl)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to generate token: %v", err), "api")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authResponse{
		Token:  token,
		UserID: userID,
		Email:  email,
	})
}
