package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/xelth-com/dongled/internal/models"
	"github.com/xelth-com/dongled/internal/store"
	"github.com/xelth-com/dongled/internal/utils"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

const minPasswordLength = 8

func (r *Router) issueTokens(w http.ResponseWriter, status int, account *models.Account, extra map[string]interface{}) {
	accessToken, refreshToken, err := utils.GenerateTokens(account, r.cfg.JWTSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
		return
	}
	response := map[string]interface{}{
		"tokens": map[string]string{
			"accessToken":  accessToken,
			"refreshToken": refreshToken,
		},
		"user": account,
	}
	for k, v := range extra {
		response[k] = v
	}
	respondJSON(w, status, response)
}

// login handles account login
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var loginReq LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&loginReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	// 1. Find Account
	account, err := r.Accounts.GetByEmail(req.Context(), strings.ToLower(strings.TrimSpace(loginReq.Email)))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("❌ Login lookup failed: %v", err)
		}
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	// 2. Check Password
	if !utils.CheckPasswordHash(loginReq.Password, account.Password) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if account.Banned {
		respondError(w, http.StatusForbidden, "Account suspended")
		return
	}

	// 3. Update Last Login
	now := time.Now()
	if err := r.Accounts.TouchLastLogin(req.Context(), account.ID, now); err != nil {
		log.Printf("⚠️ Failed to record login for %d: %v", account.ID, err)
	}
	account.LastLogin = &now

	// 4. Generate Tokens
	r.issueTokens(w, http.StatusOK, account, nil)
}

// register handles account registration
func (r *Router) register(w http.ResponseWriter, req *http.Request) {
	var regReq RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&regReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(regReq.Email))
	if !strings.Contains(email, "@") || len(regReq.Password) < minPasswordLength {
		respondError(w, http.StatusBadRequest, "Email and a password of at least 8 characters are required")
		return
	}

	// 1. Hash Password
	hashedPassword, err := utils.HashPassword(regReq.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	// 2. Create Account
	account := &models.Account{Email: email, Password: hashedPassword}
	if err := r.Accounts.Create(req.Context(), account); err != nil {
		respondError(w, http.StatusBadRequest, "Failed to create account (email might exist)")
		return
	}

	// 3. Generate Tokens for immediate login
	r.issueTokens(w, http.StatusCreated, account, map[string]interface{}{
		"message": "Account registered successfully",
	})
}

// logout handles account logout
func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	// Tokens are stateless; the client drops them
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
