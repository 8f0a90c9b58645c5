package main

import (
	"encoding/json"
	"net/http"

	"github.com/talentloop/convo/pkg/auth"
)

type LoginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler is the dev-mode token mint. Real deployments front this with
// the platform's session service.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.UserID
	}

	token, err := auth.GenerateToken(req.UserID, req.Name, req.Email, req.Role)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}
