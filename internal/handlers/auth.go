package handlers

import (
	"encoding/json"
	"net/http"

	"parallax-connect/internal/middleware"
)

type AuthHandler struct {
	auth *middleware.Auth
}

func NewAuthHandler(auth *middleware.Auth) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Token exchanges the server password for a bearer token. The password
// comes from the X-Password header or a JSON body.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	password := r.Header.Get("X-Password")
	if password == "" {
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			password = req.Password
		}
	}

	if h.auth.Required() && !h.auth.VerifyPassword(password) {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Invalid password", r))
		return
	}

	token, err := h.auth.GenerateToken()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to issue token", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": 24 * 60 * 60,
	})
}
