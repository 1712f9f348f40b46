package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Auth guards the API with the single server password. Clients either
// send the password directly on every request (X-Password header) or
// exchange it once for a short-lived JWT and send that as a Bearer
// token. When no password is configured the middleware passes
// everything through.
type Auth struct {
	secret       []byte
	passwordHash []byte
	required     bool
}

func NewAuth(secret, serverPassword string, required bool) (*Auth, error) {
	a := &Auth{
		secret:   []byte(secret),
		required: required && serverPassword != "",
	}

	if a.required {
		hash, err := bcrypt.GenerateFromPassword([]byte(serverPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.passwordHash = hash
	}

	return a, nil
}

// Required reports whether requests must authenticate at all.
func (a *Auth) Required() bool {
	return a.required
}

// VerifyPassword checks a client-supplied password against the
// configured server password.
func (a *Auth) VerifyPassword(password string) bool {
	if !a.required {
		return true
	}
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) == nil
}

// GenerateToken issues a JWT with 24 hour expiry for a client that
// presented the correct password.
func (a *Auth) GenerateToken() (string, error) {
	claims := jwt.MapClaims{
		"sub": "parallax-connect",
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyToken validates a previously issued JWT.
func (a *Auth) VerifyToken(tokenStr string) bool {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	return err == nil && token.Valid
}

// Middleware rejects requests that carry neither a valid Bearer token
// nor the correct X-Password header.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.required {
			next.ServeHTTP(w, r)
			return
		}

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
				return
			}
			if !a.VerifyToken(parts[1]) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if password := r.Header.Get("X-Password"); password != "" {
			if !a.VerifyPassword(password) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid password", r)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing credentials", r)
	})
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
