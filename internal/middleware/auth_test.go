package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_PasswordVerification(t *testing.T) {
	auth, err := NewAuth("secret", "hunter2", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !auth.VerifyPassword("hunter2") {
		t.Fatalf("correct password must verify")
	}
	if auth.VerifyPassword("wrong") {
		t.Fatalf("wrong password must not verify")
	}
}

func TestAuth_TokenRoundTrip(t *testing.T) {
	auth, err := NewAuth("secret", "hunter2", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !auth.VerifyToken(token) {
		t.Fatalf("issued token must verify")
	}
	if auth.VerifyToken(token + "tampered") {
		t.Fatalf("tampered token must not verify")
	}

	other, _ := NewAuth("different-secret", "hunter2", true)
	if other.VerifyToken(token) {
		t.Fatalf("token signed with another secret must not verify")
	}
}

func TestAuth_MiddlewareRejectsMissingCredentials(t *testing.T) {
	auth, _ := NewAuth("secret", "hunter2", true)
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestAuth_MiddlewareAcceptsPasswordHeader(t *testing.T) {
	auth, _ := NewAuth("secret", "hunter2", true)
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.Header.Set("X-Password", "hunter2")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestAuth_MiddlewareAcceptsBearerToken(t *testing.T) {
	auth, _ := NewAuth("secret", "hunter2", true)
	handler := auth.Middleware(okHandler())

	token, _ := auth.GenerateToken()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}

func TestAuth_MiddlewareRejectsBadBearerFormat(t *testing.T) {
	auth, _ := NewAuth("secret", "hunter2", true)
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestAuth_NotRequiredPassesThrough(t *testing.T) {
	auth, _ := NewAuth("secret", "", true)
	if auth.Required() {
		t.Fatalf("auth must not be required without a configured password")
	}

	handler := auth.Middleware(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}
