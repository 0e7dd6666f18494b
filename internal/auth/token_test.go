// ABOUTME: Tests for JWT generation, verification, and the HTTP middleware
// ABOUTME: Covers claim extraction, expiry, tampering, and bearer parsing

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-for-auth-tests-only!")

func TestGenerateAndVerify(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(Identity{UserID: "user-1", WorkspaceID: "ws-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", id.UserID, "user-1")
	}
	if id.WorkspaceID != "ws-1" {
		t.Errorf("WorkspaceID = %q, want %q", id.WorkspaceID, "ws-1")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token, err := v.Generate(Identity{UserID: "user-1", WorkspaceID: "ws-1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = v.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	other := NewJWTVerifier([]byte("a-completely-different-secret!!!"))

	token, err := other.Generate(Identity{UserID: "user-1", WorkspaceID: "ws-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = v.Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	if _, err := v.Verify("not.a.token"); err == nil {
		t.Error("Verify() expected error for garbage token")
	}
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	token, err := v.Generate(Identity{UserID: "user-1", WorkspaceID: "ws-1"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var gotID Identity
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if gotID.UserID != "user-1" || gotID.WorkspaceID != "ws-1" {
		t.Errorf("identity in context = %+v, want user-1/ws-1", gotID)
	}
}
