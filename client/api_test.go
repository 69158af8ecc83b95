package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRefreshRotatesTokenPair(t *testing.T) {
	var gotRefreshToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/session/refresh" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotRefreshToken = body.RefreshToken
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"token":        "new-access",
			"refreshToken": "new-refresh",
		})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	api.SetToken("old-access", "old-refresh")

	if err := api.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if gotRefreshToken != "old-refresh" {
		t.Errorf("server saw refresh token %q, want the old one", gotRefreshToken)
	}
	if api.Token() != "new-access" || api.RefreshToken() != "new-refresh" {
		t.Errorf("token pair = (%q, %q), want the rotated pair", api.Token(), api.RefreshToken())
	}
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	api := NewAPI("http://unused.invalid")
	err := api.Refresh(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestRefreshRejectedClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "FORBIDDEN", "message": "Refresh token invalid"})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL)
	api.SetToken("old-access", "revoked-refresh")

	err := api.Refresh(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if api.Token() != "" || api.RefreshToken() != "" {
		t.Error("rejected refresh must discard both credentials")
	}
}
