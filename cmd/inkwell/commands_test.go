package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"

	"inkwell/api/client"
)

func newTestApp(t *testing.T, srvURL string, token, refreshToken string) (*cliApp, string) {
	t.Helper()
	statePath := t.TempDir() + "/state.json"
	state, err := client.NewFileStateStore(statePath)
	if err != nil {
		t.Fatalf("NewFileStateStore: %v", err)
	}
	if err := state.SetCredentials(token, refreshToken); err != nil {
		t.Fatalf("SetCredentials: %v", err)
	}
	return &cliApp{apiURL: &srvURL, statePath: &statePath}, statePath
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func TestRunWithSessionRefreshesExpiredToken(t *testing.T) {
	var refreshed bool
	listAttempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh":
			var body struct {
				RefreshToken string `json:"refreshToken"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.RefreshToken != "stale-refresh" {
				t.Errorf("refresh sent token %q, want the saved one", body.RefreshToken)
			}
			refreshed = true
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":      true,
				"token":        "fresh-token",
				"refreshToken": "fresh-refresh",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/notes":
			listAttempts++
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]any{"code": "FORBIDDEN", "message": "Forbidden"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"notes": []any{}},
			})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	app, statePath := newTestApp(t, srv.URL, "stale-token", "stale-refresh")
	cmd := newTestCmd()

	err := app.runWithSession(cmd, func(s *client.Session) error {
		return s.ListTitles(cmd.Context(), nil)
	})
	if err != nil {
		t.Fatalf("runWithSession: %v", err)
	}
	if !refreshed {
		t.Error("expired token did not trigger a refresh")
	}
	if listAttempts != 2 {
		t.Errorf("list attempts = %d, want rejected call plus retry", listAttempts)
	}

	state, err := client.NewFileStateStore(statePath)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	token, refreshToken := state.Credentials()
	if token != "fresh-token" || refreshToken != "fresh-refresh" {
		t.Errorf("saved credentials = (%q, %q), want the rotated pair", token, refreshToken)
	}
}

func TestRunWithSessionFailedRefreshClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "FORBIDDEN", "message": "Forbidden"})
	}))
	defer srv.Close()

	app, statePath := newTestApp(t, srv.URL, "stale-token", "revoked-refresh")
	cmd := newTestCmd()

	err := app.runWithSession(cmd, func(s *client.Session) error {
		return s.ListTitles(cmd.Context(), nil)
	})
	if err == nil {
		t.Fatal("expected an error when the refresh token is rejected")
	}

	state, err := client.NewFileStateStore(statePath)
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if token, refreshToken := state.Credentials(); token != "" || refreshToken != "" {
		t.Errorf("credentials = (%q, %q), want cleared after failed rotation", token, refreshToken)
	}
}
