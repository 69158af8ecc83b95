package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the HTTP JSON client for the note-taking server. It holds the
// bearer token for the authenticated user and translates error responses
// into the package error taxonomy.
type API struct {
	baseURL      string
	httpClient   *http.Client
	token        string
	refreshToken string
}

func NewAPI(baseURL string) *API {
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs previously saved credentials.
func (a *API) SetToken(token, refreshToken string) {
	a.token = token
	a.refreshToken = refreshToken
}

func (a *API) Token() string        { return a.token }
func (a *API) RefreshToken() string { return a.refreshToken }

type sessionResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (a *API) Login(ctx context.Context, username, password string) error {
	var resp sessionResponse
	err := a.do(ctx, http.MethodPost, "/api/login", map[string]any{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	a.token = resp.Token
	a.refreshToken = resp.RefreshToken
	return nil
}

func (a *API) Register(ctx context.Context, username, password string) error {
	return a.do(ctx, http.MethodPost, "/api/register", map[string]any{
		"username": username,
		"password": password,
	}, nil)
}

// Refresh rotates the refresh token and replaces both credentials.
func (a *API) Refresh(ctx context.Context) error {
	if a.refreshToken == "" {
		return &AuthError{StatusCode: http.StatusUnauthorized, Message: "no refresh token"}
	}
	var resp sessionResponse
	err := a.do(ctx, http.MethodPost, "/api/session/refresh", map[string]any{
		"refreshToken": a.refreshToken,
	}, &resp)
	if err != nil {
		return err
	}
	a.token = resp.Token
	a.refreshToken = resp.RefreshToken
	return nil
}

func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodPost, "/api/session/logout", map[string]any{
		"refreshToken": a.refreshToken,
	}, nil)
	a.token = ""
	a.refreshToken = ""
	return err
}

// Wire shapes.

type categoryJSON struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	ParentID  int64          `json:"parent_id"`
	Order     int            `json:"order"`
	NoteCount int            `json:"note_count"`
	Children  []categoryJSON `json:"children"`
}

type noteJSON struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CategoryID *int64    `json:"category_id"`
	Favorite   bool      `json:"favorite"`
	CreatedAt  time.Time `json:"created_at"`
}

type noteMetaJSON struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CategoryID *int64    `json:"category_id"`
	Favorite   bool      `json:"favorite"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *API) fetchCategories(ctx context.Context) ([]categoryJSON, error) {
	var resp struct {
		Data struct {
			Categories []categoryJSON `json:"categories"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Categories, nil
}

func (a *API) createCategory(ctx context.Context, name string, parentID int64) (categoryJSON, error) {
	var created categoryJSON
	err := a.do(ctx, http.MethodPost, "/api/categories", map[string]any{
		"name":      name,
		"parent_id": parentID,
	}, &created)
	return created, err
}

func (a *API) updateCategory(ctx context.Context, id int64, name string, parentID int64) (categoryJSON, error) {
	var updated categoryJSON
	err := a.do(ctx, http.MethodPut, "/api/categories", map[string]any{
		"id":        id,
		"name":      name,
		"parent_id": parentID,
	}, &updated)
	return updated, err
}

func (a *API) deleteCategory(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodDelete, "/api/categories", map[string]any{"id": id}, nil)
}

func (a *API) listNotes(ctx context.Context, categoryID *int64) ([]noteMetaJSON, error) {
	path := "/api/notes"
	if categoryID != nil {
		path += "?categoryId=" + url.QueryEscape(fmt.Sprint(*categoryID))
	}
	var resp struct {
		Data struct {
			Notes []noteMetaJSON `json:"notes"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Notes, nil
}

func (a *API) getNote(ctx context.Context, id int64) (noteJSON, error) {
	var resp struct {
		Data noteJSON `json:"data"`
	}
	path := "/api/notes?id=" + url.QueryEscape(fmt.Sprint(id))
	err := a.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Data, err
}

func (a *API) createNote(ctx context.Context, title, content string, categoryID *int64, favorite bool) (noteJSON, error) {
	var resp struct {
		Data noteJSON `json:"data"`
	}
	err := a.do(ctx, http.MethodPost, "/api/notes", map[string]any{
		"title":       title,
		"content":     content,
		"category_id": categoryID,
		"favorite":    favorite,
	}, &resp)
	return resp.Data, err
}

// updateNote sends a partial update: only the keys present in fields change.
func (a *API) updateNote(ctx context.Context, id int64, fields map[string]any) (noteJSON, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["id"] = id
	var resp struct {
		Data noteJSON `json:"data"`
	}
	err := a.do(ctx, http.MethodPut, "/api/notes", body, &resp)
	return resp.Data, err
}

func (a *API) deleteNote(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodDelete, "/api/notes", map[string]any{"id": id}, nil)
}

func (a *API) searchNotes(ctx context.Context, query string) ([]noteMetaJSON, error) {
	var resp struct {
		Data struct {
			Notes []noteMetaJSON `json:"notes"`
		} `json:"data"`
	}
	path := "/api/notes?search=" + url.QueryEscape(query)
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Notes, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.errorFromResponse(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (a *API) errorFromResponse(resp *http.Response) error {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
	message := payload.Message
	if message == "" {
		message = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Token is no longer usable; drop it so the caller re-authenticates.
		a.token = ""
		a.refreshToken = ""
		return &AuthError{StatusCode: resp.StatusCode, Message: message}
	case http.StatusNotFound:
		return &NotFoundError{Message: message}
	case http.StatusConflict:
		return &ConflictError{Message: message}
	case http.StatusBadRequest:
		return &ValidationError{Message: message}
	default:
		return &ServerError{StatusCode: resp.StatusCode, Message: message}
	}
}
