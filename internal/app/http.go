package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/store"
	"inkwell/api/internal/upload"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/config" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": s.service.PublicConfig()})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/register" {
		s.handleRegister(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch r.URL.Path {
	case "/api/categories":
		s.handleCategories(w, r, session)
	case "/api/notes":
		s.handleNotes(w, r, session)
	case "/api/tags":
		s.handleTags(w, r, session)
	case "/api/note-tags":
		s.handleNoteTags(w, r, session)
	case "/api/upload-image":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", nil)
			return
		}
		s.handleUploadImage(w, r, session)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		tree, err := s.service.CategoryTree(r.Context(), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"categories": tree},
		})

	case http.MethodPost:
		var body struct {
			Name     string `json:"name"`
			ParentID int64  `json:"parent_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		created, err := s.service.CreateCategory(r.Context(), session.UserID, body.Name, body.ParentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, categoryPayload(created))

	case http.MethodPut:
		var body struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			ParentID int64  `json:"parent_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateCategory(r.Context(), session.UserID, body.ID, body.Name, body.ParentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, categoryPayload(updated))

	case http.MethodDelete:
		var body struct {
			ID int64 `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.DeleteCategoryCascade(r.Context(), session.UserID, body.ID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", nil)
	}
}

func categoryPayload(c store.Category) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"parent_id":  c.ParentID,
		"order":      c.SortOrder,
		"note_count": c.NoteCount,
	}
}

func (s *HTTPServer) handleNotes(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		if rawSearch := strings.TrimSpace(query.Get("search")); rawSearch != "" {
			hits, err := s.service.SearchNotes(r.Context(), session.UserID, rawSearch)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"notes": hits},
			})
			return
		}

		if rawID := strings.TrimSpace(query.Get("id")); rawID != "" {
			id, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "id must be an integer", nil)
				return
			}
			note, err := s.service.GetNote(r.Context(), session.UserID, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": notePayload(note)})
			return
		}

		var filter store.NoteFilter
		if rawCategory := strings.TrimSpace(query.Get("categoryId")); rawCategory != "" {
			if rawCategory == "null" {
				filter.Uncategorized = true
			} else {
				categoryID, err := strconv.ParseInt(rawCategory, 10, 64)
				if err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "categoryId must be an integer or null", nil)
					return
				}
				filter.CategoryID = &categoryID
			}
		}
		notes, err := s.service.ListNotes(r.Context(), session.UserID, filter)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"notes": noteMetaPayloads(notes)},
		})

	case http.MethodPost:
		var body struct {
			Title      string `json:"title"`
			Content    string `json:"content"`
			CategoryID *int64 `json:"category_id"`
			Favorite   bool   `json:"favorite"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		note, err := s.service.CreateNote(r.Context(), session.UserID, body.Title, body.Content, body.CategoryID, body.Favorite)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": notePayload(note)})

	case http.MethodPut:
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		id, fields, err := splitNoteUpdate(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		note, err := s.service.UpdateNote(r.Context(), session.UserID, id, fields)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": notePayload(note)})

	case http.MethodDelete:
		var body struct {
			ID int64 `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.DeleteNote(r.Context(), session.UserID, body.ID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", nil)
	}
}

// splitNoteUpdate separates the note id from the partial-update fields in a
// PUT body. JSON numbers arrive as float64; ids and category ids are
// normalized back to integers.
func splitNoteUpdate(body map[string]any) (int64, map[string]any, error) {
	rawID, ok := body["id"]
	if !ok {
		return 0, nil, errors.New("note id is required")
	}
	idNumber, ok := rawID.(float64)
	if !ok {
		return 0, nil, errors.New("note id must be an integer")
	}
	id := int64(idNumber)

	fields := make(map[string]any, len(body)-1)
	for key, value := range body {
		if key == "id" {
			continue
		}
		if key == "category_id" {
			if value == nil {
				fields[key] = nil
				continue
			}
			number, ok := value.(float64)
			if !ok {
				return 0, nil, errors.New("category_id must be an integer or null")
			}
			fields[key] = int64(number)
			continue
		}
		fields[key] = value
	}
	return id, fields, nil
}

func notePayload(n store.Note) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"title":       n.Title,
		"content":     n.Content,
		"category_id": n.CategoryID,
		"favorite":    n.Favorite,
		"created_at":  n.CreatedAt,
	}
}

func noteMetaPayloads(items []store.NoteMeta) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, n := range items {
		payloads = append(payloads, map[string]any{
			"id":          n.ID,
			"title":       n.Title,
			"category_id": n.CategoryID,
			"favorite":    n.Favorite,
			"created_at":  n.CreatedAt,
		})
	}
	return payloads
}

func (s *HTTPServer) handleTags(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		if rawNoteID := strings.TrimSpace(r.URL.Query().Get("noteId")); rawNoteID != "" {
			noteID, err := strconv.ParseInt(rawNoteID, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "noteId must be an integer", nil)
				return
			}
			tags, err := s.service.ListNoteTags(r.Context(), session.UserID, noteID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"tags": tagPayloads(tags)}})
			return
		}
		tags, err := s.service.ListTags(r.Context(), session.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"tags": tagPayloads(tags)}})

	case http.MethodPost:
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		tag, err := s.service.CreateTag(r.Context(), session.UserID, body.Name, body.Color)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": tagPayload(tag)})

	case http.MethodPut:
		var body struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		tag, err := s.service.UpdateTag(r.Context(), session.UserID, body.ID, body.Name, body.Color)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": tagPayload(tag)})

	case http.MethodDelete:
		var body struct {
			ID int64 `json:"id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.DeleteTag(r.Context(), session.UserID, body.ID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", nil)
	}
}

func tagPayload(t store.Tag) map[string]any {
	return map[string]any{
		"id":         t.ID,
		"name":       t.Name,
		"color":      t.Color,
		"created_at": t.CreatedAt,
	}
}

func tagPayloads(items []store.Tag) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, t := range items {
		payloads = append(payloads, tagPayload(t))
	}
	return payloads
}

func (s *HTTPServer) handleNoteTags(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			NoteID int64 `json:"noteId"`
			TagID  int64 `json:"tagId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.AddNoteTag(r.Context(), session.UserID, body.NoteID, body.TagID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true})

	case http.MethodDelete:
		var body struct {
			NoteID int64 `json:"noteId"`
			TagID  int64 `json:"tagId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.RemoveNoteTag(r.Context(), session.UserID, body.NoteID, body.TagID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method Not Allowed", nil)
	}
}

func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request, session Session) {
	if err := r.ParseMultipartForm(upload.MaxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "No image file provided", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if _, ok := upload.AllowedImageType(contentType); !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Invalid file type. Only JPEG, PNG, GIF, and WebP are allowed.", nil)
		return
	}
	if header.Size > upload.MaxImageSize {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "File size exceeds 5MB limit", nil)
		return
	}

	key, url, err := s.service.UploadImage(r.Context(), session.UserID, contentType, header.Size, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"url":      url,
		"fileName": key,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		TurnstileToken string `json:"turnstileToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	user, err := s.service.Register(r.Context(), body.Username, body.Password, body.TurnstileToken, remoteIP(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    map[string]any{"id": user.ID, "username": user.Username},
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		TurnstileToken string `json:"turnstileToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Username, body.Password, body.TurnstileToken, remoteIP(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
	})
}

func remoteIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, _ := strings.Cut(r.RemoteAddr, ":")
	return host
}

// requireSession resolves the bearer token. A missing token is 401; a token
// that fails validation is 403, and clients react to either by discarding
// their token and re-authenticating.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
