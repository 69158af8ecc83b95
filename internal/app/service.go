package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Username     string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(context.Context, int64) (store.User, error)

	ListCategories(context.Context, int64) ([]store.Category, error)
	InsertCategory(context.Context, int64, string, int64) (store.Category, error)
	UpdateCategory(context.Context, int64, int64, string, int64) (store.Category, error)
	CategoryDescendantIDs(context.Context, int64, int64) ([]int64, error)
	PromoteChildCategories(context.Context, int64, int64) error
	ClearNoteCategories(context.Context, int64, []int64) error
	DeleteCategory(context.Context, int64, int64) error

	ListNotes(context.Context, int64, store.NoteFilter) ([]store.NoteMeta, error)
	GetNote(context.Context, int64, int64) (store.Note, error)
	InsertNote(context.Context, int64, string, string, *int64, bool) (store.Note, error)
	UpdateNoteFields(context.Context, int64, int64, map[string]any) (store.Note, error)
	DeleteNote(context.Context, int64, int64) error
	NoteExists(context.Context, int64, int64) (bool, error)

	ListTags(context.Context, int64) ([]store.Tag, error)
	ListNoteTags(context.Context, int64, int64) ([]store.Tag, error)
	InsertTag(context.Context, int64, string, string) (store.Tag, error)
	UpdateTag(context.Context, int64, int64, string, string) (store.Tag, error)
	DeleteTag(context.Context, int64, int64) error
	TagExists(context.Context, int64, int64) (bool, error)
	AddNoteTag(context.Context, int64, int64) error
	RemoveNoteTag(context.Context, int64, int64) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchService interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
	IndexNote(record search.NoteRecord)
	DeleteNote(id int64)
}

type imageStore interface {
	PutImage(ctx context.Context, userID int64, contentType string, size int64, body io.Reader) (key, url string, err error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   searchService
	images   imageStore
}

func New(cfg config.Config, dataStore *store.PostgresStore, authService *authpw.Service, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authService,
		search:   searchService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, authService *authpw.Service, searchService *search.Service) *Service {
	svc := New(cfg, dataStore, authService, searchService)
	svc.sessions = sessions
	return svc
}

// SetImageStore wires object storage for note images. Uploads return 503
// until one is configured.
func (s *Service) SetImageStore(images imageStore) {
	s.images = images
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PublicConfig is the unauthenticated feature-flag payload for clients.
func (s *Service) PublicConfig() map[string]any {
	siteKey := ""
	if s.cfg.TurnstileEnabled {
		siteKey = s.cfg.TurnstileSiteKey
	}
	return map[string]any{
		"registerEnabled":  s.cfg.RegisterEnabled,
		"turnstileEnabled": s.cfg.TurnstileEnabled,
		"turnstileSiteKey": siteKey,
	}
}

// Auth

func (s *Service) Register(ctx context.Context, username, password, captchaToken, remoteIP string) (store.User, error) {
	if !s.cfg.RegisterEnabled {
		return store.User{}, domainError(http.StatusForbidden, "REGISTER_DISABLED", "Registration is disabled", nil)
	}
	user, err := s.authpw.Register(ctx, username, password, captchaToken, remoteIP)
	if err != nil {
		return store.User{}, mapAuthError(err)
	}
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password, captchaToken, remoteIP string) (Session, error) {
	user, err := s.authpw.Login(ctx, username, password, captchaToken, remoteIP)
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	return s.issueSession(ctx, user)
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrUsernameTaken):
		return domainError(http.StatusConflict, "CONFLICT", "Username already exists", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	case errors.Is(err, authpw.ErrCaptchaRequired), errors.Is(err, authpw.ErrCaptchaFailed):
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid verification", nil)
	default:
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	}
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub: user.ID,
		Exp: expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, refreshExpiry); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and resolves the owning user.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusForbidden, "FORBIDDEN", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Categories

// CategoryNode is one node of the nested category forest returned to
// clients.
type CategoryNode struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	ParentID  int64           `json:"parent_id"`
	SortOrder int             `json:"order"`
	NoteCount int             `json:"note_count"`
	Children  []*CategoryNode `json:"children,omitempty"`
}

// BuildCategoryTree rebuilds the forest from the flat parent-pointer list.
// Pure function: group children by parent id, recurse from the root
// sentinel 0. Input order (sort_order, id) is preserved within siblings.
func BuildCategoryTree(flat []store.Category) []*CategoryNode {
	byParent := make(map[int64][]store.Category, len(flat))
	for _, c := range flat {
		byParent[c.ParentID] = append(byParent[c.ParentID], c)
	}
	return buildSubtree(byParent, 0)
}

func buildSubtree(byParent map[int64][]store.Category, parentID int64) []*CategoryNode {
	children := byParent[parentID]
	if len(children) == 0 {
		return nil
	}
	nodes := make([]*CategoryNode, 0, len(children))
	for _, c := range children {
		nodes = append(nodes, &CategoryNode{
			ID:        c.ID,
			Name:      c.Name,
			ParentID:  c.ParentID,
			SortOrder: c.SortOrder,
			NoteCount: c.NoteCount,
			Children:  buildSubtree(byParent, c.ID),
		})
	}
	return nodes
}

func (s *Service) CategoryTree(ctx context.Context, userID int64) ([]*CategoryNode, error) {
	flat, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	tree := BuildCategoryTree(flat)
	if tree == nil {
		tree = []*CategoryNode{}
	}
	return tree, nil
}

func (s *Service) CreateCategory(ctx context.Context, userID int64, name string, parentID int64) (store.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Category{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Category name is required", nil)
	}
	return s.store.InsertCategory(ctx, userID, name, parentID)
}

// UpdateCategory renames and/or re-parents a category. Moving a category
// under itself or any of its descendants is rejected; the descendant set is
// recomputed from the database on every call.
func (s *Service) UpdateCategory(ctx context.Context, userID, id int64, name string, parentID int64) (store.Category, error) {
	name = strings.TrimSpace(name)
	if id == 0 {
		return store.Category{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Category ID is required", nil)
	}
	if name == "" {
		return store.Category{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Category name is required", nil)
	}

	if parentID != 0 {
		descendants, err := s.store.CategoryDescendantIDs(ctx, userID, id)
		if err != nil {
			return store.Category{}, err
		}
		for _, descendantID := range descendants {
			if descendantID == parentID {
				return store.Category{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR",
					"Cannot move category to its own descendant", nil)
			}
		}
	}

	updated, err := s.store.UpdateCategory(ctx, userID, id, name, parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Category{}, domainError(http.StatusNotFound, "NOT_FOUND", "Category not found", nil)
	}
	if err != nil {
		return store.Category{}, fmt.Errorf("update category: %w", err)
	}
	return updated, nil
}

// DeleteCategoryCascade removes a category. Immediate children are promoted
// to root and notes under the whole descendant subtree lose their category
// reference. The cascade is three separate statements, not one transaction;
// a crash between steps can leave notes pointing at a deleted category id.
func (s *Service) DeleteCategoryCascade(ctx context.Context, userID, id int64) error {
	if id == 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Category ID is required", nil)
	}

	descendants, err := s.store.CategoryDescendantIDs(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.store.PromoteChildCategories(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.ClearNoteCategories(ctx, userID, descendants); err != nil {
		return err
	}
	return s.store.DeleteCategory(ctx, userID, id)
}

// Notes

func deriveTitle(content string) string {
	if content == "" {
		return "Untitled"
	}
	firstLine, _, _ := strings.Cut(content, "\n")
	title := strings.TrimLeft(firstLine, "#")
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled"
	}
	return title
}

func (s *Service) ListNotes(ctx context.Context, userID int64, filter store.NoteFilter) ([]store.NoteMeta, error) {
	return s.store.ListNotes(ctx, userID, filter)
}

func (s *Service) SearchNotes(ctx context.Context, userID int64, query string) ([]search.Result, error) {
	if s.search == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	return s.search.Search(ctx, search.Query{UserID: userID, Text: query})
}

func (s *Service) GetNote(ctx context.Context, userID, id int64) (store.Note, error) {
	note, err := s.store.GetNote(ctx, userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("get note: %w", err)
	}
	return note, nil
}

func (s *Service) CreateNote(ctx context.Context, userID int64, title, content string, categoryID *int64, favorite bool) (store.Note, error) {
	if title == "" {
		title = deriveTitle(content)
	}
	note, err := s.store.InsertNote(ctx, userID, title, content, categoryID, favorite)
	if err != nil {
		return store.Note{}, err
	}
	s.indexNote(note)
	return note, nil
}

// UpdateNote applies a partial update: only the supplied fields change.
func (s *Service) UpdateNote(ctx context.Context, userID, id int64, fields map[string]any) (store.Note, error) {
	if id == 0 {
		return store.Note{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Note ID is required", nil)
	}
	if len(fields) == 0 {
		return store.Note{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "No fields to update", nil)
	}
	note, err := s.store.UpdateNoteFields(ctx, userID, id, fields)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	if err != nil {
		return store.Note{}, fmt.Errorf("update note: %w", err)
	}
	s.indexNote(note)
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, userID, id int64) error {
	if id == 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Note ID is required", nil)
	}
	if err := s.store.DeleteNote(ctx, userID, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(id)
	}
	return nil
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:         note.ID,
		UserID:     note.UserID,
		Title:      note.Title,
		Content:    note.Content,
		CategoryID: note.CategoryID,
		Favorite:   note.Favorite,
		CreatedAt:  note.CreatedAt,
	})
}

// Tags

func (s *Service) ListTags(ctx context.Context, userID int64) ([]store.Tag, error) {
	return s.store.ListTags(ctx, userID)
}

func (s *Service) ListNoteTags(ctx context.Context, userID, noteID int64) ([]store.Tag, error) {
	exists, err := s.store.NoteExists(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return s.store.ListNoteTags(ctx, userID, noteID)
}

func (s *Service) CreateTag(ctx context.Context, userID int64, name, color string) (store.Tag, error) {
	if strings.TrimSpace(name) == "" {
		return store.Tag{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Tag name is required", nil)
	}
	if color == "" {
		color = "#5e81ac"
	}
	tag, err := s.store.InsertTag(ctx, userID, strings.TrimSpace(name), color)
	if errors.Is(err, store.ErrDuplicate) {
		return store.Tag{}, domainError(http.StatusConflict, "CONFLICT", "Tag already exists", nil)
	}
	if err != nil {
		return store.Tag{}, err
	}
	return tag, nil
}

func (s *Service) UpdateTag(ctx context.Context, userID, id int64, name, color string) (store.Tag, error) {
	if id == 0 {
		return store.Tag{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Tag ID is required", nil)
	}
	tag, err := s.store.UpdateTag(ctx, userID, id, name, color)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Tag{}, domainError(http.StatusNotFound, "NOT_FOUND", "Tag not found", nil)
	}
	if err != nil {
		return store.Tag{}, fmt.Errorf("update tag: %w", err)
	}
	return tag, nil
}

func (s *Service) DeleteTag(ctx context.Context, userID, id int64) error {
	if id == 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Tag ID is required", nil)
	}
	return s.store.DeleteTag(ctx, userID, id)
}

func (s *Service) AddNoteTag(ctx context.Context, userID, noteID, tagID int64) error {
	if noteID == 0 || tagID == 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Note ID and Tag ID are required", nil)
	}
	noteExists, err := s.store.NoteExists(ctx, userID, noteID)
	if err != nil {
		return err
	}
	tagExists, err := s.store.TagExists(ctx, userID, tagID)
	if err != nil {
		return err
	}
	if !noteExists || !tagExists {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Note or tag not found", nil)
	}
	if err := s.store.AddNoteTag(ctx, noteID, tagID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domainError(http.StatusConflict, "CONFLICT", "Tag already added to note", nil)
		}
		return err
	}
	return nil
}

func (s *Service) RemoveNoteTag(ctx context.Context, userID, noteID, tagID int64) error {
	if noteID == 0 || tagID == 0 {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Note ID and Tag ID are required", nil)
	}
	exists, err := s.store.NoteExists(ctx, userID, noteID)
	if err != nil {
		return err
	}
	if !exists {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return s.store.RemoveNoteTag(ctx, noteID, tagID)
}

// Uploads

func (s *Service) UploadImage(ctx context.Context, userID int64, contentType string, size int64, body io.Reader) (string, string, error) {
	if s.images == nil {
		return "", "", domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Image storage not configured", nil)
	}
	key, url, err := s.images.PutImage(ctx, userID, contentType, size, body)
	if err != nil {
		return "", "", fmt.Errorf("upload image: %w", err)
	}
	return key, url, nil
}
