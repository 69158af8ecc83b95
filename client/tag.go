package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Tag is a flat per-user label. Association with notes carries no payload.
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Session) ListTags(ctx context.Context) ([]Tag, error) {
	var resp struct {
		Data struct {
			Tags []Tag `json:"tags"`
		} `json:"data"`
	}
	if err := s.api.do(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		s.logf("list tags: %v", err)
		return nil, err
	}
	return resp.Data.Tags, nil
}

func (s *Session) CreateTag(ctx context.Context, name, color string) (Tag, error) {
	if strings.TrimSpace(name) == "" {
		return Tag{}, &ValidationError{Message: "tag name is required"}
	}
	var resp struct {
		Data Tag `json:"data"`
	}
	err := s.api.do(ctx, http.MethodPost, "/api/tags", map[string]any{
		"name":  strings.TrimSpace(name),
		"color": color,
	}, &resp)
	if err != nil {
		s.logf("create tag: %v", err)
		return Tag{}, err
	}
	return resp.Data, nil
}

func (s *Session) DeleteTag(ctx context.Context, id int64) error {
	if err := s.api.do(ctx, http.MethodDelete, "/api/tags", map[string]any{"id": id}, nil); err != nil {
		s.logf("delete tag %d: %v", id, err)
		return err
	}
	return nil
}

func (s *Session) NoteTags(ctx context.Context, note *Note) ([]Tag, error) {
	var resp struct {
		Data struct {
			Tags []Tag `json:"tags"`
		} `json:"data"`
	}
	path := "/api/tags?noteId=" + strconv.FormatInt(note.ID, 10)
	if err := s.api.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		s.logf("list tags for note %d: %v", note.ID, err)
		return nil, err
	}
	return resp.Data.Tags, nil
}

// TagNote attaches a tag to a note. Tagging a provisional note saves it
// first so the server knows the note's real id.
func (s *Session) TagNote(ctx context.Context, note *Note, tagID int64) error {
	if note.Provisional() {
		if err := s.Save(ctx, note); err != nil {
			return err
		}
	}
	err := s.api.do(ctx, http.MethodPost, "/api/note-tags", map[string]any{
		"noteId": note.ID,
		"tagId":  tagID,
	}, nil)
	if err != nil {
		s.logf("tag note %d with %d: %v", note.ID, tagID, err)
		return err
	}
	return nil
}

func (s *Session) UntagNote(ctx context.Context, note *Note, tagID int64) error {
	err := s.api.do(ctx, http.MethodDelete, "/api/note-tags", map[string]any{
		"noteId": note.ID,
		"tagId":  tagID,
	}, nil)
	if err != nil {
		s.logf("untag note %d from %d: %v", note.ID, tagID, err)
		return err
	}
	return nil
}
