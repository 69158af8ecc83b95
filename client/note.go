package client

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Note is the in-memory note record. Content is nil until hydrated from the
// server; a negative ID marks a locally-provisional note the server has not
// seen yet. Dirty means in-memory state diverges from the last
// server-confirmed state.
type Note struct {
	ID         int64
	Title      string
	Content    *string
	CategoryID *int64
	Favorite   bool
	CreatedAt  time.Time
	Dirty      bool
}

// Provisional reports whether the note only exists locally.
func (n *Note) Provisional() bool { return n.ID < 0 }

// ContentLoaded reports whether the note has been hydrated.
func (n *Note) ContentLoaded() bool { return n.Content != nil }

func noteFromMeta(raw noteMetaJSON) *Note {
	return &Note{
		ID:         raw.ID,
		Title:      raw.Title,
		CategoryID: raw.CategoryID,
		Favorite:   raw.Favorite,
		CreatedAt:  raw.CreatedAt,
	}
}

// deriveTitle takes the first content line with markdown heading markers
// stripped, falling back to "Untitled".
func deriveTitle(content string) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	title := strings.TrimSpace(strings.TrimLeft(firstLine, "#"))
	if title == "" {
		return "Untitled"
	}
	return title
}

// NewNote creates a provisional note with a negative placeholder id. It is
// dirty from birth and gains its real id on the first successful save.
func (s *Session) NewNote(categoryID *int64) *Note {
	s.nextProvisionalID--
	content := ""
	note := &Note{
		ID:         s.nextProvisionalID,
		Title:      "Untitled",
		Content:    &content,
		CategoryID: categoryID,
		CreatedAt:  time.Now(),
		Dirty:      true,
	}
	s.notes = append([]*Note{note}, s.notes...)
	return note
}

// Notes returns the in-memory note list, newest first.
func (s *Session) Notes() []*Note {
	return s.notes
}

// FindNote locates a note by id.
func (s *Session) FindNote(id int64) *Note {
	for _, note := range s.notes {
		if note.ID == id {
			return note
		}
	}
	return nil
}

// ListTitles fetches lightweight records for all notes, or for one category
// when categoryID is non-nil. Records inside the requested scope are merged
// over the existing set; notes outside the scope are untouched, so a
// filtered fetch never drops the rest of the list. Dirty notes keep their
// local state, and loaded content survives the merge since list records
// carry none. The list is re-sorted by id descending afterwards.
func (s *Session) ListTitles(ctx context.Context, categoryID *int64) error {
	fetched, err := s.api.listNotes(ctx, categoryID)
	if err != nil {
		s.logf("list notes: %v", err)
		return err
	}

	inScope := func(n *Note) bool {
		if categoryID == nil {
			return !n.Provisional()
		}
		return n.CategoryID != nil && *n.CategoryID == *categoryID
	}
	fetchedIDs := make(map[int64]bool, len(fetched))
	for _, raw := range fetched {
		fetchedIDs[raw.ID] = true
	}

	merged := make([]*Note, 0, len(fetched))
	for _, note := range s.notes {
		// The response decides scope membership, not the local CategoryID:
		// a note the server already moved into scope would otherwise be
		// kept here and appended again below. Dirty notes the response no
		// longer lists stay put; dropping them would discard unsaved edits.
		if fetchedIDs[note.ID] {
			continue
		}
		if !inScope(note) || note.Dirty {
			merged = append(merged, note)
		}
	}
	for _, raw := range fetched {
		if existing := s.FindNote(raw.ID); existing != nil {
			if !existing.Dirty {
				existing.Title = raw.Title
				existing.CategoryID = raw.CategoryID
				existing.Favorite = raw.Favorite
				existing.CreatedAt = raw.CreatedAt
			}
			merged = append(merged, existing)
			continue
		}
		merged = append(merged, noteFromMeta(raw))
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID > merged[j].ID })
	s.notes = merged
	return nil
}

// Hydrate fetches full content for a note. Already-loaded content makes it
// a no-op; on success the server content becomes the authoritative baseline
// and the dirty flag clears.
func (s *Session) Hydrate(ctx context.Context, note *Note) error {
	if note.ContentLoaded() {
		return nil
	}
	full, err := s.api.getNote(ctx, note.ID)
	if err != nil {
		s.logf("hydrate note %d: %v", note.ID, err)
		return err
	}
	note.Title = full.Title
	note.Content = &full.Content
	note.CategoryID = full.CategoryID
	note.Favorite = full.Favorite
	note.CreatedAt = full.CreatedAt
	note.Dirty = false
	return nil
}

// EditContent replaces the in-memory content and marks the note dirty, but
// only when the content actually differs.
func (s *Session) EditContent(note *Note, newContent string) {
	if note.ContentLoaded() && *note.Content == newContent {
		return
	}
	note.Content = &newContent
	note.Dirty = true
}

// Save persists a dirty note. Clean notes are a true no-op with no network
// call. A provisional note goes through create and adopts every
// server-returned field, including its real id; a persisted note goes
// through a partial update. The dirty flag clears only after success, so a
// failed save stays retryable.
func (s *Session) Save(ctx context.Context, note *Note) error {
	if !note.Dirty {
		return nil
	}

	content := ""
	if note.ContentLoaded() {
		content = *note.Content
	}
	note.Title = deriveTitle(content)

	if note.Provisional() {
		created, err := s.api.createNote(ctx, note.Title, content, note.CategoryID, note.Favorite)
		if err != nil {
			s.logf("save provisional note %d: %v", note.ID, err)
			return err
		}
		note.ID = created.ID
		note.Title = created.Title
		note.Content = &created.Content
		note.CategoryID = created.CategoryID
		note.Favorite = created.Favorite
		note.CreatedAt = created.CreatedAt
		note.Dirty = false
		s.persistSelection()
		return nil
	}

	updated, err := s.api.updateNote(ctx, note.ID, map[string]any{
		"title":       note.Title,
		"content":     content,
		"category_id": note.CategoryID,
		"favorite":    note.Favorite,
	})
	if err != nil {
		s.logf("save note %d: %v", note.ID, err)
		return err
	}
	note.Title = updated.Title
	note.Content = &updated.Content
	note.CategoryID = updated.CategoryID
	note.Favorite = updated.Favorite
	note.Dirty = false
	return nil
}

// UpdateNoteCategory reassigns a note's category. With loaded content (or a
// provisional note) it rides the full save path so title and content resync
// too. For an unhydrated note it issues a minimal category-only update
// instead of fetching content just to reassign it; if that update fails the
// dirty flag is re-asserted so the divergence is not masked.
func (s *Session) UpdateNoteCategory(ctx context.Context, note *Note, newCategoryID *int64) error {
	if equalCategoryID(note.CategoryID, newCategoryID) {
		return nil
	}
	note.CategoryID = newCategoryID

	if note.ContentLoaded() || note.Provisional() {
		note.Dirty = true
		return s.Save(ctx, note)
	}

	if _, err := s.api.updateNote(ctx, note.ID, map[string]any{"category_id": newCategoryID}); err != nil {
		s.logf("update note %d category: %v", note.ID, err)
		note.Dirty = true
		return err
	}
	return nil
}

func equalCategoryID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ToggleFavorite flips the favorite flag through the partial-update path.
func (s *Session) ToggleFavorite(ctx context.Context, note *Note) error {
	note.Favorite = !note.Favorite
	if note.Provisional() {
		return nil
	}
	if _, err := s.api.updateNote(ctx, note.ID, map[string]any{"favorite": note.Favorite}); err != nil {
		s.logf("toggle favorite %d: %v", note.ID, err)
		note.Favorite = !note.Favorite
		return err
	}
	return nil
}

// DeleteNote removes a note from the list immediately and tells the server
// afterwards; a provisional note skips the server call since the server
// never knew about it. A deleted selection advances to the first remaining
// note, or clears.
func (s *Session) DeleteNote(ctx context.Context, note *Note) error {
	for i, candidate := range s.notes {
		if candidate.ID == note.ID {
			s.notes = append(s.notes[:i], s.notes[i+1:]...)
			break
		}
	}

	if !note.Provisional() {
		if err := s.api.deleteNote(ctx, note.ID); err != nil {
			s.logf("delete note %d: %v", note.ID, err)
			return err
		}
	}

	if s.selected == note {
		s.selected = nil
		if len(s.notes) > 0 {
			return s.Select(ctx, s.notes[0])
		}
		s.persistSelection()
	}
	return nil
}

// SearchNotes runs a server-side full-text query and merges the hits into
// the in-memory set without disturbing it: hits are content-less, so loaded
// content is never overwritten, and dirty notes keep their local state.
// Clearing a query is purely the caller dropping the returned slice; the
// base list is untouched either way.
func (s *Session) SearchNotes(ctx context.Context, query string) ([]*Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	hits, err := s.api.searchNotes(ctx, query)
	if err != nil {
		s.logf("search notes: %v", err)
		return nil, err
	}

	results := make([]*Note, 0, len(hits))
	for _, raw := range hits {
		if existing := s.FindNote(raw.ID); existing != nil {
			if !existing.Dirty {
				existing.Title = raw.Title
				existing.CategoryID = raw.CategoryID
				existing.Favorite = raw.Favorite
			}
			results = append(results, existing)
			continue
		}
		note := noteFromMeta(raw)
		s.notes = append(s.notes, note)
		results = append(results, note)
	}
	sort.Slice(s.notes, func(i, j int) bool { return s.notes[i].ID > s.notes[j].ID })
	return results, nil
}
