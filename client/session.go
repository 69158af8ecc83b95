package client

import (
	"context"
	"log"
)

// StateStore persists the little bit of client state that survives
// restarts: the last selected note id.
type StateStore interface {
	LastSelectedNoteID() (int64, bool)
	SetLastSelectedNoteID(id int64) error
}

// Session is the per-user context object owning the in-memory category
// forest and note list. All operations mutate it explicitly; there is no
// ambient shared state. It is not safe for concurrent use: callers sequence
// operations, and overlapping requests are tolerated through guard checks
// (select coalescing, save no-ops) rather than locks.
type Session struct {
	api        *API
	categories []*Category
	notes      []*Note

	selected  *Note
	loadingID int64

	nextProvisionalID int64
	state             StateStore
	logf              func(format string, args ...any)
}

type SessionOption func(*Session)

// WithStateStore persists the selection across restarts.
func WithStateStore(state StateStore) SessionOption {
	return func(s *Session) { s.state = state }
}

// WithLogger overrides the default stdlib logger.
func WithLogger(logf func(format string, args ...any)) SessionOption {
	return func(s *Session) { s.logf = logf }
}

func NewSession(api *API, opts ...SessionOption) *Session {
	s := &Session{
		api:  api,
		logf: log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// API exposes the underlying HTTP client, mainly for auth calls.
func (s *Session) API() *API { return s.api }

// Selected returns the currently selected note, or nil.
func (s *Session) Selected() *Note { return s.selected }

// Select switches the selection to note. If the outgoing selection is
// dirty it is saved first; a failed autosave is surfaced but never blocks
// the switch. The target is hydrated before it becomes current. Re-entrant
// calls for a note that is already selected or already loading coalesce
// into a no-op.
func (s *Session) Select(ctx context.Context, note *Note) error {
	if note == nil {
		return nil
	}
	if s.selected == note && note.ContentLoaded() {
		return nil
	}
	if s.loadingID == note.ID {
		return nil
	}
	s.loadingID = note.ID
	defer func() { s.loadingID = 0 }()

	var saveErr error
	if s.selected != nil && s.selected != note && s.selected.Dirty {
		if saveErr = s.Save(ctx, s.selected); saveErr != nil {
			s.logf("autosave on switch from note %d: %v", s.selected.ID, saveErr)
		}
	}

	if err := s.Hydrate(ctx, note); err != nil {
		return err
	}
	s.selected = note
	s.persistSelection()
	return saveErr
}

// RestoreSelection re-selects the note remembered by the state store, if it
// is still present in the list.
func (s *Session) RestoreSelection(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	id, ok := s.state.LastSelectedNoteID()
	if !ok {
		return nil
	}
	note := s.FindNote(id)
	if note == nil {
		return nil
	}
	return s.Select(ctx, note)
}

func (s *Session) persistSelection() {
	if s.state == nil {
		return
	}
	id := int64(0)
	if s.selected != nil {
		id = s.selected.ID
	}
	if err := s.state.SetLastSelectedNoteID(id); err != nil {
		s.logf("persist selection: %v", err)
	}
}
