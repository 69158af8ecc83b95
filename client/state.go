package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type stateFile struct {
	LastSelectedNoteID int64  `json:"last_selected_note_id"`
	Token              string `json:"token,omitempty"`
	RefreshToken       string `json:"refresh_token,omitempty"`
}

// FileStateStore keeps session state in a JSON file.
type FileStateStore struct {
	path  string
	state stateFile
}

func NewFileStateStore(path string) (*FileStateStore, error) {
	store := &FileStateStore{path: path}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(raw, &store.state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return store, nil
}

func (f *FileStateStore) LastSelectedNoteID() (int64, bool) {
	return f.state.LastSelectedNoteID, f.state.LastSelectedNoteID != 0
}

func (f *FileStateStore) SetLastSelectedNoteID(id int64) error {
	f.state.LastSelectedNoteID = id
	return f.flush()
}

// Credentials returns the saved token pair, both empty when logged out.
func (f *FileStateStore) Credentials() (token, refreshToken string) {
	return f.state.Token, f.state.RefreshToken
}

func (f *FileStateStore) SetCredentials(token, refreshToken string) error {
	f.state.Token = token
	f.state.RefreshToken = refreshToken
	return f.flush()
}

func (f *FileStateStore) flush() error {
	raw, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
