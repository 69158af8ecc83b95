package store

import "time"

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Category is a node in a per-user forest. ParentID 0 means root.
// NoteCount is a read-time aggregate over notes, not persisted truth.
type Category struct {
	ID        int64
	UserID    int64
	Name      string
	ParentID  int64
	SortOrder int
	NoteCount int
}

type Note struct {
	ID         int64
	UserID     int64
	Title      string
	Content    string
	CategoryID *int64
	Favorite   bool
	CreatedAt  time.Time
}

// NoteMeta is the content-less listing shape returned by note list and
// search queries.
type NoteMeta struct {
	ID         int64
	Title      string
	CategoryID *int64
	Favorite   bool
	CreatedAt  time.Time
}

type Tag struct {
	ID        int64
	UserID    int64
	Name      string
	Color     string
	CreatedAt time.Time
}
