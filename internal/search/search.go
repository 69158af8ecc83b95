package search

import "time"

// NoteRecord is the indexable shape of a note. Content is indexed but never
// returned in results; hits are content-less by design so clients hydrate
// lazily.
type NoteRecord struct {
	ID         int64
	UserID     int64
	Title      string
	Content    string
	CategoryID *int64
	Favorite   bool
	CreatedAt  time.Time
}

// Result is a single content-less search hit.
type Result struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CategoryID *int64    `json:"category_id"`
	Favorite   bool      `json:"favorite"`
	CreatedAt  time.Time `json:"created_at"`
}

// Query scopes a full-text search to one user.
type Query struct {
	UserID int64
	Text   string
	Limit  int
}
