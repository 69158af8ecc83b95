package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert violates a unique constraint
// (duplicate username, duplicate note-tag pair).
var ErrDuplicate = errors.New("duplicate row")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicate
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Categories

// ListCategories returns the flat per-user category list with a note_count
// aggregate joined in, ordered by sort_order then id for stable child order.
func (s *PostgresStore) ListCategories(ctx context.Context, userID int64) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.name, c.parent_id, c.sort_order, COALESCE(n.note_count, 0)
		FROM categories c
		LEFT JOIN (
			SELECT category_id, COUNT(*) AS note_count
			FROM notes
			WHERE user_id = $1 AND category_id IS NOT NULL
			GROUP BY category_id
		) n ON c.id = n.category_id
		WHERE c.user_id = $1
		ORDER BY c.sort_order, c.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.ParentID, &c.SortOrder, &c.NoteCount); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertCategory(ctx context.Context, userID int64, name string, parentID int64) (Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (user_id, name, parent_id)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, name, parent_id, sort_order
	`, userID, name, parentID).Scan(&c.ID, &c.UserID, &c.Name, &c.ParentID, &c.SortOrder)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, userID, id int64, name string, parentID int64) (Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, `
		UPDATE categories SET name = $1, parent_id = $2
		WHERE id = $3 AND user_id = $4
		RETURNING id, user_id, name, parent_id, sort_order
	`, name, parentID, id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.ParentID, &c.SortOrder)
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

// CategoryDescendantIDs returns the transitive closure of the category and
// everything below it, following parent_id edges. The result includes the
// starting id itself.
func (s *PostgresStore) CategoryDescendantIDs(ctx context.Context, userID, id int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE category_tree AS (
			SELECT id FROM categories WHERE id = $1 AND user_id = $2
			UNION ALL
			SELECT c.id FROM categories c
			INNER JOIN category_tree ct ON c.parent_id = ct.id
		)
		SELECT id FROM category_tree
	`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("category descendants: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var descendantID int64
		if err := rows.Scan(&descendantID); err != nil {
			return nil, fmt.Errorf("scan descendant id: %w", err)
		}
		ids = append(ids, descendantID)
	}
	return ids, rows.Err()
}

// PromoteChildCategories re-parents the immediate children of a category to
// the root sentinel. First step of the delete cascade.
func (s *PostgresStore) PromoteChildCategories(ctx context.Context, userID, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET parent_id = 0 WHERE parent_id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("promote child categories: %w", err)
	}
	return nil
}

// ClearNoteCategories nulls the category reference on every note whose
// category is in ids. Second step of the delete cascade.
func (s *PostgresStore) ClearNoteCategories(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, id)
	}
	args = append(args, userID)
	query := fmt.Sprintf(
		`UPDATE notes SET category_id = NULL WHERE category_id IN (%s) AND user_id = $%d`,
		strings.Join(placeholders, ","), len(ids)+1,
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear note categories: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, userID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

// Notes

// NoteFilter narrows ListNotes. Uncategorized selects notes with a NULL
// category and wins over CategoryID.
type NoteFilter struct {
	CategoryID    *int64
	Uncategorized bool
}

func (s *PostgresStore) ListNotes(ctx context.Context, userID int64, filter NoteFilter) ([]NoteMeta, error) {
	query := `SELECT id, title, category_id, favorite, created_at FROM notes WHERE user_id = $1`
	args := []any{userID}
	if filter.Uncategorized {
		query += ` AND category_id IS NULL`
	} else if filter.CategoryID != nil {
		query += ` AND category_id = $2`
		args = append(args, *filter.CategoryID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	return scanNoteMetas(rows)
}

func scanNoteMetas(rows *sql.Rows) ([]NoteMeta, error) {
	items := make([]NoteMeta, 0)
	for rows.Next() {
		var n NoteMeta
		if err := rows.Scan(&n.ID, &n.Title, &n.CategoryID, &n.Favorite, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note meta: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetNote(ctx context.Context, userID, id int64) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, category_id, favorite, created_at
		FROM notes WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CategoryID, &n.Favorite, &n.CreatedAt)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, userID int64, title, content string, categoryID *int64, favorite bool) (Note, error) {
	var n Note
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notes (user_id, title, content, category_id, favorite)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, title, content, category_id, favorite, created_at
	`, userID, title, content, categoryID, favorite).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Content, &n.CategoryID, &n.Favorite, &n.CreatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

var updatableNoteColumns = map[string]struct{}{
	"title":       {},
	"content":     {},
	"category_id": {},
	"favorite":    {},
}

// UpdateNoteFields updates only the supplied columns and returns the full
// row. Unknown columns are rejected before any SQL is built.
func (s *PostgresStore) UpdateNoteFields(ctx context.Context, userID, id int64, fields map[string]any) (Note, error) {
	if len(fields) == 0 {
		return Note{}, errors.New("no fields to update")
	}
	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+2)
	i := 1
	for column, value := range fields {
		if _, ok := updatableNoteColumns[column]; !ok {
			return Note{}, fmt.Errorf("column %q is not updatable", column)
		}
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i))
		args = append(args, value)
		i++
	}
	args = append(args, id, userID)

	query := fmt.Sprintf(`
		UPDATE notes SET %s
		WHERE id = $%d AND user_id = $%d
		RETURNING id, user_id, title, content, category_id, favorite, created_at
	`, strings.Join(assignments, ", "), i, i+1)

	var n Note
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Content, &n.CategoryID, &n.Favorite, &n.CreatedAt)
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, userID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

func (s *PostgresStore) NoteExists(ctx context.Context, userID, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM notes WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check note: %w", err)
	}
	return exists, nil
}

// Tags

func (s *PostgresStore) ListTags(ctx context.Context, userID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, color, created_at FROM tags WHERE user_id = $1 ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func (s *PostgresStore) ListNoteTags(ctx context.Context, userID, noteID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.name, t.color, t.created_at
		FROM tags t
		INNER JOIN note_tags nt ON t.id = nt.tag_id
		WHERE nt.note_id = $1 AND t.user_id = $2
		ORDER BY t.name
	`, noteID, userID)
	if err != nil {
		return nil, fmt.Errorf("list note tags: %w", err)
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows *sql.Rows) ([]Tag, error) {
	items := make([]Tag, 0)
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertTag(ctx context.Context, userID int64, name, color string) (Tag, error) {
	var t Tag
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (user_id, name, color)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, name, color, created_at
	`, userID, name, color).Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Tag{}, ErrDuplicate
		}
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTag(ctx context.Context, userID, id int64, name, color string) (Tag, error) {
	var t Tag
	err := s.db.QueryRowContext(ctx, `
		UPDATE tags SET name = $1, color = $2
		WHERE id = $3 AND user_id = $4
		RETURNING id, user_id, name, color, created_at
	`, name, color, id, userID).Scan(&t.ID, &t.UserID, &t.Name, &t.Color, &t.CreatedAt)
	if err != nil {
		return Tag{}, err
	}
	return t, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, userID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) TagExists(ctx context.Context, userID, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM tags WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tag: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddNoteTag(ctx context.Context, noteID, tagID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO note_tags (note_id, tag_id) VALUES ($1, $2)`, noteID, tagID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add note tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveNoteTag(ctx context.Context, noteID, tagID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM note_tags WHERE note_id = $1 AND tag_id = $2`, noteID, tagID)
	if err != nil {
		return fmt.Errorf("remove note tag: %w", err)
	}
	return nil
}

// Refresh sessions (PostgreSQL fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
