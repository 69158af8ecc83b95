package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxNotes = "inkwell_notes"

type noteDocument struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"userId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID *int64 `json:"categoryId"`
	Favorite   bool   `json:"favorite"`
	CreatedAt  int64  `json:"createdAt"`
}

// Meili indexes and searches notes via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the notes index.
// An unreachable server is tolerated; the health loop will reconfigure on
// recovery and the facade falls back to Postgres meanwhile.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxNotes,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxNotes, err)
	}

	index := m.client.Index(idxNotes)
	filterable := []interface{}{"userId", "categoryId", "favorite"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxNotes, err)
	}
	searchable := []string{"title", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxNotes, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether the last health probe succeeded.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func toDocument(record NoteRecord) noteDocument {
	return noteDocument{
		ID:         record.ID,
		UserID:     record.UserID,
		Title:      record.Title,
		Content:    record.Content,
		CategoryID: record.CategoryID,
		Favorite:   record.Favorite,
		CreatedAt:  record.CreatedAt.Unix(),
	}
}

// IndexNote adds or replaces one note document.
func (m *Meili) IndexNote(record NoteRecord) error {
	_, err := m.client.Index(idxNotes).AddDocuments([]noteDocument{toDocument(record)}, nil)
	if err != nil {
		return fmt.Errorf("index note %d: %w", record.ID, err)
	}
	return nil
}

// IndexNotes bulk-indexes note documents.
func (m *Meili) IndexNotes(records []NoteRecord) error {
	docs := make([]noteDocument, len(records))
	for i, record := range records {
		docs[i] = toDocument(record)
	}
	_, err := m.client.Index(idxNotes).AddDocuments(docs, nil)
	if err != nil {
		return fmt.Errorf("index %d notes: %w", len(records), err)
	}
	return nil
}

// DeleteNote removes a note document from the index.
func (m *Meili) DeleteNote(id int64) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(fmt.Sprintf("%d", id), nil)
	if err != nil {
		return fmt.Errorf("delete note %d: %w", id, err)
	}
	return nil
}

// Search queries the notes index scoped to the query's user.
func (m *Meili) Search(q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	resp, err := m.client.Index(idxNotes).Search(q.Text, &meili.SearchRequest{
		Filter: fmt.Sprintf("userId = %d", q.UserID),
		Limit:  int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("meili search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		raw, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var doc noteDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		results = append(results, Result{
			ID:         doc.ID,
			Title:      doc.Title,
			CategoryID: doc.CategoryID,
			Favorite:   doc.Favorite,
			CreatedAt:  time.Unix(doc.CreatedAt, 0).UTC(),
		})
	}
	return results, nil
}
