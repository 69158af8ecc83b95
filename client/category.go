package client

import (
	"context"
	"strings"
)

// Category is one node of the in-memory category forest. Roots carry
// ParentID 0; Children is ordered the way the server returns siblings
// (explicit order, then id ascending).
type Category struct {
	ID        int64
	Name      string
	ParentID  int64
	Order     int
	NoteCount int
	Children  []*Category
}

func categoryFromJSON(raw categoryJSON) *Category {
	node := &Category{
		ID:        raw.ID,
		Name:      raw.Name,
		ParentID:  raw.ParentID,
		Order:     raw.Order,
		NoteCount: raw.NoteCount,
	}
	for _, child := range raw.Children {
		node.Children = append(node.Children, categoryFromJSON(child))
	}
	return node
}

// DescendantIDs enumerates the transitive closure of c's subtree, c
// included. Computed fresh on every call; the forest can change between
// operations, so a cached closure would go stale.
func (c *Category) DescendantIDs() []int64 {
	ids := []int64{c.ID}
	for _, child := range c.Children {
		ids = append(ids, child.DescendantIDs()...)
	}
	return ids
}

// FetchCategories reloads the whole forest. All-or-nothing: on failure the
// previous in-memory tree is retained.
func (s *Session) FetchCategories(ctx context.Context) error {
	raw, err := s.api.fetchCategories(ctx)
	if err != nil {
		s.logf("fetch categories: %v", err)
		return err
	}
	forest := make([]*Category, 0, len(raw))
	for _, node := range raw {
		forest = append(forest, categoryFromJSON(node))
	}
	s.categories = forest
	return nil
}

// Categories returns the current forest roots.
func (s *Session) Categories() []*Category {
	return s.categories
}

// FindCategory locates a node anywhere in the forest.
func (s *Session) FindCategory(id int64) *Category {
	return findCategory(s.categories, id)
}

func findCategory(nodes []*Category, id int64) *Category {
	for _, node := range nodes {
		if node.ID == id {
			return node
		}
		if found := findCategory(node.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// AddCategory creates a category and attaches it under parentID, or to the
// root list when parentID is 0.
func (s *Session) AddCategory(ctx context.Context, name string, parentID int64) (*Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Message: "category name is required"}
	}
	created, err := s.api.createCategory(ctx, strings.TrimSpace(name), parentID)
	if err != nil {
		s.logf("add category: %v", err)
		return nil, err
	}
	node := categoryFromJSON(created)
	if parent := s.FindCategory(node.ParentID); parent != nil {
		parent.Children = append(parent.Children, node)
	} else {
		s.categories = append(s.categories, node)
	}
	return node, nil
}

// RenameCategory is a no-op for a blank or unchanged name. On success the
// node adopts the server-confirmed name.
func (s *Session) RenameCategory(ctx context.Context, category *Category, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == category.Name {
		return nil
	}
	updated, err := s.api.updateCategory(ctx, category.ID, newName, category.ParentID)
	if err != nil {
		s.logf("rename category %d: %v", category.ID, err)
		return err
	}
	category.Name = updated.Name
	return nil
}

// MoveCategory re-parents a category. The move is rejected outright when the
// target parent is the category itself or any of its descendants; the
// descendant set is walked fresh from the in-memory tree, and the server
// runs the same check against the stored rows. On success the node is
// spliced out of its old sibling list and into the new one.
func (s *Session) MoveCategory(ctx context.Context, category *Category, newParentID int64) error {
	if newParentID == category.ParentID {
		return nil
	}
	if newParentID != 0 {
		for _, id := range category.DescendantIDs() {
			if id == newParentID {
				s.logf("move category %d: target %d is within its own subtree", category.ID, newParentID)
				return &ValidationError{Message: "cannot move a category into its own subtree"}
			}
		}
	}

	updated, err := s.api.updateCategory(ctx, category.ID, category.Name, newParentID)
	if err != nil {
		s.logf("move category %d: %v", category.ID, err)
		return err
	}

	s.detachCategory(category)
	category.ParentID = updated.ParentID
	if parent := s.FindCategory(category.ParentID); parent != nil {
		parent.Children = append(parent.Children, category)
	} else {
		s.categories = append(s.categories, category)
	}
	return nil
}

// DeleteCategory removes a category. Server-side the cascade promotes the
// node's immediate children to root and clears the category reference on
// every note under the deleted subtree, so the note list is re-fetched
// afterwards; the incremental client state cannot know which notes changed.
func (s *Session) DeleteCategory(ctx context.Context, category *Category) error {
	if err := s.api.deleteCategory(ctx, category.ID); err != nil {
		s.logf("delete category %d: %v", category.ID, err)
		return err
	}

	promoted := category.Children
	s.detachCategory(category)
	for _, child := range promoted {
		child.ParentID = 0
		s.categories = append(s.categories, child)
	}

	if err := s.ListTitles(ctx, nil); err != nil {
		s.logf("refresh notes after category delete: %v", err)
		return err
	}
	return nil
}

// detachCategory splices a node out of its parent's child list, or out of
// the root list for a root node.
func (s *Session) detachCategory(category *Category) {
	if parent := s.FindCategory(category.ParentID); parent != nil {
		parent.Children = removeCategory(parent.Children, category.ID)
		return
	}
	s.categories = removeCategory(s.categories, category.ID)
}

func removeCategory(nodes []*Category, id int64) []*Category {
	for i, node := range nodes {
		if node.ID == id {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
