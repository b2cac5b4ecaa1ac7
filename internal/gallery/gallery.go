// Package gallery keeps the ordered history of generated images for one
// session. Items are immutable once inserted; the only mutation besides
// insertion is deletion by ID. Order is newest first.
package gallery

import (
	"github.com/fpang/garment-studio/internal/garment"
)

// Store is the newest-first collection of gallery items. It is not safe for
// concurrent use; the owning session serializes access.
type Store struct {
	items []*garment.GalleryItem
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// NewFrom creates a store holding items, which must already be newest first.
func NewFrom(items []*garment.GalleryItem) *Store {
	s := &Store{items: make([]*garment.GalleryItem, len(items))}
	copy(s.items, items)
	return s
}

// Insert prepends a single item.
func (s *Store) Insert(item *garment.GalleryItem) {
	s.InsertAll([]*garment.GalleryItem{item})
}

// InsertAll prepends items as a block, keeping their relative order: the
// first element of items becomes the newest entry in the store.
func (s *Store) InsertAll(items []*garment.GalleryItem) {
	if len(items) == 0 {
		return
	}
	merged := make([]*garment.GalleryItem, 0, len(items)+len(s.items))
	merged = append(merged, items...)
	merged = append(merged, s.items...)
	s.items = merged
}

// Delete removes the item with the given ID and reports whether it existed.
func (s *Store) Delete(id string) bool {
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the item with the given ID.
func (s *Store) Get(id string) (*garment.GalleryItem, bool) {
	return s.Find(func(item *garment.GalleryItem) bool { return item.ID == id })
}

// Find returns the newest item matching pred.
func (s *Store) Find(pred func(*garment.GalleryItem) bool) (*garment.GalleryItem, bool) {
	for _, item := range s.items {
		if pred(item) {
			return item, true
		}
	}
	return nil, false
}

// FilterByIDs returns the items whose IDs are in ids, in gallery order.
func (s *Store) FilterByIDs(ids []string) []*garment.GalleryItem {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*garment.GalleryItem
	for _, item := range s.items {
		if want[item.ID] {
			out = append(out, item)
		}
	}
	return out
}

// Items returns a copy of the item list, newest first.
func (s *Store) Items() []*garment.GalleryItem {
	out := make([]*garment.GalleryItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	return len(s.items)
}
