package gallery

import (
	"testing"
	"time"

	"github.com/fpang/garment-studio/internal/garment"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func item(id string) *garment.GalleryItem {
	return &garment.GalleryItem{ID: id, SuggestionTitle: "title " + id}
}

func ids(items []*garment.GalleryItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(t *testing.T, got []*garment.GalleryItem, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

// --- Store Tests ---

func TestInsertIsNewestFirst(t *testing.T) {
	s := New()
	s.Insert(item("a"))
	s.Insert(item("b"))
	s.Insert(item("c"))
	equalIDs(t, s.Items(), "c", "b", "a")
}

func TestInsertAllKeepsBlockOrder(t *testing.T) {
	s := New()
	s.Insert(item("old"))
	s.InsertAll([]*garment.GalleryItem{item("b1"), item("b2"), item("b3")})
	equalIDs(t, s.Items(), "b1", "b2", "b3", "old")
}

func TestDelete(t *testing.T) {
	s := New()
	s.InsertAll([]*garment.GalleryItem{item("a"), item("b"), item("c")})

	if !s.Delete("b") {
		t.Fatal("expected delete to report existing item")
	}
	if s.Delete("b") {
		t.Error("expected second delete to report missing item")
	}
	equalIDs(t, s.Items(), "a", "c")
}

func TestItemsIsACopy(t *testing.T) {
	s := New()
	s.InsertAll([]*garment.GalleryItem{item("a"), item("b")})
	snapshot := s.Items()
	s.Delete("a")
	if len(snapshot) != 2 {
		t.Errorf("expected snapshot unaffected by delete, got %d items", len(snapshot))
	}
}

func TestFindAndFilter(t *testing.T) {
	s := New()
	s.InsertAll([]*garment.GalleryItem{item("a"), item("b"), item("c")})

	got, ok := s.Find(func(it *garment.GalleryItem) bool { return it.SuggestionTitle == "title b" })
	if !ok || got.ID != "b" {
		t.Errorf("expected to find b, got %+v", got)
	}

	equalIDs(t, s.FilterByIDs([]string{"c", "a", "missing"}), "a", "c")

	if _, ok := s.Get("missing"); ok {
		t.Error("expected missing id not found")
	}
}

// --- ID Tests ---

func TestIDsUniqueWithinSameInstant(t *testing.T) {
	src := NewIDSource(fixedClock{t: time.UnixMilli(1700000000000)})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, ts := src.Next(i % 3)
		if ts != 1700000000000 {
			t.Fatalf("expected fixed timestamp, got %d", ts)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
