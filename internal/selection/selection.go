// Package selection tracks the attributes picked for a joint modification
// and the gallery items picked for side-by-side comparison.
package selection

import (
	"github.com/fpang/garment-studio/internal/garment"
)

// MaxCompare is the largest number of gallery items that can be compared at once.
const MaxCompare = 4

// MinCompare is the number of items required to open the comparison view.
const MinCompare = 2

// Attributes is the set of selected attributes, identified by name and kept
// in insertion order.
type Attributes struct {
	items []garment.Attribute
}

// Toggle adds attr if no attribute with its name is selected, and removes it
// otherwise. It reports whether attr is selected afterwards.
func (a *Attributes) Toggle(attr garment.Attribute) bool {
	for i, cur := range a.items {
		if cur.Name == attr.Name {
			a.items = append(a.items[:i:i], a.items[i+1:]...)
			return false
		}
	}
	a.items = append(a.items, attr)
	return true
}

// Contains reports whether an attribute with the given name is selected.
func (a *Attributes) Contains(name string) bool {
	for _, cur := range a.items {
		if cur.Name == name {
			return true
		}
	}
	return false
}

// Clear empties the selection.
func (a *Attributes) Clear() {
	a.items = nil
}

// Len returns the number of selected attributes.
func (a *Attributes) Len() int {
	return len(a.items)
}

// Items returns a copy of the selected attributes.
func (a *Attributes) Items() []garment.Attribute {
	out := make([]garment.Attribute, len(a.items))
	copy(out, a.items)
	return out
}

// Names returns the selected names in insertion order.
func (a *Attributes) Names() []string {
	names := make([]string, len(a.items))
	for i, attr := range a.items {
		names[i] = attr.Name
	}
	return names
}

// Key returns the suggestion-cache key for the current selection.
func (a *Attributes) Key() string {
	return garment.SelectionKey(a.Names())
}

// Restore replaces the selection with attrs, dropping repeated names.
func (a *Attributes) Restore(attrs []garment.Attribute) {
	a.items = nil
	for _, attr := range attrs {
		if !a.Contains(attr.Name) {
			a.items = append(a.items, attr)
		}
	}
}

// Compare is the bounded set of gallery item IDs chosen for comparison.
type Compare struct {
	enabled bool
	ids     []string
}

// Enabled reports whether compare mode is on.
func (c *Compare) Enabled() bool {
	return c.enabled
}

// ToggleMode flips compare mode. The selection is cleared either way.
func (c *Compare) ToggleMode() bool {
	c.enabled = !c.enabled
	c.ids = nil
	return c.enabled
}

// Reset turns compare mode off and clears the selection.
func (c *Compare) Reset() {
	c.enabled = false
	c.ids = nil
}

// Toggle adds or removes id. Adding beyond MaxCompare leaves the set
// unchanged and returns a SelectionLimitExceeded error.
func (c *Compare) Toggle(id string) (bool, error) {
	if c.Remove(id) {
		return false, nil
	}
	if len(c.ids) >= MaxCompare {
		return false, garment.Errorf(garment.KindSelectionLimit, "compare",
			"at most %d images can be compared", MaxCompare)
	}
	c.ids = append(c.ids, id)
	return true, nil
}

// Remove drops id from the set and reports whether it was present.
func (c *Compare) Remove(id string) bool {
	for i, cur := range c.ids {
		if cur == id {
			c.ids = append(c.ids[:i:i], c.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is selected.
func (c *Compare) Contains(id string) bool {
	for _, cur := range c.ids {
		if cur == id {
			return true
		}
	}
	return false
}

// IDs returns a copy of the selected IDs in selection order.
func (c *Compare) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// Ready reports whether enough items are selected to open the comparison view.
func (c *Compare) Ready() bool {
	return len(c.ids) >= MinCompare
}

// Restore sets mode and IDs from persisted state, truncating to MaxCompare.
func (c *Compare) Restore(enabled bool, ids []string) {
	c.enabled = enabled
	if len(ids) > MaxCompare {
		ids = ids[:MaxCompare]
	}
	c.ids = append([]string(nil), ids...)
}
