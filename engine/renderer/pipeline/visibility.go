package pipeline

import (
	"golang.org/x/exp/slices"

	pmath "github.com/spaghettifunk/prism/engine/math"
)

// VisibilityManager fills a queue with what a viewer at position, looking
// along direction, can see for the named stage.
type VisibilityManager interface {
	CollectVisibleObjects(q *RenderQueue, stage string, position, direction pmath.Vec3)
}

// ListVisibilityManager keeps items in registration order and only culls
// items that ask to be culled.
type ListVisibilityManager struct {
	items []RenderItem
}

func NewListVisibilityManager(items ...RenderItem) *ListVisibilityManager {
	return &ListVisibilityManager{items: items}
}

func (m *ListVisibilityManager) Add(item RenderItem) {
	m.items = append(m.items, item)
}

// Remove reports whether the item was registered.
func (m *ListVisibilityManager) Remove(item RenderItem) bool {
	i := slices.Index(m.items, item)
	if i < 0 {
		return false
	}
	m.items = slices.Delete(m.items, i, i+1)
	return true
}

func (m *ListVisibilityManager) Len() int {
	return len(m.items)
}

func (m *ListVisibilityManager) CollectVisibleObjects(q *RenderQueue, stage string, position, direction pmath.Vec3) {
	for _, item := range m.items {
		if !participatesIn(item, stage) {
			continue
		}
		if c, ok := item.(Cullable); ok && c.Cull(position, direction) {
			continue
		}
		q.Add(item)
	}
}
