package pipeline

import (
	"golang.org/x/exp/slices"

	pmath "github.com/spaghettifunk/prism/engine/math"
)

type keyedItem struct {
	key  RenderOrderKey
	item RenderItem
}

// RenderQueue is refilled and sorted every time its stage executes. The
// backing arrays are kept between frames.
type RenderQueue struct {
	items []RenderItem
	keyed []keyedItem
}

func NewRenderQueue() *RenderQueue {
	return &RenderQueue{}
}

func (q *RenderQueue) Add(item RenderItem) {
	q.items = append(q.items, item)
}

func (q *RenderQueue) AddRange(items ...RenderItem) {
	q.items = append(q.items, items...)
}

func (q *RenderQueue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
}

func (q *RenderQueue) Len() int {
	return len(q.items)
}

// Sort orders items by key. Equal keys keep their insertion order.
func (q *RenderQueue) Sort(viewPosition pmath.Vec3) {
	q.keyed = q.keyed[:0]
	for _, item := range q.items {
		q.keyed = append(q.keyed, keyedItem{key: item.SortKey(viewPosition), item: item})
	}
	slices.SortStableFunc(q.keyed, func(a, b keyedItem) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
	for i, k := range q.keyed {
		q.items[i] = k.item
	}
	clear(q.keyed)
}

// Items returns the queue contents, valid until the next Clear.
func (q *RenderQueue) Items() []RenderItem {
	return q.items
}

// Each stops at the first error.
func (q *RenderQueue) Each(fn func(item RenderItem) error) error {
	for _, item := range q.items {
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}
