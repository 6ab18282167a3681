package tracking

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// VisitorCollection holds the composites seen during one capture burst.
type VisitorCollection struct {
	ID         string
	CreatedAt  time.Time
	composites []*Composite
}

// Add buffers c and reports whether its visitor is new to this collection.
// Composites without a visitor are ignored.
func (vc *VisitorCollection) Add(c *Composite) bool {
	if c.Visitor == nil {
		return false
	}
	isNew := !vc.Contains(c.Visitor.ID)
	vc.composites = append(vc.composites, c)
	return isNew
}

func (vc *VisitorCollection) Contains(visitorID uuid.UUID) bool {
	for _, c := range vc.composites {
		if c.Visitor != nil && c.Visitor.ID == visitorID {
			return true
		}
	}
	return false
}

// Composites returns a copy of the buffered composites in insertion order.
func (vc *VisitorCollection) Composites() []*Composite {
	out := make([]*Composite, len(vc.composites))
	copy(out, vc.composites)
	return out
}

func (vc *VisitorCollection) Len() int {
	return len(vc.composites)
}

func (vc *VisitorCollection) truncate(n int) {
	if n < len(vc.composites) {
		vc.composites = vc.composites[:n]
	}
}

// RetainedCollections is how many recent collections the buffer keeps. Frames
// of adjacent bursts can be handled out of order when several workers drain
// a backlog, so a late frame must still find its own collection.
const RetainedCollections = 4

// CollectionBuffer keeps the most recent collections ordered by id. Ids are
// capture timestamps (YYYYMMDDhhmmss) and sort chronologically.
// It is not safe for concurrent use; the Service serializes access.
type CollectionBuffer struct {
	collections []*VisitorCollection
}

// GetOrCreate returns the buffer for id, creating it when needed. Creating a
// collection evicts the oldest ones beyond RetainedCollections; an id older
// than everything retained gets a detached collection that evicts nothing.
func (b *CollectionBuffer) GetOrCreate(id string, now time.Time) *VisitorCollection {
	i := sort.Search(len(b.collections), func(i int) bool {
		return b.collections[i].ID >= id
	})
	if i < len(b.collections) && b.collections[i].ID == id {
		return b.collections[i]
	}

	vc := &VisitorCollection{ID: id, CreatedAt: now}
	if i == 0 && len(b.collections) >= RetainedCollections {
		return vc
	}
	b.collections = slices.Insert(b.collections, i, vc)
	if over := len(b.collections) - RetainedCollections; over > 0 {
		b.collections = slices.Delete(b.collections, 0, over)
	}
	return vc
}

// Current returns the newest collection, or nil before the first frame.
func (b *CollectionBuffer) Current() *VisitorCollection {
	if len(b.collections) == 0 {
		return nil
	}
	return b.collections[len(b.collections)-1]
}

func (b *CollectionBuffer) Len() int {
	return len(b.collections)
}

type bufferSnapshot struct {
	collections []*VisitorCollection
	lens        []int
}

func (b *CollectionBuffer) snapshot() bufferSnapshot {
	snap := bufferSnapshot{
		collections: slices.Clone(b.collections),
		lens:        make([]int, len(b.collections)),
	}
	for i, vc := range b.collections {
		snap.lens[i] = vc.Len()
	}
	return snap
}

func (b *CollectionBuffer) restore(snap bufferSnapshot) {
	b.collections = snap.collections
	for i, vc := range b.collections {
		vc.truncate(snap.lens[i])
	}
}
