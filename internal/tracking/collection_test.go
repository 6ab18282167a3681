package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionBuffer_DedupWithinCollection(t *testing.T) {
	var b CollectionBuffer
	alice := NewVisitor("alice", t0)
	bob := NewVisitor("bob", t0)

	c := b.GetOrCreate("20240501120000", t0)
	assert.True(t, c.Add(&Composite{Visitor: alice}))
	assert.False(t, c.Add(&Composite{Visitor: alice}))
	assert.True(t, c.Add(&Composite{Visitor: bob}))
	assert.False(t, c.Add(&Composite{Visitor: alice}))
	assert.Equal(t, 4, c.Len())

	assert.Same(t, c, b.GetOrCreate("20240501120000", t0))
}

func TestCollectionBuffer_NewCollectionStartsEmpty(t *testing.T) {
	var b CollectionBuffer
	alice := NewVisitor("alice", t0)

	first := b.GetOrCreate("20240501120000", t0)
	first.Add(&Composite{Visitor: alice})

	second := b.GetOrCreate("20240501120010", t0)
	assert.NotSame(t, first, second)
	assert.Zero(t, second.Len())
	assert.True(t, second.Add(&Composite{Visitor: alice}))
	assert.Same(t, second, b.Current())
}

func TestCollectionBuffer_LateFrameFindsItsCollection(t *testing.T) {
	var b CollectionBuffer
	alice := NewVisitor("alice", t0)

	first := b.GetOrCreate("20240501120000", t0)
	first.Add(&Composite{Visitor: alice})
	b.GetOrCreate("20240501120010", t0)

	again := b.GetOrCreate("20240501120000", t0)
	assert.Same(t, first, again)
	assert.False(t, again.Add(&Composite{Visitor: alice}))
	assert.Equal(t, "20240501120010", b.Current().ID, "an older id never becomes current")
}

func TestCollectionBuffer_RetainsMostRecent(t *testing.T) {
	var b CollectionBuffer
	ids := []string{"20240501120000", "20240501120010", "20240501120020", "20240501120030", "20240501120040"}
	for _, id := range ids {
		b.GetOrCreate(id, t0)
	}
	assert.Equal(t, RetainedCollections, b.Len())
	assert.Equal(t, ids[len(ids)-1], b.Current().ID)

	// The evicted oldest id gets a detached collection that displaces nothing.
	detached := b.GetOrCreate(ids[0], t0)
	assert.Zero(t, detached.Len())
	assert.Equal(t, RetainedCollections, b.Len())
	assert.NotSame(t, detached, b.GetOrCreate(ids[0], t0))

	// A missing id inside the retained range is inserted in order.
	b.GetOrCreate("20240501120025", t0)
	assert.Equal(t, RetainedCollections, b.Len())
	assert.Equal(t, ids[len(ids)-1], b.Current().ID)
}

func TestCollectionBuffer_SnapshotRestore(t *testing.T) {
	var b CollectionBuffer
	alice := NewVisitor("alice", t0)
	first := b.GetOrCreate("c1", t0)
	first.Add(&Composite{Visitor: alice})

	snap := b.snapshot()
	first.Add(&Composite{Visitor: alice})
	b.GetOrCreate("c2", t0).Add(&Composite{Visitor: alice})

	b.restore(snap)
	assert.Equal(t, 1, b.Len())
	assert.Same(t, first, b.Current())
	assert.Equal(t, 1, first.Len())
}

func TestCollection_IgnoresUnresolvedComposite(t *testing.T) {
	c := (&CollectionBuffer{}).GetOrCreate("c1", t0)
	assert.False(t, c.Add(&Composite{}))
	assert.Zero(t, c.Len())
}

func TestCollection_CompositesIsACopy(t *testing.T) {
	c := (&CollectionBuffer{}).GetOrCreate("c1", t0)
	c.Add(&Composite{Visitor: NewVisitor("a", t0)})

	got := c.Composites()
	got[0] = nil
	assert.NotNil(t, c.Composites()[0])
}
