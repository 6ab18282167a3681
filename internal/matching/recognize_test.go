package matching

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

type fakeGallery struct {
	entries      []tracking.GalleryEntry
	olderCalls   int
	olderOffsets []int
}

func (g *fakeGallery) RecentEmbeddings(ctx context.Context, limit int) ([]tracking.GalleryEntry, error) {
	return g.slice(0, limit), nil
}

func (g *fakeGallery) OlderEmbeddings(ctx context.Context, offset, limit int) ([]tracking.GalleryEntry, error) {
	g.olderCalls++
	g.olderOffsets = append(g.olderOffsets, offset)
	return g.slice(offset, limit), nil
}

func (g *fakeGallery) slice(offset, limit int) []tracking.GalleryEntry {
	if offset >= len(g.entries) {
		return nil
	}
	end := min(offset+limit, len(g.entries))
	return g.entries[offset:end]
}

// unit returns a 2-d unit vector at angle deg.
func unit(deg float64) []float32 {
	r := deg * math.Pi / 180
	return []float32{float32(math.Cos(r)), float32(math.Sin(r))}
}

func composite(normed []float32, quality float32) *tracking.Composite {
	return &tracking.Composite{
		Face:      models.Face{ID: uuid.New(), QualityScore: quality},
		Embedding: models.FaceEmbedding{ID: uuid.New(), Normed: normed},
	}
}

type visitorBook map[uuid.UUID]*tracking.Visitor

func (b visitorBook) add() *tracking.Visitor {
	v := tracking.NewVisitor("v", time.Now())
	b[v.ID] = v
	return v
}

func (b visitorBook) resolve(ctx context.Context, id uuid.UUID) (*tracking.Visitor, error) {
	return b[id], nil
}

func TestRecognizeFaces_MatchesRecentGallery(t *testing.T) {
	book := visitorBook{}
	alice := book.add()
	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{EmbeddingID: uuid.New(), VisitorID: alice.ID, Normed: unit(0)},
	}}

	c := composite(unit(10), 0.9)
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))

	assert.Same(t, alice, c.Visitor)
	assert.Zero(t, g.olderCalls)
}

func TestRecognizeFaces_BelowThreshold(t *testing.T) {
	book := visitorBook{}
	alice := book.add()
	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{VisitorID: alice.ID, Normed: unit(0)},
	}}

	c := composite(unit(80), 0.9) // cos 80° ≈ 0.17
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))
	assert.Nil(t, c.Visitor)
}

func TestRecognizeFaces_IneligibleNeverMatched(t *testing.T) {
	book := visitorBook{}
	alice := book.add()
	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{VisitorID: alice.ID, Normed: unit(0)},
	}}

	lowQuality := composite(unit(0), 0.5)
	noEmbedding := composite(nil, 0.99)
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{lowQuality, noEmbedding}, book.resolve))

	assert.Nil(t, lowQuality.Visitor)
	assert.Nil(t, noEmbedding.Visitor)
}

func TestRecognizeFaces_FallsBackToOlderWindow(t *testing.T) {
	book := visitorBook{}
	bob := book.add()
	carol := book.add()
	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{VisitorID: bob.ID, Normed: unit(90)},
		{VisitorID: bob.ID, Normed: unit(95)},
		{VisitorID: carol.ID, Normed: unit(1)},
	}}

	c := composite(unit(0), 0.9)
	r := NewRecognizer(RecognizerConfig{Threshold: 0.4, QualityThreshold: 0.5, RecentLimit: 2, OlderLimit: 3})
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))

	assert.Same(t, carol, c.Visitor)
	assert.Equal(t, []int{2}, g.olderOffsets)
}

func TestRecognizeFaces_BestCandidateWinsAndTiesKeepFirst(t *testing.T) {
	book := visitorBook{}
	first := book.add()
	second := book.add()
	better := book.add()

	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{VisitorID: first.ID, Normed: unit(20)},
		{VisitorID: second.ID, Normed: unit(20)},
	}}
	c := composite(unit(0), 0.9)
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))
	assert.Same(t, first, c.Visitor)

	g.entries = append(g.entries, tracking.GalleryEntry{VisitorID: better.ID, Normed: unit(5)})
	c = composite(unit(0), 0.9)
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))
	assert.Same(t, better, c.Visitor)
}

func TestRecognizeFaces_UnresolvableVisitorIsNoMatch(t *testing.T) {
	book := visitorBook{}
	g := &fakeGallery{entries: []tracking.GalleryEntry{
		{VisitorID: uuid.New(), Normed: unit(0)},
	}}
	c := composite(unit(0), 0.9)
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))
	assert.Nil(t, c.Visitor)
}

func TestRecognizeFaces_SkipsAlreadyResolved(t *testing.T) {
	book := visitorBook{}
	alice := book.add()
	g := &fakeGallery{entries: []tracking.GalleryEntry{{VisitorID: alice.ID, Normed: unit(0)}}}

	existing := book.add()
	c := composite(unit(0), 0.9)
	c.Visitor = existing
	r := NewRecognizer(DefaultRecognizerConfig())
	require.NoError(t, r.RecognizeFaces(context.Background(), g, []*tracking.Composite{c}, book.resolve))
	assert.Same(t, existing, c.Visitor)
}

func TestMatchAgainstCollection(t *testing.T) {
	book := visitorBook{}
	alice := book.add()
	bob := book.add()

	a := composite(unit(0), 0.9)
	a.Visitor = alice
	b := composite(unit(60), 0.9)
	b.Visitor = bob
	lowQ := composite(unit(59), 0.3)
	lowQ.Visitor = book.add()

	r := NewRecognizer(DefaultRecognizerConfig())
	buffered := []*tracking.Composite{a, b, lowQ}

	assert.Same(t, bob, r.MatchAgainstCollection(composite(unit(58), 0.9), buffered))
	assert.Same(t, alice, r.MatchAgainstCollection(composite(unit(3), 0.9), buffered))
	assert.Nil(t, r.MatchAgainstCollection(composite(unit(170), 0.9), buffered))
	assert.Nil(t, r.MatchAgainstCollection(composite(unit(0), 0.2), buffered))
}

func TestNormalize(t *testing.T) {
	normed, norm := Normalize([]float32{3, 4})
	assert.InDelta(t, 5, norm, 1e-6)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, normed, 1e-6)

	normed, norm = Normalize([]float32{0, 0})
	assert.Nil(t, normed)
	assert.Zero(t, norm)
}

func TestSimilarity_MismatchedLengths(t *testing.T) {
	_, ok := Similarity([]float32{1}, []float32{1, 0})
	assert.False(t, ok)
}
