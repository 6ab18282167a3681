package matching

import (
	"context"
	"fmt"
	"math"

	"github.com/your-org/judge/internal/tracking"
)

// RecognizerConfig holds the recognition thresholds and gallery scan sizes.
type RecognizerConfig struct {
	Threshold        float32 // minimum cosine similarity
	QualityThreshold float32 // faces at or below this quality are never matched
	RecentLimit      int
	OlderLimit       int
}

func DefaultRecognizerConfig() RecognizerConfig {
	return RecognizerConfig{
		Threshold:        0.4,
		QualityThreshold: 0.5,
		RecentLimit:      100,
		OlderLimit:       300,
	}
}

// Recognizer re-identifies faces by embedding similarity, first against the
// current collection and then against a bounded window of recent history.
type Recognizer struct {
	cfg RecognizerConfig
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{cfg: cfg}
}

// Eligible reports whether c may take part in matching at all.
func (r *Recognizer) Eligible(c *tracking.Composite) bool {
	return len(c.Embedding.Normed) > 0 && c.Face.QualityScore > r.cfg.QualityThreshold
}

// RecognizeFaces assigns a visitor to every eligible composite that has none
// and matches a gallery embedding. The newest RecentLimit embeddings are
// scanned first; composites still unmatched are tried against the next
// OlderLimit.
func (r *Recognizer) RecognizeFaces(ctx context.Context, g tracking.Gallery, composites []*tracking.Composite, resolve tracking.VisitorResolver) error {
	var pending []*tracking.Composite
	for _, c := range composites {
		if c.Visitor == nil && r.Eligible(c) {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	recent, err := g.RecentEmbeddings(ctx, r.cfg.RecentLimit)
	if err != nil {
		return fmt.Errorf("load recent embeddings: %w", err)
	}
	pending, err = r.matchGallery(ctx, pending, recent, resolve)
	if err != nil {
		return err
	}
	if len(pending) == 0 || r.cfg.OlderLimit <= 0 || len(recent) < r.cfg.RecentLimit {
		return nil
	}

	older, err := g.OlderEmbeddings(ctx, r.cfg.RecentLimit, r.cfg.OlderLimit)
	if err != nil {
		return fmt.Errorf("load older embeddings: %w", err)
	}
	_, err = r.matchGallery(ctx, pending, older, resolve)
	return err
}

func (r *Recognizer) matchGallery(ctx context.Context, pending []*tracking.Composite, entries []tracking.GalleryEntry, resolve tracking.VisitorResolver) ([]*tracking.Composite, error) {
	if len(entries) == 0 {
		return pending, nil
	}

	var unmatched []*tracking.Composite
	for _, c := range pending {
		best := -1
		var bestSim float32
		for i, e := range entries {
			sim, ok := Similarity(c.Embedding.Normed, e.Normed)
			if !ok || sim < r.cfg.Threshold {
				continue
			}
			if best < 0 || sim > bestSim {
				best, bestSim = i, sim
			}
		}
		if best < 0 {
			unmatched = append(unmatched, c)
			continue
		}

		v, err := resolve(ctx, entries[best].VisitorID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			unmatched = append(unmatched, c)
			continue
		}
		c.Visitor = v
	}
	return unmatched, nil
}

// MatchAgainstCollection returns the visitor of the most similar buffered
// composite, or nil when none reaches the threshold.
func (r *Recognizer) MatchAgainstCollection(c *tracking.Composite, buffered []*tracking.Composite) *tracking.Visitor {
	if !r.Eligible(c) {
		return nil
	}

	var best *tracking.Visitor
	var bestSim float32
	for _, b := range buffered {
		if b == c || b.Visitor == nil || !r.Eligible(b) {
			continue
		}
		sim, ok := Similarity(c.Embedding.Normed, b.Embedding.Normed)
		if !ok || sim < r.cfg.Threshold {
			continue
		}
		if best == nil || sim > bestSim {
			best, bestSim = b.Visitor, sim
		}
	}
	return best
}

// Similarity is the dot product of two unit vectors. ok is false when the
// vectors cannot be compared.
func Similarity(a, b []float32) (float32, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot, true
}

// Normalize returns a unit-length copy of v and the original L2 norm.
// A zero vector yields a nil copy.
func Normalize(v []float32) ([]float32, float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, 0
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, float32(norm)
}
