package matching

import (
	"math"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

// DefaultBodyThreshold is the minimum score for a face/body pair to be kept.
const DefaultBodyThreshold = 0.3

// Assignment pairs a face index with a body index.
type Assignment struct {
	Face  int
	Body  int
	Score float64
}

// BodyMatcher attaches each face to at most one body and each body to at
// most one face, maximizing the total match score.
type BodyMatcher struct {
	threshold float64
}

func NewBodyMatcher(threshold float64) *BodyMatcher {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &BodyMatcher{threshold: threshold}
}

func (m *BodyMatcher) Match(composites []*tracking.Composite, bodies []models.Body) []*tracking.Composite {
	if len(composites) == 0 || len(bodies) == 0 {
		return composites
	}

	faces := make([]models.BBox, len(composites))
	for i, c := range composites {
		faces[i] = c.Face.BBox
	}
	boxes := make([]models.BBox, len(bodies))
	for i, b := range bodies {
		boxes[i] = b.BBox
	}

	for _, a := range Assign(faces, boxes, m.threshold) {
		body := bodies[a.Body]
		composites[a.Face].Body = &body
	}
	return composites
}

// Assign computes the minimum-cost assignment with cost 1 - MatchScore and
// returns the pairs scoring at least threshold, ordered by face index.
func Assign(faces, bodies []models.BBox, threshold float64) []Assignment {
	if len(faces) == 0 || len(bodies) == 0 {
		return nil
	}

	scores := make([][]float64, len(faces))
	cost := make([][]float64, len(faces))
	for i, f := range faces {
		scores[i] = make([]float64, len(bodies))
		cost[i] = make([]float64, len(bodies))
		for j, b := range bodies {
			s := MatchScore(f, b)
			scores[i][j] = s
			cost[i][j] = 1 - s
		}
	}

	var out []Assignment
	for i, j := range solveAssignment(cost) {
		if j < 0 || scores[i][j] < threshold {
			continue
		}
		out = append(out, Assignment{Face: i, Body: j, Score: scores[i][j]})
	}
	return out
}

// MatchScore rates how plausibly face belongs to body, in [0, 1].
// It blends how much of the face lies inside the body, how close the face
// sits to the upper part of the body, and the face to body width ratio.
// Implausible pairs score 0.
func MatchScore(face, body models.BBox) float64 {
	faceArea := float64(face.Area())
	bodyW := float64(body.Width())
	bodyH := float64(body.Height())
	if faceArea <= 0 || bodyW <= 0 || bodyH <= 0 {
		return 0
	}

	containment := float64(face.Intersection(body)) / faceArea
	if containment <= 0 {
		return 0
	}

	upper := float64(body[1]) + 0.4*bodyH
	dist := math.Max(0, float64(face.CenterY())-upper)
	vertical := math.Exp(-dist / (0.25 * bodyH))

	width := widthScore(float64(face.Width()) / bodyW)
	if width <= 0.1 {
		return 0
	}

	return 0.5*containment + 0.3*vertical + 0.2*width
}

func widthScore(ratio float64) float64 {
	switch {
	case ratio >= 0.25:
		return 1.0
	case ratio >= 0.15:
		return 0.2
	default:
		return 0
	}
}
