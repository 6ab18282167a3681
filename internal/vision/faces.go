package vision

import (
	"context"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/matching"
	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/observability"
	"github.com/your-org/judge/internal/tracking"
)

// QualityGate rejects faces that are too small, too weak or turned too far
// away from the camera to identify reliably.
type QualityGate struct {
	DetectionThreshold float32
	MinFaceSize        float32
	MinEmbeddingNorm   float32
	MaxYaw             float32
	MaxPitch           float32
}

func NewQualityGate(cfg config.VisionConfig) QualityGate {
	return QualityGate{
		DetectionThreshold: float32(cfg.DetectionThreshold),
		MinFaceSize:        float32(cfg.MinFaceSize),
		MinEmbeddingNorm:   float32(cfg.MinEmbeddingNorm),
		MaxYaw:             float32(cfg.MaxYaw),
		MaxPitch:           float32(cfg.MaxPitch),
	}
}

// AcceptBox checks the cheap geometric criteria before an embedding is computed.
func (g QualityGate) AcceptBox(score float32, box models.BBox, pose [3]float32) bool {
	if score < g.DetectionThreshold {
		return false
	}
	if box.Area() < g.MinFaceSize*g.MinFaceSize {
		return false
	}
	if abs32(pose[0]) > g.MaxYaw || abs32(pose[1]) > g.MaxPitch {
		return false
	}
	return true
}

func (g QualityGate) AcceptNorm(norm float32) bool {
	return norm >= g.MinEmbeddingNorm
}

// QualityScore blends detector confidence, embedding strength and how
// frontal the face is into a value in [0, 1].
func QualityScore(det, norm float32, pose [3]float32) float32 {
	normScore := min(1, norm/20)
	frontal := max(0, 1-(abs32(pose[0])+abs32(pose[1]))/90)
	return max(0, min(1, det*0.6+normScore*0.3+frontal*0.1))
}

// EstimatePose approximates yaw, pitch and roll in degrees from the five
// facial landmarks. A frontal face gives zeros.
func EstimatePose(lm [5][2]float32) [3]float32 {
	le, re, nose := lm[0], lm[1], lm[2]
	lmouth, rmouth := lm[3], lm[4]

	eyeDX, eyeDY := re[0]-le[0], re[1]-le[1]
	eyeDist := float32(math.Hypot(float64(eyeDX), float64(eyeDY)))
	if eyeDist == 0 {
		return [3]float32{}
	}
	roll := float32(math.Atan2(float64(eyeDY), float64(eyeDX)) * 180 / math.Pi)

	eyeMidX, eyeMidY := (le[0]+re[0])/2, (le[1]+re[1])/2
	mouthMidY := (lmouth[1] + rmouth[1]) / 2

	yaw := clampF((nose[0]-eyeMidX)/eyeDist, -1, 1) * 90

	var pitch float32
	if span := mouthMidY - eyeMidY; span > 0 {
		t := (nose[1] - eyeMidY) / span
		pitch = clampF((t-0.5)*2, -1, 1) * 90
	}
	return [3]float32{yaw, pitch, roll}
}

// FaceAnalyzer turns raw detections into gated faces with embeddings and
// demographic attributes.
type FaceAnalyzer struct {
	locator    faceLocator
	embedder   faceEmbedder
	attributes attributePredictor
	gate       QualityGate
}

// NewFaceAnalyzer wires the face models together. attributes may be nil.
func NewFaceAnalyzer(locator faceLocator, embedder faceEmbedder, attributes attributePredictor, gate QualityGate) *FaceAnalyzer {
	return &FaceAnalyzer{locator: locator, embedder: embedder, attributes: attributes, gate: gate}
}

func (a *FaceAnalyzer) Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]*tracking.Composite, error) {
	start := time.Now()
	boxes, err := a.locator.Detect(img)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	var out []*tracking.Composite
	for _, fb := range boxes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pose := EstimatePose(fb.Landmarks)
		if !a.gate.AcceptBox(fb.Confidence, fb.BBox, pose) {
			continue
		}
		crop := cropFace(img, fb.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		raw, err := a.embedder.Extract(crop)
		if err != nil {
			slog.Warn("embed face", "frame", frame.ID, "error", err)
			continue
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		normed, norm := matching.Normalize(raw)
		if !a.gate.AcceptNorm(norm) {
			continue
		}

		embedding := models.FaceEmbedding{
			ID:        uuid.New(),
			Embedding: raw,
			Normed:    normed,
			CreatedAt: frame.CapturedAt,
		}
		face := models.Face{
			ID:            uuid.New(),
			FrameID:       frame.ID,
			BBox:          fb.BBox,
			EmbeddingID:   embedding.ID,
			EmbeddingNorm: norm,
			DetScore:      fb.Confidence,
			QualityScore:  QualityScore(fb.Confidence, norm, pose),
			Pose:          pose,
			CapturedAt:    frame.CapturedAt,
		}
		a.annotate(&face, crop)

		out = append(out, &tracking.Composite{Face: face, Embedding: embedding})
	}
	return out, nil
}

func (a *FaceAnalyzer) annotate(face *models.Face, crop image.Image) {
	if a.attributes == nil {
		return
	}
	start := time.Now()
	attrs, err := a.attributes.Predict(crop)
	if err != nil {
		slog.Warn("predict attributes", "face", face.ID, "error", err)
		return
	}
	observability.InferenceDuration.WithLabelValues("attrs").Observe(time.Since(start).Seconds())

	face.Sex = attrs.Sex
	if attrs.Age > 0 {
		age := attrs.Age
		face.Age = &age
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
