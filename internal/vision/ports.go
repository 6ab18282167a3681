package vision

import (
	"context"
	"image"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

// FaceDetector finds faces in a frame and returns them as composites with
// their embeddings attached and no body or visitor yet.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]*tracking.Composite, error)
}

// BodyDetector finds person regions in a frame.
type BodyDetector interface {
	Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]models.Body, error)
}

// FrameSource loads the encoded image a frame task points at.
type FrameSource interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// FrameHandler resolves identities for one analyzed frame.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame *models.Frame, composites []*tracking.Composite, bodies []models.Body) (*tracking.FrameResult, error)
}

type faceLocator interface {
	Detect(img image.Image) ([]FaceBox, error)
}

type faceEmbedder interface {
	Extract(face image.Image) ([]float32, error)
}

type attributePredictor interface {
	Predict(face image.Image) (*Attributes, error)
}
