package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
)

// GalleryEntry is one historical embedding together with the visitor it was
// attributed to.
type GalleryEntry struct {
	EmbeddingID uuid.UUID
	VisitorID   uuid.UUID
	Normed      []float32
	CapturedAt  time.Time
}

// Gallery serves historical embeddings newest first.
type Gallery interface {
	RecentEmbeddings(ctx context.Context, limit int) ([]GalleryEntry, error)
	OlderEmbeddings(ctx context.Context, offset, limit int) ([]GalleryEntry, error)
}

// Repository is the persistence port, scoped to one transaction.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	Gallery

	AddFrame(ctx context.Context, frame *models.Frame) error
	AddBodies(ctx context.Context, bodies []models.Body) error
	AddFaceEmbedding(ctx context.Context, emb *models.FaceEmbedding) error
	AddFace(ctx context.Context, face *models.Face) error
	AddDetection(ctx context.Context, d *Detection) error

	SaveVisitor(ctx context.Context, v *Visitor) error
	SaveSession(ctx context.Context, s *Session) error
	GetVisitor(ctx context.Context, id uuid.UUID) (*Visitor, error)
	ListTrackedVisitors(ctx context.Context) ([]*Visitor, error)

	// DeleteDetectionsByVisitor returns the embedding ids the removed
	// detections referenced.
	DeleteDetectionsByVisitor(ctx context.Context, visitorID uuid.UUID) ([]uuid.UUID, error)
	DeleteEmbeddings(ctx context.Context, ids []uuid.UUID) error
	DeleteSessionsByVisitor(ctx context.Context, visitorID uuid.UUID) error
	DeleteVisitor(ctx context.Context, id uuid.UUID) error
}

type Tx interface {
	Repository
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type UnitOfWork interface {
	Begin(ctx context.Context) (Tx, error)
}

type MessageBus interface {
	Publish(ctx context.Context, event Event)
}

type FaceBodyMatcher interface {
	Match(composites []*Composite, bodies []models.Body) []*Composite
}

// VisitorResolver maps a gallery visitor id to a live visitor, or nil when
// the visitor no longer exists.
type VisitorResolver func(ctx context.Context, id uuid.UUID) (*Visitor, error)

type FaceRecognizer interface {
	RecognizeFaces(ctx context.Context, gallery Gallery, composites []*Composite, resolve VisitorResolver) error
	MatchAgainstCollection(c *Composite, buffered []*Composite) *Visitor
}
