package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
)

// VisitorRecord is the serializable view of a visitor carried by events and
// detections.
type VisitorRecord struct {
	ID               uuid.UUID    `json:"id"`
	Name             string       `json:"name"`
	State            VisitorState `json:"state"`
	SeenCount        int          `json:"seen_count"`
	FrameCount       int          `json:"frame_count"`
	CurrentSessionID *uuid.UUID   `json:"current_session_id"`
	LastSeen         time.Time    `json:"last_seen"`
	CreatedAt        time.Time    `json:"created_at"`
}

func (v *Visitor) Record() VisitorRecord {
	rec := VisitorRecord{
		ID:         v.ID,
		Name:       v.Name,
		State:      v.State,
		SeenCount:  v.SeenCount,
		FrameCount: v.FrameCount,
		LastSeen:   v.LastSeen,
		CreatedAt:  v.CreatedAt,
	}
	if s := v.ActiveSession(); s != nil {
		id := s.ID
		rec.CurrentSessionID = &id
	}
	return rec
}

// RestoreVisitor rebuilds a visitor from its record and, when present, its
// active session.
func RestoreVisitor(rec VisitorRecord, active *Session) *Visitor {
	v := &Visitor{
		ID:         rec.ID,
		Name:       rec.Name,
		State:      rec.State,
		SeenCount:  rec.SeenCount,
		FrameCount: rec.FrameCount,
		LastSeen:   rec.LastSeen,
		CreatedAt:  rec.CreatedAt,
	}
	if active != nil && rec.CurrentSessionID != nil && *rec.CurrentSessionID == active.ID {
		v.CurrentSession = active
	}
	return v
}

// Detection is the immutable record linking one face in one frame to a visitor.
type Detection struct {
	ID          uuid.UUID     `json:"id"`
	FrameID     uuid.UUID     `json:"frame_id"`
	FaceID      uuid.UUID     `json:"face_id"`
	EmbeddingID uuid.UUID     `json:"embedding_id"`
	BodyID      *uuid.UUID    `json:"body_id,omitempty"`
	VisitorID   uuid.UUID     `json:"visitor_id"`
	Visitor     VisitorRecord `json:"visitor_record"`
	CapturedAt  time.Time     `json:"captured_at"`
}

// Composite bundles a face with its embedding, an optionally matched body
// and, once resolved, its visitor. It only lives while a frame is handled
// and inside the collection buffer.
type Composite struct {
	Face      models.Face
	Embedding models.FaceEmbedding
	Body      *models.Body
	Visitor   *Visitor
}
