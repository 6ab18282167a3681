package models

import (
	"time"

	"github.com/google/uuid"
)

type Face struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	FrameID       uuid.UUID  `json:"frame_id" db:"frame_id"`
	BBox          BBox       `json:"bbox" db:"bbox"`
	EmbeddingID   uuid.UUID  `json:"embedding_id" db:"embedding_id"`
	EmbeddingNorm float32    `json:"embedding_norm" db:"embedding_norm"`
	DetScore      float32    `json:"det_score" db:"det_score"`
	QualityScore  float32    `json:"quality_score" db:"quality_score"`
	Pose          [3]float32 `json:"pose" db:"pose"` // yaw, pitch, roll in degrees
	Age           *int       `json:"age,omitempty" db:"age"`
	Sex           string     `json:"sex,omitempty" db:"sex"`
	CapturedAt    time.Time  `json:"captured_at" db:"captured_at"`
}

// FaceEmbedding keeps both the raw model output and its unit-length copy.
// Normed may be empty when the raw vector had zero length.
type FaceEmbedding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Embedding []float32 `json:"-" db:"embedding"`
	Normed    []float32 `json:"-" db:"normed_embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
