package models

import (
	"time"

	"github.com/google/uuid"
)

// Frame is a single image captured by one camera as part of a collection burst.
type Frame struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CameraName   string    `json:"camera_name" db:"camera_name"`
	CollectionID string    `json:"collection_id" db:"collection_id"`
	CapturedAt   time.Time `json:"captured_at" db:"captured_at"`
	FrameRef     string    `json:"frame_ref" db:"frame_ref"` // MinIO object key
}

// BBox is an axis-aligned box in pixel coordinates: x1, y1, x2, y2.
type BBox [4]float32

func (b BBox) Width() float32  { return b[2] - b[0] }
func (b BBox) Height() float32 { return b[3] - b[1] }

func (b BBox) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Intersection returns the overlapping area of two boxes.
func (b BBox) Intersection(o BBox) float32 {
	x1 := max(b[0], o[0])
	y1 := max(b[1], o[1])
	x2 := min(b[2], o[2])
	y2 := min(b[3], o[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

func (b BBox) CenterY() float32 {
	return (b[1] + b[3]) / 2
}

// Body is a detected person region.
type Body struct {
	ID         uuid.UUID `json:"id" db:"id"`
	FrameID    uuid.UUID `json:"frame_id" db:"frame_id"`
	BBox       BBox      `json:"bbox" db:"bbox"`
	Confidence float32   `json:"confidence" db:"confidence"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
}
