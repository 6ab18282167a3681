package models

import (
	"time"

	"github.com/google/uuid"
)

// FrameTask is the message published to NATS for worker processing.
type FrameTask struct {
	FrameID      uuid.UUID `json:"frame_id"`
	CameraName   string    `json:"camera_name"`
	CollectionID string    `json:"collection_id"`
	CapturedAt   time.Time `json:"captured_at"`
	FrameRef     string    `json:"frame_ref"` // MinIO object key
	Width        int       `json:"width"`
	Height       int       `json:"height"`
}

// Frame converts the task into the frame it describes.
func (t FrameTask) Frame() *Frame {
	return &Frame{
		ID:           t.FrameID,
		CameraName:   t.CameraName,
		CollectionID: t.CollectionID,
		CapturedAt:   t.CapturedAt,
		FrameRef:     t.FrameRef,
	}
}
