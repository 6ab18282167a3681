package dto

import "github.com/google/uuid"

type VisitorQuery struct {
	State  string `form:"state"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type VisitorResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	State            string     `json:"state"`
	SeenCount        int        `json:"seen_count"`
	FrameCount       int        `json:"frame_count"`
	CurrentSessionID *uuid.UUID `json:"current_session_id,omitempty"`
	LastSeen         string     `json:"last_seen"`
	CreatedAt        string     `json:"created_at"`
}

type VisitorListResponse struct {
	Visitors []VisitorResponse `json:"visitors"`
	Total    int               `json:"total"`
}

type SessionResponse struct {
	ID           uuid.UUID `json:"id"`
	StartFrameID uuid.UUID `json:"start_frame_id"`
	StartedAt    string    `json:"started_at"`
	LastFrameAt  string    `json:"last_frame_at"`
	FrameCount   int       `json:"frame_count"`
	EndedAt      string    `json:"ended_at,omitempty"`
	Active       bool      `json:"active"`
}

type DetectionResponse struct {
	ID         uuid.UUID       `json:"id"`
	FrameID    uuid.UUID       `json:"frame_id"`
	FaceID     uuid.UUID       `json:"face_id"`
	BodyID     *uuid.UUID      `json:"body_id,omitempty"`
	CapturedAt string          `json:"captured_at"`
	Visitor    VisitorResponse `json:"visitor"`
	FrameURL   string          `json:"frame_url"`
}
