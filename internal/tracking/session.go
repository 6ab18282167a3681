package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
)

// Session is one continuous period of presence of a visitor.
// It is active until EndedAt is set.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	VisitorID    uuid.UUID  `json:"visitor_id"`
	StartFrameID uuid.UUID  `json:"start_frame_id"`
	StartedAt    time.Time  `json:"started_at"`
	CapturedAt   time.Time  `json:"captured_at"`
	FrameCount   int        `json:"frame_count"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func newSession(visitorID uuid.UUID, frame *models.Frame) *Session {
	return &Session{
		ID:           uuid.New(),
		VisitorID:    visitorID,
		StartFrameID: frame.ID,
		StartedAt:    frame.CapturedAt,
		CapturedAt:   frame.CapturedAt,
		FrameCount:   1,
	}
}

func (s *Session) Active() bool {
	return s != nil && s.EndedAt == nil
}

func (s *Session) addFrame(frame *models.Frame) {
	s.FrameCount++
	if frame.CapturedAt.After(s.CapturedAt) {
		s.CapturedAt = frame.CapturedAt
	}
}

func (s *Session) end(at time.Time) {
	s.EndedAt = &at
}
