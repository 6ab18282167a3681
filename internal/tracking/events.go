package tracking

import (
	"github.com/google/uuid"

	"github.com/your-org/judge/internal/bus"
)

type Event = bus.Event

const (
	EventFrameProcessed     = "frame_processed"
	EventVisitorPromoted    = "visitor_promoted"
	EventVisitorWentMissing = "visitor_went_missing"
	EventVisitorReturned    = "visitor_returned"
	EventVisitorExpired     = "visitor_expired"
	EventSessionStarted     = "session_started"
	EventSessionEnded       = "session_ended"
)

// Reasons attached to SessionEnded.
const (
	EndReasonMissing = "missing"
	EndReasonExpired = "expired"
)

type FrameProcessed struct {
	FrameID        uuid.UUID `json:"frame_id"`
	DetectionCount int       `json:"detection_count"`
}

type VisitorPromoted struct {
	Visitor VisitorRecord `json:"visitor"`
}

type VisitorWentMissing struct {
	Visitor VisitorRecord `json:"visitor"`
}

type VisitorReturned struct {
	Visitor VisitorRecord `json:"visitor"`
}

type VisitorExpired struct {
	Visitor VisitorRecord `json:"visitor"`
}

type SessionStarted struct {
	VisitorID uuid.UUID `json:"visitor_id"`
	SessionID uuid.UUID `json:"session_id"`
	FrameID   uuid.UUID `json:"frame_id"`
}

type SessionEnded struct {
	VisitorID uuid.UUID `json:"visitor_id"`
	SessionID uuid.UUID `json:"session_id"`
	Reason    string    `json:"reason"`
}

func (FrameProcessed) EventName() string     { return EventFrameProcessed }
func (VisitorPromoted) EventName() string    { return EventVisitorPromoted }
func (VisitorWentMissing) EventName() string { return EventVisitorWentMissing }
func (VisitorReturned) EventName() string    { return EventVisitorReturned }
func (VisitorExpired) EventName() string     { return EventVisitorExpired }
func (SessionStarted) EventName() string     { return EventSessionStarted }
func (SessionEnded) EventName() string       { return EventSessionEnded }
