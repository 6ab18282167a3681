package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
)

// Visitor is a durable identity re-identified across frames and collections.
type Visitor struct {
	ID             uuid.UUID
	Name           string
	State          VisitorState
	SeenCount      int // distinct collections the visitor appeared in
	FrameCount     int
	LastSeen       time.Time
	CreatedAt      time.Time
	CurrentSession *Session // may hold an ended session until the next sighting
}

func NewVisitor(name string, now time.Time) *Visitor {
	return &Visitor{
		ID:        uuid.New(),
		Name:      name,
		State:     StateTemporary,
		LastSeen:  now,
		CreatedAt: now,
	}
}

// ActiveSession returns the open session, or nil.
func (v *Visitor) ActiveSession() *Session {
	if v.CurrentSession.Active() {
		return v.CurrentSession
	}
	return nil
}

// MarkSighting records that the visitor appeared in frame. isNew must be true
// only for the first appearance within the current collection.
func (v *Visitor) MarkSighting(frame *models.Frame, isNew bool) []Event {
	v.FrameCount++
	if isNew {
		v.SeenCount++
	}
	if frame.CapturedAt.After(v.LastSeen) {
		v.LastSeen = frame.CapturedAt
	}

	if s := v.ActiveSession(); s != nil {
		s.addFrame(frame)
		return nil
	}

	v.CurrentSession = newSession(v.ID, frame)
	return []Event{SessionStarted{
		VisitorID: v.ID,
		SessionID: v.CurrentSession.ID,
		FrameID:   frame.ID,
	}}
}

// UpdateState applies at most one transition, evaluated in precedence order.
func (v *Visitor) UpdateState(now time.Time, p Policy) []Event {
	idle := now.Sub(v.LastSeen)

	switch {
	case v.State == StateExpired:
		return nil

	case v.State == StateTemporary && idle > p.RemoveAfter:
		events := v.endSession(now, EndReasonExpired)
		v.State = StateExpired
		return append(events, VisitorExpired{Visitor: v.Record()})

	case v.State == StateTemporary && v.SeenCount >= p.PromoteAfter:
		v.State = StateActive
		return []Event{VisitorPromoted{Visitor: v.Record()}}

	// TEMPORARY visitors expire after RemoveAfter rather than going MISSING.
	// MISSING visitors leave the registry, so a temporary one would never be
	// removed.
	case v.State != StateTemporary && v.State != StateMissing && idle > p.MissingAfter:
		events := v.endSession(now, EndReasonMissing)
		v.State = StateMissing
		return append(events, VisitorWentMissing{Visitor: v.Record()})

	case v.State == StateMissing:
		s := v.ActiveSession()
		if s == nil {
			return nil
		}
		if now.Sub(s.StartedAt) <= p.ReturningWindow {
			v.State = StateReturning
		} else {
			v.State = StateActive
		}
		return []Event{VisitorReturned{Visitor: v.Record()}}

	case v.State == StateReturning:
		s := v.ActiveSession()
		if s == nil || now.Sub(s.StartedAt) > p.ReturningWindow {
			v.State = StateActive
		}
	}
	return nil
}

func (v *Visitor) endSession(now time.Time, reason string) []Event {
	s := v.ActiveSession()
	if s == nil {
		return nil
	}
	s.end(now)
	return []Event{SessionEnded{VisitorID: v.ID, SessionID: s.ID, Reason: reason}}
}

// CreateDetection builds the audit record for composite, snapshotting the
// visitor as it is now.
func (v *Visitor) CreateDetection(frame *models.Frame, c *Composite) Detection {
	d := Detection{
		ID:          uuid.New(),
		FrameID:     frame.ID,
		FaceID:      c.Face.ID,
		EmbeddingID: c.Embedding.ID,
		VisitorID:   v.ID,
		Visitor:     v.Record(),
		CapturedAt:  frame.CapturedAt,
	}
	if c.Body != nil {
		id := c.Body.ID
		d.BodyID = &id
	}
	return d
}

type visitorSnapshot struct {
	visitor    Visitor
	session    Session
	hasSession bool
}

func (v *Visitor) snapshot() visitorSnapshot {
	snap := visitorSnapshot{visitor: *v}
	if v.CurrentSession != nil {
		snap.session = *v.CurrentSession
		snap.hasSession = true
	}
	return snap
}

func (v *Visitor) restore(snap visitorSnapshot) {
	*v = snap.visitor
	if snap.hasSession {
		*v.CurrentSession = snap.session
	}
}
