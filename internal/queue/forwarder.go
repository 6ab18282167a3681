package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/bus"
	"github.com/your-org/judge/internal/tracking"
	"github.com/your-org/judge/pkg/dto"
)

type eventPublisher interface {
	PublishEvent(ctx context.Context, name string, payload []byte) error
}

// EventForwarder relays visitor events from the in-process bus to NATS.
type EventForwarder struct {
	pub eventPublisher
	now func() time.Time
}

func NewEventForwarder(pub eventPublisher) *EventForwarder {
	return &EventForwarder{pub: pub, now: time.Now}
}

// Handle is a bus.Handler.
func (f *EventForwarder) Handle(ctx context.Context, e bus.Event) error {
	env, err := Envelope(e, f.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return f.pub.PublishEvent(ctx, e.EventName(), payload)
}

// Envelope wraps e for transport.
func Envelope(e bus.Event, at time.Time) (*dto.EventEnvelope, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventName(), err)
	}
	return &dto.EventEnvelope{
		Type:       e.EventName(),
		OccurredAt: at.UTC(),
		VisitorID:  visitorOf(e),
		Data:       data,
	}, nil
}

func visitorOf(e bus.Event) *uuid.UUID {
	var id uuid.UUID
	switch ev := e.(type) {
	case tracking.VisitorPromoted:
		id = ev.Visitor.ID
	case tracking.VisitorWentMissing:
		id = ev.Visitor.ID
	case tracking.VisitorReturned:
		id = ev.Visitor.ID
	case tracking.VisitorExpired:
		id = ev.Visitor.ID
	case tracking.SessionStarted:
		id = ev.VisitorID
	case tracking.SessionEnded:
		id = ev.VisitorID
	default:
		return nil
	}
	return &id
}
