package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventEnvelope is the wire form of a visitor domain event, both on the
// VISITORS stream and over the websocket.
type EventEnvelope struct {
	Type       string          `json:"type"` // visitor_promoted, session_started, ...
	OccurredAt time.Time       `json:"occurred_at"`
	VisitorID  *uuid.UUID      `json:"visitor_id,omitempty"`
	Data       json.RawMessage `json:"data"`
}
