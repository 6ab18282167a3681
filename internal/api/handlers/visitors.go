package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/judge/internal/tracking"
	"github.com/your-org/judge/pkg/dto"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// VisitorReader is the read side of the visitor store. Lookups return nil
// without an error when nothing matches.
type VisitorReader interface {
	ListVisitors(ctx context.Context, state *tracking.VisitorState, limit, offset int) ([]tracking.VisitorRecord, int, error)
	GetVisitorRecord(ctx context.Context, id uuid.UUID) (*tracking.VisitorRecord, error)
	ListSessions(ctx context.Context, visitorID uuid.UUID) ([]tracking.Session, error)
	ListDetections(ctx context.Context, visitorID uuid.UUID, limit, offset int) ([]tracking.Detection, error)
}

type VisitorHandler struct {
	store VisitorReader
}

func NewVisitorHandler(store VisitorReader) *VisitorHandler {
	return &VisitorHandler{store: store}
}

func (h *VisitorHandler) List(c *gin.Context) {
	var q dto.VisitorQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var state *tracking.VisitorState
	if q.State != "" {
		s, err := tracking.ParseState(q.State)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}
		state = &s
	}
	limit, offset, ok := page(c, q.Limit, q.Offset)
	if !ok {
		return
	}

	records, total, err := h.store.ListVisitors(c.Request.Context(), state, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VisitorResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, visitorResponse(rec))
	}
	c.JSON(http.StatusOK, dto.VisitorListResponse{Visitors: resp, Total: total})
}

func (h *VisitorHandler) Get(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, visitorResponse(*rec))
}

func (h *VisitorHandler) Sessions(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}

	sessions, err := h.store.ListSessions(c.Request.Context(), rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": resp, "total": len(resp)})
}

func (h *VisitorHandler) Detections(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}

	var q dto.VisitorQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, offset, ok := page(c, q.Limit, q.Offset)
	if !ok {
		return
	}

	detections, err := h.store.ListDetections(c.Request.Context(), rec.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.DetectionResponse, 0, len(detections))
	for _, d := range detections {
		resp = append(resp, detectionResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{"detections": resp, "total": len(resp)})
}

// lookup resolves the :id path parameter, writing the error response itself.
func (h *VisitorHandler) lookup(c *gin.Context) (*tracking.VisitorRecord, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visitor id"})
		return nil, false
	}

	rec, err := h.store.GetVisitorRecord(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "visitor not found"})
		return nil, false
	}
	return rec, true
}

func page(c *gin.Context, limit, offset int) (int, int, bool) {
	if limit < 0 || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit and offset must not be negative"})
		return 0, 0, false
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	return min(limit, maxPageSize), offset, true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func visitorResponse(rec tracking.VisitorRecord) dto.VisitorResponse {
	return dto.VisitorResponse{
		ID:               rec.ID,
		Name:             rec.Name,
		State:            rec.State.String(),
		SeenCount:        rec.SeenCount,
		FrameCount:       rec.FrameCount,
		CurrentSessionID: rec.CurrentSessionID,
		LastSeen:         formatTime(rec.LastSeen),
		CreatedAt:        formatTime(rec.CreatedAt),
	}
}

func sessionResponse(s tracking.Session) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:           s.ID,
		StartFrameID: s.StartFrameID,
		StartedAt:    formatTime(s.StartedAt),
		LastFrameAt:  formatTime(s.CapturedAt),
		FrameCount:   s.FrameCount,
		Active:       s.EndedAt == nil,
	}
	if s.EndedAt != nil {
		resp.EndedAt = formatTime(*s.EndedAt)
	}
	return resp
}

func detectionResponse(d tracking.Detection) dto.DetectionResponse {
	return dto.DetectionResponse{
		ID:         d.ID,
		FrameID:    d.FrameID,
		FaceID:     d.FaceID,
		BodyID:     d.BodyID,
		CapturedAt: formatTime(d.CapturedAt),
		Visitor:    visitorResponse(d.Visitor),
		FrameURL:   "/v1/frames/" + d.FrameID.String() + "/image",
	}
}
