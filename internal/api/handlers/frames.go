package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/storage"
)

type FrameReader interface {
	GetFrame(ctx context.Context, id uuid.UUID) (*models.Frame, error)
}

type ImageStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type FrameHandler struct {
	frames FrameReader
	images ImageStore
}

func NewFrameHandler(frames FrameReader, images ImageStore) *FrameHandler {
	return &FrameHandler{frames: frames, images: images}
}

func (h *FrameHandler) Get(c *gin.Context) {
	frame, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, frame)
}

// Image streams the captured JPEG of a frame.
func (h *FrameHandler) Image(c *gin.Context) {
	frame, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := h.images.GetObject(c.Request.Context(), frame.FrameRef)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "frame image not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *FrameHandler) lookup(c *gin.Context) (*models.Frame, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame id"})
		return nil, false
	}

	frame, err := h.frames.GetFrame(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return nil, false
	}
	return frame, true
}
