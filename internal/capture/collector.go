package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/observability"
	"github.com/your-org/judge/internal/storage"
)

// CollectionIDLayout names a collection after the second it was triggered.
const CollectionIDLayout = "20060102150405"

type Grabber interface {
	Grab(ctx context.Context, streamURL string) ([]byte, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type FramePublisher interface {
	PublishFrame(ctx context.Context, task *models.FrameTask) error
}

// Collector periodically snaps one frame from every camera at roughly the
// same moment. The frames of one burst share a collection id so tracking
// can tell that faces in them may belong to the same people.
type Collector struct {
	cameras   []config.CameraConfig
	grabber   Grabber
	store     ObjectStore
	publisher FramePublisher
	interval  time.Duration
	now       func() time.Time
}

func NewCollector(cfg config.CaptureConfig, grabber Grabber, store ObjectStore, publisher FramePublisher) *Collector {
	return &Collector{
		cameras:   cfg.Cameras,
		grabber:   grabber,
		store:     store,
		publisher: publisher,
		interval:  cfg.Interval,
		now:       time.Now,
	}
}

// Run triggers a collection immediately and then on every interval until
// ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("collector started", "cameras", len(c.cameras), "interval", c.interval)
	for {
		c.Collect(ctx)
		select {
		case <-ctx.Done():
			slog.Info("collector stopped")
			return
		case <-ticker.C:
		}
	}
}

// Collect captures one burst and returns its id and the number of frames
// queued. A failing camera does not affect the others.
func (c *Collector) Collect(ctx context.Context) (string, int) {
	if ctx.Err() != nil {
		return "", 0
	}
	capturedAt := c.now().UTC()
	collectionID := capturedAt.Format(CollectionIDLayout)
	observability.CollectionsTriggered.Inc()

	queued := make([]bool, len(c.cameras))
	var g errgroup.Group
	for i, cam := range c.cameras {
		g.Go(func() error {
			if err := c.captureCamera(ctx, cam, collectionID, capturedAt); err != nil {
				observability.CaptureFailures.WithLabelValues(cam.Name).Inc()
				slog.Warn("capture failed", "camera", cam.Name, "collection", collectionID, "error", err)
				return nil
			}
			queued[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range queued {
		if ok {
			n++
		}
	}
	slog.Debug("collection captured", "collection", collectionID, "frames", n, "cameras", len(c.cameras))
	return collectionID, n
}

func (c *Collector) captureCamera(ctx context.Context, cam config.CameraConfig, collectionID string, capturedAt time.Time) error {
	data, err := c.grabber.Grab(ctx, cam.URL)
	if err != nil {
		return fmt.Errorf("grab: %w", err)
	}
	if len(data) == 0 {
		return ErrNoFrame
	}

	imgCfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode jpeg header: %w", err)
	}

	key := storage.FrameKey(collectionID, cam.Name)
	if err := c.store.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		return fmt.Errorf("store frame: %w", err)
	}

	task := &models.FrameTask{
		FrameID:      uuid.New(),
		CameraName:   cam.Name,
		CollectionID: collectionID,
		CapturedAt:   capturedAt,
		FrameRef:     key,
		Width:        imgCfg.Width,
		Height:       imgCfg.Height,
	}
	if err := c.publisher.PublishFrame(ctx, task); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}
