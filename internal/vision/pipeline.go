package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/observability"
	"github.com/your-org/judge/internal/tracking"
)

// Pipeline analyzes one frame task: load → decode → detect faces and
// bodies in parallel → hand the result to tracking.
type Pipeline struct {
	source  FrameSource
	faces   FaceDetector
	bodies  BodyDetector
	tracker FrameHandler
}

func NewPipeline(source FrameSource, faces FaceDetector, bodies BodyDetector, tracker FrameHandler) *Pipeline {
	return &Pipeline{source: source, faces: faces, bodies: bodies, tracker: tracker}
}

// HandleTask decodes a queued FrameTask and processes it. Malformed
// payloads are logged and dropped so they are not redelivered.
func (p *Pipeline) HandleTask(ctx context.Context, data []byte) error {
	var task models.FrameTask
	if err := json.Unmarshal(data, &task); err != nil {
		slog.Error("unmarshal frame task", "error", err)
		return nil
	}
	if err := p.ProcessFrame(ctx, task); err != nil {
		return fmt.Errorf("process frame %s: %w", task.FrameID, err)
	}
	return nil
}

func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	data, err := p.source.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame: %w", err)
	}

	start := time.Now()
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// a corrupt image will not get better on retry
		slog.Warn("decode frame", "frame", task.FrameID, "ref", task.FrameRef, "error", err)
		return nil
	}
	observability.InferenceDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())

	frame := task.Frame()

	var (
		composites []*tracking.Composite
		bodies     []models.Body
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		composites, err = p.faces.Detect(gctx, img, frame)
		if err != nil {
			return fmt.Errorf("detect faces: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bodies, err = p.bodies.Detect(gctx, img, frame)
		if err != nil {
			return fmt.Errorf("detect bodies: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	observability.FacesDetected.WithLabelValues(frame.CameraName).Add(float64(len(composites)))
	observability.BodiesDetected.WithLabelValues(frame.CameraName).Add(float64(len(bodies)))

	result, err := p.tracker.HandleFrame(ctx, frame, composites, bodies)
	if err != nil {
		return err
	}
	observability.FramesProcessed.WithLabelValues(frame.CameraName).Inc()

	slog.Debug("frame processed",
		"frame", frame.ID,
		"camera", frame.CameraName,
		"collection", frame.CollectionID,
		"format", format,
		"faces", len(composites),
		"bodies", len(bodies),
		"detections", len(result.Detections),
		"created", len(result.Created),
	)
	return nil
}

// Models holds the loaded ONNX sessions.
type Models struct {
	Faces  *FaceAnalyzer
	Bodies *PersonDetector

	closers []func()
}

// LoadModels opens every model under cfg.ModelsDir. The ONNX Runtime
// environment must already be initialized.
func LoadModels(cfg config.VisionConfig) (*Models, error) {
	m := &Models{}
	fail := func(err error) (*Models, error) {
		m.Close()
		return nil, err
	}

	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return fail(fmt.Errorf("load detector: %w", err))
	}
	m.closers = append(m.closers, det.Close)

	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")
	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		return fail(fmt.Errorf("load embedder: %w", err))
	}
	m.closers = append(m.closers, emb.Close)

	attrPath := filepath.Join(cfg.ModelsDir, "genderage.onnx")
	slog.Info("loading attribute model", "path", attrPath)
	attr, err := NewAttributePredictor(attrPath, nil)
	if err != nil {
		return fail(fmt.Errorf("load attributes: %w", err))
	}
	m.closers = append(m.closers, attr.Close)

	bodyPath := filepath.Join(cfg.ModelsDir, "yolov8n.onnx")
	slog.Info("loading body model", "path", bodyPath)
	body, err := NewPersonDetector(bodyPath, float32(cfg.BodyThreshold), nil)
	if err != nil {
		return fail(fmt.Errorf("load body detector: %w", err))
	}
	m.closers = append(m.closers, body.Close)

	m.Faces = NewFaceAnalyzer(det, emb, attr, NewQualityGate(cfg))
	m.Bodies = body
	slog.Info("vision models ready")
	return m, nil
}

// Close releases all ONNX sessions.
func (m *Models) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		m.closers[i]()
	}
	m.closers = nil
}
