package vision

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/observability"
)

const (
	yoloInput     = 640
	yoloAnchors   = 8400
	yoloAttrs     = 84 // cx, cy, w, h + 80 COCO classes
	personClassID = 0
)

// PersonDetector finds people with a YOLOv8 model exported to ONNX.
type PersonDetector struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float32
}

func NewPersonDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*PersonDetector, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, yoloInput, yoloInput))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, yoloAttrs, yoloAnchors))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create body session: %w", err)
	}

	return &PersonDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
	}, nil
}

func (d *PersonDetector) Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]models.Body, error) {
	start := time.Now()
	input := toCHW(img, yoloInput, yoloInput, yoloMean, yoloStd)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	d.mu.Lock()
	copy(d.inputTensor.GetData(), input)
	err := d.session.Run()
	var boxes []scoredBox
	if err == nil {
		boxes = decodePersons(d.outputTensor.GetData(), d.threshold, w, h)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run body detection: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("body").Observe(time.Since(start).Seconds())

	bodies := make([]models.Body, len(boxes))
	for i, b := range boxes {
		bodies[i] = models.Body{
			ID:         uuid.New(),
			FrameID:    frame.ID,
			BBox:       b.box,
			Confidence: b.score,
			CapturedAt: frame.CapturedAt,
		}
	}
	return bodies, nil
}

type scoredBox struct {
	box   models.BBox
	score float32
}

// decodePersons reads the person rows of a [84, 8400] YOLOv8 output and maps
// the boxes back to an origW x origH image.
func decodePersons(out []float32, threshold float32, origW, origH int) []scoredBox {
	if len(out) < yoloAttrs*yoloAnchors {
		return nil
	}
	sx := float32(origW) / yoloInput
	sy := float32(origH) / yoloInput
	scores := out[(4+personClassID)*yoloAnchors:]

	var boxes []scoredBox
	for i := 0; i < yoloAnchors; i++ {
		score := scores[i]
		if score < threshold {
			continue
		}
		cx, cy := out[i], out[yoloAnchors+i]
		bw, bh := out[2*yoloAnchors+i], out[3*yoloAnchors+i]
		boxes = append(boxes, scoredBox{
			box: models.BBox{
				clampF((cx-bw/2)*sx, 0, float32(origW)),
				clampF((cy-bh/2)*sy, 0, float32(origH)),
				clampF((cx+bw/2)*sx, 0, float32(origW)),
				clampF((cy+bh/2)*sy, 0, float32(origH)),
			},
			score: score,
		})
	}

	keep := nms(len(boxes),
		func(i int) float32 { return boxes[i].score },
		func(i int) models.BBox { return boxes[i].box },
		0.45)
	kept := make([]scoredBox, len(keep))
	for i, k := range keep {
		kept[i] = boxes[k]
	}
	return kept
}

func (d *PersonDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}
