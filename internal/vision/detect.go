package vision

import (
	"fmt"
	"image"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/judge/internal/models"
)

// FaceBox is a raw RetinaFace detection in source image pixels.
type FaceBox struct {
	BBox       models.BBox
	Confidence float32
	Landmarks  [5][2]float32 // left eye, right eye, nose, left mouth corner, right mouth corner
}

// Detector runs RetinaFace face detection using ONNX Runtime.
// A session is not safe for concurrent runs, so Detect is serialized.
type Detector struct {
	mu            sync.Mutex
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

const anchorsPerStride = 2

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g outputs carry no batch dimension; rows per stride are
	// (640/stride)^2 * 2 anchors.
	outputs := []struct {
		name  string
		shape ort.Shape
	}{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], 0, len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	cleanup := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
	}

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputTensors = append(outputTensors, t)
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect finds faces in img and returns them in img's pixel space after
// non-maximum suppression.
func (d *Detector) Detect(img image.Image) ([]FaceBox, error) {
	input := toCHW(img, d.inputW, d.inputH, detMean, detStd)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nmsFaces(d.decode(w, h), 0.4), nil
}

// decode turns the anchor-relative outputs at strides 8, 16 and 32 into boxes.
func (d *Detector) decode(origW, origH int) []FaceBox {
	var boxes []FaceBox

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		st := float32(stride)
		fmW, fmH := d.inputW/stride, d.inputH/stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a, idx = a+1, idx+1 {
					if scores[idx] < d.threshold {
						continue
					}
					ax, ay := float32(cx)*st, float32(cy)*st

					box := models.BBox{
						clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
						clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
						clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
						clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
					}
					var lm [5][2]float32
					for li := 0; li < 5; li++ {
						lm[li][0] = (ax + landmarks[idx*10+li*2]*st) * scaleW
						lm[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * scaleH
					}
					boxes = append(boxes, FaceBox{BBox: box, Confidence: scores[idx], Landmarks: lm})
				}
			}
		}
	}
	return boxes
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

func nmsFaces(boxes []FaceBox, iouThreshold float32) []FaceBox {
	keep := nms(len(boxes),
		func(i int) float32 { return boxes[i].Confidence },
		func(i int) models.BBox { return boxes[i].BBox },
		iouThreshold)
	out := make([]FaceBox, len(keep))
	for i, k := range keep {
		out[i] = boxes[k]
	}
	return out
}

// nms returns the indices of the boxes kept by greedy non-maximum
// suppression, highest score first.
func nms(n int, score func(int) float32, box func(int) models.BBox, iouThreshold float32) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return score(order[a]) > score(order[b]) })

	suppressed := make([]bool, n)
	var keep []int
	for i, oi := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, oi)
		for j := i + 1; j < n; j++ {
			if !suppressed[j] && iou(box(oi), box(order[j])) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}

func iou(a, b models.BBox) float32 {
	inter := a.Intersection(b)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}
