package vision

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/judge/internal/models"
)

type fakeLocator struct {
	boxes []FaceBox
	err   error
}

func (l fakeLocator) Detect(img image.Image) ([]FaceBox, error) { return l.boxes, l.err }

type fakeEmbedder struct {
	vec   []float32
	calls int
}

func (e *fakeEmbedder) Extract(face image.Image) ([]float32, error) {
	e.calls++
	return append([]float32(nil), e.vec...), nil
}

type fakeAttributes struct {
	attrs *Attributes
	err   error
}

func (a fakeAttributes) Predict(face image.Image) (*Attributes, error) { return a.attrs, a.err }

var testGate = QualityGate{
	DetectionThreshold: 0.5,
	MinFaceSize:        40,
	MinEmbeddingNorm:   8,
	MaxYaw:             45,
	MaxPitch:           30,
}

// frontal landmarks for a face in box (50, 50, 150, 150)
var frontal = [5][2]float32{{80, 90}, {120, 90}, {100, 110}, {85, 130}, {115, 130}}

func testFrame() *models.Frame {
	return &models.Frame{
		ID:           uuid.New(),
		CameraName:   "door",
		CollectionID: "20240501120000",
		CapturedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEstimatePose_Frontal(t *testing.T) {
	pose := EstimatePose(frontal)
	assert.InDelta(t, 0, pose[0], 1e-4)
	assert.InDelta(t, 0, pose[1], 1e-4)
	assert.InDelta(t, 0, pose[2], 1e-4)
}

func TestEstimatePose_Turned(t *testing.T) {
	lm := frontal
	lm[2] = [2]float32{110, 110} // nose shifted a quarter eye distance
	pose := EstimatePose(lm)
	assert.InDelta(t, 22.5, pose[0], 1e-3)

	lm = frontal
	lm[2] = [2]float32{100, 130} // nose level with the mouth: looking down
	pose = EstimatePose(lm)
	assert.InDelta(t, 90, pose[1], 1e-3)

	lm = frontal
	lm[1] = [2]float32{120, 130}
	pose = EstimatePose(lm)
	assert.InDelta(t, 45, pose[2], 1e-3)
}

func TestEstimatePose_DegenerateEyes(t *testing.T) {
	var lm [5][2]float32
	assert.Equal(t, [3]float32{}, EstimatePose(lm))
}

func TestQualityScore(t *testing.T) {
	assert.InDelta(t, 0.94, QualityScore(0.9, 20, [3]float32{}), 1e-5)
	// norm saturates at 20
	assert.InDelta(t, 0.94, QualityScore(0.9, 35, [3]float32{}), 1e-5)
	// 45 degrees of yaw halves the frontal term
	assert.InDelta(t, 0.89, QualityScore(0.9, 20, [3]float32{45, 0, 0}), 1e-5)
	assert.InDelta(t, 1.0, QualityScore(1, 40, [3]float32{}), 1e-6)
	assert.InDelta(t, 0.0, QualityScore(0, 0, [3]float32{90, 90, 0}), 1e-6)
}

func TestQualityGate(t *testing.T) {
	box := models.BBox{0, 0, 50, 50}
	assert.True(t, testGate.AcceptBox(0.9, box, [3]float32{}))
	assert.False(t, testGate.AcceptBox(0.4, box, [3]float32{}), "weak detection")
	assert.False(t, testGate.AcceptBox(0.9, models.BBox{0, 0, 30, 30}, [3]float32{}), "too small")
	assert.False(t, testGate.AcceptBox(0.9, box, [3]float32{-50, 0, 0}), "turned sideways")
	assert.False(t, testGate.AcceptBox(0.9, box, [3]float32{0, 31, 0}), "looking down")
	assert.True(t, testGate.AcceptBox(0.9, box, [3]float32{0, 0, 80}), "roll is ignored")

	assert.True(t, testGate.AcceptNorm(8))
	assert.False(t, testGate.AcceptNorm(7.9))
}

func TestFaceAnalyzer_BuildsGatedComposites(t *testing.T) {
	locator := fakeLocator{boxes: []FaceBox{
		{BBox: models.BBox{50, 50, 150, 150}, Confidence: 0.9, Landmarks: frontal},
		{BBox: models.BBox{0, 0, 10, 10}, Confidence: 0.95, Landmarks: frontal},
	}}
	emb := &fakeEmbedder{vec: []float32{12, 16, 0, 0}}
	attrs := fakeAttributes{attrs: &Attributes{Age: 31, Sex: "M"}}
	a := NewFaceAnalyzer(locator, emb, attrs, testGate)

	frame := testFrame()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	composites, err := a.Detect(context.Background(), img, frame)
	require.NoError(t, err)
	require.Len(t, composites, 1)
	assert.Equal(t, 1, emb.calls, "rejected boxes are never embedded")

	c := composites[0]
	assert.Nil(t, c.Body)
	assert.Nil(t, c.Visitor)
	assert.Equal(t, frame.ID, c.Face.FrameID)
	assert.Equal(t, frame.CapturedAt, c.Face.CapturedAt)
	assert.Equal(t, c.Embedding.ID, c.Face.EmbeddingID)
	assert.InDelta(t, 20, c.Face.EmbeddingNorm, 1e-4)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0, 0}, c.Embedding.Normed, 1e-6)
	assert.Equal(t, []float32{12, 16, 0, 0}, c.Embedding.Embedding)
	assert.InDelta(t, 0.94, c.Face.QualityScore, 1e-4)
	assert.Equal(t, "M", c.Face.Sex)
	require.NotNil(t, c.Face.Age)
	assert.Equal(t, 31, *c.Face.Age)
}

func TestFaceAnalyzer_WeakEmbeddingRejected(t *testing.T) {
	locator := fakeLocator{boxes: []FaceBox{
		{BBox: models.BBox{50, 50, 150, 150}, Confidence: 0.9, Landmarks: frontal},
	}}
	a := NewFaceAnalyzer(locator, &fakeEmbedder{vec: []float32{1, 0, 0, 0}}, nil, testGate)

	composites, err := a.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 200)), testFrame())
	require.NoError(t, err)
	assert.Empty(t, composites)
}

func TestFaceAnalyzer_AttributeFailureKeepsFace(t *testing.T) {
	locator := fakeLocator{boxes: []FaceBox{
		{BBox: models.BBox{50, 50, 150, 150}, Confidence: 0.9, Landmarks: frontal},
	}}
	a := NewFaceAnalyzer(locator, &fakeEmbedder{vec: []float32{12, 16, 0, 0}},
		fakeAttributes{err: errors.New("boom")}, testGate)

	composites, err := a.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 200)), testFrame())
	require.NoError(t, err)
	require.Len(t, composites, 1)
	assert.Nil(t, composites[0].Face.Age)
	assert.Empty(t, composites[0].Face.Sex)
}

func TestFaceAnalyzer_LocatorError(t *testing.T) {
	a := NewFaceAnalyzer(fakeLocator{err: errors.New("ort")}, &fakeEmbedder{}, nil, testGate)
	_, err := a.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)), testFrame())
	assert.EqualError(t, err, "ort")
}

func TestDecodeAttributes(t *testing.T) {
	a := decodeAttributes([]float32{0.2, 0.8, 0.314})
	assert.Equal(t, &Attributes{Age: 31, Sex: "M"}, a)

	a = decodeAttributes([]float32{0.9, 0.1, 0})
	assert.Equal(t, &Attributes{Age: 0, Sex: "F"}, a)
}
