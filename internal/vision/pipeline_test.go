package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

type fakeSource struct {
	objects map[string][]byte
}

func (s fakeSource) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

type fakeFaces struct {
	composites []*tracking.Composite
	err        error
}

func (f fakeFaces) Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]*tracking.Composite, error) {
	return f.composites, f.err
}

type fakeBodies struct {
	bodies []models.Body
	err    error
	size   image.Point
}

func (f *fakeBodies) Detect(ctx context.Context, img image.Image, frame *models.Frame) ([]models.Body, error) {
	f.size = img.Bounds().Size()
	return f.bodies, f.err
}

type handledFrame struct {
	frame      *models.Frame
	composites []*tracking.Composite
	bodies     []models.Body
}

type fakeTracker struct {
	mu     sync.Mutex
	frames []handledFrame
	err    error
}

func (t *fakeTracker) HandleFrame(ctx context.Context, frame *models.Frame, composites []*tracking.Composite, bodies []models.Body) (*tracking.FrameResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	t.frames = append(t.frames, handledFrame{frame, composites, bodies})
	return &tracking.FrameResult{}, nil
}

func encodedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func testTask() models.FrameTask {
	return models.FrameTask{
		FrameID:      uuid.New(),
		CameraName:   "door",
		CollectionID: "20240501120000",
		CapturedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		FrameRef:     "collections/20240501120000/door.jpg",
	}
}

func TestPipeline_ProcessFrame(t *testing.T) {
	task := testTask()
	source := fakeSource{objects: map[string][]byte{task.FrameRef: encodedJPEG(t, 64, 48)}}
	composite := &tracking.Composite{Face: models.Face{ID: uuid.New()}}
	body := models.Body{ID: uuid.New()}
	bodies := &fakeBodies{bodies: []models.Body{body}}
	tracker := &fakeTracker{}

	p := NewPipeline(source, fakeFaces{composites: []*tracking.Composite{composite}}, bodies, tracker)
	require.NoError(t, p.ProcessFrame(context.Background(), task))

	require.Len(t, tracker.frames, 1)
	got := tracker.frames[0]
	assert.Equal(t, task.FrameID, got.frame.ID)
	assert.Equal(t, task.CollectionID, got.frame.CollectionID)
	assert.Equal(t, "door", got.frame.CameraName)
	assert.Equal(t, []*tracking.Composite{composite}, got.composites)
	assert.Equal(t, []models.Body{body}, got.bodies)
	assert.Equal(t, image.Pt(64, 48), bodies.size)
}

func TestPipeline_HandleTask(t *testing.T) {
	task := testTask()
	source := fakeSource{objects: map[string][]byte{task.FrameRef: encodedJPEG(t, 32, 32)}}
	tracker := &fakeTracker{}
	p := NewPipeline(source, fakeFaces{}, &fakeBodies{}, tracker)

	payload, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, p.HandleTask(context.Background(), payload))
	require.Len(t, tracker.frames, 1)

	// malformed payloads are dropped, not retried
	require.NoError(t, p.HandleTask(context.Background(), []byte("{not json")))
	assert.Len(t, tracker.frames, 1)
}

func TestPipeline_CorruptImageDropped(t *testing.T) {
	task := testTask()
	source := fakeSource{objects: map[string][]byte{task.FrameRef: []byte("not an image")}}
	tracker := &fakeTracker{}
	p := NewPipeline(source, fakeFaces{}, &fakeBodies{}, tracker)

	require.NoError(t, p.ProcessFrame(context.Background(), task))
	assert.Empty(t, tracker.frames)
}

func TestPipeline_Errors(t *testing.T) {
	task := testTask()
	img := encodedJPEG(t, 16, 16)

	t.Run("missing object", func(t *testing.T) {
		tracker := &fakeTracker{}
		p := NewPipeline(fakeSource{}, fakeFaces{}, &fakeBodies{}, tracker)
		err := p.ProcessFrame(context.Background(), task)
		assert.ErrorContains(t, err, "load frame")
		assert.Empty(t, tracker.frames)
	})

	t.Run("detector failure", func(t *testing.T) {
		tracker := &fakeTracker{}
		source := fakeSource{objects: map[string][]byte{task.FrameRef: img}}
		p := NewPipeline(source, fakeFaces{}, &fakeBodies{err: errors.New("ort")}, tracker)
		err := p.ProcessFrame(context.Background(), task)
		assert.ErrorContains(t, err, "detect bodies: ort")
		assert.Empty(t, tracker.frames)
	})

	t.Run("tracking failure", func(t *testing.T) {
		tracker := &fakeTracker{err: errors.New("rolled back")}
		source := fakeSource{objects: map[string][]byte{task.FrameRef: img}}
		p := NewPipeline(source, fakeFaces{}, &fakeBodies{}, tracker)

		payload, err := json.Marshal(task)
		require.NoError(t, err)
		err = p.HandleTask(context.Background(), payload)
		assert.ErrorContains(t, err, "rolled back")
		assert.ErrorContains(t, err, task.FrameID.String())
	})
}
