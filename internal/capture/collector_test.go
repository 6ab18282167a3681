package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/models"
)

type fakeGrabber struct {
	frames map[string][]byte
}

func (g fakeGrabber) Grab(ctx context.Context, url string) ([]byte, error) {
	data, ok := g.frames[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return data, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (s *memStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.objects == nil {
		s.objects = map[string][]byte{}
	}
	s.objects[key] = data
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []*models.FrameTask
}

func (p *recordingPublisher) PublishFrame(ctx context.Context, task *models.FrameTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func (p *recordingPublisher) sorted() []*models.FrameTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]*models.FrameTask(nil), p.tasks...)
	sort.Slice(out, func(i, j int) bool { return out[i].CameraName < out[j].CameraName })
	return out
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func newTestCollector(grabber Grabber, store ObjectStore, pub FramePublisher, cams ...config.CameraConfig) *Collector {
	c := NewCollector(config.CaptureConfig{Interval: time.Hour, Cameras: cams}, grabber, store, pub)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 5, 0, time.UTC) }
	return c
}

func TestCollector_CollectsEveryCamera(t *testing.T) {
	grabber := fakeGrabber{frames: map[string][]byte{
		"rtsp://door": testJPEG(t, 64, 48),
		"rtsp://hall": testJPEG(t, 32, 32),
	}}
	store := &memStore{}
	pub := &recordingPublisher{}
	c := newTestCollector(grabber, store, pub,
		config.CameraConfig{Name: "door", URL: "rtsp://door"},
		config.CameraConfig{Name: "hall", URL: "rtsp://hall"},
	)

	id, n := c.Collect(context.Background())
	assert.Equal(t, "20240501123005", id)
	assert.Equal(t, 2, n)

	tasks := pub.sorted()
	require.Len(t, tasks, 2)
	assert.Equal(t, "door", tasks[0].CameraName)
	assert.Equal(t, "collections/20240501123005/door.jpg", tasks[0].FrameRef)
	assert.Equal(t, 64, tasks[0].Width)
	assert.Equal(t, 48, tasks[0].Height)
	assert.Equal(t, "hall", tasks[1].CameraName)
	assert.NotEqual(t, tasks[0].FrameID, tasks[1].FrameID)

	for _, task := range tasks {
		assert.Equal(t, id, task.CollectionID)
		assert.Equal(t, c.now(), task.CapturedAt)
		assert.Contains(t, store.objects, task.FrameRef)
	}
}

func TestCollector_FailingCameraDoesNotBlockOthers(t *testing.T) {
	grabber := fakeGrabber{frames: map[string][]byte{
		"rtsp://door":    testJPEG(t, 16, 16),
		"rtsp://garbage": []byte("not a jpeg"),
	}}
	pub := &recordingPublisher{}
	c := newTestCollector(grabber, &memStore{}, pub,
		config.CameraConfig{Name: "door", URL: "rtsp://door"},
		config.CameraConfig{Name: "offline", URL: "rtsp://offline"},
		config.CameraConfig{Name: "garbage", URL: "rtsp://garbage"},
	)

	_, n := c.Collect(context.Background())
	assert.Equal(t, 1, n)
	require.Len(t, pub.tasks, 1)
	assert.Equal(t, "door", pub.tasks[0].CameraName)
}

func TestCollector_StoreFailureSkipsPublish(t *testing.T) {
	grabber := fakeGrabber{frames: map[string][]byte{"rtsp://door": testJPEG(t, 16, 16)}}
	pub := &recordingPublisher{}
	c := newTestCollector(grabber, &memStore{err: errors.New("bucket gone")}, pub,
		config.CameraConfig{Name: "door", URL: "rtsp://door"},
	)

	_, n := c.Collect(context.Background())
	assert.Zero(t, n)
	assert.Empty(t, pub.tasks)
}

func TestCollector_CancelledContext(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestCollector(fakeGrabber{}, &memStore{}, pub, config.CameraConfig{Name: "door", URL: "rtsp://door"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id, n := c.Collect(ctx)
	assert.Empty(t, id)
	assert.Zero(t, n)

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
