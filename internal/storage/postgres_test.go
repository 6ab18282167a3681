//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/matching"
	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "judge",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "judge",
		User:     "test",
		Password: "test",
		MaxConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	// A second run finds nothing pending.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestPostgres_TrackingRoundTrip(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	svc := tracking.NewService(
		store,
		noopBus{},
		matching.NewBodyMatcher(matching.DefaultBodyThreshold),
		matching.NewRecognizer(matching.DefaultRecognizerConfig()),
		tracking.DefaultPolicy(),
		tracking.WithClock(func() time.Time { return now }),
	)

	handle := func(collection string, normed []float32) *tracking.FrameResult {
		frame := &models.Frame{ID: uuid.New(), CameraName: "cam1", CollectionID: collection, CapturedAt: now, FrameRef: "k"}
		emb := models.FaceEmbedding{ID: uuid.New(), Embedding: normed, Normed: normed, CreatedAt: now}
		c := &tracking.Composite{
			Face: models.Face{
				ID: uuid.New(), FrameID: frame.ID, BBox: models.BBox{10, 10, 60, 60},
				EmbeddingID: emb.ID, QualityScore: 0.9, CapturedAt: now,
			},
			Embedding: emb,
		}
		body := models.Body{ID: uuid.New(), FrameID: frame.ID, BBox: models.BBox{0, 0, 120, 300}, Confidence: 0.8, CapturedAt: now}
		res, err := svc.HandleFrame(ctx, frame, []*tracking.Composite{c}, []models.Body{body})
		require.NoError(t, err)
		return res
	}

	first := handle("c1", unitVector(512, 0))
	id := first.Detections[0].VisitorID
	require.NotNil(t, first.Detections[0].BodyID)

	for i, col := range []string{"c2", "c3"} {
		now = now.Add(time.Duration(i+1) * 10 * time.Second)
		res := handle(col, unitVector(512, 0))
		assert.Equal(t, id, res.Detections[0].VisitorID)
	}

	rec, err := store.GetVisitorRecord(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, tracking.StateActive, rec.State)
	assert.Equal(t, 3, rec.SeenCount)

	dets, err := store.ListDetections(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.Equal(t, tracking.StateActive, dets[0].Visitor.State)

	frame, err := store.GetFrame(ctx, dets[0].FrameID)
	require.NoError(t, err)
	require.NotNil(t, frame)
	assert.Equal(t, "cam1", frame.CameraName)

	// Missing then back: the partial unique index must accept the new session.
	now = now.Add(2 * time.Minute)
	res := svc.HandleTimeouts(ctx)
	assert.Equal(t, 1, res.Changed)
	now = now.Add(5 * time.Second)
	handle("c4", unitVector(512, 0))

	sessions, err := store.ListSessions(ctx, id)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].Active())
	assert.False(t, sessions[1].Active())

	rec, err = store.GetVisitorRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tracking.StateReturning, rec.State)
}

func TestPostgres_ExpiryCascade(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	svc := tracking.NewService(store, noopBus{},
		matching.NewBodyMatcher(0), matching.NewRecognizer(matching.DefaultRecognizerConfig()),
		tracking.DefaultPolicy(), tracking.WithClock(func() time.Time { return now }))

	frame := &models.Frame{ID: uuid.New(), CameraName: "cam1", CollectionID: "c1", CapturedAt: now}
	normed := unitVector(512, 3)
	emb := models.FaceEmbedding{ID: uuid.New(), Embedding: normed, Normed: normed, CreatedAt: now}
	c := &tracking.Composite{
		Face:      models.Face{ID: uuid.New(), FrameID: frame.ID, EmbeddingID: emb.ID, QualityScore: 0.9, CapturedAt: now},
		Embedding: emb,
	}
	res, err := svc.HandleFrame(ctx, frame, []*tracking.Composite{c}, nil)
	require.NoError(t, err)
	id := res.Created[0]

	now = now.Add(3 * time.Minute)
	sweep := svc.HandleTimeouts(ctx)
	assert.Equal(t, 1, sweep.Expired)

	rec, err := store.GetVisitorRecord(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	gallery, err := tx.RecentEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, gallery)

	state := tracking.StateTemporary
	list, total, err := store.ListVisitors(ctx, &state, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
}

type noopBus struct{}

func (noopBus) Publish(context.Context, tracking.Event) {}
