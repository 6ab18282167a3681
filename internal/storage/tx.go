package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

// pgTx implements tracking.Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is a no-op after Commit.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *pgTx) AddFrame(ctx context.Context, f *models.Frame) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO frames (id, camera_name, collection_id, captured_at, frame_ref)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		f.ID, f.CameraName, f.CollectionID, f.CapturedAt, f.FrameRef)
	return err
}

func (t *pgTx) AddBodies(ctx context.Context, bodies []models.Body) error {
	batch := &pgx.Batch{}
	for _, b := range bodies {
		batch.Queue(
			`INSERT INTO bodies (id, frame_id, bbox, confidence, captured_at) VALUES ($1, $2, $3, $4, $5)`,
			b.ID, b.FrameID, b.BBox[:], b.Confidence, b.CapturedAt)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) AddFaceEmbedding(ctx context.Context, emb *models.FaceEmbedding) error {
	var normed *pgvector.Vector
	if len(emb.Normed) > 0 {
		v := pgvector.NewVector(emb.Normed)
		normed = &v
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO face_embeddings (id, embedding, normed, created_at) VALUES ($1, $2, $3, $4)`,
		emb.ID, pgvector.NewVector(emb.Embedding), normed, emb.CreatedAt)
	return err
}

func (t *pgTx) AddFace(ctx context.Context, f *models.Face) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO faces (id, frame_id, embedding_id, bbox, embedding_norm, det_score, quality_score, pose, age, sex, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.ID, f.FrameID, f.EmbeddingID, f.BBox[:], f.EmbeddingNorm, f.DetScore, f.QualityScore,
		f.Pose[:], f.Age, f.Sex, f.CapturedAt)
	return err
}

func (t *pgTx) AddDetection(ctx context.Context, d *tracking.Detection) error {
	snapshot, err := json.Marshal(d.Visitor)
	if err != nil {
		return fmt.Errorf("encode visitor snapshot: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO detections (id, frame_id, face_id, embedding_id, body_id, visitor_id, visitor, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.FrameID, d.FaceID, d.EmbeddingID, d.BodyID, d.VisitorID, snapshot, d.CapturedAt)
	return err
}

func (t *pgTx) SaveVisitor(ctx context.Context, v *tracking.Visitor) error {
	rec := v.Record()
	_, err := t.tx.Exec(ctx,
		`INSERT INTO visitors (`+visitorColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			seen_count = EXCLUDED.seen_count,
			frame_count = EXCLUDED.frame_count,
			current_session_id = EXCLUDED.current_session_id,
			last_seen = EXCLUDED.last_seen`,
		rec.ID, rec.Name, rec.State.String(), rec.SeenCount, rec.FrameCount,
		rec.CurrentSessionID, rec.LastSeen, rec.CreatedAt)
	return err
}

func (t *pgTx) SaveSession(ctx context.Context, s *tracking.Session) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO visitor_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			captured_at = EXCLUDED.captured_at,
			frame_count = EXCLUDED.frame_count,
			ended_at = EXCLUDED.ended_at`,
		s.ID, s.VisitorID, s.StartFrameID, s.StartedAt, s.CapturedAt, s.FrameCount, s.EndedAt)
	return err
}

func (t *pgTx) GetVisitor(ctx context.Context, id uuid.UUID) (*tracking.Visitor, error) {
	rec, err := scanVisitorRecord(t.tx.QueryRow(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	active, err := t.activeSession(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return tracking.RestoreVisitor(rec, active), nil
}

func (t *pgTx) activeSession(ctx context.Context, visitorID uuid.UUID) (*tracking.Session, error) {
	sess, err := scanSession(t.tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM visitor_sessions WHERE visitor_id = $1 AND ended_at IS NULL`, visitorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return &sess, nil
}

func (t *pgTx) ListTrackedVisitors(ctx context.Context) ([]*tracking.Visitor, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE state = ANY($1) ORDER BY created_at`,
		[]string{
			tracking.StateTemporary.String(),
			tracking.StateActive.String(),
			tracking.StateReturning.String(),
		})
	if err != nil {
		return nil, err
	}
	var recs []tracking.VisitorRecord
	for rows.Next() {
		rec, err := scanVisitorRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*tracking.Visitor, 0, len(recs))
	for _, rec := range recs {
		active, err := t.activeSession(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, tracking.RestoreVisitor(rec, active))
	}
	return out, nil
}

const galleryQuery = `
	SELECT d.embedding_id, d.visitor_id, e.normed, d.captured_at
	FROM detections d
	JOIN face_embeddings e ON e.id = d.embedding_id
	WHERE e.normed IS NOT NULL
	ORDER BY d.captured_at DESC
	LIMIT $1 OFFSET $2`

func (t *pgTx) RecentEmbeddings(ctx context.Context, limit int) ([]tracking.GalleryEntry, error) {
	return t.gallery(ctx, 0, limit)
}

func (t *pgTx) OlderEmbeddings(ctx context.Context, offset, limit int) ([]tracking.GalleryEntry, error) {
	return t.gallery(ctx, offset, limit)
}

func (t *pgTx) gallery(ctx context.Context, offset, limit int) ([]tracking.GalleryEntry, error) {
	rows, err := t.tx.Query(ctx, galleryQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var out []tracking.GalleryEntry
	for rows.Next() {
		var e tracking.GalleryEntry
		var vec pgvector.Vector
		if err := rows.Scan(&e.EmbeddingID, &e.VisitorID, &vec, &e.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		e.Normed = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteDetectionsByVisitor(ctx context.Context, visitorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx,
		`DELETE FROM detections WHERE visitor_id = $1 RETURNING embedding_id`, visitorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEmbeddings also removes the faces that reference them.
func (t *pgTx) DeleteEmbeddings(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM face_embeddings WHERE id = ANY($1)`, ids)
	return err
}

func (t *pgTx) DeleteSessionsByVisitor(ctx context.Context, visitorID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM visitor_sessions WHERE visitor_id = $1`, visitorID)
	return err
}

func (t *pgTx) DeleteVisitor(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM visitors WHERE id = $1`, id)
	return err
}
