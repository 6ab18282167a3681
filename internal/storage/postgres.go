package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

// PostgresStore persists the tracking model in PostgreSQL with pgvector
// columns for embeddings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (tracking.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// --- Visitors ---

const visitorColumns = `id, name, state, seen_count, frame_count, current_session_id, last_seen, created_at`

func scanVisitorRecord(row pgx.Row) (tracking.VisitorRecord, error) {
	var rec tracking.VisitorRecord
	var state string
	err := row.Scan(&rec.ID, &rec.Name, &state, &rec.SeenCount, &rec.FrameCount,
		&rec.CurrentSessionID, &rec.LastSeen, &rec.CreatedAt)
	if err != nil {
		return rec, err
	}
	rec.State, err = tracking.ParseState(state)
	return rec, err
}

const sessionColumns = `id, visitor_id, start_frame_id, started_at, captured_at, frame_count, ended_at`

func scanSession(row pgx.Row) (tracking.Session, error) {
	var sess tracking.Session
	err := row.Scan(&sess.ID, &sess.VisitorID, &sess.StartFrameID, &sess.StartedAt,
		&sess.CapturedAt, &sess.FrameCount, &sess.EndedAt)
	return sess, err
}

// ListVisitors returns one page of visitors, newest first, and the total
// number of visitors matching the optional state filter.
func (s *PostgresStore) ListVisitors(ctx context.Context, state *tracking.VisitorState, limit, offset int) ([]tracking.VisitorRecord, int, error) {
	where := ""
	args := []any{}
	if state != nil {
		where = "WHERE state = $1"
		args = append(args, state.String())
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM visitors "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count visitors: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM visitors %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		visitorColumns, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list visitors: %w", err)
	}
	defer rows.Close()

	var out []tracking.VisitorRecord
	for rows.Next() {
		rec, err := scanVisitorRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan visitor: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetVisitorRecord(ctx context.Context, id uuid.UUID) (*tracking.VisitorRecord, error) {
	rec, err := scanVisitorRecord(s.pool.QueryRow(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get visitor: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, visitorID uuid.UUID) ([]tracking.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM visitor_sessions WHERE visitor_id = $1 ORDER BY started_at DESC`, visitorID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []tracking.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListDetections(ctx context.Context, visitorID uuid.UUID, limit, offset int) ([]tracking.Detection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, frame_id, face_id, embedding_id, body_id, visitor_id, visitor, captured_at
		 FROM detections WHERE visitor_id = $1 ORDER BY captured_at DESC LIMIT $2 OFFSET $3`,
		visitorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []tracking.Detection
	for rows.Next() {
		var d tracking.Detection
		var snapshot []byte
		if err := rows.Scan(&d.ID, &d.FrameID, &d.FaceID, &d.EmbeddingID, &d.BodyID,
			&d.VisitorID, &snapshot, &d.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if err := json.Unmarshal(snapshot, &d.Visitor); err != nil {
			return nil, fmt.Errorf("decode visitor snapshot of %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetFrame(ctx context.Context, id uuid.UUID) (*models.Frame, error) {
	f := &models.Frame{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, camera_name, collection_id, captured_at, frame_ref FROM frames WHERE id = $1`, id,
	).Scan(&f.ID, &f.CameraName, &f.CollectionID, &f.CapturedAt, &f.FrameRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get frame: %w", err)
	}
	return f, nil
}
