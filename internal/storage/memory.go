package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/tracking"
)

var errTxDone = errors.New("transaction already finished")

// MemoryStore is an in-process implementation of the tracking unit of work.
// One transaction runs at a time. It writes straight into the shared state
// and keeps an undo log that Rollback or a failed Commit replays, so a
// transaction costs only what it touches. Readers outside a transaction may
// observe uncommitted writes.
type MemoryStore struct {
	txMu       sync.Mutex
	mu         sync.Mutex
	state      *memState
	failCommit error
}

type memState struct {
	frames     map[uuid.UUID]models.Frame
	bodies     map[uuid.UUID]models.Body
	embeddings map[uuid.UUID]models.FaceEmbedding
	faces      map[uuid.UUID]models.Face
	visitors   map[uuid.UUID]tracking.VisitorRecord
	sessions   map[uuid.UUID]tracking.Session
	detections []tracking.Detection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		frames:     map[uuid.UUID]models.Frame{},
		bodies:     map[uuid.UUID]models.Body{},
		embeddings: map[uuid.UUID]models.FaceEmbedding{},
		faces:      map[uuid.UUID]models.Face{},
		visitors:   map[uuid.UUID]tracking.VisitorRecord{},
		sessions:   map[uuid.UUID]tracking.Session{},
	}}
}

// FailNextCommit makes the next Commit return err and discard its changes.
func (m *MemoryStore) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

// Begin blocks until the previous transaction has committed or rolled back.
func (m *MemoryStore) Begin(ctx context.Context) (tracking.Tx, error) {
	m.txMu.Lock()
	return &memTx{store: m, state: m.state}, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Visitor(id uuid.UUID) (tracking.VisitorRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.visitors[id]
	return rec, ok
}

func (m *MemoryStore) Visitors() []tracking.VisitorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracking.VisitorRecord, 0, len(m.state.visitors))
	for _, v := range m.state.visitors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) Sessions(visitorID uuid.UUID) []tracking.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracking.Session
	for _, s := range m.state.sessions {
		if s.VisitorID == visitorID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *MemoryStore) Detections() []tracking.Detection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracking.Detection, len(m.state.detections))
	copy(out, m.state.detections)
	return out
}

func (m *MemoryStore) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.frames)
}

func (m *MemoryStore) EmbeddingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.embeddings)
}

func (m *MemoryStore) FaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.faces)
}

type memTx struct {
	store *MemoryStore
	state *memState
	undo  []func()
	done  bool
}

// put sets key in table and logs how to take it back.
func put[V any](t *memTx, table map[uuid.UUID]V, key uuid.UUID, v V) {
	old, had := table[key]
	table[key] = v
	t.undo = append(t.undo, func() {
		if had {
			table[key] = old
		} else {
			delete(table, key)
		}
	})
}

func remove[V any](t *memTx, table map[uuid.UUID]V, key uuid.UUID) {
	old, had := table[key]
	if !had {
		return
	}
	delete(table, key)
	t.undo = append(t.undo, func() { table[key] = old })
}

// lock guards the shared state against readers outside the transaction.
func (t *memTx) lock() func() {
	t.store.mu.Lock()
	return t.store.mu.Unlock
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	defer t.store.txMu.Unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.failCommit; err != nil {
		t.store.failCommit = nil
		t.revert()
		return err
	}
	t.undo = nil
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.txMu.Unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.revert()
	return nil
}

func (t *memTx) revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) AddFrame(ctx context.Context, frame *models.Frame) error {
	defer t.lock()()
	put(t, t.state.frames, frame.ID, *frame)
	return nil
}

func (t *memTx) AddBodies(ctx context.Context, bodies []models.Body) error {
	defer t.lock()()
	for _, b := range bodies {
		put(t, t.state.bodies, b.ID, b)
	}
	return nil
}

func (t *memTx) AddFaceEmbedding(ctx context.Context, emb *models.FaceEmbedding) error {
	defer t.lock()()
	put(t, t.state.embeddings, emb.ID, *emb)
	return nil
}

func (t *memTx) AddFace(ctx context.Context, face *models.Face) error {
	defer t.lock()()
	put(t, t.state.faces, face.ID, *face)
	return nil
}

func (t *memTx) AddDetection(ctx context.Context, d *tracking.Detection) error {
	defer t.lock()()
	n := len(t.state.detections)
	t.state.detections = append(t.state.detections, *d)
	t.undo = append(t.undo, func() { t.state.detections = t.state.detections[:n] })
	return nil
}

func (t *memTx) SaveVisitor(ctx context.Context, v *tracking.Visitor) error {
	defer t.lock()()
	put(t, t.state.visitors, v.ID, v.Record())
	return nil
}

func (t *memTx) SaveSession(ctx context.Context, s *tracking.Session) error {
	defer t.lock()()
	put(t, t.state.sessions, s.ID, *s)
	return nil
}

func (t *memTx) GetVisitor(ctx context.Context, id uuid.UUID) (*tracking.Visitor, error) {
	defer t.lock()()
	rec, ok := t.state.visitors[id]
	if !ok {
		return nil, nil
	}
	return tracking.RestoreVisitor(rec, t.activeSession(rec)), nil
}

func (t *memTx) activeSession(rec tracking.VisitorRecord) *tracking.Session {
	if rec.CurrentSessionID == nil {
		return nil
	}
	s, ok := t.state.sessions[*rec.CurrentSessionID]
	if !ok || !s.Active() {
		return nil
	}
	return &s
}

func (t *memTx) ListTrackedVisitors(ctx context.Context) ([]*tracking.Visitor, error) {
	defer t.lock()()
	var out []*tracking.Visitor
	for _, rec := range t.state.visitors {
		switch rec.State {
		case tracking.StateTemporary, tracking.StateActive, tracking.StateReturning:
			out = append(out, tracking.RestoreVisitor(rec, t.activeSession(rec)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) RecentEmbeddings(ctx context.Context, limit int) ([]tracking.GalleryEntry, error) {
	defer t.lock()()
	return t.gallery(0, limit), nil
}

func (t *memTx) OlderEmbeddings(ctx context.Context, offset, limit int) ([]tracking.GalleryEntry, error) {
	defer t.lock()()
	return t.gallery(offset, limit), nil
}

// gallery orders detections newest first; among equal timestamps the later
// insert comes first.
func (t *memTx) gallery(offset, limit int) []tracking.GalleryEntry {
	idx := make([]int, 0, len(t.state.detections))
	for i, d := range t.state.detections {
		if e, ok := t.state.embeddings[d.EmbeddingID]; ok && len(e.Normed) > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := t.state.detections[idx[a]], t.state.detections[idx[b]]
		if da.CapturedAt.Equal(db.CapturedAt) {
			return idx[a] > idx[b]
		}
		return da.CapturedAt.After(db.CapturedAt)
	})

	if offset >= len(idx) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(idx))

	out := make([]tracking.GalleryEntry, 0, end-offset)
	for _, i := range idx[offset:end] {
		d := t.state.detections[i]
		out = append(out, tracking.GalleryEntry{
			EmbeddingID: d.EmbeddingID,
			VisitorID:   d.VisitorID,
			Normed:      t.state.embeddings[d.EmbeddingID].Normed,
			CapturedAt:  d.CapturedAt,
		})
	}
	return out
}

func (t *memTx) DeleteDetectionsByVisitor(ctx context.Context, visitorID uuid.UUID) ([]uuid.UUID, error) {
	defer t.lock()()
	var ids []uuid.UUID
	prev := t.state.detections
	kept := make([]tracking.Detection, 0, len(prev))
	for _, d := range prev {
		if d.VisitorID == visitorID {
			ids = append(ids, d.EmbeddingID)
			continue
		}
		kept = append(kept, d)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	t.state.detections = kept
	t.undo = append(t.undo, func() { t.state.detections = prev })
	return ids, nil
}

func (t *memTx) DeleteEmbeddings(ctx context.Context, ids []uuid.UUID) error {
	defer t.lock()()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		remove(t, t.state.embeddings, id)
	}
	for id, f := range t.state.faces {
		if drop[f.EmbeddingID] {
			remove(t, t.state.faces, id)
		}
	}
	return nil
}

func (t *memTx) DeleteSessionsByVisitor(ctx context.Context, visitorID uuid.UUID) error {
	defer t.lock()()
	for id, s := range t.state.sessions {
		if s.VisitorID == visitorID {
			remove(t, t.state.sessions, id)
		}
	}
	return nil
}

func (t *memTx) DeleteVisitor(ctx context.Context, id uuid.UUID) error {
	defer t.lock()()
	remove(t, t.state.visitors, id)
	return nil
}

// ListVisitors mirrors PostgresStore.ListVisitors.
func (m *MemoryStore) ListVisitors(ctx context.Context, state *tracking.VisitorState, limit, offset int) ([]tracking.VisitorRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []tracking.VisitorRecord
	for _, v := range m.state.visitors {
		if state == nil || v.State == *state {
			all = append(all, v)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *MemoryStore) GetVisitorRecord(ctx context.Context, id uuid.UUID) (*tracking.VisitorRecord, error) {
	rec, ok := m.Visitor(id)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, visitorID uuid.UUID) ([]tracking.Session, error) {
	sessions := m.Sessions(visitorID)
	for i, j := 0, len(sessions)-1; i < j; i, j = i+1, j-1 {
		sessions[i], sessions[j] = sessions[j], sessions[i]
	}
	return sessions, nil
}

func (m *MemoryStore) ListDetections(ctx context.Context, visitorID uuid.UUID, limit, offset int) ([]tracking.Detection, error) {
	var out []tracking.Detection
	for _, d := range m.Detections() {
		if d.VisitorID == visitorID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *MemoryStore) GetFrame(ctx context.Context, id uuid.UUID) (*models.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.state.frames[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
