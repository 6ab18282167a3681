package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/pkg/namesgenerator"
	"github.com/google/uuid"

	"github.com/your-org/judge/internal/models"
	"github.com/your-org/judge/internal/observability"
)

// FrameResult summarizes what HandleFrame did with one frame.
type FrameResult struct {
	Detections []Detection
	Created    []uuid.UUID
	Events     []Event
}

// SweepResult summarizes one HandleTimeouts run.
type SweepResult struct {
	Changed int
	Expired int
	Failed  int
}

// Service resolves visitor identities for incoming frames and advances
// visitor state over time. HandleFrame, HandleTimeouts and Restore are
// serialized by a single lock over the registry and collection buffer.
type Service struct {
	mu         sync.Mutex
	uow        UnitOfWork
	bus        MessageBus
	matcher    FaceBodyMatcher
	recognizer FaceRecognizer
	policy     Policy
	registry   *Registry
	buffer     *CollectionBuffer
	now        func() time.Time
	names      func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNameGenerator(names func() string) Option {
	return func(s *Service) { s.names = names }
}

func NewService(uow UnitOfWork, bus MessageBus, matcher FaceBodyMatcher, recognizer FaceRecognizer, policy Policy, opts ...Option) *Service {
	s := &Service{
		uow:        uow,
		bus:        bus,
		matcher:    matcher,
		recognizer: recognizer,
		policy:     policy,
		registry:   NewRegistry(),
		buffer:     &CollectionBuffer{},
		now:        time.Now,
		names:      func() string { return namesgenerator.GetRandomName(0) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Tracked returns the number of visitors under timeout supervision.
func (s *Service) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Len()
}

// TrackedVisitor returns the registry copy of a visitor's record.
func (s *Service) TrackedVisitor(id uuid.UUID) (VisitorRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.registry.Get(id)
	if v == nil {
		return VisitorRecord{}, false
	}
	return v.Record(), true
}

// Restore loads visitors that still need timeout supervision.
func (s *Service) Restore(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	visitors, err := tx.ListTrackedVisitors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tracked visitors: %w", err)
	}
	for _, v := range visitors {
		s.registry.Track(v)
	}
	return len(visitors), nil
}

// HandleFrame resolves the visitors for the composites detected in frame,
// persists everything in one transaction and then publishes the resulting
// events. On failure no state, in memory or stored, is changed.
func (s *Service) HandleFrame(ctx context.Context, frame *models.Frame, composites []*Composite, bodies []models.Body) (*FrameResult, error) {
	start := time.Now()
	defer func() {
		observability.FrameHandleDuration.Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	composites = s.matcher.Match(composites, bodies)

	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin frame tx: %w", err)
	}

	ch := newChange(s, tx, now)
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
			ch.undo()
			observability.FrameFailures.Inc()
		}
	}()

	if err := s.recognizer.RecognizeFaces(ctx, tx, composites, ch.resolve); err != nil {
		return nil, fmt.Errorf("recognize faces: %w", err)
	}

	collection := ch.collection(frame.CollectionID)
	result := &FrameResult{}

	for _, c := range composites {
		if c.Visitor == nil {
			if v := s.recognizer.MatchAgainstCollection(c, collection.Composites()); v != nil && v.State != StateExpired {
				c.Visitor = v
				observability.FacesRecognized.WithLabelValues("collection").Inc()
			} else {
				c.Visitor = NewVisitor(s.names(), now)
				ch.created = append(ch.created, c.Visitor)
				result.Created = append(result.Created, c.Visitor.ID)
			}
		} else {
			observability.FacesRecognized.WithLabelValues("gallery").Inc()
		}

		v := c.Visitor
		ch.touch(v)
		isNew := collection.Add(c)
		ch.events = append(ch.events, v.MarkSighting(frame, isNew)...)
		ch.events = append(ch.events, v.UpdateState(now, s.policy)...)
		ch.touchSession(v.CurrentSession)

		if v.State == StateExpired {
			ch.expire(v)
			continue
		}
		result.Detections = append(result.Detections, v.CreateDetection(frame, c))
	}

	if err := ch.persist(ctx, frame, bodies, composites, result.Detections); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit frame %s: %w", frame.ID, err)
	}
	committed = true

	for _, v := range ch.touched {
		s.registry.sync(v)
	}
	observability.VisitorsCreated.Add(float64(len(ch.created)))

	result.Events = append(ch.events, FrameProcessed{FrameID: frame.ID, DetectionCount: len(result.Detections)})
	s.publish(ctx, result.Events)

	return result, nil
}

// HandleTimeouts re-evaluates every tracked visitor against the clock. Each
// visitor is persisted in its own transaction so one failure does not block
// the rest of the sweep.
func (s *Service) HandleTimeouts(ctx context.Context) SweepResult {
	start := time.Now()
	defer func() {
		observability.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var res SweepResult

	for _, v := range s.registry.All() {
		snap := v.snapshot()
		prevSession := v.CurrentSession
		events := v.UpdateState(now, s.policy)
		if len(events) == 0 && v.State == snap.visitor.State {
			continue
		}

		if err := s.persistTimeout(ctx, v, prevSession); err != nil {
			v.restore(snap)
			res.Failed++
			observability.SweepFailures.Inc()
			slog.Error("persist visitor timeout", "visitor", v.ID, "error", err)
			continue
		}

		res.Changed++
		if v.State == StateExpired {
			res.Expired++
		}
		s.registry.sync(v)
		s.publish(ctx, events)
	}
	return res
}

func (s *Service) persistTimeout(ctx context.Context, v *Visitor, session *Session) error {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sweep tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if v.State == StateExpired {
		if err := deleteVisitor(ctx, tx, v.ID); err != nil {
			return err
		}
	} else {
		if err := tx.SaveVisitor(ctx, v); err != nil {
			return fmt.Errorf("save visitor %s: %w", v.ID, err)
		}
		if session != nil {
			if err := tx.SaveSession(ctx, session); err != nil {
				return fmt.Errorf("save session %s: %w", session.ID, err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Service) publish(ctx context.Context, events []Event) {
	for _, e := range events {
		observability.VisitorEvents.WithLabelValues(e.EventName()).Inc()
		s.bus.Publish(ctx, e)
	}
}

// deleteVisitor removes a visitor together with everything attributed to it.
func deleteVisitor(ctx context.Context, tx Repository, id uuid.UUID) error {
	embeddingIDs, err := tx.DeleteDetectionsByVisitor(ctx, id)
	if err != nil {
		return fmt.Errorf("delete detections of %s: %w", id, err)
	}
	if err := tx.DeleteEmbeddings(ctx, embeddingIDs); err != nil {
		return fmt.Errorf("delete embeddings of %s: %w", id, err)
	}
	if err := tx.DeleteSessionsByVisitor(ctx, id); err != nil {
		return fmt.Errorf("delete sessions of %s: %w", id, err)
	}
	if err := tx.DeleteVisitor(ctx, id); err != nil {
		return fmt.Errorf("delete visitor %s: %w", id, err)
	}
	return nil
}

// change collects everything one frame touches so it can be persisted as a
// unit or undone in memory.
type change struct {
	svc *Service
	tx  Tx
	now time.Time

	touched  []*Visitor
	seen     map[uuid.UUID]bool
	saved    map[uuid.UUID]visitorSnapshot
	loaded   map[uuid.UUID]*Visitor
	sessions map[uuid.UUID]*Session
	expired  map[uuid.UUID]bool
	created  []*Visitor
	events   []Event

	buffer bufferSnapshot
}

func newChange(s *Service, tx Tx, now time.Time) *change {
	return &change{
		svc:      s,
		tx:       tx,
		now:      now,
		seen:     make(map[uuid.UUID]bool),
		saved:    make(map[uuid.UUID]visitorSnapshot),
		loaded:   make(map[uuid.UUID]*Visitor),
		sessions: make(map[uuid.UUID]*Session),
		expired:  make(map[uuid.UUID]bool),
		buffer:   s.buffer.snapshot(),
	}
}

func (ch *change) collection(id string) *VisitorCollection {
	return ch.svc.buffer.GetOrCreate(id, ch.now)
}

// resolve looks a visitor up in the registry first and in storage second.
// Stored visitors are caught up with the clock before use; one that expires
// on catch-up is deleted and reported as not found.
func (ch *change) resolve(ctx context.Context, id uuid.UUID) (*Visitor, error) {
	if v := ch.svc.registry.Get(id); v != nil {
		return v, nil
	}
	if v, ok := ch.loaded[id]; ok {
		return v, nil
	}

	v, err := ch.tx.GetVisitor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get visitor %s: %w", id, err)
	}
	if v == nil {
		ch.loaded[id] = nil
		return nil, nil
	}

	ch.touch(v)
	ch.events = append(ch.events, v.UpdateState(ch.now, ch.svc.policy)...)
	if v.State == StateExpired {
		ch.expire(v)
		ch.loaded[id] = nil
		return nil, nil
	}
	ch.loaded[id] = v
	return v, nil
}

// touch must run before v is mutated for the first time in this frame.
func (ch *change) touch(v *Visitor) {
	if ch.seen[v.ID] {
		return
	}
	ch.seen[v.ID] = true
	ch.touched = append(ch.touched, v)
	if ch.svc.registry.Get(v.ID) == v {
		ch.saved[v.ID] = v.snapshot()
	}
	ch.touchSession(v.CurrentSession)
}

func (ch *change) touchSession(s *Session) {
	if s != nil {
		ch.sessions[s.ID] = s
	}
}

func (ch *change) expire(v *Visitor) {
	ch.expired[v.ID] = true
}

func (ch *change) undo() {
	for _, v := range ch.touched {
		if snap, ok := ch.saved[v.ID]; ok {
			v.restore(snap)
		}
	}
	ch.svc.buffer.restore(ch.buffer)
}

func (ch *change) persist(ctx context.Context, frame *models.Frame, bodies []models.Body, composites []*Composite, detections []Detection) error {
	tx := ch.tx

	if err := tx.AddFrame(ctx, frame); err != nil {
		return fmt.Errorf("add frame %s: %w", frame.ID, err)
	}
	if len(bodies) > 0 {
		if err := tx.AddBodies(ctx, bodies); err != nil {
			return fmt.Errorf("add bodies: %w", err)
		}
	}
	for _, c := range composites {
		// an expired visitor is deleted below and would leave these unreachable
		if c.Visitor != nil && ch.expired[c.Visitor.ID] {
			continue
		}
		if err := tx.AddFaceEmbedding(ctx, &c.Embedding); err != nil {
			return fmt.Errorf("add embedding %s: %w", c.Embedding.ID, err)
		}
		if err := tx.AddFace(ctx, &c.Face); err != nil {
			return fmt.Errorf("add face %s: %w", c.Face.ID, err)
		}
	}

	for _, v := range ch.touched {
		if ch.expired[v.ID] {
			if err := deleteVisitor(ctx, tx, v.ID); err != nil {
				return err
			}
			continue
		}
		if err := tx.SaveVisitor(ctx, v); err != nil {
			return fmt.Errorf("save visitor %s: %w", v.ID, err)
		}
	}

	// Ended sessions first so a visitor never has two open sessions stored.
	sessions := make([]*Session, 0, len(ch.sessions))
	for _, sess := range ch.sessions {
		if !ch.expired[sess.VisitorID] {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		ai, aj := sessions[i].Active(), sessions[j].Active()
		if ai != aj {
			return !ai
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	for _, sess := range sessions {
		if err := tx.SaveSession(ctx, sess); err != nil {
			return fmt.Errorf("save session %s: %w", sess.ID, err)
		}
	}

	for i := range detections {
		if err := tx.AddDetection(ctx, &detections[i]); err != nil {
			return fmt.Errorf("add detection %s: %w", detections[i].ID, err)
		}
	}
	return nil
}
