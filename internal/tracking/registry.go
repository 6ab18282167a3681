package tracking

import (
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/judge/internal/observability"
)

// Registry is the in-memory set of visitors the timeout sweep watches.
// Access is serialized by the owning Service.
type Registry struct {
	visitors map[uuid.UUID]*Visitor
}

func NewRegistry() *Registry {
	return &Registry{visitors: make(map[uuid.UUID]*Visitor)}
}

func (r *Registry) Get(id uuid.UUID) *Visitor {
	return r.visitors[id]
}

func (r *Registry) Track(v *Visitor) {
	r.visitors[v.ID] = v
	observability.TrackedVisitors.Set(float64(len(r.visitors)))
}

func (r *Registry) Remove(id uuid.UUID) {
	delete(r.visitors, id)
	observability.TrackedVisitors.Set(float64(len(r.visitors)))
}

func (r *Registry) Len() int {
	return len(r.visitors)
}

// All returns tracked visitors ordered by creation time.
func (r *Registry) All() []*Visitor {
	out := make([]*Visitor, 0, len(r.visitors))
	for _, v := range r.visitors {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// sync places v in or out of the registry depending on whether the sweep
// still needs to watch it.
func (r *Registry) sync(v *Visitor) {
	switch v.State {
	case StateMissing, StateExpired:
		r.Remove(v.ID)
	default:
		r.Track(v)
	}
}
