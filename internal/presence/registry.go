// Package presence maintains the derived view of which classmates are
// currently connected, folded from presence-channel events.
package presence

import (
	"sort"
	"strings"
	"sync"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
)

// Registry is an in-memory membership set keyed by normalized user ID.
// Membership is a set: a user is present or absent, never present twice.
type Registry struct {
	mu      sync.RWMutex
	members map[string]domain.Member
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[string]domain.Member)}
}

// normalize guards against mismatched identifier formatting; IDs are trimmed
// and compared as strings at every insertion and lookup.
func normalize(id string) string {
	return strings.TrimSpace(id)
}

// Snapshot replaces the whole membership set.
func (r *Registry) Snapshot(members []domain.Member) {
	next := make(map[string]domain.Member, len(members))
	for _, m := range members {
		id := normalize(m.ID)
		if id == "" {
			continue
		}
		m.ID = id
		next[id] = m
	}
	r.mu.Lock()
	r.members = next
	r.mu.Unlock()
}

// Join upserts one member. Duplicate joins are idempotent.
func (r *Registry) Join(m domain.Member) {
	id := normalize(m.ID)
	if id == "" {
		return
	}
	m.ID = id
	r.mu.Lock()
	r.members[id] = m
	r.mu.Unlock()
}

// Leave removes one member. Leaving an absent member is a no-op.
func (r *Registry) Leave(m domain.Member) {
	id := normalize(m.ID)
	r.mu.Lock()
	delete(r.members, id)
	r.mu.Unlock()
}

// IsOnline is the sole query the challenge coordinator uses to gate sends.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[normalize(userID)]
	return ok
}

// Online lists current members sorted by name, for the classmate picker.
func (r *Registry) Online() []domain.Member {
	r.mu.RLock()
	members := make([]domain.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// Callbacks wires the registry into a presence channel subscription.
func (r *Registry) Callbacks() realtime.PresenceCallbacks {
	return realtime.PresenceCallbacks{
		OnSnapshot: r.Snapshot,
		OnJoin:     r.Join,
		OnLeave:    r.Leave,
	}
}
