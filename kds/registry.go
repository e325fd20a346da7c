package kds

import "sync"

// Sink pushes one serialized event to a connected dashboard. An error means the connection is gone
// and the subscriber should be dropped.
type Sink interface {
	Push(payload []byte) error
}

type subscriber struct {
	connectionID string
	restaurantID string // empty for platform-wide consoles
	sink         Sink
	seq          uint64
}

// Registry tracks the dashboards currently connected to this process, keyed by connection id.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	seq         uint64
}

func NewRegistry() *Registry {
	return &Registry{subscribers: make(map[string]subscriber)}
}

// Subscribe registers sink under connectionID. An existing entry with the same id is replaced.
func (r *Registry) Subscribe(connectionID string, sink Sink) {
	r.SubscribeScoped(connectionID, "", sink)
}

// SubscribeScoped is Subscribe for a dashboard that belongs to one restaurant.
func (r *Registry) SubscribeScoped(connectionID, restaurantID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.subscribers[connectionID] = subscriber{
		connectionID: connectionID,
		restaurantID: restaurantID,
		sink:         sink,
		seq:          r.seq,
	}
}

func (r *Registry) Unsubscribe(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, connectionID)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

func (r *Registry) snapshot() []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		out = append(out, s)
	}
	return out
}

func (r *Registry) lookup(connectionID string) (subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscribers[connectionID]
	return s, ok
}

// prune drops a subscriber after a failed push, unless the id was re-subscribed in the meantime.
func (r *Registry) prune(s subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.subscribers[s.connectionID]
	if !ok || current.seq != s.seq {
		return false
	}
	delete(r.subscribers, s.connectionID)
	return true
}
