package runtime

import (
	"sync"

	"github.com/cartograph-io/cartograph/models"
)

// Subscription is a stream of state-change notifications for one map.
// Delivery is at-least-once with latest-value coalescing: rapid successive
// changes for the same component collapse into the newest one, so a slow
// consumer sees the current status without ever blocking machine processing.
type Subscription struct {
	mapID string

	mu      sync.Mutex
	pending map[string]models.StatusChange
	order   []string

	notify chan struct{}
	out    chan models.StatusChange
	closed chan struct{}
	once   sync.Once
}

func newSubscription(mapID string) *Subscription {
	s := &Subscription{
		mapID:   mapID,
		pending: make(map[string]models.StatusChange),
		notify:  make(chan struct{}, 1),
		out:     make(chan models.StatusChange, 16),
		closed:  make(chan struct{}),
	}
	go s.deliver()
	return s
}

// C is the channel notifications arrive on. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan models.StatusChange {
	return s.out
}

// MapID returns the subscribed map.
func (s *Subscription) MapID() string {
	return s.mapID
}

// offer records a change, replacing any undelivered change for the same
// component. It never blocks.
func (s *Subscription) offer(change models.StatusChange) {
	s.mu.Lock()
	if _, queued := s.pending[change.ComponentID]; !queued {
		s.order = append(s.order, change.ComponentID)
	}
	s.pending[change.ComponentID] = change
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) deliver() {
	for {
		select {
		case <-s.closed:
			close(s.out)
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.order) == 0 {
				s.mu.Unlock()
				break
			}
			id := s.order[0]
			s.order = s.order[1:]
			change := s.pending[id]
			delete(s.pending, id)
			s.mu.Unlock()

			select {
			case s.out <- change:
			case <-s.closed:
				close(s.out)
				return
			}
		}
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.closed) })
}

// Subscribe registers a notification stream for the given map.
func (r *Registry) Subscribe(mapID string) *Subscription {
	sub := newSubscription(mapID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.close()
		return sub
	}
	if r.subs[mapID] == nil {
		r.subs[mapID] = make(map[*Subscription]struct{})
	}
	r.subs[mapID][sub] = struct{}{}
	return sub
}

// Unsubscribe drops a subscription. Dropping a disconnected subscriber never
// affects machine processing.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	if set, ok := r.subs[sub.mapID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.subs, sub.mapID)
		}
	}
	r.mu.Unlock()
	sub.close()
}
