package runtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cartograph-io/cartograph/models"
)

// writeBehind is the asynchronous durable-write queue. The in-memory machine
// state is authoritative immediately; persistence lags behind and retries
// with bounded exponential backoff. A write failure is logged and retried,
// it never blocks or reorders dispatches. Pending writes for the same
// component coalesce to the newest state.
type writeBehind struct {
	persister StatePersister

	mu      sync.Mutex
	pending map[string]models.ComponentRuntimeState
	order   []string

	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

func newWriteBehind(persister StatePersister) *writeBehind {
	w := &writeBehind{
		persister: persister,
		pending:   make(map[string]models.ComponentRuntimeState),
		notify:    make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writeBehind) enqueue(componentID string, state models.ComponentRuntimeState) {
	w.mu.Lock()
	if _, queued := w.pending[componentID]; !queued {
		w.order = append(w.order, componentID)
	}
	w.pending[componentID] = state
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *writeBehind) next() (string, models.ComponentRuntimeState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return "", models.ComponentRuntimeState{}, false
	}
	id := w.order[0]
	w.order = w.order[1:]
	state := w.pending[id]
	delete(w.pending, id)
	return id, state, true
}

func (w *writeBehind) run() {
	defer close(w.done)
	for {
		select {
		case <-w.notify:
			w.flush(false)
		case <-w.quit:
			// Final flush with a single attempt per entry; a restart may
			// lose the most recent few transitions, which is documented
			// behavior of the live system.
			w.flush(true)
			return
		}
	}
}

func (w *writeBehind) flush(final bool) {
	for {
		id, state, ok := w.next()
		if !ok {
			return
		}
		if err := w.save(id, state, final); err != nil {
			log.Printf("write-behind: persisting state of %s failed: %v", id, err)
		}
	}
}

func (w *writeBehind) save(componentID string, state models.ComponentRuntimeState, final bool) error {
	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.persister.SaveComponentState(ctx, componentID, state)
	}
	if final {
		return attempt()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		select {
		case <-w.quit:
			// Stop retrying on shutdown; make one last attempt.
			if err := attempt(); err != nil {
				return backoff.Permanent(err)
			}
			return nil
		default:
		}
		return attempt()
	}, policy)
}

func (w *writeBehind) close() {
	close(w.quit)
	<-w.done
}
