package runtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

var (
	// ErrComponentNotFound is returned when no machine is registered for
	// the component.
	ErrComponentNotFound = errors.New("component not found")
	// ErrRegistryClosed is returned when dispatching after shutdown began.
	ErrRegistryClosed = errors.New("registry is shutting down")
)

// StatePersister is the durable write-behind boundary. SaveComponentState
// must be idempotent; LoadComponentState returns the last persisted state
// for warm-starting a machine, or nil when none exists.
type StatePersister interface {
	SaveComponentState(ctx context.Context, componentID string, state models.ComponentRuntimeState) error
	LoadComponentState(ctx context.Context, componentID string) (*models.ComponentRuntimeState, error)
}

type dispatchRequest struct {
	event models.Event
	reply chan models.ComponentRuntimeState
}

// worker is the single sequential owner of one component's machine. Events
// for a component are strictly serialized through its channel; different
// components run fully in parallel.
type worker struct {
	componentID string
	mapID       string
	machine     *Machine

	events chan dispatchRequest
	stop   chan struct{} // closed to make the worker drain and exit
	done   chan struct{} // closed once the worker has exited
}

// Registry owns the set of live state machines, routes events to the right
// machine and fans resulting state changes out to map subscribers.
type Registry struct {
	cfg       Config
	persister StatePersister
	writer    *writeBehind
	now       func() time.Time

	mu      sync.RWMutex
	workers map[string]*worker
	subs    map[string]map[*Subscription]struct{} // mapID -> subscriptions
	closed  bool

	wg sync.WaitGroup
}

// NewRegistry creates an empty registry. The persister may be nil in tests;
// state then lives purely in memory.
func NewRegistry(cfg Config, persister StatePersister) *Registry {
	r := &Registry{
		cfg:       cfg,
		persister: persister,
		now:       time.Now,
		workers:   make(map[string]*worker),
		subs:      make(map[string]map[*Subscription]struct{}),
	}
	if persister != nil {
		r.writer = newWriteBehind(persister)
	}
	return r
}

// Register creates the state machine for a component. The machine warm-starts
// from the last persisted state when one exists, otherwise it begins at
// unknown. Registering an already-registered component returns the current
// state, so a registration race can never yield two workers for one
// identifier, even transiently.
func (r *Registry) Register(component *models.Component) (models.ComponentRuntimeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.ComponentRuntimeState{}, ErrRegistryClosed
	}
	if w, ok := r.workers[component.ID]; ok {
		return w.machine.State(), nil
	}

	machine := r.buildMachine(component)
	w := &worker{
		componentID: component.ID,
		mapID:       component.MapID,
		machine:     machine,
		events:      make(chan dispatchRequest, 64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	r.workers[component.ID] = w

	r.wg.Add(1)
	go r.runWorker(w)

	return machine.State(), nil
}

// buildMachine loads persisted state for a warm start, falling back to a
// fresh machine in unknown.
func (r *Registry) buildMachine(component *models.Component) *Machine {
	if r.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if state, err := r.persister.LoadComponentState(ctx, component.ID); err != nil {
			log.Printf("registry: warm start for %s failed: %v", component.ID, err)
		} else if state != nil {
			return NewMachineFromState(component.MapID, *state, r.cfg)
		}
	}
	return NewMachine(component.ID, component.MapID, r.cfg)
}

// Unregister discards the component's machine. Events already queued for the
// worker are still applied before it exits.
func (r *Registry) Unregister(componentID string) error {
	r.mu.Lock()
	w, ok := r.workers[componentID]
	if ok {
		delete(r.workers, componentID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrComponentNotFound
	}
	close(w.stop)
	return nil
}

// Dispatch applies the event to the component's machine and returns the
// resulting runtime state. Events for one component are applied strictly in
// arrival order; Dispatch blocks until the machine has processed the event.
func (r *Registry) Dispatch(componentID string, event models.Event) (models.ComponentRuntimeState, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return models.ComponentRuntimeState{}, ErrRegistryClosed
	}
	w, ok := r.workers[componentID]
	r.mu.RUnlock()

	if !ok {
		return models.ComponentRuntimeState{}, ErrComponentNotFound
	}
	return w.dispatch(event)
}

func (w *worker) dispatch(event models.Event) (models.ComponentRuntimeState, error) {
	req := dispatchRequest{event: event, reply: make(chan models.ComponentRuntimeState, 1)}

	select {
	case w.events <- req:
	case <-w.done:
		return models.ComponentRuntimeState{}, ErrComponentNotFound
	}

	select {
	case state := <-req.reply:
		return state, nil
	case <-w.done:
		// The worker exited while the request sat in its queue.
		select {
		case state := <-req.reply:
			return state, nil
		default:
			return models.ComponentRuntimeState{}, ErrComponentNotFound
		}
	}
}

// runWorker is the sequential event loop of one component. On stop it drains
// the queue so no accepted event is dropped mid-processing.
func (r *Registry) runWorker(w *worker) {
	defer r.wg.Done()
	defer close(w.done)

	for {
		select {
		case req := <-w.events:
			r.process(w, req)
		case <-w.stop:
			for {
				select {
				case req := <-w.events:
					r.process(w, req)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) process(w *worker, req dispatchRequest) {
	state, changed := w.machine.Apply(req.event, r.now())
	req.reply <- state

	if changed {
		r.publish(w.mapID, state)
	}
	if r.writer != nil {
		r.writer.enqueue(w.componentID, state)
	}
}

// publish fans a state change out to subscribers of the component's map.
func (r *Registry) publish(mapID string, state models.ComponentRuntimeState) {
	change := models.StatusChange{
		MapID:       mapID,
		ComponentID: state.ComponentID,
		Status:      state.Status,
		Message:     state.Message,
		Timestamp:   state.UpdatedAt,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs[mapID] {
		sub.offer(change)
	}
}

// SnapshotStates returns a consistent read of all runtime states of a map,
// keyed by component id. Reads are routed through each worker so they see
// settled states, never a machine mid-event.
func (r *Registry) SnapshotStates(mapID string) map[string]models.ComponentRuntimeState {
	r.mu.RLock()
	ids := make([]string, 0)
	for id, w := range r.workers {
		if w.mapID == mapID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	states := make(map[string]models.ComponentRuntimeState, len(ids))
	for _, id := range ids {
		state, err := r.Dispatch(id, readEvent{})
		if err != nil {
			continue
		}
		states[id] = state
	}
	return states
}

// readEvent is a no-op event used for consistent reads through the worker.
// Applying it still recomputes status, which is how expired overrides and
// stale checks surface without a real event arriving.
type readEvent struct{}

func (readEvent) Cause() string { return "read" }

// Close drains the registry: no new events are accepted, queued events for
// every component finish processing, then the write-behind queue flushes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	workers := make([]*worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.workers = make(map[string]*worker)
	for _, subs := range r.subs {
		for sub := range subs {
			sub.close()
		}
	}
	r.subs = make(map[string]map[*Subscription]struct{})
	r.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}
	r.wg.Wait()

	if r.writer != nil {
		r.writer.close()
	}
}
