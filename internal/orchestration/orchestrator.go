package orchestration

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/cartograph-io/cartograph/models"
)

var (
	// ErrActionNotFound is returned when the action is not declared in the
	// component's configuration.
	ErrActionNotFound = errors.New("action not found")
	// ErrConfirmationRequired is returned when a confirmation-required
	// action is invoked without an explicit acknowledgement.
	ErrConfirmationRequired = errors.New("action requires confirmation")
	// ErrCommandInFlight is returned when the component already has a
	// non-terminal command. There is no queueing; callers retry after
	// completion.
	ErrCommandInFlight = errors.New("command already in flight")
	// ErrCommandNotFound is returned for unknown command identifiers.
	ErrCommandNotFound = errors.New("command not found")
	// ErrNotCancellable is returned when cancelling a terminal command.
	ErrNotCancellable = errors.New("command is not cancellable")
	// ErrTransport is returned when dispatch to the agent transport fails.
	ErrTransport = errors.New("agent transport failure")
)

// ComponentSource resolves component definitions for validation and agent
// selection.
type ComponentSource interface {
	GetComponent(id string) (*models.Component, error)
}

// EventSink receives the synthetic lifecycle events the orchestrator emits,
// keeping the state machine the single source of truth for status.
type EventSink interface {
	Dispatch(componentID string, event models.Event) (models.ComponentRuntimeState, error)
}

// CommandStore persists command records for audit. Writes are best-effort
// from the orchestrator's point of view; a failure is logged, never
// propagated.
type CommandStore interface {
	SaveCommand(ctx context.Context, cmd *models.Command) error
	GetCommand(ctx context.Context, id string) (*models.Command, error)
}

// Config holds the orchestrator tuning knobs.
type Config struct {
	// DefaultTimeout applies to actions that do not declare their own.
	DefaultTimeout time.Duration

	// IdempotencyWindow is how long a computed idempotency key resolves
	// repeated invocations to the existing command.
	IdempotencyWindow time.Duration

	// CompletedRetention is how long terminal commands stay addressable in
	// memory; the durable audit record outlives it.
	CompletedRetention time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:     60 * time.Second,
		IdempotencyWindow:  30 * time.Second,
		CompletedRetention: time.Hour,
	}
}

// InvokeRequest carries one action invocation from the request boundary.
type InvokeRequest struct {
	ComponentID     string
	ActionName      string
	Args            map[string]any
	Requester       string
	ConfirmationAck bool

	// Nonce lets callers control idempotency explicitly; when empty the
	// key is derived from a time bucket of the idempotency window.
	Nonce string
}

type idemEntry struct {
	commandID string
	expiresAt time.Time
}

// Orchestrator enforces one in-flight command per component, applies
// timeouts and idempotency, and emits lifecycle events into the registry.
type Orchestrator struct {
	components ComponentSource
	sink       EventSink
	agents     *AgentRegistry
	transport  AgentTransport
	store      CommandStore
	cfg        Config
	now        func() time.Time

	mu       sync.Mutex
	commands map[string]*models.Command
	inflight map[string]string // componentID -> commandID
	idem     map[string]idemEntry
	timers   map[string]*time.Timer
	waiters  map[string][]chan *models.Command
	started  map[string]bool // commandID -> CommandStarted reached the sink
	deferred map[string]models.CommandCompletedEvent
	closed   bool
}

// New creates an orchestrator. The command store may be nil in tests.
func New(components ComponentSource, sink EventSink, agents *AgentRegistry, transport AgentTransport, store CommandStore, cfg Config) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = DefaultConfig().IdempotencyWindow
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = DefaultConfig().CompletedRetention
	}
	return &Orchestrator{
		components: components,
		sink:       sink,
		agents:     agents,
		transport:  transport,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
		commands:   make(map[string]*models.Command),
		inflight:   make(map[string]string),
		idem:       make(map[string]idemEntry),
		timers:     make(map[string]*time.Timer),
		waiters:    make(map[string][]chan *models.Command),
		started:    make(map[string]bool),
		deferred:   make(map[string]models.CommandCompletedEvent),
	}
}

// Invoke validates and dispatches one action invocation. For asynchronous
// actions it returns as soon as the command is running; for synchronous ones
// it blocks until the command is terminal or the context is done.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (*models.Command, error) {
	component, err := o.components.GetComponent(req.ComponentID)
	if err != nil {
		return nil, err
	}

	action := component.Action(req.ActionName)
	if action == nil {
		return nil, fmt.Errorf("%w: %q on component %s", ErrActionNotFound, req.ActionName, component.ID)
	}
	if action.RequireConfirmation && !req.ConfirmationAck {
		return nil, fmt.Errorf("%w: action %q", ErrConfirmationRequired, action.Name)
	}

	now := o.now()
	key := o.idempotencyKey(req, now)

	// Reserve the component's single command slot before any side effect.
	o.mu.Lock()
	if existing := o.idemLookupLocked(key, now); existing != nil {
		o.mu.Unlock()
		return existing, nil
	}
	if _, busy := o.inflight[req.ComponentID]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: component %s", ErrCommandInFlight, req.ComponentID)
	}

	cmd := &models.Command{
		ID:             models.GenerateID("cmd"),
		ComponentID:    component.ID,
		ActionName:     action.Name,
		Args:           req.Args,
		IdempotencyKey: key,
		Requester:      req.Requester,
		Status:         models.CommandQueued,
		RequestedAt:    now,
	}
	o.commands[cmd.ID] = cmd
	o.inflight[component.ID] = cmd.ID
	o.mu.Unlock()

	agent, err := o.agents.Resolve(component.Config.AgentSelector)
	if err != nil {
		o.abort(cmd)
		return nil, err
	}

	// Dispatch before marking running: a transport failure fails the call
	// synchronously and leaves no running command behind.
	o.mu.Lock()
	cmd.AgentID = agent.ID
	wire := cmd.Clone()
	o.mu.Unlock()
	if err := o.transport.SendCommand(ctx, agent, wire); err != nil {
		o.abort(cmd)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}

	o.mu.Lock()
	// The command may already be terminal: the agent can drain and ack
	// inside SendCommand. Never overwrite a resolution.
	if !cmd.Terminal() {
		started := o.now()
		cmd.Status = models.CommandRunning
		cmd.StartedAt = &started
		o.timers[cmd.ID] = time.AfterFunc(timeout, func() { o.timeout(cmd.ID) })
	}
	o.idem[key] = idemEntry{commandID: cmd.ID, expiresAt: now.Add(o.cfg.IdempotencyWindow)}
	result := cmd.Clone()
	o.mu.Unlock()

	o.persist(cmd)
	o.emit(component.ID, models.CommandStartedEvent{
		CommandID:        cmd.ID,
		ActionName:       action.Name,
		TransitionalHint: action.TransitionalHint,
	})

	// A resolution that raced the dispatch deferred its CommandCompleted so
	// the state machine always sees the pair in order.
	o.mu.Lock()
	o.started[cmd.ID] = true
	completion, resolvedEarly := o.deferred[cmd.ID]
	delete(o.deferred, cmd.ID)
	o.mu.Unlock()
	if resolvedEarly {
		o.emit(component.ID, completion)
	}

	if action.Async {
		return result, nil
	}
	return o.await(ctx, cmd.ID)
}

// abort rolls back a reservation that never reached running.
func (o *Orchestrator) abort(cmd *models.Command) {
	o.mu.Lock()
	delete(o.commands, cmd.ID)
	delete(o.deferred, cmd.ID)
	if o.inflight[cmd.ComponentID] == cmd.ID {
		delete(o.inflight, cmd.ComponentID)
	}
	o.mu.Unlock()
}

// HandleAck applies a completion acknowledgement from an agent. Resolutions
// are idempotent: if a timeout already fired, the late ack is a no-op.
func (o *Orchestrator) HandleAck(report models.AckReport) error {
	status := models.CommandSucceeded
	if !report.Success {
		status = models.CommandFailed
	}
	return o.resolve(report.CommandID, status, report.Reason, report.Result)
}

// Cancel cancels a queued or running command, notifying the agent on a
// best-effort basis.
func (o *Orchestrator) Cancel(commandID string) (*models.Command, error) {
	o.mu.Lock()
	cmd, ok := o.commands[commandID]
	if !ok {
		o.mu.Unlock()
		return nil, ErrCommandNotFound
	}
	if cmd.Terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCancellable, commandID, cmd.Status)
	}
	agentID := cmd.AgentID
	o.mu.Unlock()

	if agent := o.agents.Get(agentID); agent != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.transport.CancelCommand(ctx, agent, commandID); err != nil {
			log.Printf("orchestrator: cancel notification for %s failed: %v", commandID, err)
		}
		cancel()
	}

	if err := o.resolve(commandID, models.CommandCancelled, "cancelled", nil); err != nil {
		return nil, err
	}
	return o.GetCommand(commandID)
}

// GetCommand returns a copy of the command, consulting the audit store for
// commands already pruned from memory.
func (o *Orchestrator) GetCommand(commandID string) (*models.Command, error) {
	o.mu.Lock()
	cmd, ok := o.commands[commandID]
	if ok {
		cp := cmd.Clone()
		o.mu.Unlock()
		return cp, nil
	}
	o.mu.Unlock()

	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stored, err := o.store.GetCommand(ctx, commandID)
		if err == nil && stored != nil {
			return stored, nil
		}
	}
	return nil, ErrCommandNotFound
}

// InFlight returns the component's current non-terminal command, if any.
func (o *Orchestrator) InFlight(componentID string) *models.Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.inflight[componentID]
	if !ok {
		return nil
	}
	return o.commands[id].Clone()
}

// Close stops all timeout timers. In-flight commands stay unresolved; after
// a restart their components warm-start and the next invocation re-reserves
// the slot.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for id, timer := range o.timers {
		timer.Stop()
		delete(o.timers, id)
	}
}

func (o *Orchestrator) timeout(commandID string) {
	if err := o.resolve(commandID, models.CommandTimedOut, "timeout", nil); err != nil && !errors.Is(err, ErrCommandNotFound) {
		log.Printf("orchestrator: timeout resolution for %s failed: %v", commandID, err)
	}
}

// resolve moves a command to a terminal status exactly once. Whichever
// resolution is applied first wins; later ones are no-ops.
func (o *Orchestrator) resolve(commandID string, status models.CommandStatus, reason string, result json.RawMessage) error {
	o.mu.Lock()
	cmd, ok := o.commands[commandID]
	if !ok {
		o.mu.Unlock()
		return ErrCommandNotFound
	}
	if cmd.Terminal() {
		o.mu.Unlock()
		return nil
	}

	completed := o.now()
	cmd.Status = status
	cmd.CompletedAt = &completed
	if status == models.CommandSucceeded {
		cmd.Result = result
	} else {
		cmd.FailureReason = reason
	}

	if timer, armed := o.timers[commandID]; armed {
		timer.Stop()
		delete(o.timers, commandID)
	}
	if o.inflight[cmd.ComponentID] == commandID {
		delete(o.inflight, cmd.ComponentID)
	}

	final := cmd.Clone()
	for _, waiter := range o.waiters[commandID] {
		waiter <- final
	}
	delete(o.waiters, commandID)

	completedEvent := models.CommandCompletedEvent{
		CommandID: commandID,
		Success:   status == models.CommandSucceeded,
		Reason:    reason,
	}
	emitNow := o.started[commandID]
	if !emitNow {
		// The invoke path has not emitted CommandStarted yet; it emits this
		// completion right after it so the pair stays ordered.
		o.deferred[commandID] = completedEvent
	}

	if !o.closed {
		retention := o.cfg.CompletedRetention
		time.AfterFunc(retention, func() {
			o.mu.Lock()
			delete(o.commands, commandID)
			delete(o.started, commandID)
			o.mu.Unlock()
		})
	}
	o.mu.Unlock()

	o.persist(cmd)
	if emitNow {
		o.emit(cmd.ComponentID, completedEvent)
	}
	return nil
}

// await blocks until the command is terminal, for synchronous actions.
func (o *Orchestrator) await(ctx context.Context, commandID string) (*models.Command, error) {
	o.mu.Lock()
	cmd, ok := o.commands[commandID]
	if !ok {
		o.mu.Unlock()
		return nil, ErrCommandNotFound
	}
	if cmd.Terminal() {
		cp := cmd.Clone()
		o.mu.Unlock()
		return cp, nil
	}
	waiter := make(chan *models.Command, 1)
	o.waiters[commandID] = append(o.waiters[commandID], waiter)
	o.mu.Unlock()

	select {
	case final := <-waiter:
		return final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// idempotencyKey derives a stable key from the invocation parameters. When
// the caller supplies no nonce, the current time bucket stands in so rapid
// retries of the same request collapse to one command.
func (o *Orchestrator) idempotencyKey(req InvokeRequest, now time.Time) string {
	nonce := req.Nonce
	if nonce == "" {
		nonce = fmt.Sprintf("bucket:%d", now.Truncate(o.cfg.IdempotencyWindow).Unix())
	}
	args, _ := json.Marshal(req.Args)
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", req.ComponentID, req.ActionName, req.Requester, nonce, args)
	return "idem:" + hex.EncodeToString(h.Sum(nil)[:16])
}

// idemLookupLocked resolves an unexpired idempotency key to its command.
func (o *Orchestrator) idemLookupLocked(key string, now time.Time) *models.Command {
	entry, ok := o.idem[key]
	if !ok {
		return nil
	}
	if now.After(entry.expiresAt) {
		delete(o.idem, key)
		return nil
	}
	cmd, ok := o.commands[entry.commandID]
	if !ok {
		return nil
	}
	return cmd.Clone()
}

func (o *Orchestrator) persist(cmd *models.Command) {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	cp := cmd.Clone()
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SaveCommand(ctx, cp); err != nil {
		log.Printf("orchestrator: persisting command %s failed: %v", cp.ID, err)
	}
}

func (o *Orchestrator) emit(componentID string, event models.Event) {
	if _, err := o.sink.Dispatch(componentID, event); err != nil {
		// The component may have been unregistered mid-command; status is
		// simply no longer tracked.
		log.Printf("orchestrator: emitting %T for %s failed: %v", event, componentID, err)
	}
}
