package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/corewf/workflowcore/graph/emit"
	"github.com/google/uuid"
)

// Context is the per-run mutable state a Scheduler threads through every
// vertex task: vertex outputs, caller-supplied env/user maps, the event
// bus, and a cancellation signal. Context exclusively owns its output
// storage; it is never shared across concurrent runs of the same Workflow.
type Context struct {
	RunID string

	mu      sync.Mutex
	outputs map[string]map[string]any

	env  map[string]any
	user map[string]any

	bus *emit.Bus

	// parent is set when this Context belongs to a Group/WhileGroup
	// subgraph run; SUBGRAPH_SOURCE bindings resolve against parentInput
	// rather than this Context's own outputs.
	parent      *Context
	parentInput map[string]any

	ctx        context.Context
	cancelFunc context.CancelFunc

	// scheduler and costTracker are set by Scheduler.Run before dispatch so
	// that Group/WhileGroup tasks can recurse into an inner Workflow on the
	// same worker pool, and the scheduler can record LLM usage, without threading
	// either through every task's config at graph-build time.
	scheduler   *Scheduler
	costTracker *CostTracker
}

// NewContext creates a root Context for a fresh run. ctx is the caller's
// context; cancelling it cancels the run. If runID is empty a uuid is
// generated.
func NewContext(ctx context.Context, runID string, env, user map[string]any, bus *emit.Bus) *Context {
	if runID == "" {
		runID = uuid.NewString()
	}
	if env == nil {
		env = map[string]any{}
	}
	if user == nil {
		user = map[string]any{}
	}
	runCtx, cancel := context.WithCancel(ctx)
	return &Context{
		RunID:      runID,
		outputs:    make(map[string]map[string]any),
		env:        env,
		user:       user,
		bus:        bus,
		ctx:        runCtx,
		cancelFunc: cancel,
	}
}

// Child creates a Context for a Group/WhileGroup's inner run. The child
// shares its parent's event bus and cancellation, and exposes parentInput
// for SUBGRAPH_SOURCE bindings. Writes are isolated: the child's outputs
// never become visible to the parent except through exposed mappings.
func (c *Context) Child(runID string, parentInput map[string]any) *Context {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Context{
		RunID:       runID,
		outputs:     make(map[string]map[string]any),
		env:         c.env,
		user:        c.user,
		bus:         c.bus,
		parent:      c,
		parentInput: parentInput,
		ctx:         c.ctx,
		cancelFunc:  c.cancelFunc,
		scheduler:   c.scheduler,
		costTracker: c.costTracker,
	}
}

// Scheduler returns the Scheduler currently driving this run, or nil if
// the Context has not been handed to Scheduler.Run yet. GroupVertex and
// WhileGroupVertex tasks use this to run their inner Workflow on the same
// worker pool.
func (c *Context) Scheduler() *Scheduler { return c.scheduler }

// CostTracker returns the CostTracker attached to the driving Scheduler, or
// nil if none was configured. The scheduler records each completed LLM
// vertex's reported usage into it.
func (c *Context) CostTracker() *CostTracker { return c.costTracker }

// bindScheduler attaches the driving Scheduler and its CostTracker. Called
// once by Scheduler.Run before dispatch; a no-op if already bound (so a
// Group's child Context, created via Child before the parent's own Run call
// completes, doesn't get clobbered by a re-entrant bind).
func (c *Context) bindScheduler(s *Scheduler) {
	if c.scheduler != nil {
		return
	}
	c.scheduler = s
	c.costTracker = s.cfg.costTracker
}

// Go returns the standard context.Context for this run, for cancellation
// and deadlines inside tasks.
func (c *Context) Go() context.Context { return c.ctx }

// Cancel cancels the run. Safe to call multiple times.
func (c *Context) Cancel() { c.cancelFunc() }

// Cancelled reports whether the run's context has been cancelled.
func (c *Context) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// SetOutput records vertexID's output. Outputs are write-once per vertex
// per run; a second write for the same id is a programming error and
// returns an error rather than silently overwriting.
func (c *Context) SetOutput(vertexID string, output map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[vertexID]; exists {
		return fmt.Errorf("graph: output already recorded for vertex %s", vertexID)
	}
	if output == nil {
		output = map[string]any{}
	}
	c.outputs[vertexID] = output
	return nil
}

// Output returns vertexID's recorded output. The second return value is
// false if the vertex has not completed in this run.
func (c *Context) Output(vertexID string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[vertexID]
	return out, ok
}

// Outputs returns a shallow copy of every recorded output, keyed by vertex
// id. Used to assemble a Group's default (non-strict) output and the
// run's sink map.
func (c *Context) Outputs() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// Env returns the run's env map, the source a ScopeEnv binding reads from.
func (c *Context) Env() map[string]any { return c.env }

// User returns the run's caller-supplied user-var map.
func (c *Context) User() map[string]any { return c.user }

// Bus returns the event bus events are published to, or nil if the Context
// was created without one.
func (c *Context) Bus() *emit.Bus { return c.bus }

// publish is a convenience wrapper; it is a no-op if no bus is attached.
func (c *Context) publish(kind emit.Kind, vertexID string, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(emit.Event{Kind: kind, VertexID: vertexID, RunID: c.RunID, Data: data})
}

// parentLookup resolves a SUBGRAPH_SOURCE binding against the enclosing
// scope: the parent's input map when this Context belongs to a subgraph
// run. On a root Context it finds nothing, and the resolver reports a
// missing dependency.
func (c *Context) parentLookup(name string) (any, bool) {
	if c.parentInput == nil {
		return nil, false
	}
	v, ok := c.parentInput[name]
	return v, ok
}
