package graph

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corewf/workflowcore/graph/emit"
)

// Scheduler executes a validated Workflow: topological-order-respecting,
// concurrent vertex dispatch, edge-guard evaluation, skip propagation, and
// OnError recovery routing. One Scheduler can drive many runs (including
// nested Group/WhileGroup subgraph runs, which reuse the same worker pool).
type Scheduler struct {
	cfg *schedulerConfig

	// sem bounds total concurrent vertex execution across every Run call
	// this Scheduler drives, including nested Group/WhileGroup subgraph
	// runs — a single shared pool, not one per nesting level.
	sem *semaphore.Weighted
}

// NewScheduler builds a Scheduler from options, defaulting worker pool size
// to the number of logical cores.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := defaultSchedulerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.maxConcurrent))}
}

// outcome tags how a vertex's single execution attempt ended, for the
// purposes of edge-guard evaluation and run-result bookkeeping.
type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeFailed
	outcomeSkipped
)

// dispatchState is the mutable per-run bookkeeping the scheduler threads
// through concurrent workers. All access is guarded by mu.
type dispatchState struct {
	mu sync.Mutex

	pendingProducers map[string]map[string]struct{}
	anySatisfied     map[string]bool
	state            map[string]State
	errs             map[string]*VertexError

	remaining int
	done      chan struct{}
	doneOnce  sync.Once
}

func newDispatchState(wf *Workflow) *dispatchState {
	ds := &dispatchState{
		pendingProducers: make(map[string]map[string]struct{}, len(wf.vertices)),
		anySatisfied:     make(map[string]bool, len(wf.vertices)),
		state:            make(map[string]State, len(wf.vertices)),
		errs:             make(map[string]*VertexError),
		remaining:        len(wf.vertices),
		done:             make(chan struct{}),
	}
	for id := range wf.vertices {
		producers := make(map[string]struct{})
		for _, e := range wf.inEdges[id] {
			producers[e.From] = struct{}{}
		}
		ds.pendingProducers[id] = producers
		ds.state[id] = Pending
	}
	return ds
}

func (ds *dispatchState) markTerminal() {
	ds.remaining--
	if ds.remaining == 0 {
		ds.doneOnce.Do(func() { close(ds.done) })
	}
}

// Run executes wf to completion. rc is the (already-constructed, possibly
// child) Context the run writes outputs into; auxInput is the caller- or
// parent-supplied input map that Source vertices and unbound fields read
// from.
func (s *Scheduler) Run(ctx context.Context, wf *Workflow, rc *Context, auxInput map[string]any) (*RunResult, error) {
	if !wf.validated {
		if err := wf.Validate(); err != nil {
			return nil, err
		}
	}
	rc.bindScheduler(s)

	runCtx := rc.Go()
	if s.cfg.wallClockBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.wallClockBudget)
		defer cancel()
	}

	ds := newDispatchState(wf)

	ready := make(chan string, s.cfg.queueDepth)
	var wg sync.WaitGroup

	enqueue := func(id string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready <- id
		}()
	}

	// Seed only vertices with no inbound edges at all: a vertex reached
	// solely by OnError edges waits for its producers like any other.
	var seeds []string
	for _, id := range wf.order {
		if len(wf.inEdges[id]) == 0 {
			seeds = append(seeds, id)
		}
	}
	for _, id := range seeds {
		ds.mu.Lock()
		ds.state[id] = Ready
		ds.mu.Unlock()
		enqueue(id)
	}
	if len(seeds) == 0 {
		ds.doneOnce.Do(func() { close(ds.done) })
	}

	go func() {
		for {
			select {
			case <-ds.done:
				return
			case id, ok := <-ready:
				if !ok {
					return
				}
				if err := s.sem.Acquire(runCtx, 1); err != nil {
					// Context cancelled/timed out while waiting for a slot:
					// fail this vertex as cancelled rather than dispatch it.
					s.finishCancelled(rc, wf, ds, id, enqueue)
					continue
				}
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					defer s.sem.Release(1)
					s.runOne(runCtx, rc, wf, ds, id, auxInput, enqueue)
				}(id)
			}
		}
	}()

	select {
	case <-ds.done:
	case <-runCtx.Done():
		grace := time.NewTimer(s.cfg.cancelGrace)
		defer grace.Stop()
		select {
		case <-ds.done:
		case <-grace.C:
		}
	}

	// Stop accepting new dispatches and let in-flight goroutines that
	// already hold a semaphore slot finish; we do not block the caller on
	// stragglers past the grace window.
	go func() {
		wg.Wait()
	}()

	return s.buildResult(rc, wf, ds, runCtx), nil
}

func (s *Scheduler) buildResult(rc *Context, wf *Workflow, ds *dispatchState, runCtx context.Context) *RunResult {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	status := StatusCompleted
	if runCtx.Err() != nil {
		status = StatusCancelled
	}
	if status == StatusCompleted {
		for id, st := range ds.state {
			if st != Failed {
				continue
			}
			if !failureRecovered(wf, ds, id) {
				status = StatusFailed
				break
			}
		}
	}

	errs := make([]*VertexError, 0, len(ds.errs))
	for _, id := range wf.order {
		if e, ok := ds.errs[id]; ok {
			errs = append(errs, e)
		}
	}

	return &RunResult{
		RunID:   rc.RunID,
		Status:  status,
		Outputs: rc.Outputs(),
		Errors:  errs,
	}
}

// failureRecovered reports whether id's failure was handled: an outgoing
// OnError edge fires unconditionally whenever its source fails, so id is
// covered if one of its OnError edges targets a vertex that itself ran to
// Completed. An uncovered failure (no OnError edge, or the recovery vertex
// itself failed or was skipped) still fails the run; a covered one doesn't,
// though the *VertexError is still returned in RunResult.Errors.
func failureRecovered(wf *Workflow, ds *dispatchState, id string) bool {
	for _, e := range wf.outEdges[id] {
		if e.Guard.Kind != OnError {
			continue
		}
		if ds.state[e.To] == Completed {
			return true
		}
	}
	return false
}

// runOne resolves bindings, runs the task (kinds with templates, such as
// LLM vertices, substitute them inside their own task), and fans the
// outcome out to dependents.
func (s *Scheduler) runOne(ctx context.Context, rc *Context, wf *Workflow, ds *dispatchState, id string, auxInput map[string]any, enqueue func(string)) {
	if rc.Cancelled() {
		s.finishCancelled(rc, wf, ds, id, enqueue)
		return
	}

	v := wf.Vertex(id)
	if s.cfg.metrics != nil {
		s.cfg.metrics.UpdateInflightVertices(1)
	}
	start := time.Now()

	rc.publish(emit.VertexStarted, id, nil)

	input, err := resolveBindings(rc, v.Bindings, auxInput)
	if err != nil {
		s.finishFailed(rc, wf, ds, id, err, enqueue, start)
		return
	}

	taskCtx := ctx
	var cancelTimeout context.CancelFunc
	if s.cfg.vertexTimeout > 0 {
		taskCtx, cancelTimeout = context.WithTimeout(ctx, s.cfg.vertexTimeout)
		defer cancelTimeout()
	}

	output, taskErr := v.task(taskCtx, rc, id, input)
	if taskErr != nil {
		s.finishFailed(rc, wf, ds, id, taskErr, enqueue, start)
		return
	}

	if err := rc.SetOutput(id, output); err != nil {
		s.finishFailed(rc, wf, ds, id, err, enqueue, start)
		return
	}

	if s.cfg.metrics != nil {
		s.cfg.metrics.RecordStepLatency(rc.RunID, id, time.Since(start), "completed")
	}
	recordUsage(rc.CostTracker(), id, output)
	recordToolMetrics(s.cfg.metrics, rc.RunID, id, output)
	rc.publish(emit.VertexCompleted, id, output)

	s.complete(rc, wf, ds, id, outcomeCompleted, output, nil, enqueue)
}

func (s *Scheduler) finishFailed(rc *Context, wf *Workflow, ds *dispatchState, id string, cause error, enqueue func(string), start time.Time) {
	ve := asVertexError(id, cause)
	if s.cfg.metrics != nil {
		s.cfg.metrics.RecordStepLatency(rc.RunID, id, time.Since(start), "failed")
	}
	rc.publish(emit.VertexFailed, id, map[string]any{"error": ve.Error()})
	s.complete(rc, wf, ds, id, outcomeFailed, nil, ve, enqueue)
}

func (s *Scheduler) finishCancelled(rc *Context, wf *Workflow, ds *dispatchState, id string, enqueue func(string)) {
	ve := newVertexError(id, ErrCancelled, nil)
	rc.publish(emit.VertexFailed, id, map[string]any{"error": ve.Error()})
	s.complete(rc, wf, ds, id, outcomeFailed, nil, ve, enqueue)
}

// complete records id's outcome, fans it out across its outgoing edges,
// and recurses into any dependent that becomes skipped as a result — skip
// propagates transitively through its own outbound guards.
func (s *Scheduler) complete(rc *Context, wf *Workflow, ds *dispatchState, id string, kind outcomeKind, output map[string]any, ve *VertexError, enqueue func(string)) {
	ds.mu.Lock()
	switch kind {
	case outcomeCompleted:
		ds.state[id] = Completed
	case outcomeFailed:
		ds.state[id] = Failed
		ds.errs[id] = ve
	case outcomeSkipped:
		ds.state[id] = Skipped
		if s.cfg.metrics != nil {
			s.cfg.metrics.IncrementVertexSkipped(rc.RunID)
		}
	}
	ds.markTerminal()

	type pending struct {
		target string
		ready  bool
		skip   bool
	}
	var follow []pending

	for _, e := range wf.outEdges[id] {
		target := e.To
		delete(ds.pendingProducers[target], id)

		var satisfied bool
		switch kind {
		case outcomeCompleted:
			satisfied = e.Guard.Satisfied(output, false)
		case outcomeFailed:
			satisfied = e.Guard.Satisfied(nil, true)
		case outcomeSkipped:
			satisfied = false
		}
		if satisfied {
			ds.anySatisfied[target] = true
			if kind == outcomeFailed && s.cfg.metrics != nil {
				s.cfg.metrics.IncrementOnErrorRecovered(rc.RunID, id)
			}
		}

		if len(ds.pendingProducers[target]) == 0 && ds.state[target] == Pending {
			if ds.anySatisfied[target] {
				ds.state[target] = Ready
				follow = append(follow, pending{target: target, ready: true})
			} else {
				ds.state[target] = Skipped
				follow = append(follow, pending{target: target, skip: true})
			}
		}
	}
	ds.mu.Unlock()

	for _, f := range follow {
		if f.ready {
			enqueue(f.target)
		}
		if f.skip {
			s.complete(rc, wf, ds, f.target, outcomeSkipped, nil, nil, enqueue)
		}
	}
}

// recordUsage attaches an LLMVertex's token usage to the run's CostTracker,
// if both are present. LLMVertex tasks don't know their own vertex id at
// graph-build time (see Context.CostTracker), so attribution happens here,
// once the scheduler already knows which vertex just completed.
func recordUsage(ct *CostTracker, id string, output map[string]any) {
	if ct == nil || output == nil {
		return
	}
	usage, ok := output["usage"].(map[string]any)
	if !ok {
		return
	}
	model, _ := usage["model"].(string)
	if model == "" {
		return
	}
	in, _ := usage["input_tokens"].(int)
	out, _ := usage["output_tokens"].(int)
	if err := ct.RecordLLMCall(model, in, out, id); errors.Is(err, ErrBudgetExceeded) {
		slog.Warn("cost budget exceeded", "run_id", ct.RunID, "vertex_id", id, "total_cost", ct.GetTotalCost(), "budget", ct.Budget)
	}
}

// recordToolMetrics counts an LLMVertex's tool invocations by name and
// outcome, read back from the tool_trace entries buildLLMOutput attaches.
func recordToolMetrics(metrics *PrometheusMetrics, runID, id string, output map[string]any) {
	if metrics == nil || output == nil {
		return
	}
	trace, ok := output["tool_trace"].([]map[string]any)
	if !ok {
		return
	}
	for _, entry := range trace {
		name, _ := entry["name"].(string)
		outcome := "ok"
		if _, failed := entry["error"]; failed {
			outcome = "error"
		}
		metrics.IncrementToolCalls(runID, id, name, outcome)
	}
}

// asVertexError normalizes any task/resolver error into a *VertexError
// tagged with id, reusing the Tag already present on resolver errors and
// falling back to TaskException for everything else.
func asVertexError(id string, err error) *VertexError {
	var ve *VertexError
	if as, ok := err.(*VertexError); ok {
		ve = as
		if ve.VertexID == "" {
			ve.VertexID = id
		}
		return ve
	}
	return newVertexError(id, ErrTaskException, err)
}
