package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ModelPricing holds per-million-token input/output costs in USD for one
// model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing seeds the tracker with rough per-provider rates so a
// local run gets a cost estimate out of the box; callers running their own
// or locally-hosted models should override entries with SetCustomPricing
// rather than trust these for billing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// ErrBudgetExceeded is returned by RecordLLMCall once a call would push the
// tracker's cumulative spend past its configured Budget. The call is still
// recorded — Budget is a soft tripwire, not a hard pre-call admission
// check: the scheduler logs a warning when it trips and the LLM vertex
// still completes.
var ErrBudgetExceeded = errors.New("graph: cost budget exceeded")

// LLMCall is one recorded LLM invocation.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	VertexID     string
}

// CostTracker accumulates token usage and USD cost across every LLMVertex
// invocation in a run, attributed per model and per vertex. One tracker is
// shared across a Scheduler's whole run tree (outer run plus any nested
// Group/WhileGroup subgraph runs), mirroring the scheduler's shared worker
// pool: a nested subgraph's LLM calls count against the same run-level
// budget as the outer graph's.
type CostTracker struct {
	RunID    string
	Currency string
	Pricing  map[string]ModelPricing

	// Budget caps cumulative cost; zero means unbounded.
	Budget float64

	Calls        []LLMCall
	TotalCost    float64
	ModelCosts   map[string]float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker returns a tracker seeded with the default pricing table and
// no spend cap. Use WithBudget to cap spend.
func NewCostTracker(runID, currency string) *CostTracker {
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    defaultModelPricing,
		Calls:      make([]LLMCall, 0, 16),
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// WithBudget sets a cumulative USD spend cap and returns the tracker for
// chaining.
func (ct *CostTracker) WithBudget(budget float64) *CostTracker {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Budget = budget
	return ct
}

// RecordLLMCall records one invocation's token usage, attributes its cost
// to model and vertexID, and returns ErrBudgetExceeded if the tracker's
// Budget is now exceeded. A model absent from the pricing table is recorded
// at zero cost rather than rejected, since an unpriced model (a local or
// self-hosted one) is still worth counting tokens for.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, vertexID string) error {
	if !ct.enabled {
		return nil
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing, ok := ct.Pricing[model]
	if !ok {
		pricing = ModelPricing{}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	cost := inputCost + outputCost

	ct.Calls = append(ct.Calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		VertexID:     vertexID,
	})
	ct.TotalCost += cost
	ct.ModelCosts[model] += cost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)

	if ct.Budget > 0 && ct.TotalCost > ct.Budget {
		return ErrBudgetExceeded
	}
	return nil
}

// GetTotalCost returns cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCallHistory returns a copy of every recorded call, oldest first.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.Calls))
	copy(calls, ct.Calls)
	return calls
}

// GetTokenUsage returns cumulative input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides (or adds) the pricing entry for model, for
// enterprise rates or models absent from the default table.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable suspends recording; RecordLLMCall becomes a no-op until Enable.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and cumulative totals; pricing and Budget are
// preserved.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.Calls = make([]LLMCall, 0, 16)
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

// String returns a one-line human-readable summary.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.Calls), ct.TotalCost, ct.Currency, ct.InputTokens, ct.OutputTokens,
	)
}
