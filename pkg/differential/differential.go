// Package differential drives a batch of inputs through a dual
// execution path and collects pass/fail/divergence outcomes, bounded
// by a fixed worker pool rather than one goroutine per input.
//
// Grounded on original_source/python/vesper_verification/differential.py
// (DifferentialTester) for the batch result shape and per-input dual
// execution, and on this module's pkg/shadow.Executor for the
// bounded-worker-pool concurrency shape (itself grounded on
// pkg/emergency.Controller's mutex-guarded-state pattern).
package differential

import (
	"context"
	"sync"
	"time"
)

// DefaultWorkers bounds how many inputs execute concurrently when the
// caller does not specify a worker count.
const DefaultWorkers = 8

// DualExecutor runs one input through both the oracle and candidate
// paths and reports whether their outputs diverged. Implementations
// typically wrap pkg/core/orchestrator.Orchestrator.ExecuteDual.
type DualExecutor interface {
	ExecuteDual(ctx context.Context, nodeID string, input interface{}) (DualResult, error)
}

// DualResult is the outcome of one dual execution, independent of any
// particular Value representation so the harness stays decoupled from
// the runtime's concrete input/output types.
type DualResult struct {
	Diverged   bool
	DiffKinds  []string
	OracleErr  error
	CandidateErr error
}

// Input is one item in a differential batch. Index is the item's
// position in the batch (0 to len(inputs)-1): Run stores each result at
// that position, so results are reported in submission order even
// though workers complete out of order.
type Input struct {
	Index int
	Value interface{}
}

// CaseResult is the per-input outcome of a batch run.
type CaseResult struct {
	Index      int
	Passed     bool
	Diverged   bool
	DiffKinds  []string
	Err        error
	DurationMs float64
}

// BatchResult is the aggregate outcome of running a full input set
// through Run, matching spec.md §4.8's DifferentialResult record:
// Passed + Failed always equals Total, and every submitted input
// appears exactly once across Results.
type BatchResult struct {
	NodeID      string
	Total       int
	Passed      int
	Failed      int
	Divergences []CaseResult
	Errors      []CaseResult
	Results     []CaseResult
	DurationMs  float64
}

// OnDivergence is called synchronously, from the worker goroutine that
// observed it, for every input whose dual execution diverged. It must
// not block for long: a slow callback throttles the whole batch.
type OnDivergence func(CaseResult)

// Harness batches a fixed input set through a DualExecutor using a
// bounded pool of worker goroutines.
type Harness struct {
	executor DualExecutor
	workers  int
}

// NewHarness builds a Harness. A workers value <= 0 uses DefaultWorkers.
func NewHarness(executor DualExecutor, workers int) *Harness {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Harness{executor: executor, workers: workers}
}

// Run executes every input in inputs against nodeID, distributing work
// across h.workers goroutines, and blocks until all inputs have been
// executed exactly once. onDivergence, if non-nil, fires once per
// diverging input as soon as that worker observes it. If ctx is
// cancelled, inputs not yet handed to a worker are not executed; their
// Results entries stay zero-valued and count as failed.
func (h *Harness) Run(ctx context.Context, nodeID string, inputs []Input, onDivergence OnDivergence) BatchResult {
	start := time.Now()
	results := make([]CaseResult, len(inputs))

	work := make(chan Input)
	var wg sync.WaitGroup

	for w := 0; w < h.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				results[item.Index] = h.runOne(ctx, nodeID, item, onDivergence)
			}
		}()
	}

feed:
	for _, item := range inputs {
		select {
		case work <- item:
		case <-ctx.Done():
			// Stop feeding new work; workers finish the items they
			// already hold and then exit when the channel closes below.
			break feed
		}
	}
	close(work)
	wg.Wait()

	out := BatchResult{
		NodeID:     nodeID,
		Total:      len(results),
		Results:    results,
		DurationMs: float64(time.Since(start)) / float64(time.Millisecond),
	}
	for _, r := range results {
		if r.Passed {
			out.Passed++
		} else {
			out.Failed++
		}
		if r.Diverged {
			out.Divergences = append(out.Divergences, r)
		}
		if r.Err != nil {
			out.Errors = append(out.Errors, r)
		}
	}
	return out
}

func (h *Harness) runOne(ctx context.Context, nodeID string, item Input, onDivergence OnDivergence) CaseResult {
	start := time.Now()
	dual, err := h.executor.ExecuteDual(ctx, nodeID, item.Value)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	res := CaseResult{
		Index:      item.Index,
		DurationMs: elapsed,
	}
	if err != nil {
		res.Err = err
		res.Passed = false
		return res
	}

	res.Diverged = dual.Diverged
	res.DiffKinds = dual.DiffKinds
	if dual.OracleErr != nil || dual.CandidateErr != nil {
		res.Err = firstNonNil(dual.OracleErr, dual.CandidateErr)
	}
	res.Passed = !dual.Diverged && res.Err == nil

	if dual.Diverged && onDivergence != nil {
		onDivergence(res)
	}
	return res
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
