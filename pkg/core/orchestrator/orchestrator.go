// Package orchestrator composes the runtime, router, comparator,
// confidence tracker, metrics aggregator, divergence store, and shadow
// executor into a single entry point: execute one node invocation in
// whichever mode routing recommends, and never let an error escape to
// the caller.
//
// Grounded on the teacher's pkg/core/orchestrator.Orchestrator for the
// overall shape (a constructor wiring every collaborator, a per-mode
// dispatch method, defer-based fallback-on-failure handling) and on
// original_source/python/vesper_runtime/executor.py's
// ExecutionOrchestrator for the exact per-mode semantics and the
// catch-everything-then-fall-back-to-oracle-once policy.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jihwankim/vesper-verify/pkg/comparator"
	"github.com/jihwankim/vesper-verify/pkg/confidence"
	"github.com/jihwankim/vesper-verify/pkg/config"
	"github.com/jihwankim/vesper-verify/pkg/contract"
	"github.com/jihwankim/vesper-verify/pkg/divergence"
	"github.com/jihwankim/vesper-verify/pkg/metrics"
	"github.com/jihwankim/vesper-verify/pkg/nodespec"
	"github.com/jihwankim/vesper-verify/pkg/routing"
	"github.com/jihwankim/vesper-verify/pkg/runtime"
	"github.com/jihwankim/vesper-verify/pkg/shadow"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

// Path names which runtime produced an ExecutionResult.
type Path string

const (
	PathOracle    Path = "oracle"
	PathCandidate Path = "candidate"
)

// ExecutionResult is the outcome of one node invocation, matching
// spec.md §4.7's ExecutionResult record.
type ExecutionResult struct {
	Output        value.Value
	ExecutionTime time.Duration
	PathUsed      Path
	TraceID       string
	Success       bool
	Err           error
}

// DualExecutionResult is the outcome of a dual-verify comparison,
// matching spec.md §4.7's DualExecutionResult record.
type DualExecutionResult struct {
	OracleResult     ExecutionResult
	CandidateResult  *ExecutionResult
	Diverged         bool
	DivergenceReport *comparator.Report // nil when outputs matched
}

// Orchestrator composes every collaborator needed to execute a node
// invocation in any of the five routing modes.
type Orchestrator struct {
	oracle    *runtime.HandlerRegistry
	candidate *runtime.HandlerRegistry

	router     *routing.Router
	confidence *confidence.Tracker
	metricsAgg *metrics.Aggregator
	divStore   *divergence.Store
	shadowExec *shadow.Executor
	comparer   *comparator.Comparator

	contractEnabled bool
	contractChecker *contract.Checker
	contractsMu     sync.RWMutex
	contracts       map[string]nodespec.Spec
}

// NewFromConfig builds an Orchestrator and all of its collaborators
// from a loaded config.Config: the confidence tracker, the router (with
// its thresholds and node overrides), the metrics aggregator's sample
// window, the divergence store's capacity and snapshot path, the
// shadow executor's in-flight bound, and the comparator's tolerance
// policy. If cfg.Divergence.SnapshotPath is set, any prior snapshot is
// loaded before the Orchestrator is returned.
func NewFromConfig(cfg *config.Config, oracle, candidate *runtime.HandlerRegistry) (*Orchestrator, error) {
	confidenceTracker := confidence.NewTracker()

	router := routing.NewRouter(confidenceTracker, cfg.Routing.ToRouterConfig(), nil)
	cfg.Routing.ApplyOverrides(router)

	divStore := divergence.NewStore(cfg.Divergence.MaxRecordsPerNode, cfg.Divergence.SnapshotPath)
	if err := divStore.Load(); err != nil {
		return nil, fmt.Errorf("orchestrator: loading divergence snapshot: %w", err)
	}

	orch := New(
		oracle, candidate,
		router,
		confidenceTracker,
		metrics.NewAggregator(cfg.Metrics.MaxSamplesPerNode),
		divStore,
		shadow.NewExecutor(cfg.Shadow.MaxInFlight),
		comparator.New(cfg.Comparator.ToComparatorConfig()),
	)
	orch.contractEnabled = cfg.Contract.Enabled
	return orch, nil
}

// New builds an Orchestrator wiring every collaborator. Any of router,
// confidenceTracker, metricsAgg, divStore, shadowExec, or cmp may be
// nil; New substitutes a usable default for each so the orchestrator
// always degrades gracefully rather than panicking on a nil field.
func New(oracle, candidate *runtime.HandlerRegistry, router *routing.Router, confidenceTracker *confidence.Tracker, metricsAgg *metrics.Aggregator, divStore *divergence.Store, shadowExec *shadow.Executor, cmp *comparator.Comparator) *Orchestrator {
	if confidenceTracker == nil {
		confidenceTracker = confidence.NewTracker()
	}
	if router == nil {
		router = routing.NewRouter(confidenceTracker, routing.DefaultConfig(), nil)
	}
	if metricsAgg == nil {
		metricsAgg = metrics.NewAggregator(0)
	}
	if divStore == nil {
		divStore = divergence.NewStore(0, "")
	}
	if shadowExec == nil {
		shadowExec = shadow.NewExecutor(0)
	}
	if cmp == nil {
		cmp = comparator.New(comparator.DefaultConfig())
	}
	return &Orchestrator{
		oracle:          oracle,
		candidate:       candidate,
		router:          router,
		confidence:      confidenceTracker,
		metricsAgg:      metricsAgg,
		divStore:        divStore,
		shadowExec:      shadowExec,
		comparer:        cmp,
		contractChecker: contract.New(),
		contracts:       make(map[string]nodespec.Spec),
	}
}

// RegisterContract binds spec's pre/postconditions to spec.NodeID, used
// by invoke when contract checking is enabled. Registering a spec with
// no pre/postconditions is harmless (nothing to check).
func (o *Orchestrator) RegisterContract(spec nodespec.Spec) {
	o.contractsMu.Lock()
	defer o.contractsMu.Unlock()
	o.contracts[spec.NodeID] = spec
}

func (o *Orchestrator) contractFor(nodeID string) (nodespec.Spec, bool) {
	o.contractsMu.RLock()
	defer o.contractsMu.RUnlock()
	spec, ok := o.contracts[nodeID]
	return spec, ok
}

// SetContractEnabled toggles precondition/postcondition enforcement, per
// spec.md §7: "surfaces only when contract checking is enabled;
// otherwise silent."
func (o *Orchestrator) SetContractEnabled(enabled bool) {
	o.contractEnabled = enabled
}

// Router exposes the underlying Router, so callers can add node
// overrides, force a global mode (e.g. the emergency kill switch), or
// adjust thresholds without reconstructing the Orchestrator.
func (o *Orchestrator) Router() *routing.Router { return o.router }

// Confidence exposes the underlying confidence Tracker, for admin
// snapshot/restore and introspection endpoints.
func (o *Orchestrator) Confidence() *confidence.Tracker { return o.confidence }

// Metrics exposes the underlying metrics Aggregator, for Prometheus
// and JSON export endpoints.
func (o *Orchestrator) Metrics() *metrics.Aggregator { return o.metricsAgg }

// Divergences exposes the underlying divergence Store, for triage
// queries and admin clear operations.
func (o *Orchestrator) Divergences() *divergence.Store { return o.divStore }

// Shadow exposes the underlying Shadow Executor, for graceful-shutdown
// callers that want to await in-flight background candidate runs.
func (o *Orchestrator) Shadow() *shadow.Executor { return o.shadowExec }

// Execute runs one invocation of nodeID in whichever mode forcedMode
// (if non-empty) or the router recommends, per spec.md §4.7's per-mode
// semantics table. It never returns an error: failures are reported
// via ExecutionResult.Success/Err.
func (o *Orchestrator) Execute(ctx context.Context, nodeID string, inputs value.Value, forcedMode routing.Mode) ExecutionResult {
	traceID := uuid.NewString()

	decision := o.decisionFor(nodeID, inputs, forcedMode)

	result := o.dispatch(ctx, nodeID, inputs, traceID, decision)
	if result.Success {
		return result
	}

	// Any failure anywhere in the per-mode path falls back to a single
	// oracle-only attempt; if that also fails, the second error wins.
	fallback := o.executeOracle(ctx, nodeID, inputs, traceID)
	if !fallback.Success {
		fallback.Err = fmt.Errorf("primary path failed (%w), fallback also failed: %v", result.Err, fallback.Err)
	}
	return fallback
}

// ExecuteDual always performs a full dual-verify comparison, regardless
// of routing, matching spec.md §4.7's explicit execute_dual entry
// point (used directly by the differential harness).
func (o *Orchestrator) ExecuteDual(ctx context.Context, nodeID string, inputs value.Value) DualExecutionResult {
	traceID := uuid.NewString()
	return o.executeDualVerify(ctx, nodeID, inputs, traceID)
}

func (o *Orchestrator) decisionFor(nodeID string, inputs value.Value, forcedMode routing.Mode) routing.Decision {
	if forcedMode != "" {
		o.router.SetForcedMode(forcedMode)
		defer o.router.SetForcedMode("")
	}
	return o.router.Route(nodeID, inputs)
}

func (o *Orchestrator) dispatch(ctx context.Context, nodeID string, inputs value.Value, traceID string, decision routing.Decision) (result ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking handler must never escape the orchestrator;
			// Execute's caller treats a zero-value, unsuccessful result
			// the same as any other failure and retries oracle-only.
			result = ExecutionResult{TraceID: traceID, Success: false, Err: fmt.Errorf("orchestrator: panic during %s dispatch: %v", decision.Mode, r)}
		}
	}()

	switch decision.Mode {
	case routing.ModeOracleOnly:
		return o.executeOracle(ctx, nodeID, inputs, traceID)

	case routing.ModeShadow:
		oracleRes := o.executeOracle(ctx, nodeID, inputs, traceID)
		o.shadowExec.Submit(context.Background(), func(shadowCtx context.Context) {
			o.executeShadowCandidate(shadowCtx, nodeID, inputs, traceID, oracleRes)
		})
		return oracleRes

	case routing.ModeCanary:
		if decision.UseCandidate {
			candRes := o.executeCandidate(ctx, nodeID, inputs, traceID)
			if candRes.Success {
				return candRes
			}
		}
		return o.executeOracle(ctx, nodeID, inputs, traceID)

	case routing.ModeDualVerify:
		dual := o.executeDualVerify(ctx, nodeID, inputs, traceID)
		return dual.OracleResult

	case routing.ModeDirectOnly:
		if decision.VerifyOutputs {
			dual := o.executeDualVerify(ctx, nodeID, inputs, traceID)
			if dual.CandidateResult != nil {
				return *dual.CandidateResult
			}
			return dual.OracleResult
		}
		candRes := o.executeCandidate(ctx, nodeID, inputs, traceID)
		if candRes.Success {
			return candRes
		}
		return o.executeOracle(ctx, nodeID, inputs, traceID)

	default:
		return o.executeOracle(ctx, nodeID, inputs, traceID)
	}
}

func (o *Orchestrator) executeOracle(ctx context.Context, nodeID string, inputs value.Value, traceID string) ExecutionResult {
	return o.invoke(ctx, o.oracle, PathOracle, nodeID, inputs, traceID)
}

func (o *Orchestrator) executeCandidate(ctx context.Context, nodeID string, inputs value.Value, traceID string) ExecutionResult {
	return o.invoke(ctx, o.candidate, PathCandidate, nodeID, inputs, traceID)
}

func (o *Orchestrator) invoke(ctx context.Context, registry *runtime.HandlerRegistry, path Path, nodeID string, inputs value.Value, traceID string) ExecutionResult {
	start := time.Now()

	preScope := contract.NewScope(inputs, value.Null())
	if err := o.checkPreconditions(nodeID, preScope); err != nil {
		elapsed := time.Since(start)
		o.metricsAgg.Record(nodeID, metrics.Sample{Path: metrics.Path(path), LatencyMs: float64(elapsed) / float64(time.Millisecond), Errored: true, At: start})
		return ExecutionResult{ExecutionTime: elapsed, PathUsed: path, TraceID: traceID, Success: false, Err: err}
	}

	inputMap, _ := inputs.AsMap()
	output, err := registry.Execute(ctx, nodeID, inputMap)
	elapsed := time.Since(start)

	success := err == nil
	if success {
		outputVal := value.MapOf(output)
		if pErr := o.checkPostconditions(nodeID, contract.NewScope(inputs, outputVal), preScope); pErr != nil {
			success = false
			err = pErr
		}
	}

	o.metricsAgg.Record(nodeID, metrics.Sample{
		Path:      metrics.Path(path),
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
		Errored:   !success,
		At:        start,
	})

	if !success {
		return ExecutionResult{ExecutionTime: elapsed, PathUsed: path, TraceID: traceID, Success: false, Err: err}
	}
	return ExecutionResult{
		Output:        value.MapOf(output),
		ExecutionTime: elapsed,
		PathUsed:      path,
		TraceID:       traceID,
		Success:       true,
	}
}

// checkPreconditions evaluates every registered precondition for nodeID
// against scope, stopping at the first violation. It is a no-op
// (silent per spec.md §7) unless contract checking is enabled and a
// contract is registered for nodeID.
func (o *Orchestrator) checkPreconditions(nodeID string, scope contract.Scope) error {
	if !o.contractEnabled {
		return nil
	}
	spec, ok := o.contractFor(nodeID)
	if !ok {
		return nil
	}
	for _, expr := range spec.Preconditions {
		if err := o.contractChecker.CheckPrecondition(expr, scope); err != nil {
			return err
		}
	}
	return nil
}

// checkPostconditions evaluates every registered postcondition for
// nodeID against scope, with old resolving any old(...) subexpressions
// against the pre-execution snapshot.
func (o *Orchestrator) checkPostconditions(nodeID string, scope, old contract.Scope) error {
	if !o.contractEnabled {
		return nil
	}
	spec, ok := o.contractFor(nodeID)
	if !ok {
		return nil
	}
	for _, expr := range spec.Postconditions {
		if err := o.contractChecker.CheckPostcondition(expr, scope, old); err != nil {
			return err
		}
	}
	return nil
}

// executeShadowCandidate runs the candidate path in the background for
// shadow mode, then compares its output to the oracle result already
// returned to the caller, updating confidence and the divergence store
// exactly as executeDualVerify does. The caller's response has already
// been sent by the time this runs: nothing here can affect it.
func (o *Orchestrator) executeShadowCandidate(ctx context.Context, nodeID string, inputs value.Value, traceID string, oracleResult ExecutionResult) {
	candidateResult := o.executeCandidate(ctx, nodeID, inputs, traceID)

	if !oracleResult.Success {
		o.confidence.RecordExecution(nodeID, true, true, !candidateResult.Success)
		return
	}
	if !candidateResult.Success {
		o.confidence.RecordExecution(nodeID, true, false, true)
		rec := divergence.NewRecord(nodeID, inputs.Raw(), oracleResult.Output.Raw(), nil, nil, string(routing.ModeShadow))
		o.divStore.Add(rec)
		return
	}

	report := o.comparer.Compare(oracleResult.Output, candidateResult.Output)
	diverged := report != nil
	o.confidence.RecordExecution(nodeID, diverged, false, false)
	if diverged {
		rec := divergence.NewRecord(nodeID, inputs.Raw(), oracleResult.Output.Raw(), candidateResult.Output.Raw(), report, string(routing.ModeShadow))
		o.divStore.Add(rec)
	}
}

// executeDualVerify invokes both runtimes concurrently, compares their
// outputs, records divergence/confidence/metrics, and always returns
// the oracle result as OracleResult (§4.7: "always oracle result").
func (o *Orchestrator) executeDualVerify(ctx context.Context, nodeID string, inputs value.Value, traceID string) DualExecutionResult {
	var oracleResult, candidateResult ExecutionResult
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		oracleResult = o.executeOracle(ctx, nodeID, inputs, traceID)
	}()
	go func() {
		defer wg.Done()
		candidateResult = o.executeCandidate(ctx, nodeID, inputs, traceID)
	}()
	wg.Wait()

	if !oracleResult.Success {
		// The oracle itself failed: nothing to compare against. The
		// caller's fallback path will retry oracle-only on its own.
		o.confidence.RecordExecution(nodeID, true, true, !candidateResult.Success)
		return DualExecutionResult{OracleResult: oracleResult, Diverged: true}
	}
	if !candidateResult.Success {
		o.confidence.RecordExecution(nodeID, true, false, true)
		rec := divergence.NewRecord(nodeID, inputs.Raw(), oracleResult.Output.Raw(), nil, nil, string(routing.ModeDualVerify))
		o.divStore.Add(rec)
		return DualExecutionResult{OracleResult: oracleResult, CandidateResult: &candidateResult, Diverged: true}
	}

	report := o.comparer.Compare(oracleResult.Output, candidateResult.Output)
	diverged := report != nil

	o.confidence.RecordExecution(nodeID, diverged, false, false)

	if diverged {
		rec := divergence.NewRecord(nodeID, inputs.Raw(), oracleResult.Output.Raw(), candidateResult.Output.Raw(), report, string(routing.ModeDualVerify))
		o.divStore.Add(rec)
	}

	return DualExecutionResult{
		OracleResult:     oracleResult,
		CandidateResult:  &candidateResult,
		Diverged:         diverged,
		DivergenceReport: report,
	}
}
