package orchestrator

import (
	"context"

	"github.com/jihwankim/vesper-verify/pkg/comparator"
	"github.com/jihwankim/vesper-verify/pkg/differential"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

// DifferentialAdapter satisfies pkg/differential.DualExecutor by
// delegating to an Orchestrator's ExecuteDual, translating between the
// harness's Value-agnostic interface{} inputs and this package's
// value.Value, and the comparator.Report it produces into the harness's
// plain DiffKind string list.
//
// Grounded on the teacher's adapter-shim pattern of wrapping one
// package's concrete result type to satisfy another package's narrower
// interface, kept as a single-purpose translation file rather than
// folded into Orchestrator itself so neither package needs to import
// the other's unrelated internals.
type DifferentialAdapter struct {
	orch *Orchestrator
}

// NewDifferentialAdapter wraps orch so it can be passed to
// differential.NewHarness.
func NewDifferentialAdapter(orch *Orchestrator) *DifferentialAdapter {
	return &DifferentialAdapter{orch: orch}
}

// ExecuteDual implements differential.DualExecutor.
func (a *DifferentialAdapter) ExecuteDual(ctx context.Context, nodeID string, input interface{}) (differential.DualResult, error) {
	dual := a.orch.ExecuteDual(ctx, nodeID, value.FromRaw(input))

	var oracleErr, candidateErr error
	if !dual.OracleResult.Success {
		oracleErr = dual.OracleResult.Err
	}
	if dual.CandidateResult != nil && !dual.CandidateResult.Success {
		candidateErr = dual.CandidateResult.Err
	}

	return differential.DualResult{
		Diverged:     dual.Diverged,
		DiffKinds:    diffKinds(dual.DivergenceReport),
		OracleErr:    oracleErr,
		CandidateErr: candidateErr,
	}, nil
}

func diffKinds(report *comparator.Report) []string {
	if report == nil {
		return nil
	}
	kinds := make([]string, 0, len(report.Differences))
	for _, d := range report.Differences {
		kinds = append(kinds, string(d.Kind))
	}
	return kinds
}
