package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/vesper-verify/pkg/config"
	"github.com/jihwankim/vesper-verify/pkg/nodespec"
	"github.com/jihwankim/vesper-verify/pkg/routing"
	"github.com/jihwankim/vesper-verify/pkg/runtime"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

func echoHandler() runtime.Handler {
	return func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": input["balance"]}, nil
	}
}

func failingHandler(err error) runtime.Handler {
	return func(ctx context.Context, input value.Map) (value.Map, error) {
		return nil, err
	}
}

func newTestOrchestrator() (*Orchestrator, *runtime.HandlerRegistry, *runtime.HandlerRegistry) {
	oracle := runtime.NewHandlerRegistry()
	candidate := runtime.NewHandlerRegistry()
	orch := New(oracle, candidate, nil, nil, nil, nil, nil, nil)
	return orch, oracle, candidate
}

func TestNewSubstitutesDefaultsForNilCollaborators(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	require.NotNil(t, orch.Router())
	require.NotNil(t, orch.Confidence())
	require.NotNil(t, orch.Metrics())
	require.NotNil(t, orch.Divergences())
	require.NotNil(t, orch.Shadow())
}

func TestExecuteOracleOnlyReturnsOracleOutput(t *testing.T) {
	orch, oracle, _ := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{"balance": value.Int(10)}), routing.ModeOracleOnly)
	require.True(t, res.Success)
	assert.Equal(t, PathOracle, res.PathUsed)
	m, _ := res.Output.AsMap()
	assert.Equal(t, value.Int(10), m["balance"])
}

func TestExecuteFallsBackToOracleWhenPrimaryPathFails(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())
	candidate.RegisterHandler("node_v1", failingHandler(errors.New("candidate broke")))

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{"balance": value.Int(5)}), routing.ModeDirectOnly)
	require.True(t, res.Success)
	assert.Equal(t, PathOracle, res.PathUsed)
}

func TestExecuteReturnsCombinedErrorWhenBothPathsFail(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", failingHandler(errors.New("oracle broke")))
	candidate.RegisterHandler("node_v1", failingHandler(errors.New("candidate broke")))

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{}), routing.ModeDirectOnly)
	assert.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestExecuteDualVerifyComparesBothPathsAndRecordsDivergence(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(100)}, nil
	})
	candidate.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(999)}, nil
	})

	dual := orch.ExecuteDual(context.Background(), "node_v1", value.MapOf(value.Map{}))
	require.True(t, dual.Diverged)
	require.NotNil(t, dual.DivergenceReport)

	recs := orch.Divergences().ByNode("node_v1", 0, 0)
	require.Len(t, recs, 1)
}

func TestExecuteDualVerifyMatchingOutputsDoNotDiverge(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())
	candidate.RegisterHandler("node_v1", echoHandler())

	dual := orch.ExecuteDual(context.Background(), "node_v1", value.MapOf(value.Map{"balance": value.Int(7)}))
	assert.False(t, dual.Diverged)
	assert.Nil(t, dual.DivergenceReport)
}

func TestShadowModeRecordsDivergenceInBackground(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(100)}, nil
	})
	candidate.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(200)}, nil
	})

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{}), routing.ModeShadow)
	require.True(t, res.Success)
	assert.Equal(t, PathOracle, res.PathUsed)

	remaining := orch.Shadow().AwaitPending(time.Second)
	require.Equal(t, 0, remaining)

	recs := orch.Divergences().ByNode("node_v1", 0, 0)
	require.Len(t, recs, 1)
	assert.Equal(t, string(routing.ModeShadow), recs[0].ModeTag)

	assert.Equal(t, int64(1), orch.Confidence().Total("node_v1"))
}

func TestContractPreconditionBlocksExecutionWhenEnabled(t *testing.T) {
	orch, oracle, _ := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())
	orch.RegisterContract(nodespec.Spec{
		NodeID:        "node_v1",
		Preconditions: []string{"input.balance >= 0"},
	})
	orch.SetContractEnabled(true)

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{"balance": value.Int(-5)}), routing.ModeOracleOnly)
	assert.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestContractViolationsAreSilentWhenDisabled(t *testing.T) {
	orch, oracle, _ := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())
	orch.RegisterContract(nodespec.Spec{
		NodeID:        "node_v1",
		Preconditions: []string{"input.balance >= 0"},
	})

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{"balance": value.Int(-5)}), routing.ModeOracleOnly)
	assert.True(t, res.Success)
}

func TestContractPostconditionBlocksOnOutputViolation(t *testing.T) {
	orch, oracle, _ := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(-1)}, nil
	})
	orch.RegisterContract(nodespec.Spec{
		NodeID:         "node_v1",
		Postconditions: []string{"output.balance >= 0"},
	})
	orch.SetContractEnabled(true)

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{}), routing.ModeOracleOnly)
	assert.False(t, res.Success)
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	orch, oracle, _ := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		panic("boom")
	})

	res := orch.Execute(context.Background(), "node_v1", value.MapOf(value.Map{}), routing.ModeOracleOnly)
	assert.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestNewFromConfigWiresContractEnabledFlag(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Contract.Enabled = true
	oracle := runtime.NewHandlerRegistry()
	candidate := runtime.NewHandlerRegistry()
	oracle.RegisterHandler("node_v1", echoHandler())

	orch, err := NewFromConfig(cfg, oracle, candidate)
	require.NoError(t, err)
	assert.True(t, orch.contractEnabled)
}

func TestExecuteDualVerifyOracleFailureMarksDivergedWithoutComparing(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", failingHandler(errors.New("oracle down")))
	candidate.RegisterHandler("node_v1", echoHandler())

	dual := orch.ExecuteDual(context.Background(), "node_v1", value.MapOf(value.Map{}))
	assert.True(t, dual.Diverged)
	assert.False(t, dual.OracleResult.Success)
}
