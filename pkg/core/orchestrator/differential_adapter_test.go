package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/vesper-verify/pkg/runtime"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

var errBoom = errors.New("handler failed")

func TestDifferentialAdapterReportsDivergenceAndDiffKinds(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(100)}, nil
	})
	candidate.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"balance": value.Int(500)}, nil
	})

	adapter := NewDifferentialAdapter(orch)
	res, err := adapter.ExecuteDual(context.Background(), "node_v1", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.True(t, res.Diverged)
	assert.NotEmpty(t, res.DiffKinds)
}

func TestDifferentialAdapterNoDivergenceWhenOutputsMatch(t *testing.T) {
	orch, oracle, candidate := newTestOrchestrator()
	oracle.RegisterHandler("node_v1", echoHandler())
	candidate.RegisterHandler("node_v1", echoHandler())

	adapter := NewDifferentialAdapter(orch)
	res, err := adapter.ExecuteDual(context.Background(), "node_v1", map[string]interface{}{"balance": 3})
	require.NoError(t, err)
	assert.False(t, res.Diverged)
	assert.Empty(t, res.DiffKinds)
}

func TestDifferentialAdapterSurfacesOracleError(t *testing.T) {
	oracle := runtime.NewHandlerRegistry()
	candidate := runtime.NewHandlerRegistry()
	oracle.RegisterHandler("node_v1", failingHandler(errBoom))
	candidate.RegisterHandler("node_v1", echoHandler())
	orch := New(oracle, candidate, nil, nil, nil, nil, nil, nil)

	adapter := NewDifferentialAdapter(orch)
	res, err := adapter.ExecuteDual(context.Background(), "node_v1", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, res.Diverged)
	require.Error(t, res.OracleErr)
}

func TestDifferentialAdapterSurfacesCandidateError(t *testing.T) {
	oracle := runtime.NewHandlerRegistry()
	candidate := runtime.NewHandlerRegistry()
	oracle.RegisterHandler("node_v1", echoHandler())
	candidate.RegisterHandler("node_v1", failingHandler(errBoom))
	orch := New(oracle, candidate, nil, nil, nil, nil, nil, nil)

	adapter := NewDifferentialAdapter(orch)
	res, err := adapter.ExecuteDual(context.Background(), "node_v1", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, res.Diverged)
	require.Error(t, res.CandidateErr)
}
