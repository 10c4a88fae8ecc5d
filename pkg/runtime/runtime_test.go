package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/vesper-verify/pkg/value"
)

func TestExecuteReturnsErrNoHandlerWhenUnregistered(t *testing.T) {
	r := NewHandlerRegistry()
	_, err := r.Execute(context.Background(), "missing_node", value.Map{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestRegisterHandlerAndExecuteInvokesIt(t *testing.T) {
	r := NewHandlerRegistry()
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"echo": input["x"]}, nil
	})

	out, err := r.Execute(context.Background(), "node_v1", value.Map{"x": value.Int(5)})
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), out["echo"])
}

func TestHasReportsRegistrationState(t *testing.T) {
	r := NewHandlerRegistry()
	assert.False(t, r.Has("node_v1"))
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return nil, nil
	})
	assert.True(t, r.Has("node_v1"))
}

func TestRegisterHandlerReplacesExistingBinding(t *testing.T) {
	r := NewHandlerRegistry()
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"v": value.Int(1)}, nil
	})
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{"v": value.Int(2)}, nil
	})

	out, err := r.Execute(context.Background(), "node_v1", value.Map{})
	require.NoError(t, err)
	assert.Equal(t, value.Int(2), out["v"])
}

func TestExecutePropagatesHandlerError(t *testing.T) {
	r := NewHandlerRegistry()
	wantErr := errors.New("handler failed")
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return nil, wantErr
	})

	_, err := r.Execute(context.Background(), "node_v1", value.Map{})
	assert.ErrorIs(t, err, wantErr)
}

func TestExecuteRecoversFromHandlerPanic(t *testing.T) {
	r := NewHandlerRegistry()
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		panic("boom")
	})

	_, err := r.Execute(context.Background(), "node_v1", value.Map{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestZeroValueRegistryIsUsable(t *testing.T) {
	var r HandlerRegistry
	r.RegisterHandler("node_v1", func(ctx context.Context, input value.Map) (value.Map, error) {
		return value.Map{}, nil
	})
	assert.True(t, r.Has("node_v1"))
}
