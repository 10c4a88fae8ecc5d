package differential

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu       sync.Mutex
	seen     []interface{}
	divergeOn map[int]bool
	errOn     map[int]error
}

func (f *fakeExecutor) ExecuteDual(ctx context.Context, nodeID string, input interface{}) (DualResult, error) {
	f.mu.Lock()
	f.seen = append(f.seen, input)
	f.mu.Unlock()

	idx := input.(int)
	if f.errOn != nil {
		if err, ok := f.errOn[idx]; ok {
			return DualResult{}, err
		}
	}
	if f.divergeOn != nil && f.divergeOn[idx] {
		return DualResult{Diverged: true, DiffKinds: []string{"numeric_mismatch"}}, nil
	}
	return DualResult{}, nil
}

func TestRunExecutesEveryInputExactlyOnce(t *testing.T) {
	inputs := make([]Input, 20)
	for i := range inputs {
		inputs[i] = Input{Index: i, Value: i}
	}
	h := NewHarness(&fakeExecutor{}, 4)
	batch := h.Run(context.Background(), "node_v1", inputs, nil)

	assert.Equal(t, 20, batch.Total)
	assert.Equal(t, 20, batch.Passed)
	assert.Equal(t, 0, batch.Failed)
	require.Len(t, batch.Results, 20)
	for i, r := range batch.Results {
		assert.Equal(t, i, r.Index)
	}
}

func TestRunReportsDivergencesAndFiresCallback(t *testing.T) {
	inputs := []Input{{Index: 0, Value: 0}, {Index: 1, Value: 1}, {Index: 2, Value: 2}}
	exec := &fakeExecutor{divergeOn: map[int]bool{1: true}}

	var mu sync.Mutex
	var fired []int
	h := NewHarness(exec, 2)
	batch := h.Run(context.Background(), "node_v1", inputs, func(r CaseResult) {
		mu.Lock()
		fired = append(fired, r.Index)
		mu.Unlock()
	})

	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 2, batch.Passed)
	require.Len(t, batch.Divergences, 1)
	assert.Equal(t, 1, batch.Divergences[0].Index)
	assert.Equal(t, []int{1}, fired)
}

func TestRunReportsExecutorErrorsAsFailures(t *testing.T) {
	wantErr := errors.New("oracle unreachable")
	inputs := []Input{{Index: 0, Value: 0}}
	exec := &fakeExecutor{errOn: map[int]error{0: wantErr}}

	h := NewHarness(exec, 1)
	batch := h.Run(context.Background(), "node_v1", inputs, nil)

	require.Len(t, batch.Errors, 1)
	assert.ErrorIs(t, batch.Errors[0].Err, wantErr)
	assert.False(t, batch.Results[0].Passed)
}

func TestBatchResultPassedPlusFailedEqualsTotal(t *testing.T) {
	inputs := make([]Input, 9)
	for i := range inputs {
		inputs[i] = Input{Index: i, Value: i}
	}
	exec := &fakeExecutor{divergeOn: map[int]bool{2: true, 5: true}}
	h := NewHarness(exec, 3)
	batch := h.Run(context.Background(), "node_v1", inputs, nil)

	assert.Equal(t, batch.Total, batch.Passed+batch.Failed)
}

func TestNewHarnessZeroWorkersUsesDefault(t *testing.T) {
	h := NewHarness(&fakeExecutor{}, 0)
	assert.Equal(t, DefaultWorkers, h.workers)
}

func TestRunEmptyInputsReturnsEmptyBatch(t *testing.T) {
	h := NewHarness(&fakeExecutor{}, 4)
	batch := h.Run(context.Background(), "node_v1", nil, nil)
	assert.Equal(t, 0, batch.Total)
	assert.Empty(t, batch.Results)
}

func TestFirstNonNilReturnsFirstNonNilError(t *testing.T) {
	err1 := errors.New("first")
	assert.Equal(t, err1, firstNonNil(nil, err1, errors.New("second")))
	assert.Nil(t, firstNonNil(nil, nil))
}
