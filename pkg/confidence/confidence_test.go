package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceIsZeroBelowMinSampleSize(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MinSampleSize-1; i++ {
		tr.RecordExecution("node_v1", false, false, false)
	}
	assert.Equal(t, 0.0, tr.Confidence("node_v1"))
	assert.Equal(t, ModeOracleOnly, tr.RecommendedMode("node_v1"))
}

func TestConfidenceRisesWithCleanExecutions(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MinSampleSize*20; i++ {
		tr.RecordExecution("node_v1", false, false, false)
	}
	conf := tr.Confidence("node_v1")
	assert.Greater(t, conf, CanaryThreshold)
}

func TestConfidenceDropsWithDivergences(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MinSampleSize; i++ {
		tr.RecordExecution("node_v1", true, false, false)
	}
	assert.Less(t, tr.Confidence("node_v1"), CanaryThreshold)
}

func TestRecommendedModeBands(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MinSampleSize*50; i++ {
		tr.RecordExecution("node_v1", false, false, false)
	}
	mode := tr.RecommendedMode("node_v1")
	assert.Contains(t, []Mode{ModeCanary, ModeDualVerify, ModeDirectOnly}, mode)
}

func TestTotalTracksRecordedExecutions(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, int64(0), tr.Total("node_v1"))
	tr.RecordExecution("node_v1", false, false, false)
	tr.RecordExecution("node_v1", true, false, false)
	assert.Equal(t, int64(2), tr.Total("node_v1"))
}

func TestSnapshotRestoreRoundTripsCountersExactly(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < MinSampleSize+5; i++ {
		tr.RecordExecution("node_v1", i%10 == 0, false, false)
	}
	before := tr.Confidence("node_v1")
	snapshot := tr.Snapshot()

	restored := NewTracker()
	restored.Restore(snapshot)

	assert.Equal(t, before, restored.Confidence("node_v1"))
	assert.Equal(t, tr.Total("node_v1"), restored.Total("node_v1"))
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.RecordExecution("node_v1", false, false, false)

	data, err := tr.SnapshotJSON()
	require.NoError(t, err)

	restored := NewTracker()
	require.NoError(t, restored.RestoreJSON(data))
	assert.Equal(t, tr.Total("node_v1"), restored.Total("node_v1"))
}

func TestResetClearsCounters(t *testing.T) {
	tr := NewTracker()
	tr.RecordExecution("node_v1", false, false, false)
	tr.Reset("node_v1")
	assert.Equal(t, int64(0), tr.Total("node_v1"))
}

func TestDivergencesNeverExceedTotalInvariant(t *testing.T) {
	tr := NewTracker()
	tr.RecordExecution("node_v1", true, false, false)
	tr.RecordExecution("node_v1", false, false, false)
	snapshot := tr.Snapshot()
	c := snapshot["node_v1"]
	assert.LessOrEqual(t, c.Divergences, c.Total)
}
