package divergence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/vesper-verify/pkg/comparator"
)

func TestAddAndByNodeReturnsNewestFirst(t *testing.T) {
	s := NewStore(10, "")
	s.Add(NewRecord("node_v1", nil, nil, nil, nil, "dual_verify"))
	s.Add(NewRecord("node_v1", nil, nil, nil, nil, "shadow"))
	s.Add(NewRecord("node_v1", nil, nil, nil, nil, "canary"))

	recs := s.ByNode("node_v1", 0, 0)
	require.Len(t, recs, 3)
	assert.Equal(t, "canary", recs[0].ModeTag)
	assert.Equal(t, "dual_verify", recs[2].ModeTag)
}

func TestByNodeRespectsOffsetAndLimit(t *testing.T) {
	s := NewStore(10, "")
	for i := 0; i < 5; i++ {
		s.Add(NewRecord("node_v1", nil, nil, nil, nil, "dual_verify"))
	}
	recs := s.ByNode("node_v1", 2, 2)
	assert.Len(t, recs, 2)
}

func TestByNodeUnknownNodeReturnsNil(t *testing.T) {
	s := NewStore(10, "")
	assert.Nil(t, s.ByNode("missing", 0, 0))
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	s := NewStore(3, "")
	for i := 0; i < 5; i++ {
		s.Add(NewRecord("node_v1", nil, nil, i, nil, "dual_verify"))
	}
	recs := s.ByNode("node_v1", 0, 0)
	require.Len(t, recs, 3)
	assert.Equal(t, 4, recs[0].CandidateOutput)
	assert.Equal(t, 2, recs[2].CandidateOutput)
}

func TestByTimeRangeFiltersAcrossNodes(t *testing.T) {
	s := NewStore(10, "")
	now := time.Now()

	old := NewRecord("node_a", nil, nil, nil, nil, "dual_verify")
	old.Timestamp = now.Add(-time.Hour)
	s.Add(old)

	recent := NewRecord("node_b", nil, nil, nil, nil, "dual_verify")
	recent.Timestamp = now
	s.Add(recent)

	out := s.ByTimeRange(now.Add(-time.Minute), now.Add(time.Minute))
	require.Len(t, out, 1)
	assert.Equal(t, "node_b", out[0].NodeID)
}

func TestStatsSummarizesModeTagsAndDiffKinds(t *testing.T) {
	s := NewStore(10, "")
	report := &comparator.Report{Differences: []comparator.Difference{
		{Kind: comparator.KindNumericMismatch},
		{Kind: comparator.KindNumericMismatch},
		{Kind: comparator.KindTypeMismatch},
	}}
	s.Add(NewRecord("node_v1", nil, nil, nil, report, "dual_verify"))
	s.Add(NewRecord("node_v1", nil, nil, nil, nil, "shadow"))

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "node_v1", stats[0].NodeID)
	assert.Equal(t, 2, stats[0].Total)
	assert.Equal(t, 1, stats[0].ByModeTag["dual_verify"])
	assert.Equal(t, 1, stats[0].ByModeTag["shadow"])
	require.NotEmpty(t, stats[0].TopDiffKinds)
	assert.Equal(t, comparator.KindNumericMismatch, stats[0].TopDiffKinds[0].Kind)
	assert.Equal(t, 2, stats[0].TopDiffKinds[0].Count)
}

func TestClearSingleNodeAndWholeStore(t *testing.T) {
	s := NewStore(10, "")
	s.Add(NewRecord("node_a", nil, nil, nil, nil, "dual_verify"))
	s.Add(NewRecord("node_b", nil, nil, nil, nil, "dual_verify"))

	s.Clear("node_a")
	assert.Nil(t, s.ByNode("node_a", 0, 0))
	assert.Len(t, s.ByNode("node_b", 0, 0), 1)

	s.Clear("")
	assert.Nil(t, s.ByNode("node_b", 0, 0))
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "divergences.json")

	s := NewStore(10, path)
	s.Add(NewRecord("node_v1", map[string]interface{}{"x": 1}, "oracle_out", "candidate_out", nil, "dual_verify"))
	require.NoError(t, s.Persist())

	restored := NewStore(10, path)
	require.NoError(t, restored.Load())

	recs := restored.ByNode("node_v1", 0, 0)
	require.Len(t, recs, 1)
	assert.Equal(t, "oracle_out", recs[0].OracleOutput)
	assert.Equal(t, "candidate_out", recs[0].CandidateOutput)
}

func TestPersistNoopWithoutPath(t *testing.T) {
	s := NewStore(10, "")
	s.Add(NewRecord("node_v1", nil, nil, nil, nil, "dual_verify"))
	assert.NoError(t, s.Persist())
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(10, filepath.Join(dir, "absent.json"))
	assert.NoError(t, s.Load())
	assert.Nil(t, s.ByNode("node_v1", 0, 0))
}
