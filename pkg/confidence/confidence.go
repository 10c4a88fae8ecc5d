// Package confidence tracks per-node execution outcomes and turns them
// into a statistically defensible migration recommendation using a
// Wilson score lower bound.
//
// Grounded on original_source/python/vesper_verification/confidence.py
// (ConfidenceTracker): the Wilson lower-bound formula, minimum sample
// threshold, and recommended-mode thresholds are a direct port.
package confidence

import (
	"encoding/json"
	"sync"
	"time"

	"math"
)

// MinSampleSize is the minimum number of recorded executions before a
// node's confidence is considered statistically meaningful.
const MinSampleSize = 100

// ZScore is the one-sided z-value used for the Wilson lower bound,
// approximately a 99.9% confidence level.
const ZScore = 3.29

// Mode names a recommended execution mode for a node.
type Mode string

const (
	ModeOracleOnly Mode = "oracle_only"
	ModeShadow     Mode = "shadow"
	ModeCanary     Mode = "canary"
	ModeDualVerify Mode = "dual_verify"
	ModeDirectOnly Mode = "direct_only"
)

// Thresholds on the Wilson lower bound that decide the recommended
// mode, matching spec.md §4.2/§3 Routing configuration literally.
const (
	CanaryThreshold     = 0.95
	DualVerifyThreshold = 0.999
	DirectOnlyThreshold = 0.9999
)

// nodeCounters holds the running tallies for one node. divergences,
// oracleErrors, and candidateErrors are each bounded by total at all
// times (spec.md §3 invariant).
type nodeCounters struct {
	total           int64
	divergences     int64
	oracleErrors    int64
	candidateErrors int64
	lastUpdated     time.Time
}

// Tracker records execution outcomes per node and derives a Wilson
// score lower bound and a recommended execution mode from them. Safe
// for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	nodes map[string]*nodeCounters
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{nodes: make(map[string]*nodeCounters)}
}

// RecordExecution increments nodeID's counters for one dual-execution
// (or shadow-execution) outcome: diverged reports whether the
// comparator judged the outputs unequal, oracleError/candidateError
// report whether either path raised an error.
func (t *Tracker) RecordExecution(nodeID string, diverged, oracleError, candidateError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.nodes[nodeID]
	if !ok {
		c = &nodeCounters{}
		t.nodes[nodeID] = c
	}
	c.total++
	if diverged {
		c.divergences++
	}
	if oracleError {
		c.oracleErrors++
	}
	if candidateError {
		c.candidateErrors++
	}
	c.lastUpdated = time.Now()
}

// Confidence returns the Wilson score lower bound for nodeID's
// non-divergence rate. Per spec.md §3, confidence is undefined (0.0)
// until total >= MinSampleSize.
func (t *Tracker) Confidence(nodeID string) float64 {
	t.mu.RLock()
	var total, divergences int64
	if c, exists := t.nodes[nodeID]; exists {
		total, divergences = c.total, c.divergences
	}
	t.mu.RUnlock()
	if total < MinSampleSize {
		return 0.0
	}
	n := float64(total)
	s := float64(total - divergences)
	return wilsonLowerBound(s, n, ZScore)
}

// wilsonLowerBound computes the lower bound of the Wilson score
// interval for s successes out of n trials at z standard deviations,
// per spec.md §4.2's literal formula.
func wilsonLowerBound(s, n, z float64) float64 {
	if n == 0 {
		return 0
	}
	p := s / n
	z2 := z * z
	denom := 1 + z2/n
	centre := (p + z2/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom
	conf := centre - margin
	if conf < 0 {
		return 0
	}
	return conf
}

// RecommendedMode maps a node's current confidence into a recommended
// execution mode, per spec.md §4.2's four literal bands. A node with
// too few samples always recommends oracle-only. Shadow mode is never
// confidence-derived: it is selected explicitly by a forced mode or a
// node override (spec.md §4.5), so it does not appear as a band here.
func (t *Tracker) RecommendedMode(nodeID string) Mode {
	conf := t.Confidence(nodeID)
	switch {
	case conf >= DirectOnlyThreshold:
		return ModeDirectOnly
	case conf >= DualVerifyThreshold:
		return ModeDualVerify
	case conf >= CanaryThreshold:
		return ModeCanary
	default:
		return ModeOracleOnly
	}
}

// Total returns nodeID's recorded execution count.
func (t *Tracker) Total(nodeID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.nodes[nodeID]; ok {
		return c.total
	}
	return 0
}

// Counters is the JSON-serializable snapshot of one node's tallies,
// matching spec.md §6's Confidence snapshot document shape.
type Counters struct {
	NodeID          string `json:"node_id"`
	Total           int64  `json:"total_executions"`
	Divergences     int64  `json:"divergences"`
	OracleErrors    int64  `json:"oracle_errors"`
	CandidateErrors int64  `json:"candidate_errors"`
	LastUpdated     int64  `json:"last_updated_epoch_seconds"`
}

// Snapshot produces a stable snapshot of all tracked nodes, suitable
// for persistence and later Restore.
func (t *Tracker) Snapshot() map[string]Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Counters, len(t.nodes))
	for id, c := range t.nodes {
		out[id] = Counters{
			NodeID:          id,
			Total:           c.total,
			Divergences:     c.divergences,
			OracleErrors:    c.oracleErrors,
			CandidateErrors: c.candidateErrors,
			LastUpdated:     c.lastUpdated.Unix(),
		}
	}
	return out
}

// SnapshotJSON marshals Snapshot's output to JSON.
func (t *Tracker) SnapshotJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// Restore replaces the tracker's state with a previously captured
// snapshot, reconstructing counters bit-for-bit (spec.md Testable
// Property 13: restored state yields identical confidence).
func (t *Tracker) Restore(snapshot map[string]Counters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[string]*nodeCounters, len(snapshot))
	for id, c := range snapshot {
		t.nodes[id] = &nodeCounters{
			total:           c.Total,
			divergences:     c.Divergences,
			oracleErrors:    c.OracleErrors,
			candidateErrors: c.CandidateErrors,
			lastUpdated:     time.Unix(c.LastUpdated, 0),
		}
	}
}

// RestoreJSON parses JSON produced by SnapshotJSON and restores the
// tracker's state from it.
func (t *Tracker) RestoreJSON(data []byte) error {
	var snapshot map[string]Counters
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	t.Restore(snapshot)
	return nil
}

// Reset clears nodeID's counters entirely, the only sanctioned way to
// reset an otherwise monotonically non-decreasing counter set
// (spec.md §3: "Counters reset only by explicit admin action").
func (t *Tracker) Reset(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, nodeID)
}
