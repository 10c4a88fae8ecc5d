// Package divergence retains a bounded history of recorded output
// mismatches per node, with atomic persistence to disk.
//
// Grounded on original_source/python/vesper_verification/divergence.py
// (DivergenceStore) for the ring-buffer/query semantics, and on
// pkg/reporting.Storage's JSON persistence shape. The write-then-rename
// durability goes beyond both: the Python original and a plain JSON
// writer both write files directly, while this store must survive a
// crash mid-write without corrupting history.
package divergence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jihwankim/vesper-verify/pkg/comparator"
)

// DefaultCapacity bounds how many divergence records are retained per
// node before the oldest are evicted.
const DefaultCapacity = 1000

// Record is one observed divergence between oracle and candidate,
// matching spec.md §3's DivergenceRecord shape.
type Record struct {
	ID             string                 `json:"id"`
	NodeID         string                 `json:"node_id"`
	Inputs         interface{}            `json:"inputs,omitempty"`
	OracleOutput   interface{}            `json:"oracle_output,omitempty"`
	CandidateOutput interface{}           `json:"candidate_output,omitempty"`
	StructuredDiff *comparator.Report     `json:"structured_diff"`
	Timestamp      time.Time              `json:"timestamp"`
	ModeTag        string                 `json:"mode_tag"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewRecord builds a Record with a fresh ID and the current timestamp.
func NewRecord(nodeID string, inputs, oracleOut, candidateOut interface{}, diff *comparator.Report, modeTag string) Record {
	return Record{
		ID:              uuid.NewString(),
		NodeID:          nodeID,
		Inputs:          inputs,
		OracleOutput:    oracleOut,
		CandidateOutput: candidateOut,
		StructuredDiff:  diff,
		Timestamp:       time.Now(),
		ModeTag:         modeTag,
	}
}

type ring struct {
	buf  []Record
	cap  int
	head int
	size int
}

func newRing(cap int) *ring {
	return &ring{buf: make([]Record, cap), cap: cap}
}

func (r *ring) push(rec Record) {
	r.buf[r.head] = rec
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// ordered returns records oldest-first.
func (r *ring) ordered() []Record {
	out := make([]Record, 0, r.size)
	start := (r.head - r.size + r.cap) % r.cap
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%r.cap])
	}
	return out
}

// newestFirst returns records newest-first.
func (r *ring) newestFirst() []Record {
	ord := r.ordered()
	out := make([]Record, len(ord))
	for i, rec := range ord {
		out[len(ord)-1-i] = rec
	}
	return out
}

// Store holds a bounded per-node ring buffer of Records, optionally
// persisted to disk. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	nodes    map[string]*ring
	path     string
}

// NewStore builds a Store with the given per-node capacity. If path is
// non-empty, Persist writes snapshots there via write-then-rename.
func NewStore(capacity int, path string) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, nodes: make(map[string]*ring), path: path}
}

// Add records one divergence for rec.NodeID, assigning an ID if the
// caller left one unset.
func (s *Store) Add(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.mu.Lock()
	r, ok := s.nodes[rec.NodeID]
	if !ok {
		r = newRing(s.capacity)
		s.nodes[rec.NodeID] = r
	}
	r.push(rec)
	s.mu.Unlock()
}

// ByNode returns records for nodeID newest-first, skipping offset
// records and returning at most limit. A limit <= 0 returns all
// remaining records after offset.
func (s *Store) ByNode(nodeID string, offset, limit int) []Record {
	s.mu.Lock()
	r, ok := s.nodes[nodeID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	all := r.newestFirst()
	s.mu.Unlock()
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// ByTimeRange returns all retained records across all nodes whose
// Timestamp falls within the closed interval [from, to], newest first.
func (s *Store) ByTimeRange(from, to time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.nodes {
		for _, rec := range r.ordered() {
			if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
				out = append(out, rec)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// NodeStats summarizes one node's retained divergence history.
type NodeStats struct {
	NodeID       string          `json:"node_id"`
	Total        int             `json:"total"`
	ByModeTag    map[string]int  `json:"by_mode_tag"`
	TopDiffKinds []DiffKindCount `json:"top_diff_kinds"`
}

// DiffKindCount pairs a comparator.DiffKind with its frequency.
type DiffKindCount struct {
	Kind  comparator.DiffKind `json:"kind"`
	Count int                 `json:"count"`
}

// Stats computes, per node, the total record count, a breakdown by
// mode_tag, and the top-5 most frequent diff kinds.
func (s *Store) Stats() []NodeStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]NodeStats, 0, len(s.nodes))
	for nodeID, r := range s.nodes {
		diffCounts := make(map[comparator.DiffKind]int)
		modeCounts := make(map[string]int)
		for _, rec := range r.ordered() {
			modeCounts[rec.ModeTag]++
			if rec.StructuredDiff == nil {
				continue
			}
			for _, d := range rec.StructuredDiff.Differences {
				diffCounts[d.Kind]++
			}
		}
		out = append(out, NodeStats{
			NodeID:       nodeID,
			Total:        r.size,
			ByModeTag:    modeCounts,
			TopDiffKinds: topN(diffCounts, 5),
		})
	}
	return out
}

func topN(counts map[comparator.DiffKind]int, n int) []DiffKindCount {
	all := make([]DiffKindCount, 0, len(counts))
	for k, c := range counts {
		all = append(all, DiffKindCount{Kind: k, Count: c})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Count > all[j-1].Count; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Clear discards every retained record for nodeID. An empty nodeID
// clears the entire store.
func (s *Store) Clear(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nodeID == "" {
		s.nodes = make(map[string]*ring)
		return
	}
	delete(s.nodes, nodeID)
}

// Persist writes the full store snapshot to s.path using a
// write-to-temp-then-rename sequence, so a crash mid-write never
// leaves a truncated history file on disk. It is a no-op if no path
// was configured.
func (s *Store) Persist() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	snapshot := make(map[string][]Record, len(s.nodes))
	for nodeID, r := range s.nodes {
		snapshot[nodeID] = r.ordered()
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("divergence: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("divergence: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".divergence-*.tmp")
	if err != nil {
		return fmt.Errorf("divergence: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("divergence: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("divergence: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("divergence: rename into place: %w", err)
	}
	return nil
}

// Load restores the store's state from a snapshot previously written
// by Persist.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("divergence: read snapshot: %w", err)
	}

	var snapshot map[string][]Record
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("divergence: unmarshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*ring, len(snapshot))
	for nodeID, recs := range snapshot {
		r := newRing(s.capacity)
		for _, rec := range recs {
			r.push(rec)
		}
		s.nodes[nodeID] = r
	}
	return nil
}
