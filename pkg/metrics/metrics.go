// Package metrics aggregates per-node latency and outcome samples into
// a bounded rolling window, exposing on-demand percentiles, a
// spec-literal Prometheus text exposition, a JSON export, and a live
// Prometheus exporter.
//
// Grounded on original_source/python/vesper_verification/metrics.py
// (MetricsAggregator) for the bounded-window/percentile semantics, and
// on pkg/reporting's persistence style for JSON export. The live
// Prometheus registry is the export-direction use of
// github.com/prometheus/client_golang, the opposite direction from a
// query-only Prometheus client.
package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxSamples bounds how many latency samples are retained per
// node before the oldest are evicted, per spec.md §3's "default
// window <= 10,000 most recent executions per node".
const DefaultMaxSamples = 10000

// Path names which runtime produced a recorded sample.
type Path string

const (
	PathOracle    Path = "oracle"
	PathCandidate Path = "candidate"
)

// Sample is one recorded node execution outcome.
type Sample struct {
	Path      Path
	LatencyMs float64
	Diverged  bool
	Errored   bool
	At        time.Time
}

type nodeWindow struct {
	samples []Sample
	maxLen  int
	head    int
	size    int

	total              int64
	oracleExecutions   int64
	candidateExecutions int64
	divergences        int64
	errors             int64
	oracleDurationSum   float64
	candidateDurationSum float64
}

func newNodeWindow(maxLen int) *nodeWindow {
	return &nodeWindow{samples: make([]Sample, maxLen), maxLen: maxLen}
}

func (w *nodeWindow) add(s Sample) {
	w.samples[w.head] = s
	w.head = (w.head + 1) % w.maxLen
	if w.size < w.maxLen {
		w.size++
	}
	w.total++
	switch s.Path {
	case PathOracle:
		w.oracleExecutions++
		w.oracleDurationSum += s.LatencyMs
	case PathCandidate:
		w.candidateExecutions++
		w.candidateDurationSum += s.LatencyMs
	}
	if s.Diverged {
		w.divergences++
	}
	if s.Errored {
		w.errors++
	}
}

func (w *nodeWindow) latencies() []float64 {
	out := make([]float64, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.samples[i].LatencyMs)
	}
	return out
}

// Aggregator collects per-node Samples and derives percentile and
// divergence-rate statistics from them. Safe for concurrent use.
type Aggregator struct {
	mu         sync.RWMutex
	windows    map[string]*nodeWindow
	maxSamples int

	registry     *prometheus.Registry
	latencyHist  *prometheus.HistogramVec
	execTotal    *prometheus.CounterVec
	errorTotal   *prometheus.CounterVec
	divergeTotal *prometheus.CounterVec
}

// NewAggregator builds an Aggregator with the given per-node sample
// window size. A maxSamples of 0 uses DefaultMaxSamples.
func NewAggregator(maxSamples int) *Aggregator {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	reg := prometheus.NewRegistry()

	latencyHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vesper_node_latency_ms",
		Help:    "Handler execution latency in milliseconds, by node and path.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"node_id", "path"})
	execTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vesper_executions_total",
		Help: "Count of handler executions, by node and path.",
	}, []string{"node_id", "path"})
	errorTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vesper_errors_total",
		Help: "Count of executions that errored, by node.",
	}, []string{"node_id"})
	divergeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vesper_divergences_total",
		Help: "Count of dual executions whose outputs diverged, by node.",
	}, []string{"node_id"})

	reg.MustRegister(latencyHist, execTotal, errorTotal, divergeTotal)

	return &Aggregator{
		windows:      make(map[string]*nodeWindow),
		maxSamples:   maxSamples,
		registry:     reg,
		latencyHist:  latencyHist,
		execTotal:    execTotal,
		errorTotal:   errorTotal,
		divergeTotal: divergeTotal,
	}
}

// Registry exposes the Prometheus registry for wiring into an HTTP
// exposition handler (e.g. promhttp.HandlerFor).
func (a *Aggregator) Registry() *prometheus.Registry { return a.registry }

// Record adds one sample for nodeID to both the rolling window used
// for percentile queries and the live Prometheus series.
func (a *Aggregator) Record(nodeID string, s Sample) {
	a.mu.Lock()
	w, ok := a.windows[nodeID]
	if !ok {
		w = newNodeWindow(a.maxSamples)
		a.windows[nodeID] = w
	}
	w.add(s)
	a.mu.Unlock()

	a.latencyHist.WithLabelValues(nodeID, string(s.Path)).Observe(s.LatencyMs)
	a.execTotal.WithLabelValues(nodeID, string(s.Path)).Inc()
	if s.Errored {
		a.errorTotal.WithLabelValues(nodeID).Inc()
	}
	if s.Diverged {
		a.divergeTotal.WithLabelValues(nodeID).Inc()
	}
}

// Percentiles is a snapshot of latency percentiles for one node.
type Percentiles struct {
	NodeID string  `json:"node_id"`
	Count  int     `json:"count"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Percentiles computes p50/p95/p99 latency for nodeID over its current
// window, using spec.md §4.3's literal sort-and-index formula. Returns
// ok=false if no samples are recorded for that node.
func (a *Aggregator) Percentiles(nodeID string) (Percentiles, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.percentilesLocked(nodeID)
}

// percentilesLocked computes Percentiles; the caller holds a.mu.
func (a *Aggregator) percentilesLocked(nodeID string) (Percentiles, bool) {
	w, ok := a.windows[nodeID]
	if !ok || w.size == 0 {
		return Percentiles{}, false
	}

	lat := w.latencies()
	sort.Float64s(lat)
	n := len(lat)
	return Percentiles{
		NodeID: nodeID,
		Count:  n,
		P50:    lat[clampIndex(int(0.50*float64(n)), n)],
		P95:    lat[clampIndex(int(0.95*float64(n)), n)],
		P99:    lat[clampIndex(minInt(int(0.99*float64(n)), n-1), n)],
	}, true
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Summary is a full JSON-exportable snapshot for one node, matching
// spec.md §3's AggregateMetrics record.
type Summary struct {
	NodeID              string      `json:"node_id"`
	Total               int64       `json:"total"`
	OracleExecutions    int64       `json:"oracle_executions"`
	CandidateExecutions int64       `json:"candidate_executions"`
	Divergences         int64       `json:"divergences"`
	Errors              int64       `json:"errors"`
	AvgOracleDurationMs float64     `json:"avg_oracle_duration_ms"`
	AvgCandidateDurationMs float64  `json:"avg_candidate_duration_ms"`
	Percentiles         Percentiles `json:"percentiles"`
}

// Export builds a JSON-serializable summary across all tracked nodes.
func (a *Aggregator) Export() []Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.windows))
	for id := range a.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		w := a.windows[id]
		pct, _ := a.percentilesLocked(id)
		out = append(out, Summary{
			NodeID:                 id,
			Total:                  w.total,
			OracleExecutions:       w.oracleExecutions,
			CandidateExecutions:    w.candidateExecutions,
			Divergences:            w.divergences,
			Errors:                 w.errors,
			AvgOracleDurationMs:    avgOf(w.oracleDurationSum, w.oracleExecutions),
			AvgCandidateDurationMs: avgOf(w.candidateDurationSum, w.candidateExecutions),
			Percentiles:            pct,
		})
	}
	return out
}

func avgOf(sum float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ExportJSON marshals a top-level {nodes, timestamp} document matching
// spec.md §6's Metrics Exposition JSON shape.
func (a *Aggregator) ExportJSON() ([]byte, error) {
	nodes := make(map[string]Summary)
	for _, s := range a.Export() {
		nodes[s.NodeID] = s
	}
	doc := struct {
		Nodes     map[string]Summary `json:"nodes"`
		Timestamp time.Time          `json:"timestamp"`
	}{Nodes: nodes, Timestamp: time.Now()}
	return json.MarshalIndent(doc, "", "  ")
}

// PrometheusText renders the hand-built Prometheus text exposition
// spec.md §4.3/§6 require literally: executions_total{node,path},
// errors_total{node}, divergences_total{node}, all vesper_-prefixed.
// This is independent of the live prometheus.Registry above, which
// additionally exposes latency histograms for a real /metrics scrape.
func (a *Aggregator) PrometheusText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.windows))
	for id := range a.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteString("# HELP vesper_executions_total Count of handler executions, by node and path.\n")
	buf.WriteString("# TYPE vesper_executions_total counter\n")
	for _, id := range ids {
		w := a.windows[id]
		fmt.Fprintf(&buf, "vesper_executions_total{node=%q,path=\"oracle\"} %d\n", id, w.oracleExecutions)
		fmt.Fprintf(&buf, "vesper_executions_total{node=%q,path=\"candidate\"} %d\n", id, w.candidateExecutions)
	}

	buf.WriteString("# HELP vesper_errors_total Count of executions that errored, by node.\n")
	buf.WriteString("# TYPE vesper_errors_total counter\n")
	for _, id := range ids {
		fmt.Fprintf(&buf, "vesper_errors_total{node=%q} %d\n", id, a.windows[id].errors)
	}

	buf.WriteString("# HELP vesper_divergences_total Count of dual executions whose outputs diverged, by node.\n")
	buf.WriteString("# TYPE vesper_divergences_total counter\n")
	for _, id := range ids {
		fmt.Fprintf(&buf, "vesper_divergences_total{node=%q} %d\n", id, a.windows[id].divergences)
	}

	return buf.String()
}
