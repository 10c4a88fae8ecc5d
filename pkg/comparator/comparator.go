// Package comparator implements the structural deep comparison of two
// node outputs under a fixed tolerance policy: numeric epsilon,
// timestamp tolerance, and NaN/infinity handling.
//
// Grounded on original_source/python/vesper_verification/differential.py
// (OutputComparator): the recursion policy, type-compatibility rules,
// and difference kinds are a direct port.
package comparator

import (
	"math"
	"strings"
	"time"

	"github.com/jihwankim/vesper-verify/pkg/value"
)

// DiffKind names the category of a single structural difference.
type DiffKind string

const (
	KindNullMismatch      DiffKind = "null_mismatch"
	KindTypeMismatch      DiffKind = "type_mismatch"
	KindMissingInOracle   DiffKind = "missing_in_oracle"
	KindMissingInCandidate DiffKind = "missing_in_candidate"
	KindLengthMismatch    DiffKind = "length_mismatch"
	KindNaNMismatch       DiffKind = "nan_mismatch"
	KindInfinitySignMismatch DiffKind = "infinity_sign_mismatch"
	KindNumericMismatch   DiffKind = "numeric_mismatch"
	KindTimestampMismatch DiffKind = "timestamp_mismatch"
	KindValueMismatch     DiffKind = "value_mismatch"
)

// Difference describes a single divergence found at a structural path.
type Difference struct {
	Path          string      `json:"path"`
	Kind          DiffKind    `json:"kind"`
	OracleValue   interface{} `json:"oracle_value,omitempty"`
	CandidateValue interface{} `json:"candidate_value,omitempty"`
	OracleType    string      `json:"oracle_type,omitempty"`
	CandidateType string      `json:"candidate_type,omitempty"`
	OracleLength  int         `json:"oracle_length,omitempty"`
	CandidateLength int       `json:"candidate_length,omitempty"`
	Difference    float64     `json:"difference,omitempty"`
	DifferenceMs  float64     `json:"difference_ms,omitempty"`
}

// Report summarises all differences found between two outputs.
// A nil Report means the outputs are equal.
type Report struct {
	Differences []Difference `json:"differences"`
	Count       int          `json:"count"`
}

// Config controls the comparator's tolerance policy.
type Config struct {
	Epsilon             float64
	TimestampToleranceMs float64
}

// DefaultConfig matches spec.md §4.1's documented defaults.
func DefaultConfig() Config {
	return Config{
		Epsilon:             1e-9,
		TimestampToleranceMs: 1000,
	}
}

// Comparator performs a pure, deterministic structural comparison
// between two Values under a fixed Config.
type Comparator struct {
	cfg Config
}

// New creates a Comparator. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *Comparator {
	if cfg.Epsilon == 0 && cfg.TimestampToleranceMs == 0 {
		cfg = DefaultConfig()
	}
	return &Comparator{cfg: cfg}
}

// Compare walks oracleOut and candidateOut in parallel and returns a
// Report of differences, or nil if the two outputs are equal.
func (c *Comparator) Compare(oracleOut, candidateOut value.Value) *Report {
	diffs := c.compareRecursive(oracleOut, candidateOut, "root")
	if len(diffs) == 0 {
		return nil
	}
	return &Report{Differences: diffs, Count: len(diffs)}
}

func (c *Comparator) compareRecursive(a, b value.Value, path string) []Difference {
	if a.IsNull() && b.IsNull() {
		return nil
	}
	if a.IsNull() || b.IsNull() {
		return []Difference{{Path: path, Kind: KindNullMismatch, OracleValue: a.Raw(), CandidateValue: b.Raw()}}
	}

	if !typesCompatible(a, b) {
		return []Difference{{
			Path:           path,
			Kind:           KindTypeMismatch,
			OracleType:     a.TypeName(),
			CandidateType:  b.TypeName(),
			OracleValue:    a.Raw(),
			CandidateValue: b.Raw(),
		}}
	}

	switch {
	case a.Kind() == value.KindMap:
		return c.compareMaps(a, b, path)
	case a.Kind() == value.KindList:
		return c.compareLists(a, b, path)
	case isFloatOrDecimal(a) || isFloatOrDecimal(b):
		if d := c.compareNumbers(a, b, path); d != nil {
			return []Difference{*d}
		}
		return nil
	case a.Kind() == value.KindString:
		s, _ := a.AsString()
		if looksLikeTimestamp(s) {
			if d := c.compareTimestamps(a, b, path); d != nil {
				return []Difference{*d}
			}
			return nil
		}
		fallthrough
	default:
		if !valuesEqual(a, b) {
			return []Difference{{Path: path, Kind: KindValueMismatch, OracleValue: a.Raw(), CandidateValue: b.Raw()}}
		}
		return nil
	}
}

// isFloatOrDecimal reports whether v is a float or arbitrary-precision
// decimal. Pure int-vs-int comparisons do not enter the epsilon-
// tolerant numeric path: two differing ints are an exact value
// mismatch, matching original_source's _compare_recursive (which only
// takes the numeric-tolerance branch when isinstance(v1,(float,
// Decimal)) or isinstance(v2,(float,Decimal))) and spec.md's S6
// scenario, which expects plain value_mismatch for {"items":[1,2,3]}
// vs {"items":[1,99,3]}.
func isFloatOrDecimal(v value.Value) bool {
	return v.Kind() == value.KindFloat || v.Kind() == value.KindDecimal
}

func typesCompatible(a, b value.Value) bool {
	if a.Kind() == b.Kind() {
		return true
	}
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	if a.Kind() == value.KindList && b.Kind() == value.KindList {
		return true
	}
	if a.Kind() == value.KindMap && b.Kind() == value.KindMap {
		return true
	}
	return false
}

func (c *Comparator) compareMaps(a, b value.Value, path string) []Difference {
	am, _ := a.AsMap()
	bm, _ := b.AsMap()

	seen := make(map[string]bool, len(am)+len(bm))
	var keys []string
	for _, k := range a.Keys() {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range b.Keys() {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	var diffs []Difference
	for _, k := range keys {
		keyPath := path + "." + k
		av, inA := am[k]
		bv, inB := bm[k]
		switch {
		case !inA:
			diffs = append(diffs, Difference{Path: keyPath, Kind: KindMissingInOracle, CandidateValue: bv.Raw()})
		case !inB:
			diffs = append(diffs, Difference{Path: keyPath, Kind: KindMissingInCandidate, OracleValue: av.Raw()})
		default:
			diffs = append(diffs, c.compareRecursive(av, bv, keyPath)...)
		}
	}
	return diffs
}

func (c *Comparator) compareLists(a, b value.Value, path string) []Difference {
	al, _ := a.AsList()
	bl, _ := b.AsList()

	var diffs []Difference
	if len(al) != len(bl) {
		diffs = append(diffs, Difference{
			Path:            path,
			Kind:            KindLengthMismatch,
			OracleLength:    len(al),
			CandidateLength: len(bl),
		})
	}

	n := len(al)
	if len(bl) < n {
		n = len(bl)
	}
	for i := 0; i < n; i++ {
		diffs = append(diffs, c.compareRecursive(al[i], bl[i], indexPath(path, i))...)
	}
	return diffs
}

func indexPath(path string, i int) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('[')
	b.WriteString(itoa(i))
	b.WriteByte(']')
	return b.String()
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var digits [20]byte
	pos := len(digits)
	for i > 0 {
		pos--
		digits[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		digits[pos] = '-'
	}
	return string(digits[pos:])
}

func (c *Comparator) compareNumbers(a, b value.Value, path string) *Difference {
	f1 := a.Float64()
	f2 := b.Float64()

	nan1, nan2 := math.IsNaN(f1), math.IsNaN(f2)
	if nan1 && nan2 {
		return nil
	}
	if nan1 || nan2 {
		return &Difference{Path: path, Kind: KindNaNMismatch, OracleValue: a.Raw(), CandidateValue: b.Raw()}
	}

	if math.IsInf(f1, 0) && math.IsInf(f2, 0) {
		if (f1 > 0) == (f2 > 0) {
			return nil
		}
		return &Difference{Path: path, Kind: KindInfinitySignMismatch, OracleValue: a.Raw(), CandidateValue: b.Raw()}
	}

	diff := math.Abs(f1 - f2)
	if diff <= c.cfg.Epsilon {
		return nil
	}

	if math.Abs(f1) > 1.0 || math.Abs(f2) > 1.0 {
		larger := math.Abs(f1)
		if math.Abs(f2) > larger {
			larger = math.Abs(f2)
		}
		if larger > 0 && diff/larger <= c.cfg.Epsilon {
			return nil
		}
	}

	return &Difference{
		Path:           path,
		Kind:           KindNumericMismatch,
		OracleValue:    a.Raw(),
		CandidateValue: b.Raw(),
		Difference:     diff,
	}
}

// looksLikeTimestamp detects the ISO-8601 date prefix YYYY-MM-DD.
func looksLikeTimestamp(s string) bool {
	if len(s) < 10 {
		return false
	}
	return s[4] == '-' && s[7] == '-'
}

func (c *Comparator) compareTimestamps(a, b value.Value, path string) *Difference {
	sa, _ := a.AsString()
	sb, _ := b.AsString()

	ta, errA := parseTimestamp(sa)
	tb, errB := parseTimestamp(sb)
	if errA != nil || errB != nil {
		if sa != sb {
			return &Difference{Path: path, Kind: KindValueMismatch, OracleValue: sa, CandidateValue: sb}
		}
		return nil
	}

	diffMs := math.Abs(ta.Sub(tb).Seconds() * 1000)
	if diffMs <= c.cfg.TimestampToleranceMs {
		return nil
	}
	return &Difference{Path: path, Kind: KindTimestampMismatch, OracleValue: sa, CandidateValue: sb, DifferenceMs: diffMs}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: "iso8601", Value: s}
}

func valuesEqual(a, b value.Value) bool {
	switch a.Kind() {
	case value.KindBool:
		av, _ := a.AsBool()
		bv, _ := b.AsBool()
		return av == bv
	case value.KindString:
		av, _ := a.AsString()
		bv, _ := b.AsString()
		return av == bv
	case value.KindNull:
		return b.IsNull()
	default:
		return value.CanonicalJSON(a) == value.CanonicalJSON(b)
	}
}
