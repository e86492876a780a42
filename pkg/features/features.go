// Package features maps per-trace object evaluations to feature vectors: an
// alternate analysis sink that emits a tabular feature matrix instead of
// ranked suggestions.
package features

import (
	"fmt"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
)

// Value is a ternary feature value.
type Value int

// Feature values. The numeric values are the exported matrix cells.
const (
	ValueUndefined Value = -1
	ValueFalse     Value = 0
	ValueTrue      Value = 1
)

// String renders the value.
func (v Value) String() string {
	switch v {
	case ValueTrue:
		return "TRUE"
	case ValueFalse:
		return "FALSE"
	default:
		return "UNDEFINED"
	}
}

// Join is the or-monotone update: once TRUE, stays TRUE; TRUE > FALSE >
// UNDEFINED.
func (v Value) Join(other Value) Value {
	if other == ValueTrue || v == ValueUndefined {
		return other
	}

	return v
}

// Kind distinguishes binary spectrum features from tertiary predicate
// features.
type Kind int

// Feature kinds.
const (
	// KindBinary features collapse UNDEFINED to FALSE.
	KindBinary Kind = iota
	// KindTertiary features keep all three values.
	KindTertiary
)

// Feature is one matrix column, named after the analysis object's identity.
type Feature struct {
	Name string
	Kind Kind
}

// Default returns the value of the feature when a run never touched it.
func (f Feature) Default() Value {
	if f.Kind == KindBinary {
		return ValueFalse
	}

	return ValueUndefined
}

// featureOf derives the feature of an analysis object.
func featureOf(obj analysis.Object) Feature {
	kind := KindBinary
	if obj.Family() == analysis.FamilyPredicate {
		kind = KindTertiary
	}

	return Feature{Name: obj.ID(), Kind: kind}
}

// valueOf maps an object's evaluation for (run, thread) to a feature value,
// collapsing UNDEFINED to FALSE for binary features.
func valueOf(obj analysis.Object, runID, threadID int) Value {
	switch obj.LastEvaluation(runID, threadID) {
	case analysis.EvalTrue:
		return ValueTrue
	case analysis.EvalFalse:
		return ValueFalse
	default:
		if obj.Family() == analysis.FamilySpectrum {
			return ValueFalse
		}

		return ValueUndefined
	}
}

// TestResult labels a trace for the feature matrix.
type TestResult string

// Test result labels.
const (
	ResultPassing   TestResult = "PASSING"
	ResultFailing   TestResult = "FAILING"
	ResultUndefined TestResult = "UNDEFINED"
)

// ResultOf maps the trace's failing flag to a label.
func ResultOf(failing bool) TestResult {
	if failing {
		return ResultFailing
	}

	return ResultPassing
}

// Vector records the feature values of one run with or-monotone updates.
type Vector struct {
	RunID  int
	Result TestResult

	values map[string]Value
}

// NewVector creates an empty vector for a run.
func NewVector(runID int, result TestResult) *Vector {
	return &Vector{RunID: runID, Result: result, values: make(map[string]Value)}
}

// Set joins the value into the vector under the feature's name.
func (v *Vector) Set(feature Feature, value Value) {
	current, ok := v.values[feature.Name]
	if !ok {
		v.values[feature.Name] = value

		return
	}

	v.values[feature.Name] = current.Join(value)
}

// Get returns the recorded value, or the feature's default.
func (v *Vector) Get(feature Feature) Value {
	value, ok := v.values[feature.Name]
	if !ok {
		return feature.Default()
	}

	return value
}

// Row renders the vector over the given column order.
func (v *Vector) Row(columns []Feature) []Value {
	row := make([]Value, 0, len(columns))
	for _, feature := range columns {
		row = append(row, v.Get(feature))
	}

	return row
}

// Equal compares two vectors over the union of their features.
func (v *Vector) Equal(other *Vector) bool {
	if other == nil || v.Result != other.Result {
		return false
	}

	names := make(map[string]Kind)
	for name := range v.values {
		names[name] = KindTertiary
	}

	for name := range other.values {
		names[name] = KindTertiary
	}

	for name, kind := range names {
		feature := Feature{Name: name, Kind: kind}
		if v.Get(feature) != other.Get(feature) {
			return false
		}
	}

	return true
}

// Difference counts the columns on which two vectors disagree.
func (v *Vector) Difference(other *Vector, columns []Feature) int {
	if other == nil {
		return 0
	}

	count := 0

	for _, feature := range columns {
		if v.Get(feature) != other.Get(feature) {
			count++
		}
	}

	return count
}

// String renders the vector for diagnostics.
func (v *Vector) String() string {
	return fmt.Sprintf("%s%v", v.Result, v.values)
}
