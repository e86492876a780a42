package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// Liblit-style statistics: a branch observed TRUE in the failing run and
// FALSE in the passing run.
func TestPredicateStatistics(t *testing.T) {
	t.Parallel()

	branch := analysis.NewBranch(testFile, 9, 0, true)

	taken := events.Event{Type: events.Branch, ThenID: 0, ThreadID: events.MainThread}
	notTaken := events.Event{Type: events.Branch, ThenID: 1, ThreadID: events.MainThread}

	branch.Hit(0, taken, nil)
	branch.Hit(1, notTaken, nil)

	branch.Finalize([]*events.EventFile{eventFile(1, false)}, []*events.EventFile{eventFile(0, true)})

	// fail(true) = 1/1, fail(false) = 0/1, context = 1/2.
	failTrue, err := branch.Metric(metrics.FailTrue, false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, failTrue, 1e-9)

	failFalse, err := branch.Metric(metrics.FailFalse, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, failFalse, 1e-9)

	context, err := branch.Metric(metrics.Context, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, context, 1e-9)

	increaseTrue, err := branch.Metric(metrics.IncreaseTrue, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, increaseTrue, 1e-9)

	increaseFalse, err := branch.Metric(metrics.IncreaseFalse, false)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, increaseFalse, 1e-9)

	// IncreaseTrue is the default predicate metric.
	defaulted, err := branch.Metric("", false)
	require.NoError(t, err)
	assert.InDelta(t, increaseTrue, defaulted, 1e-9)
}

func TestPredicateDefaultsToUnobserved(t *testing.T) {
	t.Parallel()

	condition := analysis.NewCondition(testFile, 5, "c", false)

	assert.Equal(t, analysis.Unobserved, condition.LastEvaluation(0, events.MainThread))
	assert.False(t, condition.CheckHits(0))
}

func TestPredicateSpectrumMetricFallback(t *testing.T) {
	t.Parallel()

	branch := analysis.NewBranch(testFile, 9, 0, true)
	branch.Hit(0, events.Event{Type: events.Branch, ThenID: 0, ThreadID: events.MainThread}, nil)
	branch.Finalize(nil, []*events.EventFile{eventFile(0, true)})

	// Predicates also answer spectrum formulas over their tallies. With no
	// passing runs Tarantula divides by zero and clamps to 0.
	score, err := branch.Metric("Tarantula", false)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-9)

	_, unknownErr := branch.Metric("Bogus", false)
	require.ErrorIs(t, unknownErr, metrics.ErrUnknownMetric)
}

func TestNonePredicateEvaluation(t *testing.T) {
	t.Parallel()

	isNone := analysis.NewNonePredicate(testFile, 2, "x", analysis.CompEQ)
	notNone := analysis.NewNonePredicate(testFile, 2, "x", analysis.CompNE)

	sc := scope.New()
	sc.Add("x", "", "NoneType", 1)

	ev := events.Event{Type: events.Def, Var: "x", ThreadID: events.MainThread}

	isNone.Hit(0, ev, sc)
	notNone.Hit(0, ev, sc)

	assert.Equal(t, analysis.EvalTrue, isNone.LastEvaluation(0, events.MainThread))
	assert.Equal(t, analysis.EvalFalse, notNone.LastEvaluation(0, events.MainThread))
}

func TestEmptyStringPredicateEvaluation(t *testing.T) {
	t.Parallel()

	isEmpty := analysis.NewEmptyStringPredicate(testFile, 2, "s", analysis.CompEQ)

	sc := scope.New()
	sc.Add("s", "", "str", 1)

	ev := events.Event{Type: events.Def, Var: "s", ThreadID: events.MainThread}

	isEmpty.Hit(0, ev, sc)
	assert.Equal(t, analysis.EvalTrue, isEmpty.LastEvaluation(0, events.MainThread))

	sc.Add("s", "value", "str", 1)
	isEmpty.Hit(0, ev, sc)
	assert.Equal(t, analysis.EvalFalse, isEmpty.LastEvaluation(0, events.MainThread))
}

func TestVariablePredicateComparesAgainstZero(t *testing.T) {
	t.Parallel()

	gt := analysis.NewVariablePredicate(testFile, 2, "x", analysis.CompGT)

	sc := scope.New()
	sc.Add("x", "3", "int", 1)

	gt.Hit(0, events.Event{Type: events.Def, Var: "x", ThreadID: events.MainThread}, sc)
	assert.Equal(t, analysis.EvalTrue, gt.LastEvaluation(0, events.MainThread))

	sc.Add("x", "-1", "int", 1)
	gt.Hit(0, events.Event{Type: events.Def, Var: "x", ThreadID: events.MainThread}, sc)
	assert.Equal(t, analysis.EvalFalse, gt.LastEvaluation(0, events.MainThread))
}

func TestReturnPredicateReadsReturnScope(t *testing.T) {
	t.Parallel()

	eq := analysis.NewReturnPredicate(testFile, 30, "count", analysis.CompEQ, "0", false, "num")

	returns := scope.New()
	returns.Add("count", "0", "int", 1)

	eq.Hit(0, events.Event{Type: events.FunctionExit, Function: "count", ThreadID: events.MainThread}, returns)
	assert.Equal(t, analysis.EvalTrue, eq.LastEvaluation(0, events.MainThread))
}

// blockFinder is a stub finder mapping blocks to fixed line ranges.
type blockFinder struct{}

func (blockFinder) FunctionLines(_, file string, line int, _ string) []analysis.Location {
	return []analysis.Location{{File: file, Line: line}, {File: file, Line: line + 1}}
}

func (blockFinder) LoopLines(_, file string, line int) []analysis.Location {
	return []analysis.Location{{File: file, Line: line}}
}

func (blockFinder) BranchLines(_, file string, line int, then bool) []analysis.Location {
	if then {
		return []analysis.Location{{File: file, Line: line + 1}}
	}

	return []analysis.Location{{File: file, Line: line + 10}}
}

// Branch suggestions follow the metric: IncreaseFalse implicates the other
// arm's source lines. Mutates the global finder; not parallel.
func TestBranchSuggestionMetricSensitive(t *testing.T) { //nolint:paralleltest
	analysis.SetFinder(blockFinder{})
	defer analysis.SetFinder(nil)

	branch := analysis.NewBranch(testFile, 9, 0, true)
	branch.Hit(0, events.Event{Type: events.Branch, ThenID: 0, ThreadID: events.MainThread}, nil)
	branch.Finalize(nil, []*events.EventFile{eventFile(0, true)})

	thenSide, err := branch.Suggest(metrics.IncreaseTrue, "", false)
	require.NoError(t, err)
	require.Len(t, thenSide.Locations, 1)
	assert.Equal(t, 10, thenSide.Locations[0].Line)

	elseSide, err := branch.Suggest(metrics.IncreaseFalse, "", false)
	require.NoError(t, err)
	require.Len(t, elseSide.Locations, 1)
	assert.Equal(t, 19, elseSide.Locations[0].Line)
}
