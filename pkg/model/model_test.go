package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
)

const testFile = "subject.py"

func eventFile(runID int, failing bool) *events.EventFile {
	return events.NewEventFile("mem", runID, events.NewMapping(nil), failing)
}

func newModel(t *testing.T, types ...analysis.Type) *model.Model {
	t.Helper()

	factory, err := analysis.NewFactories(types)
	require.NoError(t, err)

	return model.New(factory)
}

func TestDispatchBindsDefsAndResolvesUses(t *testing.T) {
	t.Parallel()

	m := newModel(t, analysis.TypeDefUse)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(events.Event{Type: events.Def, File: testFile, Line: 1, Var: "x", VarID: 1, Value: "1", TypeTag: "int", ThreadID: events.MainThread}, ef)

	matched := m.Dispatch(events.Event{Type: events.Use, File: testFile, Line: 2, Var: "x", VarID: 1, ThreadID: events.MainThread}, ef)
	require.Len(t, matched, 1)

	pair, ok := matched[0].(*analysis.DefUse)
	require.True(t, ok)
	assert.Equal(t, 1, pair.Line())
	assert.Equal(t, 2, pair.UseLine())
	assert.True(t, pair.CheckHits(0))
}

// Function scopes: a def inside a function shadows the outer binding for the
// predicates evaluated inside the function.
func TestDispatchScopeLifecycle(t *testing.T) {
	t.Parallel()

	m := newModel(t, analysis.TypeVariable)
	ef := eventFile(0, true)

	m.Prepare(ef)

	// Outer x = 1, inner x = -1: the > 0 predicate flips inside.
	m.Dispatch(events.Event{Type: events.Def, File: testFile, Line: 1, Var: "x", VarID: 1, Value: "1", TypeTag: "int", ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.FunctionEnter, File: testFile, Line: 10, FunctionID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.Def, File: testFile, Line: 11, Var: "x", VarID: 2, Value: "-1", TypeTag: "int", ThreadID: events.MainThread}, ef)

	var gtInner *analysis.VariablePredicate

	for _, obj := range m.Analysis() {
		predicate, ok := obj.(*analysis.VariablePredicate)
		require.True(t, ok)

		if predicate.Line() == 11 && predicate.Op() == analysis.CompGT {
			gtInner = predicate
		}
	}

	require.NotNil(t, gtInner)
	assert.Equal(t, analysis.EvalFalse, gtInner.LastEvaluation(0, events.MainThread))
}

// A function exit records the return value under the function name and the
// return predicates evaluate against it.
func TestDispatchFunctionExitReturnScope(t *testing.T) {
	t.Parallel()

	m := newModel(t, analysis.TypeReturn)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(events.Event{Type: events.FunctionEnter, File: testFile, Line: 10, Function: "count", FunctionID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{
		Type: events.FunctionExit, File: testFile, Line: 15,
		Function: "count", FunctionID: 1, Value: "0", TypeTag: "int",
		ThreadID: events.MainThread,
	}, ef)

	var eqZero analysis.Object

	for _, obj := range m.Analysis() {
		ret, ok := obj.(*analysis.ReturnPredicate)
		require.True(t, ok)

		if ret.ID() == "RETURN:subject.py:15:count==0:num" {
			eqZero = obj
		}
	}

	require.NotNil(t, eqZero)
	assert.Equal(t, analysis.EvalTrue, eqZero.LastEvaluation(0, events.MainThread))
}

func TestTestEventsAreNoOps(t *testing.T) {
	t.Parallel()

	m := newModel(t, analysis.TypeLine)
	ef := eventFile(0, true)

	m.Prepare(ef)

	assert.Empty(t, m.Dispatch(events.Event{Type: events.TestStart, ThreadID: events.MainThread}, ef))
	assert.Empty(t, m.Dispatch(events.Event{Type: events.TestLine, ThreadID: events.MainThread}, ef))
	assert.Empty(t, m.Dispatch(events.Event{Type: events.TestAssert, ThreadID: events.MainThread}, ef))
}

func TestFinalizeDelegatesToObjects(t *testing.T) {
	t.Parallel()

	m := newModel(t, analysis.TypeLine)
	failing := eventFile(0, true)
	passing := eventFile(1, false)

	m.Prepare(failing)
	m.Dispatch(events.Event{Type: events.Line, File: testFile, Line: 1, ThreadID: events.MainThread}, failing)

	m.Prepare(passing)

	m.Finalize([]*events.EventFile{passing}, []*events.EventFile{failing})

	objects := m.Analysis()
	require.Len(t, objects, 1)

	counts := objects[0].Counts()
	assert.Equal(t, 1, counts.FailedObserved)
	assert.Equal(t, 1, counts.PassedNotObserved)
}
