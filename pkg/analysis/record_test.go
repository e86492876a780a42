package analysis_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
)

// buildFinalized creates one exercised object per representative variant and
// finalizes it over one failing and one passing run.
func buildFinalized(t *testing.T) []analysis.Object {
	t.Helper()

	failing := eventFile(0, true)
	passing := eventFile(1, false)

	line := analysis.NewLine(testFile, 1)
	line.Hit(0, events.Event{Type: events.Line, ThreadID: events.MainThread}, nil)

	function := analysis.NewFunction(testFile, 10, "main", 1)
	function.Hit(0, events.Event{Type: events.FunctionEnter, ThreadID: events.MainThread}, nil)

	defUse := analysis.NewDefUse(testFile, 2, testFile, 8, "x")
	defUse.Hit(0, events.Event{Type: events.Use, ThreadID: events.MainThread}, nil)

	loop := analysis.NewLoop(testFile, 3, 1, analysis.IterMore)
	loop.ObserveIterations(0, events.MainThread, 5)

	length := analysis.NewLength(testFile, 4, "xs", analysis.IterZero)
	length.Hit(0, events.Event{Type: events.Len, Length: 0, ThreadID: events.MainThread}, nil)

	branch := analysis.NewBranch(testFile, 9, 0, true)
	branch.Hit(0, events.Event{Type: events.Branch, ThenID: 0, ThreadID: events.MainThread}, nil)

	condition := analysis.NewCondition(testFile, 5, "x > 0", false)
	condition.Hit(0, events.Event{Type: events.Condition, Outcome: true, ThreadID: events.MainThread}, nil)

	ret := analysis.NewReturnPredicate(testFile, 30, "count", analysis.CompEQ, "0", false, "num")

	objects := []analysis.Object{line, function, defUse, loop, length, branch, condition, ret}

	passed := []*events.EventFile{passing}
	failed := []*events.EventFile{failing}

	for _, obj := range objects {
		obj.Finalize(passed, failed)
	}

	return objects
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	t.Parallel()

	objects := buildFinalized(t)

	data, err := analysis.Serialize(objects)
	require.NoError(t, err)

	restored, deserializeErr := analysis.Deserialize(data)
	require.NoError(t, deserializeErr)
	require.Len(t, restored, len(objects))

	byID := make(map[string]analysis.Object, len(restored))
	for _, obj := range restored {
		byID[obj.ID()] = obj
	}

	for _, original := range objects {
		loaded, ok := byID[original.ID()]
		require.True(t, ok, original.ID())

		assert.Equal(t, original.Type(), loaded.Type())
		assert.Equal(t, original.File(), loaded.File())
		assert.Equal(t, original.Line(), loaded.Line())
		assert.Equal(t, original.Counts(), loaded.Counts())
	}
}

func TestRoundTripIsStableUnderReserialization(t *testing.T) {
	t.Parallel()

	objects := buildFinalized(t)

	first, err := analysis.Serialize(objects)
	require.NoError(t, err)

	restored, deserializeErr := analysis.Deserialize(first)
	require.NoError(t, deserializeErr)

	second, reserializeErr := analysis.Serialize(restored)
	require.NoError(t, reserializeErr)

	assert.JSONEq(t, string(first), string(second))
}

func TestDeserializeRejectsMissingBaseFields(t *testing.T) {
	t.Parallel()

	_, err := analysis.Deserialize([]byte(`[{"type": 0, "file": "f.py"}]`))
	require.ErrorIs(t, err, analysis.ErrSchema)
}

func TestDeserializeRejectsMissingVariantFields(t *testing.T) {
	t.Parallel()

	// A branch record without then_id.
	data := []byte(`[{
		"type": 1, "file": "f.py", "line": 9,
		"passed": 1, "passed_observed": 0, "passed_not_observed": 1,
		"failed": 1, "failed_observed": 1, "failed_not_observed": 0,
		"then": true,
		"true_relevant": 1, "false_relevant": 0,
		"true_irrelevant": 0, "false_irrelevant": 0,
		"fail_true": 1, "fail_false": 0, "context": 1,
		"increase_true": 0, "increase_false": 0
	}]`)

	_, err := analysis.Deserialize(data)
	require.ErrorIs(t, err, analysis.ErrSchema)
}

func TestDeserializeRejectsUnknownTypeTag(t *testing.T) {
	t.Parallel()

	data := []byte(`[{
		"type": 99, "file": "f.py", "line": 1,
		"passed": 0, "passed_observed": 0, "passed_not_observed": 0,
		"failed": 0, "failed_observed": 0, "failed_not_observed": 0
	}]`)

	_, err := analysis.Deserialize(data)
	require.ErrorIs(t, err, analysis.ErrUnknownAnalysisType)
}

func TestRecordCarriesPredicateStats(t *testing.T) {
	t.Parallel()

	branch := analysis.NewBranch(testFile, 9, 0, true)
	branch.Hit(0, events.Event{Type: events.Branch, ThenID: 0, ThreadID: events.MainThread}, nil)
	branch.Finalize([]*events.EventFile{eventFile(1, false)}, []*events.EventFile{eventFile(0, true)})

	record := branch.Record()

	require.NotNil(t, record.TrueRelevant)
	assert.Equal(t, 1, *record.TrueRelevant)
	require.NotNil(t, record.FailTrue)
	assert.InDelta(t, 1.0, *record.FailTrue, 1e-9)
	require.NotNil(t, record.Context)
	require.NotNil(t, record.IncreaseTrue)
}

func TestRecordWeightOnlyWhenRecorded(t *testing.T) {
	t.Parallel()

	line := analysis.NewLine(testFile, 1)
	assert.Nil(t, line.Record().Weight)

	line.AdjustWeight(0, 0.5)

	record := line.Record()
	require.NotNil(t, record.Weight)
	assert.InDelta(t, 0.5, *record.Weight, 1e-9)
}
