package dependency_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/dependency"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
)

const (
	subjectFile = "subject.py"
	testsFile   = "tests.py"
)

func eventFile(runID int, failing bool) *events.EventFile {
	return events.NewEventFile("mem", runID, events.NewMapping(nil), failing)
}

func newWeightModel(t *testing.T, variant dependency.Variant) *dependency.Model {
	t.Helper()

	factory, err := analysis.NewFactories([]analysis.Type{analysis.TypeLine})
	require.NoError(t, err)

	return dependency.New(factory, variant)
}

func testLine(line int) events.Event {
	return events.Event{Type: events.TestLine, File: testsFile, Line: line, ThreadID: events.MainThread}
}

func subjectLine(line int) events.Event {
	return events.Event{Type: events.Line, File: subjectFile, Line: line, ThreadID: events.MainThread}
}

func TestParseVariant(t *testing.T) {
	t.Parallel()

	variant, err := dependency.ParseVariant("def_uses")
	require.NoError(t, err)
	assert.Equal(t, dependency.TestDefUses, variant)

	_, unknownErr := dependency.ParseVariant("bogus")
	require.ErrorIs(t, unknownErr, dependency.ErrUnknownVariant)
}

// A failing trace is partitioned into parts keyed by the last test
// checkpoint's location; the trailing part is flushed on trace close.
func TestPartsPartitionFailingTrace(t *testing.T) {
	t.Parallel()

	m := newWeightModel(t, dependency.TestDependency)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(testLine(1), ef)
	m.Dispatch(subjectLine(10), ef)
	m.Dispatch(subjectLine(11), ef)
	m.Dispatch(testLine(2), ef)
	m.Dispatch(subjectLine(12), ef)
	m.FollowUp(ef)

	parts := m.Parts(ef)
	require.Len(t, parts, 2)

	assert.Equal(t, 1, parts[0].Line)
	assert.Len(t, parts[0].Objects, 2)

	assert.Equal(t, 2, parts[1].Line)
	assert.Len(t, parts[1].Objects, 1)
}

func TestPassingTraceRecordsNoParts(t *testing.T) {
	t.Parallel()

	m := newWeightModel(t, dependency.TestFunction)
	ef := eventFile(0, false)

	m.Prepare(ef)
	m.Dispatch(testLine(1), ef)
	m.Dispatch(subjectLine(10), ef)
	m.FollowUp(ef)

	assert.Empty(t, m.Parts(ef))
}

// Weighted dependency: a failing test with test-start, five intervening
// parts, and a captured test-end. Parts inside the window weigh 1, parts
// after the end 0.5, and the line model decays by distance so the closest
// part keeps the highest weight.
func TestWeightedDependencyScenario(t *testing.T) {
	t.Parallel()

	for _, variant := range []dependency.Variant{dependency.TestFunction, dependency.TestLine} {
		t.Run(variant.String(), func(t *testing.T) {
			t.Parallel()

			m := newWeightModel(t, variant)
			ef := eventFile(0, true)

			m.Prepare(ef)

			m.Dispatch(events.Event{Type: events.TestStart, File: testsFile, Line: 1, Function: "test_it", ThreadID: events.MainThread}, ef)

			for i := range 4 {
				m.Dispatch(subjectLine(10 + i), ef)
				m.Dispatch(testLine(2 + i), ef)
			}

			m.Dispatch(events.Event{Type: events.TestEnd, File: testsFile, Line: 6, Function: "test_it", ThreadID: events.MainThread}, ef)

			// Activity after the captured end.
			m.Dispatch(subjectLine(50), ef)
			m.FollowUp(ef)

			parts := m.Parts(ef)
			require.Len(t, parts, 6)

			if variant == dependency.TestFunction {
				for i, part := range parts {
					if i < 5 {
						assert.InDelta(t, 1.0, part.Weight, 1e-9, "part %d", i)
					} else {
						assert.InDelta(t, 0.5, part.Weight, 1e-9, "part %d", i)
					}
				}

				return
			}

			// Line model: the part closest to the captured end has the
			// highest weight; weights stay within [0, 1].
			closest := parts[4]

			for i, part := range parts {
				assert.GreaterOrEqual(t, part.Weight, 0.0, "part %d", i)
				assert.LessOrEqual(t, part.Weight, 1.0, "part %d", i)
				assert.LessOrEqual(t, part.Weight, closest.Weight+1e-9, "part %d", i)
			}

			assert.Greater(t, closest.Weight, parts[5].Weight)
		})
	}
}

// Part weights propagate to the analysis objects via the max-then-mean rule.
func TestWeightsReachAnalysisObjects(t *testing.T) {
	t.Parallel()

	m := newWeightModel(t, dependency.TestFunction)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(events.Event{Type: events.TestStart, File: testsFile, Line: 1, Function: "t", ThreadID: events.MainThread}, ef)
	m.Dispatch(subjectLine(10), ef)
	m.Dispatch(events.Event{Type: events.TestEnd, File: testsFile, Line: 2, Function: "t", ThreadID: events.MainThread}, ef)
	m.FollowUp(ef)

	objects := m.Analysis()
	require.Len(t, objects, 1)

	assert.InDelta(t, 1.0, objects[0].Weight(), 1e-9)
}

// The def-use graph shortcuts distances: a part that defined a variable used
// close to the failure moves nearer to it.
func TestDefUseGraphShortcut(t *testing.T) {
	t.Parallel()

	m := newWeightModel(t, dependency.TestDefUse)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(events.Event{Type: events.TestStart, File: testsFile, Line: 1, Function: "t", ThreadID: events.MainThread}, ef)

	// Part at line 2 defines v.
	m.Dispatch(events.Event{Type: events.TestDef, File: testsFile, Line: 2, Var: "v", VarID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(subjectLine(10), ef)
	m.Dispatch(testLine(3), ef)
	m.Dispatch(subjectLine(11), ef)
	m.Dispatch(testLine(4), ef)
	m.Dispatch(subjectLine(12), ef)

	// The use of v happens right before the captured end.
	m.Dispatch(events.Event{Type: events.TestUse, File: testsFile, Line: 5, Var: "v", VarID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.TestEnd, File: testsFile, Line: 6, Function: "t", ThreadID: events.MainThread}, ef)
	m.FollowUp(ef)

	parts := m.Parts(ef)
	require.NotEmpty(t, parts)

	// Every weight stays within [0, 1].
	for _, part := range parts {
		assert.GreaterOrEqual(t, part.Weight, 0.0)
		assert.LessOrEqual(t, part.Weight, 1.0)
	}

	// The def part, one step farther from the test end than its plain-line
	// neighbor, weighs at least as much once the def-use shortcut applies.
	byLine := make(map[int]*dependency.Part)
	for _, part := range parts {
		byLine[part.Line] = part
	}

	defPart, ok := byLine[2]
	require.True(t, ok)
	neighbor, hasNeighbor := byLine[3]
	require.True(t, hasNeighbor)

	assert.GreaterOrEqual(t, defPart.Weight+1e-9, neighbor.Weight,
		fmt.Sprintf("def part %v vs neighbor %v", defPart.Weight, neighbor.Weight))
}

// replayChainTrace replays a failing trace with a two-hop test-level def-use
// chain: the part at tests.py:1 defines v2, the part at tests.py:2 uses v2
// and defines v1 (and carries the assert), and the part at tests.py:5 uses
// v1 close to the captured test end. Two padding parts sit in between.
func replayChainTrace(t *testing.T, variant dependency.Variant) []*dependency.Part {
	t.Helper()

	m := newWeightModel(t, variant)
	ef := eventFile(0, true)

	m.Prepare(ef)

	m.Dispatch(events.Event{Type: events.TestStart, File: testsFile, Line: 1, Function: "t", ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.TestDef, File: testsFile, Line: 1, Var: "v2", VarID: 2, ThreadID: events.MainThread}, ef)
	m.Dispatch(testLine(2), ef)

	m.Dispatch(events.Event{Type: events.TestUse, File: testsFile, Line: 2, Var: "v2", VarID: 2, ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.TestDef, File: testsFile, Line: 2, Var: "v1", VarID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(events.Event{Type: events.TestAssert, File: testsFile, Line: 2, ThreadID: events.MainThread}, ef)
	m.Dispatch(testLine(3), ef)

	m.Dispatch(testLine(4), ef)
	m.Dispatch(testLine(5), ef)

	m.Dispatch(events.Event{Type: events.TestUse, File: testsFile, Line: 5, Var: "v1", VarID: 1, ThreadID: events.MainThread}, ef)
	m.Dispatch(testLine(6), ef)

	m.Dispatch(events.Event{Type: events.TestEnd, File: testsFile, Line: 7, Function: "t", ThreadID: events.MainThread}, ef)
	m.FollowUp(ef)

	parts := m.Parts(ef)
	require.Len(t, parts, 7)

	return parts
}

// The def-edge shortcut runs as its own pass over the base distances:
// distances 5/4/1 along the chain collapse to 3/2/1, giving weights
// 0.25/0.5/0.75 after decay with max distance 3.
func TestDefUseChainShortcutPass(t *testing.T) {
	t.Parallel()

	parts := replayChainTrace(t, dependency.TestDefUse)

	assert.InDelta(t, 0.25, parts[0].Weight, 1e-9) // v2 def, two hops out.
	assert.InDelta(t, 0.5, parts[1].Weight, 1e-9)  // v1 def, one hop out.
	assert.InDelta(t, 0.25, parts[2].Weight, 1e-9) // padding, distance 3.
	assert.InDelta(t, 0.5, parts[3].Weight, 1e-9)  // padding, distance 2.
	assert.InDelta(t, 0.75, parts[4].Weight, 1e-9) // v1 use, distance 1.
	assert.InDelta(t, 1.0, parts[5].Weight, 1e-9)  // closest to the end.
	assert.InDelta(t, 0.375, parts[6].Weight, 1e-9)
}

// The assert penalty is a second sweep layered on the already-shortcut
// distances: re-sorted by the refined result, the asserted v1-def part moves
// from 2 to 3 and drags the v2-def part from 3 to 4 along its def edge, so
// the maximum distance becomes 4 and the chain weighs 0.2/0.4 instead of
// the 1/6 and 1/2 a single merged sweep over base distances would yield.
func TestAssertPenaltyLayersOnShortcutPass(t *testing.T) {
	t.Parallel()

	parts := replayChainTrace(t, dependency.TestAssertDefUse)

	assert.InDelta(t, 0.2, parts[0].Weight, 1e-9) // v2 def, penalty propagated.
	assert.InDelta(t, 0.4, parts[1].Weight, 1e-9) // v1 def, asserted.
	assert.InDelta(t, 0.4, parts[2].Weight, 1e-9)
	assert.InDelta(t, 0.6, parts[3].Weight, 1e-9)
	assert.InDelta(t, 0.8, parts[4].Weight, 1e-9)
	assert.InDelta(t, 1.0, parts[5].Weight, 1e-9)
	assert.InDelta(t, 0.4, parts[6].Weight, 1e-9)
}

// Assert locations add a distance penalty, shrinking their weight relative
// to the same trace without asserts.
func TestAssertPenalty(t *testing.T) {
	t.Parallel()

	run := func(variant dependency.Variant, withAssert bool) []*dependency.Part {
		m := newWeightModel(t, variant)
		ef := eventFile(0, true)

		m.Prepare(ef)

		m.Dispatch(events.Event{Type: events.TestStart, File: testsFile, Line: 1, Function: "t", ThreadID: events.MainThread}, ef)
		m.Dispatch(subjectLine(10), ef)
		m.Dispatch(testLine(2), ef)
		m.Dispatch(subjectLine(11), ef)

		if withAssert {
			m.Dispatch(events.Event{Type: events.TestAssert, File: testsFile, Line: 2, ThreadID: events.MainThread}, ef)
		}

		m.Dispatch(testLine(3), ef)
		m.Dispatch(subjectLine(12), ef)
		m.Dispatch(events.Event{Type: events.TestEnd, File: testsFile, Line: 4, Function: "t", ThreadID: events.MainThread}, ef)
		m.FollowUp(ef)

		return m.Parts(ef)
	}

	plain := run(dependency.TestAssertDefUse, false)
	penalized := run(dependency.TestAssertDefUse, true)

	require.Equal(t, len(plain), len(penalized))

	var plainWeight, penalizedWeight float64

	for _, part := range plain {
		if part.Line == 2 && part.File == testsFile {
			plainWeight = part.Weight
		}
	}

	for _, part := range penalized {
		if part.Line == 2 && part.File == testsFile {
			penalizedWeight = part.Weight
		}
	}

	assert.LessOrEqual(t, penalizedWeight, plainWeight)
}
