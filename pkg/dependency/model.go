// Package dependency implements the weight models layered over trace replay:
// they partition a failing trace into parts between test checkpoints and
// re-weight the analysis objects of each part by its proximity to the
// failure-witnessing checkpoint, optionally refined through the recorded
// test-level def-use graph and assert penalties.
package dependency

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
)

// Variant selects the weight model.
type Variant int

// Weight model variants, ordered by refinement. Each variant up to TestDefUses
// includes the behavior of the previous ones; the assert variants build on
// TestDefUse, and only TestAssertDefUses adds the retargeting of TestDefUses.
const (
	// TestDependency partitions failing traces into parts; no weighting.
	TestDependency Variant = iota
	// TestFunction weights parts by their position relative to the test
	// function's start and end checkpoints.
	TestFunction
	// TestLine additionally decays weights by temporal distance to the
	// checkpoint closest to the captured test end.
	TestLine
	// TestDefUse shortcuts distances along the test-level def-use graph.
	TestDefUse
	// TestDefUses additionally retargets definitions of known variables
	// onto each new part, so chains accumulate transitively.
	TestDefUses
	// TestAssertDefUse penalizes parts at recorded assert locations and
	// propagates the penalty along def edges.
	TestAssertDefUse
	// TestAssertDefUses combines retargeting with the assert penalty.
	TestAssertDefUses
)

// variantNames maps variants to their configuration names.
var variantNames = map[Variant]string{
	TestDependency:    "dependency",
	TestFunction:      "function",
	TestLine:          "line",
	TestDefUse:        "def_use",
	TestDefUses:       "def_uses",
	TestAssertDefUse:  "assert_def_use",
	TestAssertDefUses: "assert_def_uses",
}

// String returns the configuration name of the variant.
func (v Variant) String() string {
	name, ok := variantNames[v]
	if !ok {
		return fmt.Sprintf("Variant(%d)", int(v))
	}

	return name
}

// ErrUnknownVariant is returned when a weight model name is unknown.
var ErrUnknownVariant = errors.New("unknown weight model")

// ParseVariant resolves a configuration name to a weight model variant.
func ParseVariant(name string) (Variant, error) {
	for v, n := range variantNames {
		if n == name {
			return v, nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownVariant, name)
}

// weighted reports whether the variant assigns weights at all.
func (v Variant) weighted() bool { return v >= TestFunction }

// distanceWeighted reports whether weights decay with checkpoint distance.
func (v Variant) distanceWeighted() bool { return v >= TestLine }

// usesGraph reports whether distances shortcut along the def-use graph.
func (v Variant) usesGraph() bool { return v >= TestDefUse }

// retargets reports whether defs of known variables re-bind to new parts.
func (v Variant) retargets() bool { return v == TestDefUses || v == TestAssertDefUses }

// penalizesAsserts reports whether assert locations add a distance penalty.
func (v Variant) penalizesAsserts() bool { return v >= TestAssertDefUse }

// Part is a contiguous slice of one trace's analysis objects between two
// test checkpoints, anchored at the checkpoint that opened it.
type Part struct {
	File    string
	Line    int
	Objects []analysis.Object
	Weight  float64
}

// apply records the part's weight on every contained object for the run.
func (p *Part) apply(runID int) {
	for _, obj := range p.Objects {
		obj.AdjustWeight(runID, p.Weight)
	}
}

// testVar identifies a test-level binding.
type testVar struct {
	name string
	id   int
}

// location is an assert site.
type location struct {
	file string
	line int
}

// traceState is the per-trace scratch state of the weight model.
type traceState struct {
	failing bool

	parts     []*Part
	current   []analysis.Object
	lastEvent *events.Event

	startCapture bool
	endCapture   bool
	closest      *Part
	before       map[*Part]struct{}
	actual       map[*Part]struct{}

	currentDefs []events.Event
	currentUses []events.Event
	defParts    map[testVar]*Part
	defEdges    map[*Part][]*Part

	asserts map[location]struct{}
}

func newTraceState(failing bool) *traceState {
	return &traceState{
		failing:  failing,
		before:   make(map[*Part]struct{}),
		actual:   make(map[*Part]struct{}),
		defParts: make(map[testVar]*Part),
		defEdges: make(map[*Part][]*Part),
		asserts:  make(map[location]struct{}),
	}
}

// Model is the weight model: a trace model that wraps the parallel replay
// model, observes test checkpoints, and contributes per-run object weights
// on trace close.
type Model struct {
	inner   *model.ParallelModel
	variant Variant

	mu   sync.Mutex
	runs map[int]*traceState
}

// New creates a weight model of the given variant over the factory.
func New(factory analysis.Factory, variant Variant) *Model {
	return &Model{
		inner:   model.NewParallel(factory),
		variant: variant,
		runs:    make(map[int]*traceState),
	}
}

// Variant returns the configured weight model variant.
func (m *Model) Variant() Variant {
	return m.variant
}

// Prepare resets the inner model and the per-trace scratch state.
func (m *Model) Prepare(ef *events.EventFile) {
	m.inner.Prepare(ef)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[ef.RunID] = newTraceState(ef.Failing)
}

func (m *Model) state(ef *events.EventFile) *traceState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.runs[ef.RunID]
	if !ok {
		st = newTraceState(ef.Failing)
		m.runs[ef.RunID] = st
	}

	return st
}

// Dispatch intercepts test checkpoints and accumulates the objects notified
// by every other event into the open part.
func (m *Model) Dispatch(ev events.Event, ef *events.EventFile) []analysis.Object {
	st := m.state(ef)

	switch ev.Type {
	case events.TestLine:
		if st.failing {
			m.addPart(st, &ev, false)
		}

		return nil
	case events.TestStart:
		m.handleTestStart(st, ev)

		return nil
	case events.TestEnd:
		m.handleTestEnd(st, ev)

		return nil
	case events.TestDef:
		if m.variant.usesGraph() && st.failing {
			m.addPart(st, &ev, false)
			st.currentDefs = append(st.currentDefs, ev)
		}

		return nil
	case events.TestUse:
		if m.variant.usesGraph() && st.failing {
			m.addPart(st, &ev, false)
			st.currentUses = append(st.currentUses, ev)
		}

		return nil
	case events.TestAssert:
		if m.variant.penalizesAsserts() && st.failing {
			m.addPart(st, &ev, false)
			st.asserts[location{file: ev.File, line: ev.Line}] = struct{}{}
		}

		return nil
	default:
		matched := m.inner.Dispatch(ev, ef)
		st.current = append(st.current, matched...)

		return matched
	}
}

func (m *Model) handleTestStart(st *traceState, ev events.Event) {
	if m.variant < TestFunction || !st.failing {
		return
	}

	m.addPart(st, &ev, false)

	if !st.startCapture {
		for _, part := range st.parts {
			st.before[part] = struct{}{}
		}

		st.startCapture = true
	}
}

func (m *Model) handleTestEnd(st *traceState, ev events.Event) {
	if m.variant < TestFunction || !st.failing {
		return
	}

	part := m.addPart(st, &ev, true)
	if part != nil {
		st.closest = part
	}

	for _, p := range st.parts {
		if _, isBefore := st.before[p]; !isBefore {
			st.actual[p] = struct{}{}
		}
	}

	st.endCapture = true
}

// addPart closes the open part when the checkpoint moved to a new location
// (or unconditionally when forced), attaches the accumulated objects, and
// links the test-level def-use graph for the graph variants.
func (m *Model) addPart(st *traceState, ev *events.Event, force bool) *Part {
	var flushed *Part

	if st.lastEvent != nil &&
		(force || (ev != nil && (st.lastEvent.Line != ev.Line || st.lastEvent.File != ev.File))) {
		flushed = &Part{
			File:    st.lastEvent.File,
			Line:    st.lastEvent.Line,
			Objects: st.current,
		}
		st.parts = append(st.parts, flushed)
		st.current = nil
		st.lastEvent = ev
	} else if ev != nil {
		st.lastEvent = ev
	}

	if flushed != nil && m.variant.usesGraph() {
		m.linkDefUses(st, flushed)
	}

	return flushed
}

// linkDefUses stores the flushed part as the def site of all pending test
// defs, links pending uses back to their def parts, and for the transitive
// variants retargets the used variables onto the flushed part.
func (m *Model) linkDefUses(st *traceState, part *Part) {
	for _, def := range st.currentDefs {
		st.defParts[testVar{name: def.Var, id: def.VarID}] = part
	}

	var defEdges []*Part

	for _, use := range st.currentUses {
		defPart, ok := st.defParts[testVar{name: use.Var, id: use.VarID}]
		if ok {
			defEdges = append(defEdges, defPart)
		}
	}

	st.defEdges[part] = defEdges

	if m.variant.retargets() {
		for _, use := range st.currentUses {
			key := testVar{name: use.Var, id: use.VarID}
			if _, ok := st.defParts[key]; ok {
				st.defParts[key] = part
			}
		}
	}

	st.currentDefs = nil
	st.currentUses = nil
}

// FollowUp flushes the trailing part and, for failing traces, assigns the
// variant's weights to every part's objects.
func (m *Model) FollowUp(ef *events.EventFile) {
	st := m.state(ef)

	m.addPart(st, nil, true)

	if !m.variant.weighted() || !st.failing {
		return
	}

	m.assignCaptureWeights(st)

	if m.variant.distanceWeighted() {
		m.applyDistanceDecay(st)
	}

	for _, part := range st.parts {
		part.apply(ef.RunID)
	}
}

// assignCaptureWeights weights parts by the captured test window: with a
// captured end, parts inside the window get 1 and the rest 0.5; without one,
// parts before the start get 0.5 and the rest 1.
func (m *Model) assignCaptureWeights(st *traceState) {
	for _, part := range st.parts {
		if st.endCapture {
			if _, isActual := st.actual[part]; isActual {
				part.Weight = 1
			} else {
				part.Weight = 0.5
			}

			continue
		}

		if _, isBefore := st.before[part]; isBefore {
			part.Weight = 0.5
		} else {
			part.Weight = 1
		}
	}
}

// applyDistanceDecay multiplies each part's weight by 1 - d/(max_d+1), with
// d the part's distance to the closest checkpoint.
func (m *Model) applyDistanceDecay(st *traceState) {
	if len(st.parts) == 0 {
		return
	}

	distances := m.distances(st)

	maxDistance := 0
	for _, d := range distances {
		if d > maxDistance {
			maxDistance = d
		}
	}

	maxDistance++

	for _, part := range st.parts {
		part.Weight *= 1 - float64(distances[part])/float64(maxDistance)
	}
}

// distances computes per-part distances from the checkpoint closest to the
// captured test end, then refines them along the def-use graph and assert
// penalties for the variants that use them.
func (m *Model) distances(st *traceState) map[*Part]int {
	distances := make(map[*Part]int, len(st.parts))

	closestIdx := -1

	if st.closest != nil {
		for i, part := range st.parts {
			if part == st.closest {
				closestIdx = i

				break
			}
		}
	}

	if closestIdx >= 0 {
		// The part flushed at the captured test end is distance 0, so it
		// keeps the highest weight of the trace after decay.
		for i, part := range st.parts {
			if i < closestIdx {
				distances[part] = closestIdx - i
			} else {
				distances[part] = i - closestIdx
			}
		}
	} else {
		last := len(st.parts) - 1
		for i, part := range st.parts {
			distances[part] = last - i
		}
	}

	if !m.variant.usesGraph() {
		return distances
	}

	m.refineDistances(st, distances)

	return distances
}

// refineDistances runs the def-edge shortcut over the base distances and,
// for the assert variants, a second sweep layered on the already-refined
// result that combines the assert penalty with another shortcut round.
func (m *Model) refineDistances(st *traceState, distances map[*Part]int) {
	m.shortcutDefEdges(st, distances)

	if m.variant.penalizesAsserts() {
		m.penalizeAsserts(st, distances)
	}
}

// shortcutDefEdges walks the parts from closest to farthest and applies
// dist[def] = min(dist[def], dist[use]+1) for every recorded def edge.
func (m *Model) shortcutDefEdges(st *traceState, distances map[*Part]int) {
	for _, part := range sortedByDistance(st.parts, distances) {
		for _, defPart := range st.defEdges[part] {
			if distances[part]+1 < distances[defPart] {
				distances[defPart] = distances[part] + 1
			}
		}
	}
}

// penalizeAsserts re-sorts by the refined distances and sweeps again: parts
// at recorded assert locations move one step farther, and the penalty
// propagates along the def edges together with another shortcut round.
func (m *Model) penalizeAsserts(st *traceState, distances map[*Part]int) {
	penalized := make(map[*Part]struct{})

	for _, part := range sortedByDistance(st.parts, distances) {
		if distances[part] > 0 {
			if _, isAssert := st.asserts[location{file: part.File, line: part.Line}]; isAssert {
				distances[part]++
				penalized[part] = struct{}{}
			}
		}

		for _, defPart := range st.defEdges[part] {
			if distances[part]+1 < distances[defPart] {
				distances[defPart] = distances[part] + 1
			}

			if _, hasPenalty := penalized[part]; hasPenalty {
				distances[defPart]++
				penalized[defPart] = struct{}{}
			}
		}
	}
}

// sortedByDistance orders the parts by ascending distance, keeping the trace
// order among ties.
func sortedByDistance(parts []*Part, distances map[*Part]int) []*Part {
	ordered := make([]*Part, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return distances[ordered[i]] < distances[ordered[j]]
	})

	return ordered
}

// Parts returns the recorded parts of a run, for inspection and tests.
func (m *Model) Parts(ef *events.EventFile) []*Part {
	st := m.state(ef)

	parts := make([]*Part, len(st.parts))
	copy(parts, st.parts)

	return parts
}

// Finalize folds observations into every object's tallies.
func (m *Model) Finalize(passed, failed []*events.EventFile) {
	m.inner.Finalize(passed, failed)
}

// Analysis returns every canonical object created so far.
func (m *Model) Analysis() []analysis.Object {
	return m.inner.Analysis()
}
