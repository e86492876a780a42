// Package model drives event dispatch during trace replay: it maintains the
// variable and return-value scopes per run, feeds events to the analysis
// factory, and notifies the matched objects.
package model

import (
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// TraceModel is the replay surface consumed by the analyzer: one Prepare per
// trace, Dispatch per event in file order, FollowUp when the trace closes,
// and a single Finalize after the last trace.
type TraceModel interface {
	// Prepare resets per-trace factory state and allocates fresh scopes.
	Prepare(ef *events.EventFile)
	// Dispatch routes one event, mutating scopes as needed, and returns the
	// analysis objects that were notified.
	Dispatch(ev events.Event, ef *events.EventFile) []analysis.Object
	// FollowUp runs per-trace finalization after the last event.
	FollowUp(ef *events.EventFile)
	// Finalize folds all observations into the objects' tallies.
	Finalize(passed, failed []*events.EventFile)
	// Analysis returns every canonical object created so far.
	Analysis() []analysis.Object
}

// runScopes is the per-run scope state. Traces are replayed by one worker
// each, so a run's scopes are only touched by its owner.
type runScopes struct {
	variables *scope.Scope
	returns   *scope.Scope
}

// Model is the serial trace model: one variable scope chain and one
// return-value scope per run.
type Model struct {
	factory analysis.Factory

	mu   sync.Mutex
	runs map[int]*runScopes
}

// New creates a serial trace model over the factory.
func New(factory analysis.Factory) *Model {
	return &Model{factory: factory, runs: make(map[int]*runScopes)}
}

// Factory returns the model's analysis factory.
func (m *Model) Factory() analysis.Factory {
	return m.factory
}

// Prepare resets the factory's per-trace state and allocates empty variable
// and return scopes for the run.
func (m *Model) Prepare(ef *events.EventFile) {
	m.factory.Reset(ef)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[ef.RunID] = &runScopes{variables: scope.New(), returns: scope.New()}
}

// scopes returns the run's scope state, allocating it when the run was never
// prepared.
func (m *Model) scopes(runID int) *runScopes {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.runs[runID]
	if !ok {
		rs = &runScopes{variables: scope.New(), returns: scope.New()}
		m.runs[runID] = rs
	}

	return rs
}

// handleEvent asks the factory for the matching objects and notifies each.
func (m *Model) handleEvent(ev events.Event, ef *events.EventFile, sc *scope.Scope) []analysis.Object {
	matched := m.factory.GetAnalysis(ev, ef, sc)
	for _, obj := range matched {
		obj.Hit(ef.RunID, ev, sc)
	}

	return matched
}

// Dispatch switches on the event kind, mutating scopes before delegating.
// Test events are a no-op here; dependency models layer over them.
func (m *Model) Dispatch(ev events.Event, ef *events.EventFile) []analysis.Object {
	rs := m.scopes(ef.RunID)

	switch ev.Type {
	case events.FunctionEnter:
		rs.variables = rs.variables.Enter()

		return m.handleEvent(ev, ef, nil)
	case events.FunctionExit:
		rs.returns.Add(ev.Function, ev.Value, ev.TypeTag, ev.FunctionID)
		matched := m.handleEvent(ev, ef, rs.returns)
		rs.variables = rs.variables.Exit()

		return matched
	case events.FunctionError:
		matched := m.handleEvent(ev, ef, nil)
		rs.variables = rs.variables.Exit()

		return matched
	case events.Def:
		rs.variables.Add(ev.Var, ev.Value, ev.TypeTag, ev.VarID)

		return m.handleEvent(ev, ef, rs.variables)
	case events.Use:
		return m.handleEvent(ev, ef, rs.variables)
	case events.TestStart, events.TestEnd, events.TestLine,
		events.TestDef, events.TestUse, events.TestAssert:
		return nil
	default:
		return m.handleEvent(ev, ef, nil)
	}
}

// FollowUp is a per-trace finalization hook; the base model has none.
func (m *Model) FollowUp(*events.EventFile) {}

// Finalize folds observations into every object's tallies.
func (m *Model) Finalize(passed, failed []*events.EventFile) {
	for _, obj := range m.factory.All() {
		obj.Finalize(passed, failed)
	}
}

// Analysis returns every canonical object created so far.
func (m *Model) Analysis() []analysis.Object {
	return m.factory.All()
}
