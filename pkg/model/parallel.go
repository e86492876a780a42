package model

import (
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// parallelScopes extends the per-run scope state with per-thread variable and
// return scopes for traces recorded from threaded subjects.
type parallelScopes struct {
	variables *scope.Scope
	returns   *scope.Scope

	threadVariables map[int]*scope.Scope
	threadReturns   map[int]*scope.Scope
}

func newParallelScopes() *parallelScopes {
	return &parallelScopes{
		variables:       scope.New(),
		returns:         scope.New(),
		threadVariables: make(map[int]*scope.Scope),
		threadReturns:   make(map[int]*scope.Scope),
	}
}

// varScope returns the scope for a thread: threads start from the main scope
// so outer bindings stay visible, the main thread uses the main scope.
func (ps *parallelScopes) varScope(threadID int) *scope.Scope {
	if threadID == events.MainThread {
		return ps.variables
	}

	sc, ok := ps.threadVariables[threadID]
	if !ok {
		sc = ps.variables
		ps.threadVariables[threadID] = sc
	}

	return sc
}

func (ps *parallelScopes) returnScope(threadID int) *scope.Scope {
	if threadID == events.MainThread {
		return ps.returns
	}

	sc, ok := ps.threadReturns[threadID]
	if !ok {
		sc = scope.New()
		ps.threadReturns[threadID] = sc
	}

	return sc
}

func (ps *parallelScopes) enter(threadID int) {
	if threadID == events.MainThread {
		ps.variables = ps.variables.Enter()

		return
	}

	ps.threadVariables[threadID] = ps.varScope(threadID).Enter()
}

func (ps *parallelScopes) exit(threadID int) {
	if threadID == events.MainThread {
		ps.variables = ps.variables.Exit()

		return
	}

	ps.threadVariables[threadID] = ps.varScope(threadID).Exit()
}

// ParallelModel is the trace model for threaded subjects: function enter,
// exit, error and def/use events consult the event's thread id and operate
// on that thread's scope chain; events without a thread id use the main
// scopes.
type ParallelModel struct {
	factory analysis.Factory

	mu   sync.Mutex
	runs map[int]*parallelScopes
}

// NewParallel creates a parallel trace model over the factory.
func NewParallel(factory analysis.Factory) *ParallelModel {
	return &ParallelModel{factory: factory, runs: make(map[int]*parallelScopes)}
}

// Factory returns the model's analysis factory.
func (m *ParallelModel) Factory() analysis.Factory {
	return m.factory
}

// Prepare resets the factory's per-trace state and allocates fresh main and
// thread scope tables for the run.
func (m *ParallelModel) Prepare(ef *events.EventFile) {
	m.factory.Reset(ef)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[ef.RunID] = newParallelScopes()
}

func (m *ParallelModel) scopes(runID int) *parallelScopes {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps, ok := m.runs[runID]
	if !ok {
		ps = newParallelScopes()
		m.runs[runID] = ps
	}

	return ps
}

func (m *ParallelModel) handleEvent(ev events.Event, ef *events.EventFile, sc *scope.Scope) []analysis.Object {
	matched := m.factory.GetAnalysis(ev, ef, sc)
	for _, obj := range matched {
		obj.Hit(ef.RunID, ev, sc)
	}

	return matched
}

// Dispatch routes one event through the thread-aware scope state.
func (m *ParallelModel) Dispatch(ev events.Event, ef *events.EventFile) []analysis.Object {
	ps := m.scopes(ef.RunID)

	switch ev.Type {
	case events.FunctionEnter:
		ps.enter(ev.ThreadID)

		return m.handleEvent(ev, ef, nil)
	case events.FunctionExit:
		returns := ps.returnScope(ev.ThreadID)
		returns.Add(ev.Function, ev.Value, ev.TypeTag, ev.FunctionID)
		matched := m.handleEvent(ev, ef, returns)
		ps.exit(ev.ThreadID)

		return matched
	case events.FunctionError:
		matched := m.handleEvent(ev, ef, nil)
		ps.exit(ev.ThreadID)

		return matched
	case events.Def:
		variables := ps.varScope(ev.ThreadID)
		variables.Add(ev.Var, ev.Value, ev.TypeTag, ev.VarID)

		return m.handleEvent(ev, ef, variables)
	case events.Use:
		return m.handleEvent(ev, ef, ps.varScope(ev.ThreadID))
	case events.TestStart, events.TestEnd, events.TestLine,
		events.TestDef, events.TestUse, events.TestAssert:
		return nil
	default:
		return m.handleEvent(ev, ef, nil)
	}
}

// FollowUp is a per-trace finalization hook; the base model has none.
func (m *ParallelModel) FollowUp(*events.EventFile) {}

// Finalize folds observations into every object's tallies.
func (m *ParallelModel) Finalize(passed, failed []*events.EventFile) {
	for _, obj := range m.factory.All() {
		obj.Finalize(passed, failed)
	}
}

// Analysis returns every canonical object created so far.
func (m *ParallelModel) Analysis() []analysis.Object {
	return m.factory.All()
}
