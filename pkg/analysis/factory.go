package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// Factory owns the canonical objects of one variant. GetAnalysis maps an
// event to the objects it feeds, creating missing ones; irrelevant events
// yield an empty list. Factories are shared across concurrently ingested
// traces; the identity-key registry is guarded by a single mutex.
type Factory interface {
	// GetAnalysis returns the canonical objects to notify for this event.
	GetAnalysis(ev events.Event, ef *events.EventFile, sc *scope.Scope) []Object
	// Reset clears per-trace scratch state before a trace is replayed.
	Reset(ef *events.EventFile)
	// All returns every canonical object created so far.
	All() []Object
}

// registry is the locked identity-key map embedded by every factory.
type registry struct {
	mu      sync.Mutex
	objects map[string]Object
}

func newRegistry() registry {
	return registry{objects: make(map[string]Object)}
}

// intern returns the canonical object for key, creating it with build on
// first use.
func (r *registry) intern(key string, build func() Object) Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objects[key]
	if !ok {
		obj = build()
		r.objects[key] = obj
	}

	return obj
}

// All returns the registered objects in stable key order.
func (r *registry) All() []Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.objects))
	for key := range r.objects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	all := make([]Object, 0, len(keys))
	for _, key := range keys {
		all = append(all, r.objects[key])
	}

	return all
}

// Reset is a no-op for factories without per-trace state.
func (r *registry) Reset(*events.EventFile) {}

// CombinationFactory dispatches every event to an ordered list of
// sub-factories and concatenates their results.
type CombinationFactory struct {
	factories []Factory
}

// NewCombinationFactory creates a combination over the given factories.
func NewCombinationFactory(factories ...Factory) *CombinationFactory {
	return &CombinationFactory{factories: factories}
}

// GetAnalysis concatenates the sub-factories' results.
func (c *CombinationFactory) GetAnalysis(ev events.Event, ef *events.EventFile, sc *scope.Scope) []Object {
	var combined []Object

	for _, f := range c.factories {
		combined = append(combined, f.GetAnalysis(ev, ef, sc)...)
	}

	return combined
}

// Reset forwards to every sub-factory.
func (c *CombinationFactory) Reset(ef *events.EventFile) {
	for _, f := range c.factories {
		f.Reset(ef)
	}
}

// All returns the union of the sub-factories' objects.
func (c *CombinationFactory) All() []Object {
	var all []Object

	for _, f := range c.factories {
		all = append(all, f.All()...)
	}

	return all
}

// LineFactory produces one Line object per executed source line.
type LineFactory struct {
	registry
}

// NewLineFactory creates a LineFactory.
func NewLineFactory() *LineFactory {
	return &LineFactory{registry: newRegistry()}
}

// GetAnalysis interns the Line object for a line event.
func (f *LineFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Line {
		return nil
	}

	key := fmt.Sprintf("%s:%d", ev.File, ev.Line)
	obj := f.intern(key, func() Object { return NewLine(ev.File, ev.Line) })

	return []Object{obj}
}

// BranchFactory produces Branch objects for the taken side of each branch
// event and, when withElse is set, the unseen sibling side as well.
type BranchFactory struct {
	registry

	withElse bool
}

// NewBranchFactory creates a BranchFactory; withElse also covers the
// untaken sibling arm.
func NewBranchFactory(withElse bool) *BranchFactory {
	return &BranchFactory{registry: newRegistry(), withElse: withElse}
}

// GetAnalysis interns one or two Branch objects for a branch event.
func (f *BranchFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Branch {
		return nil
	}

	then := ev.ThenID < ev.ElseID

	key := fmt.Sprintf("%s:%d:%d", ev.File, ev.Line, ev.ThenID)
	taken := f.intern(key, func() Object { return NewBranch(ev.File, ev.Line, ev.ThenID, then) })

	if f.withElse && ev.ElseID >= 0 {
		siblingKey := fmt.Sprintf("%s:%d:%d", ev.File, ev.Line, ev.ElseID)
		sibling := f.intern(siblingKey, func() Object {
			return NewBranch(ev.File, ev.Line, ev.ElseID, !then)
		})

		return []Object{taken, sibling}
	}

	return []Object{taken}
}

// FunctionFactory produces one Function object per entered function.
type FunctionFactory struct {
	registry
}

// NewFunctionFactory creates a FunctionFactory.
func NewFunctionFactory() *FunctionFactory {
	return &FunctionFactory{registry: newRegistry()}
}

// GetAnalysis interns the Function object for a function-enter event.
func (f *FunctionFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.FunctionEnter {
		return nil
	}

	key := fmt.Sprintf("%s:%d:%d", ev.File, ev.Line, ev.FunctionID)
	obj := f.intern(key, func() Object {
		return NewFunction(ev.File, ev.Line, ev.Function, ev.FunctionID)
	})

	return []Object{obj}
}

// loopStackKey addresses the per-(run, thread, loop) iteration stacks.
type loopStackKey struct {
	run    int
	thread int
	loop   int
}

// LoopFactory produces the three iteration-class Loop objects per loop and
// maintains the per-thread iteration counters: a loop-begin pushes 0, each
// loop-hit increments the top of stack, and a loop-end pops the count and
// feeds it to every class variant.
type LoopFactory struct {
	registry

	classes []IterationClass

	stackMu sync.Mutex
	stacks  map[loopStackKey][]int
}

// NewLoopFactory creates a LoopFactory covering all three iteration classes.
func NewLoopFactory() *LoopFactory {
	return &LoopFactory{
		registry: newRegistry(),
		classes:  []IterationClass{IterZero, IterOne, IterMore},
		stacks:   make(map[loopStackKey][]int),
	}
}

// Reset drops the iteration stacks of the trace.
func (f *LoopFactory) Reset(ef *events.EventFile) {
	f.stackMu.Lock()
	defer f.stackMu.Unlock()

	for key := range f.stacks {
		if key.run == ef.RunID {
			delete(f.stacks, key)
		}
	}
}

// GetAnalysis tracks the iteration counters and, on loop-end, records the
// popped count on all class variants and returns them.
func (f *LoopFactory) GetAnalysis(ev events.Event, ef *events.EventFile, _ *scope.Scope) []Object {
	switch ev.Type {
	case events.LoopBegin, events.LoopHit, events.LoopEnd:
	default:
		return nil
	}

	variants := f.loopObjects(ev)
	stackKey := loopStackKey{run: ef.RunID, thread: ev.ThreadID, loop: ev.LoopID}

	f.stackMu.Lock()
	defer f.stackMu.Unlock()

	switch ev.Type {
	case events.LoopBegin:
		f.stacks[stackKey] = append(f.stacks[stackKey], 0)
	case events.LoopHit:
		stack := f.stacks[stackKey]
		if len(stack) > 0 {
			stack[len(stack)-1]++
		}
	case events.LoopEnd:
		stack := f.stacks[stackKey]
		if len(stack) == 0 {
			return nil
		}

		count := stack[len(stack)-1]
		f.stacks[stackKey] = stack[:len(stack)-1]

		for _, obj := range variants {
			loop, ok := obj.(*Loop)
			if ok {
				loop.ObserveIterations(ef.RunID, ev.ThreadID, count)
			}
		}

		return variants
	}

	return nil
}

func (f *LoopFactory) loopObjects(ev events.Event) []Object {
	variants := make([]Object, 0, len(f.classes))

	for _, class := range f.classes {
		key := fmt.Sprintf("%s:%d:%d:%d", ev.File, ev.Line, ev.LoopID, class)
		obj := f.intern(key, func() Object { return NewLoop(ev.File, ev.Line, ev.LoopID, class) })
		variants = append(variants, obj)
	}

	return variants
}

// varKey identifies a runtime binding by name and object identity, so
// aliases of one object share the key.
type varKey struct {
	name string
	id   int
}

// defScope is a lexical scope over recorded definition events, pushed and
// popped with function enter and exit.
type defScope struct {
	parent *defScope
	defs   map[varKey]events.Event
}

func newDefScope(parent *defScope) *defScope {
	return &defScope{parent: parent, defs: make(map[varKey]events.Event)}
}

func (d *defScope) add(key varKey, ev events.Event) {
	d.defs[key] = ev
}

// lookup walks outward from the innermost scope.
func (d *defScope) lookup(key varKey) (events.Event, bool) {
	for current := d; current != nil; current = current.parent {
		ev, ok := current.defs[key]
		if ok {
			return ev, true
		}
	}

	return events.Event{}, false
}

func (d *defScope) exit() *defScope {
	if d.parent != nil {
		return d.parent
	}

	return d
}

// runDefs is the per-trace definition-tracking state of the DefUseFactory.
type runDefs struct {
	// global is the last definition per binding across all threads.
	global map[varKey]events.Event
	// perThread is the last definition per binding per thread.
	perThread map[int]map[varKey]events.Event
	// stacks are the lexical def scopes per thread.
	stacks map[int]*defScope
}

func newRunDefs() *runDefs {
	return &runDefs{
		global:    make(map[varKey]events.Event),
		perThread: make(map[int]map[varKey]events.Event),
		stacks:    make(map[int]*defScope),
	}
}

// DefUseFactory matches use events to the definition that reaches them and
// produces DefUse objects keyed by (def site, use site, variable).
//
// Resolution order for a use on thread T: the innermost lexical scope of T,
// then T's flat definition table, and only when T holds no binding at all
// the cross-thread table (shared objects defined by other threads).
type DefUseFactory struct {
	registry

	defMu sync.Mutex
	runs  map[int]*runDefs
}

// NewDefUseFactory creates a DefUseFactory.
func NewDefUseFactory() *DefUseFactory {
	return &DefUseFactory{registry: newRegistry(), runs: make(map[int]*runDefs)}
}

// Reset drops the definition-tracking state of the trace.
func (f *DefUseFactory) Reset(ef *events.EventFile) {
	f.defMu.Lock()
	defer f.defMu.Unlock()

	delete(f.runs, ef.RunID)
}

// GetAnalysis updates the def tables on definitions and scope events, and on
// a use event emits the DefUse object of the matched definition.
func (f *DefUseFactory) GetAnalysis(ev events.Event, ef *events.EventFile, _ *scope.Scope) []Object {
	switch ev.Type {
	case events.Def:
		f.recordDef(ef.RunID, ev)
	case events.Use:
		defEvent, ok := f.findDef(ef.RunID, ev.ThreadID, varKey{name: ev.Var, id: ev.VarID})
		if !ok {
			return nil
		}

		key := fmt.Sprintf("%s:%d:%s:%d:%s", defEvent.File, defEvent.Line, ev.File, ev.Line, ev.Var)
		obj := f.intern(key, func() Object {
			return NewDefUse(defEvent.File, defEvent.Line, ev.File, ev.Line, ev.Var)
		})

		return []Object{obj}
	case events.FunctionEnter:
		f.enterScope(ef.RunID, ev.ThreadID)
	case events.FunctionExit, events.FunctionError:
		f.exitScope(ef.RunID, ev.ThreadID)
	}

	return nil
}

func (f *DefUseFactory) runState(runID int) *runDefs {
	state, ok := f.runs[runID]
	if !ok {
		state = newRunDefs()
		f.runs[runID] = state
	}

	return state
}

func (f *DefUseFactory) recordDef(runID int, ev events.Event) {
	f.defMu.Lock()
	defer f.defMu.Unlock()

	state := f.runState(runID)
	key := varKey{name: ev.Var, id: ev.VarID}

	state.global[key] = ev

	threadTable, ok := state.perThread[ev.ThreadID]
	if !ok {
		threadTable = make(map[varKey]events.Event)
		state.perThread[ev.ThreadID] = threadTable
	}

	threadTable[key] = ev

	stack, ok := state.stacks[ev.ThreadID]
	if !ok {
		stack = newDefScope(nil)
		state.stacks[ev.ThreadID] = stack
	}

	stack.add(key, ev)
}

func (f *DefUseFactory) findDef(runID, threadID int, key varKey) (events.Event, bool) {
	f.defMu.Lock()
	defer f.defMu.Unlock()

	state, ok := f.runs[runID]
	if !ok {
		return events.Event{}, false
	}

	if stack, hasStack := state.stacks[threadID]; hasStack {
		if ev, found := stack.lookup(key); found {
			return ev, true
		}
	}

	if threadTable, hasThread := state.perThread[threadID]; hasThread {
		if ev, found := threadTable[key]; found {
			return ev, true
		}
	}

	ev, found := state.global[key]

	return ev, found
}

func (f *DefUseFactory) enterScope(runID, threadID int) {
	f.defMu.Lock()
	defer f.defMu.Unlock()

	state := f.runState(runID)

	stack, ok := state.stacks[threadID]
	if !ok {
		state.stacks[threadID] = newDefScope(nil)

		return
	}

	state.stacks[threadID] = newDefScope(stack)
}

func (f *DefUseFactory) exitScope(runID, threadID int) {
	f.defMu.Lock()
	defer f.defMu.Unlock()

	state, ok := f.runs[runID]
	if !ok {
		return
	}

	stack, hasStack := state.stacks[threadID]
	if hasStack {
		state.stacks[threadID] = stack.exit()
	}
}

// ConditionFactory produces the plain and negated Condition objects per
// evaluated expression.
type ConditionFactory struct {
	registry
}

// NewConditionFactory creates a ConditionFactory.
func NewConditionFactory() *ConditionFactory {
	return &ConditionFactory{registry: newRegistry()}
}

// GetAnalysis interns both negation variants for a condition event.
func (f *ConditionFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Condition {
		return nil
	}

	variants := make([]Object, 0, 2)

	for _, negate := range []bool{true, false} {
		key := fmt.Sprintf("%s:%d:%s:%t", ev.File, ev.Line, ev.Condition, negate)
		obj := f.intern(key, func() Object {
			return NewCondition(ev.File, ev.Line, ev.Condition, negate)
		})
		variants = append(variants, obj)
	}

	return variants
}

// ScalarPairFactory produces ScalarPair objects comparing a defined variable
// against every other in-scope variable of a compatible type group.
// Self-pairings are excluded.
type ScalarPairFactory struct {
	registry

	comparators []Comp
}

// NewScalarPairFactory creates a ScalarPairFactory over all operators.
func NewScalarPairFactory() *ScalarPairFactory {
	return &ScalarPairFactory{registry: newRegistry(), comparators: allComps}
}

// scalarGroups are the type groups comparable with the full operator set.
var scalarGroups = [][]string{
	{tagInt, tagFloat, tagBool},
	{tagStr},
	{tagBytes},
}

func groupOf(tag string) []string {
	for _, group := range scalarGroups {
		for _, member := range group {
			if member == tag {
				return group
			}
		}
	}

	return nil
}

func inGroup(tag string, group []string) bool {
	for _, member := range group {
		if member == tag {
			return true
		}
	}

	return false
}

// GetAnalysis interns pair objects for a def event against the scope
// snapshot. Scalar groups use every configured operator; other types are
// compared by equality only.
func (f *ScalarPairFactory) GetAnalysis(ev events.Event, _ *events.EventFile, sc *scope.Scope) []Object {
	if ev.Type != events.Def || sc == nil {
		return nil
	}

	group := groupOf(ev.TypeTag)

	var pairs []Object

	for _, variable := range sc.AllVars() {
		if variable.Name == ev.Var {
			continue
		}

		if group != nil {
			if !inGroup(variable.TypeTag, group) {
				continue
			}

			pairs = append(pairs, f.internPairs(ev, variable.Name, f.comparators, group[0])...)

			continue
		}

		if variable.TypeTag != ev.TypeTag {
			continue
		}

		pairs = append(pairs, f.internPairs(ev, variable.Name, equalityComps, ev.TypeTag)...)
	}

	return pairs
}

func (f *ScalarPairFactory) internPairs(ev events.Event, partner string, comps []Comp, groupTag string) []Object {
	pairs := make([]Object, 0, len(comps))

	for _, comp := range comps {
		key := fmt.Sprintf("%s:%d:%s:%s:%s:%s", ev.File, ev.Line, ev.Var, partner, comp, groupTag)
		obj := f.intern(key, func() Object {
			return NewScalarPair(ev.File, ev.Line, ev.Var, partner, comp, groupTag)
		})
		pairs = append(pairs, obj)
	}

	return pairs
}

// VariableFactory produces VariablePredicate objects comparing numeric
// definitions against zero.
type VariableFactory struct {
	registry

	comparators []Comp
}

// NewVariableFactory creates a VariableFactory over all operators.
func NewVariableFactory() *VariableFactory {
	return &VariableFactory{registry: newRegistry(), comparators: allComps}
}

// GetAnalysis interns one predicate per operator for a numeric def event.
func (f *VariableFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Def {
		return nil
	}

	if ev.TypeTag != tagInt && ev.TypeTag != tagFloat && ev.TypeTag != tagBool {
		return nil
	}

	variants := make([]Object, 0, len(f.comparators))

	for _, comp := range f.comparators {
		key := fmt.Sprintf("%s:%d:%s:%s", ev.File, ev.Line, ev.Var, comp)
		obj := f.intern(key, func() Object {
			return NewVariablePredicate(ev.File, ev.Line, ev.Var, comp)
		})
		variants = append(variants, obj)
	}

	return variants
}

// ReturnFactory produces ReturnPredicate objects comparing function returns
// against the zero value of their type group. Numeric returns use the full
// operator set; strings, bytes and none-typed returns compare by equality.
type ReturnFactory struct {
	registry

	comparators []Comp
}

// NewReturnFactory creates a ReturnFactory over all operators.
func NewReturnFactory() *ReturnFactory {
	return &ReturnFactory{registry: newRegistry(), comparators: allComps}
}

// GetAnalysis interns the return predicates for a function-exit event.
func (f *ReturnFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.FunctionExit {
		return nil
	}

	var (
		group string
		value string
		comps []Comp
	)

	switch typeGroup(ev.TypeTag) {
	case groupNum:
		group, value, comps = groupNum, "0", f.comparators
	case tagStr:
		group, value, comps = tagStr, "", equalityComps
	case tagBytes:
		group, value, comps = tagBytes, "", equalityComps
	default:
		group, value, comps = tagNone, "", equalityComps
	}

	isBytes := group == tagBytes

	variants := make([]Object, 0, len(comps))

	for _, comp := range comps {
		if !f.enabled(comp) {
			continue
		}

		key := fmt.Sprintf("%s:%d:%s:%s:%s", ev.File, ev.Line, ev.Function, comp, group)
		obj := f.intern(key, func() Object {
			return NewReturnPredicate(ev.File, ev.Line, ev.Function, comp, value, isBytes, group)
		})
		variants = append(variants, obj)
	}

	return variants
}

func (f *ReturnFactory) enabled(comp Comp) bool {
	for _, c := range f.comparators {
		if c == comp {
			return true
		}
	}

	return false
}

// constantCompFactory produces equality predicates against a constant for
// every defined variable; build constructs the variant for one operator.
type constantCompFactory struct {
	registry

	build func(file string, line int, varName string, op Comp) Object
}

// GetAnalysis interns the EQ and NE objects for a def event.
func (f *constantCompFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Def {
		return nil
	}

	variants := make([]Object, 0, len(equalityComps))

	for _, comp := range equalityComps {
		key := fmt.Sprintf("%s:%d:%s:%s", ev.File, ev.Line, ev.Var, comp)
		obj := f.intern(key, func() Object { return f.build(ev.File, ev.Line, ev.Var, comp) })
		variants = append(variants, obj)
	}

	return variants
}

// NoneFactory produces NonePredicate objects.
type NoneFactory struct {
	constantCompFactory
}

// NewNoneFactory creates a NoneFactory.
func NewNoneFactory() *NoneFactory {
	return &NoneFactory{constantCompFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string, op Comp) Object {
			return NewNonePredicate(file, line, varName, op)
		},
	}}
}

// EmptyStringFactory produces EmptyStringPredicate objects.
type EmptyStringFactory struct {
	constantCompFactory
}

// NewEmptyStringFactory creates an EmptyStringFactory.
func NewEmptyStringFactory() *EmptyStringFactory {
	return &EmptyStringFactory{constantCompFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string, op Comp) Object {
			return NewEmptyStringPredicate(file, line, varName, op)
		},
	}}
}

// EmptyBytesFactory produces EmptyBytesPredicate objects.
type EmptyBytesFactory struct {
	constantCompFactory
}

// NewEmptyBytesFactory creates an EmptyBytesFactory.
func NewEmptyBytesFactory() *EmptyBytesFactory {
	return &EmptyBytesFactory{constantCompFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string, op Comp) Object {
			return NewEmptyBytesPredicate(file, line, varName, op)
		},
	}}
}

// stringPropertyFactory produces one string-property predicate per defined
// variable.
type stringPropertyFactory struct {
	registry

	build func(file string, line int, varName string) Object
}

// GetAnalysis interns the property object for a def event.
func (f *stringPropertyFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Def {
		return nil
	}

	key := fmt.Sprintf("%s:%d:%s", ev.File, ev.Line, ev.Var)
	obj := f.intern(key, func() Object { return f.build(ev.File, ev.Line, ev.Var) })

	return []Object{obj}
}

// IsAsciiFactory produces IsAsciiPredicate objects.
type IsAsciiFactory struct {
	stringPropertyFactory
}

// NewIsAsciiFactory creates an IsAsciiFactory.
func NewIsAsciiFactory() *IsAsciiFactory {
	return &IsAsciiFactory{stringPropertyFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string) Object {
			return NewIsAsciiPredicate(file, line, varName)
		},
	}}
}

// ContainsDigitFactory produces ContainsDigitPredicate objects.
type ContainsDigitFactory struct {
	stringPropertyFactory
}

// NewContainsDigitFactory creates a ContainsDigitFactory.
func NewContainsDigitFactory() *ContainsDigitFactory {
	return &ContainsDigitFactory{stringPropertyFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string) Object {
			return NewContainsDigitPredicate(file, line, varName)
		},
	}}
}

// ContainsSpecialFactory produces ContainsSpecialPredicate objects.
type ContainsSpecialFactory struct {
	stringPropertyFactory
}

// NewContainsSpecialFactory creates a ContainsSpecialFactory.
func NewContainsSpecialFactory() *ContainsSpecialFactory {
	return &ContainsSpecialFactory{stringPropertyFactory{
		registry: newRegistry(),
		build: func(file string, line int, varName string) Object {
			return NewContainsSpecialPredicate(file, line, varName)
		},
	}}
}

// LengthFactory produces the three length-class objects per measured
// variable and location.
type LengthFactory struct {
	registry

	classes []IterationClass
}

// NewLengthFactory creates a LengthFactory covering all three classes.
func NewLengthFactory() *LengthFactory {
	return &LengthFactory{
		registry: newRegistry(),
		classes:  []IterationClass{IterZero, IterOne, IterMore},
	}
}

// GetAnalysis interns the class objects for a len event.
func (f *LengthFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type != events.Len {
		return nil
	}

	variants := make([]Object, 0, len(f.classes))

	for _, class := range f.classes {
		key := fmt.Sprintf("%s:%d:%s:%d", ev.File, ev.Line, ev.Var, class)
		obj := f.intern(key, func() Object { return NewLength(ev.File, ev.Line, ev.Var, class) })
		variants = append(variants, obj)
	}

	return variants
}

// FunctionErrorFactory produces one FunctionErrorPredicate per function,
// anchored at the enter line recorded for the function id.
type FunctionErrorFactory struct {
	registry

	lineMu     sync.Mutex
	enterLines map[int]int
}

// NewFunctionErrorFactory creates a FunctionErrorFactory.
func NewFunctionErrorFactory() *FunctionErrorFactory {
	return &FunctionErrorFactory{registry: newRegistry(), enterLines: make(map[int]int)}
}

// GetAnalysis records enter lines and, on exit or error, interns and returns
// the function's error predicate.
func (f *FunctionErrorFactory) GetAnalysis(ev events.Event, _ *events.EventFile, _ *scope.Scope) []Object {
	if ev.Type == events.FunctionEnter {
		f.lineMu.Lock()
		f.enterLines[ev.FunctionID] = ev.Line
		f.lineMu.Unlock()
	}

	if ev.Type != events.FunctionExit && ev.Type != events.FunctionError {
		return nil
	}

	f.lineMu.Lock()

	line, ok := f.enterLines[ev.FunctionID]
	if !ok {
		line = ev.Line
	}

	f.lineMu.Unlock()

	key := fmt.Sprintf("%s:%d:%d", ev.File, line, ev.FunctionID)
	obj := f.intern(key, func() Object {
		return NewFunctionErrorPredicate(ev.File, line, ev.Function, ev.FunctionID)
	})

	return []Object{obj}
}

// factoryConstructors maps variant tags to their factory constructors.
var factoryConstructors = map[Type]func() Factory{
	TypeLine:          func() Factory { return NewLineFactory() },
	TypeBranch:        func() Factory { return NewBranchFactory(true) },
	TypeFunction:      func() Factory { return NewFunctionFactory() },
	TypeLoop:          func() Factory { return NewLoopFactory() },
	TypeDefUse:        func() Factory { return NewDefUseFactory() },
	TypeCondition:     func() Factory { return NewConditionFactory() },
	TypeScalarPair:    func() Factory { return NewScalarPairFactory() },
	TypeVariable:      func() Factory { return NewVariableFactory() },
	TypeReturn:        func() Factory { return NewReturnFactory() },
	TypeNone:          func() Factory { return NewNoneFactory() },
	TypeEmptyString:   func() Factory { return NewEmptyStringFactory() },
	TypeEmptyBytes:    func() Factory { return NewEmptyBytesFactory() },
	TypeAsciiString:   func() Factory { return NewIsAsciiFactory() },
	TypeDigitString:   func() Factory { return NewContainsDigitFactory() },
	TypeSpecialString: func() Factory { return NewContainsSpecialFactory() },
	TypeLength:        func() Factory { return NewLengthFactory() },
	TypeFunctionError: func() Factory { return NewFunctionErrorFactory() },
}

// NewFactory builds the factory of a single variant.
func NewFactory(t Type) (Factory, error) {
	constructor, ok := factoryConstructors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAnalysisType, t)
	}

	return constructor(), nil
}

// NewFactories builds a combination factory over the given variants, in the
// given order.
func NewFactories(types []Type) (*CombinationFactory, error) {
	factories := make([]Factory, 0, len(types))

	for _, t := range types {
		f, err := NewFactory(t)
		if err != nil {
			return nil, err
		}

		factories = append(factories, f)
	}

	return NewCombinationFactory(factories...), nil
}

// AllTypes returns every variant tag in declaration order.
func AllTypes() []Type {
	all := make([]Type, 0, len(factoryConstructors))

	for t := TypeLine; t <= TypeFunctionError; t++ {
		all = append(all, t)
	}

	return all
}
