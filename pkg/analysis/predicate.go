package analysis

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// Runtime type tags recognized by the comparison predicates.
const (
	tagInt   = "int"
	tagFloat = "float"
	tagBool  = "bool"
	tagStr   = "str"
	tagBytes = "bytes"
	tagNone  = "NoneType"
)

// Comparison type groups. Numeric types compare against 0, strings and bytes
// against their empty value, everything else against NoneType.
const (
	groupNum = "num"
)

// predicateStats are the Liblit-style importance counters of one predicate.
type predicateStats struct {
	trueRelevant    int
	falseRelevant   int
	trueIrrelevant  int
	falseIrrelevant int
	failTrue        float64
	failFalse       float64
	context         float64
	increaseTrue    float64
	increaseFalse   float64
}

// predicateBase is the common behavior of tri-valued objects. On top of the
// spectrum tallies it tracks total observations per (run, thread) — hits
// count only TRUE evaluations — and the predicate statistics.
type predicateBase struct {
	base

	totalHits map[hitKey]int
	stats     predicateStats
}

func newPredicateBase(file string, line int) predicateBase {
	return predicateBase{
		base:      newBase(file, line),
		totalHits: make(map[hitKey]int),
		stats:     predicateStats{context: 1},
	}
}

// Family reports the tri-valued observation family.
func (p *predicateBase) Family() Family { return FamilyPredicate }

// LastEvaluation returns the recorded evaluation for (run, thread);
// predicates default to UNOBSERVED.
func (p *predicateBase) LastEvaluation(runID, threadID int) Evaluation {
	p.mu.Lock()
	defer p.mu.Unlock()

	eval, ok := p.lastEval[hitKey{run: runID, thread: threadID}]
	if !ok {
		return Unobserved
	}

	return eval
}

// hitEval records one predicate evaluation for (run, thread).
func (p *predicateBase) hitEval(runID, threadID int, outcome bool) {
	p.mu.Lock()
	p.totalHits[hitKey{run: runID, thread: threadID}]++
	p.mu.Unlock()

	p.recordEval(runID, threadID, outcome)
}

// observedRun reports whether the run evaluated the predicate at all, in
// either sense.
func (p *predicateBase) observedRun(runID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key := range p.totalHits {
		if key.run == runID {
			return true
		}
	}

	return false
}

// Finalize folds observations into the spectrum tallies and computes the
// predicate statistics. Runs that never evaluated the predicate contribute to
// neither the relevant nor the irrelevant counters.
func (p *predicateBase) Finalize(passed, failed []*events.EventFile) {
	p.finalizeCounts(passed, failed)

	for _, ef := range passed {
		if !p.observedRun(ef.RunID) {
			continue
		}

		if p.CheckHits(ef.RunID) {
			p.stats.trueIrrelevant++
		} else {
			p.stats.falseIrrelevant++
		}
	}

	for _, ef := range failed {
		if !p.observedRun(ef.RunID) {
			continue
		}

		if p.CheckHits(ef.RunID) {
			p.stats.trueRelevant++
		} else {
			p.stats.falseRelevant++
		}
	}

	p.calculate()
}

// calculate derives Fail, Context and Increase from the importance counters.
// Guarded divisions keep the previous value (0, or 1 for context) on an empty
// denominator.
func (p *predicateBase) calculate() {
	trueTotal := p.stats.trueRelevant + p.stats.trueIrrelevant
	if trueTotal > 0 {
		p.stats.failTrue = float64(p.stats.trueRelevant) / float64(trueTotal)
	}

	falseTotal := p.stats.falseRelevant + p.stats.falseIrrelevant
	if falseTotal > 0 {
		p.stats.failFalse = float64(p.stats.falseRelevant) / float64(falseTotal)
	}

	total := trueTotal + falseTotal
	if total > 0 {
		p.stats.context = float64(p.stats.trueRelevant+p.stats.falseRelevant) / float64(total)
	}

	p.stats.increaseTrue = p.stats.failTrue - p.stats.context
	p.stats.increaseFalse = p.stats.failFalse - p.stats.context
}

// Metric computes the named metric, defaulting to IncreaseTrue. Predicate
// statistic names resolve against the computed stats; every other name is a
// spectrum formula over the tallies.
func (p *predicateBase) Metric(name string, useWeight bool) (float64, error) {
	if name == "" {
		name = metrics.DefaultPredicate
	}

	var value float64

	switch name {
	case metrics.IncreaseTrue:
		value = p.stats.increaseTrue
	case metrics.IncreaseFalse:
		value = p.stats.increaseFalse
	case metrics.FailTrue:
		value = p.stats.failTrue
	case metrics.FailFalse:
		value = p.stats.failFalse
	case metrics.Context:
		value = p.stats.context
	default:
		f, err := metrics.Get(name)
		if err != nil {
			return 0, err
		}

		value = f(p.Counts())
	}

	value = metrics.Clamp(value)
	if useWeight {
		value *= p.Weight()
	}

	return value, nil
}

// lineSuggest is the common single-location suggestion of most predicates.
func (p *predicateBase) lineSuggest(metric string, useWeight bool) (Suggestion, error) {
	value, err := p.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	return Suggestion{Locations: []Location{{File: p.file, Line: p.line}}, Suspiciousness: value}, nil
}

// fillPredicateRecord copies the predicate statistics into a record.
func (p *predicateBase) fillPredicateRecord(r *Record) {
	stats := p.stats
	r.TrueRelevant = &stats.trueRelevant
	r.FalseRelevant = &stats.falseRelevant
	r.TrueIrrelevant = &stats.trueIrrelevant
	r.FalseIrrelevant = &stats.falseIrrelevant
	r.FailTrue = &stats.failTrue
	r.FailFalse = &stats.failFalse
	r.Context = &stats.context
	r.IncreaseTrue = &stats.increaseTrue
	r.IncreaseFalse = &stats.increaseFalse
}

// setStats installs statistics read back from a persisted record.
func (p *predicateBase) setStats(s predicateStats) {
	p.stats = s
}

// numericValue parses a rendered value as a number; booleans count as 0/1.
func numericValue(value string) (float64, bool) {
	switch value {
	case "True", "true":
		return 1, true
	case "False", "false":
		return 0, true
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

// typeGroup buckets a runtime type tag for return comparisons.
func typeGroup(tag string) string {
	switch tag {
	case tagInt, tagFloat, tagBool:
		return groupNum
	case tagStr:
		return tagStr
	case tagBytes:
		return tagBytes
	default:
		return tagNone
	}
}

// Branch observes one side of a two-way branch: TRUE when the taken side
// matches the object's branch id.
type Branch struct {
	predicateBase

	thenID int
	then   bool
}

// NewBranch creates the Branch object covering branch id thenID; then marks
// whether that id is the lexically first arm.
func NewBranch(file string, line int, thenID int, then bool) *Branch {
	return &Branch{predicateBase: newPredicateBase(file, line), thenID: thenID, then: then}
}

// Type returns the variant tag.
func (*Branch) Type() Type { return TypeBranch }

// Events lists the feeding event kinds.
func (*Branch) Events() []events.Type { return []events.Type{events.Branch} }

// ID uniquely identifies the object.
func (b *Branch) ID() string {
	arm := "else"
	if b.then {
		arm = "then"
	}

	return fmt.Sprintf("%s:%s:%d:%s:%d", b.Type(), b.file, b.line, arm, b.thenID)
}

// Then reports whether the covered arm is the lexically first one.
func (b *Branch) Then() bool { return b.then }

// ThenID returns the covered branch id.
func (b *Branch) ThenID() int { return b.thenID }

// Hit evaluates whether the taken branch matches the covered arm.
func (b *Branch) Hit(runID int, ev events.Event, _ *scope.Scope) {
	b.hitEval(runID, ev.ThreadID, ev.ThenID == b.thenID)
}

// Suggest resolves the covered arm's block lines. Under IncreaseFalse the
// opposite arm is reported, since a low true-rate implicates the other side.
func (b *Branch) Suggest(metric, baseDir string, useWeight bool) (Suggestion, error) {
	value, err := b.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	arm := b.then
	if metric == metrics.IncreaseFalse {
		arm = !b.then
	}

	return Suggestion{Locations: finder.BranchLines(baseDir, b.file, b.line, arm), Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (b *Branch) Record() Record {
	return newRecord(b, func(r *Record) {
		b.fillPredicateRecord(r)
		r.ThenID = &b.thenID
		r.Then = &b.then
	})
}

// Condition observes the dynamic outcome of a boolean sub-expression, in a
// plain and a negated variant.
type Condition struct {
	predicateBase

	condition string
	negate    bool
}

// NewCondition creates the Condition object for an expression at a location.
func NewCondition(file string, line int, condition string, negate bool) *Condition {
	return &Condition{predicateBase: newPredicateBase(file, line), condition: condition, negate: negate}
}

// Type returns the variant tag.
func (*Condition) Type() Type { return TypeCondition }

// Events lists the feeding event kinds.
func (*Condition) Events() []events.Type { return []events.Type{events.Condition} }

// ID uniquely identifies the object.
func (c *Condition) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%t", c.Type(), c.file, c.line, c.condition, c.negate)
}

// Expression returns the condition's source text.
func (c *Condition) Expression() string { return c.condition }

// Negate reports whether this is the negated variant.
func (c *Condition) Negate() bool { return c.negate }

// Hit evaluates the recorded outcome, negated for the negate variant.
func (c *Condition) Hit(runID int, ev events.Event, _ *scope.Scope) {
	c.hitEval(runID, ev.ThreadID, ev.Outcome != c.negate)
}

// Suggest returns the single probe line.
func (c *Condition) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return c.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (c *Condition) Record() Record {
	return newRecord(c, func(r *Record) {
		c.fillPredicateRecord(r)
		r.Condition = &c.condition
		r.Negate = &c.negate
	})
}

// ScalarPair compares two in-scope variables of a compatible type group on
// every definition of the first.
type ScalarPair struct {
	predicateBase

	var1  string
	var2  string
	op    Comp
	group string
}

// NewScalarPair creates the ScalarPair object for a def site, a partner
// variable, an operator and a type group.
func NewScalarPair(file string, line int, var1, var2 string, op Comp, group string) *ScalarPair {
	return &ScalarPair{
		predicateBase: newPredicateBase(file, line),
		var1:          var1,
		var2:          var2,
		op:            op,
		group:         group,
	}
}

// Type returns the variant tag.
func (*ScalarPair) Type() Type { return TypeScalarPair }

// Events lists the feeding event kinds.
func (*ScalarPair) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (s *ScalarPair) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s%s%s:%s", s.Type(), s.file, s.line, s.var1, s.op, s.var2, s.group)
}

// Vars returns the compared variable names.
func (s *ScalarPair) Vars() (string, string) { return s.var1, s.var2 }

// Op returns the comparison operator.
func (s *ScalarPair) Op() Comp { return s.op }

// Hit compares the current values of both variables from the scope snapshot.
func (s *ScalarPair) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	first, _ := sc.Value(s.var1)
	second, _ := sc.Value(s.var2)

	s.hitEval(runID, ev.ThreadID, s.op.EvaluateStrings(first, second))
}

// Suggest returns the single probe line.
func (s *ScalarPair) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return s.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (s *ScalarPair) Record() Record {
	return newRecord(s, func(r *Record) {
		s.fillPredicateRecord(r)
		r.Var1 = &s.var1
		r.Var2 = &s.var2
		op := string(s.op)
		r.Op = &op
	})
}

// VariablePredicate compares a numeric variable against zero on every
// definition.
type VariablePredicate struct {
	predicateBase

	varName string
	op      Comp
}

// NewVariablePredicate creates the VariablePredicate object.
func NewVariablePredicate(file string, line int, varName string, op Comp) *VariablePredicate {
	return &VariablePredicate{predicateBase: newPredicateBase(file, line), varName: varName, op: op}
}

// Type returns the variant tag.
func (*VariablePredicate) Type() Type { return TypeVariable }

// Events lists the feeding event kinds.
func (*VariablePredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (v *VariablePredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s%s0", v.Type(), v.file, v.line, v.varName, v.op)
}

// Var returns the compared variable name.
func (v *VariablePredicate) Var() string { return v.varName }

// Op returns the comparison operator.
func (v *VariablePredicate) Op() Comp { return v.op }

// Hit compares the variable's numeric value against zero.
func (v *VariablePredicate) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	value, ok := sc.Value(v.varName)
	if !ok {
		return
	}

	number, numeric := numericValue(value)
	if !numeric {
		return
	}

	v.hitEval(runID, ev.ThreadID, v.op.evaluateFloats(number, 0))
}

// Suggest returns the single probe line.
func (v *VariablePredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return v.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (v *VariablePredicate) Record() Record {
	return newRecord(v, func(r *Record) {
		v.fillPredicateRecord(r)
		r.Var = &v.varName
		op := string(v.op)
		r.Op = &op
	})
}

// NonePredicate observes whether a variable is bound to the none value.
type NonePredicate struct {
	predicateBase

	varName string
	op      Comp
}

// NewNonePredicate creates the NonePredicate object.
func NewNonePredicate(file string, line int, varName string, op Comp) *NonePredicate {
	return &NonePredicate{predicateBase: newPredicateBase(file, line), varName: varName, op: op}
}

// Type returns the variant tag.
func (*NonePredicate) Type() Type { return TypeNone }

// Events lists the feeding event kinds.
func (*NonePredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (n *NonePredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", n.Type(), n.file, n.line, n.varName, n.op)
}

// Var returns the observed variable name.
func (n *NonePredicate) Var() string { return n.varName }

// Hit evaluates whether the variable's runtime type is NoneType. An unbound
// name counts as none.
func (n *NonePredicate) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	isNone := true

	binding, ok := sc.Lookup(n.varName)
	if ok {
		isNone = binding.TypeTag == tagNone
	}

	n.hitEval(runID, ev.ThreadID, n.op.EvaluateBool(isNone))
}

// Suggest returns the single probe line.
func (n *NonePredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return n.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (n *NonePredicate) Record() Record {
	return newRecord(n, func(r *Record) {
		n.fillPredicateRecord(r)
		r.Var = &n.varName
		op := string(n.op)
		r.Op = &op
	})
}

// ReturnPredicate compares a function's return value against the zero value
// of its type group.
type ReturnPredicate struct {
	predicateBase

	function string
	op       Comp
	value    string
	isBytes  bool
	group    string
}

// NewReturnPredicate creates the ReturnPredicate object. The group decides
// the reference value: "num" compares against 0, "str" and "bytes" against
// their empty value, "NoneType" against none.
func NewReturnPredicate(file string, line int, function string, op Comp, value string, isBytes bool, group string) *ReturnPredicate {
	return &ReturnPredicate{
		predicateBase: newPredicateBase(file, line),
		function:      function,
		op:            op,
		value:         value,
		isBytes:       isBytes,
		group:         group,
	}
}

// Type returns the variant tag.
func (*ReturnPredicate) Type() Type { return TypeReturn }

// Events lists the feeding event kinds.
func (*ReturnPredicate) Events() []events.Type {
	return []events.Type{events.FunctionEnter, events.FunctionExit, events.FunctionError}
}

// ID uniquely identifies the object.
func (rp *ReturnPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s%s%s:%s", rp.Type(), rp.file, rp.line, rp.function, rp.op, rp.value, rp.group)
}

// FunctionName returns the observed function.
func (rp *ReturnPredicate) FunctionName() string { return rp.function }

// Op returns the comparison operator.
func (rp *ReturnPredicate) Op() Comp { return rp.op }

// Hit compares the recorded return value — bound under the function name in
// the return scope — against the reference value.
func (rp *ReturnPredicate) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	binding, ok := sc.Lookup(rp.function)
	if !ok {
		return
	}

	var outcome bool

	if rp.group == tagNone {
		outcome = rp.op.EvaluateBool(binding.TypeTag == tagNone)
	} else {
		outcome = rp.op.EvaluateStrings(binding.Value, rp.value)
	}

	rp.hitEval(runID, ev.ThreadID, outcome)
}

// Suggest returns the single probe line.
func (rp *ReturnPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return rp.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (rp *ReturnPredicate) Record() Record {
	return newRecord(rp, func(r *Record) {
		rp.fillPredicateRecord(r)
		r.Function = &rp.function
		op := string(rp.op)
		r.Op = &op
		r.Value = &rp.value
		r.Bytes = &rp.isBytes
	})
}

// emptyComparison is the shared behavior of the empty-string and empty-bytes
// predicates.
type emptyComparison struct {
	predicateBase

	varName string
	op      Comp
}

// Hit evaluates whether the variable's value equals the empty value. An
// unbound name is never equal to it.
func (e *emptyComparison) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	value, ok := sc.Value(e.varName)
	isEmpty := ok && value == ""

	e.hitEval(runID, ev.ThreadID, e.op.EvaluateBool(isEmpty))
}

// Var returns the observed variable name.
func (e *emptyComparison) Var() string { return e.varName }

// EmptyStringPredicate observes whether a string variable is empty.
type EmptyStringPredicate struct {
	emptyComparison
}

// NewEmptyStringPredicate creates the EmptyStringPredicate object.
func NewEmptyStringPredicate(file string, line int, varName string, op Comp) *EmptyStringPredicate {
	return &EmptyStringPredicate{emptyComparison{
		predicateBase: newPredicateBase(file, line), varName: varName, op: op,
	}}
}

// Type returns the variant tag.
func (*EmptyStringPredicate) Type() Type { return TypeEmptyString }

// Events lists the feeding event kinds.
func (*EmptyStringPredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (e *EmptyStringPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", e.Type(), e.file, e.line, e.varName, e.op)
}

// Suggest returns the single probe line.
func (e *EmptyStringPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return e.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (e *EmptyStringPredicate) Record() Record {
	return newRecord(e, func(r *Record) {
		e.fillPredicateRecord(r)
		r.Var = &e.varName
		op := string(e.op)
		r.Op = &op
	})
}

// EmptyBytesPredicate observes whether a bytes variable is empty.
type EmptyBytesPredicate struct {
	emptyComparison
}

// NewEmptyBytesPredicate creates the EmptyBytesPredicate object.
func NewEmptyBytesPredicate(file string, line int, varName string, op Comp) *EmptyBytesPredicate {
	return &EmptyBytesPredicate{emptyComparison{
		predicateBase: newPredicateBase(file, line), varName: varName, op: op,
	}}
}

// Type returns the variant tag.
func (*EmptyBytesPredicate) Type() Type { return TypeEmptyBytes }

// Events lists the feeding event kinds.
func (*EmptyBytesPredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (e *EmptyBytesPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", e.Type(), e.file, e.line, e.varName, e.op)
}

// Suggest returns the single probe line.
func (e *EmptyBytesPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return e.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (e *EmptyBytesPredicate) Record() Record {
	return newRecord(e, func(r *Record) {
		e.fillPredicateRecord(r)
		r.Var = &e.varName
		op := string(e.op)
		r.Op = &op
	})
}

// stringPredicate is the shared behavior of the string-property predicates:
// evaluation applies a property test to the current string value of the
// variable. Non-string bindings evaluate FALSE.
type stringPredicate struct {
	predicateBase

	varName  string
	property func(string) bool
}

// Hit applies the property to the variable's current value.
func (s *stringPredicate) Hit(runID int, ev events.Event, sc *scope.Scope) {
	if sc == nil {
		return
	}

	binding, ok := sc.Lookup(s.varName)
	outcome := ok && binding.TypeTag == tagStr && s.property(binding.Value)

	s.hitEval(runID, ev.ThreadID, outcome)
}

// Var returns the observed variable name.
func (s *stringPredicate) Var() string { return s.varName }

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}

	return true
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

// containsSpecial mirrors "not isalnum": TRUE when the string is empty or
// holds any character that is neither a letter nor a digit.
func containsSpecial(s string) bool {
	if s == "" {
		return true
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}

	return false
}

// IsAsciiPredicate observes whether a string variable holds pure ASCII.
type IsAsciiPredicate struct {
	stringPredicate
}

// NewIsAsciiPredicate creates the IsAsciiPredicate object.
func NewIsAsciiPredicate(file string, line int, varName string) *IsAsciiPredicate {
	return &IsAsciiPredicate{stringPredicate{
		predicateBase: newPredicateBase(file, line), varName: varName, property: isASCII,
	}}
}

// Type returns the variant tag.
func (*IsAsciiPredicate) Type() Type { return TypeAsciiString }

// Events lists the feeding event kinds.
func (*IsAsciiPredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (i *IsAsciiPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s", i.Type(), i.file, i.line, i.varName)
}

// Suggest returns the single probe line.
func (i *IsAsciiPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return i.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (i *IsAsciiPredicate) Record() Record {
	return newRecord(i, func(r *Record) {
		i.fillPredicateRecord(r)
		r.Var = &i.varName
	})
}

// ContainsDigitPredicate observes whether a string variable contains a digit.
type ContainsDigitPredicate struct {
	stringPredicate
}

// NewContainsDigitPredicate creates the ContainsDigitPredicate object.
func NewContainsDigitPredicate(file string, line int, varName string) *ContainsDigitPredicate {
	return &ContainsDigitPredicate{stringPredicate{
		predicateBase: newPredicateBase(file, line), varName: varName, property: containsDigit,
	}}
}

// Type returns the variant tag.
func (*ContainsDigitPredicate) Type() Type { return TypeDigitString }

// Events lists the feeding event kinds.
func (*ContainsDigitPredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (c *ContainsDigitPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s", c.Type(), c.file, c.line, c.varName)
}

// Suggest returns the single probe line.
func (c *ContainsDigitPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return c.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (c *ContainsDigitPredicate) Record() Record {
	return newRecord(c, func(r *Record) {
		c.fillPredicateRecord(r)
		r.Var = &c.varName
	})
}

// ContainsSpecialPredicate observes whether a string variable contains a
// non-alphanumeric character.
type ContainsSpecialPredicate struct {
	stringPredicate
}

// NewContainsSpecialPredicate creates the ContainsSpecialPredicate object.
func NewContainsSpecialPredicate(file string, line int, varName string) *ContainsSpecialPredicate {
	return &ContainsSpecialPredicate{stringPredicate{
		predicateBase: newPredicateBase(file, line), varName: varName, property: containsSpecial,
	}}
}

// Type returns the variant tag.
func (*ContainsSpecialPredicate) Type() Type { return TypeSpecialString }

// Events lists the feeding event kinds.
func (*ContainsSpecialPredicate) Events() []events.Type { return []events.Type{events.Def} }

// ID uniquely identifies the object.
func (c *ContainsSpecialPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s", c.Type(), c.file, c.line, c.varName)
}

// Suggest returns the single probe line.
func (c *ContainsSpecialPredicate) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	return c.lineSuggest(metric, useWeight)
}

// Record returns the persisted form.
func (c *ContainsSpecialPredicate) Record() Record {
	return newRecord(c, func(r *Record) {
		c.fillPredicateRecord(r)
		r.Var = &c.varName
	})
}

// FunctionErrorPredicate observes whether a function's executions leave via
// the error path: TRUE exactly when the exit event is an error event.
type FunctionErrorPredicate struct {
	predicateBase

	function   string
	functionID int
}

// NewFunctionErrorPredicate creates the FunctionErrorPredicate object,
// anchored at the function's enter line.
func NewFunctionErrorPredicate(file string, line int, function string, functionID int) *FunctionErrorPredicate {
	return &FunctionErrorPredicate{
		predicateBase: newPredicateBase(file, line),
		function:      function,
		functionID:    functionID,
	}
}

// Type returns the variant tag.
func (*FunctionErrorPredicate) Type() Type { return TypeFunctionError }

// Events lists the feeding event kinds.
func (*FunctionErrorPredicate) Events() []events.Type {
	return []events.Type{events.FunctionEnter, events.FunctionError, events.FunctionExit}
}

// ID uniquely identifies the object.
func (f *FunctionErrorPredicate) ID() string {
	return fmt.Sprintf("%s:%s:%s:%d", f.Type(), f.file, f.function, f.line)
}

// FunctionName returns the observed function.
func (f *FunctionErrorPredicate) FunctionName() string { return f.function }

// Hit evaluates TRUE when the delivered event is an error exit.
func (f *FunctionErrorPredicate) Hit(runID int, ev events.Event, _ *scope.Scope) {
	f.hitEval(runID, ev.ThreadID, ev.Type == events.FunctionError)
}

// Suggest resolves the function's block lines through the finder.
func (f *FunctionErrorPredicate) Suggest(metric, baseDir string, useWeight bool) (Suggestion, error) {
	value, err := f.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	locations := finder.FunctionLines(baseDir, f.file, f.line, f.function)

	return Suggestion{Locations: locations, Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (f *FunctionErrorPredicate) Record() Record {
	return newRecord(f, func(r *Record) {
		f.fillPredicateRecord(r)
		r.Function = &f.function
	})
}
