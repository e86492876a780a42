package analysis

import (
	"fmt"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// spectrumBase is the common behavior of binary hit/no-hit objects.
type spectrumBase struct {
	base
}

func newSpectrumBase(file string, line int) spectrumBase {
	return spectrumBase{base: newBase(file, line)}
}

// Family reports the binary observation family.
func (s *spectrumBase) Family() Family { return FamilySpectrum }

// LastEvaluation returns the recorded evaluation for (run, thread); spectra
// default to FALSE when the cell was never touched.
func (s *spectrumBase) LastEvaluation(runID, threadID int) Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()

	eval, ok := s.lastEval[hitKey{run: runID, thread: threadID}]
	if !ok {
		return EvalFalse
	}

	return eval
}

// Hit registers one observation of the probe for (run, thread).
func (s *spectrumBase) Hit(runID int, ev events.Event, _ *scope.Scope) {
	s.markHit(runID, ev.ThreadID)
}

// Finalize folds observations into the spectrum tallies.
func (s *spectrumBase) Finalize(passed, failed []*events.EventFile) {
	s.finalizeCounts(passed, failed)
}

// Metric computes the named spectrum formula over the finalized tallies,
// defaulting to Ochiai. NaN, infinities and divisions by zero score 0.
func (s *spectrumBase) Metric(name string, useWeight bool) (float64, error) {
	if name == "" {
		name = metrics.DefaultSpectrum
	}

	f, err := metrics.Get(name)
	if err != nil {
		return 0, err
	}

	value := metrics.Clamp(f(s.Counts()))
	if useWeight {
		value *= s.Weight()
	}

	return value, nil
}

// Line is the per-source-line spectrum object.
type Line struct {
	spectrumBase
}

// NewLine creates the Line object for a line event's location.
func NewLine(file string, line int) *Line {
	return &Line{spectrumBase: newSpectrumBase(file, line)}
}

// Type returns the variant tag.
func (*Line) Type() Type { return TypeLine }

// Events lists the feeding event kinds.
func (*Line) Events() []events.Type { return []events.Type{events.Line} }

// ID uniquely identifies the object.
func (l *Line) ID() string {
	return fmt.Sprintf("%s:%s:%d", l.Type(), l.file, l.line)
}

// Suggest returns the single line of the probe.
func (l *Line) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	value, err := l.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	return Suggestion{Locations: []Location{{File: l.file, Line: l.line}}, Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (l *Line) Record() Record {
	return newRecord(l, nil)
}

// Function is the function-entry spectrum object.
type Function struct {
	spectrumBase

	function   string
	functionID int
}

// NewFunction creates the Function object for a function-enter location.
func NewFunction(file string, line int, function string, functionID int) *Function {
	return &Function{
		spectrumBase: newSpectrumBase(file, line),
		function:     function,
		functionID:   functionID,
	}
}

// Type returns the variant tag.
func (*Function) Type() Type { return TypeFunction }

// Events lists the feeding event kinds.
func (*Function) Events() []events.Type { return []events.Type{events.FunctionEnter} }

// ID uniquely identifies the object.
func (f *Function) ID() string {
	return fmt.Sprintf("%s:%s:%s:%d", f.Type(), f.file, f.function, f.line)
}

// FunctionName returns the function's name.
func (f *Function) FunctionName() string { return f.function }

// Suggest resolves the function's block lines through the finder.
func (f *Function) Suggest(metric, baseDir string, useWeight bool) (Suggestion, error) {
	value, err := f.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	locations := finder.FunctionLines(baseDir, f.file, f.line, f.function)

	return Suggestion{Locations: locations, Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (f *Function) Record() Record {
	return newRecord(f, func(r *Record) {
		r.Function = &f.function
	})
}

// DefUse is the definition-reaches-use spectrum object, keyed by the def
// site, the use site and the variable.
type DefUse struct {
	spectrumBase

	useFile string
	useLine int
	varName string
}

// NewDefUse creates the DefUse object for a matched def/use event pair.
func NewDefUse(defFile string, defLine int, useFile string, useLine int, varName string) *DefUse {
	return &DefUse{
		spectrumBase: newSpectrumBase(defFile, defLine),
		useFile:      useFile,
		useLine:      useLine,
		varName:      varName,
	}
}

// Type returns the variant tag.
func (*DefUse) Type() Type { return TypeDefUse }

// Events lists the feeding event kinds.
func (*DefUse) Events() []events.Type { return []events.Type{events.Def, events.Use} }

// ID uniquely identifies the object.
func (d *DefUse) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%d:%s", d.Type(), d.file, d.line, d.useFile, d.useLine, d.varName)
}

// UseFile returns the use-site file.
func (d *DefUse) UseFile() string { return d.useFile }

// UseLine returns the use-site line.
func (d *DefUse) UseLine() int { return d.useLine }

// Var returns the variable name.
func (d *DefUse) Var() string { return d.varName }

// Suggest returns both the def and the use location.
func (d *DefUse) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	value, err := d.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	locations := []Location{
		{File: d.file, Line: d.line},
		{File: d.useFile, Line: d.useLine},
	}

	return Suggestion{Locations: locations, Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (d *DefUse) Record() Record {
	return newRecord(d, func(r *Record) {
		r.UseFile = &d.useFile
		r.UseLine = &d.useLine
		r.Var = &d.varName
	})
}

// IterationClass partitions loop iteration counts and collection lengths into
// the =0, =1 and >1 classes.
type IterationClass int

// Iteration classes.
const (
	IterZero IterationClass = iota
	IterOne
	IterMore
)

// Holds reports whether the count falls into the class.
func (ic IterationClass) Holds(count int) bool {
	switch ic {
	case IterZero:
		return count == 0
	case IterOne:
		return count == 1
	default:
		return count > 1
	}
}

// hitName is the persisted classifier name for loop objects.
func (ic IterationClass) hitName() string {
	switch ic {
	case IterZero:
		return "evaluate_hit_0"
	case IterOne:
		return "evaluate_hit_1"
	default:
		return "evaluate_hit_more"
	}
}

// lengthName is the persisted classifier name for length objects.
func (ic IterationClass) lengthName() string {
	switch ic {
	case IterZero:
		return "evaluate_length_0"
	case IterOne:
		return "evaluate_length_1"
	default:
		return "evaluate_length_more"
	}
}

// ErrUnknownClassifier is returned when a persisted classifier name is unknown.
var ErrUnknownClassifier = fmt.Errorf("unknown iteration classifier")

func parseHitName(name string) (IterationClass, error) {
	switch name {
	case "evaluate_hit_0", "evaluate_length_0":
		return IterZero, nil
	case "evaluate_hit_1", "evaluate_length_1":
		return IterOne, nil
	case "evaluate_hit_more", "evaluate_length_more":
		return IterMore, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownClassifier, name)
	}
}

// Loop classifies the iteration counts of one loop: the object evaluates TRUE
// on a run when some completed execution of the loop matched its class.
type Loop struct {
	spectrumBase

	loopID int
	class  IterationClass
}

// NewLoop creates the Loop object for a loop location and iteration class.
func NewLoop(file string, line int, loopID int, class IterationClass) *Loop {
	return &Loop{spectrumBase: newSpectrumBase(file, line), loopID: loopID, class: class}
}

// Type returns the variant tag.
func (*Loop) Type() Type { return TypeLoop }

// Events lists the feeding event kinds.
func (*Loop) Events() []events.Type {
	return []events.Type{events.LoopBegin, events.LoopHit, events.LoopEnd}
}

// ID uniquely identifies the object.
func (l *Loop) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s", l.Type(), l.file, l.line, l.class.hitName())
}

// Class returns the iteration class.
func (l *Loop) Class() IterationClass { return l.class }

// Hit is a no-op: iteration counts are recorded by the loop factory when the
// loop closes, via ObserveIterations.
func (l *Loop) Hit(int, events.Event, *scope.Scope) {}

// ObserveIterations records one completed loop execution with the given
// iteration count for (run, thread).
func (l *Loop) ObserveIterations(runID, threadID, count int) {
	l.recordEval(runID, threadID, l.class.Holds(count))
}

// Suggest resolves the loop's block lines through the finder.
func (l *Loop) Suggest(metric, baseDir string, useWeight bool) (Suggestion, error) {
	value, err := l.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	return Suggestion{Locations: finder.LoopLines(baseDir, l.file, l.line), Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (l *Loop) Record() Record {
	return newRecord(l, func(r *Record) {
		name := l.class.hitName()
		r.EvaluateHit = &name
	})
}

// Length classifies recorded collection lengths of one variable at one
// location into the =0, =1 and >1 classes.
type Length struct {
	spectrumBase

	varName string
	class   IterationClass
}

// NewLength creates the Length object for a len-probe location and class.
func NewLength(file string, line int, varName string, class IterationClass) *Length {
	return &Length{spectrumBase: newSpectrumBase(file, line), varName: varName, class: class}
}

// Type returns the variant tag.
func (*Length) Type() Type { return TypeLength }

// Events lists the feeding event kinds.
func (*Length) Events() []events.Type { return []events.Type{events.Len} }

// ID uniquely identifies the object.
func (l *Length) ID() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", l.Type(), l.file, l.line, l.varName, l.class.lengthName())
}

// Var returns the measured variable name.
func (l *Length) Var() string { return l.varName }

// Class returns the length class.
func (l *Length) Class() IterationClass { return l.class }

// Hit records the dynamic length carried by the len event.
func (l *Length) Hit(runID int, ev events.Event, _ *scope.Scope) {
	l.recordEval(runID, ev.ThreadID, l.class.Holds(ev.Length))
}

// Suggest returns the single probe line.
func (l *Length) Suggest(metric, _ string, useWeight bool) (Suggestion, error) {
	value, err := l.Metric(metric, useWeight)
	if err != nil {
		return Suggestion{}, err
	}

	return Suggestion{Locations: []Location{{File: l.file, Line: l.line}}, Suspiciousness: value}, nil
}

// Record returns the persisted form.
func (l *Length) Record() Record {
	return newRecord(l, func(r *Record) {
		name := l.class.lengthName()
		r.Var = &l.varName
		r.EvaluateLength = &name
	})
}
