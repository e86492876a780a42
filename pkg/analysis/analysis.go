// Package analysis implements the canonical analysis objects produced from
// event traces (lines, branches, def-use pairs, loops, predicates), the
// factories that build and deduplicate them during trace ingestion, their
// suspiciousness scoring, and their persisted JSON form.
package analysis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

// Type identifies the analysis object variant. The numeric value is the
// persisted "type" tag.
type Type int

// Analysis object variants.
const (
	TypeLine Type = iota
	TypeBranch
	TypeFunction
	TypeLoop
	TypeDefUse
	TypeCondition
	TypeScalarPair
	TypeVariable
	TypeReturn
	TypeNone
	TypeEmptyString
	TypeEmptyBytes
	TypeAsciiString
	TypeDigitString
	TypeSpecialString
	TypeLength
	TypeFunctionError
)

// typeNames maps variants to their configuration names.
var typeNames = map[Type]string{
	TypeLine:          "LINE",
	TypeBranch:        "BRANCH",
	TypeFunction:      "FUNCTION",
	TypeLoop:          "LOOP",
	TypeDefUse:        "DEF_USE",
	TypeCondition:     "CONDITION",
	TypeScalarPair:    "SCALAR_PAIR",
	TypeVariable:      "VARIABLE",
	TypeReturn:        "RETURN",
	TypeNone:          "NONE",
	TypeEmptyString:   "EMPTY_STRING",
	TypeEmptyBytes:    "EMPTY_BYTES",
	TypeAsciiString:   "ASCII_STRING",
	TypeDigitString:   "DIGIT_STRING",
	TypeSpecialString: "SPECIAL_STRING",
	TypeLength:        "LENGTH",
	TypeFunctionError: "FUNCTION_ERROR",
}

// String returns the configuration name of the variant.
func (t Type) String() string {
	name, ok := typeNames[t]
	if !ok {
		return fmt.Sprintf("Type(%d)", int(t))
	}

	return name
}

// ErrUnknownAnalysisType is returned when a variant name or tag is unknown.
var ErrUnknownAnalysisType = fmt.Errorf("unknown analysis type")

// ParseType resolves a configuration name (e.g. "SCALAR_PAIR") to a variant.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownAnalysisType, name)
}

// Family partitions variants by observation semantics.
type Family int

// Object families.
const (
	// FamilySpectrum objects observe binary hit/no-hit per run.
	FamilySpectrum Family = iota
	// FamilyPredicate objects observe TRUE/FALSE/UNOBSERVED per (run, thread).
	FamilyPredicate
)

// Evaluation is the tri-valued observation state of an object for one
// (run, thread).
type Evaluation int

// Evaluation states.
const (
	Unobserved Evaluation = iota
	EvalTrue
	EvalFalse
)

// String renders the evaluation state.
func (e Evaluation) String() string {
	switch e {
	case EvalTrue:
		return "TRUE"
	case EvalFalse:
		return "FALSE"
	default:
		return "UNOBSERVED"
	}
}

// Location is one suggested source position.
type Location struct {
	File string
	Line int
}

// String renders file:line.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Suggestion pairs suggested locations with their suspiciousness score.
type Suggestion struct {
	Locations      []Location
	Suspiciousness float64
}

// Object is the canonical unit indexed by the analyzer. Objects are created
// by their owning factory, mutated only through Hit during trace ingestion,
// and finalized once after the last trace.
type Object interface {
	// Type returns the variant tag.
	Type() Type
	// Family reports whether observations are binary or tri-valued.
	Family() Family
	// ID returns a string uniquely identifying the object across all
	// variants; it doubles as the feature name.
	ID() string
	// File and Line locate the defining probe.
	File() string
	Line() int
	// Events lists the event kinds feeding this object.
	Events() []events.Type
	// Hit updates counters and the last evaluation for (run, thread).
	Hit(runID int, ev events.Event, sc *scope.Scope)
	// CheckHits reports whether any thread of the run exercised the object
	// in its target sense.
	CheckHits(runID int) bool
	// LastEvaluation returns the recorded evaluation for (run, thread).
	LastEvaluation(runID, threadID int) Evaluation
	// ObservedRuns returns the run ids with recorded evaluations, ascending.
	ObservedRuns() []int
	// Finalize folds per-run observations into the spectrum tallies.
	Finalize(passed, failed []*events.EventFile)
	// Counts returns the finalized spectrum tallies.
	Counts() metrics.Counts
	// AdjustWeight raises the per-run weight to w if larger.
	AdjustWeight(runID int, w float64)
	// Weight returns the aggregated weight: the mean of per-run weights,
	// or 0 when none were recorded.
	Weight() float64
	// Metric computes the named suspiciousness formula, multiplied by the
	// aggregated weight when useWeight is set. Anomalies collapse to 0.
	Metric(name string, useWeight bool) (float64, error)
	// Suggest produces the suggestion for this object under the named
	// metric, resolving block locations through the configured finder.
	Suggest(metric, baseDir string, useWeight bool) (Suggestion, error)
	// Record returns the persisted form.
	Record() Record
}

// hitKey addresses the per-(run, thread) cells of the hit tables.
type hitKey struct {
	run    int
	thread int
}

// base carries the state shared by every analysis object: location, the
// per-(run, thread) hit and last-evaluation tables, the finalized tallies,
// and the per-run weights. The mutex guards the tables; different workers
// own different run ids, so contention is limited to map access.
type base struct {
	mu   sync.Mutex
	file string
	line int

	hits     map[hitKey]int
	lastEval map[hitKey]Evaluation

	counts  metrics.Counts
	weights map[int]float64
}

func newBase(file string, line int) base {
	return base{
		file:     file,
		line:     line,
		hits:     make(map[hitKey]int),
		lastEval: make(map[hitKey]Evaluation),
		weights:  make(map[int]float64),
	}
}

// File returns the probe file.
func (b *base) File() string { return b.file }

// Line returns the probe line.
func (b *base) Line() int { return b.line }

// Counts returns the finalized spectrum tallies.
func (b *base) Counts() metrics.Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// markHit records one positive observation for (run, thread).
func (b *base) markHit(runID, threadID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := hitKey{run: runID, thread: threadID}
	b.hits[key]++
	b.lastEval[key] = EvalTrue
}

// recordEval records a tri-valued observation: hits count only TRUE results.
// A FALSE result sets the last evaluation to FALSE and keeps earlier TRUE
// hits, so a positive hit count does not imply a TRUE last evaluation.
func (b *base) recordEval(runID, threadID int, outcome bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := hitKey{run: runID, thread: threadID}
	if outcome {
		b.hits[key]++
		b.lastEval[key] = EvalTrue

		return
	}

	if _, seen := b.hits[key]; !seen {
		b.hits[key] = 0
	}

	b.lastEval[key] = EvalFalse
}

// CheckHits reports whether any thread of the run registered a positive hit.
func (b *base) CheckHits(runID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.checkHitsLocked(runID)
}

func (b *base) checkHitsLocked(runID int) bool {
	for key, count := range b.hits {
		if key.run == runID && count > 0 {
			return true
		}
	}

	return false
}

// ObservedRuns returns the run ids with recorded evaluations, ascending.
func (b *base) ObservedRuns() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[int]struct{})

	for key := range b.lastEval {
		seen[key.run] = struct{}{}
	}

	runs := make([]int, 0, len(seen))
	for run := range seen {
		runs = append(runs, run)
	}

	sort.Ints(runs)

	return runs
}

// HitThreads returns the thread ids of the run with recorded evaluations, in
// ascending order.
func (b *base) HitThreads(runID int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	threads := make([]int, 0)

	for key := range b.lastEval {
		if key.run == runID {
			threads = append(threads, key.thread)
		}
	}

	sort.Ints(threads)

	return threads
}

// AdjustWeight raises the per-run weight to w if larger than the recorded one.
func (b *base) AdjustWeight(runID int, w float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.weights[runID]; !ok || w > current {
		b.weights[runID] = w
	}
}

// Weight returns the mean of the recorded per-run weights, or 0 when none.
func (b *base) Weight() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.weights) == 0 {
		return 0
	}

	var sum float64
	for _, w := range b.weights {
		sum += w
	}

	return sum / float64(len(b.weights))
}

// finalizeCounts folds CheckHits over the passed and failed runs into the
// spectrum tallies. Not-observed sides follow by subtraction, so
// passed = passed_observed + passed_not_observed always holds (and likewise
// for failed).
func (b *base) finalizeCounts(passed, failed []*events.EventFile) {
	b.mu.Lock()
	defer b.mu.Unlock()

	observedPassed := 0

	for _, ef := range passed {
		if b.checkHitsLocked(ef.RunID) {
			observedPassed++
		}
	}

	observedFailed := 0

	for _, ef := range failed {
		if b.checkHitsLocked(ef.RunID) {
			observedFailed++
		}
	}

	b.counts = metrics.Counts{
		Passed:            len(passed),
		PassedObserved:    observedPassed,
		PassedNotObserved: len(passed) - observedPassed,
		Failed:            len(failed),
		FailedObserved:    observedFailed,
		FailedNotObserved: len(failed) - observedFailed,
	}
}

// setCounts installs tallies read back from a persisted record.
func (b *base) setCounts(c metrics.Counts) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counts = c
}
