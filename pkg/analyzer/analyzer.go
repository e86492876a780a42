// Package analyzer orchestrates the trace-analysis pipeline: it drains every
// event file through the trace model — serially or on a bounded worker pool —
// finalizes the canonical objects, and produces ranked suggestions.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
	"github.com/Sumatoshi-tech/tracefang/pkg/observability"
)

// tracerName is the default OTel tracer name for the analyzer package.
const tracerName = "tracefang"

// DefaultWorkers is the default size of the trace worker pool.
const DefaultWorkers = 4

// ErrNoModel is returned when an analyzer loaded from persisted data is asked
// to replay traces.
var ErrNoModel = errors.New("analyzer holds loaded analysis only")

// Analyzer drives the analysis of a set of labelled traces.
type Analyzer struct {
	failing []*events.EventFile
	passing []*events.EventFile

	model  model.TraceModel
	loaded []analysis.Object

	workers int
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.PipelineMetrics

	statsMu sync.Mutex
	stats   SuspiciousnessStats
}

// SuspiciousnessStats summarizes the scores of the last suggestion pass.
type SuspiciousnessStats struct {
	Max  float64
	Min  float64
	Mean float64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers sets the trace worker pool size; values below 1 run serially.
func WithWorkers(workers int) Option {
	return func(a *Analyzer) {
		a.workers = workers
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithTracer sets the OTel tracer for per-trace spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Analyzer) {
		a.tracer = tracer
	}
}

// WithMetrics sets the pipeline instruments.
func WithMetrics(metrics *observability.PipelineMetrics) Option {
	return func(a *Analyzer) {
		a.metrics = metrics
	}
}

// New creates an Analyzer over failing and passing traces and a trace model.
func New(failing, passing []*events.EventFile, traceModel model.TraceModel, opts ...Option) *Analyzer {
	a := &Analyzer{
		failing: failing,
		passing: passing,
		model:   traceModel,
		workers: DefaultWorkers,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}

	return a
}

// Analyze consumes every event file exactly once and finalizes the tallies.
// Traces with corrupt streams are abandoned and logged; they contribute
// nothing further, while other traces proceed. I/O errors opening a trace
// and context cancellation abort the analysis.
func (a *Analyzer) Analyze(ctx context.Context) error {
	if a.model == nil {
		return ErrNoModel
	}

	all := make([]*events.EventFile, 0, len(a.failing)+len(a.passing))
	all = append(all, a.failing...)
	all = append(all, a.passing...)

	var runErr error
	if a.workers > 1 {
		runErr = a.analyzeParallel(ctx, all)
	} else {
		runErr = a.analyzeSerial(ctx, all)
	}

	if runErr != nil {
		return runErr
	}

	// Finalization must not race any ongoing hit; both paths above return
	// only after the last trace is fully consumed.
	a.model.Finalize(a.passing, a.failing)

	return nil
}

func (a *Analyzer) analyzeSerial(ctx context.Context, all []*events.EventFile) error {
	for _, ef := range all {
		err := a.analyzeTrace(ctx, ef)
		if err != nil {
			return err
		}
	}

	return nil
}

// analyzeParallel drains the traces on a bounded worker pool: each worker
// consumes one event file end-to-end.
func (a *Analyzer) analyzeParallel(ctx context.Context, all []*events.EventFile) error {
	workChan := make(chan *events.EventFile)

	var wg sync.WaitGroup

	workerErrors := make([]error, a.workers)

	wg.Add(a.workers)

	for i := range a.workers {
		go func(workerIdx int) {
			defer wg.Done()

			for ef := range workChan {
				err := a.analyzeTrace(ctx, ef)
				if err != nil {
					workerErrors[workerIdx] = err

					// Drain remaining work to prevent deadlock.
					for range workChan {
						continue
					}

					return
				}
			}
		}(i)
	}

	for _, ef := range all {
		workChan <- ef
	}

	close(workChan)
	wg.Wait()

	for _, err := range workerErrors {
		if err != nil {
			return err
		}
	}

	return nil
}

// analyzeTrace replays one event file through the model. A corrupt stream
// abandons the trace; the error is logged and the analysis proceeds.
func (a *Analyzer) analyzeTrace(ctx context.Context, ef *events.EventFile) error {
	ctx, span := a.tracer.Start(ctx, "tracefang.trace",
		trace.WithAttributes(
			attribute.Int("trace.run_id", ef.RunID),
			attribute.Bool("trace.failing", ef.Failing),
			attribute.String("trace.path", ef.Path),
		))
	defer span.End()

	a.model.Prepare(ef)

	count := 0

	err := ef.Each(func(ev events.Event) error {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return ctxErr
		}

		a.model.Dispatch(ev, ef)
		count++

		return nil
	})

	span.SetAttributes(attribute.Int("trace.events", count))

	if err != nil {
		if errors.Is(err, events.ErrCorruptStream) || errors.Is(err, events.ErrUnknownEventID) {
			a.logger.Warn("abandoning corrupt trace",
				slog.String("path", ef.Path),
				slog.Int("run_id", ef.RunID),
				slog.Any("error", err))

			if a.metrics != nil {
				a.metrics.RecordAbandoned(ctx)
			}

			return nil
		}

		return err
	}

	a.model.FollowUp(ef)

	if a.metrics != nil {
		a.metrics.RecordTrace(ctx, ef.Failing, count)
	}

	a.logger.Debug("trace consumed",
		slog.String("path", ef.Path),
		slog.Int("run_id", ef.RunID),
		slog.Int("events", count),
		slog.Bool("failing", ef.Failing))

	return nil
}

// Analysis returns every canonical object of the analysis.
func (a *Analyzer) Analysis() []analysis.Object {
	if a.model == nil {
		return a.loaded
	}

	return a.model.Analysis()
}

// AnalysisByType filters the objects by variant.
func (a *Analyzer) AnalysisByType(t analysis.Type) []analysis.Object {
	var filtered []analysis.Object

	for _, obj := range a.Analysis() {
		if obj.Type() == t {
			filtered = append(filtered, obj)
		}
	}

	return filtered
}

// SortedSuggestions computes each object's suggestion under the metric,
// groups equal scores, unions the locations per group, and returns the
// groups sorted by descending suspiciousness.
func (a *Analyzer) SortedSuggestions(baseDir, metric string, filter *analysis.Type, useWeight bool) ([]analysis.Suggestion, error) {
	objects := a.Analysis()
	if filter != nil {
		objects = a.AnalysisByType(*filter)
	}

	return a.suggestionsFrom(objects, baseDir, metric, useWeight)
}

func (a *Analyzer) suggestionsFrom(objects []analysis.Object, baseDir, metric string, useWeight bool) ([]analysis.Suggestion, error) {
	groups := make(map[float64]map[analysis.Location]struct{})

	stats := SuspiciousnessStats{Max: math.Inf(-1), Min: math.Inf(1)}

	var sum float64

	for _, obj := range objects {
		suggestion, err := obj.Suggest(metric, baseDir, useWeight)
		if err != nil {
			return nil, err
		}

		stats.Max = math.Max(stats.Max, suggestion.Suspiciousness)
		stats.Min = math.Min(stats.Min, suggestion.Suspiciousness)
		sum += suggestion.Suspiciousness

		group, ok := groups[suggestion.Suspiciousness]
		if !ok {
			group = make(map[analysis.Location]struct{})
			groups[suggestion.Suspiciousness] = group
		}

		for _, loc := range suggestion.Locations {
			group[loc] = struct{}{}
		}
	}

	if len(objects) > 0 {
		stats.Mean = sum / float64(len(objects))

		a.statsMu.Lock()
		a.stats = stats
		a.statsMu.Unlock()
	}

	return sortedGroups(groups), nil
}

func sortedGroups(groups map[float64]map[analysis.Location]struct{}) []analysis.Suggestion {
	suggestions := make([]analysis.Suggestion, 0, len(groups))

	for score, locations := range groups {
		group := analysis.Suggestion{Suspiciousness: score}

		for loc := range locations {
			group.Locations = append(group.Locations, loc)
		}

		sort.Slice(group.Locations, func(i, j int) bool {
			if group.Locations[i].File != group.Locations[j].File {
				return group.Locations[i].File < group.Locations[j].File
			}

			return group.Locations[i].Line < group.Locations[j].Line
		})

		suggestions = append(suggestions, group)
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Suspiciousness > suggestions[j].Suspiciousness
	})

	return suggestions
}

// Stats returns the score statistics of the last suggestion pass.
func (a *Analyzer) Stats() SuspiciousnessStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	return a.stats
}

// CoveragePerRun returns, per run id, the set of objects the run observed.
func (a *Analyzer) CoveragePerRun(filter *analysis.Type) map[int][]analysis.Object {
	objects := a.Analysis()
	if filter != nil {
		objects = a.AnalysisByType(*filter)
	}

	coverage := make(map[int][]analysis.Object)

	for _, obj := range objects {
		for _, runID := range obj.ObservedRuns() {
			coverage[runID] = append(coverage[runID], obj)
		}
	}

	return coverage
}

// Coverage returns every object observed by at least one run.
func (a *Analyzer) Coverage(filter *analysis.Type) []analysis.Object {
	var covered []analysis.Object

	for _, obj := range a.Analysis() {
		if filter != nil && obj.Type() != *filter {
			continue
		}

		if len(obj.ObservedRuns()) > 0 {
			covered = append(covered, obj)
		}
	}

	return covered
}

// Dumps serializes the analysis to JSON.
func (a *Analyzer) Dumps() ([]byte, error) {
	return analysis.Serialize(a.Analysis())
}

// Dump writes the serialized analysis to path.
func (a *Analyzer) Dump(path string) error {
	data, err := a.Dumps()
	if err != nil {
		return err
	}

	writeErr := os.WriteFile(path, data, 0o644)
	if writeErr != nil {
		return fmt.Errorf("write analysis: %w", writeErr)
	}

	return nil
}

// Loads reconstructs an analyzer from serialized analysis data. The result
// can rank and suggest but not replay traces.
func Loads(data []byte) (*Analyzer, error) {
	objects, err := analysis.Deserialize(data)
	if err != nil {
		return nil, err
	}

	return &Analyzer{loaded: objects, logger: slog.Default(), tracer: otel.Tracer(tracerName)}, nil
}

// Load reads a persisted analysis from path.
func Load(path string) (*Analyzer, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("read analysis: %w", readErr)
	}

	return Loads(data)
}
