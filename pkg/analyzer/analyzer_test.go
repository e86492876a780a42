package analyzer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/analyzer"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
)

const subjectFile = "subject.py"

// lineMapping maps one line event id per source line.
func lineMapping(lines ...int) *events.Mapping {
	metadata := make([]events.Event, 0, len(lines))

	for i, line := range lines {
		metadata = append(metadata, events.Event{ID: i, Type: events.Line, File: subjectFile, Line: line})
	}

	return events.NewMapping(metadata)
}

// writeTrace writes an event log hitting the given event ids in order.
func writeTrace(t *testing.T, dir, name string, ids []int) string {
	t.Helper()

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	require.NoError(t, err)

	writer := events.NewWriter(f, false)
	for _, id := range ids {
		require.NoError(t, writer.Write(events.Event{ID: id, Type: events.Line, ThreadID: events.MainThread}))
	}

	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	return path
}

// fixture builds one failing and two passing traces over six mapped lines:
// the failing run hits lines {1, 5, 6, 7, 9, 10}, the passing runs hit
// {1, 5, 6, 12, 13}.
func fixture(t *testing.T) (failing, passing []*events.EventFile) {
	t.Helper()

	dir := t.TempDir()
	mapping := lineMapping(1, 5, 6, 7, 9, 10, 12, 13)

	failingPath := writeTrace(t, dir, "fail.events", []int{0, 1, 2, 3, 4, 5})
	passing1Path := writeTrace(t, dir, "pass1.events", []int{0, 1, 2, 6, 7})
	passing2Path := writeTrace(t, dir, "pass2.events", []int{0, 1, 2, 6, 7})

	failing = []*events.EventFile{events.NewEventFile(failingPath, 0, mapping, true)}
	passing = []*events.EventFile{
		events.NewEventFile(passing1Path, 1, mapping, false),
		events.NewEventFile(passing2Path, 2, mapping, false),
	}

	return failing, passing
}

func newLineModel(t *testing.T) *model.Model {
	t.Helper()

	factory, err := analysis.NewFactories([]analysis.Type{analysis.TypeLine})
	require.NoError(t, err)

	return model.New(factory)
}

func scoreByLine(t *testing.T, a *analyzer.Analyzer, metric string) map[int]float64 {
	t.Helper()

	scores := make(map[int]float64)

	for _, obj := range a.Analysis() {
		value, err := obj.Metric(metric, false)
		require.NoError(t, err)

		scores[obj.Line()] = value
	}

	return scores
}

func TestAnalyzeSerial(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.NoError(t, a.Analyze(context.Background()))

	scores := scoreByLine(t, a, "Tarantula")

	assert.InDelta(t, 1.0, scores[10], 1e-9)
	assert.InDelta(t, 0.5, scores[1], 1e-9)
	assert.InDelta(t, 0.0, scores[12], 1e-9)
}

func TestAnalyzeParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(4))
	require.NoError(t, a.Analyze(context.Background()))

	scores := scoreByLine(t, a, "Tarantula")

	assert.InDelta(t, 1.0, scores[10], 1e-9)
	assert.InDelta(t, 0.5, scores[1], 1e-9)
}

func TestSortedSuggestionsGroupAndOrder(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.NoError(t, a.Analyze(context.Background()))

	suggestions, err := a.SortedSuggestions("", "Tarantula", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)

	// Descending by score; the top group holds the failing-only lines.
	for i := 1; i < len(suggestions); i++ {
		assert.GreaterOrEqual(t, suggestions[i-1].Suspiciousness, suggestions[i].Suspiciousness)
	}

	top := suggestions[0]
	assert.InDelta(t, 1.0, top.Suspiciousness, 1e-9)
	assert.Len(t, top.Locations, 3)

	stats := a.Stats()
	assert.InDelta(t, 1.0, stats.Max, 1e-9)
	assert.InDelta(t, 0.0, stats.Min, 1e-9)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.NoError(t, a.Analyze(context.Background()))

	path := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, a.Dump(path))

	loaded, err := analyzer.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Analysis(), len(a.Analysis()))

	scores := scoreByLine(t, loaded, "Tarantula")
	assert.InDelta(t, 1.0, scores[10], 1e-9)

	// A loaded analyzer cannot replay traces.
	require.ErrorIs(t, loaded.Analyze(context.Background()), analyzer.ErrNoModel)
}

func TestCorruptTraceIsAbandoned(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mapping := lineMapping(1)

	good := writeTrace(t, dir, "good.events", []int{0})

	// An id outside the mapping corrupts the stream.
	bad := writeTrace(t, dir, "bad.events", []int{42})

	failing := []*events.EventFile{events.NewEventFile(bad, 0, mapping, true)}
	passing := []*events.EventFile{events.NewEventFile(good, 1, mapping, false)}

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.NoError(t, a.Analyze(context.Background()))

	// The good trace was still consumed.
	require.Len(t, a.Analysis(), 1)

	counts := a.Analysis()[0].Counts()
	assert.Equal(t, 1, counts.PassedObserved)
	assert.Equal(t, 0, counts.FailedObserved)
}

func TestMissingTraceFileAborts(t *testing.T) {
	t.Parallel()

	mapping := lineMapping(1)
	failing := []*events.EventFile{events.NewEventFile("/does/not/exist", 0, mapping, true)}

	a := analyzer.New(failing, nil, newLineModel(t), analyzer.WithWorkers(1))
	require.Error(t, a.Analyze(context.Background()))
}

func TestCancellationAbortsAnalysis(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.ErrorIs(t, a.Analyze(ctx), context.Canceled)
}

func TestCoverage(t *testing.T) {
	t.Parallel()

	failing, passing := fixture(t)

	a := analyzer.New(failing, passing, newLineModel(t), analyzer.WithWorkers(1))
	require.NoError(t, a.Analyze(context.Background()))

	perRun := a.CoveragePerRun(nil)
	require.Len(t, perRun, 3)

	// The failing run covered six lines, each passing run five.
	assert.Len(t, perRun[0], 6)
	assert.Len(t, perRun[1], 5)
	assert.Len(t, perRun[2], 5)

	assert.Len(t, a.Coverage(nil), 8)
}
