package features

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/model"
)

// Builder is the feature-vector sink: a trace model that replays events
// through the combination factory and, after every notified object, folds
// the object's fresh evaluation into the run's feature vector.
type Builder struct {
	inner *model.Model

	mu       sync.Mutex
	vectors  map[int]*Vector
	features map[string]Feature
	names    map[int]string
}

// NewBuilder creates a feature builder over the factory.
func NewBuilder(factory analysis.Factory) *Builder {
	return &Builder{
		inner:    model.New(factory),
		vectors:  make(map[int]*Vector),
		features: make(map[string]Feature),
		names:    make(map[int]string),
	}
}

// Prepare allocates the run's vector, labelled by the trace's outcome.
func (b *Builder) Prepare(ef *events.EventFile) {
	b.inner.Prepare(ef)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.vectors[ef.RunID] = NewVector(ef.RunID, ResultOf(ef.Failing))
	b.names[ef.RunID] = filepath.Base(ef.Path)
}

// Dispatch replays the event and folds the notified objects' evaluations
// into the run's vector.
func (b *Builder) Dispatch(ev events.Event, ef *events.EventFile) []analysis.Object {
	matched := b.inner.Dispatch(ev, ef)

	if len(matched) == 0 {
		return matched
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	vector, ok := b.vectors[ef.RunID]
	if !ok {
		vector = NewVector(ef.RunID, ResultOf(ef.Failing))
		b.vectors[ef.RunID] = vector
	}

	for _, obj := range matched {
		feature := featureOf(obj)
		b.features[feature.Name] = feature
		vector.Set(feature, valueOf(obj, ef.RunID, ev.ThreadID))
	}

	return matched
}

// FollowUp is a no-op for the feature sink.
func (b *Builder) FollowUp(*events.EventFile) {}

// Finalize folds observations into the objects' tallies.
func (b *Builder) Finalize(passed, failed []*events.EventFile) {
	b.inner.Finalize(passed, failed)
}

// Analysis returns every canonical object created so far.
func (b *Builder) Analysis() []analysis.Object {
	return b.inner.Analysis()
}

// Features returns all observed features in sorted column order.
func (b *Builder) Features() []Feature {
	b.mu.Lock()
	defer b.mu.Unlock()

	columns := make([]Feature, 0, len(b.features))
	for _, feature := range b.features {
		columns = append(columns, feature)
	}

	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })

	return columns
}

// Vector returns the vector of a run, or nil.
func (b *Builder) Vector(runID int) *Vector {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.vectors[runID]
}

// Vectors returns all vectors ordered by run id.
func (b *Builder) Vectors() []*Vector {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.vectors))
	for id := range b.vectors {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	vectors := make([]*Vector, 0, len(ids))
	for _, id := range ids {
		vectors = append(vectors, b.vectors[id])
	}

	return vectors
}

// Remove drops the vector of a run.
func (b *Builder) Remove(runID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.vectors, runID)
}

// WriteCSV renders the feature matrix: one row per run with the numeric
// feature values, the trace name, the failing flag, and an optional label
// column.
func (b *Builder) WriteCSV(w io.Writer, label string) error {
	columns := b.Features()
	vectors := b.Vectors()

	writer := csv.NewWriter(w)

	header := make([]string, 0, len(columns)+3)
	for _, feature := range columns {
		header = append(header, feature.Name)
	}

	header = append(header, "test", "failing")
	if label != "" {
		header = append(header, "label")
	}

	writeErr := writer.Write(header)
	if writeErr != nil {
		return fmt.Errorf("write feature header: %w", writeErr)
	}

	for _, vector := range vectors {
		row := make([]string, 0, len(header))
		for _, value := range vector.Row(columns) {
			row = append(row, strconv.Itoa(int(value)))
		}

		b.mu.Lock()
		name := b.names[vector.RunID]
		b.mu.Unlock()

		failing := "0"
		if vector.Result == ResultFailing {
			failing = "1"
		}

		row = append(row, name, failing)
		if label != "" {
			row = append(row, label)
		}

		rowErr := writer.Write(row)
		if rowErr != nil {
			return fmt.Errorf("write feature row: %w", rowErr)
		}
	}

	writer.Flush()

	flushErr := writer.Error()
	if flushErr != nil {
		return fmt.Errorf("flush feature matrix: %w", flushErr)
	}

	return nil
}
