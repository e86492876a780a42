package events

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EventFile is the handle to one recorded trace: its path, the unique run id
// assigned for this analysis, the pass/fail label, and the mapping used to
// resolve event ids.
type EventFile struct {
	Path    string
	RunID   int
	Failing bool

	mapping *Mapping
}

// NewEventFile creates a trace handle.
func NewEventFile(path string, runID int, mapping *Mapping, failing bool) *EventFile {
	return &EventFile{Path: path, RunID: runID, Failing: failing, mapping: mapping}
}

// Mapping returns the event mapping shared by all traces of one analysis.
func (ef *EventFile) Mapping() *Mapping {
	return ef.mapping
}

// String renders the handle for logs.
func (ef *EventFile) String() string {
	label := "passing"
	if ef.Failing {
		label = "failing"
	}

	return fmt.Sprintf("run %d (%s): %s", ef.RunID, label, ef.Path)
}

// Each opens the trace, decodes every event in file order and hands it to fn.
// The underlying file is closed on all exit paths. An error from fn or from
// decoding aborts this trace and is returned.
func (ef *EventFile) Each(fn func(Event) error) error {
	f, openErr := os.Open(ef.Path)
	if openErr != nil {
		return fmt.Errorf("open event file: %w", openErr)
	}
	defer f.Close()

	reader := NewReader(f, ef.mapping, IsCompressedPath(ef.Path))

	for {
		event, nextErr := reader.Next()
		if nextErr != nil {
			if nextErr == io.EOF {
				return nil
			}

			return fmt.Errorf("decode %s: %w", ef.Path, nextErr)
		}

		fnErr := fn(event)
		if fnErr != nil {
			return fnErr
		}
	}
}

// RunIDGenerator hands out unique, monotonically increasing run ids to event
// files discovered for one analysis.
type RunIDGenerator struct {
	next int
}

// Next returns the next run id.
func (g *RunIDGenerator) Next() int {
	id := g.next
	g.next++

	return id
}

// Discover resolves the configured passing/failing entries into event files.
// Each entry may be a file or a directory; directories are expanded
// breadth-first, symlinks are skipped. Run ids are assigned in listing order
// from the shared generator.
func Discover(entries []string, gen *RunIDGenerator, mapping *Mapping, failing bool) ([]*EventFile, error) {
	queue := make([]string, 0, len(entries))
	queue = append(queue, entries...)

	files := make([]*EventFile, 0, len(entries))

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		info, statErr := os.Lstat(entry)
		if statErr != nil {
			return nil, fmt.Errorf("stat event path: %w", statErr)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if info.IsDir() {
			listing, readErr := os.ReadDir(entry)
			if readErr != nil {
				return nil, fmt.Errorf("list event directory: %w", readErr)
			}

			for _, child := range listing {
				queue = append(queue, filepath.Join(entry, child.Name()))
			}

			continue
		}

		files = append(files, NewEventFile(entry, gen.Next(), mapping, failing))
	}

	return files, nil
}
