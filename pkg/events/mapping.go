package events

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// mappingDirName is the directory under $HOME holding persisted event mappings.
const mappingDirName = ".sflkit"

// ErrMissingMapping is returned when no persisted mapping exists for a target.
var ErrMissingMapping = errors.New("missing event mapping")

// ErrUnknownEventID is returned when a stream yields an id absent from the
// mapping. The surrounding trace is aborted.
var ErrUnknownEventID = errors.New("unknown event id")

// Mapping is the immutable event-id to event-metadata table produced during
// instrumentation. A valid stream only contains ids present in the mapping.
type Mapping struct {
	events map[int]Event
	path   string
}

// NewMapping creates a mapping from the given metadata events, keyed by id.
func NewMapping(metadata []Event) *Mapping {
	table := make(map[int]Event, len(metadata))
	for _, e := range metadata {
		table[e.ID] = e
	}

	return &Mapping{events: table}
}

// Path returns the file the mapping was loaded from, or empty.
func (m *Mapping) Path() string {
	return m.path
}

// Len returns the number of mapped event ids.
func (m *Mapping) Len() int {
	return len(m.events)
}

// Lookup resolves an event id to its static metadata. It is total on valid
// streams; an unmapped id yields ErrUnknownEventID.
func (m *Mapping) Lookup(id int) (Event, error) {
	e, ok := m.events[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownEventID, id)
	}

	return e, nil
}

// Contains reports whether the id is mapped.
func (m *Mapping) Contains(id int) bool {
	_, ok := m.events[id]

	return ok
}

// Sorted returns the mapped metadata events ordered by event id.
func (m *Mapping) Sorted() []Event {
	sorted := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		sorted = append(sorted, e)
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	return sorted
}

// eventJSON is the persisted form of one mapped event. All fields are written
// explicitly so the on-disk schema is stable across versions.
type eventJSON struct {
	EventID    int    `json:"event_id"`
	EventType  int    `json:"event_type"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Function   string `json:"function"`
	FunctionID int    `json:"function_id"`
	Var        string `json:"var"`
	VarID      int    `json:"var_id"`
	ThenID     int    `json:"then_id"`
	ElseID     int    `json:"else_id"`
	Condition  string `json:"condition"`
	LoopID     int    `json:"loop_id"`
}

func toJSON(e Event) eventJSON {
	return eventJSON{
		EventID:    e.ID,
		EventType:  int(e.Type),
		File:       e.File,
		Line:       e.Line,
		Function:   e.Function,
		FunctionID: e.FunctionID,
		Var:        e.Var,
		VarID:      e.VarID,
		ThenID:     e.ThenID,
		ElseID:     e.ElseID,
		Condition:  e.Condition,
		LoopID:     e.LoopID,
	}
}

func fromJSON(j eventJSON) Event {
	return Event{
		ID:         j.EventID,
		Type:       Type(j.EventType),
		File:       j.File,
		Line:       j.Line,
		Function:   j.Function,
		FunctionID: j.FunctionID,
		Var:        j.Var,
		VarID:      j.VarID,
		ThenID:     j.ThenID,
		ElseID:     j.ElseID,
		Condition:  j.Condition,
		LoopID:     j.LoopID,
	}
}

// Persist writes the mapping as a JSON array ordered by event id.
func (m *Mapping) Persist(path string) error {
	dir := filepath.Dir(path)

	mkdirErr := os.MkdirAll(dir, 0o755)
	if mkdirErr != nil {
		return fmt.Errorf("create mapping directory: %w", mkdirErr)
	}

	sorted := m.Sorted()

	records := make([]eventJSON, 0, len(sorted))
	for _, e := range sorted {
		records = append(records, toJSON(e))
	}

	data, marshalErr := json.Marshal(records)
	if marshalErr != nil {
		return fmt.Errorf("marshal mapping: %w", marshalErr)
	}

	writeErr := os.WriteFile(path, data, 0o644)
	if writeErr != nil {
		return fmt.Errorf("write mapping: %w", writeErr)
	}

	m.path = path

	return nil
}

// LoadMapping reads a persisted mapping from path.
func LoadMapping(path string) (*Mapping, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingMapping, path)
		}

		return nil, fmt.Errorf("read mapping: %w", readErr)
	}

	var records []eventJSON

	unmarshalErr := json.Unmarshal(data, &records)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal mapping %s: %w", path, unmarshalErr)
	}

	metadata := make([]Event, 0, len(records))
	for _, r := range records {
		metadata = append(metadata, fromJSON(r))
	}

	mapping := NewMapping(metadata)
	mapping.path = path

	return mapping, nil
}

// Identifier returns the stable identifier of a target path used to locate its
// persisted mapping: the MD5 hex digest of the path string.
func Identifier(targetPath string) string {
	sum := md5.Sum([]byte(targetPath))

	return hex.EncodeToString(sum[:])
}

// DefaultMappingPath returns the conventional mapping location for a target,
// $HOME/.sflkit/<identifier>.json.
func DefaultMappingPath(targetPath string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, mappingDirName, Identifier(targetPath)+".json"), nil
}
