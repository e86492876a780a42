package events_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/events"
)

const (
	testFile = "main.py"
	testVar  = "x"
)

// testMapping builds a small mapping covering the payload-carrying kinds.
func testMapping() *events.Mapping {
	return events.NewMapping([]events.Event{
		{ID: 0, Type: events.Line, File: testFile, Line: 1},
		{ID: 1, Type: events.Def, File: testFile, Line: 2, Var: testVar, VarID: 7},
		{ID: 2, Type: events.Condition, File: testFile, Line: 3, Condition: "x > 0"},
		{ID: 3, Type: events.Len, File: testFile, Line: 4, Var: testVar, VarID: 7},
		{ID: 4, Type: events.FunctionExit, File: testFile, Line: 5, Function: "main", FunctionID: 1},
	})
}

func TestParseType(t *testing.T) {
	t.Parallel()

	parsed, err := events.ParseType("LOOP_BEGIN")
	require.NoError(t, err)
	assert.Equal(t, events.LoopBegin, parsed)

	_, unknownErr := events.ParseType("NOT_AN_EVENT")
	require.ErrorIs(t, unknownErr, events.ErrUnknownEventType)
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()

	recorded := []events.Event{
		{ID: 0, Type: events.Line, ThreadID: events.MainThread},
		{ID: 1, Type: events.Def, ThreadID: 3, Value: "41", TypeTag: "int"},
		{ID: 2, Type: events.Condition, ThreadID: events.MainThread, Outcome: true},
		{ID: 3, Type: events.Len, ThreadID: events.MainThread, Length: 5},
		{ID: 4, Type: events.FunctionExit, ThreadID: events.MainThread, Value: "0", TypeTag: "int"},
	}

	var buf bytes.Buffer

	writer := events.NewWriter(&buf, false)
	for _, ev := range recorded {
		require.NoError(t, writer.Write(ev))
	}

	require.NoError(t, writer.Close())

	reader := events.NewReader(&buf, testMapping(), false)

	decoded := make([]events.Event, 0, len(recorded))

	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)

		decoded = append(decoded, ev)
	}

	require.Len(t, decoded, len(recorded))

	// Static metadata is recovered through the mapping.
	assert.Equal(t, testFile, decoded[0].File)
	assert.Equal(t, 1, decoded[0].Line)
	assert.Equal(t, events.MainThread, decoded[0].ThreadID)

	assert.Equal(t, testVar, decoded[1].Var)
	assert.Equal(t, "41", decoded[1].Value)
	assert.Equal(t, "int", decoded[1].TypeTag)
	assert.Equal(t, 3, decoded[1].ThreadID)

	assert.True(t, decoded[2].Outcome)
	assert.Equal(t, 5, decoded[3].Length)
	assert.Equal(t, "main", decoded[4].Function)
}

func TestStreamRoundTripLZ4(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	writer := events.NewWriter(&buf, true)
	require.NoError(t, writer.Write(events.Event{ID: 0, Type: events.Line, ThreadID: events.MainThread}))
	require.NoError(t, writer.Close())

	reader := events.NewReader(&buf, testMapping(), true)

	ev, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, events.Line, ev.Type)

	_, eofErr := reader.Next()
	assert.Equal(t, io.EOF, eofErr)
}

func TestUnknownEventIDAbortsStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	writer := events.NewWriter(&buf, false)
	require.NoError(t, writer.Write(events.Event{ID: 99, Type: events.Line, ThreadID: events.MainThread}))
	require.NoError(t, writer.Close())

	reader := events.NewReader(&buf, testMapping(), false)

	_, err := reader.Next()
	require.ErrorIs(t, err, events.ErrUnknownEventID)

	// The stream is done after the failure.
	_, eofErr := reader.Next()
	assert.Equal(t, io.EOF, eofErr)
}

func TestCorruptStream(t *testing.T) {
	t.Parallel()

	// Event id 1 is a def, but the payload is cut off.
	reader := events.NewReader(bytes.NewReader([]byte{0x01}), testMapping(), false)

	_, err := reader.Next()
	require.ErrorIs(t, err, events.ErrCorruptStream)
}

func TestMappingLookup(t *testing.T) {
	t.Parallel()

	mapping := testMapping()

	e, err := mapping.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, events.Def, e.Type)

	_, missErr := mapping.Lookup(42)
	require.ErrorIs(t, missErr, events.ErrUnknownEventID)

	assert.True(t, mapping.Contains(0))
	assert.False(t, mapping.Contains(42))
	assert.Equal(t, 5, mapping.Len())
}

func TestMappingPersistLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")

	mapping := testMapping()
	require.NoError(t, mapping.Persist(path))

	loaded, err := events.LoadMapping(path)
	require.NoError(t, err)
	require.Equal(t, mapping.Len(), loaded.Len())

	for _, original := range mapping.Sorted() {
		restored, lookupErr := loaded.Lookup(original.ID)
		require.NoError(t, lookupErr)
		assert.Equal(t, original, restored)
	}
}

func TestLoadMappingMissing(t *testing.T) {
	t.Parallel()

	_, err := events.LoadMapping(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, events.ErrMissingMapping)
}

func TestIdentifierIsMD5Hex(t *testing.T) {
	t.Parallel()

	// Stable digest of the path string.
	assert.Equal(t, "9ef573ee3a8ad581f324354d3c65b626", events.Identifier("/tmp/subject"))
	assert.Len(t, events.Identifier("anything"), 32)
}

func TestEventFileEach(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "run.events")

	f, err := os.Create(path)
	require.NoError(t, err)

	writer := events.NewWriter(f, false)
	require.NoError(t, writer.Write(events.Event{ID: 0, Type: events.Line, ThreadID: events.MainThread}))
	require.NoError(t, writer.Write(events.Event{ID: 2, Type: events.Condition, ThreadID: events.MainThread, Outcome: true}))
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	ef := events.NewEventFile(path, 1, testMapping(), true)

	var kinds []events.Type

	eachErr := ef.Each(func(ev events.Event) error {
		kinds = append(kinds, ev.Type)

		return nil
	})
	require.NoError(t, eachErr)

	assert.Equal(t, []events.Type{events.Line, events.Condition}, kinds)
	assert.True(t, ef.Failing)
}

func TestDiscoverWalksDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.events"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.events"), nil, 0o644))

	gen := &events.RunIDGenerator{}

	files, err := events.Discover([]string{dir}, gen, testMapping(), false)
	require.NoError(t, err)
	require.Len(t, files, 2)

	// Run ids are unique and monotonically assigned.
	assert.NotEqual(t, files[0].RunID, files[1].RunID)
	assert.False(t, files[0].Failing)
}
