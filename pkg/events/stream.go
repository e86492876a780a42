package events

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// ErrCorruptStream is returned when a record cannot be decoded. The
// surrounding trace is aborted; other traces proceed.
var ErrCorruptStream = errors.New("corrupt event stream")

// LZ4Suffix marks event logs stored with lz4 frame compression. The reader
// decompresses them transparently.
const LZ4Suffix = ".lz4"

// hasThreadFlag marks records carrying an explicit thread id.
const hasThreadFlag = 0x01

// maxStringLen bounds decoded payload strings to reject corrupt length
// prefixes before allocating.
const maxStringLen = 1 << 24

// payload is the dynamic portion of one stream record.
type payload struct {
	threadID int
	value    string
	typeTag  string
	outcome  bool
	length   int
}

// Reader decodes an event stream into Events, resolving static metadata
// through the mapping. It is a finite, non-restartable iterator.
//
// Wire format, per record: uvarint event id, one flag byte, optional uvarint
// thread id, then a kind-dependent dynamic payload (value and type tag for
// defs and function exits, one outcome byte for conditions, a uvarint length
// for len events).
type Reader struct {
	src     *bufio.Reader
	mapping *Mapping
	done    bool
}

// NewReader creates a Reader over src. When compressed is set, src is wrapped
// with an lz4 frame decompressor.
func NewReader(src io.Reader, mapping *Mapping, compressed bool) *Reader {
	if compressed {
		src = lz4.NewReader(src)
	}

	return &Reader{src: bufio.NewReader(src), mapping: mapping}
}

// Next decodes the next event. It returns io.EOF after the final record;
// any malformed record yields ErrCorruptStream and ends the stream.
func (r *Reader) Next() (Event, error) {
	if r.done {
		return Event{}, io.EOF
	}

	id, idErr := binary.ReadUvarint(r.src)
	if idErr != nil {
		r.done = true

		if errors.Is(idErr, io.EOF) {
			return Event{}, io.EOF
		}

		return Event{}, fmt.Errorf("%w: read event id: %v", ErrCorruptStream, idErr)
	}

	meta, lookupErr := r.mapping.Lookup(int(id))
	if lookupErr != nil {
		r.done = true

		return Event{}, lookupErr
	}

	p, payloadErr := r.readPayload(meta.Type)
	if payloadErr != nil {
		r.done = true

		return Event{}, payloadErr
	}

	return meta.withPayload(p), nil
}

func (r *Reader) readPayload(t Type) (payload, error) {
	p := payload{threadID: MainThread}

	flags, flagsErr := r.src.ReadByte()
	if flagsErr != nil {
		return p, fmt.Errorf("%w: read flags: %v", ErrCorruptStream, flagsErr)
	}

	if flags&hasThreadFlag != 0 {
		thread, threadErr := binary.ReadUvarint(r.src)
		if threadErr != nil {
			return p, fmt.Errorf("%w: read thread id: %v", ErrCorruptStream, threadErr)
		}

		p.threadID = int(thread)
	}

	switch t {
	case Def, TestDef, FunctionExit:
		value, valueErr := r.readString()
		if valueErr != nil {
			return p, valueErr
		}

		typeTag, tagErr := r.readString()
		if tagErr != nil {
			return p, tagErr
		}

		p.value, p.typeTag = value, typeTag
	case Condition:
		outcome, outcomeErr := r.src.ReadByte()
		if outcomeErr != nil {
			return p, fmt.Errorf("%w: read condition outcome: %v", ErrCorruptStream, outcomeErr)
		}

		p.outcome = outcome != 0
	case Len:
		length, lengthErr := binary.ReadUvarint(r.src)
		if lengthErr != nil {
			return p, fmt.Errorf("%w: read length: %v", ErrCorruptStream, lengthErr)
		}

		p.length = int(length)
	}

	return p, nil
}

func (r *Reader) readString() (string, error) {
	n, lenErr := binary.ReadUvarint(r.src)
	if lenErr != nil {
		return "", fmt.Errorf("%w: read string length: %v", ErrCorruptStream, lenErr)
	}

	if n > maxStringLen {
		return "", fmt.Errorf("%w: string length %d exceeds limit", ErrCorruptStream, n)
	}

	buf := make([]byte, n)

	_, readErr := io.ReadFull(r.src, buf)
	if readErr != nil {
		return "", fmt.Errorf("%w: read string body: %v", ErrCorruptStream, readErr)
	}

	return string(buf), nil
}

// IsCompressedPath reports whether the event log at path uses lz4 framing.
func IsCompressedPath(path string) bool {
	return strings.HasSuffix(path, LZ4Suffix)
}

// Writer encodes events into the stream format read by Reader. It is used by
// trace-producing drivers and by tests; the analysis core itself only reads.
type Writer struct {
	dst  *bufio.Writer
	lz4w *lz4.Writer
	buf  [binary.MaxVarintLen64]byte
}

// NewWriter creates a Writer over dst. When compressed is set, records are
// wrapped in an lz4 frame; Close flushes the frame trailer.
func NewWriter(dst io.Writer, compressed bool) *Writer {
	w := &Writer{}
	if compressed {
		w.lz4w = lz4.NewWriter(dst)
		dst = w.lz4w
	}

	w.dst = bufio.NewWriter(dst)

	return w
}

// Write encodes one event record. Only the event id and the dynamic payload
// are written; static metadata lives in the mapping.
func (w *Writer) Write(e Event) error {
	w.writeUvarint(uint64(e.ID))

	flags := byte(0)
	if e.ThreadID != MainThread {
		flags |= hasThreadFlag
	}

	writeErr := w.dst.WriteByte(flags)
	if writeErr != nil {
		return fmt.Errorf("write flags: %w", writeErr)
	}

	if flags&hasThreadFlag != 0 {
		w.writeUvarint(uint64(e.ThreadID))
	}

	switch e.Type {
	case Def, TestDef, FunctionExit:
		w.writeString(e.Value)
		w.writeString(e.TypeTag)
	case Condition:
		outcome := byte(0)
		if e.Outcome {
			outcome = 1
		}

		outcomeErr := w.dst.WriteByte(outcome)
		if outcomeErr != nil {
			return fmt.Errorf("write condition outcome: %w", outcomeErr)
		}
	case Len:
		w.writeUvarint(uint64(e.Length))
	}

	return nil
}

// Close flushes buffered records and, for compressed streams, the lz4 trailer.
func (w *Writer) Close() error {
	flushErr := w.dst.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush event stream: %w", flushErr)
	}

	if w.lz4w != nil {
		closeErr := w.lz4w.Close()
		if closeErr != nil {
			return fmt.Errorf("close lz4 frame: %w", closeErr)
		}
	}

	return nil
}

func (w *Writer) writeUvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	_, _ = w.dst.Write(w.buf[:n])
}

func (w *Writer) writeString(s string) {
	w.writeUvarint(uint64(len(s)))
	_, _ = w.dst.WriteString(s)
}
