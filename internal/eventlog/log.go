package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Writer appends records to a log. It is safe for concurrent use; records
// get sequence numbers in the order they are written.
type Writer struct {
	mu     sync.Mutex
	enc    *msgpack.Encoder
	closer io.Closer
	seq    uint64
}

// NewWriter writes the header to w and returns a writer for records.
func NewWriter(w io.Writer, sessionID string) (*Writer, error) {
	enc := msgpack.NewEncoder(w)
	hdr := Header{Schema: SchemaVersion, Created: time.Now().UTC(), SessionID: sessionID}
	if err := enc.Encode(&hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Create opens path for writing, truncating it.
func Create(path, sessionID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// #nosec G304 -- path is provided by the caller
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, sessionID)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write assigns the next sequence number to rec and appends it.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec.Seq = w.seq
	if err := w.enc.Encode(&rec); err != nil {
		return fmt.Errorf("write record %d: %w", rec.Seq, err)
	}
	return nil
}

// Len returns the number of records written.
func (w *Writer) Len() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Close closes the underlying file when the writer owns one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}

// Reader decodes a log.
type Reader struct {
	dec    *msgpack.Decoder
	header Header
	closer io.Closer
}

// NewReader reads and checks the header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(r)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty log", ErrSchema)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: schema %d, want %d", ErrSchema, hdr.Schema, SchemaVersion)
	}
	return &Reader{dec: dec, header: hdr}, nil
}

// Open opens a log file.
func Open(path string) (*Reader, error) {
	// #nosec G304 -- path is provided by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// Header returns the log header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	if rec.Kind == 0 {
		return Record{}, fmt.Errorf("%w: record %d has no kind", ErrSchema, rec.Seq)
	}
	return rec, nil
}

// Close closes the underlying file when the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
