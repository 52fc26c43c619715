// Package trace records wire traffic of rig sessions as a stream of CBOR
// records and reads it back.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/rig"
)

// Record is one traced chunk of traffic.
type Record struct {
	Session string    `cbor:"1,keyasint" json:"session"`
	Model   int       `cbor:"2,keyasint" json:"model"`
	Time    time.Time `cbor:"3,keyasint" json:"time"`
	TX      bool      `cbor:"4,keyasint" json:"tx"`
	Data    []byte    `cbor:"5,keyasint" json:"data"`
	Err     string    `cbor:"6,keyasint,omitempty" json:"error,omitempty"`
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}

// Recorder is a rig.Tracer writing CBOR records to w.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	logger  *logging.Logger
	records int
	failed  bool
}

var _ rig.Tracer = (*Recorder)(nil)

// NewRecorder writes records to w.
func NewRecorder(w io.Writer, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Recorder{enc: encMode.NewEncoder(w), logger: logger}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for appending and records into it.
func Create(path string, logger *logging.Logger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return NewRecorder(f, logger), nil
}

// Trace implements rig.Tracer. A write failure is logged once and
// disables the recorder.
func (r *Recorder) Trace(ev rig.WireEvent) {
	rec := Record{
		Session: ev.Session,
		Model:   ev.Model,
		Time:    ev.Time.UTC(),
		TX:      ev.TX,
		Data:    ev.Data,
	}
	if ev.Err != nil {
		rec.Err = ev.Err.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed {
		return
	}
	if err := r.enc.Encode(rec); err != nil {
		r.failed = true
		r.logger.Errorf("trace", "Disabling wire trace: %v", err)
		return
	}
	r.records++
}

// Records returns how many records were written.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Close closes the underlying writer if it is a Closer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Reader decodes a record stream.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)
	if errors.Is(err, io.EOF) {
		return rec, io.EOF
	}
	if err != nil {
		return rec, fmt.Errorf("corrupt trace record: %w", err)
	}
	return rec, nil
}

// ReadAll decodes every record of r.
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Format renders a record as one line: time, direction, hex and the
// printable bytes.
func Format(rec Record) string {
	dir := "<"
	if rec.TX {
		dir = ">"
	}
	var hex, text strings.Builder
	for i, b := range rec.Data {
		if i > 0 {
			hex.WriteByte(' ')
		}
		fmt.Fprintf(&hex, "%02X", b)
		if b >= 0x20 && b < 0x7f {
			text.WriteByte(b)
		} else {
			text.WriteByte('.')
		}
	}
	line := fmt.Sprintf("%s %s %s %d %s |%s|", rec.Time.Format("15:04:05.000"), rec.Session, dir, len(rec.Data), hex.String(), text.String())
	if rec.Err != "" {
		line += " error: " + rec.Err
	}
	return line
}
