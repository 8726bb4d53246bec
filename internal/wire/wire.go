// Package wire implements the bulk telemetry payload format shared by upload
// and export. The container is self-describing JSON:
//
//	{"version":1,"records":[
//	  {"dancer":"D1","channel":"fiber","ts":1000,"data":[0.5,0.25]},
//	  {"dancer":"D2","channel":"led","ts":1000,"data":[255,0,17]}
//	]}
//
// The format is symmetric: anything the Encoder produces the Decoder accepts,
// so an export is always valid upload input. Both sides stream record by
// record; a multi-megabyte payload is never held in memory as a whole.
package wire

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"lumitrack/internal/domain"
)

// Version is the payload container version this codec reads and writes.
const Version = 1

// Record is one wire-format telemetry record. Ts is a pointer so a missing
// timestamp is distinguishable from zero.
type Record struct {
	Dancer  string    `json:"dancer"`
	Channel string    `json:"channel"`
	Ts      *int64    `json:"ts"`
	Data    []float64 `json:"data"`
}

// FromSample converts a stored sample to its wire representation.
func FromSample(s domain.SensorSample) Record {
	ts := s.Timestamp
	return Record{
		Dancer:  s.DancerID,
		Channel: string(s.Channel),
		Ts:      &ts,
		Data:    s.Data,
	}
}

// Sample validates the record and converts it to a domain sample. The error
// wraps domain.ErrInvalidInput and names the offending field; callers treat
// it as a per-record rejection, not a payload failure.
func (r Record) Sample() (domain.SensorSample, error) {
	if r.Dancer == "" {
		return domain.SensorSample{}, fmt.Errorf("%w: missing dancer id", domain.ErrInvalidInput)
	}
	ch, err := domain.ParseChannel(r.Channel)
	if err != nil {
		return domain.SensorSample{}, err
	}
	if r.Ts == nil {
		return domain.SensorSample{}, fmt.Errorf("%w: missing timestamp", domain.ErrInvalidInput)
	}
	s := domain.SensorSample{
		DancerID:  r.Dancer,
		Channel:   ch,
		Timestamp: *r.Ts,
		Data:      r.Data,
	}
	if err := s.ValidateData(); err != nil {
		return domain.SensorSample{}, err
	}
	return s, nil
}

// ParseRecord unmarshals one raw record. A type-level mismatch (say, a string
// timestamp) is a per-record error; the surrounding stream stays readable.
func ParseRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: malformed record: %v", domain.ErrInvalidInput, err)
	}
	return rec, nil
}

// Decoder reads a payload container incrementally. Structural errors (the
// container itself is not parseable) wrap domain.ErrInvalidInput and poison
// the decoder; per-record problems are left to ParseRecord so one bad record
// does not abort its siblings.
type Decoder struct {
	dec       *json.Decoder
	started   bool
	inRecords bool
	done      bool
	err       error
}

// NewDecoder returns a Decoder reading a container from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Next returns the next raw record, or io.EOF after the final one.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.err != nil {
		return nil, d.err
	}
	if !d.started {
		d.started = true
		if err := d.advanceToRecords(); err != nil {
			d.err = err
			return nil, err
		}
	}
	if d.done {
		return nil, io.EOF
	}
	if d.dec.More() {
		var raw json.RawMessage
		if err := d.dec.Decode(&raw); err != nil {
			d.err = structural(err)
			return nil, d.err
		}
		return raw, nil
	}
	if _, err := d.dec.Token(); err != nil { // closing ]
		d.err = structural(err)
		return nil, d.err
	}
	d.inRecords = false
	if err := d.finishContainer(); err != nil {
		d.err = err
		return nil, err
	}
	d.done = true
	return nil, io.EOF
}

// advanceToRecords consumes the container opening and any keys preceding
// "records", positioning the decoder inside the records array.
func (d *Decoder) advanceToRecords() error {
	t, err := d.dec.Token()
	if err != nil {
		return structural(err)
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return structuralf("payload is not a JSON object")
	}
	for {
		t, err := d.dec.Token()
		if err != nil {
			return structural(err)
		}
		if delim, ok := t.(json.Delim); ok && delim == '}' {
			// Container without a records key: a valid, empty payload.
			d.done = true
			return nil
		}
		key, ok := t.(string)
		if !ok {
			return structuralf("unexpected token %v in container", t)
		}
		switch key {
		case "version":
			if err := d.readVersion(); err != nil {
				return err
			}
		case "records":
			t, err := d.dec.Token()
			if err != nil {
				return structural(err)
			}
			if delim, ok := t.(json.Delim); !ok || delim != '[' {
				return structuralf("records is not an array")
			}
			d.inRecords = true
			return nil
		default:
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return structural(err)
			}
		}
	}
}

// finishContainer drains any keys following the records array up to the
// closing brace.
func (d *Decoder) finishContainer() error {
	for {
		t, err := d.dec.Token()
		if err != nil {
			return structural(err)
		}
		if delim, ok := t.(json.Delim); ok && delim == '}' {
			return nil
		}
		key, ok := t.(string)
		if !ok {
			return structuralf("unexpected token %v in container", t)
		}
		if key == "version" {
			if err := d.readVersion(); err != nil {
				return err
			}
			continue
		}
		var skip json.RawMessage
		if err := d.dec.Decode(&skip); err != nil {
			return structural(err)
		}
	}
}

func (d *Decoder) readVersion() error {
	var v int
	if err := d.dec.Decode(&v); err != nil {
		return structural(err)
	}
	if v != Version {
		return structuralf("unsupported payload version %d", v)
	}
	return nil
}

func structural(err error) error {
	return fmt.Errorf("%w: unparsable payload: %v", domain.ErrInvalidInput, err)
}

func structuralf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInput}, args...)...)
}

// Encoder writes a payload container incrementally. Records are emitted as
// they are written, so response generation can begin before the full result
// set has been read from the store.
type Encoder struct {
	w      io.Writer
	opened bool
	wrote  bool
	closed bool
}

// NewEncoder returns an Encoder writing a container to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Write appends one record to the container.
func (e *Encoder) Write(rec Record) error {
	if e.closed {
		return fmt.Errorf("wire: write on closed encoder")
	}
	if err := e.open(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if e.wrote {
		if _, err := io.WriteString(e.w, ","); err != nil {
			return err
		}
	}
	e.wrote = true
	_, err = e.w.Write(b)
	return err
}

// Close terminates the container. A Close with no prior Write still produces
// a valid, empty payload.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	if err := e.open(); err != nil {
		return err
	}
	e.closed = true
	_, err := io.WriteString(e.w, "]}")
	return err
}

func (e *Encoder) open() error {
	if e.opened {
		return nil
	}
	e.opened = true
	_, err := fmt.Fprintf(e.w, `{"version":%d,"records":[`, Version)
	return err
}
