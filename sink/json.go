package sink

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// JSON writes one JSON object per record per line. Keys appear in the
// record's insertion order; timestamps use the nine-digit ISO-8601
// form. Line-oriented output keeps the log greppable and streamable.
type JSON struct {
	mu     sync.Mutex
	out    io.WriteCloser
	path   string
	filter Filter
}

// NewJSON opens a JSON-lines sink at the given destination path
// (directory tokens and stream tokens both accepted).
func NewJSON(path string) (*JSON, error) {
	out, full, err := OutputWriter(path, "json")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &JSON{out: out, path: full}, nil
}

// NewJSONWriter wraps an existing writer, mostly useful for tests and
// for stream destinations owned by the caller.
func NewJSONWriter(w io.Writer) *JSON {
	return &JSON{out: nopWriteCloser{w}}
}

// SetFilter installs a pure predicate; records it rejects are skipped
// without error. Set before the sink is registered with a pipeline.
func (s *JSON) SetFilter(f Filter) { s.filter = f }

// Path reports the output file path, empty for stream destinations.
func (s *JSON) Path() string { return s.path }

func (s *JSON) Write(r *Record) error {
	if s.filter != nil && !s.filter(r) {
		return nil
	}

	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, field := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, field.Key)
		buf.WriteByte(':')
		writeJSONValue(buf, field.Value)
	}
	buf.WriteString("}\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.out.Write(buf.Bytes())
	return errors.Wrap(err, "writing record line")
}

func (s *JSON) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.out.Close(), "closing json sink")
}

func writeJSONString(buf *bytes.Buffer, v string) {
	escaped, err := json.Marshal(v)
	if err != nil {
		// strings always marshal
		buf.WriteString(`""`)
		return
	}
	buf.Write(escaped)
}

func writeJSONValue(buf *bytes.Buffer, v Value) {
	switch v.Type() {
	case TypeBool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case TypeInt:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case TypeReal:
		f := v.Real()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case TypeString:
		writeJSONString(buf, v.String())
	case TypeTimestamp:
		buf.WriteByte('"')
		buf.WriteString(FormatTimestamp(v.Timestamp()))
		buf.WriteByte('"')
	}
}
