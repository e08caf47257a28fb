package sink

import (
	"io"
	"math"
	"sync"

	"github.com/evergreen-ci/birch"
	"github.com/pkg/errors"
)

// BSON writes each record as one BSON document, preserving field
// order. The output is a bare concatenation of length-prefixed
// documents, readable by any BSON decoder.
type BSON struct {
	mu     sync.Mutex
	out    io.WriteCloser
	path   string
	filter Filter
}

// NewBSON opens a BSON sink at the given destination path.
func NewBSON(path string) (*BSON, error) {
	out, full, err := OutputWriter(path, "bson")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BSON{out: out, path: full}, nil
}

// NewBSONWriter wraps an existing writer.
func NewBSONWriter(w io.Writer) *BSON {
	return &BSON{out: nopWriteCloser{w}}
}

// SetFilter installs a pure predicate; records it rejects are skipped
// without error.
func (s *BSON) SetFilter(f Filter) { s.filter = f }

// Path reports the output file path, empty for stream destinations.
func (s *BSON) Path() string { return s.path }

func (s *BSON) Write(r *Record) error {
	if s.filter != nil && !s.filter(r) {
		return nil
	}

	elems := make([]*birch.Element, 0, r.Len())
	for _, field := range r.Fields() {
		switch field.Value.Type() {
		case TypeBool:
			elems = append(elems, birch.EC.Boolean(field.Key, field.Value.Bool()))
		case TypeInt:
			elems = append(elems, birch.EC.Int64(field.Key, field.Value.Int()))
		case TypeReal:
			f := field.Value.Real()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				elems = append(elems, birch.EC.Null(field.Key))
				continue
			}
			elems = append(elems, birch.EC.Double(field.Key, f))
		case TypeString:
			elems = append(elems, birch.EC.String(field.Key, field.Value.String()))
		case TypeTimestamp:
			elems = append(elems, birch.EC.Time(field.Key, field.Value.Timestamp()))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := birch.DC.Elements(elems...).WriteTo(s.out)
	return errors.Wrap(err, "writing record document")
}

func (s *BSON) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.out.Close(), "closing bson sink")
}
