package sink

import (
	"bytes"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// CSV writes a fixed projection of record keys as delimited text, one
// row per record. Keys absent from a record produce empty fields, so
// every row has the same arity as the header.
type CSV struct {
	mu        sync.Mutex
	out       io.WriteCloser
	path      string
	fields    []string
	separator string
	quote     string
	filter    Filter
	wroteHdr  bool
}

// CSVOptions configure a delimited-text sink. Fields is required;
// Separator defaults to "," and Quote to `"`.
type CSVOptions struct {
	Path      string
	Fields    []string
	Separator string
	Quote     string
}

// NewCSV opens a delimited-text sink with the given projection.
func NewCSV(opts CSVOptions) (*CSV, error) {
	if len(opts.Fields) == 0 {
		return nil, errors.New("delimited sink requires a field projection")
	}
	if opts.Separator == "" {
		opts.Separator = ","
	}
	if opts.Quote == "" {
		opts.Quote = `"`
	}
	out, full, err := OutputWriter(opts.Path, "txt")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CSV{
		out:       out,
		path:      full,
		fields:    opts.Fields,
		separator: opts.Separator,
		quote:     opts.Quote,
	}, nil
}

// NewCSVWriter wraps an existing writer with the given projection.
func NewCSVWriter(w io.Writer, opts CSVOptions) *CSV {
	if opts.Separator == "" {
		opts.Separator = ","
	}
	if opts.Quote == "" {
		opts.Quote = `"`
	}
	return &CSV{out: nopWriteCloser{w}, fields: opts.Fields, separator: opts.Separator, quote: opts.Quote}
}

// SetFilter installs a pure predicate; records it rejects are skipped
// without error.
func (s *CSV) SetFilter(f Filter) { s.filter = f }

// Path reports the output file path, empty for stream destinations.
func (s *CSV) Path() string { return s.path }

func (s *CSV) Write(r *Record) error {
	if s.filter != nil && !s.filter(r) {
		return nil
	}

	buf := &bytes.Buffer{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wroteHdr {
		s.wroteHdr = true
		for i, key := range s.fields {
			if i > 0 {
				buf.WriteString(s.separator)
			}
			buf.WriteString(key)
		}
		buf.WriteByte('\n')
	}

	for i, key := range s.fields {
		if i > 0 {
			buf.WriteString(s.separator)
		}
		if value, ok := r.Get(key); ok {
			s.writeValue(buf, value)
		}
	}
	buf.WriteByte('\n')

	_, err := s.out.Write(buf.Bytes())
	return errors.Wrap(err, "writing delimited row")
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.out.Close(), "closing delimited sink")
}

func (s *CSV) writeValue(buf *bytes.Buffer, v Value) {
	switch v.Type() {
	case TypeBool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case TypeInt:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case TypeReal:
		f := v.Real()
		if math.IsNaN(f) {
			return
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	case TypeString:
		s.writeQuoted(buf, v.String())
	case TypeTimestamp:
		s.writeQuoted(buf, FormatTimestamp(v.Timestamp()))
	}
}

func (s *CSV) writeQuoted(buf *bytes.Buffer, v string) {
	buf.WriteString(s.quote)
	buf.WriteString(strings.ReplaceAll(v, s.quote, s.quote+s.quote))
	buf.WriteString(s.quote)
}
