// Package sink carries structured instrumentation records from the
// measurement layer to zero or more asynchronous writers.
//
// A Record is an insertion-order-preserving sequence of key/value
// pairs. Order matters: the JSON and BSON writers reproduce keys in
// the order the instrumentation layer set them, so emitted output
// reads the way the author intended. The CSV writer instead uses the
// fixed column projection it was created with. Records are immutable once submitted to
// a Pipeline and may be shared by concurrent sink writers.
package sink

import (
	"time"

	"github.com/pkg/errors"
)

// Well-known record keys. Instrumentation points use these names when
// the corresponding datum applies, so downstream consumers can rely
// on them.
const (
	KeyProcessName    = "process.name"
	KeyProcessID      = "process.id"
	KeyThreadID       = "thread.id"
	KeyTimestamp      = "timestamp"
	KeyBuildMode      = "build_mode"
	KeyEvent          = "event"
	KeyCategory       = "category"
	KeySubcategory    = "subcategory"
	KeySubsystem      = "subsystem"
	KeyClient         = "client"
	KeyRequest        = "request"
	KeyFile           = "file"
	KeyLine           = "line"
	KeyColumn         = "column"
	KeyFunction       = "function"
	KeyParentFunction = "parent_function"
	KeyMessage        = "message"
)

// ValueType tags the contents of a Value.
type ValueType int

const (
	TypeBool ValueType = iota
	TypeInt
	TypeReal
	TypeString
	TypeTimestamp
)

// Value is a tagged union over the five record value cases. The zero
// Value is a false boolean. Accessors panic when called for the wrong
// tag; callers switch on Type first.
type Value struct {
	vtype ValueType
	b     bool
	i     int64
	f     float64
	s     string
	ts    time.Time
}

func Bool(v bool) Value { return Value{vtype: TypeBool, b: v} }

func Int(v int64) Value { return Value{vtype: TypeInt, i: v} }

func Real(v float64) Value { return Value{vtype: TypeReal, f: v} }

func String(v string) Value { return Value{vtype: TypeString, s: v} }

func Timestamp(v time.Time) Value { return Value{vtype: TypeTimestamp, ts: v} }

// Type reports the tag of the value.
func (v Value) Type() ValueType { return v.vtype }

func (v Value) mustBe(t ValueType) {
	if v.vtype != t {
		panic(errors.Errorf("record value is type %d, not %d", v.vtype, t))
	}
}

func (v Value) Bool() bool { v.mustBe(TypeBool); return v.b }

func (v Value) Int() int64 { v.mustBe(TypeInt); return v.i }

func (v Value) Real() float64 { v.mustBe(TypeReal); return v.f }

func (v Value) String() string { v.mustBe(TypeString); return v.s }

func (v Value) Timestamp() time.Time { v.mustBe(TypeTimestamp); return v.ts }

// Field is one key/value pair of a Record.
type Field struct {
	Key   string
	Value Value
}

// Record is an insertion-ordered set of fields. The zero value is an
// empty record ready for use.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord constructs an empty record with capacity for n fields.
func NewRecord(n int) *Record {
	return &Record{
		fields: make([]Field, 0, n),
		index:  make(map[string]int, n),
	}
}

// Set appends the field, or replaces the value in place when the key
// was already set. The original insertion position is kept on
// replacement.
func (r *Record) Set(key string, value Value) *Record {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if idx, ok := r.index[key]; ok {
		r.fields[idx].Value = value
		return r
	}
	r.index[key] = len(r.fields)
	r.fields = append(r.fields, Field{Key: key, Value: value})
	return r
}

// Get returns the value for key and whether it was present.
func (r *Record) Get(key string) (Value, bool) {
	idx, ok := r.index[key]
	if !ok {
		return Value{}, false
	}
	return r.fields[idx].Value, true
}

// Len reports the number of fields.
func (r *Record) Len() int { return len(r.fields) }

// Fields returns the fields in insertion order. The slice is shared;
// callers must not modify it.
func (r *Record) Fields() []Field { return r.fields }

// FormatTimestamp renders ts in the record wire format:
// YYYY-MM-DDTHH:MM:SS.NNNNNNNNN±HHMM with a nine-digit fraction.
func FormatTimestamp(ts time.Time) string {
	return ts.Format("2006-01-02T15:04:05.000000000-0700")
}
