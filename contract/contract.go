// Package contract provides design-by-contract checks whose
// violations flow through the record pipeline before propagating.
//
// Five check kinds mirror the phases of a call: Argument and Expect
// guard entry, Confirm asserts mid-body, Invariant holds across a
// scope, and Ensure holds at exit. In every build mode except
// production a violation propagates as a *Violation panic after its
// record is emitted; production records the violation and continues.
package contract

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"

	"github.com/gioppler/gioppler/sink"
)

// Kind names the contract check that failed.
type Kind string

const (
	KindArgument  Kind = "argument"
	KindExpect    Kind = "expect"
	KindConfirm   Kind = "confirm"
	KindInvariant Kind = "invariant"
	KindEnsure    Kind = "ensure"
)

// Violation is the recoverable condition raised for a failed check.
// It is delivered by panic; hosts recover it at a unit boundary and
// inspect the kind and location.
type Violation struct {
	Kind     Kind
	Message  string
	Location Location
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s condition failed: %s", v.Location, v.Kind, v.Message)
}

// Location identifies the call site of a check.
type Location struct {
	File     string
	Line     int
	Function string
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d: %s", l.File, l.Line, l.Function)
}

// CallerLocation captures the location skip+1 frames up the stack.
func CallerLocation(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{File: "unknown"}
	}
	loc := Location{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Function = fn.Name()
	}
	return loc
}

// Emitter receives violation records. The root package wires this to
// the process pipeline at install time; until then violations are
// only logged.
type Emitter func(*sink.Record)

var (
	emit      Emitter
	propagate = true
)

// SetEmitter installs the record emitter for violations.
func SetEmitter(e Emitter) { emit = e }

// SetPropagation controls whether violations propagate after being
// recorded. Production builds disable propagation.
func SetPropagation(enabled bool) { propagate = enabled }

func violationRecord(v *Violation) *sink.Record {
	r := sink.NewRecord(8)
	r.Set(sink.KeyTimestamp, sink.Timestamp(time.Now()))
	r.Set(sink.KeyCategory, sink.String("contract"))
	r.Set(sink.KeySubcategory, sink.String(string(v.Kind)))
	r.Set(sink.KeyMessage, sink.String(v.Message))
	r.Set(sink.KeyFile, sink.String(v.Location.File))
	r.Set(sink.KeyLine, sink.Int(int64(v.Location.Line)))
	r.Set(sink.KeyFunction, sink.String(v.Location.Function))
	return r
}

// report emits the violation record, then raises when propagation is
// on and the check is not releasing during an unwind.
func report(v *Violation, raise bool) {
	if emit != nil {
		emit(violationRecord(v))
	}
	grip.Error(message.Fields{
		"category":    "contract",
		"subcategory": string(v.Kind),
		"message":     v.Message,
		"location":    v.Location.String(),
	})
	if raise && propagate {
		panic(v)
	}
}

func check(kind Kind, condition bool, msg string) {
	if condition {
		return
	}
	report(&Violation{
		Kind:     kind,
		Message:  msg,
		Location: CallerLocation(2),
	}, true)
}

// Argument checks a precondition on the function's own inputs.
func Argument(condition bool, msg string) { check(KindArgument, condition, msg) }

// Expect checks a precondition on collaborator state.
func Expect(condition bool, msg string) { check(KindExpect, condition, msg) }

// Confirm asserts a condition mid-body.
func Confirm(condition bool, msg string) { check(KindConfirm, condition, msg) }
