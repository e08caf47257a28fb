package gioppler

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mongodb/grip/message"

	"github.com/gioppler/gioppler/counter"
	"github.com/gioppler/gioppler/sink"
)

// ScopeOptions annotate an instrumented scope. All fields are
// optional.
type ScopeOptions struct {
	// Name overrides the signature derived from the caller. Blocks
	// within one function need distinct names only if the derived
	// function:line signature is not distinct enough.
	Name string

	// Subsystem tags records emitted under this scope; nested
	// scopes inherit it until they override it themselves.
	Subsystem string

	// Workload is a user-supplied weight summed per aggregate, for
	// normalizing cost by work done (bytes, rows, requests).
	Workload float64

	// Session tags records with a client/session identifier, with
	// the same stacking behavior as Subsystem.
	Session string
}

type scopeKind int

const (
	scopeFunction scopeKind = iota
	scopeBlock
)

func (k scopeKind) String() string {
	if k == scopeBlock {
		return "block"
	}
	return "function"
}

// frame is one active scope on a thread's stack.
type frame struct {
	kind          scopeKind
	signature     string
	parent        string
	subsystem     string
	session       string
	workload      float64
	file          string
	line          int
	entry         counter.Snapshot
	childrenIncl  counter.Snapshot
	pushedSub     bool
	pushedSession bool
}

// Scope is the handle returned by BeginFunction and BeginBlock. End
// must be called on the goroutine that created the scope, in LIFO
// order with any nested scopes; `defer scope.End()` at the top of the
// function gives exactly that.
type Scope struct {
	process *processState
	thread  *threadState
	frame   *frame
}

// noopScope is shared by every Begin call in off mode.
var noopScope = &Scope{}

// BeginFunction opens a function scope attributed to the calling
// function.
func BeginFunction(opts ScopeOptions) *Scope { return begin(scopeFunction, opts) }

// BeginBlock opens a block scope within the calling function,
// attributed to the call site's function and line.
func BeginBlock(opts ScopeOptions) *Scope { return begin(scopeBlock, opts) }

func begin(kind scopeKind, opts ScopeOptions) *Scope {
	p := ensureProcess()
	if p.config.Mode == ModeOff {
		return noopScope
	}

	t := p.currentThread()

	signature, file, line := callerSignature(2, kind, opts.Name)
	parent := ""
	if n := len(t.frames); n > 0 {
		parent = t.frames[n-1].signature
	}

	f := &frame{
		kind:      kind,
		signature: signature,
		parent:    parent,
		workload:  opts.Workload,
		file:      file,
		line:      line,
	}

	if opts.Subsystem != "" {
		t.subsystems = append(t.subsystems, opts.Subsystem)
		f.pushedSub = true
	}
	if opts.Session != "" {
		t.sessions = append(t.sessions, opts.Session)
		f.pushedSession = true
	}
	f.subsystem = t.currentSubsystem()
	f.session = t.currentSession()

	f.childrenIncl = counter.NewAccumulator()
	f.entry = t.provider.Snapshot()
	t.frames = append(t.frames, f)

	return &Scope{process: p, thread: t, frame: f}
}

// End closes the scope: it snapshots the thread's counters, charges
// the inclusive delta to the (parent, function) aggregate, subtracts
// nested children for the exclusive share, and credits the inclusive
// delta to the parent frame still on the stack.
func (s *Scope) End() {
	if s.frame == nil {
		return
	}
	p, t, f := s.process, s.thread, s.frame
	s.frame = nil

	exit := t.provider.Snapshot()

	if n := len(t.frames); n == 0 || t.frames[n-1] != f {
		p.misuse("scope exit without matching entry", message.Fields{
			"function": f.signature,
		})
		return
	}
	t.frames = t.frames[:len(t.frames)-1]

	inclusive, skewed := exit.Sub(f.entry)
	for _, kind := range skewed {
		p.submitSkew(t, f, kind)
	}
	exclusive, _ := inclusive.Sub(f.childrenIncl)

	p.profiles.update(f, inclusive, exclusive)

	if n := len(t.frames); n > 0 {
		t.frames[n-1].childrenIncl.Add(inclusive)
	}

	if f.pushedSub {
		t.subsystems = t.subsystems[:len(t.subsystems)-1]
	}
	if f.pushedSession {
		t.sessions = t.sessions[:len(t.sessions)-1]
	}

	if p.config.Mode.emitsScopeEvents() {
		p.submitScopeEvent(t, f, inclusive)
	}

	if len(t.frames) == 0 {
		p.releaseThread(t)
	}
}

func (p *processState) submitScopeEvent(t *threadState, f *frame, inclusive counter.Snapshot) {
	r := sink.NewRecord(12)
	r.Set(sink.KeyTimestamp, sink.Timestamp(time.Now()))
	r.Set(sink.KeyThreadID, sink.Int(int64(t.ordinal)))
	r.Set(sink.KeyEvent, sink.String(f.kind.String()+"_exit"))
	r.Set(sink.KeyCategory, sink.String("profile"))
	if f.subsystem != "" {
		r.Set(sink.KeySubsystem, sink.String(f.subsystem))
	}
	if f.session != "" {
		r.Set(sink.KeyClient, sink.String(f.session))
	}
	r.Set(sink.KeyFile, sink.String(f.file))
	r.Set(sink.KeyLine, sink.Int(int64(f.line)))
	r.Set(sink.KeyFunction, sink.String(f.signature))
	r.Set(sink.KeyParentFunction, sink.String(f.parent))
	r.Set("prof.workload", sink.Real(f.workload))
	r.Set("prof.wall.total", sink.Int(int64(inclusive.Wall())))
	p.submit(r)
}

func (p *processState) submitSkew(t *threadState, f *frame, kind counter.Kind) {
	r := sink.NewRecord(6)
	r.Set(sink.KeyCategory, sink.String("counter"))
	r.Set(sink.KeySubcategory, sink.String("snapshot_skew"))
	r.Set(sink.KeyThreadID, sink.Int(int64(t.ordinal)))
	r.Set(sink.KeyFunction, sink.String(f.signature))
	r.Set(sink.KeyMessage, sink.String("counter went backwards: "+kind.Name()))
	p.submit(r)
}

// callerSignature derives the scope signature from the caller's
// frame. Function scopes use the fully qualified function name;
// block scopes append the line so distinct blocks in one function
// aggregate separately.
func callerSignature(skip int, kind scopeKind, override string) (signature, file string, line int) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		if override != "" {
			return override, "unknown", 0
		}
		return "unknown", "unknown", 0
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	if override != "" {
		return override, file, line
	}
	if kind == scopeBlock {
		return fmt.Sprintf("%s:%d", name, line), file, line
	}
	return name, file, line
}
