package gioppler

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/gioppler/gioppler/contract"
	"github.com/gioppler/gioppler/counter"
	"github.com/gioppler/gioppler/sink"
)

// processState is the process-wide acquisition: the sink pipeline,
// the aggregation map, and the thread registry. It is created by
// Install (or lazily by the first instrumentation call) and released
// by Shutdown, which is the only mechanism that guarantees final
// aggregates are emitted and sink files closed before the process
// image goes away.
type processState struct {
	config   Config
	pipeline *sink.Pipeline
	profiles *profileMap
	start    time.Time

	threadSeq     atomic.Uint64
	activeThreads atomic.Int64

	threadMu sync.Mutex
	threads  map[int64]*threadState
}

var (
	processMu sync.Mutex
	process   *processState
)

// Install performs one-time process initialization with the given
// configuration. Calling Install after instrumentation already
// started (or twice) is an error. The host must pair it with
// Shutdown before exit.
func Install(config Config) error {
	if err := config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if forceOff {
		config.Mode = ModeOff
	}

	processMu.Lock()
	defer processMu.Unlock()
	if process != nil {
		return errors.New("instrumentation already installed")
	}
	process = newProcessState(config)
	return nil
}

// Shutdown emits final aggregates, drains every outstanding sink
// write, and releases the process acquisition. The host is expected
// to have joined its instrumented goroutines first; dangling threads
// are reported as lifecycle misuse and shutdown continues best
// effort.
func Shutdown() error {
	processMu.Lock()
	p := process
	process = nil
	processMu.Unlock()

	if p == nil || p.config.Mode == ModeOff {
		contract.SetEmitter(nil)
		return nil
	}

	catcher := grip.NewBasicCatcher()
	if active := p.activeThreads.Load(); active != 0 {
		p.misuse("process shutdown with active instrumented threads",
			message.Fields{"active_threads": active})
		catcher.Errorf("%d instrumented threads still active at shutdown", active)
	}

	p.profiles.emit(p)

	summary := sink.NewRecord(4)
	summary.Set(sink.KeyEvent, sink.String("process"))
	summary.Set(sink.KeyCategory, sink.String("lifecycle"))
	summary.Set("prof.duration", sink.Int(int64(time.Since(p.start))))
	p.submit(summary)

	contract.SetEmitter(nil)
	catcher.Add(errors.Wrap(p.pipeline.Close(), "draining record pipeline"))
	return catcher.Resolve()
}

// ensureProcess returns the process state, creating it with the zero
// configuration on first use so instrumentation works without an
// explicit Install. The zero configuration's mode is off.
func ensureProcess() *processState {
	processMu.Lock()
	defer processMu.Unlock()
	if process == nil {
		process = newProcessState(Config{})
	}
	return process
}

func newProcessState(config Config) *processState {
	p := &processState{
		config:   config,
		pipeline: sink.NewPipeline(),
		profiles: newProfileMap(),
		start:    time.Now(),
		threads:  make(map[int64]*threadState),
	}

	if config.Mode == ModeOff {
		return p
	}

	logDir := config.logDir()
	filter := config.filter()
	p.pipeline.SetDefault(func() (sink.Sink, error) {
		s, err := sink.NewJSON(logDir)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		s.SetFilter(filter)
		return s, nil
	})
	for _, s := range config.Sinks {
		p.pipeline.Add(s)
	}

	contract.SetPropagation(config.Mode.propagatesViolations())
	contract.SetEmitter(func(r *sink.Record) {
		p.submit(r)
	})

	return p
}

// submit stamps the process-standard keys and hands the record to the
// pipeline. Records already carrying a key keep their value.
func (p *processState) submit(r *sink.Record) {
	stamped := sink.NewRecord(r.Len() + 4)
	stamped.Set(sink.KeyProcessName, sink.String(sink.ProgramName()))
	stamped.Set(sink.KeyProcessID, sink.Int(int64(os.Getpid())))
	stamped.Set(sink.KeyBuildMode, sink.String(p.config.Mode.String()))
	if _, ok := r.Get(sink.KeyTimestamp); !ok {
		stamped.Set(sink.KeyTimestamp, sink.Timestamp(time.Now()))
	}
	for _, f := range r.Fields() {
		stamped.Set(f.Key, f.Value)
	}
	p.pipeline.Submit(stamped)
}

func (p *processState) misuse(msg string, extra message.Fields) {
	r := sink.NewRecord(4)
	r.Set(sink.KeyCategory, sink.String("lifecycle"))
	r.Set(sink.KeySubcategory, sink.String("lifecycle_misuse"))
	r.Set(sink.KeyMessage, sink.String(msg))
	p.submit(r)

	fields := message.Fields{"message": msg, "category": "lifecycle_misuse"}
	for k, v := range extra {
		fields[k] = v
	}
	grip.Warning(fields)
}

// threadState is the per-thread acquisition: the scope stack, the
// subsystem/session override stacks, and the thread's counter
// provider. It is created lazily on the first instrumentation call
// on a goroutine and released when the scope stack empties. While a
// thread state is live its goroutine is pinned to the OS thread, so
// the kernel counters are always read by the task that opened them.
type threadState struct {
	ordinal    uint64
	gid        int64
	provider   counter.Provider
	frames     []*frame
	subsystems []string
	sessions   []string
}

func (p *processState) currentThread() *threadState {
	gid := goroutineID()

	p.threadMu.Lock()
	defer p.threadMu.Unlock()
	if t, ok := p.threads[gid]; ok {
		return t
	}

	runtime.LockOSThread()
	t := &threadState{
		ordinal:  p.threadSeq.Add(1),
		gid:      gid,
		provider: counter.New(),
	}
	if err := t.provider.Open(); err != nil {
		// the provider degraded itself; record why, once
		r := sink.NewRecord(4)
		r.Set(sink.KeyCategory, sink.String("counter"))
		r.Set(sink.KeySubcategory, sink.String("counter_unavailable"))
		r.Set(sink.KeyThreadID, sink.Int(int64(t.ordinal)))
		r.Set(sink.KeyMessage, sink.String(err.Error()))
		p.submit(r)
	}
	if err := t.provider.Enable(); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "enabling thread counters",
			"thread":  t.ordinal,
		}))
	}
	p.activeThreads.Add(1)
	p.threads[gid] = t
	return t
}

func (p *processState) releaseThread(t *threadState) {
	p.threadMu.Lock()
	delete(p.threads, t.gid)
	p.threadMu.Unlock()

	if err := t.provider.Close(); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "closing thread counters",
			"thread":  t.ordinal,
		}))
	}
	p.activeThreads.Add(-1)
	runtime.UnlockOSThread()
}

func (t *threadState) currentSubsystem() string {
	if len(t.subsystems) == 0 {
		return ""
	}
	return t.subsystems[len(t.subsystems)-1]
}

func (t *threadState) currentSession() string {
	if len(t.sessions) == 0 {
		return ""
	}
	return t.sessions[len(t.sessions)-1]
}

// goroutineID parses the numeric goroutine id from the first stack
// line. The registry keying on it is the Go stand-in for
// thread-local scope state.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	idField := header[:strings.IndexByte(header, ' ')]
	id, err := strconv.ParseInt(idField, 10, 64)
	if err != nil {
		return -1
	}
	return id
}
