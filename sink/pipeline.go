package sink

import (
	"sync"
	"sync/atomic"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Sink consumes records submitted to a Pipeline. Write is called from
// a dedicated goroutine per submission and never concurrently shares
// state with other sinks; a sink that holds mutable state (a file
// handle, a writer) synchronizes internally. A sink may decline a
// record via its filter without that counting as a failure.
type Sink interface {
	Write(*Record) error

	// Close flushes and releases the sink's resources. The pipeline
	// calls it exactly once, after all writes have drained.
	Close() error
}

// Pipeline fans records out to a set of sinks, each write on its own
// goroutine. Close drains every outstanding write before closing the
// sinks, so a host that closes the pipeline during process teardown
// never truncates output.
type Pipeline struct {
	mu        sync.Mutex
	sinks     []registeredSink
	wg        sync.WaitGroup
	closed    bool
	defaults  func() (Sink, error)
	defaulted bool
}

type registeredSink struct {
	sink     Sink
	failures *atomic.Uint64
}

// NewPipeline constructs an empty pipeline. When no sink has been
// added by the time of the first submission, the pipeline installs a
// default newline-delimited JSON sink under the temp directory,
// exactly once.
func NewPipeline() *Pipeline {
	return &Pipeline{
		defaults: func() (Sink, error) { return NewJSON("<temp>") },
	}
}

// SetDefault replaces the factory used to install the fallback sink
// when the first record is submitted with no sinks registered.
func (p *Pipeline) SetDefault(factory func() (Sink, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = factory
}

// Add registers a sink. Sinks added after records were already
// submitted only observe later submissions.
func (p *Pipeline) Add(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, registeredSink{sink: s, failures: &atomic.Uint64{}})
}

// Submit dispatches the record to every sink asynchronously. The
// record must not be modified after submission. Submit never blocks
// on sink IO and never fails the instrumentation path: write errors
// are counted per sink and reported at Close.
func (p *Pipeline) Submit(r *Record) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if len(p.sinks) == 0 && !p.defaulted {
		p.defaulted = true
		s, err := p.defaults()
		if err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "could not create default record sink",
			}))
		} else {
			p.sinks = append(p.sinks, registeredSink{sink: s, failures: &atomic.Uint64{}})
		}
	}
	targets := make([]registeredSink, len(p.sinks))
	copy(targets, p.sinks)
	p.wg.Add(len(targets))
	p.mu.Unlock()

	for _, t := range targets {
		go func(t registeredSink) {
			defer p.wg.Done()
			if err := t.sink.Write(r); err != nil {
				t.failures.Add(1)
			}
		}(t)
	}
}

// FailureCount reports the number of failed writes across all sinks.
func (p *Pipeline) FailureCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uint64
	for _, t := range p.sinks {
		total += t.failures.Load()
	}
	return total
}

// Close waits for every outstanding write to finish, then closes each
// sink in registration order. It reports sink close errors and any
// accumulated write failures. Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sinks := p.sinks
	p.mu.Unlock()

	p.wg.Wait()

	catcher := grip.NewBasicCatcher()
	for _, t := range sinks {
		catcher.Add(errors.Wrap(t.sink.Close(), "closing record sink"))
		if n := t.failures.Load(); n > 0 {
			catcher.Add(errors.Errorf("sink dropped %d records", n))
		}
	}
	return catcher.Resolve()
}
