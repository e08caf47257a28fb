// Package gioppler is an in-process instrumentation library.
//
// Application code opens scopes around functions and blocks:
//
//	func handle(req *Request) {
//		defer gioppler.BeginFunction(gioppler.ScopeOptions{
//			Subsystem: "ingest",
//			Workload:  float64(req.Size),
//		}).End()
//		...
//	}
//
// Each scope measures wall time and, on Linux, the thread's kernel
// performance counters (task clocks, faults, context switches,
// cycles, instructions, stalls, cache and branch behavior). Exits
// charge the inclusive delta to a process-wide aggregate keyed by
// (parent function, function) and the exclusive delta — inclusive
// minus nested instrumented children — to the same entry, so a final
// report separates time spent in a function from time spent below
// it. Wall and cpu durations also feed per-aggregate histograms for
// robust statistics.
//
// The host installs the process acquisition once, instruments, and
// shuts down before exit; Shutdown is what guarantees the final
// aggregates are emitted and sink files are closed:
//
//	if err := gioppler.Install(gioppler.Config{Mode: gioppler.ModeProfile}); err != nil {
//		...
//	}
//	defer gioppler.Shutdown()
//
// Records flow to asynchronous sinks (newline-delimited JSON by
// default; delimited text, BSON, and synchronized streams are
// available in the sink package). The contract package's checks emit
// violation records through the same pipeline.
//
// Build mode off disables every entry point; the gioppler_off build
// tag pins it so a binary can be built cold.
package gioppler

// forceOff is set by the gioppler_off build tag and overrides any
// configured mode.
var forceOff bool
