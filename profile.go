package gioppler

import (
	"sort"
	"sync"
	"time"

	"github.com/gioppler/gioppler/counter"
	"github.com/gioppler/gioppler/histogram"
	"github.com/gioppler/gioppler/sink"
)

// profileKey identifies an aggregate by the content of the parent and
// function signatures, so the same function observed through
// different string handles lands in one entry.
type profileKey struct {
	parent   string
	function string
}

// ProfileAggregate accumulates every observation of one (parent,
// function) pair across all threads.
type ProfileAggregate struct {
	Calls       uint64
	WorkloadSum float64
	Inclusive   counter.Snapshot
	Exclusive   counter.Snapshot
	WallHist    *histogram.Histogram
	CPUHist     *histogram.Histogram
}

// profileMap is the only process-wide mutable structure in the
// library. Every access mutates, so a plain mutex; readers/writers
// would buy nothing.
type profileMap struct {
	mu      sync.Mutex
	entries map[profileKey]*ProfileAggregate
}

func newProfileMap() *profileMap {
	return &profileMap{entries: make(map[profileKey]*ProfileAggregate)}
}

func (m *profileMap) update(f *frame, inclusive, exclusive counter.Snapshot) {
	key := profileKey{parent: f.parent, function: f.signature}

	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.entries[key]
	if !ok {
		agg = &ProfileAggregate{
			Inclusive: counter.NewAccumulator(),
			Exclusive: counter.NewAccumulator(),
			WallHist:  histogram.New(),
			CPUHist:   histogram.New(),
		}
		m.entries[key] = agg
	}

	agg.Calls++
	agg.WorkloadSum += f.workload
	agg.Inclusive.Add(inclusive)
	agg.Exclusive.Add(exclusive)
	agg.WallHist.Add(inclusive.Wall())
	agg.CPUHist.Add(inclusive.CPU())
}

// snapshotEntries returns the aggregates ordered by inclusive wall
// time descending, the order final reports read best in.
func (m *profileMap) snapshotEntries() ([]profileKey, []*ProfileAggregate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]profileKey, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.entries[keys[i]], m.entries[keys[j]]
		if a.Inclusive.Wall() != b.Inclusive.Wall() {
			return a.Inclusive.Wall() > b.Inclusive.Wall()
		}
		if keys[i].function != keys[j].function {
			return keys[i].function < keys[j].function
		}
		return keys[i].parent < keys[j].parent
	})

	aggs := make([]*ProfileAggregate, len(keys))
	for i, key := range keys {
		aggs[i] = m.entries[key]
	}
	return keys, aggs
}

// emit writes one record per aggregate through the pipeline.
func (m *profileMap) emit(p *processState) {
	keys, aggs := m.snapshotEntries()
	for i, key := range keys {
		p.submit(aggregateRecord(key, aggs[i]))
	}
}

func aggregateRecord(key profileKey, agg *ProfileAggregate) *sink.Record {
	r := sink.NewRecord(16 + 2*counter.NumKinds)
	r.Set(sink.KeyTimestamp, sink.Timestamp(time.Now()))
	r.Set(sink.KeyEvent, sink.String("profile"))
	r.Set(sink.KeyCategory, sink.String("profile"))
	r.Set(sink.KeyFunction, sink.String(key.function))
	r.Set(sink.KeyParentFunction, sink.String(key.parent))
	r.Set("prof.calls", sink.Int(int64(agg.Calls)))
	r.Set("prof.workload", sink.Real(agg.WorkloadSum))

	setCounters := func(suffix string, snap counter.Snapshot) {
		for _, kind := range counter.Kinds() {
			value, available := snap.Value(kind)
			name := "prof." + kind.Name() + "." + suffix
			r.Set(name, sink.Int(int64(value)))
			if !available {
				r.Set(name+".available", sink.Bool(false))
			}
		}
		derived := snap.Derive()
		for i, value := range derived.Values() {
			r.Set("prof."+counter.DerivedNames[i]+"."+suffix, sink.Real(value))
		}
	}
	setCounters("total", agg.Inclusive)
	setCounters("self", agg.Exclusive)

	wall := agg.WallHist.Stats()
	r.Set("prof.wall.trimean", sink.Int(int64(wall.Trimean)))
	r.Set("prof.wall.iqr", sink.Int(int64(agg.WallHist.IQR())))
	r.Set("prof.wall.std_dev", sink.Real(wall.StdDev))
	r.Set("prof.wall.snr", sink.Int(int64(wall.SNR)))
	r.Set("prof.wall.low_outliers", sink.Bool(wall.LowOutliers))
	r.Set("prof.wall.high_outliers", sink.Bool(wall.HighOutliers))
	r.Set("prof.wall.sparkline", sink.String(wall.Sparkline))
	r.Set("prof.cpu.trimean", sink.Int(int64(agg.CPUHist.Trimean())))
	r.Set("prof.cpu.snr", sink.Int(int64(agg.CPUHist.SNR())))

	return r
}

// Aggregates returns a point-in-time copy of the aggregation map
// keyed by (parent, function) for inspection and tests. Histograms
// are shared with live aggregates; callers must not Add to them.
func Aggregates() map[[2]string]ProfileAggregate {
	processMu.Lock()
	p := process
	processMu.Unlock()
	if p == nil {
		return nil
	}

	p.profiles.mu.Lock()
	defer p.profiles.mu.Unlock()
	out := make(map[[2]string]ProfileAggregate, len(p.profiles.entries))
	for key, agg := range p.profiles.entries {
		out[[2]string{key.parent, key.function}] = *agg
	}
	return out
}
