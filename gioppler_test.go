package gioppler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gioppler/gioppler/contract"
	"github.com/gioppler/gioppler/counter"
	"github.com/gioppler/gioppler/sink"
)

type captureSink struct {
	mu      sync.Mutex
	records []*sink.Record
}

func (s *captureSink) Write(r *sink.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) all() []*sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sink.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *captureSink) withString(key, value string) []*sink.Record {
	matched := []*sink.Record{}
	for _, r := range s.all() {
		if v, ok := r.Get(key); ok && v.Type() == sink.TypeString && v.String() == value {
			matched = append(matched, r)
		}
	}
	return matched
}

func install(t *testing.T, mode BuildMode) *captureSink {
	t.Helper()
	capture := &captureSink{}
	require.NoError(t, Install(Config{Mode: mode, Sinks: []sink.Sink{capture}}))
	return capture
}

func intField(t *testing.T, r *sink.Record, key string) int64 {
	t.Helper()
	v, ok := r.Get(key)
	require.True(t, ok, "record missing %s", key)
	return v.Int()
}

func realField(t *testing.T, r *sink.Record, key string) float64 {
	t.Helper()
	v, ok := r.Get(key)
	require.True(t, ok, "record missing %s", key)
	return v.Real()
}

func stringField(t *testing.T, r *sink.Record, key string) string {
	t.Helper()
	v, ok := r.Get(key)
	require.True(t, ok, "record missing %s", key)
	return v.String()
}

func TestSingleLeafScope(t *testing.T) {
	capture := install(t, ModeProfile)

	scope := BeginFunction(ScopeOptions{Name: "foo", Subsystem: "s", Workload: 2.0})
	scope.End()

	aggregates := Aggregates()
	require.Len(t, aggregates, 1)
	agg, ok := aggregates[[2]string{"", "foo"}]
	require.True(t, ok, "missing aggregate for (\"\", \"foo\")")

	assert.EqualValues(t, 1, agg.Calls)
	assert.Equal(t, 2.0, agg.WorkloadSum)

	// a leaf scope's exclusive share is its whole inclusive share
	for _, kind := range counter.Kinds() {
		inclusive, _ := agg.Inclusive.Value(kind)
		exclusive, _ := agg.Exclusive.Value(kind)
		assert.Equal(t, inclusive, exclusive, "kind %s", kind.Name())
	}

	require.NoError(t, Shutdown())

	records := capture.withString(sink.KeyFunction, "foo")
	require.Len(t, records, 1)
	r := records[0]
	assert.EqualValues(t, 1, intField(t, r, "prof.calls"))
	assert.Equal(t, 2.0, realField(t, r, "prof.workload"))
	assert.Equal(t, "", stringField(t, r, sink.KeyParentFunction))
	assert.Equal(t, "profile", stringField(t, r, sink.KeyCategory))
	assert.Equal(t, "profile", stringField(t, r, sink.KeyBuildMode))
}

func TestParentChildAttribution(t *testing.T) {
	install(t, ModeProfile)
	defer func() { require.NoError(t, Shutdown()) }()

	outer := BeginFunction(ScopeOptions{Name: "outer"})
	time.Sleep(10 * time.Millisecond)

	inner := BeginFunction(ScopeOptions{Name: "inner"})
	time.Sleep(10 * time.Millisecond)
	inner.End()

	time.Sleep(10 * time.Millisecond)
	outer.End()

	aggregates := Aggregates()
	outerAgg, ok := aggregates[[2]string{"", "outer"}]
	require.True(t, ok)
	innerAgg, ok := aggregates[[2]string{"outer", "inner"}]
	require.True(t, ok)

	assert.EqualValues(t, 1, outerAgg.Calls)
	assert.EqualValues(t, 1, innerAgg.Calls)

	// the inner scope is a leaf
	assert.Equal(t, innerAgg.Inclusive.Wall(), innerAgg.Exclusive.Wall())

	// the parent's exclusive share excludes exactly the child's
	// inclusive share
	assert.Equal(t, outerAgg.Inclusive.Wall()-innerAgg.Inclusive.Wall(),
		outerAgg.Exclusive.Wall())
	assert.GreaterOrEqual(t, outerAgg.Inclusive.Wall(), uint64(30*time.Millisecond))
	assert.GreaterOrEqual(t, innerAgg.Inclusive.Wall(), uint64(10*time.Millisecond))
	assert.Less(t, outerAgg.Exclusive.Wall(), outerAgg.Inclusive.Wall())
}

func TestInclusiveNeverBelowExclusive(t *testing.T) {
	install(t, ModeProfile)
	defer func() { require.NoError(t, Shutdown()) }()

	var recurse func(depth int)
	recurse = func(depth int) {
		scope := BeginFunction(ScopeOptions{Name: "recurse"})
		defer scope.End()
		if depth > 0 {
			recurse(depth - 1)
		}
	}
	for i := 0; i < 10; i++ {
		recurse(3)
	}

	for key, agg := range Aggregates() {
		for _, kind := range counter.Kinds() {
			inclusive, _ := agg.Inclusive.Value(kind)
			exclusive, _ := agg.Exclusive.Value(kind)
			assert.GreaterOrEqual(t, inclusive, exclusive,
				"aggregate %v kind %s", key, kind.Name())
		}
	}
}

func TestMultiThreadAggregation(t *testing.T) {
	install(t, ModeProfile)
	defer func() { require.NoError(t, Shutdown()) }()

	const workers = 4
	const calls = 250

	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				scope := BeginFunction(ScopeOptions{Name: "work", Workload: 1})
				scope.End()
			}
		}()
	}
	wg.Wait()

	aggregates := Aggregates()
	agg, ok := aggregates[[2]string{"", "work"}]
	require.True(t, ok)
	assert.EqualValues(t, workers*calls, agg.Calls)
	assert.Equal(t, float64(workers*calls), agg.WorkloadSum)
	assert.EqualValues(t, workers*calls, agg.WallHist.Count())
}

func TestShutdownEmitsAggregatesByInclusiveWall(t *testing.T) {
	capture := install(t, ModeProfile)

	slow := BeginFunction(ScopeOptions{Name: "slow"})
	time.Sleep(20 * time.Millisecond)
	slow.End()

	fast := BeginFunction(ScopeOptions{Name: "fast"})
	fast.End()

	// final reports walk the map in descending inclusive wall order
	keys, _ := process.profiles.snapshotEntries()
	require.Len(t, keys, 2)
	assert.Equal(t, "slow", keys[0].function)
	assert.Equal(t, "fast", keys[1].function)

	require.NoError(t, Shutdown())

	profiles := capture.withString(sink.KeyEvent, "profile")
	require.Len(t, profiles, 2)

	// counter and histogram keys ride along on every aggregate
	for _, r := range profiles {
		assert.GreaterOrEqual(t, intField(t, r, "prof.wall.total"), int64(0))
		assert.GreaterOrEqual(t, intField(t, r, "prof.wall.self"), int64(0))
		_, hasTrimean := r.Get("prof.wall.trimean")
		assert.True(t, hasTrimean)
		_, hasSpark := r.Get("prof.wall.sparkline")
		assert.True(t, hasSpark)
	}
}

func TestScopeEventsInTestMode(t *testing.T) {
	capture := install(t, ModeTest)

	scope := BeginFunction(ScopeOptions{Name: "handler", Subsystem: "net", Session: "abc"})
	scope.End()

	block := BeginBlock(ScopeOptions{Name: "handler.loop"})
	block.End()

	require.NoError(t, Shutdown())

	exits := capture.withString(sink.KeyEvent, "function_exit")
	require.Len(t, exits, 1)
	assert.Equal(t, "handler", stringField(t, exits[0], sink.KeyFunction))
	assert.Equal(t, "net", stringField(t, exits[0], sink.KeySubsystem))
	assert.Equal(t, "abc", stringField(t, exits[0], sink.KeyClient))

	blockExits := capture.withString(sink.KeyEvent, "block_exit")
	require.Len(t, blockExits, 1)
	assert.Equal(t, "handler.loop", stringField(t, blockExits[0], sink.KeyFunction))
}

func TestSubsystemInheritedByNestedScopes(t *testing.T) {
	capture := install(t, ModeTest)

	outer := BeginFunction(ScopeOptions{Name: "outer", Subsystem: "net"})
	inner := BeginFunction(ScopeOptions{Name: "inner"})
	inner.End()
	outer.End()

	require.NoError(t, Shutdown())

	exits := []*sink.Record{}
	for _, r := range capture.withString(sink.KeyEvent, "function_exit") {
		if stringField(t, r, sink.KeyFunction) == "inner" {
			exits = append(exits, r)
		}
	}
	require.Len(t, exits, 1)
	assert.Equal(t, "net", stringField(t, exits[0], sink.KeySubsystem))
}

func TestOffModeIsNoop(t *testing.T) {
	capture := install(t, ModeOff)

	scope := BeginFunction(ScopeOptions{Name: "ghost"})
	assert.Same(t, noopScope, scope)
	scope.End()

	assert.Empty(t, Aggregates())
	require.NoError(t, Shutdown())
	assert.Empty(t, capture.all())
}

func TestInstallTwiceFails(t *testing.T) {
	install(t, ModeProfile)
	defer func() { require.NoError(t, Shutdown()) }()

	assert.Error(t, Install(Config{Mode: ModeProfile}))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Mode: BuildMode(99)}.Validate())
	assert.NoError(t, Config{Mode: ModeQA}.Validate())
}

func TestContractViolationFlowsThroughPipeline(t *testing.T) {
	capture := install(t, ModeTest)

	var violation *contract.Violation
	func() {
		defer func() {
			if r := recover(); r != nil {
				violation = r.(*contract.Violation)
			}
		}()
		contract.Expect(false, "collaborator not ready")
	}()

	require.NotNil(t, violation)
	assert.Equal(t, contract.KindExpect, violation.Kind)

	require.NoError(t, Shutdown())

	records := capture.withString(sink.KeyCategory, "contract")
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "expect", stringField(t, r, sink.KeySubcategory))
	assert.NotEmpty(t, stringField(t, r, sink.KeyFile))
	assert.Greater(t, intField(t, r, sink.KeyLine), int64(0))
	assert.Equal(t, "test", stringField(t, r, sink.KeyBuildMode))
}

func TestUnbalancedEndIsReportedNotFatal(t *testing.T) {
	capture := install(t, ModeProfile)

	outer := BeginFunction(ScopeOptions{Name: "outer"})
	inner := BeginFunction(ScopeOptions{Name: "inner"})

	// ending the parent with the child still open is misuse; the
	// library records it and carries on
	outer.End()
	inner.End()

	// the dangling outer frame keeps the thread acquired, which
	// shutdown reports as well
	assert.Error(t, Shutdown())

	misuse := capture.withString(sink.KeySubcategory, "lifecycle_misuse")
	require.Len(t, misuse, 2)
	messages := []string{
		stringField(t, misuse[0], sink.KeyMessage),
		stringField(t, misuse[1], sink.KeyMessage),
	}
	assert.Contains(t, messages, "scope exit without matching entry")
	assert.Contains(t, messages, "process shutdown with active instrumented threads")
}

func TestEndIsIdempotent(t *testing.T) {
	install(t, ModeProfile)
	defer func() { require.NoError(t, Shutdown()) }()

	scope := BeginFunction(ScopeOptions{Name: "once"})
	scope.End()
	scope.End()

	agg, ok := Aggregates()[[2]string{"", "once"}]
	require.True(t, ok)
	assert.EqualValues(t, 1, agg.Calls)
}

func TestParseBuildMode(t *testing.T) {
	for name, want := range map[string]BuildMode{
		"off":         ModeOff,
		"development": ModeDevelopment,
		"test":        ModeTest,
		"profile":     ModeProfile,
		"qa":          ModeQA,
		"production":  ModeProduction,
	} {
		mode, err := ParseBuildMode(name)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
		assert.Equal(t, name, mode.String())
	}

	_, err := ParseBuildMode("bogus")
	assert.Error(t, err)
}
