// Package counter opens, groups, reads, and closes per-thread kernel
// performance events and packages their values as immutable
// snapshots.
//
// On Linux the provider is backed by perf_event_open; related
// hardware events are opened as kernel-scheduled groups so they share
// enabled/running time, and raw counts are rescaled when the kernel
// multiplexes an event. Everywhere else (and on Linux hosts where the
// syscall is unavailable) a no-op provider stands in: kernel-backed
// fields read as zero and unavailable, while the wall clock — which
// comes from the host clock, not the kernel event interface — keeps
// working.
package counter

// Kind identifies one measured quantity.
type Kind int

const (
	WallClock Kind = iota
	CPUClock
	TaskClock
	PageFaults
	ContextSwitches
	CPUMigrations
	MinorFaults
	MajorFaults
	AlignmentFaults
	EmulationFaults
	CPUCycles
	Instructions
	StallFrontend
	StallBackend
	CacheReferences
	CacheMisses
	BranchInstructions
	BranchMisses

	numKinds
)

// NumKinds reports the number of counter kinds.
const NumKinds = int(numKinds)

// Category classifies the source of a counter.
type Category int

const (
	CategoryWall Category = iota
	CategoryTaskCPU
	CategoryFaults
	CategoryHardware
)

// Unit describes how counter values are denominated.
type Unit int

const (
	UnitNanoseconds Unit = iota
	UnitCount
)

// Group identifies a set of events the kernel schedules atomically.
// Hardware events share three groups; each software event is its own
// singleton group. The wall clock has no kernel group.
type Group int

const (
	GroupNone Group = iota - 1
	GroupHardwareCycles
	GroupHardwareCache
	GroupHardwareBranch
	GroupCPUClock
	GroupTaskClock
	GroupPageFaults
	GroupContextSwitches
	GroupCPUMigrations
	GroupMinorFaults
	GroupMajorFaults
	GroupAlignmentFaults
	GroupEmulationFaults

	numGroups
)

// NumGroups reports the number of kernel event groups.
const NumGroups = int(numGroups)

type kindInfo struct {
	name     string
	category Category
	unit     Unit
	scalable bool
	group    Group
}

var kinds = [numKinds]kindInfo{
	WallClock:          {"wall", CategoryWall, UnitNanoseconds, false, GroupNone},
	CPUClock:           {"sw.cpu_clock", CategoryTaskCPU, UnitNanoseconds, false, GroupCPUClock},
	TaskClock:          {"sw.task_clock", CategoryTaskCPU, UnitNanoseconds, false, GroupTaskClock},
	PageFaults:         {"sw.page_faults", CategoryFaults, UnitCount, false, GroupPageFaults},
	ContextSwitches:    {"sw.context_switches", CategoryFaults, UnitCount, false, GroupContextSwitches},
	CPUMigrations:      {"sw.cpu_migrations", CategoryFaults, UnitCount, false, GroupCPUMigrations},
	MinorFaults:        {"sw.page_faults_min", CategoryFaults, UnitCount, false, GroupMinorFaults},
	MajorFaults:        {"sw.page_faults_maj", CategoryFaults, UnitCount, false, GroupMajorFaults},
	AlignmentFaults:    {"sw.alignment_faults", CategoryFaults, UnitCount, false, GroupAlignmentFaults},
	EmulationFaults:    {"sw.emulation_faults", CategoryFaults, UnitCount, false, GroupEmulationFaults},
	CPUCycles:          {"hw.cpu_cycles", CategoryHardware, UnitCount, true, GroupHardwareCycles},
	Instructions:       {"hw.instructions", CategoryHardware, UnitCount, true, GroupHardwareCycles},
	StallFrontend:      {"hw.stall_cycles_front", CategoryHardware, UnitCount, true, GroupHardwareCycles},
	StallBackend:       {"hw.stall_cycles_back", CategoryHardware, UnitCount, true, GroupHardwareCycles},
	CacheReferences:    {"hw.cache_references", CategoryHardware, UnitCount, true, GroupHardwareCache},
	CacheMisses:        {"hw.cache_misses", CategoryHardware, UnitCount, true, GroupHardwareCache},
	BranchInstructions: {"hw.branch_instructions", CategoryHardware, UnitCount, true, GroupHardwareBranch},
	BranchMisses:       {"hw.branch_misses", CategoryHardware, UnitCount, true, GroupHardwareBranch},
}

// Name returns the canonical record-key name of the kind.
func (k Kind) Name() string { return kinds[k].name }

// Category returns the source category.
func (k Kind) Category() Category { return kinds[k].category }

// Unit returns the denomination of the counter.
func (k Kind) Unit() Unit { return kinds[k].unit }

// Scalable reports whether kernel multiplexing can make raw samples
// cover only a fraction of enabled time.
func (k Kind) Scalable() bool { return kinds[k].scalable }

// EventGroup returns the kernel scheduling group of the kind.
func (k Kind) EventGroup() Group { return kinds[k].group }

// Kinds returns every kind in canonical order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Provider is the per-thread counter capability set. Providers are
// bound to the OS thread that opened them: the kernel requires that
// task-scoped events are read by the task that owns them.
type Provider interface {
	// Open creates the kernel events, disabled. A failure degrades
	// the provider to a no-op rather than returning the thread
	// unusable.
	Open() error

	// Reset zeroes all counters, propagating through group leaders.
	Reset() error

	// Enable atomically activates each event group.
	Enable() error

	// Snapshot reads every counter, rescaling for multiplexing.
	Snapshot() Snapshot

	// Close releases the kernel events in reverse-open order.
	Close() error
}

// New returns the platform provider: perf-backed on Linux, no-op
// elsewhere.
func New() Provider { return newPlatformProvider() }
