package counter

import "math"

// Derived metrics computed from a snapshot delta. Fractions are
// clamped to [0,1]. Ratios with a zero denominator yield 0, except
// cycles-per-instruction, which yields NaN so downstream consumers
// can tell "no instructions retired" from "one cycle per
// instruction".
type Derived struct {
	CPUSeconds            float64
	TaskIdleFraction      float64
	MajorFaultsPerSecond  float64
	CyclesPerInstruction  float64
	FrontendStallFraction float64
	BackendStallFraction  float64
	CacheMissFraction     float64
	BranchMissFraction    float64
}

// DerivedNames lists the record-key names of the derived metrics, in
// the order of DerivedValues.
var DerivedNames = []string{
	"cpu_seconds",
	"task_idle_fraction",
	"major_faults_per_second",
	"cycles_per_instruction",
	"frontend_stall_fraction",
	"backend_stall_fraction",
	"cache_miss_fraction",
	"branch_miss_fraction",
}

// Values returns the metrics in DerivedNames order.
func (d Derived) Values() []float64 {
	return []float64{
		d.CPUSeconds,
		d.TaskIdleFraction,
		d.MajorFaultsPerSecond,
		d.CyclesPerInstruction,
		d.FrontendStallFraction,
		d.BackendStallFraction,
		d.CacheMissFraction,
		d.BranchMissFraction,
	}
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fraction(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	return clampFraction(float64(num) / float64(den))
}

// Derive computes the derived metrics from a snapshot delta.
func (s Snapshot) Derive() Derived {
	cpuClock := s.values[CPUClock]
	cycles := s.values[CPUCycles]
	instructions := s.values[Instructions]

	d := Derived{
		CPUSeconds:            float64(cpuClock) / 1e9,
		FrontendStallFraction: fraction(s.values[StallFrontend], cycles),
		BackendStallFraction:  fraction(s.values[StallBackend], cycles),
		CacheMissFraction:     fraction(s.values[CacheMisses], s.values[CacheReferences]),
		BranchMissFraction:    fraction(s.values[BranchMisses], s.values[BranchInstructions]),
	}

	if cpuClock > 0 {
		d.TaskIdleFraction = clampFraction(1 - float64(s.values[TaskClock])/float64(cpuClock))
	}
	if d.CPUSeconds > 0 {
		d.MajorFaultsPerSecond = float64(s.values[MajorFaults]) / d.CPUSeconds
	}
	if instructions == 0 {
		d.CyclesPerInstruction = math.NaN()
	} else {
		d.CyclesPerInstruction = float64(cycles) / float64(instructions)
	}

	return d
}
