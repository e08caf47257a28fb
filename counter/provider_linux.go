//go:build linux

package counter

import (
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// eventSpec maps a kind to its perf_event_open type and config.
type eventSpec struct {
	kind   Kind
	typ    uint32
	config uint64
}

// groupSpec describes one kernel scheduling group: the first member
// is the leader; followers are opened against the leader's fd so the
// kernel schedules the set atomically and they share enabled/running
// time.
type groupSpec struct {
	group  Group
	events []eventSpec
}

var groupLayout = []groupSpec{
	{GroupCPUClock, []eventSpec{{CPUClock, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_CLOCK}}},
	{GroupTaskClock, []eventSpec{{TaskClock, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_TASK_CLOCK}}},
	{GroupPageFaults, []eventSpec{{PageFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS}}},
	{GroupContextSwitches, []eventSpec{{ContextSwitches, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES}}},
	{GroupCPUMigrations, []eventSpec{{CPUMigrations, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_MIGRATIONS}}},
	{GroupMinorFaults, []eventSpec{{MinorFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MIN}}},
	{GroupMajorFaults, []eventSpec{{MajorFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ}}},
	{GroupAlignmentFaults, []eventSpec{{AlignmentFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_ALIGNMENT_FAULTS}}},
	{GroupEmulationFaults, []eventSpec{{EmulationFaults, unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_EMULATION_FAULTS}}},
	{GroupHardwareCycles, []eventSpec{
		{CPUCycles, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES},
		{Instructions, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS},
		{StallFrontend, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND},
		{StallBackend, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND},
	}},
	{GroupHardwareCache, []eventSpec{
		{CacheReferences, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES},
		{CacheMisses, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES},
	}},
	{GroupHardwareBranch, []eventSpec{
		{BranchInstructions, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS},
		{BranchMisses, unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES},
	}},
}

type openGroup struct {
	spec groupSpec
	fds  []int
}

func (g openGroup) leader() int { return g.fds[0] }

func (g openGroup) flag() int {
	if len(g.fds) > 1 {
		return unix.PERF_IOC_FLAG_GROUP
	}
	return 0
}

// perfProvider reads the calling thread's counters through
// perf_event_open. An open failure degrades the provider to a no-op:
// later snapshots carry wall time only.
type perfProvider struct {
	epoch      time.Time
	groups     []openGroup
	degraded   bool
	readFailed [numKinds]bool
}

func newPlatformProvider() Provider { return &perfProvider{} }

func openEvent(spec eventSpec, groupFd int) (int, error) {
	attr := unix.PerfEventAttr{
		Type:        spec.typ,
		Config:      spec.config,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:        unix.PerfBitDisabled | unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
		Read_format: unix.PERF_FORMAT_TOTAL_TIME_ENABLED | unix.PERF_FORMAT_TOTAL_TIME_RUNNING,
	}
	fd, err := unix.PerfEventOpen(&attr, 0, -1, groupFd, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, errors.Wrapf(err, "opening perf event %s", spec.kind.Name())
	}
	return fd, nil
}

func (p *perfProvider) Open() error {
	p.epoch = time.Now()

	for _, spec := range groupLayout {
		og := openGroup{spec: spec}
		for i, ev := range spec.events {
			groupFd := -1
			if i > 0 {
				groupFd = og.leader()
			}
			fd, err := openEvent(ev, groupFd)
			if err != nil {
				for j := len(og.fds) - 1; j >= 0; j-- {
					_ = unix.Close(og.fds[j])
				}
				p.closeAll()
				p.degraded = true
				grip.Warning(message.WrapError(err, message.Fields{
					"message": "kernel counters unavailable, continuing without them",
				}))
				return errors.WithStack(err)
			}
			og.fds = append(og.fds, fd)
		}
		p.groups = append(p.groups, og)
	}

	return errors.Wrap(p.Reset(), "resetting counters after open")
}

func (p *perfProvider) Reset() error {
	p.epoch = time.Now()
	if p.degraded {
		return nil
	}
	for _, g := range p.groups {
		if err := unix.IoctlSetInt(g.leader(), unix.PERF_EVENT_IOC_RESET, g.flag()); err != nil {
			return errors.Wrapf(err, "resetting %s group", g.spec.events[0].kind.Name())
		}
	}
	return nil
}

func (p *perfProvider) Enable() error {
	if p.degraded {
		return nil
	}
	for _, g := range p.groups {
		if err := unix.IoctlSetInt(g.leader(), unix.PERF_EVENT_IOC_ENABLE, g.flag()); err != nil {
			return errors.Wrapf(err, "enabling %s group", g.spec.events[0].kind.Name())
		}
	}
	return nil
}

func (p *perfProvider) Snapshot() Snapshot {
	s := Snapshot{}
	if !p.epoch.IsZero() {
		s.Set(WallClock, uint64(time.Since(p.epoch)))
	}
	if p.degraded {
		return s
	}

	buf := make([]byte, 24)
	for _, g := range p.groups {
		for i, fd := range g.fds {
			kind := g.spec.events[i].kind
			n, err := unix.Read(fd, buf)
			if err != nil || n != len(buf) {
				s.SetUnavailable(kind)
				if !p.readFailed[kind] {
					p.readFailed[kind] = true
					grip.Warning(message.WrapError(err, message.Fields{
						"message": "perf counter read failed",
						"counter": kind.Name(),
					}))
				}
				continue
			}

			value := binary.NativeEndian.Uint64(buf[0:8])
			enabled := binary.NativeEndian.Uint64(buf[8:16])
			running := binary.NativeEndian.Uint64(buf[16:24])

			if i == 0 {
				s.SetPair(g.spec.group, TimePair{Enabled: enabled, Running: running})
			}

			if running == 0 {
				// the kernel never scheduled the event
				s.SetUnavailable(kind)
				continue
			}
			if running < enabled {
				value = uint64(float64(value) * (float64(enabled) / float64(running)))
			}
			s.Set(kind, value)
		}
	}
	return s
}

func (p *perfProvider) Close() error {
	err := p.closeAll()
	p.degraded = true
	return err
}

func (p *perfProvider) closeAll() error {
	catcher := grip.NewBasicCatcher()
	for i := len(p.groups) - 1; i >= 0; i-- {
		g := p.groups[i]
		for j := len(g.fds) - 1; j >= 0; j-- {
			catcher.Add(errors.Wrapf(unix.Close(g.fds[j]), "closing %s", g.spec.events[j].kind.Name()))
		}
	}
	p.groups = nil
	return catcher.Resolve()
}
