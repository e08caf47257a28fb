package counter

import "time"

// noopProvider satisfies Provider on hosts without kernel counters.
// Kernel-backed fields read zero and unavailable; the wall clock
// still ticks so duration attribution works everywhere.
type noopProvider struct {
	epoch time.Time
}

// NewNoop returns a provider whose snapshots carry only wall time.
func NewNoop() Provider { return &noopProvider{} }

func (p *noopProvider) Open() error {
	p.epoch = time.Now()
	return nil
}

func (p *noopProvider) Reset() error {
	p.epoch = time.Now()
	return nil
}

func (p *noopProvider) Enable() error { return nil }

func (p *noopProvider) Snapshot() Snapshot {
	s := Snapshot{}
	if !p.epoch.IsZero() {
		s.Set(WallClock, uint64(time.Since(p.epoch)))
	}
	return s
}

func (p *noopProvider) Close() error { return nil }
