package contract

// Guard re-evaluates a predicate when its scope releases. Release
// must be deferred directly (`defer g.Release()`): only then can it
// observe an in-flight panic, record the exit violation without
// raising a second one, and let the original unwind continue.
type Guard struct {
	kind     Kind
	pred     func() bool
	msg      string
	location Location
}

// NewInvariant checks the predicate immediately and again at release.
// A failed entry check reports (and outside production raises) right
// away.
func NewInvariant(pred func() bool, msg string) *Guard {
	g := &Guard{
		kind:     KindInvariant,
		pred:     pred,
		msg:      msg,
		location: CallerLocation(1),
	}
	if !pred() {
		report(&Violation{
			Kind:     g.kind,
			Message:  g.msg + " (on entry)",
			Location: g.location,
		}, true)
	}
	return g
}

// NewEnsure checks the predicate at release only.
func NewEnsure(pred func() bool, msg string) *Guard {
	return &Guard{
		kind:     KindEnsure,
		pred:     pred,
		msg:      msg,
		location: CallerLocation(1),
	}
}

// Release evaluates the predicate. When the scope is unwinding from a
// panic, a failed predicate is recorded and swallowed and the
// original panic resumes; otherwise a failure propagates as a
// *Violation.
func (g *Guard) Release() {
	if r := recover(); r != nil {
		if !g.pred() {
			report(&Violation{
				Kind:     g.kind,
				Message:  g.msg + " (on exit, during unwind)",
				Location: g.location,
			}, false)
		}
		panic(r)
	}
	if !g.pred() {
		report(&Violation{
			Kind:     g.kind,
			Message:  g.msg + " (on exit)",
			Location: g.location,
		}, true)
	}
}
