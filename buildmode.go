package gioppler

import "github.com/pkg/errors"

// BuildMode selects how much instrumentation is active and how
// contract violations propagate. Off elides every public entry point;
// the active modes differ in which record categories are emitted and
// whether violations propagate (production records and continues, all
// other active modes propagate).
type BuildMode int

const (
	ModeOff BuildMode = iota
	ModeDevelopment
	ModeTest
	ModeProfile
	ModeQA
	ModeProduction
)

var buildModeNames = map[BuildMode]string{
	ModeOff:         "off",
	ModeDevelopment: "development",
	ModeTest:        "test",
	ModeProfile:     "profile",
	ModeQA:          "qa",
	ModeProduction:  "production",
}

func (m BuildMode) String() string {
	if name, ok := buildModeNames[m]; ok {
		return name
	}
	return "off"
}

// Valid reports whether m is a member of the closed mode set.
func (m BuildMode) Valid() bool {
	_, ok := buildModeNames[m]
	return ok
}

// ParseBuildMode resolves a mode name from build configuration.
func ParseBuildMode(name string) (BuildMode, error) {
	for mode, n := range buildModeNames {
		if n == name {
			return mode, nil
		}
	}
	return ModeOff, errors.Errorf("unknown build mode %q", name)
}

// propagatesViolations reports whether contract violations raise in
// this mode.
func (m BuildMode) propagatesViolations() bool {
	return m != ModeOff && m != ModeProduction
}

// emitsScopeEvents reports whether individual scope exits emit event
// records, in addition to the final aggregates every active mode
// emits.
func (m BuildMode) emitsScopeEvents() bool {
	return m == ModeDevelopment || m == ModeTest
}
