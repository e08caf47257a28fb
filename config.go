package gioppler

import (
	"github.com/mongodb/grip"

	"github.com/gioppler/gioppler/sink"
)

// Config is the structured configuration the host hands to Install.
// Environment variables, CLI flags, and configuration files are the
// host's business; by the time values arrive here they are plain
// data.
type Config struct {
	// Mode fixes the build mode for the life of the process
	// acquisition. ModeOff disables everything.
	Mode BuildMode

	// LogDir is the destination for default sinks. Accepts the
	// directory tokens (<temp>, <home>, <current>) and stream
	// tokens (<cout>, <clog>, <cerr>). Empty means <temp>.
	LogDir string

	// Subsystems, Clients, and Requests restrict which records the
	// default sink keeps. Empty lists accept everything.
	Subsystems []string
	Clients    []string
	Requests   []string

	// Sinks are installed on the pipeline in order. When empty, a
	// newline-delimited JSON sink under LogDir is created on first
	// submission.
	Sinks []sink.Sink
}

// Validate checks the configuration.
func (c Config) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(!c.Mode.Valid(), "build mode is not a member of the mode set")
	isStream := c.LogDir == sink.TokenStdout || c.LogDir == sink.TokenLog || c.LogDir == sink.TokenStderr
	catcher.NewWhen(isStream && len(c.Sinks) > 0,
		"stream destinations and explicit sinks are mutually exclusive")
	return catcher.Resolve()
}

func (c Config) logDir() string {
	if c.LogDir == "" {
		return sink.TokenTemp
	}
	return c.LogDir
}

func (c Config) filter() sink.Filter {
	return sink.FieldFilter(sink.MatchCriteria{
		Subsystems: c.Subsystems,
		Clients:    c.Clients,
		Requests:   c.Requests,
	})
}
