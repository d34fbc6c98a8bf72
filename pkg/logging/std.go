package logging

import (
	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"
)

// NewStdLogFuncs returns LogFuncs backed by the hsu-core sprintf logger,
// used for plain text output and for bootstrap logging before config is loaded.
func NewStdLogFuncs() LogFuncs {
	std := sprintfLogging.NewStdSprintfLogger()
	return LogFuncs{
		Debugf: std.Debugf,
		Infof:  std.Infof,
		Warnf:  std.Warnf,
		Errorf: std.Errorf,
	}
}
